package chat

import (
	"sync"
)

// Stream is a fan-out broadcaster. Publish never blocks: a subscriber whose
// buffer is full misses the value, which is acceptable for UI-facing
// streams where the next snapshot supersedes the last.
type Stream[T any] struct {
	mu   sync.Mutex
	subs map[int]chan T
	next int
}

// NewStream returns an empty broadcaster.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{subs: make(map[int]chan T)}
}

// Subscribe registers a new subscriber with the given channel buffer and
// returns the receive channel plus a cancel function. Cancel closes the
// channel; the subscriber must stop receiving after calling it.
func (s *Stream[T]) Subscribe(buffer int) (<-chan T, func()) {
	return s.subscribe(buffer)
}

func (s *Stream[T]) subscribe(buffer int) (chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
		s.mu.Unlock()
	}
}

// Publish delivers v to every subscriber that has buffer room.
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Snapshot holds the latest value of a monotonically-replaced state and
// broadcasts each replacement. Readers never observe a half-updated value;
// the write is a single swap under the lock.
type Snapshot[T any] struct {
	mu     sync.RWMutex
	val    T
	valid  bool
	stream *Stream[T]
}

// NewSnapshot returns a Snapshot with no value yet.
func NewSnapshot[T any]() *Snapshot[T] {
	return &Snapshot[T]{stream: NewStream[T]()}
}

// Set replaces the held value wholesale and publishes it.
func (s *Snapshot[T]) Set(v T) {
	s.mu.Lock()
	s.val = v
	s.valid = true
	s.mu.Unlock()
	s.stream.Publish(v)
}

// Get returns the current value and whether one has been set.
func (s *Snapshot[T]) Get() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.val, s.valid
}

// Watch subscribes to replacements. The current value, if any, is delivered
// first so late subscribers start from a known state.
func (s *Snapshot[T]) Watch(buffer int) (<-chan T, func()) {
	ch, cancel := s.stream.subscribe(buffer)
	if v, ok := s.Get(); ok {
		select {
		case ch <- v:
		default:
		}
	}
	return ch, cancel
}
