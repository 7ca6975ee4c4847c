// Package chat owns the live IRC connection to a Twitch channel: handshake,
// keepalive replies, membership and room-state tracking, and publication of
// parsed events on fan-out streams consumed by the HTTP layer.
package chat

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chat-tender/irc"
	"github.com/onnwee/chat-tender/telemetry"
)

// DefaultServerAddr is Twitch's TLS IRC endpoint.
const DefaultServerAddr = "irc.chat.twitch.tv:6697"

// ConnectionState is the lifecycle state of one chat session.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns a human-readable name for the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// RoomState is the full set of moderation modes for the joined room. It is
// replaced wholesale on every ROOMSTATE line; the server always sends the
// complete current state, so field-by-field merging would only invite
// stale-field bugs.
type RoomState struct {
	EmoteOnly bool `json:"emote_only"`
	// FollowersOnlyMinutes: nil = off, 0 = any follower, >0 = minimum
	// follow age in minutes.
	FollowersOnlyMinutes *int `json:"followers_only_minutes,omitempty"`
	SubsOnly             bool `json:"subs_only"`
	R9K                  bool `json:"r9k"`
	SlowModeSeconds      *int `json:"slow_mode_seconds,omitempty"`
}

// PollUpdate carries a poll-prefixed USERNOTICE to the dedicated poll
// consumer; these never flow through the chat event stream.
type PollUpdate struct {
	MsgID string
	Tags  map[string]string
}

// Archiver persists published chat events. Implemented by db.Archive; nil
// disables archival.
type Archiver interface {
	SaveEvent(ctx context.Context, channel string, ev irc.ChatEvent) error
}

// Config carries the credentials and knobs for one session.
type Config struct {
	ServerAddr string // defaults to DefaultServerAddr
	Username   string
	OAuthToken string // raw token, without the oauth: prefix
	// Dial overrides the transport for tests. Defaults to TLS over TCP.
	Dial func(ctx context.Context, addr string) (net.Conn, error)
}

// Session is the connection state machine for one chat room. All state
// fields are written only by the read loop; observers consume the published
// snapshots and streams.
type Session struct {
	cfg      Config
	parser   *irc.Parser
	suppress *SuppressionStore
	archive  Archiver

	Events         *Stream[irc.ChatEvent]
	DeletedIDs     *Stream[string]
	DeletedAuthors *Stream[string]
	Polls          *Stream[PollUpdate]
	State          *Snapshot[ConnectionState]
	Room           *Snapshot[RoomState]
	Members        *Snapshot[[]string]
	ModFlag        *Snapshot[bool]

	mu      sync.Mutex
	state   ConnectionState
	conn    net.Conn
	cancel  context.CancelFunc
	gen     int // session generation; guards stale completions
	room    string
	members map[string]bool
	isMod   bool
	modSet  bool
	closed  bool // deliberate Disconnect; stops the Run supervisor
}

// NewSession builds a session. parser may carry a third-party emote catalog;
// suppress must be non-nil; archive may be nil.
func NewSession(cfg Config, parser *irc.Parser, suppress *SuppressionStore, archive Archiver) *Session {
	if cfg.ServerAddr == "" {
		cfg.ServerAddr = DefaultServerAddr
	}
	if cfg.Dial == nil {
		cfg.Dial = func(ctx context.Context, addr string) (net.Conn, error) {
			d := &tls.Dialer{NetDialer: &net.Dialer{Timeout: 10 * time.Second}}
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	if parser == nil {
		parser = &irc.Parser{}
	}
	s := &Session{
		cfg:            cfg,
		parser:         parser,
		suppress:       suppress,
		archive:        archive,
		Events:         NewStream[irc.ChatEvent](),
		DeletedIDs:     NewStream[string](),
		DeletedAuthors: NewStream[string](),
		Polls:          NewStream[PollUpdate](),
		State:          NewSnapshot[ConnectionState](),
		Room:           NewSnapshot[RoomState](),
		Members:        NewSnapshot[[]string](),
		ModFlag:        NewSnapshot[bool](),
	}
	s.setState(StateDisconnected)
	return s
}

// CurrentState returns the connection state.
func (s *Session) CurrentState() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RoomName returns the room this session targets (empty before Connect).
func (s *Session) RoomName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) setState(st ConnectionState) {
	s.state = st
	s.State.Set(st)
	telemetry.SetConnectionState(int(st))
}

// Connect opens the socket, performs the handshake, and starts the read
// loop. Guarded: a session already Connecting or Connected ignores the
// call. Membership and room state are cleared up front so observers never
// see a stale roster from a previous attempt.
func (s *Session) Connect(ctx context.Context, room string) error {
	room = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(room)), "#")
	if room == "" {
		return fmt.Errorf("room name empty")
	}

	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	s.closed = false
	s.gen++
	gen := s.gen
	s.room = room
	s.members = make(map[string]bool)
	s.isMod = false
	s.modSet = false
	s.setState(StateConnecting)
	s.mu.Unlock()

	s.Members.Set(nil)
	s.Room.Set(RoomState{})

	conn, err := s.cfg.Dial(ctx, s.cfg.ServerAddr)
	if err != nil {
		s.finish(gen, StateError)
		return fmt.Errorf("dial %s: %w", s.cfg.ServerAddr, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if gen != s.gen {
		// A disconnect raced the dial; this attempt no longer owns the session.
		s.mu.Unlock()
		cancel()
		_ = conn.Close()
		return nil
	}
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.handshake(); err != nil {
		s.teardown(gen, StateError)
		return err
	}

	go s.readLoop(loopCtx, gen)
	return nil
}

// handshake sends the credential, identity, and capability-request lines.
func (s *Session) handshake() error {
	lines := []string{
		"PASS oauth:" + s.cfg.OAuthToken,
		"NICK " + strings.ToLower(s.cfg.Username),
		"CAP REQ :twitch.tv/tags twitch.tv/commands twitch.tv/membership",
	}
	for _, line := range lines {
		if err := s.writeLine(line); err != nil {
			return fmt.Errorf("handshake: %w", err)
		}
	}
	return nil
}

// Disconnect cancels the read loop and closes the socket. Clean closure
// ends in Disconnected, not Error.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.closed = true
	gen := s.gen
	s.mu.Unlock()
	s.teardown(gen, StateDisconnected)
}

// teardown releases the socket and loop for the given generation. A stale
// generation (superseded by a newer Connect) is a no-op, so a slow old
// loop cannot clobber the state of its successor.
func (s *Session) teardown(gen int, final ConnectionState) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.members = nil
	s.setState(final)
	s.mu.Unlock()
}

// finish records a terminal state for an attempt that never owned a socket.
func (s *Session) finish(gen int, final ConnectionState) {
	s.mu.Lock()
	if gen == s.gen {
		s.gen++
		s.setState(final)
	}
	s.mu.Unlock()
}

// readLoop is the sole writer of membership, room state, and the mod flag.
// It exits on socket error, clean closure, or cancellation.
func (s *Session) readLoop(ctx context.Context, gen int) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			s.teardown(gen, StateDisconnected)
			return
		}
		s.handleLine(ctx, scanner.Text())
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		slog.Warn("chat read loop ended", slog.String("room", s.RoomName()), slog.Any("err", err))
		s.teardown(gen, StateError)
		return
	}
	s.teardown(gen, StateDisconnected)
}

// handleLine dispatches one wire line. Chat-bearing lines go through the
// parser; everything else is protocol bookkeeping handled here.
func (s *Session) handleLine(ctx context.Context, raw string) {
	telemetry.IncLinesReceived()
	m := irc.ParseMessage(raw)
	if m == nil {
		return
	}
	switch m.Command {
	case "001":
		// Welcome: join the target room and report Connected.
		if err := s.writeLine("JOIN #" + s.RoomName()); err != nil {
			slog.Warn("join send failed", slog.Any("err", err))
			return
		}
		s.mu.Lock()
		s.setState(StateConnected)
		s.mu.Unlock()
	case "PING":
		// Mandatory: the server drops clients that do not answer promptly.
		if err := s.writeLine("PONG :" + m.Trailing); err != nil {
			slog.Warn("pong send failed", slog.Any("err", err))
		}
	case "353":
		s.addMembers(strings.Fields(m.Trailing))
	case "366":
		// End of NAMES: republish as a re-sync point, never clear.
		s.publishMembers()
	case "JOIN":
		if m.Prefix != nil {
			s.addMembers([]string{m.Prefix.Name})
		}
	case "PART":
		if m.Prefix != nil {
			s.removeMember(m.Prefix.Name)
		}
	case "USERSTATE":
		s.updateModFlag(m.Tags["badges"])
	case "ROOMSTATE":
		s.Room.Set(parseRoomState(m.Tags))
	case "CLEARMSG":
		if id := m.Tags["target-msg-id"]; id != "" {
			s.DeletedIDs.Publish(id)
		}
	case "CLEARCHAT":
		if login := m.Trailing; login != "" {
			s.DeletedAuthors.Publish(strings.ToLower(login))
		}
	case "USERNOTICE", "NOTICE":
		s.handleNotice(ctx, m, raw)
	case "PRIVMSG":
		s.handlePrivmsg(ctx, raw)
	case "RECONNECT":
		// Server asks for a fresh connection; treat like a transport error
		// and let the owning run loop redial.
		slog.Info("server requested reconnect", slog.String("room", s.RoomName()))
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	}
}

func (s *Session) handleNotice(ctx context.Context, m *irc.Message, raw string) {
	msgID := m.Tags["msg-id"]
	if strings.HasPrefix(msgID, "poll") {
		s.Polls.Publish(PollUpdate{MsgID: msgID, Tags: m.Tags})
		return
	}
	if s.suppress != nil && s.suppress.Suppressed(msgID) {
		telemetry.IncNoticesSuppressed()
		return
	}
	ev := s.parser.ParseLine(raw)
	if ev == nil {
		return
	}
	s.publishEvent(ctx, *ev)
}

func (s *Session) handlePrivmsg(ctx context.Context, raw string) {
	ev := s.parser.ParseLine(raw)
	if ev == nil {
		return
	}
	if ev.ID == "" {
		// The relay sent the line without message tags. Subscribers and
		// the archive key on the id, so mint one rather than dropping
		// the message.
		telemetry.IncParseFailures()
		ev.ID = uuid.NewString()
	}
	s.publishEvent(ctx, *ev)
}

func (s *Session) publishEvent(ctx context.Context, ev irc.ChatEvent) {
	telemetry.IncEventsPublished(ev.Kind.String())
	s.Events.Publish(ev)
	if s.archive != nil {
		if err := s.archive.SaveEvent(ctx, s.RoomName(), ev); err != nil {
			slog.Warn("chat archive insert failed", slog.Any("err", err))
		}
	}
}

// SeedMembers merges externally discovered logins into the roster, e.g.
// from a privileged chatters fetch. JOIN/PART deltas keep applying on top;
// a disconnected session ignores the seed.
func (s *Session) SeedMembers(logins []string) {
	s.addMembers(logins)
}

func (s *Session) addMembers(logins []string) {
	s.mu.Lock()
	if s.members == nil {
		s.mu.Unlock()
		return
	}
	changed := false
	for _, login := range logins {
		login = strings.ToLower(strings.TrimPrefix(login, "@"))
		if login == "" || s.members[login] {
			continue
		}
		s.members[login] = true
		changed = true
	}
	s.mu.Unlock()
	if changed {
		s.publishMembers()
	}
}

func (s *Session) removeMember(login string) {
	login = strings.ToLower(login)
	s.mu.Lock()
	if s.members == nil || !s.members[login] {
		s.mu.Unlock()
		return
	}
	delete(s.members, login)
	s.mu.Unlock()
	s.publishMembers()
}

func (s *Session) publishMembers() {
	s.mu.Lock()
	roster := make([]string, 0, len(s.members))
	for login := range s.members {
		roster = append(roster, login)
	}
	s.mu.Unlock()
	sort.Strings(roster)
	telemetry.SetMembershipSize(len(roster))
	s.Members.Set(roster)
}

// updateModFlag recomputes the local identity's moderator/broadcaster bit
// from USERSTATE badges and republishes only on change.
func (s *Session) updateModFlag(badges string) {
	isMod := false
	for _, entry := range strings.Split(badges, ",") {
		name, _, _ := strings.Cut(entry, "/")
		if name == "moderator" || name == "broadcaster" {
			isMod = true
			break
		}
	}
	s.mu.Lock()
	changed := !s.modSet || s.isMod != isMod
	s.isMod = isMod
	s.modSet = true
	s.mu.Unlock()
	if changed {
		s.ModFlag.Set(isMod)
	}
}

// parseRoomState decodes ROOMSTATE tags into a full replacement value.
func parseRoomState(tags map[string]string) RoomState {
	rs := RoomState{
		EmoteOnly: tags["emote-only"] == "1",
		SubsOnly:  tags["subs-only"] == "1",
		R9K:       tags["r9k"] == "1",
	}
	if v, err := strconv.Atoi(tags["followers-only"]); err == nil && v >= 0 {
		rs.FollowersOnlyMinutes = &v
	}
	if v, err := strconv.Atoi(tags["slow"]); err == nil && v > 0 {
		rs.SlowModeSeconds = &v
	}
	return rs
}

// SendMessage sends a chat line. replyParentID, when non-empty, tags the
// message as a reply; Twitch then threads it and prepends the mention on
// the receiving side.
func (s *Session) SendMessage(text, replyParentID string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message empty")
	}
	s.mu.Lock()
	ok := s.state == StateConnected
	room := s.room
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("not connected")
	}
	line := "PRIVMSG #" + room + " :" + text
	if replyParentID != "" {
		line = "@reply-parent-msg-id=" + replyParentID + " " + line
	}
	return s.writeLine(line)
}

// SendModeration sends a protocol-native slash command such as
// "/timeout login 600" or "/delete <msg-id>".
func (s *Session) SendModeration(command string) error {
	command = strings.TrimSpace(command)
	if !strings.HasPrefix(command, "/") {
		return fmt.Errorf("moderation command must start with /")
	}
	return s.SendMessage(command, "")
}

// writeLine appends CRLF and writes under the lock; sends race the read
// loop only at the socket, which is safe for concurrent writes per net.Conn.
func (s *Session) writeLine(line string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no active connection")
	}
	_, err := conn.Write([]byte(line + "\r\n"))
	return err
}

// reconnectDelay mirrors the push channel's backoff: linear in the attempt
// count, capped at one minute.
func reconnectDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * 2 * time.Second
	if d > time.Minute {
		return time.Minute
	}
	if d < 0 {
		return 0
	}
	return d
}

// Run keeps the session connected until ctx is canceled, redialing with
// backoff after errors. A deliberate Disconnect also ends the loop.
func (s *Session) Run(ctx context.Context, room string) {
	attempt := 0
	for ctx.Err() == nil {
		if err := s.Connect(ctx, room); err != nil {
			slog.Warn("chat connect failed", slog.String("room", room), slog.Any("err", err))
		}
		// Wait for this connection to end. Watch primes with the current
		// state, so an attempt that already failed falls through at once.
		states, cancel := s.State.Watch(4)
		for st := range states {
			if st == StateConnected {
				attempt = 0
			}
			if st == StateDisconnected || st == StateError {
				break
			}
		}
		cancel()

		s.mu.Lock()
		deliberate := s.closed
		s.mu.Unlock()
		if deliberate {
			return
		}

		attempt++
		telemetry.IncChatReconnects()
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay(attempt)):
		}
	}
}
