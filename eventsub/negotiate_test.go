package eventsub

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"
)

func TestClassifyResponse(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   negotiationOutcome
	}{
		{"accepted", http.StatusAccepted, "", outcomeDone},
		{"ok", http.StatusOK, "", outcomeDone},
		{"conflict already exists", http.StatusConflict, `{"error":"Conflict","message":"subscription already exists"}`, outcomeDone},
		{"already exists in other status", http.StatusBadRequest, "already exists", outcomeDone},
		{"missing field retries next shape", http.StatusBadRequest, `{"message":"missing or unparseable subscription condition"}`, outcomeNextCandidate},
		{"other 400 abandons", http.StatusBadRequest, `{"message":"invalid transport"}`, outcomeAbandon},
		{"401 invalidates session", http.StatusUnauthorized, "", outcomeAuthFailure},
		{"403 abandons without retry", http.StatusForbidden, "", outcomeAbandon},
		{"server error defers", http.StatusInternalServerError, "", outcomeRetryLater},
		{"rate limit defers", http.StatusTooManyRequests, "", outcomeRetryLater},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyResponse(tt.status, tt.body); got != tt.want {
				t.Errorf("classifyResponse(%d, %q) = %v, want %v", tt.status, tt.body, got, tt.want)
			}
		})
	}
}

func TestConditionCandidatesOrder(t *testing.T) {
	cands := conditionCandidates("b1", "u1")
	if len(cands) != 3 {
		t.Fatalf("got %d candidates, want 3", len(cands))
	}
	// Most specific first.
	if cands[0]["broadcaster_user_id"] != "b1" || cands[0]["user_id"] != "u1" {
		t.Errorf("first candidate = %v, want both ids", cands[0])
	}
	if len(cands[1]) != 1 || cands[1]["broadcaster_user_id"] != "b1" {
		t.Errorf("second candidate = %v, want broadcaster only", cands[1])
	}
	if len(cands[2]) != 1 || cands[2]["user_id"] != "u1" {
		t.Errorf("third candidate = %v, want user only", cands[2])
	}
}

// recordingCreator scripts subscription responses and records requests.
type recordingCreator struct {
	responses []struct {
		status int
		body   string
	}
	calls []map[string]string
}

func (rc *recordingCreator) CreateSubscription(_ context.Context, _, _, _ string, condition map[string]string) (int, string, error) {
	rc.calls = append(rc.calls, condition)
	i := len(rc.calls) - 1
	if i >= len(rc.responses) {
		i = len(rc.responses) - 1
	}
	r := rc.responses[i]
	return r.status, r.body, nil
}

// beginSession marks id as the live session, as handleEnvelope does on a
// welcome before spawning the negotiator.
func beginSession(c *Client, id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

func TestNegotiateSuccessFirstCandidate(t *testing.T) {
	rc := &recordingCreator{responses: []struct {
		status int
		body   string
	}{{http.StatusAccepted, ""}}}
	c := NewClient("", rc, "b1", "u1", []Request{{Type: "stream.online", Version: "1"}})
	beginSession(c, "sess-1")
	c.negotiate(context.Background(), "sess-1")

	if len(rc.calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(rc.calls))
	}
	if c.negotiations[0].state != negotiationDone {
		t.Errorf("state = %v, want done", c.negotiations[0].state)
	}
}

func TestNegotiateMissingFieldAdvancesCandidate(t *testing.T) {
	rc := &recordingCreator{responses: []struct {
		status int
		body   string
	}{{http.StatusBadRequest, "missing condition field"}}}
	c := NewClient("", rc, "b1", "u1", []Request{{Type: "stream.online", Version: "1"}})
	beginSession(c, "sess-1")
	c.negotiate(context.Background(), "sess-1")

	n := c.negotiations[0]
	if n.state != negotiationPending {
		t.Errorf("state = %v, want still pending", n.state)
	}
	if n.candidate != 1 {
		t.Errorf("candidate = %d, want advanced to 1", n.candidate)
	}

	// Next welcome resumes with the second shape.
	rc.responses[0] = struct {
		status int
		body   string
	}{http.StatusAccepted, ""}
	beginSession(c, "sess-2")
	c.negotiate(context.Background(), "sess-2")
	if n.state != negotiationDone {
		t.Errorf("state after resume = %v, want done", n.state)
	}
	last := rc.calls[len(rc.calls)-1]
	if len(last) != 1 || last["broadcaster_user_id"] != "b1" {
		t.Errorf("resumed with condition %v, want broadcaster-only shape", last)
	}
}

func TestNegotiateAuthFailureInvalidatesSession(t *testing.T) {
	rc := &recordingCreator{responses: []struct {
		status int
		body   string
	}{{http.StatusUnauthorized, ""}}}
	c := NewClient("", rc, "b1", "u1", []Request{{Type: "stream.online", Version: "1"}})
	invalidated := false
	c.OnAuthFailure = func() { invalidated = true }
	beginSession(c, "sess-1")
	c.negotiate(context.Background(), "sess-1")

	if !invalidated {
		t.Error("OnAuthFailure not called on 401")
	}
	if c.negotiations[0].state != negotiationAbandoned {
		t.Errorf("state = %v, want abandoned", c.negotiations[0].state)
	}
}

func TestNegotiateForbiddenAbandonsWithoutRetry(t *testing.T) {
	rc := &recordingCreator{responses: []struct {
		status int
		body   string
	}{{http.StatusForbidden, ""}}}
	c := NewClient("", rc, "b1", "u1", []Request{{Type: "channel.follow", Version: "2"}})
	beginSession(c, "sess-1")
	c.negotiate(context.Background(), "sess-1")

	if len(rc.calls) != 1 {
		t.Fatalf("got %d calls, want 1 (no retry on 403)", len(rc.calls))
	}
	if c.negotiations[0].state != negotiationAbandoned {
		t.Errorf("state = %v, want abandoned", c.negotiations[0].state)
	}
}

func TestNegotiateExhaustedCandidatesAbandons(t *testing.T) {
	rc := &recordingCreator{responses: []struct {
		status int
		body   string
	}{{http.StatusBadRequest, "missing condition"}}}
	c := NewClient("", rc, "b1", "u1", []Request{{Type: "stream.online", Version: "1"}})
	// Three candidate shapes; a fresh "session" per rejection.
	beginSession(c, "s1")
	c.negotiate(context.Background(), "s1")
	beginSession(c, "s2")
	c.negotiate(context.Background(), "s2")
	beginSession(c, "s3")
	c.negotiate(context.Background(), "s3")

	if c.negotiations[0].state != negotiationAbandoned {
		t.Errorf("state = %v, want abandoned after all shapes rejected", c.negotiations[0].state)
	}
	if len(rc.calls) != 3 {
		t.Errorf("got %d calls, want 3 (one per shape)", len(rc.calls))
	}
}

func TestNegotiateSkipsEmptyCandidates(t *testing.T) {
	rc := &recordingCreator{responses: []struct {
		status int
		body   string
	}{{http.StatusAccepted, ""}}}
	// No user id: the user-only shape must never be posted empty.
	c := NewClient("", rc, "b1", "", []Request{{Type: "stream.online", Version: "1"}})
	beginSession(c, "sess-1")
	c.negotiate(context.Background(), "sess-1")

	if len(rc.calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(rc.calls))
	}
	if _, ok := rc.calls[0]["user_id"]; ok {
		t.Errorf("condition %v carries empty user_id", rc.calls[0])
	}
}

// gatedCreator blocks its first call until released and records which
// session each request was posted against.
type gatedCreator struct {
	gate     chan struct{}
	mu       sync.Mutex
	sessions []string
}

func (gc *gatedCreator) CreateSubscription(_ context.Context, _, _, sessionID string, _ map[string]string) (int, string, error) {
	gc.mu.Lock()
	first := len(gc.sessions) == 0
	gc.sessions = append(gc.sessions, sessionID)
	gc.mu.Unlock()
	if first {
		<-gc.gate
	}
	return http.StatusAccepted, "", nil
}

func (gc *gatedCreator) recorded() []string {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return append([]string{}, gc.sessions...)
}

func TestNegotiateOverlappingSessions(t *testing.T) {
	gc := &gatedCreator{gate: make(chan struct{})}
	c := NewClient("", gc, "b1", "u1", []Request{{Type: "stream.online", Version: "1"}})

	beginSession(c, "s1")
	firstDone := make(chan struct{})
	go func() {
		c.negotiate(context.Background(), "s1")
		close(firstDone)
	}()

	// Wait until the first negotiator is blocked inside the creator.
	deadline := time.After(2 * time.Second)
	for len(gc.recorded()) == 0 {
		select {
		case <-deadline:
			t.Fatal("first negotiator never posted")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// A reconnect replaces the session while that request is in flight.
	beginSession(c, "s2")
	secondDone := make(chan struct{})
	go func() {
		c.negotiate(context.Background(), "s2")
		close(secondDone)
	}()

	close(gc.gate)
	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("first negotiator did not finish")
	}
	select {
	case <-secondDone:
	case <-time.After(2 * time.Second):
		t.Fatal("second negotiator did not finish")
	}

	// The stale negotiator's accepted response applied to a dead session
	// and must be discarded, so the live session posts its own request.
	sessions := gc.recorded()
	if len(sessions) != 2 || sessions[0] != "s1" || sessions[1] != "s2" {
		t.Fatalf("posted sessions = %v, want [s1 s2]", sessions)
	}
	if c.negotiations[0].state != negotiationDone {
		t.Errorf("state = %v, want done via the live session", c.negotiations[0].state)
	}
}
