package eventsub

import (
	"context"
	"strings"
)

// SubscriptionCreator posts one EventSub subscription request and reports
// the HTTP status plus response body. Implemented by twitchapi.HelixClient.
type SubscriptionCreator interface {
	CreateSubscription(ctx context.Context, eventType, version, sessionID string, condition map[string]string) (int, string, error)
}

// Request names one event type to register interest in.
type Request struct {
	Type    string
	Version string
}

// conditionCandidates is the ordered list of condition shapes to try, most
// specific first. The backend's required shape varies by event type and is
// not reliably documented, so the shapes are data: discovering a new one
// means appending here, not changing control flow. Empty id values are
// stripped per candidate; a candidate with nothing left is skipped.
func conditionCandidates(broadcasterID, userID string) []map[string]string {
	return []map[string]string{
		{"broadcaster_user_id": broadcasterID, "user_id": userID},
		{"broadcaster_user_id": broadcasterID},
		{"user_id": userID},
	}
}

// negotiationOutcome classifies one subscription response.
type negotiationOutcome int

const (
	// outcomeDone: subscription accepted (or already present).
	outcomeDone negotiationOutcome = iota
	// outcomeNextCandidate: the condition shape was wrong; force a fresh
	// session and try the next candidate.
	outcomeNextCandidate
	// outcomeAbandon: not a shape problem; retrying cannot help.
	outcomeAbandon
	// outcomeAuthFailure: credentials rejected; invalidate the session.
	outcomeAuthFailure
	// outcomeRetryLater: transient; the ambient reconnect cycle retries.
	outcomeRetryLater
)

// classifyResponse maps an HTTP response to a negotiation outcome. A 400
// is only retried with the next shape when the body names a missing
// required field; any other 400 is a real rejection.
func classifyResponse(status int, body string) negotiationOutcome {
	lower := strings.ToLower(body)
	switch {
	case status >= 200 && status < 300:
		return outcomeDone
	case status == 409 || strings.Contains(lower, "already exists"):
		return outcomeDone
	case status == 400 && strings.Contains(lower, "missing"):
		return outcomeNextCandidate
	case status == 401:
		return outcomeAuthFailure
	case status == 400 || status == 403:
		return outcomeAbandon
	default:
		return outcomeRetryLater
	}
}

type negotiationState int

const (
	negotiationPending negotiationState = iota
	negotiationDone
	negotiationAbandoned
)

// negotiation tracks one event type's progress through the candidate list.
// The candidate index survives reconnects: a shape rejection burns the
// session, and the next welcome resumes from the following shape.
type negotiation struct {
	req       Request
	candidate int
	state     negotiationState
}
