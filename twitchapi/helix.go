// Package twitchapi contains minimal helpers to interact with Twitch Helix
// APIs: user resolution, stream status, privileged chatter listing, and
// EventSub subscription creation. Chat itself does not go through Helix;
// these calls support the chat layer around the edges.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/chat-tender/telemetry"
)

// DefaultBaseURL is the production Helix endpoint.
const DefaultBaseURL = "https://api.twitch.tv"

// TokenProvider yields a bearer token for Helix requests. Implemented by
// TokenSource (app tokens) and by the stored user-token lookup in db.
type TokenProvider interface {
	Get(ctx context.Context) (string, error)
}

// HelixClient provides the Helix methods the chat service needs.
type HelixClient struct {
	// BaseURL defaults to DefaultBaseURL; tests point it at a mock server.
	BaseURL    string
	ClientID   string
	Token      TokenProvider
	HTTPClient *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return DefaultBaseURL
}

// doJSON performs one authenticated Helix request and decodes the 2xx
// response body into out. Non-2xx responses come back as *APIError carrying
// the status and body text.
func (hc *HelixClient) doJSON(ctx context.Context, method, path string, query url.Values, reqBody, out any) error {
	ctx, span := telemetry.StartSpan(ctx, "twitchapi", "helix."+path,
		attribute.String("http.method", method))
	defer span.End()

	tok, err := hc.Token.Get(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	u := hc.baseURL() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var resp *http.Response
	telemetry.TimeFunc(telemetry.HelixRequestDuration, func() {
		resp, err = hc.http().Do(req)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{Status: resp.StatusCode, Body: string(b), Path: path}
		telemetry.RecordError(span, apiErr)
		return apiErr
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			telemetry.RecordError(span, err)
			return err
		}
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

// APIError is a non-2xx Helix response.
type APIError struct {
	Status int
	Body   string
	Path   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helix %s: status %d: %s", e.Path, e.Status, e.Body)
}

// User is the subset of Helix user fields the service cares about.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// GetUser resolves a login name. An empty login returns the user the
// bearer token belongs to.
func (hc *HelixClient) GetUser(ctx context.Context, login string) (*User, error) {
	q := url.Values{}
	if login != "" {
		q.Set("login", login)
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.doJSON(ctx, http.MethodGet, "/helix/users", q, nil, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("user not found")
	}
	return &body.Data[0], nil
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	u, err := hc.GetUser(ctx, login)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// StreamStatus describes whether a channel is currently live.
type StreamStatus struct {
	Live    bool
	Title   string
	GameID  string
	Viewers int
}

// GetStreamStatus reports the live state of a channel. An empty data array
// means offline, not an error.
func (hc *HelixClient) GetStreamStatus(ctx context.Context, userID string) (*StreamStatus, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID empty")
	}
	q := url.Values{}
	q.Set("user_id", userID)
	var body struct {
		Data []struct {
			Title       string `json:"title"`
			GameID      string `json:"game_id"`
			ViewerCount int    `json:"viewer_count"`
		} `json:"data"`
	}
	if err := hc.doJSON(ctx, http.MethodGet, "/helix/streams", q, nil, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return &StreamStatus{}, nil
	}
	d := body.Data[0]
	return &StreamStatus{Live: true, Title: d.Title, GameID: d.GameID, Viewers: d.ViewerCount}, nil
}

// GetChatters lists logins present in a channel's chat via the privileged
// chatters endpoint. Requires the moderator:read:chatters scope and a
// moderator (or broadcaster) user token; callers fall back to the
// membership roster when this returns an APIError with status 401/403.
func (hc *HelixClient) GetChatters(ctx context.Context, broadcasterID, moderatorID string) ([]string, error) {
	if broadcasterID == "" || moderatorID == "" {
		return nil, fmt.Errorf("broadcasterID/moderatorID empty")
	}
	var logins []string
	after := ""
	for {
		q := url.Values{}
		q.Set("broadcaster_id", broadcasterID)
		q.Set("moderator_id", moderatorID)
		q.Set("first", "1000")
		if after != "" {
			q.Set("after", after)
		}
		var body struct {
			Data []struct {
				UserLogin string `json:"user_login"`
			} `json:"data"`
			Pagination struct {
				Cursor string `json:"cursor"`
			} `json:"pagination"`
		}
		if err := hc.doJSON(ctx, http.MethodGet, "/helix/chat/chatters", q, nil, &body); err != nil {
			return nil, err
		}
		for _, d := range body.Data {
			logins = append(logins, d.UserLogin)
		}
		after = body.Pagination.Cursor
		if after == "" {
			return logins, nil
		}
	}
}

// IsPermissionError reports whether err is a Helix 401/403 response, the
// signal to fall back from privileged endpoints.
func IsPermissionError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
}

// CreateSubscription posts one EventSub subscription bound to a websocket
// session. It reports the raw status and body so the caller can classify
// the response; only transport failures are errors.
func (hc *HelixClient) CreateSubscription(ctx context.Context, eventType, version, sessionID string, condition map[string]string) (int, string, error) {
	payload := map[string]any{
		"type":      eventType,
		"version":   version,
		"condition": condition,
		"transport": map[string]string{
			"method":     "websocket",
			"session_id": sessionID,
		},
	}
	err := hc.doJSON(ctx, http.MethodPost, "/helix/eventsub/subscriptions", nil, payload, nil)
	if err == nil {
		return http.StatusAccepted, "", nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status, apiErr.Body, nil
	}
	return 0, "", err
}
