package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// Default third-party emote endpoints (BetterTTV).
const (
	DefaultBTTVBaseURL = "https://api.betterttv.net/3"
	bttvCDNTemplate    = "https://cdn.betterttv.net/emote/%s/1x"
)

// EmoteCatalog holds the third-party (non-Twitch) emote code to image URL
// mapping for one channel. The catalog is fetched once on first use and
// then served from memory; Invalidate forces a refetch. Fetch failures are
// logged and yield an empty catalog rather than blocking chat parsing.
type EmoteCatalog struct {
	// BaseURL defaults to DefaultBTTVBaseURL; tests point it at a mock.
	BaseURL string
	// ChannelID is the Twitch user id whose channel emotes to include
	// alongside the global set. Empty means global only.
	ChannelID  string
	HTTPClient *http.Client

	mu      sync.Mutex
	emotes  map[string]string
	fetched bool
}

func (ec *EmoteCatalog) http() *http.Client {
	if ec.HTTPClient != nil {
		return ec.HTTPClient
	}
	return http.DefaultClient
}

func (ec *EmoteCatalog) baseURL() string {
	if ec.BaseURL != "" {
		return ec.BaseURL
	}
	return DefaultBTTVBaseURL
}

// Lookup returns the code-to-URL map, fetching it on first call. The
// returned map must not be mutated. It is the shape irc.Parser's
// ThirdPartyEmotes hook expects.
func (ec *EmoteCatalog) Lookup(ctx context.Context) map[string]string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if !ec.fetched {
		ec.emotes = ec.fetch(ctx)
		ec.fetched = true
	}
	return ec.emotes
}

// Invalidate drops the cached catalog so the next Lookup refetches.
func (ec *EmoteCatalog) Invalidate() {
	ec.mu.Lock()
	ec.fetched = false
	ec.emotes = nil
	ec.mu.Unlock()
}

type bttvEmote struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

func (ec *EmoteCatalog) fetch(ctx context.Context) map[string]string {
	out := make(map[string]string)
	if err := ec.fetchGlobal(ctx, out); err != nil {
		slog.Warn("third-party global emote fetch failed", slog.Any("err", err))
	}
	if ec.ChannelID != "" {
		if err := ec.fetchChannel(ctx, out); err != nil {
			slog.Warn("third-party channel emote fetch failed",
				slog.String("channel_id", ec.ChannelID), slog.Any("err", err))
		}
	}
	return out
}

func (ec *EmoteCatalog) fetchGlobal(ctx context.Context, out map[string]string) error {
	var emotes []bttvEmote
	if err := ec.getJSON(ctx, "/cached/emotes/global", &emotes); err != nil {
		return err
	}
	for _, e := range emotes {
		out[e.Code] = fmt.Sprintf(bttvCDNTemplate, e.ID)
	}
	return nil
}

func (ec *EmoteCatalog) fetchChannel(ctx context.Context, out map[string]string) error {
	var body struct {
		ChannelEmotes []bttvEmote `json:"channelEmotes"`
		SharedEmotes  []bttvEmote `json:"sharedEmotes"`
	}
	if err := ec.getJSON(ctx, "/cached/users/twitch/"+ec.ChannelID, &body); err != nil {
		return err
	}
	for _, e := range body.ChannelEmotes {
		out[e.Code] = fmt.Sprintf(bttvCDNTemplate, e.ID)
	}
	for _, e := range body.SharedEmotes {
		out[e.Code] = fmt.Sprintf(bttvCDNTemplate, e.ID)
	}
	return nil
}

func (ec *EmoteCatalog) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ec.baseURL()+path, nil)
	if err != nil {
		return err
	}
	resp, err := ec.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("emote fetch %s: status %d: %s", path, resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
