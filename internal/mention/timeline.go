package mention

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Timeline Source — primary strategy, speaks HTTP to a syndication-style
// timeline endpoint. Holds a session (cookie jar + client) that the
// orchestrator opens at start and closes at stop.
// ---------------------------------------------------------------------------

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// TimelineConfig configures the timeline source.
type TimelineConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxPosts  int           `yaml:"max_posts"`
	UserAgent string        `yaml:"user_agent"`
}

// DefaultTimelineConfig returns production defaults.
func DefaultTimelineConfig() TimelineConfig {
	return TimelineConfig{
		BaseURL:  "https://syndication.twitter.com",
		Timeout:  10 * time.Second,
		MaxPosts: 10,
	}
}

// TimelineSource fetches recent posts for an account over HTTP.
type TimelineSource struct {
	config TimelineConfig

	mu     sync.Mutex
	client *http.Client // nil until Open
}

// NewTimelineSource creates the source in closed state; Open must be called
// before Fetch.
func NewTimelineSource(config TimelineConfig) *TimelineSource {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxPosts == 0 {
		config.MaxPosts = 10
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	return &TimelineSource{config: config}
}

func (s *TimelineSource) Name() string { return "timeline" }

// Open acquires the HTTP session. Idempotent.
func (s *TimelineSource) Open(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("timeline: cookie jar: %w", err)
	}
	s.client = &http.Client{
		Timeout: s.config.Timeout,
		Jar:     jar,
	}
	log.Info().Str("base_url", s.config.BaseURL).Msg("timeline: session opened")
	return nil
}

// Close releases the session. Safe to call on every exit path, including
// when Open never ran.
func (s *TimelineSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.CloseIdleConnections()
		s.client = nil
		log.Info().Msg("timeline: session closed")
	}
}

func (s *TimelineSource) httpClient() *http.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// timelinePayload is the wire shape of the timeline endpoint.
type timelinePayload struct {
	Posts []struct {
		Text      string    `json:"text"`
		URL       string    `json:"url"`
		CreatedAt time.Time `json:"created_at"`
	} `json:"posts"`
}

// Fetch returns posts newer than since for the account.
func (s *TimelineSource) Fetch(ctx context.Context, account string, since time.Time) ([]RawMention, error) {
	client := s.httpClient()
	if client == nil {
		return nil, fmt.Errorf("%w: timeline session not open", ErrSourceUnavailable)
	}

	endpoint := fmt.Sprintf("%s/timeline/profile?screen_name=%s&count=%d",
		s.config.BaseURL, url.QueryEscape(account), s.config.MaxPosts)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: timeline request: %v", ErrSourceUnavailable, err)
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: timeline fetch %s: %v", ErrSourceUnavailable, account, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: timeline fetch %s: status %d", ErrSourceUnavailable, account, resp.StatusCode)
	}

	var payload timelinePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: timeline parse %s: %v", ErrSourceUnavailable, account, err)
	}

	var out []RawMention
	for _, p := range payload.Posts {
		if !p.CreatedAt.After(since) {
			continue
		}
		postURL := p.URL
		if postURL == "" {
			postURL = fmt.Sprintf("https://x.com/%s", account)
		}
		out = append(out, RawMention{
			AccountUsername: account,
			Text:            p.Text,
			URL:             postURL,
			PostedAt:        p.CreatedAt,
		})
	}
	return out, nil
}

// followingPayload is the wire shape of the following-list endpoint.
type followingPayload struct {
	Accounts []struct {
		ScreenName string `json:"screen_name"`
	} `json:"accounts"`
}

// FollowingList returns accounts the target follows, best-effort. Used to
// seed the watch-list; callers fall back to a static list on failure.
func (s *TimelineSource) FollowingList(ctx context.Context, target string, limit int) ([]string, error) {
	client := s.httpClient()
	if client == nil {
		return nil, fmt.Errorf("%w: timeline session not open", ErrSourceUnavailable)
	}

	endpoint := fmt.Sprintf("%s/timeline/following?screen_name=%s",
		s.config.BaseURL, url.QueryEscape(target))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: following request: %v", ErrSourceUnavailable, err)
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: following fetch %s: %v", ErrSourceUnavailable, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: following fetch %s: status %d", ErrSourceUnavailable, target, resp.StatusCode)
	}

	var payload followingPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: following parse %s: %v", ErrSourceUnavailable, target, err)
	}

	seen := make(map[string]struct{})
	var out []string
	for _, a := range payload.Accounts {
		if a.ScreenName == "" || a.ScreenName == target {
			continue
		}
		if _, dup := seen[a.ScreenName]; dup {
			continue
		}
		seen[a.ScreenName] = struct{}{}
		out = append(out, a.ScreenName)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
