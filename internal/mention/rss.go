package mention

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// RSS Source — backup strategy over mirror RSS endpoints
// Endpoints are tried in order; the first reachable one wins.
// ---------------------------------------------------------------------------

// RSSConfig configures the RSS source.
type RSSConfig struct {
	// Endpoint templates tried in order; %s is replaced by the account handle.
	Endpoints []string      `yaml:"endpoints"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxItems  int           `yaml:"max_items"`
}

// DefaultRSSConfig returns defaults over public mirror instances.
func DefaultRSSConfig() RSSConfig {
	return RSSConfig{
		Endpoints: []string{
			"https://nitter.net/%s/rss",
			"https://nitter.it/%s/rss",
		},
		Timeout:  10 * time.Second,
		MaxItems: 10,
	}
}

// RSSSource fetches account posts from RSS mirrors.
type RSSSource struct {
	config RSSConfig
	client *http.Client
}

// NewRSSSource creates the source.
func NewRSSSource(config RSSConfig) *RSSSource {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxItems == 0 {
		config.MaxItems = 10
	}
	return &RSSSource{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

func (s *RSSSource) Name() string { return "rss" }

// rssFeed is the subset of the RSS 2.0 schema we consume.
type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Link        string `xml:"link"`
	PubDate     string `xml:"pubDate"`
}

// pubDate layouts seen across mirror instances.
var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
}

func parsePubDate(s string) (time.Time, bool) {
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Fetch returns posts newer than since for the account, trying each endpoint
// in order until one responds.
func (s *RSSSource) Fetch(ctx context.Context, account string, since time.Time) ([]RawMention, error) {
	var lastErr error

	for _, tmpl := range s.config.Endpoints {
		endpoint := fmt.Sprintf(tmpl, account)

		mentions, err := s.fetchFeed(ctx, endpoint, account, since)
		if err != nil {
			lastErr = err
			log.Debug().Err(err).Str("endpoint", endpoint).Msg("rss: endpoint failed")
			continue
		}
		return mentions, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}

func (s *RSSSource) fetchFeed(ctx context.Context, endpoint, account string, since time.Time) ([]RawMention, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: rss request: %v", ErrSourceUnavailable, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: rss fetch %s: %v", ErrSourceUnavailable, account, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: rss fetch %s: status %d", ErrSourceUnavailable, account, resp.StatusCode)
	}

	var feed rssFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("%w: rss parse %s: %v", ErrSourceUnavailable, account, err)
	}

	items := feed.Channel.Items
	if len(items) > s.config.MaxItems {
		items = items[:s.config.MaxItems]
	}

	var out []RawMention
	for _, item := range items {
		postedAt, ok := parsePubDate(item.PubDate)
		if !ok || !postedAt.After(since) {
			continue
		}
		text := item.Title
		if item.Description != "" {
			text += " " + item.Description
		}
		out = append(out, RawMention{
			AccountUsername: account,
			Text:            text,
			URL:             item.Link,
			PostedAt:        postedAt,
		})
	}
	return out, nil
}
