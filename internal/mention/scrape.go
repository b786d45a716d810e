package mention

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

// ---------------------------------------------------------------------------
// Scrape Source — last-resort strategy pulling raw profile HTML
// Low fidelity: no reliable timestamps, so everything found is treated as
// posted at fetch time. Used only when timeline and RSS both came up empty.
// ---------------------------------------------------------------------------

// ScrapeConfig configures the scrape source.
type ScrapeConfig struct {
	ProfileURLTemplate string        `yaml:"profile_url_template"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxPosts           int           `yaml:"max_posts"`
}

// DefaultScrapeConfig returns defaults.
func DefaultScrapeConfig() ScrapeConfig {
	return ScrapeConfig{
		ProfileURLTemplate: "https://x.com/%s",
		Timeout:            15 * time.Second,
		MaxPosts:           5,
	}
}

// ScrapeSource extracts post text out of embedded page data.
type ScrapeSource struct {
	config ScrapeConfig
	client *http.Client
}

// NewScrapeSource creates the source.
func NewScrapeSource(config ScrapeConfig) *ScrapeSource {
	if config.ProfileURLTemplate == "" {
		config.ProfileURLTemplate = "https://x.com/%s"
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxPosts == 0 {
		config.MaxPosts = 5
	}
	return &ScrapeSource{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

func (s *ScrapeSource) Name() string { return "scrape" }

// fullTextPattern matches post text embedded in page script payloads.
var fullTextPattern = regexp.MustCompile(`"full_text"\s*:\s*"((?:[^"\\]|\\.)*)"`)

// unescapePattern undoes the common JSON string escapes found in payloads.
var unescapePattern = regexp.MustCompile(`\\([nt"\\/])`)

func unescapeText(s string) string {
	return unescapePattern.ReplaceAllStringFunc(s, func(m string) string {
		switch m[1] {
		case 'n':
			return " "
		case 't':
			return " "
		default:
			return string(m[1])
		}
	})
}

// Fetch scrapes the account profile page for embedded post text. The since
// parameter is ignored: scraped posts carry no trustworthy timestamp.
func (s *ScrapeSource) Fetch(ctx context.Context, account string, _ time.Time) ([]RawMention, error) {
	profileURL := fmt.Sprintf(s.config.ProfileURLTemplate, account)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, profileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: scrape request: %v", ErrSourceUnavailable, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: scrape %s: %v", ErrSourceUnavailable, account, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: scrape %s: status %d", ErrSourceUnavailable, account, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: scrape read %s: %v", ErrSourceUnavailable, account, err)
	}

	matches := fullTextPattern.FindAllSubmatch(body, s.config.MaxPosts)
	now := time.Now().UTC()

	var out []RawMention
	seen := make(map[string]struct{})
	for _, m := range matches {
		text := unescapeText(string(m[1]))
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, RawMention{
			AccountUsername: account,
			Text:            text,
			URL:             profileURL,
			PostedAt:        now,
		})
	}
	return out, nil
}
