// Package scraper extracts trending topic labels from the X explore page.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/trendpost/internal/types"
)

const (
	// DefaultTimeout bounds page load plus extraction.
	DefaultTimeout = 30 * time.Second
	// MaxTopics caps the list handed to the pipeline.
	MaxTopics = 20

	retryDelay = time.Second
)

// Scraper reads trending topics in an existing chromedp tab.
type Scraper struct {
	url        string
	timeout    time.Duration
	strategies []Strategy
	logger     zerolog.Logger
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithURL overrides the trends page.
func WithURL(u string) Option { return func(s *Scraper) { s.url = u } }

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Scraper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scraper) { s.logger = l.With().Str("component", "scraper").Logger() }
}

// New creates a new scraper
func New(opts ...Option) *Scraper {
	s := &Scraper{
		url:        TrendsURL,
		timeout:    DefaultTimeout,
		strategies: Strategies,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchTrendingTopics navigates the tab in ctx to the trends page and returns
// up to MaxTopics hashtags in page order. ctx must carry a chromedp tab.
// Errors wrap types.ErrSourceUnavailable.
func (s *Scraper) FetchTrendingTopics(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := chromedp.Run(ctx,
		chromedp.Navigate(s.url),
		chromedp.WaitReady(PageReady, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("%w: failed to load trends page: %v", types.ErrSourceUnavailable, err)
	}

	// Trends render after the shell; keep trying until the deadline.
	for {
		for _, st := range s.strategies {
			texts, err := s.extract(ctx, st.Selector)
			if err != nil {
				s.logger.Debug().Err(err).Str("strategy", st.Name).Msg("Strategy failed")
				continue
			}
			if topics := CleanTrends(texts, MaxTopics); len(topics) > 0 {
				s.logger.Info().Str("strategy", st.Name).Int("count", len(topics)).Msg("Scraped trending topics")
				return topics, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: no trends recognized on page", types.ErrSourceUnavailable)
		case <-time.After(retryDelay):
		}
	}
}

// extract returns the trimmed text of every element matching selector.
func (s *Scraper) extract(ctx context.Context, selector string) ([]string, error) {
	var texts []string
	if err := chromedp.Run(ctx, chromedp.Evaluate(extractJS(selector), &texts)); err != nil {
		return nil, err
	}
	return texts, nil
}

func extractJS(selector string) string {
	quoted, _ := json.Marshal(selector)
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(e => (e.textContent || '').trim()).filter(t => t.length > 0)`, quoted)
}

// CleanTrends keeps hashtag labels, reduced to their first word, without
// duplicates and in their original order, capped at limit (<= 0 means no cap).
func CleanTrends(texts []string, limit int) []string {
	seen := make(map[string]bool)
	var topics []string
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if !strings.HasPrefix(t, "#") {
			continue
		}
		tag := strings.Fields(t)[0]
		if len(tag) <= 1 || seen[tag] {
			continue
		}
		seen[tag] = true
		topics = append(topics, tag)
		if limit > 0 && len(topics) == limit {
			break
		}
	}
	return topics
}
