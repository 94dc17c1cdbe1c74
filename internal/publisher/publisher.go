// Package publisher submits posts through the X web composer.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/trendpost/internal/types"
)

// Defaults for the compose flow.
const (
	DefaultTimeout      = 90 * time.Second
	DefaultFindTimeout  = 10 * time.Second
	DefaultSettle       = 2 * time.Second
	DefaultConfirmAfter = 15 * time.Second

	screenshotTimeout = 5 * time.Second
)

// Publisher drives the compose dialog in an existing chromedp tab.
type Publisher struct {
	homeURL       string
	timeout       time.Duration
	findTimeout   time.Duration
	settle        time.Duration
	confirmWithin time.Duration

	screenshotDir     string
	screenshotSuccess bool
	screenshotFailure bool

	logger zerolog.Logger
	now    func() time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithHomeURL overrides the page the compose button is looked up on.
func WithHomeURL(u string) Option { return func(p *Publisher) { p.homeURL = u } }

// WithTimeouts overrides the overall, per-element lookup and confirmation timeouts.
// Zero values keep the defaults.
func WithTimeouts(total, find, confirm time.Duration) Option {
	return func(p *Publisher) {
		if total > 0 {
			p.timeout = total
		}
		if find > 0 {
			p.findTimeout = find
		}
		if confirm > 0 {
			p.confirmWithin = confirm
		}
	}
}

// WithScreenshots saves full-page PNGs into dir after successful and/or
// failed attempts.
func WithScreenshots(dir string, onSuccess, onFailure bool) Option {
	return func(p *Publisher) {
		p.screenshotDir = dir
		p.screenshotSuccess = onSuccess
		p.screenshotFailure = onFailure
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Publisher) { p.logger = l.With().Str("component", "publisher").Logger() }
}

// New creates a Publisher.
func New(opts ...Option) *Publisher {
	p := &Publisher{
		homeURL:       HomeURL,
		timeout:       DefaultTimeout,
		findTimeout:   DefaultFindTimeout,
		settle:        DefaultSettle,
		confirmWithin: DefaultConfirmAfter,
		logger:        zerolog.Nop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish types text into the composer and submits it. It returns nil only
// when the composer closed after submission. Errors wrap types.ErrPublishFailure.
func (p *Publisher) Publish(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.publish(ctx, text)
	if err != nil {
		// ctx has often timed out by now; the screenshot gets its own deadline.
		shotCtx, shotCancel := screenshotContext(ctx)
		p.screenshot(shotCtx, "failure", p.screenshotFailure)
		shotCancel()
		return fmt.Errorf("%w: %v", types.ErrPublishFailure, err)
	}
	p.screenshot(ctx, "success", p.screenshotSuccess)
	p.logger.Info().Int("length", len([]rune(text))).Msg("Post published")
	return nil
}

func (p *Publisher) publish(ctx context.Context, text string) error {
	if err := chromedp.Run(ctx, chromedp.Navigate(p.homeURL)); err != nil {
		return fmt.Errorf("failed to load home page: %w", err)
	}

	compose, err := p.firstVisible(ctx, ComposeButtons)
	if err != nil {
		return fmt.Errorf("compose button not found: %w", err)
	}
	if err := chromedp.Run(ctx, chromedp.Click(compose, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to open composer: %w", err)
	}

	area, err := p.firstVisible(ctx, TextAreas)
	if err != nil {
		return fmt.Errorf("text area not found: %w", err)
	}
	if err := p.typeText(ctx, area, text); err != nil {
		return err
	}

	submit, err := p.firstVisible(ctx, SubmitButtons)
	if err != nil {
		return fmt.Errorf("submit button not found: %w", err)
	}
	if err := p.click(ctx, submit); err != nil {
		return fmt.Errorf("failed to submit: %w", err)
	}

	return p.confirm(ctx, area)
}

// typeText types text into the area and checks that it arrived. Editors that
// drop synthetic key events get the text through Input.insertText instead.
func (p *Publisher) typeText(ctx context.Context, area, text string) error {
	if err := chromedp.Run(ctx,
		chromedp.Click(area, chromedp.ByQuery),
		chromedp.SendKeys(area, text, chromedp.ByQuery),
		chromedp.Sleep(p.settle),
	); err != nil {
		return fmt.Errorf("failed to type post: %w", err)
	}

	if ok, err := p.hasText(ctx, area, text); err == nil && ok {
		return nil
	}

	p.logger.Debug().Str("selector", area).Msg("Typed text not found, inserting directly")
	if err := chromedp.Run(ctx,
		chromedp.Focus(area, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.InsertText(text).Do(ctx)
		}),
		chromedp.Sleep(p.settle),
	); err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}

	ok, err := p.hasText(ctx, area, text)
	if err != nil {
		return fmt.Errorf("failed to read composer: %w", err)
	}
	if !ok {
		return errors.New("text was not inserted into the composer")
	}
	return nil
}

func (p *Publisher) hasText(ctx context.Context, area, text string) (bool, error) {
	var got string
	if err := chromedp.Run(ctx, chromedp.Evaluate(textJS(area), &got)); err != nil {
		return false, err
	}
	return TextInserted(got, text), nil
}

// click clicks selector, falling back to a DOM click when another element
// intercepts the pointer event.
func (p *Publisher) click(ctx context.Context, selector string) error {
	clickCtx, cancel := context.WithTimeout(ctx, p.findTimeout)
	err := chromedp.Run(clickCtx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeEnabled))
	cancel()
	if err == nil {
		return nil
	}

	p.logger.Debug().Err(err).Str("selector", selector).Msg("Click failed, using JS click")
	var clicked bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(clickJS(selector), &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("element %s disappeared", selector)
	}
	return nil
}

// confirm waits for the composer to close. When it stays open, the page alert
// text (if any) explains why.
func (p *Publisher) confirm(ctx context.Context, area string) error {
	deadline := time.After(p.confirmWithin)
	for {
		var visible bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(visibleJS(area), &visible)); err != nil {
			return fmt.Errorf("failed to check composer: %w", err)
		}
		if !visible {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			var alert string
			_ = chromedp.Run(ctx, chromedp.Evaluate(textJS(Alert), &alert))
			if alert = strings.TrimSpace(alert); alert != "" {
				return fmt.Errorf("composer still open: %s", alert)
			}
			return errors.New("composer still open after submit")
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// firstVisible returns the first selector that becomes visible within the
// lookup timeout.
func (p *Publisher) firstVisible(ctx context.Context, selectors []string) (string, error) {
	var lastErr error
	for _, sel := range selectors {
		findCtx, cancel := context.WithTimeout(ctx, p.findTimeout/time.Duration(len(selectors)))
		err := chromedp.Run(findCtx, chromedp.WaitVisible(sel, chromedp.ByQuery))
		cancel()
		if err == nil {
			return sel, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
	}
	return "", fmt.Errorf("none of %d selectors matched: %w", len(selectors), lastErr)
}

func (p *Publisher) screenshot(ctx context.Context, kind string, enabled bool) {
	if !enabled || p.screenshotDir == "" {
		return
	}
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to capture screenshot")
		return
	}
	path, err := saveScreenshot(p.screenshotDir, ScreenshotName(kind, p.now()), buf)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to save screenshot")
		return
	}
	p.logger.Info().Str("path", path).Msg("Screenshot saved")
}

// screenshotContext keeps ctx's values (the chromedp tab) but not its
// cancellation.
func screenshotContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), screenshotTimeout)
}

// ScreenshotName returns the file name for a screenshot taken at t.
func ScreenshotName(kind string, t time.Time) string {
	return fmt.Sprintf("%s_%s.png", kind, t.Format("20060102_150405"))
}

func saveScreenshot(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	return path, os.WriteFile(path, data, 0644)
}

// TextInserted reports whether the composer content holds the post. The
// editor may reflow whitespace, so it is ignored in the comparison.
func TextInserted(content, text string) bool {
	strip := func(s string) string { return strings.Join(strings.Fields(s), "") }
	want := strip(text)
	return want != "" && strings.Contains(strip(content), want)
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func textJS(selector string) string {
	return fmt.Sprintf(`(() => { const e = document.querySelector(%s); return e ? (e.innerText || e.textContent || '') : ''; })()`, quote(selector))
}

func visibleJS(selector string) string {
	return fmt.Sprintf(`(() => { const e = document.querySelector(%s); return !!e && e.offsetParent !== null; })()`, quote(selector))
}

func clickJS(selector string) string {
	return fmt.Sprintf(`(() => { const e = document.querySelector(%s); if (!e) return false; e.click(); return true; })()`, quote(selector))
}
