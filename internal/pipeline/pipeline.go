// Package pipeline runs one scrape -> pick -> generate -> publish cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/trendpost/internal/types"
)

const (
	// DefaultMaxLength is the post length ceiling of the platform.
	DefaultMaxLength = 280
	// DefaultContinuation is appended to posts cut at the ceiling.
	DefaultContinuation = "..."
)

// FallbackTopics is used when no trending topics could be scraped.
var FallbackTopics = []string{
	"#Python", "#JavaScript", "#TechNews", "#AI", "#MachineLearning",
	"#WebDev", "#Programming", "#OpenSource", "#DataScience", "#CloudComputing",
	"#Cybersecurity", "#Innovation", "#DigitalTransformation", "#SoftwareDevelopment",
	"#TechTrends", "#Automation", "#BigData", "#IoT", "#Blockchain", "#DevOps",
}

// Scraper returns the currently trending topic labels, most relevant first.
type Scraper interface {
	FetchTrendingTopics(ctx context.Context) ([]string, error)
}

// Publisher submits a post. A nil error means the platform visibly accepted it.
type Publisher interface {
	Publish(ctx context.Context, text string) error
}

// Generator writes a post about topic. template is optional and contains
// one {trend} placeholder. The returned text is already trimmed.
type Generator interface {
	GeneratePost(ctx context.Context, topic, template string) (string, error)
}

// Session is the browser-backed scope of one cycle. It is closed when the
// cycle ends, whatever the outcome.
type Session interface {
	Scraper
	Publisher
	Close() error
}

// SessionOpener acquires a fresh Session for each cycle.
type SessionOpener interface {
	Open(ctx context.Context) (Session, error)
}

// Recorder receives exactly one Attempt per cycle.
type Recorder interface {
	Record(a types.Attempt)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(a types.Attempt)

// Record calls f(a).
func (f RecorderFunc) Record(a types.Attempt) { f(a) }

// Journal stores intermediate cycle output for debugging.
type Journal interface {
	SaveTopics(topics []string, source types.TopicSource) error
	SavePost(topic, text string) error
}

// Pipeline executes cycles. It is safe to run several cycles concurrently,
// although the scheduler never does.
type Pipeline struct {
	opener    SessionOpener
	generator Generator
	logger    zerolog.Logger

	fallback     []string
	maxLength    int
	continuation string
	dryRun       bool
	journal      Journal
	pick         func(n int) int
	now          func() time.Time

	mu       sync.RWMutex
	template string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l.With().Str("component", "pipeline").Logger() }
}

// WithFallback replaces the built-in fallback topics.
func WithFallback(topics []string) Option {
	return func(p *Pipeline) { p.fallback = topics }
}

// WithMaxLength sets the post length ceiling (in runes) and the continuation marker.
func WithMaxLength(n int, continuation string) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxLength = n
		}
		p.continuation = continuation
	}
}

// WithTemplate sets the initial custom prompt template.
func WithTemplate(t string) Option {
	return func(p *Pipeline) { p.template = t }
}

// WithJournal stores scraped topics and generated posts.
func WithJournal(j Journal) Option {
	return func(p *Pipeline) { p.journal = j }
}

// WithDryRun skips publishing. Generated posts count as successful.
func WithDryRun(dry bool) Option {
	return func(p *Pipeline) { p.dryRun = dry }
}

// WithPicker overrides random topic selection; pick(n) must return [0, n).
func WithPicker(pick func(n int) int) Option {
	return func(p *Pipeline) { p.pick = pick }
}

// WithClock overrides the clock used to timestamp attempts.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a pipeline.
func New(opener SessionOpener, generator Generator, opts ...Option) *Pipeline {
	p := &Pipeline{
		opener:       opener,
		generator:    generator,
		logger:       zerolog.Nop(),
		fallback:     FallbackTopics,
		maxLength:    DefaultMaxLength,
		continuation: DefaultContinuation,
		pick:         rand.IntN,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetTemplate swaps the custom prompt template used by later cycles.
func (p *Pipeline) SetTemplate(t string) {
	p.mu.Lock()
	p.template = t
	p.mu.Unlock()
}

// Template returns the current custom prompt template.
func (p *Pipeline) Template() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.template
}

// Run executes one cycle and records exactly one Attempt with rec.
// Collaborator errors and panics never escape; they end the cycle as a failure.
func (p *Pipeline) Run(ctx context.Context, rec Recorder) (attempt types.Attempt) {
	attempt = types.Attempt{ID: uuid.NewString(), Stage: types.StageSession}
	log := p.logger.With().Str("cycle", attempt.ID).Logger()
	start := p.now()

	log.Info().Msg("cycle started")
	defer func() {
		if r := recover(); r != nil {
			attempt.Succeeded = false
			attempt.Err = fmt.Sprintf("panic: %v", r)
		}
		attempt.Timestamp = p.now()
		rec.Record(attempt)

		ev := log.Info()
		if !attempt.Succeeded {
			ev = log.Error().Str("error", attempt.Err)
		}
		ev.Str("topic", attempt.Topic).
			Str("stage", string(attempt.Stage)).
			Bool("succeeded", attempt.Succeeded).
			Dur("took", attempt.Timestamp.Sub(start)).
			Msg("cycle finished")
	}()

	session, err := call(func() (Session, error) { return p.opener.Open(ctx) })
	if err != nil {
		attempt.Err = fmt.Sprintf("open session: %v", err)
		return attempt
	}
	defer func() {
		if err := safeClose(session); err != nil {
			log.Warn().Err(err).Msg("failed to close session")
		}
	}()

	attempt.Stage = types.StageScrape
	topics, source := p.topics(ctx, session, log)
	if len(topics) == 0 {
		attempt.Err = "no topics available"
		return attempt
	}
	attempt.Topic = topics[p.pick(len(topics))]
	attempt.Source = source
	log.Info().Str("topic", attempt.Topic).Int("candidates", len(topics)).Str("source", string(source)).Msg("topic selected")

	attempt.Stage = types.StageGenerate
	template := p.Template()
	text, err := call(func() (string, error) {
		return p.generator.GeneratePost(ctx, attempt.Topic, template)
	})
	if err == nil && text == "" {
		err = fmt.Errorf("%w: empty text", types.ErrGenerationFailure)
	}
	if err != nil {
		attempt.Err = err.Error()
		return attempt
	}

	if n := utf8.RuneCountInString(text); n > p.maxLength {
		log.Warn().Int("length", n).Int("max", p.maxLength).Msg("post too long, truncating")
		text = Truncate(text, p.maxLength, p.continuation)
	}
	attempt.Text = text
	if p.journal != nil {
		if err := p.journal.SavePost(attempt.Topic, text); err != nil {
			log.Warn().Err(err).Msg("failed to cache post")
		}
	}

	attempt.Stage = types.StagePublish
	if p.dryRun {
		log.Info().Str("text", text).Msg("dry run, not publishing")
	} else {
		_, err = call(func() (struct{}, error) { return struct{}{}, session.Publish(ctx, text) })
		if err != nil {
			attempt.Err = err.Error()
			return attempt
		}
	}

	attempt.Stage = types.StageDone
	attempt.Succeeded = true
	return attempt
}

// topics returns the scraped topics, or the fallback list if scraping failed or found nothing.
func (p *Pipeline) topics(ctx context.Context, s Scraper, log zerolog.Logger) ([]string, types.TopicSource) {
	topics, err := call(func() ([]string, error) { return s.FetchTrendingTopics(ctx) })
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch trending topics")
	}
	if len(topics) > 0 {
		p.saveTopics(topics, types.SourceTrending, log)
		return topics, types.SourceTrending
	}

	log.Warn().Int("fallback", len(p.fallback)).Msg("no trending topics, using fallback list")
	if len(p.fallback) > 0 {
		p.saveTopics(p.fallback, types.SourceFallback, log)
	}
	return p.fallback, types.SourceFallback
}

func (p *Pipeline) saveTopics(topics []string, source types.TopicSource, log zerolog.Logger) {
	if p.journal == nil {
		return
	}
	if err := p.journal.SaveTopics(topics, source); err != nil {
		log.Warn().Err(err).Msg("failed to cache topics")
	}
}

// Truncate shortens text to exactly max runes, ending with marker.
// Text already within max is returned unchanged.
func Truncate(text string, max int, marker string) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	m := []rune(marker)
	if len(m) >= max {
		return string(runes[:max])
	}
	return string(runes[:max-len(m)]) + marker
}

var errPanic = errors.New("collaborator panicked")

// call runs fn and converts a panic into an error.
func call[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return fn()
}

func safeClose(s Session) error {
	_, err := call(func() (struct{}, error) { return struct{}{}, s.Close() })
	return err
}
