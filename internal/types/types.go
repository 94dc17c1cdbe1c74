package types

import (
	"errors"
	"time"
)

// Stage identifies how far a pipeline cycle got before it stopped
type Stage string

const (
	StageSession  Stage = "session"
	StageScrape   Stage = "scrape"
	StageGenerate Stage = "generate"
	StagePublish  Stage = "publish"
	StageDone     Stage = "done"
)

// TopicSource records where the chosen topic came from
type TopicSource string

const (
	SourceTrending TopicSource = "trending"
	SourceFallback TopicSource = "fallback"
)

// Attempt is the record of one completed pipeline cycle.
// Attempts are values; once recorded they are never modified.
type Attempt struct {
	ID        string      `json:"id"`
	Topic     string      `json:"topic,omitempty"` // empty if no topic was chosen
	Source    TopicSource `json:"source,omitempty"`
	Text      string      `json:"text,omitempty"`
	Stage     Stage       `json:"stage"`
	Err       string      `json:"error,omitempty"`
	Succeeded bool        `json:"succeeded"`
	Timestamp time.Time   `json:"timestamp"`
}

// HasTopic reports whether a topic was chosen for this attempt
func (a Attempt) HasTopic() bool {
	return a.Topic != ""
}

// Error kinds shared by the collaborators and the pipeline.
// Wrap them with fmt.Errorf("...: %w", kind) and match with errors.Is.
var (
	// ErrSourceUnavailable means the trends page could not be reached or parsed.
	ErrSourceUnavailable = errors.New("trend source unavailable")
	// ErrGenerationFailure means no post text was produced.
	ErrGenerationFailure = errors.New("post generation failed")
	// ErrPublishFailure means the platform did not visibly accept the post.
	ErrPublishFailure = errors.New("publish not confirmed")
	// ErrConfig means required configuration or credentials are missing.
	ErrConfig = errors.New("invalid configuration")
	// ErrIO means an export or config write failed.
	ErrIO = errors.New("i/o failure")
)
