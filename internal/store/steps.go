package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ibeckermayer/trendpost/internal/types"
)

// StepName identifies a pipeline step for caching purposes.
type StepName string

const (
	StepTopics StepName = "topics"
	StepPosts  StepName = "posts"
	StepLLM    StepName = "llm"
)

// ScreenshotsDir is the cache subdirectory for publisher screenshots.
const ScreenshotsDir = "screenshots"

// Cache writes timestamped JSON snapshots of intermediate cycle output
// under a base directory, one subdirectory per step.
type Cache struct {
	dir string
	now func() time.Time
}

// NewCache returns a cache rooted at dir.
func NewCache(dir string) *Cache {
	return &Cache{dir: dir, now: time.Now}
}

// Dir returns the cache root.
func (c *Cache) Dir() string { return c.dir }

// stepDir returns the cache directory for a given step.
func (c *Cache) stepDir(step StepName) string {
	return filepath.Join(c.dir, string(step))
}

// generateFilename creates a timestamped filename with the given extension.
// Names sort chronologically.
func (c *Cache) generateFilename(ext string) string {
	return c.now().Format("2006-01-02T15-04-05.000000000") + ext
}

// TopicsRecord is the cached output of the scrape step.
type TopicsRecord struct {
	Timestamp time.Time         `json:"timestamp"`
	Source    types.TopicSource `json:"source"`
	Topics    []string          `json:"topics"`
}

// PostRecord is the cached output of the generate step.
type PostRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Topic     string    `json:"topic"`
	Text      string    `json:"text"`
}

// SaveTopics caches the topics a cycle chose from.
func (c *Cache) SaveTopics(topics []string, source types.TopicSource) error {
	_, err := SaveStepOutput(c, StepTopics, TopicsRecord{Timestamp: c.now(), Source: source, Topics: topics})
	return err
}

// SavePost caches a generated post.
func (c *Cache) SavePost(topic, text string) error {
	_, err := SaveStepOutput(c, StepPosts, PostRecord{Timestamp: c.now(), Topic: topic, Text: text})
	return err
}

// SaveStepOutput saves JSON-serializable data to the step's cache directory.
// Returns the path to the saved file.
func SaveStepOutput[T any](c *Cache, step StepName, data T) (string, error) {
	dir := c.stepDir(step)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create step cache dir: %w", err)
	}

	path := filepath.Join(dir, c.generateFilename(".json"))

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal step output: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return "", fmt.Errorf("failed to write step output: %w", err)
	}

	return path, nil
}

// LoadLatestStepOutput loads the most recent output from a step's cache directory.
// Returns the data, the filepath it was loaded from, and any error.
func LoadLatestStepOutput[T any](c *Cache, step StepName) (T, string, error) {
	var zero T

	latestPath, err := c.LatestStepFile(step)
	if err != nil {
		return zero, "", err
	}

	data, err := LoadStepOutput[T](latestPath)
	if err != nil {
		return zero, "", err
	}

	return data, latestPath, nil
}

// LoadStepOutput loads JSON data from a specific file path.
func LoadStepOutput[T any](path string) (T, error) {
	var data T

	jsonData, err := os.ReadFile(path)
	if err != nil {
		return data, fmt.Errorf("failed to read step output: %w", err)
	}

	if err := json.Unmarshal(jsonData, &data); err != nil {
		return data, fmt.Errorf("failed to unmarshal step output: %w", err)
	}

	return data, nil
}

// LatestStepFile returns the path to the most recent file in a step's cache directory.
func (c *Cache) LatestStepFile(step StepName) (string, error) {
	dir := c.stepDir(step)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no cached output for step %s", step)
		}
		return "", err
	}

	// os.ReadDir sorts by name, which is chronological for our timestamps
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}

	if len(files) == 0 {
		return "", fmt.Errorf("no cached output for step %s", step)
	}

	return filepath.Join(dir, files[len(files)-1]), nil
}

// LLMExchange represents a prompt/response pair for caching
type LLMExchange struct {
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider"` // e.g. "gemini"
	Model     string    `json:"model"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Error     string    `json:"error,omitempty"`
}

// SaveLLMExchange writes an exchange to a timestamped file in the llm step dir.
// Returns the path to the saved file.
func (c *Cache) SaveLLMExchange(exchange LLMExchange) (string, error) {
	if exchange.Timestamp.IsZero() {
		exchange.Timestamp = c.now()
	}
	return SaveStepOutput(c, StepLLM, exchange)
}

// ScreenshotDir returns the directory for publisher screenshots.
func (c *Cache) ScreenshotDir() string {
	return filepath.Join(c.dir, ScreenshotsDir)
}
