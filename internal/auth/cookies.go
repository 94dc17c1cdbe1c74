package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/ibeckermayer/trendpost/internal/config"
)

// Cookies that must be present for a logged-in X session
var requiredCookies = []string{"auth_token", "ct0"}

// ErrNoCookies means no usable session has been captured yet.
var ErrNoCookies = errors.New("no stored X session")

// CookieStore persists the X.com session cookies captured at login
type CookieStore struct {
	path string
	now  func() time.Time
}

// StoredCookies represents the persisted cookie data
type StoredCookies struct {
	Cookies    []*network.Cookie `json:"cookies"`
	CapturedAt time.Time         `json:"captured_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// NewCookieStore creates a cookie store at the given path
func NewCookieStore(path string) *CookieStore {
	return &CookieStore{path: path, now: time.Now}
}

// DefaultCookieStorePath returns the default path for cookie storage
func DefaultCookieStorePath() (string, error) {
	configDir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "cookies.json"), nil
}

// Path returns the file the cookies are stored in.
func (cs *CookieStore) Path() string { return cs.path }

// Save persists cookies to disk
func (cs *CookieStore) Save(cookies []*network.Cookie) error {
	if err := os.MkdirAll(filepath.Dir(cs.path), 0700); err != nil {
		return err
	}

	stored := StoredCookies{
		Cookies:    normalize(cookies),
		CapturedAt: cs.now(),
		ExpiresAt:  earliestExpiry(cookies),
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(cs.path, data, 0600)
}

// normalize copies cookies and fills the enum fields that cdproto refuses to
// decode when empty, so a saved file always loads again.
func normalize(cookies []*network.Cookie) []*network.Cookie {
	out := make([]*network.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		cp := *c
		if cp.Priority == "" {
			cp.Priority = network.CookiePriorityMedium
		}
		if cp.SourceScheme == "" {
			cp.SourceScheme = network.CookieSourceSchemeUnset
		}
		out = append(out, &cp)
	}
	return out
}

// earliestExpiry finds the first expiration among the auth cookies. Session
// cookies (no expiry) do not count.
func earliestExpiry(cookies []*network.Cookie) time.Time {
	var earliest time.Time
	for _, c := range cookies {
		if !slices.Contains(requiredCookies, c.Name) || c.Expires <= 0 {
			continue
		}
		exp := time.Unix(int64(c.Expires), 0)
		if earliest.IsZero() || exp.Before(earliest) {
			earliest = exp
		}
	}
	return earliest
}

// Load retrieves cookies from disk
func (cs *CookieStore) Load() (*StoredCookies, error) {
	data, err := os.ReadFile(cs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCookies
		}
		return nil, err
	}

	var stored StoredCookies
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("corrupt cookie file %s: %w", cs.path, err)
	}

	return &stored, nil
}

// IsValid checks if stored cookies are present and unexpired
func (cs *CookieStore) IsValid() bool {
	stored, err := cs.Load()
	if err != nil {
		return false
	}

	if !stored.ExpiresAt.IsZero() && cs.now().After(stored.ExpiresAt) {
		return false
	}

	for _, name := range requiredCookies {
		if !slices.ContainsFunc(stored.Cookies, func(c *network.Cookie) bool {
			return c.Name == name && c.Value != ""
		}) {
			return false
		}
	}
	return true
}

// Clear removes stored cookies. Clearing an empty store is not an error.
func (cs *CookieStore) Clear() error {
	if err := os.Remove(cs.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// GetCookies returns only the x.com related cookies, for injection into a
// browser session
func (cs *CookieStore) GetCookies() ([]*network.Cookie, error) {
	if !cs.IsValid() {
		return nil, ErrNoCookies
	}
	stored, err := cs.Load()
	if err != nil {
		return nil, err
	}

	var xCookies []*network.Cookie
	for _, c := range stored.Cookies {
		if c.Domain == ".x.com" || c.Domain == "x.com" {
			xCookies = append(xCookies, c)
		}
	}

	return xCookies, nil
}
