package scraper

// X.com DOM selectors
// These are isolated here because X changes their DOM frequently
// Update these when scraping breaks

const (
	// TrendsURL is the explore tab listing trending topics.
	TrendsURL = "https://x.com/explore/tabs/trending"

	// Page is considered loaded once this is present
	PageReady = `main`

	TrendCell = `div[data-testid="trend"]`
)

// Strategy is one way of locating trend labels on the page.
type Strategy struct {
	Name     string
	Selector string
}

// Strategies are tried in order until one yields hashtags.
var Strategies = []Strategy{
	{Name: "trend-section", Selector: `section[aria-labelledby] ` + TrendCell + ` span`},
	{Name: "main-spans", Selector: `main span`},
	{Name: "timeline", Selector: `div[aria-label*="Timeline"] ` + TrendCell + ` span`},
	{Name: "body-spans", Selector: `body span`},
}
