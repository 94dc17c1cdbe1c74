package publisher

// X.com compose flow selectors, tried in order.
// Update these when posting breaks

const HomeURL = "https://x.com/home"

var (
	ComposeButtons = []string{
		`a[data-testid="SideNav_NewTweet_Button"]`,
		`button[data-testid="SideNav_NewTweet_Button"]`,
		`a[href*="/compose/tweet"]`,
		`a[aria-label="Tweet"]`,
		`a[aria-label="Post"]`,
	}

	TextAreas = []string{
		`[data-testid="tweetTextarea_0"]`,
		`div[role="textbox"]`,
		`div[contenteditable="true"]`,
		`.public-DraftEditor-content`,
	}

	SubmitButtons = []string{
		`button[data-testid="tweetButton"]`,
		`button[data-testid="tweetButtonInline"]`,
	}

	Alert = `[role="alert"]`
)
