package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Interstitial page titles served by anti-bot vendors instead of content.
var challengeTitles = []string{
	"just a moment",
	"attention required! | cloudflare",
	"ddos-guard",
	"please wait while we verify",
}

// Elements that only appear on challenge pages.
var challengeSelectors = []string{
	"#challenge-form",
	"#cf-challenge-running",
	"iframe[src*='challenges.cloudflare.com']",
	"script[src*='/cdn-cgi/challenge-platform/']",
	"#px-captcha",
	"div.g-recaptcha[data-sitekey]",
}

// ChallengeDetector recognizes bot-challenge placeholders that come back
// with status 200 and enough bytes to pass the length check.
type ChallengeDetector struct {
	titles    []string
	selectors []string
}

// NewChallengeDetector returns a detector with the built-in markers.
// extraSelectors are CSS selectors that also mark a page as a challenge.
func NewChallengeDetector(extraSelectors ...string) *ChallengeDetector {
	sel := make([]string, 0, len(challengeSelectors)+len(extraSelectors))
	sel = append(sel, challengeSelectors...)
	for _, s := range extraSelectors {
		if s = strings.TrimSpace(s); s != "" {
			sel = append(sel, s)
		}
	}
	return &ChallengeDetector{titles: challengeTitles, selectors: sel}
}

// Detect returns the first matching marker. A nil detector or unparsable
// HTML never matches.
func (d *ChallengeDetector) Detect(html string) (string, bool) {
	if d == nil || html == "" {
		return "", false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}

	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	if title != "" {
		for _, t := range d.titles {
			if strings.HasPrefix(title, t) {
				return "title \"" + t + "\"", true
			}
		}
	}

	for _, sel := range d.selectors {
		if doc.Find(sel).Length() > 0 {
			return sel, true
		}
	}
	return "", false
}
