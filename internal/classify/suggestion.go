package classify

import "time"

// Suggestion is an operator-facing recovery hint for a classification.
type Suggestion struct {
	Message          string
	Action           string
	Wait             time.Duration
	RetryRecommended bool
}

var suggestions = map[Classification]Suggestion{
	LoginRequired: {
		Message: "login required",
		Action:  "run `tagscope login` to refresh the saved session",
	},
	RateLimited: {
		Message:          "rate limited by the site",
		Action:           "wait and retry with a longer delay between topics",
		Wait:             5 * time.Minute,
		RetryRecommended: true,
	},
	Blocked: {
		Message: "account blocked or challenged",
		Action:  "wait 24 hours, then log in manually and clear any challenge",
		Wait:    24 * time.Hour,
	},
	DOMChanged: {
		Message: "page structure changed",
		Action:  "update the selectors or the classifier rule table",
	},
	Unknown: {
		Message:          "unknown error",
		Action:           "check the page manually",
		Wait:             time.Minute,
		RetryRecommended: true,
	},
}

// SuggestionFor returns the recovery hint for c. Unrecognised values get the
// Unknown hint.
func SuggestionFor(c Classification) Suggestion {
	if s, ok := suggestions[c]; ok {
		return s
	}
	return suggestions[Unknown]
}
