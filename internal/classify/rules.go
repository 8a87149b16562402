package classify

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Rules is the data-driven part of classification. Updating the target's
// copy or markup should only ever mean editing a rule file.
type Rules struct {
	Version                int        `yaml:"version"`
	LoginURLMarkers        []string   `yaml:"login_url_markers"`
	ChallengeURLMarkers    []string   `yaml:"challenge_url_markers"`
	AuthenticatedLandmarks []string   `yaml:"authenticated_landmarks"`
	RateLimitPhrases       []string   `yaml:"rate_limit_phrases"`
	BlockPhrases           []string   `yaml:"block_phrases"`
	ExpectedSelectors      []Selector `yaml:"expected_selectors"`
}

// Selector is a named CSS selector.
type Selector struct {
	Name     string `yaml:"name"`
	Selector string `yaml:"selector"`
}

// DefaultRules returns the rule table compiled into the binary.
func DefaultRules() Rules {
	r, err := ParseRules(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded rules are invalid: %v", err))
	}
	return r
}

// ParseRules decodes and validates a YAML rule table.
func ParseRules(data []byte) (Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("failed to parse rules: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}

// LoadRules reads a rule table from path. An empty path yields the defaults.
func LoadRules(path string) (Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read rules %s: %w", path, err)
	}
	return ParseRules(data)
}

// Validate rejects tables that would make the classifier meaningless.
func (r Rules) Validate() error {
	if r.Version <= 0 {
		return fmt.Errorf("rules: version must be positive")
	}
	if len(r.LoginURLMarkers) == 0 {
		return fmt.Errorf("rules: at least one login_url_marker is required")
	}
	for _, s := range r.ExpectedSelectors {
		if strings.TrimSpace(s.Selector) == "" {
			return fmt.Errorf("rules: expected selector %q is empty", s.Name)
		}
	}
	return nil
}

// IsLoginURL reports whether url points at the login page or a challenge.
func (r Rules) IsLoginURL(url string) bool {
	return containsAny(url, r.LoginURLMarkers) || containsAny(url, r.ChallengeURLMarkers)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// matchPhrase returns the first phrase found in any of the haystacks,
// ignoring case.
func matchPhrase(phrases []string, haystacks ...string) (string, bool) {
	lowered := make([]string, len(haystacks))
	for i, h := range haystacks {
		lowered[i] = strings.ToLower(h)
	}
	for _, p := range phrases {
		lp := strings.ToLower(p)
		if lp == "" {
			continue
		}
		for _, h := range lowered {
			if strings.Contains(h, lp) {
				return p, true
			}
		}
	}
	return "", false
}
