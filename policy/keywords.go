package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// MatchKind is a Keyword's match strategy.
type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchContains MatchKind = "contains"
	MatchRegex    MatchKind = "regex"
	MatchFuzzy    MatchKind = "fuzzy"
)

// Keyword is a user-managed content matcher (§3 Keyword entity).
type Keyword struct {
	ID            string
	Pattern       string
	Kind          MatchKind
	Category      string
	Severity      Severity
	Enabled       bool
	CaseSensitive bool
	ContextTerms  []string // elevate severity when present nearby
	ExcludeTerms  []string // suppress the match entirely when present

	compiled *regexp.Regexp // nil unless Kind is regex, exact, or fuzzy
}

// Compile builds the keyword's internal regexp, if its match kind needs
// one. Per §7's policy-evaluation error taxonomy, a keyword whose user
// regex fails to compile is disabled and the error is returned for the
// caller to report, rather than panicking at match time.
func (k *Keyword) Compile() error {
	flags := "(?i)"
	if k.CaseSensitive {
		flags = ""
	}

	switch k.Kind {
	case MatchRegex:
		re, err := regexp.Compile(flags + k.Pattern)
		if err != nil {
			k.Enabled = false
			return fmt.Errorf("policy: keyword %s: invalid regex: %w", k.ID, err)
		}
		k.compiled = re
	case MatchExact:
		re, err := regexp.Compile(flags + `\b` + regexp.QuoteMeta(k.Pattern) + `\b`)
		if err != nil {
			k.Enabled = false
			return fmt.Errorf("policy: keyword %s: invalid exact pattern: %w", k.ID, err)
		}
		k.compiled = re
	case MatchFuzzy:
		re, err := regexp.Compile(flags + fuzzyPattern(k.Pattern))
		if err != nil {
			k.Enabled = false
			return fmt.Errorf("policy: keyword %s: invalid fuzzy pattern: %w", k.ID, err)
		}
		k.compiled = re
	}
	return nil
}

// leetSubs maps a letter to a character class admitting common
// digit/symbol stand-ins, matching the original's leetspeak_map.
var leetSubs = map[byte]string{
	'a': "[a@4]",
	'e': "[e3]",
	'i': "[i1!]",
	'o': "[o0]",
	's': "[s$5]",
	't': "[t7+]",
	'l': "[l1]",
	'b': "[b8]",
}

// fuzzyPattern builds a leetspeak-tolerant, word-boundary-free regex for
// word: each letter is replaced by its substitution class (or escaped
// literally when it has none).
func fuzzyPattern(word string) string {
	var b strings.Builder
	lower := strings.ToLower(word)
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if sub, ok := leetSubs[c]; ok {
			b.WriteString(sub)
		} else {
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}

// Match reports whether the keyword matches text, returning the matched
// substring and the severity (elevated by context terms, per §4.4).
// Exclusion terms suppress the match before it is attempted.
func (k *Keyword) Match(text string) (matched string, severity Severity, ok bool) {
	if !k.Enabled {
		return "", 0, false
	}
	lowerText := strings.ToLower(text)
	for _, ex := range k.ExcludeTerms {
		if strings.Contains(lowerText, strings.ToLower(ex)) {
			return "", 0, false
		}
	}

	switch k.Kind {
	case MatchContains:
		needle := k.Pattern
		haystack := text
		if !k.CaseSensitive {
			needle = strings.ToLower(needle)
			haystack = lowerText
		}
		if !strings.Contains(haystack, needle) {
			return "", 0, false
		}
		matched = k.Pattern
	case MatchExact, MatchRegex, MatchFuzzy:
		if k.compiled == nil {
			return "", 0, false
		}
		m := k.compiled.FindString(text)
		if m == "" {
			return "", 0, false
		}
		matched = m
	default:
		return "", 0, false
	}

	window := ContextWindow(text, matched, contextRadius)
	return matched, k.severityWithContext(window), true
}

// contextRadius is the ±character window around a match that context
// terms are searched within, per §4.4.
const contextRadius = 50

// severityWithContext raises the keyword's base severity by one level if
// any context term appears within the ±50-char window around the match.
func (k *Keyword) severityWithContext(window string) Severity {
	if len(k.ContextTerms) == 0 {
		return k.Severity
	}
	lower := strings.ToLower(window)
	for _, c := range k.ContextTerms {
		if strings.Contains(lower, strings.ToLower(c)) {
			return k.Severity.Elevate()
		}
	}
	return k.Severity
}

// ContextWindow returns the ±radius character window around the first
// occurrence of matched within text, per §4.4's "surrounding context
// (max ±50 chars)" requirement.
func ContextWindow(text, matched string, radius int) string {
	idx := strings.Index(strings.ToLower(text), strings.ToLower(matched))
	if idx < 0 {
		return ""
	}
	start := idx - radius
	if start < 0 {
		start = 0
	}
	end := idx + len(matched) + radius
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}
