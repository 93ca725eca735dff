package decode

import "regexp"

// Sensitivity is a flow's data-sensitivity label, escalating only (§4.5.1).
type Sensitivity string

const (
	SensitivityPublic    Sensitivity = "public"
	SensitivityPrivate   Sensitivity = "private"
	SensitivitySensitive Sensitivity = "sensitive"
	SensitivityCritical  Sensitivity = "critical"
)

var sensitivityRank = map[Sensitivity]int{
	SensitivityPublic:    0,
	SensitivityPrivate:   1,
	SensitivitySensitive: 2,
	SensitivityCritical:  3,
}

// sensitivityPatterns are checked in order; the highest-ranked match wins.
// Patterns mirror the credential/token/PII shapes a proxy realistically
// observes in URLs and decoded bodies.
var sensitivityPatterns = []struct {
	re    *regexp.Regexp
	level Sensitivity
}{
	{regexp.MustCompile(`(?i)\b\d{3}-\d{2}-\d{4}\b`), SensitivityCritical},                  // SSN-shaped
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`), SensitivityCritical},                    // credit-card-shaped digit run
	{regexp.MustCompile(`(?i)authorization:\s*bearer\s+\S+`), SensitivityCritical},          // bearer token
	{regexp.MustCompile(`(?i)\bpassword=[^&\s]+`), SensitivitySensitive},                    // password param
	{regexp.MustCompile(`(?i)\b(api[_-]?key|access[_-]?token|secret)=[^&\s]+`), SensitivitySensitive},
	{regexp.MustCompile(`(?i)\bcookie:\s*\S+`), SensitivityPrivate},
	{regexp.MustCompile(`(?i)\b[\w.+-]+@[\w-]+\.[a-z]{2,}\b`), SensitivityPrivate},          // email address
}

// TagSensitivity scans combined flow text (URL plus decoded request/response
// bodies) for credential-, token-, and PII-shaped content and returns the
// highest sensitivity label found, or current if nothing outranks it — the
// label only escalates, never downgrades a level set elsewhere (§4.5.1).
func TagSensitivity(text string, current Sensitivity) Sensitivity {
	best := current
	if best == "" {
		best = SensitivityPublic
	}
	for _, p := range sensitivityPatterns {
		if sensitivityRank[p.level] <= sensitivityRank[best] {
			continue
		}
		if p.re.MatchString(text) {
			best = p.level
		}
	}
	return best
}
