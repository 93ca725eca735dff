package policy

import (
	"regexp"
	"sync"
	"time"
)

// RuleKind identifies which evaluation step produced a BlockDecision.
type RuleKind string

const (
	RuleWhitelist RuleKind = "whitelist"
	RuleBlocklist RuleKind = "blocklist"
	RuleURLRegex  RuleKind = "url_regex"
	RuleCategory  RuleKind = "category"
	RuleSchedule  RuleKind = "schedule"
	RuleURLWord   RuleKind = "url_keyword"
	RuleKeyword   RuleKind = "keyword"
	RuleCustom    RuleKind = "custom"
	RuleDefault   RuleKind = "default"
)

// BlockDecision is the outcome of a single Check call (§3 BlockDecision).
type BlockDecision struct {
	Blocked  bool
	Rule     RuleKind
	RuleID   string
	Category Category
	Schedule string
	Reason   string
	Severity Severity
}

func allow() BlockDecision {
	return BlockDecision{Blocked: false, Rule: RuleDefault, Reason: "default allow"}
}

// urlPattern is a compiled URL-regex blocklist entry.
type urlPattern struct {
	ID      string
	re      *regexp.Regexp
	Enabled bool
}

// customRule is a §4.4 step 8 domain-equality-only rule.
type customRule struct {
	ID      string
	Domain  string
	Enabled bool
}

// Store is the thread-safe policy document: whitelist/blocklist domains,
// URL regex patterns, enabled categories, custom rules, schedules, and
// keyword matchers. Reloads swap the whole snapshot atomically (§5).
type Store struct {
	mu sync.RWMutex

	whitelist       []string
	blocklist       []string
	urlPatterns     []urlPattern
	enabledCategory map[Category]bool
	customRules     []customRule
	schedules       []Schedule
	urlKeywords     []*Keyword
	keywords        []*Keyword
}

// NewStore returns an empty Store seeded with the predefined keyword set.
func NewStore() *Store {
	s := &Store{enabledCategory: make(map[Category]bool)}
	for _, kw := range predefinedKeywords() {
		_ = kw.Compile()
		s.keywords = append(s.keywords, kw)
	}
	return s
}

// Load atomically replaces the store's contents. A URL pattern that fails
// to compile is skipped; a keyword that fails to compile is kept but
// disabled by Compile. Every such error is returned in errs, matching the
// "disable and report" error taxonomy from §7.
func (s *Store) Load(doc Document) (errs []error) {
	enabled := make(map[Category]bool, len(doc.EnabledCategories))
	for _, c := range doc.EnabledCategories {
		enabled[Category(c)] = true
	}

	var patterns []urlPattern
	for _, p := range doc.URLPatterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		patterns = append(patterns, urlPattern{ID: p.ID, re: re, Enabled: p.Enabled})
	}

	var urlKeywords, keywords []*Keyword
	for _, kw := range doc.URLKeywords {
		k := kw
		if err := k.Compile(); err != nil {
			errs = append(errs, err)
		}
		urlKeywords = append(urlKeywords, k)
	}
	for _, kw := range predefinedKeywords() {
		_ = kw.Compile()
		keywords = append(keywords, kw)
	}
	for _, kw := range doc.Keywords {
		k := kw
		if err := k.Compile(); err != nil {
			errs = append(errs, err)
		}
		keywords = append(keywords, k)
	}

	var customs []customRule
	for _, c := range doc.CustomRules {
		customs = append(customs, customRule{ID: c.ID, Domain: c.Domain, Enabled: c.Enabled})
	}

	s.mu.Lock()
	s.whitelist = doc.Whitelist
	s.blocklist = doc.Blocklist
	s.urlPatterns = patterns
	s.enabledCategory = enabled
	s.customRules = customs
	s.schedules = doc.Schedules
	s.urlKeywords = urlKeywords
	s.keywords = keywords
	s.mu.Unlock()

	return errs
}

// Document is the JSON-decoded shape of a policy file (§2.1 AMBIENT STACK).
type Document struct {
	Whitelist         []string          `json:"whitelist"`
	Blocklist         []string          `json:"blocklist"`
	URLPatterns       []URLPatternEntry `json:"url_patterns"`
	EnabledCategories []string          `json:"enabled_categories"`
	CustomRules       []CustomRuleEntry `json:"custom_rules"`
	Schedules         []Schedule        `json:"schedules"`
	URLKeywords       []*Keyword        `json:"url_keywords"`
	Keywords          []*Keyword        `json:"keywords"`
}

// URLPatternEntry is a step-3 URL regex blocklist entry.
type URLPatternEntry struct {
	ID      string `json:"id"`
	Pattern string `json:"pattern"`
	Enabled bool   `json:"enabled"`
}

// CustomRuleEntry is a step-8 domain-equality-only custom rule.
type CustomRuleEntry struct {
	ID      string `json:"id"`
	Domain  string `json:"domain"`
	Enabled bool   `json:"enabled"`
}

// Check runs the full nine-step evaluation order from §4.4: first match
// wins, with whitelist short-circuiting every later step.
func (s *Store) Check(domain, url, content string) BlockDecision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// 1. Whitelist domain match.
	if entry, ok := anyDomainMatches(domain, s.whitelist); ok {
		return BlockDecision{Blocked: false, Rule: RuleWhitelist, RuleID: entry, Reason: "whitelisted domain"}
	}

	// 2. Exact/suffix blocklist domain match.
	if entry, ok := anyDomainMatches(domain, s.blocklist); ok {
		return BlockDecision{Blocked: true, Rule: RuleBlocklist, RuleID: entry, Reason: "Domain blocked: " + entry}
	}

	// 3. URL regex patterns.
	for _, p := range s.urlPatterns {
		if !p.Enabled {
			continue
		}
		if p.re.MatchString(url) {
			return BlockDecision{Blocked: true, Rule: RuleURLRegex, RuleID: p.ID, Reason: "url pattern match"}
		}
	}

	// 4. Category membership from built-in domain sets, where enabled.
	for cat, def := range builtinCategories {
		if !s.enabledCategory[cat] {
			continue
		}
		if domainInCategory(domain, def) {
			return BlockDecision{Blocked: true, Rule: RuleCategory, Category: cat, Severity: def.Severity, Reason: "category domain match"}
		}
	}

	// 5. Time-based schedules, highest priority first. A schedule's own
	// Categories/Domains list governs it independent of which categories
	// are globally enabled in step 4.
	now := time.Now()
	if active := ActiveSchedules(s.schedules, domain, now); len(active) > 0 {
		sch := active[0]
		return BlockDecision{Blocked: true, Rule: RuleSchedule, RuleID: sch.ID, Schedule: sch.ID, Reason: "schedule active"}
	}

	// 6. URL keyword matchers where category is blocked.
	for _, kw := range s.urlKeywords {
		if !s.enabledCategory[Category(kw.Category)] {
			continue
		}
		if matched, sev, ok := kw.Match(url); ok {
			return BlockDecision{Blocked: true, Rule: RuleURLWord, RuleID: kw.ID, Category: Category(kw.Category), Severity: sev, Reason: "url keyword: " + matched}
		}
	}

	// 7. Generic blocked-keyword substring match against URL+content.
	combined := url + " " + content
	for _, kw := range s.keywords {
		if matched, sev, ok := kw.Match(combined); ok {
			return BlockDecision{Blocked: true, Rule: RuleKeyword, RuleID: kw.ID, Category: Category(kw.Category), Severity: sev, Reason: "keyword: " + matched}
		}
	}

	// 8. Custom rules (domain equality only).
	for _, c := range s.customRules {
		if !c.Enabled {
			continue
		}
		if domain == c.Domain {
			return BlockDecision{Blocked: true, Rule: RuleCustom, RuleID: c.ID, Reason: "custom rule"}
		}
	}

	// 9. Default allow.
	return allow()
}
