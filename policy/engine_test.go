package policy

import (
	"strings"
	"testing"
)

func TestStoreCheck(t *testing.T) {
	doc := Document{
		Whitelist: []string{"trusted.example.com"},
		Blocklist: []string{"bad.example.com", "trusted.example.com"},
		URLPatterns: []URLPatternEntry{
			{ID: "no-query-tokens", Pattern: `[?&]token=`, Enabled: true},
		},
		CustomRules: []CustomRuleEntry{
			{ID: "custom-1", Domain: "custom.example.com", Enabled: true},
		},
	}

	tests := []struct {
		name    string
		domain  string
		url     string
		content string
		want    bool
		wantRule RuleKind
	}{
		{name: "whitelisted domain overrides blocklist", domain: "trusted.example.com", url: "http://trusted.example.com/bad.example.com", want: false, wantRule: RuleWhitelist},
		{name: "blocklisted domain", domain: "bad.example.com", url: "http://bad.example.com/", want: true, wantRule: RuleBlocklist},
		{name: "url pattern match", domain: "other.example.com", url: "http://other.example.com/x?token=abc", want: true, wantRule: RuleURLRegex},
		{name: "custom rule exact domain", domain: "custom.example.com", url: "http://custom.example.com/", want: true, wantRule: RuleCustom},
		{name: "default allow", domain: "neutral.example.com", url: "http://neutral.example.com/", want: false, wantRule: RuleDefault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			if errs := s.Load(doc); len(errs) != 0 {
				t.Fatalf("Load() errs = %v", errs)
			}
			got := s.Check(tt.domain, tt.url, tt.content)
			if got.Blocked != tt.want {
				t.Errorf("Check() blocked = %v, want %v (decision=%+v)", got.Blocked, tt.want, got)
			}
			if got.Rule != tt.wantRule {
				t.Errorf("Check() rule = %v, want %v", got.Rule, tt.wantRule)
			}
		})
	}
}

func TestStoreCheckBlocklistReason(t *testing.T) {
	s := NewStore()
	if errs := s.Load(Document{Blocklist: []string{"bad.example.com"}}); len(errs) != 0 {
		t.Fatalf("Load() errs = %v", errs)
	}
	got := s.Check("bad.example.com", "http://bad.example.com/", "")
	if !strings.Contains(got.Reason, "Domain blocked") {
		t.Errorf("Check() reason = %q, want a reason containing %q", got.Reason, "Domain blocked")
	}
}

func TestStoreLoadInvalidURLPatternReported(t *testing.T) {
	s := NewStore()
	doc := Document{
		URLPatterns: []URLPatternEntry{
			{ID: "broken", Pattern: "(unterminated", Enabled: true},
		},
	}
	errs := s.Load(doc)
	if len(errs) != 1 {
		t.Fatalf("Load() errs = %v, want exactly one compile error", errs)
	}
}

func TestStoreCheckEnabledCategory(t *testing.T) {
	s := NewStore()
	cat, ok := CategoryByID(CategoryGaming)
	if !ok || len(cat.Domains) == 0 {
		t.Fatal("expected the gaming category to define sample domains")
	}
	domain := cat.Domains[0]

	s.Load(Document{})
	if got := s.Check(domain, "http://"+domain+"/", ""); got.Blocked {
		t.Fatalf("Check() blocked a category domain before it was enabled: %+v", got)
	}

	s.Load(Document{EnabledCategories: []string{string(cat.ID)}})
	got := s.Check(domain, "http://"+domain+"/", "")
	if !got.Blocked || got.Rule != RuleCategory {
		t.Errorf("Check() = %+v, want blocked by category %v", got, cat.ID)
	}
}
