package policy

import "testing"

func TestKeywordMatch(t *testing.T) {
	tests := []struct {
		name        string
		kw          Keyword
		text        string
		wantOK      bool
		wantSev     Severity
		wantMatched string
	}{
		{
			name:        "contains match",
			kw:          Keyword{Pattern: "casino", Kind: MatchContains, Severity: SeverityMedium, Enabled: true},
			text:        "visit our online CASINO today",
			wantOK:      true,
			wantSev:     SeverityMedium,
			wantMatched: "casino",
		},
		{
			name:   "contains no match",
			kw:     Keyword{Pattern: "casino", Kind: MatchContains, Severity: SeverityMedium, Enabled: true},
			text:   "nothing to see here",
			wantOK: false,
		},
		{
			name:   "disabled keyword never matches",
			kw:     Keyword{Pattern: "casino", Kind: MatchContains, Severity: SeverityMedium, Enabled: false},
			text:   "online casino",
			wantOK: false,
		},
		{
			name:   "exclude term suppresses match",
			kw:     Keyword{Pattern: "casino", Kind: MatchContains, Severity: SeverityMedium, Enabled: true, ExcludeTerms: []string{"casino night fundraiser"}},
			text:   "our casino night fundraiser raises money for the school",
			wantOK: false,
		},
		{
			name:        "context term elevates severity",
			kw:          Keyword{Pattern: "casino", Kind: MatchContains, Severity: SeverityMedium, Enabled: true, ContextTerms: []string{"deposit"}},
			text:        "make a deposit at our casino now",
			wantOK:      true,
			wantSev:     SeverityHigh,
			wantMatched: "casino",
		},
		{
			name:        "fuzzy leetspeak match",
			kw:          Keyword{Pattern: "porn", Kind: MatchFuzzy, Severity: SeverityHigh, Enabled: true},
			text:        "free p0rn site",
			wantOK:      true,
			wantSev:     SeverityHigh,
			wantMatched: "p0rn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kw := tt.kw
			if err := kw.Compile(); err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			matched, sev, ok := kw.Match(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("Match() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if matched != tt.wantMatched {
				t.Errorf("Match() matched = %q, want %q", matched, tt.wantMatched)
			}
			if sev != tt.wantSev {
				t.Errorf("Match() severity = %v, want %v", sev, tt.wantSev)
			}
		})
	}
}

func TestKeywordCompileInvalidRegex(t *testing.T) {
	kw := Keyword{Pattern: "(unterminated", Kind: MatchRegex, Enabled: true}
	if err := kw.Compile(); err == nil {
		t.Fatal("Compile() expected an error for an invalid regex pattern")
	}
	if kw.Enabled {
		t.Error("Compile() should disable a keyword whose pattern fails to compile")
	}
}
