package policy

// predefinedKeywords mirrors the original's PREDEFINED_KEYWORDS table: a
// hand-tuned starter set grouped by alert category, each carrying the
// context/exclusion terms that keep it from firing on obviously benign
// phrasing (e.g. "suicide hotline").
func predefinedKeywords() []*Keyword {
	return []*Keyword{
		{
			ID: "sh_suicide", Pattern: "suicide", Kind: MatchContains,
			Category: "self_harm", Severity: SeverityCritical, Enabled: true,
			ContextTerms: []string{"method", "how to", "want to", "thinking about"},
			ExcludeTerms: []string{"prevention", "hotline", "awareness"},
		},
		{
			ID: "sh_cutting_myself", Pattern: "cutting myself", Kind: MatchFuzzy,
			Category: "self_harm", Severity: SeverityCritical, Enabled: true,
		},
		{
			ID: "sh_end_my_life", Pattern: "end my life", Kind: MatchFuzzy,
			Category: "self_harm", Severity: SeverityCritical, Enabled: true,
		},
		{
			ID: "sh_kill_myself", Pattern: "kill myself", Kind: MatchFuzzy,
			Category: "self_harm", Severity: SeverityCritical, Enabled: true,
		},
		{
			ID: "sh_self_harm", Pattern: "self harm", Kind: MatchFuzzy,
			Category: "self_harm", Severity: SeverityHigh, Enabled: true,
		},
		{
			ID: "bully_kys", Pattern: "kys", Kind: MatchExact,
			Category: "bullying", Severity: SeverityHigh, Enabled: true,
		},
		{
			ID: "bully_kill_yourself", Pattern: "kill yourself", Kind: MatchFuzzy,
			Category: "bullying", Severity: SeverityCritical, Enabled: true,
			// Guards against hits inside unrelated words like "skillful
			// yourselfness" that a word-boundary-free fuzzy pattern
			// would otherwise match.
			ExcludeTerms: []string{"skillful"},
		},
		{
			ID: "bully_hate_you", Pattern: "everyone hates you", Kind: MatchContains,
			Category: "bullying", Severity: SeverityHigh, Enabled: true,
		},
		{
			ID: "bully_go_die", Pattern: "go die", Kind: MatchFuzzy,
			Category: "bullying", Severity: SeverityHigh, Enabled: true,
		},
		{
			ID: "pred_age", Pattern: "how old are you", Kind: MatchContains,
			Category: "predator", Severity: SeverityMedium, Enabled: true,
			ContextTerms: []string{"pic", "photo", "meet", "address", "alone"},
		},
		{
			ID: "pred_meet", Pattern: "let's meet", Kind: MatchContains,
			Category: "predator", Severity: SeverityHigh, Enabled: true,
			ContextTerms: []string{"alone", "secret", "don't tell"},
		},
		{
			ID: "pred_secret", Pattern: "our secret", Kind: MatchContains,
			Category: "predator", Severity: SeverityHigh, Enabled: true,
			ContextTerms: []string{"parents", "mom", "dad", "don't tell"},
		},
		{
			ID: "pred_send_pic", Pattern: `send (me )?(a )?pic(ture)?`, Kind: MatchRegex,
			Category: "predator", Severity: SeverityHigh, Enabled: true,
			ContextTerms: []string{"body", "private", "naked", "underwear"},
		},
		{
			ID: "drug_buy_weed", Pattern: "buy weed", Kind: MatchContains,
			Category: "drugs", Severity: SeverityHigh, Enabled: true,
		},
		{
			ID: "drug_dealer", Pattern: "drug dealer", Kind: MatchFuzzy,
			Category: "drugs", Severity: SeverityHigh, Enabled: true,
		},
		{
			ID: "drug_molly", Pattern: "molly", Kind: MatchExact,
			Category: "drugs", Severity: SeverityHigh, Enabled: true,
			ContextTerms: []string{"roll", "party", "pills", "high"},
		},
		{
			ID: "drug_xanax", Pattern: "xanax", Kind: MatchFuzzy,
			Category: "drugs", Severity: SeverityHigh, Enabled: true,
			ContextTerms: []string{"bars", "buy", "get some"},
		},
		{
			ID: "pii_address", Pattern: `\d+\s+\w+\s+(street|st|avenue|ave|road|rd|drive|dr|lane|ln)`, Kind: MatchRegex,
			Category: "personal_info", Severity: SeverityHigh, Enabled: true,
		},
		{
			ID: "pii_phone", Pattern: `\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`, Kind: MatchRegex,
			Category: "personal_info", Severity: SeverityMedium, Enabled: true,
		},
		{
			ID: "pii_ssn", Pattern: `\b\d{3}-\d{2}-\d{4}\b`, Kind: MatchRegex,
			Category: "personal_info", Severity: SeverityCritical, Enabled: true,
		},
	}
}
