package sanitize

// DefaultPatterns is the fixed detection catalogue. Tokens are compared
// against the lowercased token stream, so entries are all lowercase.
//
// Severity and weight calibration: critical ⇒ unambiguous attack phrasing,
// high ⇒ strong signal that still has rare benign uses, medium/low ⇒
// scoring signal only, never blocks on its own.
func DefaultPatterns() []Pattern {
	return []Pattern{
		// --- instruction_override ---
		{
			Name:        "ignore_previous_instructions",
			Tokens:      []string{"ignore", "all", "previous", "instructions"},
			Mode:        ModeExact,
			Category:    CatInstructionOverride,
			Severity:    SeverityHigh,
			Weight:      0.9,
			ShouldBlock: true,
		},
		{
			Name:        "ignore_prior_instructions",
			Tokens:      []string{"ignore", "previous", "instructions"},
			Mode:        ModeExact,
			Category:    CatInstructionOverride,
			Severity:    SeverityHigh,
			Weight:      0.9,
			ShouldBlock: true,
		},
		{
			Name:        "disregard_instructions",
			Tokens:      []string{"disregard", "your", "instructions"},
			Mode:        ModeExact,
			Category:    CatInstructionOverride,
			Severity:    SeverityHigh,
			Weight:      0.85,
			ShouldBlock: true,
		},
		{
			Name:        "forget_everything",
			Tokens:      []string{"forget", "everything", "above"},
			Mode:        ModeExact,
			Category:    CatInstructionOverride,
			Severity:    SeverityHigh,
			Weight:      0.8,
			ShouldBlock: true,
		},
		{
			Name:        "new_instructions_follow",
			Tokens:      []string{"your", "new", "instructions"},
			Mode:        ModeExact,
			Category:    CatInstructionOverride,
			Severity:    SeverityMedium,
			Weight:      0.5,
			ShouldBlock: false,
		},

		// --- role_manipulation ---
		{
			Name:        "you_are_now",
			Tokens:      []string{"you", "are", "now", "a"},
			Mode:        ModeExact,
			Category:    CatRoleManipulation,
			Severity:    SeverityMedium,
			Weight:      0.5,
			ShouldBlock: false,
		},
		{
			Name:        "act_as_unrestricted",
			Tokens:      []string{"act", "as", "an", "unrestricted"},
			Mode:        ModeExact,
			Category:    CatRoleManipulation,
			Severity:    SeverityHigh,
			Weight:      0.8,
			ShouldBlock: true,
		},
		{
			Name:        "pretend_no_rules",
			Tokens:      []string{"pretend", "you", "have", "no"},
			Mode:        ModeExact,
			Category:    CatRoleManipulation,
			Severity:    SeverityHigh,
			Weight:      0.75,
			ShouldBlock: true,
		},
		{
			Name:        "roleplay_as_system",
			Tokens:      []string{"roleplay", "as", "the", "system"},
			Mode:        ModeExact,
			Category:    CatRoleManipulation,
			Severity:    SeverityMedium,
			Weight:      0.5,
			ShouldBlock: false,
		},

		// --- system_injection ---
		{
			Name:        "system_tag",
			Tokens:      []string{"system"},
			Mode:        ModePrefix,
			Category:    CatSystemInjection,
			Severity:    SeverityLow,
			Weight:      0.1,
			ShouldBlock: false,
		},
		{
			Name:        "system_colon_override",
			Tokens:      []string{"system", "override"},
			Mode:        ModeExact,
			Category:    CatSystemInjection,
			Severity:    SeverityCritical,
			Weight:      1.0,
			ShouldBlock: true,
		},
		{
			Name:        "inst_marker",
			Tokens:      []string{"inst"},
			Mode:        ModeExact,
			Category:    CatSystemInjection,
			Severity:    SeverityMedium,
			Weight:      0.4,
			ShouldBlock: false,
		},
		{
			Name:        "im_start_marker",
			Tokens:      []string{"im_start"},
			Mode:        ModeContains,
			Category:    CatSystemInjection,
			Severity:    SeverityCritical,
			Weight:      1.0,
			ShouldBlock: true,
		},

		// --- jailbreak ---
		{
			Name:        "dan_mode",
			Tokens:      []string{"dan", "mode"},
			Mode:        ModeExact,
			Category:    CatJailbreak,
			Severity:    SeverityHigh,
			Weight:      0.8,
			ShouldBlock: true,
		},
		{
			Name:        "developer_mode",
			Tokens:      []string{"developer", "mode", "enabled"},
			Mode:        ModeExact,
			Category:    CatJailbreak,
			Severity:    SeverityHigh,
			Weight:      0.8,
			ShouldBlock: true,
		},
		{
			Name:        "without_restrictions",
			Tokens:      []string{"without", "any", "restrictions"},
			Mode:        ModeExact,
			Category:    CatJailbreak,
			Severity:    SeverityMedium,
			Weight:      0.5,
			ShouldBlock: false,
		},
		{
			Name:        "bypass_safety",
			Tokens:      []string{"bypass", "your", "safety"},
			Mode:        ModeExact,
			Category:    CatJailbreak,
			Severity:    SeverityCritical,
			Weight:      1.0,
			ShouldBlock: true,
		},

		// --- data_exfiltration ---
		{
			Name:        "print_env",
			Tokens:      []string{"print", "your", "environment"},
			Mode:        ModeExact,
			Category:    CatDataExfiltration,
			Severity:    SeverityHigh,
			Weight:      0.8,
			ShouldBlock: true,
		},
		{
			Name:        "reveal_api_key",
			Tokens:      []string{"reveal", "your", "api"},
			Mode:        ModeExact,
			Category:    CatDataExfiltration,
			Severity:    SeverityCritical,
			Weight:      1.0,
			ShouldBlock: true,
		},
		{
			Name:        "show_credentials",
			Tokens:      []string{"show", "me", "your", "credentials"},
			Mode:        ModeExact,
			Category:    CatDataExfiltration,
			Severity:    SeverityCritical,
			Weight:      1.0,
			ShouldBlock: true,
		},
		{
			Name:        "exfil_url_prefix",
			Tokens:      []string{"curl", "http"},
			Mode:        ModePrefix,
			Category:    CatDataExfiltration,
			Severity:    SeverityMedium,
			Weight:      0.4,
			ShouldBlock: false,
		},

		// --- prompt_leaking ---
		{
			Name:        "reveal_system_prompt",
			Tokens:      []string{"reveal", "your", "system", "prompt"},
			Mode:        ModeExact,
			Category:    CatPromptLeaking,
			Severity:    SeverityHigh,
			Weight:      0.9,
			ShouldBlock: true,
		},
		{
			Name:        "show_system_prompt",
			Tokens:      []string{"show", "your", "system", "prompt"},
			Mode:        ModeExact,
			Category:    CatPromptLeaking,
			Severity:    SeverityHigh,
			Weight:      0.9,
			ShouldBlock: true,
		},
		{
			Name:        "repeat_above_verbatim",
			Tokens:      []string{"repeat", "everything", "above"},
			Mode:        ModeExact,
			Category:    CatPromptLeaking,
			Severity:    SeverityHigh,
			Weight:      0.8,
			ShouldBlock: true,
		},
		{
			Name:        "what_are_your_instructions",
			Tokens:      []string{"what", "are", "your", "instructions"},
			Mode:        ModeExact,
			Category:    CatPromptLeaking,
			Severity:    SeverityMedium,
			Weight:      0.4,
			ShouldBlock: false,
		},

		// --- resource_fabrication ---
		{
			Name:        "cite_fake_source",
			Tokens:      []string{"pretend", "this", "source", "exists"},
			Mode:        ModeExact,
			Category:    CatResourceFabrication,
			Severity:    SeverityHigh,
			Weight:      0.7,
			ShouldBlock: true,
		},
		{
			Name:        "invent_statistics",
			Tokens:      []string{"make", "up", "statistics"},
			Mode:        ModeExact,
			Category:    CatResourceFabrication,
			Severity:    SeverityMedium,
			Weight:      0.5,
			ShouldBlock: false,
		},
		{
			Name:        "fabricate_price",
			Tokens:      []string{"invent", "a", "price"},
			Mode:        ModeExact,
			Category:    CatResourceFabrication,
			Severity:    SeverityHigh,
			Weight:      0.7,
			ShouldBlock: true,
		},
	}
}
