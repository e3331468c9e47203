package privacy

// DefaultRules masks contact details, identity and card numbers, and
// credentials. Order matters only for reporting; overlapping matches are
// merged.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "email",
			Description: "Email address",
			Pattern:     `[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
			Replacement: "[EMAIL]",
		},
		{
			ID:          "national-id",
			Description: "18-digit resident identity number",
			Pattern:     `\b[1-9]\d{5}(?:18|19|20)\d{2}(?:0[1-9]|1[0-2])(?:0[1-9]|[12]\d|3[01])\d{3}[\dXx]\b`,
			Replacement: "[ID]",
		},
		{
			ID:          "bank-card",
			Description: "Bank card number",
			Pattern:     `\b\d{4}[ \-]?\d{4}[ \-]?\d{4}[ \-]?\d{4}(?:\d{1,3})?\b`,
			Replacement: "[CARD]",
		},
		{
			ID:          "mobile-phone",
			Description: "Mobile phone number",
			Pattern:     `(?:\+?86[ \-]?)?\b1[3-9]\d{9}\b`,
			Replacement: "[PHONE]",
		},
		{
			ID:          "intl-phone",
			Description: "International phone number",
			Pattern:     `\+\d{1,3}[ \-]?\(?\d{1,4}\)?(?:[ \-]?\d{2,4}){2,4}`,
			Replacement: "[PHONE]",
		},
		{
			ID:          "anthropic-key",
			Description: "Anthropic API key",
			Pattern:     `sk-ant-[A-Za-z0-9_\-]{20,}`,
			Replacement: "[API_KEY]",
		},
		{
			ID:          "openai-key",
			Description: "OpenAI-style API key",
			Pattern:     `\bsk-[A-Za-z0-9]{20,}\b`,
			Replacement: "[API_KEY]",
		},
		{
			ID:          "generic-api-key",
			Description: "Key or token assignment",
			Pattern:     `(?i)(?:api[_-]?key|apikey|token|secret|password)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{8,}['"]?`,
			Replacement: "[API_KEY]",
		},
	}
}
