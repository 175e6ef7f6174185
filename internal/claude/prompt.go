package claude

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SystemPrompt renders the market-research analyst prompt around the
// company profile the agent works for.
func SystemPrompt(companyInfo string) string {
	var sb strings.Builder
	sb.WriteString(`You are an expert market research analyst working for a company to help them analyze the market they operate in and analyze their competitors in order to strategize on the direction they should take.
Use markdown formatting to make your responses more readable.
When you need to reason before answering, wrap that reasoning in <thinking></thinking> tags.`)
	if companyInfo != "" {
		sb.WriteString("\n\n# Your Company Information\n")
		sb.WriteString(companyInfo)
	}
	return sb.String()
}

// CompanyInfo formats the company_information parameter for the prompt.
// Strings pass through; structured values are rendered as indented JSON.
func CompanyInfo(v any) string {
	switch info := v.(type) {
	case nil:
		return ""
	case string:
		return info
	case fmt.Stringer:
		return info.String()
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
