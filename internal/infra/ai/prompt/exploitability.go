package prompt

import (
	"fmt"
)

// GetExploitabilitySystemPrompt provides strict directions and schema for the
// exploitability assessment.
func GetExploitabilitySystemPrompt() string {
	return `You are a security engineer assessing the exploitability of vulnerabilities in the context of a threat model. You must produce one valid JSON object only (no markdown, no commentary, no code fences).

Requirements:
- The object has a single key "assessments" holding an array with one item per vulnerability you were given.
- contextualRiskLevel is one of: critical, high, medium, low.
- isExploitable is a boolean.
- Keep reasoning specific to this project; say so when the threat model lacks information.

Schema (example with empty values):
{
  "assessments": [
    {
      "packageName": "<string>",
      "vulnerability": {
        "summary": "<string>",
        "isExploitable": false,
        "exploitabilityReasoning": "<string>",
        "requiredConditions": ["<string>"],
        "contextualRiskLevel": "<critical|high|medium|low>",
        "recommendedMitigations": ["<string>"]
      }
    }
  ]
}`
}

// GetExploitabilityUserPrompt builds the request around the threat model, the
// high-severity findings and the audit context.
func GetExploitabilityUserPrompt(threatModel string, findings, auditContext any) string {
	return fmt.Sprintf(`For each vulnerability below assess:
1. Is it exploitable in this project's context? Why or why not?
2. Which specific conditions would be required for exploitation?
3. How does the threat model change the risk level?
4. Which mitigations do you recommend?

Threat model:
%s

Vulnerabilities to assess:
%s

npm audit context:
%s`, threatModel, indent(findings), indent(auditContext))
}
