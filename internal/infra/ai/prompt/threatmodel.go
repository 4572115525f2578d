package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxReadme bounds how much README text goes into the prompt.
const maxReadme = 8000

// ProjectContext is the metadata the threat model is generated from.
type ProjectContext struct {
	Readme        string         `json:"-"`
	PackageJSON   map[string]any `json:"packageJson"`
	Structure     map[string]any `json:"structure"`
	SecurityFiles []SecurityFile `json:"securityFiles"`
	ExposedPorts  []string       `json:"exposedPorts"`
}

// SecurityFile summarizes one deployment or CI file found in the project.
type SecurityFile struct {
	Name  string         `json:"name"`
	Facts map[string]any `json:"facts,omitempty"`
}

// GetThreatModelSystemPrompt sets the role for threat model generation.
func GetThreatModelSystemPrompt() string {
	return `You are a senior application security engineer. You write concise threat models in Markdown that another engineer will later use to judge whether vulnerabilities in the project's npm dependencies are exploitable in this specific project.`
}

// GetThreatModelUserPrompt renders the project metadata into the request.
func GetThreatModelUserPrompt(pc ProjectContext) string {
	readme := pc.Readme
	if len(readme) > maxReadme {
		readme = readme[:maxReadme] + "\n[truncated]"
	}

	var b strings.Builder
	b.WriteString(`Analyze the following project metadata and create a threat model which will serve as context for assessing the risk of vulnerabilities identified by an npm audit scan.
Later in this workflow the audit results are enriched with advisory data and a security engineer assesses each vulnerability against this threat model.

README:
`)
	b.WriteString(readme)
	fmt.Fprintf(&b, "\n\npackage.json:\n%s\n", indent(pc.PackageJSON))
	fmt.Fprintf(&b, "\nDirectory structure:\n%s\n", indent(pc.Structure))
	fmt.Fprintf(&b, "\nSecurity-related files:\n%s\n", indent(pc.SecurityFiles))
	fmt.Fprintf(&b, "\nExposed ports:\n%s\n", strings.Join(pc.ExposedPorts, ", "))
	b.WriteString(`
Focus on:
1. Common web vulnerability classes applicable to this project
2. Application-specific attack vectors
3. Conditions required for exploitation
4. Severity levels
5. Recommended mitigations

The threat model must include:
- a summary of the project's purpose and architecture
- every dependency (including devDependencies) and its role in the project
- the exposed ports and network surface
- the security-related files and what they reveal
- anything else that helps assess the risk of vulnerable dependencies`)
	return b.String()
}

func indent(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
