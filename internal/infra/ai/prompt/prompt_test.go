package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThreatModelUserPrompt(t *testing.T) {
	p := GetThreatModelUserPrompt(ProjectContext{
		Readme:        strings.Repeat("x", maxReadme+10),
		PackageJSON:   map[string]any{"name": "shop", "dependencies": map[string]any{"express": "^4.18.0"}},
		Structure:     map[string]any{"src": map[string]any{"index.js": "file"}},
		SecurityFiles: []SecurityFile{{Name: "Dockerfile", Facts: map[string]any{"baseImage": "node:18"}}},
		ExposedPorts:  []string{"3000", "9229"},
	})

	assert.Contains(t, p, "[truncated]")
	assert.Contains(t, p, `"express": "^4.18.0"`)
	assert.Contains(t, p, `"baseImage": "node:18"`)
	assert.Contains(t, p, "3000, 9229")
}

func TestExploitabilityUserPrompt(t *testing.T) {
	p := GetExploitabilityUserPrompt("# TM", []map[string]string{{"packageName": "lodash"}}, nil)

	assert.Contains(t, p, "# TM")
	assert.Contains(t, p, `"packageName": "lodash"`)
	assert.Contains(t, GetExploitabilitySystemPrompt(), `"assessments"`)
}
