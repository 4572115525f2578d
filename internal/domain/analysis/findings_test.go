package analysis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const auditSample = `{
  "auditReportVersion": 2,
  "vulnerabilities": {
    "minimist": {
      "name": "minimist",
      "severity": "critical",
      "isDirect": false,
      "via": [{"source": 1096, "name": "minimist", "title": "Prototype Pollution", "url": "https://github.com/advisories/GHSA-xvch-5gv4-984h", "severity": "critical", "cwe": ["CWE-1321"], "range": "<0.2.4"}],
      "effects": ["mkdirp"],
      "range": "<0.2.4",
      "nodes": ["node_modules/minimist"],
      "fixAvailable": true
    },
    "mkdirp": {
      "name": "mkdirp",
      "severity": "critical",
      "isDirect": true,
      "via": ["minimist"],
      "effects": [],
      "range": "0.4.1 - 0.5.1",
      "nodes": ["node_modules/mkdirp"],
      "fixAvailable": {"name": "mkdirp", "version": "0.5.6"}
    }
  },
  "metadata": {"vulnerabilities": {"critical": 2, "total": 2}}
}`

func TestAuditReport_DecodesBothViaForms(t *testing.T) {
	var r AuditReport
	require.NoError(t, json.Unmarshal([]byte(auditSample), &r))

	require.Len(t, r.Vulnerabilities, 2)
	m := r.Vulnerabilities["minimist"]
	assert.Equal(t, []string{"https://github.com/advisories/GHSA-xvch-5gv4-984h"}, m.AdvisoryURLs())
	assert.Equal(t, []string{"CWE-1321"}, m.Via[0].CWE)

	d := r.Vulnerabilities["mkdirp"]
	require.Len(t, d.Via, 1)
	assert.Equal(t, "minimist", d.Via[0].Package)
	assert.Empty(t, d.AdvisoryURLs())

	out, err := json.Marshal(d.Via)
	require.NoError(t, err)
	assert.JSONEq(t, `["minimist"]`, string(out))
}

func TestIsHighSeverity(t *testing.T) {
	assert.True(t, IsHighSeverity("HIGH"))
	assert.True(t, IsHighSeverity("critical"))
	assert.False(t, IsHighSeverity("moderate"))
	assert.False(t, IsHighSeverity(""))
}

func TestParseFinalReport(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"bare array", `[{"packageName":"a","vulnerability":{"summary":"s","isExploitable":true}}]`, 1},
		{"fenced", "```json\n[{\"packageName\":\"a\"},{\"packageName\":\"b\"}]\n```", 2},
		{"wrapped assessments", `{"assessments":[{"packageName":"a"}]}`, 1},
		{"wrapped vulnerabilities", `{"vulnerabilities":[]}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFinalReport([]byte(tt.in))
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
			for _, v := range got {
				assert.True(t, v.Assessed)
			}
		})
	}
}

func TestParseFinalReport_Rejects(t *testing.T) {
	for _, in := range []string{`not json`, `{"summary":"nothing here"}`, ``} {
		_, err := ParseFinalReport([]byte(in))
		assert.Error(t, err, in)
	}
}

func TestSeverityCounts_Add(t *testing.T) {
	var c SeverityCounts
	for _, s := range []string{"critical", "HIGH", "moderate", "medium", "low", "info", "unknown"} {
		c.Add(s)
	}
	assert.Equal(t, SeverityCounts{Critical: 1, High: 1, Medium: 2, Low: 2, Total: 7}, c)
}
