package threatmodel

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/bryanwahyu/vulnrisk/internal/infra/ai/prompt"
)

const (
	structureDepth  = 2
	maxStructureLen = 300
)

var (
	portInScript  = regexp.MustCompile(`(?i)port\s*=?\s*(\d+)`)
	dockerFrom    = regexp.MustCompile(`(?mi)^FROM\s+(\S+)`)
	dockerExpose  = regexp.MustCompile(`(?mi)^EXPOSE\s+(.+)$`)
	sensitiveVar  = regexp.MustCompile(`(?i)PASSWORD|SECRET|KEY|TOKEN`)
	ciTests       = regexp.MustCompile(`(?i)\b(test|jest|mocha|cypress|vitest)\b`)
	ciSecurity    = regexp.MustCompile(`(?i)\b(snyk|sonar|dependabot|codeql|security|audit)\b`)
	skippedOnWalk = map[string]bool{"node_modules": true}
)

// Collect gathers the project facts the threat model prompt needs. Only
// package.json is required; every other source is optional.
func Collect(dir string) (prompt.ProjectContext, error) {
	var pc prompt.ProjectContext

	raw, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return pc, errors.Wrap(err, "read package.json")
	}
	if err := json.Unmarshal(raw, &pc.PackageJSON); err != nil {
		return pc, errors.Wrap(err, "decode package.json")
	}

	pc.Readme = readme(dir)
	budget := maxStructureLen
	pc.Structure = structure(dir, structureDepth, &budget)
	pc.SecurityFiles = securityFiles(dir)
	pc.ExposedPorts = exposedPorts(pc.PackageJSON, pc.SecurityFiles)
	return pc, nil
}

func readme(dir string) string {
	for _, name := range []string{"README.md", "readme.md", "Readme.md", "README"} {
		if b, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
			return string(b)
		}
	}
	return ""
}

func structure(dir string, depth int, budget *int) map[string]any {
	out := map[string]any{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if *budget <= 0 {
			out["..."] = "truncated"
			break
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || skippedOnWalk[name] {
			continue
		}
		*budget--
		switch {
		case e.IsDir() && depth > 0:
			out[name] = structure(filepath.Join(dir, name), depth-1, budget)
		case e.IsDir():
			out[name] = "dir"
		case e.Type().IsRegular():
			out[name] = "file"
		}
	}
	return out
}

func securityFiles(dir string) []prompt.SecurityFile {
	var files []prompt.SecurityFile

	if b, name, ok := readCaseless(dir, "dockerfile"); ok {
		facts := map[string]any{}
		if m := dockerFrom.FindStringSubmatch(b); m != nil {
			facts["baseImage"] = m[1]
		}
		var ports []string
		for _, m := range dockerExpose.FindAllStringSubmatch(b, -1) {
			ports = append(ports, strings.Fields(m[1])...)
		}
		if len(ports) > 0 {
			facts["exposedPorts"] = ports
		}
		files = append(files, prompt.SecurityFile{Name: name, Facts: facts})
	}

	for _, name := range []string{"docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml"} {
		if b, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
			files = append(files, prompt.SecurityFile{Name: name, Facts: composeFacts(b)})
			break
		}
	}

	if b, err := os.ReadFile(filepath.Join(dir, ".env.example")); err == nil {
		files = append(files, prompt.SecurityFile{Name: ".env.example", Facts: map[string]any{
			"sensitiveVars": len(sensitiveVar.FindAllString(string(b), -1)),
		}})
	}

	if b, err := os.ReadFile(filepath.Join(dir, ".npmrc")); err == nil {
		s := string(b)
		files = append(files, prompt.SecurityFile{Name: ".npmrc", Facts: map[string]any{
			"hasRegistry": strings.Contains(s, "registry="),
			"hasToken":    strings.Contains(s, "_authToken="),
		}})
	}

	if b, err := os.ReadFile(filepath.Join(dir, ".gitlab-ci.yml")); err == nil {
		files = append(files, prompt.SecurityFile{Name: ".gitlab-ci.yml", Facts: ciFacts(string(b))})
	}

	if workflows := readDir(filepath.Join(dir, ".github", "workflows")); workflows != "" {
		files = append(files, prompt.SecurityFile{Name: ".github/workflows", Facts: ciFacts(workflows)})
	}
	return files
}

type composeFile struct {
	Services map[string]struct {
		Image   string `yaml:"image"`
		Ports   []any  `yaml:"ports"`
		Volumes []any  `yaml:"volumes"`
	} `yaml:"services"`
}

func composeFacts(b []byte) map[string]any {
	var cf composeFile
	if err := yaml.Unmarshal(b, &cf); err != nil {
		return map[string]any{"parseError": err.Error()}
	}
	names := make([]string, 0, len(cf.Services))
	var ports []string
	volumes := 0
	for name, svc := range cf.Services {
		names = append(names, name)
		for _, p := range svc.Ports {
			switch v := p.(type) {
			case string:
				ports = append(ports, v)
			case int:
				ports = append(ports, strconv.Itoa(v))
			case map[string]any:
				if pub, ok := v["published"]; ok {
					ports = append(ports, fmt.Sprint(pub))
				}
			}
		}
		volumes += len(svc.Volumes)
	}
	sort.Strings(names)
	sort.Strings(ports)
	return map[string]any{"services": names, "ports": ports, "volumes": volumes}
}

func ciFacts(s string) map[string]any {
	return map[string]any{
		"hasTests":         ciTests.MatchString(s),
		"hasSecurityScans": ciSecurity.MatchString(s),
	}
}

func exposedPorts(pkg map[string]any, files []prompt.SecurityFile) []string {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	if scripts, ok := pkg["scripts"].(map[string]any); ok {
		keys := make([]string, 0, len(scripts))
		for k := range scripts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			cmd, _ := scripts[k].(string)
			for _, m := range portInScript.FindAllStringSubmatch(cmd, -1) {
				add(m[1])
			}
		}
	}
	for _, f := range files {
		if ports, ok := f.Facts["exposedPorts"].([]string); ok {
			for _, p := range ports {
				add(strings.SplitN(p, "/", 2)[0])
			}
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func readCaseless(dir, want string) (string, string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", false
	}
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(e.Name(), want) {
			b, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return "", "", false
			}
			return string(b), e.Name(), true
		}
	}
	return "", "", false
}

// readDir concatenates the regular files of dir.
func readDir(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if data, err := os.ReadFile(filepath.Join(dir, e.Name())); err == nil {
			b.Write(data)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
