package analysis

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// RepoRef is a validated repository reference.
type RepoRef struct {
	Host  string `json:"host"`
	Owner string `json:"owner"`
	Name  string `json:"name"`
	URL   string `json:"url"`
}

// CloneURL returns the https clone URL for the reference.
func (r RepoRef) CloneURL() string {
	return "https://" + r.Host + "/" + r.Owner + "/" + r.Name + ".git"
}

// FullName returns "owner/name".
func (r RepoRef) FullName() string {
	return r.Owner + "/" + r.Name
}

const segment = `[\w.-]+`

// RefParser validates repository references against a fixed host allowlist.
type RefParser struct {
	pattern *regexp.Regexp
}

// NewRefParser builds a parser accepting https?://<host>/<owner>/<name>[.git][/]
// for each host in hosts. With no hosts it defaults to github.com.
func NewRefParser(hosts ...string) *RefParser {
	if len(hosts) == 0 {
		hosts = []string{"github.com"}
	}
	quoted := make([]string, 0, len(hosts))
	for _, h := range hosts {
		quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(h)))
	}
	expr := `^https?://(` + strings.Join(quoted, "|") + `)/(` + segment + `)/(` + segment + `?)(?:\.git)?/?$`
	return &RefParser{pattern: regexp.MustCompile(expr)}
}

// Parse validates raw and splits it into host/owner/name. It never touches the
// filesystem or network.
func (p *RefParser) Parse(raw string) (RepoRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return RepoRef{}, ErrMissingReference
	}
	m := p.pattern.FindStringSubmatch(raw)
	if m == nil {
		return RepoRef{}, errors.Wrapf(ErrInvalidReference, "%q does not match https://<host>/<owner>/<repository>", raw)
	}
	host, owner, name := m[1], m[2], strings.TrimSuffix(m[3], ".git")
	if name == "" || isDots(owner) || isDots(name) {
		return RepoRef{}, errors.Wrapf(ErrInvalidReference, "%q has an invalid owner or repository name", raw)
	}
	return RepoRef{Host: host, Owner: owner, Name: name, URL: raw}, nil
}

func isDots(s string) bool {
	return strings.Trim(s, ".") == ""
}

// Workspace is the isolated per-run directory. It is owned by exactly one run.
type Workspace struct {
	RunID     string    `json:"run_id"`
	Ref       RepoRef   `json:"repository"`
	RootPath  string    `json:"root_path"`
	CreatedAt time.Time `json:"created_at"`
}

// SourceDir is where the fetched project tree lives.
func (w *Workspace) SourceDir() string {
	return filepath.Join(w.RootPath, "src")
}

// ArtifactDir is where stage artifacts are persisted.
func (w *Workspace) ArtifactDir() string {
	return filepath.Join(w.RootPath, "artifacts")
}

// ScratchDir is a private working directory for one stage. SourceDir is
// shared between concurrent stages and must stay read-only.
func (w *Workspace) ScratchDir(stage StageName) string {
	return filepath.Join(w.RootPath, "scratch", string(stage))
}
