// Package doctor runs local diagnostics over the tunnel store: definition
// problems that would only surface later as failed starts are reported up
// front, severity-ranked.
package doctor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klpod221/kerminal-sub000/internal/model"
	"github.com/klpod221/kerminal-sub000/internal/util"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Issue struct {
	Severity       Severity `json:"severity"`
	Check          string   `json:"check"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type Report struct {
	Issues []Issue `json:"issues"`
}

// Store is the read surface doctor needs from the tunnel store.
type Store interface {
	Tunnels() []model.TunnelConfig
	Credential(profile string) (model.Credential, error)
}

// Run executes local diagnostics against the store. storePath, when not
// empty, is the store file checked for permission posture; the file holds
// credential secrets, so anything broader than owner-only is flagged.
func Run(st Store, storePath string) Report {
	var issues []Issue
	defs := st.Tunnels()

	for _, cfg := range defs {
		if err := cfg.Validate(); err != nil {
			issues = append(issues, Issue{
				Severity:       SeverityHigh,
				Check:          "config-invalid",
				Target:         cfg.ID,
				Message:        err.Error(),
				Recommendation: "fix the tunnel definition; it will be rejected at start",
			})
			continue
		}

		cred, err := st.Credential(cfg.Profile)
		if err != nil {
			issues = append(issues, Issue{
				Severity:       SeverityHigh,
				Check:          "credential-missing",
				Target:         cfg.ID,
				Message:        err.Error(),
				Recommendation: "add the referenced credential profile to the store",
			})
			continue
		}
		if cred.AuthMethod != model.AuthPassword {
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "credential-auth",
				Target:         cfg.ID,
				Message:        fmt.Sprintf("profile %s uses %s auth", cred.Profile, cred.AuthMethod),
				Recommendation: "tunneling supports password profiles only; the tunnel will fail to start",
			})
		}

		bind := util.NormalizeAddr(cfg.LocalHost, "127.0.0.1")
		if bind == "0.0.0.0" || bind == "::" {
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "public-bind",
				Target:         cfg.ID,
				Message:        fmt.Sprintf("tunnel binds publicly on %s", bind),
				Recommendation: "bind to 127.0.0.1 unless other machines must reach this tunnel",
			})
		}
	}

	issues = append(issues, duplicateBindIssues(defs)...)
	if storePath != "" {
		issues = append(issues, permissionIssues(storePath)...)
	}

	sort.Slice(issues, func(i, j int) bool {
		ri := severityRank(issues[i].Severity)
		rj := severityRank(issues[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		if issues[i].Target != issues[j].Target {
			return issues[i].Target < issues[j].Target
		}
		return issues[i].Message < issues[j].Message
	})
	return Report{Issues: issues}
}

// duplicateBindIssues flags local binds claimed by more than one definition;
// starting the second tunnel would fail at listen time.
func duplicateBindIssues(defs []model.TunnelConfig) []Issue {
	seen := map[string][]string{}
	for _, cfg := range defs {
		if cfg.Type == model.TunnelRemote {
			continue // no local listener
		}
		key := util.HostPort(util.NormalizeAddr(cfg.LocalHost, "127.0.0.1"), cfg.LocalPort)
		seen[key] = append(seen[key], cfg.ID)
	}
	var issues []Issue
	for bind, ids := range seen {
		if len(ids) < 2 {
			continue
		}
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "duplicate-local-bind",
			Target:         bind,
			Message:        fmt.Sprintf("local bind is configured by %d tunnels", len(ids)),
			Recommendation: "use unique local ports per tunnel to avoid startup conflicts",
		})
	}
	return issues
}

// permissionIssues inspects the store file and its directory. The store
// carries credential secrets in the clear, so it gets the same posture an
// SSH private key would.
func permissionIssues(storePath string) []Issue {
	var issues []Issue
	checkPerm(&issues, filepath.Dir(storePath), 0o700, "directory")
	checkPerm(&issues, storePath, 0o600, "file")
	return issues
}

func checkPerm(issues *[]Issue, path string, max os.FileMode, kind string) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		*issues = append(*issues, Issue{
			Severity:       SeverityLow,
			Check:          "file-permissions",
			Target:         path,
			Message:        fmt.Sprintf("unable to inspect permissions: %v", err),
			Recommendation: "verify path and permissions manually",
		})
		return
	}
	mode := st.Mode().Perm()
	if mode > max {
		*issues = append(*issues, Issue{
			Severity:       SeverityHigh,
			Check:          "file-permissions",
			Target:         path,
			Message:        fmt.Sprintf("%s permissions are too broad (%#o); the store holds secrets", kind, mode),
			Recommendation: fmt.Sprintf("restrict permissions to %#o or tighter", max),
		})
	}
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}
