package doctor

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/klpod221/kerminal-sub000/internal/model"
)

type memStore struct {
	tunnels []model.TunnelConfig
	creds   map[string]model.Credential
}

func (m memStore) Tunnels() []model.TunnelConfig { return m.tunnels }

func (m memStore) Credential(profile string) (model.Credential, error) {
	c, ok := m.creds[profile]
	if !ok {
		return model.Credential{}, fmt.Errorf("credential profile %s: not found", profile)
	}
	return c, nil
}

func passwordProfile() map[string]model.Credential {
	return map[string]model.Credential{
		"prod": {Profile: "prod", Username: "deploy", Host: "bastion", AuthMethod: model.AuthPassword},
	}
}

func localTunnel(id string, port int) model.TunnelConfig {
	return model.TunnelConfig{
		ID: id, Name: id, Profile: "prod", Type: model.TunnelLocal,
		LocalPort: port, RemoteHost: "db", RemotePort: 5432,
	}
}

func TestRunCleanStore(t *testing.T) {
	st := memStore{tunnels: []model.TunnelConfig{localTunnel("a", 5432)}, creds: passwordProfile()}
	if rep := Run(st, ""); len(rep.Issues) != 0 {
		t.Fatalf("expected no issues, got %+v", rep.Issues)
	}
}

func TestRunFlagsInvalidAndMissingCredential(t *testing.T) {
	broken := localTunnel("broken", 8080)
	broken.RemoteHost = ""
	orphan := localTunnel("orphan", 8081)
	orphan.Profile = "nope"

	st := memStore{tunnels: []model.TunnelConfig{broken, orphan}, creds: passwordProfile()}
	rep := Run(st, "")

	checks := map[string]Severity{}
	for _, is := range rep.Issues {
		checks[is.Check] = is.Severity
	}
	if checks["config-invalid"] != SeverityHigh {
		t.Fatalf("missing config-invalid issue: %+v", rep.Issues)
	}
	if checks["credential-missing"] != SeverityHigh {
		t.Fatalf("missing credential-missing issue: %+v", rep.Issues)
	}
}

func TestRunFlagsDuplicateBindsAndPublicBind(t *testing.T) {
	a := localTunnel("a", 9000)
	b := localTunnel("b", 9000)
	pub := localTunnel("pub", 9001)
	pub.LocalHost = "0.0.0.0"

	st := memStore{tunnels: []model.TunnelConfig{a, b, pub}, creds: passwordProfile()}
	rep := Run(st, "")

	var dup, public bool
	for _, is := range rep.Issues {
		switch is.Check {
		case "duplicate-local-bind":
			dup = true
		case "public-bind":
			public = true
		}
	}
	if !dup || !public {
		t.Fatalf("expected duplicate-bind and public-bind issues, got %+v", rep.Issues)
	}

	// Issues are ordered by descending severity.
	for i := 1; i < len(rep.Issues); i++ {
		if severityRank(rep.Issues[i-1].Severity) < severityRank(rep.Issues[i].Severity) {
			t.Fatalf("issues not severity-ranked: %+v", rep.Issues)
		}
	}
}

func TestRunFlagsKeyAuthProfiles(t *testing.T) {
	creds := map[string]model.Credential{
		"prod": {Profile: "prod", Username: "deploy", Host: "bastion", AuthMethod: model.AuthKey},
	}
	st := memStore{tunnels: []model.TunnelConfig{localTunnel("a", 9100)}, creds: creds}
	rep := Run(st, "")
	if len(rep.Issues) != 1 || rep.Issues[0].Check != "credential-auth" {
		t.Fatalf("expected credential-auth issue, got %+v", rep.Issues)
	}
}

func TestRunFlagsLooseStorePermissions(t *testing.T) {
	dir := t.TempDir()
	if err := os.Chmod(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "tunnels.yaml")
	if err := os.WriteFile(path, []byte("tunnels: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	st := memStore{creds: passwordProfile()}
	rep := Run(st, path)
	if len(rep.Issues) != 1 {
		t.Fatalf("expected one permission issue, got %+v", rep.Issues)
	}
	is := rep.Issues[0]
	if is.Check != "file-permissions" || is.Severity != SeverityHigh || is.Target != path {
		t.Fatalf("unexpected issue: %+v", is)
	}

	if err := os.Chmod(path, 0o600); err != nil {
		t.Fatal(err)
	}
	if rep := Run(st, path); len(rep.Issues) != 0 {
		t.Fatalf("tightened store still flagged: %+v", rep.Issues)
	}
}

// A store that does not exist yet is not a finding; it appears on first write.
func TestMissingStoreFileSkipsPermissionCheck(t *testing.T) {
	st := memStore{creds: passwordProfile()}
	path := filepath.Join(t.TempDir(), "missing", "tunnels.yaml")
	if rep := Run(st, path); len(rep.Issues) != 0 {
		t.Fatalf("missing store flagged: %+v", rep.Issues)
	}
}

// Remote tunnels have no local listener and must not participate in
// duplicate-bind detection.
func TestRemoteTunnelsSkipBindChecks(t *testing.T) {
	rem := model.TunnelConfig{
		ID: "rem", Name: "rem", Profile: "prod", Type: model.TunnelRemote,
		LocalPort: 9000, RemoteHost: "0.0.0.0", RemotePort: 0,
	}
	loc := localTunnel("loc", 9000)

	st := memStore{tunnels: []model.TunnelConfig{rem, loc}, creds: passwordProfile()}
	for _, is := range Run(st, "").Issues {
		if is.Check == "duplicate-local-bind" {
			t.Fatalf("remote tunnel counted as local bind: %+v", is)
		}
	}
}
