package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klpod221/kerminal-sub000/internal/model"
	"github.com/klpod221/kerminal-sub000/internal/store"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	return cmd.Execute()
}

func writeSSHConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ssh_config")
	content := "Host bastion\n    HostName bastion.example.com\n    User deploy\n    LocalForward 5432 db:5432\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportDryRunLeavesStoreUntouched(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	sshCfg := writeSSHConfig(t)

	if err := run(t, "import", "--file", sshCfg, "--dry-run"); err != nil {
		t.Fatal(err)
	}
	storeFile := filepath.Join(dir, "kerminal-tunnel", "tunnels.yaml")
	if _, err := os.Stat(storeFile); !os.IsNotExist(err) {
		t.Fatalf("dry run wrote the store: %v", err)
	}
}

func TestImportMergesIntoStore(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	sshCfg := writeSSHConfig(t)

	if err := run(t, "import", "--file", sshCfg); err != nil {
		t.Fatal(err)
	}

	st, err := store.Open(filepath.Join(dir, "kerminal-tunnel", "tunnels.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	tc, err := st.Tunnel("bastion-local-5432")
	if err != nil {
		t.Fatal(err)
	}
	if tc.Type != model.TunnelLocal || tc.Profile != "bastion" {
		t.Fatalf("unexpected imported tunnel: %+v", tc)
	}
	if _, err := st.Credential("bastion"); err != nil {
		t.Fatal(err)
	}
}

func TestGroupCreateRejectsUnknownTunnel(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := run(t, "group", "create", "staging", "nope"); err == nil {
		t.Fatal("expected error for unknown tunnel id")
	}
}

func TestGroupCreateAcceptsKnownTunnels(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	storeFile := filepath.Join(dir, "kerminal-tunnel", "tunnels.yaml")
	err := store.Merge(storeFile, []model.TunnelConfig{
		{ID: "db", Name: "db", Profile: "p", Type: model.TunnelDynamic, LocalPort: 1080},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := run(t, "group", "create", "staging", "db"); err != nil {
		t.Fatal(err)
	}
	if err := run(t, "group", "list"); err != nil {
		t.Fatal(err)
	}
	if err := run(t, "group", "delete", "staging"); err != nil {
		t.Fatal(err)
	}
}

func TestDoctorExitsNonZeroOnHighSeverity(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	storeFile := filepath.Join(dir, "kerminal-tunnel", "tunnels.yaml")
	// Local forward without a remote endpoint fails validation.
	err := store.Merge(storeFile, []model.TunnelConfig{
		{ID: "broken", Name: "broken", Profile: "p", Type: model.TunnelLocal, LocalPort: 8080},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := run(t, "doctor"); err == nil {
		t.Fatal("expected doctor to fail on a high severity issue")
	}
}

func TestDoctorCleanStore(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := run(t, "doctor"); err != nil {
		t.Fatal(err)
	}
}
