package group

import (
	"testing"
)

func TestCreateGetDelete(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := Create("staging", []string{"db", "redis"}); err != nil {
		t.Fatal(err)
	}

	g, err := Get("staging")
	if err != nil {
		t.Fatal(err)
	}
	if len(g.TunnelIDs) != 2 || g.TunnelIDs[0] != "db" || g.TunnelIDs[1] != "redis" {
		t.Fatalf("unexpected group: %+v", g)
	}

	if err := Delete("staging"); err != nil {
		t.Fatal(err)
	}
	if _, err := Get("staging"); err == nil {
		t.Fatal("expected error after delete")
	}
}

func TestCreateReplacesExisting(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := Create("g", []string{"a"}); err != nil {
		t.Fatal(err)
	}
	if err := Create("g", []string{"b", "c"}); err != nil {
		t.Fatal(err)
	}

	g, err := Get("g")
	if err != nil {
		t.Fatal(err)
	}
	if len(g.TunnelIDs) != 2 || g.TunnelIDs[0] != "b" {
		t.Fatalf("group not replaced: %+v", g)
	}
}

func TestCreateRejectsEmptyInput(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := Create("  ", []string{"a"}); err == nil {
		t.Fatal("expected error for blank name")
	}
	if err := Create("g", nil); err == nil {
		t.Fatal("expected error for empty id list")
	}
	if err := Create("g", []string{"a", " "}); err == nil {
		t.Fatal("expected error for blank tunnel id")
	}
}

func TestLoadAllSorted(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := Create(name, []string{"x"}); err != nil {
			t.Fatal(err)
		}
	}
	all, err := LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Name != "alpha" || all[2].Name != "zeta" {
		t.Fatalf("not sorted: %+v", all)
	}
}

func TestDeleteUnknownGroup(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := Delete("nope"); err == nil {
		t.Fatal("expected error for unknown group")
	}
}
