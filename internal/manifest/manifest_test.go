package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dokzlo13/converge/internal/reconcile"
)

func TestParse(t *testing.T) {
	t.Setenv("CONVERGE_WEB_PORT", "8080")

	batch, err := Parse([]byte(`
resources:
  web:
    should:
      presence: present
      port: ${CONVERGE_WEB_PORT}
      tags: [a, b]
  old-api:
    is: {presence: PRESENT}
  empty-is:
    is: {}
    should: {presence: absent}
  bare:
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(batch) != 4 {
		t.Fatalf("batch has %d resources, want 4", len(batch))
	}

	web := batch["web"]
	if web.Is != nil {
		t.Errorf("web.Is = %v, want nil", web.Is)
	}
	if web.Should.Presence() != reconcile.Present || web.Should["port"] != 8080 {
		t.Errorf("web.Should = %v", web.Should)
	}

	old := batch["old-api"]
	if old.Is.Presence() != reconcile.Present || old.Should != nil {
		t.Errorf("old-api = %+v", old)
	}

	empty := batch["empty-is"]
	if empty.Is == nil || len(empty.Is) != 0 {
		t.Errorf("empty-is.Is = %#v, want non-nil empty state", empty.Is)
	}

	if bare := batch["bare"]; bare.Is != nil || bare.Should != nil {
		t.Errorf("bare = %+v, want zero diff", bare)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("resources: [1, 2]")); err == nil {
		t.Errorf("Parse() of list expected error")
	}
	if _, err := Parse([]byte(`resources: {"": {}}`)); err == nil {
		t.Errorf("Parse() with empty name expected error")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resources.yaml")
	if err := os.WriteFile(path, []byte("resources:\n  a:\n    should: {presence: present}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	batch, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if batch["a"].Should.Presence() != reconcile.Present {
		t.Errorf("batch = %v", batch)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Errorf("Load() of missing file expected error")
	}
}
