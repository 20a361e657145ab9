package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dokzlo13/converge/internal/db"
	"github.com/dokzlo13/converge/internal/reconcile"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "state.sqlite"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database.DB)
}

func TestStore_Lifecycle(t *testing.T) {
	s := openStore(t)

	if _, err := s.Get("svc", "web"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() on empty store error = %v, want ErrNotFound", err)
	}

	if err := s.Insert("svc", "web", []byte(`{"port":80}`)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := s.Insert("svc", "web", []byte(`{}`)); !errors.Is(err, ErrExists) {
		t.Errorf("second Insert() error = %v, want ErrExists", err)
	}

	rec, err := s.Get("svc", "web")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Version != 1 || string(rec.Payload) != `{"port":80}` {
		t.Errorf("record = v%d %s", rec.Version, rec.Payload)
	}

	if err := s.Update("svc", "web", []byte(`{"port":8080}`)); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	rec, _ = s.Get("svc", "web")
	if rec.Version != 2 || string(rec.Payload) != `{"port":8080}` {
		t.Errorf("record after update = v%d %s", rec.Version, rec.Payload)
	}

	if err := s.Update("svc", "missing", []byte(`{}`)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() of missing error = %v, want ErrNotFound", err)
	}

	if err := s.Delete("svc", "web"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete("svc", "web"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestStore_ListAndClear(t *testing.T) {
	s := openStore(t)

	for _, name := range []string{"b", "a"} {
		if err := s.Insert("svc", name, []byte(`{}`)); err != nil {
			t.Fatalf("Insert(%s) error = %v", name, err)
		}
	}
	if err := s.Insert("user", "root", []byte(`{}`)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	records, err := s.List("svc")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 2 || records[0].Name != "a" || records[1].Name != "b" {
		t.Errorf("List() = %+v, want a, b", records)
	}

	if err := s.Clear("svc"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if records, _ := s.List("svc"); len(records) != 0 {
		t.Errorf("List() after Clear = %d records", len(records))
	}
	if records, _ := s.List("user"); len(records) != 1 {
		t.Errorf("Clear removed other kinds")
	}
}

func TestHandler_Reconcile(t *testing.T) {
	s := openStore(t)
	h := NewHandler(s, "svc")
	d := reconcile.NewDispatcher(h, reconcile.Options{})
	ctx := context.Background()

	present := func(attrs reconcile.State) reconcile.State {
		attrs[reconcile.AttrPresence] = "present"
		return attrs
	}

	// First run creates both
	err := d.Reconcile(ctx, reconcile.Batch{
		"web": {Should: present(reconcile.State{"port": 80})},
		"db":  {Should: present(reconcile.State{"port": 5432})},
	})
	if err != nil {
		t.Fatalf("first Reconcile() error = %v", err)
	}

	states, err := h.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("Get() returned %d states, want 2", len(states))
	}
	for _, st := range states {
		if st.Presence() != reconcile.Present {
			t.Errorf("%s presence = %q", st.Name(), st.Presence())
		}
	}

	// Second run: observed state comes from Get, so web updates and db is deleted
	err = d.Reconcile(ctx, reconcile.Batch{
		"web": {Should: present(reconcile.State{"port": 8080})},
		"db":  {},
	})
	if err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}

	rec, err := s.Get("svc", "web")
	if err != nil {
		t.Fatalf("Get(web) error = %v", err)
	}
	if rec.Version != 2 || string(rec.Payload) != `{"port":8080}` {
		t.Errorf("web = v%d %s, want v2 {\"port\":8080}", rec.Version, rec.Payload)
	}
	if _, err := s.Get("svc", "db"); !errors.Is(err, ErrNotFound) {
		t.Errorf("db still stored: %v", err)
	}
}

func TestHandler_Conflicts(t *testing.T) {
	s := openStore(t)
	h := NewHandler(s, "svc")
	d := reconcile.NewDispatcher(h, reconcile.Options{Policy: reconcile.ContinueOnError})
	present := reconcile.State{reconcile.AttrPresence: "present"}

	if err := s.Insert("svc", "web", []byte(`{}`)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	// Caller-supplied observed state disagrees with the store
	err := d.Reconcile(context.Background(), reconcile.Batch{
		"web":   {Is: reconcile.State{reconcile.AttrPresence: "absent"}, Should: present},
		"ghost": {Is: present, Should: present},
	})

	failures := reconcile.Failures(err)
	if len(failures) != 2 {
		t.Fatalf("failures = %d, want 2 (%v)", len(failures), err)
	}
	if !errors.Is(failures[0], ErrNotFound) || failures[0].Name != "ghost" {
		t.Errorf("ghost failure = %v, want ErrNotFound", failures[0])
	}
	if !errors.Is(failures[1], ErrExists) || failures[1].Name != "web" {
		t.Errorf("web failure = %v, want ErrExists", failures[1])
	}
}

func TestMarshalAttributes_DropsOwnedKeys(t *testing.T) {
	payload, err := marshalAttributes(reconcile.State{
		reconcile.AttrName:     "web",
		reconcile.AttrID:       "web",
		reconcile.AttrPresence: "present",
		"port":                 80,
	})
	if err != nil {
		t.Fatalf("marshalAttributes() error = %v", err)
	}
	if string(payload) != `{"port":80}` {
		t.Errorf("payload = %s, want {\"port\":80}", payload)
	}
}
