package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dokzlo13/converge/internal/db"
	"github.com/dokzlo13/converge/internal/ledger"
	"github.com/dokzlo13/converge/internal/reconcile"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger(t *testing.T) {
	tests := []struct {
		name       string
		transition reconcile.Transition
		err        error
		wantBegin  string
		wantEnd    string
		wantLevel  string
	}{
		{name: "create_ok", transition: reconcile.Create, wantBegin: "Creating web", wantEnd: "Created web", wantLevel: "info"},
		{name: "update_ok", transition: reconcile.Update, wantBegin: "Updating web", wantEnd: "Updated web", wantLevel: "info"},
		{name: "delete_ok", transition: reconcile.Delete, wantBegin: "Deleting web", wantEnd: "Deleted web", wantLevel: "info"},
		{name: "create_failed", transition: reconcile.Create, err: errors.New("boom"), wantBegin: "Creating web", wantEnd: "Creating web failed", wantLevel: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))

			l.Begin(context.Background(), tt.transition, "web").End(tt.err)

			lines := decodeLines(t, &buf)
			if len(lines) != 2 {
				t.Fatalf("got %d log lines, want 2: %s", len(lines), buf.String())
			}
			if lines[0]["message"] != tt.wantBegin || lines[0]["level"] != "debug" {
				t.Errorf("begin line = %v", lines[0])
			}
			if lines[1]["message"] != tt.wantEnd || lines[1]["level"] != tt.wantLevel {
				t.Errorf("end line = %v", lines[1])
			}
			if lines[1]["name"] != "web" || lines[1]["transition"] != tt.transition.String() {
				t.Errorf("end line fields = %v", lines[1])
			}
			if tt.err != nil && lines[1]["error"] != tt.err.Error() {
				t.Errorf("error field = %v, want %q", lines[1]["error"], tt.err)
			}
		})
	}
}

type memLedger struct {
	entries []ledger.Entry
	err     error
}

func (m *memLedger) Append(e ledger.Entry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func TestRecorder(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		m := &memLedger{}
		NewRecorder(m).Begin(context.Background(), reconcile.Update, "web").End(nil)

		if len(m.entries) != 2 {
			t.Fatalf("got %d entries, want 2", len(m.entries))
		}
		started, done := m.entries[0], m.entries[1]
		if started.EventType != ledger.EventTransitionStarted || done.EventType != ledger.EventTransitionCompleted {
			t.Errorf("event types = %s, %s", started.EventType, done.EventType)
		}
		if started.ScopeID == "" || started.ScopeID != done.ScopeID {
			t.Errorf("scope IDs = %q, %q, want equal and non-empty", started.ScopeID, done.ScopeID)
		}
		if done.Transition != "update" || done.Name != "web" {
			t.Errorf("entry = %+v", done)
		}
	})

	t.Run("failed", func(t *testing.T) {
		m := &memLedger{}
		NewRecorder(m).Begin(context.Background(), reconcile.Delete, "web").End(errors.New("busy"))

		if len(m.entries) != 2 {
			t.Fatalf("got %d entries, want 2", len(m.entries))
		}
		if got := m.entries[1]; got.EventType != ledger.EventTransitionFailed || got.Error != "busy" {
			t.Errorf("end entry = %+v, want failed with error", got)
		}
	})

	t.Run("distinct_scopes", func(t *testing.T) {
		m := &memLedger{}
		r := NewRecorder(m)
		r.Begin(context.Background(), reconcile.Create, "a").End(nil)
		r.Begin(context.Background(), reconcile.Create, "b").End(nil)

		if m.entries[0].ScopeID == m.entries[2].ScopeID {
			t.Errorf("scopes share ID %q", m.entries[0].ScopeID)
		}
	})

	t.Run("ledger_errors_are_swallowed", func(t *testing.T) {
		m := &memLedger{err: errors.New("disk full")}
		scope := NewRecorder(m).Begin(context.Background(), reconcile.Create, "a")
		scope.End(nil)
	})
}

func TestMulti(t *testing.T) {
	var order []string
	tracker := func(id string) reconcile.Tracker {
		return reconcile.TrackerFunc(func(_ context.Context, tr reconcile.Transition, name string) reconcile.Scope {
			order = append(order, "begin:"+id)
			return reconcile.ScopeFunc(func(err error) {
				order = append(order, "end:"+id)
			})
		})
	}

	m := Multi(tracker("a"), nil, tracker("b"))
	m.Begin(context.Background(), reconcile.Create, "x").End(nil)

	want := []string{"begin:a", "begin:b", "end:b", "end:a"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

type failingHandler struct {
	reconcile.SimpleProvider
}

func (failingHandler) Update(context.Context, string, reconcile.State) error {
	return errors.New("update rejected")
}

func TestRecorder_WithDispatcher(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "lifecycle.sqlite"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	defer database.Close()
	l := ledger.New(database.DB)

	var buf bytes.Buffer
	tracker := Multi(NewLogger(zerolog.New(&buf)), NewRecorder(l))
	d := reconcile.NewDispatcher(failingHandler{}, reconcile.Options{
		Policy:  reconcile.ContinueOnError,
		Tracker: tracker,
	})

	present := reconcile.State{reconcile.AttrPresence: "present"}
	err = d.Reconcile(context.Background(), reconcile.Batch{
		"a": {Is: present, Should: present},
		"b": {Should: present},
		"c": {},
	})
	if got := len(reconcile.Failures(err)); got != 2 {
		t.Fatalf("failures = %d, want 2 (%v)", got, err)
	}

	failed, err := l.GetByType(ledger.EventTransitionFailed, 10)
	if err != nil {
		t.Fatalf("GetByType() error = %v", err)
	}
	if len(failed) != 2 {
		t.Fatalf("failed entries = %d, want 2", len(failed))
	}

	entries, err := l.ByName("b", 10)
	if err != nil {
		t.Fatalf("ByName() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Transition != "create" {
		t.Fatalf("entries for b = %+v", entries)
	}
	if !strings.Contains(entries[0].Error, `has not implemented "create"`) {
		t.Errorf("error = %q, want unimplemented create", entries[0].Error)
	}

	if none, _ := l.ByName("c", 10); len(none) != 0 {
		t.Errorf("noop resource recorded %d entries", len(none))
	}
}
