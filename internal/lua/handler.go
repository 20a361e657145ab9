// Package lua provides a reconcile handler whose operations are written in Lua.
//
// A script defines any of these global functions:
//
//	function get() return { {name = "web", presence = "present", port = 80} } end
//	function create(name, should) ... end
//	function update(name, should) ... end
//	function delete(name) ... end
//
// A missing create, update or delete fails with reconcile.UnimplementedError.
// A missing get means observed state is unknown and defaults to absent.
// Scripts report failures with error("message").
//
// Scripts can require("log") and, when the handler is built WithStore,
// require("store") for records that outlive a single run.
package lua

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/converge/internal/reconcile"
	"github.com/dokzlo13/converge/internal/storage"
)

// ErrClosed is returned when the handler has been closed
var ErrClosed = errors.New("lua handler closed")

// Handler runs reconcile operations in a single Lua VM.
// The VM is not goroutine safe, so every call holds the mutex.
type Handler struct {
	mu     sync.Mutex
	L      *lua.LState
	name   string
	closed bool
}

// Option configures a Handler before its script runs.
type Option func(L *lua.LState)

// WithStore makes the record store available as require("store").
// kind is the bucket returned by store.bucket() without an argument.
func WithStore(store *storage.Store, kind string) Option {
	return func(L *lua.LState) {
		L.PreloadModule("store", (&storeModule{store: store, kind: kind}).Loader)
	}
}

// Load creates a handler from a script file.
func Load(path string, opts ...Option) (*Handler, error) {
	h := newHandler(filepath.Base(path), opts)
	if err := h.L.DoFile(path); err != nil {
		h.L.Close()
		return nil, fmt.Errorf("failed to load script %s: %w", path, err)
	}

	log.Info().Str("script", path).Strs("functions", h.defined()).Msg("Lua handler loaded")
	return h, nil
}

// LoadString creates a handler from script source. name identifies the
// script in logs and errors.
func LoadString(name, source string, opts ...Option) (*Handler, error) {
	h := newHandler(name, opts)
	if err := h.L.DoString(source); err != nil {
		h.L.Close()
		return nil, fmt.Errorf("failed to load script %s: %w", name, err)
	}
	return h, nil
}

func newHandler(name string, opts []Option) *Handler {
	L := lua.NewState()
	L.PreloadModule("log", (&logModule{script: name}).Loader)
	for _, opt := range opts {
		opt(L)
	}
	return &Handler{L: L, name: name}
}

// Close releases the Lua VM. Further calls fail with ErrClosed.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.closed {
		h.closed = true
		h.L.Close()
	}
}

// Get calls the script's get() and converts the returned list of tables.
func (h *Handler) Get(ctx context.Context) ([]reconcile.State, error) {
	ret, err := h.call(ctx, reconcile.OpGet)
	if errors.Is(err, reconcile.ErrUnimplemented) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	switch val := ret.(type) {
	case *lua.LNilType:
		return nil, nil
	case *lua.LTable:
		var states []reconcile.State
		var convErr error
		val.ForEach(func(_, item lua.LValue) {
			tbl, ok := item.(*lua.LTable)
			if !ok {
				if convErr == nil {
					convErr = fmt.Errorf("get() returned a %s entry, want table", item.Type())
				}
				return
			}
			states = append(states, reconcile.State(tableToMap(tbl)))
		})
		if convErr != nil {
			return nil, convErr
		}
		return states, nil
	default:
		return nil, fmt.Errorf("get() returned %s, want table", ret.Type())
	}
}

// Create calls the script's create(name, should).
func (h *Handler) Create(ctx context.Context, name string, should reconcile.State) error {
	_, err := h.call(ctx, reconcile.OpCreate, name, map[string]any(should))
	return err
}

// Update calls the script's update(name, should).
func (h *Handler) Update(ctx context.Context, name string, should reconcile.State) error {
	_, err := h.call(ctx, reconcile.OpUpdate, name, map[string]any(should))
	return err
}

// Delete calls the script's delete(name).
func (h *Handler) Delete(ctx context.Context, name string) error {
	_, err := h.call(ctx, reconcile.OpDelete, name)
	return err
}

// call invokes a global function by name with one return value.
// Arguments are Go values converted with goToLua.
func (h *Handler) call(ctx context.Context, fn string, args ...any) (lua.LValue, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	f, ok := h.L.GetGlobal(fn).(*lua.LFunction)
	if !ok {
		return nil, &reconcile.UnimplementedError{Handler: "lua script " + h.name, Op: fn}
	}

	h.L.SetContext(ctx)
	defer h.L.RemoveContext()

	largs := make([]lua.LValue, len(args))
	for i, arg := range args {
		largs[i] = goToLua(h.L, arg)
	}

	if err := h.L.CallByParam(lua.P{Fn: f, NRet: 1, Protect: true}, largs...); err != nil {
		return nil, fmt.Errorf("%s %s(): %w", h.name, fn, err)
	}

	ret := h.L.Get(-1)
	h.L.Pop(1)
	return ret, nil
}

// defined returns which operation functions the script defines.
func (h *Handler) defined() []string {
	var fns []string
	for _, fn := range []string{reconcile.OpGet, reconcile.OpCreate, reconcile.OpUpdate, reconcile.OpDelete} {
		if _, ok := h.L.GetGlobal(fn).(*lua.LFunction); ok {
			fns = append(fns, fn)
		}
	}
	return fns
}
