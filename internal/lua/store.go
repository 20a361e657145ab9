package lua

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/converge/internal/storage"
)

const bucketTypeName = "store_bucket"

// storeModule exposes the persistent record store to scripts as
// require("store"). Records are grouped into buckets by kind. Without an
// argument, bucket() uses the handler's configured kind:
//
//	local vms = require("store").bucket()
//	vms:put("web", { cpu = 2 })
//	local attrs = vms:get("web")
type storeModule struct {
	store *storage.Store
	kind  string
}

// bucket is the userdata value behind a store bucket.
type bucket struct {
	store *storage.Store
	kind  string
}

// Loader is the module loader for Lua
func (m *storeModule) Loader(L *lua.LState) int {
	mt := L.NewTypeMetatable(bucketTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), bucketMethods))

	mod := L.NewTable()
	L.SetField(mod, "bucket", L.NewFunction(m.bucket))
	L.SetField(mod, "kind", lua.LString(m.kind))

	L.Push(mod)
	return 1
}

// bucket([kind]) -> Bucket
func (m *storeModule) bucket(L *lua.LState) int {
	kind := L.OptString(1, m.kind)
	if kind == "" {
		L.ArgError(1, "kind expected")
		return 0
	}

	ud := L.NewUserData()
	ud.Value = &bucket{store: m.store, kind: kind}
	L.SetMetatable(ud, L.GetTypeMetatable(bucketTypeName))

	L.Push(ud)
	return 1
}

var bucketMethods = map[string]lua.LGFunction{
	"get":    bucketGet,
	"put":    bucketPut,
	"delete": bucketDelete,
	"list":   bucketList,
}

func checkBucket(L *lua.LState) *bucket {
	ud := L.CheckUserData(1)
	if b, ok := ud.Value.(*bucket); ok {
		return b
	}
	L.ArgError(1, "bucket expected")
	return nil
}

// get(name) -> table | nil
func bucketGet(L *lua.LState) int {
	b := checkBucket(L)
	name := L.CheckString(2)

	rec, err := b.store.Get(b.kind, name)
	if errors.Is(err, storage.ErrNotFound) {
		L.Push(lua.LNil)
		return 1
	}
	if err != nil {
		L.RaiseError("store get %s/%s: %s", b.kind, name, err.Error())
		return 0
	}

	var attrs map[string]any
	if err := json.Unmarshal(rec.Payload, &attrs); err != nil {
		L.RaiseError("store get %s/%s: %s", b.kind, name, err.Error())
		return 0
	}
	L.Push(goToLua(L, attrs))
	return 1
}

// put(name, attrs) inserts or replaces a record.
func bucketPut(L *lua.LState) int {
	b := checkBucket(L)
	name := L.CheckString(2)
	attrs := tableToMap(L.CheckTable(3))

	payload, err := json.Marshal(attrs)
	if err != nil {
		L.RaiseError("store put %s/%s: %s", b.kind, name, err.Error())
		return 0
	}

	err = b.store.Insert(b.kind, name, payload)
	if errors.Is(err, storage.ErrExists) {
		err = b.store.Update(b.kind, name, payload)
	}
	if err != nil {
		L.RaiseError("store put %s/%s: %s", b.kind, name, err.Error())
	}
	return 0
}

// delete(name) -> bool
func bucketDelete(L *lua.LState) int {
	b := checkBucket(L)
	name := L.CheckString(2)

	err := b.store.Delete(b.kind, name)
	if errors.Is(err, storage.ErrNotFound) {
		L.Push(lua.LFalse)
		return 1
	}
	if err != nil {
		L.RaiseError("store delete %s/%s: %s", b.kind, name, err.Error())
		return 0
	}
	L.Push(lua.LTrue)
	return 1
}

// list() -> { name = attrs, ... }
func bucketList(L *lua.LState) int {
	b := checkBucket(L)

	records, err := b.store.List(b.kind)
	if err != nil {
		L.RaiseError("store list %s: %s", b.kind, err.Error())
		return 0
	}

	tbl := L.NewTable()
	for _, rec := range records {
		var attrs map[string]any
		if err := json.Unmarshal(rec.Payload, &attrs); err != nil {
			log.Warn().Err(err).Str("kind", b.kind).Str("name", rec.Name).Msg("Skipping unreadable record")
			continue
		}
		L.SetField(tbl, rec.Name, goToLua(L, attrs))
	}

	L.Push(tbl)
	return 1
}
