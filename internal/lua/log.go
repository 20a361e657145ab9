package lua

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// logModule exposes zerolog to scripts as require("log").
type logModule struct {
	script string
}

// Loader is the module loader for Lua
func (m *logModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "debug", L.NewFunction(m.logger(zerolog.DebugLevel)))
	L.SetField(mod, "info", L.NewFunction(m.logger(zerolog.InfoLevel)))
	L.SetField(mod, "warn", L.NewFunction(m.logger(zerolog.WarnLevel)))
	L.SetField(mod, "error", L.NewFunction(m.logger(zerolog.ErrorLevel)))

	L.Push(mod)
	return 1
}

// logger returns a Lua function log.<level>(msg, [fields]).
func (m *logModule) logger(level zerolog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)

		event := log.WithLevel(level).Str("source", "lua").Str("script", m.script)
		if tbl, ok := L.Get(2).(*lua.LTable); ok {
			for k, v := range tableToMap(tbl) {
				event = event.Interface(k, v)
			}
		}
		event.Msg(msg)

		return 0
	}
}
