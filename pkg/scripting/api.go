package scripting

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/lexlapax/aimemory/pkg/embedding/tfidf"
	"github.com/lexlapax/aimemory/pkg/log"
)

// apiFunctions is the aimemory table exposed to hook scripts.
var apiFunctions = map[string]lua.LGFunction{
	"log":         apiLog,
	"now":         apiNow,
	"format_time": apiFormatTime,
	"parse_time":  apiParseTime,
	"tokens":      apiTokens,
	"uuid":        apiUUID,
	"json_encode": apiJSONEncode,
	"json_decode": apiJSONDecode,
}

func registerAPIFunctions(L *lua.LState) {
	L.SetGlobal("aimemory", L.SetFuncs(L.NewTable(), apiFunctions))
}

// aimemory.log(level, message)
func apiLog(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)

	switch level {
	case "debug":
		log.Debug("Lua hook message", "message", message)
	case "warn", "warning":
		log.Warn("Lua hook message", "message", message)
	case "error":
		log.Error("Lua hook message", "message", message)
	default:
		log.Info("Lua hook message", "message", message)
	}
	return 0
}

// aimemory.now() returns Unix seconds.
func apiNow(L *lua.LState) int {
	L.Push(lua.LNumber(time.Now().Unix()))
	return 1
}

// aimemory.format_time(ts [, layout]) formats Unix seconds in UTC.
func apiFormatTime(L *lua.LState) int {
	ts := L.CheckNumber(1)
	layout := L.OptString(2, time.RFC3339)
	L.Push(lua.LString(time.Unix(int64(ts), 0).UTC().Format(layout)))
	return 1
}

// aimemory.parse_time(s) turns an RFC 3339 timestamp, such as a record's
// metadata.created_at, into Unix seconds. Returns nil and a message on failure.
func apiParseTime(L *lua.LState) int {
	t, err := time.Parse(time.RFC3339Nano, L.CheckString(1))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LNumber(t.Unix()))
	return 1
}

// aimemory.tokens(text) returns the lowercase word tokens the TF-IDF
// backend would index.
func apiTokens(L *lua.LState) int {
	tokens := tfidf.Tokenize(L.CheckString(1))
	tbl := L.CreateTable(len(tokens), 0)
	for _, tok := range tokens {
		tbl.Append(lua.LString(tok))
	}
	L.Push(tbl)
	return 1
}

func apiUUID(L *lua.LState) int {
	L.Push(lua.LString(uuid.New().String()))
	return 1
}

// aimemory.json_encode(value) returns a JSON string, or nil and a message.
func apiJSONEncode(L *lua.LState) int {
	data, err := json.Marshal(convertLuaToGo(L.CheckAny(1)))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(data))
	return 1
}

// aimemory.json_decode(s) returns a Lua value, or nil and a message.
func apiJSONDecode(L *lua.LState) int {
	var value interface{}
	if err := json.Unmarshal([]byte(L.CheckString(1)), &value); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(convertGoToLua(L, value))
	return 1
}
