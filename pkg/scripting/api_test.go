package scripting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(t *testing.T, engine *LuaEngine, fn string, args ...interface{}) interface{} {
	t.Helper()
	got, err := engine.ExecuteFunction(context.Background(), fn, args...)
	require.NoError(t, err)
	return got
}

func TestLuaAPI_LogAndUUID(t *testing.T) {
	engine := newEngine(t, DefaultConfig(), `
		function note(level)
			aimemory.log(level, "hook ran")
			return true
		end

		function two_ids()
			local a, b = aimemory.uuid(), aimemory.uuid()
			return type(a) == "string" and #a == 36 and a ~= b
		end
	`)

	for _, level := range []string{"debug", "info", "warn", "error", "unknown"} {
		assert.Equal(t, true, call(t, engine, "note", level), level)
	}
	assert.Equal(t, true, call(t, engine, "two_ids"))
}

func TestLuaAPI_Time(t *testing.T) {
	engine := newEngine(t, DefaultConfig(), `
		function now() return aimemory.now() end

		function fmt(ts, layout) return aimemory.format_time(ts, layout) end

		function age_days(created_at, now)
			local ts, err = aimemory.parse_time(created_at)
			if ts == nil then return err end
			return math.floor((now - ts) / 86400)
		end
	`)

	ts, ok := call(t, engine, "now").(float64)
	require.True(t, ok)
	assert.InDelta(t, time.Now().Unix(), ts, 60)

	assert.Equal(t, "2021-01-01T00:00:00Z", call(t, engine, "fmt", 1609459200, nil))
	assert.Equal(t, "2021-01-01", call(t, engine, "fmt", 1609459200, "2006-01-02"))

	assert.Equal(t, float64(3), call(t, engine, "age_days", "2021-01-01T00:00:00.123456Z", 1609459200+3*86400+10))
	assert.Contains(t, call(t, engine, "age_days", "yesterday", 0), "cannot parse")
}

func TestLuaAPI_Tokens(t *testing.T) {
	engine := newEngine(t, DefaultConfig(), `
		function tokens(text) return aimemory.tokens(text) end

		function too_short(text) return #aimemory.tokens(text) < 3 end
	`)

	assert.Equal(t, []interface{}{"the", "kettle", "is", "in", "cabinet_2"},
		call(t, engine, "tokens", "The KETTLE is in cabinet_2!"))
	assert.Equal(t, true, call(t, engine, "too_short", "ok thanks"))
	assert.Equal(t, false, call(t, engine, "too_short", "garage door code is 1234"))
}

func TestLuaAPI_JSON(t *testing.T) {
	engine := newEngine(t, DefaultConfig(), `
		function roundtrip()
			local hit = { id = "rec-1", score = 0.75, metadata = { scope = "common" } }
			local decoded = aimemory.json_decode(aimemory.json_encode(hit))
			return decoded.metadata.scope .. ":" .. decoded.score
		end

		function invalid()
			local value, err = aimemory.json_decode("{not json")
			return value == nil and err ~= nil
		end
	`)

	assert.Equal(t, "common:0.75", call(t, engine, "roundtrip"))
	assert.Equal(t, true, call(t, engine, "invalid"))
}

func TestLuaAPI_Context(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	engine := newEngine(t, DefaultConfig(), `
		function has_deadline()
			return ctx ~= nil and ctx.deadline ~= nil
		end
	`)

	got, err := engine.ExecuteFunction(ctx, "has_deadline")
	require.NoError(t, err)
	assert.Equal(t, true, got)
}
