package command_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snowflakedb/snowflake/internal/codec"
	"github.com/snowflakedb/snowflake/internal/command"
	"github.com/snowflakedb/snowflake/internal/shard"
	"github.com/snowflakedb/snowflake/internal/status"
	"github.com/snowflakedb/snowflake/internal/store"
)

func newTestContext() *command.Context {
	e := store.New(shard.NewSelector(2), nil, store.Limits{})

	return &command.Context{Engine: e}
}

func TestDispatch_SetThenGet(t *testing.T) {
	r := command.NewRegistry()
	ctx := newTestContext()

	res := r.Dispatch("set k1 v1", ctx)
	require.Equal(t, status.Response, res.Status)
	require.Contains(t, res.Message, "1 entry inserted")

	res = r.Dispatch("get k1", ctx)
	require.Equal(t, status.Response, res.Status)

	s, ok := res.Value.AsString()
	require.True(t, ok)
	require.Equal(t, "v1", s)
}

func TestDispatch_SetJSON(t *testing.T) {
	r := command.NewRegistry()
	ctx := newTestContext()

	res := r.Dispatch(`set --json={"a":1,"b":2}`, ctx)
	require.Equal(t, status.Response, res.Status)

	i, _ := res.Value.AsInt()
	require.EqualValues(t, 2, i)
}

func TestDispatch_DeleteMissingKey(t *testing.T) {
	r := command.NewRegistry()
	ctx := newTestContext()

	res := r.Dispatch("delete nope", ctx)
	require.Equal(t, status.KeyNotExist, res.Status)
}

func TestDispatch_GetMissingKey(t *testing.T) {
	r := command.NewRegistry()
	ctx := newTestContext()

	res := r.Dispatch("get nope", ctx)
	require.Equal(t, status.KeyNotExist, res.Status)
}

func TestDispatch_UnknownCommand(t *testing.T) {
	r := command.NewRegistry()
	ctx := newTestContext()

	res := r.Dispatch("bogus", ctx)
	require.Equal(t, status.CommandNotFound, res.Status)
}

func TestDispatch_ValidatorFailure(t *testing.T) {
	r := command.NewRegistry()
	ctx := newTestContext()

	res := r.Dispatch("set k1", ctx) // odd number of positional args
	require.Equal(t, status.CommandMismatch, res.Status)
}

func TestDispatch_Sanitize(t *testing.T) {
	r := command.NewRegistry()
	ctx := newTestContext()

	res := r.Dispatch("sanitize key \"hello world\"", ctx)
	require.Equal(t, status.Response, res.Status)

	s, _ := res.Value.AsString()
	require.Equal(t, "hello_world", s)
}

func TestDispatch_Exit(t *testing.T) {
	r := command.NewRegistry()
	ctx := newTestContext()

	res := r.Dispatch("exit 3", ctx)
	require.Equal(t, status.Exit, res.Status)

	i, _ := res.Value.AsInt()
	require.EqualValues(t, 3, i)
}

func TestDispatch_Info(t *testing.T) {
	r := command.NewRegistry()
	ctx := newTestContext()

	require.NoError(t, setOne(ctx, "k1", codec.String("v1")))

	res := r.Dispatch("info keys", ctx)
	require.Equal(t, status.Response, res.Status)
	require.Contains(t, res.Message, "keys: 1")
}

func TestDispatch_CompactUnavailable(t *testing.T) {
	r := command.NewRegistry()
	ctx := newTestContext()

	res := r.Dispatch("compact", ctx)
	require.Equal(t, status.UnexpectedError, res.Status)
}

func TestDispatch_Help(t *testing.T) {
	r := command.NewRegistry()
	ctx := newTestContext()

	res := r.Dispatch("help", ctx)
	require.Equal(t, status.Response, res.Status)
	require.Contains(t, res.Message, "get")
}

func setOne(ctx *command.Context, key string, v codec.Value) error {
	_, err := ctx.Engine.Set(key, v)

	return err
}
