package command

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/snowflakedb/snowflake/internal/codec"
	"github.com/snowflakedb/snowflake/internal/status"
	"github.com/snowflakedb/snowflake/internal/store"
)

// builtins returns the shell's built-in command set.
func builtins(r *Registry) []*Command {
	return []*Command{
		helpCommand(r),
		clearCommand(),
		exitCommand(),
		infoCommand(),
		getCommand(),
		setCommand(),
		deleteCommand(),
		sanitizeCommand(),
		compactCommand(),
	}
}

func helpCommand(r *Registry) *Command {
	return &Command{
		Name: "help",
		Help: "help [cmds…] — list commands, or show detail for named ones",
		Execute: func(p Parsed, ctx *Context) Result {
			if len(p.Positional) == 0 {
				names := make([]string, 0, len(r.All()))
				for _, c := range r.All() {
					names = append(names, c.Name)
				}

				sort.Strings(names)

				return Result{Message: strings.Join(names, ", "), Status: status.Response}
			}

			var lines []string

			for _, name := range p.Positional {
				cmd, ok := r.Lookup(name)
				if !ok {
					lines = append(lines, fmt.Sprintf("%s: unknown command", name))

					continue
				}

				lines = append(lines, cmd.Help)
			}

			return Result{Message: strings.Join(lines, "\n"), Status: status.Response}
		},
	}
}

func clearCommand() *Command {
	return &Command{
		Name:    "clear",
		Aliases: []string{"cls"},
		Help:    "clear — clear the terminal screen",
		Execute: func(p Parsed, ctx *Context) Result {
			return Result{Message: "\x1b[2J\x1b[H", Status: status.Response}
		},
	}
}

func exitCommand() *Command {
	return &Command{
		Name: "exit",
		Help: "exit [status] — close the session",
		Execute: func(p Parsed, ctx *Context) Result {
			code := 0

			if len(p.Positional) > 0 {
				if n, err := strconv.Atoi(p.Positional[0]); err == nil {
					code = n
				}
			}

			return Result{Message: "bye", Value: codec.Int(int64(code)), Status: status.Exit}
		},
	}
}

func infoCommand() *Command {
	return &Command{
		Name: "info",
		Help: "info [shards|keys|memory|aol|uptime…] — server diagnostics",
		Execute: func(p Parsed, ctx *Context) Result {
			stats := ctx.Engine.Stats()

			filters := p.Positional
			if len(filters) == 0 {
				filters = []string{"keys", "memory"}
			}

			var lines []string

			for _, f := range filters {
				switch f {
				case "keys":
					lines = append(lines, fmt.Sprintf("keys: %d", stats.LiveKeys))
				case "memory":
					lines = append(lines, fmt.Sprintf("memory: %d/%d bytes", stats.TotalBytes, stats.MemoryLimit))
				case "shards":
					if ctx.ShardCount > 0 {
						lines = append(lines, fmt.Sprintf("shards: %d", ctx.ShardCount))
					} else {
						lines = append(lines, "shards: n/a")
					}
				case "aol":
					if ctx.AOL != nil {
						path := ctx.AOL.CurrentPath()
						if path == "" {
							path = "(none yet)"
						}

						lines = append(lines, fmt.Sprintf("aol: file=%s pending=%d", path, ctx.AOL.PendingCount()))
					} else {
						lines = append(lines, "aol: n/a")
					}
				case "uptime":
					if !ctx.StartedAt.IsZero() {
						lines = append(lines, fmt.Sprintf("uptime: %s", time.Since(ctx.StartedAt).Round(time.Second)))
					} else {
						lines = append(lines, "uptime: n/a")
					}
				default:
					lines = append(lines, fmt.Sprintf("%s: unknown filter", f))
				}
			}

			return Result{Message: strings.Join(lines, "\n"), Status: status.Response}
		},
	}
}

func getCommand() *Command {
	return &Command{
		Name: "get",
		Help: "get keys… — fetch one or more values",
		Validate: func(p Parsed) bool {
			return len(p.Positional) > 0
		},
		Execute: func(p Parsed, ctx *Context) Result {
			if len(p.Positional) == 1 {
				key := p.Positional[0]
				if !ctx.Engine.Exist(key) {
					return Result{Message: "key doesn't exist", Status: status.KeyNotExist}
				}

				return Result{Value: ctx.Engine.Get(key, codec.Nil()), Status: status.Response, PrintValue: true}
			}

			m := make(map[string]codec.Value, len(p.Positional))

			for _, key := range p.Positional {
				m[key] = ctx.Engine.Get(key, codec.Nil())
			}

			return Result{Value: codec.Map(m), Status: status.Response, PrintValue: true}
		},
	}
}

func setCommand() *Command {
	return &Command{
		Name: "set",
		Help: "set (k v)… | --json jsonObjects… — insert or update entries",
		Validate: func(p Parsed) bool {
			jsonMode, objects := jsonObjects(p)
			if jsonMode {
				return len(objects) > 0
			}

			return len(p.Positional) > 0 && len(p.Positional)%2 == 0
		},
		Execute: func(p Parsed, ctx *Context) Result {
			jsonMode, objects := jsonObjects(p)

			inserted, updated := 0, 0

			apply := func(key string, value codec.Value) {
				res, err := ctx.Engine.Set(key, value)
				if err != nil || res == store.SetFailed {
					return
				}

				if res == store.SetInserted {
					inserted++
				} else {
					updated++
				}
			}

			if jsonMode {
				for _, obj := range objects {
					native, err := parseJSONObject(obj)
					if err != nil {
						return Result{Message: fmt.Sprintf("invalid JSON object: %v", err), Status: status.CommandMismatch}
					}

					for k, v := range native {
						apply(k, v)
					}
				}
			} else {
				for i := 0; i < len(p.Positional); i += 2 {
					apply(p.Positional[i], codec.String(p.Positional[i+1]))
				}
			}

			return Result{
				Message: setMessage(inserted, updated),
				Value:   codec.Int(int64(inserted + updated)),
				Status:  status.Response,
			}
		},
	}
}

// setMessage renders a set command's outcome: "1 entry inserted",
// "2 entries inserted, 1 updated", "3 entries updated", ...
func setMessage(inserted, updated int) string {
	entries := "entries"
	if inserted == 1 {
		entries = "entry"
	}

	switch {
	case updated == 0:
		return fmt.Sprintf("%d %s inserted", inserted, entries)
	case inserted == 0:
		if updated == 1 {
			return "1 entry updated"
		}

		return fmt.Sprintf("%d entries updated", updated)
	default:
		return fmt.Sprintf("%d %s inserted, %d updated", inserted, entries, updated)
	}
}

// jsonObjects reports whether a set command is in JSON mode (--json or
// -j) and collects the JSON object strings: every positional argument,
// plus the flag's own value for the `--json={...}` spelling.
func jsonObjects(p Parsed) (bool, []string) {
	v, jsonMode := p.Flags["json"]
	if !jsonMode {
		v, jsonMode = p.Flags["j"]
	}

	if !jsonMode {
		return false, nil
	}

	objects := p.Positional
	if v != "" {
		objects = append([]string{v}, objects...)
	}

	return true, objects
}

func deleteCommand() *Command {
	return &Command{
		Name:    "delete",
		Aliases: []string{"remove"},
		Help:    "delete keys… — remove one or more entries",
		Validate: func(p Parsed) bool {
			return len(p.Positional) > 0
		},
		Execute: func(p Parsed, ctx *Context) Result {
			deleted := 0

			for _, key := range p.Positional {
				ok, err := ctx.Engine.Remove(key)
				if err == nil && ok {
					deleted++
				}
			}

			if deleted == 0 {
				return Result{Message: "key doesn't exist", Status: status.KeyNotExist}
			}

			return Result{
				Message: fmt.Sprintf("%d item%s deleted", deleted, plural(deleted)),
				Value:   codec.Int(int64(deleted)),
				Status:  status.Response,
			}
		},
	}
}

func sanitizeCommand() *Command {
	return &Command{
		Name: "sanitize",
		Help: "sanitize (key|value) input… [--trim] — preview key sanitization",
		Validate: func(p Parsed) bool {
			return len(p.Positional) >= 2 && (p.Positional[0] == "key" || p.Positional[0] == "value")
		},
		Execute: func(p Parsed, ctx *Context) Result {
			_, trim := p.Flags["trim"]

			kind := p.Positional[0]
			inputs := p.Positional[1:]

			out := make([]codec.Value, 0, len(inputs))

			for _, in := range inputs {
				if kind == "key" {
					out = append(out, codec.String(store.SanitizeKey(in, trim)))
				} else {
					out = append(out, codec.String(in))
				}
			}

			if len(out) == 1 {
				return Result{Value: out[0], Status: status.Response, PrintValue: true}
			}

			return Result{Value: codec.Seq(out...), Status: status.Response, PrintValue: true}
		},
	}
}

func compactCommand() *Command {
	return &Command{
		Name: "compact",
		Help: "compact — rewrite shard data and key files, reclaiming deleted-entry holes",
		Execute: func(p Parsed, ctx *Context) Result {
			if ctx.Compactor == nil {
				return Result{Message: "compaction unavailable", Status: status.UnexpectedError}
			}

			stats, err := ctx.Compactor.Compact()
			if err != nil {
				return Result{Message: fmt.Sprintf("compaction failed: %v", err), Status: status.UnexpectedError}
			}

			return Result{
				Message: fmt.Sprintf(
					"compacted %d shard(s), rewrote %d key(s), reclaimed %d hole(s)",
					stats.ShardsRewritten, stats.KeysRewritten, stats.HolesReclaimed,
				),
				Status: status.Response,
			}
		},
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}

	return "s"
}
