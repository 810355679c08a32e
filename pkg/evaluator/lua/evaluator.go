// Package lua implements the engine.Evaluator contract on top of
// github.com/yuin/gopher-lua.
//
// One Evaluator wraps one *lua.LState. By default only the safe subset of
// the standard library is opened (base without file loaders, table, string,
// math, coroutine); io, os, package and debug are opened only for a
// privileged runtime. Output of print is captured per evaluation.
package lua

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harun/toolns/pkg/engine"
	lua "github.com/yuin/gopher-lua"
)

// Name is the runtime name reported by the evaluator.
const Name = "lua"

// maxDepth bounds conversion of nested tables.
const maxDepth = 32

// Options configures an Evaluator.
type Options struct {
	// Privileged opens io, os, package and debug.
	Privileged bool
	// Timeout aborts a single evaluation after the given duration.
	// Zero means no limit.
	Timeout time.Duration
}

// Evaluator runs Lua scripts in a persistent interpreter state.
// It is not safe for concurrent use; the engine serializes calls.
type Evaluator struct {
	opts  Options
	state *lua.LState
	out   strings.Builder
}

var _ engine.Evaluator = (*Evaluator)(nil)
var _ engine.Resetter = (*Evaluator)(nil)

// New creates an evaluator with a fresh interpreter state.
func New(opts Options) *Evaluator {
	e := &Evaluator{opts: opts}
	e.state = e.newState()
	return e
}

type luaLib struct {
	name string
	fn   lua.LGFunction
}

func (e *Evaluator) newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	libs := []luaLib{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	}
	if e.opts.Privileged {
		// package must be opened before base.
		libs = append([]luaLib{{lua.LoadLibName, lua.OpenPackage}}, libs...)
		libs = append(libs,
			luaLib{lua.IoLibName, lua.OpenIo},
			luaLib{lua.OsLibName, lua.OpenOs},
			luaLib{lua.DebugLibName, lua.OpenDebug},
		)
	}

	for _, lib := range libs {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	if !e.opts.Privileged {
		// The base library can still reach the filesystem through these.
		L.SetGlobal("dofile", lua.LNil)
		L.SetGlobal("loadfile", lua.LNil)
	}

	L.SetGlobal("print", L.NewFunction(e.print))
	return L
}

func (e *Evaluator) print(L *lua.LState) int {
	top := L.GetTop()
	for i := 1; i <= top; i++ {
		if i > 1 {
			e.out.WriteByte('\t')
		}
		e.out.WriteString(L.ToStringMeta(L.Get(i)).String())
	}
	e.out.WriteByte('\n')
	return 0
}

// Name implements engine.Evaluator.
func (e *Evaluator) Name() string { return Name }

// HasCapability implements engine.Evaluator.
func (e *Evaluator) HasCapability(name string) bool {
	switch name {
	case engine.CapSafeSubset:
		return !e.opts.Privileged
	case engine.CapString, engine.CapMath, engine.CapTable,
		engine.CapProcedures, engine.CapGlobals:
		return true
	case engine.CapFileIO, engine.CapOS:
		return e.opts.Privileged
	}
	return false
}

// Eval implements engine.Evaluator. Bindings are set as globals before the
// script runs and remain set afterwards. Multiple return values are joined
// with tabs.
func (e *Evaluator) Eval(script string, bindings map[string]any) (engine.Value, error) {
	L := e.state
	e.out.Reset()

	for name, v := range bindings {
		L.SetGlobal(name, toLua(L, v, 0))
	}

	fn, err := L.LoadString(script)
	if err != nil {
		return engine.Value{}, fmt.Errorf("%s", errorMessage(err))
	}

	if e.opts.Timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.Timeout)
		defer cancel()
		L.SetContext(ctx)
		defer L.RemoveContext()
	}

	top := L.GetTop()
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.SetTop(top)
		return engine.Value{Output: e.out.String()}, fmt.Errorf("%s", errorMessage(err))
	}

	n := L.GetTop() - top
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, render(L, L.Get(top+i)))
	}
	L.SetTop(top)

	return engine.Value{Text: strings.Join(parts, "\t"), Output: e.out.String()}, nil
}

// Reset discards every user-defined function and global by rebuilding the
// interpreter state.
func (e *Evaluator) Reset() error {
	e.state.Close()
	e.state = e.newState()
	e.out.Reset()
	return nil
}

// Close releases the interpreter.
func (e *Evaluator) Close() {
	e.state.Close()
}

func errorMessage(err error) string {
	if apiErr, ok := err.(*lua.ApiError); ok && apiErr.Object != nil {
		return apiErr.Object.String()
	}
	return err.Error()
}

// render converts a result value to text. Tables without a __tostring
// metamethod render as JSON.
func render(L *lua.LState, v lua.LValue) string {
	switch lv := v.(type) {
	case *lua.LNilType:
		return ""
	case lua.LString:
		return string(lv)
	case *lua.LTable:
		if L.GetMetaField(lv, "__tostring") != lua.LNil {
			return L.ToStringMeta(lv).String()
		}
		data, err := json.Marshal(fromLua(lv, 0))
		if err != nil {
			return lv.String()
		}
		return string(data)
	default:
		return v.String()
	}
}

// toLua converts a Go value to a Lua value.
func toLua(L *lua.LState, v any, depth int) lua.LValue {
	if depth > maxDepth {
		return lua.LNil
	}
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return lua.LString(val.String())
		}
		return lua.LNumber(f)
	case []string:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(lua.LString(item))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(toLua(L, item, depth+1))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, toLua(L, item, depth+1))
		}
		return tbl
	case map[string]string:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, lua.LString(item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// fromLua converts a Lua value to plain Go data. Sequences become slices,
// other tables become string-keyed maps.
func fromLua(v lua.LValue, depth int) any {
	if depth > maxDepth {
		return nil
	}
	switch lv := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(lv)
	case lua.LString:
		return string(lv)
	case lua.LNumber:
		f := float64(lv)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case *lua.LTable:
		n := lv.Len()
		count := 0
		lv.ForEach(func(lua.LValue, lua.LValue) { count++ })
		if n > 0 && n == count {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, fromLua(lv.RawGetInt(i), depth+1))
			}
			return arr
		}
		obj := make(map[string]any, count)
		lv.ForEach(func(k, item lua.LValue) {
			obj[k.String()] = fromLua(item, depth+1)
		})
		return obj
	default:
		return lv.String()
	}
}
