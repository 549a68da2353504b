package code

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/insightx/insightx/internal/domain"
	"github.com/insightx/insightx/internal/log"
)

const defaultTimeout = 8 * time.Second

// Globals opened by the base library that must not survive into a worker.
var strippedGlobals = []string{
	"dofile", "loadfile", "loadstring", "load", "require", "package",
	"collectgarbage", "rawget", "rawset", "rawequal", "setmetatable",
	"getmetatable", "getfenv", "setfenv", "newproxy", "module", "_printregs",
}

// Sandbox executes validated fragments. Every invocation gets a fresh,
// disposable interpreter with an explicit capability table; no interpreter
// state is shared across invocations, and the worker is torn down on every
// exit path.
type Sandbox struct {
	validator *Validator
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewSandbox builds a code sandbox with the given wall-clock timeout.
func NewSandbox(timeout time.Duration) *Sandbox {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Sandbox{
		validator: NewValidator(),
		timeout:   timeout,
		logger:    log.WithComponent("code_sandbox"),
	}
}

// Run validates the fragment and executes it against the input table.
// The timeout is enforced here, by the caller of the worker, never by the
// fragment itself. Runtime errors surface as CodeExecutionError and are not
// retried; exceeding the deadline surfaces as ExecutionTimeout.
func (s *Sandbox) Run(ctx context.Context, fragment string, input domain.Table) (domain.CodeStageResult, error) {
	if err := s.validator.Validate(fragment); err != nil {
		return domain.CodeStageResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	worker := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer worker.Close()

	if err := openSafeLibraries(worker); err != nil {
		return domain.CodeStageResult{}, domain.WrapError(domain.ErrInternal, err, "initialize worker")
	}
	rows, columns := tableToLua(worker, input)
	worker.SetGlobal("rows", rows)
	worker.SetGlobal("columns", columns)
	worker.SetGlobal("stats", statsModule(worker))
	worker.SetContext(ctx)

	started := time.Now()
	if err := worker.DoString(fragment); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.logger.Warn().Dur("timeout", s.timeout).Msg("worker exceeded deadline; terminated")
			return domain.CodeStageResult{}, domain.NewError(domain.ErrExecutionTimeout,
				"code execution exceeded %s", s.timeout)
		}
		if ctx.Err() != nil {
			return domain.CodeStageResult{}, ctx.Err()
		}
		return domain.CodeStageResult{}, domain.WrapError(domain.ErrCodeExecution, err, "code execution failed")
	}

	mapping, err := resultToMap(worker.GetGlobal("result"))
	if err != nil {
		return domain.CodeStageResult{}, err
	}

	return domain.CodeStageResult{
		Code:   fragment,
		Result: mapping,
		Summary: fmt.Sprintf("code execution completed in %s with %d result fields",
			time.Since(started).Round(time.Millisecond), len(mapping)),
	}, nil
}

// openSafeLibraries loads the base, table, string, and math libraries into
// a fresh worker, then strips the base functions that reach the filesystem,
// the loader, or the metatable machinery. The os, io, and debug libraries
// are never opened.
func openSafeLibraries(worker *lua.LState) error {
	libs := []struct {
		name string
		open lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage}, // must be first
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
	for _, lib := range libs {
		if err := worker.CallByParam(lua.P{
			Fn:      worker.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return err
		}
	}
	for _, name := range strippedGlobals {
		worker.SetGlobal(name, lua.LNil)
	}
	return nil
}
