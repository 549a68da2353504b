// Package code validates and executes generated imperative analysis
// fragments (Lua) inside an isolated, time-bounded interpreter.
package code

import (
	"fmt"
	"strings"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"

	"github.com/insightx/insightx/internal/domain"
)

// allowedGlobals is the fixed capability surface visible to a fragment:
// the injected bindings plus side-effect-free builtins and libraries.
var allowedGlobals = map[string]bool{
	// injected bindings
	"rows":    true,
	"columns": true,
	"stats":   true,
	"result":  true,
	// safe libraries
	"math":   true,
	"string": true,
	"table":  true,
	// safe builtins
	"ipairs":   true,
	"pairs":    true,
	"next":     true,
	"select":   true,
	"type":     true,
	"tostring": true,
	"tonumber": true,
	"unpack":   true,
	"error":    true,
	"assert":   true,
	"print":    true,
}

// Validator walks a fragment's syntax tree and rejects the first construct
// outside the capability surface. Rejection is fail-fast, not exhaustive.
type Validator struct{}

// NewValidator returns the AST validator.
func NewValidator() *Validator { return &Validator{} }

// Validate parses the fragment and checks every global reference against
// the allow-list. Locally bound names (locals, parameters, loop variables,
// fragment-level assignments) are tracked so only true ambient access is
// rejected.
func (v *Validator) Validate(fragment string) error {
	chunk, err := parse.Parse(strings.NewReader(fragment), "fragment")
	if err != nil {
		return domain.WrapError(domain.ErrRejectedCode, err, "syntax error")
	}
	w := &walker{scopes: []map[string]bool{{}}}
	if err := w.stmts(chunk); err != nil {
		return err
	}
	return nil
}

type walker struct {
	scopes []map[string]bool
}

func (w *walker) push() { w.scopes = append(w.scopes, map[string]bool{}) }
func (w *walker) pop()  { w.scopes = w.scopes[:len(w.scopes)-1] }

func (w *walker) declare(name string) {
	w.scopes[len(w.scopes)-1][name] = true
}

func (w *walker) bound(name string) bool {
	for i := len(w.scopes) - 1; i >= 0; i-- {
		if w.scopes[i][name] {
			return true
		}
	}
	return false
}

func disallowed(node ast.PositionHolder, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return domain.NewError(domain.ErrRejectedCode, "line %d: %s", node.Line(), msg)
}

func (w *walker) stmts(stmts []ast.Stmt) error {
	for _, stmt := range stmts {
		if err := w.stmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) stmt(stmt ast.Stmt) error {
	switch st := stmt.(type) {
	case *ast.AssignStmt:
		if err := w.exprs(st.Rhs); err != nil {
			return err
		}
		for _, lhs := range st.Lhs {
			if ident, ok := lhs.(*ast.IdentExpr); ok {
				// A fragment-level assignment introduces the name for the
				// rest of the fragment; the interpreter has no ambient
				// globals to collide with.
				w.scopes[0][ident.Value] = true
				continue
			}
			if err := w.expr(lhs); err != nil {
				return err
			}
		}
		return nil
	case *ast.LocalAssignStmt:
		if err := w.exprs(st.Exprs); err != nil {
			return err
		}
		for _, name := range st.Names {
			w.declare(name)
		}
		return nil
	case *ast.FuncCallStmt:
		return w.expr(st.Expr)
	case *ast.DoBlockStmt:
		w.push()
		defer w.pop()
		return w.stmts(st.Stmts)
	case *ast.WhileStmt:
		if err := w.expr(st.Condition); err != nil {
			return err
		}
		w.push()
		defer w.pop()
		return w.stmts(st.Stmts)
	case *ast.RepeatStmt:
		w.push()
		defer w.pop()
		if err := w.stmts(st.Stmts); err != nil {
			return err
		}
		return w.expr(st.Condition)
	case *ast.IfStmt:
		if err := w.expr(st.Condition); err != nil {
			return err
		}
		w.push()
		if err := w.stmts(st.Then); err != nil {
			w.pop()
			return err
		}
		w.pop()
		w.push()
		defer w.pop()
		return w.stmts(st.Else)
	case *ast.NumberForStmt:
		if err := w.exprs([]ast.Expr{st.Init, st.Limit}); err != nil {
			return err
		}
		if st.Step != nil {
			if err := w.expr(st.Step); err != nil {
				return err
			}
		}
		w.push()
		defer w.pop()
		w.declare(st.Name)
		return w.stmts(st.Stmts)
	case *ast.GenericForStmt:
		if err := w.exprs(st.Exprs); err != nil {
			return err
		}
		w.push()
		defer w.pop()
		for _, name := range st.Names {
			w.declare(name)
		}
		return w.stmts(st.Stmts)
	case *ast.FuncDefStmt:
		if st.Name.Func != nil {
			if ident, ok := st.Name.Func.(*ast.IdentExpr); ok {
				w.scopes[0][ident.Value] = true
			} else if err := w.expr(st.Name.Func); err != nil {
				return err
			}
		}
		if st.Name.Receiver != nil {
			if err := w.expr(st.Name.Receiver); err != nil {
				return err
			}
		}
		return w.function(st.Func, st.Name.Method != "")
	case *ast.ReturnStmt:
		return w.exprs(st.Exprs)
	case *ast.BreakStmt:
		return nil
	default:
		return disallowed(stmt, "unsupported statement")
	}
}

func (w *walker) exprs(exprs []ast.Expr) error {
	for _, expr := range exprs {
		if expr == nil {
			continue
		}
		if err := w.expr(expr); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) expr(expr ast.Expr) error {
	switch ex := expr.(type) {
	case *ast.TrueExpr, *ast.FalseExpr, *ast.NilExpr,
		*ast.NumberExpr, *ast.StringExpr, *ast.Comma3Expr:
		return nil
	case *ast.IdentExpr:
		if w.bound(ex.Value) || allowedGlobals[ex.Value] {
			return nil
		}
		return disallowed(ex, "identifier %q is outside the sandbox capability surface", ex.Value)
	case *ast.AttrGetExpr:
		if err := w.expr(ex.Object); err != nil {
			return err
		}
		return w.expr(ex.Key)
	case *ast.TableExpr:
		for _, field := range ex.Fields {
			if field.Key != nil {
				if err := w.expr(field.Key); err != nil {
					return err
				}
			}
			if err := w.expr(field.Value); err != nil {
				return err
			}
		}
		return nil
	case *ast.FuncCallExpr:
		if ex.Func != nil {
			if err := w.expr(ex.Func); err != nil {
				return err
			}
		}
		if ex.Receiver != nil {
			if err := w.expr(ex.Receiver); err != nil {
				return err
			}
		}
		return w.exprs(ex.Args)
	case *ast.LogicalOpExpr:
		if err := w.expr(ex.Lhs); err != nil {
			return err
		}
		return w.expr(ex.Rhs)
	case *ast.RelationalOpExpr:
		if err := w.expr(ex.Lhs); err != nil {
			return err
		}
		return w.expr(ex.Rhs)
	case *ast.StringConcatOpExpr:
		if err := w.expr(ex.Lhs); err != nil {
			return err
		}
		return w.expr(ex.Rhs)
	case *ast.ArithmeticOpExpr:
		if err := w.expr(ex.Lhs); err != nil {
			return err
		}
		return w.expr(ex.Rhs)
	case *ast.UnaryMinusOpExpr:
		return w.expr(ex.Expr)
	case *ast.UnaryNotOpExpr:
		return w.expr(ex.Expr)
	case *ast.UnaryLenOpExpr:
		return w.expr(ex.Expr)
	case *ast.FunctionExpr:
		return w.function(ex, false)
	default:
		return disallowed(expr, "unsupported expression")
	}
}

func (w *walker) function(fn *ast.FunctionExpr, method bool) error {
	w.push()
	defer w.pop()
	if method {
		w.declare("self")
	}
	if fn.ParList != nil {
		for _, name := range fn.ParList.Names {
			w.declare(name)
		}
	}
	return w.stmts(fn.Stmts)
}
