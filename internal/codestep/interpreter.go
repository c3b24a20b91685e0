package codestep

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"time"
)

// unrecognizedCallError is returned when a statement's call target is not one
// of the allowlisted page/expect/timer forms.
type unrecognizedCallError struct {
	detail string
}

func (e *unrecognizedCallError) Error() string {
	return fmt.Sprintf("codestep: unrecognized call %s", e.detail)
}

// parseCallStatement parses stmt as a single Go expression statement and
// requires it to be a call expression — the only statement shape this
// sandbox ever executes. Anything else (assignment, declaration, control
// flow, a bare identifier) is rejected here, before the walker ever sees it.
func parseCallStatement(stmt string) (*ast.CallExpr, error) {
	expr, err := parser.ParseExprFrom(token.NewFileSet(), "", stmt, 0)
	if err != nil {
		return nil, fmt.Errorf("codestep: parse statement: %w", err)
	}
	call, ok := expr.(*ast.CallExpr)
	if !ok {
		return nil, &unrecognizedCallError{detail: fmt.Sprintf("statement is not a call: %q", stmt)}
	}
	return call, nil
}

// interpreter walks a single parsed call expression and dispatches it to
// the page proxy, the expect facade, or a wrapped timer primitive. It
// recognizes exactly three call shapes: `page.Method(args...)`,
// `expect.Method(args...)`, and bare built-ins (`sleep(ms)`).
type interpreter struct {
	page   *pageProxy
	expect Expect
	vars   map[string]string
	files  map[string]string
}

func (in *interpreter) exec(ctx context.Context, call *ast.CallExpr) error {
	switch fn := call.Fun.(type) {
	case *ast.SelectorExpr:
		recv, ok := fn.X.(*ast.Ident)
		if !ok {
			return &unrecognizedCallError{detail: "selector receiver must be a bare identifier"}
		}
		args, err := in.evalArgs(call.Args)
		if err != nil {
			return err
		}
		switch recv.Name {
		case "page":
			return in.dispatchPage(ctx, fn.Sel.Name, args)
		case "expect":
			return in.dispatchExpect(ctx, fn.Sel.Name, args)
		default:
			return &unrecognizedCallError{detail: fmt.Sprintf("unknown receiver %q", recv.Name)}
		}
	case *ast.Ident:
		args, err := in.evalArgs(call.Args)
		if err != nil {
			return err
		}
		return in.dispatchBuiltin(ctx, fn.Name, args)
	default:
		return &unrecognizedCallError{detail: "call target must be page.*, expect.*, or a built-in function"}
	}
}

// evalArgs resolves each argument expression to a string. Only string and
// integer literals and vars["name"]/files["name"] index expressions are
// permitted; anything else (a function call, a binary expression, a
// composite literal) is rejected.
func (in *interpreter) evalArgs(exprs []ast.Expr) ([]string, error) {
	out := make([]string, len(exprs))
	for i, e := range exprs {
		v, err := in.evalArg(e)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (in *interpreter) evalArg(e ast.Expr) (string, error) {
	switch n := e.(type) {
	case *ast.BasicLit:
		switch n.Kind {
		case token.STRING:
			return strconv.Unquote(n.Value)
		case token.INT:
			return n.Value, nil
		default:
			return "", &unrecognizedCallError{detail: fmt.Sprintf("unsupported literal kind %s", n.Kind)}
		}
	case *ast.IndexExpr:
		base, ok := n.X.(*ast.Ident)
		if !ok {
			return "", &unrecognizedCallError{detail: "index expression base must be vars or files"}
		}
		key, err := in.evalArg(n.Index)
		if err != nil {
			return "", err
		}
		switch base.Name {
		case "vars":
			val, ok := in.vars[key]
			if !ok {
				return "", fmt.Errorf("codestep: unknown variable %q", key)
			}
			return val, nil
		case "files":
			val, ok := in.files[key]
			if !ok {
				return "", fmt.Errorf("codestep: unknown file reference %q", key)
			}
			return val, nil
		default:
			return "", &unrecognizedCallError{detail: fmt.Sprintf("unknown map %q, expected vars or files", base.Name)}
		}
	default:
		return "", &unrecognizedCallError{detail: fmt.Sprintf("unsupported argument expression %T", e)}
	}
}

func (in *interpreter) dispatchPage(ctx context.Context, method string, args []string) error {
	switch method {
	case "Goto":
		if len(args) != 1 {
			return argCountError("page.Goto", 1, len(args))
		}
		return in.page.Goto(ctx, args[0])
	case "Click":
		if len(args) != 1 {
			return argCountError("page.Click", 1, len(args))
		}
		return in.page.Click(ctx, args[0])
	case "Fill":
		if len(args) != 2 {
			return argCountError("page.Fill", 2, len(args))
		}
		return in.page.Fill(ctx, args[0], args[1])
	case "Screenshot":
		if len(args) != 1 {
			return argCountError("page.Screenshot", 1, len(args))
		}
		return in.page.Screenshot(ctx, args[0])
	case "WaitForSelector":
		if len(args) != 1 {
			return argCountError("page.WaitForSelector", 1, len(args))
		}
		return in.page.WaitForSelector(ctx, args[0])
	case "SetInputFiles":
		if len(args) < 2 {
			return argCountError("page.SetInputFiles", 2, len(args))
		}
		return in.page.SetInputFiles(ctx, args[0], args[1:]...)
	default:
		return &unrecognizedCallError{detail: fmt.Sprintf("page.%s is not allowlisted", method)}
	}
}

func (in *interpreter) dispatchExpect(ctx context.Context, method string, args []string) error {
	switch method {
	case "ToBeVisible":
		if len(args) != 1 {
			return argCountError("expect.ToBeVisible", 1, len(args))
		}
		return in.expect.ToBeVisible(ctx, args[0])
	case "ToHaveText":
		if len(args) != 2 {
			return argCountError("expect.ToHaveText", 2, len(args))
		}
		return in.expect.ToHaveText(ctx, args[0], args[1])
	case "ToContainText":
		if len(args) != 2 {
			return argCountError("expect.ToContainText", 2, len(args))
		}
		return in.expect.ToContainText(ctx, args[0], args[1])
	default:
		return &unrecognizedCallError{detail: fmt.Sprintf("expect.%s is not allowlisted", method)}
	}
}

// dispatchBuiltin handles bare function calls. sleep is the only timer
// primitive exposed; it is wrapped in a select on ctx so a cancelled or
// timed-out statement context always wins over the sleep duration,
// guaranteeing cleanup instead of leaking a bare time.Sleep.
func (in *interpreter) dispatchBuiltin(ctx context.Context, name string, args []string) error {
	switch name {
	case "sleep":
		if len(args) != 1 {
			return argCountError("sleep", 1, len(args))
		}
		ms, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("codestep: sleep argument must be an integer number of milliseconds: %w", err)
		}
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		return &unrecognizedCallError{detail: fmt.Sprintf("%q is not an allowlisted built-in", name)}
	}
}

func argCountError(fn string, want, got int) error {
	return fmt.Errorf("codestep: %s expects %d argument(s), got %d", fn, want, got)
}
