// Package scripteval compiles and runs trigger condition scripts.
//
// No scripting/expression library (govaluate, expr-lang, otto, goja,
// or similar) exists anywhere in this module's dependency corpus, so
// the condition language is a small boolean-expression subset of Go
// expression syntax, parsed with the standard library's own go/parser
// and evaluated by walking the resulting go/ast tree. This is the one
// component in this module built on stdlib alone for lack of any
// grounded third-party alternative.
package scripteval

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"monitorrunner/internal/cache"
	apperrors "monitorrunner/internal/errors"
	"monitorrunner/internal/models"
)

// ExecutionContext is the binding set a trigger condition executes
// against: one entry per input, holding that input's collected
// documents plus any computed aggregation fields a condition can
// reference by name (e.g. "input0.results.0.count"), plus the
// monitor's period bounds as bare identifiers (periodStart, periodEnd).
type ExecutionContext struct {
	Inputs      []models.InputRunResult
	MonitorName string
	TriggerName string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Evaluator compiles trigger conditions (with AST caching) and
// evaluates them against an ExecutionContext.
type Evaluator struct {
	asts   *cache.Compiled
	logger *logrus.Logger
}

func New(asts *cache.Compiled, logger *logrus.Logger) *Evaluator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Evaluator{asts: asts, logger: logger}
}

// Evaluate runs a trigger's condition. A compile or evaluation failure
// never returns a bare error — per spec.md §4.4 it is folded into a
// TriggerRunResult with triggered forced to true, so the failure
// surfaces as a visible error alert rather than being silently
// swallowed.
func (e *Evaluator) Evaluate(ctx context.Context, trigger models.Trigger, execCtx ExecutionContext) models.TriggerRunResult {
	result := models.TriggerRunResult{
		TriggerName:   trigger.Name,
		ActionResults: make(map[string]models.ActionRunResult),
	}

	expr, err := e.compile(trigger.ID, trigger.Condition)
	if err != nil {
		result.Triggered = true
		result.Error = apperrors.NewTriggerScriptError(err, trigger.ID)
		return result
	}

	triggered, err := evalBool(expr, execCtx)
	if err != nil {
		result.Triggered = true
		result.Error = apperrors.NewTriggerScriptError(err, trigger.ID)
		return result
	}

	result.Triggered = triggered
	return result
}

func (e *Evaluator) compile(triggerID, condition string) (ast.Expr, error) {
	key := "trigger:" + triggerID
	if cached, ok := e.asts.Get(key); ok {
		if c, ok := cached.(compiledCondition); ok && c.source == condition {
			return c.expr, nil
		}
	}
	expr, err := parser.ParseExpr(dottedIndex.ReplaceAllString(condition, "$1[$2]"))
	if err != nil {
		return nil, err
	}
	e.asts.Set(key, compiledCondition{source: condition, expr: expr})
	return expr, nil
}

// compiledCondition keeps a parsed condition beside the source it came
// from, so an edited condition under the same trigger ID is reparsed.
type compiledCondition struct {
	source string
	expr   ast.Expr
}

// dottedIndex matches a document index written as a dotted segment
// (input0.results.0). Go's scanner reads ".0" as a float literal, so
// such segments are rewritten to index form (input0.results[0]) before
// parsing.
var dottedIndex = regexp.MustCompile(`\b(input[0-9]+\.results)\.([0-9]+)\b`)

// evalBool walks a parsed boolean expression tree, resolving
// identifiers and selector chains against the execution context.
func evalBool(expr ast.Expr, execCtx ExecutionContext) (bool, error) {
	v, err := evalValue(expr, execCtx)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("condition did not evaluate to a boolean, got %T", v)
	}
	return b, nil
}

func evalValue(expr ast.Expr, execCtx ExecutionContext) (interface{}, error) {
	switch n := expr.(type) {
	case *ast.ParenExpr:
		return evalValue(n.X, execCtx)

	case *ast.Ident:
		switch n.Name {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "periodStart":
			return float64(execCtx.PeriodStart.UnixMilli()), nil
		case "periodEnd":
			return float64(execCtx.PeriodEnd.UnixMilli()), nil
		}
		return nil, fmt.Errorf("unbound identifier %q", n.Name)

	case *ast.BasicLit:
		return literalValue(n)

	case *ast.UnaryExpr:
		if n.Op == token.NOT {
			v, err := evalValue(n.X, execCtx)
			if err != nil {
				return nil, err
			}
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("operand of ! is not boolean")
			}
			return !b, nil
		}
		return nil, fmt.Errorf("unsupported unary operator %s", n.Op)

	case *ast.BinaryExpr:
		return evalBinary(n, execCtx)

	case *ast.SelectorExpr, *ast.IndexExpr:
		return resolvePath(expr, execCtx)

	case *ast.CallExpr:
		return evalCall(n, execCtx)

	default:
		return nil, fmt.Errorf("unsupported expression %T", expr)
	}
}

func evalBinary(n *ast.BinaryExpr, execCtx ExecutionContext) (interface{}, error) {
	switch n.Op {
	case token.LAND, token.LOR:
		left, err := evalValue(n.X, execCtx)
		if err != nil {
			return nil, err
		}
		lb, ok := left.(bool)
		if !ok {
			return nil, fmt.Errorf("left operand of %s is not boolean", n.Op)
		}
		if n.Op == token.LAND && !lb {
			return false, nil
		}
		if n.Op == token.LOR && lb {
			return true, nil
		}
		right, err := evalValue(n.Y, execCtx)
		if err != nil {
			return nil, err
		}
		rb, ok := right.(bool)
		if !ok {
			return nil, fmt.Errorf("right operand of %s is not boolean", n.Op)
		}
		return rb, nil

	case token.EQL, token.NEQ, token.LSS, token.LEQ, token.GTR, token.GEQ:
		left, err := evalValue(n.X, execCtx)
		if err != nil {
			return nil, err
		}
		right, err := evalValue(n.Y, execCtx)
		if err != nil {
			return nil, err
		}
		return compare(n.Op, left, right)

	case token.ADD, token.SUB, token.MUL, token.QUO:
		left, err := evalValue(n.X, execCtx)
		if err != nil {
			return nil, err
		}
		right, err := evalValue(n.Y, execCtx)
		if err != nil {
			return nil, err
		}
		return arithmetic(n.Op, left, right)

	default:
		return nil, fmt.Errorf("unsupported binary operator %s", n.Op)
	}
}

func evalCall(n *ast.CallExpr, execCtx ExecutionContext) (interface{}, error) {
	fn, ok := n.Fun.(*ast.Ident)
	if !ok {
		return nil, fmt.Errorf("unsupported call expression")
	}
	switch fn.Name {
	case "len":
		if len(n.Args) != 1 {
			return nil, fmt.Errorf("len takes exactly one argument")
		}
		v, err := evalValue(n.Args[0], execCtx)
		if err != nil {
			return nil, err
		}
		switch typed := v.(type) {
		case float64:
			// inputN and inputN.results already resolve to their document count.
			return typed, nil
		case []map[string]interface{}:
			return float64(len(typed)), nil
		case []interface{}:
			return float64(len(typed)), nil
		case string:
			return float64(len(typed)), nil
		default:
			return nil, fmt.Errorf("len() unsupported for %T", v)
		}

	case "contains":
		if len(n.Args) != 2 {
			return nil, fmt.Errorf("contains takes exactly two arguments")
		}
		haystack, err := evalValue(n.Args[0], execCtx)
		if err != nil {
			return nil, err
		}
		needle, err := evalValue(n.Args[1], execCtx)
		if err != nil {
			return nil, err
		}
		switch typed := haystack.(type) {
		case string:
			s, ok := needle.(string)
			if !ok {
				return nil, fmt.Errorf("contains() on a string requires a string needle, got %T", needle)
			}
			return strings.Contains(typed, s), nil
		case []interface{}:
			for _, item := range typed {
				if item == needle {
					return true, nil
				}
			}
			return false, nil
		default:
			return nil, fmt.Errorf("contains() unsupported for %T", haystack)
		}

	default:
		return nil, fmt.Errorf("unsupported function %q", fn.Name)
	}
}
