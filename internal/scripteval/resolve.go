package scripteval

import (
	"fmt"
	"go/ast"
	"go/token"
	"strconv"
	"strings"
)

// resolvePath walks a selector/index chain like
// input0.results.0.count back to a scalar value inside execCtx.
// inputN refers to execCtx.Inputs[N], the monitor's Nth collected input;
// "results" is the collected document slice; a numeric segment
// indexes into it; the final segment is a document field name.
func resolvePath(expr ast.Expr, execCtx ExecutionContext) (interface{}, error) {
	segments, err := pathSegments(expr)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("empty path expression")
	}

	inputIdx, err := parseInputRef(segments[0])
	if err != nil {
		return nil, err
	}
	if inputIdx < 0 || inputIdx >= len(execCtx.Inputs) {
		return nil, fmt.Errorf("input reference %q out of range", segments[0])
	}
	input := execCtx.Inputs[inputIdx]
	if input.Error != nil {
		return nil, fmt.Errorf("input %d failed: %w", inputIdx, input.Error)
	}

	if len(segments) == 1 {
		return float64(len(input.Results)), nil
	}
	if segments[1] != "results" {
		return nil, fmt.Errorf("unsupported field %q on input reference", segments[1])
	}
	if len(segments) == 2 {
		return float64(len(input.Results)), nil
	}

	docIdx, err := strconv.Atoi(segments[2])
	if err != nil {
		return nil, fmt.Errorf("expected a numeric document index, got %q", segments[2])
	}
	if docIdx < 0 || docIdx >= len(input.Results) {
		return nil, fmt.Errorf("document index %d out of range", docIdx)
	}
	doc := input.Results[docIdx]

	if len(segments) == 3 {
		return doc, nil
	}
	field := strings.Join(segments[3:], ".")
	v, ok := doc[field]
	if !ok {
		return nil, fmt.Errorf("field %q not present in document", field)
	}
	return v, nil
}

func parseInputRef(s string) (int, error) {
	if !strings.HasPrefix(s, "input") {
		return 0, fmt.Errorf("expected an input reference like input0, got %q", s)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, "input"))
	if err != nil {
		return 0, fmt.Errorf("invalid input reference %q", s)
	}
	return n, nil
}

// pathSegments flattens a SelectorExpr/IndexExpr chain into ordered
// name/index tokens, root first.
func pathSegments(expr ast.Expr) ([]string, error) {
	switch n := expr.(type) {
	case *ast.Ident:
		return []string{n.Name}, nil
	case *ast.SelectorExpr:
		base, err := pathSegments(n.X)
		if err != nil {
			return nil, err
		}
		return append(base, n.Sel.Name), nil
	case *ast.IndexExpr:
		base, err := pathSegments(n.X)
		if err != nil {
			return nil, err
		}
		lit, ok := n.Index.(*ast.BasicLit)
		if !ok {
			return nil, fmt.Errorf("index expression must be a literal")
		}
		return append(base, lit.Value), nil
	default:
		return nil, fmt.Errorf("unsupported path element %T", expr)
	}
}

func literalValue(lit *ast.BasicLit) (interface{}, error) {
	switch lit.Kind {
	case token.INT, token.FLOAT:
		f, err := strconv.ParseFloat(lit.Value, 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	case token.STRING:
		s, err := strconv.Unquote(lit.Value)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported literal kind %v", lit.Kind)
	}
}

func compare(op token.Token, left, right interface{}) (bool, error) {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch op {
		case token.EQL:
			return lf == rf, nil
		case token.NEQ:
			return lf != rf, nil
		case token.LSS:
			return lf < rf, nil
		case token.LEQ:
			return lf <= rf, nil
		case token.GTR:
			return lf > rf, nil
		case token.GEQ:
			return lf >= rf, nil
		}
	}

	ls, lsok := left.(string)
	rs, rsok := right.(string)
	if lsok && rsok {
		switch op {
		case token.EQL:
			return ls == rs, nil
		case token.NEQ:
			return ls != rs, nil
		}
	}

	if op == token.EQL {
		return left == right, nil
	}
	if op == token.NEQ {
		return left != right, nil
	}
	return false, fmt.Errorf("cannot compare %T and %T with %s", left, right, op)
}

func arithmetic(op token.Token, left, right interface{}) (interface{}, error) {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return nil, fmt.Errorf("arithmetic requires numeric operands, got %T and %T", left, right)
	}
	switch op {
	case token.ADD:
		return lf + rf, nil
	case token.SUB:
		return lf - rf, nil
	case token.MUL:
		return lf * rf, nil
	case token.QUO:
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	default:
		return nil, fmt.Errorf("unsupported arithmetic operator %s", op)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
