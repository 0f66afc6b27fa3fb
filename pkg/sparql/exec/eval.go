package exec

import (
	"github.com/relique/qdb/pkg/qdberr"
	"github.com/relique/qdb/pkg/quadstore"
	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/sparql/algebra"
	"github.com/relique/qdb/pkg/xsd"
)

// Evaluator evaluates SPARQL value expressions against one binding at a
// time. It also builds sub-iterators for EXISTS/NOT EXISTS, so it shares the
// transaction and limits the surrounding plan runs under.
type Evaluator struct {
	txn    *quadstore.Transaction
	limits *Limits
	custom map[string]CustomFunc
}

func NewEvaluator(txn *quadstore.Transaction, limits *Limits) *Evaluator {
	return &Evaluator{txn: txn, limits: limits}
}

// RegisterFunction installs a custom extension function reachable from
// SPARQL expressions as <iri>(args...), spec.md §4.6.
func (ev *Evaluator) RegisterFunction(iri string, fn CustomFunc) {
	if ev.custom == nil {
		ev.custom = map[string]CustomFunc{}
	}
	ev.custom[iri] = fn
}

// Eval evaluates expr under binding b. Errors here are "type errors" in
// SPARQL terms: callers that treat a FILTER/BIND argument as optional
// (e.g. FILTER silently excludes a solution on error) must catch them,
// not propagate them as query failures.
func (ev *Evaluator) Eval(expr algebra.Expression, b Binding) (rdf.Term, error) {
	switch e := expr.(type) {
	case algebra.VarExpr:
		v, ok := b[e.Var]
		if !ok {
			return nil, qdberr.Evalf("unbound variable ?%s", e.Var)
		}
		return v, nil
	case algebra.LiteralExpr:
		if e.Term == nil {
			return nil, qdberr.Evalf("missing aggregate operand outside aggregate context")
		}
		return e.Term, nil
	case algebra.BoundExpr:
		_, ok := b[e.Var]
		return rdf.NewBooleanLiteral(ok), nil
	case algebra.UnaryExpr:
		return ev.evalUnary(e, b)
	case algebra.BinaryExpr:
		return ev.evalBinary(e, b)
	case algebra.CallExpr:
		return ev.callFunction(e.Func, e.Args, b)
	case algebra.IfExpr:
		c, err := ev.Eval(e.Cond, b)
		if err != nil {
			return nil, err
		}
		ok, err := ebv(c)
		if err != nil {
			return nil, err
		}
		if ok {
			return ev.Eval(e.Then, b)
		}
		return ev.Eval(e.Else, b)
	case algebra.InExpr:
		return ev.evalIn(e, b)
	case algebra.ExistsExpr:
		return ev.evalExists(e, b)
	default:
		return nil, qdberr.Evalf("unsupported expression %T", expr)
	}
}

func (ev *Evaluator) evalUnary(e algebra.UnaryExpr, b Binding) (rdf.Term, error) {
	v, err := ev.Eval(e.Expr, b)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case algebra.OpNot:
		ok, err := ebv(v)
		if err != nil {
			return nil, err
		}
		return rdf.NewBooleanLiteral(!ok), nil
	case algebra.OpPlus:
		if !isNumeric(v) {
			return nil, qdberr.Evalf("unary + requires a numeric operand")
		}
		return v, nil
	case algebra.OpNeg:
		return numericResult(v, v, func(x, _ float64) float64 { return -x })
	default:
		return nil, qdberr.Evalf("unsupported unary operator")
	}
}

func (ev *Evaluator) evalBinary(e algebra.BinaryExpr, b Binding) (rdf.Term, error) {
	switch e.Op {
	case algebra.OpOr:
		return ev.evalOr(e, b)
	case algebra.OpAnd:
		return ev.evalAnd(e, b)
	}
	l, err := ev.Eval(e.Left, b)
	if err != nil {
		return nil, err
	}
	r, err := ev.Eval(e.Right, b)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case algebra.OpEq:
		ok, err := valueEquals(l, r)
		if err != nil {
			return nil, err
		}
		return rdf.NewBooleanLiteral(ok), nil
	case algebra.OpNeq:
		ok, err := valueEquals(l, r)
		if err != nil {
			return nil, err
		}
		return rdf.NewBooleanLiteral(!ok), nil
	case algebra.OpLt, algebra.OpLe, algebra.OpGt, algebra.OpGe:
		c, err := compareValues(l, r)
		if err != nil {
			return nil, err
		}
		var ok bool
		switch e.Op {
		case algebra.OpLt:
			ok = c < 0
		case algebra.OpLe:
			ok = c <= 0
		case algebra.OpGt:
			ok = c > 0
		case algebra.OpGe:
			ok = c >= 0
		}
		return rdf.NewBooleanLiteral(ok), nil
	case algebra.OpAdd:
		return numericResult(l, r, func(x, y float64) float64 { return x + y })
	case algebra.OpSub:
		return numericResult(l, r, func(x, y float64) float64 { return x - y })
	case algebra.OpMul:
		return numericResult(l, r, func(x, y float64) float64 { return x * y })
	case algebra.OpDiv:
		ll, lok := l.(*rdf.Literal)
		rl, rok := r.(*rdf.Literal)
		if lok && rok && ll.Datatype != nil && rl.Datatype != nil &&
			ll.Datatype.IRI == rdf.XSDInteger.IRI && rl.Datatype.IRI == rdf.XSDInteger.IRI {
			x, xerr := xsd.ParseDecimal(ll.Value)
			y, yerr := xsd.ParseDecimal(rl.Value)
			if xerr != nil || yerr != nil {
				return nil, qdberr.Evalf("arithmetic requires numeric operands")
			}
			q, err := x.Div(y)
			if err != nil {
				return nil, qdberr.Evalf("division by zero")
			}
			return rdf.NewLiteralWithDatatype(q.String(), rdf.XSDDecimal), nil
		}
		return numericResult(l, r, func(x, y float64) float64 { return x / y })
	default:
		return nil, qdberr.Evalf("unsupported binary operator")
	}
}

// evalOr implements SPARQL's three-valued-logic OR: a type error on one
// side doesn't fail the whole expression if the other side is true.
func (ev *Evaluator) evalOr(e algebra.BinaryExpr, b Binding) (rdf.Term, error) {
	lv, lerr := ev.Eval(e.Left, b)
	if lerr == nil {
		if ok, err := ebv(lv); err == nil && ok {
			return rdf.NewBooleanLiteral(true), nil
		}
	}
	rv, rerr := ev.Eval(e.Right, b)
	if rerr == nil {
		if ok, err := ebv(rv); err == nil && ok {
			return rdf.NewBooleanLiteral(true), nil
		}
	}
	if lerr != nil {
		return nil, lerr
	}
	if rerr != nil {
		return nil, rerr
	}
	return rdf.NewBooleanLiteral(false), nil
}

func (ev *Evaluator) evalAnd(e algebra.BinaryExpr, b Binding) (rdf.Term, error) {
	lv, lerr := ev.Eval(e.Left, b)
	if lerr == nil {
		if ok, err := ebv(lv); err == nil && !ok {
			return rdf.NewBooleanLiteral(false), nil
		}
	}
	rv, rerr := ev.Eval(e.Right, b)
	if rerr == nil {
		if ok, err := ebv(rv); err == nil && !ok {
			return rdf.NewBooleanLiteral(false), nil
		}
	}
	if lerr != nil {
		return nil, lerr
	}
	if rerr != nil {
		return nil, rerr
	}
	return rdf.NewBooleanLiteral(true), nil
}

func (ev *Evaluator) evalIn(e algebra.InExpr, b Binding) (rdf.Term, error) {
	v, err := ev.Eval(e.Expr, b)
	if err != nil {
		return nil, err
	}
	sawErr := false
	found := false
	for _, cand := range e.List {
		cv, err := ev.Eval(cand, b)
		if err != nil {
			sawErr = true
			continue
		}
		ok, err := valueEquals(v, cv)
		if err != nil {
			sawErr = true
			continue
		}
		if ok {
			found = true
			break
		}
	}
	if !found && sawErr {
		return nil, qdberr.Evalf("IN: error comparing against at least one candidate")
	}
	result := found
	if e.Negate {
		result = !found
	}
	return rdf.NewBooleanLiteral(result), nil
}

func (ev *Evaluator) evalExists(e algebra.ExistsExpr, b Binding) (rdf.Term, error) {
	it, err := Build(e.Pattern, ev.txn, ev.limits)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	it = &seedIterator{inner: it, seed: b}
	found := it.Next()
	if found {
		_ = it.Close()
	}
	ok := found
	if e.Negate {
		ok = !found
	}
	return rdf.NewBooleanLiteral(ok), nil
}
