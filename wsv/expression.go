package wsv

import (
	"fmt"
	"math/big"

	"github.com/kagami-chain/kagami/isi"
)

// Context maps expression context-value names to bound values, scoped by
// a Where expression. Bindings are evaluated and added to the context one
// at a time, so a later binding may reference an earlier one, but never
// the reverse.
type Context map[string]Value

// Clone returns a shallow copy of the context suitable for entering a
// nested Where scope without mutating the caller's bindings.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Eval evaluates an expression tree against ctx.
func Eval(expr isi.ExpressionBox, ctx Context) (Value, error) {
	switch expr.Kind {
	case isi.ExprRaw:
		return evalRaw(expr.Raw)
	case isi.ExprContextValue:
		v, ok := ctx[expr.ContextKey]
		if !ok {
			return Value{}, &ExecutionError{Kind: "FindError", Cause: fmt.Errorf("context value %q not bound", expr.ContextKey)}
		}
		return v, nil
	case isi.ExprIf:
		cond, err := Eval(*expr.Condition, ctx)
		if err != nil {
			return Value{}, err
		}
		b, err := cond.AsBool()
		if err != nil {
			return Value{}, err
		}
		if b {
			return Eval(*expr.Then, ctx)
		}
		return Eval(*expr.Else, ctx)
	case isi.ExprWhere:
		scoped := ctx.Clone()
		for _, binding := range expr.Bindings {
			v, err := Eval(binding.Value, scoped)
			if err != nil {
				return Value{}, err
			}
			scoped[binding.Name] = v
		}
		return Eval(*expr.Body, scoped)
	case isi.ExprNot:
		v, err := Eval(*expr.Left, ctx)
		if err != nil {
			return Value{}, err
		}
		b, err := v.AsBool()
		if err != nil {
			return Value{}, err
		}
		return BoolValue(!b), nil
	case isi.ExprAnd, isi.ExprOr:
		l, err := Eval(*expr.Left, ctx)
		if err != nil {
			return Value{}, err
		}
		r, err := Eval(*expr.Right, ctx)
		if err != nil {
			return Value{}, err
		}
		lb, err := l.AsBool()
		if err != nil {
			return Value{}, err
		}
		rb, err := r.AsBool()
		if err != nil {
			return Value{}, err
		}
		if expr.Kind == isi.ExprAnd {
			return BoolValue(lb && rb), nil
		}
		return BoolValue(lb || rb), nil
	case isi.ExprEqual:
		l, err := Eval(*expr.Left, ctx)
		if err != nil {
			return Value{}, err
		}
		r, err := Eval(*expr.Right, ctx)
		if err != nil {
			return Value{}, err
		}
		return BoolValue(l.Equal(r)), nil
	case isi.ExprGreater, isi.ExprGreaterOrEqual, isi.ExprLess, isi.ExprLessOrEqual:
		return evalCompare(expr, ctx)
	case isi.ExprContains, isi.ExprContainsAll, isi.ExprContainsAny:
		return evalContains(expr, ctx)
	default:
		return Value{}, fmt.Errorf("wsv: unknown expression kind %d", expr.Kind)
	}
}

func evalRaw(raw isi.RawValue) (Value, error) {
	switch raw.Kind {
	case isi.RawBool:
		return BoolValue(raw.Bool), nil
	case isi.RawString:
		return StringValue(raw.String), nil
	case isi.RawBytes:
		return StringValue(string(raw.Bytes)), nil
	case isi.RawU32:
		return NumericValue(AssetValue{Kind: KindU32, U32: raw.U32}), nil
	case isi.RawU128:
		n, ok := new(big.Int).SetString(raw.String, 10)
		if !ok {
			return Value{}, fmt.Errorf("wsv: invalid u128 literal %q", raw.String)
		}
		u, err := NewU128(n)
		if err != nil {
			return Value{}, err
		}
		return NumericValue(AssetValue{Kind: KindU128, U128: u}), nil
	case isi.RawFixed:
		n, ok := new(big.Int).SetString(raw.String, 10)
		if !ok {
			return Value{}, fmt.Errorf("wsv: invalid fixed literal %q", raw.String)
		}
		return NumericValue(AssetValue{Kind: KindFixed, Fixed: NewFixed(n)}), nil
	case isi.RawVec:
		vals := make([]Value, 0, len(raw.Vec))
		for _, sub := range raw.Vec {
			v, err := Eval(sub, nil)
			if err != nil {
				return Value{}, err
			}
			vals = append(vals, v)
		}
		return VecValue(vals), nil
	default:
		return Value{}, fmt.Errorf("wsv: unknown raw kind %d", raw.Kind)
	}
}

func evalCompare(expr isi.ExpressionBox, ctx Context) (Value, error) {
	l, err := Eval(*expr.Left, ctx)
	if err != nil {
		return Value{}, err
	}
	r, err := Eval(*expr.Right, ctx)
	if err != nil {
		return Value{}, err
	}
	ln, err := l.AsNumeric()
	if err != nil {
		return Value{}, err
	}
	rn, err := r.AsNumeric()
	if err != nil {
		return Value{}, err
	}
	cmp := ln.Compare(rn)
	switch expr.Kind {
	case isi.ExprGreater:
		return BoolValue(cmp > 0), nil
	case isi.ExprGreaterOrEqual:
		return BoolValue(cmp >= 0), nil
	case isi.ExprLess:
		return BoolValue(cmp < 0), nil
	default: // ExprLessOrEqual
		return BoolValue(cmp <= 0), nil
	}
}

func evalContains(expr isi.ExpressionBox, ctx Context) (Value, error) {
	container, err := Eval(*expr.Left, ctx)
	if err != nil {
		return Value{}, err
	}
	vec, err := container.AsVec()
	if err != nil {
		return Value{}, err
	}
	needle, err := Eval(*expr.Right, ctx)
	if err != nil {
		return Value{}, err
	}
	switch expr.Kind {
	case isi.ExprContains:
		for _, v := range vec {
			if v.Equal(needle) {
				return BoolValue(true), nil
			}
		}
		return BoolValue(false), nil
	case isi.ExprContainsAll:
		needles, err := needle.AsVec()
		if err != nil {
			return Value{}, err
		}
		for _, n := range needles {
			found := false
			for _, v := range vec {
				if v.Equal(n) {
					found = true
					break
				}
			}
			if !found {
				return BoolValue(false), nil
			}
		}
		return BoolValue(true), nil
	default: // ExprContainsAny
		needles, err := needle.AsVec()
		if err != nil {
			return Value{}, err
		}
		for _, n := range needles {
			for _, v := range vec {
				if v.Equal(n) {
					return BoolValue(true), nil
				}
			}
		}
		return BoolValue(false), nil
	}
}
