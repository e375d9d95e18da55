package value

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/feral-lang/feral/pkg/lexer"
)

// ErrTypeMismatch is returned for operator/operand combinations the runtime doesn't
// define (e.g. bool + vec).
var ErrTypeMismatch = errors.New("operand types not valid for this operator")

// BinaryOp evaluates 'lhs op rhs' for the binary operator tokens pkg/simplify's
// constant folder and pkg/vm's CALL-free arithmetic path both need to agree on
// (§9 Open Question 2 requires both paths to share one implementation, hence this
// single function rather than one copy per caller).
func BinaryOp(op lexer.Kind, lhs, rhs Value) (Value, error) {
	switch op {
	case lexer.Plus:
		return add(lhs, rhs)
	case lexer.Minus:
		return numeric(lhs, rhs, func(a, b int64) int64 { return a - b }, func(a, b decimal.Decimal) decimal.Decimal { return a.Sub(b) })
	case lexer.Star:
		return mul(lhs, rhs)
	case lexer.Slash:
		return divide(lhs, rhs)
	case lexer.IntDiv:
		return numeric(lhs, rhs, func(a, b int64) int64 {
			if b == 0 {
				return 0
			}
			return a / b
		}, func(a, b decimal.Decimal) decimal.Decimal {
			if b.IsZero() {
				return decimal.Zero
			}
			return a.Div(b).Truncate(0)
		})
	case lexer.Percent:
		return numeric(lhs, rhs, func(a, b int64) int64 {
			if b == 0 {
				return 0
			}
			return a % b
		}, func(a, b decimal.Decimal) decimal.Decimal {
			if b.IsZero() {
				return decimal.Zero
			}
			return a.Mod(b)
		})
	case lexer.Pow:
		return pow(lhs, rhs)
	case lexer.Shl:
		return intOnly(lhs, rhs, func(a, b int64) int64 { return a << uint(b) })
	case lexer.Shr:
		return intOnly(lhs, rhs, func(a, b int64) int64 { return a >> uint(b) })
	case lexer.BitAnd:
		return intOnly(lhs, rhs, func(a, b int64) int64 { return a & b })
	case lexer.BitOr:
		return intOnly(lhs, rhs, func(a, b int64) int64 { return a | b })
	case lexer.BitXor:
		return intOnly(lhs, rhs, func(a, b int64) int64 { return a ^ b })
	case lexer.And:
		return NewBool(lhs.Truthy() && rhs.Truthy()), nil
	case lexer.Or:
		return NewBool(lhs.Truthy() || rhs.Truthy()), nil
	case lexer.Eq:
		return NewBool(Equal(lhs, rhs)), nil
	case lexer.Ne:
		return NewBool(!Equal(lhs, rhs)), nil
	case lexer.Lt, lexer.Le, lexer.Gt, lexer.Ge:
		return compare(op, lhs, rhs)
	}
	return nil, errors.Errorf("unsupported binary operator %s", op)
}

func add(lhs, rhs Value) (Value, error) {
	if l, ok := lhs.(*StrValue); ok {
		if r, ok := rhs.(*StrValue); ok {
			return NewStr(l.Val + r.Val), nil
		}
	}
	if l, ok := lhs.(*VecValue); ok {
		if r, ok := rhs.(*VecValue); ok {
			out := NewVec(l.Items...)
			out.Items = append(out.Items, r.Items...)
			for _, it := range r.Items {
				it.IncRef()
			}
			return out, nil
		}
	}
	return numeric(lhs, rhs, func(a, b int64) int64 { return a + b }, func(a, b decimal.Decimal) decimal.Decimal { return a.Add(b) })
}

// mul special-cases string*int repetition (§9 Open Question 2: a negative count
// yields the empty string rather than erroring).
func mul(lhs, rhs Value) (Value, error) {
	if s, ok := lhs.(*StrValue); ok {
		if n, ok := rhs.(*IntValue); ok {
			return NewStr(repeatString(s.Val, n.Val)), nil
		}
	}
	if n, ok := lhs.(*IntValue); ok {
		if s, ok := rhs.(*StrValue); ok {
			return NewStr(repeatString(s.Val, n.Val)), nil
		}
	}
	return numeric(lhs, rhs, func(a, b int64) int64 { return a * b }, func(a, b decimal.Decimal) decimal.Decimal { return a.Mul(b) })
}

func repeatString(s string, n int64) string {
	if n <= 0 {
		return ""
	}
	out := make([]byte, 0, len(s)*int(n))
	for i := int64(0); i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

func divide(lhs, rhs Value) (Value, error) {
	l, r, isFlt, ok := coerceNumeric(lhs, rhs)
	if !ok {
		return nil, ErrTypeMismatch
	}
	if isFlt {
		if r.flt.IsZero() {
			return nil, errors.New("division by zero")
		}
		return NewFlt(l.flt.Div(r.flt)), nil
	}
	if r.i == 0 {
		return nil, errors.New("division by zero")
	}
	// Integer '/' still produces a Flt per conventional scripting-language semantics
	// (IntDiv '//' is the truncating sibling, handled separately above).
	return NewFlt(decimal.NewFromInt(l.i).Div(decimal.NewFromInt(r.i))), nil
}

func pow(lhs, rhs Value) (Value, error) {
	l, r, isFlt, ok := coerceNumeric(lhs, rhs)
	if !ok {
		return nil, ErrTypeMismatch
	}
	if isFlt {
		return NewFlt(l.flt.Pow(r.flt)), nil
	}
	result := int64(1)
	base, exp := l.i, r.i
	for i := int64(0); i < exp; i++ {
		result *= base
	}
	return NewInt(result), nil
}

type numVal struct {
	i   int64
	flt decimal.Decimal
}

func coerceNumeric(lhs, rhs Value) (l, r numVal, isFlt bool, ok bool) {
	li, liok := lhs.(*IntValue)
	lf, lfok := lhs.(*FltValue)
	ri, riok := rhs.(*IntValue)
	rf, rfok := rhs.(*FltValue)

	if !liok && !lfok || !riok && !rfok {
		return numVal{}, numVal{}, false, false
	}

	if lfok || rfok {
		lv := lf
		if !lfok {
			lv = &FltValue{Val: decimal.NewFromInt(li.Val)}
		}
		rv := rf
		if !rfok {
			rv = &FltValue{Val: decimal.NewFromInt(ri.Val)}
		}
		return numVal{flt: lv.Val}, numVal{flt: rv.Val}, true, true
	}
	return numVal{i: li.Val}, numVal{i: ri.Val}, false, true
}

func numeric(lhs, rhs Value, intOp func(a, b int64) int64, fltOp func(a, b decimal.Decimal) decimal.Decimal) (Value, error) {
	l, r, isFlt, ok := coerceNumeric(lhs, rhs)
	if !ok {
		return nil, ErrTypeMismatch
	}
	if isFlt {
		return NewFlt(fltOp(l.flt, r.flt)), nil
	}
	return NewInt(intOp(l.i, r.i)), nil
}

func intOnly(lhs, rhs Value, op func(a, b int64) int64) (Value, error) {
	l, ok1 := lhs.(*IntValue)
	r, ok2 := rhs.(*IntValue)
	if !ok1 || !ok2 {
		return nil, ErrTypeMismatch
	}
	return NewInt(op(l.Val, r.Val)), nil
}

// Equal implements value equality across the variants that support it (§3's
// implicit value-equality semantics for ==/!=).
func Equal(lhs, rhs Value) bool {
	if lhs.Kind() != rhs.Kind() {
		// Mixed int/flt comparison is allowed to compare equal on matching magnitude.
		l, r, isFlt, ok := coerceNumeric(lhs, rhs)
		if ok {
			if isFlt {
				return l.flt.Equal(r.flt)
			}
			return l.i == r.i
		}
		return false
	}
	switch l := lhs.(type) {
	case *NilValue:
		return true
	case *BoolValue:
		return l.Val == rhs.(*BoolValue).Val
	case *IntValue:
		return l.Val == rhs.(*IntValue).Val
	case *FltValue:
		return l.Val.Equal(rhs.(*FltValue).Val)
	case *StrValue:
		return l.Val == rhs.(*StrValue).Val
	case *TypeIdValue:
		return l.Name == rhs.(*TypeIdValue).Name
	case *BytesValue:
		return string(l.Val) == string(rhs.(*BytesValue).Val)
	case *VecValue:
		r := rhs.(*VecValue)
		if len(l.Items) != len(r.Items) {
			return false
		}
		for i := range l.Items {
			if !Equal(l.Items[i], r.Items[i]) {
				return false
			}
		}
		return true
	default:
		return lhs == rhs
	}
}

func compare(op lexer.Kind, lhs, rhs Value) (Value, error) {
	var less, equal bool

	if ls, ok := lhs.(*StrValue); ok {
		if rs, ok := rhs.(*StrValue); ok {
			less, equal = ls.Val < rs.Val, ls.Val == rs.Val
		} else {
			return nil, ErrTypeMismatch
		}
	} else {
		l, r, isFlt, ok := coerceNumeric(lhs, rhs)
		if !ok {
			return nil, ErrTypeMismatch
		}
		if isFlt {
			less, equal = l.flt.LessThan(r.flt), l.flt.Equal(r.flt)
		} else {
			less, equal = l.i < r.i, l.i == r.i
		}
	}

	switch op {
	case lexer.Lt:
		return NewBool(less), nil
	case lexer.Le:
		return NewBool(less || equal), nil
	case lexer.Gt:
		return NewBool(!less && !equal), nil
	case lexer.Ge:
		return NewBool(!less), nil
	}
	return nil, errors.Errorf("unsupported comparison operator %s", op)
}
