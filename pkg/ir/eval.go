package ir

import "github.com/xplshn/rtlc/pkg/bits"

// Eval applies a stateless operator to known argument values and returns a
// value of type out. It reports false for OpMemRead, whose result depends on
// memory contents.
func Eval(n *Node, out bits.Type, a []bits.Value) (bits.Value, bool) {
	switch n.Op {
	case OpConst:
		return *n.Const, true
	case OpCopy, OpSync:
		return a[0], true
	case OpAdd:
		return bits.Add(out, a[0], a[1]), true
	case OpSub:
		return bits.Sub(out, a[0], a[1]), true
	case OpMul:
		return bits.Mul(out, a[0], a[1]), true
	case OpAnd:
		return bits.And(a[0], a[1]).Resize(out), true
	case OpOr:
		return bits.Or(a[0], a[1]).Resize(out), true
	case OpXor:
		return bits.Xor(a[0], a[1]).Resize(out), true
	case OpShl:
		return bits.Shl(a[0], a[1].ShiftAmount()), true
	case OpShr:
		return bits.Shr(a[0], a[1].ShiftAmount()), true
	case OpEq:
		return bits.FromBool(bits.Eq(a[0], a[1])), true
	case OpNe:
		return bits.FromBool(bits.Ne(a[0], a[1])), true
	case OpLt:
		return bits.FromBool(bits.Lt(a[0], a[1])), true
	case OpLe:
		return bits.FromBool(bits.Le(a[0], a[1])), true
	case OpGt:
		return bits.FromBool(bits.Gt(a[0], a[1])), true
	case OpGe:
		return bits.FromBool(bits.Ge(a[0], a[1])), true
	case OpNot:
		return bits.Not(a[0]), true
	case OpNeg:
		return bits.Neg(a[0]), true
	case OpAll:
		return bits.FromBool(bits.All(a[0])), true
	case OpAny:
		return bits.FromBool(bits.Any(a[0])), true
	case OpParity:
		return bits.FromBool(bits.Parity(a[0])), true
	case OpMux:
		if a[0].Bool() { return a[1], true }
		return a[2], true
	case OpCase:
		return a[CaseArm(n, a[0])], true
	case OpSlice:
		return a[0].Slice(n.Params[0], n.Params[1]), true
	case OpDynSlice:
		return bits.Shr(a[0].As(false), a[1].ShiftAmount()).Slice(0, n.Params[0]), true
	case OpConcat:
		return bits.Concat(a...), true
	case OpSplice:
		return a[0].Splice(n.Params[0], a[1]), true
	case OpResize:
		return a[0].Resize(out), true
	}
	return bits.Zero(out), false
}

// CaseArm returns the argument index an OpCase selects for discriminant d:
// the first arm whose key matches, else the default at index 1.
func CaseArm(n *Node, d bits.Value) int {
	for i, k := range n.Params {
		if bits.Eq(d, bits.FromInt64(d.Type, int64(k))) { return i + 2 }
	}
	return 1
}
