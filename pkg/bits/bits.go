// Package bits supplies fixed-width bit-vector values: width, signedness and
// the wraparound arithmetic, shift and comparison rules every other stage of
// the compiler relies on.
package bits

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
)

// MaxWidth is the widest bit vector a Value can hold.
const MaxWidth = 256

// Type is a bit-vector type.
type Type struct {
	Width  int
	Signed bool
}

var (
	Bool = Type{Width: 1}
	U8   = Type{Width: 8}
	U16  = Type{Width: 16}
	U32  = Type{Width: 32}
	U64  = Type{Width: 64}
)

func Unsigned(w int) Type { return Type{Width: w} }
func Signed(w int) Type   { return Type{Width: w, Signed: true} }

func (t Type) Valid() bool       { return t.Width > 0 && t.Width <= MaxWidth }
func (t Type) IsZero() bool      { return t.Width == 0 }
func (t Type) Equal(o Type) bool { return t.Width == o.Width && t.Signed == o.Signed }

func (t Type) String() string {
	if t.Width == 0 {
		return "<unknown>"
	}
	if t.Signed {
		return "s" + strconv.Itoa(t.Width)
	}
	return "u" + strconv.Itoa(t.Width)
}

// ParseType parses "u8", "s12" or "b1" (an alias for u1).
func ParseType(s string) (Type, error) {
	if s == "bool" || s == "b1" {
		return Bool, nil
	}
	if len(s) < 2 || (s[0] != 'u' && s[0] != 's') {
		return Type{}, fmt.Errorf("invalid bit type %q", s)
	}
	w, err := strconv.Atoi(s[1:])
	if err != nil {
		return Type{}, fmt.Errorf("invalid bit type %q: %w", s, err)
	}
	t := Type{Width: w, Signed: s[0] == 's'}
	if !t.Valid() {
		return Type{}, fmt.Errorf("bit type %q out of range 1..%d", s, MaxWidth)
	}
	return t, nil
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// AddrWidth is the number of address bits needed to index depth words.
func AddrWidth(depth int) int {
	w := 1
	for (1 << w) < depth {
		w++
	}
	return w
}

// Value is a bit vector of a given Type. The raw payload is always masked to
// the type width, so two Values are equal exactly when == says so.
type Value struct {
	Type Type
	raw  uint256.Int
}

func mask(w int) uint256.Int {
	var m uint256.Int
	if w >= MaxWidth {
		m.Not(&m)
		return m
	}
	one := uint256.NewInt(1)
	m.Lsh(one, uint(w))
	m.Sub(&m, one)
	return m
}

func wrap(t Type, raw *uint256.Int) Value {
	m := mask(t.Width)
	v := Value{Type: t}
	v.raw.And(raw, &m)
	return v
}

// Zero returns the zero value of t.
func Zero(t Type) Value { return Value{Type: t} }

// FromUint64 truncates x to t.
func FromUint64(t Type, x uint64) Value { return wrap(t, uint256.NewInt(x)) }

// FromInt64 stores x in two's complement, truncated to t.
func FromInt64(t Type, x int64) Value {
	if x >= 0 {
		return FromUint64(t, uint64(x))
	}
	var z uint256.Int
	z.Neg(uint256.NewInt(uint64(-x)))
	return wrap(t, &z)
}

// FromBool returns a u1.
func FromBool(b bool) Value {
	if b {
		return FromUint64(Bool, 1)
	}
	return Zero(Bool)
}

// Ones returns the all-ones value of t.
func Ones(t Type) Value {
	var z uint256.Int
	z.Not(&z)
	return wrap(t, &z)
}

// sext returns the value sign-extended to 256 bits when its type is signed.
func (v Value) sext() uint256.Int {
	r := v.raw
	if v.Type.Signed && v.Type.Width < MaxWidth && v.bit(v.Type.Width-1) {
		m := mask(v.Type.Width)
		m.Not(&m)
		r.Or(&r, &m)
	}
	return r
}

func (v Value) bit(i int) bool {
	var t uint256.Int
	t.Rsh(&v.raw, uint(i))
	return t.Uint64()&1 == 1
}

// Bit reports bit i (0 is least significant).
func (v Value) Bit(i int) bool {
	if i < 0 || i >= v.Type.Width {
		return false
	}
	return v.bit(i)
}

func (v Value) IsZero() bool   { return v.raw.IsZero() }
func (v Value) Bool() bool     { return !v.raw.IsZero() }
func (v Value) Uint64() uint64 { return v.raw.Uint64() }

// Int64 interprets v according to its signedness.
func (v Value) Int64() int64 {
	s := v.sext()
	return int64(s.Uint64())
}

// Equal compares type and payload.
func (v Value) Equal(o Value) bool { return v.Type.Equal(o.Type) && v.raw.Eq(&o.raw) }

// Resize converts v to t, sign extending when v is signed and truncating when
// t is narrower.
func (v Value) Resize(t Type) Value {
	s := v.sext()
	return wrap(t, &s)
}

// As reinterprets the bits of v with the signedness of signed, keeping width.
func (v Value) As(signed bool) Value {
	v.Type.Signed = signed
	return v
}

func binType(a, b Value, w int) Type {
	return Type{Width: w, Signed: a.Type.Signed || b.Type.Signed}
}

func maxw(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Add returns a+b in type t (callers pick the result width per their policy).
func Add(t Type, a, b Value) Value {
	x, y := a.sext(), b.sext()
	var z uint256.Int
	z.Add(&x, &y)
	return wrap(t, &z)
}

func Sub(t Type, a, b Value) Value {
	x, y := a.sext(), b.sext()
	var z uint256.Int
	z.Sub(&x, &y)
	return wrap(t, &z)
}

func Mul(t Type, a, b Value) Value {
	x, y := a.sext(), b.sext()
	var z uint256.Int
	z.Mul(&x, &y)
	return wrap(t, &z)
}

// AddResult is the inferred type of a+b with or without a carry bit.
func AddResult(a, b Type, carry bool) Type {
	w := maxw(a.Width, b.Width)
	if carry {
		w++
	}
	return Type{Width: w, Signed: a.Signed || b.Signed}
}

func MulResult(a, b Type) Type {
	return Type{Width: a.Width + b.Width, Signed: a.Signed || b.Signed}
}

func And(a, b Value) Value {
	var z uint256.Int
	z.And(&a.raw, &b.raw)
	return wrap(binType(a, b, maxw(a.Type.Width, b.Type.Width)), &z)
}

func Or(a, b Value) Value {
	var z uint256.Int
	z.Or(&a.raw, &b.raw)
	return wrap(binType(a, b, maxw(a.Type.Width, b.Type.Width)), &z)
}

func Xor(a, b Value) Value {
	var z uint256.Int
	z.Xor(&a.raw, &b.raw)
	return wrap(binType(a, b, maxw(a.Type.Width, b.Type.Width)), &z)
}

func Not(a Value) Value {
	var z uint256.Int
	z.Not(&a.raw)
	return wrap(a.Type, &z)
}

func Neg(a Value) Value {
	var z uint256.Int
	z.Neg(&a.raw)
	return wrap(a.Type, &z)
}

// Shl shifts left; shifting by the width or more yields zero.
func Shl(a Value, n uint64) Value {
	if n >= uint64(a.Type.Width) {
		return Zero(a.Type)
	}
	var z uint256.Int
	z.Lsh(&a.raw, uint(n))
	return wrap(a.Type, &z)
}

// Shr shifts right, arithmetic when a is signed.
func Shr(a Value, n uint64) Value {
	if n >= uint64(a.Type.Width) {
		if a.Type.Signed && a.bit(a.Type.Width-1) {
			return Ones(a.Type)
		}
		return Zero(a.Type)
	}
	var z uint256.Int
	if a.Type.Signed {
		s := a.sext()
		z.SRsh(&s, uint(n))
	} else {
		z.Rsh(&a.raw, uint(n))
	}
	return wrap(a.Type, &z)
}

// ShiftAmount saturates v to a shift distance.
func (v Value) ShiftAmount() uint64 {
	if v.raw.BitLen() > 63 {
		return MaxWidth
	}
	return v.raw.Uint64()
}

func Eq(a, b Value) bool { return a.raw.Eq(&b.raw) }
func Ne(a, b Value) bool { return !a.raw.Eq(&b.raw) }

// Lt compares signed when a is signed.
func Lt(a, b Value) bool {
	if a.Type.Signed {
		x, y := a.sext(), b.sext()
		return x.Slt(&y)
	}
	return a.raw.Lt(&b.raw)
}

func Le(a, b Value) bool { return !Lt(b, a) }
func Gt(a, b Value) bool { return Lt(b, a) }
func Ge(a, b Value) bool { return !Lt(a, b) }

// All is the AND reduction of v.
func All(v Value) bool { return v.Equal(Ones(v.Type)) }

// Any is the OR reduction of v.
func Any(v Value) bool { return !v.raw.IsZero() }

// Parity is the XOR reduction of v.
func Parity(v Value) bool {
	p := false
	for i := 0; i < v.Type.Width; i++ {
		if v.bit(i) {
			p = !p
		}
	}
	return p
}

// Slice extracts bits [lo, hi) as an unsigned value.
func (v Value) Slice(lo, hi int) Value {
	var z uint256.Int
	z.Rsh(&v.raw, uint(lo))
	return wrap(Unsigned(hi-lo), &z)
}

// Concat joins parts with parts[0] in the most significant position.
func Concat(parts ...Value) Value {
	var z uint256.Int
	w := 0
	for _, p := range parts {
		z.Lsh(&z, uint(p.Type.Width))
		z.Or(&z, &p.raw)
		w += p.Type.Width
	}
	return wrap(Unsigned(w), &z)
}

// Splice replaces bits [lo, lo+width(s)) of v with s.
func (v Value) Splice(lo int, s Value) Value {
	m := mask(s.Type.Width)
	m.Lsh(&m, uint(lo))
	m.Not(&m)
	var z, ins uint256.Int
	z.And(&v.raw, &m)
	ins.Lsh(&s.raw, uint(lo))
	z.Or(&z, &ins)
	return wrap(v.Type, &z)
}

// String renders v as a Verilog-style sized literal: 8'd5, -4'sd3.
func (v Value) String() string {
	if v.Type.Width == 0 {
		return "<invalid>"
	}
	if v.Type.Signed && v.bit(v.Type.Width-1) {
		var z uint256.Int
		s := v.sext()
		z.Neg(&s)
		return fmt.Sprintf("-%d'sd%s", v.Type.Width, z.Dec())
	}
	if v.Type.Signed {
		return fmt.Sprintf("%d'sd%s", v.Type.Width, v.raw.Dec())
	}
	return fmt.Sprintf("%d'd%s", v.Type.Width, v.raw.Dec())
}

// Dec renders the numeric value without type decoration.
func (v Value) Dec() string {
	if v.Type.Signed && v.Type.Width > 0 && v.bit(v.Type.Width-1) {
		var z uint256.Int
		s := v.sext()
		z.Neg(&s)
		return "-" + z.Dec()
	}
	return v.raw.Dec()
}

// Bin renders the value MSB first with exactly Width digits.
func (v Value) Bin() string {
	var sb strings.Builder
	sb.Grow(v.Type.Width)
	for i := v.Type.Width - 1; i >= 0; i-- {
		if v.bit(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// Parse reads a literal for type t: decimal (optionally negative), 0x hex or
// 0b binary. Values are truncated to t.
func Parse(t Type, s string) (Value, error) {
	if !t.Valid() {
		return Value{}, fmt.Errorf("invalid type %s", t)
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return Value{}, fmt.Errorf("empty literal")
	}
	var z uint256.Int
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		if digits := strings.TrimLeft(s[2:], "0"); digits != "" {
			if err := z.SetFromHex("0x" + digits); err != nil {
				return Value{}, fmt.Errorf("invalid hex literal %q: %w", s, err)
			}
		}
	case strings.HasPrefix(s, "0b"), strings.HasPrefix(s, "0B"):
		for _, c := range s[2:] {
			if c != '0' && c != '1' {
				return Value{}, fmt.Errorf("invalid binary literal %q", s)
			}
			z.Lsh(&z, 1)
			if c == '1' {
				z.Or(&z, uint256.NewInt(1))
			}
		}
	default:
		if err := z.SetFromDecimal(s); err != nil {
			return Value{}, fmt.Errorf("invalid decimal literal %q: %w", s, err)
		}
	}
	if neg {
		z.Neg(&z)
	}
	return wrap(t, &z), nil
}

// MustParse is Parse for literals known to be well formed.
func MustParse(t Type, s string) Value {
	v, err := Parse(t, s)
	if err != nil {
		panic(err)
	}
	return v
}

// MarshalText encodes as "<type>:<dec>", e.g. "u8:5" or "s4:-3".
func (v Value) MarshalText() ([]byte, error) {
	return []byte(v.Type.String() + ":" + v.Dec()), nil
}

func (v *Value) UnmarshalText(b []byte) error {
	s := string(b)
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return fmt.Errorf("invalid value %q: want <type>:<literal>", s)
	}
	t, err := ParseType(s[:i])
	if err != nil {
		return err
	}
	parsed, err := Parse(t, s[i+1:])
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
