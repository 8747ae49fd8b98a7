// Package desc defines the lowered design description consumed by the
// compiler: a JSON tree of typed statements and expressions produced by an
// external front end. Both statements and expressions are tagged unions keyed
// by "kind".
package desc

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/xplshn/rtlc/pkg/bits"
)

type Design struct {
	Name    string   `json:"name"`
	Flags   []string `json:"flags,omitempty"`
	Inputs  []Port   `json:"inputs,omitempty"`
	Clocks  []string `json:"clocks,omitempty"`
	Outputs []Port   `json:"outputs,omitempty"`
	Funcs   []*Func  `json:"funcs,omitempty"`
	Body    []*Stmt  `json:"body"`
}

// Port is an input or output. Outputs may omit Type and take the inferred one.
type Port struct {
	Name string     `json:"name"`
	Type *bits.Type `json:"type,omitempty"`
}

// Func is a user function, inlined at every call site.
type Func struct {
	Name   string  `json:"name"`
	Params []Port  `json:"params"`
	Body   []*Stmt `json:"body,omitempty"`
	Result *Expr   `json:"result"`
}

type StmtKind string

const (
	StmtLet      StmtKind = "let"
	StmtAssign   StmtKind = "assign"
	StmtIf       StmtKind = "if"
	StmtMatch    StmtKind = "match"
	StmtFor      StmtKind = "for"
	StmtReg      StmtKind = "reg"
	StmtNext     StmtKind = "next"
	StmtMem      StmtKind = "mem"
	StmtMemWrite StmtKind = "mem_write"
)

// Stmt is one statement. Which fields are meaningful depends on Kind:
//
//	let       Name, Type?, Value
//	assign    Name, Value
//	if        Cond, Then, Else
//	match     Value, Arms, Else
//	for       Var, From, To, Type?, Body
//	reg       Name, Type, Clock, Edge?, Reset?, Init?
//	next      Name, Value
//	mem       Name, Type, Depth, Contents?
//	mem_write Name, Clock, Edge?, Addr, Value
type Stmt struct {
	Kind     StmtKind   `json:"kind"`
	Name     string     `json:"name,omitempty"`
	Type     *bits.Type `json:"type,omitempty"`
	Value    *Expr      `json:"value,omitempty"`
	Cond     *Expr      `json:"cond,omitempty"`
	Then     []*Stmt    `json:"then,omitempty"`
	Else     []*Stmt    `json:"else,omitempty"`
	Arms     []*Arm     `json:"arms,omitempty"`
	Var      string     `json:"var,omitempty"`
	From     *Expr      `json:"from,omitempty"`
	To       *Expr      `json:"to,omitempty"`
	Body     []*Stmt    `json:"body,omitempty"`
	Clock    string     `json:"clock,omitempty"`
	Edge     string     `json:"edge,omitempty"`
	Reset    string     `json:"reset,omitempty"`
	Init     string     `json:"init,omitempty"`
	Depth    int        `json:"depth,omitempty"`
	Contents []string   `json:"contents,omitempty"`
	Addr     *Expr      `json:"addr,omitempty"`
}

// Arm is one match arm. Keys are literals of the discriminant type.
type Arm struct {
	Keys  []string `json:"keys"`
	Body  []*Stmt  `json:"body,omitempty"`
	Value *Expr    `json:"value,omitempty"`
}

type ExprKind string

const (
	ExprConst    ExprKind = "const"
	ExprRef      ExprKind = "ref"
	ExprAdd      ExprKind = "add"
	ExprSub      ExprKind = "sub"
	ExprMul      ExprKind = "mul"
	ExprAnd      ExprKind = "and"
	ExprOr       ExprKind = "or"
	ExprXor      ExprKind = "xor"
	ExprShl      ExprKind = "shl"
	ExprShr      ExprKind = "shr"
	ExprEq       ExprKind = "eq"
	ExprNe       ExprKind = "ne"
	ExprLt       ExprKind = "lt"
	ExprLe       ExprKind = "le"
	ExprGt       ExprKind = "gt"
	ExprGe       ExprKind = "ge"
	ExprNot      ExprKind = "not"
	ExprNeg      ExprKind = "neg"
	ExprAll      ExprKind = "all"
	ExprAny      ExprKind = "any"
	ExprParity   ExprKind = "parity"
	ExprIf       ExprKind = "if"
	ExprMatch    ExprKind = "match"
	ExprSlice    ExprKind = "slice"
	ExprDynSlice ExprKind = "dyn_slice"
	ExprConcat   ExprKind = "concat"
	ExprSplice   ExprKind = "splice"
	ExprResize   ExprKind = "resize"
	ExprMemRead  ExprKind = "mem_read"
	ExprSync     ExprKind = "sync"
	ExprCall     ExprKind = "call"
	ExprVec      ExprKind = "vec"
)

// Expr is one expression:
//
//	const      Type, Value
//	ref        Name
//	binary     Args[0], Args[1]
//	unary      Args[0]
//	if         Cond, Args[0] (then), Args[1] (else)
//	match      Args[0] (discriminant), Arms, Default
//	slice      Args[0], Lo, Hi
//	dyn_slice  Args[0], Args[1] (offset), Len
//	concat     Args (most significant first)
//	splice     Args[0], Args[1], Lo
//	resize     Args[0], Type
//	mem_read   Name, Args[0] (address)
//	sync       Args[0], Clock, Edge?
//	call       Name, Args
//	vec        Args (rejected by the builder)
type Expr struct {
	Kind    ExprKind   `json:"kind"`
	Type    *bits.Type `json:"type,omitempty"`
	Value   string     `json:"value,omitempty"`
	Name    string     `json:"name,omitempty"`
	Args    []*Expr    `json:"args,omitempty"`
	Cond    *Expr      `json:"cond,omitempty"`
	Arms    []*Arm     `json:"arms,omitempty"`
	Default *Expr      `json:"default,omitempty"`
	Lo      int        `json:"lo,omitempty"`
	Hi      int        `json:"hi,omitempty"`
	Len     int        `json:"len,omitempty"`
	Clock   string     `json:"clock,omitempty"`
	Edge    string     `json:"edge,omitempty"`
}

// Parse decodes a design document, rejecting unknown fields.
func Parse(data []byte) (*Design, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var d Design
	if err := dec.Decode(&d); err != nil {
		return nil, errors.Wrap(err, "decoding design")
	}
	if d.Name == "" {
		return nil, errors.New("design has no name")
	}
	return &d, nil
}

func Read(r io.Reader) (*Design, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading design")
	}
	return Parse(data)
}

// Load reads and parses the design stored at path.
func Load(path string) (*Design, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading design %s", path)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return d, nil
}

// Encode writes d as indented JSON.
func Encode(w io.Writer, d *Design) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(d), "encoding design")
}
