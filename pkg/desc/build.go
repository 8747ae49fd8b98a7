package desc

import "github.com/xplshn/rtlc/pkg/bits"

// Helpers for front ends and tests that assemble descriptions in Go.

func Const(t bits.Type, lit string) *Expr { return &Expr{Kind: ExprConst, Type: &t, Value: lit} }
func Ref(name string) *Expr               { return &Expr{Kind: ExprRef, Name: name} }

func Op(kind ExprKind, args ...*Expr) *Expr { return &Expr{Kind: kind, Args: args} }

func If(cond, then, els *Expr) *Expr {
	return &Expr{Kind: ExprIf, Cond: cond, Args: []*Expr{then, els}}
}

func Slice(x *Expr, lo, hi int) *Expr { return &Expr{Kind: ExprSlice, Args: []*Expr{x}, Lo: lo, Hi: hi} }

func Resize(x *Expr, t bits.Type) *Expr { return &Expr{Kind: ExprResize, Args: []*Expr{x}, Type: &t} }

func Call(name string, args ...*Expr) *Expr { return &Expr{Kind: ExprCall, Name: name, Args: args} }

func Sync(x *Expr, clock string) *Expr { return &Expr{Kind: ExprSync, Args: []*Expr{x}, Clock: clock} }

func Let(name string, v *Expr) *Stmt    { return &Stmt{Kind: StmtLet, Name: name, Value: v} }
func Assign(name string, v *Expr) *Stmt { return &Stmt{Kind: StmtAssign, Name: name, Value: v} }
func Next(name string, v *Expr) *Stmt   { return &Stmt{Kind: StmtNext, Name: name, Value: v} }

func IfStmt(cond *Expr, then, els []*Stmt) *Stmt {
	return &Stmt{Kind: StmtIf, Cond: cond, Then: then, Else: els}
}

// Reg declares a register clocked on the rising edge of clock.
func Reg(name string, t bits.Type, clock string) *Stmt {
	return &Stmt{Kind: StmtReg, Name: name, Type: &t, Clock: clock}
}

func In(name string, t bits.Type) Port { return Port{Name: name, Type: &t} }
func Out(name string) Port             { return Port{Name: name} }
