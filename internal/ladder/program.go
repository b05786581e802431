// Package ladder implements the stack-based ladder-logic instruction
// interpreter (the scan-cycle engine) and its text-source parser.
package ladder

import (
	"fmt"

	"github.com/melsecmock/plc/internal/devicemem"
)

// Op tags a compiled instruction's kind.
type Op int

const (
	OpLD Op = iota
	OpLDI
	OpAND
	OpANI
	OpOR
	OpORI
	OpANB
	OpORB
	OpMPS
	OpMRD
	OpMPP
	OpOUT
	OpSET
	OpRST
	OpPLS
	OpPLF
	OpOUTT
	OpOUTC
	OpRSTT
	OpRSTC
	OpMOV
	OpADD
	OpSUB
	OpMUL
	OpDIV
	OpEND
)

var opNames = map[Op]string{
	OpLD: "LD", OpLDI: "LDI", OpAND: "AND", OpANI: "ANI",
	OpOR: "OR", OpORI: "ORI", OpANB: "ANB", OpORB: "ORB",
	OpMPS: "MPS", OpMRD: "MRD", OpMPP: "MPP",
	OpOUT: "OUT", OpSET: "SET", OpRST: "RST",
	OpPLS: "PLS", OpPLF: "PLF",
	OpOUTT: "OUT_T", OpOUTC: "OUT_C", OpRSTT: "RST_T", OpRSTC: "RST_C",
	OpMOV: "MOV", OpADD: "ADD", OpSUB: "SUB", OpMUL: "MUL", OpDIV: "DIV",
	OpEND: "END",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return "?unknown?"
}

// OperandKind distinguishes a device reference from an immediate
// constant in an instruction's operand list.
type OperandKind int

const (
	OperandDevice OperandKind = iota
	OperandConst
)

// Operand is the tagged sum type used for every instruction argument
// that isn't a bare timer/counter number: either a (class, head)
// device reference or a signed 16-bit immediate.
type Operand struct {
	Kind  OperandKind
	Class string
	Head  int
	Value int16
}

// Device builds a device-reference operand.
func Device(class string, head int) Operand {
	return Operand{Kind: OperandDevice, Class: class, Head: head}
}

// Const builds an immediate-constant operand.
func Const(v int16) Operand {
	return Operand{Kind: OperandConst, Value: v}
}

func (o Operand) String() string {
	if o.Kind == OperandConst {
		return fmt.Sprintf("K%d", o.Value)
	}
	if c, ok := devicemem.ClassByName(o.Class); ok && c.Radix == devicemem.Hex {
		return fmt.Sprintf("%s%X", o.Class, o.Head)
	}
	return fmt.Sprintf("%s%d", o.Class, o.Head)
}

// Instruction is one compiled ladder instruction. Not every field is
// used by every Op; see the constructor functions below for the
// well-formed combinations.
type Instruction struct {
	Op  Op
	A   Operand // contact operand (LD/LDI/AND/ANI/OR/ORI), MOV/arith src a
	B   Operand // MOV/arith src b
	Dst Operand // OUT/SET/RST/PLS/PLF target, MOV/arith destination
	N   int     // timer/counter number (OUT_T/OUT_C/RST_T/RST_C)
	K   int     // timer/counter preset (OUT_T/OUT_C)
}

func (i Instruction) String() string {
	switch i.Op {
	case OpLD, OpLDI, OpAND, OpANI, OpOR, OpORI:
		return fmt.Sprintf("%s %s", i.Op, i.A)
	case OpANB, OpORB, OpMPS, OpMRD, OpMPP, OpEND:
		return i.Op.String()
	case OpOUT, OpSET, OpRST:
		return fmt.Sprintf("%s %s", i.Op, i.Dst)
	case OpPLS, OpPLF:
		return fmt.Sprintf("%s %s", i.Op, i.Dst)
	case OpOUTT, OpOUTC:
		return fmt.Sprintf("%s %d K%d", i.Op, i.N, i.K)
	case OpRSTT, OpRSTC:
		return fmt.Sprintf("%s %d", i.Op, i.N)
	case OpMOV:
		return fmt.Sprintf("MOV %s %s", i.A, i.Dst)
	case OpADD, OpSUB, OpMUL, OpDIV:
		return fmt.Sprintf("%s %s %s %s", i.Op, i.A, i.B, i.Dst)
	default:
		return "?unknown?"
	}
}

// Program is an ordered, compiled ladder instruction list together
// with any parser-provided debug symbols.
type Program struct {
	Instructions []Instruction
	// Source holds one entry per instruction when the program was
	// produced by the text parser, used for diagnostics.
	Source []string
}

// --- programmatic builder -------------------------------------------------
//
// These constructors are the canonical way to build a Program in Go
// code; the text parser (parser.go) produces the exact same
// Instruction values from ladder source, and is a strict subset of
// what these constructors can express (see DESIGN.md open question 1).

func LD(d Operand) Instruction  { return Instruction{Op: OpLD, A: d} }
func LDI(d Operand) Instruction { return Instruction{Op: OpLDI, A: d} }
func AND(d Operand) Instruction { return Instruction{Op: OpAND, A: d} }
func ANI(d Operand) Instruction { return Instruction{Op: OpANI, A: d} }
func OR(d Operand) Instruction  { return Instruction{Op: OpOR, A: d} }
func ORI(d Operand) Instruction { return Instruction{Op: OpORI, A: d} }

func ANB() Instruction { return Instruction{Op: OpANB} }
func ORB() Instruction { return Instruction{Op: OpORB} }

func MPS() Instruction { return Instruction{Op: OpMPS} }
func MRD() Instruction { return Instruction{Op: OpMRD} }
func MPP() Instruction { return Instruction{Op: OpMPP} }

func OUT(d Operand) Instruction { return Instruction{Op: OpOUT, Dst: d} }
func SET(d Operand) Instruction { return Instruction{Op: OpSET, Dst: d} }
func RST(d Operand) Instruction { return Instruction{Op: OpRST, Dst: d} }
func PLS(d Operand) Instruction { return Instruction{Op: OpPLS, Dst: d} }
func PLF(d Operand) Instruction { return Instruction{Op: OpPLF, Dst: d} }

func OutT(n, k int) Instruction { return Instruction{Op: OpOUTT, N: n, K: k} }
func OutC(n, k int) Instruction { return Instruction{Op: OpOUTC, N: n, K: k} }
func RstT(n int) Instruction    { return Instruction{Op: OpRSTT, N: n} }
func RstC(n int) Instruction    { return Instruction{Op: OpRSTC, N: n} }

func MOV(src, dst Operand) Instruction { return Instruction{Op: OpMOV, A: src, Dst: dst} }
func ADD(a, b, dst Operand) Instruction {
	return Instruction{Op: OpADD, A: a, B: b, Dst: dst}
}
func SUB(a, b, dst Operand) Instruction {
	return Instruction{Op: OpSUB, A: a, B: b, Dst: dst}
}
func MUL(a, b, dst Operand) Instruction {
	return Instruction{Op: OpMUL, A: a, B: b, Dst: dst}
}
func DIV(a, b, dst Operand) Instruction {
	return Instruction{Op: OpDIV, A: a, B: b, Dst: dst}
}

func END() Instruction { return Instruction{Op: OpEND} }
