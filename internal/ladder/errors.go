package ladder

import "fmt"

// ParseError reports a line-indexed failure in the text parser,
// carrying the offending token so a caller can point at it directly.
type ParseError struct {
	Line  int
	Token string
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("ladder parse error at line %d (token %q): %s", e.Line, e.Token, e.Msg)
}

// RuntimeError describes a bad operand or division-by-zero
// encountered mid-scan. The engine never panics on these; it records
// the error, sets the SM1 diagnostic bit, and continues to the next
// instruction (see Engine.executeScan).
type RuntimeError struct {
	Instr Instruction
	Msg   string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("ladder runtime error in %s: %s", e.Instr, e.Msg)
}
