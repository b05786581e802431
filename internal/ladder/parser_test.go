package ladder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const selfHoldingSource = `
; self-holding output rung
NETWORK 0
COMMENT seal-in example
LD X0
OR Y0
ANI X1
OUT Y0
END
`

func TestParseProgramMatchesBuilder(t *testing.T) {
	got, err := ParseProgram(selfHoldingSource)
	require.NoError(t, err)

	want := []Instruction{
		LD(Device("X", 0)),
		OR(Device("Y", 0)),
		ANI(Device("X", 1)),
		OUT(Device("Y", 0)),
		END(),
	}
	require.Equal(t, want, got.Instructions)
}

func TestParseProgramTimerAndArithmetic(t *testing.T) {
	src := `
LD X0
OUT_T 0 K10
LD M0
MOV K100 D0
ADD D0 K1 D1
END
`
	got, err := ParseProgram(src)
	require.NoError(t, err)

	want := []Instruction{
		LD(Device("X", 0)),
		OutT(0, 10),
		LD(Device("M", 0)),
		MOV(Const(100), Device("D", 0)),
		ADD(Device("D", 0), Const(1), Device("D", 1)),
		END(),
	}
	require.Equal(t, want, got.Instructions)
}

func TestParseProgramHexDeviceAddressing(t *testing.T) {
	src := `
LD X1A
OUT Y1A
END
`
	got, err := ParseProgram(src)
	require.NoError(t, err)
	require.Equal(t, Device("X", 0x1A), got.Instructions[0].A)
	require.Equal(t, Device("Y", 0x1A), got.Instructions[1].Dst)
}

func TestParseProgramMissingEndFails(t *testing.T) {
	_, err := ParseProgram("LD X0\nOUT Y0\n")
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestParseProgramRejectsImmediateInBitContext(t *testing.T) {
	_, err := ParseProgram("LD K1\nOUT Y0\nEND\n")
	require.Error(t, err)
}

func TestParseProgramUnknownMnemonic(t *testing.T) {
	_, err := ParseProgram("FOO X0\nEND\n")
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, 1, perr.Line)
}

func TestParseProgramMalformedFailsAsWhole(t *testing.T) {
	_, err := ParseProgram("LD X0\nOUT\nEND\n")
	require.Error(t, err)
}
