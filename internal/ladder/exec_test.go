package ladder

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/melsecmock/plc/internal/cpumode"
	"github.com/melsecmock/plc/internal/devicemem"
)

func newTestEngine(t *testing.T) (*Engine, *devicemem.Memory) {
	t.Helper()
	mem := devicemem.NewMemory()
	mode := cpumode.NewCell()
	e := NewEngine(mem, mode, DefaultScanPeriod, nil, zerolog.Nop())
	require.NoError(t, e.Load(Program{}))
	return e, mem
}

func TestSelfHoldingRung(t *testing.T) {
	// LD X0; OR Y0; ANI X1; OUT Y0
	e, mem := newTestEngine(t)
	require.NoError(t, e.Load(Program{Instructions: []Instruction{
		LD(Device("X", 0)),
		OR(Device("Y", 0)),
		ANI(Device("X", 1)),
		OUT(Device("Y", 0)),
		END(),
	}}))

	require.NoError(t, mem.WriteBit("X", 0, true))
	e.Step()
	y0, err := mem.ReadBit("Y", 0)
	require.NoError(t, err)
	require.True(t, y0)

	// X0 drops, but Y0 holds itself via the OR Y0 rung.
	require.NoError(t, mem.WriteBit("X", 0, false))
	e.Step()
	y0, err = mem.ReadBit("Y", 0)
	require.NoError(t, err)
	require.True(t, y0)

	// X1 breaks the holding rung.
	require.NoError(t, mem.WriteBit("X", 1, true))
	e.Step()
	y0, err = mem.ReadBit("Y", 0)
	require.NoError(t, err)
	require.False(t, y0)
}

func TestTimerContactLaw(t *testing.T) {
	// LD X0; OUT_T 0 K10 (1.0s preset, 10ms scans -> 100 scans to fire)
	e, mem := newTestEngine(t)
	require.NoError(t, e.Load(Program{Instructions: []Instruction{
		LD(Device("X", 0)),
		OutT(0, 10),
		END(),
	}}))

	require.NoError(t, mem.WriteBit("X", 0, true))
	for i := 0; i < 99; i++ {
		e.Step()
	}
	tc, err := mem.ReadBit("TC", 0)
	require.NoError(t, err)
	require.False(t, tc, "timer should not have fired before 100 scans")

	e.Step() // 100th scan
	tc, err = mem.ReadBit("TC", 0)
	require.NoError(t, err)
	require.True(t, tc)

	require.NoError(t, mem.WriteBit("X", 0, false))
	e.Step()
	tn, err := mem.ReadWord("TN", 0)
	require.NoError(t, err)
	require.Equal(t, uint16(0), tn)
	tc, err = mem.ReadBit("TC", 0)
	require.NoError(t, err)
	require.False(t, tc)
}

func TestCounterContactLaw(t *testing.T) {
	// LD X0; OUT_C 0 K3
	e, mem := newTestEngine(t)
	require.NoError(t, e.Load(Program{Instructions: []Instruction{
		LD(Device("X", 0)),
		OutC(0, 3),
		END(),
	}}))

	toggle := func(v bool) {
		require.NoError(t, mem.WriteBit("X", 0, v))
		e.Step()
	}

	for k := 0; k < 2; k++ {
		toggle(true)
		toggle(false)
	}
	cc, err := mem.ReadBit("CC", 0)
	require.NoError(t, err)
	require.False(t, cc, "counter should not fire before 3 rising edges")

	toggle(true)
	cc, err = mem.ReadBit("CC", 0)
	require.NoError(t, err)
	require.True(t, cc)
}

func TestPLSPLFEdgeDetection(t *testing.T) {
	// LD X0; PLS Y0 ... LD X0; PLF Y1
	e, mem := newTestEngine(t)
	require.NoError(t, e.Load(Program{Instructions: []Instruction{
		LD(Device("X", 0)),
		PLS(Device("Y", 0)),
		LD(Device("X", 0)),
		PLF(Device("Y", 1)),
		END(),
	}}))

	require.NoError(t, mem.WriteBit("X", 0, false))
	e.Step()
	y0, _ := mem.ReadBit("Y", 0)
	require.False(t, y0)

	require.NoError(t, mem.WriteBit("X", 0, true))
	e.Step()
	y0, _ = mem.ReadBit("Y", 0)
	require.True(t, y0, "PLS should fire for exactly the 0->1 transition scan")

	e.Step()
	y0, _ = mem.ReadBit("Y", 0)
	require.False(t, y0, "PLS should not re-fire while acc stays high")

	require.NoError(t, mem.WriteBit("X", 0, false))
	e.Step()
	y1, _ := mem.ReadBit("Y", 1)
	require.True(t, y1, "PLF should fire for exactly the 1->0 transition scan")
}

func TestDivisionByZeroPreservesDestination(t *testing.T) {
	e, mem := newTestEngine(t)
	require.NoError(t, mem.WriteWord("D", 2, 77))
	require.NoError(t, e.Load(Program{Instructions: []Instruction{
		LD(Device("M", 0)),
		DIV(Device("D", 0), Device("D", 1), Device("D", 2)),
		END(),
	}}))

	require.NoError(t, mem.WriteBit("M", 0, true))
	require.NoError(t, mem.WriteWord("D", 0, 10))
	require.NoError(t, mem.WriteWord("D", 1, 0))
	e.Step()

	d2, err := mem.ReadWord("D", 2)
	require.NoError(t, err)
	require.Equal(t, uint16(77), d2, "destination must be untouched on division by zero")

	sm1, err := mem.ReadBit("SM", 1)
	require.NoError(t, err)
	require.True(t, sm1, "SM1 diagnostic bit should be raised")
}

func TestMovGatedByAccumulator(t *testing.T) {
	e, mem := newTestEngine(t)
	require.NoError(t, e.Load(Program{Instructions: []Instruction{
		LD(Device("M", 0)),
		MOV(Const(42), Device("D", 0)),
		END(),
	}}))

	require.NoError(t, mem.WriteBit("M", 0, false))
	e.Step()
	d0, err := mem.ReadWord("D", 0)
	require.NoError(t, err)
	require.Equal(t, uint16(0), d0)

	require.NoError(t, mem.WriteBit("M", 0, true))
	e.Step()
	d0, err = mem.ReadWord("D", 0)
	require.NoError(t, err)
	require.Equal(t, uint16(42), d0)
}

func TestResetClearsTimerAndMemory(t *testing.T) {
	e, mem := newTestEngine(t)
	require.NoError(t, e.Load(Program{Instructions: []Instruction{
		LD(Device("X", 0)),
		OutT(0, 1),
		END(),
	}}))
	require.NoError(t, mem.WriteBit("X", 0, true))
	// 10 scans of 10ms bring TN0 to 1 (100ms units) before the reset.
	for i := 0; i < 10; i++ {
		e.Step()
	}

	e.Reset()

	tn, err := mem.ReadWord("TN", 0)
	require.NoError(t, err)
	require.Equal(t, uint16(0), tn)

	x0, err := mem.ReadBit("X", 0)
	require.NoError(t, err)
	require.False(t, x0)
}
