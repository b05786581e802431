package cpumode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCellDefaultsToStop(t *testing.T) {
	c := NewCell()
	require.Equal(t, Stop, c.Get())
}

func TestSetGet(t *testing.T) {
	c := NewCell()
	c.Set(Run)
	require.Equal(t, Run, c.Get())
	c.Set(Pause)
	require.Equal(t, Pause, c.Get())
}

func TestModeString(t *testing.T) {
	require.Equal(t, "STOP", Stop.String())
	require.Equal(t, "RUN", Run.String())
	require.Equal(t, "PAUSE", Pause.String())
	require.Equal(t, "RESET", Reset.String())
}
