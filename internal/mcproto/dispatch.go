package mcproto

import (
	"github.com/rs/zerolog"

	"github.com/melsecmock/plc/internal/cpumode"
	"github.com/melsecmock/plc/internal/devicemem"
)

// EngineController is the subset of the ladder engine's lifecycle API
// the remote-control commands act on. Satisfied by *ladder.Engine.
type EngineController interface {
	Start()
	Stop()
	PauseScan()
	Reset()
}

// Dispatcher executes decoded requests against shared device memory,
// CPU mode, and (for remote control commands) the ladder engine,
// producing the Reply to send back.
type Dispatcher struct {
	mem    *devicemem.Memory
	mode   *cpumode.Cell
	engine EngineController
	series string
	log    zerolog.Logger
}

// NewDispatcher builds a Dispatcher. series is the string returned by
// CmdReadCPUModel (e.g. "Q03UDE").
func NewDispatcher(mem *devicemem.Memory, mode *cpumode.Cell, engine EngineController, series string, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{mem: mem, mode: mode, engine: engine, series: series, log: log}
}

// Dispatch executes req and returns the reply to send. Failures are
// reported as an end code inside the Reply. A command with no handler
// here gets EndInvalidCommand; DecodeRequestBody already rejects such
// commands, so requests arriving from the server never reach that case.
func (d *Dispatcher) Dispatch(req Request) Reply {
	switch req.Command {
	case CmdBatchRead:
		return d.dispatchBatchRead(req)
	case CmdBatchWrite:
		return d.dispatchBatchWrite(req)
	case CmdReadCPUModel:
		return d.dispatchCPUModel(req)
	case CmdRemoteSTOP:
		d.engine.Stop()
		d.log.Info().Msg("remote STOP")
		return NewReply(req, EndOK)
	case CmdRemoteRUN:
		d.engine.Start()
		d.log.Info().Msg("remote RUN")
		return NewReply(req, EndOK)
	case CmdRemotePAUSE:
		d.engine.PauseScan()
		d.log.Info().Msg("remote PAUSE")
		return NewReply(req, EndOK)
	case CmdRemoteRESET:
		d.engine.Reset()
		d.log.Info().Msg("remote RESET")
		return NewReply(req, EndOK)
	default:
		return NewReply(req, EndInvalidCommand)
	}
}

func (d *Dispatcher) dispatchBatchRead(req Request) Reply {
	class, ok := devicemem.ClassByName(req.Class)
	if !ok {
		return NewReply(req, EndInvalidDevice)
	}
	if class.Width == devicemem.Bit {
		vals, err := d.mem.ReadBits(req.Class, req.Head, req.Count)
		if err != nil {
			return NewReply(req, AsEndCode(err))
		}
		rep := NewReply(req, EndOK)
		rep.BitValues = vals
		return rep
	}
	vals, err := d.mem.ReadWords(req.Class, req.Head, req.Count)
	if err != nil {
		return NewReply(req, AsEndCode(err))
	}
	rep := NewReply(req, EndOK)
	rep.WordValues = vals
	return rep
}

func (d *Dispatcher) dispatchBatchWrite(req Request) Reply {
	class, ok := devicemem.ClassByName(req.Class)
	if !ok {
		return NewReply(req, EndInvalidDevice)
	}
	var err error
	if class.Width == devicemem.Bit {
		err = d.mem.WriteBits(req.Class, req.Head, req.BitValues)
	} else {
		err = d.mem.WriteWords(req.Class, req.Head, req.WordValues)
	}
	if err != nil {
		return NewReply(req, AsEndCode(err))
	}
	return NewReply(req, EndOK)
}

func (d *Dispatcher) dispatchCPUModel(req Request) Reply {
	rep := NewReply(req, EndOK)
	rep.CPUModel = d.series
	rep.CPUCode = 0x0001
	return rep
}
