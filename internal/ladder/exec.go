package ladder

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/melsecmock/plc/internal/cpumode"
	"github.com/melsecmock/plc/internal/devicemem"
)

// DefaultScanPeriod is the soft scan-cycle period used when none is
// configured explicitly.
const DefaultScanPeriod = 10 * time.Millisecond

const idlePollPeriod = 5 * time.Millisecond

type timerState struct {
	elapsedMs int
	running   bool
}

type counterState struct {
	current   int
	lastInput bool
}

// Engine runs the scan loop: repeatedly executing a loaded Program
// against a shared Memory until END, then sleeping to the next scan
// boundary. It is safe to Start/Stop/Reset from any goroutine; Load
// is only accepted while the CPU mode is STOP.
type Engine struct {
	mem        *devicemem.Memory
	mode       *cpumode.Cell
	scanPeriod time.Duration
	log        zerolog.Logger

	mu       sync.Mutex
	program  Program
	timers   map[int]*timerState
	counters map[int]*counterState
	plsPrev  map[int]bool
	plfPrev  map[int]bool

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	scanCount    prometheus.Counter
	scanOverruns prometheus.Counter
	scanDuration prometheus.Histogram
}

// NewEngine builds an Engine over mem/mode. reg may be nil, in which
// case scan metrics are collected against a private registry instead
// of the global default (keeping repeated engine construction in
// tests from tripping duplicate-registration panics).
func NewEngine(mem *devicemem.Memory, mode *cpumode.Cell, scanPeriod time.Duration, reg *prometheus.Registry, log zerolog.Logger) *Engine {
	if scanPeriod <= 0 {
		scanPeriod = DefaultScanPeriod
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Engine{
		mem:        mem,
		mode:       mode,
		scanPeriod: scanPeriod,
		log:        log,
		timers:     make(map[int]*timerState),
		counters:   make(map[int]*counterState),
		plsPrev:    make(map[int]bool),
		plfPrev:    make(map[int]bool),
		scanCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "ladder_scan_total",
			Help: "Total number of completed ladder scan cycles.",
		}),
		scanOverruns: factory.NewCounter(prometheus.CounterOpts{
			Name: "ladder_scan_overrun_total",
			Help: "Number of scans whose execution time exceeded the configured scan period.",
		}),
		scanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ladder_scan_duration_seconds",
			Help:    "Observed ladder scan execution duration.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}
}

// Load installs a new program. Only permitted while the CPU mode is
// STOP; hot-swapping a running program is rejected.
func (e *Engine) Load(p Program) error {
	if e.mode.Get() != cpumode.Stop {
		return errEngineNotStopped
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.program = p
	e.timers = make(map[int]*timerState)
	e.counters = make(map[int]*counterState)
	e.plsPrev = make(map[int]bool)
	e.plfPrev = make(map[int]bool)
	return nil
}

// Start transitions the CPU to RUN and, if the scan goroutine isn't
// already running, launches it.
func (e *Engine) Start() {
	e.mode.Set(cpumode.Run)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	go e.runScanLoop(e.stopCh, e.doneCh)
}

// Stop halts scanning (outputs hold their last value) and returns the
// CPU to STOP.
func (e *Engine) Stop() {
	e.mode.Set(cpumode.Stop)
}

// PauseScan halts scanning while holding outputs, mirroring PAUSE mode.
func (e *Engine) PauseScan() {
	e.mode.Set(cpumode.Pause)
}

// Reset stops scanning, clears device memory, and returns to STOP.
func (e *Engine) Reset() {
	e.mode.Set(cpumode.Reset)
	e.mem.ResetAll()
	e.mu.Lock()
	e.timers = make(map[int]*timerState)
	e.counters = make(map[int]*counterState)
	e.plsPrev = make(map[int]bool)
	e.plfPrev = make(map[int]bool)
	e.mu.Unlock()
	e.mode.Set(cpumode.Stop)
}

// Close terminates the scan goroutine and joins it. Safe to call even
// if the engine was never started.
func (e *Engine) Close() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	stopCh, doneCh := e.stopCh, e.doneCh
	e.running = false
	e.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// Step runs exactly one scan synchronously, for tests that want
// deterministic control over timer/counter accumulation instead of
// the free-running goroutine.
func (e *Engine) Step() {
	e.executeScan()
}

func (e *Engine) runScanLoop(stopCh chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if e.mode.Get() != cpumode.Run {
			select {
			case <-stopCh:
				return
			case <-time.After(idlePollPeriod):
			}
			continue
		}

		start := time.Now()
		e.executeScan()
		elapsed := time.Since(start)

		e.scanCount.Inc()
		e.scanDuration.Observe(elapsed.Seconds())

		sleep := e.scanPeriod - elapsed
		if sleep <= 0 {
			e.scanOverruns.Inc()
			continue
		}
		select {
		case <-stopCh:
			return
		case <-time.After(sleep):
		}
	}
}

// executeScan runs the loaded program once, start to END, reading and
// mutating device memory instruction by instruction rather than via a
// per-scan snapshot, per the engine's concurrency model.
func (e *Engine) executeScan() {
	e.mu.Lock()
	program := e.program
	plsPrev, plfPrev := e.plsPrev, e.plfPrev
	e.mu.Unlock()

	var acc bool
	var blockStack []bool
	var branchStack []bool
	atRungStart := true

	for idx, instr := range program.Instructions {
		switch instr.Op {
		case OpLD, OpLDI:
			v := e.resolveBit(instr.A)
			if instr.Op == OpLDI {
				v = !v
			}
			if atRungStart {
				acc = v
				blockStack = blockStack[:0]
				branchStack = branchStack[:0]
			} else {
				blockStack = append(blockStack, acc)
				acc = v
			}
			atRungStart = false

		case OpAND:
			acc = acc && e.resolveBit(instr.A)
		case OpANI:
			acc = acc && !e.resolveBit(instr.A)
		case OpOR:
			acc = acc || e.resolveBit(instr.A)
		case OpORI:
			acc = acc || !e.resolveBit(instr.A)

		case OpANB:
			if n := len(blockStack); n > 0 {
				prev := blockStack[n-1]
				blockStack = blockStack[:n-1]
				acc = prev && acc
			}
		case OpORB:
			if n := len(blockStack); n > 0 {
				prev := blockStack[n-1]
				blockStack = blockStack[:n-1]
				acc = prev || acc
			}

		case OpMPS:
			branchStack = append(branchStack, acc)
		case OpMRD:
			if n := len(branchStack); n > 0 {
				acc = branchStack[n-1]
			}
		case OpMPP:
			if n := len(branchStack); n > 0 {
				acc = branchStack[n-1]
				branchStack = branchStack[:n-1]
			}

		case OpOUT:
			e.writeBit(instr.Dst, acc)
			atRungStart = true
		case OpSET:
			if acc {
				e.writeBit(instr.Dst, true)
			}
			atRungStart = true
		case OpRST:
			if acc {
				e.resetOutput(instr.Dst)
			}
			atRungStart = true
		case OpPLS:
			prev := plsPrev[idx]
			plsPrev[idx] = acc
			e.writeBit(instr.Dst, acc && !prev)
			atRungStart = true
		case OpPLF:
			prev := plfPrev[idx]
			plfPrev[idx] = acc
			e.writeBit(instr.Dst, !acc && prev)
			atRungStart = true

		case OpOUTT:
			e.execOutTimer(instr, acc)
			atRungStart = true
		case OpOUTC:
			e.execOutCounter(instr, acc)
			atRungStart = true
		case OpRSTT:
			if acc {
				e.resetTimer(instr.N)
			}
			atRungStart = true
		case OpRSTC:
			if acc {
				e.resetCounter(instr.N)
			}
			atRungStart = true

		case OpMOV:
			if acc {
				e.execMov(instr)
			}
			atRungStart = true
		case OpADD, OpSUB, OpMUL, OpDIV:
			if acc {
				e.execArith(instr)
			}
			atRungStart = true

		case OpEND:
			return
		}
	}
}

func (e *Engine) resolveBit(op Operand) bool {
	if op.Kind == OperandConst {
		return op.Value != 0
	}
	v, err := e.mem.ReadBit(op.Class, op.Head)
	if err != nil {
		e.fault(&RuntimeError{Msg: err.Error()})
		return false
	}
	return v
}

func (e *Engine) writeBit(op Operand, v bool) {
	if op.Kind != OperandDevice {
		e.fault(&RuntimeError{Msg: "cannot write to a constant operand"})
		return
	}
	if err := e.mem.WriteBit(op.Class, op.Head, v); err != nil {
		e.fault(&RuntimeError{Msg: err.Error()})
	}
}

func (e *Engine) resolveWord(op Operand) int16 {
	if op.Kind == OperandConst {
		return op.Value
	}
	v, err := e.mem.ReadWord(op.Class, op.Head)
	if err != nil {
		e.fault(&RuntimeError{Msg: err.Error()})
		return 0
	}
	return int16(v)
}

func (e *Engine) resetOutput(op Operand) {
	if op.Kind != OperandDevice {
		e.fault(&RuntimeError{Msg: "cannot reset a constant operand"})
		return
	}
	switch op.Class {
	case "TC", "TS":
		e.resetTimer(op.Head)
	case "CC", "CS":
		e.resetCounter(op.Head)
	default:
		e.writeBit(op, false)
	}
}

func (e *Engine) execMov(instr Instruction) {
	v := e.resolveWord(instr.A)
	if err := e.mem.WriteWord(instr.Dst.Class, instr.Dst.Head, uint16(v)); err != nil {
		e.fault(&RuntimeError{Instr: instr, Msg: err.Error()})
	}
}

func (e *Engine) execArith(instr Instruction) {
	a := e.resolveWord(instr.A)
	b := e.resolveWord(instr.B)

	var result int16
	switch instr.Op {
	case OpADD:
		result = a + b
	case OpSUB:
		result = a - b
	case OpMUL:
		result = a * b
	case OpDIV:
		if b == 0 {
			// Division by zero: preserve the destination and raise the
			// diagnostic bit instead of failing the scan.
			e.fault(&RuntimeError{Instr: instr, Msg: "division by zero"})
			return
		}
		result = a / b
	}

	if err := e.mem.WriteWord(instr.Dst.Class, instr.Dst.Head, uint16(result)); err != nil {
		e.fault(&RuntimeError{Instr: instr, Msg: err.Error()})
	}
}

func (e *Engine) execOutTimer(instr Instruction, acc bool) {
	e.mu.Lock()
	ts, ok := e.timers[instr.N]
	if !ok {
		ts = &timerState{}
		e.timers[instr.N] = ts
	}
	e.mu.Unlock()

	if !acc {
		ts.running = false
		ts.elapsedMs = 0
		if err := e.mem.ResetTimer(instr.N); err != nil {
			e.fault(&RuntimeError{Instr: instr, Msg: err.Error()})
		}
		return
	}

	if !ts.running {
		ts.running = true
		ts.elapsedMs = 0
	}
	ts.elapsedMs += int(e.scanPeriod / time.Millisecond)
	current := ts.elapsedMs / 100

	if err := e.mem.SetTimerCurrent(instr.N, clampUint16(current)); err != nil {
		e.fault(&RuntimeError{Instr: instr, Msg: err.Error()})
	}
	if err := e.mem.SetTimerContact(instr.N, current >= instr.K); err != nil {
		e.fault(&RuntimeError{Instr: instr, Msg: err.Error()})
	}
}

func (e *Engine) execOutCounter(instr Instruction, acc bool) {
	e.mu.Lock()
	cs, ok := e.counters[instr.N]
	if !ok {
		cs = &counterState{}
		e.counters[instr.N] = cs
	}
	e.mu.Unlock()

	rising := acc && !cs.lastInput
	cs.lastInput = acc
	if !rising {
		return
	}

	cs.current++
	if err := e.mem.SetCounterCurrent(instr.N, clampUint16(cs.current)); err != nil {
		e.fault(&RuntimeError{Instr: instr, Msg: err.Error()})
		return
	}
	if cs.current >= instr.K {
		if err := e.mem.SetCounterContact(instr.N, true); err != nil {
			e.fault(&RuntimeError{Instr: instr, Msg: err.Error()})
		}
	}
}

func (e *Engine) resetTimer(n int) {
	e.mu.Lock()
	if ts, ok := e.timers[n]; ok {
		ts.running = false
		ts.elapsedMs = 0
	}
	e.mu.Unlock()
	if err := e.mem.ResetTimer(n); err != nil {
		e.fault(&RuntimeError{Msg: err.Error()})
	}
}

func (e *Engine) resetCounter(n int) {
	e.mu.Lock()
	if cs, ok := e.counters[n]; ok {
		cs.current = 0
		cs.lastInput = false
	}
	e.mu.Unlock()
	if err := e.mem.ResetCounter(n); err != nil {
		e.fault(&RuntimeError{Msg: err.Error()})
	}
}

// fault records a runtime error without panicking: it raises the SM1
// diagnostic bit and logs, then lets the scan continue.
func (e *Engine) fault(err error) {
	if werr := e.mem.WriteBit("SM", 1, true); werr != nil {
		e.log.Warn().Err(werr).Msg("failed to raise SM1 diagnostic bit")
	}
	e.log.Debug().Err(err).Msg("ladder runtime fault")
}

func clampUint16(v int) uint16 {
	if v < 0 {
		return 0
	}
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

var errEngineNotStopped = &engineStateError{"program can only be loaded while the CPU is in STOP mode"}

type engineStateError struct{ msg string }

func (e *engineStateError) Error() string { return e.msg }
