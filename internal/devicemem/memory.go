package devicemem

import (
	"sync"

	"github.com/pkg/errors"
)

// store is the backing array for one device class (or a pair of
// aliased classes, e.g. TC/TS), guarded by its own lock so that a
// single (class, head) slot is always accessed atomically without
// serializing unrelated classes against each other.
type store struct {
	mu    sync.RWMutex
	bits  []bool
	words []uint16
}

// Memory is the shared, addressable device file. It is safe for
// concurrent use by the MC dispatcher and the ladder engine; a
// multi-point read/write copies its whole range under the class's
// lock, and nothing is held across separate calls.
type Memory struct {
	stores map[string]*store
}

// aliasOf maps a class name onto the class name that owns its backing
// store, modeling the timer/counter contact-coil aliasing invariant.
var aliasOf = map[string]string{
	"TS": "TC",
	"CS": "CC",
}

func storageKey(class string) string {
	if owner, ok := aliasOf[class]; ok {
		return owner
	}
	return class
}

// NewMemory allocates zeroed storage for every known device class.
func NewMemory() *Memory {
	m := &Memory{stores: make(map[string]*store)}
	for name, c := range classTable {
		key := storageKey(name)
		if _, ok := m.stores[key]; ok {
			continue
		}
		owner, _ := ClassByName(key)
		s := &store{}
		if owner.Width == Bit {
			s.bits = make([]bool, owner.MaxHead)
		} else {
			s.words = make([]uint16, owner.MaxHead)
		}
		m.stores[key] = s
	}
	return m
}

func (m *Memory) lookup(class string, width Width) (Class, *store, error) {
	c, ok := ClassByName(class)
	if !ok {
		return Class{}, nil, errors.Wrapf(ErrInvalidDevice, "unknown device class %q", class)
	}
	if c.Width != width {
		return Class{}, nil, errors.Wrapf(ErrInvalidDevice, "device class %q is not %v width", class, width)
	}
	return c, m.stores[storageKey(class)], nil
}

func checkRange(c Class, head, count int) error {
	if count < 1 {
		return errors.Wrapf(ErrPointCountError, "count %d must be >= 1", count)
	}
	if head < 0 || head >= c.MaxHead {
		return errors.Wrapf(ErrStartCountOverflow, "%s%d starts beyond address space of %d", c.Name, head, c.MaxHead)
	}
	if head+count > c.MaxHead {
		return errors.Wrapf(ErrAddressOutOfRange, "%s%d..%d exceeds address space of %d", c.Name, head, head+count-1, c.MaxHead)
	}
	return nil
}

// ReadBit reads a single bit device.
func (m *Memory) ReadBit(class string, head int) (bool, error) {
	c, s, err := m.lookup(class, Bit)
	if err != nil {
		return false, err
	}
	if err := checkRange(c, head, 1); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bits[head], nil
}

// WriteBit writes a single bit device.
func (m *Memory) WriteBit(class string, head int, v bool) error {
	c, s, err := m.lookup(class, Bit)
	if err != nil {
		return err
	}
	if err := checkRange(c, head, 1); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bits[head] = v
	return nil
}

// ReadWord reads a single word device.
func (m *Memory) ReadWord(class string, head int) (uint16, error) {
	c, s, err := m.lookup(class, Word)
	if err != nil {
		return 0, err
	}
	if err := checkRange(c, head, 1); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.words[head], nil
}

// WriteWord writes a single word device.
func (m *Memory) WriteWord(class string, head int, v uint16) error {
	c, s, err := m.lookup(class, Word)
	if err != nil {
		return err
	}
	if err := checkRange(c, head, 1); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.words[head] = v
	return nil
}

// ReadBits reads count bits starting at head, enforcing the MC batch
// read ceiling for bit devices.
func (m *Memory) ReadBits(class string, head, count int) ([]bool, error) {
	c, s, err := m.lookup(class, Bit)
	if err != nil {
		return nil, err
	}
	if count > maxBitPoints {
		return nil, errors.Wrapf(ErrPointCountError, "%d exceeds max bit points %d", count, maxBitPoints)
	}
	if err := checkRange(c, head, count); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bool, count)
	copy(out, s.bits[head:head+count])
	return out, nil
}

// WriteBits writes len(vals) bits starting at head.
func (m *Memory) WriteBits(class string, head int, vals []bool) error {
	c, s, err := m.lookup(class, Bit)
	if err != nil {
		return err
	}
	if len(vals) > maxBitPoints {
		return errors.Wrapf(ErrPointCountError, "%d exceeds max bit points %d", len(vals), maxBitPoints)
	}
	if err := checkRange(c, head, len(vals)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.bits[head:head+len(vals)], vals)
	return nil
}

// ReadWords reads count words starting at head, enforcing the MC
// batch read ceiling for word devices.
func (m *Memory) ReadWords(class string, head, count int) ([]uint16, error) {
	c, s, err := m.lookup(class, Word)
	if err != nil {
		return nil, err
	}
	if count > maxWordPoints {
		return nil, errors.Wrapf(ErrPointCountError, "%d exceeds max word points %d", count, maxWordPoints)
	}
	if err := checkRange(c, head, count); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint16, count)
	copy(out, s.words[head:head+count])
	return out, nil
}

// WriteWords writes len(vals) words starting at head.
func (m *Memory) WriteWords(class string, head int, vals []uint16) error {
	c, s, err := m.lookup(class, Word)
	if err != nil {
		return err
	}
	if len(vals) > maxWordPoints {
		return errors.Wrapf(ErrPointCountError, "%d exceeds max word points %d", len(vals), maxWordPoints)
	}
	if err := checkRange(c, head, len(vals)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.words[head:head+len(vals)], vals)
	return nil
}

// ResetAll clears every device class to its zero value, used by CPU
// mode RESET.
func (m *Memory) ResetAll() {
	seen := make(map[*store]bool)
	for _, s := range m.stores {
		if seen[s] {
			continue
		}
		seen[s] = true
		s.mu.Lock()
		for i := range s.bits {
			s.bits[i] = false
		}
		for i := range s.words {
			s.words[i] = 0
		}
		s.mu.Unlock()
	}
}

// SetTimerContact writes the TC/TS contact bit for timer n.
func (m *Memory) SetTimerContact(n int, v bool) error {
	return m.WriteBit("TC", n, v)
}

// SetTimerCurrent writes the TN current value for timer n.
func (m *Memory) SetTimerCurrent(n int, v uint16) error {
	return m.WriteWord("TN", n, v)
}

// ResetTimer clears both the contact bit and the current value for
// timer n, matching MC RST semantics on timer devices.
func (m *Memory) ResetTimer(n int) error {
	if err := m.SetTimerContact(n, false); err != nil {
		return err
	}
	return m.SetTimerCurrent(n, 0)
}

// SetCounterContact writes the CC/CS contact bit for counter n.
func (m *Memory) SetCounterContact(n int, v bool) error {
	return m.WriteBit("CC", n, v)
}

// SetCounterCurrent writes the CN current value for counter n.
func (m *Memory) SetCounterCurrent(n int, v uint16) error {
	return m.WriteWord("CN", n, v)
}

// ResetCounter clears both the contact bit and the current value for
// counter n, matching MC RST semantics on counter devices.
func (m *Memory) ResetCounter(n int) error {
	if err := m.SetCounterContact(n, false); err != nil {
		return err
	}
	return m.SetCounterCurrent(n, 0)
}
