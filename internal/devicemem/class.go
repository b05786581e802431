// Package devicemem implements the typed, addressable device memory
// model shared by the MC codec and the ladder engine.
package devicemem

// Width is the storage unit of a device class.
type Width int

const (
	// Bit devices store a single boolean per head number.
	Bit Width = iota
	// Word devices store a 16-bit unsigned integer per head number.
	Word
)

func (w Width) String() string {
	if w == Bit {
		return "bit"
	}
	return "word"
}

// Radix is the numeral base used when a device address is written out
// as text (e.g. ladder source, diagnostics).
type Radix int

const (
	Decimal Radix = iota
	Hex
)

// Class describes one device namespace: M, X, D, TC, and so on.
type Class struct {
	Name    string
	Width   Width
	Radix   Radix
	Code3E  byte
	Code4E  uint16
	MaxHead int
}

// maxBitPoints and maxWordPoints are the MC spec ceilings on a single
// batch read/write, enforced by Memory.ReadBits/ReadWords and their
// write counterparts.
const (
	maxBitPoints  = 3584
	maxWordPoints = 960
)

// classTable is the full device-code table from the spec's device
// code section. 4E codes are the same numeric values zero-extended
// into two bytes, as called out in the spec.
var classTable = map[string]Class{
	// bit classes
	"M":  {Name: "M", Width: Bit, Radix: Decimal, Code3E: 0x90, Code4E: 0x0090, MaxHead: 8192},
	"L":  {Name: "L", Width: Bit, Radix: Decimal, Code3E: 0x92, Code4E: 0x0092, MaxHead: 8192},
	"B":  {Name: "B", Width: Bit, Radix: Hex, Code3E: 0xA0, Code4E: 0x00A0, MaxHead: 8192},
	"X":  {Name: "X", Width: Bit, Radix: Hex, Code3E: 0x9C, Code4E: 0x009C, MaxHead: 8192},
	"Y":  {Name: "Y", Width: Bit, Radix: Hex, Code3E: 0x9D, Code4E: 0x009D, MaxHead: 8192},
	"F":  {Name: "F", Width: Bit, Radix: Decimal, Code3E: 0x93, Code4E: 0x0093, MaxHead: 2048},
	"V":  {Name: "V", Width: Bit, Radix: Decimal, Code3E: 0x94, Code4E: 0x0094, MaxHead: 2048},
	"S":  {Name: "S", Width: Bit, Radix: Decimal, Code3E: 0x98, Code4E: 0x0098, MaxHead: 2048},
	"TC": {Name: "TC", Width: Bit, Radix: Decimal, Code3E: 0xC1, Code4E: 0x00C1, MaxHead: 2048},
	"TS": {Name: "TS", Width: Bit, Radix: Decimal, Code3E: 0xC0, Code4E: 0x00C0, MaxHead: 2048},
	"CC": {Name: "CC", Width: Bit, Radix: Decimal, Code3E: 0xC4, Code4E: 0x00C4, MaxHead: 1024},
	"CS": {Name: "CS", Width: Bit, Radix: Decimal, Code3E: 0xC3, Code4E: 0x00C3, MaxHead: 1024},
	"SM": {Name: "SM", Width: Bit, Radix: Decimal, Code3E: 0x91, Code4E: 0x0091, MaxHead: 2048},
	"SB": {Name: "SB", Width: Bit, Radix: Hex, Code3E: 0xA1, Code4E: 0x00A1, MaxHead: 2048},

	// word classes
	"D":  {Name: "D", Width: Word, Radix: Decimal, Code3E: 0xA8, Code4E: 0x00A8, MaxHead: 12288},
	"W":  {Name: "W", Width: Word, Radix: Hex, Code3E: 0xB4, Code4E: 0x00B4, MaxHead: 8192},
	"R":  {Name: "R", Width: Word, Radix: Decimal, Code3E: 0xAF, Code4E: 0x00AF, MaxHead: 32768},
	"ZR": {Name: "ZR", Width: Word, Radix: Decimal, Code3E: 0xB0, Code4E: 0x00B0, MaxHead: 65536},
	"TN": {Name: "TN", Width: Word, Radix: Decimal, Code3E: 0xC2, Code4E: 0x00C2, MaxHead: 2048},
	"CN": {Name: "CN", Width: Word, Radix: Decimal, Code3E: 0xC5, Code4E: 0x00C5, MaxHead: 1024},
	"SD": {Name: "SD", Width: Word, Radix: Decimal, Code3E: 0xA9, Code4E: 0x00A9, MaxHead: 2048},
	"SW": {Name: "SW", Width: Word, Radix: Hex, Code3E: 0xB5, Code4E: 0x00B5, MaxHead: 2048},
	"Z":  {Name: "Z", Width: Word, Radix: Decimal, Code3E: 0xCC, Code4E: 0x00CC, MaxHead: 20},
}

// ClassByName looks up a device class by its textual name (e.g. "D", "TC").
func ClassByName(name string) (Class, bool) {
	c, ok := classTable[name]
	return c, ok
}

// ClassByCode3E looks up a device class by its one-byte 3E device code.
func ClassByCode3E(code byte) (Class, bool) {
	for _, c := range classTable {
		if c.Code3E == code {
			return c, true
		}
	}
	return Class{}, false
}

// ClassByCode4E looks up a device class by its two-byte 4E device code.
func ClassByCode4E(code uint16) (Class, bool) {
	for _, c := range classTable {
		if c.Code4E == code {
			return c, true
		}
	}
	return Class{}, false
}

// MaxBitPoints and MaxWordPoints expose the MC batch-read/write
// ceilings the codec and Memory both need to enforce.
func MaxBitPoints() int  { return maxBitPoints }
func MaxWordPoints() int { return maxWordPoints }
