package devicemem

import "github.com/pkg/errors"

// Sentinel errors for the device memory contract. The MC codec maps
// these onto wire end codes; callers that don't care about the wire
// mapping can match with errors.Is.
var (
	ErrInvalidDevice     = errors.New("invalid device")
	ErrAddressOutOfRange = errors.New("address out of range")
	ErrPointCountError   = errors.New("point count error")
	// ErrStartCountOverflow is returned when the starting head itself
	// lies beyond the class's configured address space, as distinct
	// from a head+count span that merely runs off the end of it.
	ErrStartCountOverflow = errors.New("start head beyond device address space")
)
