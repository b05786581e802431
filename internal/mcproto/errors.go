package mcproto

import (
	"github.com/pkg/errors"

	"github.com/melsecmock/plc/internal/devicemem"
)

// ProtocolError reports a malformed frame: wrong subheader, a length
// mismatch, or a buffer too short to contain its declared fields.
// Unlike InvalidDevice/AddressOutOfRange/PointCountError (which the
// codec maps onto their own MC end codes), a ProtocolError is a framing
// fault: the server closes the connection when the header fails to
// decode, and answers a body that fails to decode with
// EndFrameLengthMismatch while keeping the connection open.
type ProtocolError struct {
	msg string
}

func (e *ProtocolError) Error() string { return e.msg }

func newProtocolError(format string, args ...any) error {
	return &ProtocolError{msg: errors.Errorf(format, args...).Error()}
}

// AsEndCode maps a recoverable error (from devicemem or a codec-level
// validation) onto the MC end code the spec prescribes. Errors that
// aren't recognized default to EndInvalidCommand, the codec's
// catch-all for "something about this request was malformed".
func AsEndCode(err error) EndCode {
	switch {
	case err == nil:
		return EndOK
	case errors.Is(err, devicemem.ErrPointCountError):
		return EndTooManyPoints
	case errors.Is(err, devicemem.ErrAddressOutOfRange):
		return EndAddressOutOfRange
	case errors.Is(err, devicemem.ErrStartCountOverflow):
		return EndStartCountOverflow
	case errors.Is(err, devicemem.ErrInvalidDevice):
		return EndInvalidDevice
	case errors.Is(err, errInvalidCommand):
		return EndInvalidCommand
	default:
		return EndInvalidCommand
	}
}

// errInvalidCommand covers a command/subcommand pair this server
// doesn't implement; devicemem has no sentinel for it since it is a
// purely codec-level condition.
var errInvalidCommand = errors.New("invalid command/subcommand")
