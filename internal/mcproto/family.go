// Package mcproto implements the MELSEC Communication (MC) protocol
// codec: binary framing for the 3E and 4E frame families, request
// decoding, reply construction, and end-code mapping.
package mcproto

// Family distinguishes the two MC frame families this codec supports.
type Family int

const (
	ThreeE Family = iota
	FourE
)

func (f Family) String() string {
	if f == FourE {
		return "4E"
	}
	return "3E"
}

// RequestHeaderLen is the fixed-length prefix a server must read
// before it knows how many further bytes (data length) to consume.
func (f Family) RequestHeaderLen() int {
	if f == FourE {
		return 13
	}
	return 9
}

// deviceFieldLen is the width of an address-field memory reference:
// 3 bytes of head number plus 1 byte device code for 3E, or 3 bytes
// head + 1 reserved + 2 bytes device code for 4E.
func (f Family) deviceFieldLen() int {
	if f == FourE {
		return 6
	}
	return 4
}

var (
	subheaderReq3E   = [2]byte{0x50, 0x00}
	subheaderReply3E = [2]byte{0xD0, 0x00}
	subheaderReq4E   = [2]byte{0x54, 0x00}
	subheaderReply4E = [2]byte{0xD4, 0x00}
)
