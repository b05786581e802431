package mcproto

import (
	"encoding/binary"

	"github.com/melsecmock/plc/internal/devicemem"
)

// Request is a decoded MC request, covering every command this mock
// understands. Fields irrelevant to a given command are left zero.
type Request struct {
	Family Family

	Serial      uint16 // 4E only; echoed back on the reply
	Network     byte
	PC          byte
	DestIO      uint16
	DestStation byte
	Timer       uint16
	Command     uint16
	Subcommand  uint16

	// Batch read/write fields.
	Class      string
	Head       int
	Count      int
	BitValues  []bool
	WordValues []uint16
}

// DecodeRequestHeader parses the fixed-length header prefix (the bytes
// a server must read before it knows the frame's total length) and
// returns the partially populated Request plus the declared data
// length, i.e. how many more bytes the caller must read before calling
// DecodeRequestBody.
func DecodeRequestHeader(fam Family, buf []byte) (Request, int, error) {
	want := fam.RequestHeaderLen()
	if len(buf) != want {
		return Request{}, 0, newProtocolError("%s header must be %d bytes, got %d", fam, want, len(buf))
	}

	req := Request{Family: fam}
	off := 0

	sub := [2]byte{buf[0], buf[1]}
	expect := subheaderReq3E
	if fam == FourE {
		expect = subheaderReq4E
	}
	if sub != expect {
		return Request{}, 0, newProtocolError("unexpected %s subheader % X", fam, sub)
	}
	off += 2

	if fam == FourE {
		req.Serial = binary.LittleEndian.Uint16(buf[off : off+2])
		off += 2
		off += 2 // reserved, always 0x0000
	}

	req.Network = buf[off]
	off++
	req.PC = buf[off]
	off++
	req.DestIO = binary.LittleEndian.Uint16(buf[off : off+2])
	off += 2
	req.DestStation = buf[off]
	off++

	dataLen := int(binary.LittleEndian.Uint16(buf[off : off+2]))
	off += 2

	return req, dataLen, nil
}

// DecodeRequestBody parses the data-length-sized body that follows the
// header prefix, filling in the timer/command/subcommand/device fields
// of an already header-decoded Request.
func DecodeRequestBody(req Request, body []byte) (Request, error) {
	if len(body) < 6 {
		return req, newProtocolError("request body too short: %d bytes", len(body))
	}
	off := 0
	req.Timer = binary.LittleEndian.Uint16(body[off : off+2])
	off += 2
	req.Command = binary.LittleEndian.Uint16(body[off : off+2])
	off += 2
	req.Subcommand = binary.LittleEndian.Uint16(body[off : off+2])
	off += 2

	switch req.Command {
	case CmdBatchRead, CmdBatchWrite:
		return decodeBatchBody(req, body[off:])
	case CmdReadCPUModel:
		return req, nil
	case CmdRemoteSTOP, CmdRemoteRUN, CmdRemotePAUSE, CmdRemoteRESET:
		return req, nil
	default:
		return req, newProtocolError("unsupported command 0x%04X", req.Command)
	}
}

func decodeBatchBody(req Request, rest []byte) (Request, error) {
	dfLen := req.Family.deviceFieldLen()
	if len(rest) < dfLen+2 {
		return req, newProtocolError("batch request device/count field truncated")
	}

	head, class, err := decodeDeviceField(req.Family, rest[:dfLen])
	if err != nil {
		return req, err
	}
	req.Head = head
	req.Class = class
	off := dfLen

	count := int(binary.LittleEndian.Uint16(rest[off : off+2]))
	off += 2
	req.Count = count

	if req.Command != CmdBatchWrite {
		return req, nil
	}

	c, ok := devicemem.ClassByName(class)
	if !ok {
		return req, newProtocolError("unknown device class %q in write request", class)
	}
	if c.Width == devicemem.Bit {
		need := (count + 1) / 2
		if len(rest[off:]) < need {
			return req, newProtocolError("bit write payload truncated")
		}
		vals := make([]bool, count)
		for i := 0; i < count; i++ {
			b := rest[off+i/2]
			nibble := b >> 4
			if i%2 == 1 {
				nibble = b & 0x0F
			}
			vals[i] = nibble != 0
		}
		req.BitValues = vals
	} else {
		need := count * 2
		if len(rest[off:]) < need {
			return req, newProtocolError("word write payload truncated")
		}
		vals := make([]uint16, count)
		for i := 0; i < count; i++ {
			vals[i] = binary.LittleEndian.Uint16(rest[off+2*i : off+2*i+2])
		}
		req.WordValues = vals
	}
	return req, nil
}

// decodeDeviceField parses the address-reference field: 3 bytes head +
// 1 byte device code for 3E, or 3 bytes head + 1 reserved + 2 byte
// device code for 4E.
func decodeDeviceField(fam Family, buf []byte) (int, string, error) {
	head := int(buf[0]) | int(buf[1])<<8 | int(buf[2])<<16
	var class devicemem.Class
	var ok bool
	if fam == FourE {
		code := binary.LittleEndian.Uint16(buf[4:6])
		class, ok = devicemem.ClassByCode4E(code)
	} else {
		class, ok = devicemem.ClassByCode3E(buf[3])
	}
	if !ok {
		return 0, "", newProtocolError("unknown device code in address field")
	}
	return head, class.Name, nil
}

// Encode serializes the request back to wire bytes, used by the client
// and by round-trip tests.
func (req Request) Encode() ([]byte, error) {
	var body []byte
	body = binary.LittleEndian.AppendUint16(body, req.Timer)
	body = binary.LittleEndian.AppendUint16(body, req.Command)
	body = binary.LittleEndian.AppendUint16(body, req.Subcommand)

	switch req.Command {
	case CmdBatchRead, CmdBatchWrite:
		df, err := encodeDeviceField(req.Family, req.Class, req.Head)
		if err != nil {
			return nil, err
		}
		body = append(body, df...)
		body = binary.LittleEndian.AppendUint16(body, uint16(req.Count))
		if req.Command == CmdBatchWrite {
			c, ok := devicemem.ClassByName(req.Class)
			if !ok {
				return nil, newProtocolError("unknown device class %q", req.Class)
			}
			if c.Width == devicemem.Bit {
				body = append(body, packBitsNibble(req.BitValues)...)
			} else {
				for _, w := range req.WordValues {
					body = binary.LittleEndian.AppendUint16(body, w)
				}
			}
		}
	}

	header := make([]byte, 0, req.Family.RequestHeaderLen())
	sub := subheaderReq3E
	if req.Family == FourE {
		sub = subheaderReq4E
	}
	header = append(header, sub[:]...)
	if req.Family == FourE {
		header = binary.LittleEndian.AppendUint16(header, req.Serial)
		header = binary.LittleEndian.AppendUint16(header, 0x0000)
	}
	header = append(header, req.Network, req.PC)
	header = binary.LittleEndian.AppendUint16(header, req.DestIO)
	header = append(header, req.DestStation)
	header = binary.LittleEndian.AppendUint16(header, uint16(len(body)))

	return append(header, body...), nil
}

func encodeDeviceField(fam Family, class string, head int) ([]byte, error) {
	c, ok := devicemem.ClassByName(class)
	if !ok {
		return nil, newProtocolError("unknown device class %q", class)
	}
	out := []byte{byte(head), byte(head >> 8), byte(head >> 16)}
	if fam == FourE {
		out = append(out, 0x00)
		out = binary.LittleEndian.AppendUint16(out, c.Code4E)
	} else {
		out = append(out, c.Code3E)
	}
	return out, nil
}

// packBitsNibble packs one bit per nibble, high nibble first, matching
// MC bit-unit payloads: each nibble holds 0 or 1, not a full set
// nibble (e.g. M0..M3 = [1,0,1,1] packs to 0x10 0x11).
func packBitsNibble(vals []bool) []byte {
	out := make([]byte, (len(vals)+1)/2)
	for i, v := range vals {
		if !v {
			continue
		}
		if i%2 == 0 {
			out[i/2] |= 0x10
		} else {
			out[i/2] |= 0x01
		}
	}
	return out
}
