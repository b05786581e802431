package mcproto

import "encoding/binary"

// Reply is a decoded (or about-to-be-encoded) MC reply.
type Reply struct {
	Family Family

	Serial      uint16 // 4E only, echoed from the request
	Network     byte
	PC          byte
	DestIO      uint16
	DestStation byte
	EndCode     EndCode

	// Populated on a successful batch read; nil otherwise.
	BitValues  []bool
	WordValues []uint16

	// Populated on a successful CPU model read.
	CPUModel string
	CPUCode  uint16
}

// NewReply builds a success/failure reply addressed back to the
// station that sent req, leaving the payload fields for the caller to
// fill in on success.
func NewReply(req Request, end EndCode) Reply {
	return Reply{
		Family:      req.Family,
		Serial:      req.Serial,
		Network:     req.Network,
		PC:          req.PC,
		DestIO:      req.DestIO,
		DestStation: req.DestStation,
		EndCode:     end,
	}
}

// Encode serializes the reply to wire bytes.
func (rep Reply) Encode() ([]byte, error) {
	var body []byte
	body = binary.LittleEndian.AppendUint16(body, uint16(rep.EndCode))

	if !rep.EndCode.IsSuccess() {
		if rep.Family == FourE {
			body = append(body, 0x00, 0x00) // abort error info, zeroed for this mock
		}
	} else {
		switch {
		case rep.WordValues != nil:
			for _, w := range rep.WordValues {
				body = binary.LittleEndian.AppendUint16(body, w)
			}
		case rep.BitValues != nil:
			body = append(body, packBitsNibble(rep.BitValues)...)
		case rep.CPUModel != "":
			name := []byte(rep.CPUModel)
			for len(name) < 16 {
				name = append(name, ' ')
			}
			body = append(body, name[:16]...)
			body = binary.LittleEndian.AppendUint16(body, rep.CPUCode)
		}
	}

	header := make([]byte, 0, rep.Family.RequestHeaderLen())
	sub := subheaderReply3E
	if rep.Family == FourE {
		sub = subheaderReply4E
	}
	header = append(header, sub[:]...)
	if rep.Family == FourE {
		header = binary.LittleEndian.AppendUint16(header, rep.Serial)
		header = binary.LittleEndian.AppendUint16(header, 0x0000)
	}
	header = append(header, rep.Network, rep.PC)
	header = binary.LittleEndian.AppendUint16(header, rep.DestIO)
	header = append(header, rep.DestStation)
	header = binary.LittleEndian.AppendUint16(header, uint16(len(body)))

	return append(header, body...), nil
}

// DecodeReplyHeader mirrors DecodeRequestHeader for the reply side,
// used by the client and by round-trip tests.
func DecodeReplyHeader(fam Family, buf []byte) (Reply, int, error) {
	want := fam.RequestHeaderLen()
	if len(buf) != want {
		return Reply{}, 0, newProtocolError("%s reply header must be %d bytes, got %d", fam, want, len(buf))
	}

	rep := Reply{Family: fam}
	off := 0

	sub := [2]byte{buf[0], buf[1]}
	expect := subheaderReply3E
	if fam == FourE {
		expect = subheaderReply4E
	}
	if sub != expect {
		return Reply{}, 0, newProtocolError("unexpected %s reply subheader % X", fam, sub)
	}
	off += 2

	if fam == FourE {
		rep.Serial = binary.LittleEndian.Uint16(buf[off : off+2])
		off += 2
		off += 2
	}

	rep.Network = buf[off]
	off++
	rep.PC = buf[off]
	off++
	rep.DestIO = binary.LittleEndian.Uint16(buf[off : off+2])
	off += 2
	rep.DestStation = buf[off]
	off++

	dataLen := int(binary.LittleEndian.Uint16(buf[off : off+2]))
	off += 2

	return rep, dataLen, nil
}

// DecodeReplyBody fills in the end code and, on success, the payload
// the caller expects given the originating command/subcommand/count.
// count is the point count the client requested, needed to trim the
// nibble-packed bit payload (which rounds up to a whole byte) back to
// the exact number of bits asked for.
func DecodeReplyBody(rep Reply, body []byte, cmd, sub uint16, count int) (Reply, error) {
	if len(body) < 2 {
		return rep, newProtocolError("reply body too short: %d bytes", len(body))
	}
	rep.EndCode = EndCode(binary.LittleEndian.Uint16(body[:2]))
	rest := body[2:]

	if !rep.EndCode.IsSuccess() {
		return rep, nil
	}

	switch cmd {
	case CmdBatchRead:
		if sub == SubBitUnits {
			vals := unpackBitsNibble(rest)
			if count > 0 && count < len(vals) {
				vals = vals[:count]
			}
			rep.BitValues = vals
		} else {
			rep.WordValues = make([]uint16, len(rest)/2)
			for i := range rep.WordValues {
				rep.WordValues[i] = binary.LittleEndian.Uint16(rest[2*i : 2*i+2])
			}
		}
	case CmdReadCPUModel:
		if len(rest) < 18 {
			return rep, newProtocolError("CPU model reply truncated")
		}
		rep.CPUModel = trimTrailingSpaces(rest[:16])
		rep.CPUCode = binary.LittleEndian.Uint16(rest[16:18])
	}
	return rep, nil
}

func unpackBitsNibble(buf []byte) []bool {
	out := make([]bool, 0, len(buf)*2)
	for _, b := range buf {
		out = append(out, b&0xF0 != 0, b&0x0F != 0)
	}
	return out
}

func trimTrailingSpaces(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == ' ' {
		end--
	}
	return string(b[:end])
}
