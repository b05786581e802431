// Package plcclient implements a persistent-connection client for the
// mock MC-protocol server: dial once, issue typed operations,
// disconnect. Every operation surfaces the wire end code as a typed
// error when the server rejected the request.
package plcclient

import (
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/melsecmock/plc/internal/mcproto"
)

// EndCodeError wraps a non-OK MC end code so callers can branch on it
// without string-matching an error message.
type EndCodeError struct {
	Code EndCode
}

func (e *EndCodeError) Error() string {
	return fmt.Sprintf("mc end code %04X: %s", uint16(e.Code), e.Code.String())
}

// EndCode re-exports mcproto.EndCode.
type EndCode = mcproto.EndCode

// Client holds one open TCP connection to a mock MC server and issues
// requests over it sequentially; it is not safe for concurrent use
// from multiple goroutines, matching the one-request-in-flight nature
// of a real MC client.
type Client struct {
	conn   net.Conn
	family mcproto.Family
	serial uint16

	network     byte
	pc          byte
	destIO      uint16
	destStation byte
	timer       uint16
}

// Options configures the station-addressing fields a Client stamps on
// every outgoing request; the defaults match the worked example in the
// wire protocol documentation.
type Options struct {
	Family      mcproto.Family
	Network     byte
	PC          byte
	DestIO      uint16
	DestStation byte
	Timer       uint16
	DialTimeout time.Duration
}

func defaultOptions(o Options) Options {
	if o.PC == 0 {
		o.PC = 0xFF
	}
	if o.DestIO == 0 {
		o.DestIO = 0x03FF
	}
	if o.Timer == 0 {
		o.Timer = 16
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = 5 * time.Second
	}
	return o
}

// Dial connects to addr and returns a ready-to-use Client.
func Dial(addr string, opts Options) (*Client, error) {
	opts = defaultOptions(opts)
	conn, err := net.DialTimeout("tcp", addr, opts.DialTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return &Client{
		conn:        conn,
		family:      opts.Family,
		network:     opts.Network,
		pc:          opts.PC,
		destIO:      opts.DestIO,
		destStation: opts.DestStation,
		timer:       opts.Timer,
	}, nil
}

// Close disconnects the underlying TCP connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) nextSerial() uint16 {
	c.serial++
	return c.serial
}

func (c *Client) baseRequest(cmd, sub uint16) mcproto.Request {
	return mcproto.Request{
		Family: c.family, Serial: c.nextSerial(),
		Network: c.network, PC: c.pc, DestIO: c.destIO, DestStation: c.destStation,
		Timer: c.timer, Command: cmd, Subcommand: sub,
	}
}

// roundTrip writes req and reads back the matching reply, surfacing a
// non-OK end code as *EndCodeError rather than swallowing it.
func (c *Client) roundTrip(req mcproto.Request) (mcproto.Reply, error) {
	wire, err := req.Encode()
	if err != nil {
		return mcproto.Reply{}, errors.Wrap(err, "encode request")
	}
	if _, err := c.conn.Write(wire); err != nil {
		return mcproto.Reply{}, errors.Wrap(err, "write request")
	}

	headerLen := c.family.RequestHeaderLen()
	header := make([]byte, headerLen)
	if err := readFull(c.conn, header); err != nil {
		return mcproto.Reply{}, errors.Wrap(err, "read reply header")
	}
	rep, dataLen, err := mcproto.DecodeReplyHeader(c.family, header)
	if err != nil {
		return mcproto.Reply{}, errors.Wrap(err, "decode reply header")
	}
	body := make([]byte, dataLen)
	if err := readFull(c.conn, body); err != nil {
		return mcproto.Reply{}, errors.Wrap(err, "read reply body")
	}
	rep, err = mcproto.DecodeReplyBody(rep, body, req.Command, req.Subcommand, req.Count)
	if err != nil {
		return mcproto.Reply{}, errors.Wrap(err, "decode reply body")
	}
	if !rep.EndCode.IsSuccess() {
		return rep, &EndCodeError{Code: rep.EndCode}
	}
	return rep, nil
}

func readFull(conn net.Conn, buf []byte) error {
	n := 0
	for n < len(buf) {
		k, err := conn.Read(buf[n:])
		n += k
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadWord reads a single word device.
func (c *Client) ReadWord(class string, head int) (uint16, error) {
	vals, err := c.ReadWords(class, head, 1)
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// ReadWords reads count consecutive word devices starting at head.
func (c *Client) ReadWords(class string, head, count int) ([]uint16, error) {
	req := c.baseRequest(mcproto.CmdBatchRead, mcproto.SubWordUnits)
	req.Class, req.Head, req.Count = class, head, count
	rep, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}
	return rep.WordValues, nil
}

// WriteWord writes a single word device.
func (c *Client) WriteWord(class string, head int, v uint16) error {
	return c.WriteWords(class, head, []uint16{v})
}

// WriteWords writes consecutive word devices starting at head.
func (c *Client) WriteWords(class string, head int, vals []uint16) error {
	req := c.baseRequest(mcproto.CmdBatchWrite, mcproto.SubWordUnits)
	req.Class, req.Head, req.Count, req.WordValues = class, head, len(vals), vals
	_, err := c.roundTrip(req)
	return err
}

// ReadBit reads a single bit device.
func (c *Client) ReadBit(class string, head int) (bool, error) {
	vals, err := c.ReadBits(class, head, 1)
	if err != nil {
		return false, err
	}
	return vals[0], nil
}

// ReadBits reads count consecutive bit devices starting at head.
func (c *Client) ReadBits(class string, head, count int) ([]bool, error) {
	req := c.baseRequest(mcproto.CmdBatchRead, mcproto.SubBitUnits)
	req.Class, req.Head, req.Count = class, head, count
	rep, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}
	return rep.BitValues, nil
}

// WriteBit writes a single bit device.
func (c *Client) WriteBit(class string, head int, v bool) error {
	return c.WriteBits(class, head, []bool{v})
}

// WriteBits writes consecutive bit devices starting at head.
func (c *Client) WriteBits(class string, head int, vals []bool) error {
	req := c.baseRequest(mcproto.CmdBatchWrite, mcproto.SubBitUnits)
	req.Class, req.Head, req.Count, req.BitValues = class, head, len(vals), vals
	_, err := c.roundTrip(req)
	return err
}

// CPUModel returns the CPU series name and code reported by the
// server.
func (c *Client) CPUModel() (string, uint16, error) {
	req := c.baseRequest(mcproto.CmdReadCPUModel, mcproto.SubZero)
	rep, err := c.roundTrip(req)
	if err != nil {
		return "", 0, err
	}
	return rep.CPUModel, rep.CPUCode, nil
}

// RemoteRun issues Remote RUN.
func (c *Client) RemoteRun() error { return c.remoteControl(mcproto.CmdRemoteRUN) }

// RemoteStop issues Remote STOP.
func (c *Client) RemoteStop() error { return c.remoteControl(mcproto.CmdRemoteSTOP) }

// RemotePause issues Remote PAUSE.
func (c *Client) RemotePause() error { return c.remoteControl(mcproto.CmdRemotePAUSE) }

// RemoteReset issues Remote RESET.
func (c *Client) RemoteReset() error { return c.remoteControl(mcproto.CmdRemoteRESET) }

func (c *Client) remoteControl(cmd uint16) error {
	_, err := c.roundTrip(c.baseRequest(cmd, mcproto.SubZero))
	return err
}

// Ping reads D0 purely to test connectivity, mirroring the `ping` CLI
// subcommand.
func (c *Client) Ping() error {
	_, err := c.ReadWord("D", 0)
	return err
}
