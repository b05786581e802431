package plcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/melsecmock/plc/internal/cpumode"
	"github.com/melsecmock/plc/internal/devicemem"
	"github.com/melsecmock/plc/internal/ladder"
	"github.com/melsecmock/plc/internal/mcproto"
)

func startTestServer(t *testing.T) (net.Addr, *devicemem.Memory, mcproto.EngineController) {
	t.Helper()
	mem := devicemem.NewMemory()
	mode := cpumode.NewCell()
	engine := ladder.NewEngine(mem, mode, ladder.DefaultScanPeriod, nil, zerolog.Nop())
	require.NoError(t, engine.Load(ladder.Program{}))
	t.Cleanup(engine.Close)

	srv := New(Config{Mem: mem, Mode: mode, Engine: engine, Series: "Q03UDE", Family: mcproto.ThreeE, Log: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, "127.0.0.1:0") }()

	var addr net.Addr
	require.Eventually(t, func() bool {
		addr = srv.Addr()
		return addr != nil
	}, time.Second, time.Millisecond)

	return addr, mem, engine
}

// dialAndRoundTrip sends one request over a raw TCP connection and
// returns the decoded reply, exercising the exact wire path a real
// client would use.
func dialAndRoundTrip(t *testing.T, addr net.Addr, req mcproto.Request) mcproto.Reply {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	return roundTripOnConn(t, conn, req)
}

// roundTripOnConn sends one request over an already open connection
// and returns the decoded reply.
func roundTripOnConn(t *testing.T, conn net.Conn, req mcproto.Request) mcproto.Reply {
	t.Helper()
	wire, err := req.Encode()
	require.NoError(t, err)
	_, err = conn.Write(wire)
	require.NoError(t, err)

	headerLen := req.Family.RequestHeaderLen()
	header := make([]byte, headerLen)
	require.NoError(t, readFull(conn, header))

	rep, dataLen, err := mcproto.DecodeReplyHeader(req.Family, header)
	require.NoError(t, err)
	body := make([]byte, dataLen)
	require.NoError(t, readFull(conn, body))

	rep, err = mcproto.DecodeReplyBody(rep, body, req.Command, req.Subcommand, req.Count)
	require.NoError(t, err)
	return rep
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

func baseClientRequest(cmd, sub uint16) mcproto.Request {
	return mcproto.Request{Family: mcproto.ThreeE, Network: 0, PC: 0xFF, DestIO: 0x03FF, DestStation: 0,
		Timer: 16, Command: cmd, Subcommand: sub}
}

func TestServerReadWriteRoundTrip(t *testing.T) {
	addr, _, _ := startTestServer(t)

	write := baseClientRequest(mcproto.CmdBatchWrite, mcproto.SubWordUnits)
	write.Class, write.Head, write.Count, write.WordValues = "D", 0, 1, []uint16{1234}
	rep := dialAndRoundTrip(t, addr, write)
	require.Equal(t, mcproto.EndOK, rep.EndCode)

	read := baseClientRequest(mcproto.CmdBatchRead, mcproto.SubWordUnits)
	read.Class, read.Head, read.Count = "D", 0, 1
	rep = dialAndRoundTrip(t, addr, read)
	require.Equal(t, mcproto.EndOK, rep.EndCode)
	require.Equal(t, []uint16{1234}, rep.WordValues)
}

func TestServerSequentialRequestsOnOneConnection(t *testing.T) {
	addr, _, _ := startTestServer(t)

	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 5; i++ {
		write := baseClientRequest(mcproto.CmdBatchWrite, mcproto.SubWordUnits)
		write.Class, write.Head, write.Count, write.WordValues = "D", i, 1, []uint16{uint16(i * 10)}
		wire, err := write.Encode()
		require.NoError(t, err)
		_, err = conn.Write(wire)
		require.NoError(t, err)

		headerLen := write.Family.RequestHeaderLen()
		header := make([]byte, headerLen)
		require.NoError(t, readFull(conn, header))
		rep, dataLen, err := mcproto.DecodeReplyHeader(write.Family, header)
		require.NoError(t, err)
		body := make([]byte, dataLen)
		require.NoError(t, readFull(conn, body))
		rep, err = mcproto.DecodeReplyBody(rep, body, write.Command, write.Subcommand, 0)
		require.NoError(t, err)
		require.Equal(t, mcproto.EndOK, rep.EndCode)
	}
}

func TestServerBadAddressKeepsConnectionUsable(t *testing.T) {
	addr, _, _ := startTestServer(t)

	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	bad := baseClientRequest(mcproto.CmdBatchRead, mcproto.SubWordUnits)
	bad.Class, bad.Head, bad.Count = "D", 999999, 1
	rep := roundTripOnConn(t, conn, bad)
	require.Equal(t, mcproto.EndStartCountOverflow, rep.EndCode)

	good := baseClientRequest(mcproto.CmdBatchRead, mcproto.SubWordUnits)
	good.Class, good.Head, good.Count = "D", 0, 1
	rep = roundTripOnConn(t, conn, good)
	require.Equal(t, mcproto.EndOK, rep.EndCode)
}

func TestServerMalformedBodyRepliesFrameLengthMismatch(t *testing.T) {
	addr, _, _ := startTestServer(t)

	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	// A well-formed header declaring a 3-byte body, too short to hold
	// the timer/command/subcommand fields DecodeRequestBody requires.
	header := []byte{0x50, 0x00, 0x00, 0xFF, 0xFF, 0x03, 0x00, 0x03, 0x00}
	body := []byte{0x10, 0x00, 0x00}
	_, err = conn.Write(append(header, body...))
	require.NoError(t, err)

	replyHeader := make([]byte, 9)
	require.NoError(t, readFull(conn, replyHeader))
	rep, dataLen, err := mcproto.DecodeReplyHeader(mcproto.ThreeE, replyHeader)
	require.NoError(t, err)
	replyBody := make([]byte, dataLen)
	require.NoError(t, readFull(conn, replyBody))
	rep, err = mcproto.DecodeReplyBody(rep, replyBody, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, mcproto.EndFrameLengthMismatch, rep.EndCode)

	// The connection stays usable for a well-formed request afterward.
	good := baseClientRequest(mcproto.CmdBatchRead, mcproto.SubWordUnits)
	good.Class, good.Head, good.Count = "D", 0, 1
	goodRep := roundTripOnConn(t, conn, good)
	require.Equal(t, mcproto.EndOK, goodRep.EndCode)
}

func TestServerRemoteRunStopReset(t *testing.T) {
	addr, mem, _ := startTestServer(t)

	rep := dialAndRoundTrip(t, addr, baseClientRequest(mcproto.CmdRemoteRUN, mcproto.SubZero))
	require.Equal(t, mcproto.EndOK, rep.EndCode)

	rep = dialAndRoundTrip(t, addr, baseClientRequest(mcproto.CmdRemoteSTOP, mcproto.SubZero))
	require.Equal(t, mcproto.EndOK, rep.EndCode)

	require.NoError(t, mem.WriteWord("D", 0, 42))
	rep = dialAndRoundTrip(t, addr, baseClientRequest(mcproto.CmdRemoteRESET, mcproto.SubZero))
	require.Equal(t, mcproto.EndOK, rep.EndCode)

	d0, err := mem.ReadWord("D", 0)
	require.NoError(t, err)
	require.Equal(t, uint16(0), d0)
}
