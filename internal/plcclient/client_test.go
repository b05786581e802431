package plcclient

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
	"github.com/melsecmock/plc/internal/plcserver"
)

func startServer(t *testing.T) (net.Addr, *devicemem.Memory) {
	t.Helper()
	mem := devicemem.NewMemory()
	mode := cpumode.NewCell()
	engine := ladder.NewEngine(mem, mode, ladder.DefaultScanPeriod, nil, zerolog.Nop())
	require.NoError(t, engine.Load(ladder.Program{}))
	t.Cleanup(engine.Close)

	srv := plcserver.New(plcserver.Config{
		Mem: mem, Mode: mode, Engine: engine, Series: "Q03UDE",
		Family: mcproto.ThreeE, Log: zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Serve(ctx, "127.0.0.1:0") }()

	var addr net.Addr
	require.Eventually(t, func() bool {
		addr = srv.Addr()
		return addr != nil
	}, time.Second, time.Millisecond)
	return addr, mem
}

func dialTestClient(t *testing.T, addr net.Addr) *Client {
	t.Helper()
	c, err := Dial(addr.String(), Options{Family: mcproto.ThreeE})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientWriteThenReadWord(t *testing.T) {
	addr, _ := startServer(t)
	c := dialTestClient(t, addr)

	require.NoError(t, c.WriteWord("D", 0, 1234))
	v, err := c.ReadWord("D", 0)
	require.NoError(t, err)
	require.Equal(t, uint16(1234), v)
}

func TestClientBitRoundTrip(t *testing.T) {
	addr, _ := startServer(t)
	c := dialTestClient(t, addr)

	require.NoError(t, c.WriteBits("M", 0, []bool{true, false, true, true}))
	vals, err := c.ReadBits("M", 0, 4)
	require.NoError(t, err)
	require.Equal(t, []bool{true, false, true, true}, vals)
}

func TestClientCPUModel(t *testing.T) {
	addr, _ := startServer(t)
	c := dialTestClient(t, addr)

	name, code, err := c.CPUModel()
	require.NoError(t, err)
	require.Equal(t, "Q03UDE", name)
	require.Equal(t, uint16(1), code)
}

func TestClientRemoteControlAndReset(t *testing.T) {
	addr, mem := startServer(t)
	c := dialTestClient(t, addr)

	require.NoError(t, c.RemoteRun())
	require.NoError(t, c.RemoteStop())

	require.NoError(t, mem.WriteWord("D", 5, 77))
	require.NoError(t, c.RemoteReset())

	d5, err := mem.ReadWord("D", 5)
	require.NoError(t, err)
	require.Equal(t, uint16(0), d5)
}

func TestClientBadAddressSurfacesEndCodeError(t *testing.T) {
	addr, _ := startServer(t)
	c := dialTestClient(t, addr)

	_, err := c.ReadWords("D", 999999, 1)
	require.Error(t, err)
	var ecErr *EndCodeError
	require.ErrorAs(t, err, &ecErr)
	require.Equal(t, mcproto.EndStartCountOverflow, ecErr.Code)

	// connection stays usable afterwards
	require.NoError(t, c.WriteWord("D", 0, 1))
	v, err := c.ReadWord("D", 0)
	require.NoError(t, err)
	require.Equal(t, uint16(1), v)
}

func TestClientPing(t *testing.T) {
	addr, _ := startServer(t)
	c := dialTestClient(t, addr)
	require.NoError(t, c.Ping())
}
