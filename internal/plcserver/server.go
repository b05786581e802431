// Package plcserver implements the mock MC-protocol TCP server: it
// accepts connections, reads framed requests, dispatches them through
// mcproto, and writes the replies back in request order.
package plcserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/melsecmock/plc/internal/cpumode"
	"github.com/melsecmock/plc/internal/devicemem"
	"github.com/melsecmock/plc/internal/mcproto"
)

// Server accepts MC connections on a single frame Family (3E or 4E
// fixed at construction, matching real CPU modules which don't mix
// families on one port).
type Server struct {
	family Family
	dsp    *mcproto.Dispatcher
	log    zerolog.Logger

	lnMu sync.RWMutex
	ln   net.Listener

	connCount  *atomic.Int64
	endCodeTot *prometheus.CounterVec
}

// Family re-exports mcproto.Family so callers needn't import mcproto
// just to construct a Server.
type Family = mcproto.Family

// Config bundles what a Server needs beyond the listener.
type Config struct {
	Mem      *devicemem.Memory
	Mode     *cpumode.Cell
	Engine   mcproto.EngineController
	Series   string
	Family   Family
	Registry *prometheus.Registry
	Log      zerolog.Logger
}

// New builds a Server. It does not start listening; call Serve.
func New(cfg Config) *Server {
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	dsp := mcproto.NewDispatcher(cfg.Mem, cfg.Mode, cfg.Engine, cfg.Series, cfg.Log)

	return &Server{
		family:    cfg.Family,
		dsp:       dsp,
		log:       cfg.Log,
		connCount: &atomic.Int64{},
		endCodeTot: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mc_requests_total",
			Help: "Total MC requests handled, by command and end code.",
		}, []string{"command", "end_code"}),
	}
}

// Serve binds to addr and runs the accept loop until ctx is canceled.
// Each connection is served in its own goroutine under an errgroup, so
// a single connection's I/O error never aborts the whole server.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.lnMu.Lock()
	s.ln = ln
	s.lnMu.Unlock()
	s.log.Info().Str("addr", addr).Str("family", s.family.String()).Msg("server listening")

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-gctx.Done():
				_ = group.Wait()
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		id := s.connCount.Add(1)
		connLog := s.log.With().Int64("conn_id", id).Str("remote", conn.RemoteAddr().String()).Logger()
		group.Go(func() error {
			s.serveConn(gctx, conn, connLog)
			return nil
		})
	}
}

// Addr reports the bound listener address, valid after Serve has
// started accepting.
func (s *Server) Addr() net.Addr {
	s.lnMu.RLock()
	defer s.lnMu.RUnlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn, log zerolog.Logger) {
	defer conn.Close()
	log.Debug().Msg("connection opened")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	headerLen := s.family.RequestHeaderLen()
	header := make([]byte, headerLen)

	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Msg("connection closed reading header")
			}
			return
		}

		req, dataLen, err := mcproto.DecodeRequestHeader(s.family, header)
		if err != nil {
			log.Warn().Err(err).Msg("malformed frame header, closing connection")
			return
		}

		body := make([]byte, dataLen)
		if _, err := io.ReadFull(conn, body); err != nil {
			log.Warn().Err(err).Msg("truncated frame body, closing connection")
			return
		}

		req, err = mcproto.DecodeRequestBody(req, body)
		if err != nil {
			log.Warn().Err(err).Msg("malformed frame body, replying with frame length mismatch")
			rep := mcproto.NewReply(req, mcproto.EndFrameLengthMismatch)
			s.endCodeTot.WithLabelValues(fmt.Sprintf("0x%04X", req.Command), rep.EndCode.String()).Inc()
			wire, encErr := rep.Encode()
			if encErr != nil {
				log.Warn().Err(encErr).Msg("failed to encode error reply, closing connection")
				return
			}
			if _, writeErr := conn.Write(wire); writeErr != nil {
				log.Debug().Err(writeErr).Msg("connection closed writing error reply")
				return
			}
			continue
		}

		log.Debug().Uint16("command", req.Command).Uint16("subcommand", req.Subcommand).Msg("dispatching request")
		rep := s.dsp.Dispatch(req)
		s.endCodeTot.WithLabelValues(fmt.Sprintf("0x%04X", req.Command), rep.EndCode.String()).Inc()

		wire, err := rep.Encode()
		if err != nil {
			log.Warn().Err(err).Msg("failed to encode reply, closing connection")
			return
		}
		if _, err := conn.Write(wire); err != nil {
			log.Debug().Err(err).Msg("connection closed writing reply")
			return
		}
	}
}
