// Command plc-server runs a mock MELSEC MC-protocol PLC: device
// memory, a ladder scan engine, and a TCP listener speaking the MC
// 3E/4E wire protocol.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/melsecmock/plc/internal/cpumode"
	"github.com/melsecmock/plc/internal/devicemem"
	"github.com/melsecmock/plc/internal/ladder"
	"github.com/melsecmock/plc/internal/mcproto"
	"github.com/melsecmock/plc/internal/plcserver"
)

// loadProgram reads ladder source from path and parses it, or returns
// an empty Program when path is unset. Runs before Serve starts, since
// a program swap is only permitted while the engine is stopped.
func loadProgram(path string) (ladder.Program, error) {
	if path == "" {
		return ladder.Program{}, nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return ladder.Program{}, fmt.Errorf("read ladder program %s: %w", path, err)
	}
	prog, err := ladder.ParseProgram(string(src))
	if err != nil {
		return ladder.Program{}, fmt.Errorf("parse ladder program %s: %w", path, err)
	}
	return prog, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "plc-server",
		Short: "Run a mock MELSEC MC-protocol PLC server",
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var (
		host        string
		port        int
		series      string
		family      string
		scanPeriod  string
		metricsAddr string
		logFormat   string
		verbose     bool
		programPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start accepting MC connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			v.SetEnvPrefix("PLC")
			v.AutomaticEnv()
			bindFlag(v, cmd, "host", "host")
			bindFlag(v, cmd, "port", "port")
			bindFlag(v, cmd, "series", "series")
			bindFlag(v, cmd, "scan-period", "scan_period")
			bindFlag(v, cmd, "metrics-addr", "metrics_addr")
			bindFlag(v, cmd, "program", "program")

			host = v.GetString("host")
			port = v.GetInt("port")
			series = v.GetString("series")
			scanPeriodStr := v.GetString("scan_period")
			metricsAddr = v.GetString("metrics_addr")
			programPath = v.GetString("program")

			log := newLogger(logFormat, verbose)

			prog, err := loadProgram(programPath)
			if err != nil {
				return err
			}

			scanPeriod, err := time.ParseDuration(scanPeriodStr)
			if err != nil {
				return fmt.Errorf("invalid --scan-period %q: %w", scanPeriodStr, err)
			}

			fam := mcproto.ThreeE
			if family == "4E" {
				fam = mcproto.FourE
			}

			reg := prometheus.NewRegistry()
			mem := devicemem.NewMemory()
			mode := cpumode.NewCell()
			engine := ladder.NewEngine(mem, mode, scanPeriod, reg, log.With().Str("component", "engine").Logger())
			if err := engine.Load(prog); err != nil {
				return fmt.Errorf("load initial program: %w", err)
			}
			if programPath != "" {
				log.Info().Str("path", programPath).Int("instructions", len(prog.Instructions)).Msg("loaded ladder program")
			}
			defer engine.Close()

			srv := plcserver.New(plcserver.Config{
				Mem: mem, Mode: mode, Engine: engine, Series: series,
				Family: fam, Registry: reg,
				Log: log.With().Str("component", "server").Logger(),
			})

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			group, gctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return srv.Serve(gctx, fmt.Sprintf("%s:%d", host, port))
			})

			if metricsAddr != "" {
				httpSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
				group.Go(func() error {
					log.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")
					if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						return err
					}
					return nil
				})
				group.Go(func() error {
					<-gctx.Done()
					shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer shutdownCancel()
					return httpSrv.Shutdown(shutdownCtx)
				})
			}

			return group.Wait()
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "address to bind")
	cmd.Flags().IntVar(&port, "port", 5000, "port to bind")
	cmd.Flags().StringVar(&series, "series", "Q03UDE", "CPU series name reported by cpu-model reads")
	cmd.Flags().StringVar(&family, "family", "3E", "MC frame family to speak: 3E or 4E")
	cmd.Flags().StringVar(&scanPeriod, "scan-period", "10ms", "ladder scan cycle period")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&logFormat, "log-format", "console", "log output format: console or json")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	cmd.Flags().StringVar(&programPath, "program", "", "path to ladder program source to load before serving")

	return cmd
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, flagName, viperKey string) {
	_ = v.BindPFlag(viperKey, cmd.Flags().Lookup(flagName))
}

func newLogger(format string, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	var w zerolog.Logger
	if format == "json" {
		w = zerolog.New(os.Stderr)
	} else {
		w = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return w.Level(level).With().Timestamp().Logger()
}
