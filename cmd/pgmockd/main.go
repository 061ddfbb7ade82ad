// Command pgmockd runs the virtual network stack (§4.10) standalone, for
// local inspection outside of the PostgreSQL-emulator bridge: it wires an
// Adapter over an in-memory bus, optionally serves a Prometheus
// /metrics endpoint, and can send a router-originated ICMP ping at
// startup and log whether it resolves.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/stack-auth/pgmock"
	"github.com/stack-auth/pgmock/adapter"
)

// memBus is a loopback-free, in-process stand-in for the real byte bus
// the emulator's NIC would provide: no frame is delivered until Send is
// explicitly called, unlike the adapter's own Ethernet-level loopback.
type memBus struct {
	handlers map[string]func([]byte)
}

func newMemBus() *memBus { return &memBus{handlers: make(map[string]func([]byte))} }

func (b *memBus) Register(channel string, handler func([]byte)) error {
	b.handlers[channel] = handler
	return nil
}

func (b *memBus) Send(channel string, data []byte) error {
	h, ok := b.handlers[channel]
	if !ok {
		return nil
	}
	h(data)
	return nil
}

var (
	bindAddress string
	pingTarget  string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "pgmockd",
	Short: "Run the virtual network stack standalone over an in-memory bus",
	Long:  "pgmockd wires Ethernet through ARP/IPv4/ICMP/UDP/DHCP/TCP into a single in-process adapter, demonstrating the stack independent of any particular bus transport.",
	RunE:  runServe,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&bindAddress, "bind-address", ":9337", "address to serve the Prometheus /metrics endpoint on")
	flags.StringVar(&pingTarget, "ping", "", "if set, an IPv4 address to ping from the router at startup")
	flags.BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	pflag.CommandLine.AddFlagSet(flags)
}

func runServe(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	bus := newMemBus()
	a, err := adapter.New(bus, logger)
	if err != nil {
		return fmt.Errorf("pgmockd: adapter init: %w", err)
	}
	defer a.Destroy()

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	srv := &http.Server{Addr: bindAddress, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server exited", slog.String("err", err.Error()))
		}
	}()
	logger.Info("pgmockd listening", slog.String("metrics", bindAddress), slog.String("router", a.String()))

	ctx, cancel := context.WithCancel(cmd.Context())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if pingTarget != "" {
		dst, err := pgmock.ParseIPv4(pingTarget)
		if err != nil {
			return fmt.Errorf("pgmockd: --ping: %w", err)
		}
		go runPing(ctx, a, dst, logger)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func runPing(ctx context.Context, a *adapter.Adapter, dst pgmock.IPv4Address, logger *slog.Logger) {
	select {
	case err := <-a.Ping(dst):
		if err != nil {
			logger.Warn("ping failed", slog.String("dst", dst.String()), slog.String("err", err.Error()))
			return
		}
		logger.Info("ping succeeded", slog.String("dst", dst.String()))
	case <-ctx.Done():
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
