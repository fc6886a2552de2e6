// Command ronkerneld runs the RustyOnions microkernel substrate: the
// bounded bus, supervisor, metrics/readiness exposer, config cell, OAP/1
// gateway, capability verifier, admission pipeline and DHT lookup, plus
// the content-fetch HTTP surface, assembled by internal/kernel.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rustyonions/ron-core/internal/kernel"
	"github.com/rustyonions/ron-core/internal/obslog"
)

// Exit codes per spec.md §6: 0 clean shutdown, 1 fatal startup (bind or
// config parse), 2 internal invariant violation.
const (
	exitOK             = 0
	exitFatalStartup   = 1
	exitInvariantPanic = 2
)

func main() {
	os.Exit(run())
}

func run() (code int) {
	kc, lc, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ronkerneld: config: %v\n", err)
		return exitFatalStartup
	}

	logger := obslog.New(lc)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("ronkerneld: unrecovered invariant violation")
			code = exitInvariantPanic
		}
	}()

	k, err := kernel.New(kc, logger)
	if err != nil {
		logger.Error().Err(err).Msg("ronkerneld: startup failed")
		return exitFatalStartup
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	k.Start()
	logger.Info().
		Str("gateway_addr", kc.GatewayAddr).
		Str("edge_addr", kc.EdgeAddr).
		Str("admin_addr", kc.BindAddr).
		Msg("ronkerneld started")

	<-ctx.Done()
	logger.Info().Msg("ronkerneld: shutdown signal received")

	k.Shutdown()
	logger.Info().Msg("ronkerneld: shutdown complete")
	return exitOK
}
