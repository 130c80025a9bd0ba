// CloverHub — central command and control for the Clover system.
//
// Subcommands:
//
//	cloverhub run aio     — backend server plus terminal UI
//	cloverhub run server  — backend server only
//	cloverhub run tui     — terminal UI only (connects to a running server)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/reboot-codes/cloverhub/internal/config"
	"github.com/reboot-codes/cloverhub/pkg/server"
)

func main() {
	setupLogging()

	args := os.Args[1:]
	if len(args) == 0 || args[0] != "run" {
		usage()
		os.Exit(2)
	}
	args = args[1:]

	mode := "aio"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		mode = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("run "+mode, flag.ExitOnError)
	port := fs.Int("port", config.DefaultPort, "The port on the host to connect to")
	fs.IntVar(port, "p", config.DefaultPort, "Shorthand for --port")
	dataDir := fs.String("data-dir", config.DefaultDataDir, "The data directory to use")
	fs.StringVar(dataDir, "d", config.DefaultDataDir, "Shorthand for --data-dir")
	host := fs.String("host", "localhost", "The host to connect to")
	fs.StringVar(host, "H", "localhost", "Shorthand for --host")
	fs.Parse(args)

	switch mode {
	case "aio", "server":
		log.Info().Msg("Starting CloverHub!")
		if mode == "aio" {
			log.Info().Msg("Running Backend Server and Terminal UI (All-In-One)...")
			// The TUI ships separately; aio currently runs the server and
			// points the operator at the TUI binary.
			log.Info().Int("port", *port).Msg("Connect a TUI with: cloverhub run tui")
		} else {
			log.Info().Msg("Running Backend Server...")
		}

		ctx := signalContext()
		err := server.Run(ctx, server.Options{
			Port:    *port,
			DataDir: *dataDir,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Server failed")
		}
		log.Info().Msg("Exiting...")

	case "tui":
		log.Info().Str("host", *host).Int("port", *port).Msg("The terminal UI ships as a separate client; point it at this host and port")

	default:
		usage()
		os.Exit(2)
	}
}

// setupLogging configures zerolog from CLOVER_LOG (debug/info/warn/error).
func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	level := zerolog.InfoLevel
	if v := os.Getenv("CLOVER_LOG"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		} else {
			log.Warn().Str("value", v).Msg("Unknown CLOVER_LOG level, using info")
		}
	}
	zerolog.SetGlobalLevel(level)
}

// signalContext cancels on SIGINT/SIGTERM. A second signal forces exit.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutting down...")
		cancel()
		<-sigChan
		log.Warn().Msg("Forcibly exiting!")
		os.Exit(1)
	}()

	return ctx
}

func usage() {
	fmt.Fprintln(os.Stderr, `Central command and control for the Clover system.

Usage:
  cloverhub run [aio|server|tui] [flags]

Flags:
  -p, --port      The port on the host to connect to (default 6699)
  -d, --data-dir  The data directory to use (default /opt/clover)
  -H, --host      The host to connect to (default localhost, tui only)`)
}
