// Command cash is the entrypoint: it parses process-level flags, wires
// together the shell's logger, config, job table, reaper, launcher,
// controller, history and optional introspection API, then runs the
// interactive loop. Grounded on canonical-pebble's cmd/pebble/main.go
// (flags.Parser + run() returning an error, os.Exit at the edge) at a
// single-command scale - this shell has no sub-commands, only process
// flags, so there is no per-command registry to build.
package main

import (
	"fmt"
	"os"

	"github.com/canonical/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"github.com/rajin-khan/cash/internal/api"
	"github.com/rajin-khan/cash/internal/config"
	"github.com/rajin-khan/cash/internal/controller"
	"github.com/rajin-khan/cash/internal/history"
	"github.com/rajin-khan/cash/internal/jobs"
	"github.com/rajin-khan/cash/internal/launcher"
	"github.com/rajin-khan/cash/internal/logger"
	"github.com/rajin-khan/cash/internal/metrics"
	"github.com/rajin-khan/cash/internal/reaper"
)

const version = "0.1.0"

type options struct {
	RCFile    string `long:"rcfile" description:"path to an ambient config file (default: $HOME/.cashrc.yaml)"`
	NoHistory bool   `long:"no-history" description:"do not read or write the history file"`
	APIAddr   string `long:"api-addr" description:"address to serve the optional introspection API on (e.g. 127.0.0.1:7777)"`
	Version   bool   `long:"version" description:"print the version and exit"`
}

func main() {
	logger.SetLogger(logger.Default())

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ca$h: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.ShortDescription = "ca$h - a small POSIX-style job-control shell"
	if _, err := parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil
		}
		return err
	}

	if opts.Version {
		fmt.Println("ca$h " + version)
		return nil
	}

	rcPath := opts.RCFile
	if rcPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			rcPath = home + "/.cashrc.yaml"
		}
	}
	cfg, err := config.Load(rcPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.APIAddr != "" {
		cfg.APIAddr = opts.APIAddr
	}
	if opts.NoHistory {
		cfg.HistoryFile = ""
	}

	table := jobs.NewTable(cfg.JobTableCapacity)
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	r := reaper.New(table)
	r.Metrics = collector

	const ttyFd = 0
	interactive := term.IsTerminal(ttyFd)
	l := launcher.New(r, table, ttyFd, interactive)
	l.Metrics = collector

	hist := history.NewFileHistory()
	lines := history.NewScannerLineReader(os.Stdin)

	ctl := controller.New(cfg, table, r, l, hist, lines, ttyFd, interactive)

	var apiServer *api.Server
	if cfg.APIAddr != "" {
		apiServer = api.NewServer(cfg.APIAddr, table, collector, registry)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("starting introspection API: %w", err)
		}
		ctl.EventSink = apiServer
		defer apiServer.Stop()
	}

	if err := ctl.Bootstrap(); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer ctl.Shutdown()

	code := ctl.Run()
	if code != 0 {
		os.Exit(code)
	}
	return nil
}
