// Command datapilot runs the business data intelligence service.
//
// Usage:
//
//	datapilot serve
//	datapilot audit export --from 2026-01-01 --out audit.csv
//	datapilot audit verify --csv audit.csv
//	datapilot audit purge
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/datapilot-io/datapilot/pkg/config"
	"github.com/datapilot-io/datapilot/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP server."`
	Audit   AuditCmd   `cmd:"" help:"Audit trail operations."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:""`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or json)." default:""`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(*runContext) error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("datapilot version %s\n", version)
	return nil
}

// runContext carries the loaded configuration into commands.
type runContext struct {
	cfg *config.Config
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("datapilot"),
		kong.Description("Business data intelligence service: upload CSVs, ask questions, score records, mine insights."),
		kong.UsageOnError(),
	)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// CLI flags override environment settings.
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.LogFormat = cli.LogFormat
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}

	output := os.Stderr
	if cli.LogFile != "" {
		f, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = f
	}
	logger.Init(level, output, cfg.LogFormat)

	if err := kctx.Run(&runContext{cfg: cfg}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
