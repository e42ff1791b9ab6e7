package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/wasmscope/exec"
	"github.com/wippyai/wasmscope/linker"
	"github.com/wippyai/wasmscope/report"
	"github.com/wippyai/wasmscope/wasm"
)

const logLevelEnv = "WASMSCOPE_LOG_LEVEL"

// config holds the persistent flags shared by every command.
type config struct {
	color     string
	maxListed int
	debug     bool
	logJSON   bool
	noMmap    bool

	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "wasmscope",
		Short: "Inspect, analyze and run WebAssembly modules",
		Long: `wasmscope decodes WebAssembly binaries and reports on their structure.

Examples:
  wasmscope inspect module.wasm             Summarise sections and issues
  wasmscope issues --fail-on warning a.wasm Exit non-zero on warnings
  wasmscope flow --func 3 module.wasm       Show block structure of a function
  wasmscope call module.wasm add 5 3        Run an exported function
  wasmscope browse module.wasm              Interactive function browser`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.setupLogging()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if cfg.log != nil {
				_ = cfg.log.Sync()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&cfg.logJSON, "log-json", false, "Write logs as JSON")
	flags.StringVar(&cfg.color, "color", "auto", "Colorize output: auto, always or never")
	flags.IntVar(&cfg.maxListed, "max-listed", report.DefaultOptions().MaxListed, "Maximum imports and globals listed individually")
	flags.BoolVar(&cfg.noMmap, "no-mmap", false, "Read files into memory instead of mapping them")

	root.AddCommand(
		newInspectCmd(cfg),
		newIssuesCmd(cfg),
		newFlowCmd(cfg),
		newCallCmd(cfg),
		newBrowseCmd(cfg),
	)
	return root
}

// setupLogging builds the CLI logger and installs it in the library packages.
// WASMSCOPE_LOG_LEVEL overrides the level chosen by --debug.
func (c *config) setupLogging() error {
	level := zapcore.WarnLevel
	if c.debug {
		level = zapcore.DebugLevel
	}
	if env := os.Getenv(logLevelEnv); env != "" {
		parsed, err := zapcore.ParseLevel(env)
		if err != nil {
			return fmt.Errorf("%s: %w", logLevelEnv, err)
		}
		level = parsed
	}

	zcfg := zap.NewDevelopmentConfig()
	if c.logJSON {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	log, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	c.log = log
	wasm.SetLogger(log.Named("wasm"))
	linker.SetLogger(log.Named("linker"))
	exec.SetLogger(log.Named("exec"))
	return nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func (c *config) useColor() (bool, error) {
	switch strings.ToLower(c.color) {
	case "auto":
		return isTerminal(os.Stdout), nil
	case "always":
		return true, nil
	case "never":
		return false, nil
	}
	return false, fmt.Errorf("invalid --color value %q", c.color)
}

func (c *config) printer(cmd *cobra.Command) (*report.Printer, error) {
	color, err := c.useColor()
	if err != nil {
		return nil, err
	}
	return report.New(cmd.OutOrStdout(), report.Options{Color: color, MaxListed: c.maxListed}), nil
}
