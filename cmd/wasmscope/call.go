package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasmscope/exec"
	"github.com/wippyai/wasmscope/linker"
	"github.com/wippyai/wasmscope/wasm"
)

const wasiModule = exec.WASIModule

type callOptions struct {
	memoryLimit uint32
	wasi        bool
	stubs       bool
}

func newCallCmd(cfg *config) *cobra.Command {
	opts := callOptions{wasi: true}

	cmd := &cobra.Command{
		Use:   "call <file.wasm> <function> [args...]",
		Short: "Run a function with typed arguments",
		Long: `Run a function of the module and print its results.

The function is an export name or a function index. Arguments are parsed
according to the function's parameter types. Imports other than WASI must be
satisfied; --stub-imports fills the rest with functions returning zeros.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, release, err := cfg.loadModule(args[0])
			if err != nil {
				return err
			}
			defer release()

			idx, err := resolveFunc(m, args[1])
			if err != nil {
				return err
			}
			vals, err := parseArgs(m.FuncType(idx), args[2:])
			if err != nil {
				return err
			}

			lk := linker.NewWithDefaults()
			if opts.stubs {
				n := stubImports(lk, m, opts.wasi, func(key string, args []wasm.Value) {
					cfg.logger().Info("stub import called", zap.String("import", key), zap.Stringers("args", args))
				})
				cfg.logger().Debug("stubbed imports", zap.Int("count", n))
			}

			ex, err := exec.NewWazero(cmd.Context(), exec.Config{
				MemoryLimitPages: opts.memoryLimit,
				EnableWASI:       opts.wasi,
				Stdout:           cmd.OutOrStdout(),
				Stderr:           cmd.ErrOrStderr(),
				Args:             append([]string{args[0]}, args[2:]...),
			})
			if err != nil {
				return err
			}
			defer ex.Close(context.Background())

			out, err := ex.Invoke(cmd.Context(), m, lk, idx, vals)
			if code, ok := exec.ExitCode(err); ok {
				if code == 0 {
					return nil
				}
				return &exitError{code: int(code)}
			}
			if err != nil {
				return err
			}

			p, err := cfg.printer(cmd)
			if err != nil {
				return err
			}
			return p.Results(callName(args[1], idx), out)
		},
	}

	flags := cmd.Flags()
	flags.Uint32Var(&opts.memoryLimit, "memory-limit", 0, "Maximum memory in 64KiB pages (0 for the engine default)")
	flags.BoolVar(&opts.wasi, "wasi", true, "Provide wasi_snapshot_preview1")
	flags.BoolVar(&opts.stubs, "stub-imports", false, "Satisfy unresolved imports with zero-returning stubs")
	return cmd
}

func callName(arg string, idx uint32) string {
	if strings.TrimLeft(arg, "0123456789") == "" {
		return fmt.Sprintf("func[%d]", idx)
	}
	return arg
}

