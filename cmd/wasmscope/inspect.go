package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wippyai/wasmscope/flow"
	"github.com/wippyai/wasmscope/issues"
)

func newInspectCmd(cfg *config) *cobra.Command {
	var validate bool

	cmd := &cobra.Command{
		Use:   "inspect <file.wasm>",
		Short: "Print a module summary followed by detected issues",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, release, err := cfg.loadModule(args[0])
			if err != nil {
				return err
			}
			defer release()

			p, err := cfg.printer(cmd)
			if err != nil {
				return err
			}
			if err := p.Module(m); err != nil {
				return err
			}
			if err := p.Issues(issues.Detect(m)); err != nil {
				return err
			}
			if validate {
				if err := m.Validate(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "\n  Module is valid")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&validate, "validate", false, "Also run structural validation")
	return cmd
}

func newIssuesCmd(cfg *config) *cobra.Command {
	var failOn string

	cmd := &cobra.Command{
		Use:   "issues <file.wasm>",
		Short: "Run the issue detector",
		Long: `Run the issue detector and print its findings, most serious first.

With --fail-on, the command exits with status 2 when a finding of at least
that severity (info, warning or error) is present.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var threshold issues.Severity
			if failOn != "" {
				sev, err := issues.ParseSeverity(failOn)
				if err != nil {
					return err
				}
				threshold = sev
			}

			m, release, err := cfg.loadModule(args[0])
			if err != nil {
				return err
			}
			defer release()

			found := issues.Detect(m)
			p, err := cfg.printer(cmd)
			if err != nil {
				return err
			}
			if err := p.Issues(found); err != nil {
				return err
			}

			if worst, ok := issues.Worst(found); ok && failOn != "" && worst >= threshold {
				return &exitError{code: 2}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&failOn, "fail-on", "", "Exit with status 2 on findings of this severity or worse")
	return cmd
}

func newFlowCmd(cfg *config) *cobra.Command {
	var funcArg string

	cmd := &cobra.Command{
		Use:   "flow <file.wasm>",
		Short: "Show block, loop and else positions of function bodies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, release, err := cfg.loadModule(args[0])
			if err != nil {
				return err
			}
			defer release()

			p, err := cfg.printer(cmd)
			if err != nil {
				return err
			}

			if funcArg == "" {
				for _, fi := range flow.AnalyzeModule(m) {
					if err := p.Flow(fi.Index, fi.Info); err != nil {
						return err
					}
				}
				return nil
			}

			idx, err := resolveFunc(m, funcArg)
			if err != nil {
				return err
			}
			info, err := flow.AnalyzeFunction(m, idx)
			if err != nil {
				return err
			}
			return p.Flow(idx, info)
		},
	}
	cmd.Flags().StringVar(&funcArg, "func", "", "Function index or export name (default: all local functions)")
	return cmd
}

