// Command poe is the thin CLI shell wiring the coordinator, pack writer,
// analyzer, and differ into three subcommands (spec.md §1): `run` captures
// a supervised invocation, `explain` renders a captured pack's diagnosis,
// `diff` compares two packs.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/poecap/poe/analyze"
	"github.com/poecap/poe/coordinator"
	"github.com/poecap/poe/diff"
	"github.com/poecap/poe/pack"
	"github.com/poecap/poe/redact"
	poeconfig "github.com/poecap/poe/config"
)

var log = logrus.WithField("component", "cli")

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "poe",
		Short:         "ptrace-based supervisor, pack archiver, and offline analyzer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), explainCmd(), diffCmd())
	return root
}

func runCmd() *cobra.Command {
	var always bool
	var workdir string

	cmd := &cobra.Command{
		Use:   "run -- <command> [args...]",
		Short: "supervise a command under ptrace and emit a .poepack on failure",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := poeconfig.Load(".")
			if err != nil {
				return err
			}

			dir, err := os.MkdirTemp("", "poe-run-")
			if err != nil {
				return fmt.Errorf("create scratch dir: %w", err)
			}
			defer os.RemoveAll(dir)

			writer := pack.NewWriter(cfg.OutputDir)
			opts := coordinator.Options{
				Command:        args,
				Dir:            workdir,
				StorePath:      filepath.Join(dir, "trace.sqlite"),
				Always:         always || cfg.Always,
				SamplerEnabled: cfg.SamplerEnabled,
				SamplerHz:      cfg.SamplerHz,
				StdioTailBytes: cfg.StdioTailBytes,
				StoreBatchRecords:  cfg.StoreBatchSize,
				StoreBatchInterval: cfg.StoreBatchWait,
				RedactRules:    redact.NewRules(cfg.RedactAllow, cfg.RedactDeny),
				PackWriter:     writer.Write,
			}

			res, err := coordinator.Run(opts)
			if err != nil {
				return err
			}
			if res.PackPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "pack written: %s\n", res.PackPath)
			}
			os.Exit(res.ExitCode)
			return nil
		},
	}
	cmd.Flags().BoolVar(&always, "always", false, "emit a pack even on a clean exit")
	cmd.Flags().StringVar(&workdir, "dir", "", "working directory for the child (default: inherit)")
	return cmd
}

func explainCmd() *cobra.Command {
	var rulesDir string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "explain <path.poepack>",
		Short: "render the diagnosis, timeline, and activity summary for a pack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rulesDir == "" {
				if cfg, err := poeconfig.Load("."); err == nil {
					rulesDir = cfg.RulesDir
				}
			}
			explanation, err := analyze.Analyze(args[0], rulesDir)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(explanation)
			}
			printExplanation(cmd.OutOrStdout(), explanation)
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesDir, "rules", "", "directory of user Sigma rules (default: config rulesDir)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the full explanation as JSON")
	return cmd
}

func diffCmd() *cobra.Command {
	var rulesDir string

	cmd := &cobra.Command{
		Use:   "diff <baseline.poepack> <candidate.poepack>",
		Short: "compare two packs' exit status, file/network sets, and stderr novelty",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseline, err := analyze.Analyze(args[0], rulesDir)
			if err != nil {
				return fmt.Errorf("analyze baseline: %w", err)
			}
			candidate, err := analyze.Analyze(args[1], rulesDir)
			if err != nil {
				return fmt.Errorf("analyze candidate: %w", err)
			}

			d := diff.Compare(baseline, candidate)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}
	cmd.Flags().StringVar(&rulesDir, "rules", "", "directory of user Sigma rules to apply to both packs")
	return cmd
}

func printExplanation(w io.Writer, e *analyze.Explanation) {
	fmt.Fprintf(w, "run %s: exit=%d signal=%q trigger=%s\n", e.Run.ID, e.Run.ExitCode, e.Run.Signal, e.Run.Trigger)
	for _, f := range e.Findings {
		fmt.Fprintf(w, "  [%s] %s: %s\n", f.Severity, f.Rule, f.Message)
	}
	fmt.Fprintf(w, "files: %d ops, %d unique paths\n", e.Files.Ops, e.Files.UniquePaths)
	fmt.Fprintf(w, "net: %d ops, %d failed connections\n", e.Net.Ops, len(e.Net.FailedConnections))
	if e.DNS.Queries > 0 {
		fmt.Fprintf(w, "dns: %d queries, %d unanswered\n", e.DNS.Queries, e.DNS.Unanswered)
	}
}
