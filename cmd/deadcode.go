package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/p-sternik/codeindex/pkg/deadcode"
	"github.com/p-sternik/codeindex/pkg/scheduler"
)

func deadCodeCommand(flagSources flagSourcesFn) *cli.Command {
	flags := append(workspaceFlags(flagSources),
		&cli.StringSliceFlag{
			Name:    "entry-point-glob",
			Usage:   "Glob (relative to workspace-root, ** supported) excluded from candidacy entirely; may be repeated",
			Sources: flagSources("deadcode.entry-point-globs", "ENTRY_POINT_GLOBS"),
		},
		&cli.BoolFlag{
			Name:    "check-barrier-files",
			Usage:   "Lower confidence to medium, rather than excluding, for barrier-file-glob matches",
			Sources: flagSources("deadcode.check-barrier-files", "CHECK_BARRIER_FILES"),
		},
		&cli.StringSliceFlag{
			Name:    "barrier-file-glob",
			Usage:   "Glob (relative to workspace-root, ** supported) treated as a barrel/re-export surface; may be repeated",
			Sources: flagSources("deadcode.barrier-file-globs", "BARRIER_FILE_GLOBS"),
		},
	)

	return &cli.Command{
		Name:   "dead-code",
		Usage:  "Bulk-index workspace-root, then report exported symbols with no external reference",
		Action: deadCodeAction(),
		Flags:  flags,
	}
}

func deadCodeAction() cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		logger := zerolog.Ctx(ctx).With().Str("cmd", "dead-code").Logger()
		ctx = logger.WithContext(ctx)

		cfg := configFromCommand(cmd)
		cfg.EntryPointGlobs = cmd.StringSlice("entry-point-glob")
		cfg.CheckBarrierFiles = cmd.Bool("check-barrier-files")
		cfg.BarrierFileGlobs = cmd.StringSlice("barrier-file-glob")

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		root := cmd.String("workspace-root")

		stack, err := buildIndexStack(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer stack.Close()

		files, err := listWorkspaceFiles(root, cfg.ExcludePatterns)
		if err != nil {
			return err
		}

		if err := stack.Scheduler.BulkIndex(ctx, files, scheduler.ListFiles); err != nil {
			return fmt.Errorf("bulk index failed: %w", err)
		}

		dcCfg := deadcode.Config{
			EntryPointGlobs:  cfg.EntryPointGlobs,
			BarrierFileGlobs: cfg.BarrierFileGlobs,
		}

		// Without check-barrier-files, barrier-file matches are excluded
		// from candidacy exactly like entry points.
		if !cfg.CheckBarrierFiles {
			dcCfg.EntryPointGlobs = append(dcCfg.EntryPointGlobs, dcCfg.BarrierFileGlobs...)
			dcCfg.BarrierFileGlobs = nil
		}

		analyzer := deadcode.New(stack.Background, dcCfg)

		findings, err := analyzer.Analyze(ctx)
		if err != nil {
			return fmt.Errorf("dead-code analysis failed: %w", err)
		}

		return json.NewEncoder(os.Stdout).Encode(findings)
	}
}
