package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/p-sternik/codeindex/pkg/scheduler"
)

func reindexCommand(flagSources flagSourcesFn) *cli.Command {
	return &cli.Command{
		Name:   "reindex",
		Usage:  "Run one bulk index pass over workspace-root and the Deferred Resolver, then exit",
		Action: reindexAction(),
		Flags:  workspaceFlags(flagSources),
	}
}

func reindexAction() cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		logger := zerolog.Ctx(ctx).With().Str("cmd", "reindex").Logger()
		ctx = logger.WithContext(ctx)

		cfg := configFromCommand(cmd)
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

		logger.Info().Int("files", len(files)).Str("root", root).Msg("starting bulk index")

		if err := stack.Scheduler.BulkIndex(ctx, files, scheduler.ListFiles); err != nil {
			return fmt.Errorf("bulk index failed: %w", err)
		}

		return nil
	}
}
