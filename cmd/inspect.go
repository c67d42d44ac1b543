package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/p-sternik/codeindex/pkg/model"
)

// ErrInspectQueryRequired is returned when none of --name, --id,
// --references, or --search was given to `codeindex inspect`.
var ErrInspectQueryRequired = errors.New("one of --name, --id, --references, or --search is required")

func inspectCommand(flagSources flagSourcesFn) *cli.Command {
	flags := append(workspaceFlags(flagSources),
		&cli.StringFlag{
			Name:  "name",
			Usage: "Find every definition of this symbol name",
		},
		&cli.StringFlag{
			Name:  "id",
			Usage: "Find the definition with this symbol id",
		},
		&cli.StringFlag{
			Name:  "references",
			Usage: "Find every reference to this symbol name",
		},
		&cli.StringFlag{
			Name:  "search",
			Usage: "Substring-search symbol names",
		},
	)

	return &cli.Command{
		Name:   "inspect",
		Usage:  "Load the on-disk index (built by a prior reindex/serve run) and answer one ad-hoc query",
		Action: inspectAction(),
		Flags:  flags,
	}
}

func inspectAction() cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		logger := zerolog.Ctx(ctx).With().Str("cmd", "inspect").Logger()
		ctx = logger.WithContext(ctx)

		cfg := configFromCommand(cmd)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		stack, err := buildIndexStack(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer stack.Close()

		var result any

		switch {
		case cmd.String("name") != "":
			result, err = stack.Merged.FindDefinitions(ctx, cmd.String("name"))
		case cmd.String("id") != "":
			var (
				sym   model.Symbol
				found bool
			)

			sym, found, err = stack.Merged.FindDefinitionByID(ctx, model.SymbolID(cmd.String("id")))
			if err == nil && !found {
				err = fmt.Errorf("no definition found for id %q", cmd.String("id"))
			}

			result = sym
		case cmd.String("references") != "":
			result, err = stack.Merged.FindReferencesByName(ctx, cmd.String("references"))
		case cmd.String("search") != "":
			result, err = stack.Merged.SearchSymbols(ctx, cmd.String("search"))
		default:
			return ErrInspectQueryRequired
		}

		if err != nil {
			return err
		}

		return json.NewEncoder(os.Stdout).Encode(result)
	}
}
