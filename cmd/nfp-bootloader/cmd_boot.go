package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/nfps-dev/nfp-bootloader/internal/comms"
	"github.com/nfps-dev/nfp-bootloader/internal/game"
	"github.com/nfps-dev/nfp-bootloader/internal/nfpx"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/spf13/cobra"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// bootOnce runs a single foreground boot for commands that need a live namespace.
func bootOnce(cmd *cobra.Command, f *flags) (*app, *nfpx.Namespace, error) {
	a, err := newApp(cmd, f)
	if err != nil {
		return nil, nil, err
	}
	ns, err := a.booter.Boot(cmd.Context())
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, ns, nil
}

func newBootCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "boot",
		Short: "Boot once in the foreground and print the application namespace",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ns, err := bootOnce(cmd, f)
			if err != nil {
				return err
			}
			defer a.Close()
			out := ns.Export()
			delete(out, "credential")
			return printJSON(out)
		},
	}
}

func gamesClient(ns *nfpx.Namespace) *game.Client {
	return &game.Client{
		Contract:   ns.Contract(),
		TokenID:    ns.Location().TokenID,
		Credential: ns.Credential(),
	}
}

func newGamesCmd(f *flags) *cobra.Command {
	var page, pageSize uint32

	games := &cobra.Command{
		Use:   "games",
		Short: "Query the battleship contract with the token's credential",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List open lobbies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withGames(cmd, f, func(ctx context.Context, c *game.Client) (any, error) {
				return c.ListGames(ctx, page, pageSize)
			})
		},
	}
	list.Flags().Uint32Var(&page, "page", 0, "page number")
	list.Flags().Uint32Var(&pageSize, "page-size", 0, "lobbies per page (contract default when 0)")

	active := &cobra.Command{
		Use:   "active",
		Short: "List the token's games in progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withGames(cmd, f, func(ctx context.Context, c *game.Client) (any, error) {
				return c.ActiveGames(ctx)
			})
		},
	}

	state := &cobra.Command{
		Use:   "state <game-id>",
		Short: "Show one game from the token's point of view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGames(cmd, f, func(ctx context.Context, c *game.Client) (any, error) {
				st, err := c.GameState(ctx, args[0])
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"game":      st.ListedGame,
					"role":      st.Role.String(),
					"state":     st.State.String(),
					"your_turn": st.State.TurnOf(st.Role),
					"home":      st.Home,
					"away":      st.Away,
				}, nil
			})
		},
	}

	games.AddCommand(list, active, state, newMsgCmd(f))
	return games
}

func withGames(cmd *cobra.Command, f *flags, fn func(context.Context, *game.Client) (any, error)) error {
	a, ns, err := bootOnce(cmd, f)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := fn(cmd.Context(), gamesClient(ns))
	if err != nil {
		return err
	}
	return printJSON(out)
}

func newWatchCmd(f *flags) *cobra.Command {
	var channels []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Boot and print contract notifications as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ns, err := bootOnce(cmd, f)
			if err != nil {
				return err
			}
			defer a.Close()
			if len(ns.Comms()) == 0 {
				return errors.Wrap(comms.ErrNoEndpoints, "network.comms")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			events := make(chan comms.Event)
			done := make(chan error, 1)
			go func() { done <- comms.FromNamespace(ns, channels...).Run(ctx, events) }()

			enc := json.NewEncoder(os.Stdout)
			for {
				select {
				case ev := <-events:
					if err := enc.Encode(ev); err != nil {
						return err
					}
				case err := <-done:
					if ctx.Err() != nil {
						log.Info("watch stopped")
						return nil
					}
					return err
				}
			}
		},
	}
	cmd.Flags().StringSliceVar(&channels, "channel", game.Channels, "notification channels to watch")
	return cmd
}
