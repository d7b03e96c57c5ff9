package main

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/nfps-dev/nfp-bootloader/internal/game"
	"github.com/spf13/cobra"
)

// execution is a ready to sign contract call.
type execution struct {
	Contract string          `json:"contract"`
	CodeHash string          `json:"code_hash,omitempty"`
	Msg      json.RawMessage `json:"msg"`
	Funds    []game.Coin     `json:"funds,omitempty"`
}

func parseVessel(name string) (game.CellValue, error) {
	for v := range game.Fleet {
		if v.String() == strings.ToLower(name) {
			return v, nil
		}
	}
	return 0, errors.Newf("unknown vessel %q", name)
}

// parsePlacement reads "vessel:x,y,h" or "vessel:x,y,v".
func parsePlacement(s string) (vessel game.CellValue, x, y int, vertical bool, err error) {
	name, pos, ok := strings.Cut(s, ":")
	parts := strings.Split(pos, ",")
	if !ok || len(parts) != 3 {
		return 0, 0, 0, false, errors.Newf("placement %q is not vessel:x,y,h|v", s)
	}
	if vessel, err = parseVessel(name); err != nil {
		return 0, 0, 0, false, err
	}
	if x, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, 0, false, errors.Wrapf(err, "placement %q", s)
	}
	if y, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, 0, false, errors.Wrapf(err, "placement %q", s)
	}
	switch parts[2] {
	case "h":
	case "v":
		vertical = true
	default:
		return 0, 0, 0, false, errors.Newf("placement %q: direction must be h or v", s)
	}
	return vessel, x, y, vertical, nil
}

// buildSetup lays out a home board and checks it holds the whole fleet.
func buildSetup(placements []string) ([]game.CellValue, error) {
	cells := make([]game.CellValue, game.BoardCells)
	for _, p := range placements {
		vessel, x, y, vertical, err := parsePlacement(p)
		if err != nil {
			return nil, err
		}
		if err := game.Place(cells, vessel, x, y, vertical); err != nil {
			return nil, err
		}
	}
	if err := game.ValidateSetup(cells); err != nil {
		return nil, err
	}
	return cells, nil
}

func attackCell(gameID, xs, ys string) (game.AttackCell, error) {
	x, err := strconv.Atoi(xs)
	if err != nil {
		return game.AttackCell{}, errors.Wrap(err, "x")
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return game.AttackCell{}, errors.Wrap(err, "y")
	}
	cell, err := game.CellIndex(x, y)
	if err != nil {
		return game.AttackCell{}, err
	}
	return game.AttackCell{GameID: gameID, Cell: cell}, nil
}

func newExecution(contract, codeHash string, msg game.Msg, wager uint64) (*execution, error) {
	raw, err := game.Encode(msg)
	if err != nil {
		return nil, err
	}
	funds, err := game.Funds(wager)
	if err != nil {
		return nil, err
	}
	return &execution{Contract: contract, CodeHash: codeHash, Msg: raw, Funds: funds}, nil
}

// newMsgCmd renders execution messages for the game contract. Signing and broadcasting is
// left to the wallet that holds the token.
func newMsgCmd(f *flags) *cobra.Command {
	msg := &cobra.Command{
		Use:   "msg",
		Short: "Print a game execution message for a wallet to sign",
	}

	emit := func(m game.Msg, wager uint64) error {
		cfg, err := loadConfig(f)
		if err != nil {
			return err
		}
		ex, err := newExecution(cfg.Token.Contract, cfg.Token.CodeHash, m, wager)
		if err != nil {
			return err
		}
		return printJSON(ex)
	}

	var (
		title string
		wager uint64
	)
	newGame := &cobra.Command{
		Use:   "new",
		Short: "Open a lobby",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return emit(game.NewGame{Title: title}, wager)
		},
	}
	newGame.Flags().StringVar(&title, "title", "", "lobby title")
	newGame.Flags().Uint64Var(&wager, "wager", 0, "stake in whole SCRT")

	join := &cobra.Command{
		Use:   "join <game-id>",
		Short: "Join an open lobby",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return emit(game.JoinGame{GameID: args[0]}, 0)
		},
	}

	var (
		placements []string
		ready      bool
	)
	setup := &cobra.Command{
		Use:   "setup <game-id>",
		Short: "Submit the home board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cells, err := buildSetup(placements)
			if err != nil {
				return err
			}
			m := game.SubmitSetup{GameID: args[0], Cells: cells}
			if cmd.Flags().Changed("ready") {
				m.Ready = &ready
			}
			return emit(m, 0)
		},
	}
	setup.Flags().StringArrayVar(&placements, "place", nil, "vessel placement as vessel:x,y,h|v, once per vessel")
	setup.Flags().BoolVar(&ready, "ready", false, "mark the board ready")

	attack := &cobra.Command{
		Use:   "attack <game-id> <x> <y>",
		Short: "Fire at a cell of the opponent's board",
		Args:  cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			m, err := attackCell(args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return emit(m, 0)
		},
	}

	claim := &cobra.Command{
		Use:   "claim <game-id>",
		Short: "Claim victory over an opponent who stopped playing",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return emit(game.ClaimVictory{GameID: args[0]}, 0)
		},
	}

	msg.AddCommand(newGame, join, setup, attack, claim)
	return msg
}
