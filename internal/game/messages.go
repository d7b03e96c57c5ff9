package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	Denom = "uscrt"

	// MaxTitleLen bounds lobby titles.
	MaxTitleLen = 64
)

// Notification channels the contract publishes on.
const (
	ChannelGameListed       = "game_listed"
	ChannelPlayerJoined     = "player_joined"
	ChannelOpponentAttacked = "opponent_attacked"
)

var Channels = []string{ChannelGameListed, ChannelPlayerJoined, ChannelOpponentAttacked}

// Wagers are the allowed new_game stakes in whole SCRT.
var Wagers = []uint64{0, 1, 2, 5, 10}

// Funds turns a wager in SCRT into the coins sent with new_game. A zero wager sends nothing.
func Funds(scrt uint64) ([]Coin, error) {
	for _, w := range Wagers {
		if w != scrt {
			continue
		}
		if w == 0 {
			return nil, nil
		}
		return []Coin{{Denom: Denom, Amount: fmt.Sprintf("%d000000", w)}}, nil
	}
	return nil, fmt.Errorf("wager of %d SCRT is not one of %v", scrt, Wagers)
}

// Msg is an execution message for the game contract.
type Msg interface {
	Method() string
	Validate() error
}

type NewGame struct {
	Title string `json:"title,omitempty"`
}

func (NewGame) Method() string { return "new_game" }

func (m NewGame) Validate() error {
	if len(m.Title) > MaxTitleLen {
		return fmt.Errorf("title longer than %d bytes", MaxTitleLen)
	}
	return nil
}

type JoinGame struct {
	GameID string `json:"game_id"`
}

func (JoinGame) Method() string    { return "join_game" }
func (m JoinGame) Validate() error { return requireGameID(m.GameID) }

type SubmitSetup struct {
	GameID string      `json:"game_id"`
	Cells  []CellValue `json:"cells"`
	Ready  *bool       `json:"ready,omitempty"`
}

func (SubmitSetup) Method() string { return "submit_setup" }

func (m SubmitSetup) Validate() error {
	if err := requireGameID(m.GameID); err != nil {
		return err
	}
	return ValidateSetup(m.Cells)
}

type AttackCell struct {
	GameID string `json:"game_id"`
	Cell   uint8  `json:"cell"`
}

func (AttackCell) Method() string { return "attack_cell" }

func (m AttackCell) Validate() error {
	if err := requireGameID(m.GameID); err != nil {
		return err
	}
	if m.Cell >= BoardCells {
		return fmt.Errorf("cell %d is off the board", m.Cell)
	}
	return nil
}

type ClaimVictory struct {
	GameID string `json:"game_id"`
}

func (ClaimVictory) Method() string    { return "claim_victory" }
func (m ClaimVictory) Validate() error { return requireGameID(m.GameID) }

func requireGameID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("game id is empty")
	}
	return nil
}

// Encode validates msg and renders it as {"<method>": {...}}.
func Encode(msg Msg) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", msg.Method(), err)
	}
	return json.Marshal(map[string]Msg{msg.Method(): msg})
}

// Execution answers.
type (
	NewGameAnswer struct {
		Game ListedGame `json:"game"`
	}
	AttackCellAnswer struct {
		Result CellValue `json:"result"`
	}
)
