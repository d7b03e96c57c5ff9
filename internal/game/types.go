// Package game is the wire interface of the battleship contract: enums, lobby and game
// views, execution messages and authenticated queries.
package game

import (
	"encoding/json"
	"strconv"
	"time"
)

type PlayerRole uint8

const (
	Initiator PlayerRole = iota
	Joiner
)

func (r PlayerRole) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Joiner:
		return "joiner"
	default:
		return "role(" + strconv.Itoa(int(r)) + ")"
	}
}

type GameState uint8

const (
	WaitingForPlayer GameState = iota
	WaitingForBothPlayersSetup
	WaitingForInitiatorSetup
	WaitingForJoinerSetup
	InitiatorsTurn
	JoinersTurn
	GameOverInitiatorWon
	GameOverJoinerWon
)

var stateNames = [...]string{
	"waiting_for_player",
	"waiting_for_both_players_setup",
	"waiting_for_initiator_setup",
	"waiting_for_joiner_setup",
	"initiators_turn",
	"joiners_turn",
	"game_over_initiator_won",
	"game_over_joiner_won",
}

func (s GameState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

func (s GameState) Over() bool { return s == GameOverInitiatorWon || s == GameOverJoinerWon }

// TurnOf reports whether it is role's move.
func (s GameState) TurnOf(role PlayerRole) bool {
	return (s == InitiatorsTurn && role == Initiator) || (s == JoinersTurn && role == Joiner)
}

// CellValue is the occupancy of one board cell.
type CellValue uint8

const (
	Empty CellValue = iota
	Miss
	Carrier
	Battleship
	Cruiser
	Submarine
	Destroyer

	HitUnknown CellValue = 0x80
)

func (c CellValue) String() string {
	switch c {
	case Empty:
		return "empty"
	case Miss:
		return "miss"
	case Carrier:
		return "carrier"
	case Battleship:
		return "battleship"
	case Cruiser:
		return "cruiser"
	case Submarine:
		return "submarine"
	case Destroyer:
		return "destroyer"
	case HitUnknown:
		return "hit"
	default:
		return "cell(" + strconv.Itoa(int(c)) + ")"
	}
}

// MarshalJSON keeps []CellValue a JSON array of numbers rather than base64.
func (c CellValue) MarshalJSON() ([]byte, error) {
	return strconv.AppendUint(nil, uint64(c), 10), nil
}

// Vessel reports whether the cell holds part of a ship.
func (c CellValue) Vessel() bool { return c >= Carrier && c <= Destroyer }

type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// Timestamp is a chain time, nanoseconds since the epoch encoded as a decimal string.
type Timestamp struct{ time.Time }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(t.UnixNano(), 10))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	t.Time = time.Unix(0, n).UTC()
	return nil
}

// ListedGame is a game as shown in the lobby.
type ListedGame struct {
	GameID  string    `json:"game_id"`
	Wager   Coin      `json:"wager"`
	Title   string    `json:"title"`
	Created Timestamp `json:"created"`
}

// ActiveGame is a player's private view of a game in progress.
type ActiveGame struct {
	Role  PlayerRole  `json:"role"`
	State GameState   `json:"state"`
	Home  []CellValue `json:"home"`
	Away  []CellValue `json:"away"`
}

// GameStateAnswer is the game_state query answer. Deployed contracts disagree on a few
// field names, so the decoder accepts turn for state and board/tracking for home/away.
type GameStateAnswer struct {
	ListedGame
	ActiveGame
}

func (a *GameStateAnswer) UnmarshalJSON(b []byte) error {
	var raw struct {
		ListedGame
		Role     PlayerRole  `json:"role"`
		State    *GameState  `json:"state"`
		Turn     *GameState  `json:"turn"`
		Home     []CellValue `json:"home"`
		Away     []CellValue `json:"away"`
		Board    []CellValue `json:"board"`
		Tracking []CellValue `json:"tracking"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	a.ListedGame = raw.ListedGame
	a.Role = raw.Role
	switch {
	case raw.State != nil:
		a.State = *raw.State
	case raw.Turn != nil:
		a.State = *raw.Turn
	}
	a.Home = firstNonNil(raw.Home, raw.Board)
	a.Away = firstNonNil(raw.Away, raw.Tracking)
	return nil
}

func firstNonNil(a, b []CellValue) []CellValue {
	if a != nil {
		return a
	}
	return b
}
