package game

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/nfps-dev/nfp-bootloader/internal/auth"
	"github.com/nfps-dev/nfp-bootloader/internal/contract"
)

// Client runs the authenticated game queries for one token.
type Client struct {
	Contract   *contract.Contract
	TokenID    string
	Credential auth.Credential
}

func (c *Client) query(ctx context.Context, method string, args map[string]any, out any) error {
	if c.Credential.Kind() == auth.KindNone {
		return errors.Wrapf(auth.ErrNoCredential, "%s", method)
	}
	if args == nil {
		args = map[string]any{}
	}
	args["token_id"] = c.TokenID
	return c.Contract.Query(ctx, method, args, c.Credential, out)
}

// ListGames pages through the lobby. Zero page size lets the contract choose.
func (c *Client) ListGames(ctx context.Context, page, pageSize uint32) ([]ListedGame, error) {
	args := map[string]any{"page": page}
	if pageSize > 0 {
		args["page_size"] = pageSize
	}
	var out struct {
		Games []ListedGame `json:"games"`
	}
	if err := c.query(ctx, "list_games", args, &out); err != nil {
		return nil, err
	}
	return out.Games, nil
}

// ActiveGames lists the ids of games the owner takes part in.
func (c *Client) ActiveGames(ctx context.Context) ([]string, error) {
	var out struct {
		GameIDs []string `json:"game_ids"`
	}
	if err := c.query(ctx, "active_games", nil, &out); err != nil {
		return nil, err
	}
	return out.GameIDs, nil
}

func (c *Client) GameState(ctx context.Context, gameID string) (*GameStateAnswer, error) {
	if err := requireGameID(gameID); err != nil {
		return nil, err
	}
	var out GameStateAnswer
	if err := c.query(ctx, "game_state", map[string]any{"game_id": gameID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
