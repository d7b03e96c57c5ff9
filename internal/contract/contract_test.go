package contract

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/nfps-dev/nfp-bootloader/internal/auth"
	"github.com/nfps-dev/nfp-bootloader/internal/cache"
	"github.com/nfps-dev/nfp-bootloader/internal/lcdtest"
	"github.com/nfps-dev/nfp-bootloader/internal/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, h lcdtest.QueryFunc) (*Contract, *lcdtest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := lcdtest.New(t, "secret-4", h)
	w, _, err := wallet.Ensure(ctx, cache.NewMemory(), "secret")
	require.NoError(t, err)
	client, err := wallet.Dial(ctx, w, "secret-4", []string{srv.URL}, nil)
	require.NoError(t, err)
	c, err := New(client, "secret1contract", "hash")
	require.NoError(t, err)
	return c, srv
}

func TestQueryWithViewingKey(t *testing.T) {
	c, srv := dial(t, func(msg map[string]json.RawMessage) (any, int) {
		return map[string]any{"game_ids": []string{"g1"}}, http.StatusOK
	})

	var out struct {
		GameIDs []string `json:"game_ids"`
	}
	err := c.Query(context.Background(), "active_games", map[string]any{"token_id": "1"},
		auth.FromViewingKey("api_key", "secret1owner"), &out)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, out.GameIDs)

	qs := srv.Queries()
	require.Len(t, qs, 1)
	assert.JSONEq(t, `{"token_id":"1","viewer":{"viewing_key":"api_key","address":"secret1owner"}}`, string(qs[0]["active_games"]))
}

func TestQueryRejected(t *testing.T) {
	c, _ := dial(t, func(map[string]json.RawMessage) (any, int) {
		return lcdtest.Reject(3, "wrong viewing key")
	})
	err := c.Query(context.Background(), "active_games", nil, auth.Credential{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, wallet.ErrQueryRejected))
}

func TestQueryBadAnswer(t *testing.T) {
	c, _ := dial(t, func(map[string]json.RawMessage) (any, int) {
		return "not an object", http.StatusOK
	})
	var out struct{ A int }
	err := c.Query(context.Background(), "x", nil, auth.Credential{}, &out)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	_, err := New(nil, "a", "")
	assert.Error(t, err)
	c, _ := dial(t, nil)
	_, err = New(c.q, "", "")
	assert.Error(t, err)
}
