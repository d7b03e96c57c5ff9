package auth

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nfps-dev/nfp-bootloader/internal/cache"
	"github.com/nfps-dev/nfp-bootloader/internal/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignBytesCanonical(t *testing.T) {
	doc, err := PermitParams{
		PermitName:    "nfp",
		AllowedTokens: []string{"secret1contract"},
		ChainID:       "secret-4",
		Permissions:   []string{"owner"},
	}.SignBytes()
	require.NoError(t, err)

	want := `{"account_number":"0","chain_id":"secret-4","fee":{"amount":[{"amount":"0","denom":"uscrt"}],"gas":"1"},` +
		`"memo":"","msgs":[{"type":"query_permit","value":{"allowed_tokens":["secret1contract"],"permissions":["owner"],"permit_name":"nfp"}}],` +
		`"sequence":"0"}`
	assert.Equal(t, want, string(doc))
}

func TestSignAndVerifyPermit(t *testing.T) {
	w, _, err := wallet.Ensure(context.Background(), cache.NewMemory(), "secret")
	require.NoError(t, err)

	p, err := SignPermit(w, PermitParams{
		PermitName:    "battleship",
		AllowedTokens: []string{"secret1contract"},
		ChainID:       "secret-4",
		Permissions:   []string{"owner"},
	})
	require.NoError(t, err)
	require.NoError(t, VerifyPermit(p))
	assert.Equal(t, "tendermint/PubKeySecp256k1", p.Signature.PubKey.Type)

	b, err := json.Marshal(p)
	require.NoError(t, err)
	var back Permit
	require.NoError(t, json.Unmarshal(b, &back))
	require.NoError(t, VerifyPermit(back))

	back.Params.ChainID = "pulsar-3"
	assert.Error(t, VerifyPermit(back))
}

func TestSignPermitValidation(t *testing.T) {
	w, _, err := wallet.Ensure(context.Background(), cache.NewMemory(), "secret")
	require.NoError(t, err)

	_, err = SignPermit(w, PermitParams{ChainID: "secret-4", AllowedTokens: []string{"x"}})
	assert.Error(t, err)
	_, err = SignPermit(w, PermitParams{PermitName: "p", AllowedTokens: []string{"x"}})
	assert.Error(t, err)
	_, err = SignPermit(w, PermitParams{PermitName: "p", ChainID: "secret-4"})
	assert.Error(t, err)
}

func TestWrapQuery(t *testing.T) {
	args := map[string]any{"token_id": "1"}

	t.Run("viewing key", func(t *testing.T) {
		msg, err := FromViewingKey("api_key", "secret1owner").WrapQuery("active_games", args)
		require.NoError(t, err)
		b, _ := json.Marshal(msg)
		assert.JSONEq(t, `{"active_games":{"token_id":"1","viewer":{"viewing_key":"api_key","address":"secret1owner"}}}`, string(b))
	})

	t.Run("permit", func(t *testing.T) {
		p := Permit{Params: PermitParams{PermitName: "n", ChainID: "c", AllowedTokens: []string{"a"}, Permissions: []string{"owner"}}}
		msg, err := FromPermit(p).WrapQuery("active_games", args)
		require.NoError(t, err)
		b, _ := json.Marshal(msg)

		var got map[string]map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(b, &got))
		require.Contains(t, got, "with_permit")
		assert.JSONEq(t, `{"active_games":{"token_id":"1"}}`, string(got["with_permit"]["query"]))
		assert.Contains(t, string(got["with_permit"]["permit"]), `"permit_name":"n"`)
	})

	t.Run("none", func(t *testing.T) {
		msg, err := Credential{}.WrapQuery("list_channels", nil)
		require.NoError(t, err)
		b, _ := json.Marshal(msg)
		assert.JSONEq(t, `{"list_channels":{}}`, string(b))
	})

	t.Run("args untouched", func(t *testing.T) {
		_, err := FromViewingKey("k", "o").WrapQuery("q", args)
		require.NoError(t, err)
		assert.NotContains(t, args, "viewer")
	})

	_, err := Credential{}.WrapQuery("", nil)
	assert.Error(t, err)
}

func TestCredentialJSON(t *testing.T) {
	in := FromViewingKey("k", "secret1owner")
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out Credential
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)
	assert.Equal(t, KindNone, Credential{}.Kind())
}
