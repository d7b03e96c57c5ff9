// Package nfpxtest builds namespaces against a fake LCD for tests.
package nfpxtest

import (
	"context"
	"testing"

	"github.com/nfps-dev/nfp-bootloader/internal/auth"
	"github.com/nfps-dev/nfp-bootloader/internal/cache"
	"github.com/nfps-dev/nfp-bootloader/internal/contract"
	"github.com/nfps-dev/nfp-bootloader/internal/lcdtest"
	"github.com/nfps-dev/nfp-bootloader/internal/nfpx"
	"github.com/nfps-dev/nfp-bootloader/internal/tokenloc"
	"github.com/nfps-dev/nfp-bootloader/internal/wallet"
	"github.com/stretchr/testify/require"
)

var Location = tokenloc.Location{ChainID: "secret-4", Contract: "secret1contract", TokenID: "1"}

// New dials srv and returns the contract handle and a built namespace.
func New(t *testing.T, srv *lcdtest.Server, cred auth.Credential) (*contract.Contract, *nfpx.Namespace) {
	t.Helper()
	ctx := context.Background()
	w, _, err := wallet.Ensure(ctx, cache.NewMemory(), "secret")
	require.NoError(t, err)
	client, err := wallet.Dial(ctx, w, srv.ChainID, []string{srv.URL}, nil)
	require.NoError(t, err)
	c, err := contract.New(client, Location.Contract, "hash")
	require.NoError(t, err)

	ns, err := nfpx.NewBuilder().
		Location(Location).
		Wallet(client).
		Contract(c).
		Credential(cred).
		Build()
	require.NoError(t, err)
	return c, ns
}
