package boot

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/nfps-dev/nfp-bootloader/internal/auth"
	"github.com/nfps-dev/nfp-bootloader/internal/cache"
	"github.com/nfps-dev/nfp-bootloader/internal/constants"
	"github.com/nfps-dev/nfp-bootloader/internal/lcdtest"
	"github.com/nfps-dev/nfp-bootloader/internal/loader"
	"github.com/nfps-dev/nfp-bootloader/internal/metrics"
	"github.com/nfps-dev/nfp-bootloader/internal/nfpx/nfpxtest"
	"github.com/nfps-dev/nfp-bootloader/internal/tokenloc"
	"github.com/nfps-dev/nfp-bootloader/internal/wallet"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

const appScript = `function main(nfpx) { globalThis.booted = nfpx.token_location.token_id; }`

func servePackage(code string) lcdtest.QueryFunc {
	return func(msg map[string]json.RawMessage) (any, int) {
		if _, ok := msg["package_version"]; !ok {
			return lcdtest.Reject(3, "unknown query")
		}
		return map[string]any{"package_version": map[string]any{"package": map[string]any{
			"data":   map[string]any{"bytes": []byte(code), "content_type": "application/javascript"},
			"access": "owners",
		}}}, http.StatusOK
	}
}

func missingPackage(map[string]json.RawMessage) (any, int) {
	return map[string]any{"package_version": map[string]any{"package": nil}}, http.StatusOK
}

func str(s string) *string { return &s }

type fixture struct {
	booter   *Booter
	store    *cache.Memory
	injector *loader.ScriptInjector
	srv      *lcdtest.Server
}

func newFixture(t *testing.T, h lcdtest.QueryFunc, mutate func(*Options)) *fixture {
	t.Helper()
	srv := lcdtest.New(t, "secret-4", h)
	opts := Options{
		Location:  nfpxtest.Location,
		Overrides: tokenloc.Overrides{Owner: str("secret1owner"), ViewingKey: str("api_key")},
		HRP:       constants.DefaultHRP,
		LCDs:      []string{srv.URL},
		Comms:     []string{"ws://127.0.0.1:26657/websocket"},
		Main:      loader.Package{ID: constants.DefaultMainPkg, Tag: constants.DefaultMainTag},
	}
	if mutate != nil {
		mutate(&opts)
	}
	store := cache.NewMemory()
	inj := loader.NewScriptInjector()
	prompter := auth.PrompterFunc(func(context.Context, auth.Request) (string, error) {
		t.Fatal("unexpected prompt")
		return "", nil
	})
	return &fixture{
		booter:   New(opts, store, prompter, inj, metrics.NewCollector()),
		store:    store,
		injector: inj,
		srv:      srv,
	}
}

func TestBootConnects(t *testing.T) {
	f := newFixture(t, servePackage(appScript), nil)
	var seen []State
	f.booter.Machine.Subscribe(func(tr Transition) { seen = append(seen, tr.To) })

	ns, err := f.booter.Boot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ns)

	assert.Equal(t, Connected, f.booter.Machine.State())
	assert.Same(t, ns, f.booter.Machine.Namespace())
	assert.Equal(t, []State{Connecting, Connected}, seen)
	assert.Equal(t, "1", f.injector.Global("booted"))
	assert.Equal(t, f.srv.URL, ns.LCD())
	assert.Equal(t, auth.KindViewingKey, ns.Credential().Kind())

	// overrides were written through
	owner, ok, err := cache.ReadString(context.Background(), f.store, nfpxtest.Location.OwnerKey())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "secret1owner", owner)

	_, err = f.booter.Boot(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestBootUnreachableNode(t *testing.T) {
	f := newFixture(t, servePackage(appScript), func(o *Options) {
		o.LCDs = []string{"http://127.0.0.1:1"}
	})

	ns, err := f.booter.Boot(context.Background())
	require.Error(t, err)
	assert.Nil(t, ns)
	assert.True(t, errors.Is(err, wallet.ErrNoEndpoint))
	assert.Equal(t, Failed, f.booter.Machine.State())
	assert.Nil(t, f.booter.Machine.Namespace())
	assert.True(t, errors.Is(f.booter.Machine.LastError(), wallet.ErrNoEndpoint))
}

func TestBootFetchFailureLeavesNamespaceEmpty(t *testing.T) {
	f := newFixture(t, missingPackage, nil)

	_, err := f.booter.Boot(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, loader.ErrPackageNotFound))
	assert.Equal(t, Failed, f.booter.Machine.State())
	assert.Nil(t, f.booter.Machine.Namespace())
	assert.Nil(t, f.injector.Global("nfpx"))

	_, err = f.booter.Load(context.Background(), loader.Package{ID: "lib"})
	assert.ErrorIs(t, err, loader.ErrNamespaceNotReady)
}

func TestRetryAfterReset(t *testing.T) {
	f := newFixture(t, missingPackage, nil)
	ctx := context.Background()

	_, err := f.booter.Boot(ctx)
	require.Error(t, err)

	_, err = f.booter.Boot(ctx)
	assert.ErrorIs(t, err, ErrInvalidTransition, "failed must be reset before booting again")

	require.NoError(t, f.booter.Reset(ctx, ResetOptions{}))
	assert.Equal(t, Idle, f.booter.Machine.State())
	assert.Empty(t, f.booter.Machine.Status().LastError)

	f.srv.SetHandler(servePackage(appScript))
	ns, err := f.booter.Boot(ctx)
	require.NoError(t, err)
	assert.NotNil(t, ns)
	assert.Equal(t, Connected, f.booter.Machine.State())
}

func TestResetClearsCacheWithBackup(t *testing.T) {
	f := newFixture(t, missingPackage, nil)
	ctx := context.Background()

	_, err := f.booter.Boot(ctx)
	require.Error(t, err)
	keys, err := f.store.Keys(ctx)
	require.NoError(t, err)
	require.Contains(t, keys, constants.SecretKeyKey)

	backup := filepath.Join(t.TempDir(), constants.BackupFile)
	password := []byte("hunter2")
	require.NoError(t, f.booter.Reset(ctx, ResetOptions{ClearCache: true, BackupPath: backup, Password: password}))

	keys, err = f.store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	restored := cache.NewMemory()
	require.NoError(t, RestoreCache(ctx, restored, backup, password))
	sk, ok, err := cache.ReadString(ctx, restored, constants.SecretKeyKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, sk)

	assert.Error(t, RestoreCache(ctx, restored, backup, []byte("wrong")))
}

func TestResetOnlyFromFailed(t *testing.T) {
	f := newFixture(t, servePackage(appScript), nil)
	err := f.booter.Reset(context.Background(), ResetOptions{ClearCache: true})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAutobootDevMode(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dist/app.dev.js", []byte(appScript), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/dist/lib.dev.js", []byte(`globalThis.lib = true`), 0o644))

	f := newFixture(t, missingPackage, func(o *Options) {
		o.Dev = true
		o.DevDir = "/dist"
		o.Fs = fs
	})

	booted, err := f.booter.Autoboot(context.Background())
	require.NoError(t, err)
	assert.True(t, booted)
	assert.Equal(t, Connected, f.booter.Machine.State())
	assert.Equal(t, "1", f.injector.Global("booted"))
	assert.Empty(t, f.srv.Queries(), "dev mode never asks the contract for packages")

	m, err := f.booter.Load(context.Background(), loader.Package{ID: "lib"})
	require.NoError(t, err)
	assert.Equal(t, loader.OriginFile, m.Origin)
	assert.Equal(t, true, f.injector.Global("lib"))
}

func TestStartRunsInBackground(t *testing.T) {
	f := newFixture(t, servePackage(appScript), nil)

	attempt, done, err := f.booter.Start(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, attempt)

	_, _, err = f.booter.Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition, "second click while connecting")

	require.NoError(t, <-done)
	assert.Equal(t, Connected, f.booter.Machine.State())
	assert.Equal(t, attempt, f.booter.Machine.Status().Attempt)
}

func TestAutobootOff(t *testing.T) {
	f := newFixture(t, servePackage(appScript), nil)
	booted, err := f.booter.Autoboot(context.Background())
	require.NoError(t, err)
	assert.False(t, booted)
	assert.Equal(t, Idle, f.booter.Machine.State())
}

func TestMainModuleLoadsPackagesAndCaches(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dist/app.dev.js", []byte(`
		function main(nfpx) {
			nfpx.cache.write("last_token", nfpx.token_location.token_id);
			nfpx.load("lib");
		}
	`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/dist/lib.dev.js", []byte(`globalThis.lib = nfpx.cache.read("last_token")`), 0o644))

	f := newFixture(t, missingPackage, func(o *Options) {
		o.Dev = true
		o.DevDir = "/dist"
		o.Fs = fs
	})
	_, err := f.booter.Boot(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.injector.Global("lib") == "1"
	}, 5*time.Second, 10*time.Millisecond)

	v, ok, err := cache.ReadString(context.Background(), f.store, "last_token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}
