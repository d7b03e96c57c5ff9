package loader

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nfps-dev/nfp-bootloader/internal/auth"
	"github.com/nfps-dev/nfp-bootloader/internal/cache"
	"github.com/nfps-dev/nfp-bootloader/internal/lcdtest"
	"github.com/nfps-dev/nfp-bootloader/internal/nfpx"
	"github.com/nfps-dev/nfp-bootloader/internal/nfpx/nfpxtest"
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

func gz(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func packageAnswer(code []byte, encoding string) map[string]any {
	return map[string]any{
		"package_version": map[string]any{
			"package": map[string]any{
				"data": map[string]any{
					"bytes":            code,
					"content_type":     "application/javascript",
					"content_encoding": encoding,
				},
				"tags":     []string{"1.x", "latest"},
				"metadata": "1.2.0",
				"access":   "owners",
			},
		},
	}
}

func TestContractSourceGzip(t *testing.T) {
	code := gz(t, `globalThis.hello = "world";`)
	srv := lcdtest.New(t, "secret-4", func(map[string]json.RawMessage) (any, int) {
		return packageAnswer(code, "gzip"), http.StatusOK
	})
	c, _ := nfpxtest.New(t, srv, auth.Credential{})

	m, err := ContractSource{Contract: c}.Fetch(context.Background(), Request{
		Package:    Package{ID: "app", Tag: "1.x"},
		Location:   nfpxtest.Location,
		Credential: auth.FromViewingKey("k", "secret1owner"),
	})
	require.NoError(t, err)
	assert.Equal(t, `globalThis.hello = "world";`, string(m.Code))
	assert.Equal(t, "1.2.0", m.Version)
	assert.Equal(t, OriginContract, m.Origin)
	assert.Len(t, m.Digest, 64)

	qs := srv.Queries()
	require.Len(t, qs, 1)
	assert.JSONEq(t, `{"package_id":"app","tag":"1.x","token_id":"1","viewer":{"viewing_key":"k","address":"secret1owner"}}`,
		string(qs[0]["package_version"]))
}

func TestContractSourceMissingPackage(t *testing.T) {
	srv := lcdtest.New(t, "secret-4", func(map[string]json.RawMessage) (any, int) {
		return map[string]any{"package_version": map[string]any{"package": nil}}, http.StatusOK
	})
	c, _ := nfpxtest.New(t, srv, auth.Credential{})

	_, err := ContractSource{Contract: c}.Fetch(context.Background(), Request{Package: Package{ID: "app"}, Location: nfpxtest.Location})
	assert.ErrorIs(t, err, ErrPackageNotFound)
}

func TestFileSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dist/app.dev.js", []byte("var x = 1;"), 0o644))
	src := FileSource{Fs: fs, Dir: "/dist"}

	m, err := src.Fetch(context.Background(), Request{Package: Package{ID: "app"}})
	require.NoError(t, err)
	assert.Equal(t, "var x = 1;", string(m.Code))
	assert.Equal(t, OriginFile, m.Origin)

	_, err = src.Fetch(context.Background(), Request{Package: Package{ID: "missing"}})
	assert.ErrorIs(t, err, ErrPackageNotFound)
}

func TestInvalidPackageID(t *testing.T) {
	r := NewRegistry(NewScriptInjector(), nil)
	r.Register("app", func(context.Context, Request) (*Module, error) {
		t.Fatal("loader must not run for an invalid id")
		return nil, nil
	})
	for _, id := range []string{"", "../app", "app/../../x", "App", ".hidden"} {
		_, err := r.Fetch(context.Background(), Request{Package: Package{ID: id}})
		assert.ErrorIs(t, err, ErrInvalidPackage, id)
	}

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/x.dev.js", []byte("var x = 1;"), 0o644))
	_, err := FileSource{Fs: fs, Dir: "/dist"}.Fetch(context.Background(), Request{Package: Package{ID: "../x"}})
	assert.ErrorIs(t, err, ErrInvalidPackage)
}

type recorder struct{ loads atomic.Int32 }

func (r *recorder) ObserveLoad(Package, *Module, error) { r.loads.Add(1) }

func TestRegistryUnknownPackage(t *testing.T) {
	r := NewRegistry(NewScriptInjector(), nil)
	_, err := r.Fetch(context.Background(), Request{Package: Package{ID: "nope"}})
	assert.ErrorIs(t, err, ErrUnknownPackage)
}

func TestLoadWithoutNamespace(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(NewScriptInjector(), rec)
	r.Register("app", func(context.Context, Request) (*Module, error) {
		t.Fatal("loader must not run without a namespace")
		return nil, nil
	})

	h := r.Load(context.Background(), Request{Package: Package{ID: "app"}}, nil)
	var got error
	h.OnLoad(func(_ *Module, err error) { got = err })
	assert.ErrorIs(t, got, ErrNamespaceNotReady)
	assert.EqualValues(t, 1, rec.loads.Load())
}

func loadScript(t *testing.T, inj *ScriptInjector, ns *nfpx.Namespace, code string) error {
	t.Helper()
	r := NewRegistry(inj, nil)
	r.Register("app", func(_ context.Context, req Request) (*Module, error) {
		return newModule(req.Package, OriginFile, "dev", "", []byte(code)), nil
	})
	h := r.Load(context.Background(), Request{Package: Package{ID: "app"}}, ns)

	fired := 0
	h.OnLoad(func(*Module, error) { fired++ })
	_, err := h.Wait(context.Background())
	h.OnLoad(func(*Module, error) { fired++ })
	assert.Equal(t, 2, fired)
	return err
}

func TestScriptSeesFrozenNamespace(t *testing.T) {
	srv := lcdtest.New(t, "secret-4", nil)
	_, ns := nfpxtest.New(t, srv, auth.FromViewingKey("k", "secret1owner"))
	inj := NewScriptInjector()

	err := loadScript(t, inj, ns, `
		"use strict";
		globalThis.token = nfpx.token_location.token_id;
		try { nfpx.lcd = "elsewhere"; globalThis.mutated = true; } catch (e) { globalThis.mutated = false; }
		function main(ns) { globalThis.kind = ns.credential_kind; }
	`)
	require.NoError(t, err)
	assert.Equal(t, "1", inj.Global("token"))
	assert.Equal(t, false, inj.Global("mutated"))
	assert.Equal(t, "viewing_key", inj.Global("kind"))
	assert.Nil(t, inj.Global("main"))
}

func TestScriptErrorFailsLoad(t *testing.T) {
	srv := lcdtest.New(t, "secret-4", nil)
	_, ns := nfpxtest.New(t, srv, auth.Credential{})

	err := loadScript(t, NewScriptInjector(), ns, `throw new Error("boom")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestInjectHonorsContext(t *testing.T) {
	srv := lcdtest.New(t, "secret-4", nil)
	_, ns := nfpxtest.New(t, srv, auth.Credential{})
	inj := NewScriptInjector()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	m := newModule(Package{ID: "spin"}, OriginFile, "dev", "", []byte(`for (;;) {}`))
	err := inj.Inject(ctx, m, ns)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// the runtime stays usable
	m = newModule(Package{ID: "next"}, OriginFile, "dev", "", []byte(`globalThis.ok = 1`))
	require.NoError(t, inj.Inject(context.Background(), m, ns))
	assert.EqualValues(t, 1, inj.Global("ok"))
}

func TestInjectRejectsNonScript(t *testing.T) {
	srv := lcdtest.New(t, "secret-4", nil)
	_, ns := nfpxtest.New(t, srv, auth.Credential{})

	m := newModule(Package{ID: "img"}, OriginContract, "1", "image/svg+xml", []byte("<svg/>"))
	err := NewScriptInjector().Inject(context.Background(), m, ns)
	assert.ErrorIs(t, err, ErrUnsupportedContent)
}

func TestScriptCallsBackIntoHost(t *testing.T) {
	srv := lcdtest.New(t, "secret-4", func(msg map[string]json.RawMessage) (any, int) {
		if msg["storage_owner_get"] != nil {
			return map[string]any{"owner": "secret1owner"}, http.StatusOK
		}
		return lcdtest.Reject(3, "unknown query")
	})
	_, ns := nfpxtest.New(t, srv, auth.FromViewingKey("k", "secret1owner"))
	store := cache.NewMemory()
	_, err := cache.WriteString(context.Background(), store, "sk", "private")
	require.NoError(t, err)

	inj := NewScriptInjector()
	inj.Link(Host{Store: store})

	err = loadScript(t, inj, ns, `
		var answer = nfpx.contract.query("storage_owner_get", {key: "profile"});
		globalThis.owner = answer.owner;
		nfpx.cache.write("profile", answer.owner);
		globalThis.cached = nfpx.cache.read("profile");
		globalThis.missing = nfpx.cache.read("nothing");
		try { nfpx.cache.read("sk"); globalThis.sk = "leaked"; } catch (e) { globalThis.sk = "blocked"; }
		try { nfpx.contract.query("nope", {}); } catch (e) { globalThis.rejected = String(e); }
		globalThis.vk = nfpx.credential.viewing_key.viewing_key;
		globalThis.frozen = Object.isFrozen(nfpx.cache);
	`)
	require.NoError(t, err)

	assert.Equal(t, "secret1owner", inj.Global("owner"))
	assert.Equal(t, "secret1owner", inj.Global("cached"))
	assert.Nil(t, inj.Global("missing"))
	assert.Equal(t, "blocked", inj.Global("sk"))
	assert.Contains(t, inj.Global("rejected"), "unknown query")
	assert.Equal(t, "k", inj.Global("vk"))
	assert.Equal(t, true, inj.Global("frozen"))

	v, ok, err := cache.ReadString(context.Background(), store, "profile")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "secret1owner", v)

	qs := srv.Queries()
	require.Len(t, qs, 2)
	assert.JSONEq(t, `{"key":"profile","viewer":{"viewing_key":"k","address":"secret1owner"}}`, string(qs[0]["storage_owner_get"]))
}

func TestScriptLoadsAnotherPackage(t *testing.T) {
	srv := lcdtest.New(t, "secret-4", nil)
	_, ns := nfpxtest.New(t, srv, auth.Credential{})
	inj := NewScriptInjector()

	r := NewRegistry(inj, nil)
	r.Register("app", func(_ context.Context, req Request) (*Module, error) {
		return newModule(req.Package, OriginFile, "dev", "", []byte(`
			try { nfpx.load("../etc"); } catch (e) { globalThis.bad = "rejected"; }
			nfpx.load("lib", "1.x");
			globalThis.order = "app";
		`)), nil
	})
	r.Register("lib", func(_ context.Context, req Request) (*Module, error) {
		return newModule(req.Package, OriginFile, "dev", "", []byte(`globalThis.order += ",lib";`)), nil
	})

	handles := make(chan *Handle, 1)
	inj.Link(Host{Load: func(pkg Package) {
		handles <- r.Load(context.Background(), Request{Package: pkg}, ns)
	}})

	_, err := r.Load(context.Background(), Request{Package: Package{ID: "app"}}, ns).Wait(context.Background())
	require.NoError(t, err)

	m, err := (<-handles).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.x", m.Tag)
	assert.Equal(t, "app,lib", inj.Global("order"))
	assert.Equal(t, "rejected", inj.Global("bad"))
}
