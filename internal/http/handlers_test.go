package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nfps-dev/nfp-bootloader/internal/auth"
	"github.com/nfps-dev/nfp-bootloader/internal/boot"
	"github.com/nfps-dev/nfp-bootloader/internal/cache"
	"github.com/nfps-dev/nfp-bootloader/internal/lcdtest"
	"github.com/nfps-dev/nfp-bootloader/internal/loader"
	"github.com/nfps-dev/nfp-bootloader/internal/metrics"
	"github.com/nfps-dev/nfp-bootloader/internal/nfpx/nfpxtest"
	"github.com/nfps-dev/nfp-bootloader/internal/tokenloc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func str(s string) *string { return &s }

func contractHandler(missing bool) lcdtest.QueryFunc {
	return func(msg map[string]json.RawMessage) (any, int) {
		switch {
		case msg["package_version"] != nil:
			if missing {
				return map[string]any{"package_version": map[string]any{"package": nil}}, http.StatusOK
			}
			return map[string]any{"package_version": map[string]any{"package": map[string]any{
				"data": map[string]any{"bytes": []byte(`globalThis.ok = true`), "content_type": "application/javascript"},
			}}}, http.StatusOK
		case msg["active_games"] != nil:
			return map[string]any{"game_ids": []string{"g1"}}, http.StatusOK
		}
		return lcdtest.Reject(3, "unknown query")
	}
}

const localHost = "127.0.0.1:7420"

type testServer struct {
	router     *gin.Engine
	booter     *boot.Booter
	lcd        *lcdtest.Server
	backupPath string
}

func newTestServer(t *testing.T, missing bool) *testServer {
	t.Helper()
	lcd := lcdtest.New(t, "secret-4", contractHandler(missing))
	m := metrics.NewCollector()
	b := boot.New(boot.Options{
		Location:  nfpxtest.Location,
		Overrides: tokenloc.Overrides{Owner: str("secret1owner"), ViewingKey: str("api_key")},
		HRP:       "secret",
		LCDs:      []string{lcd.URL},
		Main:      loader.Package{ID: "app", Tag: "1.x"},
	}, cache.NewMemory(), auth.PrompterFunc(func(context.Context, auth.Request) (string, error) {
		return "", nil
	}), loader.NewScriptInjector(), m)

	backupPath := filepath.Join(t.TempDir(), "cache_backup.json")
	return &testServer{
		router:     NewRouter(NewHandler(context.Background(), b, m, backupPath), []string{"http://localhost:7420"}),
		booter:     b,
		lcd:        lcd,
		backupPath: backupPath,
	}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = "127.0.0.1:50000"
	return s.serve(req)
}

// serve addresses req to the local listener unless it names a host already.
func (s *testServer) serve(req *http.Request) *httptest.ResponseRecorder {
	if req.Host == "" || req.Host == "example.com" {
		req.Host = localHost
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) waitFor(t *testing.T, want boot.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.booter.Machine.State() == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHealthAndIndex(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = s.do(http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `id="boot"`)
}

func TestBootFlow(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"idle"}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/namespace", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/boot", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var started struct {
		Attempt string `json:"attempt"`
		State   string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.NotEmpty(t, started.Attempt)
	assert.Equal(t, "connecting", started.State)

	s.waitFor(t, boot.Connected)

	rec = s.do(http.MethodPost, "/api/boot", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "one boot per session")

	rec = s.do(http.MethodGet, "/api/namespace", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ns map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ns))
	assert.Equal(t, map[string]any{"chain_id": "secret-4", "contract": "secret1contract", "token_id": "1"}, ns["token_location"])
	assert.Equal(t, "viewing_key", ns["credential_kind"])
	assert.NotContains(t, ns, "credential")

	rec = s.do(http.MethodGet, "/api/games/active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"game_ids":["g1"]}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `nfp_boots_total{result="success"} 1`)
}

func TestFailedBootAndReset(t *testing.T) {
	s := newTestServer(t, true)

	rec := s.do(http.MethodPost, "/api/reset", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "nothing to reset while idle")

	require.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/api/boot", "").Code)
	s.waitFor(t, boot.Failed)

	rec = s.do(http.MethodGet, "/api/state", "")
	var st map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "failed", st["state"])
	assert.NotEmpty(t, st["last_error"])

	rec = s.do(http.MethodGet, "/api/games/active", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/api/reset", `{"clear_cache":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, boot.Idle, s.booter.Machine.State())
	assert.NoFileExists(t, s.backupPath, "no password, no backup")
}

func TestResetBackupGoesToConfiguredPath(t *testing.T) {
	s := newTestServer(t, true)
	require.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/api/boot", "").Code)
	s.waitFor(t, boot.Failed)

	elsewhere := filepath.Join(t.TempDir(), "elsewhere.json")
	body := `{"clear_cache":true,"password":"hunter2","backup_path":"` + filepath.ToSlash(elsewhere) + `"}`
	rec := s.do(http.MethodPost, "/api/reset", body)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.FileExists(t, s.backupPath)
	_, err := os.Stat(elsewhere)
	assert.True(t, os.IsNotExist(err), "request cannot pick the backup path")
}

func TestStateChangesAreLoopbackOnly(t *testing.T) {
	s := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodPost, "/api/boot", nil)
	req.RemoteAddr = "192.0.2.10:40000"
	rec := s.serve(req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, boot.Idle, s.booter.Machine.State())
}

func TestForeignHostIsRejected(t *testing.T) {
	s := newTestServer(t, false)

	// a page on another origin whose name now resolves to 127.0.0.1
	for _, path := range []string{"/api/boot", "/api/reset", "/api/state"} {
		method := http.MethodPost
		if path == "/api/state" {
			method = http.MethodGet
		}
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = "127.0.0.1:50000"
		req.Host = "attacker.example:7420"
		rec := s.serve(req)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}
	assert.Equal(t, boot.Idle, s.booter.Machine.State())

	for _, host := range []string{"localhost:7420", "[::1]:7420", "127.0.0.1"} {
		req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
		req.Host = host
		assert.Equal(t, http.StatusOK, s.serve(req).Code, host)
	}
}

func TestCORSAllowedOrigins(t *testing.T) {
	s := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set("Origin", "http://LOCALHOST:7420")
	rec := s.serve(req)
	assert.Equal(t, "http://LOCALHOST:7420", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = s.serve(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLoadPackageRequiresConnection(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(http.MethodPost, "/api/packages", `{"id":"lib"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/api/packages", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/packages", `{"id":"../../etc/passwd"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
