package http

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/nfps-dev/nfp-bootloader/internal/boot"
	"github.com/nfps-dev/nfp-bootloader/internal/game"
	"github.com/nfps-dev/nfp-bootloader/internal/loader"
	"github.com/nfps-dev/nfp-bootloader/internal/metrics"
)

// Handler serves the local control API. Boots outlive the request that started them, so
// they run on ctx.
type Handler struct {
	ctx     context.Context
	booter  *boot.Booter
	metrics *metrics.Collector

	// backupPath receives the encrypted cache copy when a reset clears the cache with a
	// password. Callers never choose the path.
	backupPath string
}

func NewHandler(ctx context.Context, booter *boot.Booter, m *metrics.Collector, backupPath string) *Handler {
	return &Handler{ctx: ctx, booter: booter, metrics: m, backupPath: backupPath}
}

// -------- DTOs --------

type bootRes struct {
	Attempt string     `json:"attempt"`
	State   boot.State `json:"state"`
}

// A password on a clearing reset writes a backup to the profile directory first.
type resetReq struct {
	ClearCache bool   `json:"clear_cache"`
	Password   string `json:"password"`
}

type loadPackageReq struct {
	ID  string `json:"id"  binding:"required"`
	Tag string `json:"tag"`
}

type listGamesReq struct {
	Page     uint32 `form:"page"`
	PageSize uint32 `form:"page_size"`
}

func (h *Handler) Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// GET /api/state
func (h *Handler) State(c *gin.Context) {
	c.JSON(http.StatusOK, h.booter.Machine.Status())
}

// POST /api/boot is the click that starts a boot. It answers once connecting has begun.
func (h *Handler) Boot(c *gin.Context) {
	attempt, _, err := h.booter.Start(h.ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, bootRes{Attempt: attempt, State: boot.Connecting})
}

// POST /api/reset
func (h *Handler) Reset(c *gin.Context) {
	var req resetReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{JSONKeyError: err.Error()})
			return
		}
	}
	opts := boot.ResetOptions{ClearCache: req.ClearCache}
	if req.ClearCache && req.Password != "" {
		if h.backupPath == "" {
			c.JSON(http.StatusBadRequest, gin.H{JSONKeyError: "backups are not configured"})
			return
		}
		opts.BackupPath = h.backupPath
		opts.Password = []byte(req.Password)
	}

	err := h.booter.Reset(c.Request.Context(), opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.booter.Machine.Status())
}

// GET /api/namespace
func (h *Handler) Namespace(c *gin.Context) {
	ns := h.booter.Machine.Namespace()
	if ns == nil {
		c.JSON(http.StatusNotFound, gin.H{JSONKeyError: "not connected"})
		return
	}
	out := ns.Export()
	// the page gets the kind and owner, never the key or permit
	delete(out, "credential")
	c.JSON(http.StatusOK, out)
}

// POST /api/packages loads another package into the running application.
func (h *Handler) LoadPackage(c *gin.Context) {
	var req loadPackageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{JSONKeyError: err.Error()})
		return
	}
	pkg := loader.Package{ID: req.ID, Tag: req.Tag}
	if err := pkg.Validate(); err != nil {
		writeError(c, err)
		return
	}
	m, err := h.booter.Load(c.Request.Context(), pkg)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) requireConnected(c *gin.Context) {
	ns := h.booter.Machine.Namespace()
	if ns == nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{JSONKeyError: "not connected"})
		return
	}
	c.Set(ctxKeyGames, &game.Client{
		Contract:   ns.Contract(),
		TokenID:    ns.Location().TokenID,
		Credential: ns.Credential(),
	})
	c.Next()
}

func gamesClient(c *gin.Context) *game.Client {
	return c.MustGet(ctxKeyGames).(*game.Client)
}

// GET /api/games
func (h *Handler) ListGames(c *gin.Context) {
	var req listGamesReq
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{JSONKeyError: err.Error()})
		return
	}
	games, err := gamesClient(c).ListGames(c.Request.Context(), req.Page, req.PageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": games})
}

// GET /api/games/active
func (h *Handler) ActiveGames(c *gin.Context) {
	ids, err := gamesClient(c).ActiveGames(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"game_ids": ids})
}

// GET /api/games/:id
func (h *Handler) GameState(c *gin.Context) {
	st, err := gamesClient(c).GameState(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"game":      st.ListedGame,
		"role":      st.Role.String(),
		"state":     st.State.String(),
		"your_turn": st.State.TurnOf(st.Role),
		"home":      st.Home,
		"away":      st.Away,
	})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, boot.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, loader.ErrNamespaceNotReady):
		status = http.StatusConflict
	case errors.Is(err, loader.ErrPackageNotFound), errors.Is(err, loader.ErrUnknownPackage):
		status = http.StatusNotFound
	case errors.Is(err, loader.ErrInvalidPackage):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{JSONKeyError: err.Error()})
}
