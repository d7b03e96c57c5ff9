package http

import (
	_ "embed"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

//go:embed ui_index.html
var uiIndexHTML []byte

func NewRouter(h *Handler, allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(), localHostOnly())

	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = normalizeOrigin(o); o != "" {
			origins[o] = struct{}{}
		}
	}
	r.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			_, ok := origins[normalizeOrigin(origin)]
			return ok
		},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       10 * time.Minute,
	}))

	api := r.Group("/api")
	{
		api.GET("/health", h.Health)
		api.GET("/state", h.State)
		api.GET("/namespace", h.Namespace)

		api.POST("/boot", loopbackOnly(), h.Boot)
		api.POST("/reset", loopbackOnly(), h.Reset)
		api.POST("/packages", loopbackOnly(), h.LoadPackage)

		games := api.Group("/games", h.requireConnected)
		{
			games.GET("", h.ListGames)
			games.GET("/active", h.ActiveGames)
			games.GET("/:id", h.GameState)
		}
	}

	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	r.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", uiIndexHTML)
	})

	return r
}

// normalizeOrigin reduces an origin to lower-case scheme://host, or "" when it is not one.
func normalizeOrigin(origin string) string {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}
