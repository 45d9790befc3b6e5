package http

import (
	"context"
	"net/http"

	"github.com/dkeye/parlor/internal/adapters/signal"
	"github.com/dkeye/parlor/internal/app"
	"github.com/dkeye/parlor/internal/auth"
	"github.com/dkeye/parlor/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type Deps struct {
	Registry *app.Registry
	Signal   *signal.SignalWSController
	Verifier *auth.Verifier
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24, HttpOnly: true})
	r.Use(sessions.Sessions("ParlorSessions", store))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	authed := AuthMiddleware(deps.Verifier)

	// session gateway
	r.GET("/ws/rooms/:room_id", authed, func(c *gin.Context) {
		deps.Signal.HandleJoin(ctx, c, currentUser(c))
	})

	api := r.Group("/api", authed)
	api.GET("/users/presence/:room_id", presenceHandler(deps.Registry))
	api.GET("/rooms/active", activeRoomsHandler(deps.Registry))
	api.GET("/stats", statsHandler(deps.Registry))

	return r
}
