package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/consult/internal/adapters/auth"
	"github.com/dkeye/consult/internal/adapters/signal"
	"github.com/dkeye/consult/internal/app"
	"github.com/dkeye/consult/internal/config"
	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "client_token"

// ClientTokenMiddleware keeps one opaque token per browser in the session cookie.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			s.Set(clientTokenKey, token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

// TicketMiddleware verifies the join ticket from ?token= and stores the holder
// under signal.ParticipantKey.
func TicketMiddleware(tickets *auth.Tickets) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("token")
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing join ticket"})
			return
		}
		p, err := tickets.Verify(raw)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("ticket rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid join ticket"})
			return
		}
		c.Set(signal.ParticipantKey, p)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, hub *app.Hub, tickets *auth.Tickets) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	if len(cfg.Signal.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.Signal.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	store := cookie.NewStore([]byte(cfg.Auth.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions("ConsultSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	ctrl := signal.NewSignalWSController(hub, signal.ServerConfig{
		SendQueue:      cfg.Signal.SendQueue,
		PingInterval:   cfg.Signal.PingPeriod,
		RateLimit:      cfg.Signal.RateLimit,
		RateInterval:   cfg.Signal.RateInterval,
		AllowedOrigins: cfg.Signal.AllowedOrigins,
	})

	api := r.Group("/api")

	api.GET("/ws/signal", TicketMiddleware(tickets), func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString(clientTokenKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	api.GET("/sessions/:id", func(c *gin.Context) {
		sid, err := domain.ParseSessionID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		rec, err := hub.Record(c.Request.Context(), sid)
		switch {
		case errors.Is(err, core.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		case err != nil:
			log.Error().Err(err).Str("module", "adapters.http").Str("sid", string(sid)).Msg("load record")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		default:
			c.JSON(http.StatusOK, gin.H{"record": rec, "present": hub.Roles(sid)})
		}
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
