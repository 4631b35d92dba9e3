package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/adapters/signal"
	"github.com/dkeye/Beacon/internal/app/orch"
	"github.com/dkeye/Beacon/internal/config"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/dkeye/Beacon/internal/languages"
)

const sessionName = "BeaconSessions"

// QuotaReader exposes the current billing period to the account page.
type QuotaReader interface {
	CurrentQuota(ctx context.Context, uid domain.UserID) (domain.Quota, error)
}

// SessionUserMiddleware copies the cookie session's user_id into the gin
// context, where the ws controller and the room API read it.
func SessionUserMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid, ok := sessions.Default(c).Get(signal.UserIDKey).(string); ok && uid != "" {
			c.Set(signal.UserIDKey, uid)
		}
		c.Next()
	}
}

func requireUser(c *gin.Context) {
	if c.GetString(signal.UserIDKey) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHENTICATED", "message": "login required"})
		return
	}
	c.Next()
}

func currentUser(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString(signal.UserIDKey))
}

func statusOf(err error) int {
	if errors.Is(err, domain.ErrNotOwner) {
		return http.StatusForbidden
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindQuotaExceeded:
		return http.StatusPaymentRequired
	case domain.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": domain.CodeOf(err), "message": msg})
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ctrl *signal.SignalWSController, quota QuotaReader) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(SessionUserMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	r.GET("/ws", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"rooms":       o.Rooms.Count(),
			"connections": o.Registry.Count(),
		})
	})

	api := r.Group("/api")
	api.GET("/languages", func(c *gin.Context) {
		c.JSON(http.StatusOK, languages.All())
	})

	rooms := &roomHandlers{orch: o}
	api.GET("/rooms/public", rooms.public)
	api.GET("/rooms/:id", rooms.get)

	authed := api.Group("", requireUser)
	authed.GET("/rooms/mine", rooms.mine)
	authed.POST("/rooms", rooms.create)
	authed.PATCH("/rooms/:id", rooms.update)
	authed.DELETE("/rooms/:id", rooms.remove)

	if quota != nil {
		authed.GET("/usage", func(c *gin.Context) {
			q, err := quota.CurrentQuota(c.Request.Context(), currentUser(c))
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"plan":             q.Plan,
				"minutesUsed":      q.MinutesUsed,
				"minutesRemaining": q.Remaining(),
				"periodStart":      q.PeriodStart,
				"periodEnd":        q.PeriodEnd,
			})
		})
	}

	// Identity normally comes from the external auth service. In debug mode
	// a caller may pick a user id directly.
	if cfg.Mode == "debug" {
		api.POST("/session", devLogin)
		api.DELETE("/session", devLogout)
	}

	return r
}

func devLogin(c *gin.Context) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.UserID) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "INVALID_MESSAGE", "message": "userId required"})
		return
	}
	s := sessions.Default(c)
	s.Set(signal.UserIDKey, strings.TrimSpace(body.UserID))
	if err := s.Save(); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": body.UserID})
}

func devLogout(c *gin.Context) {
	s := sessions.Default(c)
	s.Delete(signal.UserIDKey)
	if err := s.Save(); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
