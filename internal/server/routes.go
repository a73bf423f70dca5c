package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/mcwire/internal/auth"
	"github.com/danmuck/mcwire/internal/observability"
	"github.com/danmuck/mcwire/internal/protocol/packets"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const statusTimeout = 2 * time.Second

// StatusSnapshot is the admin /status body.
type StatusSnapshot struct {
	ServerID    string           `json:"server_id"`
	Uptime      string           `json:"uptime"`
	Protocol    int32            `json:"protocol"`
	Clients     int64            `json:"clients"`
	Connections map[string]int   `json:"connections"`
	Players     []PlayerSnapshot `json:"players"`
	LoopPending int              `json:"loop_pending"`
	KeyringSize int              `json:"keyring_size"`
}

// Router exposes the admin HTTP handler.
func (s *Service) Router() http.Handler { return s.router }

func (s *Service) newRouter() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminRequests(log.Logger, s.cfg.ServerID))
	if origins := normalizeOrigins(s.cfg.AdminCORSOrigins); len(origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": s.cfg.ServerID,
			"version": "0.0.1",
		})
	})

	r.GET("/metrics", gin.WrapH(observability.MetricsHandler()))

	r.GET("/status", s.requireToken(), func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), statusTimeout)
		defer cancel()
		snap, err := s.Snapshot(ctx)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, context.DeadlineExceeded) {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snap)
	})
	return r
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

// requireToken guards a route with the admin bearer token when one is set.
func (s *Service) requireToken() gin.HandlerFunc {
	validator := auth.StaticToken{Token: s.cfg.AdminToken}
	return func(c *gin.Context) {
		if s.cfg.AdminToken == "" {
			c.Next()
			return
		}
		if err := auth.Authorize(validator, c.GetHeader("Authorization")); err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// Snapshot reads player state from the event loop.
func (s *Service) Snapshot(ctx context.Context) (StatusSnapshot, error) {
	snap := StatusSnapshot{
		ServerID:    s.cfg.ServerID,
		Uptime:      time.Since(s.started).String(),
		Protocol:    packets.ProtocolVersion,
		Clients:     s.clientCount.Load(),
		Connections: s.connsByPhase(),
		KeyringSize: s.keyring.Len(),
	}
	err := s.onLoop(ctx, "snapshot", func() error {
		snap.Players = s.playerSnapshots()
		snap.LoopPending = s.loop.Pending()
		return nil
	})
	if err != nil {
		return StatusSnapshot{}, err
	}
	return snap, nil
}
