package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/promptdash/internal/config"
	"github.com/kiliankoe/promptdash/internal/lobby"
	"github.com/kiliankoe/promptdash/internal/round"
)

// requestLogger logs every request except Socket.IO polling noise.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		log.Info().Str("path", path).Int("status", c.Writer.Status()).Dur("dur", time.Since(start)).Msg("http")
	}
}

func registerAPI(r *gin.Engine, cfg config.Config, rm *lobby.Manager, engine *round.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})

	r.GET("/api/session/active", func(c *gin.Context) {
		if code, sess := rm.Active(); sess != nil {
			c.JSON(http.StatusOK, gin.H{"sessionCode": code})
			return
		}
		c.Status(http.StatusNotFound)
	})

	if cfg.GMUser != "" && cfg.GMPass != "" {
		auth := gin.BasicAuth(gin.Accounts{cfg.GMUser: cfg.GMPass})
		r.POST("/api/gm/create", auth, func(c *gin.Context) {
			code, hostToken, err := rm.CreateSession()
			if err != nil {
				abort(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"sessionCode": code, "hostToken": hostToken})
		})
	}

	// Authorship stays hidden until the round is finished.
	r.GET("/api/rounds/:id", func(c *gin.Context) {
		rnd, err := engine.Load(c.Request.Context(), c.Param("id"))
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, round.Public(rnd))
	})

	r.GET("/api/games/:id", func(c *gin.Context) {
		g, err := rm.LoadGame(c.Request.Context(), c.Param("id"))
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, g)
	})
}

func abort(c *gin.Context, err error) {
	switch {
	case errors.Is(err, round.ErrNotFound), errors.Is(err, round.ErrGameNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
