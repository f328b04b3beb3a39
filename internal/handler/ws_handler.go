package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/sebgate/internal/config"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams live SEB denial events to proctoring monitors.
type WSHandler struct {
	rdb      *redis.Client
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(rdb *redis.Client, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		rdb:      rdb,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SebDenialStream godoc
// WS /ws/v1/admin/quizzes/:id/seb-denials
// Upgrades to WebSocket and forwards every SEB denial event published for
// the quiz. Each frame is one SebDenialEvent JSON document.
func (h *WSHandler) SebDenialStream(c *gin.Context) {
	quizID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quiz ID"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Int64("quiz_id", quizID).Logger()

	ctx := c.Request.Context()
	sub := h.rdb.Subscribe(ctx, config.CacheKey.SebDenialChannel(quizID))
	defer sub.Close()

	wsLog.Info().Msg("Denial monitor connected")

	// Reads only serve close detection; monitors never send payloads.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	events := sub.Channel()
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				wsLog.Warn().Msg("Denial subscription closed")
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				wsLog.Debug().Err(err).Msg("Monitor disconnected")
				return
			}
		case <-done:
			wsLog.Debug().Msg("Monitor closed connection")
			return
		case <-ctx.Done():
			return
		}
	}
}
