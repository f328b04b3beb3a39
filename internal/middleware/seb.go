package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/sebgate/internal/config"
	"github.com/stemsi/sebgate/internal/response"
	"github.com/stemsi/sebgate/internal/seb"
	"github.com/stemsi/sebgate/internal/service"
)

// SebDenialEvent is published to the quiz's denial channel whenever the
// gate rejects a request, feeding the live proctoring monitor.
type SebDenialEvent struct {
	QuizID    int64          `json:"quiz_id"`
	StudentID int            `json:"student_id"`
	SessionID string         `json:"session_id"`
	Reason    seb.DenyReason `json:"reason"`
	UserAgent string         `json:"user_agent"`
	URL       string         `json:"url"`
	Timestamp time.Time      `json:"timestamp"`
}

// SebGate builds the per-request SEB access decision. Each request gets a
// fresh manager so the settings and config key it validates against stay
// consistent for the whole decision.
type SebGate struct {
	cfg      *config.Config
	settings *service.SebSettingsService
	uploads  *service.SebConfigStore
	access   *service.SessionAccessService
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewSebGate creates a new SebGate.
func NewSebGate(
	cfg *config.Config,
	settings *service.SebSettingsService,
	uploads *service.SebConfigStore,
	access *service.SessionAccessService,
	rdb *redis.Client,
	log zerolog.Logger,
) *SebGate {
	return &SebGate{
		cfg:      cfg,
		settings: settings,
		uploads:  uploads,
		access:   access,
		rdb:      rdb,
		log:      log.With().Str("component", "seb_gate").Logger(),
	}
}

// Guard protects a quiz route identified by the named path parameter. It
// must run after JWT validation: the token's JTI is the session identity
// the validation flag is keyed on.
func (g *SebGate) Guard(quizIDParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		quizID, err := strconv.ParseInt(c.Param(quizIDParam), 10, 64)
		if err != nil {
			response.AbortFail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}

		manager := seb.NewManager(seb.ManagerConfig{
			QuizID:            quizID,
			SessionID:         claims.ID,
			Request:           seb.FromHTTPRequest(c.Request),
			Settings:          g.settings,
			Uploads:           g.uploads,
			Access:            g.access,
			Capabilities:      claimsCapabilities(claims.Permissions),
			ExpectedUserAgent: g.cfg.SEBExpectedUserAgent,
			Logger:            g.log,
		})

		decision, err := manager.Validate(c.Request.Context())
		if err != nil {
			g.log.Error().Err(err).Int64("quiz_id", quizID).Msg("SEB validation failed")
			response.AbortFail(c, http.StatusInternalServerError, response.ErrInternal)
			return
		}

		if !decision.Allowed {
			g.publishDenial(c, claims, quizID, decision.Reason)
			response.AbortFail(c, http.StatusForbidden, denialErrCode(decision.Reason))
			return
		}

		c.Next()
	}
}

// publishDenial emits the denial event for live monitors. Fire-and-forget:
// a publish failure never changes the HTTP outcome.
func (g *SebGate) publishDenial(c *gin.Context, claims *service.Claims, quizID int64, reason seb.DenyReason) {
	event := SebDenialEvent{
		QuizID:    quizID,
		StudentID: claims.UserID,
		SessionID: claims.ID,
		Reason:    reason,
		UserAgent: c.Request.UserAgent(),
		URL:       c.Request.URL.RequestURI(),
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		g.log.Error().Err(err).Msg("marshal SEB denial event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	channel := config.CacheKey.SebDenialChannel(quizID)
	if err := g.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		g.log.Warn().Err(err).Str("channel", channel).Msg("publish SEB denial event failed")
	}
}

func denialErrCode(reason seb.DenyReason) response.ErrCode {
	switch reason {
	case seb.DenyNoSebBrowserUsed:
		return response.ErrNoSebBrowser
	case seb.DenyInvalidConfigKey:
		return response.ErrInvalidSebConfigKey
	case seb.DenyInvalidBrowserKey:
		return response.ErrInvalidSebBrowserKey
	default:
		return response.ErrForbidden
	}
}

// claimsCapabilities adapts a token's permission list to the capability
// check the access manager consumes.
type claimsCapabilities []string

func (p claimsCapabilities) HasCapability(capability string) bool {
	for _, code := range p {
		if code == capability {
			return true
		}
	}
	return false
}
