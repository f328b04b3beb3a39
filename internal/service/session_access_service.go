package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/sebgate/internal/config"
)

// SessionAccessService records per-session SEB validation flags in Redis so
// that, once a session has passed the full header checks for a quiz,
// subsequent requests take the cheap path. Flags expire with the JWT, never
// outliving the session they belong to.
type SessionAccessService struct {
	cfg *config.Config
	rdb *redis.Client
	log zerolog.Logger
}

// NewSessionAccessService creates a new SessionAccessService.
func NewSessionAccessService(cfg *config.Config, rdb *redis.Client, log zerolog.Logger) *SessionAccessService {
	return &SessionAccessService{
		cfg: cfg,
		rdb: rdb,
		log: log.With().Str("component", "session_access_service").Logger(),
	}
}

// IsValidated reports whether the session already passed SEB validation for
// the quiz. Redis outages fail closed: the caller falls back to full header
// validation.
func (s *SessionAccessService) IsValidated(ctx context.Context, sessionID string, quizID int64) (bool, error) {
	key := config.CacheKey.SebSessionAccessKey(sessionID, quizID)
	if err := s.rdb.Get(ctx, key).Err(); err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("session_id", sessionID).Msg("SEB access flag lookup failed")
		}
		return false, nil
	}
	return true, nil
}

// MarkValidated sets the validation flag with the JWT lifetime as TTL. A
// store failure is not fatal: the next request re-validates the headers.
func (s *SessionAccessService) MarkValidated(ctx context.Context, sessionID string, quizID int64) error {
	key := config.CacheKey.SebSessionAccessKey(sessionID, quizID)
	if err := s.rdb.Set(ctx, key, "1", s.cfg.JWTExpiry).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("SEB access flag store failed")
	}
	return nil
}

// Clear drops the validation flag, forcing full re-validation on the next
// request. Called when a student finishes a quiz.
func (s *SessionAccessService) Clear(ctx context.Context, sessionID string, quizID int64) error {
	key := config.CacheKey.SebSessionAccessKey(sessionID, quizID)
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("clear seb access flag: %w", err)
	}
	return nil
}
