package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key for a student's login session
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// SebSessionAccessKey returns the cache key for the "already validated" SEB
// access flag of one session for one quiz
func (r *CacheKeyStruct) SebSessionAccessKey(sessionID string, quizID int64) string {
	return fmt.Sprintf("session:%s:seb_access:%d", sessionID, quizID)
}

// SebDenialChannel returns the Redis PubSub channel name for a quiz's SEB
// denial event stream
func (r *CacheKeyStruct) SebDenialChannel(quizID int64) string {
	return fmt.Sprintf("quiz:%d:seb_denials", quizID)
}

var CacheKey = NewCacheKeyStruct()
