package model

import "time"

// Quiz is the protected resource SEB access control applies to. The full
// attempt lifecycle (questions, grading) lives in the main exam backend;
// this service only needs the identity and launch metadata.
type Quiz struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	AuthorID  int       `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateQuizRequest is the payload for registering a quiz.
type CreateQuizRequest struct {
	Title string `json:"title" binding:"required,min=3,max=255"`
}
