package model

import "time"

// Student represents a student user taking SEB-protected quizzes.
type Student struct {
	ID           int       `json:"id"`
	NISN         string    `json:"nisn"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StudentLoginRequest is the payload for student authentication.
type StudentLoginRequest struct {
	NISN     string `json:"nisn" binding:"required,min=4,max=20"`
	Password string `json:"password" binding:"required,min=4,max=128"`
}

// StudentLoginResponse is returned after successful student login.
type StudentLoginResponse struct {
	Token   string  `json:"token"`
	Student Student `json:"student"`
}
