package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/sebgate/internal/middleware"
	"github.com/stemsi/sebgate/internal/model"
	"github.com/stemsi/sebgate/internal/repository"
	"github.com/stemsi/sebgate/internal/response"
	"github.com/stemsi/sebgate/internal/service"
	"github.com/stemsi/sebgate/internal/validator"
)

// QuizHandler handles quiz registration plus the SEB-guarded student routes.
type QuizHandler struct {
	quizRepo *repository.QuizRepository
	settings *service.SebSettingsService
	access   *service.SessionAccessService
	uploads  *service.SebConfigStore
}

// NewQuizHandler creates a new QuizHandler.
func NewQuizHandler(
	quizRepo *repository.QuizRepository,
	settings *service.SebSettingsService,
	access *service.SessionAccessService,
	uploads *service.SebConfigStore,
) *QuizHandler {
	return &QuizHandler{
		quizRepo: quizRepo,
		settings: settings,
		access:   access,
		uploads:  uploads,
	}
}

// List godoc
// GET /api/v1/admin/quizzes
func (h *QuizHandler) List(c *gin.Context) {
	quizzes, err := h.quizRepo.List(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"quizzes": quizzes})
}

// Create godoc
// POST /api/v1/admin/quizzes
func (h *QuizHandler) Create(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateQuizRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	quiz := &model.Quiz{Title: req.Title, AuthorID: claims.UserID}
	if err := h.quizRepo.Create(c.Request.Context(), quiz); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"quiz": quiz})
}

// Delete godoc
// DELETE /api/v1/admin/quizzes/:id
// Removes the quiz together with its SEB settings and uploaded config.
func (h *QuizHandler) Delete(c *gin.Context) {
	quizID, ok := quizIDParam(c)
	if !ok {
		return
	}

	if err := h.settings.Delete(c.Request.Context(), quizID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if err := h.uploads.Delete(quizID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if err := h.quizRepo.Delete(c.Request.Context(), quizID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}

// GetPaper godoc
// GET /api/v1/student/quizzes/:id
// The SEB-guarded quiz entry point. Reaching this handler means the gate
// middleware allowed the request.
func (h *QuizHandler) GetPaper(c *gin.Context) {
	quizID, ok := quizIDParam(c)
	if !ok {
		return
	}

	quiz, err := h.quizRepo.GetByID(c.Request.Context(), quizID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if quiz == nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	settings, err := h.settings.GetByQuizID(c.Request.Context(), quizID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	data := gin.H{"quiz": quiz}
	if settings != nil && settings.LinkQuitURL != "" {
		data["quit_url"] = settings.LinkQuitURL
	}
	response.Success(c, http.StatusOK, data)
}

// Finish godoc
// POST /api/v1/student/quizzes/:id/finish
// Clears the session's SEB validation flag so re-entry requires the full
// header checks again.
func (h *QuizHandler) Finish(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	quizID, ok := quizIDParam(c)
	if !ok {
		return
	}

	if err := h.access.Clear(c.Request.Context(), claims.ID, quizID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"finished": true})
}
