package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/macroscope/macroscope/internal/filepolicy"
	"github.com/macroscope/macroscope/internal/services"
	"github.com/macroscope/macroscope/pkg/response"
)

// ProfileHandler exposes the caller's profile and public user cards.
type ProfileHandler struct {
	profiles *services.ProfileService
}

// NewProfileHandler configures a profile handler backed by the profile service.
func NewProfileHandler(profiles *services.ProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

type updateProfileRequest struct {
	Bio            *string `json:"bio" validate:"omitempty,max=500"`
	ProfilePicture *string `json:"profile_picture" validate:"omitempty,max=2048"`
}

// GET /api/profile
func (h *ProfileHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	user, err := h.profiles.GetProfile(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// PATCH /api/profile
func (h *ProfileHandler) Update(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.profiles.UpdateProfile(requestContext(c), userID, services.UpdateProfileInput{
		Bio:            req.Bio,
		ProfilePicture: req.ProfilePicture,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// POST /api/profile/avatar
func (h *ProfileHandler) UploadAvatar(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	upload, closeUpload, ok := readUpload(c, filepolicy.ScopeProfile)
	if !ok {
		return
	}
	defer closeUpload()

	user, err := h.profiles.UploadAvatar(requestContext(c), userID, upload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// GET /api/profile/avatars/defaults
func (h *ProfileHandler) DefaultAvatars(c *gin.Context) {
	response.Success(c, http.StatusOK, h.profiles.ListDefaultAvatars())
}

// GET /api/profile/stats
func (h *ProfileHandler) Stats(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	stats, err := h.profiles.Stats(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// GET /api/users/:id
func (h *ProfileHandler) Public(c *gin.Context) {
	id, ok := pathParam(c, "id")
	if !ok {
		return
	}

	user, err := h.profiles.GetPublicProfile(requestContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}
