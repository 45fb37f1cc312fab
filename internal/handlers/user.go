package handlers

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tourfolio/apiserver/internal/services"
	"github.com/tourfolio/apiserver/internal/storage"
)

const (
	maxPhotoBytes      = 5 << 20
	maxMultipartMemory = 8 << 20
	formFieldPhoto     = "photo"
)

var photoContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// UserHandler provides HTTP handlers for the user profile.
type UserHandler struct {
	userService *services.UserService
	avatars     *storage.Avatars
}

// NewUserHandler constructs a handler with the provided dependencies.
// avatars may be nil when no object storage is configured.
func NewUserHandler(userService *services.UserService, avatars *storage.Avatars) *UserHandler {
	return &UserHandler{
		userService: userService,
		avatars:     avatars,
	}
}

// UserRouter registers user-profile routes on the given router.
func UserRouter(r chi.Router, handler *UserHandler, authMiddleware func(http.Handler) http.Handler) {
	r.With(authMiddleware).Patch("/me/photo", handler.UploadPhoto)
}

// UploadPhoto stores a new profile photo for the authenticated user and
// records its object key on the account.
func (h *UserHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, msgNotLoggedIn)
		return
	}

	if h.avatars == nil {
		writeError(w, http.StatusServiceUnavailable, "photo storage is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "photo upload too large or malformed")
		return
	}

	file, header, err := r.FormFile(formFieldPhoto)
	if err != nil {
		writeError(w, http.StatusBadRequest, "photo file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	contentType, ok := photoContentTypes[ext]
	if !ok {
		writeError(w, http.StatusBadRequest, "photo must be a jpg or png image")
		return
	}

	key := h.avatars.Key(user.ID, ext)
	if err := h.avatars.Save(r.Context(), key, file, header.Size, contentType); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store photo")
		return
	}

	if err := h.userService.UpdatePhoto(r.Context(), user.ID, key); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update user")
		return
	}

	user.Photo = key
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"ok":     true,
		"data":   map[string]any{"user": user},
	})
}
