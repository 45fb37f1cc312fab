package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tourfolio/apiserver/types"
)

type contextKey string

const contextUserKey contextKey = "currentUser"

var errNoUserInContext = errors.New("no authenticated user in context")

// ErrorResponse is the wire shape of every expected failure.
type ErrorResponse struct {
	Status  string `json:"status"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// userFromContext returns the user attached by the auth middleware.
func userFromContext(ctx context.Context) (types.User, error) {
	user, ok := ctx.Value(contextUserKey).(types.User)
	if !ok {
		return types.User{}, errNoUserInContext
	}
	return user, nil
}

func contextWithUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, contextUserKey, user)
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	kind := "fail"
	if status >= http.StatusInternalServerError {
		kind = "error"
	}
	writeJSON(w, status, ErrorResponse{Status: kind, OK: false, Message: message})
}
