package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/emberchat/ember/internal/platform/errors"
	"github.com/emberchat/ember/internal/platform/id"
	"github.com/emberchat/ember/internal/services/auth/storage"
	"github.com/emberchat/ember/internal/services/auth/user"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	Color    string `json:"color,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profileUpdateRequest struct {
	Username *string `json:"username,omitempty"`
	Color    *string `json:"color,omitempty"`
}

type userPayload struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username"`
	Color    string `json:"color,omitempty"`
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	User        userPayload `json:"user"`
}

type introspectResponse struct {
	Active   bool   `json:"active"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Color    string `json:"color,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	users          storage.UserStore
	tokens         storage.TokenStore
	resourceSecret string
}

// NewHandler creates the auth HTTP routes on top of the given stores.
//
// resourceSecret guards the introspection endpoint: sibling services present
// it via X-Resource-Secret, so browsers holding only a bearer token cannot
// probe token-to-identity mappings.
func NewHandler(users storage.UserStore, tokens storage.TokenStore, resourceSecret string) http.Handler {
	h := &handler{
		users:          users,
		tokens:         tokens,
		resourceSecret: strings.TrimSpace(resourceSecret),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("POST /register", h.handleRegister)
	mux.HandleFunc("POST /login", h.handleLogin)
	mux.HandleFunc("POST /introspect", h.handleIntrospect)
	mux.HandleFunc("GET /users", h.handleListUsers)
	mux.HandleFunc("PATCH /me", h.handleUpdateProfile)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("auth: encode response: %v", err)
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		writeJSON(w, domainErr.Code.HTTPStatus(), errorResponse{Error: domainErr.Message})
		return
	}
	log.Printf("auth: internal error: %v", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func toUserPayload(u user.User, includeEmail bool) userPayload {
	payload := userPayload{
		ID:       u.ID,
		Username: u.Username,
		Color:    u.Color,
	}
	if includeEmail {
		payload.Email = u.Email
	}
	return payload
}

func (h *handler) issueToken(ctx context.Context, userID string) (string, error) {
	token, err := id.NewID()
	if err != nil {
		return "", err
	}
	err = h.tokens.InsertToken(ctx, storage.AccessToken{
		Token:    token,
		UserID:   userID,
		IssuedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (h *handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	record, err := user.Create(user.CreateInput{
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
		Color:    req.Color,
	}, nil, nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.users.CreateUser(r.Context(), record); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			writeDomainError(w, apperrors.New(apperrors.CodeAuthEmailTaken, "email already used"))
			return
		}
		writeDomainError(w, err)
		return
	}

	token, err := h.issueToken(r.Context(), record.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{
		AccessToken: token,
		User:        toUserPayload(record, true),
	})
}

func (h *handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	record, err := h.users.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeDomainError(w, apperrors.New(apperrors.CodeAuthInvalidCredentials, "invalid credentials"))
			return
		}
		writeDomainError(w, err)
		return
	}
	if !record.CheckPassword(req.Password) {
		writeDomainError(w, apperrors.New(apperrors.CodeAuthInvalidCredentials, "invalid credentials"))
		return
	}

	token, err := h.issueToken(r.Context(), record.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		User:        toUserPayload(record, true),
	})
}

func (h *handler) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if h.resourceSecret == "" || r.Header.Get("X-Resource-Secret") != h.resourceSecret {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "resource secret required"})
		return
	}

	record, err := h.resolveBearer(r)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || apperrors.CodeOf(err) == apperrors.CodeAuthTokenInvalid {
			writeJSON(w, http.StatusOK, introspectResponse{Active: false})
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, introspectResponse{
		Active:   true,
		UserID:   record.ID,
		Username: record.Username,
		Color:    record.Color,
	})
}

func (h *handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireBearer(w, r); err != nil {
		return
	}
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	payload := make([]userPayload, 0, len(users))
	for _, u := range users {
		payload = append(payload, toUserPayload(u, false))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	record, err := h.requireBearer(w, r)
	if err != nil {
		return
	}

	var req profileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Username != nil {
		trimmed := strings.TrimSpace(*req.Username)
		if err := user.ValidateUsername(trimmed); err != nil {
			writeDomainError(w, err)
			return
		}
		req.Username = &trimmed
	}
	if req.Color != nil {
		if err := user.ValidateColor(*req.Color); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	updated, err := h.users.UpdateProfile(r.Context(), record.ID, storage.ProfileUpdate{
		Username: req.Username,
		Color:    req.Color,
	}, time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserPayload(updated, true))
}

// resolveBearer maps the Authorization header onto a stored user.
func (h *handler) resolveBearer(r *http.Request) (user.User, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return user.User{}, apperrors.New(apperrors.CodeAuthTokenInvalid, "bearer token required")
	}

	record, err := h.tokens.GetToken(r.Context(), strings.TrimSpace(token))
	if err != nil {
		return user.User{}, err
	}
	return h.users.GetUserByID(r.Context(), record.UserID)
}

func (h *handler) requireBearer(w http.ResponseWriter, r *http.Request) (user.User, error) {
	record, err := h.resolveBearer(r)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || apperrors.CodeOf(err) == apperrors.CodeAuthTokenInvalid {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
			return user.User{}, err
		}
		writeDomainError(w, err)
		return user.User{}, err
	}
	return record, nil
}
