package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/emberchat/ember/internal/platform/errors"
	"github.com/emberchat/ember/internal/platform/id"
	"github.com/emberchat/ember/internal/services/rooms/invite"
	"github.com/emberchat/ember/internal/services/rooms/room"
	"github.com/emberchat/ember/internal/services/rooms/storage"
	"github.com/emberchat/ember/internal/services/shared/authclient"
)

type createRoomRequest struct {
	Name                   string   `json:"name"`
	AllowHistoryForInvited bool     `json:"allow_history_for_invited,omitempty"`
	Members                []string `json:"members,omitempty"`
}

type inviteRequest struct {
	UserID        string `json:"user_id"`
	CanSeeHistory *bool  `json:"can_see_history,omitempty"`
}

type joinRequest struct {
	Grant string `json:"grant"`
}

type roomPayload struct {
	ID                     int64  `json:"id"`
	Name                   string `json:"name"`
	OwnerID                string `json:"owner_id"`
	AllowHistoryForInvited bool   `json:"allow_history_for_invited"`
	CreatedAt              int64  `json:"created_at"`
}

type memberPayload struct {
	RoomID        int64  `json:"room_id"`
	UserID        string `json:"user_id"`
	CanSeeHistory bool   `json:"can_see_history"`
}

type grantResponse struct {
	Grant string `json:"grant"`
}

type membershipResponse struct {
	Member        bool `json:"member"`
	CanSeeHistory bool `json:"can_see_history"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	store          storage.Store
	identities     *authclient.Client
	grants         invite.GrantConfig
	resourceSecret string
}

// NewHandler creates the rooms HTTP routes on top of the given store.
//
// resourceSecret guards the internal membership oracle, which sibling
// services query with X-Resource-Secret.
func NewHandler(store storage.Store, identities *authclient.Client, grants invite.GrantConfig, resourceSecret string) http.Handler {
	h := &handler{
		store:          store,
		identities:     identities,
		grants:         grants,
		resourceSecret: strings.TrimSpace(resourceSecret),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("POST /rooms", h.handleCreateRoom)
	mux.HandleFunc("GET /rooms", h.handleListRooms)
	mux.HandleFunc("POST /rooms/{id}/invite", h.handleInvite)
	mux.HandleFunc("POST /rooms/{id}/grants", h.handleIssueGrant)
	mux.HandleFunc("POST /rooms/join", h.handleJoin)
	mux.HandleFunc("GET /internal/rooms/{id}/members/{userID}", h.handleMembershipQuery)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("rooms: encode response: %v", err)
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		writeJSON(w, domainErr.Code.HTTPStatus(), errorResponse{Error: domainErr.Message})
		return
	}
	log.Printf("rooms: internal error: %v", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func toRoomPayload(r room.Room) roomPayload {
	return roomPayload{
		ID:                     r.ID,
		Name:                   r.Name,
		OwnerID:                r.OwnerID,
		AllowHistoryForInvited: r.AllowHistoryForInvited,
		CreatedAt:              r.CreatedAt.UnixMilli(),
	}
}

// requireBearer resolves the caller's identity through auth introspection.
func (h *handler) requireBearer(w http.ResponseWriter, r *http.Request) (authclient.Identity, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
		return authclient.Identity{}, false
	}
	identity, err := h.identities.Resolve(r.Context(), token)
	if err != nil {
		if errors.Is(err, authclient.ErrUnauthorized) {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
			return authclient.Identity{}, false
		}
		log.Printf("rooms: resolve identity: %v", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "auth service unavailable"})
		return authclient.Identity{}, false
	}
	return identity, true
}

// requireOwnedRoom loads the room from the path and checks the caller owns it.
func (h *handler) requireOwnedRoom(w http.ResponseWriter, r *http.Request, ownerID string) (room.Room, bool) {
	roomID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || roomID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid room id"})
		return room.Room{}, false
	}
	record, err := h.store.GetRoom(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "room not found"})
			return room.Room{}, false
		}
		writeDomainError(w, err)
		return room.Room{}, false
	}
	if record.OwnerID != ownerID {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "room owner required"})
		return room.Room{}, false
	}
	return record, true
}

func (h *handler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireBearer(w, r)
	if !ok {
		return
	}

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	record, err := room.New(req.Name, identity.ID, req.AllowHistoryForInvited, nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	created, err := h.store.CreateRoom(r.Context(), record)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// The owner always sees history; listed members inherit the room policy.
	if err := h.addMember(r, room.Member{RoomID: created.ID, UserID: identity.ID, CanSeeHistory: true}); err != nil {
		writeDomainError(w, err)
		return
	}
	for _, memberID := range req.Members {
		memberID = strings.TrimSpace(memberID)
		if memberID == "" || memberID == identity.ID {
			continue
		}
		member := room.Member{RoomID: created.ID, UserID: memberID, CanSeeHistory: created.AllowHistoryForInvited}
		if err := h.addMember(r, member); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, toRoomPayload(created))
}

// addMember inserts a membership, tolerating records that already exist.
func (h *handler) addMember(r *http.Request, m room.Member) error {
	err := h.store.AddMember(r.Context(), m)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil
	}
	return err
}

func (h *handler) handleListRooms(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireBearer(w, r)
	if !ok {
		return
	}
	rooms, err := h.store.ListRoomsForUser(r.Context(), identity.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	payload := make([]roomPayload, 0, len(rooms))
	for _, record := range rooms {
		payload = append(payload, toRoomPayload(record))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *handler) handleInvite(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireBearer(w, r)
	if !ok {
		return
	}
	record, ok := h.requireOwnedRoom(w, r, identity.ID)
	if !ok {
		return
	}

	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id is required"})
		return
	}
	canSeeHistory := record.AllowHistoryForInvited
	if req.CanSeeHistory != nil {
		canSeeHistory = *req.CanSeeHistory
	}

	member := room.Member{RoomID: record.ID, UserID: userID, CanSeeHistory: canSeeHistory}
	if err := h.addMember(r, member); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, memberPayload{
		RoomID:        member.RoomID,
		UserID:        member.UserID,
		CanSeeHistory: member.CanSeeHistory,
	})
}

func (h *handler) handleIssueGrant(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireBearer(w, r)
	if !ok {
		return
	}
	record, ok := h.requireOwnedRoom(w, r, identity.ID)
	if !ok {
		return
	}

	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id is required"})
		return
	}
	canSeeHistory := record.AllowHistoryForInvited
	if req.CanSeeHistory != nil {
		canSeeHistory = *req.CanSeeHistory
	}

	jwtID, err := id.NewID()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	grant, err := invite.Sign(record.ID, userID, canSeeHistory, jwtID, h.grants)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, grantResponse{Grant: grant})
}

func (h *handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireBearer(w, r)
	if !ok {
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	claims, err := invite.Validate(req.Grant, identity.ID, h.grants)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	record, err := h.store.GetRoom(r.Context(), claims.RoomID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeDomainError(w, apperrors.New(apperrors.CodeInviteGrantInvalid, "grant room is gone"))
			return
		}
		writeDomainError(w, err)
		return
	}

	// jti is spent before the membership insert so a replayed grant fails
	// even when the first redemption also added the member.
	if err := h.store.MarkGrantRedeemed(r.Context(), claims.JWTID, time.Now().UTC()); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			writeDomainError(w, apperrors.New(apperrors.CodeInviteGrantUsed, "grant already redeemed"))
			return
		}
		writeDomainError(w, err)
		return
	}
	member := room.Member{RoomID: record.ID, UserID: identity.ID, CanSeeHistory: claims.CanSeeHistory}
	if err := h.addMember(r, member); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRoomPayload(record))
}

func (h *handler) handleMembershipQuery(w http.ResponseWriter, r *http.Request) {
	if h.resourceSecret == "" || r.Header.Get("X-Resource-Secret") != h.resourceSecret {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "resource secret required"})
		return
	}

	roomID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	userID := strings.TrimSpace(r.PathValue("userID"))
	if err != nil || roomID <= 0 || userID == "" {
		// Malformed lookups read as non-members rather than errors so the
		// oracle never leaks which rooms exist.
		writeJSON(w, http.StatusOK, membershipResponse{})
		return
	}

	member, err := h.store.GetMember(r.Context(), roomID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusOK, membershipResponse{})
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, membershipResponse{
		Member:        true,
		CanSeeHistory: member.CanSeeHistory,
	})
}
