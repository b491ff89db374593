package rest

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/server/http/interceptors"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/store"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/service"
)

const maxBody = 64 << 10

type Handler struct {
	logger    *slog.Logger
	accounts  service.Accounts
	ingester  service.Ingester
	deliverer service.Deliverer
}

func NewHandler(logger *slog.Logger, accounts service.Accounts, ingester service.Ingester, deliverer service.Deliverer) *Handler {
	return &Handler{
		logger:    logger,
		accounts:  accounts,
		ingester:  ingester,
		deliverer: deliverer,
	}
}

// PostActivity ingests one activity update from a game client.
func (h *Handler) PostActivity(w http.ResponseWriter, r *http.Request) {
	userID, _ := interceptors.GetAuthUser(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	update, err := model.DecodeActivity(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := h.ingester.Ingest(r.Context(), userID, update); err != nil {
		// A client reporting for an account it does not hold is treated as unauthenticated.
		if errors.Is(err, service.ErrUnauthorized) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostAccount registers or updates the caller's game account and its in-game friends list.
func (h *Handler) PostAccount(w http.ResponseWriter, r *http.Request) {
	userID, _ := interceptors.GetAuthUser(r.Context())

	var upd service.AccountUpdate
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&upd); err != nil {
		http.Error(w, "malformed account update", http.StatusBadRequest)
		return
	}

	if _, err := h.accounts.CreateOrUpdateAccount(r.Context(), userID, upd); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostRecompute asks for the caller's validated friends list to be rebuilt.
func (h *Handler) PostRecompute(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}
	if !h.accounts.OnFriendsListChanged(r.Context(), acc.AccountHash) {
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GetActivity returns the caller's most recent activity, newest first.
func (h *Handler) GetActivity(w http.ResponseWriter, r *http.Request) {
	userID, _ := interceptors.GetAuthUser(r.Context())
	hash, err := model.ParseAccountHash(chi.URLParam(r, "accountHash"))
	if err != nil {
		http.Error(w, "invalid account hash", http.StatusBadRequest)
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	updates, err := h.ingester.Recent(r.Context(), userID, hash, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if updates == nil {
		updates = []model.ActivityUpdate{}
	}
	writeJSON(w, http.StatusOK, updates)
}

// GetValidatedFriends returns the caller's validated friends list.
func (h *Handler) GetValidatedFriends(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}
	l, err := h.accounts.GetValidatedFriendsList(r.Context(), acc.AccountHash)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if l == nil {
		l = &model.ValidatedFriendsList{AccountHash: acc.AccountHash, Friends: []model.ValidatedFriend{}}
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *Handler) GetConnections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"connections": h.deliverer.Stats().Connections})
}

func (h *Handler) GetStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deliverer.Stats())
}

func (h *Handler) ownedAccount(w http.ResponseWriter, r *http.Request) (*model.RunescapeAccount, bool) {
	userID, _ := interceptors.GetAuthUser(r.Context())
	hash, err := model.ParseAccountHash(chi.URLParam(r, "accountHash"))
	if err != nil {
		http.Error(w, "invalid account hash", http.StatusBadRequest)
		return nil, false
	}

	acc, err := h.accounts.GetAccount(r.Context(), hash)
	switch {
	case err != nil:
		h.writeError(w, err)
		return nil, false
	case acc == nil:
		h.writeError(w, service.ErrAccountNotFound)
		return nil, false
	case acc.UserID != userID:
		h.writeError(w, service.ErrUnauthorized)
		return nil, false
	}
	return acc, true
}

// writeError maps the service sentinels to status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAccount):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrAccountNotFound):
		http.Error(w, "account not found", http.StatusNotFound)
	case errors.Is(err, service.ErrUnauthorized):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, store.ErrConflict):
		http.Error(w, "conflict, retry", http.StatusConflict)
	default:
		h.logger.Error("HTTP_HANDLER_FAILED", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
