package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
)

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", common.ErrValidation, err)
	}
	return nil
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := s.services.Conversations.List(r.Context(), identity(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []models.SidebarConversation{}
	}
	writeJSON(w, http.StatusOK, list)
}

type createConversationRequest struct {
	Title    string `json:"title"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := s.services.Conversations.Create(r.Context(), identity(r).UserID, req.Title, req.Provider, req.Model)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c.Sidebar(nil))
}

// updateConversationRequest carries optional changes; absent fields are
// left alone. Active can only be set to false.
type updateConversationRequest struct {
	Title  *string       `json:"title"`
	Tags   *[]models.Tag `json:"tags"`
	Active *bool         `json:"active"`
}

func (s *Server) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	var req updateConversationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Active != nil && *req.Active {
		writeError(w, fmt.Errorf("%w: archived conversations cannot be reactivated", common.ErrValidation))
		return
	}

	ctx, userID, id := r.Context(), identity(r).UserID, r.PathValue("id")
	if req.Title != nil {
		if err := s.services.Conversations.Rename(ctx, userID, id, *req.Title); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Tags != nil {
		if _, err := s.services.Conversations.SetTags(ctx, userID, id, *req.Tags); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Active != nil {
		if err := s.services.Conversations.Archive(ctx, userID, id); err != nil {
			writeError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Conversations.Delete(r.Context(), identity(r).UserID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type balanceResponse struct {
	Scope   string `json:"scope"`
	Balance int64  `json:"balance"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	scope, err := identity(r).Scope(r.URL.Query().Get("scope"))
	if err != nil {
		writeError(w, err)
		return
	}
	balance, err := s.services.Ledger.Balance(r.Context(), scope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Scope: scope.String(), Balance: int64(balance)})
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type entryResponse struct {
	Kind          models.EntryKind `json:"kind"`
	Amount        int64            `json:"amount"`
	BalanceAfter  int64            `json:"balance_after"`
	ReservationID string           `json:"reservation_id,omitempty"`
	Note          string           `json:"note,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope, err := identity(r).Scope(q.Get("scope"))
	if err != nil {
		writeError(w, err)
		return
	}
	limit := defaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(w, fmt.Errorf("%w: limit must be between 1 and %d", common.ErrValidation, maxHistoryLimit))
			return
		}
		limit = n
	}
	entries, err := s.services.Ledger.History(r.Context(), scope, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			Kind:          e.Kind,
			Amount:        int64(e.Amount),
			BalanceAfter:  int64(e.BalanceAfter),
			ReservationID: e.ReservationID,
			Note:          e.Note,
			CreatedAt:     e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.services.Catalog.List())
}
