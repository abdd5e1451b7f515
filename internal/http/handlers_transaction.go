package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tally/internal/core"
)

type transactionRequest struct {
	Type       string `json:"type"`
	Amount     string `json:"amount"`
	Date       string `json:"date"`
	Note       string `json:"note"`
	CategoryID *int64 `json:"category_id"`
}

type transactionJSON struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	AmountCents int64  `json:"amount_cents"`
	Date        string `json:"date"`
	Note        string `json:"note,omitempty"`
	CategoryID  *int64 `json:"category_id,omitempty"`
	RuleID      *int64 `json:"rule_id,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toTransactionJSON(t core.Transaction) transactionJSON {
	return transactionJSON{
		ID:          t.ID,
		Type:        string(t.Type),
		Amount:      t.Amount.String(),
		AmountCents: t.Amount.Cents,
		Date:        t.Date.String(),
		Note:        t.Note,
		CategoryID:  t.CategoryID,
		RuleID:      t.RuleID,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   t.UpdatedAt.Format(time.RFC3339),
	}
}

func (req transactionRequest) toDomain(userID int64) (core.Transaction, error) {
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	date, err := core.ParseDate(req.Date)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	return core.Transaction{
		UserID:     userID,
		Type:       core.TransactionType(req.Type),
		Amount:     amount,
		Date:       date,
		Note:       req.Note,
		CategoryID: req.CategoryID,
	}, nil
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", core.ErrValidation))
		return
	}
	t, err := req.toDomain(uid)
	if err != nil {
		writeError(w, r, err)
		return
	}

	created, err := s.transactions.Create(r.Context(), t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateBalances(uid)
	writeJSON(w, http.StatusCreated, toTransactionJSON(created))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	month, err := monthParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	txs, err := s.transactions.ListByMonth(r.Context(), uid, month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]transactionJSON, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionJSON(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	t, err := s.transactions.Get(r.Context(), uid, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(t))
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", core.ErrValidation))
		return
	}
	t, err := req.toDomain(uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t.ID = id

	updated, err := s.transactions.Update(r.Context(), t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateBalances(uid)
	writeJSON(w, http.StatusOK, toTransactionJSON(updated))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.transactions.Delete(r.Context(), uid, id); err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateBalances(uid)
	w.WriteHeader(http.StatusNoContent)
}
