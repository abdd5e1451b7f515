package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"tally/internal/core"
)

type balanceJSON struct {
	Year              int    `json:"year"`
	Month             int    `json:"month"`
	Opening           string `json:"opening"`
	Income            string `json:"income"`
	Expenses          string `json:"expenses"`
	Closing           string `json:"closing"`
	OpeningCents      int64  `json:"opening_cents"`
	IncomeCents       int64  `json:"income_cents"`
	ExpensesCents     int64  `json:"expenses_cents"`
	ClosingCents      int64  `json:"closing_cents"`
	OpeningIsOverride bool   `json:"opening_is_override"`
}

func toBalanceJSON(b core.MonthlyBalance) balanceJSON {
	return balanceJSON{
		Year:              b.Year,
		Month:             b.Month,
		Opening:           b.Opening.String(),
		Income:            b.Income.String(),
		Expenses:          b.Expenses.String(),
		Closing:           b.Closing.String(),
		OpeningCents:      b.Opening.Cents,
		IncomeCents:       b.Income.Cents,
		ExpensesCents:     b.Expenses.Cents,
		ClosingCents:      b.Closing.Cents,
		OpeningIsOverride: b.OpeningIsOverride,
	}
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
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

	key := s.balanceCacheKey(uid, month)
	if b, ok := s.balanceCache.Get(key); ok {
		writeJSON(w, http.StatusOK, toBalanceJSON(b))
		return
	}

	b, err := s.aggregator.Balance(r.Context(), uid, month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.balanceCache.Set(key, b)
	writeJSON(w, http.StatusOK, toBalanceJSON(b))
}

type monthRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

func (s *Server) handleRecomputeBalance(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req monthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", core.ErrValidation))
		return
	}

	b, err := s.aggregator.Recompute(r.Context(), uid, core.Month{Year: req.Year, Month: req.Month})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateBalances(uid)
	writeJSON(w, http.StatusOK, toBalanceJSON(b))
}

type overrideRequest struct {
	Year    int    `json:"year"`
	Month   int    `json:"month"`
	Opening string `json:"opening"`
}

func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", core.ErrValidation))
		return
	}
	opening, err := core.ParseSignedAmount(req.Opening)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", core.ErrValidation, err))
		return
	}

	b, err := s.aggregator.SetOpeningOverride(r.Context(), uid, core.Month{Year: req.Year, Month: req.Month}, opening)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateBalances(uid)
	writeJSON(w, http.StatusOK, toBalanceJSON(b))
}

func (s *Server) handleClearOverride(w http.ResponseWriter, r *http.Request) {
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

	b, err := s.aggregator.ClearOpeningOverride(r.Context(), uid, month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateBalances(uid)
	writeJSON(w, http.StatusOK, toBalanceJSON(b))
}
