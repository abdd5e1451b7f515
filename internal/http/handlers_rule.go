package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"tally/internal/core"
	"tally/internal/ledger"
)

type ruleRequest struct {
	Type       string `json:"type"`
	Amount     string `json:"amount"`
	Note       string `json:"note"`
	CategoryID *int64 `json:"category_id"`
	Frequency  string `json:"frequency"`
	Interval   int    `json:"interval"`
	AnchorDate string `json:"anchor_date"`
}

type ruleJSON struct {
	ID               int64   `json:"id"`
	Type             string  `json:"type"`
	Amount           string  `json:"amount"`
	AmountCents      int64   `json:"amount_cents"`
	Note             string  `json:"note,omitempty"`
	CategoryID       *int64  `json:"category_id,omitempty"`
	Frequency        string  `json:"frequency"`
	Interval         int     `json:"interval"`
	AnchorDate       string  `json:"anchor_date"`
	NextDue          string  `json:"next_due"`
	LastMaterialized *string `json:"last_materialized,omitempty"`
	Active           bool    `json:"active"`
}

func toRuleJSON(r core.RecurringRule) ruleJSON {
	out := ruleJSON{
		ID:          r.ID,
		Type:        string(r.Type),
		Amount:      r.Amount.String(),
		AmountCents: r.Amount.Cents,
		Note:        r.Note,
		CategoryID:  r.CategoryID,
		Frequency:   string(r.Frequency),
		Interval:    r.Interval,
		AnchorDate:  r.AnchorDate.String(),
		NextDue:     r.NextDue.String(),
		Active:      r.Active,
	}
	if r.LastMaterialized != nil {
		s := r.LastMaterialized.String()
		out.LastMaterialized = &s
	}
	return out
}

func (req ruleRequest) toDomain(userID int64) (core.RecurringRule, error) {
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	anchor, err := core.ParseDate(req.AnchorDate)
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	interval := req.Interval
	if interval == 0 {
		interval = 1
	}
	return core.RecurringRule{
		UserID:     userID,
		Type:       core.TransactionType(req.Type),
		Amount:     amount,
		Note:       req.Note,
		CategoryID: req.CategoryID,
		Frequency:  core.Frequency(req.Frequency),
		Interval:   interval,
		AnchorDate: anchor,
	}, nil
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", core.ErrValidation))
		return
	}
	rule, err := req.toDomain(uid)
	if err != nil {
		writeError(w, r, err)
		return
	}

	created, err := s.rules.Create(r.Context(), rule)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRuleJSON(created))
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rules, err := s.rules.List(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]ruleJSON, 0, len(rules))
	for _, rule := range rules {
		out = append(out, toRuleJSON(rule))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
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
	rule, err := s.rules.Get(r.Context(), uid, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleJSON(rule))
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
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
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", core.ErrValidation))
		return
	}
	rule, err := req.toDomain(uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rule.ID = id

	updated, err := s.rules.Update(r.Context(), rule)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleJSON(updated))
}

func (s *Server) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
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
	if err := s.rules.Deactivate(r.Context(), uid, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type materializeJSON struct {
	RunID               string `json:"run_id"`
	TransactionsCreated int    `json:"transactions_created"`
	RulesProcessed      int    `json:"rules_processed"`
	ProcessedAt         string `json:"processed_at"`
}

// handleMaterialize triggers an on-demand materialization run scoped to the
// caller. The periodic worker covers everyone else.
func (s *Server) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	report, err := s.materializer.Run(r.Context(), ledger.Scope{UserID: uid})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateBalances(uid)
	writeJSON(w, http.StatusOK, materializeJSON{
		RunID:               report.RunID,
		TransactionsCreated: report.TransactionsCreated,
		RulesProcessed:      report.RulesProcessed,
		ProcessedAt:         report.ProcessedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}
