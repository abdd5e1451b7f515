package http

import (
	"fmt"
	"net/http"

	"tally/internal/core"
)

type categoryAmountJSON struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	AmountCents int64  `json:"amount_cents"`
}

type summaryJSON struct {
	From          string               `json:"from"`
	To            string               `json:"to"`
	Income        string               `json:"income"`
	Expenses      string               `json:"expenses"`
	Net           string               `json:"net"`
	IncomeCents   int64                `json:"income_cents"`
	ExpensesCents int64                `json:"expenses_cents"`
	NetCents      int64                `json:"net_cents"`
	ByCategory    []categoryAmountJSON `json:"by_category"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	from, err := core.ParseDate(q.Get("from"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid from date", core.ErrValidation))
		return
	}
	to, err := core.ParseDate(q.Get("to"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid to date", core.ErrValidation))
		return
	}

	sum, err := s.analytics.Summarize(r.Context(), uid, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := summaryJSON{
		From:          sum.From.String(),
		To:            sum.To.String(),
		Income:        sum.Income.String(),
		Expenses:      sum.Expenses.String(),
		Net:           sum.Net.String(),
		IncomeCents:   sum.Income.Cents,
		ExpensesCents: sum.Expenses.Cents,
		NetCents:      sum.Net.Cents,
		ByCategory:    make([]categoryAmountJSON, 0, len(sum.ByCategory)),
	}
	for _, c := range sum.ByCategory {
		out.ByCategory = append(out.ByCategory, categoryAmountJSON{
			Name:        c.Name,
			Type:        string(c.Type),
			Amount:      c.Amount.String(),
			AmountCents: c.Amount.Cents,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
