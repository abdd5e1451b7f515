package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"tally/internal/core"
	"tally/internal/ledger"
	"tally/internal/log"
)

// Categories every new user starts with.
var defaultCategories = []core.Category{
	{Name: "Salary", Color: "#2e7d32", Type: core.Income, IsDefault: true},
	{Name: "Housing", Color: "#6d4c41", Type: core.Expense, IsDefault: true},
	{Name: "Groceries", Color: "#f9a825", Type: core.Expense, IsDefault: true},
	{Name: "Transport", Color: "#1565c0", Type: core.Expense, IsDefault: true},
	{Name: "Health", Color: "#c62828", Type: core.Expense, IsDefault: true},
	{Name: "Leisure", Color: "#6a1b9a", Type: core.Expense, IsDefault: true},
}

type userRequest struct {
	Username string `json:"username"`
	Currency string `json:"currency"`
}

type userJSON struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Currency string `json:"currency"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", core.ErrValidation))
		return
	}
	if req.Currency == "" {
		req.Currency = "EUR"
	}
	u := core.User{Username: req.Username, Currency: req.Currency}
	if err := u.Validate(); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", core.ErrValidation, err))
		return
	}

	var created core.User
	err := s.store.WithTx(r.Context(), func(st ledger.Store) error {
		var err error
		if created, err = st.CreateUser(r.Context(), u); err != nil {
			return err
		}
		for _, c := range defaultCategories {
			c.UserID = created.ID
			if _, err := st.CreateCategory(r.Context(), c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "User created",
		log.FieldUserID, created.ID,
		"username", created.Username)
	writeJSON(w, http.StatusCreated, userJSON{
		ID:       created.ID,
		Username: created.Username,
		Currency: created.Currency,
	})
}

type categoryRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Type  string `json:"type"`
}

type categoryJSON struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	Type      string `json:"type"`
	IsDefault bool   `json:"is_default"`
}

func toCategoryJSON(c core.Category) categoryJSON {
	return categoryJSON{
		ID:        c.ID,
		Name:      c.Name,
		Color:     c.Color,
		Type:      string(c.Type),
		IsDefault: c.IsDefault,
	}
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cats, err := s.store.CategoriesByUser(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]categoryJSON, 0, len(cats))
	for _, c := range cats {
		out = append(out, toCategoryJSON(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", core.ErrValidation))
		return
	}
	typ := core.TransactionType(req.Type)
	if err := typ.Validate(); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", core.ErrValidation, err))
		return
	}
	if req.Name == "" {
		writeError(w, r, fmt.Errorf("%w: empty category name", core.ErrValidation))
		return
	}

	created, err := s.store.CreateCategory(r.Context(), core.Category{
		UserID: uid,
		Name:   req.Name,
		Color:  req.Color,
		Type:   typ,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryJSON(created))
}
