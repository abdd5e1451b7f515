package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"tally/internal/ledger/memory"
	"tally/internal/services"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := memory.New()
	agg := services.NewAggregator(store)
	tx := services.NewTransactionService(store, agg, nil)
	rules := services.NewRuleService(store)
	mat := services.NewMaterializer(store, agg)
	an := services.NewAnalytics(store)
	srv := NewServer(":0", store, tx, rules, agg, mat, an)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, path string, userID int64, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != 0 {
		req.Header.Set("X-User-ID", fmt.Sprint(userID))
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rr.Body.String())
	}
	return v
}

func createTestUser(t *testing.T, srv *Server) int64 {
	t.Helper()
	rr := do(t, srv, http.MethodPost, "/users", 0, userRequest{Username: "ada"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create user: status %d, body %s", rr.Code, rr.Body.String())
	}
	return decode[userJSON](t, rr).ID
}

func TestUserFlowAndBalances(t *testing.T) {
	srv := newTestServer(t)
	uid := createTestUser(t, srv)

	rr := do(t, srv, http.MethodGet, "/categories", uid, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list categories: status %d", rr.Code)
	}
	if cats := decode[[]categoryJSON](t, rr); len(cats) != len(defaultCategories) {
		t.Fatalf("expected %d seeded categories, got %d", len(defaultCategories), len(cats))
	}

	rr = do(t, srv, http.MethodPut, "/balance/override", uid, overrideRequest{Year: 2024, Month: 1, Opening: "1000.00"})
	if rr.Code != http.StatusOK {
		t.Fatalf("set override: status %d, body %s", rr.Code, rr.Body.String())
	}

	rr = do(t, srv, http.MethodPost, "/transactions", uid, transactionRequest{Type: "income", Amount: "500.00", Date: "2024-01-10", Note: "salary"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create income: status %d, body %s", rr.Code, rr.Body.String())
	}
	rr = do(t, srv, http.MethodPost, "/transactions", uid, transactionRequest{Type: "expense", Amount: "200.00", Date: "2024-01-20", Note: "rent"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create expense: status %d, body %s", rr.Code, rr.Body.String())
	}

	rr = do(t, srv, http.MethodGet, "/balance?year=2024&month=1", uid, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get balance: status %d, body %s", rr.Code, rr.Body.String())
	}
	jan := decode[balanceJSON](t, rr)
	if jan.OpeningCents != 100000 || jan.ClosingCents != 130000 {
		t.Fatalf("january opening/closing = %d/%d, want 100000/130000", jan.OpeningCents, jan.ClosingCents)
	}
	if !jan.OpeningIsOverride {
		t.Fatalf("january opening should be flagged as an override")
	}

	rr = do(t, srv, http.MethodGet, "/balance?year=2024&month=2", uid, nil)
	feb := decode[balanceJSON](t, rr)
	if feb.OpeningCents != 130000 {
		t.Fatalf("february opening = %d, want 130000", feb.OpeningCents)
	}
}

func TestOverrideAcceptsZeroAndNegativeOpenings(t *testing.T) {
	srv := newTestServer(t)
	uid := createTestUser(t, srv)

	rr := do(t, srv, http.MethodPut, "/balance/override", uid, overrideRequest{Year: 2024, Month: 1, Opening: "0.0"})
	if rr.Code != http.StatusOK {
		t.Fatalf("zero opening: status %d, body %s", rr.Code, rr.Body.String())
	}
	if b := decode[balanceJSON](t, rr); b.OpeningCents != 0 || !b.OpeningIsOverride {
		t.Fatalf("opening = %d (override %v), want 0 pinned", b.OpeningCents, b.OpeningIsOverride)
	}

	rr = do(t, srv, http.MethodPut, "/balance/override", uid, overrideRequest{Year: 2024, Month: 2, Opening: "-250.00"})
	if rr.Code != http.StatusOK {
		t.Fatalf("negative opening: status %d, body %s", rr.Code, rr.Body.String())
	}
	if b := decode[balanceJSON](t, rr); b.OpeningCents != -25000 {
		t.Fatalf("opening = %d, want -25000", b.OpeningCents)
	}

	rr = do(t, srv, http.MethodPut, "/balance/override", uid, overrideRequest{Year: 2024, Month: 3, Opening: "nope"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad opening: status %d, want 422", rr.Code)
	}
}

func TestBalanceCacheInvalidation(t *testing.T) {
	srv := newTestServer(t)
	uid := createTestUser(t, srv)

	do(t, srv, http.MethodPost, "/transactions", uid, transactionRequest{Type: "income", Amount: "100.00", Date: "2024-03-05"})
	rr := do(t, srv, http.MethodGet, "/balance?year=2024&month=3", uid, nil)
	if b := decode[balanceJSON](t, rr); b.ClosingCents != 10000 {
		t.Fatalf("closing = %d, want 10000", b.ClosingCents)
	}

	// Write after a cached read must not serve the stale snapshot.
	do(t, srv, http.MethodPost, "/transactions", uid, transactionRequest{Type: "expense", Amount: "40.00", Date: "2024-03-10"})
	rr = do(t, srv, http.MethodGet, "/balance?year=2024&month=3", uid, nil)
	if b := decode[balanceJSON](t, rr); b.ClosingCents != 6000 {
		t.Fatalf("closing after write = %d, want 6000", b.ClosingCents)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	srv := newTestServer(t)
	uid := createTestUser(t, srv)

	rr := do(t, srv, http.MethodPost, "/transactions", uid, transactionRequest{Type: "expense", Amount: "12.50", Date: "2024-05-01", Note: "coffee"})
	created := decode[transactionJSON](t, rr)

	rr = do(t, srv, http.MethodPut, fmt.Sprintf("/transactions/%d", created.ID), uid, transactionRequest{Type: "expense", Amount: "15.00", Date: "2024-05-02", Note: "coffee"})
	if rr.Code != http.StatusOK {
		t.Fatalf("update: status %d, body %s", rr.Code, rr.Body.String())
	}
	if got := decode[transactionJSON](t, rr); got.AmountCents != 1500 {
		t.Fatalf("updated amount = %d, want 1500", got.AmountCents)
	}

	rr = do(t, srv, http.MethodDelete, fmt.Sprintf("/transactions/%d", created.ID), uid, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rr.Code)
	}
	rr = do(t, srv, http.MethodGet, fmt.Sprintf("/transactions/%d", created.ID), uid, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get deleted: status %d, want 404", rr.Code)
	}
}

func TestRuleEndpoints(t *testing.T) {
	srv := newTestServer(t)
	uid := createTestUser(t, srv)

	rr := do(t, srv, http.MethodPost, "/rules", uid, ruleRequest{Type: "expense", Amount: "9.99", Note: "streaming", Frequency: "monthly", AnchorDate: "2100-01-01"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create rule: status %d, body %s", rr.Code, rr.Body.String())
	}
	rule := decode[ruleJSON](t, rr)
	if rule.NextDue != "2100-01-01" || !rule.Active {
		t.Fatalf("rule cursor/active = %s/%v, want 2100-01-01/true", rule.NextDue, rule.Active)
	}

	// Anchored in the far future, a run finds nothing due.
	rr = do(t, srv, http.MethodPost, "/rules/materialize", uid, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("materialize: status %d, body %s", rr.Code, rr.Body.String())
	}
	report := decode[materializeJSON](t, rr)
	if report.TransactionsCreated != 0 {
		t.Fatalf("transactions_created = %d, want 0", report.TransactionsCreated)
	}
	if report.RunID == "" {
		t.Fatalf("expected a run id")
	}

	rr = do(t, srv, http.MethodDelete, fmt.Sprintf("/rules/%d", rule.ID), uid, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("deactivate: status %d", rr.Code)
	}
	rr = do(t, srv, http.MethodGet, fmt.Sprintf("/rules/%d", rule.ID), uid, nil)
	if got := decode[ruleJSON](t, rr); got.Active {
		t.Fatalf("rule still active after deactivation")
	}
}

func TestSummaryEndpoint(t *testing.T) {
	srv := newTestServer(t)
	uid := createTestUser(t, srv)

	do(t, srv, http.MethodPost, "/transactions", uid, transactionRequest{Type: "income", Amount: "500.00", Date: "2024-01-10"})
	do(t, srv, http.MethodPost, "/transactions", uid, transactionRequest{Type: "expense", Amount: "200.00", Date: "2024-01-20"})

	rr := do(t, srv, http.MethodGet, "/summary?from=2024-01-01&to=2024-12-31", uid, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("summary: status %d, body %s", rr.Code, rr.Body.String())
	}
	sum := decode[summaryJSON](t, rr)
	if sum.IncomeCents != 50000 || sum.ExpensesCents != 20000 || sum.NetCents != 30000 {
		t.Fatalf("summary = %d/%d/%d, want 50000/20000/30000", sum.IncomeCents, sum.ExpensesCents, sum.NetCents)
	}
	found := false
	for _, c := range sum.ByCategory {
		if c.Name == "Uncategorized" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an Uncategorized bucket, got %+v", sum.ByCategory)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	srv := newTestServer(t)
	uid := createTestUser(t, srv)

	cases := []struct {
		name   string
		method string
		path   string
		userID int64
		body   any
		want   int
	}{
		{"missing identity", http.MethodGet, "/transactions", 0, nil, http.StatusUnprocessableEntity},
		{"unknown transaction", http.MethodGet, "/transactions/9999", uid, nil, http.StatusNotFound},
		{"unknown rule", http.MethodGet, "/rules/9999", uid, nil, http.StatusNotFound},
		{"bad month", http.MethodGet, "/balance?year=2024&month=13", uid, nil, http.StatusUnprocessableEntity},
		{"bad amount", http.MethodPost, "/transactions", uid, transactionRequest{Type: "income", Amount: "abc", Date: "2024-01-01"}, http.StatusUnprocessableEntity},
		{"inverted range", http.MethodGet, "/summary?from=2024-02-01&to=2024-01-01", uid, nil, http.StatusUnprocessableEntity},
		{"foreign category", http.MethodPost, "/transactions", uid, transactionRequest{Type: "income", Amount: "1.00", Date: "2024-01-01", CategoryID: ptr(int64(9999))}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, srv, tc.method, tc.path, tc.userID, tc.body)
			if rr.Code != tc.want {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tc.want, rr.Body.String())
			}
		})
	}
}

func TestHealthProbes(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(t, srv, http.MethodGet, path, 0, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rr.Code)
		}
	}
}

func ptr[T any](v T) *T { return &v }
