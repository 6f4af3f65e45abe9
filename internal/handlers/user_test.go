package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/egolife/directory/config"
	"github.com/egolife/directory/internal/services"
	"github.com/egolife/directory/internal/testutil"
	"github.com/egolife/directory/types"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*httptest.Server, *testutil.MemIndex) {
	t.Helper()
	memStore := testutil.NewMemStore()
	memIndex := testutil.NewMemIndex()
	svc := services.NewAccountService(memStore, memIndex, zap.NewNop()).
		WithNotifier(testutil.NewMemNotifier(), config.ResetConfig{Secret: "test-secret", TokenTTL: time.Minute})

	router := chi.NewRouter()
	router.Route("/users", func(r chi.Router) {
		UserRouter(r, svc)
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, memIndex
}

func postUser(t *testing.T, baseURL, firstName, username string) types.User {
	t.Helper()
	body := map[string]any{
		"first_name":            firstName,
		"last_name":             "Martin",
		"username":              username,
		"email":                 username + "@example.com",
		"password":              "secret1",
		"password_confirmation": "secret1",
	}
	status, raw := doJSON(t, http.MethodPost, baseURL+"/users", body)
	if status != http.StatusCreated {
		t.Fatalf("create %s: status %d body %s", username, status, raw)
	}
	var resp struct {
		User types.User `json:"user"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp.User
}

func doJSON(t *testing.T, method, url string, body any) (int, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, buf.Bytes()
}

func TestGetUser(t *testing.T) {
	srv, _ := newTestServer(t)
	created := postUser(t, srv.URL, "Alice", "alice")

	status, raw := doJSON(t, http.MethodGet, fmt.Sprintf("%s/users/%d", srv.URL, created.ID), nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %s", status, raw)
	}

	var got types.User
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.DisplayName != "Alice MARTIN" {
		t.Fatalf("display_name = %q", got.DisplayName)
	}
	if strings.Contains(strings.ToLower(string(raw)), "password") {
		t.Fatalf("response leaks password material: %s", raw)
	}
}

func TestGetUserNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	status, _ := doJSON(t, http.MethodGet, srv.URL+"/users/999", nil)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}

	status, _ = doJSON(t, http.MethodGet, srv.URL+"/users/abc", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a malformed id", status)
	}
}

func TestCreateUserValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	status, raw := doJSON(t, http.MethodPost, srv.URL+"/users", map[string]any{
		"first_name": "Alice",
	})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422; body %s", status, raw)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, field := range []string{"last_name", "username", "email", "password"} {
		if resp.Details[field] == "" {
			t.Errorf("missing violation detail for %s: %v", field, resp.Details)
		}
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	srv, _ := newTestServer(t)
	postUser(t, srv.URL, "Alice", "alice")

	status, raw := doJSON(t, http.MethodPost, srv.URL+"/users", map[string]any{
		"first_name":            "Other",
		"last_name":             "Person",
		"username":              "alice",
		"email":                 "other@example.com",
		"password":              "secret1",
		"password_confirmation": "secret1",
	})
	if status != http.StatusConflict {
		t.Fatalf("status = %d, want 409; body %s", status, raw)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Details["username"] == "" {
		t.Fatalf("expected a username detail, got %v", resp.Details)
	}
}

func TestListWithExclusion(t *testing.T) {
	srv, _ := newTestServer(t)
	first := postUser(t, srv.URL, "Anna", "anna")
	postUser(t, srv.URL, "Bert", "bert")
	postUser(t, srv.URL, "Cleo", "cleo")

	url := fmt.Sprintf("%s/users?per_page=2&exclude=%d", srv.URL, first.ID)
	status, raw := doJSON(t, http.MethodGet, url, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %s", status, raw)
	}

	var page types.Page
	if err := json.Unmarshal(raw, &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 2 || len(page.Users) != 2 {
		t.Fatalf("page = %+v, want the two non-excluded records", page)
	}
	if page.Users[0].FirstName != "Bert" || page.Users[1].FirstName != "Cleo" {
		t.Fatalf("unexpected page contents: %s, %s", page.Users[0].FirstName, page.Users[1].FirstName)
	}
}

func TestListByIDs(t *testing.T) {
	srv, _ := newTestServer(t)
	a := postUser(t, srv.URL, "Anna", "anna")
	b := postUser(t, srv.URL, "Bert", "bert")

	url := fmt.Sprintf("%s/users?ids=%d,%d,999", srv.URL, b.ID, a.ID)
	status, raw := doJSON(t, http.MethodGet, url, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %s", status, raw)
	}

	var resp struct {
		Users []types.User `json:"users"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Users) != 2 {
		t.Fatalf("expected 2 records, missing id silently omitted; got %d", len(resp.Users))
	}
	if resp.Users[0].FirstName != "Anna" {
		t.Fatalf("default order should be first_name asc, got %s first", resp.Users[0].FirstName)
	}
}

func TestSearchEndpoint(t *testing.T) {
	srv, memIndex := newTestServer(t)
	alice := postUser(t, srv.URL, "Alice", "alice")
	postUser(t, srv.URL, "Bob", "bob")

	status, raw := doJSON(t, http.MethodGet, srv.URL+"/users/search?q=alice", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %s", status, raw)
	}
	var page types.Page
	if err := json.Unmarshal(raw, &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Users) != 1 || page.Users[0].ID != alice.ID {
		t.Fatalf("search returned %+v, want just alice", page.Users)
	}

	memIndex.FailWith = errors.New("connection refused")
	status, _ = doJSON(t, http.MethodGet, srv.URL+"/users/search?q=alice", nil)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when the index is down", status)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	postUser(t, srv.URL, "Alice", "alice")

	status, raw := doJSON(t, http.MethodPost, srv.URL+"/users/password-reset", map[string]any{
		"email": "alice@example.com",
	})
	if status != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", status, raw)
	}

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/users/password-reset", map[string]any{
		"email": "nobody@example.com",
	})
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for an unknown email", status)
	}
}
