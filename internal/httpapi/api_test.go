package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"civicdesk.org/internal/auth"
	"civicdesk.org/internal/complaint"
	"civicdesk.org/internal/escalate"
	"civicdesk.org/internal/feed"
)

// fakeAuthStore is an in-memory auth.Store for HTTP tests.
type fakeAuthStore struct {
	mu        sync.Mutex
	byID      map[string]*auth.Principal
	byEmail   map[string]*auth.Principal
	whitelist map[string]bool
	consumed  map[string]bool
}

func newFakeAuthStore() *fakeAuthStore {
	return &fakeAuthStore{
		byID:      make(map[string]*auth.Principal),
		byEmail:   make(map[string]*auth.Principal),
		whitelist: make(map[string]bool),
		consumed:  make(map[string]bool),
	}
}

func (s *fakeAuthStore) CreatePrincipal(_ context.Context, p *auth.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[p.Email]; ok {
		return auth.ErrAlreadyExists
	}
	cp := *p
	s.byID[p.ID] = &cp
	s.byEmail[p.Email] = &cp
	return nil
}

func (s *fakeAuthStore) FindPrincipal(_ context.Context, id string) (*auth.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeAuthStore) FindPrincipalByEmail(_ context.Context, email string) (*auth.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byEmail[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeAuthStore) UpdateRole(_ context.Context, id string, role auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	p.Role = role
	return nil
}

func (s *fakeAuthStore) UpdatePrincipalStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	p.Status = status
	return nil
}

func (s *fakeAuthStore) UpdatePassword(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	p.PasswordHash = hash
	return nil
}

func (s *fakeAuthStore) MarkEmailVerified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	p.EmailVerified = true
	return nil
}

func (s *fakeAuthStore) Whitelisted(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.whitelist[email], nil
}

func (s *fakeAuthStore) ConsumeSingleUse(_ context.Context, jti string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumed[jti] {
		return auth.ErrAlreadyExists
	}
	s.consumed[jti] = true
	return nil
}

// fakeComplaintStore is an in-memory complaint.Store.
type fakeComplaintStore struct {
	mu         sync.Mutex
	complaints map[string]*complaint.Complaint
	records    map[string][]*complaint.EscalationRecord
}

func newFakeComplaintStore() *fakeComplaintStore {
	return &fakeComplaintStore{
		complaints: make(map[string]*complaint.Complaint),
		records:    make(map[string][]*complaint.EscalationRecord),
	}
}

func (s *fakeComplaintStore) Create(_ context.Context, c *complaint.Complaint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.complaints[c.ID] = &cp
	return nil
}

func (s *fakeComplaintStore) Get(_ context.Context, id string) (*complaint.Complaint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.complaints[id]
	if !ok {
		return nil, complaint.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeComplaintStore) List(_ context.Context) ([]*complaint.Complaint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*complaint.Complaint, 0, len(s.complaints))
	for _, c := range s.complaints {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeComplaintStore) ListUnresolved(ctx context.Context) ([]*complaint.Complaint, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if !c.Resolved() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeComplaintStore) UpdateStatus(_ context.Context, id string, status complaint.Status, resolvedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.complaints[id]
	if !ok {
		return complaint.ErrNotFound
	}
	c.Status = status
	if resolvedAt != nil && c.ResolvedAt == nil {
		c.ResolvedAt = resolvedAt
	}
	return nil
}

func (s *fakeComplaintStore) SetEscalation(_ context.Context, id string, level int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.complaints[id]
	if !ok {
		return complaint.ErrNotFound
	}
	if c.EscalationLevel >= level {
		return complaint.ErrStaleLevel
	}
	c.EscalationLevel = level
	c.LastEscalatedAt = &at
	return nil
}

func (s *fakeComplaintStore) AppendEscalations(_ context.Context, recs []*complaint.EscalationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		cp := *rec
		s.records[rec.ComplaintID] = append(s.records[rec.ComplaintID], &cp)
	}
	return nil
}

func (s *fakeComplaintStore) ListEscalations(_ context.Context, complaintID string) ([]*complaint.EscalationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.records[complaintID]
	out := make([]*complaint.EscalationRecord, 0, len(recs))
	for _, rec := range recs {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

type noopNotifier struct{}

func (noopNotifier) ComplaintEscalated(context.Context, complaint.Complaint, int) error { return nil }
func (noopNotifier) ComplaintResolved(context.Context, complaint.Complaint) error      { return nil }

type testEnv struct {
	api        *API
	server     *httptest.Server
	authStore  *fakeAuthStore
	store      *fakeComplaintStore
	authSvc    *auth.Service
	complaints *complaint.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	authStore := newFakeAuthStore()
	tokens, err := auth.NewTokens("test-secret-0123456789abcdef0123")
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	authSvc, err := auth.NewService(authStore, tokens)
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	store := newFakeComplaintStore()
	complaints, err := complaint.NewService(store, noopNotifier{})
	if err != nil {
		t.Fatalf("complaint.NewService: %v", err)
	}
	engine, err := escalate.NewEngine(store, noopNotifier{})
	if err != nil {
		t.Fatalf("escalate.NewEngine: %v", err)
	}
	sched, err := escalate.NewScheduler(engine)
	if err != nil {
		t.Fatalf("escalate.NewScheduler: %v", err)
	}
	api := New(authSvc, complaints, sched, feed.New(), ReadyProbe{}, "test")
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{api: api, server: srv, authStore: authStore, store: store, authSvc: authSvc, complaints: complaints}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

// loginAs registers (if needed) and logs in, returning an access token.
func (e *testEnv) loginAs(t *testing.T, email, password string, role auth.Role) string {
	t.Helper()
	ctx := context.Background()
	if _, err := e.authStore.FindPrincipalByEmail(ctx, email); err != nil {
		if _, _, err := e.authSvc.Signup(ctx, email, password); err != nil {
			t.Fatalf("signup %s: %v", email, err)
		}
	}
	if role != auth.RoleUser {
		p, err := e.authStore.FindPrincipalByEmail(ctx, email)
		if err != nil {
			t.Fatalf("find %s: %v", email, err)
		}
		if err := e.authStore.UpdateRole(ctx, p.ID, role); err != nil {
			t.Fatalf("elevate %s: %v", email, err)
		}
	}
	pair, _, err := e.authSvc.Login(ctx, email, password)
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return pair.AccessToken
}

func TestSignupLoginAndComplaintFlow(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    "citizen@example.com",
		"password": "hunter2hunter2",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d, body %v", resp.StatusCode, body)
	}
	if body["verification_token"] == "" {
		t.Fatal("signup response missing verification token")
	}

	resp, body = env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    "citizen@example.com",
		"password": "hunter2hunter2",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, body %v", resp.StatusCode, body)
	}
	tokens := body["tokens"].(map[string]any)
	access := tokens["access_token"].(string)

	resp, body = env.do(t, http.MethodPost, "/v1/complaints", access, map[string]any{
		"category":    "roads",
		"description": "pothole on 5th avenue",
		"priority":    "high",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create complaint status = %d, body %v", resp.StatusCode, body)
	}
	created := body["complaint"].(map[string]any)
	id := created["id"].(string)
	if created["owner_email"] != "citizen@example.com" {
		t.Fatalf("complaint not attributed to caller: %v", created)
	}

	resp, body = env.do(t, http.MethodGet, "/v1/complaints/"+id, access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get own complaint status = %d, body %v", resp.StatusCode, body)
	}

	// A different citizen cannot see it, and the response does not reveal
	// that the complaint exists.
	other := env.loginAs(t, "stranger@example.com", "passwordpassword", auth.RoleUser)
	resp, _ = env.do(t, http.MethodGet, "/v1/complaints/"+id, other, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign complaint status = %d, want 404", resp.StatusCode)
	}
}

func TestAnonymousComplaintVisibleToAdminsOnly(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/complaints", "", map[string]any{
		"category":    "noise",
		"description": "construction at night",
		"priority":    "low",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("anonymous create status = %d, body %v", resp.StatusCode, body)
	}
	created := body["complaint"].(map[string]any)
	id := created["id"].(string)
	if _, ok := created["owner_email"]; ok {
		t.Fatalf("anonymous complaint must have no owner: %v", created)
	}

	user := env.loginAs(t, "user@example.com", "passwordpassword", auth.RoleUser)
	resp, _ = env.do(t, http.MethodGet, "/v1/complaints/"+id, user, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("user access to anonymous complaint = %d, want 404", resp.StatusCode)
	}

	admin := env.loginAs(t, "admin@example.com", "passwordpassword", auth.RoleAdmin)
	resp, _ = env.do(t, http.MethodGet, "/v1/complaints/"+id, admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin access to anonymous complaint = %d, want 200", resp.StatusCode)
	}
}

func TestListComplaintsRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/v1/complaints", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list = %d, want 401", resp.StatusCode)
	}

	user := env.loginAs(t, "user@example.com", "passwordpassword", auth.RoleUser)
	resp, _ = env.do(t, http.MethodGet, "/v1/complaints", user, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("user list = %d, want 403", resp.StatusCode)
	}

	admin := env.loginAs(t, "admin@example.com", "passwordpassword", auth.RoleAdmin)
	resp, _ = env.do(t, http.MethodGet, "/v1/complaints", admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin list = %d, want 200", resp.StatusCode)
	}
}

func TestStatusTransitionsForwardOnly(t *testing.T) {
	env := newTestEnv(t)
	admin := env.loginAs(t, "admin@example.com", "passwordpassword", auth.RoleAdmin)

	_, body := env.do(t, http.MethodPost, "/v1/complaints", "", map[string]any{
		"category":    "parks",
		"description": "broken bench",
		"priority":    "medium",
	})
	id := body["complaint"].(map[string]any)["id"].(string)

	resp, body := env.do(t, http.MethodPost, "/v1/complaints/"+id+"/status", admin, map[string]any{"status": "resolved"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve status = %d, body %v", resp.StatusCode, body)
	}
	if body["complaint"].(map[string]any)["resolved_at"] == nil {
		t.Fatal("resolution must stamp resolved_at")
	}

	resp, _ = env.do(t, http.MethodPost, "/v1/complaints/"+id+"/status", admin, map[string]any{"status": "under-review"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("backward transition = %d, want 409", resp.StatusCode)
	}
}

func TestManualSweepEndpoint(t *testing.T) {
	env := newTestEnv(t)
	admin := env.loginAs(t, "admin@example.com", "passwordpassword", auth.RoleAdmin)

	// One complaint well past its 24h high-priority window.
	stale := &complaint.Complaint{
		ID:          "c-stale",
		Category:    "roads",
		Description: "sinkhole",
		Priority:    complaint.PriorityHigh,
		Status:      complaint.StatusNew,
		CreatedAt:   time.Now().UTC().Add(-30 * time.Hour),
	}
	if err := env.store.Create(context.Background(), stale); err != nil {
		t.Fatalf("seed complaint: %v", err)
	}

	resp, body := env.do(t, http.MethodPost, "/v1/escalations/run", admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sweep status = %d, body %v", resp.StatusCode, body)
	}
	if body["escalated"].(float64) != 1 {
		t.Fatalf("expected 1 escalation, got %v", body)
	}

	resp, body = env.do(t, http.MethodGet, "/v1/complaints/c-stale/escalations", admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", resp.StatusCode)
	}
	recs := body["escalations"].([]any)
	if len(recs) != 1 {
		t.Fatalf("expected 1 escalation record, got %d", len(recs))
	}
}

func TestVerifyEmailAndPasswordResetOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	_, body := env.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    "citizen@example.com",
		"password": "originalpassword",
	})
	verify := body["verification_token"].(string)

	resp, _ := env.do(t, http.MethodPost, "/v1/auth/verify-email", "", map[string]any{"token": verify})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPost, "/v1/auth/verify-email", "", map[string]any{"token": verify})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("second redemption = %d, want 401", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodPost, "/v1/auth/password-reset", "", map[string]any{"email": "citizen@example.com"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("reset request = %d", resp.StatusCode)
	}
	reset := body["reset_token"].(string)

	resp, _ = env.do(t, http.MethodPost, "/v1/auth/password-reset/confirm", "", map[string]any{
		"token":        reset,
		"new_password": "rotatedpassword",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset confirm = %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    "citizen@example.com",
		"password": "rotatedpassword",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login with new password = %d", resp.StatusCode)
	}

	// Requesting a reset for an unknown account discloses nothing.
	resp, body = env.do(t, http.MethodPost, "/v1/auth/password-reset", "", map[string]any{"email": "ghost@example.com"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("unknown email reset request = %d, want 202", resp.StatusCode)
	}
	if _, ok := body["reset_token"]; ok {
		t.Fatal("unknown email must not yield a reset token")
	}
}

func TestRoleChangeRequiresSuperadminAndWhitelist(t *testing.T) {
	env := newTestEnv(t)
	env.loginAs(t, "target@example.com", "passwordpassword", auth.RoleUser)
	admin := env.loginAs(t, "admin@example.com", "passwordpassword", auth.RoleAdmin)
	super := env.loginAs(t, "root@example.com", "passwordpassword", auth.RoleSuperadmin)

	resp, _ := env.do(t, http.MethodPost, "/v1/users/role", admin, map[string]any{
		"email": "target@example.com", "role": "admin",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("admin promoting = %d, want 403", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/v1/users/role", super, map[string]any{
		"email": "target@example.com", "role": "admin",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-whitelisted promotion = %d, want 403", resp.StatusCode)
	}

	env.authStore.whitelist["target@example.com"] = true
	resp, body := env.do(t, http.MethodPost, "/v1/users/role", super, map[string]any{
		"email": "target@example.com", "role": "admin",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("whitelisted promotion = %d, body %v", resp.StatusCode, body)
	}
	if body["principal"].(map[string]any)["role"] != "admin" {
		t.Fatalf("role not updated: %v", body)
	}
}

func TestSuspendedAccountCannotLogin(t *testing.T) {
	env := newTestEnv(t)
	env.loginAs(t, "target@example.com", "passwordpassword", auth.RoleUser)
	super := env.loginAs(t, "root@example.com", "passwordpassword", auth.RoleSuperadmin)

	resp, _ := env.do(t, http.MethodPost, "/v1/users/status", super, map[string]any{
		"email": "target@example.com", "status": "suspended",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("suspend = %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    "target@example.com",
		"password": "passwordpassword",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("suspended login = %d, want 401", resp.StatusCode)
	}
}

func TestHealthAndInfo(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp, _ := env.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestMalformedTokenRejected(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/v1/complaints", "not.a.jwt", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token = %d, want 401", resp.StatusCode)
	}
	if body["error"] != "invalid token" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestRefreshTokenCannotAuthorizeRequests(t *testing.T) {
	env := newTestEnv(t)
	env.loginAs(t, "citizen@example.com", "passwordpassword", auth.RoleUser)
	pair, _, err := env.authSvc.Login(context.Background(), "citizen@example.com", "passwordpassword")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resp, _ := env.do(t, http.MethodGet, "/v1/complaints/some-id", pair.RefreshToken, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh token as bearer = %d, want 401", resp.StatusCode)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email": "a@b.c", "password": "x", "extra": true,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field = %d, want 400", resp.StatusCode)
	}
}
