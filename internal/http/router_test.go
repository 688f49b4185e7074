package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/credentia/go-verify-gateway/internal/auth"
	"github.com/credentia/go-verify-gateway/internal/config"
	"github.com/credentia/go-verify-gateway/internal/domain"
	"github.com/credentia/go-verify-gateway/internal/provider"
	"github.com/credentia/go-verify-gateway/internal/repo"
)

const testSecret = "router-test-secret-0123456789abcd"

// stubProvider approves everything and counts invocations, so tests can
// assert that rejected requests never reach the upstream.
type stubProvider struct {
	calls int32
	err   error
}

func (s *stubProvider) Assess(_ context.Context, req provider.Request) (*provider.Assessment, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return &provider.Assessment{
		Verified:   true,
		Confidence: 90,
		Title:      req.Title,
		Issuer:     req.Issuer,
		Details:    "ok",
		Warnings:   []string{},
	}, nil
}

func testConfig() config.Config {
	route := func(max int, window time.Duration, prefix string) config.RouteLimit {
		return config.RouteLimit{MaxRequests: max, Window: window, KeyPrefix: prefix}
	}
	return config.Config{
		GinMode:      gin.TestMode,
		APIBasePath:  "/api/v1",
		MaxBodyBytes: 20 << 20,
		Auth:         config.AuthConfig{JWTSecret: testSecret},
		RateLimit: config.RateLimitConfig{
			Backend: "sqlite",
			Verify:  route(10, time.Hour, "verify"),
			Lookup:  route(20, 5*time.Minute, "lookup"),
			Roles:   route(10, time.Hour, "roles"),
			// Edge limiter off; these tests target the durable quotas.
		},
		OTEL: config.OTELConfig{ServiceName: "gateway-test"},
	}
}

func newTestRouter(t *testing.T, cfg config.Config, p provider.Verifier) (*gin.Engine, *gorm.DB) {
	t.Helper()

	gin.SetMode(gin.TestMode)
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("router_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	r := gin.New()
	RegisterRoutes(r, db, cfg, p)
	return r, db
}

func bearerFor(t *testing.T, subject string) string {
	t.Helper()
	v := auth.NewVerifier(config.AuthConfig{JWTSecret: testSecret})
	tok, err := v.IssueToken(subject, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + tok
}

func doJSON(r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return m
}

func assignRole(t *testing.T, db *gorm.DB, subject string, role domain.Role) {
	t.Helper()
	if err := repo.UpsertSubjectRole(context.Background(), db, subject, role); err != nil {
		t.Fatalf("seed role: %v", err)
	}
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(), &stubProvider{})
	w := doJSON(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestUnknownRouteEnvelope(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(), &stubProvider{})
	w := doJSON(r, http.MethodGet, "/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["code"] != "not_found" || body["request_id"] == "" {
		t.Fatalf("body = %v", body)
	}
}

func TestVerify_HappyPath(t *testing.T) {
	p := &stubProvider{}
	r, db := newTestRouter(t, testConfig(), p)
	assignRole(t, db, "sub-1", domain.RoleCandidate)

	w := doJSON(r, http.MethodPost, "/api/v1/verify", bearerFor(t, "sub-1"),
		map[string]any{"title": "Cloud Architect", "issuer": "Google Cloud", "imageBase64": "aGVsbG8="})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["verified"] != true {
		t.Fatalf("body = %v", body)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "9" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 9", got)
	}
	if n := atomic.LoadInt32(&p.calls); n != 1 {
		t.Fatalf("provider calls = %d", n)
	}
}

func TestVerify_RequiresAuth(t *testing.T) {
	p := &stubProvider{}
	r, _ := newTestRouter(t, testConfig(), p)

	w := doJSON(r, http.MethodPost, "/api/v1/verify", "",
		map[string]any{"title": "t", "issuer": "i"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["code"] != "unauthenticated" || body["verified"] != false {
		t.Fatalf("body = %v", body)
	}
	if n := atomic.LoadInt32(&p.calls); n != 0 {
		t.Fatal("unauthenticated request reached the provider")
	}
}

func TestVerify_GarbageTokenIs401(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(), &stubProvider{})
	w := doJSON(r, http.MethodPost, "/api/v1/verify", "Bearer not.a.token",
		map[string]any{"title": "t", "issuer": "i"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestVerify_WrongRoleIs403(t *testing.T) {
	p := &stubProvider{}
	r, db := newTestRouter(t, testConfig(), p)
	assignRole(t, db, "sub-1", domain.RoleRecruiter)

	w := doJSON(r, http.MethodPost, "/api/v1/verify", bearerFor(t, "sub-1"),
		map[string]any{"title": "t", "issuer": "i"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["code"] != "forbidden" {
		t.Fatalf("body = %v", body)
	}
	if n := atomic.LoadInt32(&p.calls); n != 0 {
		t.Fatal("forbidden request reached the provider")
	}
}

func TestVerify_NoRoleIs403(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(), &stubProvider{})
	w := doJSON(r, http.MethodPost, "/api/v1/verify", bearerFor(t, "sub-1"),
		map[string]any{"title": "t", "issuer": "i"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestVerify_OverlongTitleIsRejectedNotTruncated(t *testing.T) {
	p := &stubProvider{}
	r, db := newTestRouter(t, testConfig(), p)
	assignRole(t, db, "sub-1", domain.RoleCandidate)

	long := strings.Repeat("x", 201)
	w := doJSON(r, http.MethodPost, "/api/v1/verify", bearerFor(t, "sub-1"),
		map[string]any{"title": long, "issuer": "i"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "schema_violation" {
		t.Fatalf("body = %v", body)
	}
	if n := atomic.LoadInt32(&p.calls); n != 0 {
		t.Fatal("rejected request reached the provider")
	}
}

func TestVerify_UnknownFieldIsSchemaViolation(t *testing.T) {
	r, db := newTestRouter(t, testConfig(), &stubProvider{})
	assignRole(t, db, "sub-1", domain.RoleCandidate)

	w := doJSON(r, http.MethodPost, "/api/v1/verify", bearerFor(t, "sub-1"),
		map[string]any{"title": "t", "issuer": "i", "admin": true})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "schema_violation" {
		t.Fatalf("body = %v", body)
	}
}

func TestVerify_MalformedJSONIsInvalidBody(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(), &stubProvider{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "invalid_body" {
		t.Fatalf("body = %v", body)
	}
}

func TestVerify_ProviderRateLimitMapsTo429(t *testing.T) {
	r, db := newTestRouter(t, testConfig(), &stubProvider{err: provider.ErrRateLimited})
	assignRole(t, db, "sub-1", domain.RoleCandidate)

	w := doJSON(r, http.MethodPost, "/api/v1/verify", bearerFor(t, "sub-1"),
		map[string]any{"title": "t", "issuer": "i"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "provider_rate_limited" {
		t.Fatalf("body = %v", body)
	}
}

func TestVerify_ProviderQuotaMapsTo402(t *testing.T) {
	r, db := newTestRouter(t, testConfig(), &stubProvider{err: provider.ErrQuotaExhausted})
	assignRole(t, db, "sub-1", domain.RoleCandidate)

	w := doJSON(r, http.MethodPost, "/api/v1/verify", bearerFor(t, "sub-1"),
		map[string]any{"title": "t", "issuer": "i"})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestVerify_ProviderTimeoutMapsTo504(t *testing.T) {
	r, db := newTestRouter(t, testConfig(), &stubProvider{err: provider.ErrTimeout})
	assignRole(t, db, "sub-1", domain.RoleCandidate)

	w := doJSON(r, http.MethodPost, "/api/v1/verify", bearerFor(t, "sub-1"),
		map[string]any{"title": "t", "issuer": "i"})
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "provider_timeout" {
		t.Fatalf("body = %v", body)
	}
}

func TestVerify_QuotaExhaustionSetsRateLimitHeaders(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Verify.MaxRequests = 2
	r, db := newTestRouter(t, cfg, &stubProvider{})
	assignRole(t, db, "sub-1", domain.RoleCandidate)

	body := map[string]any{"title": "t", "issuer": "i"}
	for i := 0; i < 2; i++ {
		if w := doJSON(r, http.MethodPost, "/api/v1/verify", bearerFor(t, "sub-1"), body); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}

	w := doJSON(r, http.MethodPost, "/api/v1/verify", bearerFor(t, "sub-1"), body)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Fatalf("X-RateLimit-Limit = %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("X-RateLimit-Remaining = %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Reset"); got == "" {
		t.Fatal("X-RateLimit-Reset missing")
	}
	if resp := decodeBody(t, w); resp["code"] != "rate_limited" {
		t.Fatalf("body = %v", resp)
	}
}

func TestVerify_QuotaIsPerSubject(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Verify.MaxRequests = 1
	r, db := newTestRouter(t, cfg, &stubProvider{})
	assignRole(t, db, "a", domain.RoleCandidate)
	assignRole(t, db, "b", domain.RoleCandidate)

	body := map[string]any{"title": "t", "issuer": "i"}
	if w := doJSON(r, http.MethodPost, "/api/v1/verify", bearerFor(t, "a"), body); w.Code != http.StatusOK {
		t.Fatalf("a: status = %d", w.Code)
	}
	if w := doJSON(r, http.MethodPost, "/api/v1/verify", bearerFor(t, "a"), body); w.Code != http.StatusTooManyRequests {
		t.Fatalf("a second: status = %d", w.Code)
	}
	if w := doJSON(r, http.MethodPost, "/api/v1/verify", bearerFor(t, "b"), body); w.Code != http.StatusOK {
		t.Fatalf("b must have its own quota: status = %d", w.Code)
	}
}

func TestLookup_FoundAndMiss(t *testing.T) {
	r, db := newTestRouter(t, testConfig(), &stubProvider{})

	cert := &domain.Certificate{
		OwnerID: "sub-1",
		Title:   "AWS Solutions Architect",
		Issuer:  "Amazon Web Services",
		Status:  domain.CertStatusVerified,
	}
	if err := repo.CreateCertificate(context.Background(), db, cert); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := doJSON(r, http.MethodPost, "/api/v1/certificates/lookup", "",
		map[string]any{"certificateId": cert.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("found: status = %d body = %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["found"] != true {
		t.Fatalf("body = %v", body)
	}

	w = doJSON(r, http.MethodPost, "/api/v1/certificates/lookup", "",
		map[string]any{"certificateId": "3b9e6a9c-8f0e-4ac0-8f0b-59f1d8b3c111"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("miss: status = %d", w.Code)
	}
	body = decodeBody(t, w)
	if body["found"] != false || body["message"] == "" {
		t.Fatalf("miss body = %v", body)
	}
}

func TestLookup_MalformedIDNeverTouchesStore(t *testing.T) {
	r, db := newTestRouter(t, testConfig(), &stubProvider{})

	for _, bad := range []string{"not-a-uuid", "12345", "5f6e7a8b-0000-1000-8000-000000000000"} {
		w := doJSON(r, http.MethodPost, "/api/v1/certificates/lookup", "",
			map[string]any{"certificateId": bad})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("id %q: status = %d", bad, w.Code)
		}
		if body := decodeBody(t, w); body["code"] != "schema_violation" || body["found"] != false {
			t.Fatalf("id %q: body = %v", bad, body)
		}
	}

	// Malformed ids are rejected before the rate limit, so the lookup
	// counter must still be untouched.
	if _, err := repo.GetCounter(context.Background(), db, "lookup:192.0.2.1"); err == nil {
		t.Fatal("lookup counter was consumed for a malformed id")
	}
}

func TestRoles_AssignFlow(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(), &stubProvider{})

	w := doJSON(r, http.MethodPost, "/api/v1/roles", bearerFor(t, "sub-1"),
		map[string]any{"requestedRole": "candidate"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["success"] != true || body["role"] != "candidate" {
		t.Fatalf("body = %v", body)
	}

	// Same role again: idempotent success.
	w = doJSON(r, http.MethodPost, "/api/v1/roles", bearerFor(t, "sub-1"),
		map[string]any{"requestedRole": "candidate"})
	if w.Code != http.StatusOK {
		t.Fatalf("repeat status = %d", w.Code)
	}
}

func TestRoles_InvalidRole(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(), &stubProvider{})

	w := doJSON(r, http.MethodPost, "/api/v1/roles", bearerFor(t, "sub-1"),
		map[string]any{"requestedRole": "admin"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["code"] != "schema_violation" || body["success"] != false {
		t.Fatalf("body = %v", body)
	}
}

func TestRoles_InvalidRoleDoesNotConsumeQuota(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Roles = config.RouteLimit{MaxRequests: 3, Window: time.Hour, KeyPrefix: "roles"}
	r, _ := newTestRouter(t, cfg, &stubProvider{})

	// Exhausting the quota with schema-invalid bodies would lock the
	// subject out for the whole window; rejection must happen first.
	for i := 0; i < 3; i++ {
		w := doJSON(r, http.MethodPost, "/api/v1/roles", bearerFor(t, "sub-1"),
			map[string]any{"requestedRole": "bogus"})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("invalid request %d: status = %d", i, w.Code)
		}
	}

	w := doJSON(r, http.MethodPost, "/api/v1/roles", bearerFor(t, "sub-1"),
		map[string]any{"requestedRole": "candidate"})
	if w.Code != http.StatusOK {
		t.Fatalf("valid request after rejections: status = %d, body = %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["success"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestRoles_RequiresAuth(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(), &stubProvider{})

	w := doJSON(r, http.MethodPost, "/api/v1/roles", "",
		map[string]any{"requestedRole": "candidate"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestCORS_PreflightAllowsAll(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(), &stubProvider{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/certificates/lookup", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent && w.Code != http.StatusOK {
		t.Fatalf("preflight status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("ACAO = %q, want *", got)
	}
}

func TestRequestIDHeaderPresent(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(), &stubProvider{})
	w := doJSON(r, http.MethodGet, "/health", "", nil)
	if got := w.Header().Get("X-Request-ID"); got == "" {
		t.Fatal("X-Request-ID header missing")
	}
}
