package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgAuth "github.com/agrilink/agrilink-backend/pkg/auth"
	"github.com/agrilink/agrilink-backend/pkg/auth/session"
	"github.com/agrilink/agrilink-backend/pkg/config"
	"github.com/agrilink/agrilink-backend/pkg/enums"
	"github.com/agrilink/agrilink-backend/pkg/logger"
)

type fakeSessions struct{}

func (fakeSessions) HasSession(ctx context.Context, accessID string) (bool, error) {
	return true, nil
}

func (fakeSessions) Rotate(ctx context.Context, oldAccessID, provided string) (string, string, error) {
	return "", "", nil
}

func (fakeSessions) Revoke(ctx context.Context, accessID string) error {
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev", Port: "8080"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60},
	}
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard})
	return NewRouter(testConfig(), logg, nil, nil, fakeSessions{}, Services{})
}

func TestRouterHealthLive(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if rec.Header().Get("X-AgriLink-Env") != "dev" {
		t.Fatalf("expected env header, got %q", rec.Header().Get("X-AgriLink-Env"))
	}
}

func TestRouterRejectsUnauthenticated(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/api/v1/wallet/balance", "/api/v1/me", "/api/v1/inventory/mine"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 got %d", path, rec.Code)
		}
	}
}

func TestRouterAdminRoutesRequireAdminRole(t *testing.T) {
	router := newTestRouter(t)
	cfg := testConfig()

	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Alias:  "SunriseFields7",
		Role:   enums.RoleTrader,
		JTI:    session.NewAccessID(),
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/settings", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}
