package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/prepmarket-backend/internal/orders"
	stripewebhook "github.com/angelmondragon/prepmarket-backend/internal/webhooks/stripe"
	pkgAuth "github.com/angelmondragon/prepmarket-backend/pkg/auth"
	"github.com/angelmondragon/prepmarket-backend/pkg/config"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
	"github.com/angelmondragon/prepmarket-backend/pkg/metrics"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type stubOrders struct {
	orders.Service
	order *models.Order
}

func (s stubOrders) Get(_ context.Context, actor orders.Actor, _ uuid.UUID) (*models.Order, error) {
	if !orders.CanView(s.order, actor) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order not visible to this user")
	}
	return s.order, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Env:         "test",
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   100,
			RateWindow:  time.Minute,
		},
		JWT:      config.JWTConfig{Secret: "secret", Issuer: "prepmarket-test"},
		Eventing: config.EventingConfig{RequestIdempotencyTTL: time.Hour},
	}
}

func newTestRouter(t *testing.T, deps Dependencies) (http.Handler, *config.Config) {
	t.Helper()
	cfg := testConfig()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	return NewRouter(cfg, logg, deps), cfg
}

func token(t *testing.T, cfg *config.Config, userID uuid.UUID, role enums.ActorRole) string {
	t.Helper()
	tok, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), time.Hour, pkgAuth.AccessTokenPayload{UserID: userID, Role: role})
	require.NoError(t, err)
	return tok
}

func do(handler http.Handler, method, path, tok, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	handler, _ := newTestRouter(t, Dependencies{DB: stubPinger{}})
	assert.Equal(t, http.StatusOK, do(handler, http.MethodGet, "/health/live", "", "").Code)
	assert.Equal(t, http.StatusOK, do(handler, http.MethodGet, "/health/ready", "", "").Code)

	down, _ := newTestRouter(t, Dependencies{DB: stubPinger{err: context.DeadlineExceeded}})
	assert.Equal(t, http.StatusServiceUnavailable, do(down, http.MethodGet, "/health/ready", "", "").Code)
}

func TestMetricsEndpointExposesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMarketplaceMetrics(reg)
	m.IncOrderCreated("completed")
	handler, _ := newTestRouter(t, Dependencies{Metrics: reg})

	resp := do(handler, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "orders_created_total")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	handler, _ := newTestRouter(t, Dependencies{})
	for _, path := range []string{"/api/v1/wallet", "/api/v1/orders/" + uuid.NewString(), "/api/v1/notifications"} {
		assert.Equal(t, http.StatusUnauthorized, do(handler, http.MethodGet, path, "", "").Code, path)
	}
}

func TestRoleGates(t *testing.T) {
	handler, cfg := newTestRouter(t, Dependencies{})
	customer := token(t, cfg, uuid.New(), enums.ActorRoleCustomer)
	vendor := token(t, cfg, uuid.New(), enums.ActorRoleVendor)

	tests := []struct {
		name string
		path string
		tok  string
	}{
		{"vendor cannot check out", "/api/v1/orders", vendor},
		{"customer cannot accept", "/api/v1/orders/" + uuid.NewString() + "/accept", customer},
		{"customer cannot settle", "/api/v1/wallet/settle", customer},
		{"vendor cannot force cancel", "/api/v1/admin/orders/" + uuid.NewString() + "/cancel", vendor},
		{"customer cannot resolve withdrawals", "/api/v1/admin/withdrawals/" + uuid.NewString() + "/complete", customer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusForbidden, do(handler, http.MethodPost, tt.path, tt.tok, `{}`).Code)
		})
	}
}

func TestOrderDetailThroughRouter(t *testing.T) {
	customerID := uuid.New()
	order := &models.Order{
		ID:           uuid.New(),
		CustomerID:   customerID,
		VendorID:     uuid.New(),
		Status:       enums.OrderStatusPreparing,
		DeliveryCode: "1234",
	}
	handler, cfg := newTestRouter(t, Dependencies{Orders: stubOrders{order: order}})

	resp := do(handler, http.MethodGet, "/api/v1/orders/"+order.ID.String(), token(t, cfg, customerID, enums.ActorRoleCustomer), "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"delivery_code":"1234"`)

	stranger := do(handler, http.MethodGet, "/api/v1/orders/"+order.ID.String(), token(t, cfg, uuid.New(), enums.ActorRoleCustomer), "")
	assert.Equal(t, http.StatusForbidden, stranger.Code)
}

func TestStripeWebhookIsPublicButSigned(t *testing.T) {
	svc, err := stripewebhook.NewService(stripewebhook.ServiceParams{Orders: stubOrders{}})
	require.NoError(t, err)
	handler, _ := newTestRouter(t, Dependencies{StripeWebhooks: svc})

	resp := do(handler, http.MethodPost, "/api/v1/webhooks/stripe", "", `{"id":"evt_1"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.Code, "unconfigured verifier must refuse")
}
