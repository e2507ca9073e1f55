package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/aging"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("LEDGER_REVENUE_ACCOUNT", "4100")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, DriverMemory, cfg.StorageDriver)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 3, cfg.LedgerPostingMaxRetries)
	require.Equal(t, 5*time.Minute, cfg.AgingCacheTTL)
	require.Equal(t, "4100", cfg.AccountMappings()[mappings.KeyRevenue])
	require.Equal(t, "1000", cfg.AccountMappings()[mappings.KeyCash])

	set, err := cfg.Currencies()
	require.NoError(t, err)
	require.EqualValues(t, "USD", set.Default())
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "sqlite")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("LEDGER_DEFAULT_CURRENCY", "DOLLARS")
	_, err = LoadConfig()
	require.Error(t, err)

	t.Setenv("LEDGER_DEFAULT_CURRENCY", "USD")
	t.Setenv("LEDGER_POSTING_MAX_RETRIES", "-1")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"msg":"shown"`)
	require.Contains(t, out, `"k":"v"`)
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	t.Setenv("STORAGE_DRIVER", "memory")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	cfg.DocumentLockWait = 200 * time.Millisecond
	return cfg
}

type testApp struct {
	router   http.Handler
	services *Services
}

func newTestApp(t *testing.T, deps Dependencies, checks map[string]HealthCheck) testApp {
	t.Helper()
	cfg := testConfig(t)
	services, err := NewServices(cfg, deps)
	require.NoError(t, err)
	_, err = services.Ledger.SeedChart(context.Background(), accounting.DefaultChart, "seeder")
	require.NoError(t, err)

	router := NewRouter(RouterParams{
		Config:            cfg,
		AccountingHandler: accounting.NewHandler(nil, services.Ledger),
		SubledgerHandler:  subledger.NewHandler(nil, services.Subledger),
		AgingHandler:      aging.NewHandler(nil, services.Aging),
		JobHandler:        jobs.NewHandler(nil, nil, nil),
		Metrics:           deps.Metrics,
		HealthChecks:      checks,
	})
	return testApp{router: router, services: services}
}

func call(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	req.RemoteAddr = "192.0.2.10:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterInvoiceToCashFlow(t *testing.T) {
	metrics := observability.NewMetrics()
	app := newTestApp(t, Dependencies{Metrics: metrics}, nil)

	rec := call(t, app.router, http.MethodPost, "/api/v1/receivables", `{
		"counterparty": {"id": "C-1", "name": "Initech"},
		"issue": true,
		"lines": [{"description": "consulting", "quantity": 1, "unit_price": 500, "tax_rate": 10}]
	}`, ActorHeader, "alice")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	var doc subledger.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, "550.00", doc.Total.String())
	require.Equal(t, "alice", doc.CreatedBy)

	rec = call(t, app.router, http.MethodPost, "/api/v1/receivables/1/payments", `{"amount": 550}`, ActorHeader, "alice")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	receivable, err := app.services.Ledger.GetAccountByNumber(context.Background(), "1200")
	require.NoError(t, err)
	require.True(t, receivable.Balance.IsZero())
	cash, err := app.services.Ledger.GetAccountByNumber(context.Background(), "1000")
	require.NoError(t, err)
	require.Equal(t, "550.00", cash.Balance.String())

	rec = call(t, app.router, http.MethodGet, "/api/v1/reports/trial-balance", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, app.router, http.MethodGet, "/api/v1/receivables/aging", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report aging.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.True(t, report.Total.IsZero())

	rec = call(t, app.router, http.MethodGet, "/api/v1/aging/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, app.router, http.MethodGet, "/jobs/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, app.router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `odyssey_ledger_payments_applied_total{kind="receivable"} 1`)
	require.Contains(t, body, `odyssey_ledger_journals_posted_total{reference_type="payment"} 1`)
	require.Contains(t, body, `route="/api/v1/receivables/{id}/payments"`)
}

func TestRouterRejectsOversizedActor(t *testing.T) {
	app := newTestApp(t, Dependencies{}, nil)
	rec := call(t, app.router, http.MethodGet, "/api/v1/accounts", "", ActorHeader, strings.Repeat("a", maxActorLength+1))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, app.router, http.MethodGet, "/api/v1/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzReportsChecks(t *testing.T) {
	healthy := newTestApp(t, Dependencies{}, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	rec := call(t, healthy.router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","checks":{"postgres":"ok"}}`, rec.Body.String())

	degraded := newTestApp(t, Dependencies{}, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	rec = call(t, degraded.router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "degraded")
}

func TestServicesWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	app := newTestApp(t, Dependencies{Redis: client}, nil)
	require.NotNil(t, app.services.AgingCache)

	rec := call(t, app.router, http.MethodPost, "/api/v1/payables", `{
		"counterparty": {"id": "V-1", "name": "Acme Supplies"},
		"issue": true,
		"lines": [{"quantity": 2, "unit_price": 40}]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = call(t, app.router, http.MethodGet, "/api/v1/payables/aging", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report aging.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, "80.00", report.Total.String())

	version, err := app.services.AgingCache.Version(context.Background())
	require.NoError(t, err)

	rec = call(t, app.router, http.MethodPost, "/api/v1/payables/1/payments", `{"amount": 30}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	bumped, err := app.services.AgingCache.Version(context.Background())
	require.NoError(t, err)
	require.Greater(t, bumped, version)

	rec = call(t, app.router, http.MethodGet, "/api/v1/payables/aging", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, "50.00", report.Total.String())
}
