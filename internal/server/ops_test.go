package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/homescout/homescout/config"
	"github.com/homescout/homescout/internal/telemetry"
)

func opsTelemetry(t *testing.T) *telemetry.Telemetry {
	t.Helper()
	tele := telemetry.NewTelemetry(config.TelemetryConfig{Enabled: true, ServiceName: "homescout-test", CostTracking: true})
	tele.RecordTurnEvent(context.Background(), telemetry.TurnEvent{
		SessionID: "sess-1",
		Turn:      1,
		Duration:  2 * time.Second,
		Success:   true,
		Cost:      0.0125,
	})
	return tele
}

func TestPerformanceEndpointReportsTelemetry(t *testing.T) {
	h := NewOpsHandler(opsTelemetry(t))
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/ops/performance", nil)
	rec := httptest.NewRecorder()

	if err := h.performance(e.NewContext(req, rec)); err != nil {
		t.Fatalf("performance: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var resp struct {
		Metrics struct {
			TotalTurns     int64
			CompletedTurns int64
		} `json:"metrics"`
		Costs struct {
			TotalCost float64
		} `json:"costs"`
		Report string `json:"report"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Metrics.TotalTurns != 1 || resp.Metrics.CompletedTurns != 1 {
		t.Fatalf("unexpected metrics: %+v", resp.Metrics)
	}
	if resp.Report == "" {
		t.Fatalf("expected a non-empty report")
	}
}

func TestDashboardRendersMetrics(t *testing.T) {
	h := NewOpsHandler(opsTelemetry(t))
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/ops/dashboard", nil)
	rec := httptest.NewRecorder()

	if err := h.dashboard(e.NewContext(req, rec)); err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Operations Dashboard", "TotalTurns", "PERFORMANCE REPORT"} {
		if !strings.Contains(body, want) {
			t.Fatalf("dashboard missing %q", want)
		}
	}
}
