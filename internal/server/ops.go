package server

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/homescout/homescout/internal/telemetry"
)

// OpsHandler exposes operational endpoints (performance summaries, dashboard).
type OpsHandler struct {
	tele *telemetry.Telemetry
}

func NewOpsHandler(tele *telemetry.Telemetry) *OpsHandler { return &OpsHandler{tele: tele} }

// Register mounts ops endpoints under the provided group.
func (h *OpsHandler) Register(g *echo.Group) {
	g.GET("/performance", h.performance)
	g.GET("/dashboard", h.dashboard)
}

// performance returns the in-process metrics snapshot and cost summary.
func (h *OpsHandler) performance(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"metrics": h.tele.GetMetrics(),
		"costs":   h.tele.GetCostSummary(),
		"report":  h.tele.GetPerformanceReport(),
	})
}

// dashboard renders key metrics as a minimal HTML page without JS.
func (h *OpsHandler) dashboard(c echo.Context) error {
	metrics := h.tele.GetMetrics()
	costs := h.tele.GetCostSummary()
	report := h.tele.GetPerformanceReport()
	var b strings.Builder
	b.WriteString("<!doctype html><html><head><meta charset=\"utf-8\"><meta name=\"viewport\" content=\"width=device-width, initial-scale=1\"><title>Ops Dashboard</title></head><body style=\"font-family:system-ui,-apple-system,Segoe UI,Roboto,Helvetica,Arial,sans-serif; color:#e5e7eb; background:#0f172a;\">")
	b.WriteString("<div style=\"max-width:960px;margin:24px auto;padding:0 16px\">")
	b.WriteString("<h1 style=\"font-size:18px;font-weight:600;margin-bottom:8px\">Operations Dashboard</h1>")
	b.WriteString("<pre style=\"background:#0b1220;border:1px solid #1f2937;border-radius:8px;padding:12px;overflow:auto\"><code>")
	if enc, err := json.MarshalIndent(metrics, "", "  "); err == nil {
		b.Write(enc)
	}
	b.WriteString("</code></pre>")
	b.WriteString("<h2 style=\"font-size:14px;font-weight:600;margin:16px 0 8px\">Costs</h2>")
	b.WriteString("<pre style=\"background:#0b1220;border:1px solid #1f2937;border-radius:8px;padding:12px;overflow:auto\"><code>")
	if enc, err := json.MarshalIndent(costs, "", "  "); err == nil {
		b.Write(enc)
	}
	b.WriteString("</code></pre>")
	if report != "" {
		b.WriteString("<h2 style=\"font-size:14px;font-weight:600;margin:16px 0 8px\">Report</h2>")
		b.WriteString("<pre style=\"background:#0b1220;border:1px solid #1f2937;border-radius:8px;padding:12px;overflow:auto\">")
		b.WriteString(template.HTMLEscapeString(report))
		b.WriteString("</pre>")
	}
	b.WriteString("</div></body></html>")
	return c.HTML(http.StatusOK, b.String())
}
