package telemetry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/homescout/homescout/config"
)

// Telemetry provides monitoring and cost tracking for chat turns,
// pipeline stages and external provider calls
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
	mu          sync.RWMutex
}

// Metrics holds various performance metrics
type Metrics struct {
	mu sync.RWMutex
	// Turn metrics
	TotalTurns      int64
	CompletedTurns  int64
	FailedTurns     int64
	PartialTurns    int64
	AverageTurnTime time.Duration

	// Stage metrics
	StageExecutions   map[string]int64
	StageSuccessRates map[string]float64
	StageAverageTimes map[string]time.Duration

	// LLM metrics
	LLMRequests   map[string]int64
	LLMTokensUsed map[string]int64

	// Provider metrics (mapbox, serper, page fetches)
	ProviderRequests     map[string]int64
	ProviderSuccessRates map[string]float64
	ProviderAverageTimes map[string]time.Duration
}

// CostTracker tracks costs across LLM models and operations
type CostTracker struct {
	mu sync.RWMutex
	// Operation costs
	OperationCosts map[string]float64 // operation -> cost

	// Model costs
	ModelCosts map[string]float64 // model -> cost

	// Total costs
	TotalCost   float64
	TotalTokens int64
}

// TurnEvent represents one completed conversational turn
type TurnEvent struct {
	SessionID  string
	Turn       int
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Success    bool
	Partial    bool
	Error      string
	Cost       float64
	TokensUsed int64
	StagesUsed []string
}

// StageEvent represents a single pipeline stage execution
type StageEvent struct {
	SessionID  string
	Stage      string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Success    bool
	Error      string
	Cost       float64
	TokensUsed int64
	ModelUsed  string
}

// ProviderEvent represents an external provider call (geocoder, search API, page fetch)
type ProviderEvent struct {
	Provider  string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Success   bool
	Error     string
	Results   int
}

// NewTelemetry creates a new telemetry instance
func NewTelemetry(config config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		config: config,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			StageExecutions:      make(map[string]int64),
			StageSuccessRates:    make(map[string]float64),
			StageAverageTimes:    make(map[string]time.Duration),
			LLMRequests:          make(map[string]int64),
			LLMTokensUsed:        make(map[string]int64),
			ProviderRequests:     make(map[string]int64),
			ProviderSuccessRates: make(map[string]float64),
			ProviderAverageTimes: make(map[string]time.Duration),
		},
		costTracker: &CostTracker{
			OperationCosts: make(map[string]float64),
			ModelCosts:     make(map[string]float64),
		},
	}

	// Periodic logs can be disabled via config
	if config.Enabled && config.PeriodicLogs {
		go t.startMetricsCollection()
		go t.startCostReporting()
	}

	return t
}

// RecordTurnEvent records a completed conversational turn
func (t *Telemetry) RecordTurnEvent(ctx context.Context, event TurnEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalTurns++
	if event.Success {
		t.metrics.CompletedTurns++
	} else {
		t.metrics.FailedTurns++
	}
	if event.Partial {
		t.metrics.PartialTurns++
	}

	// Update average turn time
	if t.metrics.TotalTurns == 1 {
		t.metrics.AverageTurnTime = event.Duration
	} else {
		total := t.metrics.AverageTurnTime * time.Duration(t.metrics.TotalTurns-1)
		t.metrics.AverageTurnTime = (total + event.Duration) / time.Duration(t.metrics.TotalTurns)
	}

	for _, stage := range event.StagesUsed {
		t.metrics.StageExecutions[stage]++
	}

	t.costTracker.TotalCost += event.Cost
	t.costTracker.TotalTokens += event.TokensUsed

	t.logger.Printf("Turn Event: Session=%s, Turn=%d, Success=%t, Partial=%t, Duration=%v, Cost=$%.4f, Tokens=%d",
		event.SessionID, event.Turn, event.Success, event.Partial, event.Duration, event.Cost, event.TokensUsed)
}

// RecordStageEvent records a pipeline stage execution
func (t *Telemetry) RecordStageEvent(ctx context.Context, event StageEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.StageExecutions[event.Stage]++

	// Update success rate
	currentSuccess := t.metrics.StageSuccessRates[event.Stage] * float64(t.metrics.StageExecutions[event.Stage]-1)
	if event.Success {
		currentSuccess += 1.0
	}
	t.metrics.StageSuccessRates[event.Stage] = currentSuccess / float64(t.metrics.StageExecutions[event.Stage])

	// Update average time
	currentExecutions := t.metrics.StageExecutions[event.Stage]
	currentAvg := t.metrics.StageAverageTimes[event.Stage]
	if currentExecutions == 1 {
		t.metrics.StageAverageTimes[event.Stage] = event.Duration
	} else {
		total := currentAvg * time.Duration(currentExecutions-1)
		t.metrics.StageAverageTimes[event.Stage] = (total + event.Duration) / time.Duration(currentExecutions)
	}

	if event.ModelUsed != "" {
		t.metrics.LLMRequests[event.ModelUsed]++
		t.metrics.LLMTokensUsed[event.ModelUsed] += event.TokensUsed
		t.costTracker.ModelCosts[event.ModelUsed] += event.Cost
	}

	t.costTracker.TotalCost += event.Cost
	t.costTracker.TotalTokens += event.TokensUsed
	t.costTracker.OperationCosts[event.Stage] += event.Cost

	t.logger.Printf("Stage Event: Stage=%s, Session=%s, Success=%t, Duration=%v, Cost=$%.4f",
		event.Stage, event.SessionID, event.Success, event.Duration, event.Cost)
}

// RecordProviderEvent records an external provider call
func (t *Telemetry) RecordProviderEvent(ctx context.Context, event ProviderEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.ProviderRequests[event.Provider]++

	// Update success rate
	currentSuccess := t.metrics.ProviderSuccessRates[event.Provider] * float64(t.metrics.ProviderRequests[event.Provider]-1)
	if event.Success {
		currentSuccess += 1.0
	}
	t.metrics.ProviderSuccessRates[event.Provider] = currentSuccess / float64(t.metrics.ProviderRequests[event.Provider])

	// Update average time
	currentRequests := t.metrics.ProviderRequests[event.Provider]
	currentAvg := t.metrics.ProviderAverageTimes[event.Provider]
	if currentRequests == 1 {
		t.metrics.ProviderAverageTimes[event.Provider] = event.Duration
	} else {
		total := currentAvg * time.Duration(currentRequests-1)
		t.metrics.ProviderAverageTimes[event.Provider] = (total + event.Duration) / time.Duration(currentRequests)
	}

	t.logger.Printf("Provider Event: Provider=%s, Success=%t, Duration=%v, Results=%d",
		event.Provider, event.Success, event.Duration, event.Results)
}

// GetMetrics returns current metrics snapshot
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	// Create a deep copy to avoid race conditions
	metrics := *t.metrics
	metrics.StageExecutions = make(map[string]int64)
	metrics.StageSuccessRates = make(map[string]float64)
	metrics.StageAverageTimes = make(map[string]time.Duration)
	metrics.LLMRequests = make(map[string]int64)
	metrics.LLMTokensUsed = make(map[string]int64)
	metrics.ProviderRequests = make(map[string]int64)
	metrics.ProviderSuccessRates = make(map[string]float64)
	metrics.ProviderAverageTimes = make(map[string]time.Duration)

	for k, v := range t.metrics.StageExecutions {
		metrics.StageExecutions[k] = v
	}
	for k, v := range t.metrics.StageSuccessRates {
		metrics.StageSuccessRates[k] = v
	}
	for k, v := range t.metrics.StageAverageTimes {
		metrics.StageAverageTimes[k] = v
	}
	for k, v := range t.metrics.LLMRequests {
		metrics.LLMRequests[k] = v
	}
	for k, v := range t.metrics.LLMTokensUsed {
		metrics.LLMTokensUsed[k] = v
	}
	for k, v := range t.metrics.ProviderRequests {
		metrics.ProviderRequests[k] = v
	}
	for k, v := range t.metrics.ProviderSuccessRates {
		metrics.ProviderSuccessRates[k] = v
	}
	for k, v := range t.metrics.ProviderAverageTimes {
		metrics.ProviderAverageTimes[k] = v
	}

	return metrics
}

// GetCostSummary returns current cost summary
func (t *Telemetry) GetCostSummary() CostSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	summary := CostSummary{
		TotalCost:      t.costTracker.TotalCost,
		TotalTokens:    t.costTracker.TotalTokens,
		ModelCosts:     make(map[string]float64),
		OperationCosts: make(map[string]float64),
	}

	for k, v := range t.costTracker.ModelCosts {
		summary.ModelCosts[k] = v
	}
	for k, v := range t.costTracker.OperationCosts {
		summary.OperationCosts[k] = v
	}

	return summary
}

// CostSummary provides a summary of costs
type CostSummary struct {
	TotalCost      float64
	TotalTokens    int64
	ModelCosts     map[string]float64
	OperationCosts map[string]float64
}

// startMetricsCollection starts periodic metrics collection
func (t *Telemetry) startMetricsCollection() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		metrics := t.GetMetrics()
		costs := t.GetCostSummary()

		t.logger.Printf("Metrics Snapshot: Turns=%d/%d (partial=%d), AvgTurnTime=%v, TotalCost=$%.4f, TotalTokens=%d",
			metrics.CompletedTurns, metrics.TotalTurns, metrics.PartialTurns,
			metrics.AverageTurnTime, costs.TotalCost, costs.TotalTokens)
	}
}

// startCostReporting starts periodic cost reporting
func (t *Telemetry) startCostReporting() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		costs := t.GetCostSummary()

		t.logger.Printf("Cost Report: Total=$%.4f, Tokens=%d", costs.TotalCost, costs.TotalTokens)

		for model, cost := range costs.ModelCosts {
			t.logger.Printf("  Model %s: $%.4f", model, cost)
		}

		for op, cost := range costs.OperationCosts {
			t.logger.Printf("  Stage %s: $%.4f", op, cost)
		}
	}
}

// Shutdown gracefully shuts down the telemetry system
func (t *Telemetry) Shutdown() {
	t.logger.Println("Shutting down telemetry system...")

	metrics := t.GetMetrics()
	costs := t.GetCostSummary()

	t.logger.Printf("Final Report:")
	t.logger.Printf("  Total Turns: %d", metrics.TotalTurns)
	if metrics.TotalTurns > 0 {
		t.logger.Printf("  Completion Rate: %.2f%%", float64(metrics.CompletedTurns)/float64(metrics.TotalTurns)*100)
	}
	t.logger.Printf("  Average Turn Time: %v", metrics.AverageTurnTime)
	t.logger.Printf("  Total Cost: $%.4f", costs.TotalCost)
	t.logger.Printf("  Total Tokens: %d", costs.TotalTokens)
}

// CalculateCost calculates the cost for a given number of tokens and model
func (t *Telemetry) CalculateCost(inputTokens, outputTokens int64, costPer1KInput, costPer1KOutput float64) float64 {
	inputCost := float64(inputTokens) / 1000.0 * costPer1KInput
	outputCost := float64(outputTokens) / 1000.0 * costPer1KOutput
	return inputCost + outputCost
}

// GetPerformanceReport returns a detailed performance report
func (t *Telemetry) GetPerformanceReport() string {
	metrics := t.GetMetrics()
	costs := t.GetCostSummary()

	completionRate := 0.0
	failureRate := 0.0
	if metrics.TotalTurns > 0 {
		completionRate = float64(metrics.CompletedTurns) / float64(metrics.TotalTurns) * 100
		failureRate = float64(metrics.FailedTurns) / float64(metrics.TotalTurns) * 100
	}

	report := fmt.Sprintf(`
=== PERFORMANCE REPORT ===
Overall Metrics:
  Total Turns: %d
  Completed: %d (%.2f%%)
  Failed: %d (%.2f%%)
  Partial: %d
  Average Turn Time: %v
  Total Cost: $%.4f
  Total Tokens: %d

Stage Performance:
`, metrics.TotalTurns, metrics.CompletedTurns, completionRate,
		metrics.FailedTurns, failureRate, metrics.PartialTurns,
		metrics.AverageTurnTime, costs.TotalCost, costs.TotalTokens)

	for stage, executions := range metrics.StageExecutions {
		successRate := metrics.StageSuccessRates[stage]
		avgTime := metrics.StageAverageTimes[stage]
		report += fmt.Sprintf("  %s: %d executions, %.2f%% success, %v avg time\n",
			stage, executions, successRate*100, avgTime)
	}

	report += "\nLLM Usage:\n"
	for model, requests := range metrics.LLMRequests {
		tokens := metrics.LLMTokensUsed[model]
		cost := costs.ModelCosts[model]
		report += fmt.Sprintf("  %s: %d requests, %d tokens, $%.4f\n",
			model, requests, tokens, cost)
	}

	report += "\nProvider Performance:\n"
	for provider, requests := range metrics.ProviderRequests {
		successRate := metrics.ProviderSuccessRates[provider]
		avgTime := metrics.ProviderAverageTimes[provider]
		report += fmt.Sprintf("  %s: %d requests, %.2f%% success, %v avg time\n",
			provider, requests, successRate*100, avgTime)
	}

	return report
}
