package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// scenarioSeries - служебная серия, в которую пишется весь сценарий целиком.
const scenarioSeries = "scenario"

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

// stockCheck сверяет остаток варианта до и после прогона.
type stockCheck struct {
	VariantID       int64 `json:"variant_id"`
	InitialQuantity int   `json:"initial_quantity"`
	FinalQuantity   int   `json:"final_quantity"`
	ExpectedSold    int   `json:"expected_sold"`
	Consistent      bool  `json:"consistent"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	PlacedOrders      int64                   `json:"placed_orders"`
	StockRejections   int64                   `json:"stock_rejections"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
	Stock             *stockCheck             `json:"stock,omitempty"`
}

// series копит вызовы одного метода. Задержки хранятся в миллисекундах.
type series struct {
	failed  int64
	codes   map[string]int64
	samples []float64
}

func (s *series) calls() int64 { return int64(len(s.samples)) }

func (s *series) report() methodReport {
	calls := s.calls()
	return methodReport{
		Calls:     calls,
		Success:   calls - s.failed,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, calls),
		Codes:     maps.Clone(s.codes),
		LatencyMs: buildLatencySummary(s.samples),
	}
}

// collector собирает результаты со всех воркеров прогона.
type collector struct {
	mu       sync.Mutex
	series   map[string]*series
	outcomes map[outcome]int64
}

func newCollector() *collector {
	return &collector{series: map[string]*series{}, outcomes: map[outcome]int64{}}
}

func (c *collector) record(method string, latency time.Duration, code string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.series[method]
	if s == nil {
		s = &series{codes: map[string]int64{}}
		c.series[method] = s
	}
	if !ok {
		s.failed++
	}
	s.codes[code]++
	s.samples = append(s.samples, float64(latency.Microseconds())/1000)
}

func (c *collector) recordOutcome(o outcome) {
	c.mu.Lock()
	c.outcomes[o]++
	c.mu.Unlock()
}

func (c *collector) buildReport(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		PlacedOrders:    c.outcomes[outcomePlaced],
		StockRejections: c.outcomes[outcomeRejected],
		Methods:         make(map[string]methodReport, len(c.series)),
	}
	for name, s := range c.series {
		out.Methods[name] = s.report()
	}

	if sc, ok := out.Methods[scenarioSeries]; ok {
		out.TotalScenarios = sc.Calls
		out.FailedScenarios = sc.Failed
		out.ErrorRate = sc.ErrorRate
		out.ScenarioLatencyMs = sc.LatencyMs
	}
	if elapsed > 0 {
		out.RPS = float64(out.TotalScenarios) / elapsed.Seconds()
	}
	return out
}

// writeJSONReport пишет отчёт в файл внутри текущего каталога.
func writeJSONReport(path string, result report) error {
	clean := filepath.Clean(path)
	switch {
	case clean == "." || clean == string(filepath.Separator):
		return errors.New("output path must point to a file")
	case clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	// #nosec G306 -- отчёт нагрузочного прогона не содержит секретов.
	return os.WriteFile(clean, append(data, '\n'), 0o644)
}

func printReport(w io.Writer, result report, cfg config) {
	line := func(format string, args ...any) { _, _ = fmt.Fprintf(w, format+"\n", args...) }
	lat := result.ScenarioLatencyMs

	line("Load test summary")
	line("mode=%s run=%s total=%d placed=%d stock_rejections=%d failed=%d error_rate=%.4f",
		cfg.mode, runTarget(cfg), result.TotalScenarios, result.PlacedOrders,
		result.StockRejections, result.FailedScenarios, result.ErrorRate)
	line("duration=%.2fs rps=%.2f", result.DurationSeconds, result.RPS)
	line("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f",
		lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max)

	for _, name := range slices.Sorted(maps.Keys(result.Methods)) {
		if name == scenarioSeries {
			continue
		}
		m := result.Methods[name]
		line("%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms",
			name, m.Calls, m.Success, m.Failed, m.ErrorRate, m.LatencyMs.P95)
	}

	if s := result.Stock; s != nil {
		line("stock variant=%d initial=%d final=%d expected_sold=%d consistent=%t",
			s.VariantID, s.InitialQuantity, s.FinalQuantity, s.ExpectedSold, s.Consistent)
	}
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return fmt.Sprintf("count:%d", cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return fmt.Sprintf("duration:%s", cfg.duration)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}
	sorted := slices.Sorted(slices.Values(values))

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile интерполирует линейно между соседними рангами отсортированной выборки.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
