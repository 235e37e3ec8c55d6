package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type loadMode string

const (
	modePlace     loadMode = "place"
	modePlaceRead loadMode = "place-read"
)

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	customerID  int64
	createdBy   int64
	variantID   int64
	quantity    int
	price       decimal.Decimal
	idempotency bool
	checkStock  bool
	outputPath  string
}

// orderTotal - сумма заказа из одной позиции без скидки.
func (c config) orderTotal() decimal.Decimal {
	return c.price.Mul(decimal.NewFromInt(int64(c.quantity)))
}

func parseConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var cfg config
	var modeValue string
	var priceValue string

	fs.StringVar(&cfg.addr, "addr", "http://localhost:8080", "HTTP API base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modePlace), "load mode: place | place-read")
	fs.Int64Var(&cfg.customerID, "customer-id", 1, "customer id, 0 places staff orders without customer")
	fs.Int64Var(&cfg.createdBy, "created-by", 1, "staff id recorded as order author")
	fs.Int64Var(&cfg.variantID, "variant-id", 1, "product variant to order")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity per order")
	fs.StringVar(&priceValue, "price", "19.99", "price at purchase")
	fs.BoolVar(&cfg.idempotency, "idempotency", true, "send Idempotency-Key with every placement")
	fs.BoolVar(&cfg.checkStock, "check-stock", true, "compare variant stock before and after the run")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	price, err := decimal.NewFromString(strings.TrimSpace(priceValue))
	if err != nil {
		return cfg, fmt.Errorf("parse price: %w", err)
	}
	cfg.price = price

	if strings.TrimSpace(cfg.addr) == "" {
		return cfg, errors.New("addr is required")
	}
	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.customerID < 0 {
		return cfg, errors.New("customer-id must be >= 0")
	}
	if cfg.createdBy <= 0 {
		return cfg, errors.New("created-by must be > 0")
	}
	if cfg.variantID <= 0 {
		return cfg, errors.New("variant-id must be > 0")
	}
	if cfg.quantity <= 0 {
		return cfg, errors.New("quantity must be > 0")
	}
	if cfg.price.IsNegative() {
		return cfg, errors.New("price must be >= 0")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modePlace:
		return modePlace, nil
	case modePlaceRead:
		return modePlaceRead, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result, err := run(context.Background(), cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || (result.Stock != nil && !result.Stock.Consistent) {
		os.Exit(1)
	}
}

// run прогоняет нагрузку и при включённой проверке сверяет остаток:
// списано должно быть ровно placed*quantity, и остаток не уходит в минус.
func run(ctx context.Context, cfg config) (report, error) {
	client := newAPIClient(cfg.addr, cfg.timeout, cfg.concurrency)

	initial := 0
	if cfg.checkStock {
		qty, err := client.inventoryQuantity(ctx, cfg.variantID)
		if err != nil {
			return report{}, fmt.Errorf("read initial stock: %w", err)
		}
		initial = qty
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				runScenario(ctx, client, cfg, id, runID, col)
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	if !cfg.checkStock {
		return result, nil
	}

	final, err := client.inventoryQuantity(ctx, cfg.variantID)
	if err != nil {
		return result, fmt.Errorf("read final stock: %w", err)
	}
	expectedSold := int(result.PlacedOrders) * cfg.quantity
	result.Stock = &stockCheck{
		VariantID:       cfg.variantID,
		InitialQuantity: initial,
		FinalQuantity:   final,
		ExpectedSold:    expectedSold,
		Consistent:      final >= 0 && initial-final == expectedSold,
	}
	return result, nil
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// runScenario размещает один заказ и в режиме place-read перечитывает его.
// Отказ по остатку считается ожидаемым исходом, а не ошибкой.
func runScenario(ctx context.Context, client *apiClient, cfg config, index int, runID string, col *collector) {
	scenarioStart := time.Now()
	scenarioCode := "ok"
	ok := true
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioCode, ok)
	}()

	req := placeOrderRequest{
		CreatedBy:        cfg.createdBy,
		OrderTotalAmount: cfg.orderTotal(),
		Items: []placeOrderItem{{
			VariantID:       cfg.variantID,
			Quantity:        cfg.quantity,
			PriceAtPurchase: cfg.price,
		}},
	}
	if cfg.customerID > 0 {
		customerID := cfg.customerID
		req.CustomerID = &customerID
	}

	key := ""
	if cfg.idempotency {
		key = fmt.Sprintf("lt-place-%s-%d", runID, index)
	}

	result, orderID, code := callPlaceOrder(ctx, client, cfg.timeout, req, key, col)
	col.recordOutcome(result)
	scenarioCode = code
	if result == outcomeFailed {
		ok = false
		return
	}
	if result == outcomeRejected || cfg.mode != modePlaceRead {
		return
	}

	if code, err := callGetOrder(ctx, client, cfg.timeout, orderID, col); err != nil {
		scenarioCode = code
		ok = false
	}
}

func callPlaceOrder(
	ctx context.Context,
	client *apiClient,
	timeout time.Duration,
	req placeOrderRequest,
	key string,
	col *collector,
) (outcome, int64, string) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, orderID, err := client.placeOrder(ctx, req, key)
	latency := time.Since(start)
	switch {
	case err != nil:
		code := transportCode(err, resp)
		col.record("PlaceOrder", latency, code, false)
		return outcomeFailed, 0, code
	case resp.status == http.StatusCreated:
		col.record("PlaceOrder", latency, resp.statusCode(), true)
		return outcomePlaced, orderID, resp.statusCode()
	case resp.status == http.StatusBadRequest && resp.code == "insufficient_stock":
		col.record("PlaceOrder", latency, resp.statusCode(), true)
		return outcomeRejected, 0, resp.statusCode()
	default:
		col.record("PlaceOrder", latency, resp.statusCode(), false)
		return outcomeFailed, 0, resp.statusCode()
	}
}

func callGetOrder(ctx context.Context, client *apiClient, timeout time.Duration, orderID int64, col *collector) (string, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := client.getOrder(ctx, orderID)
	if err != nil {
		code := transportCode(err, resp)
		col.record("GetOrder", time.Since(start), code, false)
		return code, err
	}
	code := resp.statusCode()
	if resp.status != http.StatusOK {
		col.record("GetOrder", time.Since(start), code, false)
		return code, fmt.Errorf("get order %d: status %s", orderID, code)
	}
	col.record("GetOrder", time.Since(start), code, true)
	return code, nil
}

func transportCode(err error, resp apiResponse) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case resp.status != 0:
		return resp.statusCode()
	default:
		return "transport_error"
	}
}
