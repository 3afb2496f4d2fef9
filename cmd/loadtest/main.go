// Command loadtest нагружает gRPC checkout магазина и печатает сводку латентности.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	storefrontv1 "github.com/vladislavdragonenkov/shawlshop/api/storefront/v1"
	"github.com/vladislavdragonenkov/shawlshop/internal/auth"
)

const (
	idempotencyHeader = "idempotency-key"
	scenarioMethod    = "scenario"
)

type loadMode string

const (
	modePlace       loadMode = "place"
	modePlaceReplay loadMode = "place-replay"
	modePlaceRead   loadMode = "place-read"
)

type config struct {
	addr         string
	total        int
	totalSet     bool
	duration     time.Duration
	concurrency  int
	connections  int
	timeout      time.Duration
	mode         loadMode
	productIDs   []string
	quantity     int
	customerTag  string
	sessionToken string
	outputPath   string
}

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

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	SoldOutScenarios  int64                   `json:"sold_out_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

func (s *methodStats) report() methodReport {
	codesCopy := make(map[string]int64, len(s.codes))
	for code, count := range s.codes {
		codesCopy[code] = count
	}
	return methodReport{
		Calls:     s.calls,
		Success:   s.success,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, s.calls),
		Codes:     codesCopy,
		LatencyMs: buildLatencySummary(s.latencies),
	}
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{methods: make(map[string]*methodStats)}
}

// record считает FailedPrecondition (распродано) успешным ответом: склад
// неизбежно пустеет под нагрузкой.
func (c *collector) record(method string, latency time.Duration, code codes.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}

	stats.calls++
	if code == codes.OK || code == codes.FailedPrecondition {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code.String()]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenario := c.methods[scenarioMethod]; scenario != nil {
		result.TotalScenarios = scenario.calls
		result.SoldOutScenarios = scenario.codes[codes.FailedPrecondition.String()]
		result.SuccessScenarios = scenario.success - result.SoldOutScenarios
		result.FailedScenarios = scenario.failed
		result.ErrorRate = ratio(scenario.failed, scenario.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenario.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		result.Methods[name] = stats.report()
	}
	return result
}

func parseConfig(fset *flag.FlagSet, args []string) (config, error) {
	var (
		cfg        config
		modeValue  string
		productRaw string
	)

	fset.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fset.IntVar(&cfg.total, "total", 400, "total scenarios in count mode; with -duration only used when explicitly set")
	fset.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fset.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fset.IntVar(&cfg.connections, "connections", 20, "number of gRPC client connections")
	fset.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fset.StringVar(&modeValue, "mode", string(modePlace), "load mode: place | place-replay | place-read")
	fset.StringVar(&productRaw, "products", "", "comma-separated product ids; empty means all published products")
	fset.IntVar(&cfg.quantity, "quantity", 1, "quantity per cart line")
	fset.StringVar(&cfg.customerTag, "customer-tag", "load", "customer name prefix")
	fset.StringVar(&cfg.sessionToken, "session-token", "", "session token for place-read mode")
	fset.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fset.Parse(args); err != nil {
		return cfg, err
	}

	fset.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})
	for _, id := range strings.Split(productRaw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.productIDs = append(cfg.productIDs, id)
		}
	}

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	switch {
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return cfg, errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case strings.TrimSpace(cfg.customerTag) == "":
		return cfg, errors.New("customer-tag is required")
	case cfg.mode == modePlaceRead && strings.TrimSpace(cfg.sessionToken) == "":
		return cfg, errors.New("session-token is required for place-read mode")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modePlace, modePlaceReplay, modePlaceRead:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	clients := make([]storefrontv1.StorefrontServiceClient, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		conn, dialErr := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", dialErr)
			os.Exit(1)
		}
		conns = append(conns, conn)
		clients = append(clients, storefrontv1.NewStorefrontServiceClient(conn))
	}
	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()

	result, err := run(context.Background(), cfg, clients)
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
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// run раздаёт сценарии воркерам поверх готовых клиентов.
func run(ctx context.Context, cfg config, clients []storefrontv1.StorefrontServiceClient) (report, error) {
	if len(clients) == 0 {
		return report{}, errors.New("at least one client is required")
	}
	if len(cfg.productIDs) == 0 {
		ids, err := discoverProducts(ctx, clients[0], cfg.timeout)
		if err != nil {
			return report{}, err
		}
		cfg.productIDs = ids
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func(cli storefrontv1.StorefrontServiceClient) {
			defer wg.Done()
			for id := range jobs {
				_ = runScenario(cli, cfg, id, runID, col)
			}
		}(clients[workerID%len(clients)])
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt)), nil
}

func discoverProducts(ctx context.Context, client storefrontv1.StorefrontServiceClient, timeout time.Duration) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := client.ListProducts(ctx, &storefrontv1.ListProductsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	ids := make([]string, 0, len(resp.Products))
	for _, p := range resp.Products {
		if p.Inventory > 0 {
			ids = append(ids, p.Id)
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("no products in stock; pass -products or seed the catalog")
	}
	return ids, nil
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

func buildPlaceRequest(cfg config, index int, runID string) *storefrontv1.PlaceOrderRequest {
	name := fmt.Sprintf("%s-%s-%d", cfg.customerTag, runID, index)
	return &storefrontv1.PlaceOrderRequest{
		CustomerName:    name,
		CustomerEmail:   name + "@load.test",
		ShippingAddress: "Load test street 1",
		Items: []*storefrontv1.CartLine{{
			ProductId: cfg.productIDs[index%len(cfg.productIDs)],
			Quantity:  int32(cfg.quantity),
		}},
	}
}

func runScenario(client storefrontv1.StorefrontServiceClient, cfg config, index int, runID string, col *collector) error {
	scenarioStart := time.Now()
	scenarioCode := codes.OK
	defer func() {
		col.record(scenarioMethod, time.Since(scenarioStart), scenarioCode)
	}()

	req := buildPlaceRequest(cfg, index, runID)
	key := fmt.Sprintf("lt-place-%s-%d", runID, index)

	resp, err := callPlaceOrder(client, cfg, req, key, col)
	if err != nil {
		scenarioCode = grpcCode(err)
		return err
	}
	if resp.OrderId == "" {
		scenarioCode = codes.Internal
		return errors.New("place response returned empty order id")
	}

	switch cfg.mode {
	case modePlaceReplay:
		replayed, err := callPlaceOrder(client, cfg, req, key, col)
		if err != nil {
			scenarioCode = grpcCode(err)
			return err
		}
		if replayed.OrderId != resp.OrderId {
			scenarioCode = codes.DataLoss
			return fmt.Errorf("replay returned order %s, want %s", replayed.OrderId, resp.OrderId)
		}
	case modePlaceRead:
		if err := callGetOrder(client, cfg, resp.OrderId, col); err != nil {
			scenarioCode = grpcCode(err)
			return err
		}
	}
	return nil
}

func callPlaceOrder(
	client storefrontv1.StorefrontServiceClient,
	cfg config,
	req *storefrontv1.PlaceOrderRequest,
	key string,
	col *collector,
) (*storefrontv1.PlaceOrderResponse, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, idempotencyHeader, key)
	if cfg.sessionToken != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, auth.MetadataKey, cfg.sessionToken)
	}

	resp, err := client.PlaceOrder(ctx, req)
	col.record("PlaceOrder", time.Since(start), grpcCode(err))
	return resp, err
}

func callGetOrder(client storefrontv1.StorefrontServiceClient, cfg config, orderID string, col *collector) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, auth.MetadataKey, cfg.sessionToken)

	_, err := client.GetOrder(ctx, &storefrontv1.GetOrderRequest{OrderId: orderID})
	col.record("GetOrder", time.Since(start), grpcCode(err))
	return err
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь к отчёту задаёт оператор через флаг.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d sold_out=%d failed=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg),
		result.TotalScenarios, result.SuccessScenarios, result.SoldOutScenarios, result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min, result.ScenarioLatencyMs.Avg, result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95, result.ScenarioLatencyMs.P99, result.ScenarioLatencyMs.Max,
	)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name != scenarioMethod {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
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

// percentile: линейная интерполяция между соседними рангами.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	return sorted[lower] + (sorted[upper]-sorted[lower])*(rank-float64(lower))
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
