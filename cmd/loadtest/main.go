package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	idempotencyHeader = "Idempotency-Key"
	sessionCookieName = "cart_session"
	defaultQty        = int32(1)

	codeTransportError = "transport_error"
	codeDecodeError    = "decode_error"
)

type loadMode string

const (
	modeAdd             loadMode = "add"
	modeAddUpdate       loadMode = "add-update"
	modeAddUpdateRemove loadMode = "add-update-remove"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	variantID   int64
	qty         int
	updateQty   int
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type operationReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time                  `json:"started_at"`
	DurationSeconds   float64                    `json:"duration_seconds"`
	TotalScenarios    int64                      `json:"total_scenarios"`
	SuccessScenarios  int64                      `json:"success_scenarios"`
	RejectedScenarios int64                      `json:"rejected_scenarios"`
	FailedScenarios   int64                      `json:"failed_scenarios"`
	ErrorRate         float64                    `json:"error_rate"`
	RPS               float64                    `json:"rps"`
	ScenarioLatencyMs latencySummary             `json:"scenario_latency_ms"`
	Operations        map[string]operationReport `json:"operations"`
}

type operationStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu         sync.Mutex
	operations map[string]*operationStats
	rejected   int64
}

func newCollector() *collector {
	return &collector{
		operations: make(map[string]*operationStats),
	}
}

// record фиксирует вызов операции. Код — HTTP-статус или метка транспортной ошибки.
func (c *collector) record(operation string, latency time.Duration, code string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.operations[operation]
	if !ok {
		stats = &operationStats{
			codes: make(map[string]int64),
		}
		c.operations[operation] = stats
	}

	stats.calls++
	if success {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) recordRejected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected++
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:         startedAt.UTC(),
		DurationSeconds:   duration.Seconds(),
		RejectedScenarios: c.rejected,
		Operations:        make(map[string]operationReport, len(c.operations)),
	}

	scenarioStats := c.operations["scenario"]
	if scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.operations {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Operations[name] = operationReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string
	var durationValue string

	flag.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "cart API base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeAdd), "load mode: add | add-update | add-update-remove")
	flag.Int64Var(&cfg.variantID, "variant-id", 0, "catalog variant id (0 = first published variant)")
	flag.IntVar(&cfg.qty, "qty", int(defaultQty), "quantity for add operation")
	flag.IntVar(&cfg.updateQty, "update-qty", 2, "quantity for update operation")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	if strings.TrimSpace(cfg.baseURL) == "" {
		return cfg, errors.New("addr is required")
	}
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
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
	if cfg.variantID < 0 {
		return cfg, errors.New("variant-id must be >= 0")
	}
	if cfg.qty <= 0 {
		return cfg, errors.New("qty must be > 0")
	}
	if cfg.updateQty <= 0 {
		return cfg, errors.New("update-qty must be > 0")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeAdd:
		return modeAdd, nil
	case modeAddUpdate:
		return modeAddUpdate, nil
	case modeAddUpdateRemove:
		return modeAddUpdateRemove, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	httpClient := &http.Client{Timeout: cfg.timeout}

	if cfg.variantID == 0 {
		variantID, resolveErr := resolveFirstVariant(httpClient, cfg.baseURL)
		if resolveErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to resolve variant id: %v\n", resolveErr)
			os.Exit(1)
		}
		cfg.variantID = variantID
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(httpClient, cfg, id, runID, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(result, cfg)
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

// cartSession хранит cookie корзины между запросами одного сценария.
type cartSession struct {
	token string
}

// runScenario выполняет один сценарий покупателя: показать корзину, добавить
// позицию и (в зависимости от режима) обновить количество и удалить позицию.
// Отказ по остатку считается бизнес-исходом и не проваливает сценарий.
func runScenario(client *http.Client, cfg config, index int, runID string, col *collector) error {
	scenarioStart := time.Now()
	scenarioCode := "200"
	scenarioOK := true
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioCode, scenarioOK)
	}()

	sess := &cartSession{}

	if _, _, err := callShowCart(client, cfg, sess, col); err != nil {
		scenarioCode, scenarioOK = codeTransportError, false
		return err
	}

	addKey := fmt.Sprintf("lt-add-%s-%d", runID, index)
	addStatus, err := callAddLine(client, cfg, sess, addKey, col)
	if err != nil {
		scenarioCode, scenarioOK = codeTransportError, false
		return err
	}
	if addStatus == http.StatusUnprocessableEntity {
		// Остаток исчерпан: ожидаемый исход под нагрузкой.
		col.recordRejected()
		scenarioCode = statusLabel(addStatus)
		return nil
	}
	if addStatus != http.StatusOK {
		scenarioCode, scenarioOK = statusLabel(addStatus), false
		return fmt.Errorf("add line returned status %d", addStatus)
	}

	if cfg.mode == modeAdd {
		return nil
	}

	_, lineID, err := callShowCart(client, cfg, sess, col)
	if err != nil {
		scenarioCode, scenarioOK = codeTransportError, false
		return err
	}
	if lineID == 0 {
		scenarioCode, scenarioOK = codeDecodeError, false
		return errors.New("cart does not contain the added line")
	}

	updateStatus, err := callUpdateLine(client, cfg, sess, lineID, col)
	if err != nil {
		scenarioCode, scenarioOK = codeTransportError, false
		return err
	}
	if updateStatus == http.StatusUnprocessableEntity {
		col.recordRejected()
		scenarioCode = statusLabel(updateStatus)
		return nil
	}
	if updateStatus != http.StatusOK {
		scenarioCode, scenarioOK = statusLabel(updateStatus), false
		return fmt.Errorf("update line returned status %d", updateStatus)
	}

	if cfg.mode != modeAddUpdateRemove {
		return nil
	}

	removeStatus, err := callRemoveLine(client, cfg, sess, lineID, col)
	if err != nil {
		scenarioCode, scenarioOK = codeTransportError, false
		return err
	}
	if removeStatus != http.StatusOK {
		scenarioCode, scenarioOK = statusLabel(removeStatus), false
		return fmt.Errorf("remove line returned status %d", removeStatus)
	}

	return nil
}

func callShowCart(client *http.Client, cfg config, sess *cartSession, col *collector) (int, int64, error) {
	start := time.Now()
	req, err := http.NewRequest(http.MethodGet, cfg.baseURL+"/cart", nil)
	if err != nil {
		return 0, 0, err
	}
	applySession(req, sess)

	resp, err := client.Do(req)
	if err != nil {
		col.record("ShowCart", time.Since(start), codeTransportError, false)
		return 0, 0, err
	}
	defer resp.Body.Close()
	captureSession(resp, sess)
	col.record("ShowCart", time.Since(start), statusLabel(resp.StatusCode), resp.StatusCode < 400)

	var body struct {
		Items []struct {
			ID int64 `json:"id"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return resp.StatusCode, 0, err
	}

	var lineID int64
	if len(body.Items) > 0 {
		lineID = body.Items[0].ID
	}
	return resp.StatusCode, lineID, nil
}

func callAddLine(client *http.Client, cfg config, sess *cartSession, key string, col *collector) (int, error) {
	payload := map[string]any{
		"variant_id": cfg.variantID,
		"quantity":   cfg.qty,
	}
	return callMutation(client, cfg, sess, "AddLine", "/cart/add", payload, key, col)
}

func callUpdateLine(client *http.Client, cfg config, sess *cartSession, lineID int64, col *collector) (int, error) {
	payload := map[string]any{
		"line_id":  lineID,
		"quantity": cfg.updateQty,
	}
	return callMutation(client, cfg, sess, "UpdateLine", "/cart/update", payload, "", col)
}

func callRemoveLine(client *http.Client, cfg config, sess *cartSession, lineID int64, col *collector) (int, error) {
	payload := map[string]any{
		"line_id": lineID,
	}
	return callMutation(client, cfg, sess, "RemoveLine", "/cart/remove", payload, "", col)
}

func callMutation(
	client *http.Client,
	cfg config,
	sess *cartSession,
	operation, path string,
	payload map[string]any,
	idempotencyKey string,
	col *collector,
) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	req, err := http.NewRequest(http.MethodPost, cfg.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}
	applySession(req, sess)

	resp, err := client.Do(req)
	if err != nil {
		col.record(operation, time.Since(start), codeTransportError, false)
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	captureSession(resp, sess)
	col.record(operation, time.Since(start), statusLabel(resp.StatusCode), resp.StatusCode < 400)

	return resp.StatusCode, nil
}

func applySession(req *http.Request, sess *cartSession) {
	if sess.token != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess.token})
	}
}

func captureSession(resp *http.Response, sess *cartSession) {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookieName && cookie.Value != "" {
			sess.token = cookie.Value
		}
	}
}

// resolveFirstVariant запрашивает витрину и возвращает id первого варианта.
func resolveFirstVariant(client *http.Client, baseURL string) (int64, error) {
	resp, err := client.Get(baseURL + "/products")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("products endpoint returned status %d", resp.StatusCode)
	}

	var products []struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		return 0, fmt.Errorf("decode products: %w", err)
	}
	if len(products) == 0 {
		return 0, errors.New("catalog has no published variants")
	}

	return products[0].ID, nil
}

func statusLabel(status int) string {
	return fmt.Sprintf("%d", status)
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d rejected=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.RejectedScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	operationNames := make([]string, 0, len(result.Operations))
	for name := range result.Operations {
		if name == "scenario" {
			continue
		}
		operationNames = append(operationNames, name)
	}
	sort.Strings(operationNames)
	for _, name := range operationNames {
		stats := result.Operations[name]
		fmt.Printf(
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
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

	sorted := make([]float64, len(values))
	copy(sorted, values)
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

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
