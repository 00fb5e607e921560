// Command loadtest нагружает HTTP API конкурентными покупками одного товара
// и проверяет, что проданных единиц не больше начального остатка.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/settlement/internal/auth"
	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

type loadMode string

const (
	modeCreate        loadMode = "create"
	modeCreateCapture loadMode = "create-capture"
	modeCreateCancel  loadMode = "create-cancel"
)

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	businessID  string
	productID   string
	qty         int
	stock       int64
	customerTag string
	jwtSecret   string
	jwtIssuer   string
	outputPath  string
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string
	var durationValue string

	flag.StringVar(&cfg.addr, "addr", "http://localhost:8080", "HTTP API base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.IntVar(&cfg.connections, "connections", 20, "max idle HTTP connections")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-capture | create-cancel")
	flag.IntVar(&cfg.cancelRate, "cancel-rate", 0, "cancel probability in percent for create-capture mode (0..100)")
	flag.StringVar(&cfg.businessID, "business", "biz-load", "business id that owns the product")
	flag.StringVar(&cfg.productID, "product", "p-load", "contended product id")
	flag.IntVar(&cfg.qty, "qty", 1, "units per order")
	flag.Int64Var(&cfg.stock, "stock", 0, "initial available stock; >0 enables the oversell check")
	flag.StringVar(&cfg.customerTag, "customer-tag", "load", "customer id prefix")
	flag.StringVar(&cfg.jwtSecret, "jwt-secret", os.Getenv("SETTLEMENT_JWT_SECRET"), "HMAC secret for issuing test tokens")
	flag.StringVar(&cfg.jwtIssuer, "jwt-issuer", "settlement", "token issuer")
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
	case cfg.qty <= 0:
		return cfg, errors.New("qty must be > 0")
	case cfg.stock < 0:
		return cfg, errors.New("stock must be >= 0")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	case strings.TrimSpace(cfg.businessID) == "":
		return cfg, errors.New("business is required")
	case strings.TrimSpace(cfg.productID) == "":
		return cfg, errors.New("product is required")
	case strings.TrimSpace(cfg.customerTag) == "":
		return cfg, errors.New("customer-tag is required")
	case cfg.jwtSecret == "":
		return cfg, errors.New("jwt-secret (or SETTLEMENT_JWT_SECRET) is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreateCapture:
		return modeCreateCapture, nil
	case modeCreateCancel:
		return modeCreateCancel, nil
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

	result, err := run(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || result.Oversold {
		os.Exit(1)
	}
}

// runner хранит общие для воркеров зависимости.
type runner struct {
	cfg        config
	client     *apiClient
	tokens     *auth.TokenService
	ownerToken string
	runID      string
	col        *collector
}

func run(cfg config) (report, error) {
	tokens, err := auth.NewTokenService(cfg.jwtSecret, cfg.jwtIssuer, time.Hour)
	if err != nil {
		return report{}, err
	}
	ownerToken, err := tokens.Issue(domain.Caller{
		UserID:     cfg.customerTag + "-owner",
		Role:       domain.RoleBusinessOwner,
		Businesses: []string{cfg.businessID},
	})
	if err != nil {
		return report{}, fmt.Errorf("issue owner token: %w", err)
	}

	startedAt := time.Now()
	col := newCollector()
	r := &runner{
		cfg:        cfg,
		client:     newAPIClient(cfg.addr, cfg.timeout, cfg.connections, col),
		tokens:     tokens,
		ownerToken: ownerToken,
		runID:      fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid()),
		col:        col,
	}

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				r.runScenario(id)
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt), cfg.stock), nil
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

// runScenario: покупка, затем по режиму оплата или отмена.
// Отказ по остатку считается исходом sold_out, а не ошибкой.
func (r *runner) runScenario(index int) {
	start := time.Now()
	outcome := outcomeFailed
	defer func() {
		r.col.record(scenarioMethod, time.Since(start), outcome, outcome != outcomeFailed)
	}()

	token, err := r.tokens.Issue(domain.Caller{
		UserID: fmt.Sprintf("%s-%s-%d", r.cfg.customerTag, r.runID, index),
		Role:   domain.RoleCustomer,
	})
	if err != nil {
		return
	}

	order, err := r.client.createOrder(token, r.cfg.businessID, r.cfg.productID, int32(r.cfg.qty))
	if err != nil {
		if errors.Is(err, errSoldOut) {
			outcome = outcomeSoldOut
		}
		return
	}

	cancel := r.cfg.mode == modeCreateCancel ||
		(r.cfg.mode == modeCreateCapture && shouldCancelScenario(index, r.cfg.cancelRate))

	if r.cfg.mode == modeCreateCapture {
		if err := r.client.capturePayment(token, order.ID); err != nil {
			r.col.addSold(int64(r.cfg.qty))
			return
		}
	}

	if cancel {
		if err := r.client.cancelOrder(r.ownerToken, order.ID); err != nil {
			r.col.addSold(int64(r.cfg.qty))
			return
		}
	} else {
		r.col.addSold(int64(r.cfg.qty))
	}
	outcome = outcomeOK
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}
