package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ducminhle1904/futures-risk-bot/internal/config"
	"github.com/ducminhle1904/futures-risk-bot/internal/exchange"
	"github.com/ducminhle1904/futures-risk-bot/internal/exchange/bybit"
	"github.com/ducminhle1904/futures-risk-bot/internal/logger"
	"github.com/ducminhle1904/futures-risk-bot/internal/monitoring"
	"github.com/ducminhle1904/futures-risk-bot/internal/order"
	"github.com/ducminhle1904/futures-risk-bot/internal/portfolio"
	"github.com/ducminhle1904/futures-risk-bot/internal/portfolio/storage"
	"github.com/ducminhle1904/futures-risk-bot/pkg/reporting"
)

// intakeLine is one line of the JSON-lines signal feed. Lines without a
// side are price ticks; lines with a side are trade signals.
type intakeLine struct {
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side,omitempty"`
	Price     float64   `json:"price,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

func main() {
	var (
		configFile  = flag.String("config", "riskbot", "Path to configuration file")
		envFile     = flag.String("env", ".env", "Environment file path")
		signalsFile = flag.String("signals", "-", "Signal feed: file path or - for stdin")
		exportFile  = flag.String("export", "", "Write trade history to this .xlsx on shutdown")
	)
	flag.Parse()

	if _, err := os.Stat(*envFile); err == nil {
		if err := godotenv.Load(*envFile); err != nil {
			log.Printf("Warning: failed to load %s: %v", *envFile, err)
		}
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if err := run(cfg, *signalsFile, *exportFile); err != nil {
		log.Fatalf("Bot exited with error: %v", err)
	}
}

func run(cfg *config.BotConfig, signalsFile, exportFile string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway, paper, err := buildGateway(cfg)
	if err != nil {
		return err
	}

	fileLog, err := logger.NewLogger(cfg.LogDir, "riskbot")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer fileLog.Close()

	store := storage.NewFileStorage(cfg.SnapshotFile)
	if err := store.Lock(); err != nil {
		return fmt.Errorf("failed to lock snapshot storage: %w", err)
	}
	defer store.Unlock()

	orders := order.NewManager(gateway, cfg.Order)
	pm := portfolio.NewManager(cfg.Portfolio, gateway, orders, store, fileLog)
	if err := pm.Initialize(); err != nil {
		return err
	}

	health := monitoring.NewHealthChecker()
	health.SetConnected(true)
	pm.SetHealthChecker(health)

	console := reporting.NewConsoleReporter()
	console.PrintStartup(gateway.GetName(), cfg.Portfolio)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return orders.Run(ctx)
	})
	group.Go(func() error {
		return pm.Consume(ctx)
	})
	group.Go(func() error {
		return pm.RunSnapshots(ctx, cfg.SnapshotInterval)
	})
	group.Go(func() error {
		return serveMonitoring(ctx, cfg.MonitorPort, health)
	})
	group.Go(func() error {
		defer stop() // feed exhaustion shuts the bot down
		return readSignals(ctx, signalsFile, pm, paper, health, fileLog)
	})

	err = group.Wait()

	status := pm.Status()
	console.PrintStatus(status)
	console.PrintRejections(status)

	if exportFile != "" {
		excel := reporting.NewExcelReporter()
		if exportErr := excel.WriteTradesXLSX(status, pm.TradeHistory(), exportFile); exportErr != nil {
			log.Printf("Failed to export trade history: %v", exportErr)
		} else {
			log.Printf("Trade history exported to %s", exportFile)
		}
	}

	return err
}

// buildGateway selects the exchange backend from config. The paper
// gateway is returned separately so the intake loop can feed it prices.
func buildGateway(cfg *config.BotConfig) (exchange.Gateway, *exchange.PaperGateway, error) {
	switch strings.ToLower(cfg.Exchange.Name) {
	case "bybit":
		return bybit.NewGateway(*cfg.Exchange.Bybit), nil, nil
	case "paper":
		paper := exchange.NewPaperGateway(cfg.Exchange.PaperBalance)
		return paper, paper, nil
	default:
		return nil, nil, fmt.Errorf("unsupported exchange %q", cfg.Exchange.Name)
	}
}

// readSignals consumes the JSON-lines feed until EOF or ctx is done.
func readSignals(ctx context.Context, signalsFile string, pm *portfolio.Manager, paper *exchange.PaperGateway, health *monitoring.HealthChecker, fileLog *logger.Logger) error {
	var reader io.Reader = os.Stdin
	if signalsFile != "-" {
		file, err := os.Open(signalsFile)
		if err != nil {
			return fmt.Errorf("failed to open signal feed: %w", err)
		}
		defer file.Close()
		reader = file
	}

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var intake intakeLine
		if err := json.Unmarshal([]byte(line), &intake); err != nil {
			fileLog.Warning("skipping malformed signal line: %v", err)
			continue
		}
		if intake.Symbol == "" {
			fileLog.Warning("skipping signal without symbol")
			continue
		}

		if paper != nil && intake.Price > 0 {
			paper.SetMarkPrice(intake.Symbol, intake.Price)
		}

		if intake.Side == "" {
			// bare price tick
			pm.MarkPrice(intake.Symbol, intake.Price)
			continue
		}

		side, err := parseSide(intake.Side)
		if err != nil {
			fileLog.Warning("skipping signal: %v", err)
			continue
		}

		ts := intake.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}

		health.RecordSignal()
		decision, err := pm.Evaluate(ctx, portfolio.Signal{
			Symbol:    intake.Symbol,
			Side:      side,
			Price:     intake.Price,
			Timestamp: ts,
		})
		if err != nil {
			monitoring.RecordError("evaluate")
			health.RecordFailure(fmt.Sprintf("evaluate %s: %v", intake.Symbol, err))
			fileLog.Error("evaluation failed for %s: %v", intake.Symbol, err)
			continue
		}

		if decision.Approved {
			log.Printf("APPROVED %s %s (order %s)", decision.Symbol, decision.Side, decision.ClientOrderID)
		} else {
			log.Printf("REJECTED %s %s: %s (%s)", decision.Symbol, decision.Side, decision.RejectReason, decision.RejectDetail)
		}
	}
	return scanner.Err()
}

func parseSide(raw string) (exchange.OrderSide, error) {
	switch strings.ToUpper(raw) {
	case "BUY":
		return exchange.OrderSideBuy, nil
	case "SELL":
		return exchange.OrderSideSell, nil
	default:
		return "", fmt.Errorf("unknown side %q", raw)
	}
}

// serveMonitoring runs the metrics and health HTTP endpoint until ctx
// is done.
func serveMonitoring(ctx context.Context, port int, health *monitoring.HealthChecker) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.NewMetricsHandler())
	mux.Handle("/health", health)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
