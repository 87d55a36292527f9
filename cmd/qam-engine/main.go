// Command qam-engine runs the QAM control plane: the Deployment Supervisor,
// Execution Runner, and the three periodic monitoring loops, fronted by a
// read-only status/health HTTP surface and a Prometheus metrics endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/qam-project/qam/internal/config"
	"github.com/qam-project/qam/internal/engine"
	"github.com/qam-project/qam/internal/status"
	"github.com/qam-project/qam/internal/storage"
	"github.com/qam-project/qam/pkg/alert"
	"github.com/qam-project/qam/pkg/audit"
	"github.com/qam-project/qam/pkg/backend"
	"github.com/qam-project/qam/pkg/deployment"
	"github.com/qam-project/qam/pkg/domain"
	"github.com/qam-project/qam/pkg/execution"
	"github.com/qam-project/qam/pkg/metrics"
	"github.com/qam-project/qam/pkg/notification/delivery"
	"github.com/qam-project/qam/pkg/optimizer"
	"github.com/qam-project/qam/pkg/policy"
	"github.com/qam-project/qam/pkg/registry"
	"github.com/qam-project/qam/pkg/reservation"
	sharedhttp "github.com/qam-project/qam/pkg/shared/http"
	"github.com/qam-project/qam/pkg/shared/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the engine configuration file")
	development := flag.Bool("dev", false, "use a development (console) logger instead of the production JSON one")
	flag.Parse()

	if err := run(*configPath, *development); err != nil {
		fmt.Fprintf(os.Stderr, "qam-engine: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, development bool) error {
	log, flush, err := logging.New(development, "qam-engine")
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer flush()

	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	defer watcher.Close()
	cfg := watcher.Current()

	zapLog, err := buildZapLogger(development)
	if err != nil {
		return fmt.Errorf("build zap logger: %w", err)
	}
	defer zapLog.Sync()

	db, err := sqlx.Connect("pgx", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()
	if err := storage.Migrate(db.DB); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	sup, runner, loop, err := wire(cfg, db, rdb, log, zapLog)
	if err != nil {
		return fmt.Errorf("wire engine: %w", err)
	}
	_ = runner // held by loop's caller; deployment-triggered executions call runner.Run directly

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	statusHandler := status.NewServer(db.DB, rdb, sup, []string{"*"}, log)
	httpSrv := &http.Server{Addr: cfg.StatusServer.Addr, Handler: statusHandler}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "status server stopped unexpectedly")
		}
	}()

	metricsAddr, err := metricsAddrFrom(cfg.StatusServer.Addr)
	if err != nil {
		return fmt.Errorf("derive metrics server address: %w", err)
	}
	metricsOnlySrv := metrics.NewServer(metricsAddr, log)
	metricsOnlySrv.StartAsync()

	loop.Start(ctx)
	log.Info("qam-engine started", "status_addr", cfg.StatusServer.Addr, "metrics_addr", metricsAddr)

	<-ctx.Done()
	log.Info("shutting down")

	loop.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = metricsOnlySrv.Stop(shutdownCtx)

	return nil
}

// wire builds the full dependency graph: Policy Gate, Reservation Ledger,
// Backend Selector, Audit Chain, Deployment Supervisor, Execution Runner,
// and the three-loop monitoring engine.
func wire(cfg *config.Config, db *sqlx.DB, rdb *redis.Client, log logr.Logger, zapLog *zap.Logger) (*deployment.Supervisor, *execution.Runner, *engine.Loop, error) {
	repo := registry.NewPostgresRepository(db, zapLog)

	cache := policy.NewClassificationCache(rdb)
	gate := policy.NewGate(policy.NewStaticSanctionsList(nil), cache)
	gate.SetAllowedDestinations(cfg.Policy.AllowedDestinations)
	if n, err := policy.LoadRulesFile(context.Background(), gate, cfg.Policy.RulesPath); err != nil {
		log.Error(err, "loading export control rules, continuing with none loaded", "path", cfg.Policy.RulesPath)
	} else {
		log.Info("loaded export control rules", "jurisdictions", n)
	}

	approvals := policy.NewApprovalWorkflow(time.Duration(cfg.Approval.StageTimeoutHours) * time.Hour)

	ledger := reservation.NewRedisLedger(rdb)
	if err := ledger.SetCapacity(context.Background(), reservation.Request{
		QuantumMinutes:   cfg.Reservation.Limits.QuantumMinutes,
		ClassicalCompute: cfg.Reservation.Limits.ClassicalCompute,
		MemoryGB:         cfg.Reservation.Limits.MemoryGB,
		StorageGB:        cfg.Reservation.Limits.StorageGB,
	}); err != nil {
		return nil, nil, nil, fmt.Errorf("set reservation capacity: %w", err)
	}

	selector := backend.NewSelector()
	registerSimulators(selector)
	breakers := backend.NewBreakerManager()

	auditStore := audit.NewPostgresStore(db, zapLog)
	chain := audit.NewChain(auditStore, nil, log)

	deployStore := deployment.NewPostgresStore(db, zapLog)
	sup := deployment.NewSupervisor(deployStore, repo, gate, approvals, ledger, selector, chain)

	runner := execution.NewRunner(selector, breakers, sup, 200*time.Millisecond)
	runner = runner.WithOptimizer(repo, buildOptimizer(cfg.Optimizer))

	correlator := alert.NewCorrelator(time.Duration(cfg.SLA.CorrelationWindowSecs)*time.Second, alert.EscalationThresholds{})
	fileSinkDir := cfg.Notification.FileSinkDir
	if fileSinkDir == "" {
		fileSinkDir = os.TempDir()
	}
	services := map[delivery.Channel]delivery.Service{
		delivery.ChannelFile: delivery.NewFileDeliveryService(fileSinkDir),
	}
	if cfg.Notification.SlackWebhookURL != "" {
		slackClient := sharedhttp.NewClient(sharedhttp.SlackClientConfig())
		services[delivery.ChannelSlack] = delivery.NewSlackDeliveryService(cfg.Notification.SlackWebhookURL, cfg.Notification.SlackChannel, slackClient)
	}
	manager := alert.NewManager(alert.NewRedisSuppressor(rdb), correlator, services, time.Duration(cfg.SLA.AlertCooldownMinutes)*time.Minute)

	loop := engine.NewLoop(sup, manager, engine.Intervals{
		MetricCollection:     time.Duration(cfg.Engine.Monitoring.MetricIntervalMs) * time.Millisecond,
		ComplianceValidation: time.Duration(cfg.Engine.Monitoring.ValidationIntervalMs) * time.Millisecond,
		AlertQueueProcessing: time.Duration(cfg.Engine.Monitoring.AlertIntervalMs) * time.Millisecond,
		ComplianceWindow:     time.Duration(cfg.SLA.ComplianceWindowDays) * 24 * time.Hour,
		AlertWindow:          time.Duration(cfg.SLA.CorrelationWindowSecs) * time.Second,
	}, log)

	return sup, runner, loop, nil
}

// registerSimulators registers the one Driver this repo implements itself.
// Emulator and QPU backends are external collaborators reached through the
// same Driver contract and are registered by whatever deployment tooling
// supplies their credentials; none are wired here.
func registerSimulators(selector *backend.Selector) {
	sim := backend.NewClassicalSimulator("local-classical", "local", 0.00001)
	selector.Register(domain.BackendClassical, backend.Candidate{Name: "local-classical", Driver: sim})
}

// buildOptimizer selects the bandit strategy named by cfg.Algorithm and
// wraps it in a Service with the engine's adaptation and reward-scaling
// configuration.
func buildOptimizer(cfg config.OptimizerConfig) *optimizer.Service {
	var algorithm optimizer.Algorithm
	switch cfg.Algorithm {
	case config.AlgorithmThompson:
		algorithm = optimizer.NewThompsonSampling(nil)
	case config.AlgorithmEpsilonGreedy:
		algorithm = optimizer.NewEpsilonGreedy(0.1, nil)
	case config.AlgorithmUCB1:
		algorithm = optimizer.NewUCB1()
	default:
		algorithm = optimizer.NewLinUCB(cfg.Alpha)
	}

	policy := optimizer.DefaultAdaptationPolicy()
	policy.MinSamples = cfg.MinSamples
	policy.ImprovementThreshold = cfg.ImprovementThreshold
	policy.Cooldown = time.Duration(cfg.CooldownSeconds) * time.Second
	policy.MaxParameterChange = cfg.MaxParameterChange

	ceilings := optimizer.RewardCeilings{
		MaxLatencySeconds: cfg.RewardCeilingLatencySeconds,
		MaxCost:           cfg.RewardCeilingCost,
	}
	return optimizer.NewService(algorithm, policy, ceilings)
}

func buildZapLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// metricsAddrFrom derives a distinct port for the Prometheus endpoint from
// the status server's address (one port higher), so the two read-only
// surfaces never collide on the same listener.
func metricsAddrFrom(statusAddr string) (string, error) {
	host, portStr, err := net.SplitHostPort(statusAddr)
	if err != nil {
		return "", err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("parse port %q: %w", portStr, err)
	}
	return net.JoinHostPort(host, strconv.Itoa(port+1)), nil
}
