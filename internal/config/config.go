// Package config loads and validates the QAM engine's configuration
// surface (spec §6) from YAML, and hot-reloads it on file change so policy
// rule updates can invalidate cached classifications without waiting out
// their TTL (see DESIGN.md's Open Question log).
package config

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	qerrors "github.com/qam-project/qam/pkg/shared/errors"
)

// MonitoringConfig controls the cadence of the three periodic engine loops.
type MonitoringConfig struct {
	MetricIntervalMs     int `yaml:"metric_interval_ms" validate:"min=100"`
	ValidationIntervalMs int `yaml:"validation_interval_ms" validate:"min=100"`
	AlertIntervalMs      int `yaml:"alert_interval_ms" validate:"min=100"`
}

// EngineConfig is the top-level monitoring loop configuration.
type EngineConfig struct {
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ClassificationConfig holds the Policy Gate's classification cache
// settings. The cache does not read TTLDays: its entries expire after a
// fixed 90 days.
type ClassificationConfig struct {
	TTLDays int `yaml:"ttl_days" validate:"min=1"`
}

// PolicyConfig groups Policy Gate configuration.
type PolicyConfig struct {
	Classification    ClassificationConfig `yaml:"classification"`
	RulesPath         string               `yaml:"rules_path" validate:"required"`
	AllowedDestinations []string           `yaml:"allowed_destinations"`
}

// ApprovalConfig controls the approval workflow's deadlines.
type ApprovalConfig struct {
	StageTimeoutHours int `yaml:"stage_timeout_hours" validate:"min=1"`
	TotalTimeoutHours int `yaml:"total_timeout_hours" validate:"min=1"`
}

// OptimizerAlgorithm enumerates the pluggable adaptive-optimizer learners.
type OptimizerAlgorithm string

const (
	AlgorithmLinUCB         OptimizerAlgorithm = "LINUCB"
	AlgorithmThompson       OptimizerAlgorithm = "THOMPSON"
	AlgorithmEpsilonGreedy  OptimizerAlgorithm = "EPSILON_GREEDY"
	AlgorithmUCB1           OptimizerAlgorithm = "UCB1"
)

// OptimizerConfig controls the Adaptive Optimizer's learning and adaptation
// behavior (spec §6, §4.4).
type OptimizerConfig struct {
	Algorithm           OptimizerAlgorithm `yaml:"algorithm" validate:"required,oneof=LINUCB THOMPSON EPSILON_GREEDY UCB1"`
	Alpha               float64            `yaml:"alpha" validate:"gte=0"`
	MaxParameterChange  float64            `yaml:"max_parameter_change" validate:"gte=0"`
	LearningRate        float64            `yaml:"learning_rate" validate:"gte=0"`
	ConvergenceWindow   int                `yaml:"convergence_window" validate:"min=1"`
	MinSamples          int                `yaml:"min_samples" validate:"min=1"`
	ImprovementThreshold float64           `yaml:"improvement_threshold"`
	CooldownSeconds     int                `yaml:"cooldown_seconds" validate:"min=0"`
	RewardCeilingLatencySeconds float64    `yaml:"reward_ceiling_latency_seconds" validate:"gt=0"`
	RewardCeilingCost           float64    `yaml:"reward_ceiling_cost" validate:"gt=0"`
}

// ReservationLimits caps the shared resource pools.
type ReservationLimits struct {
	QuantumMinutes    float64 `yaml:"qmins" validate:"gt=0"`
	ClassicalCompute  float64 `yaml:"cpu" validate:"gt=0"`
	MemoryGB          float64 `yaml:"mem_gb" validate:"gt=0"`
	StorageGB         float64 `yaml:"stor_gb" validate:"gt=0"`
}

// ReservationConfig groups the resource reservation pool limits.
type ReservationConfig struct {
	Limits ReservationLimits `yaml:"limits"`
}

// SLAConfig groups compliance and alert-dedup settings.
type SLAConfig struct {
	ComplianceWindowDays   int `yaml:"compliance_window_days" validate:"min=1"`
	AlertCooldownMinutes   int `yaml:"alert_cooldown_minutes" validate:"min=0"`
	CorrelationWindowSecs  int `yaml:"correlation_window_seconds" validate:"min=0"`
}

// RedisConfig is connection configuration for the reservation ledger and
// classification/arm caches.
type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"required"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig is connection configuration for the receipt/audit and
// registry persistence layer.
type PostgresConfig struct {
	DSN string `yaml:"dsn" validate:"required"`
}

// StatusServerConfig controls the read-only HTTP status/health surface.
type StatusServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// NotificationConfig selects and configures the alert delivery sinks (spec
// §5 alert queue processing). A blank SlackWebhookURL disables the Slack
// sink and leaves the file sink as the only delivery channel.
type NotificationConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	SlackChannel    string `yaml:"slack_channel"`
	FileSinkDir     string `yaml:"file_sink_dir"`
}

// Config is the full, validated QAM engine configuration.
type Config struct {
	Engine       EngineConfig       `yaml:"engine"`
	Policy       PolicyConfig       `yaml:"policy"`
	Approval     ApprovalConfig     `yaml:"approval"`
	Optimizer    OptimizerConfig    `yaml:"optimizer"`
	Reservation  ReservationConfig  `yaml:"reservation"`
	SLA          SLAConfig          `yaml:"sla"`
	Redis        RedisConfig        `yaml:"redis"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	StatusServer StatusServerConfig `yaml:"status_server"`
	Notification NotificationConfig `yaml:"notification"`
}

// Default returns a Config populated with the defaults spelled out across
// spec §4 and §6 (e.g. LinUCB alpha=0.25).
func Default() *Config {
	return &Config{
		Engine: EngineConfig{Monitoring: MonitoringConfig{
			MetricIntervalMs:     30000,
			ValidationIntervalMs: 60000,
			AlertIntervalMs:      10000,
		}},
		Policy: PolicyConfig{
			Classification: ClassificationConfig{TTLDays: 90},
		},
		Approval: ApprovalConfig{StageTimeoutHours: 24, TotalTimeoutHours: 72},
		Optimizer: OptimizerConfig{
			Algorithm:            AlgorithmLinUCB,
			Alpha:                0.25,
			MaxParameterChange:   0.2,
			LearningRate:         0.1,
			ConvergenceWindow:    50,
			MinSamples:           30,
			ImprovementThreshold: 0.02,
			CooldownSeconds:      300,
			RewardCeilingLatencySeconds: 30,
			RewardCeilingCost:           10,
		},
		Reservation: ReservationConfig{Limits: ReservationLimits{
			QuantumMinutes: 1000, ClassicalCompute: 256, MemoryGB: 512, StorageGB: 1024,
		}},
		SLA: SLAConfig{ComplianceWindowDays: 7, AlertCooldownMinutes: 15, CorrelationWindowSecs: 60},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Postgres: PostgresConfig{DSN: "postgres://localhost:5432/qam?sslmode=disable"},
		StatusServer: StatusServerConfig{Addr: ":8090"},
		Notification: NotificationConfig{FileSinkDir: os.TempDir()},
	}
}

var validate = validator.New()

// Load reads, parses and validates a YAML configuration file, overlaying
// it onto Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, qerrors.FailedToWithDetails("load configuration", "config", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, qerrors.ParseError(path, "YAML", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, qerrors.ConfigurationError(path, err.Error())
	}
	return cfg, nil
}

// Watcher reloads a Config whenever its backing file changes and publishes
// a new RuleGeneration so dependent caches (e.g. Policy Gate classification)
// know to invalidate rather than trust a stale TTL.
type Watcher struct {
	mu          sync.RWMutex
	cfg         *Config
	generation  uint64
	path        string
	watcher     *fsnotify.Watcher
	subscribers []chan uint64
}

// NewWatcher loads path and starts watching it for writes.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, qerrors.FailedTo("create config file watcher", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, qerrors.FailedToWithDetails("watch configuration file", "config", path, err)
	}
	w := &Watcher{cfg: cfg, path: path, watcher: fw, generation: 1}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Debounce rapid successive writes from editors/atomic renames.
			time.Sleep(50 * time.Millisecond)
			cfg, err := Load(w.path)
			if err != nil {
				continue
			}
			w.mu.Lock()
			w.cfg = cfg
			w.generation++
			gen := w.generation
			subs := append([]chan uint64(nil), w.subscribers...)
			w.mu.Unlock()
			for _, ch := range subs {
				select {
				case ch <- gen:
				default:
				}
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Current returns the latest loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Generation returns the current monotonic reload counter.
func (w *Watcher) Generation() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.generation
}

// Subscribe returns a channel that receives the new generation number on
// every reload. The channel is buffered by 1; a subscriber that falls
// behind misses intermediate generations but always eventually observes the
// latest one on its next read of Generation().
func (w *Watcher) Subscribe() <-chan uint64 {
	ch := make(chan uint64, 1)
	w.mu.Lock()
	w.subscribers = append(w.subscribers, ch)
	w.mu.Unlock()
	return ch
}

// Close stops the underlying file watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
