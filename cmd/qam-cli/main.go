// Command qam-cli is the operator-facing one-shot client for the QAM
// control plane: it connects to the same Postgres/Redis backing stores as
// qam-engine and drives the Deployment Supervisor and Execution Runner
// directly, so its effects are visible to any running qam-engine and vice
// versa.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/qam-project/qam/internal/config"
	"github.com/qam-project/qam/pkg/audit"
	"github.com/qam-project/qam/pkg/backend"
	"github.com/qam-project/qam/pkg/deployment"
	"github.com/qam-project/qam/pkg/domain"
	"github.com/qam-project/qam/pkg/execution"
	"github.com/qam-project/qam/pkg/optimizer"
	"github.com/qam-project/qam/pkg/policy"
	"github.com/qam-project/qam/pkg/registry"
	"github.com/qam-project/qam/pkg/reservation"
	"github.com/qam-project/qam/pkg/shared/logging"
)

// commands maps a subcommand name to its handler. Each handler owns its own
// flag.FlagSet so usage strings stay scoped to the subcommand, the same
// per-subcommand-flagset idiom the rest of this codebase's single-command
// entrypoints use for top-level flags.
var commands = map[string]func(cli *cli, args []string) error{
	"deploy":           cmdDeploy,
	"execute":          cmdExecute,
	"get":              cmdGet,
	"list":             cmdList,
	"suspend":          cmdSuspend,
	"resume":           cmdResume,
	"archive":          cmdArchive,
	"publish-template": cmdPublishTemplate,
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the engine configuration file")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	name := flag.Arg(0)
	handler, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "qam-cli: unknown command %q\n", name)
		usage()
		os.Exit(2)
	}

	cliCtx, err := newCLI(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qam-cli: %v\n", err)
		os.Exit(1)
	}
	defer cliCtx.close()

	if err := handler(cliCtx, flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "qam-cli: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: qam-cli [-config path] <command> [args]")
	fmt.Fprintln(os.Stderr, "commands: deploy, execute, get, list, suspend, resume, archive, publish-template")
}

// cli bundles the subset of the control plane's wiring a one-shot command
// needs: the Supervisor and Runner for lifecycle/execution commands, the
// template Repository for publish-template, and the raw handles so each
// command can Close them on exit.
type cli struct {
	db     *sqlx.DB
	rdb    *redis.Client
	sup    *deployment.Supervisor
	runner *execution.Runner
	repo   registry.Repository
	flush  func()
}

func newCLI(configPath string) (*cli, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	log, flush, err := logging.New(false, "qam-cli")
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	zapLog, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	db, err := sqlx.Connect("pgx", cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	repo := registry.NewPostgresRepository(db, zapLog)
	cache := policy.NewClassificationCache(rdb)
	gate := policy.NewGate(policy.NewStaticSanctionsList(nil), cache)
	gate.SetAllowedDestinations(cfg.Policy.AllowedDestinations)
	if _, err := policy.LoadRulesFile(context.Background(), gate, cfg.Policy.RulesPath); err != nil {
		fmt.Fprintf(os.Stderr, "qam-cli: warning: loading export control rules: %v\n", err)
	}

	approvals := policy.NewApprovalWorkflow(time.Duration(cfg.Approval.StageTimeoutHours) * time.Hour)
	ledger := reservation.NewRedisLedger(rdb)

	selector := backend.NewSelector()
	sim := backend.NewClassicalSimulator("local-classical", "local", 0.00001)
	selector.Register(domain.BackendClassical, backend.Candidate{Name: "local-classical", Driver: sim})
	breakers := backend.NewBreakerManager()

	auditStore := audit.NewPostgresStore(db, zapLog)
	chain := audit.NewChain(auditStore, nil, log)

	deployStore := deployment.NewPostgresStore(db, zapLog)
	sup := deployment.NewSupervisor(deployStore, repo, gate, approvals, ledger, selector, chain)
	runner := execution.NewRunner(selector, breakers, sup, 200*time.Millisecond)
	runner = runner.WithOptimizer(repo, buildOptimizer(cfg.Optimizer))

	return &cli{db: db, rdb: rdb, sup: sup, runner: runner, repo: repo, flush: flush}, nil
}

// buildOptimizer mirrors cmd/qam-engine's bandit-strategy selection so a
// one-shot execute() from the CLI feeds the same adaptive learner the
// monitoring engine does.
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

func (c *cli) close() {
	c.flush()
	_ = c.db.Close()
	_ = c.rdb.Close()
}

func cmdDeploy(c *cli, args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	templateID := fs.String("template", "", "template ID to deploy")
	version := fs.String("version", "", "template version (empty selects latest published)")
	tenant := fs.String("tenant", "", "tenant ID")
	priority := fs.Int("priority", 0, "tenant priority for FIFO resource-contention tie-breaks")
	actorID := fs.String("actor", "", "acting principal ID")
	jurisdiction := fs.String("jurisdiction", "", "acting principal's home jurisdiction")
	destination := fs.String("destination", "", "jurisdiction the export is headed to, used by the export control gate")
	hasDocumentation := fs.Bool("has-documentation", false, "actor holds the documentation required by applicable export-control exemptions")
	endUse := fs.String("end-use", "", "declared end use, used by the export control gate")
	configPath := fs.String("params", "", "path to a JSON file of deployment config (parameters, backend_preferences, allow_concurrent)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *templateID == "" || *tenant == "" {
		return fmt.Errorf("deploy: -template and -tenant are required")
	}

	var depCfg domain.DeploymentConfig
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return fmt.Errorf("read params file: %w", err)
		}
		if err := json.Unmarshal(data, &depCfg); err != nil {
			return fmt.Errorf("parse params file: %w", err)
		}
	}

	d, err := c.sup.Deploy(context.Background(), deployment.DeployInput{
		TemplateID:      *templateID,
		TemplateVersion: *version,
		TenantID:        *tenant,
		TenantPriority:  *priority,
		Config:          depCfg,
		Actor:           domain.Actor{ID: *actorID, Jurisdiction: *jurisdiction, HasDocumentation: *hasDocumentation},
		Destination:     *destination,
		EndUse:          *endUse,
	})
	if err != nil {
		return err
	}
	return printJSON(d)
}

func cmdExecute(c *cli, args []string) error {
	fs := flag.NewFlagSet("execute", flag.ExitOnError)
	deploymentID := fs.String("deployment", "", "deployment ID to execute against")
	circuit := fs.String("circuit", "", "circuit source/identifier to submit")
	shots := fs.Int("shots", 1000, "number of shots")
	qubits := fs.Int("qubits", 1, "circuit qubit width")
	depth := fs.Int("depth", 1, "circuit depth")
	optimization := fs.Int("optimization-level", 0, "backend optimization level")
	mitigation := fs.Bool("error-mitigation", false, "request error mitigation from the backend")
	timeout := fs.Duration("timeout", 5*time.Minute, "wall-clock deadline for the run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *deploymentID == "" || *circuit == "" {
		return fmt.Errorf("execute: -deployment and -circuit are required")
	}

	ctx := context.Background()
	existing, err := c.sup.Get(ctx, *deploymentID)
	if err != nil {
		return err
	}

	d, exec, err := c.sup.StartExecution(ctx, *deploymentID, domain.ExecutionConfig{
		Shots:             *shots,
		OptimizationLevel: *optimization,
		ErrorMitigation:   *mitigation,
	}, existing.Config.BackendPreferences, nil)
	if err != nil {
		return err
	}

	var fallbackChain []domain.BackendKind
	if d.SLAAgreement != nil {
		for _, req := range d.SLAAgreement.Requirements {
			fallbackChain = append(fallbackChain, req.FallbackChain...)
		}
	}

	report, err := c.runner.Run(ctx, d, exec, execution.CircuitSpec{
		Circuit: *circuit,
		Qubits:  *qubits,
		Depth:   *depth,
	}, d.SLAAgreement, fallbackChain, time.Now().Add(*timeout))
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	return printJSON(struct {
		Execution *domain.Execution        `json:"execution"`
		Report    *domain.ValidationReport `json:"validation_report,omitempty"`
	}{exec, report})
}

func cmdGet(c *cli, args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	id := fs.String("id", "", "deployment ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("get: -id is required")
	}
	d, err := c.sup.Get(context.Background(), *id)
	if err != nil {
		return err
	}
	return printJSON(d)
}

func cmdList(c *cli, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	deployments, err := c.sup.List(context.Background())
	if err != nil {
		return err
	}
	return printJSON(deployments)
}

func cmdSuspend(c *cli, args []string) error {
	return withID("suspend", args, c.sup.Suspend)
}

func cmdResume(c *cli, args []string) error {
	return withID("resume", args, c.sup.Resume)
}

func cmdArchive(c *cli, args []string) error {
	return withID("archive", args, c.sup.Archive)
}

func withID(name string, args []string, fn func(context.Context, string) (*domain.Deployment, error)) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	id := fs.String("id", "", "deployment ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("%s: -id is required", name)
	}
	d, err := fn(context.Background(), *id)
	if err != nil {
		return err
	}
	return printJSON(d)
}

// templateDoc is the on-disk shape a publish-template input file takes:
// the same fields registry's Postgres row carries, minus the wire-format
// split between Algorithm's family tag and its parameters, which JSON
// already has no trouble round-tripping through domain.GenericParameters
// for any algorithm this command doesn't special-case.
type templateDoc struct {
	ID                   string                       `json:"id"`
	Version              string                       `json:"version"`
	Category             string                       `json:"category"`
	Algorithms           []string                     `json:"algorithms"`
	AlgorithmFamily      string                       `json:"algorithm_family"`
	AlgorithmParams      json.RawMessage              `json:"algorithm_params"`
	ParameterSchema      []domain.ParameterSpec       `json:"parameter_schema"`
	ExportClassification *domain.ExportClassification `json:"export_classification"`
	SLARequirements      []domain.SLARequirement      `json:"sla_requirements"`
	ResourceEstimate     domain.ResourceEstimate      `json:"resource_estimate"`
	Status               string                       `json:"status"`
	Name                 string                       `json:"name"`
	Description          string                       `json:"description"`
	Tags                 []string                     `json:"tags"`
	ArmCount             int                          `json:"arm_count"`
}

func cmdPublishTemplate(c *cli, args []string) error {
	fs := flag.NewFlagSet("publish-template", flag.ExitOnError)
	path := fs.String("file", "", "path to a JSON template document")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("publish-template: -file is required")
	}

	data, err := os.ReadFile(*path)
	if err != nil {
		return fmt.Errorf("read template file: %w", err)
	}
	var doc templateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse template file: %w", err)
	}

	algo, err := algorithmFromDoc(doc.AlgorithmFamily, doc.AlgorithmParams)
	if err != nil {
		return err
	}

	tmpl := &domain.Template{
		ID:                    doc.ID,
		Version:               doc.Version,
		Category:              doc.Category,
		Algorithms:            doc.Algorithms,
		Algorithm:             algo,
		ParameterSchema:       doc.ParameterSchema,
		ExportClassification: doc.ExportClassification,
		SLARequirements:       doc.SLARequirements,
		ResourceEstimate:      doc.ResourceEstimate,
		Status:                domain.TemplateStatus(doc.Status),
		Name:                  doc.Name,
		Description:           doc.Description,
		Tags:                  doc.Tags,
		PublishedAt:           time.Now().UTC(),
		ArmCount:              doc.ArmCount,
	}

	if err := c.repo.Publish(context.Background(), tmpl); err != nil {
		return err
	}
	return printJSON(tmpl)
}

func algorithmFromDoc(family string, raw json.RawMessage) (domain.AlgorithmFamily, error) {
	switch family {
	case "":
		return nil, nil
	case "VQE":
		var p domain.VQEParameters
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parse VQE parameters: %w", err)
		}
		return p, nil
	case "QAOA":
		var p domain.QAOAParameters
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parse QAOA parameters: %w", err)
		}
		return p, nil
	case "Grover":
		var p domain.GroverParameters
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parse Grover parameters: %w", err)
		}
		return p, nil
	default:
		var p domain.GenericParameters
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parse generic parameters: %w", err)
		}
		return p, nil
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
