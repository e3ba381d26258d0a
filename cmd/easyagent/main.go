package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/oklog/ulid/v2"

	"easyagent/internal/adapter/blob"
	"easyagent/internal/adapter/gateway"
	"easyagent/internal/adapter/llm"
	"easyagent/internal/adapter/mcp"
	"easyagent/internal/adapter/storage"
	"easyagent/internal/domain"
	"easyagent/internal/infra/config"
	"easyagent/internal/infra/logger"
	"easyagent/internal/infra/tracer"
	"easyagent/internal/usecase"
)

func main() {
	flags, args := parseArgs()

	if flags.Help {
		showUsage()
		return
	}

	switch {
	case len(args) > 0 && args[0] == "serve":
		if err := runServe(flags); err != nil {
			fmt.Fprintf(os.Stderr, "serve: %v\n", err)
			os.Exit(1)
		}
	case len(args) > 0 && args[0] == "agents":
		if err := runAgents(flags); err != nil {
			fmt.Fprintf(os.Stderr, "agents: %v\n", err)
			os.Exit(1)
		}
	case len(args) > 0:
		if err := runQuery(flags, strings.Join(args, " ")); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	default:
		showUsage()
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`easyagent - multi-agent orchestration engine

USAGE:
    easyagent [FLAGS] serve          Start the HTTP gateway
    easyagent [FLAGS] agents         List registered capabilities
    easyagent [FLAGS] "your query"   Run one request and print the answer

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)
    --session ID       Session to run or resume (one-shot mode)
    --stream           Print oracle output incrementally (one-shot mode)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: EASYAGENT_* variables override config`)
}

// cliFlags holds the parsed command line flags.
type cliFlags struct {
	Config  string
	Session string
	Stream  bool
	Help    bool
}

// parseArgs splits os.Args into flags and positional arguments.
func parseArgs() (cliFlags, []string) {
	flags := cliFlags{Config: "config.yaml"}
	var args []string
	for i := 1; i < len(os.Args); i++ {
		switch {
		case os.Args[i] == "--help" || os.Args[i] == "-h" || os.Args[i] == "help":
			flags.Help = true
		case os.Args[i] == "--config" && i+1 < len(os.Args):
			flags.Config = os.Args[i+1]
			i++
		case strings.HasPrefix(os.Args[i], "--config="):
			flags.Config = strings.TrimPrefix(os.Args[i], "--config=")
		case os.Args[i] == "--session" && i+1 < len(os.Args):
			flags.Session = os.Args[i+1]
			i++
		case strings.HasPrefix(os.Args[i], "--session="):
			flags.Session = strings.TrimPrefix(os.Args[i], "--session=")
		case os.Args[i] == "--stream":
			flags.Stream = true
		default:
			args = append(args, os.Args[i])
		}
	}
	return flags, args
}

// engine bundles everything a command needs, with a cleanup that closes
// stores, tool servers, and the tracer in reverse order.
type engine struct {
	cfg          *config.Config
	log          *slog.Logger
	orchestrator *usecase.Orchestrator
	registry     *usecase.Registry
	store        domain.SessionStore
	blobs        domain.BlobStore
	cleanup      func()
}

func buildEngine(ctx context.Context, flags cliFlags) (*engine, error) {
	// 1. Config
	cfg, err := config.Load(flags.Config)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	// 2. Logger & tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		logCloser()
		return nil, fmt.Errorf("tracer: %w", err)
	}

	var cleanups []func()
	cleanups = append(cleanups, func() { logCloser() }, func() { tracerShutdown(context.Background()) })
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// 3. Session persistence
	var store domain.SessionStore
	if cfg.Storage.Enabled {
		sqlStore, err := storage.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("storage: %w", err)
		}
		cleanups = append(cleanups, func() { sqlStore.Close() })
		store = sqlStore
	}

	// 4. Artifact storage
	var blobs domain.BlobStore
	if cfg.Blob.Dir != "" {
		blobs, err = blob.NewFileStore(cfg.Blob.Dir)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("blob storage: %w", err)
		}
	}

	// 5. Capability registry: built-ins, manifests, then tool servers
	registry := usecase.NewRegistry(log)
	if cfg.Capabilities.Dir != "" {
		if err := registry.LoadDir(cfg.Capabilities.Dir); err != nil {
			log.Warn("capability manifests not loaded", "dir", cfg.Capabilities.Dir, "error", err)
		}
	}
	if len(cfg.MCP) > 0 {
		caps, closeServers := mcp.BuildCapabilities(ctx, cfg.MCP, log)
		cleanups = append(cleanups, closeServers)
		if err := registry.AddProvider(caps...); err != nil {
			cleanup()
			return nil, fmt.Errorf("tool capabilities: %w", err)
		}
	}

	// 6. Completion oracle
	var oracle domain.LLMProvider = llm.NewOpenAIProvider(cfg.LLM.Provider, log)
	if cfg.LLM.CircuitBreaker.Enabled {
		oracle = llm.NewCircuitBreakerProvider(oracle, cfg.LLM.CircuitBreaker, log)
	}

	// 7. Orchestrator
	orchestrator := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		LLM:        oracle,
		Registry:   registry,
		Contexts:   usecase.NewContextStore(),
		Store:      store,
		Logger:     log,
		MaxRetries: cfg.Orchestrator.MaxRetries,
		MaxTurns:   cfg.Orchestrator.MaxTurns,
	})

	log.Info("engine ready",
		"provider", cfg.LLM.Provider.Name,
		"model", cfg.LLM.Provider.Model,
		"agents", registry.ActiveNames(),
		"persistence", store != nil,
	)

	return &engine{
		cfg:          cfg,
		log:          log,
		orchestrator: orchestrator,
		registry:     registry,
		store:        store,
		blobs:        blobs,
		cleanup:      cleanup,
	}, nil
}

func runServe(flags cliFlags) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, err := buildEngine(ctx, flags)
	if err != nil {
		return err
	}
	defer eng.cleanup()

	srv := gateway.NewServer(eng.orchestrator, eng.registry, eng.store, eng.blobs, eng.cfg.Gateway, eng.log)
	return srv.Start(ctx)
}

func runAgents(flags cliFlags) error {
	eng, err := buildEngine(context.Background(), flags)
	if err != nil {
		return err
	}
	defer eng.cleanup()

	for _, c := range eng.registry.All() {
		status := "active"
		if !c.Active {
			status = "inactive"
			if c.InactiveReason != "" {
				status += " (" + c.InactiveReason + ")"
			}
		}
		fmt.Printf("%-24s %-10s %s\n", c.Name, status, c.Description)
	}
	return nil
}

func runQuery(flags cliFlags, input string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, err := buildEngine(ctx, flags)
	if err != nil {
		return err
	}
	defer eng.cleanup()

	sessionID := flags.Session
	if sessionID == "" {
		sessionID = ulid.Make().String()
	}

	// An explicit session with a pending pause resumes instead of starting
	// over.
	var snapshot *domain.PauseSnapshot
	if flags.Session != "" && eng.store != nil {
		snap, err := eng.store.GetPauseSnapshot(ctx, sessionID)
		if err != nil && !errors.Is(err, domain.ErrSnapshotNotFound) {
			return fmt.Errorf("load snapshot: %w", err)
		}
		snapshot = snap
	}

	if flags.Stream {
		return streamQuery(ctx, eng, sessionID, input, snapshot)
	}

	var result *usecase.RunResult
	if snapshot != nil {
		result, err = eng.orchestrator.Resume(ctx, sessionID, *snapshot, input)
	} else {
		result, err = eng.orchestrator.Run(ctx, sessionID, input)
	}
	if err != nil {
		return err
	}
	return printResult(sessionID, result)
}

func streamQuery(ctx context.Context, eng *engine, sessionID, input string, snapshot *domain.PauseSnapshot) error {
	var events <-chan domain.StreamEvent
	if snapshot != nil {
		events = eng.orchestrator.ResumeStream(ctx, sessionID, *snapshot, input)
	} else {
		events = eng.orchestrator.RunStream(ctx, sessionID, input)
	}

	for ev := range events {
		switch ev.Type {
		case domain.EventAgentStart:
			fmt.Fprintf(os.Stderr, "[%s]\n", ev.Agent)
		case domain.EventDelta:
			fmt.Print(ev.Content)
		case domain.EventAgentEnd:
			fmt.Println()
		case domain.EventPause:
			fmt.Printf("\ninput required: %s\n", ev.Content)
			fmt.Printf("reply with: easyagent --session %s \"...\"\n", sessionID)
		case domain.EventError:
			if ev.Final {
				return fmt.Errorf("%s", ev.Err)
			}
			fmt.Fprintf(os.Stderr, "retrying: %s\n", ev.Err)
		case domain.EventMetadata:
			if ev.Final {
				if answer, ok := ev.Meta["answer"].(string); ok && answer != "" {
					fmt.Printf("\n%s\n", answer)
				}
			}
		}
	}
	return ctx.Err()
}

func printResult(sessionID string, result *usecase.RunResult) error {
	switch result.State {
	case usecase.StateDone:
		fmt.Println(result.Answer)
	case usecase.StatePaused:
		fmt.Printf("input required: %s\n", result.Answer)
		fmt.Printf("reply with: easyagent --session %s \"...\"\n", sessionID)
	case usecase.StateFailed:
		return fmt.Errorf("%s", result.Reason)
	}
	return nil
}
