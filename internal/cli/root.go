// Package cli implements the ally command-line entrypoint: flag parsing,
// config loading, and wiring the agent runtime, tool registry, and
// command dispatcher together for an interactive or single-shot session.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/allyrun/ally/internal/agent"
	"github.com/allyrun/ally/internal/agent/providers"
	"github.com/allyrun/ally/internal/agentpool"
	"github.com/allyrun/ally/internal/background"
	"github.com/allyrun/ally/internal/commands"
	"github.com/allyrun/ally/internal/config"
	"github.com/allyrun/ally/internal/errkind"
	"github.com/allyrun/ally/internal/observability"
	"github.com/allyrun/ally/internal/services"
	"github.com/allyrun/ally/internal/sessions"
	"github.com/allyrun/ally/internal/tools/exec"
	"github.com/allyrun/ally/internal/tools/files"
	sessiontools "github.com/allyrun/ally/internal/tools/sessions"
	"github.com/allyrun/ally/internal/tools/subagent"
	"github.com/allyrun/ally/internal/tools/system"
	"github.com/allyrun/ally/internal/workspace"
	"github.com/allyrun/ally/pkg/models"
)

var (
	flagConfigPath     string
	flagModel          string
	flagEndpoint       string
	flagTemperature    float64
	flagContextSize    int
	flagMaxTokens      int
	flagReasoning      string
	flagAutoConfirm    bool
	flagSessionName    string
	flagResume         string
	flagOnce           string
	flagVerbose        bool
	flagDebug          bool
)

// Execute runs the ally root command; the return error is already
// classified via internal/errkind so the caller can derive an exit code.
func Execute() error {
	root := newRootCommand()
	return root.Execute()
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	return errkind.ExitCode(err)
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ally",
		Short:         "A local-LLM pair-programming agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&flagConfigPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&flagModel, "model", "", "model name to use")
	cmd.Flags().StringVar(&flagEndpoint, "endpoint", "", "local model endpoint base URL")
	cmd.Flags().Float64Var(&flagTemperature, "temperature", 0, "sampling temperature")
	cmd.Flags().IntVar(&flagContextSize, "context-size", 0, "model context window in tokens")
	cmd.Flags().IntVar(&flagMaxTokens, "max-tokens", 0, "maximum tokens per response")
	cmd.Flags().StringVar(&flagReasoning, "reasoning-effort", "", "reasoning effort hint (low|medium|high)")
	cmd.Flags().BoolVar(&flagAutoConfirm, "auto-confirm", false, "skip tool-use confirmation prompts")
	cmd.Flags().StringVar(&flagSessionName, "session", "", "named session to use or create")
	cmd.Flags().StringVar(&flagResume, "resume", "", "resume a prior session by id (bare flag resumes the most recent)")
	cmd.Lookup("resume").NoOptDefVal = "latest"
	cmd.Flags().StringVar(&flagOnce, "once", "", "run a single prompt non-interactively and exit")
	cmd.Flags().BoolVar(&flagVerbose, "verbose", false, "enable verbose logging")
	cmd.Flags().BoolVar(&flagDebug, "debug", false, "enable debug logging and tracing")

	return cmd
}

func run(ctx context.Context) error {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return errkind.New(errkind.KindValidation, err)
	}
	config.ApplyFlags(cfg, config.Flags{
		Model:           flagModel,
		Endpoint:        flagEndpoint,
		Temperature:     flagTemperature,
		ContextSize:     flagContextSize,
		MaxTokens:       flagMaxTokens,
		ReasoningEffort: flagReasoning,
		AutoConfirm:     flagAutoConfirm,
		Verbose:         flagVerbose,
		Debug:           flagDebug,
	})

	logLevel := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	provider, err := buildProviderChain(cfg)
	if err != nil {
		return errkind.New(errkind.KindValidation, err)
	}

	// An OAuth-fronted model gateway issues short-lived tokens; resolve one
	// per request instead of pinning a static API key.
	if tokenURL := os.Getenv("ALLY_OAUTH_TOKEN_URL"); tokenURL != "" {
		ctx = agent.WithAPIKeyResolver(ctx, providers.NewClientCredentialsResolver(
			ctx, tokenURL,
			os.Getenv("ALLY_OAUTH_CLIENT_ID"),
			os.Getenv("ALLY_OAUTH_CLIENT_SECRET"),
			nil,
		))
	}

	store, toolEvents, closeStore, err := openSessionStore(ctx, cfg)
	if err != nil {
		return errkind.New(errkind.KindSystem, err)
	}
	defer closeStore()

	workspaceDir, err := os.Getwd()
	if err != nil {
		return errkind.New(errkind.KindSystem, err)
	}
	systemPrompt := loadSystemPrompt(cfg)

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	broker, permissionRequests := newPermissionBroker(cfg, interactive && flagOnce == "")

	shells := background.NewShellSupervisor()
	shells.Configure(cfg.Tools.Shell.RingBufferLines, cfg.Tools.Shell.KillGrace, 0)
	defer shells.Stop()
	agents := background.NewAgentSupervisor(nil)
	defer agents.Stop()

	readState := agent.NewReadStateTracker()
	if watcher, werr := agent.WatchReadState(readState, workspaceDir); werr == nil {
		defer watcher.Close()
	}
	patches := agent.NewPatchJournal(agent.PatchJournalConfig{})
	checker := newHealthChecker(cfg)

	configureRuntime := func(rt *agent.Runtime) {
		rt.SetDefaultModel(cfg.LLM.Model)
		rt.SetSystemPrompt(systemPrompt)
		rt.SetMaxWallTime(cfg.Session.MaxDuration())
		rt.SetPermissionBroker(broker)
		if cfg.Session.Watchdog.Enabled {
			rt.SetWatchdog(&agent.WatchdogSettings{
				CheckInterval:    cfg.Session.Watchdog.CheckInterval,
				Timeout:          cfg.Session.Watchdog.Timeout,
				SafetyCeiling:    cfg.Session.Watchdog.RefcountSafetyCeiling,
				MaxContinuations: cfg.Session.Watchdog.MaxContinuations,
			})
		}
		if cfg.Session.LoopDetector.Enabled {
			rt.SetLoopDetection(&agent.LoopDetectionSettings{
				Patterns: []agent.LoopPattern{agent.RepetitionPattern(
					"chunk-repetition",
					cfg.Session.LoopDetector.RepetitionWindow,
					cfg.Session.LoopDetector.RepetitionCount,
				)},
				WarmupPeriod:  cfg.Session.LoopDetector.WarmupPeriod,
				CheckInterval: cfg.Session.LoopDetector.CheckInterval,
				StallTimeout:  cfg.Session.LoopDetector.StallTimeout,
			})
		}
		rt.SetCycleDetection(&agent.CycleSettings{
			WindowSize:     cfg.Session.Cycle.WindowSize,
			Threshold:      cfg.Session.Cycle.Threshold,
			BreakThreshold: cfg.Session.Cycle.BreakThreshold,
		})
		rt.SetExploratoryTracking(&agent.ExploratorySettings{
			GentleThreshold: cfg.Session.Exploratory.GentleThreshold,
			SternThreshold:  cfg.Session.Exploratory.SternThreshold,
		})
		if toolEvents != nil {
			rt.SetToolEventStore(toolEvents)
		}
		registerTools(rt, workspaceDir, checker, readState, patches, shells)
		rt.RegisterTool(sessiontools.NewListTool(store, "ally"))
		rt.RegisterTool(sessiontools.NewHistoryTool(store))
		rt.RegisterTool(sessiontools.NewStatusTool(store))
	}

	runtime := agent.NewRuntime(provider, store)
	configureRuntime(runtime)
	runtime.RegisterTool(sessiontools.NewSendTool(store, runtime))
	if flagDebug {
		if trace, err := agent.NewTracePluginFile(
			filepath.Join(os.TempDir(), "ally-trace-"+time.Now().Format("20060102-150405")+".jsonl"),
			uuid.NewString(),
		); err == nil {
			runtime.Use(trace)
			defer trace.Close()
		}
	}

	// Pooled sub-agent runtimes share the session store and tool set but
	// keep their own provider connection, conversation, and delegation tree.
	pool := agentpool.New(cfg.Tools.Subagents.PoolSize, uuid.NewString, func(pcfg agentpool.Config) agentpool.Agent {
		childProvider, perr := buildProviderChain(cfg)
		if perr != nil {
			childProvider = provider
		}
		child := agent.NewRuntime(childProvider, store)
		configureRuntime(child)
		if pcfg.MaxDuration > 0 {
			child.SetMaxWallTime(pcfg.MaxDuration)
		}
		return child
	})
	delegator := subagent.NewDelegator(pool, agents, cfg.Tools.Subagents.MaxDepth)
	runtime.RegisterTool(subagent.NewDelegateTool(delegator))
	runtime.RegisterTool(subagent.NewStatusTool(agents))

	registry := services.New()
	services.Register[sessions.Store](registry, store)
	services.Register[*agent.Runtime](registry, runtime)
	services.Register[*agentpool.Pool](registry, pool)
	services.Register[*background.ShellSupervisor](registry, shells)
	services.Register[*background.AgentSupervisor](registry, agents)
	services.Register[agent.PermissionBroker](registry, broker)

	metrics, shutdownObservability := wireObservability(ctx, cfg, runtime)
	defer shutdownObservability()
	delegator.SetMetrics(metrics)

	dispatcher := commands.NewDispatcher(commands.Dependencies{
		CurrentModel: func() string { return cfg.LLM.Model },
		SetModel:     func(name string) error { cfg.LLM.Model = name; runtime.SetDefaultModel(name); return nil },
		Plugins:      newPluginManager(cfg.Profile.PluginsDir, pool),
		Tasks:        newTaskFacade(shells, agents),
		Agents:       &agentView{runtime: runtime, pool: pool, bg: agents},
		Project:      &projectView{cfg: cfg},
		Debug:        newDebugInspector(checker, store, shells, agents),
	})

	session, err := resolveSession(ctx, cfg, store)
	if err != nil {
		return errkind.New(errkind.KindSystem, err)
	}

	if cfg.Session.Archive.Bucket != "" {
		defer func() {
			archiveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			archiver, aerr := sessions.NewS3Archiver(archiveCtx, cfg.Session.Archive.Bucket, cfg.Session.Archive.Region)
			if aerr != nil {
				slog.Warn("transcript archival unavailable", "error", aerr)
				return
			}
			if aerr := archiver.ArchiveSession(archiveCtx, store, session); aerr != nil {
				slog.Warn("transcript archival failed", "error", aerr)
			}
		}()
	}

	env := &commandEnv{dispatcher: dispatcher, runtime: runtime, store: store, session: session}
	if flagOnce != "" {
		return runOnce(ctx, runtime, env, session, flagOnce)
	}
	return runREPL(ctx, runtime, env, session, permissionRequests)
}

// loadSystemPrompt composes the system prompt from the workspace's project
// context files, falling back to a plain default when none exist.
func loadSystemPrompt(cfg *config.Config) string {
	const base = "You are ally, a pair-programming assistant running in the user's terminal. " +
		"Use the registered tools to read, edit, and run code; delegate self-contained subtasks."

	ws, err := workspace.LoadWorkspace(workspace.LoaderConfigFromConfig(cfg))
	if err != nil || ws == nil {
		return base
	}
	parts := []string{base}
	if ws.AgentsContent != "" {
		parts = append(parts, ws.AgentsContent)
	}
	if ws.SoulContent != "" {
		parts = append(parts, ws.SoulContent)
	}
	if ws.MemoryContent != "" {
		parts = append(parts, ws.MemoryContent)
	}
	return strings.Join(parts, "\n\n")
}

// wireObservability constructs Prometheus metrics and OpenTelemetry tracing
// per cfg.Observability and attaches them to runtime. Metrics export is
// started on cfg.Observability.Metrics.Addr when enabled; tracing exports to
// cfg.Observability.Tracing.OTLPEndpoint when enabled. The returned shutdown
// func flushes the tracer and must be deferred by the caller.
func wireObservability(ctx context.Context, cfg *config.Config, runtime *agent.Runtime) (*observability.Metrics, func()) {
	var metrics *observability.Metrics
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.NewMetrics()

		addr := cfg.Observability.Metrics.Addr
		if addr == "" {
			addr = "127.0.0.1:9090"
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		hub := newEventHub()
		mux.Handle("/events", hub)
		runtime.Use(hub)
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Warn("metrics server stopped", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	shutdownTracer := func(context.Context) error { return nil }
	var tracer *observability.Tracer
	if cfg.Observability.Tracing.Enabled {
		tracer, shutdownTracer = observability.NewTracer(observability.TraceConfig{
			ServiceName: cfg.Observability.Tracing.ServiceName,
			Endpoint:    cfg.Observability.Tracing.OTLPEndpoint,
		})
	}

	runtime.SetObservability(metrics, tracer)

	return metrics, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}
}

func sessionKey(name, resume string) string {
	switch {
	case resume != "":
		return "resume:" + resume
	case name != "":
		return "named:" + name
	default:
		return "default"
	}
}

// resolveSession picks the conversation for this run. --resume accepts
// either a signed resume token (verified against the profile's key) or a
// bare id; everything else goes through GetOrCreate on the session key.
// A fresh signed token is printed under --verbose so the session can be
// resumed from scripts or another shell.
func resolveSession(ctx context.Context, cfg *config.Config, store sessions.Store) (*models.Session, error) {
	key := resumeSigningKey(cfg)

	if flagResume != "" && flagResume != "latest" && strings.Count(flagResume, ".") == 2 {
		if id, err := sessions.VerifyResumeToken(key, flagResume); err == nil {
			return store.Get(ctx, id)
		} else {
			return nil, fmt.Errorf("invalid resume token: %w", err)
		}
	}

	session, err := store.GetOrCreate(ctx, sessionKey(flagSessionName, flagResume), "ally", models.ChannelCLI, "local")
	if err != nil {
		return nil, err
	}
	if flagVerbose {
		if token, terr := sessions.SignResumeToken(key, session.ID, 0); terr == nil {
			slog.Info("session resume token", "token", token)
		}
	}
	return session, nil
}

// resumeSigningKey loads the profile's resume-token key, minting one on
// first use.
func resumeSigningKey(cfg *config.Config) []byte {
	path := filepath.Join(cfg.Profile.ConfigDir, "resume.key")
	if data, err := os.ReadFile(path); err == nil && len(data) >= 16 {
		return data
	}
	key := []byte(uuid.NewString())
	if err := os.MkdirAll(cfg.Profile.ConfigDir, 0o700); err == nil {
		_ = os.WriteFile(path, key, 0o600)
	}
	return key
}

func registerTools(runtime *agent.Runtime, workspace string, checker *commands.HealthChecker, readState *agent.ReadStateTracker, patches *agent.PatchJournal, shells *background.ShellSupervisor) {
	fileCfg := files.Config{
		Workspace:    workspace,
		MaxReadBytes: 256 * 1024,
		ReadState:    readState,
		Patches:      patches,
	}
	runtime.RegisterTool(files.NewReadTool(fileCfg))
	runtime.RegisterTool(files.NewWriteTool(fileCfg))
	runtime.RegisterTool(files.NewEditTool(fileCfg))
	runtime.RegisterTool(files.NewLineEditTool(fileCfg))
	runtime.RegisterTool(files.NewApplyPatchTool(fileCfg))

	execManager := exec.NewManager(workspace)
	runtime.RegisterTool(exec.NewExecTool("bash", execManager, shells))
	runtime.RegisterTool(exec.NewBashOutputTool(shells))
	runtime.RegisterTool(exec.NewProcessTool(shells))

	runtime.RegisterTool(system.NewHealthTool(checker))
}

func runOnce(ctx context.Context, runtime *agent.Runtime, env *commandEnv, session *models.Session, text string) error {
	if strings.HasPrefix(strings.TrimSpace(text), "/") {
		return dispatchCommand(ctx, env, text, os.Stdout)
	}
	return sendMessage(ctx, runtime, session, text, os.Stdout)
}

// runREPL reads lines from stdin while at most one agent turn runs in the
// background. Lines typed during a turn are interjections: they are routed
// to the deepest currently-executing delegated agent, or to the root agent's
// steering queue when nothing is delegated. Lines typed while a permission
// request is pending answer that request instead.
func runREPL(ctx context.Context, runtime *agent.Runtime, env *commandEnv, session *models.Session, permissionRequests <-chan permissionRequest) error {
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	rootQueue := agent.NewSteeringQueue()

	lines := make(chan string)
	go func() {
		defer close(lines)
		reader := bufio.NewScanner(os.Stdin)
		reader.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for reader.Scan() {
			lines <- reader.Text()
		}
	}()

	var turnDone chan error
	var pendingPermission *permissionRequest

	prompt := func() {
		if interactive && turnDone == nil && pendingPermission == nil {
			fmt.Fprint(os.Stdout, "> ")
		}
	}
	prompt()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-turnDone:
			turnDone = nil
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			prompt()

		case req := <-permissionRequests:
			pendingPermission = &req
			if req.preview != "" {
				fmt.Fprintln(os.Stdout, req.preview)
			}
			fmt.Fprintf(os.Stdout, "Allow %s? [y/N] ", req.call.Name)

		case line, ok := <-lines:
			if !ok {
				if turnDone != nil {
					if err := <-turnDone; err != nil {
						return err
					}
				}
				return nil
			}
			line = strings.TrimSpace(line)

			if pendingPermission != nil {
				answer := strings.EqualFold(line, "y") || strings.EqualFold(line, "yes")
				pendingPermission.reply <- answer
				pendingPermission = nil
				continue
			}
			if line == "" {
				prompt()
				continue
			}
			if line == "/exit" || line == "/quit" {
				return nil
			}

			if turnDone != nil {
				routeInterjection(runtime, rootQueue, line)
				continue
			}

			if strings.HasPrefix(line, "/") {
				if err := dispatchCommand(ctx, env, line, os.Stdout); err != nil {
					fmt.Fprintln(os.Stderr, err)
				}
				prompt()
				continue
			}

			turnDone = make(chan error, 1)
			turnCtx := agent.WithSteeringQueue(ctx, rootQueue)
			go func(text string) {
				turnDone <- sendMessage(turnCtx, runtime, session, text, os.Stdout)
			}(line)
		}
	}
}

// routeInterjection delivers text to whichever agent is deepest in the
// delegation chain right now; with no active delegation it steers the root
// agent directly.
func routeInterjection(runtime *agent.Runtime, rootQueue *agent.SteeringQueue, text string) {
	if active, ok := runtime.DelegationTree().GetActiveDelegation(); ok && active.Context.Target != nil {
		active.Context.Target.InjectUserMessage(text)
		return
	}
	rootQueue.SteerText(text)
}

func dispatchCommand(ctx context.Context, env *commandEnv, line string, w io.Writer) error {
	name, args, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	res, err := env.dispatcher.Execute(ctx, &commands.Invocation{
		Name:    strings.ToLower(name),
		Args:    strings.TrimSpace(args),
		RawText: line,
	})
	if err != nil {
		return errkind.New(errkind.KindUser, err)
	}
	if res.Error != "" {
		fmt.Fprintln(w, res.Error)
		return nil
	}
	if !res.Suppress {
		fmt.Fprintln(w, res.Text)
	}
	if action, _ := res.Data["action"].(string); action != "" {
		return env.applyAction(ctx, action, w)
	}
	return nil
}

// commandEnv carries the session-mutating state slash-command actions
// operate on: /clear swaps in a fresh session, /compact summarizes now.
type commandEnv struct {
	dispatcher *commands.Registry
	runtime    *agent.Runtime
	store      sessions.Store
	session    *models.Session
}

func (e *commandEnv) applyAction(ctx context.Context, action string, w io.Writer) error {
	switch action {
	case "clear_session":
		fresh, err := e.store.GetOrCreate(ctx,
			fmt.Sprintf("cli:%d", time.Now().UnixMilli()),
			e.session.AgentID, e.session.Channel, e.session.ChannelID)
		if err != nil {
			return errkind.New(errkind.KindSystem, err)
		}
		*e.session = *fresh
	case "compact":
		if err := e.runtime.Compact(ctx, e.session); err != nil {
			return errkind.New(errkind.KindGeneral, err)
		}
		fmt.Fprintln(w, "Conversation compacted.")
	}
	return nil
}

func sendMessage(ctx context.Context, runtime *agent.Runtime, session *models.Session, text string, w io.Writer) error {
	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	}

	chunks, err := runtime.Process(ctx, session, msg)
	if err != nil {
		return errkind.New(errkind.KindGeneral, err)
	}

	for chunk := range chunks {
		if chunk.Error != nil {
			return errkind.New(errkind.KindGeneral, chunk.Error)
		}
		if chunk.Text != "" {
			fmt.Fprint(w, chunk.Text)
		}
	}
	fmt.Fprintln(w)
	return nil
}
