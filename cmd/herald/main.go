package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/agents"
	"github.com/Mindburn-Labs/herald/pkg/api"
	"github.com/Mindburn-Labs/herald/pkg/artifacts"
	"github.com/Mindburn-Labs/herald/pkg/audit"
	"github.com/Mindburn-Labs/herald/pkg/auth"
	"github.com/Mindburn-Labs/herald/pkg/config"
	"github.com/Mindburn-Labs/herald/pkg/limiter"
	"github.com/Mindburn-Labs/herald/pkg/llm"
	"github.com/Mindburn-Labs/herald/pkg/notify"
	"github.com/Mindburn-Labs/herald/pkg/observability"
	"github.com/Mindburn-Labs/herald/pkg/orchestrator"
	"github.com/Mindburn-Labs/herald/pkg/policy"
	"github.com/Mindburn-Labs/herald/pkg/prompts"
	"github.com/Mindburn-Labs/herald/pkg/publish"
	"github.com/Mindburn-Labs/herald/pkg/resiliency"
	"github.com/Mindburn-Labs/herald/pkg/scheduler"
	"github.com/Mindburn-Labs/herald/pkg/sources"
	"github.com/Mindburn-Labs/herald/pkg/store"
	"github.com/Mindburn-Labs/herald/pkg/tokens"
)

// version is stamped by the release build.
var version = "dev"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable so tests can stub the long-running path.
var startServer = runServer

// Run dispatches the subcommand; main wraps it so tests can drive the
// binary without exiting the process.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stderr)
	}
	switch args[1] {
	case "serve", "server":
		return startServer(stderr)
	case "run":
		return runOnce(args[2:], stdout, stderr)
	case "resume":
		return runResume(args[2:], stdout, stderr)
	case "weekly-report":
		return runWeeklyReport(args[2:], stdout, stderr)
	case "style-refresh":
		return runStyleRefresh(stdout, stderr)
	case "migrate":
		return runMigrate(stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "herald %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[1], "-") {
			return startServer(stderr)
		}
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "herald %s — evidence-grounded social drafts with a human gate\n", version)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  herald <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "SERVER")
	printCommand(w, "serve", "Run the scheduler and HTTP surface (default)")
	printCommand(w, "migrate", "Apply database migrations and exit")

	printSection(w, "PIPELINE")
	printCommand(w, "run", "Execute one pipeline run now (--run-id)")
	printCommand(w, "resume", "Retry a failed publish (--draft, --dry-run)")
	printCommand(w, "weekly-report", "Generate the weekly digest (--week)")
	printCommand(w, "style-refresh", "Rebuild the style profile from published posts")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s:\n", title)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %-14s %s\n", name, desc)
}

// deps is the wired application graph shared by serve and the one-shot
// subcommands.
type deps struct {
	cfg       *config.Config
	log       *slog.Logger
	store     *store.Store
	overrides *config.Overrides
	tokens    *tokens.Service
	auth      *auth.Service
	audit     *audit.Recorder
	obs       *observability.Provider
	orch      *orchestrator.Orchestrator
	publisher *publish.Coordinator
	limits    limiter.Store
}

//nolint:gocognit // linear wiring is clearer unsplit
func setup(ctx context.Context) (*deps, error) {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("store ready", "dialect", st.Dialect())

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "herald",
		ServiceVersion: version,
		Environment:    getenv("ENVIRONMENT", "development"),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       true,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	overrides := config.NewOverrides(st)
	tok := tokens.NewService(st)
	aud := audit.New(st, log)

	secret := cfg.SessionSecret
	if secret == "" {
		secret = randomSecret()
		log.Warn("SESSION_SECRET not set; admin sessions will not survive a restart")
	}
	authSvc := auth.NewService(st, secret, time.Duration(cfg.SessionTTLHours)*time.Hour)
	if cfg.AdminPassword == "" {
		log.Warn("ADMIN_PASSWORD not set; admin login is disabled")
	} else if err := authSvc.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("ensure admin: %w", err)
	}

	var llmc llm.Client
	if cfg.LLMAPIKey != "" {
		llmc = llm.NewHTTPClient(cfg.LLMAPIBase, cfg.LLMAPIKey, cfg.LLMModel)
	} else {
		log.Warn("LLM_API_KEY not set; every stage uses its deterministic fallback")
	}

	var pack *prompts.Pack
	if cfg.PromptPackPath != "" {
		pack, err = prompts.Load(cfg.PromptPackPath)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("prompt pack: %w", err)
		}
		log.Info("prompt pack loaded", "name", pack.Name, "version", pack.Version)
	}

	rules, err := policy.NewRules(policy.LoadRules(ctx, st, cfg.PolicyRulesPath))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("policy rules: %w", err)
	}
	engine := policy.New(rules, agents.ClaimsFunc(llmc, pack))

	var srcs []sources.Source
	if cfg.DevlogPath != "" {
		srcs = append(srcs, sources.NewDevlog(cfg.DevlogPath))
	}
	if cfg.GitRepoPath != "" {
		srcs = append(srcs, sources.NewGitLog(cfg.GitRepoPath, cfg.GitLookbackHours))
	}
	if cfg.GitHubToken != "" && cfg.GitHubRepo != "" {
		srcs = append(srcs, sources.NewGitHub(cfg.GitHubToken, cfg.GitHubRepo))
	}
	if len(cfg.RSSFeeds) > 0 {
		srcs = append(srcs, sources.NewRSS(cfg.RSSFeeds))
	}
	if cfg.NotionToken != "" && cfg.NotionDatabaseID != "" {
		srcs = append(srcs, sources.NewNotion(cfg.NotionToken, cfg.NotionDatabaseID))
	}
	if len(srcs) == 0 {
		log.Warn("no evidence sources configured; drafts will park for attention")
	}

	var channels []notify.Channel
	if cfg.SMTPHost != "" && cfg.ReviewerEmail != "" {
		channels = append(channels, notify.NewEmailChannel(
			cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom, cfg.ReviewerEmail))
	}
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, notify.NewSlackChannel(cfg.SlackWebhookURL,
			resiliency.New("slack", resiliency.WithTimeout(15*time.Second))))
	}
	if cfg.WhatsAppAPIURL != "" && cfg.WhatsAppToken != "" {
		channels = append(channels, notify.NewWhatsAppChannel(cfg.WhatsAppAPIURL, cfg.WhatsAppToken,
			resiliency.New("whatsapp", resiliency.WithTimeout(15*time.Second))))
	}
	if len(channels) == 0 {
		log.Warn("no notification channels configured; review links appear only in logs")
	}
	notifier := notify.New(log, channels...)

	var archiver *artifacts.Archiver
	artStore, err := artifacts.Open(ctx, artifacts.Options{
		Backend: cfg.ArtifactsBackend,
		Dir:     cfg.ArtifactsDir,
		Bucket:  cfg.ArtifactsBucket,
	})
	if err != nil {
		log.Warn("artifact store unavailable; snapshots will not be archived", "error", err)
	} else {
		archiver = artifacts.NewArchiver(artStore, log)
	}

	orch := orchestrator.New(orchestrator.Options{
		Config:    cfg,
		Overrides: overrides,
		Store:     st,
		Tokens:    tok,
		Engine:    engine,
		Sources:   srcs,
		LLM:       llmc,
		Pack:      pack,
		Notifier:  notifier,
		Archiver:  archiver,
		Audit:     aud,
		Metrics:   obs,
		Log:       log,
	})

	owner := "herald"
	if host, herr := os.Hostname(); herr == nil && host != "" {
		owner = host
	}
	publisher := publish.NewCoordinator(publish.Options{
		Store:   st,
		Tokens:  tok,
		Social:  publish.NewXClient(cfg.SocialAPIBase, cfg.SocialBearerToken),
		Gate:    publish.GateFunc(orch.PolicyGate()),
		Metrics: obs,
		Log:     log,
		Owner:   owner,
	})

	var limits limiter.Store
	if cfg.RedisAddr != "" {
		limits = limiter.NewRedisStore(cfg.RedisAddr, "", 0)
		log.Info("rate limiting via redis", "addr", cfg.RedisAddr)
	} else {
		limits = limiter.NewMemoryStore()
	}

	return &deps{
		cfg:       cfg,
		log:       log,
		store:     st,
		overrides: overrides,
		tokens:    tok,
		auth:      authSvc,
		audit:     aud,
		obs:       obs,
		orch:      orch,
		publisher: publisher,
		limits:    limits,
	}, nil
}

// Close releases everything setup opened.
func (d *deps) Close(ctx context.Context) {
	if err := d.obs.Shutdown(ctx); err != nil {
		d.log.Warn("telemetry shutdown", "error", err)
	}
	if err := d.store.Close(); err != nil {
		d.log.Warn("store close", "error", err)
	}
}

func runServer(stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := setup(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "herald: %v\n", err)
		return 1
	}

	pool := scheduler.NewPool(d.cfg.WorkerPoolSize, d.log, d.obs)
	if err := pool.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "herald: worker pool: %v\n", err)
		return 1
	}

	sched := scheduler.New(pool, d.log)
	sched.Register("daily_run", scheduler.Daily(d.cfg.DailyRunHour, d.cfg.DailyRunMinute),
		func(ctx context.Context) error {
			_, err := d.orch.StartRun(ctx, "scheduled", "")
			return err
		})
	weekday := time.Weekday(d.cfg.StyleRefreshWeekday)
	sched.Register("style_refresh", scheduler.Weekly(weekday, d.cfg.DailyRunHour, d.cfg.DailyRunMinute),
		func(ctx context.Context) error {
			_, err := d.orch.RefreshStyleProfile(ctx)
			return err
		})
	sched.Register("weekly_report", scheduler.Weekly(weekday, d.cfg.DailyRunHour, d.cfg.DailyRunMinute),
		func(ctx context.Context) error {
			start, end := orchestrator.LastWeek(time.Now().UTC())
			_, err := d.orch.GenerateWeeklyReport(ctx, start, end)
			return err
		})
	if err := sched.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "herald: scheduler: %v\n", err)
		return 1
	}

	srv := api.NewServer(api.Options{
		Config:       d.cfg,
		Overrides:    d.overrides,
		Store:        d.store,
		Auth:         d.auth,
		Orchestrator: d.orch,
		Publisher:    d.publisher,
		Audit:        d.audit,
		Limits:       d.limits,
		Idempotency:  api.NewIdempotencyStore(time.Hour),
		Runner:       pool,
		Log:          d.log,
	})
	httpSrv := &http.Server{
		Addr:              d.cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.log.Info("http server listening", "addr", d.cfg.HTTPAddr, "base_url", d.cfg.PublicBaseURL)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	exit := 0
	select {
	case <-ctx.Done():
		d.log.Info("shutdown signal received")
	case err := <-errCh:
		d.log.Error("http server failed", "error", err)
		exit = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		d.log.Warn("http shutdown", "error", err)
	}
	sched.Stop()
	pool.Stop()
	d.Close(shutdownCtx)
	d.log.Info("herald stopped")
	return exit
}

func runOnce(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	runID := fs.String("run-id", "", "reuse a fixed run id instead of minting one")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	d, err := setup(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "herald: %v\n", err)
		return 1
	}
	defer d.Close(ctx)

	res, err := d.orch.StartRun(ctx, "manual", *runID)
	if err != nil {
		fmt.Fprintf(stderr, "run failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "run %s completed: draft %s is %s\n", res.Run.ID, res.Draft.ID, res.Draft.Status)
	return 0
}

func runResume(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	fs.SetOutput(stderr)
	draftID := fs.String("draft", "", "draft id to resume (required)")
	dryRun := fs.Bool("dry-run", false, "force a dry run regardless of config")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *draftID == "" {
		fmt.Fprintln(stderr, "resume: --draft is required")
		fs.Usage()
		return 2
	}

	ctx := context.Background()
	d, err := setup(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "herald: %v\n", err)
		return 1
	}
	defer d.Close(ctx)

	settings := d.cfg.Settings(ctx, d.overrides)
	out := d.publisher.Resume(ctx, *draftID, *dryRun || settings.DryRun)
	if out.Code == http.StatusOK &&
		(out.State == publish.StatePosted || out.State == publish.StateDryRunPosted) {
		d.audit.Record(ctx, audit.ActionResume, *draftID, map[string]any{"state": out.State})
	}
	fmt.Fprintf(stdout, "%s: %s\n", out.State, out.Message)
	if len(out.TweetIDs) > 0 {
		fmt.Fprintf(stdout, "tweets: %s\n", strings.Join(out.TweetIDs, ", "))
	}
	if out.Code >= 400 {
		return 1
	}
	return 0
}

func runWeeklyReport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("weekly-report", flag.ContinueOnError)
	fs.SetOutput(stderr)
	week := fs.String("week", "", "week start date (YYYY-MM-DD, default last week)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	d, err := setup(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "herald: %v\n", err)
		return 1
	}
	defer d.Close(ctx)

	var start, end time.Time
	if *week != "" {
		t, perr := time.Parse("2006-01-02", *week)
		if perr != nil {
			fmt.Fprintf(stderr, "weekly-report: bad --week %q: %v\n", *week, perr)
			return 2
		}
		start = t.UTC()
		end = start.AddDate(0, 0, 7)
	} else {
		start, end = orchestrator.LastWeek(time.Now().UTC())
	}

	rep, err := d.orch.GenerateWeeklyReport(ctx, start, end)
	if err != nil {
		fmt.Fprintf(stderr, "weekly-report failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "report for %s to %s:\n",
		rep.WeekStart.Format("2006-01-02"), rep.WeekEnd.Format("2006-01-02"))
	var buf bytes.Buffer
	if err := json.Indent(&buf, rep.Report, "", "  "); err != nil {
		fmt.Fprintln(stdout, string(rep.Report))
		return 0
	}
	buf.WriteByte('\n')
	_, _ = stdout.Write(buf.Bytes())
	return 0
}

func runStyleRefresh(stdout, stderr io.Writer) int {
	ctx := context.Background()
	d, err := setup(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "herald: %v\n", err)
		return 1
	}
	defer d.Close(ctx)

	rec, err := d.orch.RefreshStyleProfile(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "style-refresh failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "style profile %d refreshed (%d opener templates)\n",
		rec.ID, len(rec.Profile.OpenerTemplates))
	return 0
}

func runMigrate(stdout, stderr io.Writer) int {
	ctx := context.Background()
	cfg := config.Load()
	slog.SetDefault(newLogger(cfg.LogLevel))

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(stderr, "herald: open store: %v\n", err)
		return 1
	}
	defer func() { _ = st.Close() }()
	if err := st.Migrate(ctx); err != nil {
		fmt.Fprintf(stderr, "herald: migrate: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "migrations applied (%s)\n", st.Dialect())
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// randomSecret mints a throwaway session-signing key for dev instances.
func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand does not fail on supported platforms
	}
	return hex.EncodeToString(b)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
