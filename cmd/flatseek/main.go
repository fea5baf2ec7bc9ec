package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"flatseek/internal/auth"
	"flatseek/internal/cmdlog"
	"flatseek/internal/compose"
	"flatseek/internal/config"
	"flatseek/internal/dispatch"
	"flatseek/internal/fetch"
	"flatseek/internal/jobs"
	"flatseek/internal/logger"
	"flatseek/internal/metrics"
	"flatseek/internal/model"
	"flatseek/internal/personalize"
	"flatseek/internal/store/botdb"
	"flatseek/internal/theme"
	"flatseek/internal/wgclient"
)

func main() {
	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "init":
		cmdInit()
	case "login":
		cmdLogin()
	case "once":
		cmdOnce()
	case "run":
		cmdRun()
	case "personalize":
		cmdPersonalize()
	case "status":
		cmdStatus()
	default:
		printHelp()
	}
}

func printHelp() {
	theme.PrintBanner()
	fmt.Println("Usage: flatseek <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  init         Create a config file at ./flatseek.yaml")
	fmt.Println("  login        Test login and city lookup, then exit")
	fmt.Println("  once         Run a single cycle")
	fmt.Println("  run          Run cycles on the configured interval")
	fmt.Println("  personalize  Test the configured LLM provider")
	fmt.Println("  status       Show recent runs")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func loadConfig(path string) (config.Config, *zap.Logger) {
	cfg, err := config.Load(path)
	if err != nil {
		fatal(fmt.Errorf("load config %s: %w", path, err))
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fatal(err)
	}
	return cfg, log
}

// bot bundles everything a cycle needs plus the resources to release.
type bot struct {
	*jobs.Bot
	auth  *auth.Manager
	store *botdb.DB
	log   *zap.Logger
}

func buildBot(ctx context.Context, cfg config.Config, log *zap.Logger) (*bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := botdb.Open(ctx, cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	client := wgclient.New(cfg.Protocol)
	creds := model.Credentials{Email: cfg.Account.Email, Password: cfg.Account.Password}
	strategies := auth.StrategiesFor(cfg.Account.AuthMode, cfg.Account.VerificationCode)
	manager := auth.NewManager(client, creds, store, strategies, cfg.Bot.MaxAuthFailures, log)

	var p personalize.Personalizer
	if resolved, ok := cfg.ResolveLLM(); ok && resolved.Enabled {
		p, err = personalize.FromResolved(resolved)
		if err != nil {
			// Personalization is best-effort from the first moment:
			// a bad LLM config degrades to plain templates.
			log.Warn("personalizer disabled", zap.Error(err))
			p = nil
		} else if resolved.Legacy {
			log.Info("using legacy gemini config block; migrate to llm:")
		}
	}
	composer := compose.New(compose.LoadTemplate(cfg.MessageFile), p, log)
	collector := fetch.NewCollector(client, cfg.Search.MaxPages, cfg.Search.PageSize, log)
	dispatcher := dispatch.New(manager, client, store, composer, cfg.Bot, log)

	return &bot{
		Bot:   jobs.NewBot(client, manager, store, collector, dispatcher, cfg, log),
		auth:  manager,
		store: store,
		log:   log,
	}, nil
}

// close flushes the session and the state db; called on every exit path
// so an interrupt never loses the contacted set or the session.
func (b *bot) close(ctx context.Context) {
	if err := b.auth.Flush(ctx); err != nil {
		b.log.Warn("session flush failed", zap.Error(err))
	}
	if err := b.store.Close(); err != nil {
		b.log.Warn("state db close failed", zap.Error(err))
	}
	_ = b.log.Sync()
}

func cmdInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", "./flatseek.yaml", "path to write config")
	_ = fs.Parse(os.Args[2:])
	if err := config.Save(*path, config.Default()); err != nil {
		fatal(err)
	}
	abs, _ := filepath.Abs(*path)
	theme.PrintBanner()
	fmt.Println("Config written to:", abs)
	fmt.Println("Fill in account credentials (or FLATSEEK_EMAIL / FLATSEEK_PASSWORD).")
}

func cmdLogin() {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	cfgPath := fs.String("config", "./flatseek.yaml", "config path")
	_ = fs.Parse(os.Args[2:])
	cfg, log := loadConfig(*cfgPath)
	ctx := context.Background()
	b, err := buildBot(ctx, cfg, log)
	if err != nil {
		fatal(err)
	}
	defer b.close(ctx)
	err = cmdlog.Run("login", log, func() error {
		sess, err := b.auth.Authenticate(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("login ok: user_id=%s auth_mode=%s expires=%s\n",
			sess.UserID, sess.AuthMode, sess.ExpiresAt.Format(time.RFC3339))
		return nil
	})
	if err != nil {
		os.Exit(1)
	}
}

func cmdOnce() {
	fs := flag.NewFlagSet("once", flag.ExitOnError)
	cfgPath := fs.String("config", "./flatseek.yaml", "config path")
	dryRun := fs.Bool("dry-run", false, "force dry-run for this cycle")
	_ = fs.Parse(os.Args[2:])
	cfg, log := loadConfig(*cfgPath)
	if *dryRun {
		cfg.Bot.DryRun = true
	}
	ctx := context.Background()
	b, err := buildBot(ctx, cfg, log)
	if err != nil {
		fatal(err)
	}
	defer b.close(ctx)
	err = cmdlog.Run("once", log, func() error {
		rec, err := b.RunCycleOnce(ctx)
		fmt.Printf("cycle done: seen=%d matched=%d new=%d sent=%d errors=%d\n",
			rec.OffersSeen, rec.OffersMatched, rec.OffersNew, rec.MessagesSent, len(rec.Errors))
		return err
	})
	if err != nil {
		os.Exit(1)
	}
}

func cmdRun() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./flatseek.yaml", "config path")
	_ = fs.Parse(os.Args[2:])
	cfg, log := loadConfig(*cfgPath)

	// The cycle in flight finishes its current listing before the
	// process exits; a second signal kills immediately.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := buildBot(ctx, cfg, log)
	if err != nil {
		fatal(err)
	}
	defer b.close(context.Background())

	metrics.StartServer(cfg.MetricsAddr)
	theme.PrintBanner()
	log.Info("scheduler starting",
		zap.Int("interval_minutes", cfg.Bot.IntervalMinutes),
		zap.Bool("dry_run", cfg.Bot.DryRun))

	err = b.RunCycleLoop(ctx)
	if err != nil && errors.Is(err, auth.ErrInvalidated) {
		b.close(context.Background())
		fatal(err)
	}
}

func cmdPersonalize() {
	fs := flag.NewFlagSet("personalize", flag.ExitOnError)
	cfgPath := fs.String("config", "./flatseek.yaml", "config path")
	_ = fs.Parse(os.Args[2:])
	cfg, log := loadConfig(*cfgPath)
	resolved, ok := cfg.ResolveLLM()
	if !ok {
		fatal(errors.New("no llm config found: add an llm: block (or legacy gemini: block)"))
	}
	if resolved.Legacy {
		fmt.Println("note: settings come from the legacy gemini: block")
	}
	p, err := personalize.FromResolved(resolved)
	if err != nil {
		fatal(err)
	}
	err = cmdlog.Run("personalize", log, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		text, err := p.Personalize(ctx, personalize.Request{
			Template:  compose.LoadTemplate(cfg.MessageFile),
			Recipient: "Max",
			Title:     "Helles WG-Zimmer in Altona",
			District:  "Altona",
			Rent:      550,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s) works:\n%s\n", resolved.Source, resolved.Model, text)
		return nil
	})
	if err != nil {
		os.Exit(1)
	}
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfgPath := fs.String("config", "./flatseek.yaml", "config path")
	count := fs.Int("n", 5, "number of runs to show")
	_ = fs.Parse(os.Args[2:])
	cfg, _ := loadConfig(*cfgPath)
	ctx := context.Background()
	store, err := botdb.Open(ctx, cfg.Storage.DBPath)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	runs, err := store.LastRuns(ctx, *count)
	if err != nil {
		fatal(err)
	}
	theme.PrintBanner()
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet")
		return
	}
	fmt.Printf("Contacted listings: %d\n", store.ContactedCount())
	fmt.Println("Recent runs:")
	for _, r := range runs {
		mode := ""
		if r.DryRun {
			mode = " [dry]"
		}
		status := "ok"
		if len(r.Errors) > 0 {
			status = fmt.Sprintf("%d error(s)", len(r.Errors))
		}
		fmt.Printf("  %s%s  seen=%d matched=%d new=%d sent=%d  %s\n",
			r.Timestamp.Format("2006-01-02 15:04"), mode,
			r.OffersSeen, r.OffersMatched, r.OffersNew, r.MessagesSent, status)
	}
}
