package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"webforge/config"
	"webforge/generator"
	"webforge/localstore"
	"webforge/logger"
	"webforge/metrics"
	"webforge/preview"
	"webforge/projects"
	"webforge/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file (yaml, json or toml)")
	prompt := flag.String("prompt", "", "prompt to generate from")
	mode := flag.String("mode", "", "website, email, blog or code")
	tone := flag.String("tone", "", "optional tone modifier")
	language := flag.String("language", "", "optional output language")
	model := flag.String("model", "", "model override for this run")
	variation := flag.Bool("variation", false, "generate a variation of the prompt after the first result")
	improve := flag.Bool("improve", false, "polish the result before printing it")
	out := flag.String("out", "", "write the rendered page to this file instead of printing the raw text")
	showHistory := flag.Bool("history", false, "list the recent prompts and exit")
	clearHistory := flag.Bool("clear-history", false, "clear the prompt history and exit")
	savePrompt := flag.Bool("save", false, "add -prompt to the saved prompts")
	serve := flag.Bool("serve", false, "start the web server")
	addr := flag.String("addr", "", "http listen address when -serve (overrides server_addr)")
	token := flag.String("token", "", "identity token for the project store; empty signs in anonymously")
	verbose := flag.Bool("v", false, "enable debug logs")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail(err)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding})
	if err != nil {
		fail(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		fail(err)
	}

	sess, err := buildSession(ctx, cfg, log, m)
	if err != nil {
		fail(err)
	}

	switch {
	case *showHistory:
		for _, e := range sess.View().History {
			req := e.Result.Request
			fmt.Printf("%s  %-7s  %s\n", e.Result.CreatedAt.Format(time.DateTime), req.Mode, req.PromptText)
		}
		return
	case *clearHistory:
		if err := sess.ClearHistory(ctx); err != nil {
			fail(err)
		}
		return
	}

	if *tone != "" || *language != "" {
		t, err := generator.ParseTone(*tone)
		if err != nil {
			fail(err)
		}
		l, err := generator.ParseLanguage(*language)
		if err != nil {
			fail(err)
		}
		if err := sess.SetPreferences(ctx, t, l); err != nil {
			fail(err)
		}
	}

	if *serve {
		dashboard, closeStore, err := buildDashboard(ctx, cfg, *token, log, m)
		if err != nil {
			fail(err)
		}
		defer closeStore()
		if err := runServer(ctx, cfg, *addr, sess, dashboard, reg, log); err != nil {
			fail(err)
		}
		return
	}

	if *prompt == "" {
		fmt.Fprintln(os.Stderr, "-prompt is required unless -serve, -history or -clear-history is set")
		os.Exit(2)
	}
	genCfg := sess.View().Config
	genCfg.Mode = generator.Mode(*mode)
	genCfg.Model = *model
	if err := sess.SetConfig(genCfg); err != nil {
		fail(err)
	}
	sess.SetPrompt(*prompt)
	if *savePrompt {
		sp, err := sess.SaveCurrentPrompt(ctx)
		if err != nil {
			fail(err)
		}
		log.Info("prompt saved", zap.String("id", sp.ID))
	}

	res, err := sess.SubmitCurrent(ctx)
	if err != nil {
		fail(err)
	}
	if *variation {
		if res, err = sess.RegenerateVariation(ctx, res.Request); err != nil {
			fail(err)
		}
	}
	if *improve {
		if res, err = sess.Improve(ctx); err != nil {
			fail(err)
		}
	}

	if *out != "" {
		if err := preview.Export(*out, res); err != nil {
			fail(err)
		}
		log.Info("page written", zap.String("path", *out), zap.String("content_kind", string(res.ContentKind)))
		return
	}
	fmt.Println(res.Text)
}

func buildSession(ctx context.Context, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (*generator.Session, error) {
	llm, err := generator.NewLLMClient(&generator.LLMSettings{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Timeout:  cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, err
	}
	model := cfg.LLM.Model
	if model == "" {
		model = generator.DefaultModel(cfg.LLM.Provider)
	}
	agent, err := generator.NewAgent(llm, generator.AgentOptions{
		Provider: cfg.LLM.Provider,
		Model:    model,
		Retry:    retryPolicy(cfg),
		Logger:   log,
		Metrics:  m,
	})
	if err != nil {
		return nil, err
	}
	store, err := localstore.NewFileStore(cfg.Session.StatePath)
	if err != nil {
		return nil, err
	}
	return generator.NewSession(ctx, agent, store, generator.SessionConfig{
		HistoryCapacity:      cfg.Session.HistoryCapacity,
		SavedCapacity:        cfg.Session.SavedCapacity,
		VariationTemperature: cfg.LLM.VariationTemperature,
	}, log)
}

func retryPolicy(cfg *config.Config) generator.RetryPolicy {
	return generator.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}
}

// buildDashboard returns a nil dashboard for the "none" backend. The caller
// runs the subscription.
func buildDashboard(ctx context.Context, cfg *config.Config, token string, log *zap.Logger, m *metrics.Metrics) (*projects.Dashboard, func(), error) {
	pc := cfg.Projects
	var (
		store      projects.Store
		auth       projects.Authenticator = projects.StaticAuthenticator{UID: pc.UserID}
		closeStore = func() {}
	)
	jwtAuth := projects.JWTAuthenticator{Secret: []byte(pc.JWTSecret), AllowAnonymous: true}
	if pc.JWTSecret != "" {
		auth = jwtAuth
	}
	switch pc.Backend {
	case "none":
		return nil, closeStore, nil
	case "memory":
		store = projects.NewMemoryStore()
	case "firestore":
		app, err := projects.NewFirebaseApp(ctx, projects.FirebaseConfig{
			ProjectID:       pc.Firebase.ProjectID,
			CredentialsFile: pc.Firebase.CredentialsFile,
		})
		if err != nil {
			return nil, nil, err
		}
		fs, err := projects.NewFirestoreStore(ctx, app, pc.AppID, log)
		if err != nil {
			return nil, nil, err
		}
		store, closeStore = fs, func() { _ = fs.Close() }
		if pc.UserID == "" {
			if auth, err = projects.NewFirebaseAuthenticator(ctx, app, log); err != nil {
				closeStore()
				return nil, nil, err
			}
		}
	case "redis":
		rdb, err := projects.NewRedisClient(ctx, projects.RedisConfig{
			Addr:      pc.Redis.Addr,
			Password:  pc.Redis.Password,
			DB:        pc.Redis.DB,
			KeyPrefix: pc.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		store, closeStore = projects.NewRedisStore(rdb, pc.Redis.KeyPrefix, log), func() { _ = rdb.Close() }
	case "postgres":
		pool, err := projects.NewPostgresPool(ctx, projects.PostgresConfig{
			DSN:      pc.Postgres.DSN,
			MaxConns: pc.Postgres.MaxConns,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		store, closeStore = projects.NewPostgresStore(pool, pc.AppID, log), pool.Close
	default:
		return nil, nil, fmt.Errorf("projects backend %q not supported", pc.Backend)
	}

	owner, err := auth.SignIn(ctx, token)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	if owner.Anonymous && pc.JWTSecret != "" && pc.Backend != "firestore" {
		// Hand the anonymous user a token so the next run finds the same projects.
		if tok, err := jwtAuth.IssueToken(owner, 0); err == nil {
			log.Info("anonymous session token issued; pass it with -token to resume", zap.String("token", tok))
		}
	}
	adapter, err := projects.NewAdapter(store, owner, log, m)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	d := projects.NewDashboard(adapter, log)
	log.Info("project store ready", zap.String("backend", pc.Backend), zap.String("uid", owner.UID), zap.Bool("anonymous", owner.Anonymous))
	return d, closeStore, nil
}

func runServer(ctx context.Context, cfg *config.Config, addr string, sess *generator.Session, d *projects.Dashboard, reg *prometheus.Registry, log *zap.Logger) error {
	srv, err := server.New(server.Options{
		Session:        sess,
		Dashboard:      d,
		Logger:         log,
		// The default registry carries the runtime and HTTP collectors.
		Gatherer:       prometheus.Gatherers{prometheus.DefaultGatherer, reg},
		RequestTimeout: retryPolicy(cfg).Budget(cfg.LLM.Timeout),
	})
	if err != nil {
		return err
	}
	listen := cfg.ServerAddr
	if addr != "" {
		listen = addr
	}
	if listen == "" {
		listen = ":8080"
	}
	httpSrv := &http.Server{Addr: listen, Handler: srv.Routes()}

	g, gctx := errgroup.WithContext(ctx)
	if d != nil {
		g.Go(func() error {
			// A broken subscription is reported through the dashboard; the
			// session routes keep serving.
			if err := d.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("project subscription stopped", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		log.Info("starting web server", zap.String("addr", listen))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down web server")
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
