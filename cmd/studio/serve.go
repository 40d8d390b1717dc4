package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/danilop/ai-doc-read-studio/internal/api"
	"github.com/danilop/ai-doc-read-studio/internal/config"
	"github.com/danilop/ai-doc-read-studio/internal/db"
	"github.com/danilop/ai-doc-read-studio/internal/docstore"
	"github.com/danilop/ai-doc-read-studio/internal/generator"
	"github.com/danilop/ai-doc-read-studio/internal/inference"
	"github.com/danilop/ai-doc-read-studio/internal/live"
	"github.com/danilop/ai-doc-read-studio/internal/logging"
	"github.com/danilop/ai-doc-read-studio/internal/metrics"
	"github.com/danilop/ai-doc-read-studio/internal/notify"
	"github.com/danilop/ai-doc-read-studio/internal/orchestrator"
	"github.com/danilop/ai-doc-read-studio/internal/persona"
	"github.com/danilop/ai-doc-read-studio/internal/session"
	"github.com/danilop/ai-doc-read-studio/internal/usage"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the review studio API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, listen)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to studio config file")
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address, overrides server.listen")
	return cmd
}

func runServe(cmd *cobra.Command, configPath, listen string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}
	if err := logging.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	defer logging.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	a, err := buildApp(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.Close()

	if a.relay != nil {
		a.relay.Start(ctx)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Studio API running at http://localhost%s\n", cfg.Server.Listen)
	return a.server.Start(ctx, cfg.Server.Listen)
}

// app is the wired process: storage, generation, live channel and HTTP.
type app struct {
	gdb      *gorm.DB
	docs     *docstore.Store
	hub      *live.Hub
	registry *session.Registry
	orch     *orchestrator.Orchestrator
	server   *api.Server
	relay    *notify.Relay
}

func buildApp(ctx context.Context, cfg *config.Config, reg *prometheus.Registry) (*app, error) {
	log := logging.Log
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	gdb, err := db.Connect(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.gdb = gdb
	if err := db.AutoMigrate(gdb); err != nil {
		return nil, err
	}
	ledger, err := usage.New(usage.Opts{DB: gdb, Logger: log})
	if err != nil {
		return nil, err
	}

	docs, err := docstore.Open(docstore.Opts{Path: cfg.Documents.Dir, Logger: log})
	if err != nil {
		return nil, err
	}
	a.docs = docs

	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	a.hub = live.NewHub(live.HubOpts{Buffer: cfg.Live.SubscriberBuffer, Metrics: m, Logger: log})
	if err := a.hub.StartHeartbeat(cfg.Live.Heartbeat); err != nil {
		return nil, err
	}

	client, err := newInferenceClient(ctx, cfg.Inference)
	if err != nil {
		return nil, err
	}
	gen, err := generator.New(generator.Opts{
		Client:      inference.NewThrottled(client, cfg.Inference.RequestsPerSecond, cfg.Inference.Burst),
		Tiers:       inference.NewTiers(cfg.Inference.Tiers, cfg.Inference.DefaultTier),
		Timeout:     cfg.Orchestrator.GenerationTimeout.Duration(),
		MaxAttempts: cfg.Orchestrator.MaxAttempts,
		BaseBackoff: cfg.Orchestrator.RetryBaseBackoff.Duration(),
		MaxBackoff:  cfg.Orchestrator.RetryMaxBackoff.Duration(),
		Recorder:    ledger,
		Metrics:     m,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}

	a.registry = session.NewRegistry(session.RegistryOpts{})
	a.orch, err = orchestrator.New(orchestrator.Opts{
		Registry:    a.registry,
		Documents:   docs,
		Generator:   gen,
		Hub:         a.hub,
		Metrics:     m,
		Logger:      log,
		MaxParallel: cfg.Orchestrator.MaxParallel,
		Team: persona.TeamOpts{
			ModeratorName: cfg.Orchestrator.ModeratorName,
			Tiers:         cfg.TierNames(),
			DefaultTier:   cfg.Inference.DefaultTier,
		},
		SummaryTier: cfg.Inference.SummaryTier,
	})
	if err != nil {
		return nil, err
	}

	catalog, err := loadCatalog(cfg.Orchestrator.TemplatesFile)
	if err != nil {
		return nil, err
	}
	var limits *api.RateLimits
	if rl := cfg.Server.RateLimit; !rl.Disabled {
		limits = &api.RateLimits{Upload: rl.UploadPerMinute, Sessions: rl.SessionsPerMinute, Prompt: rl.PromptPerMinute}
	}
	a.server, err = api.New(api.Opts{
		Orchestrator: a.orch,
		Documents:    docs,
		Usage:        ledger,
		Hub:          a.hub,
		Metrics:      m,
		Templates:    catalog,
		Limits: docstore.Limits{
			MaxSize:    cfg.Documents.MaxUploadSize.Int64(),
			Extensions: cfg.Documents.AllowedExtensions,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Version:        cfg.Server.Version,
		ModeratorName:  cfg.Orchestrator.ModeratorName,
		RateLimits:     limits,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}

	senders, err := newSenders(cfg.Notify)
	if err != nil {
		return nil, err
	}
	if len(senders) > 0 {
		a.relay, err = notify.NewRelay(notify.RelayOpts{Source: a.hub, Senders: senders, Logger: log})
		if err != nil {
			return nil, err
		}
	}

	log.Info("studio ready",
		zap.String("inference", cfg.Inference.Provider),
		zap.String("database", cfg.Database.Driver),
		zap.Int("notify_senders", len(senders)))
	ok = true
	return a, nil
}

// Close releases everything buildApp opened, in reverse order.
func (a *app) Close() {
	if a.registry != nil {
		a.registry.Close()
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.relay != nil {
		a.relay.Wait()
	}
	if a.docs != nil {
		if err := a.docs.Close(); err != nil {
			logging.Log.Warn("close document store", zap.Error(err))
		}
	}
	if a.gdb != nil {
		if err := db.Close(a.gdb); err != nil {
			logging.Log.Warn("close database", zap.Error(err))
		}
	}
}

func newInferenceClient(ctx context.Context, cfg config.InferenceConfig) (inference.Client, error) {
	switch cfg.Provider {
	case "offline":
		return inference.NewOffline(), nil
	case "gemini", "vertex":
		return inference.NewGenAI(ctx, inference.GenAIOpts{
			Backend:         cfg.Provider,
			APIKey:          cfg.APIKey,
			Project:         cfg.Project,
			Location:        cfg.Location,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
		})
	default:
		return nil, fmt.Errorf("inference: unknown provider %q", cfg.Provider)
	}
}

func loadCatalog(path string) (*persona.Catalog, error) {
	if path == "" {
		return persona.DefaultCatalog()
	}
	return persona.LoadCatalog(path)
}

func newSenders(cfg config.NotifyConfig) ([]notify.Sender, error) {
	var senders []notify.Sender
	if cfg.Slack.Enabled() {
		s, err := notify.NewSlack(notify.SlackOpts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.ChannelID})
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}
	if cfg.Discord.Enabled() {
		d, err := notify.NewDiscord(notify.DiscordOpts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.ChannelID})
		if err != nil {
			return nil, err
		}
		senders = append(senders, d)
	}
	return senders, nil
}
