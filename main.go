package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"AstroBot/ai/gpt"
	"AstroBot/bot"
	"AstroBot/bot/chat"
	"AstroBot/bot/chat/flow"
	"AstroBot/bot/chat/telegram"
	wamessenger "AstroBot/bot/chat/whatsapp"
	"AstroBot/bot/whatsapp"
	"AstroBot/impl/core"
	"AstroBot/internal/bus"
	"AstroBot/internal/config"
	"AstroBot/internal/database"
	"AstroBot/internal/database/dynamostore"
	"AstroBot/internal/database/sqlstore"
	"AstroBot/internal/health"
	"AstroBot/internal/http-server/api"
	apiwhatsapp "AstroBot/internal/http-server/handlers/whatsapp"
	"AstroBot/internal/lib/logger"
	"AstroBot/internal/lib/sl"
	"AstroBot/internal/locale"
	"AstroBot/internal/metrics"
	"AstroBot/internal/service/astro"
	"AstroBot/internal/service/credentials"
	"AstroBot/internal/service/registry"
	"AstroBot/internal/ws"
)

const shutdownTimeout = 15 * time.Second

func main() {

	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	lg := logger.SetupLogger(conf.Env, *logPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds, err := newCredentials(ctx, conf, lg)
	if err != nil {
		fatal(lg, "credentials", err)
	}
	if err = creds.Init(ctx); err != nil {
		fatal(lg, "credentials init", err)
	}
	go creds.Run(ctx, conf.Credentials.RefreshInterval)

	if conf.Telegram.Enabled && conf.Telegram.AdminId != 0 {
		tgBot, err := bot.NewTgBot(conf.Telegram.BotName, creds.Value(credentials.TelegramApiKey), conf.Telegram.AdminId, lg)
		if err != nil {
			lg.Error("failed to initialize telegram admin bot", sl.Err(err))
		} else {
			lg = logger.SetupTelegramHandler(lg, tgBot, alertLevel(conf.Telegram.AlertLevel))
			lg.With(
				slog.String("bot_name", conf.Telegram.BotName),
			).Info("telegram alerts enabled")
		}
	}

	lg.Info("starting astrobot", slog.String("config", *configPath), slog.String("env", conf.Env))
	lg.Debug("debug messages enabled")

	m := metrics.New(prometheus.DefaultRegisterer)
	if err = m.Register(); err != nil {
		lg.Error("metrics register", sl.Err(err))
	}

	resolver := locale.NewResolver(locale.DirLoader{Dir: conf.Resources.Dir}, conf.Resources.DefaultLanguage, m, lg)
	if err = resolver.Refresh(ctx); err != nil {
		fatal(lg, "resource bundles", err)
	}
	go resolver.Run(ctx, conf.Resources.RefreshInterval)

	reader := gpt.NewReader(func() string { return creds.Value(credentials.OpenAIKey) }, conf.OpenAI.Model, lg)
	reg := registry.New(lg,
		registry.WithTimeout(conf.Registry.Timeout),
		registry.WithProbeTimeout(conf.Registry.ProbeTimeout),
		registry.WithMetrics(m),
	)
	reg.MustRegister(astro.All(reader)...)
	reg.Seal()

	flows := flow.NewRepository(flow.DirLoader{Dir: conf.Flows.Dir}, reg, conf.Flows.DefaultFlow, lg)
	if err = flows.Load(ctx); err != nil {
		fatal(lg, "flows", err)
	}
	if missing := missingResources(resolver, flows, reg); len(missing) > 0 {
		if conf.Resources.Strict {
			fatal(lg, "resource bundles", fmt.Errorf("default bundle misses %v", missing))
		}
		lg.Warn("default bundle misses keys", slog.Any("keys", missing))
	}

	db, err := repository.NewMongoClient(conf, lg)
	if err != nil {
		lg.Error("mongo client", sl.Err(err))
	}
	if db != nil {
		if err = db.EnsureChatMessageIndexes(); err != nil {
			lg.Error("mongo indexes", sl.Err(err))
		}
		lg.With(
			slog.String("host", conf.Mongo.Host),
			slog.String("port", conf.Mongo.Port),
			slog.String("user", conf.Mongo.User),
			slog.String("database", conf.Mongo.Database),
		).Info("mongo client initialized")
	}

	store, closeStore, err := openSessionStore(ctx, conf, db, lg)
	if err != nil {
		fatal(lg, "session store", err)
	}
	defer closeStore()

	engine := chat.NewEngine(store, flows, reg, resolver, chat.Options{
		InactivityTimeout: conf.Session.InactivityTimeout,
		DedupWindow:       conf.Session.DedupWindow,
		DedupSize:         conf.Session.DedupSize,
		Keywords:          conf.Dispatch.Keywords,
		StoreTimeout:      conf.Dispatch.Timeout,
	}, m, lg)

	outbound := bus.New(bus.Options{SendTimeout: conf.Bus.SendTimeout}, m, lg)
	dispatcher := chat.NewDispatcher(engine, outbound, chat.DispatcherOptions{
		Workers:        conf.Dispatch.Workers,
		DropSuperseded: conf.Dispatch.DropSuperseded,
	}, m, lg)

	hub := ws.NewHub(lg)
	go hub.Run(ctx)

	var transcripts ws.MessageStore
	if db != nil {
		transcripts = db
	}
	dispatcher.SetListener(ws.NewTranscript(transcripts, hub, lg))

	var webhook apiwhatsapp.Webhook
	if conf.WhatsApp.Enabled {
		waBot := whatsapp.NewWhatsAppBot(whatsapp.Options{
			AccessToken:   func() string { return creds.Value(credentials.WhatsAppAccessToken) },
			AppSecret:     func() string { return creds.Value(credentials.WhatsAppAppSecret) },
			VerifyToken:   conf.WhatsApp.VerifyToken,
			PhoneNumberID: conf.WhatsApp.PhoneNumberID,
		}, dispatcher, lg)
		footer, _ := resolver.Lookup(chat.KeyMenuFooter, resolver.DefaultLanguage())
		outbound.Route(whatsapp.Platform, chat.MessengerSender{Messenger: wamessenger.NewMessenger(waBot, footer)})
		webhook = waBot
		lg.Info("whatsapp webhook enabled", slog.String("phone_number_id", conf.WhatsApp.PhoneNumberID))
	}

	var userBot *bot.UserBot
	if conf.Telegram.Enabled {
		userBot, err = bot.NewUserBot(conf.Telegram.BotName, creds.Value(credentials.TelegramApiKey), dispatcher, lg)
		if err != nil {
			lg.Error("failed to initialize telegram user bot", sl.Err(err))
		} else {
			outbound.Route(telegram.Platform, chat.MessengerSender{Messenger: telegram.NewMessenger(userBot.API())})
		}
	}

	// replies still in flight at shutdown must be deliverable after ctx is done
	busCtx, stopBus := context.WithCancel(context.Background())
	defer stopBus()
	if err = outbound.Start(busCtx); err != nil {
		fatal(lg, "outbound bus", err)
	}

	if userBot != nil {
		go func() {
			if err := userBot.Start(ctx); err != nil {
				lg.Error("telegram user bot", sl.Err(err))
			}
		}()
	}

	sweeper := chat.NewSweeper(store, flows, conf.Session.InactivityTimeout, conf.Session.SweepInterval, m, lg)
	go sweeper.Run(ctx)

	monitor := health.NewMonitor(reg, resolver, conf.Health.Interval, lg)
	go monitor.Run(ctx)

	handler := core.New(lg)
	handler.SetAuthKey(conf.Listen.ApiKey)
	handler.SetResources(resolver)
	handler.SetFlows(flows)
	handler.SetServices(reg)
	handler.SetSessionStore(store)
	handler.SetHealth(monitor)
	handler.SetBroadcaster(hub)
	if db != nil {
		handler.SetTranscripts(db)
	}

	server := api.New(conf, lg, handler, api.Options{
		WhatsApp: webhook,
		Hub:      hub,
		Metrics:  promhttp.Handler(),
	})
	go func() {
		if err := server.Start(); err != nil {
			lg.Error("server start", sl.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		lg.Error("server shutdown", sl.Err(err))
	}
	if err = dispatcher.Wait(shutdownCtx); err != nil {
		lg.Warn("pending events abandoned", sl.Err(err))
	}
	stopBus()
	if err = outbound.Close(); err != nil {
		lg.Error("bus close", sl.Err(err))
	}
	if err = creds.Close(); err != nil {
		lg.Error("credentials close", sl.Err(err))
	}
	lg.Info("service stopped")
}

func fatal(lg *slog.Logger, what string, err error) {
	lg.Error(what, sl.Err(err))
	os.Exit(1)
}

func alertLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelError
	}
	return level
}

func missingResources(resolver *locale.Resolver, flows *flow.Repository, reg *registry.Registry) []string {
	descriptors := reg.Descriptors()
	keys := append(flows.ResourceKeys(), chat.ResourceKeys(descriptors)...)
	for _, d := range descriptors {
		keys = append(keys, d.ResourceKeys()...)
	}
	return resolver.MissingDefault(keys)
}

func newCredentials(ctx context.Context, conf *config.Config, lg *slog.Logger) (*credentials.Provider, error) {
	names := []string{
		credentials.OpenAIKey,
		credentials.WhatsAppAccessToken,
		credentials.WhatsAppAppSecret,
		credentials.TelegramApiKey,
	}
	switch conf.Credentials.Source {
	case "ssm":
		awsConf, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(conf.AWS.Region))
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		source, err := credentials.NewParamStore(ssm.NewFromConfig(awsConf), conf.Credentials.SSMPrefix, names...)
		if err != nil {
			return nil, err
		}
		return credentials.NewProvider(source, lg), nil
	case "", "static":
		return credentials.NewProvider(credentials.Static{
			credentials.OpenAIKey:           conf.OpenAI.ApiKey,
			credentials.WhatsAppAccessToken: conf.WhatsApp.AccessToken,
			credentials.WhatsAppAppSecret:   conf.WhatsApp.AppSecret,
			credentials.TelegramApiKey:      conf.Telegram.ApiKey,
		}, lg), nil
	default:
		return nil, fmt.Errorf("unknown credentials source %q", conf.Credentials.Source)
	}
}

// openSessionStore returns the configured backend and its close function.
func openSessionStore(ctx context.Context, conf *config.Config, db *repository.MongoDB, lg *slog.Logger) (chat.SessionStore, func(), error) {
	noop := func() {}
	log := lg.With(slog.String("backend", conf.Session.Backend))

	switch conf.Session.Backend {
	case "", "memory":
		log.Info("session store initialized")
		return chat.NewMemoryStore(), noop, nil

	case "mongo":
		if db == nil {
			return nil, noop, errors.New("session backend mongo requires mongo.enabled")
		}
		if err := db.Ping(ctx); err != nil {
			return nil, noop, fmt.Errorf("mongo ping: %w", err)
		}
		if err := db.EnsureSessionIndexes(); err != nil {
			return nil, noop, err
		}
		log.Info("session store initialized")
		return db, noop, nil

	case "dynamodb":
		awsConf, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(conf.AWS.Region))
		if err != nil {
			return nil, noop, fmt.Errorf("loading aws config: %w", err)
		}
		store, err := dynamostore.New(dynamodb.NewFromConfig(awsConf), conf.DynamoDB.Table)
		if err != nil {
			return nil, noop, err
		}
		log.Info("session store initialized", slog.String("table", conf.DynamoDB.Table))
		return store, noop, nil

	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(conf.SQLite.Path), 0o755); err != nil {
			return nil, noop, fmt.Errorf("creating sqlite dir: %w", err)
		}
		store, err := sqlstore.Open(conf.SQLite.Path)
		if err != nil {
			return nil, noop, err
		}
		log.Info("session store initialized", slog.String("path", conf.SQLite.Path))
		return store, func() {
			if err := store.Close(); err != nil {
				lg.Error("sqlite close", sl.Err(err))
			}
		}, nil

	default:
		return nil, noop, fmt.Errorf("unknown session backend %q", conf.Session.Backend)
	}
}
