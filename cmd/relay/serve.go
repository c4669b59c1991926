package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/openrecords/relay/internal/auth"
	"github.com/openrecords/relay/internal/comms"
	"github.com/openrecords/relay/internal/config"
	"github.com/openrecords/relay/internal/db"
	"github.com/openrecords/relay/internal/foia"
	"github.com/openrecords/relay/internal/handlers"
	"github.com/openrecords/relay/internal/logger"
	"github.com/openrecords/relay/internal/portal"
	"github.com/openrecords/relay/internal/portal/adapters/efoipa"
	"github.com/openrecords/relay/internal/portal/adapters/nextrequest"
	"github.com/openrecords/relay/internal/portal/session"
	"github.com/openrecords/relay/internal/senders/email"
	"github.com/openrecords/relay/internal/senders/fax"
	"github.com/openrecords/relay/internal/senders/mail"
	"github.com/openrecords/relay/internal/server"
	"github.com/openrecords/relay/internal/tasks"
)

func runServe(cfgPath string) error {
	app := fx.New(
		fx.Provide(
			func() (config.Config, error) { return provideConfig(cfgPath) },
			provideLogger,
			provideDBConn,
			foia.NewStore,
			tasks.NewStore,
			comms.NewLog,
			provideOutbox,
			auth.NewOperatorStore,
			provideSink,
			comms.NewResolver,
			provideDispatcher,
			provideEngine,
			provideSessionFactory,
			providePortalDeps,
			portal.NewManualAdapter,
			providePortalRegistry,
			providePortalService,
			provideSweeper,
			provideEmailProvider,
			provideEmailSender,
			provideFaxSender,
			provideMailSender,
			handlers.NewPingHandler,
			provideAuthHandler,
			provideRequestHandler,
			provideEscalationHandler,
			providePortalHandler,
			provideWebhookHandler,
			provideServer,
		),
		fx.Invoke(
			wireSenders,
			startReceiver,
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),
	)
	app.Run()
	return nil
}

func provideConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return config.Config{}, errors.New("auth.jwt_secret is required")
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideOutbox(conn *pgxpool.Pool) *email.Outbox {
	return email.NewOutbox(conn)
}

func provideSink(store *tasks.Store, log *slog.Logger) *tasks.Sink {
	return tasks.NewSink(store, log)
}

func provideDispatcher(cfg config.Config, log *slog.Logger) *comms.Dispatcher {
	return comms.NewDispatcher(cfg.Automation.DispatchWorkers, cfg.Automation.DispatchQueueSize, log)
}

func provideEngine(lc fx.Lifecycle, store *foia.Store, commsLog *comms.Log, resolver *comms.Resolver,
	dispatcher *comms.Dispatcher, sink *tasks.Sink, cfg config.Config, log *slog.Logger) *comms.Engine {
	engine := comms.NewEngine(store, commsLog, resolver, dispatcher, sink, cfg.Engine.ResponseBusinessDays, log)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return engine.Stop(ctx) }})
	return engine
}

func provideSessionFactory(cfg config.Config, log *slog.Logger) portal.SessionFactory {
	requestTimeout := time.Duration(cfg.Automation.RequestTimeoutSeconds) * time.Second
	uploadTimeout := time.Duration(cfg.Automation.UploadTimeoutSeconds) * time.Second
	return func() (*session.Automator, error) {
		return session.New(requestTimeout, uploadTimeout, log)
	}
}

func providePortalDeps(store *foia.Store, commsLog *comms.Log, sink *tasks.Sink,
	sessions portal.SessionFactory, log *slog.Logger) portal.Deps {
	return portal.Deps{
		Requests: store,
		Comms:    commsLog,
		Sink:     sink,
		Sessions: sessions,
		Log:      log,
	}
}

func providePortalRegistry(deps portal.Deps, manual *portal.ManualAdapter) *portal.Registry {
	registry := portal.NewRegistry()
	registry.MustRegister(manual)
	registry.MustRegister(portal.NewWebFormAdapter(deps, manual))
	registry.MustRegister(nextrequest.New(deps, manual))
	registry.MustRegister(efoipa.New(deps, manual))
	return registry
}

func providePortalService(registry *portal.Registry, store *foia.Store, manual *portal.ManualAdapter, log *slog.Logger) *portal.Service {
	return portal.NewService(registry, store, manual, log)
}

func provideSweeper(registry *portal.Registry, store *foia.Store, cfg config.Config, log *slog.Logger) *portal.Sweeper {
	return portal.NewSweeper(registry, store, cfg.Engine.HealthSweepSpec, log)
}

func provideEmailProvider(cfg config.Config, log *slog.Logger) email.Provider {
	if cfg.Email.Provider == "mailgun" {
		return email.NewMailgunProvider(cfg.Email, log)
	}
	return email.NewSMTPProvider(cfg.Email, log)
}

func provideEmailSender(provider email.Provider, outbox *email.Outbox, cfg config.Config, log *slog.Logger) *email.Sender {
	return email.NewSender(provider, outbox, cfg.Email, log)
}

func provideFaxSender(cfg config.Config, log *slog.Logger) *fax.Sender {
	return fax.NewSender(cfg.Fax, log)
}

func provideMailSender(cfg config.Config, log *slog.Logger) *mail.Sender {
	return mail.NewSender(cfg.Mail, log)
}

func provideAuthHandler(operators *auth.OperatorStore, cfg config.Config, log *slog.Logger) *handlers.AuthHandler {
	return handlers.NewAuthHandler(operators, cfg.Auth, log)
}

func provideRequestHandler(store *foia.Store, commsLog *comms.Log, engine *comms.Engine, log *slog.Logger) *handlers.RequestHandler {
	return handlers.NewRequestHandler(store, commsLog, engine, log)
}

func provideEscalationHandler(store *tasks.Store, log *slog.Logger) *handlers.EscalationHandler {
	return handlers.NewEscalationHandler(store, log)
}

func providePortalHandler(registry *portal.Registry, sweeper *portal.Sweeper, log *slog.Logger) *handlers.PortalHandler {
	return handlers.NewPortalHandler(registry, sweeper, log)
}

func provideWebhookHandler(engine *comms.Engine, commsLog *comms.Log, store *foia.Store, cfg config.Config, log *slog.Logger) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(engine, commsLog, store, cfg.Email, log)
}

func provideServer(cfg config.Config, log *slog.Logger, pingHandler *handlers.PingHandler,
	authHandler *handlers.AuthHandler, requestHandler *handlers.RequestHandler,
	escalationHandler *handlers.EscalationHandler, portalHandler *handlers.PortalHandler,
	webhookHandler *handlers.WebhookHandler) *server.Server {
	return server.NewServer(cfg.Server.Addr, cfg.Auth.JWTSecret, log,
		pingHandler, authHandler, requestHandler, escalationHandler, portalHandler, webhookHandler)
}

// wireSenders registers the channel backends on the engine. The portal
// service doubles as the inbound classifier.
func wireSenders(engine *comms.Engine, portalService *portal.Service, emailSender *email.Sender,
	faxSender *fax.Sender, mailSender *mail.Sender) {
	engine.RegisterSender(portalService)
	engine.RegisterSender(emailSender)
	engine.RegisterSender(faxSender)
	engine.RegisterSender(mailSender)
	engine.SetReceiver(portalService)
}

// startReceiver runs the IMAP listener when the SMTP provider is configured.
// Mailgun inbound arrives over the webhook instead.
func startReceiver(lc fx.Lifecycle, cfg config.Config, engine *comms.Engine, log *slog.Logger) {
	if cfg.Email.Provider == "mailgun" || cfg.Email.IMAPHost == "" {
		return
	}
	receiver := email.NewReceiver(cfg.Email, func(ctx context.Context, msg email.InboundEmail) {
		recipient := ""
		if len(msg.To) > 0 {
			recipient = msg.To[0]
		}
		engine.HandleInbound(ctx, comms.Inbound{
			Channel:    comms.ChannelEmail,
			From:       msg.From,
			Recipient:  recipient,
			Subject:    msg.Subject,
			Body:       msg.BodyText,
			ReceivedAt: msg.ReceivedAt,
		})
	}, log)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { receiver.Start(context.Background()); return nil },
		OnStop:  func(ctx context.Context) error { receiver.Stop(); return nil },
	})
}

func startSweeper(lc fx.Lifecycle, sweeper *portal.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return sweeper.Start() },
		OnStop:  func(ctx context.Context) error { sweeper.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner,
	cfg config.Config, operators *auth.OperatorStore) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := operators.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
				return fmt.Errorf("seed admin operator: %w", err)
			}
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
