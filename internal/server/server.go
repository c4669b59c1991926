package server

import (
	"context"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/openrecords/relay/internal/auth"
	"github.com/openrecords/relay/internal/handlers"
)

type Server struct {
	echo *echo.Echo
	addr string
}

var jwtExactSkipPaths = map[string]struct{}{
	"/ping":       {},
	"/health":     {},
	"/auth/login": {},
}

var jwtPrefixSkipPaths = []string{
	"/webhooks/",
}

func shouldSkipJWT(path string) bool {
	if _, ok := jwtExactSkipPaths[path]; ok {
		return true
	}
	for _, prefix := range jwtPrefixSkipPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func NewServer(addr string, jwtSecret string, logger *slog.Logger, pingHandler *handlers.PingHandler, authHandler *handlers.AuthHandler, requestHandler *handlers.RequestHandler, escalationHandler *handlers.EscalationHandler, portalHandler *handlers.PortalHandler, webhookHandler *handlers.WebhookHandler) *Server {
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		},
	}))
	e.Use(auth.JWTMiddleware(jwtSecret, func(c echo.Context) bool {
		return shouldSkipJWT(c.Request().URL.Path)
	}))

	if pingHandler != nil {
		pingHandler.Register(e)
	}
	if authHandler != nil {
		authHandler.Register(e)
	}
	if requestHandler != nil {
		requestHandler.Register(e)
	}
	if escalationHandler != nil {
		escalationHandler.Register(e)
	}
	if portalHandler != nil {
		portalHandler.Register(e)
	}
	if webhookHandler != nil {
		webhookHandler.Register(e)
	}

	return &Server{
		echo: e,
		addr: addr,
	}
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
