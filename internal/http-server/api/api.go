package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"AstroBot/internal/config"
	"AstroBot/internal/http-server/handlers/admin"
	"AstroBot/internal/http-server/handlers/crm"
	apierrors "AstroBot/internal/http-server/handlers/errors"
	"AstroBot/internal/http-server/handlers/health"
	"AstroBot/internal/http-server/handlers/session"
	"AstroBot/internal/http-server/handlers/whatsapp"
	"AstroBot/internal/http-server/middleware/authenticate"
	"AstroBot/internal/lib/sl"
	"AstroBot/internal/ws"
)

const requestTimeout = 5 * time.Second

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

type Handler interface {
	authenticate.Authenticate
	ws.Authenticator
	health.Core
	admin.Core
	session.Core
	crm.Core
}

// Options carries the optional surfaces; nil fields leave routes unmounted.
type Options struct {
	WhatsApp whatsapp.Webhook
	Hub      *ws.Hub
	Metrics  http.Handler
}

func New(conf *config.Config, log *slog.Logger, handler Handler, opts Options) *Server {
	server := &Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:           NewRouter(log, handler, opts),
		ErrorLog:          httpLog,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server
}

func NewRouter(log *slog.Logger, handler Handler, opts Options) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.NotFound(apierrors.NotFound(log))
	router.MethodNotAllowed(apierrors.NotAllowed(log))

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/health", health.Status(log, handler))
		if opts.WhatsApp != nil {
			r.Get("/webhook/whatsapp", whatsapp.WebhookVerify(log, opts.WhatsApp))
			r.Post("/webhook/whatsapp", whatsapp.WebhookHandler(log, opts.WhatsApp))
		}
	})
	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics)
	}

	router.Route("/api/v1", func(v1 chi.Router) {
		if opts.Hub != nil {
			// the websocket authenticates with ?token= and outlives the request timeout
			v1.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
				ws.ServeWs(opts.Hub, handler, log, w, r)
			})
		}

		v1.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Use(authenticate.New(log, handler))

			r.Post("/resources/refresh", admin.RefreshResources(log, handler))
			r.Post("/flows/reload", admin.ReloadFlows(log, handler))
			r.Get("/diagnostics", admin.Diagnostics(log, handler))

			r.Get("/session", session.Get(log, handler))
			r.Delete("/session", session.Reset(log, handler))

			r.Route("/chats", func(r chi.Router) {
				r.Get("/", crm.GetChats(log, handler))
				r.Get("/{platform}/{user_id}/messages", crm.GetMessages(log, handler))
			})
		})
	})

	return router
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	serverAddress := fmt.Sprintf("%s:%s", s.conf.Listen.BindIP, s.conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	s.log.Info("starting api server", slog.String("address", serverAddress))

	err = s.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
