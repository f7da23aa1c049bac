package server

import (
	"net/http"

	"github.com/marcogenualdo/auth-proxy/internal/handlers"
	"github.com/marcogenualdo/auth-proxy/internal/middleware"
	"github.com/marcogenualdo/auth-proxy/internal/proxy"
)

// Handler builds the route table wrapped in the common middleware chain.
func (s *Server) Handler() (http.Handler, error) {
	mux := http.NewServeMux()

	sessions := middleware.NewSessions(s.cfg.Server, s.logger)

	loginHandler := handlers.NewLoginHandler(s.deps.Flow, s.logger)
	callbackHandler := handlers.NewCallbackHandler(s.deps.Flow, s.logger)
	logoutHandler := handlers.NewLogoutHandler(s.cfg.Server, s.deps.Logout, s.logger)
	statusHandler := handlers.NewStatusHandler(s.deps.Tokens, s.logger)
	healthHandler := handlers.NewHealthHandler(s.deps.Store, s.logger)

	authorizer := proxy.NewAuthorizer(s.deps.Tokens, s.deps.Obo, s.deps.Metrics, s.logger)
	routes, err := proxy.Routes(s.cfg.Proxies, s.deps.AppIDs, authorizer, s.logger)
	if err != nil {
		return nil, err
	}

	mux.Handle("GET /login", sessions.Ensure(http.HandlerFunc(loginHandler.Login)))
	mux.Handle("/oauth2/callback", sessions.Ensure(callbackHandler))
	mux.Handle("/oauth2/logout", sessions.Load(logoutHandler))
	mux.Handle("GET /is-authenticated", sessions.Load(statusHandler))

	mux.HandleFunc("GET /internal/ready", healthHandler.Ready)
	mux.HandleFunc("GET /internal/alive", healthHandler.Alive)
	mux.Handle("GET /internal/metrics", s.deps.Metrics.Handler())

	for _, route := range routes {
		mux.Handle(route.Pattern, sessions.Load(route.Handler))
	}

	handler := middleware.Recovery(s.logger)(
		middleware.Logging(s.logger)(
			middleware.CORS(s.cfg.CORS)(
				middleware.SecurityHeaders(mux),
			),
		),
	)

	return handler, nil
}
