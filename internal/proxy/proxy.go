package proxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/marcogenualdo/auth-proxy/internal/config"
)

// BasePath prefixes every proxied route.
const BasePath = "/proxy"

// AppIdentifiers names a downstream app the way the token exchange expects.
type AppIdentifiers interface {
	AppIdentifier(app config.ProxyApp) string
}

type Route struct {
	Pattern string
	Handler http.Handler
}

func NewReverseProxy(cfg config.ProxyConfig, logger *slog.Logger) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(cfg.ToURL)
	if err != nil {
		return nil, fmt.Errorf("invalid to_url for %s: %w", cfg.FromPath, err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = target.Host
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error",
			"error", err,
			"app", cfg.ToApp.Name,
			"backend", target.String(),
			"path", r.URL.Path,
		)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	}

	return proxy, nil
}

// Routes builds one authorized reverse proxy per configured downstream app,
// mounted under BasePath + from_path.
func Routes(proxies []config.ProxyConfig, ids AppIdentifiers, authz *Authorizer, logger *slog.Logger) ([]Route, error) {
	routes := make([]Route, 0, 2*len(proxies))

	for _, p := range proxies {
		rp, err := NewReverseProxy(p, logger)
		if err != nil {
			return nil, err
		}

		prefix := BasePath + strings.TrimSuffix(p.FromPath, "/")

		var handler http.Handler = rp
		if !p.PreserveFromPath {
			handler = http.StripPrefix(prefix, handler)
		}
		handler = authz.Authorize(p.ToApp.Name, ids.AppIdentifier(p.ToApp), handler)

		routes = append(routes, Route{Pattern: prefix + "/", Handler: handler})
		if prefix != BasePath {
			routes = append(routes, Route{Pattern: prefix, Handler: handler})
		}

		logger.Info("proxy route configured",
			"from", prefix,
			"to", p.ToURL,
			"app", p.ToApp.Name,
		)
	}

	return routes, nil
}
