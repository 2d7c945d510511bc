// Package router assembles the API's routes and middleware chain.
package router

import (
	"net/http"
	"time"

	apimw "github.com/Adithya-Monish-Kumar-K/reading-list/internal/api/middleware"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/handler"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/reading-list/pkg/middleware"
)

type Deps struct {
	Articles     *handler.Handler
	Health       *health.Checker
	Metrics      *metrics.Metrics
	Validator    apimw.KeyValidator
	Limiter      *ratelimit.Limiter
	DefaultLimit int
	CORS         apimw.CORSConfig
	// RequestTimeout bounds each request; zero disables it.
	RequestTimeout time.Duration
}

// New builds the API handler.
//
// Route table:
//
//	POST   /api/articles        submit a URL
//	GET    /api/articles        list the caller's articles
//	DELETE /api/articles/{id}   delete an article
//	GET    /health              full dependency report
//	GET    /health/live         liveness
//	GET    /health/ready        readiness
//	GET    /metrics             Prometheus scrape
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → CORS → Auth → RateLimit → Timeout → mux
func New(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", d.Health.ReadyHandler())
	mux.HandleFunc("GET /health/live", d.Health.LiveHandler())
	mux.HandleFunc("GET /health/ready", d.Health.ReadyHandler())
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics.Handler())
	}

	mux.HandleFunc("POST /api/articles", d.Articles.Submit)
	mux.HandleFunc("GET /api/articles", d.Articles.List)
	mux.HandleFunc("DELETE /api/articles/{id}", d.Articles.Delete)

	var chain http.Handler = mux
	chain = pkgmw.Timeout(d.RequestTimeout)(chain)
	chain = apimw.RateLimit(d.Limiter, d.DefaultLimit)(chain)
	chain = apimw.Auth(d.Validator)(chain)
	chain = apimw.CORS(d.CORS)(chain)
	if d.Metrics != nil {
		chain = pkgmw.Metrics(d.Metrics)(chain)
	}
	chain = pkgmw.RequestID(chain)

	return chain
}
