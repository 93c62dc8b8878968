package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// RouterConfig controls the optional parts of the HTTP surface.
type RouterConfig struct {
	AllowedOrigins []string
	// RegisterRateLimit is registrations per client IP per hour; 0 disables.
	RegisterRateLimit int
	ExposeTokenUpdate bool
	// Metrics, when set, is served at /internal/metrics.
	Metrics http.Handler
}

// Routes lists the path prefixes NewRouter answers, for mounting on a mux.
var Routes = []string{"/api/", "/api.php", "/internal/"}

func NewRouter(a *API, cfg RouterConfig) http.Handler {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Secret-Key", "Authorization"},
		MaxAge:         300,
	}))
	r.Use(answerOptions)

	register := http.Handler(http.HandlerFunc(a.Register))
	if cfg.RegisterRateLimit > 0 {
		register = httprate.Limit(
			cfg.RegisterRateLimit,
			time.Hour,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				writeErrorMessage(w, http.StatusTooManyRequests, "Too many registrations, try again later")
			}),
		)(register)
	}
	send := http.HandlerFunc(a.Send)

	r.HandleFunc("/api.php", legacy(register, send))

	r.Route("/api/v1", func(r chi.Router) {
		r.Method(http.MethodPost, "/register", register)
		r.Get("/send", send)
		r.Post("/send", send)
		r.Get("/message", send)
		r.Post("/message", send)
		if cfg.ExposeTokenUpdate {
			r.Post("/devices/token", a.UpdateToken)
		}
	})

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/internal/metrics", cfg.Metrics)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorMessage(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

// legacy serves the single-script surface, dispatching on ?action=.
// A missing action means send.
func legacy(register, send http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "register":
			register.ServeHTTP(w, r)
		case "", "send", "message":
			send.ServeHTTP(w, r)
		default:
			writeErrorMessage(w, http.StatusBadRequest, "Invalid action")
		}
	}
}

// answerOptions acknowledges any OPTIONS request that the CORS handler did
// not already treat as a preflight.
func answerOptions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
