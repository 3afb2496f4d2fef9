// Package httpapi, JSON API витрины поверх gorilla/mux.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shawlshop/internal/auth"
	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
	"github.com/vladislavdragonenkov/shawlshop/internal/service/catalog"
	"github.com/vladislavdragonenkov/shawlshop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/shawlshop/internal/service/ledger"
	"github.com/vladislavdragonenkov/shawlshop/internal/service/orders"
)

const (
	// IdempotencyKeyHeader: необязательный заголовок checkout.
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader выставляется, когда ответ взят из idempotency-кеша.
	ReplayedHeader = "Idempotent-Replayed"

	maxBodyBytes = 1 << 20
)

// Server держит зависимости HTTP-обработчиков.
type Server struct {
	ledger   ledger.Service
	orders   orders.Service
	catalog  catalog.Service
	guard    *idempotency.Guard
	sessions *auth.Sessions
	metrics  *Metrics
	logger   *log.Entry
}

// Option настраивает Server.
type Option func(*Server)

// WithGuard включает Idempotency-Key на POST /api/v1/orders.
func WithGuard(guard *idempotency.Guard) Option {
	return func(s *Server) {
		s.guard = guard
	}
}

// WithSessions включает разбор cookie сессии.
func WithSessions(sessions *auth.Sessions) Option {
	return func(s *Server) {
		s.sessions = sessions
	}
}

// WithMetrics подменяет HTTP-метрики (nil отключает их).
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer создаёт обработчики API.
func NewServer(ledgerSvc ledger.Service, ordersSvc orders.Service, catalogSvc catalog.Service, logger *log.Entry, opts ...Option) *Server {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	s := &Server{
		ledger:  ledgerSvc,
		orders:  ordersSvc,
		catalog: catalogSvc,
		metrics: NewHTTPMetrics(nil),
		logger:  logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Router собирает маршруты API.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.observe, s.withIdentity)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/orders", s.placeOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", s.getOrder).Methods(http.MethodGet)
	api.HandleFunc("/products", s.listProducts).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}", s.getProduct).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/orders", s.listOrders).Methods(http.MethodGet)
	admin.HandleFunc("/orders/{id}/status", s.updateOrderStatus).Methods(http.MethodPatch)
	admin.HandleFunc("/products", s.createProduct).Methods(http.MethodPost)
	admin.HandleFunc("/products/{id}/inventory", s.adjustInventory).Methods(http.MethodPost)

	// mux не поднимает 405 из подроутера в корень, поэтому обработчики
	// ставятся на каждый уровень.
	notFound := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found", nil)
	})
	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})
	for _, router := range []*mux.Router{r, api, admin} {
		router.NotFoundHandler = notFound
		router.MethodNotAllowedHandler = notAllowed
	}
	return r
}

// NewHTTPServer оборачивает Router в http.Server с таймаутами.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type ctxKey int

const (
	identityKey ctxKey = iota
	sessionErrKey
)

// withIdentity кладёт в контекст личность из cookie. Битая cookie даёт гостя
// и запомненную ошибку для админских маршрутов.
func (s *Server) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := domain.Guest()
		var sessionErr error
		if s.sessions != nil {
			if cookie, err := r.Cookie(auth.CookieName); err == nil {
				identity, sessionErr = s.sessions.Resolve(cookie.Value)
			}
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		if sessionErr != nil {
			ctx = context.WithValue(ctx, sessionErrKey, sessionErr)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err, _ := r.Context().Value(sessionErrKey).(error); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error(), nil)
			return
		}
		identity := identityFrom(r.Context())
		switch {
		case identity.IsGuest():
			writeError(w, http.StatusUnauthorized, domain.ErrUnauthenticated.Error(), nil)
		case !identity.IsAdmin():
			writeError(w, http.StatusForbidden, domain.ErrForbidden.Error(), nil)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func identityFrom(ctx context.Context) domain.Identity {
	if identity, ok := ctx.Value(identityKey).(domain.Identity); ok {
		return identity
	}
	return domain.Guest()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		s.metrics.observe(r.Method, route, rec.status, elapsed)

		entry := s.logger.WithFields(log.Fields{
			"method":      r.Method,
			"route":       route,
			"status":      rec.status,
			"duration_ms": elapsed.Milliseconds(),
		})
		if rec.status >= http.StatusInternalServerError {
			entry.Warn("http request failed")
			return
		}
		entry.Debug("http request")
	})
}
