// Package httpserver exposes the HTTP API for scanning, quantity corrections
// and connection management.
package httpserver

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/stocktake/stocktake/errs"
	"github.com/stocktake/stocktake/internal/auth"
	"github.com/stocktake/stocktake/internal/domain/connstore"
	"github.com/stocktake/stocktake/internal/domain/sessionstore"
	"github.com/stocktake/stocktake/internal/domain/txlog"
	"github.com/stocktake/stocktake/internal/inventory"
	"github.com/stocktake/stocktake/internal/registry"
	"github.com/stocktake/stocktake/internal/session"
	"github.com/stocktake/stocktake/internal/telemetry"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	healthPath = "/health"

	loginPath  = "/api/auth/login"
	logoutPath = "/api/auth/logout"
	mePath     = "/api/auth/me"

	productLookupPath    = "/api/product/lookup"
	checkDifferencePath  = "/api/product/check-difference"
	updateQuantityPath   = "/api/product/update-quantity"
	quotationsPath       = "/api/product/quotations"
	purchaseOrdersPath   = "/api/product/purchase-orders"
	binLocationsPath     = "/api/product/bin-locations"
	transactionsPath     = "/api/transactions"

	configStatusPath      = "/api/config/status"
	adminDBPath           = "/api/config/admin-db"
	testAdminDBPath       = "/api/config/test-admin-db"
	storesPath            = "/api/config/stores"
	storeDetailPrefix     = storesPath + "/"
	quantityThresholdPath = "/api/config/settings/quantity-threshold"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

type sessionKey struct{}

// sessionFrom returns the authenticated session attached by requireSession.
func sessionFrom(ctx context.Context) (sessionstore.Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(sessionstore.Session)
	return sess, ok
}

type httpServer struct {
	logger    *log.Logger
	registry  *registry.Registry
	connStore connstore.Store
	txLog     txlog.Store
	sessions  *session.Directory
	authn     *auth.Authenticator
	orch      *inventory.Orchestrator
	threshold *inventory.ThresholdChecker
	metrics   *telemetry.Metrics

	// loginLimiter throttles the unauthenticated login endpoint so the
	// password-less scheme cannot be used to enumerate usernames quickly.
	loginLimiter *rate.Limiter
}

// Deps bundles the collaborators the handler needs.
type Deps struct {
	Logger    *log.Logger
	Registry  *registry.Registry
	ConnStore connstore.Store
	TxLog     txlog.Store
	Sessions  *session.Directory
	Auth      *auth.Authenticator
	Orch      *inventory.Orchestrator
	Threshold *inventory.ThresholdChecker
	Metrics   *telemetry.Metrics
}

// NewHandler creates the HTTP handler for the whole API surface.
func NewHandler(deps Deps) http.Handler {
	server := &httpServer{
		logger:       deps.Logger,
		registry:     deps.Registry,
		connStore:    deps.ConnStore,
		txLog:        deps.TxLog,
		sessions:     deps.Sessions,
		authn:        deps.Auth,
		orch:         deps.Orch,
		threshold:    deps.Threshold,
		metrics:      deps.Metrics,
		loginLimiter: rate.NewLimiter(rate.Limit(5), 10),
	}
	mux := http.NewServeMux()

	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.health,
	}))

	mux.Handle(loginPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.login,
	}))
	mux.Handle(logoutPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.requireSession(server.logout),
	}))
	mux.Handle(mePath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.requireSession(server.me),
	}))

	mux.Handle(productLookupPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.requireSession(server.productLookup),
	}))
	mux.Handle(checkDifferencePath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.requireSession(server.checkDifference),
	}))
	mux.Handle(updateQuantityPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.requireSession(server.updateQuantity),
	}))
	mux.Handle(quotationsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.requireSession(server.productQuotations),
	}))
	mux.Handle(purchaseOrdersPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.requireSession(server.productPurchaseOrders),
	}))
	mux.Handle(binLocationsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.requireSession(server.productBinLocations),
	}))
	mux.Handle(transactionsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.requireSession(server.listTransactions),
	}))

	// Connection management stays reachable without a session: the admin
	// database that backs authentication is itself configured here, so the
	// very first setup has nothing to log in against.
	mux.Handle(configStatusPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.configStatus,
	}))
	mux.Handle(adminDBPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet:  server.getAdminDB,
		http.MethodPost: server.saveAdminDB,
	}))
	mux.Handle(testAdminDBPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.testAdminDB,
	}))
	mux.Handle(storesPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet:  server.listStores,
		http.MethodPost: server.createStore,
	}))
	mux.Handle(storeDetailPrefix, http.HandlerFunc(server.handleStore))
	mux.Handle(quantityThresholdPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet:  server.getQuantityThreshold,
		http.MethodPost: server.saveQuantityThreshold,
	}))

	return withCORS(noCache(mux))
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) requireSession(next handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Resolve(r.Context(), bearerToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, errs.UserMessage(err))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func (s *httpServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeDomainError maps the error envelope onto HTTP statuses. Messages pass
// through UserMessage so connection details never reach the client.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.CodeOf(err) {
	case errs.CodeInvalid:
		status = http.StatusBadRequest
	case errs.CodeAuth:
		status = http.StatusUnauthorized
	case errs.CodeNotFound:
		status = http.StatusNotFound
	case errs.CodeConflict:
		status = http.StatusConflict
	case errs.CodeConfig, errs.CodeUnavailable:
		status = http.StatusServiceUnavailable
	case errs.CodeNetwork:
		status = http.StatusBadGateway
	case errs.CodeLogWrite:
		status = http.StatusInternalServerError
	}
	writeError(w, status, errs.UserMessage(err))
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
}

func decodeJSON(r *http.Request, target any) error {
	defer func() {
		_ = r.Body.Close()
	}()
	decoder := json.NewDecoder(r.Body)
	return decoder.Decode(target)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isRequestTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "malformed request body")
}

func isRequestTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

// noCache keeps scan results and session state out of intermediary caches;
// the clients are hand scanners on a shared LAN.
func noCache(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		handler.ServeHTTP(w, r)
	})
}
