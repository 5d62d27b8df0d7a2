package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/service"
	"pharmastock/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
	log           *zap.Logger
	metrics       http.Handler
	healthChecks  map[string]func(context.Context) error
}

type Option func(*API)

func WithLogger(log *zap.Logger) Option {
	return func(a *API) {
		if log != nil {
			a.log = log.Named("http")
		}
	}
}

// WithMetricsHandler exposes h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *API) { a.metrics = h }
}

// WithHealthCheck adds a dependency probe reported by /healthz.
func WithHealthCheck(name string, check func(context.Context) error) Option {
	return func(a *API) { a.healthChecks[name] = check }
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, opts ...Option) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	a := &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
		log:           zap.NewNop(),
		healthChecks:  make(map[string]func(context.Context) error),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// csrfTokenForHour computes the hex HMAC-SHA256 token for an hour bucket
// given as Unix time truncated to the hour.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts the current and previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

var (
	staffRoles = []domain.Role{domain.RoleAdmin, domain.RoleManager, domain.RoleStaff}
	adminRoles = []domain.Role{domain.RoleAdmin}
)

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics)
	}
	mux.HandleFunc("POST /api/auth/login", a.handleLogin)
	mux.HandleFunc("POST /api/auth/register", a.handleRegister)
	mux.HandleFunc("GET /api/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("GET /api/users", a.requireAuth(a.handleListUsers, adminRoles...))
	mux.HandleFunc("POST /api/users", a.requireAuth(a.handleCreateUser, adminRoles...))

	mux.HandleFunc("GET /api/products", a.requireAuth(a.handleListProducts))

	mux.HandleFunc("GET /api/branches", a.requireAuth(a.handleListBranches))
	mux.HandleFunc("POST /api/branches", a.requireAuth(a.handleCreateBranch))
	mux.HandleFunc("GET /api/branches/{id}", a.requireAuth(a.handleGetBranch))
	mux.HandleFunc("DELETE /api/branches/{id}", a.requireAuth(a.handleDeleteBranch))
	mux.HandleFunc("GET /api/branches/{id}/inventory", a.requireAuth(a.handleBranchInventory))
	mux.HandleFunc("PUT /api/branches/{id}/inventory", a.requireAuth(a.handleSetBranchInventory))
	mux.HandleFunc("POST /api/branches/{id}/stock-taking", a.requireAuth(a.handleStockTaking))
	mux.HandleFunc("GET /api/inventory/movements", a.requireAuth(a.handleMovements, staffRoles...))

	mux.HandleFunc("GET /api/orders", a.requireAuth(a.handleListOrders, staffRoles...))
	mux.HandleFunc("POST /api/orders", a.requireAuth(a.handleCreateOrder))
	mux.HandleFunc("GET /api/orders/{id}", a.requireAuth(a.handleGetOrder))
	mux.HandleFunc("POST /api/orders/{id}/claim", a.requireAuth(a.handleClaimOrder))
	mux.HandleFunc("POST /api/orders/{id}/status", a.requireAuth(a.handleOrderStatus))
	mux.HandleFunc("POST /api/orders/{id}/return", a.requireAuth(a.handleOrderReturn))

	mux.HandleFunc("GET /api/approvals", a.requireAuth(a.handleListApprovals, staffRoles...))
	mux.HandleFunc("GET /api/approvals/{id}", a.requireAuth(a.handleGetApproval, staffRoles...))
	mux.HandleFunc("POST /api/approvals/{id}/approve", a.requireAuth(a.handleApprove))
	mux.HandleFunc("POST /api/approvals/{id}/reject", a.requireAuth(a.handleReject))

	mux.HandleFunc("GET /api/suppliers", a.requireAuth(a.handleListSuppliers, staffRoles...))
	mux.HandleFunc("POST /api/suppliers", a.requireAuth(a.handleCreateSupplier))
	mux.HandleFunc("GET /api/supplier-invoices", a.requireAuth(a.handleListInvoices, staffRoles...))
	mux.HandleFunc("POST /api/supplier-invoices", a.requireAuth(a.handleCreateInvoice))
	mux.HandleFunc("GET /api/supplier-invoices/{id}", a.requireAuth(a.handleGetInvoice, staffRoles...))
	mux.HandleFunc("GET /api/supplier-invoices/{id}/payments", a.requireAuth(a.handleListPayments, staffRoles...))
	mux.HandleFunc("POST /api/supplier-invoices/{id}/payments", a.requireAuth(a.handleRecordPayment))

	mux.HandleFunc("GET /api/reports/inventory-movement", a.requireAuth(a.handleMovementReport))
	mux.HandleFunc("GET /api/reports/returns", a.requireAuth(a.handleReturnsReport))
	mux.HandleFunc("GET /api/reports/supplier-balances", a.requireAuth(a.handleSupplierBalances))
	mux.HandleFunc("GET /api/reports/sales-summary", a.requireAuth(a.handleSalesSummary))
	mux.HandleFunc("GET /api/audit-logs", a.requireAuth(a.handleAuditLogs))

	return a.withMiddleware(mux)
}

type actorKey struct{}

func withActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(actorKey{}).(domain.Actor)
	return actor
}

// requireAuth authenticates the bearer token. Permission checks beyond the
// optional role list happen in the service.
func (a *API) requireAuth(next http.HandlerFunc, roles ...domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(withActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role domain.Role, allowed []domain.Role) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(a.healthChecks))
	for name, check := range a.healthChecks {
		if err := check(ctx); err != nil {
			a.log.Warn("health check failed", zap.String("check", name), zap.Error(err))
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, status, map[string]any{
		"ok":     status == http.StatusOK,
		"checks": checks,
		"at":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.auth.RegisterCustomer(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// handleCSRFToken returns a token for the X-CSRF-Token header, which every
// mutating request must carry.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// csrfExemptPaths are called before a client can have fetched a token.
var csrfExemptPaths = []string{
	"/api/auth/login",
	"/api/auth/register",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		a.writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(r *http.Request, dest any) error {
	if err := decodeJSON(r, dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// parseTimeParam accepts RFC 3339 timestamps or plain YYYY-MM-DD dates.
func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not a date", store.ErrInvalidRequest, raw)
	}
	return t, nil
}

func parseRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := parseTimeParam(r.URL.Query().Get("from"))
	if err != nil {
		return from, from, err
	}
	to, err := parseTimeParam(r.URL.Query().Get("to"))
	return from, to, err
}

// statusFor maps the store error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrForbidden), errors.Is(err, store.ErrSelfApproval):
		return http.StatusForbidden
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrOverPayment),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrStockConflict),
		errors.Is(err, store.ErrOnlineBranchExists),
		errors.Is(err, store.ErrAlreadyClaimed):
		return http.StatusConflict
	case errors.Is(err, store.ErrLockTimeout):
		return http.StatusServiceUnavailable
	default:
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	codes := []struct {
		target error
		code   string
	}{
		{store.ErrNotFound, "not_found"},
		{store.ErrInvalidRequest, "invalid_request"},
		{store.ErrInsufficientStock, "insufficient_stock"},
		{store.ErrOverPayment, "over_payment"},
		{store.ErrInvalidTransition, "invalid_transition"},
		{store.ErrStockConflict, "stock_conflict"},
		{store.ErrLockTimeout, "lock_timeout"},
		{store.ErrForbidden, "forbidden"},
		{store.ErrSelfApproval, "self_approval"},
		{store.ErrOnlineBranchExists, "online_branch_exists"},
		{store.ErrAlreadyClaimed, "already_claimed"},
	}
	for _, c := range codes {
		if errors.Is(err, c.target) {
			return c.code
		}
	}
	return ""
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	a.writeError(w, status, err)
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause only goes to the log.
	msg := err.Error()
	if status >= 500 && status != http.StatusServiceUnavailable {
		a.log.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	body := map[string]any{"error": msg}
	if code := errorCode(err); code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// outcomeStatus answers 202 while part of the request awaits approval.
func outcomeStatus(pending bool) int {
	if pending {
		return http.StatusAccepted
	}
	return http.StatusOK
}
