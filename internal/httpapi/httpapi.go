package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"stokpilot/backend/internal/domain"
	"stokpilot/backend/internal/service"
	"stokpilot/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		logger:        logger.Named("http"),
	}
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
	kept = append(kept, now)
	l.entries[key] = kept
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

const (
	admin      = domain.RoleAdmin
	purchasing = domain.RolePurchasing
	warehouse  = domain.RoleWarehouse
	cashier    = domain.RoleCashier
)

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("GET /api/v1/units", a.requireAuth(a.handleListUnits))
	mux.HandleFunc("POST /api/v1/units", a.requireAuth(a.handleCreateUnit, admin))

	mux.HandleFunc("GET /api/v1/items", a.requireAuth(a.handleListItems))
	mux.HandleFunc("POST /api/v1/items", a.requireAuth(a.handleCreateItem, admin))
	mux.HandleFunc("GET /api/v1/items/{id}", a.requireAuth(a.handleGetItem))
	mux.HandleFunc("PATCH /api/v1/items/{id}", a.requireAuth(a.handleUpdateItem, admin))
	mux.HandleFunc("GET /api/v1/items/{id}/availability", a.requireAuth(a.handleAvailability))
	mux.HandleFunc("GET /api/v1/items/{id}/ledger", a.requireAuth(a.handleItemLedger, admin))
	mux.HandleFunc("GET /api/v1/items/{id}/reconciliation", a.requireAuth(a.handleReconcile, admin))

	mux.HandleFunc("GET /api/v1/vendors", a.requireAuth(a.handleListVendors, admin, purchasing))
	mux.HandleFunc("POST /api/v1/vendors", a.requireAuth(a.handleCreateVendor, admin, purchasing))

	mux.HandleFunc("GET /api/v1/margins", a.requireAuth(a.handleListMargins, admin, cashier))
	mux.HandleFunc("POST /api/v1/margins", a.requireAuth(a.handleCreateMargin, admin))
	mux.HandleFunc("POST /api/v1/margins/{id}/activate", a.requireAuth(a.handleActivateMargin, admin))

	mux.HandleFunc("GET /api/v1/procurements", a.requireAuth(a.handleListProcurements, admin, purchasing))
	mux.HandleFunc("POST /api/v1/procurements", a.requireAuth(a.handleCreateProcurement, admin, purchasing))
	mux.HandleFunc("GET /api/v1/procurements/{id}", a.requireAuth(a.handleGetProcurement, admin, purchasing, warehouse))
	mux.HandleFunc("POST /api/v1/procurements/{id}/cancel", a.requireAuth(a.handleCancelProcurement, admin, purchasing))
	mux.HandleFunc("GET /api/v1/procurements/{id}/breakdown", a.requireAuth(a.handleProcurementBreakdown, admin, purchasing, warehouse))
	mux.HandleFunc("GET /api/v1/procurements/{id}/receivings", a.requireAuth(a.handleListReceivings, admin, purchasing, warehouse))
	mux.HandleFunc("POST /api/v1/procurements/{id}/receivings", a.requireAuth(a.handleReceive, admin, warehouse))

	mux.HandleFunc("GET /api/v1/receivings/{id}", a.requireAuth(a.handleGetReceiving, admin, warehouse))
	mux.HandleFunc("POST /api/v1/receivings/{id}/returns", a.requireAuth(a.handleReturnGoods, admin, warehouse))
	mux.HandleFunc("GET /api/v1/receivings/{id}/return-breakdown", a.requireAuth(a.handleReturnBreakdown, admin, warehouse))
	mux.HandleFunc("GET /api/v1/returns/{id}", a.requireAuth(a.handleGetReturn, admin, warehouse))

	mux.HandleFunc("POST /api/v1/sales", a.requireAuth(a.handleSell, admin, cashier))
	mux.HandleFunc("GET /api/v1/sales/{id}", a.requireAuth(a.handleGetSale, admin, cashier))

	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, admin))
	mux.HandleFunc("GET /api/v1/users", a.requireAuth(a.handleListUsers, admin))
	mux.HandleFunc("POST /api/v1/users", a.requireAuth(a.handleCreateUser, admin))

	return a.withMiddleware(mux)
}

// requireAuth rejects requests without a valid bearer token. An empty roles
// list admits any authenticated user.
func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
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

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
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

func (a *API) handleListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := a.service.ListUnits(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"units": units})
}

func (a *API) handleCreateUnit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	unit, err := a.service.CreateUnit(r.Context(), req.Name)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"unit": unit})
}

func (a *API) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ListItems(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req domain.ItemCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := a.service.CreateItem(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": item})
}

func (a *API) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := a.service.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req domain.ItemUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := a.service.UpdateItem(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleAvailability(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.Availability(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleItemLedger(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 200, 1000)
	entries, err := a.service.ItemLedger(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.Reconcile(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListVendors(w http.ResponseWriter, r *http.Request) {
	vendors, err := a.service.ListVendors(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vendors": vendors})
}

func (a *API) handleCreateVendor(w http.ResponseWriter, r *http.Request) {
	var req domain.VendorCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	vendor, err := a.service.CreateVendor(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"vendor": vendor})
}

func (a *API) handleListMargins(w http.ResponseWriter, r *http.Request) {
	margins, err := a.service.ListMargins(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"margins": margins})
}

func (a *API) handleCreateMargin(w http.ResponseWriter, r *http.Request) {
	var req domain.MarginCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	margin, err := a.service.CreateMargin(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"margin": margin})
}

func (a *API) handleActivateMargin(w http.ResponseWriter, r *http.Request) {
	margin, err := a.service.ActivateMargin(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"margin": margin})
}

func (a *API) handleListProcurements(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	resp, err := a.service.ListProcurements(r.Context(), query.Get("status"), parsePositiveLimit(query.Get("limit"), 200, 500))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreateProcurement(w http.ResponseWriter, r *http.Request) {
	var req domain.ProcurementCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.CreateProcurement(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetProcurement(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetProcurement(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCancelProcurement(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.CancelProcurement(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleProcurementBreakdown(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.ProcurementBreakdown(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListReceivings(w http.ResponseWriter, r *http.Request) {
	events, err := a.service.ListReceivings(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receiving_events": events})
}

func (a *API) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req domain.ReceiveRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.Receive(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetReceiving(w http.ResponseWriter, r *http.Request) {
	event, err := a.service.GetReceiving(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receiving_event": event})
}

func (a *API) handleReturnGoods(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.ReturnGoods(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleReturnBreakdown(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.ReturnBreakdown(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetReturn(w http.ResponseWriter, r *http.Request) {
	event, err := a.service.GetReturn(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"return_event": event})
}

func (a *API) handleSell(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.Sell(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale_order": sale})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	logs, err := a.service.ListAuditLogs(r.Context(), query.Get("date"), parsePositiveLimit(query.Get("limit"), 100, 500))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users := a.auth.ListUsers(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.auth.CreateUser(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info("request",
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
	if err := decoder.Decode(dest); err != nil {
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

// errorKinds is ordered; the first sentinel matched decides the response.
var errorKinds = []struct {
	err    error
	status int
	code   string
}{
	{store.ErrLockTimeout, http.StatusServiceUnavailable, "lock_timeout"},
	{store.ErrQuantityExceeded, http.StatusConflict, "quantity_exceeded"},
	{store.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
	{store.ErrInvalidState, http.StatusConflict, "invalid_state"},
	{store.ErrDuplicateItem, http.StatusBadRequest, "duplicate_item"},
	{store.ErrEmptySubmission, http.StatusBadRequest, "empty_submission"},
	{store.ErrValidation, http.StatusBadRequest, "validation"},
	{store.ErrNotFound, http.StatusNotFound, "not_found"},
}

func classify(err error) (int, string) {
	for _, kind := range errorKinds {
		if errors.Is(err, kind.err) {
			return kind.status, kind.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if store.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	a.writeErrorCode(w, status, code, err)
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	code := strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_")
	a.writeErrorCode(w, status, code, err)
}

func (a *API) writeErrorCode(w http.ResponseWriter, status int, code string, err error) {
	// 5xx bodies stay generic; the cause goes to the log only.
	msg := err.Error()
	if status >= 500 && status != http.StatusServiceUnavailable {
		a.logger.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
		"code":  code,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
