package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"stokpilot/backend/internal/domain"
	"stokpilot/backend/internal/service"
	"stokpilot/backend/internal/store/memory"
)

// newTestAPI wires the seeded memory store, a real AuthManager and a real
// Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	logger := zaptest.NewLogger(t)
	repo := memory.NewSeeded(time.Second, logger)
	svc := service.New(repo, logger)
	auth := NewAuthManager(context.Background(), "test-secret-key", time.Hour, repo, logger)

	return New(svc, auth, "*", logger)
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), "body: %s", rec.Body.String())
	return out
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
}

func TestHandleLoginInvalidCredentials(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestItemsRequireAuth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/items", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProcureReceiveSellOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	purchasingToken := loginAs(t, api, "purchasing", "purchasing123")
	warehouseToken := loginAs(t, api, "warehouse", "warehouse123")
	cashierToken := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/procurements", purchasingToken, domain.ProcurementCreateRequest{
		VendorID:  "vendor-default",
		TaxAmount: 500,
		Lines:     []domain.ProcurementLineRequest{{ItemID: "item-kopi", Quantity: 10, UnitPriceAmount: 1900}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decodeBody[domain.ProcurementResponse](t, rec).Order
	assert.Equal(t, int64(19500), order.TotalAmount)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/procurements/"+order.ID+"/receivings", warehouseToken, domain.ReceiveRequest{
		Lines: []domain.ReceiveLineRequest{{ProcurementLineID: order.Lines[0].ID, Quantity: 10, UnitPriceAmount: 1900}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	received := decodeBody[domain.ReceiveResponse](t, rec)
	assert.Equal(t, domain.ProcurementComplete, received.OrderStatus)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/items/item-kopi/availability", cashierToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, decodeBody[domain.AvailabilityResponse](t, rec).Available)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", cashierToken, domain.SaleRequest{
		MarginConfigID: "margin-standard",
		TaxPercent:     11,
		Lines:          []domain.SaleLineRequest{{ItemID: "item-kopi", Quantity: 4}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := decodeBody[domain.SaleResponse](t, rec).Order
	assert.Equal(t, int64(2280), sale.Lines[0].UnitPriceAmount)
	assert.Equal(t, int64(9120), sale.SubtotalAmount)
	assert.Equal(t, int64(1003), sale.TaxAmount)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", cashierToken, domain.SaleRequest{
		MarginConfigID: "margin-standard",
		Lines:          []domain.SaleLineRequest{{ItemID: "item-kopi", Quantity: 7}},
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_stock", decodeBody[map[string]string](t, rec)["code"])

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/procurements/"+order.ID+"/cancel", purchasingToken, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decodeBody[map[string]string](t, rec)["code"])
}

func TestReturnOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	adminToken := loginAs(t, api, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/procurements", adminToken, domain.ProcurementCreateRequest{
		VendorID: "vendor-default",
		Lines:    []domain.ProcurementLineRequest{{ItemID: "item-gula", Quantity: 5, UnitPriceAmount: 15500}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decodeBody[domain.ProcurementResponse](t, rec).Order

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/procurements/"+order.ID+"/receivings", adminToken, domain.ReceiveRequest{
		Lines: []domain.ReceiveLineRequest{{ProcurementLineID: order.Lines[0].ID, Quantity: 5, UnitPriceAmount: 15500}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	event := decodeBody[domain.ReceiveResponse](t, rec).Event

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/receivings/"+event.ID+"/returns", adminToken, domain.ReturnRequest{
		Lines: []domain.ReturnLineRequest{{ReceivingLineID: event.Lines[0].ID, Quantity: 6, Reason: "damaged"}},
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "quantity_exceeded", decodeBody[map[string]string](t, rec)["code"])

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/receivings/"+event.ID+"/returns", adminToken, domain.ReturnRequest{
		Lines: []domain.ReturnLineRequest{{ReceivingLineID: event.Lines[0].ID, Quantity: 2, Reason: "damaged"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/receivings/"+event.ID+"/return-breakdown", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	breakdown := decodeBody[domain.ReturnBreakdown](t, rec)
	require.Len(t, breakdown.Lines, 1)
	assert.Equal(t, 3, breakdown.Lines[0].RemainingReturnable)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/items/item-gula/reconciliation", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec2 := decodeBody[domain.Reconciliation](t, rec)
	assert.True(t, rec2.Consistent)
	assert.Equal(t, 3, rec2.LedgerBalance)
}

func TestSubmissionErrorsOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	adminToken := loginAs(t, api, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/procurements/po-missing", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", adminToken, domain.SaleRequest{
		MarginConfigID: "margin-standard",
		Lines: []domain.SaleLineRequest{
			{ItemID: "item-mie", Quantity: 1},
			{ItemID: "item-mie", Quantity: 1},
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "duplicate_item", decodeBody[map[string]string](t, rec)["code"])

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/procurements", adminToken, domain.ProcurementCreateRequest{
		VendorID: "vendor-default",
		Lines:    []domain.ProcurementLineRequest{{ItemID: "item-mie", Quantity: 3, UnitPriceAmount: 2800}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decodeBody[domain.ProcurementResponse](t, rec).Order

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/procurements/"+order.ID+"/receivings", adminToken, domain.ReceiveRequest{
		Lines: []domain.ReceiveLineRequest{{ProcurementLineID: order.Lines[0].ID, Quantity: 0}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "empty_submission", decodeBody[map[string]string](t, rec)["code"])
}

func TestCreateUserOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	adminToken := loginAs(t, api, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users", adminToken, domain.UserCreateRequest{
		Username: "gudang02",
		Password: "pass1234",
		Role:     domain.RoleWarehouse,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decodeBody[map[string][]domain.User](t, rec)["users"]
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	assert.Contains(t, names, "gudang02")

	loginAs(t, api, "gudang02", "pass1234")
}
