package acceptance

import (
	"bulk_orders/internal/database"
	"bulk_orders/internal/database/mocks"
	"bulk_orders/internal/model"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T, apiKey string) (http.Handler, *mocks.MockStorage) {
	s, storage := newTestService(t)
	router := chi.NewRouter()
	NewHandler(s, apiKey, zap.NewNop()).Routes(router)
	return router, storage
}

func postJSON(t *testing.T, router http.Handler, body any, headers map[string]string) *httptest.ResponseRecorder {
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/bulk-orders", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body["message"]
}

func TestHandler_Create(t *testing.T) {
	router, storage := newTestRouter(t, "")
	storage.EXPECT().SaveSubmission(gomock.Any(), gomock.Any()).Return(nil)

	rr := postJSON(t, router, testSubmission(), nil)
	require.Equal(t, http.StatusCreated, rr.Code)

	var accepted model.SubmissionAccepted
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &accepted))
	assert.NotEmpty(t, accepted.SubmissionID)
	assert.Len(t, accepted.PaymentPIN, pinLength)
}

func TestHandler_Create_Duplicate(t *testing.T) {
	router, storage := newTestRouter(t, "")
	storage.EXPECT().SaveSubmission(gomock.Any(), gomock.Any()).Return(database.ErrDuplicate)

	rr := postJSON(t, router, testSubmission(), nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "duplicate submission", decodeMessage(t, rr))
}

func TestHandler_Create_BadBody(t *testing.T) {
	router, _ := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodPost, "/api/bulk-orders", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid request body", decodeMessage(t, rr))
}

func TestHandler_Create_ValidationError(t *testing.T) {
	router, _ := newTestRouter(t, "")
	payload := testSubmission()
	payload.Source = "xlsx"

	rr := postJSON(t, router, payload, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeMessage(t, rr), "invalid submission")
}

func TestHandler_Create_StorageError(t *testing.T) {
	router, storage := newTestRouter(t, "")
	storage.EXPECT().SaveSubmission(gomock.Any(), gomock.Any()).Return(errors.New("db down"))

	rr := postJSON(t, router, testSubmission(), nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "internal error", decodeMessage(t, rr))
}

func TestHandler_Authorization(t *testing.T) {
	router, storage := newTestRouter(t, "secret")

	rr := postJSON(t, router, testSubmission(), nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = postJSON(t, router, testSubmission(), map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	storage.EXPECT().SaveSubmission(gomock.Any(), gomock.Any()).Return(nil)
	rr = postJSON(t, router, testSubmission(), map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestHandler_GetByID(t *testing.T) {
	router, storage := newTestRouter(t, "")
	id := uuid.New().String()
	storage.EXPECT().GetSubmission(gomock.Any(), id).Return(&model.StoredSubmission{
		ID: id, AgentID: "agent-1", PaymentPIN: "SECRET", Fingerprint: "abc", RowCount: 1,
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/bulk-orders/"+id, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "SECRET")
	assert.NotContains(t, rr.Body.String(), "payment_pin")

	var got map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, id, got["submission_id"])
}

func TestHandler_GetByID_NotFound(t *testing.T) {
	router, _ := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/bulk-orders/unknown", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "submission not found", decodeMessage(t, rr))
}
