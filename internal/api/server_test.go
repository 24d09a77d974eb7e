package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoker/internal/codec"
	"invoker/internal/config"
	"invoker/internal/contract"
	"invoker/internal/decoder"
	"invoker/internal/errors"
	"invoker/internal/journal"
	"invoker/internal/registry"
	"invoker/internal/service"
	"invoker/internal/validation"
	"invoker/pkg/models"
)

const tokenABI = `[
	{"type":"constructor","inputs":[{"name":"supply","type":"uint256"}],"stateMutability":"nonpayable"},
	{"type":"function","name":"balanceOf","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"balance","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable"}
]`

const tokenAddress = "0x00000000000000000000000000000000000000aa"

type stubHandler struct {
	address *common.Address
	mu      *sync.Mutex
	sent    *[]*models.Transaction
}

func (h *stubHandler) Address() *common.Address { return h.address }

func (h *stubHandler) Call(context.Context, *models.Call, *codec.FunctionDescriptor, *big.Int) (map[string]interface{}, error) {
	return map[string]interface{}{"0": big.NewInt(7), "balance": big.NewInt(7)}, nil
}

func (h *stubHandler) Send(_ context.Context, tx *models.Transaction) (common.Hash, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.sent = append(*h.sent, tx)
	return common.HexToHash("0xfeed"), nil
}

func (h *stubHandler) EstimateGas(context.Context, *models.Call) (uint64, error) {
	return 21_000, nil
}

type stubJournal struct {
	entries map[string]*journal.Entry
}

func (j *stubJournal) Get(hash string) (*journal.Entry, bool, error) {
	e, ok := j.entries[hash]
	return e, ok, nil
}

func (j *stubJournal) List(limit int) ([]*journal.Entry, error) {
	out := make([]*journal.Entry, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e)
	}
	return out, nil
}

func (j *stubJournal) GetStats() map[string]interface{} {
	return map[string]interface{}{"entries": len(j.entries)}
}

type testServer struct {
	server *Server
	sent   []*models.Transaction
	closed bool
}

func newTestServer(t *testing.T) *testServer {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	reg := registry.New(nil, logger)
	token, err := registry.NewArtifact("token", tokenAddress, tokenABI, "0x6080")
	require.NoError(t, err)
	reg.Register(token)
	pending, err := registry.NewArtifact("pending", "", tokenABI, "")
	require.NoError(t, err)
	reg.Register(pending)

	ts := &testServer{}
	var mu sync.Mutex
	factory := func(address *common.Address) contract.Handler {
		return &stubHandler{address: address, mu: &mu, sent: &ts.sent}
	}

	validator := validation.NewValidator(logger, false)
	reporter := errors.NewReporter(logger)
	svc := service.New(reg, factory, validator, reporter, logger)

	hash := common.HexToHash("0xfeed").Hex()
	ts.server = NewServer(Options{
		Service:   svc,
		Decoder:   decoder.NewDecoder(logger, reg, &config.DecoderConfig{APITimeout: "1s"}),
		Journal:   &stubJournal{entries: map[string]*journal.Entry{hash: {Seq: 1, InvocationEvent: &models.InvocationEvent{Hash: hash, Kind: models.EventKindSend}}}},
		Validator: validator,
		Reporter:  reporter,
		NodeStats: func() map[string]interface{} {
			return map[string]interface{}{"local": map[string]interface{}{"healthy": true}}
		},
		Track: func() (func(), bool) {
			if ts.closed {
				return nil, false
			}
			return func() {}, true
		},
		Mode: gin.TestMode,
	}, logger)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}

func TestCall_FormatsBigIntegers(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(t, http.MethodPost, "/api/v1/call", service.Request{
		Contract: "token",
		Method:   "balanceOf",
		Args:     []string{"0x0000000000000000000000000000000000000001"},
	})
	require.Equal(t, http.StatusOK, code)
	result := body["result"].(map[string]interface{})
	assert.Equal(t, "7", result["balance"])
}

func TestCall_ErrorStatuses(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		req    service.Request
		status int
	}{
		{"unknown contract", service.Request{Contract: "missing", Method: "balanceOf"}, http.StatusNotFound},
		{"write method", service.Request{Contract: "token", Method: "transfer", Args: []string{tokenAddress, "1"}}, http.StatusBadRequest},
		{"bad argument", service.Request{Contract: "token", Method: "balanceOf", Args: []string{"nope"}}, http.StatusBadRequest},
		{"not deployed", service.Request{Contract: "pending", Method: "balanceOf", Args: []string{tokenAddress}}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := ts.do(t, http.MethodPost, "/api/v1/call", tt.req)
			assert.Equal(t, tt.status, code)
			assert.NotEmpty(t, body["error"])
		})
	}

	code, _ := ts.do(t, http.MethodPost, "/api/v1/call", map[string]string{"method": "balanceOf"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSendAndEstimate(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/api/v1/send", service.Request{
		Contract: "token",
		Method:   "transfer",
		Args:     []string{tokenAddress, "1000"},
		Gas:      60_000,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, common.HexToHash("0xfeed").Hex(), body["hash"])
	require.Len(t, ts.sent, 1)
	assert.Equal(t, common.HexToAddress(tokenAddress), *ts.sent[0].To)

	code, body = ts.do(t, http.MethodPost, "/api/v1/estimate", service.Request{
		Contract: "token",
		Method:   "transfer",
		Args:     []string{tokenAddress, "1000"},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(21_000), body["gas"])
}

func TestDeploy(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do(t, http.MethodPost, "/api/v1/deploy", service.Request{Contract: "token", Args: []string{"100"}, Gas: 1_000_000})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, ts.sent, 1)
	assert.True(t, ts.sent[0].IsContractCreation())

	code, _ = ts.do(t, http.MethodPost, "/api/v1/deploy", service.Request{Contract: "pending", Args: []string{"100"}})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/api/v1/encode", service.Request{
		Contract: "token",
		Method:   "transfer",
		Args:     []string{tokenAddress, "1000"},
	})
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(string)
	assert.Equal(t, "0xa9059cbb", data[:10])

	code, body = ts.do(t, http.MethodPost, "/api/v1/decode", map[string]string{"data": data, "to": tokenAddress})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, decoder.SourceRegistry, body["source"])
	assert.Equal(t, "token", body["contract"])
	params := body["params"].(map[string]interface{})
	assert.Equal(t, "1000", params["amount"])
	assert.Equal(t, common.HexToAddress(tokenAddress).Hex(), params["to"])
}

func TestContracts(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodGet, "/api/v1/contracts", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["total"])

	code, body = ts.do(t, http.MethodGet, "/api/v1/contracts/token?bytecode=true", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0x6080", body["bytecode"])

	code, _ = ts.do(t, http.MethodGet, "/api/v1/contracts/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ts.do(t, http.MethodPost, "/api/v1/contracts", RegisterContractRequest{Name: "other", ABI: tokenABI})
	require.Equal(t, http.StatusCreated, code)

	code, _ = ts.do(t, http.MethodPost, "/api/v1/contracts", RegisterContractRequest{Name: "broken", ABI: "not json"})
	assert.Equal(t, http.StatusBadRequest, code)

	deployed := "0x00000000000000000000000000000000000000bb"
	code, body = ts.do(t, http.MethodPut, "/api/v1/contracts/pending/address", SetAddressRequest{Address: deployed})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, common.HexToAddress(deployed).Hex(), body["address"])

	code, _ = ts.do(t, http.MethodPut, "/api/v1/contracts/pending/address", SetAddressRequest{Address: "0x12"})
	assert.Equal(t, http.StatusBadRequest, code)

	// 记录地址后可以调用
	code, _ = ts.do(t, http.MethodPost, "/api/v1/call", service.Request{Contract: "pending", Method: "balanceOf", Args: []string{tokenAddress}})
	assert.Equal(t, http.StatusOK, code)
}

func TestJournalEndpoints(t *testing.T) {
	ts := newTestServer(t)
	hash := common.HexToHash("0xfeed").Hex()

	code, body := ts.do(t, http.MethodGet, "/api/v1/journal?limit=10", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["total"])

	code, body = ts.do(t, http.MethodGet, "/api/v1/journal/"+hash, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, hash, body["hash"])

	code, _ = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/journal/0x%064x", 1), nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/journal/0xabc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStatusEndpoints(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodGet, "/api/v1/nodes", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["total"])

	code, body = ts.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["contracts"])
	assert.Contains(t, body, "journal")
	assert.Contains(t, body, "errors")
}

func TestLogsEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.server.logManager.AddLog(&logrus.Entry{Time: time.Now(), Level: logrus.ErrorLevel, Message: "boom", Data: logrus.Fields{"component": "test"}})
	ts.server.logManager.AddLog(&logrus.Entry{Time: time.Now(), Level: logrus.InfoLevel, Message: "ok"})

	code, body := ts.do(t, http.MethodGet, "/api/v1/logs?level=error", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["total"])

	code, _ = ts.do(t, http.MethodDelete, "/api/v1/logs", nil)
	require.Equal(t, http.StatusOK, code)

	_, body = ts.do(t, http.MethodGet, "/api/v1/logs", nil)
	assert.Equal(t, float64(0), body["total"])
}

func TestRejectsInvocationsWhileStopping(t *testing.T) {
	ts := newTestServer(t)
	ts.closed = true

	code, _ := ts.do(t, http.MethodPost, "/api/v1/send", service.Request{Contract: "token", Method: "transfer", Args: []string{tokenAddress, "1"}})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Empty(t, ts.sent)

	code, _ = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestStatusFor(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	unknownRule := validation.NewValidator(logger, false).Validate("block", "0x")

	assert.Equal(t, http.StatusBadRequest, statusFor(unknownRule))
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("%w: token", service.ErrUnknownContract)))
	assert.Equal(t, http.StatusConflict, statusFor(errors.ContractNotDeployed("balanceOf(address)")))
	assert.Equal(t, http.StatusBadGateway, statusFor(fmt.Errorf("eth_call 失败: connection refused")))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "0x0102", formatValue([]byte{1, 2}))
	assert.Equal(t, "0x0102", formatValue([2]byte{1, 2}))
	assert.Equal(t, []interface{}{"1", "2"}, formatValue([]*big.Int{big.NewInt(1), big.NewInt(2)}))
	assert.Equal(t, "8", formatValue(uint8(8)))
	assert.Equal(t, map[string]interface{}{"Amount": "5"}, formatValue(struct{ Amount *big.Int }{big.NewInt(5)}))
}
