package service

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoker/internal/codec"
	"invoker/internal/contract"
	"invoker/internal/errors"
	"invoker/internal/registry"
	"invoker/internal/validation"
	"invoker/pkg/models"
)

const tokenABI = `[
	{"type":"constructor","inputs":[{"name":"supply","type":"uint256"}],"stateMutability":"nonpayable"},
	{"type":"function","name":"balanceOf","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"balance","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable"},
	{"type":"function","name":"deposit","inputs":[],"outputs":[],"stateMutability":"payable"}
]`

const tokenAddress = "0x00000000000000000000000000000000000000aa"

type recordingHandler struct {
	mu        sync.Mutex
	address   *common.Address
	calls     []*models.Call
	estimates []*models.Call
	sent      []*models.Transaction
}

func (h *recordingHandler) Address() *common.Address { return h.address }

func (h *recordingHandler) Call(_ context.Context, call *models.Call, fn *codec.FunctionDescriptor, _ *big.Int) (map[string]interface{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call)
	return map[string]interface{}{"0": big.NewInt(7), "balance": big.NewInt(7)}, nil
}

func (h *recordingHandler) Send(_ context.Context, tx *models.Transaction) (common.Hash, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, tx)
	return common.HexToHash("0xfeed"), nil
}

func (h *recordingHandler) EstimateGas(_ context.Context, call *models.Call) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.estimates = append(h.estimates, call)
	return 42_000, nil
}

type fixture struct {
	svc      *Service
	handlers []*recordingHandler
}

func (f *fixture) last() *recordingHandler {
	return f.handlers[len(f.handlers)-1]
}

func newFixture(t *testing.T) *fixture {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	reg := registry.New(nil, logger)
	token, err := registry.NewArtifact("token", tokenAddress, tokenABI, "0x6080")
	require.NoError(t, err)
	reg.Register(token)
	pending, err := registry.NewArtifact("pending", "", tokenABI, "")
	require.NoError(t, err)
	reg.Register(pending)

	f := &fixture{}
	factory := func(address *common.Address) contract.Handler {
		h := &recordingHandler{address: address}
		f.handlers = append(f.handlers, h)
		return h
	}
	f.svc = New(reg, factory, validation.NewValidator(logger, false), errors.NewReporter(logger), logger)
	return f
}

func TestService_Call(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Call(context.Background(), &Request{
		Contract: "token",
		Method:   "balanceOf",
		Args:     []string{"0x00000000000000000000000000000000000000f0"},
		Block:    "100",
	})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(7), result["balance"])

	h := f.last()
	require.Len(t, h.calls, 1)
	assert.Equal(t, common.HexToAddress(tokenAddress), h.calls[0].To)
	assert.True(t, strings.HasPrefix(h.calls[0].Data, "0x70a08231"))
}

func TestService_CallErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := []string{"0x00000000000000000000000000000000000000f0"}

	_, err := f.svc.Call(ctx, &Request{Contract: "missing", Method: "balanceOf", Args: owner})
	assert.ErrorIs(t, err, ErrUnknownContract)

	_, err = f.svc.Call(ctx, &Request{Contract: "pending", Method: "balanceOf", Args: owner})
	assert.ErrorIs(t, err, errors.ErrContractNotDeployed)

	_, err = f.svc.Call(ctx, &Request{Contract: "token", Method: "balanceOf"})
	assert.ErrorIs(t, err, errors.ErrInvalidInvocation)

	_, err = f.svc.Call(ctx, &Request{Contract: "token", Method: "balanceOf", Args: []string{"not-an-address"}})
	assert.ErrorIs(t, err, errors.ErrEncoding)

	_, err = f.svc.Call(ctx, &Request{Contract: "token", Method: "transfer", Args: []string{owner[0], "1"}})
	assert.ErrorIs(t, err, errors.ErrInvalidInvocation)

	_, err = f.svc.Call(ctx, &Request{Contract: "token", Method: "balanceOf", Args: owner, Address: "0x12"})
	assert.ErrorIs(t, err, errors.ErrInvalidInvocation)

	_, err = f.svc.Call(ctx, &Request{Contract: "token", Method: "balanceOf", Args: owner, Block: "-1"})
	assert.ErrorIs(t, err, errors.ErrInvalidInvocation)
}

func TestService_CallAndEstimateValidateBeforeDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Call(ctx, &Request{
		Contract: "token",
		Method:   "balanceOf",
		Args:     []string{"0x00000000000000000000000000000000000000f0"},
		Value:    "-1",
	})
	assert.ErrorIs(t, err, errors.ErrInvalidInvocation)
	assert.Empty(t, f.last().calls)

	_, err = f.svc.Estimate(ctx, &Request{
		Contract: "token",
		Method:   "transfer",
		Args:     []string{"0x00000000000000000000000000000000000000f0", "1"},
		Value:    "-5",
	})
	assert.ErrorIs(t, err, errors.ErrInvalidInvocation)
	assert.Empty(t, f.last().estimates)
}

func TestService_CallWithAddressOverride(t *testing.T) {
	f := newFixture(t)
	override := "0x00000000000000000000000000000000000000bb"

	_, err := f.svc.Call(context.Background(), &Request{
		Contract: "pending",
		Address:  override,
		Method:   "balanceOf",
		Args:     []string{"0x00000000000000000000000000000000000000f0"},
	})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(override), f.last().calls[0].To)
}

func TestService_Send(t *testing.T) {
	f := newFixture(t)

	hash, err := f.svc.Send(context.Background(), &Request{
		Contract: "token",
		Method:   "deposit",
		Value:    "0x10",
		Type:     "dynamic_fee",
	})
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xfeed"), hash)

	sent := f.last().sent
	require.Len(t, sent, 1)
	assert.Equal(t, big.NewInt(16), sent[0].Value)
	assert.Equal(t, models.TransactionTypeDynamicFee, sent[0].Type)
	assert.Equal(t, "0xd0e30db0", sent[0].Data)
}

func TestService_SendRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	transfer := []string{"0x00000000000000000000000000000000000000f0", "1000"}

	_, err := f.svc.Send(ctx, &Request{Contract: "token", Method: "balanceOf", Args: transfer[:1]})
	assert.ErrorIs(t, err, errors.ErrInvalidInvocation)

	_, err = f.svc.Send(ctx, &Request{Contract: "token", Method: "transfer", Args: transfer, Value: "1"})
	assert.ErrorIs(t, err, errors.ErrInvalidInvocation)

	_, err = f.svc.Send(ctx, &Request{Contract: "token", Method: "transfer", Args: transfer, MaxFeePerGas: "100"})
	assert.ErrorIs(t, err, errors.ErrInvalidInvocation)

	_, err = f.svc.Send(ctx, &Request{Contract: "token", Method: "transfer", Args: transfer, Type: "blob"})
	assert.ErrorIs(t, err, errors.ErrInvalidInvocation)

	_, err = f.svc.Send(ctx, &Request{Contract: "token", Method: "transfer", Args: transfer, Value: "ten"})
	assert.ErrorIs(t, err, errors.ErrInvalidInvocation)

	for _, h := range f.handlers {
		assert.Empty(t, h.sent)
	}
}

func TestService_Deploy(t *testing.T) {
	f := newFixture(t)

	nonce := uint64(3)
	_, err := f.svc.Deploy(context.Background(), &Request{Contract: "token", Args: []string{"1000000"}, Nonce: &nonce, Gas: 2_000_000})
	require.NoError(t, err)

	h := f.last()
	assert.Nil(t, h.Address())
	require.Len(t, h.sent, 1)
	tx := h.sent[0]
	assert.True(t, tx.IsContractCreation())
	assert.True(t, strings.HasPrefix(tx.Data, "0x6080"))
	assert.Equal(t, uint64(3), *tx.Nonce)
	assert.Equal(t, uint64(2_000_000), *tx.GasLimit)

	_, err = f.svc.Deploy(context.Background(), &Request{Contract: "token", Args: []string{"1"}, Value: "5"})
	assert.ErrorIs(t, err, errors.ErrInvalidInvocation)

	_, err = f.svc.Deploy(context.Background(), &Request{Contract: "pending", Args: []string{"1"}})
	assert.ErrorIs(t, err, errors.ErrInvalidConfiguration)
}

func TestService_EstimateAndEncode(t *testing.T) {
	f := newFixture(t)
	req := &Request{
		Contract: "token",
		Method:   "transfer",
		Args:     []string{"0x00000000000000000000000000000000000000f0", "1000"},
		From:     "0x00000000000000000000000000000000000000f1",
	}

	gas, err := f.svc.Estimate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, uint64(42_000), gas)
	require.NotNil(t, f.last().estimates[0].From)
	assert.Equal(t, common.HexToAddress(req.From), *f.last().estimates[0].From)

	data, err := f.svc.EncodeCall(req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(data, "0xa9059cbb"))
	assert.Len(t, data, 2+8+64*2)
}

func TestParseBig(t *testing.T) {
	v, err := parseBig("")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = parseBig("1000")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), v)

	v, err = parseBig("0xff")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(255), v)

	_, err = parseBig("0xzz")
	assert.Error(t, err)
}
