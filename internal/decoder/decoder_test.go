package decoder

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoker/internal/codec"
	"invoker/internal/config"
)

// transfer(0x...abcdef, 1000)
const transferInput = "0xa9059cbb" +
	"0000000000000000000000000000000000000000000000000000000000abcdef" +
	"00000000000000000000000000000000000000000000000000000000000003e8"

type staticSource struct {
	fn       *codec.FunctionDescriptor
	contract string
}

func (s *staticSource) FunctionBySelector(selector []byte, to *common.Address) (*codec.FunctionDescriptor, string, bool) {
	if s.fn == nil || string(s.fn.Selector()) != string(selector) {
		return nil, "", false
	}
	return s.fn, s.contract, true
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func fourByteServer(t *testing.T, hits *int32, results []signature) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "0xa9059cbb", r.URL.Query().Get("hex_signature"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(FourByteResponse{Count: len(results), Results: results})
	}))
	t.Cleanup(server.Close)
	return server
}

func decoderConfig(url string, enableAPI bool) *config.DecoderConfig {
	return &config.DecoderConfig{
		FourByteAPIURL: url,
		APITimeout:     "2s",
		EnableCache:    true,
		CacheSize:      10,
		EnableAPI:      enableAPI,
	}
}

func TestDecode_FromRegistry(t *testing.T) {
	parsed, err := codec.ParseABIString(`[{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable"}]`)
	require.NoError(t, err)
	fn, _ := parsed.Function("transfer")

	d := NewDecoder(quietLogger(), &staticSource{fn: fn, contract: "token"}, decoderConfig("", false))
	decoded, err := d.Decode(context.Background(), transferInput, nil)
	require.NoError(t, err)

	assert.Equal(t, SourceRegistry, decoded.Source)
	assert.Equal(t, "token", decoded.Contract)
	assert.Equal(t, "transfer(address,uint256)", decoded.Signature)
	assert.Equal(t, common.HexToAddress("0xabcdef"), decoded.Params["to"])
	assert.Equal(t, big.NewInt(1000), decoded.Params["amount"])
}

func TestDecode_FourByteWithCache(t *testing.T) {
	var hits int32
	server := fourByteServer(t, &hits, []signature{
		{ID: 31780, TextSignature: "many_msg_babbage(bytes1)"},
		{ID: 145, TextSignature: "transfer(address,uint256)"},
	})

	d := NewDecoder(quietLogger(), nil, decoderConfig(server.URL, true))

	decoded, err := d.Decode(context.Background(), transferInput, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceFourByte, decoded.Source)
	assert.Equal(t, "transfer(address,uint256)", decoded.Signature)
	assert.Equal(t, big.NewInt(1000), decoded.Params["1"])

	name := d.MethodName(context.Background(), transferInput, nil)
	assert.Equal(t, "transfer(address,uint256)", name)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, 1, d.GetCacheSize())

	d.ClearCache()
	assert.Equal(t, 0, d.GetCacheSize())
}

func TestDecode_FallsBackToBuiltin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d := NewDecoder(quietLogger(), nil, decoderConfig(server.URL, true))
	decoded, err := d.Decode(context.Background(), transferInput, nil)
	require.NoError(t, err)

	assert.Equal(t, SourceBuiltin, decoded.Source)
	assert.Equal(t, "transfer(address,uint256)", decoded.Signature)
	assert.Equal(t, 0, d.GetCacheSize())
}

func TestDecode_Unknown(t *testing.T) {
	d := NewDecoder(quietLogger(), nil, decoderConfig("", false))
	decoded, err := d.Decode(context.Background(), "0xdeadbeef"+
		"0000000000000000000000001111111111111111111111111111111111111111"+
		"ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff", nil)
	require.NoError(t, err)

	assert.Equal(t, SourceUnknown, decoded.Source)
	assert.Equal(t, "0xdeadbeef", decoded.Selector)
	assert.Equal(t, "address", decoded.Params["param_0_type"])
	assert.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111").Hex(), decoded.Params["param_0"])
	assert.Equal(t, "bytes32", decoded.Params["param_1_type"])
}

func TestDecode_InvalidInput(t *testing.T) {
	d := NewDecoder(quietLogger(), nil, decoderConfig("", false))

	_, err := d.Decode(context.Background(), "0x1234", nil)
	assert.Error(t, err)
	_, err = d.Decode(context.Background(), "0xzz", nil)
	assert.Error(t, err)

	assert.Equal(t, SourceUnknown, d.MethodName(context.Background(), "", nil))
}

func TestEvictCache(t *testing.T) {
	d := NewDecoder(quietLogger(), nil, decoderConfig("", false))
	for i := 0; i < 25; i++ {
		d.remember(fmt.Sprintf("0x%08x", i), "f()")
	}
	assert.LessOrEqual(t, d.GetCacheSize(), 10)
}
