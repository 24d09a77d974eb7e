package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoker/internal/config"
)

const tokenABI = `[
	{"type":"constructor","inputs":[{"name":"supply","type":"uint256"}],"stateMutability":"nonpayable"},
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable"},
	{"type":"function","name":"balanceOf","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"balance","type":"uint256"}],"stateMutability":"view"}
]`

const vaultABI = `[
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"}
]`

type memoryStore struct {
	records []*config.ArtifactRecord
	saved   []*config.ArtifactRecord
}

func (m *memoryStore) LoadArtifacts(ctx context.Context) ([]*config.ArtifactRecord, error) {
	return m.records, nil
}

func (m *memoryStore) SaveArtifact(ctx context.Context, record *config.ArtifactRecord) error {
	m.saved = append(m.saved, record)
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestNewArtifact(t *testing.T) {
	a, err := NewArtifact("token", "0x1111111111111111111111111111111111111111", tokenABI, "6080")
	require.NoError(t, err)

	require.NotNil(t, a.Address)
	assert.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), *a.Address)
	assert.Equal(t, []byte{0x60, 0x80}, a.Bytecode)
	_, ok := a.ABI.Function("transfer")
	assert.True(t, ok)

	_, err = NewArtifact("", "", tokenABI, "")
	assert.Error(t, err)
	_, err = NewArtifact("token", "0x123", tokenABI, "")
	assert.Error(t, err)
	_, err = NewArtifact("token", "", tokenABI, "0xzz")
	assert.Error(t, err)
	_, err = NewArtifact("token", "", "not json", "")
	assert.Error(t, err)
}

func TestRegistry_LoadFromConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "token.json"), []byte(tokenABI), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "token.bin"), []byte("0x6080\n"), 0644))

	r := New(nil, testLogger())
	err := r.LoadFromConfig([]*config.ContractConfig{
		{Name: "token", ABIPath: "token.json", BytecodePath: "token.bin"},
	}, dir)
	require.NoError(t, err)

	a, ok := r.Get("token")
	require.True(t, ok)
	assert.Nil(t, a.Address)
	assert.Equal(t, []byte{0x60, 0x80}, a.Bytecode)

	err = r.LoadFromConfig([]*config.ContractConfig{{Name: "missing", ABIPath: "missing.json"}}, dir)
	assert.Error(t, err)
}

func TestRegistry_LoadFromStoreSkipsInvalid(t *testing.T) {
	store := &memoryStore{records: []*config.ArtifactRecord{
		{Name: "token", ABI: tokenABI},
		{Name: "broken", ABI: "{"},
	}}
	r := New(store, testLogger())

	require.NoError(t, r.LoadFromStore(context.Background()))
	assert.Len(t, r.List(), 1)
}

func TestRegistry_FunctionBySelectorPrefersBoundContract(t *testing.T) {
	r := New(nil, testLogger())
	token, err := NewArtifact("token", "", tokenABI, "")
	require.NoError(t, err)
	vault, err := NewArtifact("vault", "0x2222222222222222222222222222222222222222", vaultABI, "")
	require.NoError(t, err)
	r.Register(token)
	r.Register(vault)

	selector := hexutil.MustDecode("0xa9059cbb")

	d, name, ok := r.FunctionBySelector(selector, nil)
	require.True(t, ok)
	assert.Equal(t, "token", name)
	assert.Equal(t, "transfer(address,uint256)", d.Signature())

	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	_, name, ok = r.FunctionBySelector(selector, &to)
	require.True(t, ok)
	assert.Equal(t, "vault", name)

	_, _, ok = r.FunctionBySelector(hexutil.MustDecode("0xdeadbeef"), nil)
	assert.False(t, ok)
}

func TestRegistry_SetAddressPersists(t *testing.T) {
	store := &memoryStore{}
	r := New(store, testLogger())
	a, err := NewArtifact("token", "", tokenABI, "0x6080")
	require.NoError(t, err)
	r.Register(a)

	addr := common.HexToAddress("0x3333333333333333333333333333333333333333")
	require.NoError(t, r.SetAddress(context.Background(), "token", addr))

	updated, _ := r.Get("token")
	assert.Equal(t, addr, *updated.Address)
	assert.Nil(t, a.Address) // 原制品不被修改

	require.Len(t, store.saved, 1)
	assert.Equal(t, addr.Hex(), store.saved[0].Address)
	assert.Equal(t, "0x6080", store.saved[0].Bytecode)

	assert.Error(t, r.SetAddress(context.Background(), "unknown", addr))
}
