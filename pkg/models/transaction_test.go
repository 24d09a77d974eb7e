package models

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u64(v uint64) *uint64 { return &v }

func TestParseTransactionType(t *testing.T) {
	tests := []struct {
		input string
		want  TransactionType
	}{
		{"", TransactionTypeLegacy},
		{"legacy", TransactionTypeLegacy},
		{"eip2930", TransactionTypeAccessList},
		{"access_list", TransactionTypeAccessList},
		{"2", TransactionTypeDynamicFee},
		{"eip1559", TransactionTypeDynamicFee},
	}
	for _, tt := range tests {
		got, err := ParseTransactionType(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}

	_, err := ParseTransactionType("blob")
	assert.Error(t, err)
	assert.Equal(t, "unknown(3)", TransactionType(3).String())
}

func TestToTxData(t *testing.T) {
	to := common.HexToAddress("0xaa")
	chainID := big.NewInt(1337)

	legacy := &Transaction{Nonce: u64(1), GasLimit: u64(21000), GasPrice: big.NewInt(5), To: &to, Data: "0x01"}
	data, err := legacy.ToTxData(chainID)
	require.NoError(t, err)
	tx := types.NewTx(data)
	assert.Equal(t, uint8(types.LegacyTxType), tx.Type())
	assert.Equal(t, big.NewInt(0), tx.Value())
	assert.Equal(t, []byte{0x01}, tx.Data())

	dynamic := &Transaction{
		Nonce:                u64(2),
		GasLimit:             u64(50000),
		MaxFeePerGas:         big.NewInt(22),
		MaxPriorityFeePerGas: big.NewInt(2),
		Type:                 TransactionTypeDynamicFee,
	}
	data, err = dynamic.ToTxData(chainID)
	require.NoError(t, err)
	tx = types.NewTx(data)
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Nil(t, tx.To())
	assert.Equal(t, chainID, tx.ChainId())

	_, err = (&Transaction{GasLimit: u64(1), GasPrice: big.NewInt(1)}).ToTxData(chainID)
	assert.Error(t, err, "缺少nonce")
	_, err = (&Transaction{Nonce: u64(1), GasLimit: u64(1), Type: TransactionTypeAccessList}).ToTxData(chainID)
	assert.Error(t, err, "缺少gasPrice")
	_, err = (&Transaction{Nonce: u64(1), GasLimit: u64(1), GasPrice: big.NewInt(1), Data: "0xzz"}).ToTxData(chainID)
	assert.Error(t, err)
}

func TestClone_DoesNotShareAccessList(t *testing.T) {
	original := &Transaction{
		AccessList: types.AccessList{{Address: common.HexToAddress("0x01")}},
		Type:       TransactionTypeAccessList,
	}
	clone := original.Clone()
	clone.AccessList[0].Address = common.HexToAddress("0x02")
	clone.Nonce = u64(9)

	assert.Equal(t, common.HexToAddress("0x01"), original.AccessList[0].Address)
	assert.Nil(t, original.Nonce)
}

func TestClone_CopiesPointerFields(t *testing.T) {
	to := common.HexToAddress("0xaa")
	original := &Transaction{To: &to, Nonce: u64(1), GasLimit: u64(21000), Value: big.NewInt(3), GasPrice: big.NewInt(4)}
	clone := original.Clone()

	*clone.Nonce = 2
	*clone.GasLimit = 1
	clone.Value.SetInt64(30)
	clone.GasPrice.SetInt64(40)
	clone.To[0] = 0xff

	assert.Equal(t, uint64(1), *original.Nonce)
	assert.Equal(t, uint64(21000), *original.GasLimit)
	assert.Equal(t, int64(3), original.Value.Int64())
	assert.Equal(t, int64(4), original.GasPrice.Int64())
	assert.Equal(t, common.HexToAddress("0xaa"), *original.To)
	assert.Nil(t, CopyBig(nil))
}

func TestCall_ToCallMsg(t *testing.T) {
	from := common.HexToAddress("0x01")
	call := &Call{From: &from, To: common.HexToAddress("0xaa"), Gas: u64(30000), Data: "0x70a08231"}

	msg, err := call.ToCallMsg()
	require.NoError(t, err)
	assert.Equal(t, from, msg.From)
	assert.Equal(t, uint64(30000), msg.Gas)
	assert.Equal(t, []byte{0x70, 0xa0, 0x82, 0x31}, msg.Data)

	empty, err := (&Call{}).DataBytes()
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestNewInvocationEvent(t *testing.T) {
	to := common.HexToAddress("0xaa")
	from := common.HexToAddress("0x01")
	hash := common.HexToHash("0xfeed")

	event := NewInvocationEvent(hash, &Transaction{From: &from, To: &to, Value: big.NewInt(255), Nonce: u64(4), Data: "0xa9059cbb"}, "transfer(address,uint256)")
	assert.Equal(t, EventKindSend, event.Kind)
	assert.Equal(t, hash.Hex(), event.Hash)
	assert.Equal(t, to.Hex(), event.To)
	assert.Equal(t, "0xff", event.Value)
	assert.Equal(t, "legacy", event.Type)

	deploy := NewInvocationEvent(hash, &Transaction{Data: "0x6080"}, "constructor")
	assert.Equal(t, EventKindDeploy, deploy.Kind)
	assert.Empty(t, deploy.To)
	assert.Empty(t, deploy.Value)
}
