package contract

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"invoker/pkg/models"
)

// CallOptions 只读调用选项，零值表示全部交给处理器决定
type CallOptions struct {
	From     *common.Address
	Gas      *uint64
	GasPrice *big.Int
	Value    *big.Int
}

// EstimateOptions gas估算选项。估算调用不携带gasPrice
type EstimateOptions struct {
	From  *common.Address
	Gas   *uint64
	Value *big.Int
}

// TransactionOptions 写交易选项，未设置的字段由处理器/网络填充。
// 不含 value 字段：不可支付方法在类型上就无法携带原生币
type TransactionOptions struct {
	Nonce                *uint64
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	GasLimit             *uint64
	From                 *common.Address
	AccessList           types.AccessList
	Type                 models.TransactionType
}

// PayableOptions 可携带原生币的写交易选项
type PayableOptions struct {
	TransactionOptions
	Value *big.Int
}
