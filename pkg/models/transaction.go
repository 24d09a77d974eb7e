package models

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TransactionType 交易类型
type TransactionType uint8

const (
	TransactionTypeLegacy     TransactionType = types.LegacyTxType
	TransactionTypeAccessList TransactionType = types.AccessListTxType
	TransactionTypeDynamicFee TransactionType = types.DynamicFeeTxType
)

// String 返回交易类型名称
func (t TransactionType) String() string {
	switch t {
	case TransactionTypeLegacy:
		return "legacy"
	case TransactionTypeAccessList:
		return "access_list"
	case TransactionTypeDynamicFee:
		return "dynamic_fee"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseTransactionType 解析交易类型名称
func ParseTransactionType(name string) (TransactionType, error) {
	switch name {
	case "", "legacy", "0":
		return TransactionTypeLegacy, nil
	case "access_list", "eip2930", "1":
		return TransactionTypeAccessList, nil
	case "dynamic_fee", "eip1559", "2":
		return TransactionTypeDynamicFee, nil
	default:
		return TransactionTypeLegacy, fmt.Errorf("不支持的交易类型: %s", name)
	}
}

// Transaction 写交易对象。未设置的字段为 nil，由处理器/网络决定
type Transaction struct {
	Nonce                *uint64          `json:"nonce,omitempty"`
	GasPrice             *big.Int         `json:"gas_price,omitempty"`
	MaxFeePerGas         *big.Int         `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas *big.Int         `json:"max_priority_fee_per_gas,omitempty"`
	GasLimit             *uint64          `json:"gas_limit,omitempty"`
	From                 *common.Address  `json:"from,omitempty"`
	To                   *common.Address  `json:"to,omitempty"` // nil 表示合约创建
	Value                *big.Int         `json:"value,omitempty"`
	Data                 string           `json:"data"`
	AccessList           types.AccessList `json:"access_list"`
	Type                 TransactionType  `json:"transaction_type"`
}

// IsContractCreation 是否为合约创建交易
func (t *Transaction) IsContractCreation() bool {
	return t.To == nil
}

// DataBytes 解码交易数据
func (t *Transaction) DataBytes() ([]byte, error) {
	return decodeData(t.Data)
}

// ToTxData 将已填充完整的交易转换为 go-ethereum 交易数据，
// nonce、gasLimit 及对应类型的费用字段必须已由处理器填好
func (t *Transaction) ToTxData(chainID *big.Int) (types.TxData, error) {
	if t.Nonce == nil || t.GasLimit == nil {
		return nil, fmt.Errorf("交易缺少nonce或gasLimit")
	}
	data, err := t.DataBytes()
	if err != nil {
		return nil, err
	}
	value := t.Value
	if value == nil {
		value = new(big.Int)
	}

	switch t.Type {
	case TransactionTypeLegacy:
		if t.GasPrice == nil {
			return nil, fmt.Errorf("legacy交易缺少gasPrice")
		}
		return &types.LegacyTx{
			Nonce:    *t.Nonce,
			GasPrice: t.GasPrice,
			Gas:      *t.GasLimit,
			To:       t.To,
			Value:    value,
			Data:     data,
		}, nil
	case TransactionTypeAccessList:
		if t.GasPrice == nil {
			return nil, fmt.Errorf("access_list交易缺少gasPrice")
		}
		return &types.AccessListTx{
			ChainID:    chainID,
			Nonce:      *t.Nonce,
			GasPrice:   t.GasPrice,
			Gas:        *t.GasLimit,
			To:         t.To,
			Value:      value,
			Data:       data,
			AccessList: t.AccessList,
		}, nil
	case TransactionTypeDynamicFee:
		if t.MaxFeePerGas == nil || t.MaxPriorityFeePerGas == nil {
			return nil, fmt.Errorf("dynamic_fee交易缺少费用上限")
		}
		return &types.DynamicFeeTx{
			ChainID:    chainID,
			Nonce:      *t.Nonce,
			GasTipCap:  t.MaxPriorityFeePerGas,
			GasFeeCap:  t.MaxFeePerGas,
			Gas:        *t.GasLimit,
			To:         t.To,
			Value:      value,
			Data:       data,
			AccessList: t.AccessList,
		}, nil
	default:
		return nil, fmt.Errorf("不支持的交易类型: %s", t.Type)
	}
}

// Clone 拷贝交易对象，指针字段指向新值，修改副本不影响调用方持有的对象
func (t *Transaction) Clone() *Transaction {
	c := *t
	c.From = CopyAddress(t.From)
	c.To = CopyAddress(t.To)
	c.Nonce = CopyUint64(t.Nonce)
	c.GasLimit = CopyUint64(t.GasLimit)
	c.Value = CopyBig(t.Value)
	c.GasPrice = CopyBig(t.GasPrice)
	c.MaxFeePerGas = CopyBig(t.MaxFeePerGas)
	c.MaxPriorityFeePerGas = CopyBig(t.MaxPriorityFeePerGas)
	if t.AccessList != nil {
		c.AccessList = append(types.AccessList(nil), t.AccessList...)
	}
	return &c
}

// CopyUint64 拷贝指针指向的值，nil 返回 nil
func CopyUint64(v *uint64) *uint64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// CopyBig 拷贝大整数，nil 返回 nil
func CopyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// CopyAddress 拷贝地址，nil 返回 nil
func CopyAddress(v *common.Address) *common.Address {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
