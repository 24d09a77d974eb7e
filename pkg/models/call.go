package models

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Call 只读调用对象，每次 call/estimateGas 临时构建，不持久化
type Call struct {
	From     *common.Address `json:"from,omitempty"`
	To       common.Address  `json:"to"`
	Gas      *uint64         `json:"gas,omitempty"`
	GasPrice *big.Int        `json:"gas_price,omitempty"`
	Value    *big.Int        `json:"value,omitempty"`
	Data     string          `json:"data"` // 0x前缀的十六进制调用数据
}

// DataBytes 解码调用数据
func (c *Call) DataBytes() ([]byte, error) {
	return decodeData(c.Data)
}

// ToCallMsg 转换为 go-ethereum 的调用消息
func (c *Call) ToCallMsg() (ethereum.CallMsg, error) {
	data, err := c.DataBytes()
	if err != nil {
		return ethereum.CallMsg{}, err
	}

	to := c.To
	msg := ethereum.CallMsg{
		To:       &to,
		GasPrice: c.GasPrice,
		Value:    c.Value,
		Data:     data,
	}
	if c.From != nil {
		msg.From = *c.From
	}
	if c.Gas != nil {
		msg.Gas = *c.Gas
	}
	return msg, nil
}

func decodeData(data string) ([]byte, error) {
	if data == "" || data == "0x" {
		return []byte{}, nil
	}
	b, err := hexutil.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("无效的调用数据 %q: %w", data, err)
	}
	return b, nil
}
