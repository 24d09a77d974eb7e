package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// 事件类型
const (
	EventKindSend   = "send"
	EventKindDeploy = "deploy"
)

// InvocationEvent 已发出交易的记录，写入交易日志并发布到事件流
type InvocationEvent struct {
	Hash      string    `json:"hash"`
	Kind      string    `json:"kind"`
	Method    string    `json:"method"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Value     string    `json:"value,omitempty"`
	Nonce     *uint64   `json:"nonce,omitempty"`
	GasLimit  *uint64   `json:"gas_limit,omitempty"`
	Type      string    `json:"transaction_type"`
	Data      string    `json:"data"`
	Node      string    `json:"node,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewInvocationEvent 由交易对象和交易哈希构建事件
func NewInvocationEvent(hash common.Hash, tx *Transaction, method string) *InvocationEvent {
	event := &InvocationEvent{
		Hash:      hash.Hex(),
		Kind:      EventKindSend,
		Method:    method,
		Nonce:     tx.Nonce,
		GasLimit:  tx.GasLimit,
		Type:      tx.Type.String(),
		Data:      tx.Data,
		Timestamp: time.Now().UTC(),
	}
	if tx.IsContractCreation() {
		event.Kind = EventKindDeploy
	} else {
		event.To = tx.To.Hex()
	}
	if tx.From != nil {
		event.From = tx.From.Hex()
	}
	if tx.Value != nil {
		event.Value = (*hexutil.Big)(new(big.Int).Set(tx.Value)).String()
	}
	return event
}
