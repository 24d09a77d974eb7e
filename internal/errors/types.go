package errors

import (
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 调用层错误（封闭集合，均不可重试）
	ErrorTypeContractNotDeployed ErrorType = iota
	ErrorTypeInvalidConfiguration
	ErrorTypeInvalidInvocation
	ErrorTypeEncoding

	// 处理器/网络相关错误
	ErrorTypeNetwork
	ErrorTypeTimeout
	ErrorTypeHandler

	// 基础设施错误
	ErrorTypeConfig
	ErrorTypeStorage
	ErrorTypePublish
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// 错误码
const (
	CodeContractNotDeployed  = "CONTRACT_NOT_DEPLOYED"
	CodeInvalidConfiguration = "INVALID_CONFIGURATION"
	CodeInvalidInvocation    = "INVALID_INVOCATION"
	CodeEncoding             = "ENCODING_ERROR"
)

// InvokeError 自定义错误类型
type InvokeError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"cause,omitempty"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component"`
	Method    string                 `json:"method,omitempty"`
	TxHash    *string                `json:"tx_hash,omitempty"`
}

// Error 实现error接口
func (e *InvokeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *InvokeError) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较，支持 errors.Is(err, ErrEncoding) 这类判断
func (e *InvokeError) Is(target error) bool {
	t, ok := target.(*InvokeError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// IsRetryable 判断是否可重试
func (e *InvokeError) IsRetryable() bool {
	return e.Retryable
}

// WithContext 添加上下文信息
func (e *InvokeError) WithContext(key string, value interface{}) *InvokeError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithMethod 添加方法签名
func (e *InvokeError) WithMethod(method string) *InvokeError {
	e.Method = method
	return e
}

// WithComponent 添加组件名
func (e *InvokeError) WithComponent(component string) *InvokeError {
	e.Component = component
	return e
}

// WithTxHash 添加交易哈希
func (e *InvokeError) WithTxHash(txHash string) *InvokeError {
	e.TxHash = &txHash
	return e
}

// NewInvokeError 创建新的错误
func NewInvokeError(errorType ErrorType, severity ErrorSeverity, code, message string) *InvokeError {
	return &InvokeError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *InvokeError {
	e := NewInvokeError(errorType, severity, code, message)
	e.Cause = err
	return e
}

// determineRetryable 根据错误类型判断是否可重试
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout:
		return true
	case ErrorTypePublish:
		return true
	default:
		return false
	}
}

// ContractNotDeployed 处理器未绑定目标地址
func ContractNotDeployed(method string) *InvokeError {
	return NewInvokeError(ErrorTypeContractNotDeployed, SeverityMedium,
		CodeContractNotDeployed, "合约未部署：处理器没有绑定目标地址").WithMethod(method)
}

// InvalidConfiguration 调用配置错误
func InvalidConfiguration(format string, args ...interface{}) *InvokeError {
	return NewInvokeError(ErrorTypeInvalidConfiguration, SeverityMedium,
		CodeInvalidConfiguration, fmt.Sprintf(format, args...))
}

// InvalidInvocation 结构上不允许的调用组合
func InvalidInvocation(format string, args ...interface{}) *InvokeError {
	return NewInvokeError(ErrorTypeInvalidInvocation, SeverityMedium,
		CodeInvalidInvocation, fmt.Sprintf(format, args...))
}

// Encoding ABI编码失败
func Encoding(cause error, format string, args ...interface{}) *InvokeError {
	return WrapError(cause, ErrorTypeEncoding, SeverityMedium,
		CodeEncoding, fmt.Sprintf(format, args...))
}

// 预定义错误，仅用于 errors.Is 比较，不要修改
var (
	ErrContractNotDeployed  = &InvokeError{Type: ErrorTypeContractNotDeployed, Code: CodeContractNotDeployed, Message: "合约未部署"}
	ErrInvalidConfiguration = &InvokeError{Type: ErrorTypeInvalidConfiguration, Code: CodeInvalidConfiguration, Message: "调用配置无效"}
	ErrInvalidInvocation    = &InvokeError{Type: ErrorTypeInvalidInvocation, Code: CodeInvalidInvocation, Message: "无效的调用"}
	ErrEncoding             = &InvokeError{Type: ErrorTypeEncoding, Code: CodeEncoding, Message: "ABI编码失败"}
)

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeContractNotDeployed:  "ContractNotDeployed",
	ErrorTypeInvalidConfiguration: "InvalidConfiguration",
	ErrorTypeInvalidInvocation:    "InvalidInvocation",
	ErrorTypeEncoding:             "Encoding",
	ErrorTypeNetwork:              "Network",
	ErrorTypeTimeout:              "Timeout",
	ErrorTypeHandler:              "Handler",
	ErrorTypeConfig:               "Config",
	ErrorTypeStorage:              "Storage",
	ErrorTypePublish:              "Publish",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int                   `json:"total_errors"`
	ErrorsByType      map[string]int        `json:"errors_by_type"`
	ErrorsBySeverity  map[string]int        `json:"errors_by_severity"`
	ErrorsByComponent map[string]int        `json:"errors_by_component"`
	RecentErrors      []*InvokeError        `json:"recent_errors"`
	LastError         *InvokeError          `json:"last_error"`
	LastErrorTime     time.Time             `json:"last_error_time"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[string]int),
		ErrorsBySeverity:  make(map[string]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*InvokeError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *InvokeError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type.String()]++
	es.ErrorsBySeverity[err.Severity.String()]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	// 保留最近100个错误
	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > 100 {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-duration)
	recentCount := 0
	for _, err := range es.RecentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	return float64(recentCount) / duration.Hours()
}
