package errors

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorCallback 错误回调函数
type ErrorCallback func(err *InvokeError)

// Reporter 错误上报器：记录统计、按严重级别记日志、触发回调，
// 但从不吞掉错误，Report 总是把原错误返回给调用方
type Reporter struct {
	logger    *logrus.Logger
	stats     *ErrorStats
	callbacks []ErrorCallback
	mu        sync.RWMutex
}

// NewReporter 创建错误上报器
func NewReporter(logger *logrus.Logger) *Reporter {
	return &Reporter{
		logger:    logger,
		stats:     NewErrorStats(),
		callbacks: make([]ErrorCallback, 0),
	}
}

// Report 上报错误并原样返回
func (r *Reporter) Report(err error, component string) error {
	if err == nil {
		return nil
	}

	var invokeErr *InvokeError
	if ie, ok := err.(*InvokeError); ok {
		invokeErr = ie
	} else {
		// 处理器层错误只做统计，不改写
		invokeErr = WrapError(err, ErrorTypeHandler, SeverityMedium, "HANDLER_ERROR", "处理器返回错误")
	}

	r.mu.Lock()
	r.stats.RecordError(invokeErr)
	callbacks := make([]ErrorCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	r.log(invokeErr, component)

	for _, callback := range callbacks {
		go func(cb ErrorCallback) {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Errorf("错误回调执行时发生panic: %v", rec)
				}
			}()
			cb(invokeErr)
		}(callback)
	}

	return err
}

// log 根据严重级别选择日志级别
func (r *Reporter) log(err *InvokeError, component string) {
	if component == "" {
		component = err.Component
	}
	entry := r.logger.WithFields(logrus.Fields{
		"error_type": err.Type.String(),
		"error_code": err.Code,
		"component":  component,
		"method":     err.Method,
		"retryable":  err.Retryable,
	})

	switch err.Severity {
	case SeverityLow:
		entry.Debug(err.Error())
	case SeverityMedium:
		entry.Warn(err.Error())
	default:
		entry.Error(err.Error())
	}
}

// AddCallback 添加错误回调
func (r *Reporter) AddCallback(callback ErrorCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, callback)
}

// Snapshot 获取错误统计快照
func (r *Reporter) Snapshot() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]interface{}{
		"total_errors":        r.stats.TotalErrors,
		"errors_by_type":      copyCounts(r.stats.ErrorsByType),
		"errors_by_severity":  copyCounts(r.stats.ErrorsBySeverity),
		"errors_by_component": copyCounts(r.stats.ErrorsByComponent),
		"errors_last_hour":    r.stats.GetErrorRate(time.Hour),
		"last_error_time":     r.stats.LastErrorTime,
	}
}

// ClearStats 清除统计信息
func (r *Reporter) ClearStats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = NewErrorStats()
}

func copyCounts(src map[string]int) map[string]int {
	dst := make(map[string]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
