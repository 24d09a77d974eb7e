package dispatch

import (
	"context"
	"fmt"
	"sync"
)

// Outcome 单次完成的异步结果：成功或失败二选一，且恰好完成一次
type Outcome[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// newOutcome 创建未完成的结果
func newOutcome[T any]() *Outcome[T] {
	return &Outcome[T]{done: make(chan struct{})}
}

// Go 在新的goroutine中执行fn，返回其结果。
// fn 发生panic时以错误完成，不会让进程崩溃
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Outcome[T] {
	o := newOutcome[T]()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				o.resolve(zero, fmt.Errorf("dispatch panic: %v", r))
			}
		}()
		value, err := fn(ctx)
		o.resolve(value, err)
	}()
	return o
}

// Resolved 返回已完成的结果
func Resolved[T any](value T, err error) *Outcome[T] {
	o := newOutcome[T]()
	o.resolve(value, err)
	return o
}

// resolve 完成结果，只有第一次生效；失败时丢弃value
func (o *Outcome[T]) resolve(value T, err error) bool {
	resolved := false
	o.once.Do(func() {
		if err != nil {
			var zero T
			value = zero
		}
		o.value = value
		o.err = err
		resolved = true
		close(o.done)
	})
	return resolved
}

// Done 完成时关闭的通道
func (o *Outcome[T]) Done() <-chan struct{} {
	return o.done
}

// Wait 等待完成。ctx 取消只结束等待，不影响已发出的请求
func (o *Outcome[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-o.done:
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Ready 是否已完成
func (o *Outcome[T]) Ready() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// Then 完成后在独立goroutine中回调一次，用于回调风格的调用方
func (o *Outcome[T]) Then(onComplete func(T, error)) {
	go func() {
		<-o.done
		onComplete(o.value, o.err)
	}()
}
