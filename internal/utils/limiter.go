package utils

import "context"

// ConcurrencyLimiter 并发限制器
type ConcurrencyLimiter struct {
	sem chan struct{}
}

// NewConcurrencyLimiter 创建并发限制器
func NewConcurrencyLimiter(max int) *ConcurrencyLimiter {
	if max < 1 {
		max = 1
	}
	return &ConcurrencyLimiter{
		sem: make(chan struct{}, max),
	}
}

// Acquire 获取信号量, ctx 取消时放弃等待
func (l *ConcurrencyLimiter) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release 释放信号量
func (l *ConcurrencyLimiter) Release() {
	<-l.sem
}

// Capacity 最大并发数
func (l *ConcurrencyLimiter) Capacity() int {
	return cap(l.sem)
}
