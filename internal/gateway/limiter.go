package gateway

import (
	"errors"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// ErrRateLimited 超出命令速率
var ErrRateLimited = errors.New("gateway: command rate exceeded")

// RateLimiter 令牌桶命令限流
type RateLimiter struct {
	limiter  *rate.Limiter
	allowed  atomic.Int64
	rejected atomic.Int64
}

// NewRateLimiter ratePerSec<=0 时不限流；burst<=0 时取 ratePerSec
func NewRateLimiter(ratePerSec, burst int) *RateLimiter {
	if ratePerSec <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst <= 0 {
		burst = ratePerSec
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Allow 非阻塞取令牌
func (l *RateLimiter) Allow() bool {
	if l.limiter.Allow() {
		l.allowed.Add(1)
		return true
	}
	l.rejected.Add(1)
	return false
}

// Allowed 累计放行数
func (l *RateLimiter) Allowed() int64 { return l.allowed.Load() }

// Rejected 累计拒绝数
func (l *RateLimiter) Rejected() int64 { return l.rejected.Load() }
