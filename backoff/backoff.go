// Package backoff 提供生命周期调用重试时使用的退避策略。
package backoff

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/alex-ant/gomath/rational"
)

type (
	// Backoff 退避器接口
	Backoff interface {
		// Time 获取第 Attempts 次重试前的等待时长
		Time(context.Context, *Options) time.Duration
	}

	// Options 退避器选项
	Options struct {
		// Attempts 已经失败的次数，从 0 开始
		Attempts int
	}
)

const (
	// DefaultBaseDelay 默认的初始退避时长
	DefaultBaseDelay = 200 * time.Millisecond
	// DefaultMaxDelay 默认的最大退避时长
	DefaultMaxDelay = 5 * time.Second
)

// Default 返回生命周期调用默认使用的退避器：
// 以 DefaultBaseDelay 为底数按 2 倍指数增长，上限 DefaultMaxDelay，
// 再乘以 [0.5, 1.5) 区间的随机抖动。
func Default() Backoff {
	return NewRandomizedBackoff(
		NewLimitedBackoff(NewExponentialBackoff(DefaultBaseDelay, 2), 0, DefaultMaxDelay),
		rational.New(1, 2),
		rational.New(3, 2),
	)
}

type funcBackoff struct {
	fn func(context.Context, *Options) time.Duration
}

// NewBackoff 创建自定义时长的退避器
func NewBackoff(fn func(context.Context, *Options) time.Duration) Backoff {
	return funcBackoff{fn: fn}
}

func (b funcBackoff) Time(ctx context.Context, opts *Options) time.Duration {
	return b.fn(ctx, opts)
}

type fixedBackoff struct {
	wait time.Duration
}

// NewFixedBackoff 创建固定时长的退避器
func NewFixedBackoff(wait time.Duration) Backoff {
	return fixedBackoff{wait: wait}
}

func (b fixedBackoff) Time(context.Context, *Options) time.Duration {
	return b.wait
}

type randomizedBackoff struct {
	base                        Backoff
	minification, magnification rational.Rational
	r                           *rand.Rand
	mu                          sync.Mutex
}

// NewRandomizedBackoff 创建随机时长的退避器，结果落在 [base*minification, base*magnification) 区间
func NewRandomizedBackoff(base Backoff, minification, magnification rational.Rational) Backoff {
	if minification.LessThanNum(0) {
		panic("minification must be greater than or equal to 0")
	}
	if magnification.LessThanNum(0) || magnification.GetNumerator() == 0 {
		panic("magnification must be greater than 0")
	}
	return &randomizedBackoff{
		base:          base,
		minification:  minification,
		magnification: magnification,
		r:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *randomizedBackoff) Time(ctx context.Context, opts *Options) time.Duration {
	wait := b.base.Time(ctx, opts)
	lo := b.minification.MultiplyByNum(int64(wait))
	hi := b.magnification.MultiplyByNum(int64(wait))
	diff := int64(hi.Subtract(lo).Float64())
	if diff <= 0 {
		return time.Duration(lo.Float64())
	}
	b.mu.Lock()
	n := b.r.Int63n(diff)
	b.mu.Unlock()
	return time.Duration(lo.AddNum(n).Float64())
}

type limitedBackoff struct {
	base     Backoff
	min, max time.Duration
}

// NewLimitedBackoff 创建限制时长的退避器
func NewLimitedBackoff(base Backoff, min, max time.Duration) Backoff {
	return limitedBackoff{base: base, min: min, max: max}
}

func (b limitedBackoff) Time(ctx context.Context, opts *Options) time.Duration {
	wait := b.base.Time(ctx, opts)
	if wait < b.min {
		return b.min
	} else if wait > b.max {
		return b.max
	}
	return wait
}

type exponentialBackoff struct {
	wait       time.Duration
	baseNumber int64
}

// NewExponentialBackoff 创建时长指数级增长的退避器，时长为 wait * baseNumber^Attempts
func NewExponentialBackoff(wait time.Duration, baseNumber int64) Backoff {
	return exponentialBackoff{wait: wait, baseNumber: baseNumber}
}

func (b exponentialBackoff) Time(_ context.Context, opts *Options) time.Duration {
	attempts := 0
	if opts != nil {
		attempts = opts.Attempts
	}
	factor := math.Pow(float64(b.baseNumber), float64(attempts))
	if factor > float64(math.MaxInt64)/float64(b.wait+1) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(float64(b.wait) * factor)
}

// Wait 按退避器给出的时长等待，ctx 结束时提前返回 ctx.Err()
func Wait(ctx context.Context, b Backoff, attempts int) error {
	d := b.Time(ctx, &Options{Attempts: attempts})
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
