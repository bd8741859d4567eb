package sandbox

import (
	"context"
	"time"

	"github.com/agent-infra/sandbox-go/backoff"
)

// PollOption 配置轮询行为的选项。
type PollOption func(*pollOpts)

// DefaultWaitTimeout WaitUntilRunning 默认的最长等待时间
const DefaultWaitTimeout = 5 * time.Minute

type pollOpts struct {
	timeout     time.Duration
	interval    time.Duration
	maxInterval time.Duration
	multiplier  float64 // 退避倍数，1.0 表示固定间隔
	policy      backoff.Backoff
	onPoll      func(attempt int)
}

func defaultPollOpts(defaultInterval time.Duration) *pollOpts {
	return &pollOpts{
		timeout:     DefaultWaitTimeout,
		interval:    defaultInterval,
		maxInterval: backoff.DefaultMaxDelay,
		multiplier:  1.5,
	}
}

// WithPollInterval 设置轮询间隔。
func WithPollInterval(d time.Duration) PollOption {
	return func(o *pollOpts) { o.interval = d }
}

// WithPollTimeout 设置最长等待时间，默认 DefaultWaitTimeout。
// d <= 0 时只受 ctx 约束。
func WithPollTimeout(d time.Duration) PollOption {
	return func(o *pollOpts) { o.timeout = d }
}

// WithBackoff 设置指数退避倍数和最大间隔。
// multiplier 为每次轮询后间隔的乘数（如 1.5 表示每次增加 50%），
// maxInterval 为间隔上限（0 表示不限制）。
func WithBackoff(multiplier float64, maxInterval time.Duration) PollOption {
	return func(o *pollOpts) {
		o.multiplier = multiplier
		o.maxInterval = maxInterval
	}
}

// WithPollPolicy 使用指定的退避器计算轮询间隔，优先级高于 WithPollInterval 和 WithBackoff。
func WithPollPolicy(b backoff.Backoff) PollOption {
	return func(o *pollOpts) { o.policy = b }
}

// WithOnPoll 设置每次轮询时的回调函数。
// attempt 从 1 开始递增。
func WithOnPoll(fn func(attempt int)) PollOption {
	return func(o *pollOpts) { o.onPoll = fn }
}

func (o *pollOpts) next(ctx context.Context, attempt int, interval time.Duration) time.Duration {
	if o.policy != nil {
		return o.policy.Time(ctx, &backoff.Options{Attempts: attempt - 1})
	}
	if o.multiplier > 1.0 {
		interval = time.Duration(float64(interval) * o.multiplier)
		if o.maxInterval > 0 && interval > o.maxInterval {
			interval = o.maxInterval
		}
	}
	return interval
}

// pollLoop 是 WaitUntilRunning 使用的轮询循环。
// pollFn 在每次轮询时被调用，返回 (done, result, error)。
func pollLoop[T any](ctx context.Context, opts *pollOpts, pollFn func() (bool, T, error)) (T, error) {
	if opts.interval <= 0 {
		opts.interval = time.Second
	}

	interval := opts.interval
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	attempt := 0
	for {
		attempt++
		if opts.onPoll != nil {
			opts.onPoll(attempt)
		}

		done, result, err := pollFn()
		if err != nil {
			return result, err
		}
		if done {
			return result, nil
		}

		// 计算下次间隔（退避）
		interval = opts.next(ctx, attempt, interval)

		if timer == nil {
			timer = time.NewTimer(interval)
		} else {
			timer.Reset(interval)
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
