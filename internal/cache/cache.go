// Package cache 提供带过期时间的内存缓存，可选地持久化到本地文件。
//
// 持久化文件为 JSON Lines 格式，多个进程通过 flock 文件锁共享同一个缓存文件，
// 同一个 key 的并发回源请求会被 singleflight 合并。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"
)

type (
	// Value 缓存值需要实现的接口
	Value interface {
		// ShouldRefresh 返回 true 时，Get 会尝试回源，回源失败时继续使用当前值
		ShouldRefresh() bool
		// IsValid 返回 false 时，该值不会再被返回
		IsValid() bool
	}

	// Cache 缓存
	Cache[V Value] struct {
		mu              sync.Mutex
		entries         map[string]entry[V]
		compactInterval time.Duration
		lastCompactTime time.Time
		persist         *persistOptions
		group           singleflight.Group
	}

	// Options 缓存选项
	Options struct {
		// 清理失效缓存项的间隔
		CompactInterval time.Duration
		// 持久化文件路径，为空表示不持久化
		PersistentFilePath string
		// 两次持久化之间的最小间隔
		PersistentDuration time.Duration
		// 持久化过程中出现的错误
		HandleError func(error)
	}

	persistOptions struct {
		path               string
		duration           time.Duration
		lastPersistentTime time.Time
		handleError        func(error)
	}

	entry[V Value] struct {
		Value     V         `json:"value"`
		CreatedAt time.Time `json:"created_at"`
	}

	fileEntry[V Value] struct {
		Key       string    `json:"key"`
		Value     V         `json:"value"`
		CreatedAt time.Time `json:"created_at"`
	}
)

// Result 描述 Get 返回值的来源
type Result uint8

const (
	// FromCache 命中缓存
	FromCache Result = iota
	// FromRefresh 缓存需要刷新，且刷新成功
	FromRefresh
	// FromFallback 缓存未命中，回源成功
	FromFallback
	// FromStale 缓存需要刷新但回源失败，返回旧值
	FromStale
	// NoResult 缓存未命中且回源失败
	NoResult
)

func (r Result) String() string {
	switch r {
	case FromCache:
		return "cache"
	case FromRefresh:
		return "refresh"
	case FromFallback:
		return "fallback"
	case FromStale:
		return "stale"
	default:
		return "none"
	}
}

const defaultCompactInterval = time.Minute

// New 创建缓存。如果设置了持久化文件路径，会先从文件中加载仍然有效的缓存项
func New[V Value](opts Options) (*Cache[V], error) {
	if opts.CompactInterval <= 0 {
		opts.CompactInterval = defaultCompactInterval
	}
	cache := &Cache[V]{
		entries:         make(map[string]entry[V]),
		compactInterval: opts.CompactInterval,
		lastCompactTime: time.Now(),
	}
	if opts.PersistentFilePath == "" {
		return cache, nil
	}

	cache.persist = &persistOptions{
		path:               opts.PersistentFilePath,
		duration:           opts.PersistentDuration,
		lastPersistentTime: time.Now(),
		handleError:        opts.HandleError,
	}
	if err := os.MkdirAll(filepath.Dir(opts.PersistentFilePath), 0700); err != nil {
		return nil, err
	}
	unlock, err := lockFile(opts.PersistentFilePath, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	file, err := os.OpenFile(opts.PersistentFilePath, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	entries, err := loadEntries[V](file)
	if err != nil {
		return nil, err
	}
	cache.entries = entries
	return cache, nil
}

// Get 获取缓存值，缓存不存在、失效或需要刷新时调用 fallback 回源
func (c *Cache[V]) Get(ctx context.Context, key string, fallback func(context.Context) (V, error)) (V, Result, error) {
	c.mu.Lock()
	cached, ok := c.entries[key]
	c.mu.Unlock()
	defer c.flush()

	if ok && cached.Value.IsValid() && !cached.Value.ShouldRefresh() {
		return cached.Value, FromCache, nil
	}

	value, err := c.doFallback(ctx, key, fallback)
	if err != nil {
		if ok && cached.Value.IsValid() {
			return cached.Value, FromStale, nil
		}
		var zero V
		return zero, NoResult, err
	}
	c.set(key, value)
	if ok && cached.Value.IsValid() {
		return value, FromRefresh, nil
	}
	return value, FromFallback, nil
}

// Set 设置缓存值，无效的值会被忽略
func (c *Cache[V]) Set(key string, value V) {
	c.set(key, value)
	c.flush()
}

// Delete 删除缓存值
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len 返回缓存项数量
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[V]) set(key string, value V) {
	if !value.IsValid() {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry[V]{Value: value, CreatedAt: time.Now()}
	c.mu.Unlock()
}

func (c *Cache[V]) doFallback(ctx context.Context, key string, fallback func(context.Context) (V, error)) (V, error) {
	value, err, _ := c.group.Do(key, func() (interface{}, error) { return fallback(ctx) })
	if err != nil {
		var zero V
		return zero, err
	}
	return value.(V), nil
}

// Flush 立即清理失效项，并在需要时写入持久化文件
func (c *Cache[V]) Flush() {
	c.mu.Lock()
	c.compactLocked()
	c.lastCompactTime = time.Now()
	c.mu.Unlock()
	if c.persist != nil {
		c.persistNow()
	}
}

func (c *Cache[V]) flush() {
	c.mu.Lock()
	if time.Since(c.lastCompactTime) >= c.compactInterval {
		c.compactLocked()
		c.lastCompactTime = time.Now()
	}
	persist := c.persist != nil && time.Since(c.persist.lastPersistentTime) >= c.persist.duration
	c.mu.Unlock()

	if persist {
		c.persistNow()
	}
}

func (c *Cache[V]) compactLocked() {
	for key, e := range c.entries {
		if !e.Value.IsValid() {
			delete(c.entries, key)
		}
	}
}

func (c *Cache[V]) persistNow() {
	if err := c.doPersist(); err != nil && c.persist.handleError != nil {
		c.persist.handleError(err)
	}
}

// doPersist 合并文件中其他进程写入的缓存项后整体回写
func (c *Cache[V]) doPersist() error {
	unlock, err := lockFile(c.persist.path, true)
	if err != nil {
		return err
	}
	defer unlock()

	file, err := os.OpenFile(c.persist.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	onDisk, err := loadEntries[V](file)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.persist.lastPersistentTime = time.Now()
	for key, e := range onDisk {
		if existing, ok := c.entries[key]; !ok || existing.CreatedAt.Before(e.CreatedAt) {
			c.entries[key] = e
		}
	}
	if _, err = file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err = file.Truncate(0); err != nil {
		return err
	}
	return saveEntries(file, c.entries)
}

func loadEntries[V Value](r io.Reader) (map[string]entry[V], error) {
	decoder := json.NewDecoder(r)
	entries := make(map[string]entry[V])
	for {
		var fe fileEntry[V]
		if err := decoder.Decode(&fe); err != nil {
			if errors.Is(err, io.EOF) {
				return entries, nil
			}
			return nil, err
		}
		if fe.Value.IsValid() {
			entries[fe.Key] = entry[V]{Value: fe.Value, CreatedAt: fe.CreatedAt}
		}
	}
}

func saveEntries[V Value](w io.Writer, entries map[string]entry[V]) error {
	encoder := json.NewEncoder(w)
	for key, e := range entries {
		if !e.Value.IsValid() {
			continue
		}
		if err := encoder.Encode(fileEntry[V]{Key: key, Value: e.Value, CreatedAt: e.CreatedAt}); err != nil {
			return err
		}
	}
	return nil
}

func lockFile(path string, exclusive bool) (func(), error) {
	lock := flock.New(path + ".lock")
	var err error
	if exclusive {
		err = lock.Lock()
	} else {
		err = lock.RLock()
	}
	if err != nil {
		return nil, err
	}
	return func() { _ = lock.Unlock() }, nil
}
