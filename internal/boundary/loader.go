package boundary

import (
	"context"
	"sync"
	"time"

	"civic-reporter/internal/logger"
	"civic-reporter/internal/metrics"

	"golang.org/x/sync/singleflight"
)

// 文档注释：边界加载器（按数据源记忆化）
// 背景：每个数据源在进程生命周期内最多成功加载一次；并发的首次调用共享同一次获取。
// 约束：仅缓存成功结果，失败后下一次调用会重新获取；加载本身不受单个调用方 ctx 取消影响，
// 避免一个请求超时导致其他等待者一起失败。返回的切片只读。
type Loader struct {
	fetcher Fetcher
	group   singleflight.Group

	mu     sync.RWMutex
	loaded map[string][]Polygon
}

func NewLoader(f Fetcher) *Loader {
	return &Loader{fetcher: f, loaded: make(map[string][]Polygon)}
}

// Load：获取并解析数据源；已成功加载过则直接返回缓存
func (l *Loader) Load(ctx context.Context, src string) ([]Polygon, error) {
	if polys, ok := l.cached(src); ok {
		return polys, nil
	}
	ch := l.group.DoChan(src, func() (any, error) {
		if polys, ok := l.cached(src); ok {
			return polys, nil
		}
		polys, err := l.fetchAndParse(context.WithoutCancel(ctx), src)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.loaded[src] = polys
		l.mu.Unlock()
		return polys, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Polygon), nil
	}
}

// Reload：绕过缓存重新获取数据源；成功后替换缓存，失败时保留旧结果
// 约束：与同一数据源的 Load/Reload 共享 singleflight 键，不会并发重复获取。
func (l *Loader) Reload(ctx context.Context, src string) ([]Polygon, error) {
	ch := l.group.DoChan(src, func() (any, error) {
		polys, err := l.fetchAndParse(context.WithoutCancel(ctx), src)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.loaded[src] = polys
		l.mu.Unlock()
		return polys, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Polygon), nil
	}
}

// Loaded：数据源是否已成功加载
func (l *Loader) Loaded(src string) bool {
	_, ok := l.cached(src)
	return ok
}

func (l *Loader) cached(src string) ([]Polygon, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	polys, ok := l.loaded[src]
	return polys, ok
}

func (l *Loader) fetchAndParse(ctx context.Context, src string) ([]Polygon, error) {
	start := time.Now()
	doc, err := l.fetcher.Fetch(ctx, src)
	if err != nil {
		metrics.BoundaryLoadTotal.WithLabelValues("unknown", "fail").Inc()
		logger.L().Warn("boundary_fetch_fail", "source", src, "err", err)
		return nil, &LoadError{Source: src, Err: err}
	}
	if doc.Name == "" {
		doc.Name = src
	}
	parser := Detect(doc)
	polys, err := parser.Parse(doc)
	if err != nil {
		metrics.BoundaryLoadTotal.WithLabelValues(parser.Format(), "fail").Inc()
		logger.L().Warn("boundary_parse_fail", "source", src, "format", parser.Format(), "err", err)
		return nil, &LoadError{Source: src, Err: err}
	}
	dur := time.Since(start)
	metrics.BoundaryLoadTotal.WithLabelValues(parser.Format(), "ok").Inc()
	metrics.BoundaryLoadDurationMs.Observe(float64(dur.Milliseconds()))
	logger.L().Info("boundary_load_ok", "source", src, "format", parser.Format(), "polygons", len(polys), "duration_ms", dur.Milliseconds())
	return polys, nil
}
