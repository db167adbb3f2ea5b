// 包 jurisdiction：按辖区类型懒加载边界图层，并提供"首个命中"的坐标归属查询
package jurisdiction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"civic-reporter/internal/boundary"
	"civic-reporter/internal/geo"
	"civic-reporter/internal/logger"

	"github.com/tidwall/rtree"
)

// Kind：辖区图层类型
type Kind string

const (
	Corporation  Kind = "corporation"
	Ward         Kind = "ward"
	Constituency Kind = "constituency"
	TrafficPS    Kind = "traffic_ps"
)

// Kinds：固定的查询顺序
var Kinds = []Kind{Corporation, Ward, Constituency, TrafficPS}

// ParseKind：未知取值返回 false
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// ErrUnknownLayer：请求了未配置数据源的图层
var ErrUnknownLayer = errors.New("unknown jurisdiction layer")

// 文档注释：已加载的辖区图层
// 背景：多边形按数据源顺序保存；R 树只用于按包围盒缩小候选集，最终归属仍取载入顺序最靠前的命中。
// 约束：构建后只读，可并发查询。
type Layer struct {
	Kind     Kind
	Source   string
	Polygons []boundary.Polygon

	tree rtree.RTree
}

func newLayer(kind Kind, src string, polys []boundary.Polygon) *Layer {
	l := &Layer{Kind: kind, Source: src, Polygons: polys}
	for i := range polys {
		b := polys[i].Bounds
		l.tree.Insert([2]float64{b.West, b.South}, [2]float64{b.East, b.North}, i)
	}
	return l
}

// Find：返回载入顺序中第一个包含坐标的多边形；无命中返回 nil
func (l *Layer) Find(c geo.Coordinate) *boundary.Polygon {
	if !c.Valid() {
		return nil
	}
	pt := [2]float64{c.Lon, c.Lat}
	var cands []int
	l.tree.Search(pt, pt, func(_, _ [2]float64, data interface{}) bool {
		cands = append(cands, data.(int))
		return true
	})
	sort.Ints(cands)
	for _, i := range cands {
		p := &l.Polygons[i]
		if p.Bounds.Contains(c) && geo.Contains(p.Ring, c) {
			return p
		}
	}
	return nil
}

// FindAll：返回所有包含坐标的多边形（按载入顺序），用于重叠边界诊断
func (l *Layer) FindAll(c geo.Coordinate) []*boundary.Polygon {
	var out []*boundary.Polygon
	for i := range l.Polygons {
		p := &l.Polygons[i]
		if p.Bounds.Contains(c) && geo.Contains(p.Ring, c) {
			out = append(out, p)
		}
	}
	return out
}

// 文档注释：辖区索引
// 背景：四类图层各自对应一个边界数据源，首次使用时经 Loader 加载并构建；Loader 负责记忆化与并发合并，
// 索引只在其上缓存构建好的 R 树。
// 约束：失败的加载不缓存，下次查询会重试。
type Index struct {
	loader  *boundary.Loader
	sources map[Kind]string

	mu     sync.RWMutex
	layers map[Kind]*Layer
}

func New(loader *boundary.Loader, sources map[Kind]string) *Index {
	src := make(map[Kind]string, len(sources))
	for k, v := range sources {
		if v != "" {
			src[k] = v
		}
	}
	return &Index{loader: loader, sources: src, layers: make(map[Kind]*Layer)}
}

// Configured：该类型是否配置了数据源
func (x *Index) Configured(kind Kind) bool {
	_, ok := x.sources[kind]
	return ok
}

// Loaded：该类型图层是否已构建
func (x *Index) Loaded(kind Kind) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.layers[kind] != nil
}

// Layer：获取（必要时加载）指定图层
func (x *Index) Layer(ctx context.Context, kind Kind) (*Layer, error) {
	src, ok := x.sources[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLayer, kind)
	}
	x.mu.RLock()
	l := x.layers[kind]
	x.mu.RUnlock()
	if l != nil {
		return l, nil
	}
	polys, err := x.loader.Load(ctx, src)
	if err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if l = x.layers[kind]; l != nil {
		return l, nil
	}
	l = newLayer(kind, src, polys)
	x.layers[kind] = l
	return l, nil
}

// Resolve：坐标在指定图层中的首个命中多边形；无命中返回 (nil, nil)
func (x *Index) Resolve(ctx context.Context, kind Kind, c geo.Coordinate) (*boundary.Polygon, error) {
	l, err := x.Layer(ctx, kind)
	if err != nil {
		return nil, err
	}
	return l.Find(c), nil
}

// Warm：预加载全部已配置图层；返回各图层的加载错误，失败不影响其他图层
func (x *Index) Warm(ctx context.Context) map[Kind]error {
	errs := map[Kind]error{}
	for _, k := range Kinds {
		if !x.Configured(k) {
			continue
		}
		l, err := x.Layer(ctx, k)
		if err != nil {
			errs[k] = err
			logger.L().Warn("layer_warm_fail", "layer", string(k), "err", err)
			continue
		}
		logger.L().Info("layer_warm_ok", "layer", string(k), "polygons", len(l.Polygons))
	}
	return errs
}

// 文档注释：重新获取全部已配置图层
// 背景：边界文件会被发布方更新；由定时任务周期调用。
// 约束：单个图层获取失败时保留旧图层继续服务，只返回该图层的错误；成功的图层原子替换。
func (x *Index) Refresh(ctx context.Context) map[Kind]error {
	errs := map[Kind]error{}
	for _, k := range Kinds {
		src, ok := x.sources[k]
		if !ok {
			continue
		}
		polys, err := x.loader.Reload(ctx, src)
		if err != nil {
			errs[k] = err
			logger.L().Warn("layer_refresh_fail", "layer", string(k), "err", err)
			continue
		}
		l := newLayer(k, src, polys)
		x.mu.Lock()
		x.layers[k] = l
		x.mu.Unlock()
		logger.L().Info("layer_refresh_ok", "layer", string(k), "polygons", len(polys))
	}
	return errs
}
