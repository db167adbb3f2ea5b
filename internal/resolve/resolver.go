// 包 resolve：坐标到辖区属性（选区、市政公司、选区代表、交警辖区及联系方式）的并发解析
package resolve

import (
	"context"
	"time"

	"civic-reporter/internal/boundary"
	"civic-reporter/internal/contacts"
	"civic-reporter/internal/gate"
	"civic-reporter/internal/geo"
	"civic-reporter/internal/jurisdiction"
	"civic-reporter/internal/logger"
	"civic-reporter/internal/metrics"

	"golang.org/x/sync/errgroup"
)

// 各图层的属性别名，按优先级排列
var (
	CorporationAliases  = []string{"NewCorp", "corp_name", "name"}
	WardIDAliases       = []string{"ward_id", "WARD_NO", "ward_no"}
	WardNameAliases     = []string{"ward_name", "WARD_NAME"}
	ConstituencyAliases = []string{"AC_NAME", "ac_name", "name"}
	TrafficPSAliases    = []string{"Traffic_PS", "traffic_ps", "name"}
	StationNameAliases  = []string{"PS_BOUNDName", "ps_boundname"}
	StationCodeAliases  = []string{"PS_BOUNDCode", "ps_boundcode"}
)

// 文档注释：一次解析的完整结果
// 背景：每个图层独立解析，某图层无命中或不可用只会让对应字段为空，不影响其他字段。
// 约束：构建后不再修改；Unavailable 非空时结果不进入缓存。
type ResolvedLocation struct {
	Coordinate            geo.Coordinate      `json:"coordinate"`
	InServiceArea         bool                `json:"inServiceArea"`
	GateValid             bool                `json:"gateValid"`
	GateState             gate.State          `json:"gateState"`
	WardID                string              `json:"wardId,omitempty"`
	WardName              string              `json:"wardName,omitempty"`
	CorporationName       string              `json:"corporationName,omitempty"`
	CorporationHandle     string              `json:"corporationHandle,omitempty"`
	ConstituencyName      string              `json:"constituencyName,omitempty"`
	RepresentativeHandle  string              `json:"representativeHandle,omitempty"`
	PoliceStationName     string              `json:"policeStationName,omitempty"`
	PoliceStationBoundary string              `json:"policeStationBoundary,omitempty"`
	PoliceStationCode     string              `json:"policeStationCode,omitempty"`
	PoliceStationContact  []string            `json:"policeStationContact,omitempty"`
	Emails                map[string][]string `json:"emails,omitempty"`
	Unavailable           []jurisdiction.Kind `json:"unavailable,omitempty"`
}

// Complete：所有图层均成功查询（命中与否不论）
func (r *ResolvedLocation) Complete() bool { return len(r.Unavailable) == 0 }

// clone：深拷贝切片与映射，缓存条目与调用方互不共享
func (r ResolvedLocation) clone() ResolvedLocation {
	if r.PoliceStationContact != nil {
		r.PoliceStationContact = append([]string(nil), r.PoliceStationContact...)
	}
	if r.Unavailable != nil {
		r.Unavailable = append([]jurisdiction.Kind(nil), r.Unavailable...)
	}
	if r.Emails != nil {
		m := make(map[string][]string, len(r.Emails))
		for k, v := range r.Emails {
			m[k] = append([]string(nil), v...)
		}
		r.Emails = m
	}
	return r
}

// PoliceStation：对外展示的交警辖区名，优先辖区名，其次边界名
func (r *ResolvedLocation) PoliceStation() string {
	if r.PoliceStationName != "" {
		return r.PoliceStationName
	}
	return r.PoliceStationBoundary
}

// 文档注释：属性解析器
// 约束：Resolve 仅在坐标非法或 ctx 已取消时返回错误；图层失败按字段降级。
type Resolver struct {
	Index     *jurisdiction.Index
	Gate      *gate.Gate
	Directory *contacts.Directory
	Emails    *contacts.EmailAuthorities

	local  *LRU
	shared *RedisCache
}

func New(idx *jurisdiction.Index, g *gate.Gate, dir *contacts.Directory, emails *contacts.EmailAuthorities) *Resolver {
	return &Resolver{Index: idx, Gate: g, Directory: dir, Emails: emails}
}

// WithCache：挂载进程内与 Redis 缓存；任一可为空
func (r *Resolver) WithCache(local *LRU, shared *RedisCache) *Resolver {
	r.local = local
	r.shared = shared
	return r
}

type layerResult struct {
	poly *boundary.Polygon
	err  error
}

// Resolve：四个图层并发查询，逐字段组装结果
func (r *Resolver) Resolve(ctx context.Context, c geo.Coordinate) (*ResolvedLocation, error) {
	if !c.Valid() {
		return nil, ErrInvalidCoordinate
	}
	tBegin := time.Now()
	metrics.ResolveRequestsTotal.Inc()
	defer func() { metrics.ResolveDurationMs.Observe(float64(time.Since(tBegin).Milliseconds())) }()

	// 缓存键为 6 位小数坐标，命中时坐标取本次请求值
	key := c.Key()
	if r.local != nil {
		if v, ok := r.local.Get(key); ok {
			metrics.CacheHitsTotal.WithLabelValues("local").Inc()
			v = v.clone()
			v.Coordinate = c
			return &v, nil
		}
		metrics.CacheMissesTotal.WithLabelValues("local").Inc()
	}
	if v, ok := r.shared.Get(ctx, key); ok {
		if r.local != nil {
			r.local.Set(key, v.clone())
		}
		v.Coordinate = c
		return &v, nil
	}

	out := &ResolvedLocation{Coordinate: c}
	if r.Gate != nil {
		out.InServiceArea = r.Gate.Area.Contains(c)
	}

	results := make([]layerResult, len(jurisdiction.Kinds))
	var verdict gate.Verdict
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range jurisdiction.Kinds {
		if !r.Index.Configured(kind) {
			continue
		}
		i, kind := i, kind
		g.Go(func() error {
			p, err := r.Index.Resolve(gctx, kind, c)
			results[i] = layerResult{poly: p, err: err}
			return nil
		})
	}
	if r.Gate != nil {
		g.Go(func() error {
			verdict = r.Gate.Check(gctx, c, geo.SourceUnknown)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, kind := range jurisdiction.Kinds {
		res := results[i]
		if res.err != nil {
			out.Unavailable = append(out.Unavailable, kind)
			metrics.LayerUnavailableTotal.WithLabelValues(string(kind)).Inc()
			logger.L().Warn("layer_lookup_fail", "layer", string(kind), "lat", c.Lat, "lon", c.Lon, "err", res.err)
			continue
		}
		if res.poly != nil {
			r.apply(out, kind, res.poly)
		}
	}
	if r.Gate != nil {
		out.GateState = verdict.State
		out.GateValid = verdict.OK()
	}
	r.attachEmails(out)

	logger.L().Debug("resolve_ok", "lat", c.Lat, "lon", c.Lon, "ward", out.WardID, "corp", out.CorporationName, "unavailable", len(out.Unavailable))
	if out.Complete() {
		if r.local != nil {
			r.local.Set(key, out.clone())
		}
		r.shared.Set(ctx, key, *out)
	}
	return out, nil
}

func (r *Resolver) apply(out *ResolvedLocation, kind jurisdiction.Kind, p *boundary.Polygon) {
	switch kind {
	case jurisdiction.Corporation:
		out.CorporationName = p.Property(CorporationAliases...)
		out.CorporationHandle = contacts.CorporationHandle(out.CorporationName)
	case jurisdiction.Ward:
		out.WardID = p.Property(WardIDAliases...)
		out.WardName = p.Property(WardNameAliases...)
	case jurisdiction.Constituency:
		out.ConstituencyName = p.Property(ConstituencyAliases...)
		out.RepresentativeHandle = r.Directory.RepresentativeHandle(out.ConstituencyName)
	case jurisdiction.TrafficPS:
		out.PoliceStationName = p.Property(TrafficPSAliases...)
		out.PoliceStationBoundary = p.Property(StationNameAliases...)
		out.PoliceStationCode = p.Property(StationCodeAliases...)
	}
}

func (r *Resolver) attachEmails(out *ResolvedLocation) {
	if r.Emails == nil {
		return
	}
	ps := out.PoliceStation()
	if ps != "" {
		if list := r.Emails.TrafficPSEmails[ps].Emails; len(list) > 0 {
			out.PoliceStationContact = append([]string(nil), list...)
		}
	}
	for _, flow := range []string{"civic", "traffic"} {
		if !r.Emails.Enabled(flow) {
			continue
		}
		if rcpt := r.Emails.Recipients(flow, out.WardID, ps); len(rcpt) > 0 {
			if out.Emails == nil {
				out.Emails = map[string][]string{}
			}
			out.Emails[flow] = rcpt
		}
	}
}
