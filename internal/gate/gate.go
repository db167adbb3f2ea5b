// 包 gate：上报位置准入判定（服务区包围盒 + 门控辖区图层精确包含）
package gate

import (
	"context"
	"strings"

	"civic-reporter/internal/boundary"
	"civic-reporter/internal/geo"
	"civic-reporter/internal/jurisdiction"
	"civic-reporter/internal/logger"
	"civic-reporter/internal/metrics"
)

// State：判定结论
type State string

const (
	NoLocation          State = "no_location"
	OutsideServiceArea  State = "outside_service_area"
	OutsideJurisdiction State = "outside_jurisdiction"
	Unavailable         State = "gate_unavailable"
	Valid               State = "valid"
)

// 文档注释：单次判定结果
// 约束：Match 仅在 Valid 且命中多边形时非空；Err 仅在 Unavailable 时非空。
type Verdict struct {
	State   State             `json:"state"`
	Reason  string            `json:"reason,omitempty"`
	Match   *boundary.Polygon `json:"-"`
	Err     error             `json:"-"`
	Trusted bool              `json:"trusted,omitempty"`
}

// OK：是否允许提交
func (v Verdict) OK() bool { return v.State == Valid }

// Policy：门控图层不可用时的处理策略
type Policy string

const (
	// FailClosed：图层不可用一律拒绝
	FailClosed Policy = "closed"
	// TrustExif：图层不可用时，服务区内且来自照片 EXIF 的坐标放行
	TrustExif Policy = "trust_exif"
)

// ParsePolicy：未知取值回退为 FailClosed
func ParsePolicy(s string) Policy {
	if Policy(strings.ToLower(strings.TrimSpace(s))) == TrustExif {
		return TrustExif
	}
	return FailClosed
}

// Resolver：按图层查询首个命中多边形
type Resolver interface {
	Resolve(ctx context.Context, kind jurisdiction.Kind, c geo.Coordinate) (*boundary.Polygon, error)
}

// 文档注释：位置准入门
// 背景：第一阶段用服务区包围盒快速拒绝，不触碰门控图层；第二阶段在门控图层（默认市政公司边界）做精确包含判定。
// 约束：Check 从不返回错误，失败通过 Verdict.State 表达。
type Gate struct {
	Area     geo.BBox
	Layer    jurisdiction.Kind
	Policy   Policy
	Resolver Resolver
}

func New(area geo.BBox, r Resolver, layer jurisdiction.Kind, policy Policy) *Gate {
	if layer == "" {
		layer = jurisdiction.Corporation
	}
	if policy == "" {
		policy = FailClosed
	}
	return &Gate{Area: area, Layer: layer, Policy: policy, Resolver: r}
}

// Check：判定坐标是否可作为上报位置
func (g *Gate) Check(ctx context.Context, c geo.Coordinate, src geo.Source) Verdict {
	v := g.check(ctx, c, src)
	metrics.GateVerdictsTotal.WithLabelValues(string(v.State)).Inc()
	return v
}

func (g *Gate) check(ctx context.Context, c geo.Coordinate, src geo.Source) Verdict {
	if !c.Valid() {
		return Verdict{State: NoLocation, Reason: "coordinate is not a finite number"}
	}
	if !g.Area.Contains(c) {
		return Verdict{State: OutsideServiceArea, Reason: "location is outside the service area"}
	}
	p, err := g.Resolver.Resolve(ctx, g.Layer, c)
	if err != nil {
		if g.Policy == TrustExif && src == geo.SourceExif {
			logger.L().Warn("gate_unavailable_trusted", "layer", string(g.Layer), "source", string(src), "err", err)
			return Verdict{State: Valid, Trusted: true, Reason: "boundary unavailable, photo location trusted"}
		}
		logger.L().Warn("gate_unavailable", "layer", string(g.Layer), "err", err)
		return Verdict{State: Unavailable, Reason: "jurisdiction boundaries are unavailable, try again shortly", Err: err}
	}
	if p == nil {
		return Verdict{State: OutsideJurisdiction, Reason: "location is outside the municipal jurisdiction"}
	}
	return Verdict{State: Valid, Match: p}
}

// IsServiceable：Check 结论为 Valid
func (g *Gate) IsServiceable(ctx context.Context, c geo.Coordinate) bool {
	return g.Check(ctx, c, geo.SourceUnknown).OK()
}
