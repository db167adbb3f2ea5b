// 包 geo：坐标、环与包围盒等最小几何结构，以及点入多边形判定
package geo

import (
	"math"
	"strconv"
)

// 文档注释：WGS84 坐标
// 约束：仅要求经纬度为有限值；范围不在此处校验，由服务区包围盒负责拒绝区域外的点。
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid：经纬度均为有限值（非 NaN、非 ±Inf）
func (c Coordinate) Valid() bool {
	return isFinite(c.Lat) && isFinite(c.Lon)
}

// LatString/LonString：固定 6 位小数，与上报表单字段格式一致
func (c Coordinate) LatString() string { return strconv.FormatFloat(c.Lat, 'f', 6, 64) }
func (c Coordinate) LonString() string { return strconv.FormatFloat(c.Lon, 'f', 6, 64) }

// Key：缓存键，6 位小数量化
func (c Coordinate) Key() string { return c.LatString() + ":" + c.LonString() }

// 顶点：保持数据源的 (lon, lat) 轴序
type Vertex struct {
	Lon float64
	Lat float64
}

// 文档注释：多边形边界环
// 约束：视为隐式闭合（最后一点回连第一点）；不校验自相交，自相交环的判定结果不保证正确。
type Ring []Vertex

// 文档注释：轴对齐包围盒（度）
// 背景：既用作服务区粗过滤，也用作单个多边形的候选过滤。
type BBox struct {
	South float64 `json:"south"`
	North float64 `json:"north"`
	West  float64 `json:"west"`
	East  float64 `json:"east"`
}

// Contains：四边均为闭区间
func (b BBox) Contains(c Coordinate) bool {
	return b.South <= c.Lat && c.Lat <= b.North && b.West <= c.Lon && c.Lon <= b.East
}

// Valid：边界为有限值且南北、东西不倒置
func (b BBox) Valid() bool {
	for _, v := range []float64{b.South, b.North, b.West, b.East} {
		if !isFinite(v) {
			return false
		}
	}
	return b.South <= b.North && b.West <= b.East
}

// BoundsOf：计算环的包围盒；空环返回零值
func BoundsOf(r Ring) BBox {
	if len(r) == 0 {
		return BBox{}
	}
	b := BBox{South: r[0].Lat, North: r[0].Lat, West: r[0].Lon, East: r[0].Lon}
	for _, v := range r[1:] {
		if v.Lat < b.South {
			b.South = v.Lat
		}
		if v.Lat > b.North {
			b.North = v.Lat
		}
		if v.Lon < b.West {
			b.West = v.Lon
		}
		if v.Lon > b.East {
			b.East = v.Lon
		}
	}
	return b
}

// 文档注释：坐标来源
// 约束：exif/device 为自动获取；map/search/manual 为用户交互。
type Source string

const (
	SourceUnknown Source = ""
	SourceExif    Source = "exif"
	SourceDevice  Source = "device"
	SourceMap     Source = "map"
	SourceSearch  Source = "search"
	SourceManual  Source = "manual"
)

// ParseSource：未知取值归为 manual
func ParseSource(s string) Source {
	switch Source(s) {
	case SourceExif, SourceDevice, SourceMap, SourceSearch, SourceManual:
		return Source(s)
	case SourceUnknown:
		return SourceUnknown
	}
	return SourceManual
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
