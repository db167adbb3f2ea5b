package boundary

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"civic-reporter/internal/geo"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// 文档注释：GeoJSON 解析策略
// 约束：支持 FeatureCollection 与单个 Feature；Polygon 取外环，MultiPolygon 每个子面各取外环并共享属性；
// 其余几何类型与空几何静默跳过。
type GeoJSONSource struct{}

func (GeoJSONSource) Format() string { return "geojson" }

func (GeoJSONSource) Parse(doc Document) ([]Polygon, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(doc.Body, &head); err != nil {
		return nil, fmt.Errorf("geojson: %w", err)
	}
	var features []*geojson.Feature
	switch strings.ToLower(head.Type) {
	case "featurecollection":
		fc, err := geojson.UnmarshalFeatureCollection(doc.Body)
		if err != nil {
			return nil, fmt.Errorf("geojson: %w", err)
		}
		features = fc.Features
	case "feature":
		f, err := geojson.UnmarshalFeature(doc.Body)
		if err != nil {
			return nil, fmt.Errorf("geojson: %w", err)
		}
		features = []*geojson.Feature{f}
	default:
		return nil, fmt.Errorf("geojson: unsupported root type %q", head.Type)
	}
	var out []Polygon
	for _, f := range features {
		if f == nil || f.Geometry == nil {
			continue
		}
		props := stringifyProps(f.Properties)
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			if p, ok := polygonFromOrb(g, props); ok {
				out = append(out, p)
			}
		case orb.MultiPolygon:
			for _, member := range g {
				if p, ok := polygonFromOrb(member, copyProps(props)); ok {
					out = append(out, p)
				}
			}
		}
	}
	return out, nil
}

func polygonFromOrb(p orb.Polygon, props map[string]string) (Polygon, bool) {
	if len(p) == 0 {
		return Polygon{}, false
	}
	outer := p[0]
	ring := make(geo.Ring, 0, len(outer))
	for _, pt := range outer {
		ring = append(ring, geo.Vertex{Lon: pt.Lon(), Lat: pt.Lat()})
	}
	poly, ok := newPolygon(ring, props)
	if ok {
		b := outer.Bound()
		poly.Bounds = geo.BBox{South: b.Min.Lat(), North: b.Max.Lat(), West: b.Min.Lon(), East: b.Max.Lon()}
	}
	return poly, ok
}

// 属性值统一转为字符串：字符串原样保留，数字不带多余小数，null 为空串，复合值回写为 JSON
func stringifyProps(p geojson.Properties) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		switch x := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = x
		case float64:
			out[k] = strconv.FormatFloat(x, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(x)
		default:
			b, err := json.Marshal(x)
			if err != nil {
				out[k] = fmt.Sprint(x)
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}

func copyProps(p map[string]string) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
