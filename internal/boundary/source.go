// 包 boundary：边界数据源的获取、格式识别与归一化（GeoJSON / KML → 环 + 属性表）
package boundary

import (
	"bytes"
	"path"
	"strings"

	"civic-reporter/internal/geo"
)

// 文档注释：归一化后的辖区多边形
// 约束：Ring 仅为外环；Properties 为数据源属性的字符串化副本；加载后只读，调用方不得修改。
type Polygon struct {
	Ring       geo.Ring
	Properties map[string]string
	Bounds     geo.BBox
}

// Property：按别名顺序取第一个非空属性值
func (p *Polygon) Property(aliases ...string) string {
	for _, k := range aliases {
		if v := strings.TrimSpace(p.Properties[k]); v != "" {
			return v
		}
	}
	return ""
}

func newPolygon(ring geo.Ring, props map[string]string) (Polygon, bool) {
	if len(ring) < 3 {
		return Polygon{}, false
	}
	if props == nil {
		props = map[string]string{}
	}
	return Polygon{Ring: ring, Properties: props, Bounds: geo.BoundsOf(ring)}, true
}

// 文档注释：一次获取到的原始边界文档
type Document struct {
	Name        string
	ContentType string
	Body        []byte
}

// 文档注释：边界格式解析策略
// 约束：单个要素无法解析时跳过；整份文档无法解析时返回错误。
type Source interface {
	Format() string
	Parse(doc Document) ([]Polygon, error)
}

// Detect：按 content-type、扩展名、正文首字节依次判定格式，默认按 KML 处理
func Detect(doc Document) Source {
	ct := strings.ToLower(doc.ContentType)
	if strings.Contains(ct, "json") {
		return GeoJSONSource{}
	}
	if strings.Contains(ct, "kml") || strings.Contains(ct, "xml") {
		return KMLSource{}
	}
	switch strings.ToLower(path.Ext(stripQuery(doc.Name))) {
	case ".json", ".geojson":
		return GeoJSONSource{}
	case ".kml", ".xml":
		return KMLSource{}
	}
	if b := bytes.TrimSpace(doc.Body); len(b) > 0 && b[0] == '{' {
		return GeoJSONSource{}
	}
	return KMLSource{}
}

func stripQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}
