package boundary

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"civic-reporter/internal/geo"
)

// 文档注释：KML 解析策略
// 背景：市政边界多以 KML 发布，属性放在 ExtendedData 的 SimpleData/Data 中，名称字段随发布方变化。
// 约束：任意层级的 Placemark 各产出一个多边形；环取该 Placemark 下第一个 coordinates 节点；
// 无法解析的坐标 token 跳过；缺少坐标或不足 3 个顶点的 Placemark 丢弃。
type KMLSource struct{}

func (KMLSource) Format() string { return "kml" }

// 通用 XML 节点树：KML 方言众多，按本地名遍历比绑定固定结构更稳
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []xmlNode  `xml:",any"`
}

func (n *xmlNode) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (n *xmlNode) child(local string) *xmlNode {
	for i := range n.Children {
		if n.Children[i].XMLName.Local == local {
			return &n.Children[i]
		}
	}
	return nil
}

// 先序遍历查找第一个指定本地名的后代
func (n *xmlNode) firstDescendant(local string) *xmlNode {
	for i := range n.Children {
		c := &n.Children[i]
		if c.XMLName.Local == local {
			return c
		}
		if d := c.firstDescendant(local); d != nil {
			return d
		}
	}
	return nil
}

func (n *xmlNode) walk(local string, fn func(*xmlNode)) {
	for i := range n.Children {
		c := &n.Children[i]
		if c.XMLName.Local == local {
			fn(c)
			continue
		}
		c.walk(local, fn)
	}
}

func (KMLSource) Parse(doc Document) ([]Polygon, error) {
	var root xmlNode
	dec := xml.NewDecoder(bytes.NewReader(doc.Body))
	dec.Strict = false
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("kml: %w", err)
	}
	var out []Polygon
	visit := func(pm *xmlNode) {
		if p, ok := placemarkPolygon(pm); ok {
			out = append(out, p)
		}
	}
	if root.XMLName.Local == "Placemark" {
		visit(&root)
	} else {
		root.walk("Placemark", visit)
	}
	return out, nil
}

func placemarkPolygon(pm *xmlNode) (Polygon, bool) {
	coords := pm.firstDescendant("coordinates")
	if coords == nil {
		return Polygon{}, false
	}
	ring := parseCoordinates(coords.Content)
	props := map[string]string{}
	if name := pm.child("name"); name != nil {
		props["name"] = strings.TrimSpace(name.Content)
	}
	pm.walk("SimpleData", func(n *xmlNode) {
		if k := n.attr("name"); k != "" {
			props[k] = strings.TrimSpace(n.Content)
		}
	})
	pm.walk("Data", func(n *xmlNode) {
		k := n.attr("name")
		if k == "" {
			return
		}
		if v := n.child("value"); v != nil {
			props[k] = strings.TrimSpace(v.Content)
		}
	})
	return newPolygon(ring, props)
}

// parseCoordinates：空白分隔的 "lon,lat[,alt]" 序列
func parseCoordinates(s string) geo.Ring {
	fields := strings.Fields(s)
	ring := make(geo.Ring, 0, len(fields))
	for _, tok := range fields {
		parts := strings.Split(tok, ",")
		if len(parts) < 2 {
			continue
		}
		lon, err1 := strconv.ParseFloat(parts[0], 64)
		lat, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		ring = append(ring, geo.Vertex{Lon: lon, Lat: lat})
	}
	return ring
}
