// 包 jurisdictiontest：测试用的合成城市边界（四类图层 + 服务区）
package jurisdictiontest

import (
	"fmt"
	"strings"

	"civic-reporter/internal/boundary"
	"civic-reporter/internal/geo"
	"civic-reporter/internal/jurisdiction"
)

const (
	CorporationSrc  = "mem://corporation.kml"
	WardSrc         = "mem://wards.geojson"
	ConstituencySrc = "mem://constituency.kml"
	TrafficPSSrc    = "mem://traffic.kml"
)

// ServiceArea：合成城市的服务区
var ServiceArea = geo.BBox{South: 12.80, North: 13.20, West: 77.40, East: 77.80}

var (
	// 中央区、101 号选区、Shivajinagar 选区、Cubbon Park 交警辖区
	Central = geo.Coordinate{Lat: 12.97, Lon: 77.59}
	// 南区、102 号选区、Jayanagar 选区，无交警辖区
	South = geo.Coordinate{Lat: 12.90, Lon: 77.60}
	// 服务区内但不在任何市政辖区
	Fringe = geo.Coordinate{Lat: 12.85, Lon: 77.45}
	// 服务区外
	Delhi = geo.Coordinate{Lat: 28.61, Lon: 77.21}
)

type rect struct{ west, south, east, north float64 }

func (r rect) kmlCoords() string {
	return fmt.Sprintf("%g,%g %g,%g %g,%g %g,%g %g,%g",
		r.west, r.south, r.east, r.south, r.east, r.north, r.west, r.north, r.west, r.south)
}

func (r rect) jsonCoords() string {
	return fmt.Sprintf("[[[%g,%g],[%g,%g],[%g,%g],[%g,%g],[%g,%g]]]",
		r.west, r.south, r.east, r.south, r.east, r.north, r.west, r.north, r.west, r.south)
}

func placemark(r rect, props map[string]string, keys ...string) string {
	var b strings.Builder
	b.WriteString("<Placemark><ExtendedData><SchemaData>")
	for _, k := range keys {
		fmt.Fprintf(&b, `<SimpleData name="%s">%s</SimpleData>`, k, props[k])
	}
	b.WriteString("</SchemaData></ExtendedData><Polygon><outerBoundaryIs><LinearRing><coordinates>")
	b.WriteString(r.kmlCoords())
	b.WriteString("</coordinates></LinearRing></outerBoundaryIs></Polygon></Placemark>")
	return b.String()
}

func kml(placemarks ...string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?><kml xmlns="http://www.opengis.net/kml/2.2"><Document>` +
		strings.Join(placemarks, "") + `</Document></kml>`)
}

var (
	centralRect = rect{77.55, 12.95, 77.65, 13.05}
	southRect   = rect{77.55, 12.85, 77.65, 12.95}
)

// Documents：四个图层的原始文档
func Documents() map[string]boundary.Document {
	corp := kml(
		placemark(centralRect, map[string]string{"NewCorp": "Central"}, "NewCorp"),
		placemark(southRect, map[string]string{"NewCorp": "South"}, "NewCorp"),
	)
	wards := `{"type":"FeatureCollection","features":[
	 {"type":"Feature","properties":{"ward_id":101,"ward_name":"Shivajinagar"},
	  "geometry":{"type":"Polygon","coordinates":` + rect{77.58, 12.96, 77.62, 13.00}.jsonCoords() + `}},
	 {"type":"Feature","properties":{"WARD_NO":"102","WARD_NAME":"Jayanagar"},
	  "geometry":{"type":"Polygon","coordinates":` + rect{77.57, 12.88, 77.63, 12.93}.jsonCoords() + `}}]}`
	consts := kml(
		placemark(centralRect, map[string]string{"AC_NAME": "Shivajinagar"}, "AC_NAME"),
		placemark(southRect, map[string]string{"AC_NAME": "Jayanagar"}, "AC_NAME"),
	)
	traffic := kml(
		placemark(centralRect, map[string]string{
			"Traffic_PS":   "Cubbon Park",
			"PS_BOUNDName": "Cubbon Park Traffic PS",
			"PS_BOUNDCode": "TPS01",
		}, "Traffic_PS", "PS_BOUNDName", "PS_BOUNDCode"),
	)
	return map[string]boundary.Document{
		CorporationSrc:  {Body: corp},
		WardSrc:         {Body: []byte(wards)},
		ConstituencySrc: {Body: consts},
		TrafficPSSrc:    {Body: traffic},
	}
}

// Sources：图层到数据源的映射
func Sources() map[jurisdiction.Kind]string {
	return map[jurisdiction.Kind]string{
		jurisdiction.Corporation:  CorporationSrc,
		jurisdiction.Ward:         WardSrc,
		jurisdiction.Constituency: ConstituencySrc,
		jurisdiction.TrafficPS:    TrafficPSSrc,
	}
}

// NewIndex：基于内存获取器构建索引；可通过返回的获取器删除/替换数据源模拟故障
func NewIndex() (*jurisdiction.Index, *boundary.MemoryFetcher) {
	f := boundary.NewMemoryFetcher(Documents())
	return jurisdiction.New(boundary.NewLoader(f), Sources()), f
}

// NewIndexWithout：构建缺失指定数据源（获取失败）的索引
func NewIndexWithout(missing ...string) (*jurisdiction.Index, *boundary.MemoryFetcher) {
	docs := Documents()
	for _, m := range missing {
		delete(docs, m)
	}
	f := boundary.NewMemoryFetcher(docs)
	return jurisdiction.New(boundary.NewLoader(f), Sources()), f
}
