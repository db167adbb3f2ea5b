package boundary

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"civic-reporter/internal/geo"
)

const wardGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature",
     "properties": {"ward_id": 12, "ward_name": "Jayanagar", "note": null},
     "geometry": {"type": "Polygon", "coordinates": [[[77.58,12.92],[77.60,12.92],[77.60,12.94],[77.58,12.94],[77.58,12.92]]]}},
    {"type": "Feature",
     "properties": {"ward_id": "45", "ward_name": "Split Ward"},
     "geometry": {"type": "MultiPolygon", "coordinates": [
        [[[77.50,12.90],[77.52,12.90],[77.52,12.92],[77.50,12.92],[77.50,12.90]]],
        [[[77.70,13.00],[77.72,13.00],[77.72,13.02],[77.70,13.02],[77.70,13.00]]]
     ]}},
    {"type": "Feature",
     "properties": {"name": "road"},
     "geometry": {"type": "LineString", "coordinates": [[77.5,12.9],[77.6,13.0]]}}
  ]
}`

const corpKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
<Document>
  <Folder>
    <Placemark>
      <name>Central</name>
      <ExtendedData><SchemaData schemaUrl="#corp">
        <SimpleData name="NewCorp">Central</SimpleData>
        <SimpleData name="corp_code">C1</SimpleData>
      </SchemaData></ExtendedData>
      <Polygon><outerBoundaryIs><LinearRing>
        <coordinates>
          77.55,12.95,0 77.62,12.95,0 77.62,13.00,0 77.55,13.00,0 77.55,12.95,0
        </coordinates>
      </LinearRing></outerBoundaryIs></Polygon>
    </Placemark>
    <Placemark>
      <name>No geometry</name>
      <ExtendedData><SimpleData name="NewCorp">Ghost</SimpleData></ExtendedData>
    </Placemark>
  </Folder>
  <Placemark>
    <ExtendedData>
      <Data name="Traffic_PS"><value>Halasuru Gate</value></Data>
    </ExtendedData>
    <Polygon><outerBoundaryIs><LinearRing>
      <coordinates>77.58,12.96 bogus 77.60,12.96 77.60,12.98 77.58,12.98</coordinates>
    </LinearRing></outerBoundaryIs></Polygon>
  </Placemark>
</Document>
</kml>`

func TestGeoJSONParse(t *testing.T) {
	polys, err := GeoJSONSource{}.Parse(Document{Name: "wards.geojson", Body: []byte(wardGeoJSON)})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(polys) != 3 {
		t.Fatalf("got %d polygons, want 3 (polygon + 2 multipolygon members)", len(polys))
	}
	if got := polys[0].Properties["ward_id"]; got != "12" {
		t.Errorf("numeric property = %q, want %q", got, "12")
	}
	if got, ok := polys[0].Properties["note"]; !ok || got != "" {
		t.Errorf("null property = %q (present %v), want empty string", got, ok)
	}
	if polys[1].Property("ward_name") != "Split Ward" || polys[2].Property("ward_name") != "Split Ward" {
		t.Error("multipolygon members should share the feature properties")
	}
	if !geo.Contains(polys[0].Ring, geo.Coordinate{Lat: 12.93, Lon: 77.59}) {
		t.Error("expected ward 12 ring to contain its interior point")
	}
	want := geo.BBox{South: 13.00, North: 13.02, West: 77.70, East: 77.72}
	if polys[2].Bounds != want {
		t.Errorf("bounds = %+v, want %+v", polys[2].Bounds, want)
	}
	for i, p := range polys {
		if p.Bounds != geo.BoundsOf(p.Ring) {
			t.Errorf("polygon %d bounds %+v disagree with ring %+v", i, p.Bounds, geo.BoundsOf(p.Ring))
		}
	}
}

func TestGeoJSONSingleFeature(t *testing.T) {
	body := `{"type":"Feature","properties":{"AC_NAME":"Basavanagudi"},
	  "geometry":{"type":"Polygon","coordinates":[[[77.5,12.9],[77.6,12.9],[77.6,13.0],[77.5,12.9]]]}}`
	polys, err := GeoJSONSource{}.Parse(Document{Body: []byte(body)})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(polys) != 1 || polys[0].Property("AC_NAME") != "Basavanagudi" {
		t.Fatalf("unexpected polygons %+v", polys)
	}
}

func TestGeoJSONRejectsGarbage(t *testing.T) {
	if _, err := (GeoJSONSource{}).Parse(Document{Body: []byte("{not json")}); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := (GeoJSONSource{}).Parse(Document{Body: []byte(`{"type":"Topology"}`)}); err == nil {
		t.Fatal("expected unsupported root type error")
	}
}

func TestKMLParse(t *testing.T) {
	polys, err := KMLSource{}.Parse(Document{Name: "corp.kml", Body: []byte(corpKML)})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(polys) != 2 {
		t.Fatalf("got %d polygons, want 2 (placemark without coordinates dropped)", len(polys))
	}
	central := polys[0]
	if central.Property("NewCorp") != "Central" || central.Property("corp_code") != "C1" {
		t.Errorf("simple data not extracted: %+v", central.Properties)
	}
	if central.Properties["name"] != "Central" {
		t.Errorf("placemark name = %q", central.Properties["name"])
	}
	if len(central.Ring) != 5 {
		t.Errorf("ring has %d vertices, want 5", len(central.Ring))
	}
	ps := polys[1]
	if ps.Property("Traffic_PS") != "Halasuru Gate" {
		t.Errorf("Data/value not extracted: %+v", ps.Properties)
	}
	if len(ps.Ring) != 4 {
		t.Errorf("bogus coordinate token should be skipped, ring has %d vertices", len(ps.Ring))
	}
	if !geo.Contains(ps.Ring, geo.Coordinate{Lat: 12.97, Lon: 77.59}) {
		t.Error("expected police station ring to contain interior point")
	}
}

func TestParseCoordinatesDropsShortRings(t *testing.T) {
	kml := `<kml><Placemark><coordinates>77.5,12.9 77.6,12.9</coordinates></Placemark></kml>`
	polys, err := KMLSource{}.Parse(Document{Body: []byte(kml)})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(polys) != 0 {
		t.Fatalf("two-vertex ring should be dropped, got %d polygons", len(polys))
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
		want string
	}{
		{"json content type", Document{ContentType: "application/geo+json"}, "geojson"},
		{"kml content type", Document{ContentType: "application/vnd.google-earth.kml+xml", Name: "x.json"}, "kml"},
		{"geojson extension", Document{Name: "/data/wards.geojson"}, "geojson"},
		{"json extension with query", Document{Name: "https://x/y/wards.json?v=2"}, "geojson"},
		{"kml extension", Document{Name: "BBMP.kml"}, "kml"},
		{"sniff brace", Document{Name: "blob", Body: []byte("  \n{\"type\":\"FeatureCollection\"}")}, "geojson"},
		{"default kml", Document{Name: "blob", Body: []byte("<kml/>")}, "kml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.doc).Format(); got != tt.want {
				t.Errorf("Detect = %s, want %s", got, tt.want)
			}
		})
	}
}

// 计数获取器：可选地阻塞直到 release 关闭
type countingFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	doc     Document
	err     error
}

func (f *countingFetcher) Fetch(ctx context.Context, src string) (Document, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return Document{}, f.err
	}
	return f.doc, nil
}

func TestLoaderSharesConcurrentFirstLoad(t *testing.T) {
	f := &countingFetcher{
		release: make(chan struct{}),
		doc:     Document{Name: "wards.geojson", Body: []byte(wardGeoJSON)},
	}
	l := NewLoader(f)
	const callers = 8
	var wg sync.WaitGroup
	results := make([][]Polygon, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.Load(context.Background(), "wards.geojson")
		}(i)
	}
	// 等待第一个调用进入获取
	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(f.release)
	wg.Wait()
	for i := range errs {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if len(results[i]) != 3 {
			t.Fatalf("caller %d got %d polygons", i, len(results[i]))
		}
	}
	if _, err := l.Load(context.Background(), "wards.geojson"); err != nil {
		t.Fatal(err)
	}
	if n := f.calls.Load(); n != 1 {
		t.Fatalf("fetch called %d times, want 1", n)
	}
	if !l.Loaded("wards.geojson") {
		t.Error("source should report as loaded")
	}
}

func TestLoaderDoesNotCacheFailures(t *testing.T) {
	f := &countingFetcher{err: errors.New("connection refused")}
	l := NewLoader(f)
	_, err := l.Load(context.Background(), "corp.kml")
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
	var le *LoadError
	if !errors.As(err, &le) || le.Source != "corp.kml" {
		t.Fatalf("err = %#v, want *LoadError for corp.kml", err)
	}
	f.err = nil
	f.doc = Document{Name: "corp.kml", Body: []byte(corpKML)}
	polys, err := l.Load(context.Background(), "corp.kml")
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if len(polys) != 2 {
		t.Fatalf("got %d polygons", len(polys))
	}
	if n := f.calls.Load(); n != 2 {
		t.Fatalf("fetch called %d times, want 2", n)
	}
}

func TestLoaderCallerCancellation(t *testing.T) {
	f := &countingFetcher{release: make(chan struct{}), doc: Document{Name: "corp.kml", Body: []byte(corpKML)}}
	l := NewLoader(f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Load(ctx, "corp.kml"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	close(f.release)
	// 取消的调用方不影响后台加载完成
	polys, err := l.Load(context.Background(), "corp.kml")
	if err != nil || len(polys) != 2 {
		t.Fatalf("Load = %d polygons, %v", len(polys), err)
	}
}

func TestHTTPFetcherNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.kml" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(wardGeoJSON))
	}))
	defer srv.Close()

	l := NewLoader(NewHTTPFetcher(5 * time.Second))
	_, err := l.Load(context.Background(), srv.URL+"/missing.kml")
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("err = %v, want StatusError 404", err)
	}
	polys, err := l.Load(context.Background(), srv.URL+"/wards")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(polys) != 3 {
		t.Fatalf("got %d polygons via content-type detection", len(polys))
	}
}

func TestSchemeFetcherRoutesFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "corp.kml"), []byte(corpKML), 0o644); err != nil {
		t.Fatal(err)
	}
	f := SchemeFetcher{HTTP: NewHTTPFetcher(time.Second), File: FileFetcher{Root: dir}}
	for _, src := range []string{"corp.kml", "file://" + filepath.Join(dir, "corp.kml")} {
		doc, err := f.Fetch(context.Background(), src)
		if err != nil {
			t.Fatalf("Fetch(%s): %v", src, err)
		}
		if Detect(doc).Format() != "kml" {
			t.Errorf("Fetch(%s) not detected as kml", src)
		}
	}
	if _, err := f.Fetch(context.Background(), "missing.kml"); err == nil {
		t.Error("expected error for missing file")
	}
}
