package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"civic-reporter/internal/config"
	"civic-reporter/internal/contacts"
	"civic-reporter/internal/events"
	"civic-reporter/internal/gate"
	"civic-reporter/internal/geo"
	"civic-reporter/internal/jurisdiction"
	jt "civic-reporter/internal/jurisdiction/jurisdictiontest"
	"civic-reporter/internal/locate"
	"civic-reporter/internal/resolve"
	"civic-reporter/internal/session"
	"civic-reporter/internal/store"
	"civic-reporter/internal/submit"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

// 最小 PNG 头，足以被识别为 image/png
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

const cityJSON = `{
  "cityName": "Testville",
  "boundaries": {"bbox": {"south": 12.80, "north": 13.20, "west": 77.40, "east": 77.80}},
  "issueCategories": {"civic": ["Pothole", "Garbage"], "traffic": ["Signal Jumping"]}
}`

const emailJSON = `{
  "wardEmails": {"101": {"emails": ["ae101@city.gov.in"]}},
  "emailSettings": {"enabled": true, "includeWardEmail": true}
}`

type fakeSubmitter struct {
	mu      sync.Mutex
	reports []submit.Report
	fail    error
}

func (f *fakeSubmitter) Submit(_ context.Context, r submit.Report) (*submit.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	if f.fail != nil {
		return nil, f.fail
	}
	return &submit.Response{Success: true, TweetURL: "https://x.com/i/status/1"}, nil
}

func (f *fakeSubmitter) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

type fakeReports struct {
	mu       sync.Mutex
	recorded []store.Report
	filter   store.HeatmapFilter
}

func (f *fakeReports) RecordReport(_ context.Context, r store.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, r)
	return nil
}

func (f *fakeReports) HeatmapPoints(_ context.Context, hf store.HeatmapFilter) ([]store.HeatPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = hf
	var out []store.HeatPoint
	for _, r := range f.recorded {
		out = append(out, store.HeatPoint{Lat: r.Lat, Lon: r.Lon, Intensity: 1, IssueType: r.IssueType})
	}
	return out, nil
}

func (f *fakeReports) WardCounts(_ context.Context, days int) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for _, r := range f.recorded {
		if r.WardNo != "" {
			out[r.WardNo]++
		}
	}
	return out, nil
}

type testEnv struct {
	router    chi.Router
	submitter *fakeSubmitter
	reports   *fakeReports
	events    *events.Memory
	deps      *Deps
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	city, err := config.ParseCity([]byte(cityJSON))
	if err != nil {
		t.Fatal(err)
	}
	ea, err := contacts.ParseEmailAuthorities([]byte(emailJSON))
	if err != nil {
		t.Fatal(err)
	}
	idx, _ := jt.NewIndex()
	g := gate.New(jt.ServiceArea, idx, jurisdiction.Corporation, gate.FailClosed)
	dir := contacts.NewDirectory(map[string]string{"Shivajinagar": "RizwanArshad"}, "")
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	env := &testEnv{submitter: &fakeSubmitter{}, reports: &fakeReports{}, events: &events.Memory{}}
	env.deps = &Deps{
		City:      city,
		APIBase:   "/api",
		Index:     idx,
		Gate:      g,
		Resolver:  resolve.New(idx, g, dir, ea),
		Sessions:  session.NewStore(time.Hour),
		Locator:   locate.Default(jt.ServiceArea, time.Second),
		Submitter: env.submitter,
		Reports:   env.reports,
		Events:    env.events,
		Dedup:     NewDeduper(rc),
	}
	env.router = BuildRoutes(env.deps)
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
		req.Header.Set("Content-Type", contentType)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func imageForm(t *testing.T, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	part, err := w.CreateFormFile("image", "photo.png")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(data)
	_ = w.Close()
	return &buf, w.FormDataContentType()
}

func (e *testEnv) newSession(t *testing.T, flow string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/sessions?flow="+flow, nil, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: %d %s", rec.Code, rec.Body.String())
	}
	return decode[session.View](t, rec).ID
}

func (e *testEnv) upload(t *testing.T, id string, c geo.Coordinate) imageBody {
	t.Helper()
	body, ct := imageForm(t, pngBytes, map[string]string{"device_lat": c.LatString(), "device_lon": c.LonString()})
	rec := e.do(t, http.MethodPost, "/sessions/"+id+"/image", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body.String())
	}
	return decode[imageBody](t, rec)
}

func coordQuery(c geo.Coordinate) string {
	return "lat=" + c.LatString() + "&lon=" + c.LonString()
}

func TestHealthAndConfig(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
	h := decode[map[string]any](t, rec)
	layers := h["layers"].(map[string]any)
	if layers["corporation"] != "pending" {
		t.Errorf("corporation layer = %v before first lookup", layers["corporation"])
	}

	rec = e.do(t, http.MethodGet, "/config.js", nil, "")
	js := rec.Body.String()
	for _, want := range []string{`window.__API_BASE__="/api"`, `window.__CITY_NAME__="Testville"`, `"south":12.8`, `"Signal Jumping"`} {
		if !strings.Contains(js, want) {
			t.Errorf("config.js missing %s:\n%s", want, js)
		}
	}

	rec = e.do(t, http.MethodGet, "/categories?flow=traffic", nil, "")
	cats := decode[map[string]any](t, rec)
	if got := cats["categories"].([]any); len(got) != 1 || got[0] != "Signal Jumping" {
		t.Errorf("categories = %v", got)
	}
	if rec := e.do(t, http.MethodGet, "/categories?flow=bus", nil, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown flow: %d", rec.Code)
	}
}

func TestValidateEndpoint(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantState gate.State
	}{
		{"inside corporation", coordQuery(jt.Central), http.StatusOK, gate.Valid},
		{"inside area no corporation", coordQuery(jt.Fringe), http.StatusOK, gate.OutsideJurisdiction},
		{"outside area", coordQuery(jt.Delhi), http.StatusOK, gate.OutsideServiceArea},
		{"missing lon", "lat=12.9", http.StatusBadRequest, ""},
		{"garbage", "lat=abc&lon=77", http.StatusBadRequest, ""},
		{"out of range", "lat=95&lon=77", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodGet, "/validate?"+tt.query, nil, "")
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
			}
			if tt.wantState == "" {
				return
			}
			v := decode[verdictBody](t, rec)
			if v.State != tt.wantState || v.OK != (tt.wantState == gate.Valid) {
				t.Errorf("verdict = %+v", v)
			}
		})
	}
}

func TestResolveEndpoint(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/resolve?"+coordQuery(jt.Central), nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: %d %s", rec.Code, rec.Body.String())
	}
	loc := decode[resolve.ResolvedLocation](t, rec)
	if loc.WardID != "101" || loc.CorporationName != "Central" || loc.RepresentativeHandle != "@RizwanArshad" {
		t.Errorf("resolved = %+v", loc)
	}
	if !e.deps.Index.Loaded(jurisdiction.Ward) {
		t.Error("ward layer should be loaded after a resolve")
	}
}

func TestCivicReportFlow(t *testing.T) {
	e := newEnv(t)
	id := e.newSession(t, "civic")

	up := e.upload(t, id, jt.Central)
	if !up.Located || up.Strategy != "device" || up.Session.Status != session.Valid {
		t.Fatalf("upload = %+v", up)
	}

	// 拖到服务区外：回退到上一个有效坐标
	rec := e.do(t, http.MethodPut, "/sessions/"+id+"/location?"+coordQuery(jt.Delhi)+"&source=map", nil, "")
	mv := decode[moveBody](t, rec)
	if !mv.RolledBack || mv.Verdict.State != gate.OutsideServiceArea {
		t.Fatalf("move = %+v", mv)
	}
	if c := mv.Session.Coordinate; c == nil || *c != jt.Central {
		t.Fatalf("coordinate after rollback = %v", c)
	}

	rec = e.do(t, http.MethodPost, "/sessions/"+id+"/submit", nil, "")
	if rec.Code != http.StatusBadRequest || decode[errorBody](t, rec).Field != "confirm" {
		t.Fatalf("unconfirmed submit: %d %s", rec.Code, rec.Body.String())
	}

	e.do(t, http.MethodPut, "/sessions/"+id+"/confirm", nil, "")
	rec = e.do(t, http.MethodPut, "/sessions/"+id+"/category?category=pothole&description=deep", nil, "")
	if v := decode[session.View](t, rec); v.Category != "Pothole" || !v.CanSubmit {
		t.Fatalf("view after category = %+v", v)
	}

	rec = e.do(t, http.MethodPost, "/sessions/"+id+"/submit", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	out := decode[submitBody](t, rec)
	if !out.Success || out.PostURL != "https://x.com/i/status/1" || out.ReportID == "" {
		t.Errorf("submit body = %+v", out)
	}
	if len(e.submitter.reports) != 1 {
		t.Fatalf("submitter called %d times", len(e.submitter.reports))
	}
	sent := e.submitter.reports[0]
	if sent.WardNo != "101" || sent.CorporationName != "Central" || sent.Category != "Pothole" || sent.Coordinate != jt.Central {
		t.Errorf("forwarded report = %+v", sent)
	}
	if len(sent.EmailTo) != 1 || sent.EmailTo[0] != "ae101@city.gov.in" || !strings.Contains(sent.EmailSubject, "Pothole") {
		t.Errorf("email fields = %v %q", sent.EmailTo, sent.EmailSubject)
	}
	if len(e.reports.recorded) != 1 || e.reports.recorded[0].ID != out.ReportID || e.reports.recorded[0].Source != "device" {
		t.Errorf("recorded = %+v", e.reports.recorded)
	}
	if pub := e.events.Published(); len(pub) != 1 || pub[0].Subject() != "report.submitted.civic" {
		t.Errorf("published = %+v", pub)
	}

	// 已提交的会话不能再次提交
	rec = e.do(t, http.MethodPost, "/sessions/"+id+"/submit", nil, "")
	if rec.Code != http.StatusBadRequest || decode[errorBody](t, rec).Field != "submitted" {
		t.Fatalf("resubmit: %d %s", rec.Code, rec.Body.String())
	}

	// 新会话上传同一照片同一坐标
	id2 := e.newSession(t, "civic")
	e.upload(t, id2, jt.Central)
	e.do(t, http.MethodPut, "/sessions/"+id2+"/confirm", nil, "")
	rec = e.do(t, http.MethodPost, "/sessions/"+id2+"/submit", nil, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate submit: %d %s", rec.Code, rec.Body.String())
	}
	if len(e.submitter.reports) != 1 {
		t.Error("duplicate should not reach the remote endpoint")
	}
	// 重复被拒后会话不处于提交中
	if v := decode[session.View](t, e.do(t, http.MethodGet, "/sessions/"+id2, nil, "")); !v.CanSubmit {
		t.Errorf("session after duplicate = %+v", v)
	}
}

func TestSubmitOnceWithoutRedis(t *testing.T) {
	e := newEnv(t)
	e.deps.Dedup = nil
	id := e.newSession(t, "civic")
	e.upload(t, id, jt.Central)
	e.do(t, http.MethodPut, "/sessions/"+id+"/confirm", nil, "")

	if rec := e.do(t, http.MethodPost, "/sessions/"+id+"/submit", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("first submit: %d %s", rec.Code, rec.Body.String())
	}
	rec := e.do(t, http.MethodPost, "/sessions/"+id+"/submit", nil, "")
	if rec.Code != http.StatusBadRequest || decode[errorBody](t, rec).Field != "submitted" {
		t.Fatalf("second submit: %d %s", rec.Code, rec.Body.String())
	}
	if n := len(e.submitter.reports); n != 1 {
		t.Fatalf("submitter called %d times, want 1", n)
	}

	id2 := e.newSession(t, "civic")
	e.upload(t, id2, jt.South)
	e.do(t, http.MethodPut, "/sessions/"+id2+"/confirm", nil, "")
	var wg sync.WaitGroup
	codes := make([]int, 8)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = e.do(t, http.MethodPost, "/sessions/"+id2+"/submit", nil, "").Code
		}(i)
	}
	wg.Wait()
	ok := 0
	for _, c := range codes {
		if c == http.StatusOK {
			ok++
		} else if c != http.StatusBadRequest {
			t.Errorf("concurrent submit status %d", c)
		}
	}
	if ok != 1 {
		t.Errorf("%d concurrent submits succeeded, want 1", ok)
	}
	if n := len(e.submitter.reports); n != 2 {
		t.Errorf("submitter called %d times, want 2", n)
	}
}

func TestCivicCategoryDefaultsToFirstConfigured(t *testing.T) {
	e := newEnv(t)
	id := e.newSession(t, "civic")
	e.upload(t, id, jt.Central)
	e.do(t, http.MethodPut, "/sessions/"+id+"/confirm", nil, "")
	if rec := e.do(t, http.MethodPost, "/sessions/"+id+"/submit", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	sent := e.submitter.reports[0]
	if sent.Category != "Pothole" || !strings.HasPrefix(sent.EmailSubject, "[Civic Report] Pothole") {
		t.Errorf("category = %q, subject = %q", sent.Category, sent.EmailSubject)
	}

	e.deps.City.IssueCategories.Civic = nil
	if got := (&handler{Deps: e.deps}).defaultCivicCategory(); got != "Pothole" {
		t.Errorf("fallback category = %q", got)
	}
}

func TestSubmitFailureKeepsSessionForRetry(t *testing.T) {
	e := newEnv(t)
	id := e.newSession(t, "civic")
	e.upload(t, id, jt.South)
	e.do(t, http.MethodPut, "/sessions/"+id+"/confirm", nil, "")

	e.submitter.setFail(&submit.SubmitError{Status: 500, Message: "twitter is down"})
	rec := e.do(t, http.MethodPost, "/sessions/"+id+"/submit", nil, "")
	if rec.Code != http.StatusBadGateway || decode[errorBody](t, rec).Error != "twitter is down" {
		t.Fatalf("failed submit: %d %s", rec.Code, rec.Body.String())
	}
	view := decode[session.View](t, e.do(t, http.MethodGet, "/sessions/"+id, nil, ""))
	if !view.CanSubmit || view.LastError == "" || view.Coordinate == nil || !view.HasImage {
		t.Fatalf("session after failure = %+v", view)
	}
	if len(e.reports.recorded) != 0 || len(e.events.Published()) != 0 {
		t.Error("failed submission should not be recorded or published")
	}

	e.submitter.setFail(nil)
	rec = e.do(t, http.MethodPost, "/sessions/"+id+"/submit", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("retry: %d %s", rec.Code, rec.Body.String())
	}
	if n := len(e.submitter.reports); n != 2 {
		t.Errorf("submitter calls = %d", n)
	}
	if e.submitter.reports[1].WardNo != "102" {
		t.Errorf("retry should re-post the same state, got %+v", e.submitter.reports[1])
	}

	e.submitter.setFail(errors.New("connection reset"))
	id2 := e.newSession(t, "civic")
	e.upload(t, id2, jt.Central)
	e.do(t, http.MethodPut, "/sessions/"+id2+"/confirm", nil, "")
	if rec := e.do(t, http.MethodPost, "/sessions/"+id2+"/submit", nil, ""); rec.Code != http.StatusBadGateway {
		t.Errorf("plain error should map to 502, got %d", rec.Code)
	}
}

func TestTrafficFlowNeedsKnownCategory(t *testing.T) {
	e := newEnv(t)
	id := e.newSession(t, "traffic")
	e.upload(t, id, jt.Central)
	e.do(t, http.MethodPut, "/sessions/"+id+"/confirm", nil, "")

	rec := e.do(t, http.MethodPost, "/sessions/"+id+"/submit", nil, "")
	if rec.Code != http.StatusBadRequest || decode[errorBody](t, rec).Field != "category" {
		t.Fatalf("submit without category: %d %s", rec.Code, rec.Body.String())
	}
	rec = e.do(t, http.MethodPut, "/sessions/"+id+"/category?category=Pothole", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("civic category on traffic flow: %d", rec.Code)
	}
	form := url.Values{"category": {"signal jumping"}}
	rec = e.do(t, http.MethodPut, "/sessions/"+id+"/category", bytes.NewBufferString(form.Encode()), "application/x-www-form-urlencoded")
	if rec.Code != http.StatusOK {
		t.Fatalf("set category: %d %s", rec.Code, rec.Body.String())
	}
	rec = e.do(t, http.MethodPost, "/sessions/"+id+"/submit", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	sent := e.submitter.reports[0]
	if sent.Flow != "traffic" || sent.Category != "Signal Jumping" || sent.TrafficPS != "Cubbon Park" || sent.PoliceStationName != "Cubbon Park Traffic PS" {
		t.Errorf("traffic report = %+v", sent)
	}
}

func TestUploadRejectsNonImage(t *testing.T) {
	e := newEnv(t)
	id := e.newSession(t, "civic")
	body, ct := imageForm(t, []byte("%PDF-1.4 not a photo"), nil)
	rec := e.do(t, http.MethodPost, "/sessions/"+id+"/image", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-image upload: %d", rec.Code)
	}
	if v := decode[session.View](t, e.do(t, http.MethodGet, "/sessions/"+id, nil, "")); v.HasImage {
		t.Error("rejected upload should not change the session")
	}
}

func TestUploadWithoutLocation(t *testing.T) {
	e := newEnv(t)
	id := e.newSession(t, "civic")
	body, ct := imageForm(t, pngBytes, map[string]string{"device_lat": jt.Delhi.LatString(), "device_lon": jt.Delhi.LonString()})
	rec := e.do(t, http.MethodPost, "/sessions/"+id+"/image", body, ct)
	up := decode[imageBody](t, rec)
	if up.Located || up.Session.Status != session.NoLocation {
		t.Fatalf("device fix outside the area should leave the session unlocated: %+v", up)
	}
	rec = e.do(t, http.MethodPut, "/sessions/"+id+"/location?"+coordQuery(jt.Central)+"&source=search", nil, "")
	if mv := decode[moveBody](t, rec); !mv.Applied || mv.Session.Status != session.Valid || mv.Session.Source != geo.SourceSearch {
		t.Fatalf("manual placement = %+v", mv)
	}
}

func TestSessionNotFound(t *testing.T) {
	e := newEnv(t)
	for _, path := range []string{"/sessions/nope", "/sessions/nope/submit"} {
		method := http.MethodGet
		if strings.HasSuffix(path, "submit") {
			method = http.MethodPost
		}
		if rec := e.do(t, method, path, nil, ""); rec.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d", method, path, rec.Code)
		}
	}
	if rec := e.do(t, http.MethodPost, "/sessions?flow=bus", nil, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad flow = %d", rec.Code)
	}
}

func TestHeatmapEndpoint(t *testing.T) {
	e := newEnv(t)
	e.reports.recorded = []store.Report{{Lat: 12.97, Lon: 77.59, IssueType: "Pothole"}}
	rec := e.do(t, http.MethodGet, "/heatmap?type=civic&start_date=2024-05-01&end_date=2024-05-31&issue_type=Pothole&limit=10", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("heatmap: %d %s", rec.Code, rec.Body.String())
	}
	f := e.reports.filter
	if f.Type != "civic" || f.IssueType != "Pothole" || f.Limit != 10 || f.StartDate == nil || f.EndDate.Day() != 31 {
		t.Errorf("filter = %+v", f)
	}
	if got := decode[map[string]any](t, rec); got["count"].(float64) != 1 {
		t.Errorf("body = %v", got)
	}

	for _, q := range []string{"type=bus", "start_date=05/01/2024", "start_date=2024-05-10&end_date=2024-05-01", "limit=-3"} {
		if rec := e.do(t, http.MethodGet, "/heatmap?"+q, nil, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s = %d", q, rec.Code)
		}
	}

	e.deps.Reports = nil
	if rec := e.do(t, http.MethodGet, "/heatmap", nil, ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled heatmap = %d", rec.Code)
	}
}

func TestWardStatsEndpoint(t *testing.T) {
	e := newEnv(t)
	e.reports.recorded = []store.Report{{WardNo: "101"}, {WardNo: "101"}, {WardNo: "102"}, {}}
	rec := e.do(t, http.MethodGet, "/stats/wards?days=7", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: %d %s", rec.Code, rec.Body.String())
	}
	var got struct {
		Days  int            `json:"days"`
		Wards map[string]int `json:"wards"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Days != 7 || got.Wards["101"] != 2 || got.Wards["102"] != 1 || len(got.Wards) != 2 {
		t.Errorf("stats = %+v", got)
	}
	if rec := e.do(t, http.MethodGet, "/stats/wards?days=0", nil, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("days=0 = %d", rec.Code)
	}
	e.deps.Reports = nil
	if rec := e.do(t, http.MethodGet, "/stats/wards", nil, ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled stats = %d", rec.Code)
	}
}

func TestDeduperNilIsPermissive(t *testing.T) {
	var d *Deduper
	d.Mark(context.Background(), "civic", pngBytes, "k")
	if d.Seen(context.Background(), "civic", pngBytes, "k") {
		t.Fatal("nil deduper should never report duplicates")
	}
	if NewDeduper(nil) != nil {
		t.Fatal("NewDeduper(nil) should be nil")
	}
}

func TestDeduperDistinguishesFlowAndPlace(t *testing.T) {
	mr := miniredis.RunT(t)
	d := NewDeduper(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()
	d.Mark(ctx, "civic", pngBytes, jt.Central.Key())
	if !d.Seen(ctx, "civic", pngBytes, jt.Central.Key()) {
		t.Fatal("marked submission should be seen")
	}
	if d.Seen(ctx, "traffic", pngBytes, jt.Central.Key()) || d.Seen(ctx, "civic", pngBytes, jt.South.Key()) {
		t.Fatal("different flow or place should not collide")
	}
	if ttl := mr.TTL(d.key()); ttl <= 0 {
		t.Errorf("bloom key TTL = %v", ttl)
	}
}
