package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"civic-reporter/internal/gate"
	"civic-reporter/internal/geo"
	"civic-reporter/internal/session"
	"civic-reporter/internal/store"
)

// 位置校验响应
type verdictBody struct {
	State   gate.State `json:"state"`
	Reason  string     `json:"reason,omitempty"`
	OK      bool       `json:"ok"`
	Trusted bool       `json:"trusted,omitempty"`
}

func toVerdictBody(v gate.Verdict) verdictBody {
	return verdictBody{State: v.State, Reason: v.Reason, OK: v.OK(), Trusted: v.Trusted}
}

// validate：GET /validate?lat=&lon=&source=
func (h *handler) validate(w http.ResponseWriter, r *http.Request) {
	c, err := parseCoordinate(r, "lat", "lon")
	if err != nil {
		writeError(w, r, err)
		return
	}
	v := h.Gate.Check(r.Context(), c, geo.ParseSource(r.URL.Query().Get("source")))
	writeJSON(w, http.StatusOK, toVerdictBody(v))
}

// resolve：GET /resolve?lat=&lon=
func (h *handler) resolve(w http.ResponseWriter, r *http.Request) {
	c, err := parseCoordinate(r, "lat", "lon")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Resolver.Resolve(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// heatmap：GET /heatmap?type=&start_date=&end_date=&issue_type=&limit=
func (h *handler) heatmap(w http.ResponseWriter, r *http.Request) {
	if h.Reports == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "report log is not enabled"})
		return
	}
	f, err := parseHeatmapFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pts, err := h.Reports.HeatmapPoints(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if pts == nil {
		pts = []store.HeatPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": pts, "count": len(pts)})
}

// wardStats：GET /stats/wards?days=（缺省 30 天）
func (h *handler) wardStats(w http.ResponseWriter, r *http.Request) {
	if h.Reports == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "report log is not enabled"})
		return
	}
	days := 30
	if s := r.URL.Query().Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 366 {
			writeError(w, r, &session.ValidationError{Field: "days", Message: "days must be between 1 and 366"})
			return
		}
		days = n
	}
	counts, err := h.Reports.WardCounts(r.Context(), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "wards": counts})
}

func parseHeatmapFilter(r *http.Request) (store.HeatmapFilter, error) {
	q := r.URL.Query()
	f := store.HeatmapFilter{Type: strings.ToLower(q.Get("type")), IssueType: strings.TrimSpace(q.Get("issue_type"))}
	switch f.Type {
	case "", "both", "civic", "traffic":
	default:
		return f, &session.ValidationError{Field: "type", Message: "type must be civic, traffic or both"}
	}
	for _, d := range []struct {
		key string
		dst **time.Time
	}{{"start_date", &f.StartDate}, {"end_date", &f.EndDate}} {
		s := q.Get(d.key)
		if s == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return f, &session.ValidationError{Field: d.key, Message: "dates must be YYYY-MM-DD"}
		}
		*d.dst = &t
	}
	if f.StartDate != nil && f.EndDate != nil && f.EndDate.Before(*f.StartDate) {
		return f, &session.ValidationError{Field: "end_date", Message: "end_date is before start_date"}
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return f, &session.ValidationError{Field: "limit", Message: "limit must be a positive integer"}
		}
		f.Limit = n
	}
	return f, nil
}
