// 包 api：HTTP 接口（位置校验、辖区解析、上报会话、热力图），挂载在 API_BASE 下
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"civic-reporter/internal/config"
	"civic-reporter/internal/events"
	"civic-reporter/internal/gate"
	"civic-reporter/internal/jurisdiction"
	"civic-reporter/internal/locate"
	"civic-reporter/internal/logger"
	"civic-reporter/internal/metrics"
	"civic-reporter/internal/middleware"
	"civic-reporter/internal/resolve"
	"civic-reporter/internal/session"
	"civic-reporter/internal/store"
	"civic-reporter/internal/submit"
	"civic-reporter/internal/version"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Submitter：远端转发
type Submitter interface {
	Submit(ctx context.Context, r submit.Report) (*submit.Response, error)
}

// ReportLog：成功上报的记录与热力图查询
type ReportLog interface {
	RecordReport(ctx context.Context, r store.Report) error
	HeatmapPoints(ctx context.Context, f store.HeatmapFilter) ([]store.HeatPoint, error)
	WardCounts(ctx context.Context, days int) (map[string]int, error)
}

// 文档注释：路由依赖
// 约束：Index、Gate、Resolver、Sessions、Locator、Submitter、City 必填；Reports、Events、Dedup、Limiter 可为空。
type Deps struct {
	City      *config.City
	APIBase   string
	Index     *jurisdiction.Index
	Gate      *gate.Gate
	Resolver  *resolve.Resolver
	Sessions  *session.Store
	Locator   locate.Chain
	Submitter Submitter
	Reports   ReportLog
	Events    events.Publisher
	Dedup     *Deduper
	Limiter   *middleware.VisitorLimiter

	CORSOrigins   []string
	MaxImageBytes int64
}

type handler struct {
	*Deps
}

// BuildRoutes：构建 API 路由；返回的路由以 "/" 为根，由主入口挂载到 API_BASE
func BuildRoutes(d *Deps) chi.Router {
	if d.MaxImageBytes <= 0 {
		d.MaxImageBytes = 15 << 20
	}
	if d.Events == nil {
		d.Events = events.Noop{}
	}
	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	h := &handler{Deps: d}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(logger.AccessMiddleware(logger.L()))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Get("/config.js", h.configJS)
	r.Get("/categories", h.categories)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/validate", h.validate)
	r.Get("/resolve", h.resolve)
	r.Get("/heatmap", h.heatmap)
	r.Get("/stats/wards", h.wardStats)

	r.Route("/sessions", func(r chi.Router) {
		if d.Limiter != nil {
			r.Use(d.Limiter.Handler)
		}
		r.Post("/", h.createSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Delete("/", h.deleteSession)
			r.Post("/image", h.uploadImage)
			r.Put("/location", h.moveLocation)
			r.Delete("/location", h.clearLocation)
			r.Put("/confirm", h.confirm)
			r.Put("/category", h.setCategory)
			r.Post("/submit", h.submit)
		})
	})
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	layers := map[string]string{}
	for _, k := range jurisdiction.Kinds {
		switch {
		case !h.Index.Configured(k):
			layers[string(k)] = "not_configured"
		case h.Index.Loaded(k):
			layers[string(k)] = "loaded"
		default:
			layers[string(k)] = "pending"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"commit":    version.Commit,
		"city":      h.City.CityName,
		"sessions":  h.Sessions.Len(),
		"layers":    layers,
	})
}

// configJS：向前端暴露 API 基础路径、服务范围与问题分类，避免前端硬编码
func (h *handler) configJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/javascript; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	bbox, _ := json.Marshal(h.City.ServiceArea())
	cats, _ := json.Marshal(h.City.IssueCategories)
	base, _ := json.Marshal(h.APIBase)
	name, _ := json.Marshal(h.City.CityName)
	commit, _ := json.Marshal(version.Commit)
	for _, line := range []string{
		"window.__API_BASE__=" + string(base),
		"window.__CITY_NAME__=" + string(name),
		"window.__SERVICE_AREA__=" + string(bbox),
		"window.__ISSUE_CATEGORIES__=" + string(cats),
		"window.__COMMIT_SHA__=" + string(commit),
	} {
		_, _ = w.Write([]byte(line + "\n"))
	}
}

func (h *handler) categories(w http.ResponseWriter, r *http.Request) {
	flow, ok := session.ParseFlow(r.URL.Query().Get("flow"))
	if !ok {
		writeError(w, r, &session.ValidationError{Field: "flow", Message: "flow must be civic or traffic"})
		return
	}
	cats := h.City.Categories(string(flow))
	if cats == nil {
		cats = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"flow": flow, "categories": cats})
}
