package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"civic-reporter/internal/contacts"
	"civic-reporter/internal/events"
	"civic-reporter/internal/geo"
	"civic-reporter/internal/locate"
	"civic-reporter/internal/logger"
	"civic-reporter/internal/metrics"
	"civic-reporter/internal/resolve"
	"civic-reporter/internal/session"
	"civic-reporter/internal/store"
	"civic-reporter/internal/submit"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (h *handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return s, true
}

// createSession：POST /sessions?flow=civic|traffic
func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	flow, ok := session.ParseFlow(r.FormValue("flow"))
	if !ok {
		writeError(w, r, &session.ValidationError{Field: "flow", Message: "flow must be civic or traffic"})
		return
	}
	s := h.Sessions.Create(flow)
	writeJSON(w, http.StatusCreated, s.View())
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.session(w, r); ok {
		writeJSON(w, http.StatusOK, s.View())
	}
}

func (h *handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	h.Sessions.Delete(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// 上传照片后的响应：会话视图 + 定位结果
type imageBody struct {
	Session  session.View `json:"session"`
	Located  bool         `json:"located"`
	Strategy string       `json:"strategy,omitempty"`
	Verdict  *verdictBody `json:"verdict,omitempty"`
}

// uploadImage：POST /sessions/{id}/image
// 背景：照片替换后按 EXIF → 设备 → 手动 的顺序定位；设备坐标由前端的定位结果通过 device_lat/device_lon 带上。
// 约束：非图片内容返回 400 且不修改会话。
func (h *handler) uploadImage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxImageBytes)
	if err := r.ParseMultipartForm(h.MaxImageBytes); err != nil {
		writeError(w, r, &session.ValidationError{Field: "image", Message: "image upload is missing or too large"})
		return
	}
	f, fh, err := r.FormFile("image")
	if err != nil {
		writeError(w, r, &session.ValidationError{Field: "image", Message: "image upload is missing"})
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		writeError(w, r, err)
		return
	}
	img, err := session.NewImage(fh.Filename, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	device, err := optionalCoordinate(r, "device_lat", "device_lon")
	if err != nil {
		writeError(w, r, err)
		return
	}
	manual, err := optionalCoordinate(r, "lat", "lon")
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.SetImage(img)
	in := locate.Input{Image: data, Manual: manual}
	if device != nil {
		dc := *device
		in.Device = func(context.Context) (geo.Coordinate, error) { return dc, nil }
	}
	res := h.Locator.Locate(r.Context(), in)
	out := imageBody{Strategy: res.Strategy}
	if res.Status == locate.Found {
		v, _ := s.Validate(r.Context(), h.Gate, res.Coordinate, res.Source)
		vb := toVerdictBody(v)
		out.Located = true
		out.Verdict = &vb
	}
	logger.L().Debug("session_image", "session", s.ID, "bytes", len(data), "located", out.Located, "strategy", res.Strategy)
	out.Session = s.View()
	writeJSON(w, http.StatusOK, out)
}

// 标记移动的响应
type moveBody struct {
	Session    session.View `json:"session"`
	Verdict    verdictBody  `json:"verdict"`
	Applied    bool         `json:"applied"`
	RolledBack bool         `json:"rolledBack"`
}

// moveLocation：PUT /sessions/{id}/location（lat, lon, source=map|search|manual）
func (h *handler) moveLocation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	c, err := parseCoordinate(r, "lat", "lon")
	if err != nil {
		writeError(w, r, err)
		return
	}
	src := geo.ParseSource(r.FormValue("source"))
	if src == geo.SourceUnknown || src == geo.SourceExif {
		src = geo.SourceManual
	}
	mr := s.MoveMarker(r.Context(), h.Gate, c, src)
	writeJSON(w, http.StatusOK, moveBody{
		Session:    s.View(),
		Verdict:    toVerdictBody(mr.Verdict),
		Applied:    mr.Applied,
		RolledBack: mr.RolledBack,
	})
}

func (h *handler) clearLocation(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.session(w, r); ok {
		s.ClearLocation()
		writeJSON(w, http.StatusOK, s.View())
	}
}

// confirm：PUT /sessions/{id}/confirm?confirmed=true|false（缺省为 true）
func (h *handler) confirm(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	confirmed := true
	if v := r.FormValue("confirmed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, &session.ValidationError{Field: "confirmed", Message: "confirmed must be true or false"})
			return
		}
		confirmed = b
	}
	s.Confirm(confirmed)
	writeJSON(w, http.StatusOK, s.View())
}

// setCategory：PUT /sessions/{id}/category（category, description）
// 约束：城市配置给出分类列表时，类别必须在列表内（大小写不敏感）。
func (h *handler) setCategory(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	category := strings.TrimSpace(r.FormValue("category"))
	if allowed := h.City.Categories(string(s.Flow)); category != "" && len(allowed) > 0 {
		match := ""
		for _, c := range allowed {
			if strings.EqualFold(c, category) {
				match = c
				break
			}
		}
		if match == "" {
			writeError(w, r, &session.ValidationError{Field: "category", Message: "unknown issue category"})
			return
		}
		category = match
	}
	s.SetCategory(category, r.FormValue("description"))
	writeJSON(w, http.StatusOK, s.View())
}

// 提交成功响应
type submitBody struct {
	Success  bool                      `json:"success"`
	ReportID string                    `json:"reportId"`
	PostURL  string                    `json:"postUrl,omitempty"`
	Message  string                    `json:"message,omitempty"`
	Location *resolve.ResolvedLocation `json:"location"`
	EmailTo  []string                  `json:"emailTo,omitempty"`
}

// submit：POST /sessions/{id}/submit
// 背景：前置条件检查 → 重复过滤 → 辖区解析 → 转发 → 记录与事件；转发失败返回 502，会话状态保留以便重试。
func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := s.Prepare()
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()
	flow := string(snap.Flow)
	if snap.Category == "" && snap.Flow == session.Civic {
		snap.Category = h.defaultCivicCategory()
	}
	coordKey := snap.Coordinate.Key()
	if h.Dedup.Seen(ctx, flow, snap.Image.Data, coordKey) {
		s.Release()
		metrics.DuplicateSubmissionsTotal.WithLabelValues(flow).Inc()
		writeError(w, r, errDuplicate)
		return
	}
	loc, err := h.Resolver.Resolve(ctx, snap.Coordinate)
	if err != nil {
		s.Release()
		writeError(w, r, err)
		return
	}
	rep := buildReport(snap, loc)
	if len(rep.EmailTo) > 0 && h.Resolver.Emails != nil {
		place := firstNonEmpty(loc.WardName, loc.PoliceStation(), loc.CorporationName, coordKey)
		rep.EmailSubject = h.Resolver.Emails.Subject(flow, snap.Category, place)
		rep.EmailBody = contacts.Body(contacts.EmailReport{
			Flow:        flow,
			Category:    snap.Category,
			Description: snap.Description,
			Location:    place,
			Coordinate:  &snap.Coordinate,
			WardNo:      loc.WardID,
			WardName:    loc.WardName,
			TrafficPS:   loc.PoliceStation(),
			ReportedAt:  time.Now(),
		})
	}

	resp, err := h.Submitter.Submit(ctx, rep)
	s.MarkSubmitted(err)
	if err != nil {
		var se *submit.SubmitError
		if !errors.As(err, &se) {
			err = &submit.SubmitError{Message: "submission failed, please retry", Err: err}
		}
		writeError(w, r, err)
		return
	}
	h.Dedup.Mark(ctx, flow, snap.Image.Data, coordKey)

	id := uuid.NewString()
	now := time.Now().UTC()
	if h.Reports != nil {
		if err := h.Reports.RecordReport(ctx, store.Report{
			ID:           id,
			Flow:         flow,
			IssueType:    snap.Category,
			Description:  snap.Description,
			Lat:          snap.Coordinate.Lat,
			Lon:          snap.Coordinate.Lon,
			Source:       string(snap.Source),
			WardNo:       loc.WardID,
			WardName:     loc.WardName,
			Corporation:  loc.CorporationName,
			Constituency: loc.ConstituencyName,
			TrafficPS:    loc.PoliceStation(),
			PostURL:      resp.PostURL(),
			CreatedAt:    now,
		}); err != nil {
			logger.L().Error("report_record_fail", "session", s.ID, "err", err)
		}
	}
	if err := h.Events.PublishReport(ctx, events.ReportSubmitted{
		ID:          id,
		Flow:        flow,
		IssueType:   snap.Category,
		Lat:         snap.Coordinate.Lat,
		Lon:         snap.Coordinate.Lon,
		WardNo:      loc.WardID,
		Corporation: loc.CorporationName,
		TrafficPS:   loc.PoliceStation(),
		PostURL:     resp.PostURL(),
		EmailCount:  len(rep.EmailTo),
		At:          now,
	}); err != nil {
		logger.L().Warn("report_publish_fail", "session", s.ID, "err", err)
	}
	logger.L().Info("report_submitted", "session", s.ID, "report", id, "flow", flow, "ward", loc.WardID)
	writeJSON(w, http.StatusOK, submitBody{
		Success:  true,
		ReportID: id,
		PostURL:  resp.PostURL(),
		Message:  resp.Message,
		Location: loc,
		EmailTo:  rep.EmailTo,
	})
}

// 市政上报未选类别时的缺省值：城市配置的第一个市政类别
const fallbackCivicCategory = "Pothole"

func (h *handler) defaultCivicCategory() string {
	if cats := h.City.Categories("civic"); len(cats) > 0 && cats[0] != "" {
		return cats[0]
	}
	return fallbackCivicCategory
}

// buildReport：会话快照与解析结果合成转发表单
func buildReport(snap session.Snapshot, loc *resolve.ResolvedLocation) submit.Report {
	rep := submit.Report{
		Flow:                 string(snap.Flow),
		Coordinate:           snap.Coordinate,
		Category:             snap.Category,
		Description:          snap.Description,
		ImageName:            snap.Image.Name,
		ImageContentType:     snap.Image.ContentType,
		Image:                snap.Image.Data,
		WardNo:               loc.WardID,
		WardName:             loc.WardName,
		CorporationName:      loc.CorporationName,
		CorporationHandle:    loc.CorporationHandle,
		ConstituencyName:     loc.ConstituencyName,
		RepresentativeHandle: loc.RepresentativeHandle,
		TrafficPS:            loc.PoliceStationName,
		PoliceStationName:    loc.PoliceStationBoundary,
	}
	if loc.Emails != nil {
		rep.EmailTo = loc.Emails[string(snap.Flow)]
	}
	return rep
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
