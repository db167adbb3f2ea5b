package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"civic-reporter/internal/geo"
	"civic-reporter/internal/logger"
	"civic-reporter/internal/resolve"
	"civic-reporter/internal/session"
	"civic-reporter/internal/submit"
)

var errDuplicate = errors.New("this report was already submitted today")

// 错误响应体
type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor：错误到 HTTP 状态码的映射
func statusFor(err error) int {
	var ve *session.ValidationError
	var se *submit.SubmitError
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNotImage), errors.Is(err, resolve.ErrInvalidCoordinate), errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, errDuplicate):
		return http.StatusConflict
	case errors.As(err, &se):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var ve *session.ValidationError
	var se *submit.SubmitError
	switch {
	case errors.As(err, &ve):
		body = errorBody{Error: ve.Message, Field: ve.Field}
	case errors.As(err, &se):
		body.Error = se.Message
	case status == http.StatusInternalServerError:
		logger.L().Error("api_internal_error", "path", r.URL.Path, "err", err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

// parseCoordinate：读取 lat/lon 参数（查询串或表单）
func parseCoordinate(r *http.Request, latKey, lonKey string) (geo.Coordinate, error) {
	latS, lonS := strings.TrimSpace(r.FormValue(latKey)), strings.TrimSpace(r.FormValue(lonKey))
	if latS == "" || lonS == "" {
		return geo.Coordinate{}, &session.ValidationError{Field: latKey, Message: "lat and lon are required"}
	}
	lat, err1 := strconv.ParseFloat(latS, 64)
	lon, err2 := strconv.ParseFloat(lonS, 64)
	c := geo.Coordinate{Lat: lat, Lon: lon}
	if err1 != nil || err2 != nil || !c.Valid() || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return geo.Coordinate{}, &session.ValidationError{Field: latKey, Message: "lat and lon must be valid degrees"}
	}
	return c, nil
}

// optionalCoordinate：两个参数都缺省时返回 nil
func optionalCoordinate(r *http.Request, latKey, lonKey string) (*geo.Coordinate, error) {
	if r.FormValue(latKey) == "" && r.FormValue(lonKey) == "" {
		return nil, nil
	}
	c, err := parseCoordinate(r, latKey, lonKey)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
