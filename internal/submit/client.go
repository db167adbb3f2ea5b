// 包 submit：向远端发布接口转发上报（multipart 表单），并把失败归一为可展示、可重试的错误
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"civic-reporter/internal/geo"
	"civic-reporter/internal/logger"
	"civic-reporter/internal/metrics"
)

// 文档注释：一次待转发的上报
// 约束：Flow 为 civic 或 traffic，决定表单字段集合与目标地址。
type Report struct {
	Flow        string
	Coordinate  geo.Coordinate
	Category    string
	Description string

	ImageName        string
	ImageContentType string
	Image            []byte

	WardNo               string
	WardName             string
	CorporationName      string
	CorporationHandle    string
	ConstituencyName     string
	RepresentativeHandle string
	TrafficPS            string
	PoliceStationName    string

	EmailTo      []string
	EmailSubject string
	EmailBody    string
}

// 文档注释：远端响应
type Response struct {
	Success   bool   `json:"success"`
	TweetURL  string `json:"tweetUrl,omitempty"`
	TweetURL2 string `json:"tweet_url,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PostURL：两种字段名任取其一
func (r *Response) PostURL() string {
	if r.TweetURL != "" {
		return r.TweetURL
	}
	return r.TweetURL2
}

// 文档注释：转发失败
// 背景：非 2xx、响应无法解析、success=false 都属于正常的用户可见失败；会话保留原状态，可直接重试。
type SubmitError struct {
	Status  int
	Message string
	Err     error
}

func (e *SubmitError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("submit failed (%d): %s", e.Status, e.Message)
	}
	return "submit failed: " + e.Message
}

func (e *SubmitError) Unwrap() error { return e.Err }

// 文档注释：远端发布接口客户端
type Client struct {
	CivicURL   string
	TrafficURL string
	HTTP       *http.Client
}

func NewClient(civicURL, trafficURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{CivicURL: civicURL, TrafficURL: trafficURL, HTTP: &http.Client{Timeout: timeout}}
}

func (c *Client) endpoint(flow string) string {
	if flow == "traffic" {
		return c.TrafficURL
	}
	return c.CivicURL
}

// Submit：构建表单并 POST；成功返回远端响应，失败返回 *SubmitError
func (c *Client) Submit(ctx context.Context, r Report) (*Response, error) {
	tBegin := time.Now()
	defer func() { metrics.SubmitDurationMs.Observe(float64(time.Since(tBegin).Milliseconds())) }()

	url := c.endpoint(r.Flow)
	if url == "" {
		return nil, &SubmitError{Message: "no submission endpoint configured for " + r.Flow}
	}
	body, contentType, err := encodeForm(r)
	if err != nil {
		return nil, &SubmitError{Message: "could not encode report", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, &SubmitError{Message: "invalid submission endpoint", Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	cl := c.HTTP
	if cl == nil {
		cl = http.DefaultClient
	}
	resp, err := cl.Do(req)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(r.Flow, "network_error").Inc()
		logger.L().Warn("submit_network_fail", "flow", r.Flow, "err", err)
		return nil, &SubmitError{Message: "could not reach the reporting service, please retry", Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var out Response
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.SubmissionsTotal.WithLabelValues(r.Flow, "http_error").Inc()
		msg := firstNonEmpty(out.Error, out.Message, strings.TrimSpace(string(raw)), http.StatusText(resp.StatusCode))
		logger.L().Warn("submit_http_fail", "flow", r.Flow, "status", resp.StatusCode, "msg", msg)
		return nil, &SubmitError{Status: resp.StatusCode, Message: truncate(msg, 300)}
	}
	if decodeErr != nil {
		metrics.SubmissionsTotal.WithLabelValues(r.Flow, "bad_response").Inc()
		return nil, &SubmitError{Status: resp.StatusCode, Message: "unexpected response from the reporting service", Err: decodeErr}
	}
	if !out.Success {
		metrics.SubmissionsTotal.WithLabelValues(r.Flow, "rejected").Inc()
		msg := firstNonEmpty(out.Error, out.Message, "report was rejected")
		logger.L().Info("submit_rejected", "flow", r.Flow, "msg", msg)
		return nil, &SubmitError{Status: resp.StatusCode, Message: msg}
	}
	metrics.SubmissionsTotal.WithLabelValues(r.Flow, "ok").Inc()
	logger.L().Info("submit_ok", "flow", r.Flow, "post_url", out.PostURL(), "duration_ms", time.Since(tBegin).Milliseconds())
	return &out, nil
}

// 表单字段与远端接口约定一致；坐标固定 6 位小数
func encodeForm(r Report) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"lat", r.Coordinate.LatString()},
		{"lon", r.Coordinate.LonString()},
		{"description", r.Description},
	}
	if r.Flow == "traffic" {
		fields = append(fields,
			[2]string{"category", r.Category},
			[2]string{"trafficPS", r.TrafficPS},
			[2]string{"psName", r.PoliceStationName},
			[2]string{"wardNo", r.WardNo},
			[2]string{"wardName", r.WardName},
			[2]string{"corpName", r.CorporationName},
			[2]string{"corpHandle", r.CorporationHandle},
		)
	} else {
		fields = append(fields,
			[2]string{"issueType", r.Category},
			[2]string{"corpHandle", r.CorporationHandle},
			[2]string{"corpName", r.CorporationName},
			[2]string{"wardNo", r.WardNo},
			[2]string{"wardName", r.WardName},
			[2]string{"constituency", r.ConstituencyName},
			[2]string{"mlaHandle", r.RepresentativeHandle},
		)
	}
	if len(r.EmailTo) > 0 {
		fields = append(fields,
			[2]string{"emailTo", strings.Join(r.EmailTo, ",")},
			[2]string{"emailSubject", r.EmailSubject},
			[2]string{"emailBody", r.EmailBody},
		)
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if len(r.Image) > 0 {
		name := r.ImageName
		if name == "" {
			name = "report.jpg"
		}
		ct := r.ImageContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, escapeQuotes(name)))
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(r.Image); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
