package contacts

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"civic-reporter/internal/geo"
)

// 文档注释：通知邮箱开关
type EmailSettings struct {
	Enabled               bool   `json:"enabled"`
	IncludeWardEmail      bool   `json:"includeWardEmail"`
	IncludeTrafficPSEmail bool   `json:"includeTrafficPSEmail"`
	IncludeDefaultEmail   bool   `json:"includeDefaultEmail"`
	SubjectPrefix         string `json:"subjectPrefix,omitempty"`
}

type emailEntry struct {
	Name   string   `json:"name,omitempty"`
	Emails []string `json:"emails"`
}

// 文档注释：辖区通知邮箱配置
// 背景：选区号、交警辖区名分别映射到邮箱列表；defaultEmails 为固定抄送组。
// emailSettings 为全局开关，flows 可按上报类型（civic/traffic）覆盖。
type EmailAuthorities struct {
	WardEmails      map[string]emailEntry    `json:"wardEmails"`
	TrafficPSEmails map[string]emailEntry    `json:"trafficPSEmails"`
	DefaultEmails   map[string][]string      `json:"defaultEmails"`
	Settings        EmailSettings            `json:"emailSettings"`
	Flows           map[string]EmailSettings `json:"flows,omitempty"`
}

// LoadEmailAuthorities：读取 JSON 配置文件
func LoadEmailAuthorities(path string) (*EmailAuthorities, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseEmailAuthorities(b)
}

func ParseEmailAuthorities(b []byte) (*EmailAuthorities, error) {
	var ea EmailAuthorities
	if err := json.Unmarshal(b, &ea); err != nil {
		return nil, fmt.Errorf("email authorities: %w", err)
	}
	return &ea, nil
}

// SettingsFor：按上报类型取生效的开关
func (ea *EmailAuthorities) SettingsFor(flow string) EmailSettings {
	if ea == nil {
		return EmailSettings{}
	}
	if s, ok := ea.Flows[flow]; ok {
		if s.SubjectPrefix == "" {
			s.SubjectPrefix = ea.Settings.SubjectPrefix
		}
		return s
	}
	return ea.Settings
}

// Enabled：该类型是否启用邮件通知
func (ea *EmailAuthorities) Enabled(flow string) bool {
	return ea.SettingsFor(flow).Enabled
}

// Recipients：汇总选区、交警辖区、默认组的邮箱；按加入顺序去重，跳过非法地址
func (ea *EmailAuthorities) Recipients(flow, wardNo, trafficPS string) []string {
	s := ea.SettingsFor(flow)
	if !s.Enabled {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	add := func(list []string) {
		for _, e := range list {
			e = strings.TrimSpace(e)
			key := strings.ToLower(e)
			if !ValidEmail(e) || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, e)
		}
	}
	if s.IncludeWardEmail && wardNo != "" {
		add(ea.WardEmails[wardNo].Emails)
	}
	if s.IncludeTrafficPSEmail && trafficPS != "" {
		add(ea.TrafficPSEmails[trafficPS].Emails)
	}
	if s.IncludeDefaultEmail {
		groups := make([]string, 0, len(ea.DefaultEmails))
		for g := range ea.DefaultEmails {
			groups = append(groups, g)
		}
		sort.Strings(groups)
		for _, g := range groups {
			add(ea.DefaultEmails[g])
		}
	}
	return out
}

const defaultSubjectPrefix = "[Civic Report]"

// Subject：前缀 + 标题化的类别 + 位置
func (ea *EmailAuthorities) Subject(flow, category, location string) string {
	prefix := ea.SettingsFor(flow).SubjectPrefix
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return fmt.Sprintf("%s %s - %s", prefix, titleCategory(category), location)
}

// "signal-not-working" -> "Signal Not Working"
func titleCategory(c string) string {
	words := strings.Fields(strings.ReplaceAll(c, "-", " "))
	for i, w := range words {
		r, n := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[n:]
	}
	return strings.Join(words, " ")
}

// 文档注释：邮件正文所需的上报信息
type EmailReport struct {
	Flow        string
	Category    string
	Description string
	Location    string
	Coordinate  *geo.Coordinate
	WardNo      string
	WardName    string
	TrafficPS   string
	PostURL     string
	ReportedAt  time.Time
}

// Body：纯文本正文
func Body(r EmailReport) string {
	var b strings.Builder
	title := "Civic Issue Report"
	if r.Flow == "traffic" {
		title = "Traffic Issue Report"
	}
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("=", 22) + "\n\n")
	fmt.Fprintf(&b, "Issue Type: %s\n", r.Category)
	if r.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", r.Description)
	}
	b.WriteString("\nLocation Details:\n")
	if r.Location != "" {
		fmt.Fprintf(&b, "- Address: %s\n", r.Location)
	}
	if r.Coordinate != nil {
		lat, lon := r.Coordinate.LatString(), r.Coordinate.LonString()
		fmt.Fprintf(&b, "- View on Google Maps: https://maps.google.com/?q=%s,%s&ll=%s,%s&z=18\n", lat, lon, lat, lon)
	}
	if r.WardNo != "" && r.WardName != "" {
		fmt.Fprintf(&b, "- Ward: %s (%s)\n", r.WardNo, r.WardName)
	}
	if r.TrafficPS != "" {
		fmt.Fprintf(&b, "- Traffic PS: %s\n", r.TrafficPS)
	}
	ts := r.ReportedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(&b, "\nReported: %s\n", ts.Format(time.RFC1123))
	if r.PostURL != "" {
		fmt.Fprintf(&b, "\nPost: %s\n", r.PostURL)
	}
	return b.String()
}

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail：宽松格式校验
func ValidEmail(s string) bool { return emailRe.MatchString(s) }
