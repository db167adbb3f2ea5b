// 包 session：单次上报的会话状态（照片、坐标、校验结论、确认与类别），取代页面级全局变量
package session

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"civic-reporter/internal/gate"
	"civic-reporter/internal/geo"
	"civic-reporter/internal/logger"
)

// Flow：上报类型
type Flow string

const (
	Civic   Flow = "civic"
	Traffic Flow = "traffic"
)

// ParseFlow：未知取值返回 false
func ParseFlow(s string) (Flow, bool) {
	switch Flow(strings.ToLower(strings.TrimSpace(s))) {
	case Civic:
		return Civic, true
	case Traffic:
		return Traffic, true
	}
	return "", false
}

// Status：位置校验状态
type Status string

const (
	NoLocation Status = "no_location"
	Pending    Status = "pending"
	Valid      Status = "valid"
	Invalid    Status = "invalid"
)

// 文档注释：上报照片
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// NewImage：按内容嗅探类型，非图片返回 ErrNotImage
func NewImage(name string, data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrNotImage
	}
	ct := http.DetectContentType(data)
	if !strings.HasPrefix(ct, "image/") {
		return nil, ErrNotImage
	}
	return &Image{Name: name, ContentType: ct, Data: data}, nil
}

// 文档注释：一次位置校验的凭据
// 背景：校验是异步的，新坐标到来时旧校验可能尚未返回；凭据携带发起时的代数，过期凭据的结果被丢弃。
type Ticket struct {
	Generation uint64
	Coordinate geo.Coordinate
	Source     geo.Source
}

// Checker：位置准入判定
type Checker interface {
	Check(ctx context.Context, c geo.Coordinate, src geo.Source) gate.Verdict
}

// 文档注释：上报会话
// 约束：所有字段经方法访问并受互斥锁保护；View 返回快照副本。
type Session struct {
	ID   string
	Flow Flow

	mu              sync.Mutex
	image           *Image
	coord           *geo.Coordinate
	source          geo.Source
	lastValid       *geo.Coordinate
	lastValidSource geo.Source
	status          Status
	verdict         gate.Verdict
	confirmed       bool
	category        string
	description     string
	generation      uint64
	submitted       bool
	inFlight        bool
	lastError       string
	touched         time.Time
	createdAt       time.Time
}

func New(id string, flow Flow) *Session {
	now := time.Now()
	return &Session{ID: id, Flow: flow, status: NoLocation, touched: now, createdAt: now}
}

// SetImage：替换照片；位置、确认与提交状态随之清空（新照片需要重新定位）
func (s *Session) SetImage(img *Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.image = img
	s.coord = nil
	s.source = geo.SourceUnknown
	s.lastValid = nil
	s.lastValidSource = geo.SourceUnknown
	s.status = NoLocation
	s.verdict = gate.Verdict{}
	s.confirmed = false
	s.submitted = false
	s.inFlight = false
	s.lastError = ""
	s.generation++
	s.touch()
}

// Image：当前照片
func (s *Session) Image() *Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image
}

// BeginValidation：设置新坐标并进入 pending，返回本次校验凭据
func (s *Session) BeginValidation(c geo.Coordinate, src geo.Source) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	cc := c
	s.coord = &cc
	s.source = src
	s.status = Pending
	s.verdict = gate.Verdict{}
	s.touch()
	return Ticket{Generation: s.generation, Coordinate: c, Source: src}
}

// CompleteValidation：凭据仍为最新时应用结论并返回 true；过期结论被丢弃
func (s *Session) CompleteValidation(t Ticket, v gate.Verdict) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Generation != s.generation {
		logger.L().Debug("validation_stale", "session", s.ID, "ticket", t.Generation, "current", s.generation)
		return false
	}
	s.verdict = v
	if v.OK() {
		s.status = Valid
		c := t.Coordinate
		s.lastValid = &c
		s.lastValidSource = t.Source
	} else {
		s.status = Invalid
	}
	s.touch()
	return true
}

// ClearLocation：无法定位时回到 no_location
func (s *Session) ClearLocation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.coord = nil
	s.source = geo.SourceUnknown
	s.status = NoLocation
	s.verdict = gate.Verdict{}
	s.touch()
}

// Validate：发起并完成一次校验；返回结论与是否被应用
func (s *Session) Validate(ctx context.Context, chk Checker, c geo.Coordinate, src geo.Source) (gate.Verdict, bool) {
	t := s.BeginValidation(c, src)
	v := chk.Check(ctx, c, src)
	return v, s.CompleteValidation(t, v)
}

// 文档注释：标记移动结果
type MoveResult struct {
	Verdict    gate.Verdict
	Applied    bool
	RolledBack bool
	Coordinate *geo.Coordinate
}

// MoveMarker：地图拖动或搜索选点
// 背景：先乐观应用新坐标，再做准入判定；判定失败时回退到最近一次有效坐标。
// 约束：没有有效坐标可回退时保留被拒坐标并置为 invalid；过期判定不做任何修改。
func (s *Session) MoveMarker(ctx context.Context, chk Checker, c geo.Coordinate, src geo.Source) MoveResult {
	t := s.BeginValidation(c, src)
	v := chk.Check(ctx, c, src)

	s.mu.Lock()
	defer s.mu.Unlock()
	res := MoveResult{Verdict: v}
	if t.Generation != s.generation {
		res.Coordinate = copyCoord(s.coord)
		return res
	}
	res.Applied = true
	if v.OK() {
		s.status = Valid
		s.verdict = v
		cc := c
		s.lastValid = &cc
		s.lastValidSource = src
		res.Coordinate = copyCoord(s.coord)
		s.touch()
		return res
	}
	if s.lastValid != nil {
		cc := *s.lastValid
		s.coord = &cc
		s.source = s.lastValidSource
		s.status = Valid
		s.verdict = gate.Verdict{State: gate.Valid}
		res.RolledBack = true
		logger.L().Info("marker_rollback", "session", s.ID, "state", string(v.State), "lat", cc.Lat, "lon", cc.Lon)
	} else {
		s.status = Invalid
		s.verdict = v
	}
	res.Coordinate = copyCoord(s.coord)
	s.touch()
	return res
}

// Confirm：用户确认照片与位置无误
func (s *Session) Confirm(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed = ok
	s.touch()
}

// SetCategory：设置问题类别与描述
func (s *Session) SetCategory(category, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.category = strings.TrimSpace(category)
	s.description = strings.TrimSpace(description)
	s.touch()
}

// CanSubmit：nil 表示可提交；否则返回首个不满足条件的 *ValidationError
func (s *Session) CanSubmit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canSubmit()
}

func (s *Session) canSubmit() error {
	switch {
	case s.submitted:
		return &ValidationError{Field: "submitted", Message: "this report was already submitted"}
	case s.inFlight:
		return &ValidationError{Field: "submitted", Message: "this report is being submitted"}
	case s.image == nil:
		return &ValidationError{Field: "image", Message: "a photo is required"}
	case s.coord == nil:
		return &ValidationError{Field: "location", Message: "no location found for this report"}
	case s.status == Pending:
		return &ValidationError{Field: "location", Message: "location is still being checked"}
	case s.status != Valid:
		msg := "location is outside the service area"
		if s.verdict.Reason != "" {
			msg = s.verdict.Reason
		}
		return &ValidationError{Field: "location", Message: msg}
	case !s.confirmed:
		return &ValidationError{Field: "confirm", Message: "confirm the photo and location first"}
	case s.Flow == Traffic && s.category == "":
		return &ValidationError{Field: "category", Message: "choose an issue category"}
	}
	return nil
}

// 文档注释：提交所需的会话快照
type Snapshot struct {
	ID          string
	Flow        Flow
	Image       *Image
	Coordinate  geo.Coordinate
	Source      geo.Source
	Category    string
	Description string
}

// 文档注释：可提交时返回快照并占用会话
// 约束：检查与占用在同一把锁内完成，并发调用只有一个成功；占用由 MarkSubmitted 或 Release 释放。
func (s *Session) Prepare() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.canSubmit(); err != nil {
		return Snapshot{}, err
	}
	s.inFlight = true
	return Snapshot{
		ID:          s.ID,
		Flow:        s.Flow,
		Image:       s.image,
		Coordinate:  *s.coord,
		Source:      s.source,
		Category:    s.category,
		Description: s.description,
	}, nil
}

// MarkSubmitted：记录提交结果并释放占用；失败时保留全部状态以便重试，成功后会话不可再次提交
func (s *Session) MarkSubmitted(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	if err != nil {
		s.lastError = err.Error()
		s.submitted = false
	} else {
		s.lastError = ""
		s.submitted = true
	}
	s.touch()
}

// Release：未转发就放弃提交时释放占用（重复上报、解析失败）
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	s.touch()
}

// 文档注释：会话对外视图
type View struct {
	ID          string          `json:"id"`
	Flow        Flow            `json:"flow"`
	HasImage    bool            `json:"hasImage"`
	Coordinate  *geo.Coordinate `json:"coordinate,omitempty"`
	Source      geo.Source      `json:"source,omitempty"`
	Status      Status          `json:"status"`
	GateState   gate.State      `json:"gateState,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Confirmed   bool            `json:"confirmed"`
	Category    string          `json:"category,omitempty"`
	CanSubmit   bool            `json:"canSubmit"`
	Blocker     string          `json:"blocker,omitempty"`
	Submitted   bool            `json:"submitted"`
	LastError   string          `json:"lastError,omitempty"`
	Generation  uint64          `json:"generation"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		ID:          s.ID,
		Flow:        s.Flow,
		HasImage:    s.image != nil,
		Coordinate:  copyCoord(s.coord),
		Source:      s.source,
		Status:      s.status,
		GateState:   s.verdict.State,
		Reason:      s.verdict.Reason,
		Confirmed:   s.confirmed,
		Category:    s.category,
		Description: s.description,
		Submitted:   s.submitted,
		LastError:   s.lastError,
		Generation:  s.generation,
		CreatedAt:   s.createdAt,
	}
	if err := s.canSubmit(); err != nil {
		v.Blocker = err.Error()
	} else {
		v.CanSubmit = true
	}
	return v
}

// Status：当前校验状态
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Coordinate：当前坐标（可能为空）
func (s *Session) Coordinate() *geo.Coordinate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCoord(s.coord)
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

func (s *Session) touch() { s.touched = time.Now() }

func copyCoord(c *geo.Coordinate) *geo.Coordinate {
	if c == nil {
		return nil
	}
	cc := *c
	return &cc
}
