// 包 events：上报成功后的事件发布（NATS），未配置时为空实现
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"civic-reporter/internal/logger"

	"github.com/nats-io/nats.go"
)

// 文档注释：上报成功事件
type ReportSubmitted struct {
	ID          string    `json:"id"`
	Flow        string    `json:"flow"`
	IssueType   string    `json:"issueType"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	WardNo      string    `json:"wardNo,omitempty"`
	Corporation string    `json:"corporation,omitempty"`
	TrafficPS   string    `json:"trafficPS,omitempty"`
	PostURL     string    `json:"postUrl,omitempty"`
	EmailCount  int       `json:"emailCount"`
	At          time.Time `json:"at"`
}

// Subject：report.submitted.<flow>
func (e ReportSubmitted) Subject() string { return "report.submitted." + e.Flow }

// Publisher：事件发布接口；发布失败不影响上报结果
type Publisher interface {
	PublishReport(ctx context.Context, e ReportSubmitted) error
	Close()
}

// Noop：未配置 NATS 时使用
type Noop struct{}

func (Noop) PublishReport(context.Context, ReportSubmitted) error { return nil }
func (Noop) Close()                                              {}

// 文档注释：NATS 发布器
type NATSPublisher struct {
	nc *nats.Conn
}

// 文档注释：连接参数
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// ConnectNATS：建立连接；断线重连事件写日志
func ConnectNATS(cfg NATSConfig) (*NATSPublisher, error) {
	l := logger.L()
	options := []nats.Option{
		nats.Name("civic-reporter"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			l.Warn("nats_disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			l.Info("nats_closed")
		}),
	}
	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}
	return &NATSPublisher{nc: nc}, nil
}

func (p *NATSPublisher) PublishReport(ctx context.Context, e ReportSubmitted) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.nc.Publish(e.Subject(), b)
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

// 文档注释：内存发布器
// 背景：测试与本地调试时记录已发布的事件。
type Memory struct {
	mu     sync.Mutex
	Events []ReportSubmitted
}

func (m *Memory) PublishReport(_ context.Context, e ReportSubmitted) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, e)
	return nil
}

func (m *Memory) Close() {}

// Published：已发布事件的副本
func (m *Memory) Published() []ReportSubmitted {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ReportSubmitted(nil), m.Events...)
}
