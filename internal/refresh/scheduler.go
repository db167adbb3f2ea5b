// 包 refresh：按周调度边界图层的重新获取，运行在服务进程内的后台协程
package refresh

import (
	"context"
	"strings"
	"time"

	"civic-reporter/internal/jurisdiction"
	"civic-reporter/internal/logger"
)

// Refresher：可整体刷新的图层集合（jurisdiction.Index）
type Refresher interface {
	Refresh(ctx context.Context) map[jurisdiction.Kind]error
}

// Schedule：每周固定的星期与整点
type Schedule struct {
	Weekday  time.Weekday
	Hour     int
	Location *time.Location
}

// ParseWeekday：接受英文全称或前三个字母，大小写不敏感
func ParseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 3 {
		return 0, false
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, true
		}
	}
	return 0, false
}

// Next：now 之后的下一个调度时间点
// 约束：当天已过整点则顺延一周；Hour 超出 0-23 时按 0 处理
func (s Schedule) Next(now time.Time) time.Time {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	hour := s.Hour
	if hour < 0 || hour > 23 {
		hour = 0
	}
	now = now.In(loc)
	for i := 0; i <= 7; i++ {
		d := now.AddDate(0, 0, i)
		if d.Weekday() != s.Weekday {
			continue
		}
		t := time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, loc)
		if t.After(now) {
			return t
		}
	}
	d := now.AddDate(0, 0, 7)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, loc)
}

// 文档注释：启动每周刷新
// 背景：遵循发布方的更新节奏定期重新获取边界；失败的图层继续使用旧数据，错误记入日志，任务继续调度。
// 约束：ctx 取消后退出；每次刷新受 timeout 限制。
func Start(ctx context.Context, r Refresher, s Schedule, timeout time.Duration) {
	l := logger.L()
	go func() {
		for {
			next := s.Next(time.Now())
			l.Info("refresh_scheduled", "next", next.Format(time.RFC3339))
			t := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			rctx, cancel := context.WithTimeout(ctx, timeout)
			errs := r.Refresh(rctx)
			cancel()
			if len(errs) > 0 {
				l.Warn("refresh_partial", "failed", len(errs))
			} else {
				l.Info("refresh_done")
			}
		}
	}()
}
