package boundary

import (
	"errors"
	"fmt"
)

// ErrSourceUnavailable：边界数据源无法获取或整份无法解析
var ErrSourceUnavailable = errors.New("boundary source unavailable")

// 文档注释：单个数据源的加载失败
// 约束：errors.Is(err, ErrSourceUnavailable) 恒为真；Unwrap 暴露底层原因（网络错误、HTTP 状态、解析错误）。
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrSourceUnavailable }

// StatusError：HTTP 获取返回非 2xx
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("unexpected status %d", e.Code) }
