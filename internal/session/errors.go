package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotImage：上传内容不是图片
	ErrNotImage = errors.New("uploaded file is not an image")
	// ErrNotFound：会话不存在或已过期
	ErrNotFound = errors.New("session not found")
)

// 文档注释：提交前置条件不满足
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
