package boundary

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// 文档注释：边界文档获取接口
// 约束：实现需遵守 ctx 取消；返回的 Document.Name 用于格式识别。
type Fetcher interface {
	Fetch(ctx context.Context, src string) (Document, error)
}

// 单个边界文档的体积上限
const maxDocumentBytes = 64 << 20

// 文档注释：HTTP 边界获取
// 约束：非 2xx 视为失败（*StatusError）；Client 为空时使用带超时的默认客户端。
type HTTPFetcher struct {
	Client  *http.Client
	Timeout time.Duration
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}, Timeout: timeout}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, src string) (Document, error) {
	cl := f.Client
	if cl == nil {
		cl = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return Document{}, err
	}
	req.Header.Set("Accept", "application/vnd.google-earth.kml+xml, application/geo+json, application/json, */*")
	resp, err := cl.Do(req)
	if err != nil {
		return Document{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Document{}, &StatusError{Code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return Document{}, err
	}
	return Document{Name: src, ContentType: resp.Header.Get("Content-Type"), Body: body}, nil
}

// 文档注释：本地文件获取
// 背景：随服务打包的边界文件与命令行工具使用；相对路径相对 Root 解析。
type FileFetcher struct {
	Root string
}

func (f FileFetcher) Fetch(ctx context.Context, src string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	p := src
	if strings.HasPrefix(p, "file://") {
		u, err := url.Parse(p)
		if err != nil {
			return Document{}, err
		}
		p = u.Path
	}
	if !filepath.IsAbs(p) && f.Root != "" {
		p = filepath.Join(f.Root, p)
	}
	body, err := os.ReadFile(p)
	if err != nil {
		return Document{}, err
	}
	return Document{Name: p, Body: body}, nil
}

// 文档注释：按 scheme 分派的获取器
// 约束：http/https 走 HTTP，其余（file:// 与普通路径）走本地文件。
type SchemeFetcher struct {
	HTTP Fetcher
	File Fetcher
}

func (f SchemeFetcher) Fetch(ctx context.Context, src string) (Document, error) {
	lower := strings.ToLower(src)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		if f.HTTP == nil {
			return Document{}, fmt.Errorf("no http fetcher for %s", src)
		}
		return f.HTTP.Fetch(ctx, src)
	}
	if f.File == nil {
		return Document{}, fmt.Errorf("no file fetcher for %s", src)
	}
	return f.File.Fetch(ctx, src)
}

// 文档注释：内存获取器
// 背景：内嵌数据与测试使用；未登记的数据源返回 os.ErrNotExist。
type MemoryFetcher struct {
	mu    sync.Mutex
	docs  map[string]Document
	calls map[string]int
}

func NewMemoryFetcher(docs map[string]Document) *MemoryFetcher {
	m := &MemoryFetcher{docs: make(map[string]Document), calls: make(map[string]int)}
	for k, v := range docs {
		m.docs[k] = v
	}
	return m
}

// Put：登记或替换数据源
func (m *MemoryFetcher) Put(src string, doc Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[src] = doc
}

// Calls：数据源被获取的次数
func (m *MemoryFetcher) Calls(src string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[src]
}

func (m *MemoryFetcher) Fetch(ctx context.Context, src string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[src]++
	doc, ok := m.docs[src]
	if !ok {
		return Document{}, fmt.Errorf("%s: %w", src, os.ErrNotExist)
	}
	if doc.Name == "" {
		doc.Name = src
	}
	return doc, nil
}
