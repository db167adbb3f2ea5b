package resolve

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"civic-reporter/internal/metrics"

	"github.com/redis/go-redis/v9"
)

// 文档注释：本地 LRU 缓存（6 位小数量化坐标为键）
// 背景：同一位置在会话内会被反复解析（拍照、拖动标记、确认、提交），进程内缓存避免重复判定；TTL 可调。
// 约束：只缓存所有图层均成功的结果；capacity<=0 时不缓存。
type LRU struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration
	lst  *list.List
	dict map[string]*list.Element
}

type kv struct {
	k   string
	v   ResolvedLocation
	exp time.Time
}

func NewLRU(capacity int, ttl time.Duration) *LRU {
	return &LRU{cap: capacity, ttl: ttl, lst: list.New(), dict: make(map[string]*list.Element)}
}

func (c *LRU) Get(k string) (ResolvedLocation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.dict[k]; ok {
		it := e.Value.(kv)
		if time.Now().Before(it.exp) {
			c.lst.MoveToFront(e)
			return it.v, true
		}
		c.lst.Remove(e)
		delete(c.dict, k)
	}
	return ResolvedLocation{}, false
}

func (c *LRU) Set(k string, v ResolvedLocation) {
	if c.cap <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.dict[k]; ok {
		e.Value = kv{k: k, v: v, exp: time.Now().Add(c.ttl)}
		c.lst.MoveToFront(e)
		return
	}
	e := c.lst.PushFront(kv{k: k, v: v, exp: time.Now().Add(c.ttl)})
	c.dict[k] = e
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		if back == nil {
			break
		}
		delete(c.dict, back.Value.(kv).k)
		c.lst.Remove(back)
	}
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lst.Len()
}

// 文档注释：Redis 二级缓存
// 背景：多实例部署时共享热点坐标的解析结果；键为 resolve:<lat6>:<lon6>，值为 JSON。
// 约束：Redis 不可用时静默降级为未命中。
type RedisCache struct {
	rc  *redis.Client
	ttl time.Duration
}

func NewRedisCache(rc *redis.Client, ttl time.Duration) *RedisCache {
	if rc == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{rc: rc, ttl: ttl}
}

func redisKey(k string) string { return "resolve:" + k }

func (c *RedisCache) Get(ctx context.Context, k string) (ResolvedLocation, bool) {
	var out ResolvedLocation
	if c == nil {
		return out, false
	}
	s, err := c.rc.Get(ctx, redisKey(k)).Result()
	if err != nil || s == "" {
		metrics.CacheMissesTotal.WithLabelValues("redis").Inc()
		return out, false
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		metrics.CacheMissesTotal.WithLabelValues("redis").Inc()
		return out, false
	}
	metrics.CacheHitsTotal.WithLabelValues("redis").Inc()
	return out, true
}

func (c *RedisCache) Set(ctx context.Context, k string, v ResolvedLocation) {
	if c == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.rc.Set(ctx, redisKey(k), string(b), c.ttl).Err()
}
