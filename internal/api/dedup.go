package api

import (
	"context"
	"crypto/sha256"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// 文档注释：重复上报过滤（Redis 布隆位图）
// 背景：同一张照片在同一坐标重复提交会在远端重复发帖；以 照片摘要+坐标+类型 为键写入按天分桶的位图。
// 约束：rc 为空或 Redis 出错时一律放行；仅在转发成功后写入，失败的提交可以原样重试。
type Deduper struct {
	rc  *redis.Client
	m   uint32
	k   int
	ttl time.Duration
	now func() time.Time
}

func NewDeduper(rc *redis.Client) *Deduper {
	if rc == nil {
		return nil
	}
	return &Deduper{rc: rc, m: 1 << 22, k: 4, ttl: 48 * time.Hour, now: time.Now}
}

// 参与哈希的数据：照片 SHA-256 + 坐标键 + 上报类型
func dedupData(flow string, image []byte, coordKey string) []byte {
	sum := sha256.Sum256(image)
	out := make([]byte, 0, len(sum)+len(coordKey)+len(flow)+2)
	out = append(out, sum[:]...)
	out = append(out, '|')
	out = append(out, coordKey...)
	out = append(out, '|')
	return append(out, flow...)
}

// bloomPositions：FNV64a 加索引扰动生成 k 个位置
func bloomPositions(data []byte, m uint32, k int) []int64 {
	pos := make([]int64, k)
	for i := 0; i < k; i++ {
		h := fnv.New64a()
		h.Write([]byte{byte(i)})
		h.Write(data)
		pos[i] = int64(uint32(h.Sum64() % uint64(m)))
	}
	return pos
}

func (d *Deduper) key() string { return "submit:bloom:" + d.now().UTC().Format("20060102") }

// Seen：今天是否已提交过相同内容；可能误判为已见，不会漏判
func (d *Deduper) Seen(ctx context.Context, flow string, image []byte, coordKey string) bool {
	if d == nil {
		return false
	}
	key := d.key()
	for _, p := range bloomPositions(dedupData(flow, image, coordKey), d.m, d.k) {
		b, err := d.rc.GetBit(ctx, key, p).Result()
		if err != nil || b == 0 {
			return false
		}
	}
	return true
}

// Mark：登记一次成功的提交
func (d *Deduper) Mark(ctx context.Context, flow string, image []byte, coordKey string) {
	if d == nil {
		return
	}
	key := d.key()
	pipe := d.rc.Pipeline()
	for _, p := range bloomPositions(dedupData(flow, image, coordKey), d.m, d.k) {
		pipe.SetBit(ctx, key, p, 1)
	}
	pipe.Expire(ctx, key, d.ttl)
	_, _ = pipe.Exec(ctx)
}
