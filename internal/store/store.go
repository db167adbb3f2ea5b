// 包 store: 提供与 PostgreSQL 的数据访问层，包含上报记录写入与热力图聚合查询
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"civic-reporter/internal/logger"

	_ "github.com/lib/pq"
)

// Store: 数据库访问入口，持有连接池
type Store struct {
	db *sql.DB
}

// AttachDB: 包装已打开的连接池（连接参数见 utils.OpenPostgresFromEnv）
func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Report: 一条成功转发的上报
type Report struct {
	ID           string
	Flow         string
	IssueType    string
	Description  string
	Lat          float64
	Lon          float64
	Source       string
	WardNo       string
	WardName     string
	Corporation  string
	Constituency string
	TrafficPS    string
	PostURL      string
	CreatedAt    time.Time
}

// RecordReport: 写入上报记录；ID 重复时忽略
func (s *Store) RecordReport(ctx context.Context, r Report) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO _reports(id, flow, issue_type, description, lat, lon, source,
            ward_no, ward_name, corporation, constituency, traffic_ps, post_url, created_at)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
        ON CONFLICT (id) DO NOTHING`,
		r.ID, r.Flow, r.IssueType, r.Description, r.Lat, r.Lon, r.Source,
		r.WardNo, r.WardName, r.Corporation, r.Constituency, r.TrafficPS, r.PostURL, created)
	if err != nil {
		return fmt.Errorf("record report: %w", err)
	}
	logger.L().Debug("report_recorded", "id", r.ID, "flow", r.Flow, "ward", r.WardNo)
	return nil
}

// 文档注释：热力图筛选条件
// 约束：Type 为 civic/traffic/both（空值视为 both）；日期为闭区间，EndDate 包含当天整天。
type HeatmapFilter struct {
	Type      string
	StartDate *time.Time
	EndDate   *time.Time
	IssueType string
	Limit     int
}

// HeatPoint: 热力图中的一个聚合格点（约 11 米量化）
type HeatPoint struct {
	Lat         float64        `json:"lat"`
	Lon         float64        `json:"lon"`
	Intensity   int            `json:"intensity"`
	IssueType   string         `json:"issue_type"`
	IssueCounts map[string]int `json:"issue_counts"`
}

// 量化精度：小数点后 4 位
const cellPrecision = 4

// buildHeatmapQuery: 组装按格点与类别分组的计数查询
func buildHeatmapQuery(f HeatmapFilter) (string, []any) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	switch strings.ToLower(f.Type) {
	case "civic", "traffic":
		where = append(where, "flow = "+arg(strings.ToLower(f.Type)))
	}
	if f.StartDate != nil {
		where = append(where, "created_at >= "+arg(*f.StartDate))
	}
	if f.EndDate != nil {
		where = append(where, "created_at < "+arg(f.EndDate.AddDate(0, 0, 1)))
	}
	if f.IssueType != "" {
		where = append(where, "issue_type = "+arg(f.IssueType))
	}
	limit := f.Limit
	if limit <= 0 || limit > 50000 {
		limit = 5000
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT round(lat::numeric, %d)::float8 AS clat, round(lon::numeric, %d)::float8 AS clon, issue_type, count(*) FROM _reports", cellPrecision, cellPrecision)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" GROUP BY clat, clon, issue_type ORDER BY count(*) DESC LIMIT " + arg(limit))
	return b.String(), args
}

type cellRow struct {
	lat, lon  float64
	issueType string
	count     int
}

// aggregateCells: 同一格点的多个类别合并为一个点；主类别为计数最多者（并列取字典序最小）
func aggregateCells(rows []cellRow) []HeatPoint {
	type key struct{ lat, lon float64 }
	idx := map[key]int{}
	var out []HeatPoint
	for _, r := range rows {
		k := key{r.lat, r.lon}
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, HeatPoint{Lat: r.lat, Lon: r.lon, IssueCounts: map[string]int{}})
		}
		p := &out[i]
		p.Intensity += r.count
		p.IssueCounts[r.issueType] += r.count
	}
	for i := range out {
		p := &out[i]
		best, bestN := "", -1
		for t, n := range p.IssueCounts {
			if n > bestN || (n == bestN && t < best) {
				best, bestN = t, n
			}
		}
		p.IssueType = best
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Intensity > out[j].Intensity })
	return out
}

// HeatmapPoints: 按筛选条件返回聚合后的热力图点
func (s *Store) HeatmapPoints(ctx context.Context, f HeatmapFilter) ([]HeatPoint, error) {
	q, args := buildHeatmapQuery(f)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cells []cellRow
	for rows.Next() {
		var c cellRow
		if err := rows.Scan(&c.lat, &c.lon, &c.issueType, &c.count); err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	pts := aggregateCells(cells)
	logger.L().Debug("heatmap_points", "cells", len(cells), "points", len(pts), "type", f.Type)
	return pts, nil
}

// WardCounts: 按选区统计上报数量（最近 days 天）
func (s *Store) WardCounts(ctx context.Context, days int) (map[string]int, error) {
	if days <= 0 {
		days = 30
	}
	rows, err := s.db.QueryContext(ctx, `SELECT ward_no, count(*) FROM _reports
        WHERE ward_no <> '' AND created_at >= now() - make_interval(days => $1)
        GROUP BY ward_no`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var w string
		var n int
		if err := rows.Scan(&w, &n); err != nil {
			return nil, err
		}
		out[w] = n
	}
	return out, rows.Err()
}

const reportColumns = `id, flow, issue_type, description, lat, lon, source,
            ward_no, ward_name, corporation, constituency, traffic_ps, post_url, created_at`

func scanReport(sc interface{ Scan(...any) error }) (Report, error) {
	var r Report
	err := sc.Scan(&r.ID, &r.Flow, &r.IssueType, &r.Description, &r.Lat, &r.Lon, &r.Source,
		&r.WardNo, &r.WardName, &r.Corporation, &r.Constituency, &r.TrafficPS, &r.PostURL, &r.CreatedAt)
	return r, err
}

// GetReport: 按 ID 读取；不存在时返回 sql.ErrNoRows
func (s *Store) GetReport(ctx context.Context, id string) (Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM _reports WHERE id = $1`, id)
	return scanReport(row)
}

// ListReports: 最近的上报，flow 为空时不按类型筛选
func (s *Store) ListReports(ctx context.Context, flow string, limit int) ([]Report, error) {
	if limit <= 0 || limit > 500 {
		limit = 20
	}
	q := `SELECT ` + reportColumns + ` FROM _reports`
	args := []any{}
	if flow != "" {
		args = append(args, flow)
		q += ` WHERE flow = $1`
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteReport: 删除一条记录（误报或测试数据），返回是否删除
func (s *Store) DeleteReport(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM _reports WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
