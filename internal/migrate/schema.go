package migrate

import (
	"database/sql"

	"civic-reporter/internal/logger"
)

// 背景：首次运行自动创建上报记录表与索引，保障热力图查询
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构
func EnsureSchema(db *sql.DB) error {
	for i, s := range Statements() {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}

// Statements：按执行顺序返回建表语句
func Statements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS _reports (
            id UUID PRIMARY KEY,
            flow TEXT NOT NULL,
            issue_type TEXT NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            lat DOUBLE PRECISION NOT NULL,
            lon DOUBLE PRECISION NOT NULL,
            source TEXT NOT NULL DEFAULT '',
            ward_no TEXT NOT NULL DEFAULT '',
            ward_name TEXT NOT NULL DEFAULT '',
            corporation TEXT NOT NULL DEFAULT '',
            constituency TEXT NOT NULL DEFAULT '',
            traffic_ps TEXT NOT NULL DEFAULT '',
            post_url TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_reports_created ON _reports(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_flow_created ON _reports(flow, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_ward ON _reports(ward_no)`,
	}
}
