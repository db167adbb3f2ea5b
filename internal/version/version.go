// 包 version：构建信息，由 -ldflags "-X civic-reporter/internal/version.Commit=..." 注入
package version

var (
	Commit    = "dev"
	BuildTime = ""
)

// String：形如 dev 或 abc1234 (2024-05-01T00:00:00Z)
func String() string {
	if BuildTime == "" {
		return Commit
	}
	return Commit + " (" + BuildTime + ")"
}
