package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"civic-reporter/internal/migrate"
	"civic-reporter/internal/store"
	"civic-reporter/internal/utils"

	"github.com/joho/godotenv"
)

func printHelp() {
	fmt.Println("commands:")
	fmt.Println("  list [civic|traffic] [limit]")
	fmt.Println("  get <id>")
	fmt.Println("  del <id>")
	fmt.Println("  wards [days]")
	fmt.Println("  heat [civic|traffic|both] [limit]")
	fmt.Println("  help")
	fmt.Println("  exit")
}

func prompt(r *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	s, _ := r.ReadString('\n')
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

func formatReport(r store.Report) string {
	place := r.WardName
	if r.WardNo != "" {
		place = r.WardNo + " " + r.WardName
	}
	if r.Flow == "traffic" && r.TrafficPS != "" {
		place = r.TrafficPS
	}
	return fmt.Sprintf("%s %s %-7s %-20s %.5f,%.5f %s", r.CreatedAt.Format(time.RFC3339), r.ID, r.Flow, r.IssueType, r.Lat, r.Lon, strings.TrimSpace(place))
}

// 文档注释：上报记录维护命令行
// 背景：运营侧查看、清理误报与测试数据，按选区统计；不经过 HTTP 服务。
// 约束：参数 --env <file> 或 *.env 指定配置；未指定时交互式输入 PG_* 连接参数。
func main() {
	var envFile string
	for i := 1; i < len(os.Args); i++ {
		if os.Args[i] == "--env" && i+1 < len(os.Args) {
			envFile = os.Args[i+1]
			i++
		} else if strings.HasSuffix(os.Args[i], ".env") {
			envFile = os.Args[i]
		}
	}
	if envFile != "" {
		_ = godotenv.Load(envFile)
	} else {
		r := bufio.NewReader(os.Stdin)
		fmt.Println("enter database connection parameters, press enter for defaults")
		for _, kv := range [][2]string{{"PG_HOST", "127.0.0.1"}, {"PG_PORT", "5432"}, {"PG_USER", "postgres"}, {"PG_PASSWORD", ""}, {"PG_DB", "civic"}, {"PG_SSLMODE", "disable"}} {
			os.Setenv(kv[0], prompt(r, kv[0], kv[1]))
		}
	}
	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		fmt.Println("db error:", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := migrate.EnsureSchema(db); err != nil {
		fmt.Println("schema error:", err)
		os.Exit(1)
	}
	st := store.AttachDB(db)
	ctx := context.Background()
	fmt.Println("report admin ready")
	printHelp()
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			break
		}
		parts := strings.Fields(in.Text())
		if len(parts) == 0 {
			continue
		}
		switch strings.ToLower(parts[0]) {
		case "exit", "quit":
			return
		case "help":
			printHelp()
		case "list":
			flow, limit := "", 20
			for _, p := range parts[1:] {
				if n, err := strconv.Atoi(p); err == nil {
					limit = n
				} else {
					flow = strings.ToLower(p)
				}
			}
			reps, err := st.ListReports(ctx, flow, limit)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, r := range reps {
				fmt.Println(formatReport(r))
			}
			fmt.Printf("%d reports\n", len(reps))
		case "get":
			if len(parts) < 2 {
				fmt.Println("usage: get <id>")
				continue
			}
			r, err := st.GetReport(ctx, parts[1])
			if errors.Is(err, sql.ErrNoRows) {
				fmt.Println("not found")
				continue
			} else if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println(formatReport(r))
			if r.Description != "" {
				fmt.Println("  description:", r.Description)
			}
			fmt.Println("  corporation:", r.Corporation, " constituency:", r.Constituency, " source:", r.Source)
			if r.PostURL != "" {
				fmt.Println("  post:", r.PostURL)
			}
		case "del":
			if len(parts) < 2 {
				fmt.Println("usage: del <id>")
				continue
			}
			ok, err := st.DeleteReport(ctx, parts[1])
			if err != nil {
				fmt.Println("error:", err)
			} else if !ok {
				fmt.Println("not found")
			} else {
				fmt.Println("deleted")
			}
		case "wards":
			days := 30
			if len(parts) > 1 {
				if n, err := strconv.Atoi(parts[1]); err == nil {
					days = n
				}
			}
			counts, err := st.WardCounts(ctx, days)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			wards := make([]string, 0, len(counts))
			for w := range counts {
				wards = append(wards, w)
			}
			sort.Slice(wards, func(i, j int) bool {
				if counts[wards[i]] != counts[wards[j]] {
					return counts[wards[i]] > counts[wards[j]]
				}
				return wards[i] < wards[j]
			})
			for _, w := range wards {
				fmt.Printf("%-8s %d\n", w, counts[w])
			}
		case "heat":
			f := store.HeatmapFilter{Limit: 20}
			for _, p := range parts[1:] {
				if n, err := strconv.Atoi(p); err == nil {
					f.Limit = n
				} else {
					f.Type = strings.ToLower(p)
				}
			}
			pts, err := st.HeatmapPoints(ctx, f)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, p := range pts {
				fmt.Printf("%.4f,%.4f %4d %s\n", p.Lat, p.Lon, p.Intensity, p.IssueType)
			}
		default:
			fmt.Println("unknown command")
			printHelp()
		}
	}
}
