package main

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"civic-reporter/internal/boundary"
	"civic-reporter/internal/config"
	"civic-reporter/internal/contacts"
	"civic-reporter/internal/gate"
	"civic-reporter/internal/geo"
	"civic-reporter/internal/jurisdiction"
	"civic-reporter/internal/logger"
	"civic-reporter/internal/resolve"

	"github.com/joho/godotenv"
)

// 各图层用于命名多边形的属性别名
var nameAliases = map[jurisdiction.Kind][]string{
	jurisdiction.Corporation:  resolve.CorporationAliases,
	jurisdiction.Ward:         resolve.WardIDAliases,
	jurisdiction.Constituency: resolve.ConstituencyAliases,
	jurisdiction.TrafficPS:    resolve.TrafficPSAliases,
}

// 文档注释：边界数据自检
// 背景：更换边界文件后先离线检查：每个图层能否加载、多边形数量、缺少名称属性的多边形、代表账号表的疑似重复键；
// 给出 CHECK_LAT/CHECK_LON 时再输出该点的完整解析结果与各图层的全部命中（用于发现重叠边界）。
// 约束：任一图层加载失败时以状态码 1 退出。
func main() {
	_ = godotenv.Load(".env")
	l := logger.Setup()
	path := os.Getenv("CITY_CONFIG")
	if path == "" {
		path = "config/cities/blr.json"
	}
	city, err := config.LoadCity(path)
	if err != nil {
		l.Error("city_config_error", "path", path, "err", err)
		os.Exit(1)
	}
	root := os.Getenv("BOUNDARY_ROOT")
	if root == "" {
		root = "."
	}
	fetcher := boundary.SchemeFetcher{HTTP: boundary.NewHTTPFetcher(60 * time.Second), File: boundary.FileFetcher{Root: root}}
	idx := jurisdiction.New(boundary.NewLoader(fetcher), city.Sources())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	failed := 0
	for _, k := range jurisdiction.Kinds {
		if !idx.Configured(k) {
			l.Warn("layer_not_configured", "layer", string(k))
			continue
		}
		layer, err := idx.Layer(ctx, k)
		if err != nil {
			failed++
			l.Error("layer_load_error", "layer", string(k), "err", err)
			continue
		}
		unnamed := 0
		for i := range layer.Polygons {
			if layer.Polygons[i].Property(nameAliases[k]...) == "" {
				unnamed++
			}
		}
		l.Info("layer_ok", "layer", string(k), "source", layer.Source, "polygons", len(layer.Polygons), "unnamed", unnamed)
	}

	dir := contacts.NewDirectory(city.SocialMedia.MLAHandles, city.SocialMedia.DefaultHandle)
	for _, d := range dir.SuspectDuplicates() {
		l.Warn("representative_duplicate_keys", "keys", strings.Join(d.Keys, ","), "handles", strings.Join(d.Handles, ","))
	}

	if c, ok := checkPoint(); ok {
		g := gate.New(city.ServiceArea(), idx, jurisdiction.Corporation, gate.FailClosed)
		res, err := resolve.New(idx, g, dir, nil).Resolve(ctx, c)
		if err != nil {
			l.Error("resolve_error", "err", err)
			os.Exit(1)
		}
		for _, k := range jurisdiction.Kinds {
			layer, err := idx.Layer(ctx, k)
			if err != nil {
				continue
			}
			if hits := layer.FindAll(c); len(hits) > 1 {
				names := make([]string, 0, len(hits))
				for _, p := range hits {
					names = append(names, p.Property(nameAliases[k]...))
				}
				l.Warn("overlapping_polygons", "layer", string(k), "names", strings.Join(names, ","))
			}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func checkPoint() (geo.Coordinate, bool) {
	latS, lonS := os.Getenv("CHECK_LAT"), os.Getenv("CHECK_LON")
	if latS == "" || lonS == "" {
		return geo.Coordinate{}, false
	}
	lat, err1 := strconv.ParseFloat(latS, 64)
	lon, err2 := strconv.ParseFloat(lonS, 64)
	if err1 != nil || err2 != nil {
		logger.L().Error("check_point_invalid", "lat", latS, "lon", lonS)
		return geo.Coordinate{}, false
	}
	return geo.Coordinate{Lat: lat, Lon: lon}, true
}
