// 包 locate：上报位置的获取策略链（照片 EXIF → 设备定位 → 手动选点）
package locate

import (
	"bytes"
	"context"
	"errors"
	"math"
	"time"

	"civic-reporter/internal/geo"
	"civic-reporter/internal/logger"
	"civic-reporter/internal/metrics"

	"github.com/rwcarlsen/goexif/exif"
)

// Status：单个策略的结果类型
type Status string

const (
	Found    Status = "found"
	NotFound Status = "not_found"
	Failed   Status = "error"
)

// 文档注释：策略结果
// 约束：仅 Found 时 Coordinate 有效；Failed 时 Err 非空。
type Result struct {
	Status     Status
	Coordinate geo.Coordinate
	Source     geo.Source
	Strategy   string
	Err        error
}

// DeviceFunc：设备定位回调；需遵守 ctx 超时
type DeviceFunc func(ctx context.Context) (geo.Coordinate, error)

// 文档注释：一次定位的输入
type Input struct {
	Image  []byte
	Device DeviceFunc
	Manual *geo.Coordinate
}

// Strategy：单个定位策略
type Strategy interface {
	Name() string
	Locate(ctx context.Context, in Input) Result
}

// 文档注释：有序策略链
// 背景：依次尝试每个策略，第一个 Found 即返回；NotFound 与 Failed 都继续下一个。
// 约束：全部未命中时返回 NotFound，Err 为最后一个失败原因（如有）。
type Chain []Strategy

// Default：EXIF → 设备（限时、限服务区）→ 手动
func Default(area geo.BBox, deviceTimeout time.Duration) Chain {
	return Chain{ExifStrategy{}, DeviceStrategy{Area: area, Timeout: deviceTimeout}, ManualStrategy{}}
}

func (c Chain) Locate(ctx context.Context, in Input) Result {
	var lastErr error
	for _, s := range c {
		if err := ctx.Err(); err != nil {
			return Result{Status: Failed, Strategy: s.Name(), Err: err}
		}
		r := s.Locate(ctx, in)
		r.Strategy = s.Name()
		metrics.LocateOutcomesTotal.WithLabelValues(s.Name(), string(r.Status)).Inc()
		switch r.Status {
		case Found:
			logger.L().Debug("locate_found", "strategy", s.Name(), "lat", r.Coordinate.Lat, "lon", r.Coordinate.Lon)
			return r
		case Failed:
			lastErr = r.Err
			logger.L().Debug("locate_fail", "strategy", s.Name(), "err", r.Err)
		}
	}
	return Result{Status: NotFound, Err: lastErr}
}

// ErrNoExifGPS：照片中没有可用的 GPS 标签
var ErrNoExifGPS = errors.New("no gps data in image")

// ExifStrategy：读取照片 EXIF 中的 GPS 坐标
type ExifStrategy struct{}

func (ExifStrategy) Name() string { return "exif" }

func (ExifStrategy) Locate(_ context.Context, in Input) Result {
	if len(in.Image) == 0 {
		return Result{Status: NotFound}
	}
	c, err := ExifCoordinate(in.Image)
	if err != nil {
		if errors.Is(err, ErrNoExifGPS) {
			return Result{Status: NotFound}
		}
		return Result{Status: Failed, Err: err}
	}
	return Result{Status: Found, Coordinate: c, Source: geo.SourceExif}
}

// ExifCoordinate：解析 EXIF GPS；无 EXIF 或无 GPS 返回 ErrNoExifGPS
func ExifCoordinate(img []byte) (geo.Coordinate, error) {
	x, err := exif.Decode(bytes.NewReader(img))
	if err != nil {
		if exif.IsCriticalError(err) {
			return geo.Coordinate{}, ErrNoExifGPS
		}
	}
	if x == nil {
		return geo.Coordinate{}, ErrNoExifGPS
	}
	lat, lon, err := x.LatLong()
	if err != nil {
		return geo.Coordinate{}, ErrNoExifGPS
	}
	c := geo.Coordinate{Lat: lat, Lon: lon}
	if !c.Valid() || (lat == 0 && lon == 0) || math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return geo.Coordinate{}, ErrNoExifGPS
	}
	return c, nil
}

// 文档注释：设备定位策略
// 约束：等待不超过 Timeout（默认 8s）；定位结果不在服务区内视为 NotFound，交由手动选点。
type DeviceStrategy struct {
	Area    geo.BBox
	Timeout time.Duration
}

func (DeviceStrategy) Name() string { return "device" }

func (d DeviceStrategy) Locate(ctx context.Context, in Input) Result {
	if in.Device == nil {
		return Result{Status: NotFound}
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type answer struct {
		c   geo.Coordinate
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		c, err := in.Device(ctx)
		ch <- answer{c, err}
	}()
	select {
	case <-ctx.Done():
		return Result{Status: Failed, Err: ctx.Err()}
	case a := <-ch:
		if a.err != nil {
			return Result{Status: Failed, Err: a.err}
		}
		if !a.c.Valid() || !d.Area.Contains(a.c) {
			return Result{Status: NotFound}
		}
		return Result{Status: Found, Coordinate: a.c, Source: geo.SourceDevice}
	}
}

// ManualStrategy：用户手动给出的坐标
type ManualStrategy struct{}

func (ManualStrategy) Name() string { return "manual" }

func (ManualStrategy) Locate(_ context.Context, in Input) Result {
	if in.Manual == nil || !in.Manual.Valid() {
		return Result{Status: NotFound}
	}
	return Result{Status: Found, Coordinate: *in.Manual, Source: geo.SourceManual}
}
