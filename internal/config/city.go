package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"civic-reporter/internal/geo"
	"civic-reporter/internal/jurisdiction"
)

// 文档注释：城市配置文件
// 背景：一个城市一份 JSON（config/cities/<id>.json），描述服务范围、四类边界数据源、
// 上报接口地址、选区代表账号与问题分类。
type City struct {
	CityName        string          `json:"cityName"`
	CityNameLocal   string          `json:"cityNameLocal,omitempty"`
	Boundaries      CityBoundaries  `json:"boundaries"`
	APIs            CityAPIs        `json:"apis"`
	SocialMedia     SocialMedia     `json:"socialMedia"`
	IssueCategories IssueCategories `json:"issueCategories"`
}

type CityBoundaries struct {
	BBox       geo.BBox `json:"bbox"`
	MapKML     string   `json:"mapKml"`
	WardKML    string   `json:"wardKml"`
	ConstKML   string   `json:"constKml"`
	TrafficKML string   `json:"trafficKml"`
}

type CityAPIs struct {
	CivicAPI   string `json:"civicApi"`
	TrafficAPI string `json:"trafficApi"`
}

// 代表账号值可带或不带 @；空串表示已知选区但暂无账号
type SocialMedia struct {
	MLAHandles    map[string]string `json:"mlaHandles"`
	DefaultHandle string            `json:"defaultHandle"`
}

type IssueCategories struct {
	Civic   []string `json:"civic"`
	Traffic []string `json:"traffic"`
}

// LoadCity：读取并校验城市配置
func LoadCity(path string) (*City, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read city config: %w", err)
	}
	return ParseCity(b)
}

func ParseCity(b []byte) (*City, error) {
	var c City
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse city config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate：服务范围必须是有限且非退化的矩形
func (c *City) Validate() error {
	bb := c.Boundaries.BBox
	if !bb.Valid() {
		return errors.New("city config: bbox must be finite")
	}
	if bb.South >= bb.North || bb.West >= bb.East {
		return fmt.Errorf("city config: bbox is empty (%v)", bb)
	}
	return nil
}

// ServiceArea：服务范围矩形
func (c *City) ServiceArea() geo.BBox { return c.Boundaries.BBox }

// Sources：按辖区类别给出数据源；未配置的类别不出现
func (c *City) Sources() map[jurisdiction.Kind]string {
	out := map[jurisdiction.Kind]string{}
	for k, v := range map[jurisdiction.Kind]string{
		jurisdiction.Corporation:  c.Boundaries.MapKML,
		jurisdiction.Ward:         c.Boundaries.WardKML,
		jurisdiction.Constituency: c.Boundaries.ConstKML,
		jurisdiction.TrafficPS:    c.Boundaries.TrafficKML,
	} {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	return out
}

// Categories：按流程取问题分类；未知流程返回 nil
func (c *City) Categories(flow string) []string {
	switch strings.ToLower(flow) {
	case "civic":
		return c.IssueCategories.Civic
	case "traffic":
		return c.IssueCategories.Traffic
	}
	return nil
}
