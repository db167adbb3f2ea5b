// 包 contacts：辖区名称到对外联系方式（社交账号、通知邮箱）的静态映射
package contacts

import (
	"sort"
	"strings"
	"unicode"
)

// 市政公司社交账号；固定表，未知名称返回空串
var corporationHandles = map[string]string{
	"Central": "@BCCCofficial",
	"East":    "@EASTCITYCORP",
	"West":    "@BWCCofficial",
	"North":   "@BNCCofficial",
	"South":   "@comm_blr_south",
}

// CorporationHandle：按市政公司名称取账号
func CorporationHandle(name string) string {
	return corporationHandles[strings.TrimSpace(name)]
}

// 文档注释：选区代表账号目录
// 背景：表中显式存在但值为空的选区表示"已知但未设置"，与"表中不存在"区分；
// 仅后者回退到 DefaultHandle。
// 约束：构建后只读。
type Directory struct {
	representatives map[string]string
	defaultHandle   string
}

// NewDirectory：handles 的值为不带 @ 的账号名；defaultHandle 可为空
func NewDirectory(handles map[string]string, defaultHandle string) *Directory {
	reps := make(map[string]string, len(handles))
	for k, v := range handles {
		reps[k] = strings.TrimPrefix(strings.TrimSpace(v), "@")
	}
	return &Directory{representatives: reps, defaultHandle: strings.TrimPrefix(strings.TrimSpace(defaultHandle), "@")}
}

// Lookup：返回原始账号名与是否在表中
func (d *Directory) Lookup(constituency string) (string, bool) {
	if d == nil {
		return "", false
	}
	v, ok := d.representatives[strings.TrimSpace(constituency)]
	return v, ok
}

// RepresentativeHandle：渲染为 "@账号"；已知但未设置返回空串，表中不存在时回退默认账号
func (d *Directory) RepresentativeHandle(constituency string) string {
	if d == nil || constituency == "" {
		return ""
	}
	v, known := d.Lookup(constituency)
	if !known {
		v = d.defaultHandle
	}
	if v == "" {
		return ""
	}
	return "@" + v
}

// Len：表项数
func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.representatives)
}

// 文档注释：疑似重复的表项
// 背景：同一选区因音译不一致出现两个键（如 Vijayanagara / Vijayanagar），两者都保留，仅在启动时告警。
type Duplicate struct {
	Keys    []string
	Handles []string
}

// SuspectDuplicates：按归一化名称分组，返回包含多个原始键的组（键按字典序）
func (d *Directory) SuspectDuplicates() []Duplicate {
	if d == nil {
		return nil
	}
	groups := map[string][]string{}
	for k := range d.representatives {
		n := normalizeName(k)
		if n == "" {
			continue
		}
		groups[n] = append(groups[n], k)
	}
	var out []Duplicate
	for _, keys := range groups {
		if len(keys) < 2 {
			continue
		}
		sort.Strings(keys)
		dup := Duplicate{Keys: keys}
		for _, k := range keys {
			dup.Handles = append(dup.Handles, d.representatives[k])
		}
		out = append(out, dup)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Keys[0] < out[j].Keys[0] })
	return out
}

// 归一化：仅保留字母并小写，去掉词尾的 a（音译差异最常见的位置）
func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return strings.TrimSuffix(b.String(), "a")
}
