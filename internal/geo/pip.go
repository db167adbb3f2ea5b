package geo

// 文档注释：点入多边形判定（Even-Odd 射线法）
// 约束：环少于 3 个顶点时恒为 false；点恰在边或顶点上时的归属取决于浮点比较，不做修正。
// 跨越条件 (yi > lat) != (yj > lat) 排除了水平边，因此不会出现除零。
func Contains(ring Ring, pt Coordinate) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	x, y := pt.Lon, pt.Lat
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i].Lon, ring[i].Lat
		xj, yj := ring[j].Lon, ring[j].Lat
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}
