package model

// GPSPoint 代表一个经纬度点 (WGS84)
type GPSPoint struct {
	Latitude  float64 `json:"latitude"`  // 纬度
	Longitude float64 `json:"longitude"` // 经度
}

// CartesianPoint 代表地图图片网格 (Plotly 坐标) 上的一个点
type CartesianPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CalibratedPoint 一次校准点击: 图片上的位置 + 用户输入的 GPS
type CalibratedPoint struct {
	Cartesian CartesianPoint `json:"cartesian"`
	GPS       GPSPoint       `json:"gps"`
}

// Dimensions 图片尺寸 (像素或网格单位)
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}
