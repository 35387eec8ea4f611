package algo

import (
	"fmt"
	"math"
	"time"

	"energy-maps/model"
)

// MarkerSizeMin 前端圆的最小直径 (像素)
const MarkerSizeMin = 6

const noDataText = "no data to display"

// BarReading 一个时间窗口内的读数总和
type BarReading struct {
	Start   time.Time `json:"start_timestamp"`
	End     time.Time `json:"end_timestamp"`
	Reading float64   `json:"reading"`
}

// BarWindow 取最新读数结束时间往前 duration 的窗口, 累加完全落在窗口内的读数
func BarWindow(readings []model.Reading, duration time.Duration) (BarReading, bool) {
	if len(readings) == 0 || duration <= 0 {
		return BarReading{}, false
	}
	latest := readings[0].EndTimestamp
	for _, r := range readings[1:] {
		if r.EndTimestamp.After(latest) {
			latest = r.EndTimestamp
		}
	}
	bar := BarReading{Start: latest.Add(-duration), End: latest}
	for _, r := range readings {
		if !r.StartTimestamp.Before(bar.Start) && !r.EndTimestamp.After(bar.End) {
			bar.Reading += r.Reading
		}
	}
	return bar, true
}

// PlotEntity 要画到地图上的表计或分组
type PlotEntity struct {
	ID   uint
	Name string
	GPS  *model.GPSPoint
	Area float64
	Bar  *BarReading // 没有数据时为空
}

// PlotInput 地图绘制参数
type PlotInput struct {
	Map               *model.Map
	Entities          []PlotEntity
	BarDuration       time.Duration
	AreaNormalization bool
	UnitLabel         string
}

// Marker 地图上的一个圆
type Marker struct {
	EntityID  uint    `json:"entity_id"`
	Name      string  `json:"name"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Size      float64 `json:"size"` // 日均用量, 前端按面积缩放
	HoverText string  `json:"hover_text"`
}

// PlotResult 地图绘制结果
type PlotResult struct {
	Markers       []Marker `json:"markers"`
	SizeRef       float64  `json:"size_ref"`
	SizeMin       float64  `json:"size_min"`
	MaxCircleSize float64  `json:"max_circle_size"`
}

// PlotMap 把有 GPS 的实体转换为地图上的圆
// 地图未校准时返回 ErrMapNotCalibrated; 不在图片范围内的点被跳过。
func PlotMap(in PlotInput) (*PlotResult, error) {
	if in.Map == nil {
		return nil, ErrMapNotCalibrated
	}
	tr, err := TransformForMap(in.Map)
	if err != nil {
		return nil, err
	}
	days := in.BarDuration.Hours() / 24
	if days <= 0 {
		return nil, fmt.Errorf("无效的时间窗口: %v", in.BarDuration)
	}

	result := &PlotResult{Markers: []Marker{}, SizeMin: MarkerSizeMin}
	for _, e := range in.Entities {
		if e.GPS == nil {
			continue
		}
		if in.AreaNormalization && e.Area <= 0 {
			continue
		}
		p := tr.GPSToGrid(*e.GPS)
		if !tr.Contains(p) {
			continue
		}

		marker := Marker{EntityID: e.ID, Name: e.Name, X: p.X, Y: p.Y}
		if e.Bar == nil {
			marker.HoverText = fmt.Sprintf("<b> %s </b> <br> %s: %.6g %s", noDataText, e.Name, 0.0, in.UnitLabel)
			result.Markers = append(result.Markers, marker)
			continue
		}

		// 数据库时间是 UTC
		timeReading := e.Bar.Start.UTC().Format("Jan 2, 2006")
		if days != 1 {
			// 结束时间是第二天零点, 减一天
			timeReading += " - " + e.Bar.End.UTC().AddDate(0, 0, -1).Format("Jan 2, 2006")
		}
		averaged := e.Bar.Reading / days
		if in.AreaNormalization {
			averaged /= e.Area
		}
		marker.Size = averaged
		marker.HoverText = fmt.Sprintf("<b> %s </b> <br> %s: %.6g %s", timeReading, e.Name, averaged, in.UnitLabel)
		result.Markers = append(result.Markers, marker)
	}

	// 圆按面积显示, 最大直径为短边的 circleSize 倍
	dims := tr.Dimensions()
	minDimension := math.Min(dims.Width, dims.Height)
	result.MaxCircleSize = math.Pi * math.Pow(minDimension*in.Map.CircleSize/2, 2)
	largest := 0.0
	for _, m := range result.Markers {
		largest = math.Max(largest, m.Size)
	}
	result.SizeRef = 1
	if largest > 0 && result.MaxCircleSize > 0 {
		result.SizeRef = largest / result.MaxCircleSize
	}
	return result, nil
}
