package algo

import (
	"errors"
	"math"

	"energy-maps/model"
)

// GridLength 地图在 Plotly 网格中较长边的长度, 前端坐标轴范围为 [0, 500]
const GridLength = 500.0

// degenerateTolerance 判断校准点在某一轴上是否"没有展开" (网格单位)
const degenerateTolerance = 1e-9

// gpsTolerance 判断 GPS 在某一轴上是否"没有变化" (度)
const gpsTolerance = 1e-12

var (
	ErrNotEnoughPoints       = errors.New("至少需要两个校准点")
	ErrDegenerateCalibration = errors.New("校准点退化, 无法确定比例")
	ErrInvalidDimensions     = errors.New("图片尺寸无效")
	ErrPointOutOfBounds      = errors.New("校准点不在地图范围内")
	ErrNotCalibrating        = errors.New("地图不在校准模式")
	ErrNoImage               = errors.New("地图还没有上传图片")
	ErrMapNotCalibrated      = errors.New("地图尚未校准")
)

// MapScale 每个网格单位对应的 GPS 度数 (正北坐标系)
type MapScale struct {
	DegreePerUnitX float64 `json:"degree_per_unit_x"` // 经度
	DegreePerUnitY float64 `json:"degree_per_unit_y"` // 纬度
}

// ErrorPercent 校准误差, 以地图宽/高的百分比表示
type ErrorPercent struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CalibrationResult 校准结果
// Origin / Opposite 是图片在正北坐标系下外接矩形左下角与右上角的 GPS。
// 北角为 0 时就是用户地图的左下角与右上角。
type CalibrationResult struct {
	Origin   model.GPSPoint `json:"origin"`
	Opposite model.GPSPoint `json:"opposite"`
	MaxError ErrorPercent   `json:"max_error"`
}

// NormalizeImageDimensions 把图片尺寸缩放到网格: 长边为 GridLength, 保持宽高比
func NormalizeImageDimensions(d model.Dimensions) (model.Dimensions, error) {
	if !(d.Width > 0) || !(d.Height > 0) || math.IsInf(d.Width, 0) || math.IsInf(d.Height, 0) {
		return model.Dimensions{}, ErrInvalidDimensions
	}
	if d.Width > d.Height {
		return model.Dimensions{Width: GridLength, Height: GridLength * d.Height / d.Width}, nil
	}
	return model.Dimensions{Width: GridLength * d.Width / d.Height, Height: GridLength}, nil
}

// NormalizeAngle 把角度规范到 [0, 360)
func NormalizeAngle(deg float64) float64 {
	a := math.Mod(deg, 360)
	if a < 0 {
		a += 360
	}
	if a >= 360 {
		a = 0
	}
	return a
}

// rotator 在用户地图 (显示的图片) 与正北地图 (GPS 轴与图片轴平行) 之间转换,
// 绕图片中心旋转。
type rotator struct {
	sin, cos float64
	center   model.CartesianPoint
}

func newRotator(dims model.Dimensions, northAngle float64) rotator {
	rad := NormalizeAngle(northAngle) * math.Pi / 180
	return rotator{
		sin:    math.Sin(rad),
		cos:    math.Cos(rad),
		center: model.CartesianPoint{X: dims.Width / 2, Y: dims.Height / 2},
	}
}

// toTrueNorth 用户地图 -> 正北地图 (逆时针旋转北角)
func (r rotator) toTrueNorth(p model.CartesianPoint) model.CartesianPoint {
	dx, dy := p.X-r.center.X, p.Y-r.center.Y
	return model.CartesianPoint{
		X: r.center.X + dx*r.cos - dy*r.sin,
		Y: r.center.Y + dx*r.sin + dy*r.cos,
	}
}

// toUser 正北地图 -> 用户地图
func (r rotator) toUser(p model.CartesianPoint) model.CartesianPoint {
	dx, dy := p.X-r.center.X, p.Y-r.center.Y
	return model.CartesianPoint{
		X: r.center.X + dx*r.cos + dy*r.sin,
		Y: r.center.Y - dx*r.sin + dy*r.cos,
	}
}

// bounds 图片四个角旋转到正北地图后的外接矩形
func (r rotator) bounds(dims model.Dimensions) (lo, hi model.CartesianPoint) {
	corners := []model.CartesianPoint{
		{X: 0, Y: 0},
		{X: dims.Width, Y: 0},
		{X: 0, Y: dims.Height},
		{X: dims.Width, Y: dims.Height},
	}
	lo = model.CartesianPoint{X: math.Inf(1), Y: math.Inf(1)}
	hi = model.CartesianPoint{X: math.Inf(-1), Y: math.Inf(-1)}
	for _, c := range corners {
		t := r.toTrueNorth(c)
		lo.X, lo.Y = math.Min(lo.X, t.X), math.Min(lo.Y, t.Y)
		hi.X, hi.Y = math.Max(hi.X, t.X), math.Max(hi.Y, t.Y)
	}
	return lo, hi
}

// Calibrate 由两个及以上的校准点计算校准结果
//
// 北角已知, 所以变换只剩每个正北轴上的比例和偏移。两个轴分别做最小二乘拟合:
// 两个点时是精确解, 更多的点取平均意义下的最优解。
func Calibrate(points []model.CalibratedPoint, imageDims model.Dimensions, northAngle float64) (*CalibrationResult, error) {
	if len(points) < 2 {
		return nil, ErrNotEnoughPoints
	}
	dims, err := NormalizeImageDimensions(imageDims)
	if err != nil {
		return nil, err
	}
	rot := newRotator(dims, northAngle)

	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	lngs := make([]float64, len(points))
	lats := make([]float64, len(points))
	for i, p := range points {
		t := rot.toTrueNorth(p.Cartesian)
		xs[i], ys[i] = t.X, t.Y
		lngs[i], lats[i] = p.GPS.Longitude, p.GPS.Latitude
	}

	scaleX, offsetX, err := fitAxis(xs, lngs)
	if err != nil {
		return nil, err
	}
	scaleY, offsetY, err := fitAxis(ys, lats)
	if err != nil {
		return nil, err
	}

	lo, hi := rot.bounds(dims)
	result := &CalibrationResult{
		Origin:   model.GPSPoint{Latitude: offsetY + scaleY*lo.Y, Longitude: offsetX + scaleX*lo.X},
		Opposite: model.GPSPoint{Latitude: offsetY + scaleY*hi.Y, Longitude: offsetX + scaleX*hi.X},
	}

	tr, err := NewTransform(*result, imageDims, northAngle)
	if err != nil {
		return nil, err
	}
	for _, p := range points {
		g := tr.GPSToGrid(p.GPS)
		result.MaxError.X = math.Max(result.MaxError.X, math.Abs(g.X-p.Cartesian.X)/dims.Width*100)
		result.MaxError.Y = math.Max(result.MaxError.Y, math.Abs(g.Y-p.Cartesian.Y)/dims.Height*100)
	}
	return result, nil
}

// fitAxis 最小二乘拟合 g = offset + scale * t
func fitAxis(t, g []float64) (scale, offset float64, err error) {
	if spread(t) < degenerateTolerance || spread(g) < gpsTolerance {
		return 0, 0, ErrDegenerateCalibration
	}
	meanT, meanG := mean(t), mean(g)
	var stt, stg float64
	for i := range t {
		dt := t[i] - meanT
		stt += dt * dt
		stg += dt * (g[i] - meanG)
	}
	scale = stg / stt
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return 0, 0, ErrDegenerateCalibration
	}
	return scale, meanG - scale*meanT, nil
}

func spread(v []float64) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range v {
		lo, hi = math.Min(lo, x), math.Max(hi, x)
	}
	return hi - lo
}

func mean(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// CalculateScaleFromEndpoints 由校准的两个角计算每网格单位的 GPS 度数。
// dims 为归一化后的尺寸。
func CalculateScaleFromEndpoints(origin, opposite model.GPSPoint, dims model.Dimensions, northAngle float64) (MapScale, error) {
	if !(dims.Width > 0) || !(dims.Height > 0) {
		return MapScale{}, ErrInvalidDimensions
	}
	lo, hi := newRotator(dims, northAngle).bounds(dims)
	scale := MapScale{
		DegreePerUnitX: (opposite.Longitude - origin.Longitude) / (hi.X - lo.X),
		DegreePerUnitY: (opposite.Latitude - origin.Latitude) / (hi.Y - lo.Y),
	}
	if scale.DegreePerUnitX == 0 || scale.DegreePerUnitY == 0 ||
		math.IsNaN(scale.DegreePerUnitX) || math.IsNaN(scale.DegreePerUnitY) {
		return MapScale{}, ErrDegenerateCalibration
	}
	return scale, nil
}

// Transform GPS 与用户地图网格之间的双向转换
// 只对计算校准时使用的图片尺寸和北角有效。
type Transform struct {
	dims       model.Dimensions
	northAngle float64
	rot        rotator
	lo         model.CartesianPoint
	origin     model.GPSPoint
	scale      MapScale
}

// NewTransform 由校准结果构造转换
func NewTransform(result CalibrationResult, imageDims model.Dimensions, northAngle float64) (*Transform, error) {
	dims, err := NormalizeImageDimensions(imageDims)
	if err != nil {
		return nil, err
	}
	scale, err := CalculateScaleFromEndpoints(result.Origin, result.Opposite, dims, northAngle)
	if err != nil {
		return nil, err
	}
	rot := newRotator(dims, northAngle)
	lo, _ := rot.bounds(dims)
	return &Transform{
		dims:       dims,
		northAngle: NormalizeAngle(northAngle),
		rot:        rot,
		lo:         lo,
		origin:     result.Origin,
		scale:      scale,
	}, nil
}

// TransformForMap 由已保存的地图构造转换, 未校准时返回 ErrMapNotCalibrated
func TransformForMap(m *model.Map) (*Transform, error) {
	origin, opposite := m.Origin(), m.Opposite()
	if origin == nil || opposite == nil {
		return nil, ErrMapNotCalibrated
	}
	return NewTransform(CalibrationResult{Origin: *origin, Opposite: *opposite}, m.ImageDimensions(), m.NorthAngle)
}

// GPSToGrid 把 GPS 点转换为用户地图上的网格坐标。
// 先在正北地图上计算 (只有那里 GPS 轴与地图轴平行), 再旋转回用户地图。
func (t *Transform) GPSToGrid(gps model.GPSPoint) model.CartesianPoint {
	trueNorth := model.CartesianPoint{
		X: t.lo.X + (gps.Longitude-t.origin.Longitude)/t.scale.DegreePerUnitX,
		Y: t.lo.Y + (gps.Latitude-t.origin.Latitude)/t.scale.DegreePerUnitY,
	}
	return t.rot.toUser(trueNorth)
}

// GridToGPS 把用户地图上的点击位置转换回 GPS
func (t *Transform) GridToGPS(p model.CartesianPoint) model.GPSPoint {
	trueNorth := t.rot.toTrueNorth(p)
	return model.GPSPoint{
		Latitude:  t.origin.Latitude + (trueNorth.Y-t.lo.Y)*t.scale.DegreePerUnitY,
		Longitude: t.origin.Longitude + (trueNorth.X-t.lo.X)*t.scale.DegreePerUnitX,
	}
}

// Contains 网格点是否落在图片上
func (t *Transform) Contains(p model.CartesianPoint) bool {
	return insideDims(p, t.dims)
}

// GPSBounds 图片四个角对应 GPS 的外接框 (左下, 右上)
func (t *Transform) GPSBounds() (bottomLeft, topRight model.GPSPoint) {
	corners := []model.CartesianPoint{
		{X: 0, Y: 0},
		{X: t.dims.Width, Y: 0},
		{X: 0, Y: t.dims.Height},
		{X: t.dims.Width, Y: t.dims.Height},
	}
	bottomLeft = model.GPSPoint{Latitude: math.Inf(1), Longitude: math.Inf(1)}
	topRight = model.GPSPoint{Latitude: math.Inf(-1), Longitude: math.Inf(-1)}
	for _, c := range corners {
		g := t.GridToGPS(c)
		bottomLeft.Latitude = math.Min(bottomLeft.Latitude, g.Latitude)
		bottomLeft.Longitude = math.Min(bottomLeft.Longitude, g.Longitude)
		topRight.Latitude = math.Max(topRight.Latitude, g.Latitude)
		topRight.Longitude = math.Max(topRight.Longitude, g.Longitude)
	}
	return bottomLeft, topRight
}

// Dimensions 归一化后的地图尺寸
func (t *Transform) Dimensions() model.Dimensions { return t.dims }

// NorthAngle 规范化后的北角
func (t *Transform) NorthAngle() float64 { return t.northAngle }

// Scale 每网格单位的 GPS 度数
func (t *Transform) Scale() MapScale { return t.scale }

func insideDims(p model.CartesianPoint, dims model.Dimensions) bool {
	return p.X >= 0 && p.X <= dims.Width && p.Y >= 0 && p.Y <= dims.Height
}
