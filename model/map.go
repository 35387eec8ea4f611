package model

import "time"

// CalibrationMode 地图所处的校准阶段
type CalibrationMode string

const (
	CalibrationInitiate    CalibrationMode = "initiate"    // 还没有图片
	CalibrationCalibrate   CalibrationMode = "calibrate"   // 正在采集校准点
	CalibrationUnavailable CalibrationMode = "unavailable" // 不在校准中
)

// Map 对应一张上传的建筑平面图及其校准信息
type Map struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Name         string    `json:"name" gorm:"uniqueIndex;not null"`
	Note         string    `json:"note"`
	Filename     string    `json:"filename"`
	ModifiedDate time.Time `json:"modified_date"`
	Displayable  bool      `json:"displayable"`
	CircleSize   float64   `json:"circle_size"` // 最大圆直径占地图短边的比例
	NorthAngle   float64   `json:"north_angle"` // 图片向上方向到正北的顺时针角度
	ImgWidth     int       `json:"img_width"`
	ImgHeight    int       `json:"img_height"`
	MapSource    string    `json:"map_source" gorm:"type:text"` // data URL

	CalibrationMode CalibrationMode `json:"calibration_mode" gorm:"not null;default:initiate"`

	// 校准结果, 未校准时为空
	OriginLatitude    *float64 `json:"-"`
	OriginLongitude   *float64 `json:"-"`
	OppositeLatitude  *float64 `json:"-"`
	OppositeLongitude *float64 `json:"-"`
	MaxErrorX         float64  `json:"-"`
	MaxErrorY         float64  `json:"-"`

	CalibrationPoints []CalibrationPoint `json:"-" gorm:"constraint:OnDelete:CASCADE"`
}

// Origin 校准得到的左下角 GPS
func (m *Map) Origin() *GPSPoint {
	return gpsOf(m.OriginLatitude, m.OriginLongitude)
}

// Opposite 校准得到的右上角 GPS
func (m *Map) Opposite() *GPSPoint {
	return gpsOf(m.OppositeLatitude, m.OppositeLongitude)
}

// IsCalibrated 是否已有校准结果
func (m *Map) IsCalibrated() bool {
	return m.Origin() != nil && m.Opposite() != nil
}

// SetCalibration 写入 (或清空) 校准结果
func (m *Map) SetCalibration(origin, opposite *GPSPoint, maxErrX, maxErrY float64) {
	m.OriginLatitude, m.OriginLongitude = splitGPS(origin)
	m.OppositeLatitude, m.OppositeLongitude = splitGPS(opposite)
	if origin == nil || opposite == nil {
		maxErrX, maxErrY = 0, 0
	}
	m.MaxErrorX, m.MaxErrorY = maxErrX, maxErrY
}

// ImageDimensions 原始图片像素尺寸
func (m *Map) ImageDimensions() Dimensions {
	return Dimensions{Width: float64(m.ImgWidth), Height: float64(m.ImgHeight)}
}

// CalibrationPoint 持久化的校准点
type CalibrationPoint struct {
	ID        uint    `json:"id" gorm:"primaryKey"`
	MapID     uint    `json:"map_id" gorm:"index;not null"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Calibrated 转成校准算法使用的点
func (p CalibrationPoint) Calibrated() CalibratedPoint {
	return CalibratedPoint{
		Cartesian: CartesianPoint{X: p.X, Y: p.Y},
		GPS:       GPSPoint{Latitude: p.Latitude, Longitude: p.Longitude},
	}
}
