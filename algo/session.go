package algo

import (
	"energy-maps/model"
)

// CalibrationSession 一张地图的校准过程状态
// 校准点记录在用户地图网格上, 所以改北角后可以直接重新计算。
type CalibrationSession struct {
	Mode            model.CalibrationMode
	ImageDimensions model.Dimensions
	NorthAngle      float64
	Points          []model.CalibratedPoint
	Result          *CalibrationResult
}

// SessionFromMap 从已保存的地图恢复校准状态
func SessionFromMap(m *model.Map) *CalibrationSession {
	s := &CalibrationSession{
		Mode:            m.CalibrationMode,
		ImageDimensions: m.ImageDimensions(),
		NorthAngle:      m.NorthAngle,
	}
	for _, p := range m.CalibrationPoints {
		s.Points = append(s.Points, p.Calibrated())
	}
	if origin, opposite := m.Origin(), m.Opposite(); origin != nil && opposite != nil {
		s.Result = &CalibrationResult{
			Origin:   *origin,
			Opposite: *opposite,
			MaxError: ErrorPercent{X: m.MaxErrorX, Y: m.MaxErrorY},
		}
	}
	if s.Mode == "" {
		s.Mode = model.CalibrationInitiate
	}
	return s
}

// ApplyTo 把校准状态写回地图 (不含图片本身)
func (s *CalibrationSession) ApplyTo(m *model.Map) {
	m.CalibrationMode = s.Mode
	m.NorthAngle = s.NorthAngle
	m.CalibrationPoints = make([]model.CalibrationPoint, 0, len(s.Points))
	for _, p := range s.Points {
		m.CalibrationPoints = append(m.CalibrationPoints, model.CalibrationPoint{
			MapID:     m.ID,
			X:         p.Cartesian.X,
			Y:         p.Cartesian.Y,
			Latitude:  p.GPS.Latitude,
			Longitude: p.GPS.Longitude,
		})
	}
	if s.Result == nil {
		m.SetCalibration(nil, nil, 0, 0)
		return
	}
	origin, opposite := s.Result.Origin, s.Result.Opposite
	m.SetCalibration(&origin, &opposite, s.Result.MaxError.X, s.Result.MaxError.Y)
}

// HasImage 是否已有有效的图片尺寸
func (s *CalibrationSession) HasImage() bool {
	_, err := NormalizeImageDimensions(s.ImageDimensions)
	return err == nil
}

// SetImage 换了图片: 旧的校准点与结果全部作废, 进入校准模式
func (s *CalibrationSession) SetImage(dims model.Dimensions) error {
	if _, err := NormalizeImageDimensions(dims); err != nil {
		return err
	}
	s.ImageDimensions = dims
	s.Points = nil
	s.Result = nil
	s.Mode = model.CalibrationCalibrate
	return nil
}

// SetNorthAngle 修改北角并用已有的点重新计算
func (s *CalibrationSession) SetNorthAngle(deg float64) error {
	s.NorthAngle = deg
	return s.recompute()
}

// Start 进入校准模式
func (s *CalibrationSession) Start() error {
	if !s.HasImage() {
		s.Mode = model.CalibrationInitiate
		return ErrNoImage
	}
	s.Mode = model.CalibrationCalibrate
	return nil
}

// Finish 结束校准, 保留结果
func (s *CalibrationSession) Finish() {
	s.Mode = model.CalibrationUnavailable
}

// AddPoint 记录一个校准点; 点数达到两个后重新计算结果。
// 计算失败 (例如点退化) 时点仍然保留, 结果清空并返回错误。
func (s *CalibrationSession) AddPoint(p model.CartesianPoint, gps model.GPSPoint) (*CalibrationResult, error) {
	if s.Mode != model.CalibrationCalibrate {
		return nil, ErrNotCalibrating
	}
	dims, err := NormalizeImageDimensions(s.ImageDimensions)
	if err != nil {
		return nil, err
	}
	if !insideDims(p, dims) {
		return nil, ErrPointOutOfBounds
	}
	if err := ValidateGPS(gps); err != nil {
		return nil, err
	}
	s.Points = append(s.Points, model.CalibratedPoint{Cartesian: p, GPS: gps})
	if err := s.recompute(); err != nil {
		return nil, err
	}
	return s.Result, nil
}

// Reset 清空校准点和结果
func (s *CalibrationSession) Reset() {
	s.Points = nil
	s.Result = nil
}

// IsCalibrated 是否已有可用的结果
func (s *CalibrationSession) IsCalibrated() bool {
	return s.Result != nil
}

// Transform 当前结果对应的转换
func (s *CalibrationSession) Transform() (*Transform, error) {
	if s.Result == nil {
		return nil, ErrMapNotCalibrated
	}
	return NewTransform(*s.Result, s.ImageDimensions, s.NorthAngle)
}

func (s *CalibrationSession) recompute() error {
	if len(s.Points) < 2 {
		s.Result = nil
		return nil
	}
	result, err := Calibrate(s.Points, s.ImageDimensions, s.NorthAngle)
	if err != nil {
		s.Result = nil
		return err
	}
	s.Result = result
	return nil
}
