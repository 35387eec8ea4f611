package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"energy-maps/algo"
	"energy-maps/model"
)

// CalibrationState 校准状态响应
type CalibrationState struct {
	MapID      uint                    `json:"map_id"`
	Mode       model.CalibrationMode   `json:"mode"`
	NorthAngle float64                 `json:"north_angle"`
	Dimensions model.Dimensions        `json:"dimensions"`
	Points     []model.CalibratedPoint `json:"points"`
	Calibrated bool                    `json:"calibrated"`
	Result     *algo.CalibrationResult `json:"result,omitempty"`
	Warning    string                  `json:"warning,omitempty"`
}

func newCalibrationState(mapID uint, s *algo.CalibrationSession) CalibrationState {
	points := s.Points
	if points == nil {
		points = []model.CalibratedPoint{}
	}
	return CalibrationState{
		MapID:      mapID,
		Mode:       s.Mode,
		NorthAngle: s.NorthAngle,
		Dimensions: s.ImageDimensions,
		Points:     points,
		Calibrated: s.IsCalibrated(),
		Result:     s.Result,
	}
}

// GetCalibration 获取地图的校准状态
func GetCalibration(c *gin.Context) {
	m, ok := loadMap(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newCalibrationState(m.ID, algo.SessionFromMap(m)))
}

// StartCalibration 进入校准模式 (需要已有图片)
func StartCalibration(c *gin.Context) {
	updateSession(c, func(s *algo.CalibrationSession) error {
		return s.Start()
	})
}

// FinishCalibration 结束校准, 保留已有结果
func FinishCalibration(c *gin.Context) {
	updateSession(c, func(s *algo.CalibrationSession) error {
		s.Finish()
		return nil
	})
}

// ResetCalibration 清空校准点和结果
func ResetCalibration(c *gin.Context) {
	updateSession(c, func(s *algo.CalibrationSession) error {
		s.Reset()
		return nil
	})
}

// CalibrationPointRequest 一次校准点击
type CalibrationPointRequest struct {
	X   *float64 `json:"x" binding:"required"`
	Y   *float64 `json:"y" binding:"required"`
	GPS string   `json:"gps" binding:"required"` // "纬度,经度"
}

// AddCalibrationPoint 记录一个校准点, 点数足够时返回校准结果
// 点退化时点仍会保存, 响应中 calibrated 为 false 并带有 warning。
func AddCalibrationPoint(c *gin.Context) {
	var req CalibrationPointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest("%v", err))
		return
	}
	gps, err := algo.ParseGPS(req.GPS)
	if err != nil {
		respondError(c, err)
		return
	}
	var warning string
	m, session, ok := applySession(c, func(s *algo.CalibrationSession) error {
		if _, err := s.AddPoint(model.CartesianPoint{X: *req.X, Y: *req.Y}, gps); err != nil {
			if !errors.Is(err, algo.ErrDegenerateCalibration) {
				return err
			}
			warning = err.Error()
		}
		return nil
	})
	if !ok {
		return
	}

	Log.Info("添加校准点",
		zap.Uint("map_id", m.ID),
		zap.Int("points", len(session.Points)),
		zap.Bool("calibrated", session.IsCalibrated()))
	state := newCalibrationState(m.ID, session)
	state.Warning = warning
	c.JSON(http.StatusOK, state)
}

// updateSession 修改校准状态, 保存后返回新状态
func updateSession(c *gin.Context, fn func(s *algo.CalibrationSession) error) {
	m, session, ok := applySession(c, fn)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newCalibrationState(m.ID, session))
}

// applySession 在同一事务中读取地图、修改校准状态并保存, 失败时已写入响应
func applySession(c *gin.Context, fn func(s *algo.CalibrationSession) error) (*model.Map, *algo.CalibrationSession, bool) {
	id, err := parseID(c)
	if err != nil {
		respondError(c, err)
		return nil, nil, false
	}
	var session *algo.CalibrationSession
	m, err := Store.UpdateMap(id, func(m *model.Map) error {
		session = algo.SessionFromMap(m)
		if err := fn(session); err != nil {
			return err
		}
		session.ApplyTo(m)
		return nil
	})
	if err != nil {
		respondError(c, err)
		return nil, nil, false
	}
	return m, session, true
}

// LocateGPS 把 GPS 转换为地图网格坐标 (?gps=纬度,经度)
func LocateGPS(c *gin.Context) {
	gps, err := algo.ParseGPS(c.Query("gps"))
	if err != nil {
		respondError(c, err)
		return
	}
	m, ok := loadMap(c)
	if !ok {
		return
	}
	tr, err := algo.TransformForMap(m)
	if err != nil {
		respondError(c, err)
		return
	}
	p := tr.GPSToGrid(gps)
	c.JSON(http.StatusOK, gin.H{
		"x":      p.X,
		"y":      p.Y,
		"inside": tr.Contains(p),
	})
}

// GridToGPS 把地图上的点击位置转换为 GPS
func GridToGPS(c *gin.Context) {
	var req struct {
		X *float64 `json:"x" binding:"required"`
		Y *float64 `json:"y" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest("%v", err))
		return
	}
	m, ok := loadMap(c)
	if !ok {
		return
	}
	tr, err := algo.TransformForMap(m)
	if err != nil {
		respondError(c, err)
		return
	}
	p := model.CartesianPoint{X: *req.X, Y: *req.Y}
	gps := tr.GridToGPS(p)
	c.JSON(http.StatusOK, gin.H{
		"latitude":  gps.Latitude,
		"longitude": gps.Longitude,
		"gps":       algo.FormatGPS(&gps),
		"inside":    tr.Contains(p),
	})
}
