package algo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy-maps/model"
)

func newCalibratingSession(t *testing.T) *CalibrationSession {
	t.Helper()
	s := SessionFromMap(&model.Map{})
	require.NoError(t, s.SetImage(model.Dimensions{Width: 1000, Height: 500}))
	return s
}

func TestSessionRequiresImage(t *testing.T) {
	s := SessionFromMap(&model.Map{})
	assert.Equal(t, model.CalibrationInitiate, s.Mode)
	assert.False(t, s.HasImage())
	assert.ErrorIs(t, s.Start(), ErrNoImage)
	assert.Equal(t, model.CalibrationInitiate, s.Mode)

	_, err := s.AddPoint(model.CartesianPoint{X: 1, Y: 1}, model.GPSPoint{Latitude: 1, Longitude: 1})
	assert.ErrorIs(t, err, ErrNotCalibrating)

	assert.ErrorIs(t, s.SetImage(model.Dimensions{Width: 0, Height: 100}), ErrInvalidDimensions)
}

func TestSessionAddPoints(t *testing.T) {
	s := newCalibratingSession(t)
	assert.Equal(t, model.CalibrationCalibrate, s.Mode)

	result, err := s.AddPoint(model.CartesianPoint{X: 0, Y: 0}, model.GPSPoint{Latitude: 40, Longitude: -80})
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.False(t, s.IsCalibrated())
	_, err = s.Transform()
	assert.ErrorIs(t, err, ErrMapNotCalibrated)

	result, err = s.AddPoint(model.CartesianPoint{X: 500, Y: 250}, model.GPSPoint{Latitude: 41, Longitude: -79})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, s.IsCalibrated())
	assert.InDelta(t, 40, result.Origin.Latitude, eps)
	assert.InDelta(t, -79, result.Opposite.Longitude, eps)

	tr, err := s.Transform()
	require.NoError(t, err)
	p := tr.GPSToGrid(model.GPSPoint{Latitude: 40.5, Longitude: -79.5})
	assert.InDelta(t, 250, p.X, 1e-6)
	assert.InDelta(t, 125, p.Y, 1e-6)
}

func TestSessionRejectsInvalidPoints(t *testing.T) {
	s := newCalibratingSession(t)

	// 归一化后地图为 500 x 250
	_, err := s.AddPoint(model.CartesianPoint{X: 10, Y: 300}, model.GPSPoint{Latitude: 40, Longitude: -80})
	assert.ErrorIs(t, err, ErrPointOutOfBounds)
	_, err = s.AddPoint(model.CartesianPoint{X: -1, Y: 10}, model.GPSPoint{Latitude: 40, Longitude: -80})
	assert.ErrorIs(t, err, ErrPointOutOfBounds)
	_, err = s.AddPoint(model.CartesianPoint{X: 10, Y: 10}, model.GPSPoint{Latitude: 95, Longitude: -80})
	assert.ErrorIs(t, err, ErrGPSRange)
	assert.Empty(t, s.Points)
}

func TestSessionKeepsDegeneratePoint(t *testing.T) {
	s := newCalibratingSession(t)
	_, err := s.AddPoint(model.CartesianPoint{X: 100, Y: 10}, model.GPSPoint{Latitude: 40, Longitude: -80})
	require.NoError(t, err)
	_, err = s.AddPoint(model.CartesianPoint{X: 100, Y: 200}, model.GPSPoint{Latitude: 41, Longitude: -79})
	assert.ErrorIs(t, err, ErrDegenerateCalibration)
	assert.Len(t, s.Points, 2)
	assert.False(t, s.IsCalibrated())

	// 第三个点让 x 方向展开
	result, err := s.AddPoint(model.CartesianPoint{X: 400, Y: 100}, model.GPSPoint{Latitude: 40.5, Longitude: -78})
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Len(t, s.Points, 3)
}

func TestSessionNorthAngleRecomputes(t *testing.T) {
	s := newCalibratingSession(t)
	_, err := s.AddPoint(model.CartesianPoint{X: 0, Y: 0}, model.GPSPoint{Latitude: 40, Longitude: -80})
	require.NoError(t, err)
	before, err := s.AddPoint(model.CartesianPoint{X: 500, Y: 250}, model.GPSPoint{Latitude: 41, Longitude: -79})
	require.NoError(t, err)

	require.NoError(t, s.SetNorthAngle(90))
	require.True(t, s.IsCalibrated())
	assert.NotEqual(t, *before, *s.Result)

	// 旋转后点仍然映射回原来的位置
	tr, err := s.Transform()
	require.NoError(t, err)
	p := tr.GPSToGrid(model.GPSPoint{Latitude: 41, Longitude: -79})
	assert.InDelta(t, 500, p.X, 1e-6)
	assert.InDelta(t, 250, p.Y, 1e-6)

	require.NoError(t, s.SetNorthAngle(450))
	again, err := s.Transform()
	require.NoError(t, err)
	assert.Equal(t, tr.Scale(), again.Scale())
}

func TestSessionSetImageClearsCalibration(t *testing.T) {
	s := newCalibratingSession(t)
	_, _ = s.AddPoint(model.CartesianPoint{X: 0, Y: 0}, model.GPSPoint{Latitude: 40, Longitude: -80})
	_, _ = s.AddPoint(model.CartesianPoint{X: 500, Y: 250}, model.GPSPoint{Latitude: 41, Longitude: -79})
	require.True(t, s.IsCalibrated())

	s.Finish()
	assert.Equal(t, model.CalibrationUnavailable, s.Mode)
	assert.True(t, s.IsCalibrated())

	require.NoError(t, s.SetImage(model.Dimensions{Width: 800, Height: 800}))
	assert.Empty(t, s.Points)
	assert.False(t, s.IsCalibrated())
	assert.Equal(t, model.CalibrationCalibrate, s.Mode)
}

func TestSessionMapRoundTrip(t *testing.T) {
	m := &model.Map{ID: 7, ImgWidth: 1000, ImgHeight: 500, NorthAngle: 20}
	s := SessionFromMap(m)
	require.NoError(t, s.Start())
	_, err := s.AddPoint(model.CartesianPoint{X: 20, Y: 30}, model.GPSPoint{Latitude: 40, Longitude: -80})
	require.NoError(t, err)
	_, err = s.AddPoint(model.CartesianPoint{X: 420, Y: 200}, model.GPSPoint{Latitude: 41, Longitude: -79})
	require.NoError(t, err)
	s.ApplyTo(m)

	assert.True(t, m.IsCalibrated())
	assert.Equal(t, model.CalibrationCalibrate, m.CalibrationMode)
	require.Len(t, m.CalibrationPoints, 2)
	assert.Equal(t, uint(7), m.CalibrationPoints[0].MapID)

	restored := SessionFromMap(m)
	assert.Equal(t, s.Points, restored.Points)
	assert.Equal(t, *s.Result, *restored.Result)

	restored.Reset()
	restored.ApplyTo(m)
	assert.False(t, m.IsCalibrated())
	assert.Empty(t, m.CalibrationPoints)
	assert.Zero(t, m.MaxErrorX)
}
