package algo

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy-maps/model"
)

func calibratedMap() *model.Map {
	m := &model.Map{ID: 1, ImgWidth: 1000, ImgHeight: 500, CircleSize: 0.15}
	m.SetCalibration(
		&model.GPSPoint{Latitude: 40, Longitude: -80},
		&model.GPSPoint{Latitude: 41, Longitude: -79},
		0, 0)
	return m
}

func day(d int) time.Time {
	return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC)
}

func TestBarWindow(t *testing.T) {
	_, ok := BarWindow(nil, 24*time.Hour)
	assert.False(t, ok)

	var readings []model.Reading
	for d := 1; d <= 30; d++ {
		readings = append(readings, model.Reading{MeterID: 1, StartTimestamp: day(d), EndTimestamp: day(d + 1), Reading: 10})
	}
	bar, ok := BarWindow(readings, 7*24*time.Hour)
	require.True(t, ok)
	assert.Equal(t, day(31), bar.End)
	assert.Equal(t, day(24), bar.Start)
	assert.InDelta(t, 70, bar.Reading, 1e-9)

	// 跨越窗口起点的读数不计入
	readings = append(readings, model.Reading{MeterID: 1, StartTimestamp: day(20), EndTimestamp: day(25), Reading: 1000})
	bar, _ = BarWindow(readings, 7*24*time.Hour)
	assert.InDelta(t, 70, bar.Reading, 1e-9)
}

func TestPlotMap(t *testing.T) {
	gps := func(lat, lng float64) *model.GPSPoint { return &model.GPSPoint{Latitude: lat, Longitude: lng} }
	bar := &BarReading{Start: day(1), End: day(29), Reading: 280}

	result, err := PlotMap(PlotInput{
		Map: calibratedMap(),
		Entities: []PlotEntity{
			{ID: 1, Name: "Library", GPS: gps(40.5, -79.5), Bar: bar},
			{ID: 2, Name: "Gym", GPS: gps(40.25, -79.9)},
			{ID: 3, Name: "Offsite", GPS: gps(42, -79.5), Bar: bar},
			{ID: 4, Name: "Unplaced", Bar: bar},
		},
		BarDuration: 28 * 24 * time.Hour,
		UnitLabel:   "kWh",
	})
	require.NoError(t, err)
	require.Len(t, result.Markers, 2)

	lib := result.Markers[0]
	assert.Equal(t, uint(1), lib.EntityID)
	assert.InDelta(t, 250, lib.X, 1e-6)
	assert.InDelta(t, 125, lib.Y, 1e-6)
	assert.InDelta(t, 10, lib.Size, 1e-9)
	assert.Equal(t, "<b> Jan 1, 2024 - Jan 28, 2024 </b> <br> Library: 10 kWh", lib.HoverText)

	gym := result.Markers[1]
	assert.Equal(t, uint(2), gym.EntityID)
	assert.Zero(t, gym.Size)
	assert.Contains(t, gym.HoverText, "no data to display")

	wantMax := math.Pi * math.Pow(250*0.15/2, 2)
	assert.InDelta(t, wantMax, result.MaxCircleSize, 1e-9)
	assert.InDelta(t, 10/wantMax, result.SizeRef, 1e-12)
	assert.Equal(t, float64(MarkerSizeMin), result.SizeMin)
}

func TestPlotMapSingleDay(t *testing.T) {
	result, err := PlotMap(PlotInput{
		Map: calibratedMap(),
		Entities: []PlotEntity{
			{ID: 1, Name: "Library", GPS: &model.GPSPoint{Latitude: 40.5, Longitude: -79.5},
				Bar: &BarReading{Start: day(5), End: day(6), Reading: 12}},
		},
		BarDuration: 24 * time.Hour,
		UnitLabel:   "kWh",
	})
	require.NoError(t, err)
	require.Len(t, result.Markers, 1)
	assert.Equal(t, "<b> Jan 5, 2024 </b> <br> Library: 12 kWh", result.Markers[0].HoverText)
}

func TestPlotMapAreaNormalization(t *testing.T) {
	bar := &BarReading{Start: day(1), End: day(8), Reading: 70}
	result, err := PlotMap(PlotInput{
		Map: calibratedMap(),
		Entities: []PlotEntity{
			{ID: 1, Name: "A", GPS: &model.GPSPoint{Latitude: 40.5, Longitude: -79.5}, Area: 2, Bar: bar},
			{ID: 2, Name: "B", GPS: &model.GPSPoint{Latitude: 40.6, Longitude: -79.4}, Area: 0, Bar: bar},
		},
		BarDuration:       7 * 24 * time.Hour,
		AreaNormalization: true,
	})
	require.NoError(t, err)
	require.Len(t, result.Markers, 1)
	assert.InDelta(t, 5, result.Markers[0].Size, 1e-9)
}

func TestPlotMapNoData(t *testing.T) {
	result, err := PlotMap(PlotInput{Map: calibratedMap(), BarDuration: 24 * time.Hour})
	require.NoError(t, err)
	assert.Empty(t, result.Markers)
	assert.Equal(t, 1.0, result.SizeRef)
}

func TestPlotMapErrors(t *testing.T) {
	_, err := PlotMap(PlotInput{BarDuration: time.Hour})
	assert.ErrorIs(t, err, ErrMapNotCalibrated)

	_, err = PlotMap(PlotInput{Map: &model.Map{ImgWidth: 10, ImgHeight: 10}, BarDuration: time.Hour})
	assert.ErrorIs(t, err, ErrMapNotCalibrated)

	_, err = PlotMap(PlotInput{Map: calibratedMap()})
	assert.Error(t, err)
}
