package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"energy-maps/model"
	"energy-maps/utils"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := Open(sqlite.Open(dsn))
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewStore(gdb)
}

func TestOpenMigratesSchema(t *testing.T) {
	gdb, err := Open(sqlite.Open("file:migrate?mode=memory&cache=shared"))
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, table := range []interface{}{
		&model.User{}, &model.Meter{}, &model.Group{}, &model.Reading{},
		&model.Unit{}, &model.Conversion{}, &model.Map{}, &model.CalibrationPoint{},
	} {
		assert.True(t, gdb.Migrator().HasTable(table), "%T", table)
	}
	assert.True(t, gdb.Migrator().HasColumn(&model.Group{}, "MeterIDs"))

	// 分组成员数组能写入并读回
	g := &model.Group{Name: "Campus", MeterIDs: model.Int64Array{3, 1, 2}}
	require.NoError(t, gdb.Create(g).Error)
	var got model.Group
	require.NoError(t, gdb.First(&got, g.ID).Error)
	assert.Equal(t, []int64{3, 1, 2}, []int64(got.MeterIDs))
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.EnsureAdmin("admin", "admin123"))
	// 第二次不会重复创建
	require.NoError(t, s.EnsureAdmin("admin", "other"))

	u, err := s.FindUserByUsername("admin")
	require.NoError(t, err)
	assert.True(t, u.IsAdmin())
	assert.True(t, utils.CheckPassword(u.Password, "admin123"))

	_, err = s.FindUserByUsername("nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	// 已存在的普通用户被提升为管理员
	hashed, err := utils.HashPassword("viewer123")
	require.NoError(t, err)
	require.NoError(t, s.CreateUser(&model.User{Username: "ops", Password: hashed, Role: model.RoleUser}))
	require.NoError(t, s.EnsureAdmin("ops", "ignored"))
	ops, err := s.FindUserByUsername("ops")
	require.NoError(t, err)
	assert.True(t, ops.IsAdmin())
	assert.True(t, utils.CheckPassword(ops.Password, "viewer123"))
}

func TestUpdateMapSerializesWriters(t *testing.T) {
	s := newTestStore(t)
	m := &model.Map{Name: "Campus", ImgWidth: 1000, ImgHeight: 500, ModifiedDate: time.Now().UTC()}
	require.NoError(t, s.CreateMap(m))

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.UpdateMap(m.ID, func(m *model.Map) error {
				m.CalibrationPoints = append(m.CalibrationPoints, model.CalibrationPoint{
					X: float64(i), Y: float64(i), Latitude: 40, Longitude: -80,
				})
				return nil
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetMap(m.ID)
	require.NoError(t, err)
	assert.Len(t, got.CalibrationPoints, writers)

	// fn 出错时不保存
	boom := errors.New("boom")
	_, err = s.UpdateMap(m.ID, func(m *model.Map) error {
		m.Name = "Renamed"
		return boom
	})
	assert.ErrorIs(t, err, boom)
	got, err = s.GetMap(m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Campus", got.Name)

	_, err = s.UpdateMap(999, func(m *model.Map) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnitsAndConversions(t *testing.T) {
	s := newTestStore(t)

	meterUnit := &model.Unit{Name: "Electric_Utility", TypeOfUnit: model.UnitTypeMeter, UnitRepresent: model.RepresentQuantity, SecInRate: 3600, Displayable: model.DisplayNone}
	kwh := &model.Unit{Name: "kWh", Identifier: "kWh", TypeOfUnit: model.UnitTypeUnit, UnitRepresent: model.RepresentQuantity, SecInRate: 3600, Displayable: model.DisplayAll}
	require.NoError(t, s.SaveUnit(meterUnit))
	require.NoError(t, s.SaveUnit(kwh))
	assert.ErrorIs(t, s.SaveUnit(&model.Unit{Name: "kWh"}), ErrDuplicate)

	units, err := s.ListUnits()
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "Electric_Utility", units[0].Name)

	conv := &model.Conversion{SourceID: meterUnit.ID, DestinationID: kwh.ID, Slope: 1}
	require.NoError(t, s.CreateConversion(conv))
	assert.ErrorIs(t, s.CreateConversion(&model.Conversion{SourceID: meterUnit.ID, DestinationID: kwh.ID, Slope: 2}), ErrDuplicate)

	conv.Slope = 2
	conv.Bidirectional = true
	require.NoError(t, s.UpdateConversion(conv))
	got, err := s.GetConversion(meterUnit.ID, kwh.ID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Slope)
	assert.True(t, got.Bidirectional)
	assert.ErrorIs(t, s.UpdateConversion(&model.Conversion{SourceID: kwh.ID, DestinationID: meterUnit.ID, Slope: 1}), ErrNotFound)

	// 被引用的单位不能删除
	lib := &model.Meter{Name: "Library", UnitID: meterUnit.ID}
	require.NoError(t, s.SaveMeter(lib))
	assert.ErrorIs(t, s.DeleteUnit(meterUnit.ID), ErrInUse)
	assert.ErrorIs(t, s.DeleteUnit(kwh.ID), ErrInUse)

	require.NoError(t, s.DeleteConversion(meterUnit.ID, kwh.ID))
	assert.ErrorIs(t, s.DeleteConversion(meterUnit.ID, kwh.ID), ErrNotFound)
	require.NoError(t, s.DeleteUnit(kwh.ID))
	assert.ErrorIs(t, s.DeleteUnit(kwh.ID), ErrNotFound)
	_, err = s.GetUnit(kwh.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveMapReplacesCalibrationPoints(t *testing.T) {
	s := newTestStore(t)

	m := &model.Map{Name: "Campus", ImgWidth: 1000, ImgHeight: 500, CircleSize: 0.15, ModifiedDate: time.Now().UTC()}
	m.CalibrationPoints = []model.CalibrationPoint{
		{X: 1, Y: 2, Latitude: 40, Longitude: -80},
		{X: 3, Y: 4, Latitude: 41, Longitude: -79},
	}
	require.NoError(t, s.CreateMap(m))
	require.NotZero(t, m.ID)

	got, err := s.GetMap(m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CalibrationInitiate, got.CalibrationMode)
	require.Len(t, got.CalibrationPoints, 2)
	assert.Equal(t, 3.0, got.CalibrationPoints[1].X)
	assert.False(t, got.IsCalibrated())

	got.CalibrationMode = model.CalibrationCalibrate
	got.CalibrationPoints = got.CalibrationPoints[:1]
	got.SetCalibration(&model.GPSPoint{Latitude: 40, Longitude: -80}, &model.GPSPoint{Latitude: 41, Longitude: -79}, 0.5, 0.25)
	require.NoError(t, s.SaveMap(got))

	again, err := s.GetMap(m.ID)
	require.NoError(t, err)
	assert.Len(t, again.CalibrationPoints, 1)
	assert.True(t, again.IsCalibrated())
	assert.Equal(t, 0.25, again.MaxErrorY)
	assert.Equal(t, model.CalibrationCalibrate, again.CalibrationMode)

	maps, err := s.ListMaps()
	require.NoError(t, err)
	assert.Len(t, maps, 1)

	require.NoError(t, s.DeleteMap(m.ID))
	_, err = s.GetMap(m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteMap(m.ID), ErrNotFound)
}

func TestMetersGroupsReadings(t *testing.T) {
	s := newTestStore(t)

	lib := &model.Meter{Name: "Library", Displayable: true, Area: 120}
	lib.SetGPS(&model.GPSPoint{Latitude: 44.0453, Longitude: -123.0715})
	gym := &model.Meter{Name: "Gym", Displayable: true}
	require.NoError(t, s.SaveMeter(lib))
	require.NoError(t, s.SaveMeter(gym))

	got, err := s.GetMeter(lib.ID)
	require.NoError(t, err)
	require.NotNil(t, got.GPS())
	assert.Equal(t, 44.0453, got.GPS().Latitude)

	gymGot, err := s.GetMeter(gym.ID)
	require.NoError(t, err)
	assert.Nil(t, gymGot.GPS())

	meters, err := s.GetMeters([]uint{gym.ID, lib.ID})
	require.NoError(t, err)
	assert.Len(t, meters, 2)

	g := &model.Group{Name: "Campus", Displayable: true, MeterIDs: []int64{int64(lib.ID), int64(gym.ID)}}
	require.NoError(t, s.SaveGroup(g))
	gotGroup, err := s.GetGroup(g.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{int64(lib.ID), int64(gym.ID)}, []int64(gotGroup.MeterIDs))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	readings := []model.Reading{
		{MeterID: lib.ID, StartTimestamp: start.AddDate(0, 0, 1), EndTimestamp: start.AddDate(0, 0, 2), Reading: 2},
		{MeterID: lib.ID, StartTimestamp: start, EndTimestamp: start.AddDate(0, 0, 1), Reading: 1},
		{MeterID: gym.ID, StartTimestamp: start, EndTimestamp: start.AddDate(0, 0, 1), Reading: 5},
	}
	require.NoError(t, s.AddReadings(readings))

	libReadings, err := s.ReadingsForMeters([]uint{lib.ID})
	require.NoError(t, err)
	require.Len(t, libReadings, 2)
	assert.Equal(t, 1.0, libReadings[0].Reading)
	assert.True(t, libReadings[0].StartTimestamp.Equal(start))

	require.NoError(t, s.DeleteMeter(lib.ID))
	libReadings, err = s.ReadingsForMeters([]uint{lib.ID})
	require.NoError(t, err)
	assert.Empty(t, libReadings)
	assert.ErrorIs(t, s.DeleteMeter(lib.ID), ErrNotFound)

	require.NoError(t, s.DeleteGroup(g.ID))
	assert.ErrorIs(t, s.DeleteGroup(g.ID), ErrNotFound)
}

func TestImportSeedData(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "meta": {"source": "test"},
  "units": [
    {"name": "Electric_Utility", "type_of_unit": "meter"},
    {"name": "kWh", "identifier": "kWh"}
  ],
  "conversions": [
    {"source": "Electric_Utility", "destination": "kWh", "slope": 1}
  ],
  "meters": [
    {"name": "Library", "identifier": "LIB-1", "displayable": true, "gps": "44.0453,-123.0715", "area": 120, "unit": "Electric_Utility"},
    {"name": "Gym", "identifier": "GYM-1", "displayable": true}
  ],
  "groups": [
    {"name": "Campus", "displayable": true, "gps": "44.044,-123.07", "meters": ["Library", "Gym"]}
  ]
}`), 0o644))

	require.NoError(t, ImportSeedData(s.db, path))

	meters, err := s.ListMeters()
	require.NoError(t, err)
	require.Len(t, meters, 2)
	assert.Equal(t, "Gym", meters[0].Name)
	assert.Nil(t, meters[0].GPS())
	require.NotNil(t, meters[1].GPS())

	groups, err := s.ListGroups()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].MeterIDs, 2)

	units, err := s.ListUnits()
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, model.DisplayNone, units[0].Displayable)
	assert.Equal(t, units[0].ID, meters[1].UnitID)
	assert.Zero(t, meters[0].UnitID)

	conversions, err := s.ListConversions()
	require.NoError(t, err)
	require.Len(t, conversions, 1)
	assert.Equal(t, units[1].ID, conversions[0].DestinationID)
}

func TestImportSeedDataRejectsUnknownUnit(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "units": [{"name": "kWh"}],
  "meters": [{"name": "Library", "unit": "therm"}]
}`), 0o644))

	assert.Error(t, ImportSeedData(s.db, path))
	units, err := s.ListUnits()
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestImportSeedDataRejectsUnknownMember(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "meters": [{"name": "Library"}],
  "groups": [{"name": "Campus", "meters": ["Library", "Ghost"]}]
}`), 0o644))

	assert.Error(t, ImportSeedData(s.db, path))

	// 事务回滚, 表计也没有导入
	meters, err := s.ListMeters()
	require.NoError(t, err)
	assert.Empty(t, meters)
}
