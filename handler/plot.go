package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"energy-maps/algo"
	"energy-maps/model"
)

// DefaultBarDays 地图默认的时间窗口 (天)
const DefaultBarDays = 28

// PlotMap 在地图上绘制表计或分组的日均用量
// 参数: kind=meter|group, ids=1,2,3 (为空时取地图范围内全部), days, area_normalization, unit_id
// 指定 unit_id 时读数换算为该单位, 无法换算的表计不画; 不指定时使用原始读数。
func PlotMap(c *gin.Context) {
	kind := algo.EntityKind(c.DefaultQuery("kind", string(algo.KindMeter)))
	if kind != algo.KindMeter && kind != algo.KindGroup {
		respondError(c, badRequest("无效的类型: %s", kind))
		return
	}
	ids, err := parseIDList(c.Query("ids"))
	if err != nil {
		respondError(c, err)
		return
	}
	days, err := strconv.Atoi(c.DefaultQuery("days", strconv.Itoa(DefaultBarDays)))
	if err != nil || days <= 0 {
		respondError(c, badRequest("无效的天数: %s", c.Query("days")))
		return
	}
	areaNormalization := c.Query("area_normalization") == "true"
	unit, err := resolvePlotUnit(c.Query("unit_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	m, ok := loadMap(c)
	if !ok {
		return
	}
	tr, err := algo.TransformForMap(m)
	if errors.Is(err, algo.ErrMapNotCalibrated) {
		c.JSON(http.StatusOK, gin.H{
			"map_id":     m.ID,
			"calibrated": false,
			"markers":    []algo.Marker{},
		})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	if len(ids) == 0 {
		bottomLeft, topRight := tr.GPSBounds()
		found, err := Index.SearchBox(bottomLeft, topRight, kind)
		if err != nil {
			respondError(c, err)
			return
		}
		for _, e := range found {
			ids = append(ids, e.ID)
		}
	}

	duration := time.Duration(days) * 24 * time.Hour
	var entities []algo.PlotEntity
	if kind == algo.KindMeter {
		entities, err = meterPlotEntities(ids, duration, unit)
	} else {
		entities, err = groupPlotEntities(ids, duration, unit)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := algo.PlotMap(algo.PlotInput{
		Map:               m,
		Entities:          entities,
		BarDuration:       duration,
		AreaNormalization: areaNormalization,
		UnitLabel:         unit.label(),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"map_id":          m.ID,
		"calibrated":      true,
		"unit":            unit.unit,
		"markers":         result.Markers,
		"size_ref":        result.SizeRef,
		"size_min":        result.SizeMin,
		"max_circle_size": result.MaxCircleSize,
	})
}

// plotUnit 绘图使用的单位; unit 为空时不换算
type plotUnit struct {
	unit      *model.Unit
	converter *algo.UnitConverter
}

func resolvePlotUnit(raw string) (plotUnit, error) {
	if raw == "" {
		return plotUnit{}, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return plotUnit{}, badRequest("无效的单位: %s", raw)
	}
	u, err := Store.GetUnit(uint(id))
	if err != nil {
		return plotUnit{}, err
	}
	conversions, err := Store.ListConversions()
	if err != nil {
		return plotUnit{}, err
	}
	return plotUnit{unit: u, converter: algo.NewUnitConverter(conversions)}, nil
}

func (p plotUnit) label() string {
	if p.unit == nil {
		return ""
	}
	return p.unit.Label()
}

// convert 把表计读数换算为绘图单位, 无法换算时 ok 为 false
func (p plotUnit) convert(meterUnitID uint, readings []model.Reading) ([]model.Reading, bool) {
	if p.unit == nil {
		return readings, true
	}
	if meterUnitID == 0 {
		return nil, false
	}
	lin, err := p.converter.Find(meterUnitID, p.unit.ID)
	if err != nil {
		return nil, false
	}
	return algo.ConvertReadings(readings, lin), true
}

func meterPlotEntities(ids []uint, duration time.Duration, unit plotUnit) ([]algo.PlotEntity, error) {
	meters, err := Store.GetMeters(ids)
	if err != nil {
		return nil, err
	}
	readings, err := Store.ReadingsForMeters(ids)
	if err != nil {
		return nil, err
	}
	byMeter := make(map[uint][]model.Reading)
	for _, r := range readings {
		byMeter[r.MeterID] = append(byMeter[r.MeterID], r)
	}

	entities := make([]algo.PlotEntity, 0, len(meters))
	for _, m := range meters {
		if !m.Displayable {
			continue
		}
		converted, ok := unit.convert(m.UnitID, byMeter[m.ID])
		if !ok {
			continue
		}
		e := algo.PlotEntity{ID: m.ID, Name: m.Name, GPS: m.GPS(), Area: m.Area}
		if bar, ok := algo.BarWindow(converted, duration); ok {
			e.Bar = &bar
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// groupPlotEntities 分组的读数为其成员表计读数之和, 无法换算的成员不计入
func groupPlotEntities(ids []uint, duration time.Duration, unit plotUnit) ([]algo.PlotEntity, error) {
	groups, err := Store.GetGroups(ids)
	if err != nil {
		return nil, err
	}
	entities := make([]algo.PlotEntity, 0, len(groups))
	for _, g := range groups {
		if !g.Displayable {
			continue
		}
		memberIDs := make([]uint, 0, len(g.MeterIDs))
		for _, id := range g.MeterIDs {
			memberIDs = append(memberIDs, uint(id))
		}
		members, err := Store.GetMeters(memberIDs)
		if err != nil {
			return nil, err
		}
		raw, err := Store.ReadingsForMeters(memberIDs)
		if err != nil {
			return nil, err
		}
		byMeter := make(map[uint][]model.Reading)
		for _, r := range raw {
			byMeter[r.MeterID] = append(byMeter[r.MeterID], r)
		}
		var readings []model.Reading
		for _, m := range members {
			if converted, ok := unit.convert(m.UnitID, byMeter[m.ID]); ok {
				readings = append(readings, converted...)
			}
		}
		e := algo.PlotEntity{ID: g.ID, Name: g.Name, GPS: g.GPS(), Area: g.Area}
		if bar, ok := algo.BarWindow(readings, duration); ok {
			e.Bar = &bar
		}
		entities = append(entities, e)
	}
	return entities, nil
}
