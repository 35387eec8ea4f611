package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"energy-maps/algo"
	"energy-maps/db"
	"energy-maps/model"
)

// RefreshIndex 用数据库中带 GPS 的表计和分组重建空间索引
func RefreshIndex() error {
	meters, err := Store.ListMeters()
	if err != nil {
		return err
	}
	groups, err := Store.ListGroups()
	if err != nil {
		return err
	}
	entities := make([]algo.IndexedEntity, 0, len(meters)+len(groups))
	for _, m := range meters {
		if gps := m.GPS(); gps != nil {
			entities = append(entities, algo.IndexedEntity{Kind: algo.KindMeter, ID: m.ID, Name: m.Name, GPS: *gps})
		}
	}
	for _, g := range groups {
		if gps := g.GPS(); gps != nil {
			entities = append(entities, algo.IndexedEntity{Kind: algo.KindGroup, ID: g.ID, Name: g.Name, GPS: *gps})
		}
	}
	Index.Rebuild(entities)
	return nil
}

func refreshIndexOrLog() {
	if err := RefreshIndex(); err != nil {
		Log.Error("重建空间索引失败", zap.Error(err))
	}
}

// MeterRequest 新建/修改表计
type MeterRequest struct {
	Name        string  `json:"name" binding:"required"`
	Identifier  string  `json:"identifier"`
	Displayable bool    `json:"displayable"`
	GPS         string  `json:"gps"` // "纬度,经度", 空表示没有
	Area        float64 `json:"area"`
	Note        string  `json:"note"`
	UnitID      uint    `json:"unit_id"` // 必须是表计类型的单位, 0 表示不指定
}

func (r *MeterRequest) apply(m *model.Meter) error {
	gps, err := parseOptionalGPS(r.GPS)
	if err != nil {
		return err
	}
	if r.Area < 0 {
		return badRequest("面积不能为负数")
	}
	if r.UnitID != 0 {
		u, err := Store.GetUnit(r.UnitID)
		if errors.Is(err, db.ErrNotFound) {
			return badRequest("单位 %d 不存在", r.UnitID)
		}
		if err != nil {
			return err
		}
		if u.TypeOfUnit != model.UnitTypeMeter {
			return badRequest("单位 %s 不是表计单位", u.Name)
		}
	}
	m.Name = r.Name
	m.Identifier = r.Identifier
	m.Displayable = r.Displayable
	m.Area = r.Area
	m.Note = r.Note
	m.UnitID = r.UnitID
	m.SetGPS(gps)
	return nil
}

// GetMeters 获取所有表计
func GetMeters(c *gin.Context) {
	meters, err := Store.ListMeters()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(meters),
		"meters": meters,
	})
}

// GetMeterByID 根据 ID 获取表计
func GetMeterByID(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	m, err := Store.GetMeter(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// CreateMeter 新建表计
func CreateMeter(c *gin.Context) {
	var req MeterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest("%v", err))
		return
	}
	var m model.Meter
	if err := req.apply(&m); err != nil {
		respondError(c, err)
		return
	}
	if err := Store.SaveMeter(&m); err != nil {
		respondError(c, err)
		return
	}
	refreshIndexOrLog()
	c.JSON(http.StatusCreated, m)
}

// UpdateMeter 修改表计
func UpdateMeter(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req MeterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest("%v", err))
		return
	}
	m, err := Store.GetMeter(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := req.apply(m); err != nil {
		respondError(c, err)
		return
	}
	if err := Store.SaveMeter(m); err != nil {
		respondError(c, err)
		return
	}
	refreshIndexOrLog()
	c.JSON(http.StatusOK, m)
}

// DeleteMeter 删除表计
func DeleteMeter(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := Store.DeleteMeter(id); err != nil {
		respondError(c, err)
		return
	}
	refreshIndexOrLog()
	c.Status(http.StatusNoContent)
}

// ReadingRequest 一条读数
type ReadingRequest struct {
	StartTimestamp time.Time `json:"start_timestamp" binding:"required"`
	EndTimestamp   time.Time `json:"end_timestamp" binding:"required"`
	Reading        float64   `json:"reading"`
}

// AddReadings 为表计批量添加读数
func AddReadings(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req []ReadingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest("%v", err))
		return
	}
	if _, err := Store.GetMeter(id); err != nil {
		respondError(c, err)
		return
	}
	readings := make([]model.Reading, 0, len(req))
	for i, r := range req {
		if !r.EndTimestamp.After(r.StartTimestamp) {
			respondError(c, badRequest("第 %d 条读数的结束时间必须晚于开始时间", i+1))
			return
		}
		readings = append(readings, model.Reading{
			MeterID:        id,
			StartTimestamp: r.StartTimestamp.UTC(),
			EndTimestamp:   r.EndTimestamp.UTC(),
			Reading:        r.Reading,
		})
	}
	if err := Store.AddReadings(readings); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"count": len(readings)})
}

// NearestMeters 离给定 GPS 最近的表计/分组 (?gps=纬度,经度&k=5&kind=meter)
func NearestMeters(c *gin.Context) {
	gps, err := algo.ParseGPS(c.Query("gps"))
	if err != nil {
		respondError(c, err)
		return
	}
	k, err := strconv.Atoi(c.DefaultQuery("k", "5"))
	if err != nil || k <= 0 || k > 100 {
		respondError(c, badRequest("k 应在 1 到 100 之间"))
		return
	}
	kind := algo.EntityKind(c.Query("kind"))

	// 按类型过滤时多取一些
	want := k
	if kind != "" {
		want = Index.Size()
	}
	results := make([]algo.Neighbor, 0, k)
	for _, n := range Index.Nearest(gps, want) {
		if kind != "" && n.Kind != kind {
			continue
		}
		results = append(results, n)
		if len(results) == k {
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"gps":     gps,
		"count":   len(results),
		"results": results,
	})
}

// GroupRequest 新建/修改分组
type GroupRequest struct {
	Name        string  `json:"name" binding:"required"`
	Displayable bool    `json:"displayable"`
	GPS         string  `json:"gps"`
	Area        float64 `json:"area"`
	Note        string  `json:"note"`
	MeterIDs    []uint  `json:"meter_ids"`
}

func (r *GroupRequest) apply(g *model.Group) error {
	gps, err := parseOptionalGPS(r.GPS)
	if err != nil {
		return err
	}
	if r.Area < 0 {
		return badRequest("面积不能为负数")
	}
	meters, err := Store.GetMeters(r.MeterIDs)
	if err != nil {
		return err
	}
	if len(meters) != len(uniqueIDs(r.MeterIDs)) {
		return badRequest("分组包含不存在的表计")
	}
	ids := make(model.Int64Array, 0, len(meters))
	for _, m := range meters {
		ids = append(ids, int64(m.ID))
	}
	g.Name = r.Name
	g.Displayable = r.Displayable
	g.Area = r.Area
	g.Note = r.Note
	g.MeterIDs = ids
	g.SetGPS(gps)
	return nil
}

// GetGroups 获取所有分组
func GetGroups(c *gin.Context) {
	groups, err := Store.ListGroups()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(groups),
		"groups": groups,
	})
}

// GetGroupByID 根据 ID 获取分组
func GetGroupByID(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	g, err := Store.GetGroup(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// CreateGroup 新建分组
func CreateGroup(c *gin.Context) {
	var req GroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest("%v", err))
		return
	}
	var g model.Group
	if err := req.apply(&g); err != nil {
		respondError(c, err)
		return
	}
	if err := Store.SaveGroup(&g); err != nil {
		respondError(c, err)
		return
	}
	refreshIndexOrLog()
	c.JSON(http.StatusCreated, g)
}

// UpdateGroup 修改分组
func UpdateGroup(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req GroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest("%v", err))
		return
	}
	g, err := Store.GetGroup(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := req.apply(g); err != nil {
		respondError(c, err)
		return
	}
	if err := Store.SaveGroup(g); err != nil {
		respondError(c, err)
		return
	}
	refreshIndexOrLog()
	c.JSON(http.StatusOK, g)
}

// DeleteGroup 删除分组
func DeleteGroup(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := Store.DeleteGroup(id); err != nil {
		respondError(c, err)
		return
	}
	refreshIndexOrLog()
	c.Status(http.StatusNoContent)
}

func parseOptionalGPS(s string) (*model.GPSPoint, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	p, err := algo.ParseGPS(s)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
