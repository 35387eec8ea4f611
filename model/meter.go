package model

import (
	"database/sql/driver"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Meter 对应一个能耗表计
type Meter struct {
	ID          uint     `json:"id" gorm:"primaryKey"`
	Name        string   `json:"name" gorm:"uniqueIndex;not null"`
	Identifier  string   `json:"identifier"`
	Displayable bool     `json:"displayable"`
	Latitude    *float64 `json:"latitude"`  // 没有 GPS 时为空
	Longitude   *float64 `json:"longitude"` // 没有 GPS 时为空
	Area        float64  `json:"area"`      // 面积 (用于按面积归一化)
	Note        string   `json:"note"`
	UnitID      uint     `json:"unit_id"` // 0 表示未指定单位
}

// GPS 返回表计的 GPS, 没有设置时返回 nil
func (m *Meter) GPS() *GPSPoint {
	return gpsOf(m.Latitude, m.Longitude)
}

// SetGPS 设置 (或清空) 表计的 GPS
func (m *Meter) SetGPS(p *GPSPoint) {
	m.Latitude, m.Longitude = splitGPS(p)
}

// Group 表计分组, 读数为成员表计之和
type Group struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	Name        string     `json:"name" gorm:"uniqueIndex;not null"`
	Displayable bool       `json:"displayable"`
	Latitude    *float64   `json:"latitude"`
	Longitude   *float64   `json:"longitude"`
	Area        float64    `json:"area"`
	Note        string     `json:"note"`
	MeterIDs    Int64Array `json:"meter_ids"`
}

// GPS 返回分组的 GPS, 没有设置时返回 nil
func (g *Group) GPS() *GPSPoint {
	return gpsOf(g.Latitude, g.Longitude)
}

// SetGPS 设置 (或清空) 分组的 GPS
func (g *Group) SetGPS(p *GPSPoint) {
	g.Latitude, g.Longitude = splitGPS(p)
}

// Reading 一条表计读数, 覆盖 [StartTimestamp, EndTimestamp)
type Reading struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	MeterID        uint      `json:"meter_id" gorm:"index;not null"`
	StartTimestamp time.Time `json:"start_timestamp" gorm:"not null"`
	EndTimestamp   time.Time `json:"end_timestamp" gorm:"index;not null"`
	Reading        float64   `json:"reading"`
}

// Int64Array PostgreSQL 中为 integer[], 其他数据库按 pq 的数组文本格式存储
type Int64Array pq.Int64Array

// Value 实现 driver.Valuer
func (a Int64Array) Value() (driver.Value, error) {
	return pq.Int64Array(a).Value()
}

// Scan 实现 sql.Scanner
func (a *Int64Array) Scan(src interface{}) error {
	return (*pq.Int64Array)(a).Scan(src)
}

// GormDataType 通用数据类型, 具体列类型见 GormDBDataType
func (Int64Array) GormDataType() string {
	return "int64array"
}

// GormDBDataType 按方言选择列类型
func (Int64Array) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "integer[]"
	}
	return "text"
}

func gpsOf(lat, lng *float64) *GPSPoint {
	if lat == nil || lng == nil {
		return nil
	}
	return &GPSPoint{Latitude: *lat, Longitude: *lng}
}

func splitGPS(p *GPSPoint) (*float64, *float64) {
	if p == nil {
		return nil, nil
	}
	lat, lng := p.Latitude, p.Longitude
	return &lat, &lng
}
