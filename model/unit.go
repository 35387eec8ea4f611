package model

// UnitType 单位的用途
type UnitType string

const (
	UnitTypeUnit   UnitType = "unit"   // 图形上显示的单位
	UnitTypeMeter  UnitType = "meter"  // 表计采集时的原始单位
	UnitTypeSuffix UnitType = "suffix" // 带后缀的派生单位
)

// UnitRepresent 读数的含义
type UnitRepresent string

const (
	RepresentQuantity UnitRepresent = "quantity"
	RepresentFlow     UnitRepresent = "flow"
	RepresentRaw      UnitRepresent = "raw"
)

// UnitDisplayable 单位对谁可见
type UnitDisplayable string

const (
	DisplayNone  UnitDisplayable = "none"
	DisplayAll   UnitDisplayable = "all"
	DisplayAdmin UnitDisplayable = "admin"
)

// DefaultSecInRate 默认速率换算秒数 (按小时)
const DefaultSecInRate = 3600

// Unit 计量单位
type Unit struct {
	ID               uint            `json:"id" gorm:"primaryKey"`
	Name             string          `json:"name" gorm:"uniqueIndex;not null"`
	Identifier       string          `json:"identifier"` // 显示用的简称, 例如 kWh
	UnitRepresent    UnitRepresent   `json:"unit_represent" gorm:"not null;default:quantity"`
	SecInRate        int             `json:"sec_in_rate" gorm:"not null;default:3600"`
	TypeOfUnit       UnitType        `json:"type_of_unit" gorm:"not null;default:unit"`
	Suffix           string          `json:"suffix"`
	Displayable      UnitDisplayable `json:"displayable" gorm:"not null;default:all"`
	PreferredDisplay bool            `json:"preferred_display"`
	Note             string          `json:"note"`
}

// Label 图上显示的单位名, 没有简称时用名称
func (u *Unit) Label() string {
	if u.Identifier != "" {
		return u.Identifier
	}
	return u.Name
}

// Conversion 单位换算: destination = slope * source + intercept
// 以 (SourceID, DestinationID) 为主键
type Conversion struct {
	SourceID      uint    `json:"source_id" gorm:"primaryKey;autoIncrement:false"`
	DestinationID uint    `json:"destination_id" gorm:"primaryKey;autoIncrement:false"`
	Bidirectional bool    `json:"bidirectional"`
	Slope         float64 `json:"slope"`
	Intercept     float64 `json:"intercept"`
	Note          string  `json:"note"`
}
