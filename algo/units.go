package algo

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"energy-maps/model"
)

var (
	ErrInvalidUnit       = errors.New("无效的单位")
	ErrInvalidConversion = errors.New("无效的单位换算")
	ErrNoConversion      = errors.New("没有可用的单位换算")
)

// NormalizeUnit 校验单位并补全默认值
// 有后缀的单位类型一律为 suffix; 表计原始单位不在图上显示。
func NormalizeUnit(u *model.Unit) error {
	u.Name = strings.TrimSpace(u.Name)
	if u.Name == "" {
		return fmt.Errorf("%w: 名称不能为空", ErrInvalidUnit)
	}
	if u.SecInRate == 0 {
		u.SecInRate = model.DefaultSecInRate
	}
	if u.SecInRate < 0 {
		return fmt.Errorf("%w: sec_in_rate 必须大于 0", ErrInvalidUnit)
	}
	if u.UnitRepresent == "" {
		u.UnitRepresent = model.RepresentQuantity
	}
	switch u.UnitRepresent {
	case model.RepresentQuantity, model.RepresentFlow, model.RepresentRaw:
	default:
		return fmt.Errorf("%w: 未知的 unit_represent %q", ErrInvalidUnit, u.UnitRepresent)
	}
	if u.TypeOfUnit == "" {
		u.TypeOfUnit = model.UnitTypeUnit
	}
	switch u.TypeOfUnit {
	case model.UnitTypeUnit, model.UnitTypeMeter, model.UnitTypeSuffix:
	default:
		return fmt.Errorf("%w: 未知的 type_of_unit %q", ErrInvalidUnit, u.TypeOfUnit)
	}
	if u.Displayable == "" {
		u.Displayable = model.DisplayAll
	}
	switch u.Displayable {
	case model.DisplayNone, model.DisplayAll, model.DisplayAdmin:
	default:
		return fmt.Errorf("%w: 未知的 displayable %q", ErrInvalidUnit, u.Displayable)
	}

	if u.Suffix != "" {
		u.TypeOfUnit = model.UnitTypeSuffix
	}
	if u.TypeOfUnit == model.UnitTypeSuffix && u.Suffix == "" {
		return fmt.Errorf("%w: suffix 类型的单位必须有后缀", ErrInvalidUnit)
	}
	if u.TypeOfUnit == model.UnitTypeMeter {
		u.Displayable = model.DisplayNone
	}
	return nil
}

// ValidateConversion 源和目标必须不同, 斜率必须是非零有限数
func ValidateConversion(c *model.Conversion) error {
	if c.SourceID == 0 || c.DestinationID == 0 {
		return fmt.Errorf("%w: 必须指定源单位和目标单位", ErrInvalidConversion)
	}
	if c.SourceID == c.DestinationID {
		return fmt.Errorf("%w: 源单位和目标单位相同", ErrInvalidConversion)
	}
	if c.Slope == 0 || math.IsNaN(c.Slope) || math.IsInf(c.Slope, 0) {
		return fmt.Errorf("%w: 斜率必须为非零数", ErrInvalidConversion)
	}
	if math.IsNaN(c.Intercept) || math.IsInf(c.Intercept, 0) {
		return fmt.Errorf("%w: 截距无效", ErrInvalidConversion)
	}
	return nil
}

// Linear y = Slope*x + Intercept
type Linear struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

var identity = Linear{Slope: 1}

// Apply 换算一个值
func (l Linear) Apply(x float64) float64 {
	return l.Slope*x + l.Intercept
}

// Then 先做 l 再做 next
func (l Linear) Then(next Linear) Linear {
	return Linear{
		Slope:     next.Slope * l.Slope,
		Intercept: next.Slope*l.Intercept + next.Intercept,
	}
}

func (l Linear) inverse() Linear {
	return Linear{Slope: 1 / l.Slope, Intercept: -l.Intercept / l.Slope}
}

type conversionEdge struct {
	to  uint
	lin Linear
}

// UnitConverter 由全部单位换算构成的有向图
// 双向换算同时加入反向边, 多步换算按路径组合。
type UnitConverter struct {
	edges map[uint][]conversionEdge
}

// NewUnitConverter 用单位换算列表建图
func NewUnitConverter(conversions []model.Conversion) *UnitConverter {
	uc := &UnitConverter{edges: make(map[uint][]conversionEdge)}
	for _, c := range conversions {
		if ValidateConversion(&c) != nil {
			continue
		}
		lin := Linear{Slope: c.Slope, Intercept: c.Intercept}
		uc.edges[c.SourceID] = append(uc.edges[c.SourceID], conversionEdge{to: c.DestinationID, lin: lin})
		if c.Bidirectional {
			uc.edges[c.DestinationID] = append(uc.edges[c.DestinationID], conversionEdge{to: c.SourceID, lin: lin.inverse()})
		}
	}
	return uc
}

// Find 返回 from 到 to 的换算, 取步数最少的路径
func (uc *UnitConverter) Find(from, to uint) (Linear, error) {
	if from == to {
		return identity, nil
	}
	found := map[uint]Linear{from: identity}
	queue := []uint{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range uc.edges[cur] {
			if _, seen := found[e.to]; seen {
				continue
			}
			lin := found[cur].Then(e.lin)
			if e.to == to {
				return lin, nil
			}
			found[e.to] = lin
			queue = append(queue, e.to)
		}
	}
	return Linear{}, fmt.Errorf("%w: %d -> %d", ErrNoConversion, from, to)
}

// ConvertReadings 逐条换算读数, 不修改原切片
func ConvertReadings(readings []model.Reading, lin Linear) []model.Reading {
	out := make([]model.Reading, len(readings))
	for i, r := range readings {
		r.Reading = lin.Apply(r.Reading)
		out[i] = r
	}
	return out
}
