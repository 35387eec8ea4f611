package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"energy-maps/algo"
	"energy-maps/model"
)

// UnitRequest 新建/修改单位
type UnitRequest struct {
	Name             string                `json:"name" binding:"required"`
	Identifier       string                `json:"identifier"`
	UnitRepresent    model.UnitRepresent   `json:"unit_represent"`
	SecInRate        int                   `json:"sec_in_rate"`
	TypeOfUnit       model.UnitType        `json:"type_of_unit"`
	Suffix           string                `json:"suffix"`
	Displayable      model.UnitDisplayable `json:"displayable"`
	PreferredDisplay bool                  `json:"preferred_display"`
	Note             string                `json:"note"`
}

func (r *UnitRequest) apply(u *model.Unit) error {
	u.Name = r.Name
	u.Identifier = r.Identifier
	u.UnitRepresent = r.UnitRepresent
	u.SecInRate = r.SecInRate
	u.TypeOfUnit = r.TypeOfUnit
	u.Suffix = r.Suffix
	u.Displayable = r.Displayable
	u.PreferredDisplay = r.PreferredDisplay
	u.Note = r.Note
	return algo.NormalizeUnit(u)
}

// GetUnits 获取对所有人可见的单位
func GetUnits(c *gin.Context) {
	units, err := Store.ListUnits()
	if err != nil {
		respondError(c, err)
		return
	}
	visible := make([]model.Unit, 0, len(units))
	for _, u := range units {
		if u.Displayable == model.DisplayAll {
			visible = append(visible, u)
		}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(visible), "units": visible})
}

// GetAllUnits 管理员查看全部单位
func GetAllUnits(c *gin.Context) {
	units, err := Store.ListUnits()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(units), "units": units})
}

// GetUnitByID 获取单个单位
func GetUnitByID(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	u, err := Store.GetUnit(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// CreateUnit 新建单位
func CreateUnit(c *gin.Context) {
	var req UnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest("%v", err))
		return
	}
	var u model.Unit
	if err := req.apply(&u); err != nil {
		respondError(c, err)
		return
	}
	if err := Store.SaveUnit(&u); err != nil {
		respondError(c, err)
		return
	}
	Log.Info("新建单位", zap.Uint("unit_id", u.ID), zap.String("name", u.Name))
	c.JSON(http.StatusCreated, u)
}

// UpdateUnit 修改单位
// 仍有表计使用时不能改成非表计单位。
func UpdateUnit(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req UnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest("%v", err))
		return
	}
	u, err := Store.GetUnit(id)
	if err != nil {
		respondError(c, err)
		return
	}
	wasMeterUnit := u.TypeOfUnit == model.UnitTypeMeter
	if err := req.apply(u); err != nil {
		respondError(c, err)
		return
	}
	if wasMeterUnit && u.TypeOfUnit != model.UnitTypeMeter {
		meters, err := Store.ListMeters()
		if err != nil {
			respondError(c, err)
			return
		}
		for _, m := range meters {
			if m.UnitID == u.ID {
				respondError(c, badRequest("表计 %s 仍在使用该单位, 不能修改单位类型", m.Name))
				return
			}
		}
	}
	if err := Store.SaveUnit(u); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// DeleteUnit 删除没有被引用的单位
func DeleteUnit(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := Store.DeleteUnit(id); err != nil {
		respondError(c, err)
		return
	}
	Log.Info("删除单位", zap.Uint("unit_id", id))
	c.Status(http.StatusNoContent)
}

// ConversionRequest 新建/修改单位换算
type ConversionRequest struct {
	SourceID      uint    `json:"source_id"`
	DestinationID uint    `json:"destination_id"`
	Bidirectional bool    `json:"bidirectional"`
	Slope         float64 `json:"slope"`
	Intercept     float64 `json:"intercept"`
	Note          string  `json:"note"`
}

func (r *ConversionRequest) conversion() model.Conversion {
	return model.Conversion{
		SourceID:      r.SourceID,
		DestinationID: r.DestinationID,
		Bidirectional: r.Bidirectional,
		Slope:         r.Slope,
		Intercept:     r.Intercept,
		Note:          r.Note,
	}
}

// GetConversions 获取全部单位换算
func GetConversions(c *gin.Context) {
	conversions, err := Store.ListConversions()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(conversions), "conversions": conversions})
}

// CreateConversion 新建单位换算, 两端单位必须存在
func CreateConversion(c *gin.Context) {
	var req ConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest("%v", err))
		return
	}
	conv := req.conversion()
	if err := algo.ValidateConversion(&conv); err != nil {
		respondError(c, err)
		return
	}
	for _, id := range []uint{conv.SourceID, conv.DestinationID} {
		if _, err := Store.GetUnit(id); err != nil {
			respondError(c, err)
			return
		}
	}
	if err := Store.CreateConversion(&conv); err != nil {
		respondError(c, err)
		return
	}
	Log.Info("新建单位换算",
		zap.Uint("source_id", conv.SourceID),
		zap.Uint("destination_id", conv.DestinationID))
	c.JSON(http.StatusCreated, conv)
}

// UpdateConversion 修改 :source -> :destination 的换算参数
func UpdateConversion(c *gin.Context) {
	source, destination, err := parseConversionKey(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req ConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest("%v", err))
		return
	}
	req.SourceID, req.DestinationID = source, destination
	conv := req.conversion()
	if err := algo.ValidateConversion(&conv); err != nil {
		respondError(c, err)
		return
	}
	if err := Store.UpdateConversion(&conv); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// DeleteConversion 删除 :source -> :destination 的换算
func DeleteConversion(c *gin.Context) {
	source, destination, err := parseConversionKey(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := Store.DeleteConversion(source, destination); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseConversionKey(c *gin.Context) (uint, uint, error) {
	source, err := strconv.ParseUint(c.Param("source"), 10, 64)
	if err != nil || source == 0 {
		return 0, 0, badRequest("无效的源单位: %s", c.Param("source"))
	}
	destination, err := strconv.ParseUint(c.Param("destination"), 10, 64)
	if err != nil || destination == 0 {
		return 0, 0, badRequest("无效的目标单位: %s", c.Param("destination"))
	}
	return uint(source), uint(destination), nil
}
