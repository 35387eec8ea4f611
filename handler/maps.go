package handler

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"energy-maps/algo"
	"energy-maps/model"
)

// DefaultCircleSize 新地图默认的最大圆比例
const DefaultCircleSize = 0.15

// MaxCircleSize 最大圆比例上限
const MaxCircleSize = 2.0

var circleSizePattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// MapResponse 地图详情
type MapResponse struct {
	model.Map
	Calibrated     bool                    `json:"calibrated"`
	Origin         *model.GPSPoint         `json:"origin"`
	Opposite       *model.GPSPoint         `json:"opposite"`
	MaxError       *algo.ErrorPercent      `json:"max_error,omitempty"`
	CalibrationSet []model.CalibratedPoint `json:"calibration_set"`
}

func newMapResponse(m *model.Map) MapResponse {
	resp := MapResponse{
		Map:            *m,
		Calibrated:     m.IsCalibrated(),
		Origin:         m.Origin(),
		Opposite:       m.Opposite(),
		CalibrationSet: make([]model.CalibratedPoint, 0, len(m.CalibrationPoints)),
	}
	if resp.Calibrated {
		resp.MaxError = &algo.ErrorPercent{X: m.MaxErrorX, Y: m.MaxErrorY}
	}
	for _, p := range m.CalibrationPoints {
		resp.CalibrationSet = append(resp.CalibrationSet, p.Calibrated())
	}
	return resp
}

// GetMaps 获取所有地图
func GetMaps(c *gin.Context) {
	maps, err := Store.ListMaps()
	if err != nil {
		respondError(c, err)
		return
	}
	results := make([]MapResponse, 0, len(maps))
	for i := range maps {
		results = append(results, newMapResponse(&maps[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(results),
		"maps":  results,
	})
}

// GetMapByID 根据 ID 获取地图
func GetMapByID(c *gin.Context) {
	m, ok := loadMap(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newMapResponse(m))
}

// CreateMap 新建地图 (multipart: name, note, displayable, circle_size, north_angle, image)
// 带图片时直接进入校准模式, 否则等待上传图片。
func CreateMap(c *gin.Context) {
	name := c.PostForm("name")
	if name == "" {
		respondError(c, badRequest("缺少地图名称"))
		return
	}
	circleSize, err := parseCircleSize(c.DefaultPostForm("circle_size", strconv.FormatFloat(DefaultCircleSize, 'f', -1, 64)))
	if err != nil {
		respondError(c, err)
		return
	}
	northAngle, err := parseFloatForm(c, "north_angle")
	if err != nil {
		respondError(c, err)
		return
	}

	m := &model.Map{
		Name:            name,
		Note:            c.PostForm("note"),
		Displayable:     c.PostForm("displayable") == "true",
		CircleSize:      circleSize,
		NorthAngle:      northAngle,
		ModifiedDate:    time.Now().UTC(),
		CalibrationMode: model.CalibrationInitiate,
	}

	if fh, err := c.FormFile("image"); err == nil {
		if err := attachImage(m, fh); err != nil {
			respondError(c, err)
			return
		}
	} else if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		respondError(c, badRequest("读取图片失败: %v", err))
		return
	}

	if err := Store.CreateMap(m); err != nil {
		respondError(c, err)
		return
	}
	Log.Info("新建地图", zap.Uint("map_id", m.ID), zap.String("name", m.Name))
	c.JSON(http.StatusCreated, newMapResponse(m))
}

// UpdateMapRequest 修改地图, 只修改提供的字段
type UpdateMapRequest struct {
	Name        *string  `json:"name"`
	Note        *string  `json:"note"`
	Displayable *bool    `json:"displayable"`
	CircleSize  *float64 `json:"circle_size"`
	NorthAngle  *float64 `json:"north_angle"`
}

// UpdateMap 修改地图信息; 北角变化时用已有校准点重新计算
func UpdateMap(c *gin.Context) {
	var req UpdateMapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest("%v", err))
		return
	}
	if req.Name != nil && *req.Name == "" {
		respondError(c, badRequest("地图名称不能为空"))
		return
	}
	if req.CircleSize != nil {
		if err := validateCircleSize(*req.CircleSize); err != nil {
			respondError(c, err)
			return
		}
	}
	id, err := parseID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var warning string
	m, err := Store.UpdateMap(id, func(m *model.Map) error {
		if req.Name != nil {
			m.Name = *req.Name
		}
		if req.Note != nil {
			m.Note = *req.Note
		}
		if req.Displayable != nil {
			m.Displayable = *req.Displayable
		}
		if req.CircleSize != nil {
			m.CircleSize = *req.CircleSize
		}
		if req.NorthAngle != nil && *req.NorthAngle != m.NorthAngle {
			session := algo.SessionFromMap(m)
			if err := session.SetNorthAngle(*req.NorthAngle); err != nil {
				// 点仍然保留, 只是没有结果
				warning = err.Error()
			}
			session.ApplyTo(m)
		}
		m.ModifiedDate = time.Now().UTC()
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{"map": newMapResponse(m)}
	if warning != "" {
		resp["warning"] = warning
	}
	c.JSON(http.StatusOK, resp)
}

// UploadMapImage 更换地图图片; 旧的校准全部作废
func UploadMapImage(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		respondError(c, badRequest("缺少图片"))
		return
	}
	id, err := parseID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	m, err := Store.UpdateMap(id, func(m *model.Map) error {
		return attachImage(m, fh)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	Log.Info("更换地图图片", zap.Uint("map_id", m.ID), zap.String("filename", m.Filename))
	c.JSON(http.StatusOK, newMapResponse(m))
}

// DeleteMap 删除地图
func DeleteMap(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := Store.DeleteMap(id); err != nil {
		respondError(c, err)
		return
	}
	Log.Info("删除地图", zap.Uint("map_id", id))
	c.Status(http.StatusNoContent)
}

// loadMap 按路径 :id 读取地图, 失败时已写入响应
func loadMap(c *gin.Context) (*model.Map, bool) {
	id, err := parseID(c)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	m, err := Store.GetMap(id)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return m, true
}

// attachImage 读取上传的图片, 记录尺寸与 data URL, 并重置校准
func attachImage(m *model.Map, fh *multipart.FileHeader) error {
	if fh.Size > MaxImageBytes {
		return badRequest("图片超过 %d 字节", MaxImageBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("打开上传文件失败: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxImageBytes+1))
	if err != nil {
		return fmt.Errorf("读取上传文件失败: %w", err)
	}
	if int64(len(data)) > MaxImageBytes {
		return badRequest("图片超过 %d 字节", MaxImageBytes)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return badRequest("无法识别的图片: %v", err)
	}

	session := algo.SessionFromMap(m)
	if err := session.SetImage(model.Dimensions{Width: float64(cfg.Width), Height: float64(cfg.Height)}); err != nil {
		return err
	}
	session.ApplyTo(m)

	m.ImgWidth, m.ImgHeight = cfg.Width, cfg.Height
	m.Filename = fh.Filename
	m.MapSource = "data:image/" + format + ";base64," + base64.StdEncoding.EncodeToString(data)
	m.ModifiedDate = time.Now().UTC()
	return nil
}

func parseCircleSize(s string) (float64, error) {
	if !circleSizePattern.MatchString(s) {
		return 0, badRequest("无效的圆大小: %s", s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, badRequest("无效的圆大小: %s", s)
	}
	return v, validateCircleSize(v)
}

func validateCircleSize(v float64) error {
	if !(v > 0) || v > MaxCircleSize {
		return badRequest("圆大小应在 (0, %g] 之间", MaxCircleSize)
	}
	return nil
}

func parseFloatForm(c *gin.Context, key string) (float64, error) {
	s := c.PostForm(key)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, badRequest("无效的 %s: %s", key, s)
	}
	return v, nil
}
