package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"energy-maps/algo"
	"energy-maps/db"
)

// 全局依赖 (应在 main 中初始化)
var (
	Store *db.Store
	Index = algo.NewMeterIndex()
	Log   = zap.NewNop()

	// 上传图片大小上限 (字节)
	MaxImageBytes int64 = 10 << 20
)

// errBadRequest 请求参数错误
var errBadRequest = errors.New("请求参数错误")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// respondError 把错误映射为 HTTP 状态码
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, db.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, db.ErrDuplicate),
		errors.Is(err, db.ErrInUse),
		errors.Is(err, algo.ErrNotCalibrating),
		errors.Is(err, algo.ErrMapNotCalibrated),
		errors.Is(err, algo.ErrNoImage):
		status = http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, algo.ErrGPSFormat),
		errors.Is(err, algo.ErrGPSRange),
		errors.Is(err, algo.ErrPointOutOfBounds),
		errors.Is(err, algo.ErrInvalidDimensions),
		errors.Is(err, algo.ErrNotEnoughPoints),
		errors.Is(err, algo.ErrDegenerateCalibration),
		errors.Is(err, algo.ErrInvalidUnit),
		errors.Is(err, algo.ErrInvalidConversion):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		Log.Error("请求处理失败", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "服务器内部错误"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// parseID 解析路径中的 :id
func parseID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, badRequest("无效的 ID: %s", c.Param("id"))
	}
	return uint(id), nil
}

// parseIDList 解析 "1,2,3"
func parseIDList(s string) ([]uint, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]uint, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil || id == 0 {
			return nil, badRequest("无效的 ID: %s", p)
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}
