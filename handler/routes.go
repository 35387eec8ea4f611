package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes 配置路由
func SetupRoutes(r *gin.Engine, staticDir string) {
	// CORS 跨域中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	// 静态文件服务 - 提供前端页面
	if staticDir != "" {
		r.Static("/static", staticDir)
		r.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusFound, "/static/index.html")
		})
	}

	// 健康检查
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
			"status":  "ok",
		})
	})

	api := r.Group("/api")
	{
		// 公开接口 (无需认证)
		api.POST("/login", Login)
		api.POST("/register", Register)

		api.GET("/maps", GetMaps)
		api.GET("/maps/:id", GetMapByID)
		api.GET("/maps/:id/plot", PlotMap)
		api.GET("/maps/:id/locate", LocateGPS)
		api.POST("/maps/:id/gps", GridToGPS)

		api.GET("/meters", GetMeters)
		api.GET("/meters/nearest", NearestMeters)
		api.GET("/meters/:id", GetMeterByID)

		api.GET("/groups", GetGroups)
		api.GET("/groups/:id", GetGroupByID)

		api.GET("/units", GetUnits)
		api.GET("/units/:id", GetUnitByID)
	}

	// 管理接口
	admin := api.Group("/")
	admin.Use(AuthMiddleware(), AdminOnly())
	{
		admin.POST("/maps", CreateMap)
		admin.PUT("/maps/:id", UpdateMap)
		admin.PUT("/maps/:id/image", UploadMapImage)
		admin.DELETE("/maps/:id", DeleteMap)

		admin.GET("/maps/:id/calibration", GetCalibration)
		admin.DELETE("/maps/:id/calibration", ResetCalibration)
		admin.POST("/maps/:id/calibration/start", StartCalibration)
		admin.POST("/maps/:id/calibration/points", AddCalibrationPoint)
		admin.POST("/maps/:id/calibration/finish", FinishCalibration)

		admin.POST("/meters", CreateMeter)
		admin.PUT("/meters/:id", UpdateMeter)
		admin.DELETE("/meters/:id", DeleteMeter)
		admin.POST("/meters/:id/readings", AddReadings)

		admin.POST("/groups", CreateGroup)
		admin.PUT("/groups/:id", UpdateGroup)
		admin.DELETE("/groups/:id", DeleteGroup)

		admin.GET("/units/all", GetAllUnits)
		admin.POST("/units", CreateUnit)
		admin.PUT("/units/:id", UpdateUnit)
		admin.DELETE("/units/:id", DeleteUnit)

		admin.GET("/conversions", GetConversions)
		admin.POST("/conversions", CreateConversion)
		admin.PUT("/conversions/:source/:destination", UpdateConversion)
		admin.DELETE("/conversions/:source/:destination", DeleteConversion)
	}
}
