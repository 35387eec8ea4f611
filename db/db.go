package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"energy-maps/algo"
	"energy-maps/config"
	"energy-maps/model"
)

// InitDB 连接 PostgreSQL, 自动迁移表结构, 创建初始管理员,
// 如果表计表为空则导入种子数据
func InitDB(cfg *config.Config, log *zap.Logger) (*Store, error) {
	retryDelay, err := cfg.RetryDelay()
	if err != nil {
		return nil, err
	}

	// 带重试的数据库连接 (Docker 启动时数据库可能还没准备好)
	var gdb *gorm.DB
	for i := 0; i < cfg.Database.MaxRetries; i++ {
		gdb, err = Open(postgres.Open(cfg.DSN()))
		if err == nil {
			break
		}
		log.Warn("等待数据库就绪",
			zap.Int("attempt", i+1),
			zap.Int("max_retries", cfg.Database.MaxRetries),
			zap.Error(err))
		time.Sleep(retryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("无法连接数据库: %w", err)
	}
	if gdb == nil {
		return nil, fmt.Errorf("无法连接数据库: 重试次数为 %d", cfg.Database.MaxRetries)
	}

	store := NewStore(gdb)
	if err := store.EnsureAdmin(cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
		return nil, err
	}

	// 检查是否需要导入初始数据
	var meterCount int64
	if err := gdb.Model(&model.Meter{}).Count(&meterCount).Error; err != nil {
		return nil, fmt.Errorf("统计表计失败: %w", err)
	}
	if meterCount == 0 && cfg.SeedFile != "" {
		log.Info("检测到数据库为空，正在导入种子数据", zap.String("file", cfg.SeedFile))
		if err := ImportSeedData(gdb, cfg.SeedFile); err != nil {
			log.Warn("导入种子数据失败", zap.Error(err))
		} else {
			log.Info("种子数据导入成功")
		}
	}

	log.Info("数据库连接并初始化成功")
	return store, nil
}

// Open 打开数据库并迁移表结构
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	gdb, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	err = gdb.AutoMigrate(
		&model.User{},
		&model.Meter{},
		&model.Group{},
		&model.Reading{},
		&model.Unit{},
		&model.Conversion{},
		&model.Map{},
		&model.CalibrationPoint{},
	)
	if err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}
	return gdb, nil
}

// seedData 种子文件格式, GPS 与前端输入一致为 "纬度,经度"
// 表计、分组和单位换算都按名称引用单位和表计。
type seedData struct {
	Meta        map[string]interface{} `json:"meta"`
	Units       []model.Unit           `json:"units"`
	Conversions []struct {
		Source        string  `json:"source"`
		Destination   string  `json:"destination"`
		Bidirectional bool    `json:"bidirectional"`
		Slope         float64 `json:"slope"`
		Intercept     float64 `json:"intercept"`
		Note          string  `json:"note,omitempty"`
	} `json:"conversions"`
	Meters []struct {
		Name        string  `json:"name"`
		Identifier  string  `json:"identifier"`
		Displayable bool    `json:"displayable"`
		GPS         string  `json:"gps,omitempty"`
		Area        float64 `json:"area"`
		Note        string  `json:"note,omitempty"`
		Unit        string  `json:"unit,omitempty"`
	} `json:"meters"`
	Groups []struct {
		Name        string   `json:"name"`
		Displayable bool     `json:"displayable"`
		GPS         string   `json:"gps,omitempty"`
		Area        float64  `json:"area"`
		Note        string   `json:"note,omitempty"`
		Meters      []string `json:"meters"` // 成员表计名称
	} `json:"groups"`
}

// ImportSeedData 从 JSON 文件导入单位、单位换算、表计和分组
func ImportSeedData(gdb *gorm.DB, filepath string) error {
	file, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("读取文件失败: %w", err)
	}
	var data seedData
	if err := json.Unmarshal(file, &data); err != nil {
		return fmt.Errorf("解析 JSON 失败: %w", err)
	}

	return gdb.Transaction(func(tx *gorm.DB) error {
		units := make([]model.Unit, 0, len(data.Units))
		for _, u := range data.Units {
			u.ID = 0
			if err := algo.NormalizeUnit(&u); err != nil {
				return fmt.Errorf("单位 %s: %w", u.Name, err)
			}
			units = append(units, u)
		}
		if len(units) > 0 {
			if err := tx.CreateInBatches(&units, 100).Error; err != nil {
				return fmt.Errorf("插入单位失败: %w", err)
			}
		}
		unitByName := make(map[string]uint, len(units))
		for _, u := range units {
			unitByName[u.Name] = u.ID
		}
		lookupUnit := func(name string) (uint, error) {
			if name == "" {
				return 0, nil
			}
			id, ok := unitByName[name]
			if !ok {
				return 0, fmt.Errorf("不存在的单位 %s", name)
			}
			return id, nil
		}

		conversions := make([]model.Conversion, 0, len(data.Conversions))
		for _, c := range data.Conversions {
			src, err := lookupUnit(c.Source)
			if err != nil {
				return fmt.Errorf("单位换算 %s -> %s: %w", c.Source, c.Destination, err)
			}
			dst, err := lookupUnit(c.Destination)
			if err != nil {
				return fmt.Errorf("单位换算 %s -> %s: %w", c.Source, c.Destination, err)
			}
			conv := model.Conversion{
				SourceID:      src,
				DestinationID: dst,
				Bidirectional: c.Bidirectional,
				Slope:         c.Slope,
				Intercept:     c.Intercept,
				Note:          c.Note,
			}
			if err := algo.ValidateConversion(&conv); err != nil {
				return fmt.Errorf("单位换算 %s -> %s: %w", c.Source, c.Destination, err)
			}
			conversions = append(conversions, conv)
		}
		if len(conversions) > 0 {
			if err := tx.CreateInBatches(&conversions, 100).Error; err != nil {
				return fmt.Errorf("插入单位换算失败: %w", err)
			}
		}

		// 批量插入表计
		meters := make([]model.Meter, 0, len(data.Meters))
		for _, m := range data.Meters {
			unitID, err := lookupUnit(m.Unit)
			if err != nil {
				return fmt.Errorf("表计 %s: %w", m.Name, err)
			}
			meter := model.Meter{
				Name:        m.Name,
				Identifier:  m.Identifier,
				Displayable: m.Displayable,
				Area:        m.Area,
				Note:        m.Note,
				UnitID:      unitID,
			}
			gps, err := parseOptionalGPS(m.GPS)
			if err != nil {
				return fmt.Errorf("表计 %s: %w", m.Name, err)
			}
			meter.SetGPS(gps)
			meters = append(meters, meter)
		}
		if len(meters) > 0 {
			if err := tx.CreateInBatches(&meters, 100).Error; err != nil {
				return fmt.Errorf("插入表计失败: %w", err)
			}
		}

		idByName := make(map[string]int64, len(meters))
		for _, m := range meters {
			idByName[m.Name] = int64(m.ID)
		}

		// 批量插入分组 (成员名称转换为 model.Int64Array)
		groups := make([]model.Group, 0, len(data.Groups))
		for _, g := range data.Groups {
			ids := make(model.Int64Array, 0, len(g.Meters))
			for _, name := range g.Meters {
				id, ok := idByName[name]
				if !ok {
					return fmt.Errorf("分组 %s 引用了不存在的表计 %s", g.Name, name)
				}
				ids = append(ids, id)
			}
			group := model.Group{
				Name:        g.Name,
				Displayable: g.Displayable,
				Area:        g.Area,
				Note:        g.Note,
				MeterIDs:    ids,
			}
			gps, err := parseOptionalGPS(g.GPS)
			if err != nil {
				return fmt.Errorf("分组 %s: %w", g.Name, err)
			}
			group.SetGPS(gps)
			groups = append(groups, group)
		}
		if len(groups) > 0 {
			if err := tx.CreateInBatches(&groups, 100).Error; err != nil {
				return fmt.Errorf("插入分组失败: %w", err)
			}
		}
		return nil
	})
}

func parseOptionalGPS(s string) (*model.GPSPoint, error) {
	if s == "" {
		return nil, nil
	}
	p, err := algo.ParseGPS(s)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// translate 把 gorm 错误转换为本包的错误
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}
