package db

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"energy-maps/model"
	"energy-maps/utils"
)

var (
	ErrNotFound  = errors.New("记录不存在")
	ErrDuplicate = errors.New("名称已存在")
	ErrInUse     = errors.New("记录正在被使用")
)

// Store 基于 gorm 的持久化
type Store struct {
	db *gorm.DB
}

// NewStore 包装一个已迁移的 gorm 连接
func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

// ---- 用户 ----

// CreateUser 创建用户 (密码需已加密)
func (s *Store) CreateUser(u *model.User) error {
	return translate(s.db.Create(u).Error)
}

// FindUserByUsername 按用户名查找
func (s *Store) FindUserByUsername(username string) (*model.User, error) {
	var u model.User
	if err := s.db.Where("username = ?", username).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// EnsureAdmin 不存在时创建初始管理员
func (s *Store) EnsureAdmin(username, password string) error {
	if username == "" {
		return nil
	}
	u, err := s.FindUserByUsername(username)
	if err == nil {
		if u.IsAdmin() {
			return nil
		}
		// 已有同名普通用户时提升为管理员
		return translate(s.db.Model(u).Update("role", model.RoleAdmin).Error)
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("查询管理员失败: %w", err)
	}
	hashed, err := utils.HashPassword(password)
	if err != nil {
		return fmt.Errorf("密码加密失败: %w", err)
	}
	return s.CreateUser(&model.User{Username: username, Password: hashed, Role: model.RoleAdmin})
}

// ---- 地图 ----

// ListMaps 按名称排序的全部地图 (不含校准点)
func (s *Store) ListMaps() ([]model.Map, error) {
	var maps []model.Map
	if err := s.db.Order("name").Find(&maps).Error; err != nil {
		return nil, err
	}
	return maps, nil
}

// GetMap 获取地图及其校准点
func (s *Store) GetMap(id uint) (*model.Map, error) {
	var m model.Map
	err := s.db.Preload("CalibrationPoints", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("id")
	}).First(&m, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// CreateMap 新建地图
func (s *Store) CreateMap(m *model.Map) error {
	return s.SaveMap(m)
}

// SaveMap 保存地图字段, 并整体替换校准点
func (s *Store) SaveMap(m *model.Map) error {
	return translate(s.db.Transaction(func(tx *gorm.DB) error {
		return saveMap(tx, m)
	}))
}

// UpdateMap 在一个事务中读取、修改并保存地图
// PostgreSQL 上对地图行加 FOR UPDATE 锁, 同一地图的并发修改按顺序执行。
// fn 返回错误时不保存, 错误原样返回。
func (s *Store) UpdateMap(id uint, fn func(m *model.Map) error) (*model.Map, error) {
	var updated *model.Map
	err := s.db.Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var m model.Map
		if err := q.First(&m, id).Error; err != nil {
			return err
		}
		if err := tx.Where("map_id = ?", id).Order("id").Find(&m.CalibrationPoints).Error; err != nil {
			return err
		}
		if err := fn(&m); err != nil {
			return err
		}
		if err := saveMap(tx, &m); err != nil {
			return err
		}
		updated = &m
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return updated, nil
}

func saveMap(tx *gorm.DB, m *model.Map) error {
	if err := tx.Omit(clause.Associations).Save(m).Error; err != nil {
		return err
	}
	if err := tx.Where("map_id = ?", m.ID).Delete(&model.CalibrationPoint{}).Error; err != nil {
		return err
	}
	if len(m.CalibrationPoints) == 0 {
		return nil
	}
	for i := range m.CalibrationPoints {
		m.CalibrationPoints[i].ID = 0
		m.CalibrationPoints[i].MapID = m.ID
	}
	return tx.Create(&m.CalibrationPoints).Error
}

// DeleteMap 删除地图及其校准点
func (s *Store) DeleteMap(id uint) error {
	return translate(s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("map_id = ?", id).Delete(&model.CalibrationPoint{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Map{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	}))
}

// ---- 表计 ----

// ListMeters 全部表计
func (s *Store) ListMeters() ([]model.Meter, error) {
	var meters []model.Meter
	if err := s.db.Order("name").Find(&meters).Error; err != nil {
		return nil, err
	}
	return meters, nil
}

// GetMeter 按 ID 获取表计
func (s *Store) GetMeter(id uint) (*model.Meter, error) {
	var m model.Meter
	if err := s.db.First(&m, id).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// GetMeters 按 ID 批量获取
func (s *Store) GetMeters(ids []uint) ([]model.Meter, error) {
	var meters []model.Meter
	if len(ids) == 0 {
		return meters, nil
	}
	if err := s.db.Where("id IN ?", ids).Order("id").Find(&meters).Error; err != nil {
		return nil, err
	}
	return meters, nil
}

// SaveMeter 新建或更新表计
func (s *Store) SaveMeter(m *model.Meter) error {
	return translate(s.db.Save(m).Error)
}

// DeleteMeter 删除表计及其读数
func (s *Store) DeleteMeter(id uint) error {
	return translate(s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("meter_id = ?", id).Delete(&model.Reading{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Meter{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	}))
}

// ---- 分组 ----

// ListGroups 全部分组
func (s *Store) ListGroups() ([]model.Group, error) {
	var groups []model.Group
	if err := s.db.Order("name").Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

// GetGroup 按 ID 获取分组
func (s *Store) GetGroup(id uint) (*model.Group, error) {
	var g model.Group
	if err := s.db.First(&g, id).Error; err != nil {
		return nil, translate(err)
	}
	return &g, nil
}

// GetGroups 按 ID 批量获取
func (s *Store) GetGroups(ids []uint) ([]model.Group, error) {
	var groups []model.Group
	if len(ids) == 0 {
		return groups, nil
	}
	if err := s.db.Where("id IN ?", ids).Order("id").Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

// SaveGroup 新建或更新分组
func (s *Store) SaveGroup(g *model.Group) error {
	return translate(s.db.Save(g).Error)
}

// DeleteGroup 删除分组
func (s *Store) DeleteGroup(id uint) error {
	res := s.db.Delete(&model.Group{}, id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- 单位 ----

// ListUnits 全部单位
func (s *Store) ListUnits() ([]model.Unit, error) {
	var units []model.Unit
	if err := s.db.Order("name").Find(&units).Error; err != nil {
		return nil, err
	}
	return units, nil
}

// GetUnit 按 ID 获取单位
func (s *Store) GetUnit(id uint) (*model.Unit, error) {
	var u model.Unit
	if err := s.db.First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// SaveUnit 新建或更新单位
func (s *Store) SaveUnit(u *model.Unit) error {
	return translate(s.db.Save(u).Error)
}

// DeleteUnit 删除单位; 仍被表计或单位换算引用时返回 ErrInUse
func (s *Store) DeleteUnit(id uint) error {
	return translate(s.db.Transaction(func(tx *gorm.DB) error {
		var refs int64
		if err := tx.Model(&model.Meter{}).Where("unit_id = ?", id).Count(&refs).Error; err != nil {
			return err
		}
		if refs > 0 {
			return fmt.Errorf("%w: %d 个表计使用该单位", ErrInUse, refs)
		}
		err := tx.Model(&model.Conversion{}).
			Where("source_id = ? OR destination_id = ?", id, id).
			Count(&refs).Error
		if err != nil {
			return err
		}
		if refs > 0 {
			return fmt.Errorf("%w: %d 个单位换算使用该单位", ErrInUse, refs)
		}
		res := tx.Delete(&model.Unit{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	}))
}

// ---- 单位换算 ----

// ListConversions 全部单位换算
func (s *Store) ListConversions() ([]model.Conversion, error) {
	var conversions []model.Conversion
	if err := s.db.Order("source_id").Order("destination_id").Find(&conversions).Error; err != nil {
		return nil, err
	}
	return conversions, nil
}

// GetConversion 按源和目标单位获取
func (s *Store) GetConversion(sourceID, destinationID uint) (*model.Conversion, error) {
	var c model.Conversion
	err := s.db.Where("source_id = ? AND destination_id = ?", sourceID, destinationID).First(&c).Error
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// CreateConversion 新建单位换算, 同一对单位只能有一条
func (s *Store) CreateConversion(c *model.Conversion) error {
	return translate(s.db.Create(c).Error)
}

// UpdateConversion 修改已有单位换算的参数
func (s *Store) UpdateConversion(c *model.Conversion) error {
	res := s.db.Model(&model.Conversion{}).
		Where("source_id = ? AND destination_id = ?", c.SourceID, c.DestinationID).
		Updates(map[string]interface{}{
			"bidirectional": c.Bidirectional,
			"slope":         c.Slope,
			"intercept":     c.Intercept,
			"note":          c.Note,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversion 删除单位换算
func (s *Store) DeleteConversion(sourceID, destinationID uint) error {
	res := s.db.Where("source_id = ? AND destination_id = ?", sourceID, destinationID).Delete(&model.Conversion{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- 读数 ----

// AddReadings 批量插入读数
func (s *Store) AddReadings(readings []model.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	return translate(s.db.CreateInBatches(&readings, 500).Error)
}

// ReadingsForMeters 指定表计的全部读数, 按表计和时间排序
func (s *Store) ReadingsForMeters(meterIDs []uint) ([]model.Reading, error) {
	var readings []model.Reading
	if len(meterIDs) == 0 {
		return readings, nil
	}
	err := s.db.Where("meter_id IN ?", meterIDs).
		Order("meter_id").Order("start_timestamp").
		Find(&readings).Error
	if err != nil {
		return nil, err
	}
	return readings, nil
}
