package algo

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"

	"energy-maps/model"
	"energy-maps/utils"
)

const (
	tolerance   = 1e-7 // 点在树中的最小包围盒边长 (度)
	minChildren = 25
	maxChildren = 50
	dimensions  = 2
)

// EntityKind 索引中的实体类型
type EntityKind string

const (
	KindMeter EntityKind = "meter"
	KindGroup EntityKind = "group"
)

// IndexedEntity 带 GPS 的表计或分组
type IndexedEntity struct {
	Kind EntityKind     `json:"kind"`
	ID   uint           `json:"id"`
	Name string         `json:"name"`
	GPS  model.GPSPoint `json:"gps"`
}

// Neighbor 最近邻查询结果
type Neighbor struct {
	IndexedEntity
	Distance float64 `json:"distance"` // 米
}

type spatialEntity struct {
	IndexedEntity
	rect *rtreego.Rect
}

func (s *spatialEntity) Bounds() *rtreego.Rect {
	return s.rect
}

// MeterIndex 基于 R-Tree 的表计/分组空间索引, 并发安全
type MeterIndex struct {
	mu   sync.RWMutex
	tree *rtreego.Rtree
}

// NewMeterIndex 创建一个空索引
func NewMeterIndex() *MeterIndex {
	return &MeterIndex{tree: rtreego.NewTree(dimensions, minChildren, maxChildren)}
}

// Rebuild 用给定实体重建索引
func (idx *MeterIndex) Rebuild(entities []IndexedEntity) {
	tree := rtreego.NewTree(dimensions, minChildren, maxChildren)
	for _, e := range entities {
		if ValidateGPS(e.GPS) != nil {
			continue
		}
		tree.Insert(&spatialEntity{
			IndexedEntity: e,
			rect:          rtreego.Point{e.GPS.Latitude, e.GPS.Longitude}.ToRect(tolerance),
		})
	}

	idx.mu.Lock()
	idx.tree = tree
	idx.mu.Unlock()
}

// Size 索引中的实体数
func (idx *MeterIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Size()
}

// SearchBox 返回落在 (左下, 右上) GPS 框内的实体
func (idx *MeterIndex) SearchBox(bottomLeft, topRight model.GPSPoint, kind EntityKind) ([]IndexedEntity, error) {
	latSize := topRight.Latitude - bottomLeft.Latitude
	lngSize := topRight.Longitude - bottomLeft.Longitude
	if latSize <= 0 || lngSize <= 0 {
		return nil, fmt.Errorf("无效的范围: %+v - %+v", bottomLeft, topRight)
	}
	bounds, err := rtreego.NewRect(rtreego.Point{bottomLeft.Latitude, bottomLeft.Longitude}, []float64{latSize, lngSize})
	if err != nil {
		return nil, fmt.Errorf("无效的范围: %w", err)
	}

	idx.mu.RLock()
	results := idx.tree.SearchIntersect(bounds)
	idx.mu.RUnlock()

	entities := make([]IndexedEntity, 0, len(results))
	for _, r := range results {
		item, ok := r.(*spatialEntity)
		if !ok || (kind != "" && item.Kind != kind) {
			continue
		}
		g := item.GPS
		if g.Latitude >= bottomLeft.Latitude && g.Latitude <= topRight.Latitude &&
			g.Longitude >= bottomLeft.Longitude && g.Longitude <= topRight.Longitude {
			entities = append(entities, item.IndexedEntity)
		}
	}
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Kind != entities[j].Kind {
			return entities[i].Kind < entities[j].Kind
		}
		return entities[i].ID < entities[j].ID
	})
	return entities, nil
}

// Nearest 返回离 gps 最近的 k 个实体, 按球面距离排序
func (idx *MeterIndex) Nearest(gps model.GPSPoint, k int) []Neighbor {
	if k <= 0 {
		return nil
	}
	idx.mu.RLock()
	// 树里按经纬度的欧氏距离取候选, 多取一些再按球面距离排序
	candidates := idx.tree.NearestNeighbors(k*4, rtreego.Point{gps.Latitude, gps.Longitude})
	idx.mu.RUnlock()

	neighbors := make([]Neighbor, 0, len(candidates))
	for _, c := range candidates {
		item, ok := c.(*spatialEntity)
		if !ok || item == nil {
			continue
		}
		neighbors = append(neighbors, Neighbor{
			IndexedEntity: item.IndexedEntity,
			Distance:      utils.HaversineDistance(gps, item.GPS),
		})
	}
	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].Distance < neighbors[j].Distance
	})
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors
}
