package algo

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"energy-maps/model"
)

var (
	ErrGPSFormat = errors.New("GPS 格式应为 \"纬度,经度\"")
	ErrGPSRange  = errors.New("GPS 超出范围: 纬度应在 [-90, 90], 经度应在 [-180, 180]")
)

// 输入中纬度在前, 经度在后
const (
	latitudeIndex  = 0
	longitudeIndex = 1
)

var gpsPattern = regexp.MustCompile(`^\s*[-+]?(\d+(\.\d*)?|\.\d+)\s*,\s*[-+]?(\d+(\.\d*)?|\.\d+)\s*$`)

// ParseGPS 解析用户输入的 "纬度,经度"
func ParseGPS(input string) (model.GPSPoint, error) {
	if strings.Count(input, ",") != 1 || !gpsPattern.MatchString(input) {
		return model.GPSPoint{}, ErrGPSFormat
	}
	parts := strings.Split(input, ",")
	values := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return model.GPSPoint{}, ErrGPSFormat
		}
		values[i] = v
	}
	p := model.GPSPoint{Latitude: values[latitudeIndex], Longitude: values[longitudeIndex]}
	if err := ValidateGPS(p); err != nil {
		return model.GPSPoint{}, err
	}
	return p, nil
}

// ValidateGPS 检查经纬度范围
func ValidateGPS(p model.GPSPoint) error {
	if !(p.Latitude >= -90 && p.Latitude <= 90) || !(p.Longitude >= -180 && p.Longitude <= 180) {
		return ErrGPSRange
	}
	return nil
}

// FormatGPS 格式化为 "纬度,经度", 空值返回空字符串
func FormatGPS(p *model.GPSPoint) string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("%s,%s",
		strconv.FormatFloat(p.Latitude, 'f', -1, 64),
		strconv.FormatFloat(p.Longitude, 'f', -1, 64))
}
