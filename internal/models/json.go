package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap 简单的 JSON 对象字段，存储为 TEXT/JSONB。
type JSONMap map[string]interface{}

// Value 实现 driver.Valuer
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("marshal json map: %w", err)
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = JSONMap{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported json map source type %T", value)
	}
	if len(data) == 0 {
		*j = JSONMap{}
		return nil
	}
	return json.Unmarshal(data, j)
}

// GetString 读取字符串字段，不存在或类型不符返回空串。
func (j JSONMap) GetString(key string) string {
	if j == nil {
		return ""
	}
	if v, ok := j[key].(string); ok {
		return v
	}
	return ""
}
