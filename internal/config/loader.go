package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/weisyn/meshguard/pkg/types"
)

// 零值陷阱处理说明：
// 用户配置结构全部使用指针字段：
// - nil: 用户未在配置文件中设置该字段，使用系统默认值
// - &value: 用户明确设置了该值，即使是零值（0、false、""）也会被采用

// LoadAppConfig 从文件加载用户配置
//
// 按扩展名选择格式：.yaml / .yml 使用 YAML，其余按 JSON 解析。
// path 为空时返回空配置（全部使用默认值）。
func LoadAppConfig(path string) (*types.AppConfig, error) {
	if path == "" {
		return &types.AppConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	return ParseAppConfig(data, filepath.Ext(path))
}

// ParseAppConfig 按格式解析配置内容，ext 形如 ".json" / ".yaml"
func ParseAppConfig(data []byte, ext string) (*types.AppConfig, error) {
	var appConfig types.AppConfig

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&appConfig); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置失败: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&appConfig); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置失败: %w", err)
		}
	}

	return &appConfig, nil
}
