// Package configs 内置配置模板
package configs

import _ "embed"

// SampleFileName 模板默认文件名
const SampleFileName = "meshguard.yaml"

//go:embed meshguard.yaml
var sampleConfig []byte

// GetSampleConfig 获取带全部字段与默认值的 YAML 配置模板
func GetSampleConfig() []byte {
	out := make([]byte, len(sampleConfig))
	copy(out, sampleConfig)
	return out
}
