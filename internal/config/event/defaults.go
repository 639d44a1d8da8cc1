package event

// 事件系统默认配置值
const (
	defaultEnabled = true

	// defaultHistorySize 诊断接口展示最近的模式切换、恢复结果
	defaultHistorySize = 50
)
