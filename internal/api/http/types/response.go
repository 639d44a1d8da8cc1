// Package types provides HTTP response type definitions.
package types

// SuccessResponse 统一成功响应格式
type SuccessResponse struct {
	Data      interface{} `json:"data"`
	RequestID string      `json:"requestId,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *SuccessResponse {
	return &SuccessResponse{
		Data: data,
	}
}

// WithRequestID 添加请求ID
func (r *SuccessResponse) WithRequestID(requestID string) *SuccessResponse {
	r.RequestID = requestID
	return r
}

// WithTimestamp 添加时间戳
func (r *SuccessResponse) WithTimestamp(timestamp string) *SuccessResponse {
	r.Timestamp = timestamp
	return r
}

// HealthResponse 进程存活检查响应
type HealthResponse struct {
	Status    string `json:"status"` // healthy, degraded, unhealthy
	Mode      string `json:"mode,omitempty"`
	Score     int    `json:"score"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// SetModeRequest PUT /mode 请求体
type SetModeRequest struct {
	Mode   string `json:"mode" binding:"required"`
	Reason string `json:"reason"`
}

// FeatureChangeRequest 启停功能请求体（可选）
type FeatureChangeRequest struct {
	Reason string `json:"reason"`
}

// RecoverResponse 恢复操作结果
type RecoverResponse struct {
	Target    string `json:"target"`
	Triggered bool   `json:"triggered"`
}
