package client

import (
	"encoding/json"
	"fmt"
)

// envelope 成功响应的通用结构
type envelope struct {
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"requestId,omitempty"`
}

// APIError 服务端返回的 Problem Details
type APIError struct {
	Status      int                    `json:"status"`
	Code        string                 `json:"code"`
	UserMessage string                 `json:"userMessage"`
	Detail      string                 `json:"detail"`
	TraceID     string                 `json:"traceId"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.UserMessage
	if msg == "" {
		msg = e.Detail
	} else if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return fmt.Sprintf("API请求失败 [%d %s]: %s", e.Status, e.Code, msg)
}

// ModeInfo GET /mode 响应
type ModeInfo struct {
	Mode              string   `json:"mode"`
	LastModeChange    string   `json:"last_mode_change"`
	ModeChangeReason  string   `json:"mode_change_reason"`
	Offline           bool     `json:"offline"`
	CanUseCentralized bool     `json:"can_use_centralized"`
	AvailableModes    []string `json:"available_modes"`
	P2PHealth         struct {
		Connected   bool    `json:"connected"`
		PeerCount   int     `json:"peer_count"`
		LatencyMs   float64 `json:"latency_ms"`
		FailureRate float64 `json:"failure_rate"`
	} `json:"p2p_health"`
	CentralizedHealth struct {
		Connected   bool    `json:"connected"`
		LatencyMs   float64 `json:"latency_ms"`
		FailureRate float64 `json:"failure_rate"`
	} `json:"centralized_health"`
}

// RecoverResult 恢复操作结果
type RecoverResult struct {
	Target    string `json:"target"`
	Triggered bool   `json:"triggered"`
}

// EventTypeSummary 事件类型与保留条数
type EventTypeSummary struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// EventHistory 单一事件类型的历史，负载保持原始 JSON
type EventHistory struct {
	Type   string            `json:"type"`
	Events []json.RawMessage `json:"events"`
}

// FrameSubscribed 事件流的第一帧类型，Payload 为生效的事件类型列表
const FrameSubscribed = "stream.subscribed"

// StreamFrame 事件流中的一帧，负载保持原始 JSON
type StreamFrame struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Dropped uint64          `json:"dropped,omitempty"`
}
