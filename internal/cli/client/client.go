// Package client 韧性节点 HTTP API 的命令行客户端
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/libp2p/go-libp2p/core/peer"

	logiface "github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/meshguard/pkg/types"
)

const apiPrefix = "/api/v1/resilience"

// Client API客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logiface.Logger
}

// NewClient 创建客户端；addr 形如 127.0.0.1:7878 或 http://host:port
func NewClient(addr string, timeout time.Duration, logger logiface.Logger) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// BaseURL 服务地址
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Diagnostics GET /diagnostics
func (c *Client) Diagnostics(ctx context.Context) (types.NetworkDiagnostics, error) {
	var out types.NetworkDiagnostics
	err := c.do(ctx, http.MethodGet, apiPrefix+"/diagnostics", nil, &out)
	return out, err
}

// Troubleshoot POST /troubleshoot
func (c *Client) Troubleshoot(ctx context.Context) (types.TroubleshootingReport, error) {
	var out types.TroubleshootingReport
	err := c.do(ctx, http.MethodPost, apiPrefix+"/troubleshoot", nil, &out)
	return out, err
}

// Mode GET /mode
func (c *Client) Mode(ctx context.Context) (ModeInfo, error) {
	var out ModeInfo
	err := c.do(ctx, http.MethodGet, apiPrefix+"/mode", nil, &out)
	return out, err
}

// SetMode PUT /mode
func (c *Client) SetMode(ctx context.Context, mode, reason string) (ModeInfo, error) {
	var out ModeInfo
	body := map[string]string{"mode": mode, "reason": reason}
	err := c.do(ctx, http.MethodPut, apiPrefix+"/mode", body, &out)
	return out, err
}

// Features GET /features
func (c *Client) Features(ctx context.Context) ([]types.FeatureToggle, error) {
	var out []types.FeatureToggle
	err := c.do(ctx, http.MethodGet, apiPrefix+"/features", nil, &out)
	return out, err
}

// SetFeature POST /features/:feature/{enable,disable}
func (c *Client) SetFeature(ctx context.Context, feature string, enabled bool, reason string) (types.FeatureToggle, error) {
	action := "disable"
	if enabled {
		action = "enable"
	}
	var body interface{}
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	var out types.FeatureToggle
	err := c.do(ctx, http.MethodPost, apiPrefix+"/features/"+url.PathEscape(feature)+"/"+action, body, &out)
	return out, err
}

// NetworkHealth GET /network/health
func (c *Client) NetworkHealth(ctx context.Context) (types.NetworkHealth, error) {
	var out types.NetworkHealth
	err := c.do(ctx, http.MethodGet, apiPrefix+"/network/health", nil, &out)
	return out, err
}

// RecoverNetwork POST /network/recover
func (c *Client) RecoverNetwork(ctx context.Context) (RecoverResult, error) {
	var out RecoverResult
	err := c.do(ctx, http.MethodPost, apiPrefix+"/network/recover", nil, &out)
	return out, err
}

// PeerHealth GET /peers/:id/health
func (c *Client) PeerHealth(ctx context.Context, id peer.ID) (types.PeerHealth, error) {
	var out types.PeerHealth
	err := c.do(ctx, http.MethodGet, apiPrefix+"/peers/"+id.String()+"/health", nil, &out)
	return out, err
}

// RecoverPeer POST /peers/:id/recover
func (c *Client) RecoverPeer(ctx context.Context, id peer.ID) (RecoverResult, error) {
	var out RecoverResult
	err := c.do(ctx, http.MethodPost, apiPrefix+"/peers/"+id.String()+"/recover", nil, &out)
	return out, err
}

// EventTypes GET /events
func (c *Client) EventTypes(ctx context.Context) ([]EventTypeSummary, error) {
	var out []EventTypeSummary
	err := c.do(ctx, http.MethodGet, apiPrefix+"/events", nil, &out)
	return out, err
}

// Events GET /events/:type；limit <= 0 返回全部保留条目
func (c *Client) Events(ctx context.Context, eventType string, limit int) (EventHistory, error) {
	endpoint := apiPrefix + "/events/" + url.PathEscape(eventType)
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var out EventHistory
	err := c.do(ctx, http.MethodGet, endpoint, nil, &out)
	return out, err
}

// StreamEvents 订阅 WebSocket 事件流，逐帧回调 fn
//
// eventTypes 为空时订阅全部类型。ctx 取消时返回 ctx.Err()；服务端正常关闭时返回 nil；
// fn 返回的错误会终止订阅并原样返回。
func (c *Client) StreamEvents(ctx context.Context, eventTypes []string, fn func(StreamFrame) error) error {
	endpoint := "ws" + strings.TrimPrefix(c.baseURL, "http") + apiPrefix + "/events/stream"
	if len(eventTypes) > 0 {
		endpoint += "?types=" + url.QueryEscape(strings.Join(eventTypes, ","))
	}

	if c.logger != nil {
		c.logger.Debugf("订阅事件流: url=%s", endpoint)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			raw, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return decodeAPIError(resp.StatusCode, raw)
		}
		return fmt.Errorf("建立事件流失败（节点是否在运行？）: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var f StreamFrame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("读取事件流失败: %w", err)
		}
		if err := fn(f); err != nil {
			return err
		}
	}
}

// do 执行请求并解出 data；4xx/5xx 返回 *APIError
func (c *Client) do(ctx context.Context, method, endpoint string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("序列化请求数据失败: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if c.logger != nil {
		c.logger.Debugf("发送API请求: method=%s url=%s", method, req.URL)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("执行HTTP请求失败（节点是否在运行？）: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应数据失败: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp.StatusCode, raw)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("解析响应数据失败: %w", err)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("解析响应数据失败: %w", err)
	}
	return nil
}

// decodeAPIError 解析 Problem Details；非 JSON 响应时以状态文本兜底
func decodeAPIError(status int, raw []byte) *APIError {
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = http.StatusText(status)
		apiErr.Detail = strings.TrimSpace(string(raw))
	}
	apiErr.Status = status
	return apiErr
}
