// Package ui 命令行输出渲染（pterm）
package ui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/weisyn/meshguard/internal/cli/client"
	"github.com/weisyn/meshguard/pkg/types"
)

// Printer 将 API 结果渲染到 out；json 为 true 时原样输出 JSON
type Printer struct {
	out  io.Writer
	json bool
}

// NewPrinter 创建渲染器
func NewPrinter(out io.Writer, asJSON bool) *Printer {
	return &Printer{out: out, json: asJSON}
}

// DisableStyling 关闭颜色与样式（非终端输出、测试）
func DisableStyling() {
	pterm.DisableStyling()
}

// Diagnostics 渲染诊断快照
func (p *Printer) Diagnostics(d types.NetworkDiagnostics) error {
	if p.json {
		return p.JSON(d)
	}
	p.header("网络诊断")
	if err := p.table(DiagnosticsSummaryRows(d)); err != nil {
		return err
	}
	if len(d.Peers) > 0 {
		p.header(fmt.Sprintf("对等节点 (%d)", len(d.Peers)))
		if err := p.table(PeerRows(d.Peers)); err != nil {
			return err
		}
	}
	return p.issues(d.Troubleshooting.Issues, d.Troubleshooting.Recommendations)
}

// Report 渲染排障报告
func (p *Printer) Report(r types.TroubleshootingReport) error {
	if p.json {
		return p.JSON(r)
	}
	p.header("排障报告 " + r.ID)
	rows := [][]string{
		{"项目", "值"},
		{"健康分", ScoreText(r.HealthScore)},
		{"耗时", r.Duration.Round(time.Millisecond).String()},
		{"可自动修复", yesNo(r.CanAutoFix)},
	}
	if r.Connectivity != nil {
		c := r.Connectivity
		status := pterm.FgRed.Sprint("不可达")
		if c.Reachable {
			status = pterm.FgGreen.Sprint("可达 ") + c.PublicAddress
		}
		rows = append(rows, []string{"STUN " + c.Server, status})
	}
	if err := p.table(rows); err != nil {
		return err
	}
	if err := p.issues(r.Issues, r.Recommendations); err != nil {
		return err
	}
	if len(r.AutoFixActions) > 0 {
		p.header("自动修复动作")
		return p.bullets(r.AutoFixActions)
	}
	return nil
}

// Mode 渲染运行模式
func (p *Printer) Mode(m client.ModeInfo) error {
	if p.json {
		return p.JSON(m)
	}
	p.header("运行模式")
	return p.table([][]string{
		{"项目", "值"},
		{"当前模式", ModeText(m.Mode)},
		{"最近切换", m.LastModeChange},
		{"切换原因", m.ModeChangeReason},
		{"P2P", fmt.Sprintf("connected=%s peers=%d latency=%.0fms failure=%.0f%%",
			yesNo(m.P2PHealth.Connected), m.P2PHealth.PeerCount, m.P2PHealth.LatencyMs, m.P2PHealth.FailureRate*100)},
		{"中心化", fmt.Sprintf("connected=%s latency=%.0fms failure=%.0f%%",
			yesNo(m.CentralizedHealth.Connected), m.CentralizedHealth.LatencyMs, m.CentralizedHealth.FailureRate*100)},
		{"可选模式", strings.Join(m.AvailableModes, ", ")},
	})
}

// Features 渲染功能开关
func (p *Printer) Features(list []types.FeatureToggle) error {
	if p.json {
		return p.JSON(list)
	}
	p.header("功能开关")
	return p.table(FeatureRows(list))
}

// NetworkHealth 渲染恢复管理器视角的健康
func (p *Printer) NetworkHealth(h types.NetworkHealth) error {
	if p.json {
		return p.JSON(h)
	}
	p.header("网络健康")
	rows := [][]string{
		{"项目", "值"},
		{"节点", fmt.Sprintf("%d (健康 %d / 不健康 %d)", h.TotalPeers, h.HealthyPeers, h.UnhealthyPeers)},
		{"健康比例", fmt.Sprintf("%.0f%%", h.HealthyRatio*100)},
		{"待恢复", fmt.Sprintf("%d", h.PendingRecoveries)},
	}
	if h.Partition != nil && h.Partition.Detected {
		rows = append(rows, []string{"分区", pterm.FgRed.Sprintf("%s 隔离 %d 个节点，检测于 %s",
			h.Partition.ID, h.Partition.PartitionSize, h.Partition.DetectedAt.Format(time.RFC3339))})
	} else {
		rows = append(rows, []string{"分区", pterm.FgGreen.Sprint("无")})
	}
	return p.table(rows)
}

// Recover 渲染恢复结果
func (p *Printer) Recover(r client.RecoverResult) error {
	if p.json {
		return p.JSON(r)
	}
	if r.Triggered {
		_, err := fmt.Fprintln(p.out, pterm.Success.Sprintf("恢复成功: %s", r.Target))
		return err
	}
	_, err := fmt.Fprintln(p.out, pterm.Warning.Sprintf("恢复未完成: %s", r.Target))
	return err
}

// EventTypes 渲染事件类型与保留条数
func (p *Printer) EventTypes(list []client.EventTypeSummary) error {
	if p.json {
		return p.JSON(list)
	}
	p.header("事件历史")
	rows := [][]string{{"事件类型", "条数"}}
	for _, s := range list {
		rows = append(rows, []string{s.Type, fmt.Sprintf("%d", s.Count)})
	}
	return p.table(rows)
}

// Events 渲染单一事件类型的历史，每条负载一行紧凑 JSON
func (p *Printer) Events(h client.EventHistory) error {
	if p.json {
		return p.JSON(h)
	}
	p.header(fmt.Sprintf("%s (%d)", h.Type, len(h.Events)))
	for i, raw := range h.Events {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			buf.Reset()
			buf.Write(raw)
		}
		if _, err := fmt.Fprintf(p.out, "%3d  %s\n", i+1, buf.String()); err != nil {
			return err
		}
	}
	return nil
}

// StreamFrame 渲染事件流中的一帧；JSON 模式下每帧一行
func (p *Printer) StreamFrame(f client.StreamFrame) error {
	if p.json {
		return json.NewEncoder(p.out).Encode(f)
	}
	if f.Type == client.FrameSubscribed {
		var names []string
		_ = json.Unmarshal(f.Payload, &names)
		_, err := fmt.Fprintln(p.out, pterm.Info.Sprintf("已订阅 %d 类事件，Ctrl+C 退出", len(names)))
		return err
	}
	if f.Dropped > 0 {
		fmt.Fprintln(p.out, pterm.Warning.Sprintf("客户端过慢，丢弃 %d 条事件", f.Dropped))
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, f.Payload); err != nil {
		buf.Reset()
		buf.Write(f.Payload)
	}
	_, err := fmt.Fprintf(p.out, "%5d  %-36s %s\n", f.Seq, f.Type, buf.String())
	return err
}

// JSON 缩进输出
func (p *Printer) JSON(v interface{}) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Success 输出成功提示
func (p *Printer) Success(format string, args ...interface{}) {
	if p.json {
		return
	}
	fmt.Fprintln(p.out, pterm.Success.Sprintf(format, args...))
}

func (p *Printer) header(title string) {
	fmt.Fprintln(p.out, pterm.Bold.Sprint(title))
}

func (p *Printer) table(rows [][]string) error {
	s, err := pterm.DefaultTable.WithHasHeader().WithHeaderRowSeparator("-").WithData(rows).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.out, s)
	return err
}

func (p *Printer) bullets(items []string) error {
	list := make([]pterm.BulletListItem, len(items))
	for i, it := range items {
		list[i] = pterm.BulletListItem{Level: 0, Text: it}
	}
	s, err := pterm.DefaultBulletList.WithItems(list).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(p.out, s)
	return err
}

func (p *Printer) issues(issues []types.NetworkIssue, recs []string) error {
	if len(issues) == 0 {
		fmt.Fprintln(p.out, pterm.Success.Sprint("未发现网络问题"))
		return nil
	}
	p.header(fmt.Sprintf("问题 (%d)", len(issues)))
	if err := p.table(IssueRows(issues)); err != nil {
		return err
	}
	if len(recs) > 0 {
		p.header("建议")
		return p.bullets(recs)
	}
	return nil
}

// DiagnosticsSummaryRows 诊断概要表
func DiagnosticsSummaryRows(d types.NetworkDiagnostics) [][]string {
	n := d.Network
	return [][]string{
		{"项目", "值"},
		{"健康分", ScoreText(d.Troubleshooting.HealthScore)},
		{"已连接", yesNo(n.Connected)},
		{"节点数", fmt.Sprintf("%d", n.PeerCount)},
		{"DHT", fmt.Sprintf("%s (路由表 %d)", yesNo(d.DHT.Running), d.DHT.RoutingTableSize)},
		{"平均延迟", fmt.Sprintf("%.1f ms", n.LatencyMs)},
		{"失败率", fmt.Sprintf("%.1f%%", n.FailureRate*100)},
		{"连接成功率", fmt.Sprintf("%.1f%%", d.Performance.ConnectionSuccessRate)},
		{"消息送达率", fmt.Sprintf("%.1f%%", d.Performance.MessageDeliveryRate)},
		{"采集时间", d.CollectedAt.Format(time.RFC3339)},
	}
}

// PeerRows 对等节点表
func PeerRows(peers []types.PeerConnectionMetrics) [][]string {
	rows := [][]string{{"节点", "状态", "延迟", "质量", "丢失/接收", "重连"}}
	for _, pm := range peers {
		rows = append(rows, []string{
			ShortID(pm.PeerID.String()),
			string(pm.ConnectionState),
			fmt.Sprintf("%.1f ms", pm.LatencyMs),
			QualityText(pm.Quality),
			fmt.Sprintf("%d/%d", pm.PacketsLost, pm.PacketsReceived),
			fmt.Sprintf("%d", pm.ReconnectAttempts),
		})
	}
	return rows
}

// IssueRows 问题表
func IssueRows(issues []types.NetworkIssue) [][]string {
	rows := [][]string{{"类型", "严重级别", "描述", "涉及节点"}}
	for _, is := range issues {
		rows = append(rows, []string{
			string(is.Type),
			SeverityText(is.Severity),
			is.Description,
			fmt.Sprintf("%d", len(is.AffectedPeers)),
		})
	}
	return rows
}

// FeatureRows 功能开关表
func FeatureRows(list []types.FeatureToggle) [][]string {
	rows := [][]string{{"功能", "启用", "中心化兜底", "原因", "最近切换"}}
	for _, ft := range list {
		enabled := pterm.FgRed.Sprint("否")
		if ft.Enabled {
			enabled = pterm.FgGreen.Sprint("是")
		}
		rows = append(rows, []string{
			string(ft.Feature),
			enabled,
			yesNo(ft.FallbackEnabled),
			ft.Reason,
			ft.LastToggled.Format(time.RFC3339),
		})
	}
	return rows
}

// ScoreText 按分档着色的健康分
func ScoreText(score int) string {
	s := fmt.Sprintf("%d/100", score)
	switch {
	case score >= 70:
		return pterm.FgGreen.Sprint(s)
	case score >= 40:
		return pterm.FgYellow.Sprint(s)
	default:
		return pterm.FgRed.Sprint(s)
	}
}

// ModeText 按模式着色
func ModeText(mode string) string {
	switch types.OperationMode(mode) {
	case types.ModeP2POnly:
		return pterm.FgGreen.Sprint(mode)
	case types.ModeHybrid:
		return pterm.FgCyan.Sprint(mode)
	case types.ModeCentralizedOnly:
		return pterm.FgYellow.Sprint(mode)
	default:
		return pterm.FgRed.Sprint(mode)
	}
}

// QualityText 按质量着色
func QualityText(q types.ConnectionQuality) string {
	switch q {
	case types.QualityExcellent, types.QualityGood:
		return pterm.FgGreen.Sprint(string(q))
	case types.QualityFair:
		return pterm.FgYellow.Sprint(string(q))
	default:
		return pterm.FgRed.Sprint(string(q))
	}
}

// SeverityText 按严重级别着色
func SeverityText(s types.IssueSeverity) string {
	switch s {
	case types.SeverityLow:
		return pterm.FgBlue.Sprint(string(s))
	case types.SeverityMedium:
		return pterm.FgYellow.Sprint(string(s))
	default:
		return pterm.FgRed.Sprint(string(s))
	}
}

// ShortID 截断节点ID用于表格显示
func ShortID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:6] + "…" + id[len(id)-6:]
}

func yesNo(b bool) string {
	if b {
		return "是"
	}
	return "否"
}
