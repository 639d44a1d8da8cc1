package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apihttp "github.com/weisyn/meshguard/internal/api/http"
	"github.com/weisyn/meshguard/internal/cli/client"
	apicfg "github.com/weisyn/meshguard/internal/config/api"
	resilienceconfig "github.com/weisyn/meshguard/internal/config/resilience"
	"github.com/weisyn/meshguard/internal/core/resilience/degradation"
	"github.com/weisyn/meshguard/internal/core/resilience/testutil"
	"github.com/weisyn/meshguard/pkg/constants/events"
	"github.com/weisyn/meshguard/pkg/types"
)

func startNode(t *testing.T) (string, *degradation.Controller) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	deg := degradation.NewController(resilienceconfig.DefaultOptions().Degradation, nil, nil, nil)
	t.Cleanup(deg.Stop)

	srv := httptest.NewServer(apihttp.NewRouter(apicfg.HTTPConfig{RequestTimeout: time.Second},
		apihttp.Services{Degradation: deg}, nil))
	t.Cleanup(srv.Close)
	return srv.URL, deg
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestModeSet_JSON(t *testing.T) {
	addr, deg := startNode(t)

	out, err := execute(t, "--api", addr, "-o", "json", "mode", "set", "hybrid", "--reason", "drill")
	require.NoError(t, err)

	var info client.ModeInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "HYBRID", info.Mode)
	assert.Equal(t, "drill", info.ModeChangeReason)
	assert.Equal(t, types.ModeHybrid, deg.GetCurrentMode())
}

func TestModeSet_InvalidMode(t *testing.T) {
	addr, _ := startNode(t)

	_, err := execute(t, "--api", addr, "-o", "json", "mode", "set", "warp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RES_INVALID_MODE")
}

func TestFeaturesDisable(t *testing.T) {
	addr, deg := startNode(t)

	_, err := execute(t, "--api", addr, "-o", "json", "features", "disable", "media_sharing", "--reason", "bandwidth")
	require.NoError(t, err)
	assert.False(t, deg.IsFeatureEnabled(types.FeatureMediaSharing))
}

func TestOutputFormatValidated(t *testing.T) {
	_, err := execute(t, "-o", "xml", "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml")
}

func TestConfigInitAndCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "node.yaml")

	_, err := execute(t, "-o", "table", "config", "init", path)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = execute(t, "-o", "table", "config", "init", path)
	require.Error(t, err)

	out, err := execute(t, "-o", "table", "config", "check", path)
	require.NoError(t, err)
	assert.Contains(t, out, "OK")
}

// syncBuffer 供后台执行的命令并发写入
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestEvents_HistoryAcceptsSingleType(t *testing.T) {
	_, err := execute(t, "events", "peer.recovered", "peer.unhealthy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "最多指定 1 个")
}

func TestEvents_Follow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	bus := testutil.NewBus()
	srv := apihttp.NewServer(apicfg.HTTPConfig{ListenAddr: "127.0.0.1:0", ShutdownTimeout: time.Second},
		apihttp.Services{Events: bus}, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { eventsFollow = false })

	out := &syncBuffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs([]string{"--api", srv.Addr(), "-o", "json", "events", "-f", string(events.EventTypeModeChanged)})
	done := make(chan error, 1)
	go func() { done <- rootCmd.Execute() }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), client.FrameSubscribed)
	}, 2*time.Second, 10*time.Millisecond)

	bus.Publish(events.EventTypeModeChanged, types.ModeChangedEvent{To: types.ModeHybrid, Reason: "follow"})
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"type":"degradation.mode.changed"`)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), `"reason":"follow"`)

	// 节点关闭时订阅正常结束
	require.NoError(t, srv.Stop(context.Background()))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("events --follow did not return after the node stopped")
	}
}
