package clock

import (
	benclock "github.com/benbjohnson/clock"

	infraClock "github.com/weisyn/meshguard/pkg/interfaces/infrastructure/clock"
)

// NewSystemClock 使用系统真实时间
func NewSystemClock() infraClock.Clock { return benclock.New() }

// NewMockClock 可手动推进的时钟，仅用于测试与离线复现
func NewMockClock() *benclock.Mock { return benclock.NewMock() }

var (
	_ infraClock.Clock = benclock.New()
	_ infraClock.Clock = (*benclock.Mock)(nil)
)
