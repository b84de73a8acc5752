package upstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mc-frontend/internal/config"
)

const sampleStatus = `{
	"version": {"name": "Velocity 3.3.0", "protocol": 766},
	"players": {
		"max": 500,
		"online": 42,
		"sample": [
			{"name": "Alice", "id": "4566e69f-c907-48ee-8d71-d7ba5aa00d20"},
			{"name": "broken", "id": "not-a-uuid"}
		]
	},
	"description": {"text": "hello"}
}`

func newTestMirror(cfg config.UpstreamConfig, ping PingFunc) *Mirror {
	m := NewMirror(cfg, zerolog.Nop())
	m.ping = ping
	return m
}

func TestMirrorSync(t *testing.T) {
	tests := []struct {
		name        string
		override    bool
		wantVersion string
	}{
		{name: "沿用上游版本名", override: false, wantVersion: "Velocity 3.3.0"},
		{name: "覆盖版本名", override: true, wantVersion: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMirror(config.UpstreamConfig{Enabled: true, OverrideVersion: tt.override},
				func(string, time.Duration) ([]byte, error) { return []byte(sampleStatus), nil })

			if _, ok := m.Players(); ok {
				t.Fatal("同步前不应有数据")
			}

			m.SyncOnce(context.Background())
			snap, ok := m.Players()
			if !ok {
				t.Fatal("同步后应有数据")
			}
			if snap.Online != 42 || snap.Max != 500 {
				t.Errorf("人数不正确: %+v", snap)
			}
			if len(snap.Sample) != 1 || snap.Sample[0].Name != "Alice" {
				t.Errorf("非法 UUID 的样本应被丢弃: %+v", snap.Sample)
			}
			if snap.VersionName != tt.wantVersion {
				t.Errorf("期望版本名 '%s'，实际为 '%s'", tt.wantVersion, snap.VersionName)
			}
		})
	}
}

func TestMirrorOffline(t *testing.T) {
	fail := false
	calls := 0
	m := newTestMirror(config.UpstreamConfig{Enabled: true, RetryCount: 2},
		func(string, time.Duration) ([]byte, error) {
			calls++
			if fail {
				return nil, errors.New("connection refused")
			}
			return []byte(sampleStatus), nil
		})

	m.SyncOnce(context.Background())
	fail = true
	calls = 0
	m.SyncOnce(context.Background())

	if calls != 3 {
		t.Errorf("期望重试到 3 次，实际 %d 次", calls)
	}
	snap, ok := m.Players()
	if !ok {
		t.Fatal("上游掉线后仍应保留上次的数据")
	}
	if snap.Online != 0 || snap.Sample != nil {
		t.Errorf("掉线后在线人数和样本应清零: %+v", snap)
	}
	if snap.Max != 500 {
		t.Errorf("掉线后应保留上限，实际为 %d", snap.Max)
	}
}

func TestMirrorBadJSON(t *testing.T) {
	m := newTestMirror(config.UpstreamConfig{Enabled: true},
		func(string, time.Duration) ([]byte, error) { return []byte("{"), nil })

	m.SyncOnce(context.Background())
	if _, ok := m.Players(); ok {
		t.Error("无法解析的响应不应产生数据")
	}
}

func TestMirrorDisabled(t *testing.T) {
	m := newTestMirror(config.UpstreamConfig{Enabled: false},
		func(string, time.Duration) ([]byte, error) {
			t.Error("禁用时不应查询上游")
			return nil, nil
		})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("禁用时 Start 不应报错: %v", err)
	}
}
