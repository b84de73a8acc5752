package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// OnlineMode 正版验证策略：true / false / auto
type OnlineMode string

const (
	OnlineModeTrue  OnlineMode = "true"
	OnlineModeFalse OnlineMode = "false"
	// OnlineModeAuto 交由注入的认证策略按用户名和地址决定
	OnlineModeAuto OnlineMode = "auto"
)

// Valid 检查取值是否合法
func (m OnlineMode) Valid() bool {
	switch m {
	case OnlineModeTrue, OnlineModeFalse, OnlineModeAuto:
		return true
	}
	return false
}

// ParseOnlineMode 解析字符串形式的验证策略
func ParseOnlineMode(s string) (OnlineMode, error) {
	m := OnlineMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("无效的 online_mode: %q", s)
	}
	return m, nil
}

// UnmarshalYAML 同时接受布尔值和字符串
func (m *OnlineMode) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseOnlineMode(node.Value)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// UnmarshalTOML 同时接受布尔值和字符串
func (m *OnlineMode) UnmarshalTOML(v any) error {
	parsed, err := ParseOnlineMode(fmt.Sprint(v))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
