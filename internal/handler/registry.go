package handler

import (
	"fmt"
	"strconv"

	"mc-frontend/internal/config"
	"mc-frontend/internal/protocol"
)

// BuildRegistry 为每个修订创建独立的包表和版本，设置默认版本后封存
//
// default_version 可以写名称、别名或协议号。
func BuildRegistry(cfg config.ProtocolConfig, revisions []protocol.Revision, listeners func(protocol.Revision) protocol.ListenerFactory) (*protocol.Registry, error) {
	registry := protocol.NewRegistry()
	settings := protocol.Settings{
		MaxServerboundSize:           cfg.MaxServerboundSize,
		MaxServerboundCompressedSize: cfg.MaxServerboundCompressedSize,
	}

	for _, rev := range revisions {
		v, err := protocol.NewVersion(protocol.VersionSpec{
			ID:        rev.ID,
			Name:      rev.Name,
			Aliases:   rev.Aliases,
			Stable:    rev.Stable,
			Table:     rev.NewTable(),
			Settings:  settings,
			Listeners: listeners(rev),
		})
		if err != nil {
			return nil, fmt.Errorf("创建协议版本失败: %w", err)
		}
		if err := registry.AddVersion(v); err != nil {
			return nil, fmt.Errorf("注册协议版本失败: %w", err)
		}
	}

	if err := setDefaultVersion(registry, cfg.DefaultVersion); err != nil {
		return nil, err
	}
	if err := registry.Seal(); err != nil {
		return nil, err
	}
	return registry, nil
}

func setDefaultVersion(registry *protocol.Registry, name string) error {
	if id, err := strconv.ParseInt(name, 10, 32); err == nil {
		v, ok := registry.GetVersion(int32(id))
		if !ok {
			return fmt.Errorf("%w: 协议号 %d", protocol.ErrUnsupportedVersion, id)
		}
		return registry.SetDefault(v)
	}
	return registry.SetDefaultByName(name)
}
