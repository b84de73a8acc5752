package protocol

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Registry 所有受支持的协议版本；启动时填充，Seal 之后只读
type Registry struct {
	byID    map[int32]*Version
	byName  map[string]*Version
	ordered []*Version

	defaultVersion *Version
	sealed         bool
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[int32]*Version),
		byName: make(map[string]*Version),
	}
}

// AddVersion 注册版本。数字ID必须唯一；名称和别名冲突时保留先注册者
func (r *Registry) AddVersion(v *Version) error {
	if r.sealed {
		return errors.New("registry is sealed")
	}
	if v.registry != nil && v.registry != r {
		return fmt.Errorf("version %s already belongs to another registry", v)
	}
	if existing, ok := r.byID[v.id]; ok {
		return fmt.Errorf("protocol id %d already registered as %s", v.id, existing.name)
	}

	r.byID[v.id] = v
	for _, name := range append([]string{v.name}, v.aliases...) {
		key := strings.ToLower(name)
		if _, taken := r.byName[key]; !taken {
			r.byName[key] = v
		}
	}
	r.ordered = append(r.ordered, v)
	v.registry = r
	return nil
}

// SetDefault 设置默认版本，必须是已注册的版本
func (r *Registry) SetDefault(v *Version) error {
	if r.sealed {
		return errors.New("registry is sealed")
	}
	if r.byID[v.id] != v {
		return fmt.Errorf("default version %s is not registered", v)
	}
	r.defaultVersion = v
	return nil
}

// SetDefaultByName 按名称或别名设置默认版本
func (r *Registry) SetDefaultByName(name string) error {
	v, ok := r.GetVersionByName(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, name)
	}
	return r.SetDefault(v)
}

// Seal 结束注册阶段，之后的查找无需加锁
func (r *Registry) Seal() error {
	if r.defaultVersion == nil {
		return errors.New("registry has no default version")
	}
	r.sealed = true
	return nil
}

// GetVersion 按协议号查找
func (r *Registry) GetVersion(id int32) (*Version, bool) {
	v, ok := r.byID[id]
	return v, ok
}

// GetVersionByName 按名称或别名查找，不区分大小写
func (r *Registry) GetVersionByName(name string) (*Version, bool) {
	v, ok := r.byName[strings.ToLower(name)]
	return v, ok
}

// Default 默认版本
func (r *Registry) Default() *Version {
	return r.defaultVersion
}

// PacketType 按注册顺序返回第一个拥有该包类型的版本中的描述
func (r *Registry) PacketType(p Packet) (*Descriptor, bool) {
	for _, v := range r.ordered {
		if d, ok := v.table.Describe(p); ok {
			return d, true
		}
	}
	return nil, false
}

// VersionByPacket 第一个拥有该包类型的版本
func (r *Registry) VersionByPacket(p Packet) (*Version, bool) {
	for _, v := range r.ordered {
		if v.table.Owns(p) {
			return v, true
		}
	}
	return nil, false
}

// Versions 按协议号升序的全部版本
func (r *Registry) Versions() []*Version {
	out := slices.Clone(r.ordered)
	slices.SortFunc(out, func(a, b *Version) int { return int(a.id) - int(b.id) })
	return out
}

// SupportedNames 受支持版本的名称，按协议号升序，用于断开提示
func (r *Registry) SupportedNames() []string {
	versions := r.Versions()
	names := make([]string, 0, len(versions))
	for _, v := range versions {
		names = append(names, v.name)
	}
	return names
}
