package engine

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Magic values the engine writes into its structures. They are four
// character codes read as little-endian words.
const (
	// PoolSignature is stored in every data pool header ("d@t@")
	PoolSignature uint32 = 0x64407440
	// ObjectHeadGuard opens every live game object body ("head")
	ObjectHeadGuard uint32 = 0x68656164
	// ObjectTailGuard closes the game object header ("tail")
	ObjectTailGuard uint32 = 0x7461696C
	// TagFooter ends the tag header ("scnr")
	TagFooter uint32 = 0x73636E72
)

// Layout describes where the engine keeps its structures inside a capture.
// Every address is an offset from the start of the captured window.
type Layout struct {
	Name string `yaml:"name"`

	// CaptureSize is the size of the window a provider should capture
	CaptureSize uint32 `yaml:"capture_size"`

	ObjectPoolHeader uint32 `yaml:"object_pool_header"`
	PlayerPoolHeader uint32 `yaml:"player_pool_header"`
	TagArrayHeader   uint32 `yaml:"tag_array_header"`
	TagHeader        uint32 `yaml:"tag_header"`
	PlayerGlobals    uint32 `yaml:"player_globals"`

	MaxObjects      int `yaml:"max_objects"`
	MaxPlayers      int `yaml:"max_players"`
	MaxLocalPlayers int `yaml:"max_local_players"`

	// ObjectBodyBias is subtracted from a pool entry's pointer to find the
	// start of the object body
	ObjectBodyBias uint32 `yaml:"object_body_bias"`
	// PositionOffset is the offset of the position vector inside a body
	PositionOffset uint32 `yaml:"position_offset"`

	PoolSignature   uint32 `yaml:"pool_signature"`
	ObjectHeadGuard uint32 `yaml:"object_head_guard"`
	ObjectTailGuard uint32 `yaml:"object_tail_guard"`
	TagFooter       uint32 `yaml:"tag_footer"`
}

// DefaultLayout returns the layout of the Xbox retail build
func DefaultLayout() Layout {
	return Layout{
		Name:             "xbox-retail",
		CaptureSize:      64 << 20,
		ObjectPoolHeader: 0x000B9370,
		PlayerPoolHeader: 0x00213C50,
		TagArrayHeader:   0x003A6024,
		TagHeader:        0x003A6000,
		PlayerGlobals:    0x00214E00,
		MaxObjects:       2048,
		MaxPlayers:       16,
		MaxLocalPlayers:  4,
		ObjectBodyBias:   0x18,
		PositionOffset:   0x24,
		PoolSignature:    PoolSignature,
		ObjectHeadGuard:  ObjectHeadGuard,
		ObjectTailGuard:  ObjectTailGuard,
		TagFooter:        TagFooter,
	}
}

// ErrInvalidLayout is returned by Validate for unusable layouts
var ErrInvalidLayout = errors.New("invalid layout")

// Validate checks that the layout can be used to decode a capture
func (l Layout) Validate() error {
	switch {
	case l.MaxObjects <= 0 || l.MaxObjects > 0xFFFF:
		return fmt.Errorf("%w: max_objects %d out of range", ErrInvalidLayout, l.MaxObjects)
	case l.MaxPlayers <= 0 || l.MaxPlayers > 0xFFFF:
		return fmt.Errorf("%w: max_players %d out of range", ErrInvalidLayout, l.MaxPlayers)
	case l.MaxLocalPlayers <= 0 || l.MaxLocalPlayers > 64:
		return fmt.Errorf("%w: max_local_players %d out of range", ErrInvalidLayout, l.MaxLocalPlayers)
	case l.PositionOffset+positionSize > gameObjectSize:
		return fmt.Errorf("%w: position_offset 0x%X outside the object body", ErrInvalidLayout, l.PositionOffset)
	case l.CaptureSize == 0:
		return fmt.Errorf("%w: capture_size must be set", ErrInvalidLayout)
	}

	regions := []struct {
		name string
		addr uint32
		size int
	}{
		{"object_pool_header", l.ObjectPoolHeader, poolHeaderSize},
		{"player_pool_header", l.PlayerPoolHeader, poolHeaderSize},
		{"tag_header", l.TagHeader, tagHeaderSize},
		{"player_globals", l.PlayerGlobals, playerGlobalsSize(l.MaxLocalPlayers)},
	}
	for _, r := range regions {
		if uint64(r.addr)+uint64(r.size) > uint64(l.CaptureSize) {
			return fmt.Errorf("%w: %s at 0x%08X does not fit in a 0x%X byte capture",
				ErrInvalidLayout, r.name, r.addr, l.CaptureSize)
		}
	}
	return nil
}

// LoadLayout reads a YAML layout file. Fields missing from the file keep
// their DefaultLayout values.
func LoadLayout(path string) (Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, fmt.Errorf("failed to read layout %s: %w", path, err)
	}
	return ParseLayout(data)
}

// ParseLayout decodes a YAML layout over the default layout
func ParseLayout(data []byte) (Layout, error) {
	layout := DefaultLayout()
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return Layout{}, fmt.Errorf("failed to parse layout: %w", err)
	}
	if err := layout.Validate(); err != nil {
		return Layout{}, err
	}
	return layout, nil
}

// MarshalYAML is implemented so layouts print their addresses in hex
func (l Layout) MarshalYAML() (interface{}, error) {
	hex := func(v uint32) *yaml.Node {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprintf("0x%08X", v)}
	}
	dec := func(v int) *yaml.Node {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprintf("%d", v)}
	}
	key := func(k string) *yaml.Node {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}
	}

	node := &yaml.Node{Kind: yaml.MappingNode}
	node.Content = append(node.Content,
		key("name"), &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: l.Name},
		key("capture_size"), hex(l.CaptureSize),
		key("object_pool_header"), hex(l.ObjectPoolHeader),
		key("player_pool_header"), hex(l.PlayerPoolHeader),
		key("tag_array_header"), hex(l.TagArrayHeader),
		key("tag_header"), hex(l.TagHeader),
		key("player_globals"), hex(l.PlayerGlobals),
		key("max_objects"), dec(l.MaxObjects),
		key("max_players"), dec(l.MaxPlayers),
		key("max_local_players"), dec(l.MaxLocalPlayers),
		key("object_body_bias"), hex(l.ObjectBodyBias),
		key("position_offset"), hex(l.PositionOffset),
		key("pool_signature"), hex(l.PoolSignature),
		key("object_head_guard"), hex(l.ObjectHeadGuard),
		key("object_tail_guard"), hex(l.ObjectTailGuard),
		key("tag_footer"), hex(l.TagFooter),
	)
	return node, nil
}
