package replay

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/willibrandon/haloscope/pkg/engine"
)

// WatchType defines what a watch observes
type WatchType int

const (
	// SlotWatch fires when an object slot changes occupant or tag
	SlotWatch WatchType = iota
	// TagWatch fires when an object whose tag path contains a substring appears
	TagWatch
	// PlayerWatch fires when a player slot becomes live or dies
	PlayerWatch
)

func (wt WatchType) String() string {
	switch wt {
	case SlotWatch:
		return "slot"
	case TagWatch:
		return "tag"
	case PlayerWatch:
		return "player"
	default:
		return "unknown"
	}
}

// Watch is a condition checked between consecutive captures
type Watch struct {
	ID      int
	Type    WatchType
	Slot    int    // For SlotWatch and PlayerWatch
	Tag     string // For TagWatch
	Enabled bool
}

func (w *Watch) String() string {
	state := "enabled"
	if !w.Enabled {
		state = "disabled"
	}
	if w.Type == TagWatch {
		return fmt.Sprintf("#%d tag:%s (%s)", w.ID, w.Tag, state)
	}
	return fmt.Sprintf("#%d %s:%d (%s)", w.ID, w.Type, w.Slot, state)
}

// WatchHit reports the capture at which watches fired
type WatchHit struct {
	Index   int
	Watches []*Watch
}

// WatchManager manages watches for a replay session
type WatchManager struct {
	watches []*Watch
	nextID  int
}

// NewWatchManager creates a new watch manager
func NewWatchManager() *WatchManager {
	return &WatchManager{
		watches: make([]*Watch, 0),
		nextID:  1,
	}
}

// AddWatch parses spec and adds the watch. Accepted forms are slot:<index>,
// player:<slot> and tag:<substring>.
func (wm *WatchManager) AddWatch(spec string) (*Watch, error) {
	kind, arg, ok := strings.Cut(spec, ":")
	if !ok || arg == "" {
		return nil, fmt.Errorf("invalid watch %q, expected slot:<n>, player:<n> or tag:<text>", spec)
	}

	w := &Watch{Enabled: true}
	switch kind {
	case "slot", "player":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 || n > 0xFFFF {
			return nil, fmt.Errorf("invalid slot index %q", arg)
		}
		w.Slot = n
		w.Type = SlotWatch
		if kind == "player" {
			w.Type = PlayerWatch
		}
	case "tag":
		w.Type = TagWatch
		w.Tag = arg
	default:
		return nil, fmt.Errorf("unknown watch type %q", kind)
	}

	w.ID = wm.nextID
	wm.nextID++
	wm.watches = append(wm.watches, w)
	return w, nil
}

// GetWatches returns all watches
func (wm *WatchManager) GetWatches() []*Watch {
	return wm.watches
}

// RemoveWatch removes a watch by ID
func (wm *WatchManager) RemoveWatch(id int) error {
	for i, w := range wm.watches {
		if w.ID == id {
			wm.watches = append(wm.watches[:i], wm.watches[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("watch %d not found", id)
}

// EnableWatch enables a watch by ID
func (wm *WatchManager) EnableWatch(id int) error {
	return wm.setEnabled(id, true)
}

// DisableWatch disables a watch by ID
func (wm *WatchManager) DisableWatch(id int) error {
	return wm.setEnabled(id, false)
}

func (wm *WatchManager) setEnabled(id int, enabled bool) error {
	for _, w := range wm.watches {
		if w.ID == id {
			w.Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("watch %d not found", id)
}

// Check returns the enabled watches that fire between prev and next
func (wm *WatchManager) Check(prev, next *engine.EngineSnapshot) []*Watch {
	var fired []*Watch
	for _, w := range wm.watches {
		if !w.Enabled {
			continue
		}
		var hit bool
		switch w.Type {
		case SlotWatch:
			hit = slotChanged(prev, next, w.Slot)
		case PlayerWatch:
			_, before := prev.Player(w.Slot)
			_, after := next.Player(w.Slot)
			hit = before != after
		case TagWatch:
			hit = tagAppeared(prev, next, w.Tag)
		}
		if hit {
			fired = append(fired, w)
		}
	}
	return fired
}

func slotChanged(prev, next *engine.EngineSnapshot, index int) bool {
	a, okA := prev.Object(index)
	b, okB := next.Object(index)
	if okA != okB {
		return true
	}
	if !okA {
		return false
	}
	return a.Handle() != b.Handle() || a.Object.TagIndex != b.Object.TagIndex
}

// tagAppeared reports an occupant in next, matching substr, whose handle
// was not present in prev
func tagAppeared(prev, next *engine.EngineSnapshot, substr string) bool {
	for _, slot := range next.Objects {
		if slot == nil {
			continue
		}
		name, ok := next.ObjectTagName(int(slot.Index))
		if !ok || !strings.Contains(name, substr) {
			continue
		}
		old, ok := prev.Object(int(slot.Index))
		if !ok || old.Handle() != slot.Handle() {
			return true
		}
	}
	return false
}
