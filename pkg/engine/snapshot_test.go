package engine_test

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/willibrandon/haloscope/pkg/engine"
	"github.com/willibrandon/haloscope/pkg/engine/enginetest"
)

func build(t *testing.T, b *enginetest.Builder) *engine.EngineSnapshot {
	t.Helper()
	snap, err := engine.BuildSnapshot(b.Bytes(), b.Layout)
	if err != nil {
		t.Fatalf("Failed to build snapshot: %v", err)
	}
	return snap
}

func TestBuildSnapshotEndToEnd(t *testing.T) {
	b := enginetest.New()
	b.AddObject(5, 0xE1F5, 7, engine.Vector3{X: 1.0, Y: 2.0, Z: 3.0})
	b.AddTag(7, "weap", "weapons\\pistol")
	b.AddPlayer(0, 0xEC70, 2, "Chief", engine.NewDatumHandle(5, 0xE1F5))

	snap := build(t, b)

	if len(snap.Objects) != 2048 {
		t.Fatalf("Expected 2048 object slots, got %d", len(snap.Objects))
	}
	if len(snap.Players) != 16 {
		t.Fatalf("Expected 16 player slots, got %d", len(snap.Players))
	}

	slot, ok := snap.Object(5)
	if !ok {
		t.Fatal("Expected slot 5 to be occupied")
	}
	want := engine.Vector3{X: 1.0, Y: 2.0, Z: 3.0}
	if slot.Object.Position != want {
		t.Errorf("Expected position %v, got %v", want, slot.Object.Position)
	}
	if slot.Object.TagIndex != 7 {
		t.Errorf("Expected tag index 7, got %d", slot.Object.TagIndex)
	}
	if slot.Handle() != engine.NewDatumHandle(5, 0xE1F5) {
		t.Errorf("Unexpected handle %s", slot.Handle())
	}

	name, ok := snap.ObjectTagName(5)
	if !ok || name != "weapons\\pistol" {
		t.Errorf("Expected tag name weapons\\pistol, got %q (%v)", name, ok)
	}

	local, ok := snap.OwningLocalPlayer(5)
	if !ok || local != 2 {
		t.Errorf("Expected slot 5 to be owned by local player 2, got %d (%v)", local, ok)
	}

	if n := snap.OccupiedCount(); n != 1 {
		t.Errorf("Expected 1 occupied slot, got %d", n)
	}
	for i, s := range snap.Objects {
		if i != 5 && s != nil {
			t.Errorf("Slot %d should be empty", i)
		}
	}

	player, ok := snap.Player(0)
	if !ok {
		t.Fatal("Expected player slot 0 to be live")
	}
	if player.Name != "Chief" {
		t.Errorf("Expected player name Chief, got %q", player.Name)
	}
	if snap.Tags[7] != "weapons\\pistol" {
		t.Errorf("Unexpected tag map: %v", snap.Tags)
	}
	if snap.ObjectPoolHeader.Name != "object" || snap.PlayerPoolHeader.Name != "players" {
		t.Errorf("Unexpected pool names %q and %q", snap.ObjectPoolHeader.Name, snap.PlayerPoolHeader.Name)
	}
}

func TestBuildSnapshotFailsOnCorruptGates(t *testing.T) {
	l := engine.DefaultLayout()
	testCases := []struct {
		name      string
		addr      uint32
		structure string
	}{
		{"object pool signature", l.ObjectPoolHeader + 40, engine.StructObjectPool},
		{"tag header footer", l.TagHeader + 36, engine.StructTagHeader},
		{"player pool signature", l.PlayerPoolHeader + 40, engine.StructPlayerPool},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := enginetest.New()
			b.AddObject(1, 1, 1, engine.Vector3{})
			b.PutUint32(tc.addr, 0xDEADBEEF)

			snap, err := engine.BuildSnapshot(b.Bytes(), b.Layout)
			if snap != nil {
				t.Fatal("Expected no snapshot")
			}
			if !errors.Is(err, engine.ErrSnapshotUnavailable) {
				t.Errorf("Expected ErrSnapshotUnavailable, got %v", err)
			}
			if !errors.Is(err, engine.ErrBadSignature) {
				t.Errorf("Expected ErrBadSignature, got %v", err)
			}
			var serr *engine.StructureError
			if !errors.As(err, &serr) || serr.Structure != tc.structure {
				t.Errorf("Expected failure in %s, got %v", tc.structure, err)
			}
		})
	}
}

func TestBuildSnapshotShortCapture(t *testing.T) {
	l := engine.DefaultLayout()
	b := enginetest.New()

	// Ends before the tag header
	short := b.Bytes()[:l.PlayerGlobals+8]
	snap, err := engine.BuildSnapshot(short, l)
	if snap != nil || !errors.Is(err, engine.ErrSnapshotUnavailable) {
		t.Fatalf("Expected unavailable snapshot, got %v, %v", snap, err)
	}
	if !errors.Is(err, engine.ErrOutOfBounds) {
		t.Errorf("Expected ErrOutOfBounds, got %v", err)
	}

	if _, err := engine.BuildSnapshot(nil, l); !errors.Is(err, engine.ErrSnapshotUnavailable) {
		t.Errorf("Expected unavailable snapshot for an empty capture, got %v", err)
	}
}

func TestBuildSnapshotRejectsInvalidLayout(t *testing.T) {
	l := engine.DefaultLayout()
	l.MaxLocalPlayers = -1
	_, err := engine.BuildSnapshot(enginetest.New().Bytes(), l)
	if !errors.Is(err, engine.ErrInvalidLayout) {
		t.Errorf("Expected ErrInvalidLayout, got %v", err)
	}
}

func TestObjectGuards(t *testing.T) {
	l := engine.DefaultLayout()
	testCases := []struct {
		name string
		head uint32
		tail uint32
		want bool
	}{
		{"both valid", l.ObjectHeadGuard, l.ObjectTailGuard, true},
		{"bad tail", l.ObjectHeadGuard, 0, false},
		{"bad head", 0, l.ObjectTailGuard, false},
		{"swapped", l.ObjectTailGuard, l.ObjectHeadGuard, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := enginetest.New()
			body := b.AddObject(9, 3, 1, engine.Vector3{X: 4})
			b.AddObject(10, 4, 1, engine.Vector3{X: 5})
			b.SetGuards(body, tc.head, tc.tail)

			snap := build(t, b)
			if _, ok := snap.Object(9); ok != tc.want {
				t.Errorf("Slot 9 occupied = %v, want %v", ok, tc.want)
			}
			if _, ok := snap.Object(10); !ok {
				t.Error("A bad neighbour should not empty slot 10")
			}
		})
	}
}

func TestObjectLinksOutOfBounds(t *testing.T) {
	l := engine.DefaultLayout()
	testCases := []struct {
		name string
		link uint32
	}{
		{"null link", 0},
		{"below bias", l.ObjectBodyBias - 1},
		{"past end of capture", 0x00FFFFFF},
		{"body straddles end", enginetest.DefaultSize + l.ObjectBodyBias - 20},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := enginetest.New()
			b.AddObject(3, 1, 1, engine.Vector3{})
			b.LinkObject(3, tc.link)

			snap := build(t, b)
			if _, ok := snap.Object(3); ok {
				t.Error("Slot with an unusable link should be empty")
			}
		})
	}
}

func TestObjectTableOutOfBounds(t *testing.T) {
	l := engine.DefaultLayout()
	b := enginetest.New()
	b.AddObject(0, 1, 1, engine.Vector3{})

	// Only the first few entries of the table remain inside the capture
	b.PutPointer(l.ObjectPoolHeader+52, enginetest.DefaultSize-3*enginetest.ObjectEntryStride)

	snap := build(t, b)
	if snap.OccupiedCount() != 0 {
		t.Errorf("Expected no occupied slots, got %d", snap.OccupiedCount())
	}
	if len(snap.Objects) != l.MaxObjects {
		t.Errorf("Expected %d slots, got %d", l.MaxObjects, len(snap.Objects))
	}
}

func TestDeclaredCountIsClamped(t *testing.T) {
	l := engine.DefaultLayout()
	b := enginetest.New()
	b.AddObject(2047, 1, 1, engine.Vector3{})
	b.PutUint16(l.ObjectPoolHeader+32, 0xFFFF)
	b.PutUint16(l.PlayerPoolHeader+32, 0xFFFF)

	snap := build(t, b)
	if len(snap.Objects) != 2048 || len(snap.Players) != 16 {
		t.Fatalf("Slot arrays must keep their capacity, got %d/%d", len(snap.Objects), len(snap.Players))
	}
	if _, ok := snap.Object(2047); !ok {
		t.Error("Expected the last slot to be occupied")
	}

	// A smaller declared count hides the slots above it
	b.PutUint16(l.ObjectPoolHeader+32, 100)
	snap = build(t, b)
	if _, ok := snap.Object(2047); ok {
		t.Error("Slots past the declared count should not be scanned")
	}
}

func TestDuplicateTagIndexFirstWins(t *testing.T) {
	b := enginetest.New()
	b.AddTag(7, "weap", "weapons\\pistol")
	b.AddTag(7, "weap", "weapons\\assault rifle")
	b.AddTag(8, "bipd", "characters\\cyborg")

	snap := build(t, b)
	if snap.Tags[7] != "weapons\\pistol" {
		t.Errorf("Expected the earlier entry to win, got %q", snap.Tags[7])
	}
	if snap.Tags[8] != "characters\\cyborg" {
		t.Errorf("Expected characters\\cyborg, got %q", snap.Tags[8])
	}
}

func TestBadTagEntriesAreSkipped(t *testing.T) {
	b := enginetest.New()
	b.AddTagEntry(1, "weap", 0x00FFFFF0)
	b.AddTag(2, "weap", "weapons\\plasma pistol")
	bad := b.AddString("xx")
	copy(b.Bytes()[bad:], []byte{0xFF, 0xFE})
	b.AddTagEntry(3, "weap", bad)
	b.AddTag(3, "weap", "weapons\\needler")

	// The second entry for index 1 decodes, so it takes the index
	b.AddTag(1, "weap", "weapons\\sniper rifle")

	snap := build(t, b)
	if len(snap.Tags) != 3 {
		t.Errorf("Expected 3 tags, got %d: %v", len(snap.Tags), snap.Tags)
	}
	if snap.Tags[1] != "weapons\\sniper rifle" {
		t.Errorf("Expected weapons\\sniper rifle, got %q", snap.Tags[1])
	}
	if snap.Tags[3] != "weapons\\needler" {
		t.Errorf("Expected weapons\\needler, got %q", snap.Tags[3])
	}
}

func TestOverlongTagPathIsSkipped(t *testing.T) {
	b := enginetest.New()
	b.AddTag(1, "weap", strings.Repeat("x", engine.MaxStringLen))
	b.AddTag(2, "weap", "weapons\\pistol")

	snap := build(t, b)
	if _, ok := snap.Tags[1]; ok {
		t.Error("A path without a terminator inside the length limit should be dropped")
	}
	if snap.Tags[2] != "weapons\\pistol" {
		t.Errorf("Later entries should still resolve, got %v", snap.Tags)
	}
}

func TestHugeTagCountStopsAtCaptureEnd(t *testing.T) {
	b := enginetest.New()
	b.AddTag(1, "weap", "weapons\\pistol")
	b.SetTagCount(math.MaxUint32)

	snap := build(t, b)
	if snap.Tags[1] != "weapons\\pistol" {
		t.Errorf("Expected weapons\\pistol, got %q", snap.Tags[1])
	}

	entries, err := engine.ReadTagEntries(b.Bytes(), b.Layout)
	if err != nil {
		t.Fatalf("Failed to read tag entries: %v", err)
	}
	if len(entries) == 0 || entries[0].ClassName() != "weap" {
		t.Errorf("Unexpected first tag entry: %+v", entries)
	}
}

func TestPlayerLivenessIsIDOnly(t *testing.T) {
	b := enginetest.New()
	b.AddObject(5, 1, 1, engine.Vector3{})
	b.AddPlayer(0, 0, 0, "Ghost", engine.NewDatumHandle(5, 1))
	b.AddPlayer(1, 0xEC71, 1, "", engine.NoHandle)

	snap := build(t, b)
	if _, ok := snap.Player(0); ok {
		t.Error("A player entry with id 0 must not occupy a slot")
	}
	if _, ok := snap.OwningLocalPlayer(5); ok {
		t.Error("An empty player slot must not own an object")
	}

	// No guard exists for player entries: any nonzero id counts as live,
	// even when the rest of the entry is garbage. Objects are gated by
	// their head and tail guards instead.
	p, ok := snap.Player(1)
	if !ok {
		t.Fatal("A player entry with a nonzero id should be live")
	}
	if p.Slot != 1 || !p.UnitHandle.IsNone() {
		t.Errorf("Unexpected player entry: %+v", p)
	}
	if len(snap.LivePlayers()) != 1 {
		t.Errorf("Expected 1 live player, got %d", len(snap.LivePlayers()))
	}
}

func TestOwningLocalPlayer(t *testing.T) {
	b := enginetest.New()
	b.AddObject(5, 1, 1, engine.Vector3{})
	b.AddObject(6, 1, 1, engine.Vector3{})
	b.AddPlayer(3, 0xEC73, 1, "", engine.NewDatumHandle(6, 1))
	b.AddPlayer(7, 0xEC77, 0, "", engine.NewDatumHandle(5, 9))

	snap := build(t, b)
	if local, ok := snap.OwningLocalPlayer(5); !ok || local != 0 {
		t.Errorf("Expected local player 0, got %d (%v)", local, ok)
	}
	if local, ok := snap.OwningLocalPlayer(6); !ok || local != 1 {
		t.Errorf("Expected local player 1, got %d (%v)", local, ok)
	}
	if _, ok := snap.OwningLocalPlayer(4); ok {
		t.Error("Expected no owner for slot 4")
	}
}

func TestDeadPlayerSlot(t *testing.T) {
	b := enginetest.New()
	b.AddObject(12, 0xE10C, 1, engine.Vector3{})
	b.SetDeadUnit(1, engine.NewDatumHandle(12, 0xE100))

	snap := build(t, b)
	// Matched by index; the id differs
	if i, ok := snap.DeadPlayerSlot(engine.NewDatumHandle(12, 0xE10C)); !ok || i != 1 {
		t.Errorf("Expected dead unit slot 1, got %d (%v)", i, ok)
	}
	if _, ok := snap.DeadPlayerSlot(engine.NewDatumHandle(13, 0)); ok {
		t.Error("Expected no dead unit slot for index 13")
	}
}

func TestSlotQueries(t *testing.T) {
	b := enginetest.New()
	b.AddObject(0, 1, 1, engine.Vector3{})
	b.AddObject(1, 1, 1, engine.Vector3{})
	body := b.AddObject(40, 2, 1, engine.Vector3{})

	snap := build(t, b)
	if got := snap.FirstFree(); got != 2 {
		t.Errorf("Expected first free slot 2, got %d", got)
	}
	if got := snap.HighestOccupied(); got != 40 {
		t.Errorf("Expected highest occupied slot 40, got %d", got)
	}
	if _, ok := snap.Handle(39); ok {
		t.Error("Expected no handle for an empty slot")
	}

	off, err := snap.PositionOffset(40)
	if err != nil {
		t.Fatalf("Failed to get position offset: %v", err)
	}
	if off != body+b.Layout.PositionOffset {
		t.Errorf("Expected offset 0x%X, got 0x%X", body+b.Layout.PositionOffset, off)
	}
	if _, err := snap.PositionOffset(39); err == nil {
		t.Error("Expected an error for an empty slot")
	}
	if _, ok := snap.Object(-1); ok {
		t.Error("Negative index should not be occupied")
	}
	if _, ok := snap.Object(4096); ok {
		t.Error("Index past capacity should not be occupied")
	}
}

func TestEncodePositionMatchesDecode(t *testing.T) {
	b := enginetest.New()
	body := b.AddObject(2, 1, 1, engine.Vector3{})
	pos := engine.Vector3{X: -12.5, Y: 0.25, Z: 1e6}
	copy(b.Bytes()[body+b.Layout.PositionOffset:], engine.EncodePosition(pos))

	slot, ok := build(t, b).Object(2)
	if !ok {
		t.Fatal("Expected slot 2 to be occupied")
	}
	if slot.Object.Position != pos {
		t.Errorf("Expected %v, got %v", pos, slot.Object.Position)
	}
}

func TestLocalPlayer(t *testing.T) {
	b := enginetest.New()
	b.AddPlayer(4, 0xEC74, 0, "Chief", engine.NoHandle)
	b.SetLocalPlayer(0, engine.NewDatumHandle(4, 0xEC74))

	snap := build(t, b)
	p, ok := snap.LocalPlayer(0)
	if !ok || p.Name != "Chief" {
		t.Errorf("Expected local player 0 to be Chief, got %+v (%v)", p, ok)
	}
	if _, ok := snap.LocalPlayer(1); ok {
		t.Error("Local player 1 is unset")
	}
	if _, ok := snap.LocalPlayer(9); ok {
		t.Error("Local player 9 is out of range")
	}
}

func TestSnapshotDoesNotAliasCapture(t *testing.T) {
	b := enginetest.New()
	b.AddObject(5, 1, 7, engine.Vector3{X: 1})
	b.AddTag(7, "weap", "weapons\\pistol")
	snap := build(t, b)

	for i := range b.Bytes() {
		b.Bytes()[i] = 0
	}
	slot, _ := snap.Object(5)
	if slot.Object.Position.X != 1 || snap.Tags[7] != "weapons\\pistol" {
		t.Error("Snapshot changed when the capture was overwritten")
	}
}
