package viewer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/willibrandon/haloscope/pkg/engine"
)

const unknownTag = "UNKNOWN"

// printObjects shows the object table from the highest occupied slot down.
// The first free slot is drawn in orange since the pool header's next index
// does not always agree with it.
func (v *Viewer) printObjects(all bool) {
	if !v.ready() {
		return
	}
	s := v.snap
	firstFree := s.FirstFree()
	header := s.ObjectPoolHeader

	v.printf("Next Object Index: %d (%d)  Next Object ID: %d  Objects: %d/%d\n",
		header.NextIndex, firstFree, header.NextID, s.OccupiedCount(), len(s.Objects))
	v.printf("  %-11s %-6s %-6s %-6s %-44s %s\n", "Datum", "Index", "ID", "Player", "Coordinates", "Tag Name")

	for index := s.HighestOccupied(); index >= 0; index-- {
		slot, ok := s.Object(index)
		if !ok && !all && index != firstFree {
			continue
		}

		marker := " "
		if index == v.target {
			marker = v.pal.grey.Sprint(">")
		}

		if !ok {
			c := v.pal.red
			if index == firstFree {
				c = v.pal.orange
			}
			v.printf("%s %-11s %s Free\n", marker, "", c.Sprintf("%-6d", index))
			continue
		}

		slotColor := v.pal.green
		if index == firstFree {
			slotColor = v.pal.orange
		}
		idText := fmt.Sprintf("%-6d", slot.Entry.ID)
		if slot.Entry.ID == header.NextID {
			idText = v.pal.orange.Sprint(idText)
		}

		tag, ok := s.TagName(slot.Object.TagIndex)
		if !ok {
			tag = unknownTag
		}

		v.printf("%s %s %s %s %s %-44s %s\n",
			marker,
			slotColor.Sprintf("%-11d", slot.Handle().Raw()),
			slotColor.Sprintf("%-6d", index),
			idText,
			v.ownerColumn(slot),
			slot.Object.Position.String(),
			tag,
		)
	}
}

// ownerColumn names the local player controlling the slot in green, or the
// local player whose next unit it is in red
func (v *Viewer) ownerColumn(slot *engine.ObjectSlot) string {
	if local, ok := v.snap.OwningLocalPlayer(slot.Index); ok {
		return v.pal.green.Sprintf("%-6d", local)
	}
	if dead, ok := v.snap.DeadPlayerSlot(slot.Handle()); ok {
		return v.pal.red.Sprintf("%-6d", dead)
	}
	return fmt.Sprintf("%-6s", "")
}

// printPlayers shows every live player and, per local player, the current
// and next unit positions
func (v *Viewer) printPlayers() {
	if !v.ready() {
		return
	}
	s := v.snap

	live := s.LivePlayers()
	v.printf("Players: %d live of %d\n", len(live), len(s.Players))
	for _, p := range live {
		v.printf("  [%2d] %-12s id %-6d local %-3d unit %s\n", p.Slot, p.Name, p.ID, p.LocalPlayerIndex, p.UnitHandle)
	}

	for i := 0; i < len(s.Globals.LocalPlayers); i++ {
		v.printf("Player %d -----------\n", i)
		v.printPositions(i)
	}
}

func (v *Viewer) printPositions(localIndex int) {
	s := v.snap
	o := v.pal.orange

	if p, ok := s.LocalPlayer(localIndex); ok {
		v.println(o.Sprintf("Object Datum: %s", p.UnitHandle))
		v.println(o.Sprintf("Position: %s", v.positionOf(p.UnitHandle)))
	} else {
		v.println(o.Sprint("Unit Handle: None"))
		v.println(o.Sprint("Position: None"))
	}

	dead := s.Globals.LocalDeadUnits[localIndex]
	v.println(o.Sprintf("Next Datum Position: %s", v.positionOf(dead)))

	if p, ok := s.LocalPlayer(localIndex); ok {
		v.println(o.Sprintf("Last Object Datum: %s", p.LastUnitHandle))
	} else {
		v.println(o.Sprint("Last Unit Handle: None"))
	}
}

// positionOf resolves a handle by index only, like the game does
func (v *Viewer) positionOf(h engine.DatumHandle) string {
	if h.IsNone() {
		return "None"
	}
	slot, ok := v.snap.Object(int(h.Index()))
	if !ok {
		return "None"
	}
	return slot.Object.Position.String()
}

func (v *Viewer) printGlobals() {
	if !v.ready() {
		return
	}
	g := v.snap.Globals
	o := v.pal.orange

	v.println(o.Sprintf("Respawn Failure: %d", g.RespawnFailure))
	v.println(o.Sprintf("Are All Dead: %t", g.AreAllDead))
	v.println(o.Sprintf("Input Disabled: %t", g.InputDisabled))
	v.println(o.Sprintf("Teleported: %t", g.Teleported))
	v.println(o.Sprintf("Local Player Count: %d", g.LocalPlayerCount))
	v.println(o.Sprintf("Double Speed Ticks Remaining: %d", g.DoubleSpeedTicksRemaining))
	v.println(o.Sprintf("BSP Index: %d", g.BSPIndex))
	v.println("-----------")
	v.println(o.Sprintf("Local Players: %s", joinHandles(g.LocalPlayers)))
	v.println(o.Sprintf("Next Player Object Datum: %s", joinHandles(g.LocalDeadUnits)))
}

func joinHandles(hs []engine.DatumHandle) string {
	parts := make([]string, len(hs))
	for i, h := range hs {
		parts[i] = h.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (v *Viewer) printTags(filter string) {
	if !v.ready() {
		return
	}

	indices := make([]uint32, 0, len(v.snap.Tags))
	for index, name := range v.snap.Tags {
		if filter == "" || strings.Contains(strings.ToLower(name), strings.ToLower(filter)) {
			indices = append(indices, index)
		}
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	for _, index := range indices {
		v.printf("  %-6d %s\n", index, v.snap.Tags[index])
	}
	v.printf("%d of %d tags\n", len(indices), len(v.snap.Tags))
}
