package engine

// Direction is the order a table is walked in
type Direction int

const (
	// Descending visits count-1 down to 0
	Descending Direction = iota
	// Ascending visits 0 up to count-1
	Ascending
)

// Table describes a fixed-stride slot table inside a capture
type Table struct {
	Base   uint32
	Stride int
	Count  int
}

// Address returns the address of slot index. It is computed in 64 bits
// so a corrupt base or count cannot wrap into a valid-looking address.
func (t Table) Address(index int) uint64 {
	return uint64(t.Base) + uint64(index)*uint64(t.Stride)
}

// Scan calls visit for each slot address in the given order. Scan stops
// early if visit returns false.
func (t Table) Scan(dir Direction, visit func(index int, addr uint64) bool) {
	if t.Count <= 0 || t.Stride <= 0 {
		return
	}
	if dir == Descending {
		for i := t.Count - 1; i >= 0; i-- {
			if !visit(i, t.Address(i)) {
				return
			}
		}
		return
	}
	for i := 0; i < t.Count; i++ {
		if !visit(i, t.Address(i)) {
			return
		}
	}
}

// clampCount limits a declared slot count to the table's capacity
func clampCount(declared, capacity int) int {
	if declared > capacity {
		return capacity
	}
	if declared < 0 {
		return 0
	}
	return declared
}

// scanObjects reads every object slot, keeping only bodies that pass the
// per-slot gate
func scanObjects(r *Reader, l Layout, header PoolHeader) []*ObjectSlot {
	slots := make([]*ObjectSlot, l.MaxObjects)
	table := Table{
		Base:   header.DataBegin,
		Stride: objectPoolEntrySize,
		Count:  clampCount(int(header.MaxSlots), l.MaxObjects),
	}

	table.Scan(Descending, func(index int, addr uint64) bool {
		entry, err := decodeObjectPoolEntry(r, addr)
		if err != nil {
			return true
		}
		bodyAddr, ok := l.bodyAddress(entry.BodyLink)
		if !ok {
			return true
		}
		obj, err := decodeGameObject(r, bodyAddr, l.PositionOffset)
		if err != nil || !l.validBody(obj) {
			return true
		}
		slots[index] = &ObjectSlot{
			Index:       uint16(index),
			Entry:       entry,
			Object:      obj,
			BodyAddress: bodyAddr,
		}
		return true
	})
	return slots
}

// scanPlayers reads every player slot, keeping those with a nonzero id
func scanPlayers(r *Reader, l Layout, header PoolHeader) []*PlayerPoolEntry {
	slots := make([]*PlayerPoolEntry, l.MaxPlayers)
	table := Table{
		Base:   header.DataBegin,
		Stride: playerPoolEntrySize,
		Count:  clampCount(int(header.MaxSlots), l.MaxPlayers),
	}

	table.Scan(Descending, func(index int, addr uint64) bool {
		player, err := decodePlayerPoolEntry(r, addr)
		if err != nil || !player.IsLive() {
			return true
		}
		player.Slot = index
		slots[index] = &player
		return true
	})
	return slots
}
