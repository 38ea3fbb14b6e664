package engine

// resolveTagNames maps tag index to tag path. The table is walked in
// ascending order and the first entry to decode for an index wins.
func resolveTagNames(r *Reader, header TagHeader) map[uint32]string {
	names := make(map[uint32]string)
	table := Table{
		Base:   header.ArrayBase,
		Stride: tagEntrySize,
		Count:  int(header.TagCount),
	}

	table.Scan(Ascending, func(_ int, addr uint64) bool {
		// Entries only move further out from here.
		if !r.InBounds(addr, tagEntrySize) {
			return false
		}
		entry, err := decodeTagEntry(r, addr)
		if err != nil {
			return true
		}
		if _, seen := names[entry.TagIndex]; seen {
			return true
		}
		name, err := r.CString(uint64(entry.PathAddress))
		if err != nil {
			return true
		}
		names[entry.TagIndex] = name
		return true
	})
	return names
}

// ReadTagEntries returns the raw tag catalog of a capture. Entries that
// fall outside the capture end the listing.
func ReadTagEntries(buf []byte, l Layout) ([]TagEntry, error) {
	r := NewReader(buf)
	header, err := decodeTagHeader(r, l.TagHeader)
	if err != nil {
		return nil, structureError(StructTagHeader, l.TagHeader, err)
	}
	if err := checkSignature(StructTagHeader, l.TagHeader, header.Footer, l.TagFooter); err != nil {
		return nil, err
	}

	var entries []TagEntry
	table := Table{Base: header.ArrayBase, Stride: tagEntrySize, Count: int(header.TagCount)}
	table.Scan(Ascending, func(_ int, addr uint64) bool {
		entry, err := decodeTagEntry(r, addr)
		if err != nil {
			return false
		}
		entries = append(entries, entry)
		return true
	})
	return entries, nil
}
