package memory

// Reconstruct derives the active conversation from a user's records.
//
// records must be ordered oldest first, as returned by the message log. The
// scan runs from the newest record backwards and stops at the first reset
// record it meets; the reset itself and everything older are dropped. The
// result is oldest first. It is empty when records is empty or when the
// newest record is a reset.
func Reconstruct(records []Record) []Turn {
	start := len(records)
	for start > 0 {
		if records[start-1].Kind.IsReset() {
			break
		}
		start--
	}

	turns := make([]Turn, 0, len(records)-start)
	for _, rec := range records[start:] {
		role, ok := RoleFor(rec.Kind)
		if !ok {
			continue
		}
		turns = append(turns, Turn{Role: role, Content: rec.Content})
	}
	return turns
}

// LastIsReset reports whether the newest record is a reset boundary.
func LastIsReset(records []Record) bool {
	return len(records) > 0 && records[len(records)-1].Kind.IsReset()
}
