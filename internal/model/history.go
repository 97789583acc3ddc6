package model

// UpsertHistory puts e at the front of the list, dropping any older entry with
// the same ID. The input slice is not modified.
func UpsertHistory(list []HistoricalDebateEntry, e HistoricalDebateEntry) []HistoricalDebateEntry {
	out := make([]HistoricalDebateEntry, 0, len(list)+1)
	out = append(out, e.Clone())
	for _, old := range list {
		if old.ID != e.ID {
			out = append(out, old)
		}
	}
	return out
}

// RemoveHistory returns list without the entry with the given id.
func RemoveHistory(list []HistoricalDebateEntry, id string) []HistoricalDebateEntry {
	out := make([]HistoricalDebateEntry, 0, len(list))
	for _, e := range list {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}

// FindHistory looks up an entry by id.
func FindHistory(list []HistoricalDebateEntry, id string) (HistoricalDebateEntry, bool) {
	for _, e := range list {
		if e.ID == id {
			return e.Clone(), true
		}
	}
	return HistoricalDebateEntry{}, false
}
