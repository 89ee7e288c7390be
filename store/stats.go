package store

// Stats is a snapshot of store counters.
type Stats struct {
	StoreID   string `json:"store_id"`
	Keys      int    `json:"keys"`
	Pending   int    `json:"pending"`
	Writes    int64  `json:"writes"`
	Coalesced int64  `json:"coalesced"`
	Discarded int64  `json:"discarded"`
	Removed   int64  `json:"removed"`
	Expired   int64  `json:"expired"`
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	keys := s.index.Len()
	s.mu.RUnlock()

	q := s.queue.Stats()
	return Stats{
		StoreID:   s.id,
		Keys:      keys,
		Pending:   s.queue.Pending(),
		Writes:    q.Writes,
		Coalesced: q.Coalesced,
		Discarded: q.Discarded,
		Removed:   s.removed.Load(),
		Expired:   s.expired.Load(),
	}
}
