package diskstore

import "time"

// sweepLoop runs as a background goroutine for the lifetime of the Store,
// waking every SweepInterval to check total usage against MaxSize.
func (s *Store) sweepLoop() {
	defer close(s.sweepDone)

	if s.opts.MaxSize <= 0 {
		// No cap configured: eviction is a no-op, but we still need to
		// drain stopSweep so Close doesn't block.
		<-s.stopSweep
		return
	}

	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			if err := s.maybeEvict(); err != nil {
				s.log.Printf("diskstore: eviction sweep failed: %v", err)
			}
		}
	}
}

// maybeEvict checks current usage and, if over MaxSize, evicts entries
// according to the configured policy until usage falls under the low-water
// mark (MaxSize * LowWaterRatio).
func (s *Store) maybeEvict() error {
	var total int64
	if err := s.db.QueryRow(`SELECT COALESCE(SUM(size), 0) FROM blob_meta WHERE quarantined = 0`).Scan(&total); err != nil {
		return err
	}
	if total <= s.opts.MaxSize {
		return nil
	}

	target := int64(float64(s.opts.MaxSize) * s.opts.LowWaterRatio)
	victims := s.selectVictims(total, target)

	for _, hex := range victims {
		if _, err := s.db.Exec(`DELETE FROM blob_data WHERE hash = ?`, hex); err != nil {
			s.log.Printf("diskstore: eviction: failed to delete data for %s: %v", hex, err)
			continue
		}
		if _, err := s.db.Exec(`DELETE FROM blob_meta WHERE hash = ?`, hex); err != nil {
			s.log.Printf("diskstore: eviction: failed to delete metadata for %s: %v", hex, err)
			continue
		}
		s.indexRemove(hex)
		s.statsMu.Lock()
		s.stats.Evictions++
		s.statsMu.Unlock()
	}
	if len(victims) > 0 {
		s.log.Printf("diskstore: evicted %d entries under %s policy", len(victims), s.opts.EvictionPolicy)
	}
	return nil
}

// selectVictims returns the ordered list of hashes to remove to bring usage
// from total down to target, per the configured policy.
func (s *Store) selectVictims(total, target int64) []string {
	switch s.opts.EvictionPolicy {
	case PolicyTTL:
		return s.selectTTLVictims(total, target)
	case PolicyLFU:
		return s.selectLFUVictims(total, target)
	default:
		return s.selectLRUVictims(total, target)
	}
}

// selectLFUVictims walks the in-memory btree ascending by (access_count,
// last_accessed), the documented LFU tie-break rule, without re-scanning
// SQLite. A blob with access_count >= every other blob's is evicted only
// if size pressure forces removal of every item at the lowest frequency
// first — which is exactly what ascending iteration order guarantees.
func (s *Store) selectLFUVictims(total, target int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var victims []string
	remaining := total
	s.lfuIndex.Ascend(func(it lfuItem) bool {
		if remaining <= target {
			return false
		}
		victims = append(victims, it.hash)
		remaining -= it.size
		return true
	})
	return victims
}

func (s *Store) selectLRUVictims(total, target int64) []string {
	rows, err := s.db.Query(`SELECT hash, size FROM blob_meta WHERE quarantined = 0 ORDER BY last_accessed ASC`)
	if err != nil {
		s.log.Printf("diskstore: eviction: lru query failed: %v", err)
		return nil
	}
	defer rows.Close()

	var victims []string
	remaining := total
	for rows.Next() && remaining > target {
		var hash string
		var size int64
		if err := rows.Scan(&hash, &size); err != nil {
			break
		}
		victims = append(victims, hash)
		remaining -= size
	}
	return victims
}

// selectTTLVictims evicts anything older than DefaultTTL first; if that
// isn't enough to reach target, falls back to LRU ordering for the rest.
func (s *Store) selectTTLVictims(total, target int64) []string {
	if s.opts.DefaultTTL <= 0 {
		return s.selectLRUVictims(total, target)
	}
	cutoff := time.Now().Add(-s.opts.DefaultTTL).UnixNano()

	rows, err := s.db.Query(
		`SELECT hash, size FROM blob_meta WHERE quarantined = 0 AND created_at < ? ORDER BY created_at ASC`, cutoff)
	if err != nil {
		s.log.Printf("diskstore: eviction: ttl query failed: %v", err)
		return nil
	}

	var victims []string
	seen := make(map[string]bool)
	remaining := total
	for rows.Next() && remaining > target {
		var hash string
		var size int64
		if err := rows.Scan(&hash, &size); err != nil {
			break
		}
		victims = append(victims, hash)
		seen[hash] = true
		remaining -= size
	}
	rows.Close()

	if remaining > target {
		lru, err := s.db.Query(`SELECT hash, size FROM blob_meta WHERE quarantined = 0 ORDER BY last_accessed ASC`)
		if err != nil {
			s.log.Printf("diskstore: eviction: lru query failed: %v", err)
			return victims
		}
		defer lru.Close()
		for lru.Next() && remaining > target {
			var hash string
			var size int64
			if err := lru.Scan(&hash, &size); err != nil {
				break
			}
			if seen[hash] {
				continue
			}
			victims = append(victims, hash)
			remaining -= size
		}
	}
	return victims
}

// ascendCount is a test helper reporting how many entries the LFU index
// currently tracks.
func (s *Store) ascendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	s.lfuIndex.Ascend(func(lfuItem) bool { n++; return true })
	return n
}
