package joblog

import (
	"context"
	"sort"
	"sync"
	"time"

	"medtrack/internal/types"
)

type lease struct {
	consumer string
	until    time.Time
}

type memEntry struct {
	Entry
	tombstoned bool
	acked      map[string]bool
	leases     map[string]lease
}

func (e *memEntry) outstandingFor(group string) bool {
	return !e.tombstoned && (e.OnlyGroup == "" || e.OnlyGroup == group) && !e.acked[group]
}

type memStream struct {
	entries      []*memEntry
	byID         map[types.JobID][]*memEntry
	fingerprints map[string]types.JobID
	fpOf         map[types.JobID]string
	dead         map[types.JobID]bool
	cursors      map[string]map[int]int64
}

// MemoryStore is a process-local Store for tests and single-process runs.
type MemoryStore struct {
	mu      sync.Mutex
	seq     int64
	streams map[string]*memStream
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[string]*memStream)}
}

func (s *MemoryStore) stream(name string) *memStream {
	st, ok := s.streams[name]
	if !ok {
		st = &memStream{
			byID:         make(map[types.JobID][]*memEntry),
			fingerprints: make(map[string]types.JobID),
			fpOf:         make(map[types.JobID]string),
			dead:         make(map[types.JobID]bool),
			cursors:      make(map[string]map[int]int64),
		}
		s.streams[name] = st
	}
	return st
}

func (st *memStream) cursor(group string) map[int]int64 {
	c, ok := st.cursors[group]
	if !ok {
		c = make(map[int]int64)
		st.cursors[group] = c
	}
	return c
}

func (s *MemoryStore) append(st *memStream, e Entry) {
	s.seq++
	e.Seq = s.seq
	me := &memEntry{Entry: e, acked: map[string]bool{}, leases: map[string]lease{}}
	st.entries = append(st.entries, me)
	st.byID[e.ID] = append(st.byID[e.ID], me)
}

func (st *memStream) releaseFingerprint(id types.JobID) {
	if fp, ok := st.fpOf[id]; ok {
		delete(st.fingerprints, fp)
		delete(st.fpOf, id)
	}
}

// advance moves group's cursor on partition past every leading entry that no
// longer needs delivery to group.
func (st *memStream) advance(group string, partition int) {
	cur := st.cursor(group)
	pos := cur[partition]
	for _, e := range st.entries {
		if e.Partition != partition || e.Seq <= pos {
			continue
		}
		if e.outstandingFor(group) {
			break
		}
		pos = e.Seq
	}
	cur[partition] = pos
}

func (s *MemoryStore) Append(_ context.Context, e Entry) (types.JobID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(e.Stream)
	if e.Fingerprint != "" {
		if holder, ok := st.fingerprints[e.Fingerprint]; ok {
			return holder, true, nil
		}
		st.fingerprints[e.Fingerprint] = e.ID
		st.fpOf[e.ID] = e.Fingerprint
	}
	s.append(st, e)
	return e.ID, false, nil
}

func (s *MemoryStore) Claim(_ context.Context, stream, group, consumer string, now time.Time, leaseFor time.Duration, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(stream)
	cur := st.cursor(group)
	var out []Entry
	for _, e := range st.entries {
		if len(out) >= limit {
			break
		}
		if e.Seq <= cur[e.Partition] || !e.outstandingFor(group) || e.NotBefore.After(now) {
			continue
		}
		if l, ok := e.leases[group]; ok && l.until.After(now) {
			continue
		}
		e.leases[group] = lease{consumer: consumer, until: now.Add(leaseFor)}
		out = append(out, e.Entry)
	}
	return out, nil
}

func (s *MemoryStore) ack(st *memStream, group string, id types.JobID) bool {
	acked := false
	for _, e := range st.byID[id] {
		if !e.outstandingFor(group) {
			continue
		}
		e.acked[group] = true
		delete(e.leases, group)
		st.advance(group, e.Partition)
		acked = true
	}
	return acked
}

func (s *MemoryStore) Ack(_ context.Context, stream, group string, id types.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(stream)
	if s.ack(st, group, id) {
		st.releaseFingerprint(id)
	}
	return nil
}

func (s *MemoryStore) Nack(_ context.Context, group string, next Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(next.Stream)
	if !s.ack(st, group, next.ID) {
		return false, nil
	}
	next.OnlyGroup = group
	s.append(st, next)
	return true, nil
}

func (s *MemoryStore) DeadLetter(_ context.Context, stream string, id types.JobID, dead Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(stream)
	if st.dead[id] {
		return false, nil
	}
	st.dead[id] = true
	for _, e := range st.byID[id] {
		e.tombstoned = true
		e.leases = map[string]lease{}
	}
	st.releaseFingerprint(id)
	s.append(s.stream(dead.Stream), dead)
	return true, nil
}

func (s *MemoryStore) EnsureGroup(_ context.Context, stream, group string, partitions int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.stream(stream).cursor(group)
	for p := 0; p < partitions; p++ {
		if _, ok := cur[p]; !ok {
			cur[p] = 0
		}
	}
	return nil
}

func (s *MemoryStore) ResetCursor(_ context.Context, stream, group string, partition int, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(stream)
	st.cursor(group)[partition] = seq
	for _, e := range st.entries {
		if e.Partition == partition && e.Seq > seq {
			delete(e.acked, group)
			delete(e.leases, group)
		}
	}
	return nil
}

func (s *MemoryStore) Stats(_ context.Context, stream, group string, now time.Time) ([]PartitionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(stream)
	cur := st.cursor(group)
	byPart := map[int]*PartitionStats{}
	get := func(p int) *PartitionStats {
		ps, ok := byPart[p]
		if !ok {
			ps = &PartitionStats{Partition: p, Cursor: cur[p]}
			byPart[p] = ps
		}
		return ps
	}
	for p := range cur {
		get(p)
	}
	for _, e := range st.entries {
		if e.OnlyGroup != "" && e.OnlyGroup != group {
			continue
		}
		ps := get(e.Partition)
		l, leased := e.leases[group]
		switch {
		case e.tombstoned:
			ps.Dead++
		case e.acked[group]:
			ps.Acked++
		case leased && l.until.After(now):
			ps.Leased++
		case e.NotBefore.After(now):
			ps.Delayed++
		default:
			ps.Pending++
		}
	}

	out := make([]PartitionStats, 0, len(byPart))
	for _, ps := range byPart {
		out = append(out, *ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Partition < out[j].Partition })
	return out, nil
}

func (s *MemoryStore) Purge(_ context.Context, stream string, before time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(stream)
	horizon := map[int]int64{}
	for _, cur := range st.cursors {
		for p, pos := range cur {
			if h, ok := horizon[p]; !ok || pos < h {
				horizon[p] = pos
			}
		}
	}

	var purged int64
	kept := st.entries[:0]
	for _, e := range st.entries {
		h, ok := horizon[e.Partition]
		if int(purged) < limit && ok && e.Seq <= h && e.NotBefore.Before(before) {
			purged++
			st.forget(e)
			continue
		}
		kept = append(kept, e)
	}
	clear(st.entries[len(kept):])
	st.entries = kept
	return purged, nil
}

func (st *memStream) forget(e *memEntry) {
	siblings := st.byID[e.ID]
	for i, other := range siblings {
		if other == e {
			siblings = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(siblings) == 0 {
		delete(st.byID, e.ID)
		delete(st.dead, e.ID)
		st.releaseFingerprint(e.ID)
		return
	}
	st.byID[e.ID] = siblings
}
