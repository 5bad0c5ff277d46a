package joblog

import (
	"context"
	"time"

	"medtrack/internal/types"
)

// Entry is one record in a stream. Sequence numbers are assigned by the store,
// are unique per store and increase with append order; cursors are expressed
// in them. Body is the JSON encoding of a NotificationJob or DeadLetterRecord.
type Entry struct {
	Seq         int64
	Stream      string
	Partition   int
	ID          types.JobID
	Fingerprint string
	NotBefore   time.Time
	// OnlyGroup restricts visibility to one consumer group (retry entries).
	OnlyGroup string
	Body      []byte
}

// Store is the durable backing of a JobLog. Every method is atomic: a crash
// or a concurrent caller never observes half of an operation.
type Store interface {
	// Append adds e to its stream. When e.Fingerprint is held by a live entry
	// nothing is appended and the holder's ID is returned with duplicate=true.
	Append(ctx context.Context, e Entry) (id types.JobID, duplicate bool, err error)

	// Claim leases up to limit entries visible to group at now, in sequence
	// order, to consumer until now+lease.
	Claim(ctx context.Context, stream, group, consumer string, now time.Time, lease time.Duration, limit int) ([]Entry, error)

	// Ack marks every live entry of id visible to group as acked by group,
	// releases its leases and the job's fingerprint. Unknown or already acked
	// ids are a no-op.
	Ack(ctx context.Context, stream, group string, id types.JobID) error

	// Nack acks the live entry of next.ID for group and appends next, visible
	// only to group. Returns false without appending when there was nothing
	// left to ack (already acked, dead-lettered or unknown).
	Nack(ctx context.Context, group string, next Entry) (bool, error)

	// DeadLetter tombstones every entry of id in stream, releases its
	// fingerprint and appends dead once. Returns false when id was already
	// dead-lettered.
	DeadLetter(ctx context.Context, stream string, id types.JobID, dead Entry) (bool, error)

	// EnsureGroup registers group with a cursor at zero on partitions [0, n).
	EnsureGroup(ctx context.Context, stream, group string, partitions int) error

	// ResetCursor moves group's cursor on partition to seq and forgets its
	// acks above it so those entries are delivered again.
	ResetCursor(ctx context.Context, stream, group string, partition int, seq int64) error

	// Stats reports per-partition counts for group at now.
	Stats(ctx context.Context, stream, group string, now time.Time) ([]PartitionStats, error)

	// Purge deletes up to limit entries of stream that every registered group's
	// cursor has passed and whose NotBefore is earlier than before. Returns the
	// number deleted.
	Purge(ctx context.Context, stream string, before time.Time, limit int) (int64, error)
}

// PartitionStats counts the entries of one partition from a group's view.
type PartitionStats struct {
	Partition int   `json:"partition"`
	Cursor    int64 `json:"cursor"`
	Pending   int64 `json:"pending"`
	Leased    int64 `json:"leased"`
	Delayed   int64 `json:"delayed"`
	Acked     int64 `json:"acked"`
	Dead      int64 `json:"dead"`
}

// Stats is the ops view of a stream for one group.
type Stats struct {
	Stream     string           `json:"stream"`
	Group      string           `json:"group"`
	Partitions []PartitionStats `json:"partitions"`
	Total      PartitionStats   `json:"total"`
}

func summarize(stream, group string, parts []PartitionStats) Stats {
	s := Stats{Stream: stream, Group: group, Partitions: parts, Total: PartitionStats{Partition: -1}}
	for _, p := range parts {
		s.Total.Pending += p.Pending
		s.Total.Leased += p.Leased
		s.Total.Delayed += p.Delayed
		s.Total.Acked += p.Acked
		s.Total.Dead += p.Dead
	}
	return s
}
