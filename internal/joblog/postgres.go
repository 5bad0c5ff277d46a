package joblog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"medtrack/internal/db"
	"medtrack/internal/types"
)

//go:embed schema.sql
var schemaSQL string

// commitHorizon bounds how recent an entry may be for the cursor to move past
// it when nothing is outstanding; sequence values can become visible out of
// order while concurrent appends commit.
const commitHorizon = 10 * time.Second

// PostgresStore is a Store shared by every worker process. Each method is a
// single SQL statement; leases are taken with FOR UPDATE SKIP LOCKED.
type PostgresStore struct {
	db DBTX
}

// DBTX aliases the repository connection interface.
type DBTX = db.DBTX

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(conn DBTX) *PostgresStore {
	return &PostgresStore{db: conn}
}

// Migrate applies the embedded schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply joblog schema: %w", err)
	}
	return nil
}

const appendSQL = `INSERT INTO joblog_entries (stream, partition, job_id, fingerprint, not_before, only_group, body)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7)
RETURNING seq`

const appendFingerprintSQL = `WITH claim AS (
    INSERT INTO joblog_fingerprints (stream, fingerprint, job_id)
    VALUES ($1, $4, $3)
    ON CONFLICT (stream, fingerprint) DO NOTHING
    RETURNING job_id
), inserted AS (
    INSERT INTO joblog_entries (stream, partition, job_id, fingerprint, not_before, body)
    SELECT $1, $2, $3, $4, $5, $6 FROM claim
    RETURNING job_id
)
SELECT job_id, FALSE FROM inserted
UNION ALL
SELECT f.job_id, TRUE FROM joblog_fingerprints f
WHERE f.stream = $1 AND f.fingerprint = $4 AND NOT EXISTS (SELECT 1 FROM claim)`

const holderSQL = `SELECT job_id FROM joblog_fingerprints WHERE stream = $1 AND fingerprint = $2`

func (s *PostgresStore) Append(ctx context.Context, e Entry) (types.JobID, bool, error) {
	if e.Fingerprint == "" {
		var seq int64
		err := s.db.QueryRow(ctx, appendSQL, e.Stream, e.Partition, string(e.ID), "", e.NotBefore, e.OnlyGroup, e.Body).Scan(&seq)
		if err != nil {
			return "", false, err
		}
		return e.ID, false, nil
	}

	var (
		id  string
		dup bool
	)
	err := s.db.QueryRow(ctx, appendFingerprintSQL, e.Stream, e.Partition, string(e.ID), e.Fingerprint, e.NotBefore, e.Body).Scan(&id, &dup)
	if errors.Is(err, pgx.ErrNoRows) {
		// A concurrent append took the fingerprint after this statement's
		// snapshot; read the committed holder.
		err = s.db.QueryRow(ctx, holderSQL, e.Stream, e.Fingerprint).Scan(&id)
		dup = true
	}
	if err != nil {
		return "", false, err
	}
	return types.JobID(id), dup, nil
}

const claimSQL = `WITH candidates AS (
    SELECT e.seq
    FROM joblog_entries e
    LEFT JOIN joblog_cursors c
           ON c.stream = e.stream AND c.group_name = $2 AND c.partition = e.partition
    WHERE e.stream = $1
      AND e.seq > COALESCE(c.position, 0)
      AND NOT e.tombstoned
      AND e.not_before <= $4
      AND (e.only_group IS NULL OR e.only_group = $2)
      AND NOT EXISTS (SELECT 1 FROM joblog_acks a WHERE a.group_name = $2 AND a.seq = e.seq)
      AND NOT EXISTS (SELECT 1 FROM joblog_leases l WHERE l.group_name = $2 AND l.seq = e.seq AND l.lease_until > $4)
    ORDER BY e.seq
    LIMIT $6
    FOR UPDATE OF e SKIP LOCKED
), claimed AS (
    INSERT INTO joblog_leases (group_name, seq, consumer, lease_until)
    SELECT $2, seq, $3, $5 FROM candidates
    ON CONFLICT (group_name, seq) DO UPDATE
        SET consumer = EXCLUDED.consumer, lease_until = EXCLUDED.lease_until
        WHERE joblog_leases.lease_until <= $4
    RETURNING seq
)
SELECT e.seq, e.partition, e.job_id, COALESCE(e.fingerprint, ''), e.not_before, COALESCE(e.only_group, ''), e.body
FROM joblog_entries e
JOIN claimed USING (seq)
ORDER BY e.seq`

func (s *PostgresStore) Claim(ctx context.Context, stream, group, consumer string, now time.Time, lease time.Duration, limit int) ([]Entry, error) {
	rows, err := s.db.Query(ctx, claimSQL, stream, group, consumer, now, now.Add(lease), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e := Entry{Stream: stream}
		var id string
		if err := rows.Scan(&e.Seq, &e.Partition, &id, &e.Fingerprint, &e.NotBefore, &e.OnlyGroup, &e.Body); err != nil {
			return nil, err
		}
		e.ID = types.JobID(id)
		out = append(out, e)
	}
	return out, rows.Err()
}

const ackSQL = `WITH target AS (
    SELECT e.seq, e.partition FROM joblog_entries e
    WHERE e.stream = $1 AND e.job_id = $3 AND NOT e.tombstoned
      AND (e.only_group IS NULL OR e.only_group = $2)
      AND NOT EXISTS (SELECT 1 FROM joblog_acks a WHERE a.group_name = $2 AND a.seq = e.seq)
), acked AS (
    INSERT INTO joblog_acks (group_name, seq)
    SELECT $2, seq FROM target
    ON CONFLICT DO NOTHING
    RETURNING seq
), released AS (
    DELETE FROM joblog_leases WHERE group_name = $2 AND seq IN (SELECT seq FROM acked)
), fingerprint AS (
    DELETE FROM joblog_fingerprints
    WHERE stream = $1 AND job_id = $3 AND EXISTS (SELECT 1 FROM acked)
)
SELECT DISTINCT t.partition FROM target t JOIN acked USING (seq)`

// advanceSQL moves the cursor to just before the first entry still owed to
// the group, or to the newest entry older than the commit horizon.
const advanceSQL = `WITH cur AS (
    SELECT COALESCE(MAX(position), 0) AS position FROM joblog_cursors
    WHERE stream = $1 AND group_name = $2 AND partition = $3
), owed AS (
    SELECT MIN(e.seq) AS seq FROM joblog_entries e, cur
    WHERE e.stream = $1 AND e.partition = $3 AND e.seq > cur.position
      AND NOT e.tombstoned
      AND (e.only_group IS NULL OR e.only_group = $2)
      AND NOT EXISTS (SELECT 1 FROM joblog_acks a WHERE a.group_name = $2 AND a.seq = e.seq)
), settled AS (
    SELECT COALESCE(MAX(e.seq), 0) AS seq FROM joblog_entries e
    WHERE e.stream = $1 AND e.partition = $3 AND e.created_at <= $4
)
INSERT INTO joblog_cursors (stream, group_name, partition, position)
SELECT $1, $2, $3, CASE WHEN owed.seq IS NULL THEN settled.seq ELSE LEAST(owed.seq - 1, settled.seq) END
FROM owed, settled
ON CONFLICT (stream, group_name, partition) DO UPDATE
    SET position = GREATEST(joblog_cursors.position, EXCLUDED.position)`

func (s *PostgresStore) Ack(ctx context.Context, stream, group string, id types.JobID) error {
	rows, err := s.db.Query(ctx, ackSQL, stream, group, string(id))
	if err != nil {
		return err
	}
	partitions, err := collectInts(rows)
	if err != nil {
		return err
	}
	for _, p := range partitions {
		if err := s.advance(ctx, stream, group, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) advance(ctx context.Context, stream, group string, partition int) error {
	_, err := s.db.Exec(ctx, advanceSQL, stream, group, partition, time.Now().Add(-commitHorizon))
	return err
}

const nackSQL = `WITH target AS (
    SELECT e.seq FROM joblog_entries e
    WHERE e.stream = $1 AND e.job_id = $3 AND NOT e.tombstoned
      AND (e.only_group IS NULL OR e.only_group = $2)
      AND NOT EXISTS (SELECT 1 FROM joblog_acks a WHERE a.group_name = $2 AND a.seq = e.seq)
), acked AS (
    INSERT INTO joblog_acks (group_name, seq)
    SELECT $2, seq FROM target
    ON CONFLICT DO NOTHING
    RETURNING seq
), released AS (
    DELETE FROM joblog_leases WHERE group_name = $2 AND seq IN (SELECT seq FROM acked)
)
INSERT INTO joblog_entries (stream, partition, job_id, fingerprint, not_before, only_group, body)
SELECT $1, $4, $3, NULLIF($5, ''), $6, $2, $7
WHERE EXISTS (SELECT 1 FROM acked)
RETURNING seq`

func (s *PostgresStore) Nack(ctx context.Context, group string, next Entry) (bool, error) {
	var seq int64
	err := s.db.QueryRow(ctx, nackSQL, next.Stream, group, string(next.ID), next.Partition, next.Fingerprint, next.NotBefore, next.Body).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, s.advance(ctx, next.Stream, group, next.Partition)
}

const deadLetterSQL = `WITH guard AS (
    INSERT INTO joblog_dead (stream, job_id) VALUES ($1, $2)
    ON CONFLICT DO NOTHING
    RETURNING job_id
), tombstoned AS (
    UPDATE joblog_entries SET tombstoned = TRUE
    WHERE stream = $1 AND job_id = $2 AND EXISTS (SELECT 1 FROM guard)
    RETURNING seq
), released AS (
    DELETE FROM joblog_leases WHERE seq IN (SELECT seq FROM tombstoned)
), fingerprint AS (
    DELETE FROM joblog_fingerprints
    WHERE stream = $1 AND job_id = $2 AND EXISTS (SELECT 1 FROM guard)
)
INSERT INTO joblog_entries (stream, partition, job_id, not_before, body)
SELECT $3, $4, $2, $5, $6 FROM guard
RETURNING seq`

func (s *PostgresStore) DeadLetter(ctx context.Context, stream string, id types.JobID, dead Entry) (bool, error) {
	var seq int64
	err := s.db.QueryRow(ctx, deadLetterSQL, stream, string(id), dead.Stream, dead.Partition, dead.NotBefore, dead.Body).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

const ensureGroupSQL = `INSERT INTO joblog_cursors (stream, group_name, partition, position)
SELECT $1, $2, p, 0 FROM generate_series(0, $3 - 1) AS p
ON CONFLICT DO NOTHING`

func (s *PostgresStore) EnsureGroup(ctx context.Context, stream, group string, partitions int) error {
	_, err := s.db.Exec(ctx, ensureGroupSQL, stream, group, partitions)
	return err
}

const resetCursorSQL = `WITH forgotten AS (
    DELETE FROM joblog_acks a
    USING joblog_entries e
    WHERE a.seq = e.seq AND a.group_name = $2
      AND e.stream = $1 AND e.partition = $3 AND e.seq > $4
)
INSERT INTO joblog_cursors (stream, group_name, partition, position)
VALUES ($1, $2, $3, $4)
ON CONFLICT (stream, group_name, partition) DO UPDATE SET position = EXCLUDED.position`

func (s *PostgresStore) ResetCursor(ctx context.Context, stream, group string, partition int, seq int64) error {
	_, err := s.db.Exec(ctx, resetCursorSQL, stream, group, partition, seq)
	return err
}

const statsSQL = `SELECT e.partition,
    COALESCE(MAX(c.position), 0),
    COUNT(*) FILTER (WHERE NOT e.tombstoned AND a.seq IS NULL AND (l.lease_until IS NULL OR l.lease_until <= $3) AND e.not_before <= $3),
    COUNT(*) FILTER (WHERE NOT e.tombstoned AND a.seq IS NULL AND l.lease_until > $3),
    COUNT(*) FILTER (WHERE NOT e.tombstoned AND a.seq IS NULL AND (l.lease_until IS NULL OR l.lease_until <= $3) AND e.not_before > $3),
    COUNT(*) FILTER (WHERE NOT e.tombstoned AND a.seq IS NOT NULL),
    COUNT(*) FILTER (WHERE e.tombstoned)
FROM joblog_entries e
LEFT JOIN joblog_acks a ON a.group_name = $2 AND a.seq = e.seq
LEFT JOIN joblog_leases l ON l.group_name = $2 AND l.seq = e.seq
LEFT JOIN joblog_cursors c ON c.stream = e.stream AND c.group_name = $2 AND c.partition = e.partition
WHERE e.stream = $1 AND (e.only_group IS NULL OR e.only_group = $2)
GROUP BY e.partition
ORDER BY e.partition`

func (s *PostgresStore) Stats(ctx context.Context, stream, group string, now time.Time) ([]PartitionStats, error) {
	rows, err := s.db.Query(ctx, statsSQL, stream, group, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PartitionStats
	for rows.Next() {
		var p PartitionStats
		if err := rows.Scan(&p.Partition, &p.Cursor, &p.Pending, &p.Leased, &p.Delayed, &p.Acked, &p.Dead); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const purgeSQL = `WITH horizon AS (
    SELECT partition, MIN(position) AS position
    FROM joblog_cursors
    WHERE stream = $1
    GROUP BY partition
), doomed AS (
    SELECT e.seq
    FROM joblog_entries e
    JOIN horizon h ON h.partition = e.partition
    WHERE e.stream = $1 AND e.seq <= h.position AND e.not_before < $2
    ORDER BY e.seq
    LIMIT $3
)
DELETE FROM joblog_entries WHERE seq IN (SELECT seq FROM doomed)`

// Purge deletes in one statement; acks and leases go with their entries.
func (s *PostgresStore) Purge(ctx context.Context, stream string, before time.Time, limit int) (int64, error) {
	tag, err := s.db.Exec(ctx, purgeSQL, stream, before, limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func collectInts(rows pgx.Rows) ([]int, error) {
	defer rows.Close()
	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
