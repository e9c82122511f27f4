// Package history persists the frames exchanged with the monitor so a
// session can be inspected after the fact.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mattjoyce/vicebridge/internal/protocol"
)

// Direction says which way a recorded frame travelled.
type Direction string

const (
	DirectionSent        Direction = "sent"
	DirectionResponse    Direction = "response"
	DirectionUnsolicited Direction = "unsolicited"
)

// timeLayout sorts lexicographically, which the created_at index relies on.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one row of message_history.
type Entry struct {
	ID            string              `json:"id"`
	RequestID     uint32              `json:"request_id"`
	Direction     Direction           `json:"direction"`
	Kind          string              `json:"kind"`
	Internal      bool                `json:"internal"`
	ErrorCode     *protocol.ErrorCode `json:"error_code,omitempty"`
	Payload       []byte              `json:"-"`
	PayloadSize   int                 `json:"payload_size"`
	PayloadDigest string              `json:"payload_digest,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Envelope is the CBOR document kept in the payload column.
type Envelope struct {
	Message any    `cbor:"message" json:"message"`
	Data    []byte `cbor:"data,omitempty" json:"data,omitempty"`
}

var envelopeDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// Decode unpacks the stored payload. Maps decode with string keys so the
// result can be re-encoded as JSON.
func (e Entry) Decode() (Envelope, error) {
	var env Envelope
	if len(e.Payload) == 0 {
		return env, nil
	}
	if err := envelopeDecMode.Unmarshal(e.Payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode history payload %s: %w", e.ID, err)
	}
	return env, nil
}

// Store reads and writes message_history.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert writes e. ID and CreatedAt must be set.
func (s *Store) Insert(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return errors.New("history entry id is empty")
	}
	var code sql.NullInt64
	if e.ErrorCode != nil {
		code = sql.NullInt64{Int64: int64(*e.ErrorCode), Valid: true}
	}
	var digest sql.NullString
	if e.PayloadDigest != "" {
		digest = sql.NullString{String: e.PayloadDigest, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO message_history(id, request_id, direction, kind, internal, error_code, payload, payload_size, payload_digest, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, int64(e.RequestID), string(e.Direction), e.Kind, e.Internal, code, e.Payload, e.PayloadSize, digest,
		e.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, selectEntries+`
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent history: %w", err)
	}
	return scanEntries(rows)
}

// ByRequest returns every entry for requestID, oldest first.
func (s *Store) ByRequest(ctx context.Context, requestID uint32) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntries+`
WHERE request_id = ?
ORDER BY created_at ASC, rowid ASC;
`, int64(requestID))
	if err != nil {
		return nil, fmt.Errorf("query history for request %d: %w", requestID, err)
	}
	return scanEntries(rows)
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM message_history;").Scan(&n); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

// PruneBefore deletes entries created before cutoff and returns how many
// were removed.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM message_history WHERE created_at < ?;", cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune history rows affected: %w", err)
	}
	return n, nil
}

const selectEntries = `
SELECT id, request_id, direction, kind, internal, error_code, payload, payload_size, payload_digest, created_at
FROM message_history`

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			requestID int64
			direction string
			code      sql.NullInt64
			digest    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &requestID, &direction, &e.Kind, &e.Internal, &code, &e.Payload, &e.PayloadSize, &digest, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.RequestID = uint32(requestID)
		e.Direction = Direction(direction)
		if code.Valid {
			c := protocol.ErrorCode(code.Int64)
			e.ErrorCode = &c
		}
		e.PayloadDigest = digest.String
		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
		}
		e.CreatedAt = t
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}
