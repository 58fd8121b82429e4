package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ezzatsd/CynaApp/internal/platform/sqldb"
)

const recordColumns = `key_hash, idem_key, fingerprint, status, response_status, response_headers,
	response_body, created_at, updated_at, expires_at`

// SQLStore keeps records in the idempotency_keys table so replays survive restarts and
// are shared by every instance.
type SQLStore struct {
	provider *sqldb.Provider
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore constructs a store on the shared database provider.
func NewSQLStore(provider *sqldb.Provider) (*SQLStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency sql store: provider is required")
	}
	return &SQLStore{provider: provider}, nil
}

type recordRow struct {
	KeyHash         string        `db:"key_hash"`
	Key             string        `db:"idem_key"`
	Fingerprint     string        `db:"fingerprint"`
	Status          string        `db:"status"`
	ResponseStatus  sql.NullInt64 `db:"response_status"`
	ResponseHeaders []byte        `db:"response_headers"`
	ResponseBody    []byte        `db:"response_body"`
	CreatedAt       time.Time     `db:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at"`
	ExpiresAt       time.Time     `db:"expires_at"`
}

func (r recordRow) toRecord() (Record, error) {
	record := Record{
		Key:          r.Key,
		Fingerprint:  r.Fingerprint,
		Status:       Status(r.Status),
		ResponseBody: r.ResponseBody,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		ExpiresAt:    r.ExpiresAt.UTC(),
	}
	if r.ResponseStatus.Valid {
		record.ResponseStatus = int(r.ResponseStatus.Int64)
	}
	if len(r.ResponseHeaders) > 0 {
		if err := json.Unmarshal(r.ResponseHeaders, &record.ResponseHeaders); err != nil {
			return Record{}, fmt.Errorf("idempotency: decode stored headers: %w", err)
		}
	}
	return record, nil
}

func (s *SQLStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	fresh := Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	var result Reservation
	err := s.provider.RunInTx(ctx, func(ctx context.Context) error {
		exec, err := s.provider.Executor(ctx)
		if err != nil {
			return err
		}
		existing, found, err := s.lockRecord(ctx, exec, key)
		if err != nil {
			return err
		}
		switch {
		case !found:
			if _, err := exec.ExecContext(ctx, exec.Rebind(`INSERT INTO idempotency_keys
				(key_hash, idem_key, fingerprint, status, created_at, updated_at, expires_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`),
				hashKey(key), key, fingerprint, string(StatusPending), now, now, fresh.ExpiresAt); err != nil {
				return sqldb.WrapError("idempotency.reserve", err)
			}
			result = Reservation{State: ReservationStateNew, Record: fresh}
		case existing.expired(now):
			if _, err := exec.ExecContext(ctx, exec.Rebind(`UPDATE idempotency_keys
				SET fingerprint = ?, status = ?, response_status = NULL, response_headers = NULL,
					response_body = NULL, created_at = ?, updated_at = ?, expires_at = ?
				WHERE key_hash = ?`),
				fingerprint, string(StatusPending), now, now, fresh.ExpiresAt, hashKey(key)); err != nil {
				return sqldb.WrapError("idempotency.reserve", err)
			}
			result = Reservation{State: ReservationStateNew, Record: fresh}
		case existing.Fingerprint != fingerprint:
			return ErrFingerprintMismatch
		case existing.Status == StatusCompleted:
			result = Reservation{State: ReservationStateCompleted, Record: existing}
		default:
			result = Reservation{State: ReservationStatePending, Record: existing}
		}
		return nil
	})
	if err != nil {
		// A concurrent request inserted the same key between our read and write.
		var repoErr *sqldb.Error
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return Reservation{State: ReservationStatePending, Record: fresh}, nil
		}
		return Reservation{}, err
	}
	return result, nil
}

func (s *SQLStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	var headers []byte
	if sanitized := sanitizeHeaders(resp.Headers); sanitized != nil {
		encoded, err := json.Marshal(sanitized)
		if err != nil {
			return fmt.Errorf("idempotency: encode headers: %w", err)
		}
		headers = encoded
	}
	var body []byte
	if len(resp.Body) > 0 {
		body = resp.Body
	}

	return s.provider.RunInTx(ctx, func(ctx context.Context) error {
		exec, err := s.provider.Executor(ctx)
		if err != nil {
			return err
		}
		existing, found, err := s.lockRecord(ctx, exec, key)
		if err != nil {
			return err
		}
		if !found {
			_, err = exec.ExecContext(ctx, exec.Rebind(`INSERT INTO idempotency_keys (`+recordColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				hashKey(key), key, fingerprint, string(StatusCompleted), resp.Status, headers, body, now, now, now.Add(ttl))
			return sqldb.WrapError("idempotency.save_response", err)
		}
		if existing.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		_, err = exec.ExecContext(ctx, exec.Rebind(`UPDATE idempotency_keys
			SET status = ?, response_status = ?, response_headers = ?, response_body = ?, updated_at = ?, expires_at = ?
			WHERE key_hash = ?`),
			string(StatusCompleted), resp.Status, headers, body, now, now.Add(ttl), hashKey(key))
		return sqldb.WrapError("idempotency.save_response", err)
	})
}

func (s *SQLStore) Release(ctx context.Context, key, fingerprint string) error {
	exec, err := s.provider.Executor(ctx)
	if err != nil {
		return err
	}
	_, err = exec.ExecContext(ctx, exec.Rebind(`DELETE FROM idempotency_keys WHERE key_hash = ? AND fingerprint = ?`),
		hashKey(key), fingerprint)
	return sqldb.WrapError("idempotency.release", err)
}

func (s *SQLStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	exec, err := s.provider.Executor(ctx)
	if err != nil {
		return 0, err
	}
	query := `DELETE FROM idempotency_keys WHERE key_hash IN (
		SELECT key_hash FROM idempotency_keys WHERE expires_at <= ? ORDER BY expires_at LIMIT ?)`
	if s.provider.Driver() == sqldb.DriverMySQL {
		// MySQL rejects LIMIT inside IN subqueries.
		query = `DELETE FROM idempotency_keys WHERE expires_at <= ? ORDER BY expires_at LIMIT ?`
	}
	res, err := exec.ExecContext(ctx, exec.Rebind(query), now.UTC(), limit)
	if err != nil {
		return 0, sqldb.WrapError("idempotency.cleanup", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, sqldb.WrapError("idempotency.cleanup", err)
	}
	return int(n), nil
}

func (s *SQLStore) lockRecord(ctx context.Context, exec sqlx.ExtContext, key string) (Record, bool, error) {
	var row recordRow
	err := sqlx.GetContext(ctx, exec, &row, exec.Rebind(`SELECT `+recordColumns+`
		FROM idempotency_keys WHERE key_hash = ? FOR UPDATE`), hashKey(key))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, sqldb.WrapError("idempotency.load", err)
	}
	record, err := row.toRecord()
	if err != nil {
		return Record{}, false, err
	}
	return record, true, nil
}
