package repository

import (
	"context"
	"fmt"
)

// IdempotencyKeyRow mirrors the HTTP idempotency reservation table.
type IdempotencyKeyRow struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
}

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKeyRow, error) {
	var row IdempotencyKeyRow
	err := q.db.QueryRow(ctx, `
		SELECT idempotency_key, request_hash, method, path, response_status, response_body, content_type, in_progress
		FROM idempotency_keys WHERE idempotency_key = $1
	`, key).Scan(&row.IdempotencyKey, &row.RequestHash, &row.Method, &row.Path, &row.ResponseStatus, &row.ResponseBody, &row.ContentType, &row.InProgress)
	if err != nil {
		return IdempotencyKeyRow{}, err
	}
	return row, nil
}

// ReserveIdempotencyKeyParams identifies the request being reserved.
type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

// ReserveIdempotencyKey claims the key for the in-flight request. A conflict
// (key already present) returns pgx.ErrNoRows via the empty RETURNING set.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (IdempotencyKeyRow, error) {
	var row IdempotencyKeyRow
	err := q.db.QueryRow(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, response_status, response_body, content_type, in_progress, created_at)
		VALUES ($1, $2, $3, $4, 0, NULL, '', TRUE, NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING idempotency_key, request_hash, method, path, response_status, response_body, content_type, in_progress
	`, arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path).
		Scan(&row.IdempotencyKey, &row.RequestHash, &row.Method, &row.Path, &row.ResponseStatus, &row.ResponseBody, &row.ContentType, &row.InProgress)
	if err != nil {
		return IdempotencyKeyRow{}, err
	}
	return row, nil
}

// FinalizeIdempotencyKeyParams records the response captured for the key.
type FinalizeIdempotencyKeyParams struct {
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	IdempotencyKey string
	RequestHash    string
}

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKeyRow, error) {
	var row IdempotencyKeyRow
	err := q.db.QueryRow(ctx, `
		UPDATE idempotency_keys
		SET response_status = $1, response_body = $2, content_type = $3, in_progress = FALSE
		WHERE idempotency_key = $4 AND request_hash = $5
		RETURNING idempotency_key, request_hash, method, path, response_status, response_body, content_type, in_progress
	`, arg.ResponseStatus, arg.ResponseBody, arg.ContentType, arg.IdempotencyKey, arg.RequestHash).
		Scan(&row.IdempotencyKey, &row.RequestHash, &row.Method, &row.Path, &row.ResponseStatus, &row.ResponseBody, &row.ContentType, &row.InProgress)
	if err != nil {
		return IdempotencyKeyRow{}, err
	}
	return row, nil
}

// PurgeExpiredIdempotencyKeys drops finished reservations older than the TTL.
func (q *Queries) PurgeExpiredIdempotencyKeys(ctx context.Context, olderThanSeconds int64) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE in_progress = FALSE AND created_at < NOW() - make_interval(secs => $1)
	`, olderThanSeconds)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
