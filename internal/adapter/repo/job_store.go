package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"batchgen/internal/batch"
	"batchgen/internal/infra"
	"batchgen/internal/sqlinline"
)

// JobStore mirrors the ledger into the batch_jobs table. It is registered
// as the ledger's listener, so every committed mutation becomes an upsert.
type JobStore struct {
	sql infra.SQLExecutor
}

// NewJobStore creates a job store on top of the given executor.
func NewJobStore(sql infra.SQLExecutor) *JobStore {
	return &JobStore{sql: sql}
}

// JobUpdated upserts rec. Older snapshots never overwrite newer rows.
func (s *JobStore) JobUpdated(ctx context.Context, rec batch.Record) error {
	input, err := json.Marshal(rec.Input)
	if err != nil {
		return fmt.Errorf("encode input of %s: %w", rec.ID, err)
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertBatchJob,
		rec.ID,
		string(rec.Status),
		rec.Progress,
		input,
		rec.Fingerprint,
		rec.RequestID,
		rec.Attempts,
		rec.MaxAttempts,
		rec.ResultURL,
		rec.LocalPath,
		rec.FileName,
		string(rec.ErrorCode),
		rec.ErrorMessage,
		rec.CreatedAt,
		rec.UpdatedAt,
		rec.Credential,
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", rec.ID, err)
	}
	return nil
}

// LoadAll returns every persisted record in creation order.
func (s *JobStore) LoadAll(ctx context.Context) ([]batch.Record, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QSelectBatchJobs)
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	defer rows.Close()

	var out []batch.Record
	for rows.Next() {
		var (
			rec       batch.Record
			status    string
			input     []byte
			errorCode string
		)
		if err := rows.Scan(
			&rec.ID,
			&status,
			&rec.Progress,
			&input,
			&rec.Fingerprint,
			&rec.RequestID,
			&rec.Attempts,
			&rec.MaxAttempts,
			&rec.ResultURL,
			&rec.LocalPath,
			&rec.FileName,
			&errorCode,
			&rec.ErrorMessage,
			&rec.CreatedAt,
			&rec.UpdatedAt,
			&rec.Credential,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		parsed, ok := batch.ParseStatus(status)
		if !ok {
			return nil, fmt.Errorf("job %s: unknown status %q", rec.ID, status)
		}
		rec.Status = parsed
		rec.ErrorCode = batch.ErrorCode(errorCode)
		if len(input) > 0 {
			if err := json.Unmarshal(input, &rec.Input); err != nil {
				return nil, fmt.Errorf("decode input of %s: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}
