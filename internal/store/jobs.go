package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/batchctl/batchctl/internal/model"
)

// CreateJob persists a new Job row.
func (s *Store) CreateJob(ctx context.Context, j *model.Job) error {
	metaJSON, err := json.Marshal(j.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (
				job_id, name, description, status, worker_prompt_template, unit_type,
				total_units, completed_units, failed_units, max_workers, max_retries,
				created_at, started_at, completed_at, test_unit_id, test_passed,
				output_strategy, metadata_json, post_processing_prompt,
				post_processing_unit_id, bypass_failures
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			j.JobID, j.Name, j.Description, string(j.Status), j.WorkerPromptTemplate, j.UnitType,
			j.TotalUnits, j.CompletedUnits, j.FailedUnits, j.MaxWorkers, j.MaxRetries,
			timeToStr(j.CreatedAt), timePtrToStr(j.StartedAt), timePtrToStr(j.CompletedAt),
			nullableStr(j.TestUnitID), boolToInt(j.TestPassed),
			nullableStr(j.OutputStrategy), string(metaJSON), nullableStr(j.PostProcessingPrompt),
			nullableStr(j.PostProcessingUnitID), boolToInt(j.BypassFailures),
		)
		return err
	})
}

// GetJob fetches a Job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, name, description, status, worker_prompt_template, unit_type,
			total_units, completed_units, failed_units, max_workers, max_retries,
			created_at, started_at, completed_at, test_unit_id, test_passed,
			output_strategy, metadata_json, post_processing_prompt,
			post_processing_unit_id, bypass_failures
		FROM jobs WHERE job_id = ?`, jobID)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrJobNotFound
	}
	return j, err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var status string
	var createdAt string
	var startedAt, completedAt, testUnitID, outputStrategy, ppPrompt, ppUnitID sql.NullString
	var testPassed, bypassFailures int
	var metaJSON string

	if err := row.Scan(
		&j.JobID, &j.Name, &j.Description, &status, &j.WorkerPromptTemplate, &j.UnitType,
		&j.TotalUnits, &j.CompletedUnits, &j.FailedUnits, &j.MaxWorkers, &j.MaxRetries,
		&createdAt, &startedAt, &completedAt, &testUnitID, &testPassed,
		&outputStrategy, &metaJSON, &ppPrompt, &ppUnitID, &bypassFailures,
	); err != nil {
		return nil, err
	}

	j.Status = model.JobStatus(status)
	j.CreatedAt = strToTime(createdAt)
	j.StartedAt = strToTimePtr(startedAt)
	j.CompletedAt = strToTimePtr(completedAt)
	j.TestUnitID = testUnitID.String
	j.TestPassed = testPassed != 0
	j.OutputStrategy = outputStrategy.String
	j.PostProcessingPrompt = ppPrompt.String
	j.PostProcessingUnitID = ppUnitID.String
	j.BypassFailures = bypassFailures != 0

	meta := model.Metadata{}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return nil, fmt.Errorf("unmarshal job metadata: %w", err)
		}
	}
	j.Metadata = meta

	return &j, nil
}

// UpdateJob overwrites every mutable field of a Job row.
func (s *Store) UpdateJob(ctx context.Context, j *model.Job) error {
	metaJSON, err := json.Marshal(j.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET
				name=?, description=?, status=?, worker_prompt_template=?, unit_type=?,
				total_units=?, completed_units=?, failed_units=?, max_workers=?, max_retries=?,
				started_at=?, completed_at=?, test_unit_id=?, test_passed=?,
				output_strategy=?, metadata_json=?, post_processing_prompt=?,
				post_processing_unit_id=?, bypass_failures=?
			WHERE job_id=?`,
			j.Name, j.Description, string(j.Status), j.WorkerPromptTemplate, j.UnitType,
			j.TotalUnits, j.CompletedUnits, j.FailedUnits, j.MaxWorkers, j.MaxRetries,
			timePtrToStr(j.StartedAt), timePtrToStr(j.CompletedAt),
			nullableStr(j.TestUnitID), boolToInt(j.TestPassed),
			nullableStr(j.OutputStrategy), string(metaJSON), nullableStr(j.PostProcessingPrompt),
			nullableStr(j.PostProcessingUnitID), boolToInt(j.BypassFailures),
			j.JobID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return model.ErrJobNotFound
		}
		return nil
	})
}

// ListJobs returns every job, most recently created first.
func (s *Store) ListJobs(ctx context.Context) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, name, description, status, worker_prompt_template, unit_type,
			total_units, completed_units, failed_units, max_workers, max_retries,
			created_at, started_at, completed_at, test_unit_id, test_passed,
			output_strategy, metadata_json, post_processing_prompt,
			post_processing_unit_id, bypass_failures
		FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// GetJobTotalCost sums cost_usd over every unit of the job.
func (s *Store) GetJobTotalCost(ctx context.Context, jobID string) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(cost_usd) FROM work_units WHERE job_id = ?`, jobID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Float64, nil
}
