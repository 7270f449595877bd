package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/batchctl/batchctl/internal/model"
)

// CreateWorkUnit persists a new WorkUnit row.
func (s *Store) CreateWorkUnit(ctx context.Context, u *model.WorkUnit) error {
	payloadJSON, err := json.Marshal(u.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	outputFilesJSON, err := json.Marshal(u.OutputFiles)
	if err != nil {
		return fmt.Errorf("marshal output files: %w", err)
	}
	resultJSON, err := marshalOptional(u.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	conversationJSON, err := marshalOptional(u.Conversation)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO work_units (
				unit_id, job_id, unit_type, status, payload_json, created_at,
				assigned_at, started_at, completed_at, worker_id, result_json, error,
				retry_count, max_retries, execution_time_seconds, output_files_json,
				rendered_prompt, conversation_json, session_id, cost_usd, process_id
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			u.UnitID, u.JobID, u.UnitType, string(u.Status), string(payloadJSON), timeToStr(u.CreatedAt),
			timePtrToStr(u.AssignedAt), timePtrToStr(u.StartedAt), timePtrToStr(u.CompletedAt),
			nullableStrPtr(u.WorkerID), resultJSON, nullableStrPtr(u.Error), u.RetryCount, u.MaxRetries,
			nullableFloat(u.ExecutionTimeSeconds), string(outputFilesJSON), nullableStrPtr(u.RenderedPrompt),
			conversationJSON, nullableStrPtr(u.SessionID), nullableFloat(u.CostUSD), nullableInt(u.ProcessID),
		)
		return err
	})
}

// GetWorkUnit fetches a WorkUnit by id.
func (s *Store) GetWorkUnit(ctx context.Context, unitID string) (*model.WorkUnit, error) {
	row := s.db.QueryRowContext(ctx, workUnitSelect+` WHERE unit_id = ?`, unitID)
	u, err := scanWorkUnit(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrWorkUnitNotFound
	}
	return u, err
}

const workUnitSelect = `
	SELECT unit_id, job_id, unit_type, status, payload_json, created_at,
		assigned_at, started_at, completed_at, worker_id, result_json, error,
		retry_count, max_retries, execution_time_seconds, output_files_json,
		rendered_prompt, conversation_json, session_id, cost_usd, process_id
	FROM work_units`

func scanWorkUnit(row scannable) (*model.WorkUnit, error) {
	var u model.WorkUnit
	var status, createdAt, payloadJSON, outputFilesJSON string
	var assignedAt, startedAt, completedAt, workerID, resultJSON, errStr, renderedPrompt, conversationJSON, sessionID sql.NullString
	var execTime, costUSD sql.NullFloat64
	var processID sql.NullInt64

	if err := row.Scan(
		&u.UnitID, &u.JobID, &u.UnitType, &status, &payloadJSON, &createdAt,
		&assignedAt, &startedAt, &completedAt, &workerID, &resultJSON, &errStr,
		&u.RetryCount, &u.MaxRetries, &execTime, &outputFilesJSON,
		&renderedPrompt, &conversationJSON, &sessionID, &costUSD, &processID,
	); err != nil {
		return nil, err
	}

	u.Status = model.WorkUnitStatus(status)
	u.CreatedAt = strToTime(createdAt)
	u.AssignedAt = strToTimePtr(assignedAt)
	u.StartedAt = strToTimePtr(startedAt)
	u.CompletedAt = strToTimePtr(completedAt)
	u.WorkerID = strPtrFromNull(workerID)
	u.Error = strPtrFromNull(errStr)
	u.ExecutionTimeSeconds = floatPtrFromNull(execTime)
	u.RenderedPrompt = strPtrFromNull(renderedPrompt)
	u.SessionID = strPtrFromNull(sessionID)
	u.CostUSD = floatPtrFromNull(costUSD)
	u.ProcessID = intPtrFromNull(processID)

	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &u.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if outputFilesJSON != "" {
		if err := json.Unmarshal([]byte(outputFilesJSON), &u.OutputFiles); err != nil {
			return nil, fmt.Errorf("unmarshal output files: %w", err)
		}
	}
	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &u.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if conversationJSON.Valid && conversationJSON.String != "" {
		if err := json.Unmarshal([]byte(conversationJSON.String), &u.Conversation); err != nil {
			return nil, fmt.Errorf("unmarshal conversation: %w", err)
		}
	}

	return &u, nil
}

// UpdateWorkUnit overwrites every mutable field of a WorkUnit row.
func (s *Store) UpdateWorkUnit(ctx context.Context, u *model.WorkUnit) error {
	resultJSON, err := marshalOptional(u.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	outputFilesJSON, err := json.Marshal(u.OutputFiles)
	if err != nil {
		return fmt.Errorf("marshal output files: %w", err)
	}
	conversationJSON, err := marshalOptional(u.Conversation)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE work_units SET
				status=?, assigned_at=?, started_at=?, completed_at=?, worker_id=?,
				result_json=?, error=?, retry_count=?, max_retries=?,
				execution_time_seconds=?, output_files_json=?, rendered_prompt=?,
				conversation_json=?, session_id=?, cost_usd=?, process_id=?
			WHERE unit_id=?`,
			string(u.Status), timePtrToStr(u.AssignedAt), timePtrToStr(u.StartedAt), timePtrToStr(u.CompletedAt),
			nullableStrPtr(u.WorkerID), resultJSON, nullableStrPtr(u.Error), u.RetryCount, u.MaxRetries,
			nullableFloat(u.ExecutionTimeSeconds), string(outputFilesJSON), nullableStrPtr(u.RenderedPrompt),
			conversationJSON, nullableStrPtr(u.SessionID), nullableFloat(u.CostUSD), nullableInt(u.ProcessID),
			u.UnitID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return model.ErrWorkUnitNotFound
		}
		return nil
	})
}

func marshalOptional(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// ListWorkUnits returns every work unit for a job, oldest first.
func (s *Store) ListWorkUnits(ctx context.Context, jobID string) ([]*model.WorkUnit, error) {
	rows, err := s.db.QueryContext(ctx, workUnitSelect+` WHERE job_id = ? ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWorkUnits(rows)
}

func scanWorkUnits(rows *sql.Rows) ([]*model.WorkUnit, error) {
	var out []*model.WorkUnit
	for rows.Next() {
		u, err := scanWorkUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetPendingUnits returns the oldest `pending` units by created_at, up to
// limit.
func (s *Store) GetPendingUnits(ctx context.Context, jobID string, limit int) ([]*model.WorkUnit, error) {
	rows, err := s.db.QueryContext(ctx,
		workUnitSelect+` WHERE job_id = ? AND status = ? ORDER BY created_at ASC LIMIT ?`,
		jobID, string(model.WorkUnitStatusPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWorkUnits(rows)
}

// CountUnitsByStatus returns a map from status to count for the job.
func (s *Store) CountUnitsByStatus(ctx context.Context, jobID string) (map[model.WorkUnitStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM work_units WHERE job_id = ? GROUP BY status`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.WorkUnitStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[model.WorkUnitStatus(status)] = count
	}
	return out, rows.Err()
}

// SetWorkUnitSessionID is a targeted update that touches only session_id.
func (s *Store) SetWorkUnitSessionID(ctx context.Context, unitID, sessionID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE work_units SET session_id = ? WHERE unit_id = ?`, sessionID, unitID)
		return err
	})
}

// SetWorkUnitProcessID is a targeted update that touches only process_id.
func (s *Store) SetWorkUnitProcessID(ctx context.Context, unitID string, pid *int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE work_units SET process_id = ? WHERE unit_id = ?`, nullableInt(pid), unitID)
		return err
	})
}

// AppendConversationEvent appends one event to the unit's conversation
// array in place, using sjson to splice the new element's raw JSON into
// the existing array text rather than unmarshaling the whole history on
// every streamed event.
func (s *Store) AppendConversationEvent(ctx context.Context, unitID string, event map[string]any) (bool, error) {
	var found bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var conversationJSON sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT conversation_json FROM work_units WHERE unit_id = ?`, unitID).Scan(&conversationJSON)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		found = true

		existing := "[]"
		if conversationJSON.Valid && conversationJSON.String != "" {
			existing = conversationJSON.String
		}

		eventJSON, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal conversation event: %w", err)
		}

		updated, err := sjson.SetRaw(existing, "-1", string(eventJSON))
		if err != nil {
			return fmt.Errorf("append conversation event: %w", err)
		}

		_, err = tx.ExecContext(ctx, `UPDATE work_units SET conversation_json = ? WHERE unit_id = ?`, updated, unitID)
		return err
	})
	return found, err
}

// GetActiveUnitsWithLatestConversation returns, for each unit in
// assigned/processing, enough detail to drive a live-activity view: the
// unit's core fields plus the latest "meaningful" event (the final
// assistant text block, or the last tool_use name with a truncated input
// preview).
type ActiveUnitSummary struct {
	UnitID       string
	Status       model.WorkUnitStatus
	Payload      map[string]any
	ProcessID    *int
	LatestEvent  string
}

func (s *Store) GetActiveUnitsWithLatestConversation(ctx context.Context, jobID string) ([]ActiveUnitSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT unit_id, status, payload_json, process_id, conversation_json
		 FROM work_units WHERE job_id = ? AND status IN (?, ?)`,
		jobID, string(model.WorkUnitStatusAssigned), string(model.WorkUnitStatusProcessing))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActiveUnitSummary
	for rows.Next() {
		var unitID, status, payloadJSON string
		var processID sql.NullInt64
		var conversationJSON sql.NullString
		if err := rows.Scan(&unitID, &status, &payloadJSON, &processID, &conversationJSON); err != nil {
			return nil, err
		}

		var payload map[string]any
		if payloadJSON != "" {
			_ = json.Unmarshal([]byte(payloadJSON), &payload)
		}

		out = append(out, ActiveUnitSummary{
			UnitID:      unitID,
			Status:      model.WorkUnitStatus(status),
			Payload:     payload,
			ProcessID:   intPtrFromNull(processID),
			LatestEvent: latestMeaningfulEvent(conversationJSON.String),
		})
	}
	return out, rows.Err()
}

// latestMeaningfulEvent walks the conversation array from the end using
// gjson, pulling out just the fields needed for a one-line summary
// without unmarshaling the full event history into Go structs.
func latestMeaningfulEvent(conversationJSON string) string {
	if conversationJSON == "" {
		return ""
	}
	events := gjson.Parse(conversationJSON).Array()
	for i := len(events) - 1; i >= 0; i-- {
		event := events[i]
		switch event.Get("type").String() {
		case "assistant":
			if text := extractAssistantText(event); text != "" {
				return text
			}
		case "tool_use":
			name := event.Get("name").String()
			input := event.Get("input").Raw
			if len(input) > 80 {
				input = input[:80] + "…"
			}
			return fmt.Sprintf("tool_use: %s(%s)", name, input)
		}
	}
	return ""
}

func extractAssistantText(event gjson.Result) string {
	for _, block := range event.Get("message.content").Array() {
		if block.Get("type").String() == "text" {
			if text := block.Get("text").String(); text != "" {
				return text
			}
		}
	}
	return ""
}
