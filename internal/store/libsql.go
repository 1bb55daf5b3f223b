package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/stepflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Workflow definitions ---

func (s *LibSQLStore) SaveWorkflow(ctx context.Context, rec *WorkflowRecord) error {
	def, err := json.Marshal(rec.Definition)
	if err != nil {
		return persistErr("marshal workflow definition", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, version, definition, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, version=excluded.version,
		   definition=excluded.definition, updated_at=excluded.updated_at`,
		rec.ID, rec.Name, nullStr(rec.Version), string(def), timeOrNow(rec.UpdatedAt),
	)
	if err != nil {
		return persistErr("save workflow", err)
	}
	return nil
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error) {
	rec := &WorkflowRecord{}
	var version sql.NullString
	var defJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, version, definition, updated_at FROM workflows WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Name, &version, &defJSON, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, persistErr("get workflow", err)
	}
	rec.Version = version.String
	rec.Definition = &schema.WorkflowDefinition{}
	if err := json.Unmarshal([]byte(defJSON), rec.Definition); err != nil {
		return nil, persistErr("unmarshal workflow definition", err)
	}
	return rec, nil
}

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, ex *Execution) error {
	params, err := marshalMapOrDefault(ex.Params)
	if err != nil {
		return persistErr("marshal params", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, version_tag, mode, status, params, current_step, state, outcome, summary, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.WorkflowID, nullStr(ex.VersionTag), string(ex.Mode), string(ex.Status),
		string(params), nullStr(ex.CurrentStep), nullRaw(ex.State),
		nullStr(string(ex.Outcome)), nullStr(ex.Summary), nullStr(ex.Error),
		timeOrNow(ex.StartedAt), nullTime(ex.CompletedAt),
	)
	if err != nil {
		return persistErr("create execution", err)
	}
	return nil
}

const executionColumns = `id, workflow_id, version_tag, mode, status, params, current_step, state, outcome, follow_up_suggestions, summary, error, started_at, completed_at`

func scanExecution(row interface{ Scan(...any) error }) (*Execution, error) {
	ex := &Execution{}
	var (
		versionTag, currentStep sql.NullString
		paramsJSON, stateJSON   sql.NullString
		outcome, followUpsJSON  sql.NullString
		summary, errText        sql.NullString
		mode, status            string
		completedAt             sql.NullTime
	)
	err := row.Scan(&ex.ID, &ex.WorkflowID, &versionTag, &mode, &status, &paramsJSON,
		&currentStep, &stateJSON, &outcome, &followUpsJSON, &summary, &errText,
		&ex.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	ex.VersionTag = versionTag.String
	ex.Mode = schema.ExecutionMode(mode)
	ex.Status = schema.ExecutionStatus(status)
	ex.CurrentStep = currentStep.String
	ex.Outcome = schema.Outcome(outcome.String)
	ex.Summary = summary.String
	ex.Error = errText.String
	ex.State = rawOrNil(stateJSON)
	if paramsJSON.Valid && paramsJSON.String != "" {
		_ = json.Unmarshal([]byte(paramsJSON.String), &ex.Params)
	}
	if followUpsJSON.Valid && followUpsJSON.String != "" {
		_ = json.Unmarshal([]byte(followUpsJSON.String), &ex.FollowUps)
	}
	if completedAt.Valid {
		ex.CompletedAt = &completedAt.Time
	}
	return ex, nil
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	ex, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, persistErr("get execution", err)
	}
	return ex, nil
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.CurrentStep != nil {
		sets = append(sets, "current_step = ?")
		args = append(args, nullStr(*update.CurrentStep))
	}
	if update.State != nil {
		sets = append(sets, "state = ?")
		args = append(args, string(update.State))
	}
	if update.Outcome != nil {
		sets = append(sets, "outcome = ?")
		args = append(args, string(*update.Outcome))
	}
	if update.FollowUps != nil {
		followUps, err := json.Marshal(update.FollowUps)
		if err != nil {
			return persistErr("marshal follow-up suggestions", err)
		}
		sets = append(sets, "follow_up_suggestions = ?")
		args = append(args, string(followUps))
	}
	if update.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, *update.Summary)
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *update.Error)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE executions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return persistErr("update execution", err)
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *LibSQLStore) ListExecutionsByWorkflow(ctx context.Context, workflowID string, limit int) ([]*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE workflow_id = ? ORDER BY started_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, persistErr("list executions", err)
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		ex, err := scanExecution(rows)
		if err != nil {
			return nil, persistErr("scan execution", err)
		}
		executions = append(executions, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list executions", err)
	}
	return executions, nil
}

// --- Step executions ---

func (s *LibSQLStore) RecordStepExecution(ctx context.Context, rec *StepExecution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO step_executions (id, execution_id, step_id, module, action, status, inputs, outputs, error, return_code, started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ExecutionID, rec.StepID, rec.Module, rec.Action, string(rec.Status),
		nullRaw(rec.Inputs), nullRaw(rec.Outputs), nullStr(rec.Error), rec.ReturnCode,
		timeOrNow(rec.StartedAt), nullTime(rec.CompletedAt), rec.DurationMs,
	)
	if err != nil {
		return persistErr("record step execution", err)
	}
	return nil
}

func (s *LibSQLStore) UpdateStepExecution(ctx context.Context, id string, update StepExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Outputs != nil {
		sets = append(sets, "outputs = ?")
		args = append(args, string(update.Outputs))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *update.Error)
	}
	if update.ReturnCode != nil {
		sets = append(sets, "return_code = ?")
		args = append(args, *update.ReturnCode)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if update.DurationMs != nil {
		sets = append(sets, "duration_ms = ?")
		args = append(args, *update.DurationMs)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE step_executions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return persistErr("update step execution", err)
	}
	return checkRowsAffected(res, "step execution", id)
}

const stepExecutionColumns = `id, execution_id, step_id, module, action, status, inputs, outputs, error, return_code, started_at, completed_at, duration_ms`

func scanStepExecution(row interface{ Scan(...any) error }) (*StepExecution, error) {
	rec := &StepExecution{}
	var (
		status          string
		inputs, outputs sql.NullString
		errText         sql.NullString
		completedAt     sql.NullTime
		durationMs      sql.NullInt64
	)
	err := row.Scan(&rec.ID, &rec.ExecutionID, &rec.StepID, &rec.Module, &rec.Action,
		&status, &inputs, &outputs, &errText, &rec.ReturnCode,
		&rec.StartedAt, &completedAt, &durationMs)
	if err != nil {
		return nil, err
	}
	rec.Status = schema.StepStatus(status)
	rec.Inputs = rawOrNil(inputs)
	rec.Outputs = rawOrNil(outputs)
	rec.Error = errText.String
	rec.DurationMs = durationMs.Int64
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	return rec, nil
}

func (s *LibSQLStore) GetStepExecutions(ctx context.Context, executionID string) ([]*StepExecution, error) {
	// rowid breaks ties for rows created in the same millisecond so invocation
	// order is stable.
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stepExecutionColumns+` FROM step_executions
		 WHERE execution_id = ? ORDER BY started_at ASC, rowid ASC`, executionID)
	if err != nil {
		return nil, persistErr("get step executions", err)
	}
	defer rows.Close()

	var records []*StepExecution
	for rows.Next() {
		rec, err := scanStepExecution(rows)
		if err != nil {
			return nil, persistErr("scan step execution", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("get step executions", err)
	}
	return records, nil
}

func (s *LibSQLStore) CountStepExecutions(ctx context.Context, executionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM step_executions WHERE execution_id = ?`, executionID,
	).Scan(&n)
	if err != nil {
		return 0, persistErr("count step executions", err)
	}
	return n, nil
}

func (s *LibSQLStore) LatestStepExecution(ctx context.Context, executionID, stepID string) (*StepExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stepExecutionColumns+` FROM step_executions
		 WHERE execution_id = ? AND step_id = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`,
		executionID, stepID)
	rec, err := scanStepExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("step execution", executionID+"/"+stepID)
	}
	if err != nil {
		return nil, persistErr("get latest step execution", err)
	}
	return rec, nil
}

// --- Pending decisions ---

func (s *LibSQLStore) CreatePendingDecision(ctx context.Context, dec *PendingDecision) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_decisions (id, execution_id, step_id, proposals, status, choice, notes, created_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dec.ID, dec.ExecutionID, dec.StepID, nullRaw(dec.Proposals), string(dec.Status),
		nullStr(dec.Choice), nullStr(dec.Notes), timeOrNow(dec.CreatedAt), nullTime(dec.ResolvedAt),
	)
	if err != nil {
		return persistErr("create pending decision", err)
	}
	return nil
}

func scanPendingDecision(row interface{ Scan(...any) error }) (*PendingDecision, error) {
	dec := &PendingDecision{}
	var (
		proposals, choice, notes sql.NullString
		status                   string
		resolvedAt               sql.NullTime
	)
	err := row.Scan(&dec.ID, &dec.ExecutionID, &dec.StepID, &proposals, &status,
		&choice, &notes, &dec.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	dec.Proposals = rawOrNil(proposals)
	dec.Status = schema.DecisionStatus(status)
	dec.Choice = choice.String
	dec.Notes = notes.String
	if resolvedAt.Valid {
		dec.ResolvedAt = &resolvedAt.Time
	}
	return dec, nil
}

const decisionColumns = `id, execution_id, step_id, proposals, status, choice, notes, created_at, resolved_at`

func (s *LibSQLStore) GetPendingDecision(ctx context.Context, id string) (*PendingDecision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM pending_decisions WHERE id = ?`, id)
	dec, err := scanPendingDecision(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("decision", id)
	}
	if err != nil {
		return nil, persistErr("get decision", err)
	}
	return dec, nil
}

func (s *LibSQLStore) GetPendingDecisionsForExecution(ctx context.Context, executionID string) ([]*PendingDecision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+decisionColumns+` FROM pending_decisions
		 WHERE execution_id = ? ORDER BY created_at ASC, rowid ASC`, executionID)
	if err != nil {
		return nil, persistErr("get decisions", err)
	}
	defer rows.Close()

	var decisions []*PendingDecision
	for rows.Next() {
		dec, err := scanPendingDecision(rows)
		if err != nil {
			return nil, persistErr("scan decision", err)
		}
		decisions = append(decisions, dec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("get decisions", err)
	}
	return decisions, nil
}

func (s *LibSQLStore) ResolvePendingDecision(ctx context.Context, id, choice, notes string) error {
	// The status guard makes concurrent submits race safely: only the first
	// update sees a pending row.
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_decisions
		 SET status = ?, choice = ?, notes = ?, resolved_at = ?
		 WHERE id = ? AND status = ?`,
		string(schema.DecisionResolved), choice, notes, time.Now().UTC(),
		id, string(schema.DecisionPending),
	)
	if err != nil {
		return persistErr("resolve decision", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("resolve decision", err)
	}
	if n == 0 {
		return schema.NewErrorf(schema.ErrCodeConflict, "decision %q already resolved", id)
	}
	return nil
}

// --- Scheduled jobs ---

func (s *LibSQLStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	params, err := marshalMapOrDefault(job.Params)
	if err != nil {
		return persistErr("marshal job params", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, workflow_id, cron_expression, params, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.WorkflowID, job.CronExpression, string(params), boolToInt(job.Enabled),
		nullTime(job.LastRunAt), nullTime(job.NextRunAt), nullStr(job.LastRunStatus),
		timeOrNow(job.CreatedAt),
	)
	if err != nil {
		return persistErr("create scheduled job", err)
	}
	return nil
}

const scheduledJobColumns = `id, workflow_id, cron_expression, params, enabled, last_run_at, next_run_at, last_run_status, created_at`

func scanScheduledJob(row interface{ Scan(...any) error }) (*ScheduledJob, error) {
	job := &ScheduledJob{}
	var (
		paramsJSON, lastStatus sql.NullString
		enabled                int
		lastRunAt, nextRunAt   sql.NullTime
	)
	err := row.Scan(&job.ID, &job.WorkflowID, &job.CronExpression, &paramsJSON,
		&enabled, &lastRunAt, &nextRunAt, &lastStatus, &job.CreatedAt)
	if err != nil {
		return nil, err
	}
	job.Enabled = enabled != 0
	job.LastRunStatus = lastStatus.String
	if paramsJSON.Valid && paramsJSON.String != "" {
		_ = json.Unmarshal([]byte(paramsJSON.String), &job.Params)
	}
	if lastRunAt.Valid {
		job.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		job.NextRunAt = &nextRunAt.Time
	}
	return job, nil
}

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduledJobColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	job, err := scanScheduledJob(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled job", id)
	}
	if err != nil {
		return nil, persistErr("get scheduled job", err)
	}
	return job, nil
}

func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var sets []string
	var args []any

	if update.CronExpression != nil {
		sets = append(sets, "cron_expression = ?")
		args = append(args, *update.CronExpression)
	}
	if update.Params != nil {
		params, err := json.Marshal(update.Params)
		if err != nil {
			return persistErr("marshal job params", err)
		}
		sets = append(sets, "params = ?")
		args = append(args, string(params))
	}
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != nil {
		sets = append(sets, "last_run_status = ?")
		args = append(args, *update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_jobs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return persistErr("update scheduled job", err)
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, onlyEnabled bool) ([]*ScheduledJob, error) {
	query := `SELECT ` + scheduledJobColumns + ` FROM scheduled_jobs`
	if onlyEnabled {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, persistErr("list scheduled jobs", err)
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		job, err := scanScheduledJob(rows)
		if err != nil {
			return nil, persistErr("scan scheduled job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list scheduled jobs", err)
	}
	return jobs, nil
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return persistErr("delete scheduled job", err)
	}
	return checkRowsAffected(res, "scheduled job", id)
}

// --- helpers ---

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func persistErr(op string, err error) *schema.Error {
	return schema.NewErrorf(schema.ErrCodePersistence, "%s failed", op).WithCause(err)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("rows affected", err)
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
