// Package store persists contract records in SQLite with JSON columns for
// the nested entity arrays, mirroring the field shapes the analysis pipeline
// reads and writes.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/clauselens/clauselens/internal/contract"
)

type Store struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS contracts (
	id                TEXT PRIMARY KEY,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	title             TEXT NOT NULL DEFAULT '',
	original_filename TEXT NOT NULL DEFAULT '',
	storage_path      TEXT NOT NULL DEFAULT '',
	file_kind         TEXT NOT NULL DEFAULT 'text',
	body_text         TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'pending',
	parties           TEXT NOT NULL DEFAULT '[]',
	key_dates         TEXT NOT NULL DEFAULT '[]',
	financial_terms   TEXT NOT NULL DEFAULT '[]',
	clauses           TEXT NOT NULL DEFAULT '[]',
	risk_level        TEXT NOT NULL DEFAULT '',
	risks             TEXT NOT NULL DEFAULT '[]',
	compliance_score  INTEGER,
	compliance_issues TEXT NOT NULL DEFAULT '[]',
	pricing           TEXT,
	similar_contracts TEXT NOT NULL DEFAULT '[]',
	analysis_date     TEXT NOT NULL DEFAULT '',
	confidence        REAL NOT NULL DEFAULT 0,
	processing_ms     INTEGER NOT NULL DEFAULT 0,
	last_error        TEXT NOT NULL DEFAULT '',
	error_count       INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_contracts_status ON contracts(status);
CREATE INDEX IF NOT EXISTS idx_contracts_risk_level ON contracts(risk_level);
`

func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const recordColumns = `id, created_at, updated_at, title, original_filename, storage_path,
	file_kind, body_text, status, parties, key_dates, financial_terms, clauses,
	risk_level, risks, compliance_score, compliance_issues, pricing,
	similar_contracts, analysis_date, confidence, processing_ms, last_error, error_count`

func (s *Store) Create(ctx context.Context, rec *contract.Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = contract.StatusPending
	}
	rec.EnsureDefaults()

	_, err := s.db.ExecContext(ctx, `INSERT INTO contracts (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		recordArgs(rec)...)
	if err != nil {
		return fmt.Errorf("insert contract: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*contract.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM contracts WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, contract.NewError(contract.CodeNotFound, "contract %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get contract: %w", err)
	}
	return rec, nil
}

// Update writes the full record back. The pipeline's discipline is a fresh
// read before every update, so a whole-row save is the honest operation here.
func (s *Store) Update(ctx context.Context, rec *contract.Record) error {
	rec.UpdatedAt = time.Now().UTC()
	rec.EnsureDefaults()
	res, err := s.db.ExecContext(ctx, `UPDATE contracts SET
		created_at = ?, updated_at = ?, title = ?, original_filename = ?, storage_path = ?,
		file_kind = ?, body_text = ?, status = ?, parties = ?, key_dates = ?,
		financial_terms = ?, clauses = ?, risk_level = ?, risks = ?, compliance_score = ?,
		compliance_issues = ?, pricing = ?, similar_contracts = ?, analysis_date = ?,
		confidence = ?, processing_ms = ?, last_error = ?, error_count = ?
		WHERE id = ?`,
		append(recordArgs(rec)[1:], rec.ID)...)
	if err != nil {
		return fmt.Errorf("update contract: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return contract.NewError(contract.CodeNotFound, "contract %s not found", rec.ID)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM contracts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete contract: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return contract.NewError(contract.CodeNotFound, "contract %s not found", id)
	}
	return nil
}

func (s *Store) List(ctx context.Context, limit int) ([]contract.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM contracts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	return collectRecords(rows)
}

// FindWithText returns records with non-empty extracted text, excluding the
// given id; the similarity candidate pool.
func (s *Store) FindWithText(ctx context.Context, excludeID string, limit int) ([]contract.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM contracts
		WHERE TRIM(body_text) != '' AND id != ?
		ORDER BY created_at DESC LIMIT ?`, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("find contracts with text: %w", err)
	}
	return collectRecords(rows)
}

func (s *Store) FindByStatus(ctx context.Context, statuses []contract.Status, limit int) ([]contract.Record, error) {
	if len(statuses) == 0 {
		return []contract.Record{}, nil
	}
	query, args, err := sqlx.In(`SELECT `+recordColumns+` FROM contracts
		WHERE status IN (?) ORDER BY created_at ASC LIMIT ?`, statuses, limit)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("find contracts by status: %w", err)
	}
	return collectRecords(rows)
}

func (s *Store) CountAll(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contracts`).Scan(&n)
	return n, err
}

func (s *Store) CountByStatus(ctx context.Context, status contract.Status) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contracts WHERE status = ?`, status).Scan(&n)
	return n, err
}

func (s *Store) CountByRiskLevels(ctx context.Context, levels []contract.RiskLevel) (int, error) {
	if len(levels) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`SELECT COUNT(*) FROM contracts WHERE risk_level IN (?)`, levels)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.QueryRowContext(ctx, s.db.Rebind(query), args...).Scan(&n)
	return n, err
}

// AverageComplianceScore is the mean over records where the score is set,
// zero when none are.
func (s *Store) AverageComplianceScore(ctx context.Context) (float64, error) {
	var avg float64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(AVG(compliance_score), 0) FROM contracts WHERE compliance_score IS NOT NULL`).Scan(&avg)
	return avg, err
}

// KeyDatesBetween scans the stored key-date arrays and returns entries within
// [from, to] inclusive. Dates live inside a JSON column, so the range filter
// runs in Go rather than SQL.
func (s *Store) KeyDatesBetween(ctx context.Context, from, to time.Time) ([]contract.KeyDate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key_dates FROM contracts WHERE key_dates != '[]'`)
	if err != nil {
		return nil, fmt.Errorf("scan key dates: %w", err)
	}
	defer rows.Close()

	out := []contract.KeyDate{}
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var dates []contract.KeyDate
		if err := json.Unmarshal([]byte(blob), &dates); err != nil {
			continue
		}
		for _, d := range dates {
			if d.Date.Before(from) || d.Date.After(to) {
				continue
			}
			out = append(out, d)
		}
	}
	return out, rows.Err()
}

// --- row helpers ---

func recordArgs(rec *contract.Record) []any {
	return []any{
		rec.ID,
		timeToString(rec.CreatedAt),
		timeToString(rec.UpdatedAt),
		rec.Title,
		rec.OriginalFilename,
		rec.StoragePath,
		string(rec.FileKind),
		rec.Text,
		string(rec.Status),
		marshalJSON(rec.Parties),
		marshalJSON(rec.KeyDates),
		marshalJSON(rec.FinancialTerms),
		marshalJSON(rec.Clauses),
		string(rec.RiskLevel),
		marshalJSON(rec.Risks),
		nullableInt(rec.ComplianceScore),
		marshalJSON(rec.ComplianceIssues),
		nullableJSON(rec.Pricing),
		marshalJSON(rec.SimilarContracts),
		timeToStringPtr(rec.AnalysisDate),
		rec.ConfidenceScore,
		rec.ProcessingTime.Milliseconds(),
		rec.LastError,
		rec.ErrorCount,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*contract.Record, error) {
	var rec contract.Record
	var createdAt, updatedAt, analysisDate, fileKind, status, riskLevel string
	var parties, keyDates, financialTerms, clauses, risks, issues, similar string
	var pricing sql.NullString
	var complianceScore sql.NullInt64
	var processingMS int64

	err := row.Scan(&rec.ID, &createdAt, &updatedAt, &rec.Title, &rec.OriginalFilename,
		&rec.StoragePath, &fileKind, &rec.Text, &status, &parties, &keyDates,
		&financialTerms, &clauses, &riskLevel, &risks, &complianceScore, &issues,
		&pricing, &similar, &analysisDate, &rec.ConfidenceScore, &processingMS,
		&rec.LastError, &rec.ErrorCount)
	if err != nil {
		return nil, err
	}

	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	rec.FileKind = contract.FileKind(fileKind)
	rec.Status = contract.Status(status)
	rec.RiskLevel = contract.RiskLevel(riskLevel)
	rec.ProcessingTime = time.Duration(processingMS) * time.Millisecond
	if analysisDate != "" {
		if t, err := time.Parse(time.RFC3339Nano, analysisDate); err == nil {
			rec.AnalysisDate = &t
		}
	}
	if complianceScore.Valid {
		score := int(complianceScore.Int64)
		rec.ComplianceScore = &score
	}
	_ = json.Unmarshal([]byte(parties), &rec.Parties)
	_ = json.Unmarshal([]byte(keyDates), &rec.KeyDates)
	_ = json.Unmarshal([]byte(financialTerms), &rec.FinancialTerms)
	_ = json.Unmarshal([]byte(clauses), &rec.Clauses)
	_ = json.Unmarshal([]byte(risks), &rec.Risks)
	_ = json.Unmarshal([]byte(issues), &rec.ComplianceIssues)
	_ = json.Unmarshal([]byte(similar), &rec.SimilarContracts)
	if pricing.Valid && pricing.String != "" {
		var p contract.PricingAnalysis
		if err := json.Unmarshal([]byte(pricing.String), &p); err == nil {
			rec.Pricing = &p
		}
	}
	rec.EnsureDefaults()
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]contract.Record, error) {
	defer rows.Close()
	out := []contract.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func timeToStringPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return timeToString(*t)
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func nullableJSON(v *contract.PricingAnalysis) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
