package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"mistakepatch/api/internal/grading"
	"mistakepatch/api/internal/util"
)

type PGRepo struct{ DB *sql.DB }

func NewPGRepo(db *sql.DB) *PGRepo { return &PGRepo{DB: db} }

// Open connects through the pgx stdlib driver and pings once.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}
	return db, nil
}

const schema = `
create table if not exists submissions (
  id text primary key,
  user_id text not null,
  created_at timestamptz not null default now(),
  subject text not null,
  solution_img_path text not null,
  problem_img_path text
);

create table if not exists analyses (
  id text primary key,
  submission_id text not null references submissions(id) on delete cascade,
  status text not null,
  score_total double precision,
  rubric_json jsonb,
  result_json jsonb,
  confidence double precision,
  error_code text,
  fallback_used boolean not null default false,
  created_at timestamptz not null default now(),
  updated_at timestamptz not null default now()
);

create table if not exists mistakes (
  id text primary key,
  analysis_id text not null references analyses(id) on delete cascade,
  order_idx integer not null,
  type text not null,
  severity text not null,
  points_deducted double precision not null,
  evidence text not null,
  fix_instruction text not null,
  location_hint text not null
);

create table if not exists annotations (
  id text primary key,
  analysis_id text not null references analyses(id) on delete cascade,
  mistake_id text not null references mistakes(id) on delete cascade,
  mode text not null,
  shape text not null,
  x double precision,
  y double precision,
  w double precision,
  h double precision,
  created_at timestamptz not null default now()
);

create index if not exists idx_submissions_user_id on submissions(user_id);
create index if not exists idx_analyses_created_at on analyses(created_at desc);
create index if not exists idx_mistakes_analysis_id on mistakes(analysis_id, order_idx);
create index if not exists idx_annotations_analysis_id on annotations(analysis_id);
`

// Migrate applies the DDL. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *PGRepo) CreateSubmission(ctx context.Context, s Submission) (string, error) {
	id := util.NewID("s")
	const q = `
insert into submissions (id, user_id, subject, solution_img_path, problem_img_path)
values ($1,$2,$3,$4,$5)`
	if _, err := r.DB.ExecContext(ctx, q, id, s.UserID, s.Subject, s.SolutionPath, nullString(s.ProblemPath)); err != nil {
		return "", err
	}
	return id, nil
}

func (r *PGRepo) CreateAnalysis(ctx context.Context, submissionID string) (string, error) {
	id := util.NewID("a")
	const q = `insert into analyses (id, submission_id, status) values ($1,$2,$3)`
	if _, err := r.DB.ExecContext(ctx, q, id, submissionID, StatusQueued); err != nil {
		return "", err
	}
	return id, nil
}

func (r *PGRepo) SetStatus(ctx context.Context, analysisID, status, errorCode string) error {
	const q = `update analyses set status=$1, error_code=$2, updated_at=now() where id=$3`
	return r.exec1(ctx, q, status, nullString(errorCode), analysisID)
}

func (r *PGRepo) MarkFailed(ctx context.Context, analysisID, errorCode string) error {
	return r.SetStatus(ctx, analysisID, StatusFailed, errorCode)
}

func (r *PGRepo) exec1(ctx context.Context, q string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveResult marks the analysis done and replaces its mistake rows in result order.
func (r *PGRepo) SaveResult(ctx context.Context, analysisID string, res *grading.Result, fallbackUsed bool, errorCode string) error {
	resultJSON, err := json.Marshal(res)
	if err != nil {
		return err
	}
	rubricJSON, err := json.Marshal(res.RubricScores)
	if err != nil {
		return err
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const upd = `
update analyses
set status=$1, score_total=$2, rubric_json=$3, result_json=$4, confidence=$5,
    fallback_used=$6, error_code=$7, updated_at=now()
where id=$8`
	out, err := tx.ExecContext(ctx, upd, StatusDone, res.ScoreTotal, rubricJSON, resultJSON, res.Confidence,
		fallbackUsed, nullString(errorCode), analysisID)
	if err != nil {
		return err
	}
	if n, err := out.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `delete from mistakes where analysis_id=$1`, analysisID); err != nil {
		return err
	}
	const ins = `
insert into mistakes (id, analysis_id, order_idx, type, severity, points_deducted, evidence, fix_instruction, location_hint)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	for i, m := range res.Mistakes {
		if _, err := tx.ExecContext(ctx, ins, util.NewID("m"), analysisID, i, string(m.Type), string(m.Severity),
			m.PointsDeducted, m.Evidence, m.FixInstruction, m.LocationHint); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *PGRepo) GetAnalysis(ctx context.Context, analysisID, userID string) (*Analysis, error) {
	const q = `
select a.id, a.submission_id, s.user_id, a.status, s.subject,
       s.solution_img_path, coalesce(s.problem_img_path,''),
       a.result_json, a.fallback_used, coalesce(a.error_code,''),
       a.created_at, a.updated_at
from analyses a
join submissions s on s.id = a.submission_id
where a.id = $1 and s.user_id = $2`
	var (
		a  Analysis
		js []byte
	)
	if err := r.DB.QueryRowContext(ctx, q, analysisID, userID).Scan(
		&a.ID, &a.SubmissionID, &a.UserID, &a.Status, &a.Subject,
		&a.SolutionPath, &a.ProblemPath, &js, &a.FallbackUsed, &a.ErrorCode,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(js) > 0 {
		var res grading.Result
		if err := json.Unmarshal(js, &res); err != nil {
			return nil, fmt.Errorf("decode result_json: %w", err)
		}
		a.Result = &res
	}
	if a.Result == nil {
		return &a, nil
	}

	ids, err := r.mistakeIDs(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	latest, err := r.latestAnnotations(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	overlay(a.Result, ids, latest)
	return &a, nil
}

func (r *PGRepo) mistakeIDs(ctx context.Context, analysisID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `select id from mistakes where analysis_id=$1 order by order_idx asc`, analysisID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PGRepo) latestAnnotations(ctx context.Context, analysisID string) (map[string]Annotation, error) {
	const q = `
select id, mistake_id, mode, shape, x, y, w, h, created_at
from annotations
where analysis_id=$1
order by created_at desc`
	rows, err := r.DB.QueryContext(ctx, q, analysisID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]Annotation{}
	for rows.Next() {
		var (
			a          Annotation
			mode, sh   string
			x, y, w, h sql.NullFloat64
		)
		if err := rows.Scan(&a.ID, &a.MistakeID, &mode, &sh, &x, &y, &w, &h, &a.CreatedAt); err != nil {
			return nil, err
		}
		if _, seen := out[a.MistakeID]; seen {
			continue
		}
		a.AnalysisID = analysisID
		a.Mode, a.Shape = grading.HighlightMode(mode), grading.HighlightShape(sh)
		a.X, a.Y, a.W, a.H = floatPtr(x), floatPtr(y), floatPtr(w), floatPtr(h)
		out[a.MistakeID] = a
	}
	return out, rows.Err()
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func (r *PGRepo) MistakeExists(ctx context.Context, analysisID, mistakeID, userID string) (bool, error) {
	const q = `
select 1
from mistakes m
join analyses a on a.id = m.analysis_id
join submissions s on s.id = a.submission_id
where m.analysis_id=$1 and m.id=$2 and s.user_id=$3`
	var one int
	err := r.DB.QueryRowContext(ctx, q, analysisID, mistakeID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r *PGRepo) CreateAnnotation(ctx context.Context, a Annotation) (string, error) {
	id := util.NewID("ann")
	const q = `
insert into annotations (id, analysis_id, mistake_id, mode, shape, x, y, w, h)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	if _, err := r.DB.ExecContext(ctx, q, id, a.AnalysisID, a.MistakeID, string(a.Mode), string(a.Shape),
		a.X, a.Y, a.W, a.H); err != nil {
		return "", err
	}
	return id, nil
}

func (r *PGRepo) History(ctx context.Context, userID string, limit int) (*History, error) {
	const items = `
select a.id, s.subject, a.score_total, a.status, a.created_at, coalesce(m.type,'')
from analyses a
join submissions s on s.id = a.submission_id
left join mistakes m on m.analysis_id = a.id and m.order_idx = 0
where s.user_id = $1
order by a.created_at desc
limit $2`
	rows, err := r.DB.QueryContext(ctx, items, userID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	h := &History{Items: []HistoryItem{}, TopTags: []TagCount{}}
	for rows.Next() {
		var (
			it    HistoryItem
			score sql.NullFloat64
		)
		if err := rows.Scan(&it.AnalysisID, &it.Subject, &score, &it.Status, &it.CreatedAt, &it.TopTag); err != nil {
			return nil, err
		}
		it.ScoreTotal = floatPtr(score)
		h.Items = append(h.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	const tags = `
select m.type, count(*) as n
from mistakes m
join analyses a on a.id = m.analysis_id
join submissions s on s.id = a.submission_id
where a.status = 'done' and s.user_id = $1
group by m.type
order by n desc, m.type asc
limit 3`
	trows, err := r.DB.QueryContext(ctx, tags, userID)
	if err != nil {
		return nil, err
	}
	defer trows.Close()
	for trows.Next() {
		var tc TagCount
		if err := trows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, err
		}
		h.TopTags = append(h.TopTags, tc)
	}
	return h, trows.Err()
}
