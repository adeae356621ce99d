package deficiencies

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"LERS-backend/internal/platform/apierr"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

const columns = `
	deficiency_id, type, status, description, resolution,
	user_id, tagged_by_id, fic_to_notify_id, borrow_id, created_at, updated_at`

func scan(r interface{ Scan(...any) error }) (*Deficiency, error) {
	var d Deficiency
	var typ, st string
	if err := r.Scan(&d.ID, &typ, &st, &d.Description, &d.Resolution,
		&d.UserID, &d.TaggedByID, &d.FICToNotifyID, &d.BorrowID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Type, d.Status = Type(typ), Status(st)
	return &d, nil
}

func (s *Store) BorrowerOf(ctx context.Context, borrowID string) (string, error) {
	var uid string
	err := s.db.QueryRowContext(ctx, `SELECT borrower_id FROM borrows WHERE borrow_id = ?`, borrowID).Scan(&uid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apierr.ErrNotFound("borrow not found")
		}
		return "", err
	}
	return uid, nil
}

func (s *Store) Insert(ctx context.Context, d *Deficiency) error {
	const q = `
	INSERT INTO deficiencies
	(deficiency_id, type, status, description, resolution, user_id, tagged_by_id, fic_to_notify_id, borrow_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		d.ID, string(d.Type), string(d.Status), d.Description, d.Resolution,
		d.UserID, d.TaggedByID, d.FICToNotifyID, d.BorrowID, d.CreatedAt, d.UpdatedAt)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*Deficiency, error) {
	d, err := scan(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM deficiencies WHERE deficiency_id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.ErrNotFound("deficiency not found")
		}
		return nil, err
	}
	return d, nil
}

// Update は指定された項目のみ更新する
func (s *Store) Update(ctx context.Context, id string, p Patch, at time.Time) error {
	sets := []string{}
	args := []any{}
	if p.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*p.Status))
	}
	if p.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, nullIfBlank(*p.Description))
	}
	if p.Resolution != nil {
		sets = append(sets, "resolution = ?")
		args = append(args, nullIfBlank(*p.Resolution))
	}
	if len(sets) == 0 {
		return apierr.ErrInvalid("nothing to update")
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, at, id)

	q := `UPDATE deficiencies SET ` + strings.Join(sets, ", ") + ` WHERE deficiency_id = ?`
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apierr.ErrNotFound("deficiency not found")
	}
	return nil
}

func (s *Store) CountOpen(ctx context.Context, borrowID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deficiencies WHERE borrow_id = ? AND status <> 'RESOLVED'`, borrowID,
	).Scan(&n)
	return n, err
}

func (s *Store) ListByBorrow(ctx context.Context, borrowID string) ([]Deficiency, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM deficiencies WHERE borrow_id = ? ORDER BY created_at ASC, deficiency_id ASC`, borrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func (s *Store) List(ctx context.Context, f Filter, p Page) ([]Deficiency, int64, error) {
	where := strings.Builder{}
	where.WriteString(` WHERE 1=1`)
	args := []any{}
	if f.Status != nil {
		where.WriteString(` AND status = ?`)
		args = append(args, string(*f.Status))
	}
	if f.Type != nil {
		where.WriteString(` AND type = ?`)
		args = append(args, string(*f.Type))
	}
	if f.UserID != nil {
		where.WriteString(` AND user_id = ?`)
		args = append(args, *f.UserID)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deficiencies`+where.String(), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + columns + ` FROM deficiencies` + where.String() + ` ORDER BY created_at DESC, deficiency_id DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, q, append(args, p.Limit, p.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func collect(rows *sql.Rows) ([]Deficiency, error) {
	out := []Deficiency{}
	for rows.Next() {
		d, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func nullIfBlank(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
