package borrows

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"LERS-backend/internal/platform/apierr"
	pdb "LERS-backend/internal/platform/db"

	"github.com/go-sql-driver/mysql"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

const borrowColumns = `
	borrow_id, borrower_id, equipment_id, class_id, borrow_group_id,
	requested_start_time, requested_end_time, approved_start_time, approved_end_time,
	checkout_time, actual_return_time, borrow_status, request_submission_time,
	reservation_type, data_requested, data_request_status, data_request_remarks,
	requested_equipment_ids, data_files, reviewed_by_id, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBorrow(r rowScanner) (*Borrow, error) {
	var (
		b        Borrow
		status   string
		reqIDs   []byte
		filesRaw []byte
	)
	err := r.Scan(
		&b.ID, &b.BorrowerID, &b.EquipmentID, &b.ClassID, &b.BorrowGroupID,
		&b.RequestedStartTime, &b.RequestedEndTime, &b.ApprovedStartTime, &b.ApprovedEndTime,
		&b.CheckoutTime, &b.ActualReturnTime, &status, &b.RequestSubmissionTime,
		&b.ReservationType, &b.DataRequested, &b.DataRequestStatus, &b.DataRequestRemarks,
		&reqIDs, &filesRaw, &b.ReviewedByID, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = Status(status)

	b.RequestedEquipmentIDs = []string{}
	if len(reqIDs) > 0 {
		if err := jsonCodec.Unmarshal(reqIDs, &b.RequestedEquipmentIDs); err != nil {
			return nil, fmt.Errorf("decode requested_equipment_ids of %s: %w", b.ID, err)
		}
	}
	b.DataFiles = []DataFile{}
	if len(filesRaw) > 0 {
		if err := jsonCodec.Unmarshal(filesRaw, &b.DataFiles); err != nil {
			return nil, fmt.Errorf("decode data_files of %s: %w", b.ID, err)
		}
	}
	return &b, nil
}

func (s *Store) queryBorrows(ctx context.Context, q string, args ...any) ([]Borrow, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Borrow{}
	for rows.Next() {
		b, err := scanBorrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *Store) GetBorrow(ctx context.Context, id string) (*Borrow, error) {
	q := `SELECT ` + borrowColumns + ` FROM borrows WHERE borrow_id = ?`
	b, err := scanBorrow(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.ErrNotFound("borrow not found")
		}
		return nil, err
	}
	return b, nil
}

func (s *Store) ListByGroup(ctx context.Context, groupID string) ([]Borrow, error) {
	q := `SELECT ` + borrowColumns + ` FROM borrows
		WHERE borrow_group_id = ?
		ORDER BY request_submission_time ASC, borrow_id ASC`
	return s.queryBorrows(ctx, q, groupID)
}

func (s *Store) ListByStatus(ctx context.Context, status Status, p Page) ([]Borrow, error) {
	q := `SELECT ` + borrowColumns + ` FROM borrows
		WHERE borrow_status = ?
		ORDER BY updated_at ASC, borrow_id ASC
		LIMIT ? OFFSET ?`
	return s.queryBorrows(ctx, q, string(status), p.Limit, p.Offset)
}

// ListGroupMates: users に存在しないメンバーも名前空で返す
func (s *Store) ListGroupMates(ctx context.Context, groupID string) ([]UserSummary, error) {
	const q = `
		SELECT m.user_id, COALESCE(u.name, ''), COALESCE(u.email, ''), COALESCE(u.role, '')
		FROM borrow_group_mates m
		LEFT JOIN users u ON u.user_id = m.user_id
		WHERE m.borrow_group_id = ?
		ORDER BY m.added_at ASC, m.user_id ASC`
	rows, err := s.db.QueryContext(ctx, q, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []UserSummary{}
	for rows.Next() {
		var u UserSummary
		if err := rows.Scan(&u.UserID, &u.Name, &u.Email, &u.Role); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// InsertSubmission は機材の存在確認・Borrow 作成・名簿登録を1トランザクションで行う
func (s *Store) InsertSubmission(ctx context.Context, borrows []*Borrow, mates []GroupMate) error {
	if len(borrows) == 0 {
		return nil
	}
	equipmentIDs := make([]string, 0, len(borrows))
	for _, b := range borrows {
		equipmentIDs = append(equipmentIDs, b.EquipmentID)
	}

	return pdb.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx pdb.DBTX) error {
		ph, args := pdb.InPlaceholders(equipmentIDs)
		rows, err := tx.QueryContext(ctx,
			`SELECT equipment_id, status FROM equipment WHERE equipment_id IN (`+ph+`) LOCK IN SHARE MODE`, args...)
		if err != nil {
			return err
		}
		found := make(map[string]EquipmentStatus, len(equipmentIDs))
		for rows.Next() {
			var id, st string
			if err := rows.Scan(&id, &st); err != nil {
				rows.Close()
				return err
			}
			found[id] = EquipmentStatus(st)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range equipmentIDs {
			st, ok := found[id]
			if !ok {
				return apierr.ErrNotFound("equipment not found: " + id)
			}
			if st == EquipmentArchived || st == EquipmentOutOfCommission {
				return apierr.ErrInvalid(fmt.Sprintf("equipment %s is %s and cannot be reserved", id, st))
			}
		}

		const ins = `
		INSERT INTO borrows
		(borrow_id, borrower_id, equipment_id, class_id, borrow_group_id,
		 requested_start_time, requested_end_time, borrow_status, request_submission_time,
		 reservation_type, data_requested, requested_equipment_ids, data_files)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, JSON_ARRAY(), JSON_ARRAY())`
		for _, b := range borrows {
			if _, err := tx.ExecContext(ctx, ins,
				b.ID, b.BorrowerID, b.EquipmentID, b.ClassID, b.BorrowGroupID,
				b.RequestedStartTime, b.RequestedEndTime, string(b.Status), b.RequestSubmissionTime,
				b.ReservationType,
			); err != nil {
				return mapWriteErr(err)
			}
		}

		const insMate = `INSERT INTO borrow_group_mates (borrow_group_id, user_id) VALUES (?, ?)`
		for _, m := range mates {
			if _, err := tx.ExecContext(ctx, insMate, m.GroupID, m.UserID); err != nil {
				return mapWriteErr(err)
			}
		}
		return nil
	})
}

// SaveReturnRequest は返却申請とデータ請求項目を1文で更新する
func (s *Store) SaveReturnRequest(ctx context.Context, b *Borrow) error {
	reqIDs, err := jsonCodec.Marshal(nonNilStrings(b.RequestedEquipmentIDs))
	if err != nil {
		return err
	}
	const q = `
		UPDATE borrows
		SET borrow_status = ?, data_requested = ?, data_request_status = ?,
		    data_request_remarks = ?, requested_equipment_ids = ?
		WHERE borrow_id = ?
		  AND borrow_status IN ('ACTIVE', 'OVERDUE', 'PENDING_RETURN')`
	res, err := s.db.ExecContext(ctx, q,
		string(b.Status), b.DataRequested, b.DataRequestStatus,
		b.DataRequestRemarks, string(reqIDs), b.ID,
	)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// ApprovePending は PENDING のものだけを絞り込んでから APPROVED に更新する。
// 存在しない・PENDING でない ID は黙って除外し、実際に更新した件数を返す
func (s *Store) ApprovePending(ctx context.Context, ids []string, reviewerID string) (int, error) {
	approved := 0
	err := pdb.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx pdb.DBTX) error {
		ph, args := pdb.InPlaceholders(ids)
		rows, err := tx.QueryContext(ctx,
			`SELECT borrow_id FROM borrows WHERE borrow_id IN (`+ph+`) AND borrow_status = 'PENDING' FOR UPDATE`, args...)
		if err != nil {
			return err
		}
		pending := make([]string, 0, len(ids))
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			pending = append(pending, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		ph, args = pdb.InPlaceholders(pending)
		q := `
		UPDATE borrows
		SET borrow_status = 'APPROVED',
		    approved_start_time = COALESCE(approved_start_time, requested_start_time),
		    approved_end_time = COALESCE(approved_end_time, requested_end_time),
		    reviewed_by_id = ?
		WHERE borrow_id IN (` + ph + `) AND borrow_status = 'PENDING'`
		res, err := tx.ExecContext(ctx, q, append([]any{reviewerID}, args...)...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		approved = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return approved, nil
}

// UpdateStatus は from のままであることを条件に to へ更新する（楽観的ロック）
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to Status, p StatusPatch) error {
	const q = `
		UPDATE borrows
		SET borrow_status = ?,
		    approved_start_time = COALESCE(?, approved_start_time),
		    approved_end_time = COALESCE(?, approved_end_time),
		    reviewed_by_id = COALESCE(?, reviewed_by_id)
		WHERE borrow_id = ? AND borrow_status = ?`
	res, err := s.db.ExecContext(ctx, q,
		string(to), p.ApprovedStartTime, p.ApprovedEndTime, p.ReviewedByID, id, string(from))
	if err != nil {
		return err
	}
	return expectOne(res)
}

// lockBorrow は borrow 行をロックし、状態と機材IDを返す
func lockBorrow(ctx context.Context, tx pdb.DBTX, id string) (Status, string, error) {
	var st, equipmentID string
	err := tx.QueryRowContext(ctx,
		`SELECT borrow_status, equipment_id FROM borrows WHERE borrow_id = ? FOR UPDATE`, id,
	).Scan(&st, &equipmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", apierr.ErrNotFound("borrow not found")
		}
		return "", "", err
	}
	return Status(st), equipmentID, nil
}

// Checkout: APPROVED → ACTIVE と機材 AVAILABLE → BORROWED を同時に行う
func (s *Store) Checkout(ctx context.Context, id string, at time.Time) error {
	return pdb.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx pdb.DBTX) error {
		st, equipmentID, err := lockBorrow(ctx, tx, id)
		if err != nil {
			return err
		}
		if st != StatusApproved {
			return apierr.ErrInvalidTransition(string(st), "check out")
		}

		var eqStatus string
		if err := tx.QueryRowContext(ctx,
			`SELECT status FROM equipment WHERE equipment_id = ? FOR UPDATE`, equipmentID,
		).Scan(&eqStatus); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apierr.ErrNotFound("equipment not found")
			}
			return err
		}
		if EquipmentStatus(eqStatus) != EquipmentAvailable {
			return &apierr.APIError{
				Code:    apierr.CodeInvalidTransition,
				Message: fmt.Sprintf("equipment %s is %s", equipmentID, eqStatus),
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE borrows SET borrow_status = 'ACTIVE', checkout_time = ? WHERE borrow_id = ?`, at, id,
		); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE equipment SET status = 'BORROWED' WHERE equipment_id = ?`, equipmentID)
		return err
	})
}

// ReleaseEquipment は返却系の遷移と機材の貸出解除を同時に行う。
// 持ち出し記録が無い場合は actual_return_time を設定しない
func (s *Store) ReleaseEquipment(ctx context.Context, id string, from []Status, to Status, at time.Time) error {
	return pdb.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx pdb.DBTX) error {
		st, equipmentID, err := lockBorrow(ctx, tx, id)
		if err != nil {
			return err
		}
		allowed := false
		for _, f := range from {
			if st == f {
				allowed = true
				break
			}
		}
		if !allowed {
			return apierr.ErrInvalidTransition(string(st), "mark as "+string(to))
		}

		const q = `
		UPDATE borrows
		SET borrow_status = ?,
		    actual_return_time = IF(checkout_time IS NULL, actual_return_time, COALESCE(actual_return_time, ?))
		WHERE borrow_id = ?`
		if _, err := tx.ExecContext(ctx, q, string(to), at, id); err != nil {
			return err
		}
		// OUT_OF_COMMISSION 等に変更済みの機材は戻さない
		_, err = tx.ExecContext(ctx,
			`UPDATE equipment SET status = 'AVAILABLE' WHERE equipment_id = ? AND status = 'BORROWED'`, equipmentID)
		return err
	})
}

func (s *Store) UpdateDataFiles(ctx context.Context, id string, files []DataFile) error {
	if files == nil {
		files = []DataFile{}
	}
	raw, err := jsonCodec.Marshal(files)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE borrows SET data_files = ? WHERE borrow_id = ? AND data_requested = 1`, string(raw), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apierr.ErrNotFound("data request not found")
	}
	return nil
}

// helpers

// expectOne: 条件付き UPDATE が0件なら他の更新に先を越されたとみなす
func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apierr.ErrConflict("borrow was modified concurrently; reload and retry")
	}
	return nil
}

// mapWriteErr は MySQL の制約違反をAPIエラーに変換する
func mapWriteErr(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1062:
			return apierr.ErrConflict("duplicate entry")
		case 1452:
			return apierr.ErrNotFound("referenced user or equipment not found")
		}
	}
	return err
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
