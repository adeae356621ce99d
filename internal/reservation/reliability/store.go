package reliability

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	pdb "LERS-backend/internal/platform/db"
	"LERS-backend/internal/reservation/borrows"

	jsoniter "github.com/json-iterator/go"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// MishandlingIncidents は利用者・発生日時順で返す
func (s *Store) MishandlingIncidents(ctx context.Context) ([]Incident, error) {
	const q = `
	SELECT d.user_id, COALESCE(u.name, ''), d.created_at
	FROM deficiencies d
	LEFT JOIN users u ON u.user_id = d.user_id
	WHERE d.type = 'MISHANDLING'
	ORDER BY d.user_id, d.created_at`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Incident{}
	for rows.Next() {
		var in Incident
		if err := rows.Scan(&in.UserID, &in.UserName, &in.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *Store) MaintenanceLogs(ctx context.Context) ([]EquipmentMaintenance, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT equipment_id, name, maintenance_log FROM equipment ORDER BY equipment_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []EquipmentMaintenance{}
	for rows.Next() {
		var (
			em  EquipmentMaintenance
			raw []byte
		)
		if err := rows.Scan(&em.EquipmentID, &em.Name, &raw); err != nil {
			return nil, err
		}
		em.Log = decodeMaintenanceLog(raw)
		out = append(out, em)
	}
	return out, rows.Err()
}

// decodeMaintenanceLog は壊れた JSON を空として扱う。文字列以外の日付は空文字になり、集計で無視される
func decodeMaintenanceLog(raw []byte) []MaintenanceEntry {
	if len(raw) == 0 {
		return nil
	}
	var items []map[string]any
	if err := jsonCodec.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]MaintenanceEntry, 0, len(items))
	for _, it := range items {
		out = append(out, MaintenanceEntry{
			StartDate: stringField(it, "startDate", "start_date"),
			EndDate:   stringField(it, "endDate", "end_date"),
		})
	}
	return out
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok {
			return v
		}
	}
	return ""
}

func (s *Store) Equipment(ctx context.Context) ([]EquipmentRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT equipment_id, name, status FROM equipment ORDER BY name, equipment_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []EquipmentRef{}
	for rows.Next() {
		var (
			e  EquipmentRef
			st string
		)
		if err := rows.Scan(&e.EquipmentID, &e.Name, &st); err != nil {
			return nil, err
		}
		e.Status = borrows.EquipmentStatus(st)
		out = append(out, e)
	}
	return out, rows.Err()
}

// UsageBorrows は集計対象の状態かつ持ち出し・返却済みの行だけ返す。期間の判定は RankUtilization 側
func (s *Store) UsageBorrows(ctx context.Context) ([]UsageBorrow, error) {
	const q = `
	SELECT equipment_id, borrow_status, checkout_time, actual_return_time
	FROM borrows
	WHERE borrow_status IN ('COMPLETED', 'RETURNED', 'OVERDUE')
	  AND checkout_time IS NOT NULL
	  AND actual_return_time IS NOT NULL`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []UsageBorrow{}
	for rows.Next() {
		var (
			u        UsageBorrow
			st       string
			co, back sql.NullTime
		)
		if err := rows.Scan(&u.EquipmentID, &st, &co, &back); err != nil {
			return nil, err
		}
		u.Status = borrows.Status(st)
		if co.Valid {
			t := co.Time
			u.CheckoutTime = &t
		}
		if back.Valid {
			t := back.Time
			u.ActualReturnTime = &t
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) ReturnsSince(ctx context.Context, since time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT actual_return_time FROM borrows WHERE actual_return_time IS NOT NULL AND actual_return_time >= ?`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []time.Time{}
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DashboardCounts は機材の状態別台数と Borrow/不備の件数を同じスナップショットから取る
func (s *Store) DashboardCounts(ctx context.Context, now time.Time) (DashboardInput, error) {
	in := DashboardInput{Equipment: map[borrows.EquipmentStatus]int{}}

	err := pdb.ReadOnly(ctx, s.db, func(ctx context.Context, tx pdb.DBTX) error {
		rows, err := tx.QueryContext(ctx, `SELECT status, COUNT(*) FROM equipment GROUP BY status`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				st string
				n  int
			)
			if err := rows.Scan(&st, &n); err != nil {
				return err
			}
			in.Equipment[borrows.EquipmentStatus(st)] = n
		}
		if err := rows.Err(); err != nil {
			return err
		}

		// ACTIVE で返却予定を過ぎたものも延滞として数える
		const q = `
		SELECT
		  COALESCE(SUM(borrow_status = 'PENDING'), 0),
		  COALESCE(SUM(borrow_status = 'PENDING_RETURN'), 0),
		  COALESCE(SUM(borrow_status = 'OVERDUE' OR (borrow_status = 'ACTIVE' AND approved_end_time < ?)), 0)
		FROM borrows`
		if err := tx.QueryRowContext(ctx, q, now).Scan(&in.PendingRequests, &in.PendingReturns, &in.Overdue); err != nil {
			return fmt.Errorf("count borrows: %w", err)
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM deficiencies WHERE status <> 'RESOLVED'`).Scan(&in.OpenDeficiencies); err != nil {
			return fmt.Errorf("count deficiencies: %w", err)
		}
		return nil
	})
	return in, err
}
