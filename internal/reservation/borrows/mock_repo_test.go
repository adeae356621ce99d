package borrows

import (
	"context"
	"database/sql"
	"io/fs"
	"sort"
	"sync"
	"time"

	"LERS-backend/internal/platform/apierr"

	ulid "github.com/oklog/ulid/v2"
)

// memRepo は Repository のインメモリ実装。Store と同じ条件付き更新を再現する
type memRepo struct {
	mu        sync.Mutex
	borrows   map[string]*Borrow
	mates     map[string][]UserSummary
	equipment map[string]EquipmentStatus
	users     map[string]UserSummary

	failWith error
}

func newMemRepo() *memRepo {
	return &memRepo{
		borrows:   map[string]*Borrow{},
		mates:     map[string][]UserSummary{},
		equipment: map[string]EquipmentStatus{},
		users:     map[string]UserSummary{},
	}
}

func newID() string { return ulid.Make().String() }

func (r *memRepo) put(b Borrow) *Borrow {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.ID == "" {
		b.ID = newID()
	}
	if b.RequestedEquipmentIDs == nil {
		b.RequestedEquipmentIDs = []string{}
	}
	if b.DataFiles == nil {
		b.DataFiles = []DataFile{}
	}
	if _, ok := r.equipment[b.EquipmentID]; !ok && b.EquipmentID != "" {
		r.equipment[b.EquipmentID] = EquipmentAvailable
	}
	cp := b
	r.borrows[b.ID] = &cp
	return &cp
}

func (r *memRepo) get(id string) Borrow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.borrows[id])
}

func clone(b *Borrow) Borrow {
	cp := *b
	cp.RequestedEquipmentIDs = append([]string{}, b.RequestedEquipmentIDs...)
	cp.DataFiles = append([]DataFile{}, b.DataFiles...)
	return cp
}

func (r *memRepo) GetBorrow(_ context.Context, id string) (*Borrow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	b, ok := r.borrows[id]
	if !ok {
		return nil, apierr.ErrNotFound("borrow not found")
	}
	cp := clone(b)
	return &cp, nil
}

func (r *memRepo) InsertSubmission(_ context.Context, borrows []*Borrow, mates []GroupMate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range borrows {
		st, ok := r.equipment[b.EquipmentID]
		if !ok {
			return apierr.ErrNotFound("equipment not found: " + b.EquipmentID)
		}
		if st == EquipmentArchived || st == EquipmentOutOfCommission {
			return apierr.ErrInvalid("equipment cannot be reserved")
		}
	}
	for _, b := range borrows {
		cp := clone(b)
		r.borrows[b.ID] = &cp
	}
	for _, m := range mates {
		u, ok := r.users[m.UserID]
		if !ok {
			u = UserSummary{UserID: m.UserID}
		}
		r.mates[m.GroupID] = append(r.mates[m.GroupID], u)
	}
	return nil
}

func (r *memRepo) SaveReturnRequest(_ context.Context, b *Borrow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.borrows[b.ID]
	if !ok || !returnable(cur.Status) {
		return apierr.ErrConflict("borrow was modified concurrently; reload and retry")
	}
	cur.Status = b.Status
	cur.DataRequested = b.DataRequested
	cur.DataRequestStatus = b.DataRequestStatus
	cur.DataRequestRemarks = b.DataRequestRemarks
	cur.RequestedEquipmentIDs = append([]string{}, b.RequestedEquipmentIDs...)
	return nil
}

func (r *memRepo) ApprovePending(_ context.Context, ids []string, reviewerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return 0, r.failWith
	}
	n := 0
	for _, id := range ids {
		b, ok := r.borrows[id]
		if !ok || b.Status != StatusPending {
			continue
		}
		b.Status = StatusApproved
		if !b.ApprovedStartTime.Valid {
			b.ApprovedStartTime = sql.NullTime{Time: b.RequestedStartTime, Valid: true}
		}
		if !b.ApprovedEndTime.Valid {
			b.ApprovedEndTime = sql.NullTime{Time: b.RequestedEndTime, Valid: true}
		}
		b.ReviewedByID = sql.NullString{String: reviewerID, Valid: true}
		n++
	}
	return n, nil
}

func (r *memRepo) UpdateStatus(_ context.Context, id string, from, to Status, p StatusPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.borrows[id]
	if !ok || b.Status != from {
		return apierr.ErrConflict("borrow was modified concurrently; reload and retry")
	}
	b.Status = to
	if p.ApprovedStartTime.Valid {
		b.ApprovedStartTime = p.ApprovedStartTime
	}
	if p.ApprovedEndTime.Valid {
		b.ApprovedEndTime = p.ApprovedEndTime
	}
	if p.ReviewedByID.Valid {
		b.ReviewedByID = p.ReviewedByID
	}
	return nil
}

func (r *memRepo) Checkout(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.borrows[id]
	if !ok {
		return apierr.ErrNotFound("borrow not found")
	}
	if b.Status != StatusApproved {
		return apierr.ErrInvalidTransition(string(b.Status), "check out")
	}
	if r.equipment[b.EquipmentID] != EquipmentAvailable {
		return &apierr.APIError{Code: apierr.CodeInvalidTransition, Message: "equipment not available"}
	}
	b.Status = StatusActive
	b.CheckoutTime = sql.NullTime{Time: at, Valid: true}
	r.equipment[b.EquipmentID] = EquipmentBorrowed
	return nil
}

func (r *memRepo) ReleaseEquipment(_ context.Context, id string, from []Status, to Status, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.borrows[id]
	if !ok {
		return apierr.ErrNotFound("borrow not found")
	}
	allowed := false
	for _, f := range from {
		allowed = allowed || b.Status == f
	}
	if !allowed {
		return apierr.ErrInvalidTransition(string(b.Status), "mark as "+string(to))
	}
	b.Status = to
	if b.CheckoutTime.Valid && !b.ActualReturnTime.Valid {
		b.ActualReturnTime = sql.NullTime{Time: at, Valid: true}
	}
	if r.equipment[b.EquipmentID] == EquipmentBorrowed {
		r.equipment[b.EquipmentID] = EquipmentAvailable
	}
	return nil
}

func (r *memRepo) UpdateDataFiles(_ context.Context, id string, files []DataFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.borrows[id]
	if !ok || !b.DataRequested {
		return apierr.ErrNotFound("data request not found")
	}
	b.DataFiles = append([]DataFile{}, files...)
	return nil
}

func (r *memRepo) ListByGroup(_ context.Context, groupID string) ([]Borrow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Borrow{}
	for _, b := range r.borrows {
		if b.BorrowGroupID.Valid && b.BorrowGroupID.String == groupID {
			out = append(out, clone(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) ListGroupMates(_ context.Context, groupID string) ([]UserSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]UserSummary{}, r.mates[groupID]...), nil
}

func (r *memRepo) ListByStatus(_ context.Context, status Status, p Page) ([]Borrow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Borrow{}
	for _, b := range r.borrows {
		if b.Status == status {
			out = append(out, clone(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if p.Offset >= len(out) {
		return []Borrow{}, nil
	}
	out = out[p.Offset:]
	if len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, nil
}

// memFiles は FileRemover のテスト用実装
type memFiles struct {
	mu      sync.Mutex
	stored  map[string]bool
	failErr error
	removed []string
}

func newMemFiles(keys ...string) *memFiles {
	f := &memFiles{stored: map[string]bool{}}
	for _, k := range keys {
		f.stored[k] = true
	}
	return f
}

func (f *memFiles) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	if !f.stored[key] {
		return fs.ErrNotExist
	}
	delete(f.stored, key)
	f.removed = append(f.removed, key)
	return nil
}

type fixedCounter map[string]int

func (c fixedCounter) OpenDeficiencyCount(_ context.Context, borrowID string) (int, error) {
	return c[borrowID], nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }
