package deficiencies

import (
	"context"
	"crypto/rand"
	"database/sql"
	"strings"
	"time"

	"LERS-backend/internal/platform/apierr"
	"LERS-backend/internal/platform/auth"

	ulid "github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// -------------- Clock & ID --------------

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type IDGen interface{ NewULID(t time.Time) string }
type ulidGen struct{}

func (ulidGen) NewULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

func validID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// -------------- Service --------------

type Repository interface {
	BorrowerOf(ctx context.Context, borrowID string) (string, error)
	Insert(ctx context.Context, d *Deficiency) error
	Get(ctx context.Context, id string) (*Deficiency, error)
	Update(ctx context.Context, id string, p Patch, at time.Time) error
	CountOpen(ctx context.Context, borrowID string) (int, error)
	ListByBorrow(ctx context.Context, borrowID string) ([]Deficiency, error)
	List(ctx context.Context, f Filter, p Page) ([]Deficiency, int64, error)
}

// Invalidator は集計キャッシュの破棄先
type Invalidator interface{ Invalidate() }

type Service struct {
	store   Repository
	reports Invalidator
	clock   Clock
	id      IDGen
	log     *zap.Logger
}

func NewService(db *sql.DB, log *zap.Logger) *Service {
	return newService(NewStore(db), log)
}

func newService(store Repository, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, clock: realClock{}, id: ulidGen{}, log: log.Named("deficiencies")}
}

// SetInvalidator は台帳更新のたびに破棄するキャッシュを登録する
func (s *Service) SetInvalidator(inv Invalidator) { s.reports = inv }

func (s *Service) changed() {
	if s.reports != nil {
		s.reports.Invalidate()
	}
}

// POST /borrows/:borrow_id/deficiencies
func (s *Service) LogDeficiency(ctx context.Context, actor auth.Actor, borrowID string, in LogRequest) (DeficiencyResponse, error) {
	if actor.UserID == "" {
		return DeficiencyResponse{}, apierr.ErrUnauthorized("authentication required")
	}
	if !actor.IsStaffOrFaculty() {
		return DeficiencyResponse{}, apierr.ErrForbidden("deficiencies are logged by STAFF or FACULTY")
	}
	if !validID(borrowID) {
		return DeficiencyResponse{}, apierr.ErrInvalid("invalid borrow_id")
	}
	typ := Type(strings.ToUpper(strings.TrimSpace(in.Type)))
	if !typ.Valid() {
		return DeficiencyResponse{}, apierr.ErrInvalid("type must be one of DAMAGE, MISHANDLING, LOSS, OTHER")
	}

	borrowerID, err := s.store.BorrowerOf(ctx, borrowID)
	if err != nil {
		return DeficiencyResponse{}, err
	}
	userID := borrowerID
	if in.UserID != nil && strings.TrimSpace(*in.UserID) != "" {
		userID = strings.TrimSpace(*in.UserID)
		if !validID(userID) {
			return DeficiencyResponse{}, apierr.ErrInvalid("invalid user_id")
		}
	}
	fic := toNullString(in.FICToNotifyID)
	if fic.Valid && !validID(fic.String) {
		return DeficiencyResponse{}, apierr.ErrInvalid("invalid fic_to_notify_id")
	}

	now := s.clock.Now()
	d := &Deficiency{
		ID:            s.id.NewULID(now),
		Type:          typ,
		Status:        StatusOpen,
		Description:   toNullString(in.Description),
		UserID:        userID,
		TaggedByID:    actor.UserID,
		FICToNotifyID: fic,
		BorrowID:      borrowID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Insert(ctx, d); err != nil {
		return DeficiencyResponse{}, err
	}
	s.changed()
	s.log.Info("deficiency logged",
		zap.String("deficiency_id", d.ID),
		zap.String("borrow_id", borrowID),
		zap.String("type", string(typ)),
		zap.String("tagged_by", actor.UserID))
	return toResponse(d), nil
}

// PATCH /deficiencies/:deficiency_id
//
// 状態は OPEN / IN_PROGRESS / RESOLVED の間を自由に行き来できる
func (s *Service) UpdateDeficiency(ctx context.Context, actor auth.Actor, id string, in UpdateRequest) (DeficiencyResponse, error) {
	if actor.UserID == "" {
		return DeficiencyResponse{}, apierr.ErrUnauthorized("authentication required")
	}
	if !actor.IsStaffOrFaculty() {
		return DeficiencyResponse{}, apierr.ErrForbidden("deficiencies are updated by STAFF or FACULTY")
	}
	if !validID(id) {
		return DeficiencyResponse{}, apierr.ErrInvalid("invalid deficiency_id")
	}
	var p Patch
	if in.Status != nil {
		st := Status(strings.ToUpper(strings.TrimSpace(*in.Status)))
		if !st.Valid() {
			return DeficiencyResponse{}, apierr.ErrInvalid("status must be one of OPEN, IN_PROGRESS, RESOLVED")
		}
		p.Status = &st
	}
	p.Description = in.Description
	p.Resolution = in.Resolution
	if p.Status == nil && p.Description == nil && p.Resolution == nil {
		return DeficiencyResponse{}, apierr.ErrInvalid("nothing to update")
	}

	if err := s.store.Update(ctx, id, p, s.clock.Now()); err != nil {
		return DeficiencyResponse{}, err
	}
	s.changed()
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return DeficiencyResponse{}, err
	}
	return toResponse(d), nil
}

// OpenDeficiencyCount は RESOLVED 以外の件数
func (s *Service) OpenDeficiencyCount(ctx context.Context, borrowID string) (int, error) {
	return s.store.CountOpen(ctx, borrowID)
}

// GET /borrows/:borrow_id/deficiencies
func (s *Service) ListByBorrow(ctx context.Context, actor auth.Actor, borrowID string) ([]DeficiencyResponse, error) {
	if actor.UserID == "" {
		return nil, apierr.ErrUnauthorized("authentication required")
	}
	if !validID(borrowID) {
		return nil, apierr.ErrInvalid("invalid borrow_id")
	}
	borrowerID, err := s.store.BorrowerOf(ctx, borrowID)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaffOrFaculty() && actor.UserID != borrowerID {
		return nil, apierr.ErrForbidden("not allowed to view deficiencies of this borrow")
	}
	rows, err := s.store.ListByBorrow(ctx, borrowID)
	if err != nil {
		return nil, err
	}
	out := make([]DeficiencyResponse, 0, len(rows))
	for i := range rows {
		out = append(out, toResponse(&rows[i]))
	}
	return out, nil
}

// GET /deficiencies
func (s *Service) List(ctx context.Context, actor auth.Actor, f Filter, p Page) (ListResult, error) {
	if !actor.IsStaffOrFaculty() {
		return ListResult{}, apierr.ErrForbidden("deficiency list is visible to STAFF or FACULTY")
	}
	if f.Status != nil && !f.Status.Valid() {
		return ListResult{}, apierr.ErrInvalid("invalid status filter")
	}
	if f.Type != nil && !f.Type.Valid() {
		return ListResult{}, apierr.ErrInvalid("invalid type filter")
	}
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	rows, total, err := s.store.List(ctx, f, p)
	if err != nil {
		return ListResult{}, err
	}
	items := make([]DeficiencyResponse, 0, len(rows))
	for i := range rows {
		items = append(items, toResponse(&rows[i]))
	}
	next := p.Offset + p.Limit
	if next >= int(total) {
		next = 0
	} // 0=終端
	return ListResult{Items: items, Total: total, NextOffset: next}, nil
}

// helpers

func toNullString(s *string) (ns sql.NullString) {
	if s != nil && strings.TrimSpace(*s) != "" {
		ns.Valid, ns.String = true, strings.TrimSpace(*s)
	}
	return
}

func nullToPtr(ns sql.NullString) *string {
	if ns.Valid {
		v := ns.String
		return &v
	}
	return nil
}
