package borrows

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"io/fs"
	"strings"
	"time"

	"LERS-backend/internal/platform/apierr"
	"LERS-backend/internal/platform/auth"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	ulid "github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// JSON カラムの読み書き用
var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// 一括承認で受け付ける最大件数
const maxBulkApprove = 500

var transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lers_borrow_transitions_total",
	Help: "Borrow status transitions applied, by target status.",
}, []string{"to"})

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

// validID は ULID として解釈できる識別子のみ通す
func validID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// -------------- Dependencies --------------

// Repository は borrows の永続化。MySQL 実装は Store
type Repository interface {
	GetBorrow(ctx context.Context, id string) (*Borrow, error)
	InsertSubmission(ctx context.Context, borrows []*Borrow, mates []GroupMate) error
	SaveReturnRequest(ctx context.Context, b *Borrow) error
	ApprovePending(ctx context.Context, ids []string, reviewerID string) (int, error)
	UpdateStatus(ctx context.Context, id string, from, to Status, p StatusPatch) error
	Checkout(ctx context.Context, id string, at time.Time) error
	ReleaseEquipment(ctx context.Context, id string, from []Status, to Status, at time.Time) error
	UpdateDataFiles(ctx context.Context, id string, files []DataFile) error
	ListByGroup(ctx context.Context, groupID string) ([]Borrow, error)
	ListGroupMates(ctx context.Context, groupID string) ([]UserSummary, error)
	ListByStatus(ctx context.Context, status Status, p Page) ([]Borrow, error)
}

// FileRemover は添付ファイル実体の削除。実体が無い場合は fs.ErrNotExist を満たすエラーを返す
type FileRemover interface {
	Remove(ctx context.Context, key string) error
}

// Invalidator は集計キャッシュの破棄先
type Invalidator interface{ Invalidate() }

// DeficiencyCounter は不備台帳から未解決件数を引く
type DeficiencyCounter interface {
	OpenDeficiencyCount(ctx context.Context, borrowID string) (int, error)
}

// -------------- Service --------------

type Service struct {
	store        Repository
	files        FileRemover
	deficiencies DeficiencyCounter
	reports      Invalidator
	clock        Clock
	id           IDGen
	log          *zap.Logger
}

func NewService(db *sql.DB, files FileRemover, deficiencies DeficiencyCounter, log *zap.Logger) *Service {
	return newService(NewStore(db), files, deficiencies, log)
}

func newService(store Repository, files FileRemover, deficiencies DeficiencyCounter, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:        store,
		files:        files,
		deficiencies: deficiencies,
		clock:        realClock{},
		id:           ulidGen{},
		log:          log.Named("borrows"),
	}
}

// SetInvalidator は状態変更のたびに破棄するキャッシュを登録する
func (s *Service) SetInvalidator(inv Invalidator) { s.reports = inv }

// transitioned は遷移件数を記録し、集計キャッシュを破棄する
func (s *Service) transitioned(to Status, n int) {
	if n <= 0 {
		return
	}
	transitionsTotal.WithLabelValues(string(to)).Add(float64(n))
	if s.reports != nil {
		s.reports.Invalidate()
	}
}

// POST /borrows
func (s *Service) Submit(ctx context.Context, actor auth.Actor, in SubmitRequest) (SubmitResponse, error) {
	if actor.UserID == "" {
		return SubmitResponse{}, apierr.ErrUnauthorized("authentication required")
	}
	equipmentIDs, err := uniqueIDs(in.EquipmentIDs, "equipment_ids")
	if err != nil {
		return SubmitResponse{}, err
	}
	if len(equipmentIDs) == 0 {
		return SubmitResponse{}, apierr.ErrInvalid("equipment_ids must not be empty")
	}
	mateIDs, err := uniqueIDs(in.GroupMateIDs, "group_mate_ids")
	if err != nil {
		return SubmitResponse{}, err
	}
	if in.RequestedStartTime.IsZero() || !in.RequestedEndTime.After(in.RequestedStartTime) {
		return SubmitResponse{}, apierr.ErrInvalid("requested_end_time must be after requested_start_time")
	}
	rtype := strings.ToUpper(strings.TrimSpace(in.ReservationType))
	switch rtype {
	case "":
		rtype = ReservationOutOfClass
	case ReservationInClass, ReservationOutOfClass:
	default:
		return SubmitResponse{}, apierr.ErrInvalid("reservation_type must be IN_CLASS or OUT_OF_CLASS")
	}

	now := s.clock.Now()

	// 複数機材または同行者ありの場合のみグループを作る
	var groupID sql.NullString
	var mates []GroupMate
	if len(equipmentIDs) > 1 || len(mateIDs) > 0 {
		groupID = sql.NullString{String: s.id.NewULID(now), Valid: true}
		mates = append(mates, GroupMate{GroupID: groupID.String, UserID: actor.UserID})
		for _, uid := range mateIDs {
			if uid == actor.UserID {
				continue
			}
			mates = append(mates, GroupMate{GroupID: groupID.String, UserID: uid})
		}
	}

	rows := make([]*Borrow, 0, len(equipmentIDs))
	for _, eid := range equipmentIDs {
		rows = append(rows, &Borrow{
			ID:                    s.id.NewULID(now),
			BorrowerID:            actor.UserID,
			EquipmentID:           eid,
			ClassID:               toNullString(in.ClassID),
			BorrowGroupID:         groupID,
			RequestedStartTime:    in.RequestedStartTime.UTC(),
			RequestedEndTime:      in.RequestedEndTime.UTC(),
			Status:                StatusPending,
			RequestSubmissionTime: now,
			ReservationType:       rtype,
			RequestedEquipmentIDs: []string{},
			DataFiles:             []DataFile{},
		})
	}

	if err := s.store.InsertSubmission(ctx, rows, mates); err != nil {
		return SubmitResponse{}, err
	}
	s.transitioned(StatusPending, len(rows))

	resp := SubmitResponse{BorrowGroupID: nullToPtr(groupID), Borrows: make([]BorrowResponse, 0, len(rows))}
	for _, b := range rows {
		resp.Borrows = append(resp.Borrows, toResponse(b, now))
	}
	s.log.Info("borrow submitted",
		zap.String("borrower_id", actor.UserID),
		zap.Int("count", len(rows)),
		zap.Stringp("borrow_group_id", resp.BorrowGroupID))
	return resp, nil
}

// POST /borrows/:borrow_id/return-request
func (s *Service) RequestReturn(ctx context.Context, actor auth.Actor, borrowID string, in ReturnRequest) (BorrowResponse, error) {
	if actor.UserID == "" {
		return BorrowResponse{}, apierr.ErrUnauthorized("authentication required")
	}
	if !validID(borrowID) {
		return BorrowResponse{}, apierr.ErrInvalid("invalid borrow_id")
	}
	b, err := s.store.GetBorrow(ctx, borrowID)
	if err != nil {
		return BorrowResponse{}, err
	}
	if !CanTransition(actor, b, StatusPendingReturn) {
		return BorrowResponse{}, apierr.ErrForbidden("only the borrower can request a return")
	}
	now := s.clock.Now()
	if cur := EffectiveStatus(b, now); !returnable(cur) {
		return BorrowResponse{}, apierr.ErrInvalidTransition(string(cur), "request return for")
	}

	b.Status = StatusPendingReturn
	if in.RequestData {
		b.DataRequested = true
		b.DataRequestStatus = sql.NullString{String: DataRequestPending, Valid: true}
		b.DataRequestRemarks = toNullString(in.DataRequestRemarks)
		b.RequestedEquipmentIDs = parseRequestedEquipmentIDs(in.RequestedEquipmentIDs, s.log.With(zap.String("borrow_id", borrowID)))
	} else {
		// 添付が残っている依頼は取り下げられない（実体を消す手段が無くなる）
		if len(b.DataFiles) > 0 {
			return BorrowResponse{}, apierr.ErrConflict("data request still has attached files; delete them first")
		}
		b.DataRequested = false
		b.DataRequestStatus = sql.NullString{}
		b.DataRequestRemarks = sql.NullString{}
		b.RequestedEquipmentIDs = []string{}
	}

	if err := s.store.SaveReturnRequest(ctx, b); err != nil {
		return BorrowResponse{}, err
	}
	s.transitioned(StatusPendingReturn, 1)
	return toResponse(b, now), nil
}

// parseRequestedEquipmentIDs は配列以外を空配列に、文字列でない・ID形式でない要素を
// 警告ログを出した上で除外する。リクエスト自体は拒否しない
func parseRequestedEquipmentIDs(raw json.RawMessage, log *zap.Logger) []string {
	out := []string{}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return out
	}
	var items []any
	if err := jsonCodec.Unmarshal(raw, &items); err != nil {
		log.Warn("requested_equipment_ids is not an array; treating as empty", zap.Error(err))
		return out
	}
	seen := make(map[string]struct{}, len(items))
	for i, v := range items {
		str, ok := v.(string)
		if !ok {
			log.Warn("dropping non-string requested equipment id", zap.Int("index", i), zap.Any("value", v))
			continue
		}
		str = strings.TrimSpace(str)
		if !validID(str) {
			log.Warn("dropping malformed requested equipment id", zap.Int("index", i), zap.String("value", str))
			continue
		}
		if _, dup := seen[str]; dup {
			continue
		}
		seen[str] = struct{}{}
		out = append(out, str)
	}
	return out
}

// POST /borrows/bulk-approve
func (s *Service) BulkApprove(ctx context.Context, actor auth.Actor, in BulkApproveRequest) (BulkApproveResponse, error) {
	if actor.UserID == "" {
		return BulkApproveResponse{}, apierr.ErrUnauthorized("authentication required")
	}
	if !actor.IsStaffOrFaculty() {
		return BulkApproveResponse{}, apierr.ErrForbidden("bulk approval requires STAFF or FACULTY")
	}
	ids, err := uniqueIDs(in.BorrowIDs, "borrow_ids")
	if err != nil {
		return BulkApproveResponse{}, err
	}
	if len(ids) == 0 {
		return BulkApproveResponse{}, apierr.ErrInvalid("borrow_ids must not be empty")
	}
	if len(ids) > maxBulkApprove {
		return BulkApproveResponse{}, apierr.ErrInvalid("too many borrow_ids")
	}

	n, err := s.store.ApprovePending(ctx, ids, actor.UserID)
	if err != nil {
		return BulkApproveResponse{}, err
	}
	s.transitioned(StatusApproved, n)

	res := BulkApproveResponse{ApprovedCount: n, RequestedCount: len(ids), SkippedCount: len(ids) - n}
	s.log.Info("bulk approve",
		zap.String("reviewer_id", actor.UserID),
		zap.Int("requested", res.RequestedCount),
		zap.Int("approved", res.ApprovedCount),
		zap.Int("skipped", res.SkippedCount))
	return res, nil
}

// load は ID 検証・取得・権限・状態遷移の可否をまとめて確認する
func (s *Service) load(ctx context.Context, actor auth.Actor, id string, target Status, action string) (*Borrow, error) {
	if actor.UserID == "" {
		return nil, apierr.ErrUnauthorized("authentication required")
	}
	if !validID(id) {
		return nil, apierr.ErrInvalid("invalid borrow_id")
	}
	b, err := s.store.GetBorrow(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(actor, b, target) {
		return nil, apierr.ErrForbidden("not allowed to " + action + " this borrow")
	}
	if !CanMove(b.Status, target) {
		return nil, apierr.ErrInvalidTransition(string(b.Status), action)
	}
	return b, nil
}

// POST /borrows/:borrow_id/approve
func (s *Service) Approve(ctx context.Context, actor auth.Actor, id string, in ApproveRequest) (BorrowResponse, error) {
	b, err := s.load(ctx, actor, id, StatusApproved, "approve")
	if err != nil {
		return BorrowResponse{}, err
	}
	start, end := b.RequestedStartTime, b.RequestedEndTime
	if in.ApprovedStartTime != nil {
		start = in.ApprovedStartTime.UTC()
	}
	if in.ApprovedEndTime != nil {
		end = in.ApprovedEndTime.UTC()
	}
	if !end.After(start) {
		return BorrowResponse{}, apierr.ErrInvalid("approved_end_time must be after approved_start_time")
	}
	p := StatusPatch{
		ApprovedStartTime: sql.NullTime{Time: start, Valid: true},
		ApprovedEndTime:   sql.NullTime{Time: end, Valid: true},
		ReviewedByID:      sql.NullString{String: actor.UserID, Valid: true},
	}
	if err := s.store.UpdateStatus(ctx, id, b.Status, StatusApproved, p); err != nil {
		return BorrowResponse{}, err
	}
	b.Status = StatusApproved
	b.ApprovedStartTime, b.ApprovedEndTime, b.ReviewedByID = p.ApprovedStartTime, p.ApprovedEndTime, p.ReviewedByID
	s.transitioned(StatusApproved, 1)
	return toResponse(b, s.clock.Now()), nil
}

// POST /borrows/:borrow_id/reject
func (s *Service) Reject(ctx context.Context, actor auth.Actor, id string) (BorrowResponse, error) {
	target := rejectTarget(actor)
	b, err := s.load(ctx, actor, id, target, "reject")
	if err != nil {
		return BorrowResponse{}, err
	}
	p := StatusPatch{ReviewedByID: sql.NullString{String: actor.UserID, Valid: true}}
	if err := s.store.UpdateStatus(ctx, id, b.Status, target, p); err != nil {
		return BorrowResponse{}, err
	}
	b.Status, b.ReviewedByID = target, p.ReviewedByID
	s.transitioned(target, 1)
	return toResponse(b, s.clock.Now()), nil
}

// POST /borrows/:borrow_id/cancel
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id string) (BorrowResponse, error) {
	b, err := s.load(ctx, actor, id, StatusCancelled, "cancel")
	if err != nil {
		return BorrowResponse{}, err
	}
	if err := s.store.UpdateStatus(ctx, id, b.Status, StatusCancelled, StatusPatch{}); err != nil {
		return BorrowResponse{}, err
	}
	b.Status = StatusCancelled
	s.transitioned(StatusCancelled, 1)
	return toResponse(b, s.clock.Now()), nil
}

// POST /borrows/:borrow_id/checkout
func (s *Service) Checkout(ctx context.Context, actor auth.Actor, id string) (BorrowResponse, error) {
	b, err := s.load(ctx, actor, id, StatusActive, "check out")
	if err != nil {
		return BorrowResponse{}, err
	}
	now := s.clock.Now()
	if err := s.store.Checkout(ctx, id, now); err != nil {
		return BorrowResponse{}, err
	}
	b.Status = StatusActive
	b.CheckoutTime = sql.NullTime{Time: now, Valid: true}
	s.transitioned(StatusActive, 1)
	return toResponse(b, now), nil
}

// POST /borrows/:borrow_id/confirm-return
func (s *Service) ConfirmReturn(ctx context.Context, actor auth.Actor, id string) (BorrowResponse, error) {
	return s.release(ctx, actor, id, StatusReturned, "confirm return of")
}

// POST /borrows/:borrow_id/complete
func (s *Service) Complete(ctx context.Context, actor auth.Actor, id string) (BorrowResponse, error) {
	return s.release(ctx, actor, id, StatusCompleted, "complete")
}

func (s *Service) release(ctx context.Context, actor auth.Actor, id string, target Status, action string) (BorrowResponse, error) {
	b, err := s.load(ctx, actor, id, target, action)
	if err != nil {
		return BorrowResponse{}, err
	}
	now := s.clock.Now()
	if err := s.store.ReleaseEquipment(ctx, id, []Status{b.Status}, target, now); err != nil {
		return BorrowResponse{}, err
	}
	b.Status = target
	if b.CheckoutTime.Valid && !b.ActualReturnTime.Valid {
		b.ActualReturnTime = sql.NullTime{Time: now, Valid: true}
	}
	s.transitioned(target, 1)
	return toResponse(b, now), nil
}

// GET /borrows/:borrow_id
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (BorrowResponse, error) {
	if actor.UserID == "" {
		return BorrowResponse{}, apierr.ErrUnauthorized("authentication required")
	}
	if !validID(id) {
		return BorrowResponse{}, apierr.ErrInvalid("invalid borrow_id")
	}
	b, err := s.store.GetBorrow(ctx, id)
	if err != nil {
		return BorrowResponse{}, err
	}
	var mates []UserSummary
	if b.BorrowGroupID.Valid && b.BorrowerID != actor.UserID && !actor.IsStaffOrFaculty() {
		if mates, err = s.store.ListGroupMates(ctx, b.BorrowGroupID.String); err != nil {
			return BorrowResponse{}, err
		}
	}
	if !CanViewBorrow(actor, b, mates) {
		return BorrowResponse{}, apierr.ErrForbidden("not allowed to view this borrow")
	}
	return toResponse(b, s.clock.Now()), nil
}

// GET /borrows/pending-returns
func (s *Service) ListPendingReturns(ctx context.Context, actor auth.Actor, p Page) (ListPendingReturnsResult, error) {
	if !actor.IsStaffOrFaculty() {
		return ListPendingReturnsResult{}, apierr.ErrForbidden("pending returns are visible to STAFF or FACULTY")
	}
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	rows, err := s.store.ListByStatus(ctx, StatusPendingReturn, p)
	if err != nil {
		return ListPendingReturnsResult{}, err
	}
	now := s.clock.Now()
	items := make([]PendingReturnItem, 0, len(rows))
	for i := range rows {
		n := 0
		if s.deficiencies != nil {
			if n, err = s.deficiencies.OpenDeficiencyCount(ctx, rows[i].ID); err != nil {
				return ListPendingReturnsResult{}, err
			}
		}
		items = append(items, PendingReturnItem{
			BorrowResponse:      toResponse(&rows[i], now),
			OpenDeficiencies:    n,
			HasOpenDeficiencies: n > 0,
		})
	}
	next := 0 // 0=終端
	if len(rows) == p.Limit {
		next = p.Offset + p.Limit
	}
	return ListPendingReturnsResult{Items: items, NextOffset: next}, nil
}

// POST /borrows/:borrow_id/data-files
func (s *Service) AddDataFiles(ctx context.Context, actor auth.Actor, id string, in AddDataFilesRequest) (BorrowResponse, error) {
	if !CanManageDataFiles(actor) {
		return BorrowResponse{}, apierr.ErrForbidden("data files are managed by STAFF or FACULTY")
	}
	if !validID(id) {
		return BorrowResponse{}, apierr.ErrInvalid("invalid borrow_id")
	}
	if len(in.Files) == 0 {
		return BorrowResponse{}, apierr.ErrInvalid("files must not be empty")
	}
	b, err := s.store.GetBorrow(ctx, id)
	if err != nil {
		return BorrowResponse{}, err
	}
	if !b.DataRequested {
		return BorrowResponse{}, apierr.ErrNotFound("data request not found")
	}

	files := append([]DataFile{}, b.DataFiles...)
	for _, f := range in.Files {
		name := strings.TrimSpace(f.Name)
		if name == "" || strings.ContainsAny(name, `/\`) {
			return BorrowResponse{}, apierr.ErrInvalid("invalid file name")
		}
		if strings.TrimSpace(f.URL) == "" {
			return BorrowResponse{}, apierr.ErrInvalid("file url required")
		}
		fid := uuid.NewString()
		if f.ID != nil && strings.TrimSpace(*f.ID) != "" {
			fid = strings.TrimSpace(*f.ID)
		}
		for _, existing := range files {
			if existing.ID == fid {
				return BorrowResponse{}, apierr.ErrConflict("data file id already exists: " + fid)
			}
		}
		files = append(files, DataFile{ID: fid, Name: name, URL: f.URL, Size: f.Size, Type: f.Type})
	}

	if err := s.store.UpdateDataFiles(ctx, id, files); err != nil {
		return BorrowResponse{}, err
	}
	b.DataFiles = files
	return toResponse(b, s.clock.Now()), nil
}

// DELETE /data-requests/:request_id/files/:file_id
//
// 実体の削除に失敗した場合はメタデータを残したまま INTERNAL を返す。
// 実体が既に無い場合は警告のみでメタデータを削除する
func (s *Service) DeleteDataFile(ctx context.Context, actor auth.Actor, requestID, fileID string) (BorrowResponse, error) {
	if actor.UserID == "" {
		return BorrowResponse{}, apierr.ErrUnauthorized("authentication required")
	}
	if !CanManageDataFiles(actor) {
		return BorrowResponse{}, apierr.ErrForbidden("data files are managed by STAFF or FACULTY")
	}
	if !validID(requestID) {
		return BorrowResponse{}, apierr.ErrInvalid("invalid request_id")
	}
	b, err := s.store.GetBorrow(ctx, requestID)
	if err != nil {
		return BorrowResponse{}, err
	}
	if !b.DataRequested {
		return BorrowResponse{}, apierr.ErrNotFound("data request not found")
	}

	idx := dataFileIndex(b.DataFiles, fileID)
	if idx < 0 {
		return BorrowResponse{}, apierr.ErrNotFound("data file not found")
	}
	target := b.DataFiles[idx]

	log := s.log.With(zap.String("request_id", requestID), zap.String("file_id", fileID))
	if err := s.files.Remove(ctx, storageKey(requestID, target.Name)); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Error("failed to delete stored artifact", zap.Error(err))
			return BorrowResponse{}, apierr.ErrInternal("failed to delete stored file")
		}
		log.Warn("stored artifact already absent; removing metadata only")
	}

	files := make([]DataFile, 0, len(b.DataFiles)-1)
	files = append(files, b.DataFiles[:idx]...)
	files = append(files, b.DataFiles[idx+1:]...)
	if err := s.store.UpdateDataFiles(ctx, requestID, files); err != nil {
		return BorrowResponse{}, err
	}
	b.DataFiles = files
	log.Info("data file deleted", zap.String("deleted_by", actor.UserID))
	return toResponse(b, s.clock.Now()), nil
}

// dataFileIndex は id で探し、見つからなければ name で探す（id を持たない旧データ向け）
func dataFileIndex(files []DataFile, key string) int {
	for i, f := range files {
		if f.ID != "" && f.ID == key {
			return i
		}
	}
	for i, f := range files {
		if f.Name == key {
			return i
		}
	}
	return -1
}

// storageKey は <request_id>/<file name>
func storageKey(requestID, name string) string {
	return requestID + "/" + name
}

// helpers

func toNullString(s *string) (ns sql.NullString) {
	if s != nil && strings.TrimSpace(*s) != "" {
		ns.Valid, ns.String = true, *s
	}
	return
}

// uniqueIDs は空白除去・形式検証・重複除去を行い、入力順を保つ
func uniqueIDs(in []string, field string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, raw := range in {
		id := strings.TrimSpace(raw)
		if !validID(id) {
			return nil, apierr.ErrInvalid("invalid id in " + field + ": " + raw)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
