package borrows

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"LERS-backend/internal/platform/apierr"
	"LERS-backend/internal/platform/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var testNow = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	repo     *memRepo
	files    *memFiles
	logs     *observer.ObservedLogs
	student  auth.Actor
	staff    auth.Actor
	faculty  auth.Actor
	stranger auth.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	repo := newMemRepo()
	files := newMemFiles()
	svc := newService(repo, files, fixedCounter{}, zap.New(core))
	svc.clock = fixedClock{t: testNow}
	return &fixture{
		svc:      svc,
		repo:     repo,
		files:    files,
		logs:     logs,
		student:  auth.Actor{UserID: newID(), Role: auth.RoleStudent},
		staff:    auth.Actor{UserID: newID(), Role: auth.RoleStaff},
		faculty:  auth.Actor{UserID: newID(), Role: auth.RoleFaculty},
		stranger: auth.Actor{UserID: newID(), Role: auth.RoleStudent},
	}
}

func (f *fixture) borrow(status Status, mutate ...func(*Borrow)) *Borrow {
	b := Borrow{
		BorrowerID:            f.student.UserID,
		EquipmentID:           newID(),
		RequestedStartTime:    testNow.Add(-48 * time.Hour),
		RequestedEndTime:      testNow.Add(48 * time.Hour),
		Status:                status,
		RequestSubmissionTime: testNow.Add(-72 * time.Hour),
		ReservationType:       ReservationOutOfClass,
	}
	if status == StatusActive || status == StatusOverdue || status == StatusPendingReturn {
		b.ApprovedStartTime = sql.NullTime{Time: b.RequestedStartTime, Valid: true}
		b.ApprovedEndTime = sql.NullTime{Time: b.RequestedEndTime, Valid: true}
		b.CheckoutTime = sql.NullTime{Time: b.RequestedStartTime, Valid: true}
	}
	for _, m := range mutate {
		m(&b)
	}
	return f.repo.put(b)
}

func assertCode(t *testing.T, err error, code apierr.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apierr.CodeOf(err), err.Error())
}

// ---------- RequestReturn ----------

func TestRequestReturn_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	b := f.borrow(StatusActive)
	eq := newID()
	in := ReturnRequest{
		RequestData:           true,
		DataRequestRemarks:    strPtr("raw spectra please"),
		RequestedEquipmentIDs: json.RawMessage(`["` + eq + `"]`),
	}

	first, err := f.svc.RequestReturn(context.Background(), f.student, b.ID, in)
	require.NoError(t, err)
	second, err := f.svc.RequestReturn(context.Background(), f.student, b.ID, in)
	require.NoError(t, err)

	assert.Equal(t, StatusPendingReturn, first.BorrowStatus)
	assert.Equal(t, first, second)

	got := f.repo.get(b.ID)
	assert.Equal(t, StatusPendingReturn, got.Status)
	assert.True(t, got.DataRequested)
	assert.Equal(t, DataRequestPending, got.DataRequestStatus.String)
	assert.Equal(t, []string{eq}, got.RequestedEquipmentIDs)
}

func TestRequestReturn_RejectedStaffIsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	b := f.borrow(StatusRejectedStaff)
	before := f.repo.get(b.ID)

	_, err := f.svc.RequestReturn(context.Background(), f.student, b.ID, ReturnRequest{RequestData: true})

	assertCode(t, err, apierr.CodeInvalidTransition)
	assert.Contains(t, err.Error(), string(StatusRejectedStaff))
	assert.Equal(t, before, f.repo.get(b.ID))
}

func TestRequestReturn_Preconditions(t *testing.T) {
	f := newFixture(t)
	b := f.borrow(StatusActive)

	_, err := f.svc.RequestReturn(context.Background(), f.stranger, b.ID, ReturnRequest{})
	assertCode(t, err, apierr.CodeForbidden)

	_, err = f.svc.RequestReturn(context.Background(), f.staff, b.ID, ReturnRequest{})
	assertCode(t, err, apierr.CodeForbidden)

	_, err = f.svc.RequestReturn(context.Background(), f.student, newID(), ReturnRequest{})
	assertCode(t, err, apierr.CodeNotFound)

	_, err = f.svc.RequestReturn(context.Background(), f.student, "not-an-id", ReturnRequest{})
	assertCode(t, err, apierr.CodeInvalidArgument)

	_, err = f.svc.RequestReturn(context.Background(), auth.Actor{}, b.ID, ReturnRequest{})
	assertCode(t, err, apierr.CodeUnauthorized)

	assert.Equal(t, StatusActive, f.repo.get(b.ID).Status)
}

func TestRequestReturn_FromOverdue(t *testing.T) {
	f := newFixture(t)
	persisted := f.borrow(StatusOverdue)
	computed := f.borrow(StatusActive, func(b *Borrow) {
		b.ApprovedEndTime = sql.NullTime{Time: testNow.Add(-time.Hour), Valid: true}
	})

	for _, id := range []string{persisted.ID, computed.ID} {
		res, err := f.svc.RequestReturn(context.Background(), f.student, id, ReturnRequest{})
		require.NoError(t, err)
		assert.Equal(t, StatusPendingReturn, res.BorrowStatus)
	}
}

func TestRequestReturn_WithoutDataClearsFields(t *testing.T) {
	f := newFixture(t)
	b := f.borrow(StatusPendingReturn, func(b *Borrow) {
		b.DataRequested = true
		b.DataRequestStatus = sql.NullString{String: DataRequestPending, Valid: true}
		b.DataRequestRemarks = sql.NullString{String: "old", Valid: true}
		b.RequestedEquipmentIDs = []string{newID()}
	})

	res, err := f.svc.RequestReturn(context.Background(), f.student, b.ID, ReturnRequest{RequestData: false})
	require.NoError(t, err)

	assert.False(t, res.DataRequested)
	assert.Nil(t, res.DataRequestStatus)
	assert.Nil(t, res.DataRequestRemarks)
	assert.Empty(t, res.RequestedEquipmentIDs)
	got := f.repo.get(b.ID)
	assert.False(t, got.DataRequested)
	assert.False(t, got.DataRequestRemarks.Valid)
}

func TestRequestReturn_WithdrawingDataRequestWithFilesConflicts(t *testing.T) {
	f := newFixture(t)
	b := f.dataRequest(DataFile{ID: "f1", Name: "scan.csv", URL: "/files/scan.csv"})
	f.files.stored[b.ID+"/scan.csv"] = true
	before := f.repo.get(b.ID)

	_, err := f.svc.RequestReturn(context.Background(), f.student, b.ID, ReturnRequest{RequestData: false})
	assertCode(t, err, apierr.CodeConflict)
	assert.Equal(t, before, f.repo.get(b.ID))

	// 添付を消した後なら取り下げられる
	_, err = f.svc.DeleteDataFile(context.Background(), f.staff, b.ID, "f1")
	require.NoError(t, err)
	res, err := f.svc.RequestReturn(context.Background(), f.student, b.ID, ReturnRequest{RequestData: false})
	require.NoError(t, err)
	assert.False(t, res.DataRequested)
	assert.Empty(t, res.DataFiles)
}

// 不正な要素は除外して受け付ける（拒否しない）
func TestParseRequestedEquipmentIDs_LenientPolicy(t *testing.T) {
	good1, good2 := newID(), newID()
	tests := []struct {
		name    string
		raw     string
		want    []string
		dropped int
	}{
		{"absent", ``, []string{}, 0},
		{"null", `null`, []string{}, 0},
		{"not an array", `"` + good1 + `"`, []string{}, 0},
		{"object", `{"id":"` + good1 + `"}`, []string{}, 0},
		{"all valid", `["` + good1 + `","` + good2 + `"]`, []string{good1, good2}, 0},
		{"mixed types", `[1, "` + good1 + `", null, {"x":1}, true]`, []string{good1}, 4},
		{"malformed ids", `["", "abc", " ` + good2 + ` "]`, []string{good2}, 2},
		{"duplicates", `["` + good1 + `","` + good1 + `"]`, []string{good1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			got := parseRequestedEquipmentIDs(json.RawMessage(tt.raw), zap.New(core))
			assert.Equal(t, tt.want, got)
			assert.NotNil(t, got)
			if tt.dropped > 0 {
				assert.Equal(t, tt.dropped, logs.Len())
			}
		})
	}
}

func TestRequestReturn_DropsInvalidEquipmentIDs(t *testing.T) {
	f := newFixture(t)
	b := f.borrow(StatusActive)
	good := newID()

	res, err := f.svc.RequestReturn(context.Background(), f.student, b.ID, ReturnRequest{
		RequestData:           true,
		RequestedEquipmentIDs: json.RawMessage(`[42, "` + good + `", "nope"]`),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{good}, res.RequestedEquipmentIDs)
	assert.Equal(t, 2, f.logs.FilterLevelExact(zap.WarnLevel).Len())
}

// ---------- BulkApprove ----------

func TestBulkApprove_PartialSuccess(t *testing.T) {
	f := newFixture(t)
	a := f.borrow(StatusPending)
	b := f.borrow(StatusApproved)
	missing := newID()
	bBefore := f.repo.get(b.ID)

	res, err := f.svc.BulkApprove(context.Background(), f.staff, BulkApproveRequest{BorrowIDs: []string{a.ID, b.ID, missing}})
	require.NoError(t, err)

	assert.Equal(t, BulkApproveResponse{ApprovedCount: 1, RequestedCount: 3, SkippedCount: 2}, res)
	gotA := f.repo.get(a.ID)
	assert.Equal(t, StatusApproved, gotA.Status)
	assert.True(t, gotA.ApprovedStartTime.Valid)
	assert.Equal(t, f.staff.UserID, gotA.ReviewedByID.String)
	assert.Equal(t, bBefore, f.repo.get(b.ID))
}

func TestBulkApprove_Validation(t *testing.T) {
	f := newFixture(t)
	a := f.borrow(StatusPending)

	_, err := f.svc.BulkApprove(context.Background(), f.student, BulkApproveRequest{BorrowIDs: []string{a.ID}})
	assertCode(t, err, apierr.CodeForbidden)

	_, err = f.svc.BulkApprove(context.Background(), f.staff, BulkApproveRequest{})
	assertCode(t, err, apierr.CodeInvalidArgument)

	_, err = f.svc.BulkApprove(context.Background(), f.staff, BulkApproveRequest{BorrowIDs: []string{a.ID, "bad id"}})
	assertCode(t, err, apierr.CodeInvalidArgument)

	assert.Equal(t, StatusPending, f.repo.get(a.ID).Status)
}

func TestBulkApprove_DuplicateIDsCountedOnce(t *testing.T) {
	f := newFixture(t)
	a := f.borrow(StatusPending)

	res, err := f.svc.BulkApprove(context.Background(), f.faculty, BulkApproveRequest{BorrowIDs: []string{a.ID, a.ID}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ApprovedCount)
	assert.Equal(t, 1, res.RequestedCount)
}

func TestBulkApprove_StoreFailureIsNotPartial(t *testing.T) {
	f := newFixture(t)
	a := f.borrow(StatusPending)
	f.repo.failWith = errors.New("deadlock")

	_, err := f.svc.BulkApprove(context.Background(), f.staff, BulkApproveRequest{BorrowIDs: []string{a.ID}})
	require.Error(t, err)
	f.repo.failWith = nil
	assert.Equal(t, StatusPending, f.repo.get(a.ID).Status)
}

// ---------- lifecycle ----------

func TestLifecycle_FullPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eq := newID()
	f.repo.equipment[eq] = EquipmentAvailable

	sub, err := f.svc.Submit(ctx, f.student, SubmitRequest{
		EquipmentIDs:       []string{eq},
		RequestedStartTime: testNow.Add(time.Hour),
		RequestedEndTime:   testNow.Add(5 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, sub.Borrows, 1)
	assert.Nil(t, sub.BorrowGroupID)
	id := sub.Borrows[0].BorrowID

	_, err = f.svc.Approve(ctx, f.staff, id, ApproveRequest{})
	require.NoError(t, err)

	res, err := f.svc.Checkout(ctx, f.staff, id)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, res.BorrowStatus)
	assert.Equal(t, EquipmentBorrowed, f.repo.equipment[eq])

	_, err = f.svc.RequestReturn(ctx, f.student, id, ReturnRequest{})
	require.NoError(t, err)

	res, err = f.svc.ConfirmReturn(ctx, f.staff, id)
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, res.BorrowStatus)
	assert.Equal(t, EquipmentAvailable, f.repo.equipment[eq])

	res, err = f.svc.Complete(ctx, f.faculty, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.BorrowStatus)

	got := f.repo.get(id)
	require.True(t, got.ActualReturnTime.Valid)
	require.True(t, got.CheckoutTime.Valid)
	assert.False(t, got.ActualReturnTime.Time.Before(got.CheckoutTime.Time))
}

func TestReturnTimeImpliesCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// 持ち出し記録の無い PENDING_RETURN（旧データ）を完了しても返却時刻は付かない
	legacy := f.borrow(StatusPendingReturn, func(b *Borrow) { b.CheckoutTime = sql.NullTime{} })
	normal := f.borrow(StatusPendingReturn)

	_, err := f.svc.Complete(ctx, f.staff, legacy.ID)
	require.NoError(t, err)
	_, err = f.svc.ConfirmReturn(ctx, f.staff, normal.ID)
	require.NoError(t, err)

	for id := range f.repo.borrows {
		b := f.repo.get(id)
		if b.ActualReturnTime.Valid {
			assert.True(t, b.CheckoutTime.Valid, "borrow %s has return without checkout", id)
		}
	}
	assert.False(t, f.repo.get(legacy.ID).ActualReturnTime.Valid)
}

type countingInvalidator struct{ n int }

func (c *countingInvalidator) Invalidate() { c.n++ }

func TestTransitionsInvalidateReports(t *testing.T) {
	f := newFixture(t)
	inv := &countingInvalidator{}
	f.svc.SetInvalidator(inv)
	ctx := context.Background()
	a := f.borrow(StatusPending)
	f.repo.equipment[a.EquipmentID] = EquipmentAvailable

	_, err := f.svc.BulkApprove(ctx, f.staff, BulkApproveRequest{BorrowIDs: []string{a.ID}})
	require.NoError(t, err)
	assert.Equal(t, 1, inv.n)

	// 何も承認されなければ破棄しない
	_, err = f.svc.BulkApprove(ctx, f.staff, BulkApproveRequest{BorrowIDs: []string{a.ID}})
	require.NoError(t, err)
	assert.Equal(t, 1, inv.n)

	_, err = f.svc.Checkout(ctx, f.staff, a.ID)
	require.NoError(t, err)
	_, err = f.svc.RequestReturn(ctx, f.student, a.ID, ReturnRequest{})
	require.NoError(t, err)
	_, err = f.svc.ConfirmReturn(ctx, f.staff, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, inv.n)

	_, err = f.svc.Cancel(ctx, f.student, a.ID)
	require.Error(t, err)
	assert.Equal(t, 4, inv.n)
}

func TestApprove_CustomWindowAndValidation(t *testing.T) {
	f := newFixture(t)
	b := f.borrow(StatusPending)
	start, end := testNow.Add(24*time.Hour), testNow.Add(30*time.Hour)

	_, err := f.svc.Approve(context.Background(), f.staff, b.ID, ApproveRequest{ApprovedStartTime: &end, ApprovedEndTime: &start})
	assertCode(t, err, apierr.CodeInvalidArgument)

	res, err := f.svc.Approve(context.Background(), f.staff, b.ID, ApproveRequest{ApprovedStartTime: &start, ApprovedEndTime: &end})
	require.NoError(t, err)
	assert.Equal(t, start, *res.ApprovedStartTime)
	assert.Equal(t, end, *res.ApprovedEndTime)

	_, err = f.svc.Approve(context.Background(), f.staff, b.ID, ApproveRequest{})
	assertCode(t, err, apierr.CodeInvalidTransition)
}

func TestReject_TargetDependsOnRole(t *testing.T) {
	f := newFixture(t)
	b1 := f.borrow(StatusPending)
	b2 := f.borrow(StatusPending)

	res, err := f.svc.Reject(context.Background(), f.faculty, b1.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejectedFIC, res.BorrowStatus)

	res, err = f.svc.Reject(context.Background(), f.staff, b2.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejectedStaff, res.BorrowStatus)

	_, err = f.svc.Reject(context.Background(), f.student, f.borrow(StatusPending).ID)
	assertCode(t, err, apierr.CodeForbidden)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	own := f.borrow(StatusApproved)
	active := f.borrow(StatusActive)

	_, err := f.svc.Cancel(context.Background(), f.stranger, own.ID)
	assertCode(t, err, apierr.CodeForbidden)

	res, err := f.svc.Cancel(context.Background(), f.student, own.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.BorrowStatus)

	_, err = f.svc.Cancel(context.Background(), f.staff, active.ID)
	assertCode(t, err, apierr.CodeInvalidTransition)
}

func TestCheckout_EquipmentUnavailable(t *testing.T) {
	f := newFixture(t)
	b := f.borrow(StatusApproved)
	f.repo.equipment[b.EquipmentID] = EquipmentOutOfCommission

	_, err := f.svc.Checkout(context.Background(), f.staff, b.ID)
	assertCode(t, err, apierr.CodeInvalidTransition)
	assert.Equal(t, StatusApproved, f.repo.get(b.ID).Status)
}

// ---------- Submit ----------

func TestSubmit_GroupCreatedForMultipleEquipment(t *testing.T) {
	f := newFixture(t)
	eq1, eq2, mate := newID(), newID(), newID()
	f.repo.equipment[eq1] = EquipmentAvailable
	f.repo.equipment[eq2] = EquipmentBorrowed

	res, err := f.svc.Submit(context.Background(), f.student, SubmitRequest{
		EquipmentIDs:       []string{eq1, eq2, eq1},
		RequestedStartTime: testNow,
		RequestedEndTime:   testNow.Add(time.Hour),
		ReservationType:    "in_class",
		GroupMateIDs:       []string{mate, f.student.UserID},
	})
	require.NoError(t, err)
	require.NotNil(t, res.BorrowGroupID)
	require.Len(t, res.Borrows, 2)
	for _, b := range res.Borrows {
		assert.Equal(t, *res.BorrowGroupID, *b.BorrowGroupID)
		assert.Equal(t, StatusPending, b.BorrowStatus)
		assert.Equal(t, ReservationInClass, b.ReservationType)
	}
	mates := f.repo.mates[*res.BorrowGroupID]
	require.Len(t, mates, 2)
	assert.Equal(t, f.student.UserID, mates[0].UserID)
	assert.Equal(t, mate, mates[1].UserID)
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t)
	eq := newID()
	f.repo.equipment[eq] = EquipmentAvailable
	archived := newID()
	f.repo.equipment[archived] = EquipmentArchived
	ok := SubmitRequest{EquipmentIDs: []string{eq}, RequestedStartTime: testNow, RequestedEndTime: testNow.Add(time.Hour)}

	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
		code   apierr.Code
	}{
		{"no equipment", func(r *SubmitRequest) { r.EquipmentIDs = nil }, apierr.CodeInvalidArgument},
		{"bad equipment id", func(r *SubmitRequest) { r.EquipmentIDs = []string{"x"} }, apierr.CodeInvalidArgument},
		{"end before start", func(r *SubmitRequest) { r.RequestedEndTime = testNow.Add(-time.Hour) }, apierr.CodeInvalidArgument},
		{"bad reservation type", func(r *SubmitRequest) { r.ReservationType = "WEEKEND" }, apierr.CodeInvalidArgument},
		{"unknown equipment", func(r *SubmitRequest) { r.EquipmentIDs = []string{newID()} }, apierr.CodeNotFound},
		{"archived equipment", func(r *SubmitRequest) { r.EquipmentIDs = []string{archived} }, apierr.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := ok
			tt.mutate(&req)
			_, err := f.svc.Submit(context.Background(), f.student, req)
			assertCode(t, err, tt.code)
		})
	}
	assert.Empty(t, f.repo.borrows)
}

// ---------- FetchGroup / Get ----------

func (f *fixture) group() (string, *Borrow) {
	gid := newID()
	b := f.borrow(StatusPending, func(b *Borrow) { b.BorrowGroupID = sql.NullString{String: gid, Valid: true} })
	f.borrow(StatusPending, func(b *Borrow) { b.BorrowGroupID = sql.NullString{String: gid, Valid: true} })
	f.repo.mates[gid] = []UserSummary{
		{UserID: f.student.UserID, Name: "Owner"},
		{UserID: f.faculty.UserID, Name: "Prof"},
	}
	return gid, b
}

func TestFetchGroup_ForbiddenForOutsider(t *testing.T) {
	f := newFixture(t)
	gid, _ := f.group()

	_, err := f.svc.FetchGroup(context.Background(), f.stranger, gid)
	assertCode(t, err, apierr.CodeForbidden)
}

func TestFetchGroup_VisibleToParticipants(t *testing.T) {
	f := newFixture(t)
	gid, _ := f.group()
	mate := auth.Actor{UserID: newID(), Role: auth.RoleStudent}
	f.repo.mates[gid] = append(f.repo.mates[gid], UserSummary{UserID: mate.UserID}, UserSummary{UserID: f.student.UserID})

	for _, a := range []auth.Actor{f.student, mate, f.staff} {
		res, err := f.svc.FetchGroup(context.Background(), a, gid)
		require.NoError(t, err)
		assert.Len(t, res.Borrows, 2)
		// 重複は除かれ、名簿順
		require.Len(t, res.Participants, 3)
		assert.Equal(t, []string{f.student.UserID, f.faculty.UserID, mate.UserID},
			[]string{res.Participants[0].UserID, res.Participants[1].UserID, res.Participants[2].UserID})
	}
}

func TestFetchGroup_ParticipantsComeFromRosterOnly(t *testing.T) {
	f := newFixture(t)
	gid, _ := f.group()
	// 名簿に載っていない借用者の Borrow（分割・付け替え後を想定）
	owner := auth.Actor{UserID: newID(), Role: auth.RoleStudent}
	f.borrow(StatusPending, func(b *Borrow) {
		b.BorrowerID = owner.UserID
		b.BorrowGroupID = sql.NullString{String: gid, Valid: true}
	})

	res, err := f.svc.FetchGroup(context.Background(), owner, gid)
	require.NoError(t, err, "owner can still view the group")
	assert.Len(t, res.Borrows, 3)
	require.Len(t, res.Participants, 2)
	assert.Equal(t, f.student.UserID, res.Participants[0].UserID)
	assert.Equal(t, f.faculty.UserID, res.Participants[1].UserID)
	for _, p := range res.Participants {
		assert.NotEqual(t, owner.UserID, p.UserID)
	}
}

func TestFetchGroup_NotFoundAndInvalid(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.FetchGroup(context.Background(), f.staff, newID())
	assertCode(t, err, apierr.CodeNotFound)
	_, err = f.svc.FetchGroup(context.Background(), f.staff, "g-1")
	assertCode(t, err, apierr.CodeInvalidArgument)
}

func TestGet_Visibility(t *testing.T) {
	f := newFixture(t)
	_, b := f.group()

	_, err := f.svc.Get(context.Background(), f.faculty, b.ID)
	require.NoError(t, err)
	_, err = f.svc.Get(context.Background(), f.student, b.ID)
	require.NoError(t, err)
	_, err = f.svc.Get(context.Background(), f.stranger, b.ID)
	assertCode(t, err, apierr.CodeForbidden)
}

func TestGet_ReportsComputedOverdue(t *testing.T) {
	f := newFixture(t)
	b := f.borrow(StatusActive, func(b *Borrow) {
		b.ApprovedEndTime = sql.NullTime{Time: testNow.Add(-time.Minute), Valid: true}
	})
	res, err := f.svc.Get(context.Background(), f.student, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOverdue, res.BorrowStatus)
}

// ---------- pending returns ----------

func TestListPendingReturns_IncludesDeficiencyCounts(t *testing.T) {
	f := newFixture(t)
	withDef := f.borrow(StatusPendingReturn)
	clean := f.borrow(StatusPendingReturn)
	f.borrow(StatusActive)
	f.svc.deficiencies = fixedCounter{withDef.ID: 2}

	_, err := f.svc.ListPendingReturns(context.Background(), f.student, Page{})
	assertCode(t, err, apierr.CodeForbidden)

	res, err := f.svc.ListPendingReturns(context.Background(), f.staff, Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	byID := map[string]PendingReturnItem{}
	for _, it := range res.Items {
		byID[it.BorrowID] = it
	}
	assert.Equal(t, 2, byID[withDef.ID].OpenDeficiencies)
	assert.True(t, byID[withDef.ID].HasOpenDeficiencies)
	assert.False(t, byID[clean.ID].HasOpenDeficiencies)
	assert.Zero(t, res.NextOffset)
}

// ---------- data files ----------

func (f *fixture) dataRequest(files ...DataFile) *Borrow {
	return f.borrow(StatusPendingReturn, func(b *Borrow) {
		b.DataRequested = true
		b.DataRequestStatus = sql.NullString{String: DataRequestPending, Valid: true}
		b.DataFiles = files
	})
}

func TestDeleteDataFile_RemovesArtifactThenMetadata(t *testing.T) {
	f := newFixture(t)
	b := f.dataRequest(
		DataFile{ID: "f1", Name: "scan.csv", URL: "/files/scan.csv"},
		DataFile{ID: "f2", Name: "image.tif", URL: "/files/image.tif"},
	)
	f.files.stored[b.ID+"/scan.csv"] = true

	res, err := f.svc.DeleteDataFile(context.Background(), f.staff, b.ID, "f1")
	require.NoError(t, err)

	assert.Equal(t, []string{b.ID + "/scan.csv"}, f.files.removed)
	require.Len(t, res.DataFiles, 1)
	assert.Equal(t, "f2", res.DataFiles[0].ID)
	assert.Len(t, f.repo.get(b.ID).DataFiles, 1)
}

func TestDeleteDataFile_LegacyEntryMatchedByName(t *testing.T) {
	f := newFixture(t)
	b := f.dataRequest(
		DataFile{Name: "legacy.csv", URL: "/files/legacy.csv"},
		DataFile{ID: "f2", Name: "image.tif", URL: "/files/image.tif"},
	)
	f.files.stored[b.ID+"/legacy.csv"] = true

	res, err := f.svc.DeleteDataFile(context.Background(), f.staff, b.ID, "legacy.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID + "/legacy.csv"}, f.files.removed)
	require.Len(t, res.DataFiles, 1)
	assert.Equal(t, "f2", res.DataFiles[0].ID)
}

func TestDeleteDataFile_IDTakesPrecedenceOverName(t *testing.T) {
	f := newFixture(t)
	b := f.dataRequest(
		DataFile{ID: "x", Name: "a.csv", URL: "u"},
		DataFile{ID: "y", Name: "x", URL: "u"},
	)

	res, err := f.svc.DeleteDataFile(context.Background(), f.staff, b.ID, "x")
	require.NoError(t, err)
	require.Len(t, res.DataFiles, 1)
	assert.Equal(t, "y", res.DataFiles[0].ID)
}

func TestDeleteDataFile_AbsentArtifactStillRemovesMetadata(t *testing.T) {
	f := newFixture(t)
	b := f.dataRequest(DataFile{ID: "f1", Name: "gone.csv", URL: "/files/gone.csv"})

	res, err := f.svc.DeleteDataFile(context.Background(), f.faculty, b.ID, "f1")
	require.NoError(t, err)
	assert.Empty(t, res.DataFiles)
	assert.Empty(t, f.repo.get(b.ID).DataFiles)
	assert.Equal(t, 1, f.logs.FilterMessage("stored artifact already absent; removing metadata only").Len())
}

func TestDeleteDataFile_StorageFailureKeepsMetadata(t *testing.T) {
	f := newFixture(t)
	b := f.dataRequest(DataFile{ID: "f1", Name: "scan.csv", URL: "/files/scan.csv"})
	f.files.failErr = errors.New("permission denied")

	_, err := f.svc.DeleteDataFile(context.Background(), f.staff, b.ID, "f1")
	assertCode(t, err, apierr.CodeInternal)
	assert.Len(t, f.repo.get(b.ID).DataFiles, 1)
}

func TestDeleteDataFile_Preconditions(t *testing.T) {
	f := newFixture(t)
	b := f.dataRequest(DataFile{ID: "f1", Name: "scan.csv", URL: "u"})
	noData := f.borrow(StatusPendingReturn)

	_, err := f.svc.DeleteDataFile(context.Background(), f.student, b.ID, "f1")
	assertCode(t, err, apierr.CodeForbidden)
	_, err = f.svc.DeleteDataFile(context.Background(), f.staff, b.ID, "f9")
	assertCode(t, err, apierr.CodeNotFound)
	_, err = f.svc.DeleteDataFile(context.Background(), f.staff, noData.ID, "f1")
	assertCode(t, err, apierr.CodeNotFound)
	_, err = f.svc.DeleteDataFile(context.Background(), f.staff, newID(), "f1")
	assertCode(t, err, apierr.CodeNotFound)
	assert.Empty(t, f.files.removed)
}

func TestAddDataFiles(t *testing.T) {
	f := newFixture(t)
	b := f.dataRequest()
	size := int64(1024)

	res, err := f.svc.AddDataFiles(context.Background(), f.staff, b.ID, AddDataFilesRequest{Files: []DataFileInput{
		{Name: "scan.csv", URL: "/files/scan.csv", Size: &size},
		{ID: strPtr("fixed"), Name: "notes.txt", URL: "/files/notes.txt"},
	}})
	require.NoError(t, err)
	require.Len(t, res.DataFiles, 2)
	assert.NotEmpty(t, res.DataFiles[0].ID)
	assert.Equal(t, "fixed", res.DataFiles[1].ID)

	_, err = f.svc.AddDataFiles(context.Background(), f.staff, b.ID, AddDataFilesRequest{Files: []DataFileInput{
		{ID: strPtr("fixed"), Name: "again.txt", URL: "u"},
	}})
	assertCode(t, err, apierr.CodeConflict)

	_, err = f.svc.AddDataFiles(context.Background(), f.staff, b.ID, AddDataFilesRequest{Files: []DataFileInput{
		{Name: "../escape", URL: "u"},
	}})
	assertCode(t, err, apierr.CodeInvalidArgument)

	_, err = f.svc.AddDataFiles(context.Background(), f.student, b.ID, AddDataFilesRequest{Files: []DataFileInput{{Name: "a", URL: "u"}}})
	assertCode(t, err, apierr.CodeForbidden)
}

func strPtr(s string) *string { return &s }
