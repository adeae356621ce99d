package borrows

import (
	"database/sql"
	"encoding/json"
	"time"
)

// 予約申請リクエスト
type SubmitRequest struct {
	EquipmentIDs       []string  `json:"equipment_ids" binding:"required"`
	ClassID            *string   `json:"class_id,omitempty"`
	RequestedStartTime time.Time `json:"requested_start_time" binding:"required"`
	RequestedEndTime   time.Time `json:"requested_end_time" binding:"required"`
	// IN_CLASS / OUT_OF_CLASS。省略時は OUT_OF_CLASS
	ReservationType string   `json:"reservation_type,omitempty"`
	GroupMateIDs    []string `json:"group_mate_ids,omitempty"`
}

type SubmitResponse struct {
	BorrowGroupID *string          `json:"borrow_group_id,omitempty"`
	Borrows       []BorrowResponse `json:"borrows"`
}

// 返却申請リクエスト
type ReturnRequest struct {
	RequestData        bool    `json:"request_data"`
	DataRequestRemarks *string `json:"data_request_remarks,omitempty"`
	// 型の揃っていない配列も受け付ける。文字列以外の要素は捨てる
	RequestedEquipmentIDs json.RawMessage `json:"requested_equipment_ids,omitempty"`
}

type BulkApproveRequest struct {
	BorrowIDs []string `json:"borrow_ids" binding:"required"`
}

type BulkApproveResponse struct {
	ApprovedCount  int `json:"approved_count"`
	RequestedCount int `json:"requested_count"`
	SkippedCount   int `json:"skipped_count"`
}

// 承認リクエスト。省略時は申請時の期間をそのまま承認する
type ApproveRequest struct {
	ApprovedStartTime *time.Time `json:"approved_start_time,omitempty"`
	ApprovedEndTime   *time.Time `json:"approved_end_time,omitempty"`
}

type DataFileInput struct {
	ID   *string `json:"id,omitempty"`
	Name string  `json:"name" binding:"required"`
	URL  string  `json:"url" binding:"required"`
	Size *int64  `json:"size,omitempty"`
	Type *string `json:"type,omitempty"`
}

type AddDataFilesRequest struct {
	Files []DataFileInput `json:"files" binding:"required"`
}

// 貸出レスポンス
type BorrowResponse struct {
	BorrowID              string     `json:"borrow_id"`
	BorrowerID            string     `json:"borrower_id"`
	EquipmentID           string     `json:"equipment_id"`
	ClassID               *string    `json:"class_id,omitempty"`
	BorrowGroupID         *string    `json:"borrow_group_id,omitempty"`
	RequestedStartTime    time.Time  `json:"requested_start_time"`
	RequestedEndTime      time.Time  `json:"requested_end_time"`
	ApprovedStartTime     *time.Time `json:"approved_start_time,omitempty"`
	ApprovedEndTime       *time.Time `json:"approved_end_time,omitempty"`
	CheckoutTime          *time.Time `json:"checkout_time,omitempty"`
	ActualReturnTime      *time.Time `json:"actual_return_time,omitempty"`
	BorrowStatus          Status     `json:"borrow_status"`
	RequestSubmissionTime time.Time  `json:"request_submission_time"`
	ReservationType       string     `json:"reservation_type"`
	DataRequested         bool       `json:"data_requested"`
	DataRequestStatus     *string    `json:"data_request_status,omitempty"`
	DataRequestRemarks    *string    `json:"data_request_remarks,omitempty"`
	RequestedEquipmentIDs []string   `json:"requested_equipment_ids"`
	DataFiles             []DataFile `json:"data_files"`
	ReviewedByID          *string    `json:"reviewed_by_id,omitempty"`
}

type PendingReturnItem struct {
	BorrowResponse
	OpenDeficiencies    int  `json:"open_deficiencies"`
	HasOpenDeficiencies bool `json:"has_open_deficiencies"`
}

type ListPendingReturnsResult struct {
	Items      []PendingReturnItem `json:"items"`
	NextOffset int                 `json:"next_offset"`
}

type GroupResponse struct {
	BorrowGroupID string           `json:"borrow_group_id"`
	Borrows       []BorrowResponse `json:"borrows"`
	Participants  []UserSummary    `json:"participants"`
}

// toResponse は now 時点の実効ステータスで詰める
func toResponse(b *Borrow, now time.Time) BorrowResponse {
	reqIDs := b.RequestedEquipmentIDs
	if reqIDs == nil {
		reqIDs = []string{}
	}
	files := b.DataFiles
	if files == nil {
		files = []DataFile{}
	}
	return BorrowResponse{
		BorrowID:              b.ID,
		BorrowerID:            b.BorrowerID,
		EquipmentID:           b.EquipmentID,
		ClassID:               nullToPtr(b.ClassID),
		BorrowGroupID:         nullToPtr(b.BorrowGroupID),
		RequestedStartTime:    b.RequestedStartTime,
		RequestedEndTime:      b.RequestedEndTime,
		ApprovedStartTime:     nullTimeToPtr(b.ApprovedStartTime),
		ApprovedEndTime:       nullTimeToPtr(b.ApprovedEndTime),
		CheckoutTime:          nullTimeToPtr(b.CheckoutTime),
		ActualReturnTime:      nullTimeToPtr(b.ActualReturnTime),
		BorrowStatus:          EffectiveStatus(b, now),
		RequestSubmissionTime: b.RequestSubmissionTime,
		ReservationType:       b.ReservationType,
		DataRequested:         b.DataRequested,
		DataRequestStatus:     nullToPtr(b.DataRequestStatus),
		DataRequestRemarks:    nullToPtr(b.DataRequestRemarks),
		RequestedEquipmentIDs: reqIDs,
		DataFiles:             files,
		ReviewedByID:          nullToPtr(b.ReviewedByID),
	}
}

// helpers

func nullToPtr(ns sql.NullString) *string {
	if ns.Valid {
		v := ns.String
		return &v
	}
	return nil
}

func nullTimeToPtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		v := nt.Time
		return &v
	}
	return nil
}
