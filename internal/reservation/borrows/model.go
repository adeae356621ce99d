package borrows

import (
	"database/sql"
	"time"
)

type Status string

const (
	StatusPending       Status = "PENDING"
	StatusApproved      Status = "APPROVED"
	StatusActive        Status = "ACTIVE"
	StatusOverdue       Status = "OVERDUE"
	StatusPendingReturn Status = "PENDING_RETURN"
	StatusReturned      Status = "RETURNED"
	StatusCompleted     Status = "COMPLETED"
	StatusRejectedFIC   Status = "REJECTED_FIC"
	StatusRejectedStaff Status = "REJECTED_STAFF"
	StatusCancelled     Status = "CANCELLED"
)

// EquipmentStatus は equipment.status の値
type EquipmentStatus string

const (
	EquipmentAvailable       EquipmentStatus = "AVAILABLE"
	EquipmentBorrowed        EquipmentStatus = "BORROWED"
	EquipmentOutOfCommission EquipmentStatus = "OUT_OF_COMMISSION"
	EquipmentArchived        EquipmentStatus = "ARCHIVED"
)

const (
	ReservationInClass    = "IN_CLASS"
	ReservationOutOfClass = "OUT_OF_CLASS"
)

// DataRequestPending は返却申請時のデータ請求の初期状態
const DataRequestPending = "Pending"

// DataFile はデータ請求に添付されたファイルのメタデータ（実体は filestore）
type DataFile struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	URL  string  `json:"url"`
	Size *int64  `json:"size,omitempty"`
	Type *string `json:"type,omitempty"`
}

// Borrow は borrows テーブルの1行を表す
type Borrow struct {
	ID                    string
	BorrowerID            string
	EquipmentID           string
	ClassID               sql.NullString
	BorrowGroupID         sql.NullString
	RequestedStartTime    time.Time
	RequestedEndTime      time.Time
	ApprovedStartTime     sql.NullTime
	ApprovedEndTime       sql.NullTime
	CheckoutTime          sql.NullTime
	ActualReturnTime      sql.NullTime
	Status                Status
	RequestSubmissionTime time.Time
	ReservationType       string
	DataRequested         bool
	DataRequestStatus     sql.NullString
	DataRequestRemarks    sql.NullString
	RequestedEquipmentIDs []string
	DataFiles             []DataFile
	ReviewedByID          sql.NullString
	UpdatedAt             time.Time
}

// GroupMate は borrow_group_mates の1行
type GroupMate struct {
	GroupID string
	UserID  string
}

type UserSummary struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Group は同じ borrow_group_id を持つ Borrow と参加者名簿
type Group struct {
	GroupID string
	Borrows []Borrow
	Mates   []UserSummary
}

// StatusPatch は UpdateStatus と同時に書き込む任意項目
type StatusPatch struct {
	ApprovedStartTime sql.NullTime
	ApprovedEndTime   sql.NullTime
	ReviewedByID      sql.NullString
}

type Page struct {
	Limit  int
	Offset int
}
