package deficiencies

import (
	"database/sql"
	"time"
)

type Type string

const (
	TypeDamage      Type = "DAMAGE"
	TypeMishandling Type = "MISHANDLING"
	TypeLoss        Type = "LOSS"
	TypeOther       Type = "OTHER"
)

func (t Type) Valid() bool {
	switch t {
	case TypeDamage, TypeMishandling, TypeLoss, TypeOther:
		return true
	}
	return false
}

type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusResolved   Status = "RESOLVED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved:
		return true
	}
	return false
}

// Deficiency は返却時に記録された不備。Borrow の状態とは独立
type Deficiency struct {
	ID            string
	Type          Type
	Status        Status
	Description   sql.NullString
	Resolution    sql.NullString
	UserID        string
	TaggedByID    string
	FICToNotifyID sql.NullString
	BorrowID      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Patch: nil の項目は変更しない
type Patch struct {
	Status      *Status
	Description *string
	Resolution  *string
}

type Filter struct {
	Status *Status
	Type   *Type
	UserID *string
}

type Page struct {
	Limit  int
	Offset int
}
