package borrows

import "time"

// transitions は許可される遷移の一覧。ここに無い組み合わせはすべて拒否
var transitions = map[Status][]Status{
	StatusPending:       {StatusApproved, StatusRejectedFIC, StatusRejectedStaff, StatusCancelled},
	StatusApproved:      {StatusActive, StatusCancelled},
	StatusActive:        {StatusOverdue, StatusPendingReturn},
	StatusOverdue:       {StatusPendingReturn},
	StatusPendingReturn: {StatusReturned, StatusCompleted},
	StatusReturned:      {StatusCompleted},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusActive, StatusOverdue, StatusPendingReturn,
		StatusReturned, StatusCompleted, StatusRejectedFIC, StatusRejectedStaff, StatusCancelled:
		return true
	}
	return false
}

// Terminal は以降どこにも遷移できない状態
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanMove は状態機械上 from から to へ進めるか
func CanMove(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// EffectiveStatus は承認終了時刻を過ぎた ACTIVE を OVERDUE として扱う。
// 永続化された OVERDUE はそのまま返す
func EffectiveStatus(b *Borrow, now time.Time) Status {
	if b.Status == StatusActive && b.ApprovedEndTime.Valid && now.After(b.ApprovedEndTime.Time) {
		return StatusOverdue
	}
	return b.Status
}

// returnable は返却申請を受け付ける状態。PENDING_RETURN は再申請（上書き）扱い
func returnable(s Status) bool {
	return s == StatusActive || s == StatusOverdue || s == StatusPendingReturn
}
