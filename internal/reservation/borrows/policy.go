package borrows

import "LERS-backend/internal/platform/auth"

// CanTransition は actor が borrow を target へ進める権限を持つかどうか。
// 状態機械上の可否は見ない（CanMove を参照）
func CanTransition(actor auth.Actor, b *Borrow, target Status) bool {
	if actor.UserID == "" || b == nil {
		return false
	}
	isBorrower := actor.UserID == b.BorrowerID
	switch target {
	case StatusPendingReturn:
		return isBorrower
	case StatusCancelled:
		return isBorrower || actor.IsStaffOrFaculty()
	case StatusRejectedFIC:
		return actor.Role == auth.RoleFaculty
	case StatusApproved, StatusRejectedStaff, StatusActive, StatusOverdue, StatusReturned, StatusCompleted:
		return actor.IsStaffOrFaculty()
	default:
		return false
	}
}

// CanViewGroup: スタッフ・教員、グループ内の借用者、名簿上のメンバー
func CanViewGroup(actor auth.Actor, g *Group) bool {
	if actor.UserID == "" || g == nil {
		return false
	}
	if actor.IsStaffOrFaculty() {
		return true
	}
	for i := range g.Borrows {
		if g.Borrows[i].BorrowerID == actor.UserID {
			return true
		}
	}
	for _, m := range g.Mates {
		if m.UserID == actor.UserID {
			return true
		}
	}
	return false
}

// CanViewBorrow は単体の Borrow について CanViewGroup と同じ規則を適用する
func CanViewBorrow(actor auth.Actor, b *Borrow, mates []UserSummary) bool {
	if b == nil {
		return false
	}
	return CanViewGroup(actor, &Group{Borrows: []Borrow{*b}, Mates: mates})
}

func CanManageDataFiles(actor auth.Actor) bool {
	return actor.UserID != "" && actor.IsStaffOrFaculty()
}

// rejectTarget は却下時の遷移先を役割から決める
func rejectTarget(actor auth.Actor) Status {
	if actor.Role == auth.RoleFaculty {
		return StatusRejectedFIC
	}
	return StatusRejectedStaff
}
