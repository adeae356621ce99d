package borrows

import (
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
)

// GroupCalendar はグループ内の Borrow を iCalendar の VEVENT に並べる。
// 却下・キャンセル済みは含めない。承認済みなら承認期間、未承認なら申請期間を使う
func GroupCalendar(g GroupResponse, now time.Time) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//LERS//reservations//JA")

	for _, b := range g.Borrows {
		switch b.BorrowStatus {
		case StatusRejectedFIC, StatusRejectedStaff, StatusCancelled:
			continue
		}
		start, end := b.RequestedStartTime, b.RequestedEndTime
		if b.ApprovedStartTime != nil && b.ApprovedEndTime != nil {
			start, end = *b.ApprovedStartTime, *b.ApprovedEndTime
		}

		ev := cal.AddEvent(b.BorrowID + "@lers")
		ev.SetDtStampTime(now)
		ev.SetStartAt(start)
		ev.SetEndAt(end)
		ev.SetSummary(fmt.Sprintf("Equipment %s (%s)", b.EquipmentID, b.BorrowStatus))
		ev.SetDescription(fmt.Sprintf("borrow_id=%s borrower_id=%s group=%s", b.BorrowID, b.BorrowerID, g.BorrowGroupID))
		if b.BorrowStatus == StatusPending {
			ev.SetStatus(ics.ObjectStatusTentative)
		} else {
			ev.SetStatus(ics.ObjectStatusConfirmed)
		}
	}
	return cal.Serialize()
}
