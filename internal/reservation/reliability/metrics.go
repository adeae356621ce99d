// Package reliability は貸出履歴・不備台帳・保守記録から信頼性指標を集計する（読み取り専用）。
//
// 集計関数は純粋関数で、Service は行の取得とキャッシュだけを受け持つ
package reliability

import (
	"math"
	"sort"
	"strings"
	"time"

	"LERS-backend/internal/reservation/borrows"
)

// Incident は MISHANDLING の不備1件
type Incident struct {
	UserID    string
	UserName  string
	CreatedAt time.Time
}

type UserMTBF struct {
	UserID    string   `json:"user_id"`
	UserName  string   `json:"user_name"`
	MTBFHours *float64 `json:"mtbf_hours"`
}

// ComputeMTBF は利用者ごとの不備発生間隔の平均（時間）。
// 2件未満の利用者は nil。出力順は入力に最初に現れた順
func ComputeMTBF(incidents []Incident) []UserMTBF {
	order := []string{}
	byUser := map[string][]Incident{}
	for _, in := range incidents {
		if _, ok := byUser[in.UserID]; !ok {
			order = append(order, in.UserID)
		}
		byUser[in.UserID] = append(byUser[in.UserID], in)
	}

	out := make([]UserMTBF, 0, len(order))
	for _, uid := range order {
		list := byUser[uid]
		sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
		res := UserMTBF{UserID: uid, UserName: list[0].UserName}
		if n := len(list); n >= 2 {
			// 連続間隔の平均 = (最後 - 最初) / (件数 - 1)
			span := list[n-1].CreatedAt.Sub(list[0].CreatedAt).Hours()
			v := span / float64(n-1)
			res.MTBFHours = &v
		}
		out = append(out, res)
	}
	return out
}

// MaintenanceEntry は maintenance_log の1要素。日付は文字列のまま保持し、解釈は parseLogDate に任せる
type MaintenanceEntry struct {
	StartDate string
	EndDate   string
}

type EquipmentMaintenance struct {
	EquipmentID string
	Name        string
	Log         []MaintenanceEntry
}

type EquipmentMTTR struct {
	EquipmentID           string   `json:"equipment_id"`
	EquipmentName         string   `json:"equipment_name"`
	MTTRHours             *float64 `json:"mttr_hours"`
	TotalMaintenanceHours float64  `json:"total_maintenance_hours"`
}

var logDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseLogDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range logDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ComputeMTTR: 両端が解釈でき、終了 >= 開始 の区間のみ数える。不正な区間は丸ごと無視
func ComputeMTTR(items []EquipmentMaintenance) []EquipmentMTTR {
	out := make([]EquipmentMTTR, 0, len(items))
	for _, eq := range items {
		var total float64
		valid := 0
		for _, e := range eq.Log {
			start, ok1 := parseLogDate(e.StartDate)
			end, ok2 := parseLogDate(e.EndDate)
			if !ok1 || !ok2 || end.Before(start) {
				continue
			}
			total += end.Sub(start).Hours()
			valid++
		}
		res := EquipmentMTTR{EquipmentID: eq.EquipmentID, EquipmentName: eq.Name, TotalMaintenanceHours: total}
		if valid > 0 {
			v := total / float64(valid)
			res.MTTRHours = &v
		}
		out = append(out, res)
	}
	return out
}

type EquipmentRef struct {
	EquipmentID string
	Name        string
	Status      borrows.EquipmentStatus
}

// UsageBorrow は利用時間集計に必要な Borrow の列だけを持つ
type UsageBorrow struct {
	EquipmentID      string
	Status           borrows.Status
	CheckoutTime     *time.Time
	ActualReturnTime *time.Time
}

type Utilization struct {
	EquipmentID       string  `json:"equipment_id"`
	Name              string  `json:"name"`
	TotalContactHours float64 `json:"total_contact_hours"`
	BorrowCount       int     `json:"borrow_count"`
}

func countsTowardUsage(s borrows.Status) bool {
	return s == borrows.StatusCompleted || s == borrows.StatusReturned || s == borrows.StatusOverdue
}

// RankUtilization は稼働中の機材ごとに持ち出し〜返却の時間を合計し、降順に並べる。
// start/end が指定された場合は checkout >= start かつ return <= end の Borrow のみ数える。
// 同値は equipment の入力順を保つ
func RankUtilization(equipment []EquipmentRef, usage []UsageBorrow, start, end *time.Time) []Utilization {
	out := make([]Utilization, 0, len(equipment))
	index := make(map[string]int, len(equipment))
	for _, eq := range equipment {
		if eq.Status == borrows.EquipmentArchived || eq.Status == borrows.EquipmentOutOfCommission {
			continue
		}
		index[eq.EquipmentID] = len(out)
		out = append(out, Utilization{EquipmentID: eq.EquipmentID, Name: eq.Name})
	}

	for _, b := range usage {
		i, ok := index[b.EquipmentID]
		if !ok || !countsTowardUsage(b.Status) || b.CheckoutTime == nil || b.ActualReturnTime == nil {
			continue
		}
		if start != nil && b.CheckoutTime.Before(*start) {
			continue
		}
		if end != nil && b.ActualReturnTime.After(*end) {
			continue
		}
		d := b.ActualReturnTime.Sub(*b.CheckoutTime).Hours()
		if d < 0 {
			continue
		}
		out[i].TotalContactHours += d
		out[i].BorrowCount++
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalContactHours > out[j].TotalContactHours })
	return out
}

type DayUsage struct {
	Date    string `json:"date"`
	Weekday string `json:"weekday"`
	Returns int    `json:"returns"`
}

// WeeklyUsage は now を含む直近7日（loc の暦日）ごとの返却件数。古い日付から並ぶ
func WeeklyUsage(returns []time.Time, now time.Time, loc *time.Location) []DayUsage {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	first := today.AddDate(0, 0, -6)

	days := make([]DayUsage, 7)
	for i := range days {
		d := first.AddDate(0, 0, i)
		days[i] = DayUsage{Date: d.Format("2006-01-02"), Weekday: d.Weekday().String()}
	}
	for _, r := range returns {
		lr := r.In(loc)
		day := time.Date(lr.Year(), lr.Month(), lr.Day(), 0, 0, 0, 0, loc)
		if day.Before(first) || day.After(today) {
			continue
		}
		// DST を跨いでも暦日で数える
		for i := range days {
			if days[i].Date == day.Format("2006-01-02") {
				days[i].Returns++
				break
			}
		}
	}
	return days
}

// DashboardInput は集計元の件数
type DashboardInput struct {
	Equipment        map[borrows.EquipmentStatus]int
	PendingRequests  int
	PendingReturns   int
	Overdue          int
	OpenDeficiencies int
}

type Dashboard struct {
	TotalEquipment       int     `json:"total_equipment"`
	OperationalEquipment int     `json:"operational_equipment"`
	BorrowedEquipment    int     `json:"borrowed_equipment"`
	AvailableEquipment   int     `json:"available_equipment"`
	OutOfCommission      int     `json:"out_of_commission"`
	UsageRate            float64 `json:"usage_rate"`
	AvailabilityRate     float64 `json:"availability_rate"`
	PendingRequests      int     `json:"pending_requests"`
	PendingReturns       int     `json:"pending_returns"`
	Overdue              int     `json:"overdue"`
	OpenDeficiencies     int     `json:"open_deficiencies"`
}

// DashboardStats: 稼働台数 = ARCHIVED と OUT_OF_COMMISSION を除いた台数。割合は小数第1位で丸める
func DashboardStats(in DashboardInput) Dashboard {
	total := 0
	for _, n := range in.Equipment {
		total += n
	}
	operational := total - in.Equipment[borrows.EquipmentArchived] - in.Equipment[borrows.EquipmentOutOfCommission]
	d := Dashboard{
		TotalEquipment:       total,
		OperationalEquipment: operational,
		BorrowedEquipment:    in.Equipment[borrows.EquipmentBorrowed],
		AvailableEquipment:   in.Equipment[borrows.EquipmentAvailable],
		OutOfCommission:      in.Equipment[borrows.EquipmentOutOfCommission],
		PendingRequests:      in.PendingRequests,
		PendingReturns:       in.PendingReturns,
		Overdue:              in.Overdue,
		OpenDeficiencies:     in.OpenDeficiencies,
	}
	if operational > 0 {
		d.UsageRate = round1(float64(d.BorrowedEquipment) / float64(operational) * 100)
		d.AvailabilityRate = round1(float64(d.AvailableEquipment) / float64(operational) * 100)
	}
	return d
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
