package reliability

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"LERS-backend/internal/platform/apierr"
	"LERS-backend/internal/platform/auth"

	"go.uber.org/zap"
)

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type Repository interface {
	MishandlingIncidents(ctx context.Context) ([]Incident, error)
	MaintenanceLogs(ctx context.Context) ([]EquipmentMaintenance, error)
	Equipment(ctx context.Context) ([]EquipmentRef, error)
	UsageBorrows(ctx context.Context) ([]UsageBorrow, error)
	ReturnsSince(ctx context.Context, since time.Time) ([]time.Time, error)
	DashboardCounts(ctx context.Context, now time.Time) (DashboardInput, error)
}

type Options struct {
	Location  *time.Location
	CacheSize int
	CacheTTL  time.Duration
}

type Service struct {
	store Repository
	clock Clock
	loc   *time.Location
	cache *reportCache
	log   *zap.Logger
}

func NewService(db *sql.DB, opts Options, log *zap.Logger) *Service {
	return newService(NewStore(db), opts, log)
}

func newService(store Repository, opts Options, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store: store,
		clock: realClock{},
		loc:   loc,
		cache: newReportCache(opts.CacheSize, opts.CacheTTL),
		log:   log.Named("reliability"),
	}
}

func authorize(actor auth.Actor) error {
	if actor.UserID == "" {
		return apierr.ErrUnauthorized("authentication required")
	}
	if !actor.IsStaffOrFaculty() {
		return apierr.ErrForbidden("reports are available to STAFF or FACULTY")
	}
	return nil
}

// GET /reports/mtbf
func (s *Service) MTBF(ctx context.Context, actor auth.Actor) ([]UserMTBF, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}
	return cached(s.cache, "mtbf", func() ([]UserMTBF, error) {
		incidents, err := s.store.MishandlingIncidents(ctx)
		if err != nil {
			return nil, err
		}
		return ComputeMTBF(incidents), nil
	})
}

// GET /reports/mttr
func (s *Service) MTTR(ctx context.Context, actor auth.Actor) ([]EquipmentMTTR, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}
	return cached(s.cache, "mttr", func() ([]EquipmentMTTR, error) {
		items, err := s.store.MaintenanceLogs(ctx)
		if err != nil {
			return nil, err
		}
		return ComputeMTTR(items), nil
	})
}

// ParseRange は start/end クエリを解釈する。日付のみの end はその日の終わりまでを含む
func (s *Service) ParseRange(startRaw, endRaw string) (start, end *time.Time, err error) {
	if v := strings.TrimSpace(startRaw); v != "" {
		t, _, ok := s.parseBound(v)
		if !ok {
			return nil, nil, apierr.ErrInvalid("start must be RFC3339 or YYYY-MM-DD")
		}
		start = &t
	}
	if v := strings.TrimSpace(endRaw); v != "" {
		t, dateOnly, ok := s.parseBound(v)
		if !ok {
			return nil, nil, apierr.ErrInvalid("end must be RFC3339 or YYYY-MM-DD")
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		end = &t
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, nil, apierr.ErrInvalid("end must not be before start")
	}
	return start, end, nil
}

func (s *Service) parseBound(v string) (time.Time, bool, bool) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, false, true
	}
	if t, err := time.ParseInLocation("2006-01-02", v, s.loc); err == nil {
		return t, true, true
	}
	return time.Time{}, false, false
}

// GET /reports/utilization
func (s *Service) Utilization(ctx context.Context, actor auth.Actor, start, end *time.Time) ([]Utilization, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}
	return cached(s.cache, "utilization:"+rangeKey(start)+":"+rangeKey(end), func() ([]Utilization, error) {
		equipment, err := s.store.Equipment(ctx)
		if err != nil {
			return nil, err
		}
		usage, err := s.store.UsageBorrows(ctx)
		if err != nil {
			return nil, err
		}
		return RankUtilization(equipment, usage, start, end), nil
	})
}

func rangeKey(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// GET /reports/weekly-usage
func (s *Service) WeeklyUsage(ctx context.Context, actor auth.Actor) ([]DayUsage, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	local := now.In(s.loc)
	first := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc).AddDate(0, 0, -6)

	return cached(s.cache, "weekly:"+local.Format("2006-01-02"), func() ([]DayUsage, error) {
		returns, err := s.store.ReturnsSince(ctx, first)
		if err != nil {
			return nil, err
		}
		return WeeklyUsage(returns, now, s.loc), nil
	})
}

// GET /reports/dashboard
func (s *Service) Dashboard(ctx context.Context, actor auth.Actor) (Dashboard, error) {
	if err := authorize(actor); err != nil {
		return Dashboard{}, err
	}
	return cached(s.cache, "dashboard", func() (Dashboard, error) {
		in, err := s.store.DashboardCounts(ctx, s.clock.Now())
		if err != nil {
			return Dashboard{}, err
		}
		d := DashboardStats(in)
		s.log.Debug("dashboard computed",
			zap.Int("operational", d.OperationalEquipment),
			zap.Float64("usage_rate", d.UsageRate))
		return d, nil
	})
}

// Invalidate は次の呼び出しで再集計させる。borrows / deficiencies の更新後に呼ばれる
func (s *Service) Invalidate() { s.cache.purge() }
