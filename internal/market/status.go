// Package market knows the B3 trading calendar.
package market

import (
	"fmt"
	"strings"
	"time"

	"github.com/Rajchodisetti/market-gateway/internal/config"
	"github.com/Rajchodisetti/market-gateway/internal/observ"
)

type Phase string

const (
	PhasePreMarket  Phase = "pre-market"
	PhaseOpen       Phase = "open"
	PhaseAfterHours Phase = "after-hours"
	PhaseClosed     Phase = "closed"
)

const holidayName = "Feriado B3"

// Status is the market snapshot served by /status and embedded in the
// overview.
type Status struct {
	IsOpen      bool   `json:"isOpen"`
	Phase       Phase  `json:"phase"`
	IsHoliday   bool   `json:"isHoliday"`
	HolidayName string `json:"holidayName,omitempty"`
}

type Calendar struct {
	loc      *time.Location
	open     int // minutes from local midnight
	close    int
	holidays map[string]bool
}

// brt is used when the zone database is unavailable. Brazil has no DST since
// 2019.
var brt = time.FixedZone("BRT", -3*60*60)

func NewCalendar(cfg config.Market) (*Calendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		observ.Log("market_timezone_fallback", map[string]any{
			"timezone": cfg.Timezone,
			"fallback": "UTC-03:00",
			"error":    err.Error(),
		})
		loc = brt
	}

	open, err := parseClock(cfg.Open)
	if err != nil {
		return nil, fmt.Errorf("market open: %w", err)
	}
	closeAt, err := parseClock(cfg.Close)
	if err != nil {
		return nil, fmt.Errorf("market close: %w", err)
	}
	if closeAt <= open {
		return nil, fmt.Errorf("market close %s must be after open %s", cfg.Close, cfg.Open)
	}

	holidays := make(map[string]bool, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		h = strings.TrimSpace(h)
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return nil, fmt.Errorf("holiday %q: %w", h, err)
		}
		holidays[h] = true
	}

	return &Calendar{loc: loc, open: open, close: closeAt, holidays: holidays}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Status evaluates the calendar at now.
func (c *Calendar) Status(now time.Time) Status {
	local := now.In(c.loc)

	if c.holidays[local.Format("2006-01-02")] {
		return Status{Phase: PhaseClosed, IsHoliday: true, HolidayName: holidayName}
	}
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return Status{Phase: PhaseClosed}
	}

	minutes := local.Hour()*60 + local.Minute()
	switch {
	case minutes < c.open:
		return Status{Phase: PhasePreMarket}
	case minutes < c.close:
		return Status{IsOpen: true, Phase: PhaseOpen}
	default:
		return Status{Phase: PhaseAfterHours}
	}
}
