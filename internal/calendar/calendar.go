// Package calendar decides which dates produce a tick.
package calendar

import (
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/us"

	"github.com/STTM-NSU/simtrade/internal/model"
)

type Calendar struct {
	business *cal.BusinessCalendar
	extra    map[time.Time]struct{}
}

// New builds a calendar closed on weekends, on US federal holidays when
// usHolidays is set, and on every extra date.
func New(usHolidays bool, extra []time.Time) *Calendar {
	business := cal.NewBusinessCalendar()
	if usHolidays {
		business.AddHoliday(us.Holidays...)
	}

	c := &Calendar{
		business: business,
		extra:    make(map[time.Time]struct{}, len(extra)),
	}
	for _, d := range extra {
		c.extra[model.DateOf(d)] = struct{}{}
	}
	return c
}

func (c *Calendar) IsTradingDay(date time.Time) bool {
	day := model.DateOf(date)
	if _, closed := c.extra[day]; closed {
		return false
	}
	return c.business.IsWorkday(day)
}

// TradingDays lists the trading days in [from, to].
func (c *Calendar) TradingDays(from, to time.Time) []time.Time {
	var days []time.Time
	for d := model.DateOf(from); !d.After(model.DateOf(to)); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}
