// Package calendar decides whether a campaign may send at a given instant.
//
// Rules are evaluated in the campaign's timezone. A specific date blocks that
// calendar day; a day-of-week rule blocks every occurrence of that weekday with
// no end date. Rules are predicates, never expanded into rows.
package calendar

import (
	"context"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

const dateLayout = "2006-01-02"

// Calendar is the compiled, validated form of a campaign's blackout rules.
type Calendar struct {
	loc      *time.Location
	dates    map[string]struct{}
	last     time.Time // latest specific date
	weekdays [7]bool
}

// Compile validates the campaign timezone and blackout rules.
func Compile(c *model.Campaign) (*Calendar, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, appErrors.NewConfigError("timezone", "unknown zone %q", c.Timezone)
	}

	cal := &Calendar{loc: loc, dates: make(map[string]struct{})}
	for _, b := range c.BlockedDates {
		switch b.Type {
		case model.BlockedSpecific:
			d, err := time.ParseInLocation(dateLayout, b.Date, loc)
			if err != nil {
				return nil, appErrors.NewConfigError("blocked_dates", "bad date %q", b.Date)
			}
			cal.dates[d.Format(dateLayout)] = struct{}{}
			if d.After(cal.last) {
				cal.last = d
			}
		case model.BlockedDayOfWeek:
			if b.Value < 0 || b.Value > 6 {
				return nil, appErrors.NewConfigError("blocked_dates", "day of week %d out of range 0-6", b.Value)
			}
			cal.weekdays[b.Value] = true
		default:
			return nil, appErrors.NewConfigError("blocked_dates", "unknown rule type %q", b.Type)
		}
	}
	return cal, nil
}

// Validate reports the first configuration error in the campaign calendar, if any.
func Validate(c *model.Campaign) error {
	_, err := Compile(c)
	return err
}

// IsBlocked compiles the rules and evaluates them at instant.
func IsBlocked(c *model.Campaign, instant time.Time) (bool, error) {
	cal, err := Compile(c)
	if err != nil {
		return false, err
	}
	return cal.IsBlocked(instant), nil
}

func (cal *Calendar) Location() *time.Location { return cal.loc }

func (cal *Calendar) IsBlocked(instant time.Time) bool {
	local := instant.In(cal.loc)
	if cal.weekdays[local.Weekday()] {
		return true
	}
	_, ok := cal.dates[local.Format(dateLayout)]
	return ok
}

// FullyBlocked is true when every weekday is blocked, so no instant is ever sendable.
func (cal *Calendar) FullyBlocked() bool {
	for _, b := range cal.weekdays {
		if !b {
			return false
		}
	}
	return true
}

// NextUnblocked returns the earliest instant at or after t that is not blocked.
// ok is false when the calendar has no such instant.
func (cal *Calendar) NextUnblocked(t time.Time) (time.Time, bool) {
	if !cal.IsBlocked(t) {
		return t, true
	}
	if cal.FullyBlocked() {
		return time.Time{}, false
	}

	local := t.In(cal.loc)
	// Past the latest specific date only weekday rules apply, and a week
	// of those contains an open day.
	end := local
	if cal.last.After(end) {
		end = cal.last
	}
	end = end.AddDate(0, 0, 8)
	for i := 1; ; i++ {
		day := time.Date(local.Year(), local.Month(), local.Day()+i, 0, 0, 0, 0, cal.loc)
		if day.After(end) {
			return time.Time{}, false
		}
		if !cal.IsBlocked(day) {
			return day, true
		}
	}
}

// CampaignReader loads a campaign by id.
type CampaignReader interface {
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
}

// IsBlockedByID loads the campaign and evaluates its rules at instant.
func IsBlockedByID(ctx context.Context, campaigns CampaignReader, campaignID string, instant time.Time) (bool, error) {
	c, err := campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return false, err
	}
	return IsBlocked(c, instant)
}
