package intent

import (
	"time"

	"github.com/fernwick/taskrank/internal/vocab"
)

// DueOp is the comparison operator of a due-date filter.
type DueOp string

const (
	DueOn         DueOp = "on"
	DueBefore     DueOp = "before" // strictly earlier, used for overdue
	DueOnOrBefore DueOp = "on-or-before"
	DueOnOrAfter  DueOp = "on-or-after"
	DueBetween    DueOp = "between"
)

// DueFilter is a resolved due-date constraint. Date and End are calendar
// days truncated to midnight UTC.
type DueFilter struct {
	Op   DueOp         `json:"op"`
	Date time.Time     `json:"date"`
	End  time.Time     `json:"end,omitempty"` // only for DueBetween
	Term vocab.RelTerm `json:"term,omitempty"`
}

// Matches reports whether a task due date satisfies the filter. A nil due
// date never matches a due filter.
func (f DueFilter) Matches(due *time.Time) bool {
	if due == nil {
		return false
	}
	d := day(*due)
	switch f.Op {
	case DueOn:
		return d.Equal(f.Date)
	case DueBefore:
		return d.Before(f.Date)
	case DueOnOrBefore:
		return !d.After(f.Date)
	case DueOnOrAfter:
		return !d.Before(f.Date)
	case DueBetween:
		return !d.Before(f.Date) && !d.After(f.End)
	}
	return false
}

// Widen converts an exact-date filter into an inclusive "on or before"
// range so overdue items are surfaced too. Applied to vague queries only.
func (f DueFilter) Widen() DueFilter {
	switch f.Op {
	case DueOn:
		f.Op = DueOnOrBefore
	case DueBetween:
		f.Op = DueOnOrBefore
		f.Date = f.End
		f.End = time.Time{}
	}
	return f
}

// resolveRelTerm converts a canonical relative term into a concrete filter
// anchored at now.
func resolveRelTerm(term vocab.RelTerm, now time.Time) DueFilter {
	today := day(now)
	switch term {
	case vocab.RelToday:
		return DueFilter{Op: DueOn, Date: today, Term: term}
	case vocab.RelTomorrow:
		return DueFilter{Op: DueOn, Date: today.AddDate(0, 0, 1), Term: term}
	case vocab.RelYesterday:
		return DueFilter{Op: DueOn, Date: today.AddDate(0, 0, -1), Term: term}
	case vocab.RelOverdue:
		return DueFilter{Op: DueBefore, Date: today, Term: term}
	case vocab.RelThisWeek:
		return DueFilter{Op: DueBetween, Date: today, End: endOfWeek(today), Term: term}
	case vocab.RelNextWeek:
		start := endOfWeek(today).AddDate(0, 0, 1)
		return DueFilter{Op: DueBetween, Date: start, End: start.AddDate(0, 0, 6), Term: term}
	case vocab.RelThisMonth:
		end := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1)
		return DueFilter{Op: DueBetween, Date: today, End: end, Term: term}
	case vocab.RelSoon:
		return DueFilter{Op: DueOnOrBefore, Date: today.AddDate(0, 0, 3), Term: term}
	}
	return DueFilter{Op: DueOn, Date: today, Term: term}
}

// day truncates a time to its calendar date in UTC.
func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// endOfWeek returns the next Sunday on or after d.
func endOfWeek(d time.Time) time.Time {
	offset := (7 - int(d.Weekday())) % 7
	return d.AddDate(0, 0, offset)
}
