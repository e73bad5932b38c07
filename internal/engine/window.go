// Package engine - Submission window evaluation
// Decides whether a request type accepts submissions at a given instant
package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aethra/civicdesk/internal/models"
)

// Clock returns the current instant; engines take one so tests can pin time
type Clock func() time.Time

// SystemClock is the wall clock in UTC
func SystemClock() time.Time {
	return time.Now().UTC()
}

// WindowState is the outcome of a window evaluation
type WindowState int

const (
	WindowNoRestriction WindowState = iota
	WindowAllowed
	WindowDayDisallowed
	WindowTimeDisallowed
)

func (s WindowState) String() string {
	switch s {
	case WindowNoRestriction:
		return "no_restriction"
	case WindowAllowed:
		return "allowed"
	case WindowDayDisallowed:
		return "day_disallowed"
	case WindowTimeDisallowed:
		return "time_disallowed"
	}
	return "unknown"
}

// WindowDecision is the tagged result of EvaluateWindow. Reason is set for the disallowed states.
type WindowDecision struct {
	State  WindowState
	Reason string
}

// Allowed reports whether a submission may proceed
func (d WindowDecision) Allowed() bool {
	return d.State == WindowNoRestriction || d.State == WindowAllowed
}

var hhmmPattern = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

// ParseHHMM parses "HH:mm" into minutes after midnight
func ParseHHMM(s string) (int, bool) {
	m := hhmmPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	return h*60 + mm, true
}

// window is the parsed restriction of a request type. Malformed times count as unset.
type window struct {
	start, end       int
	hasStart, hasEnd bool
	startRaw, endRaw string
	days             models.WeekdaySet
}

func parseWindow(rt *models.RequestType) window {
	var w window
	if rt.RestrictionStartTime != nil {
		w.startRaw = strings.TrimSpace(*rt.RestrictionStartTime)
		w.start, w.hasStart = ParseHHMM(w.startRaw)
	}
	if rt.RestrictionEndTime != nil {
		w.endRaw = strings.TrimSpace(*rt.RestrictionEndTime)
		w.end, w.hasEnd = ParseHHMM(w.endRaw)
	}
	w.days = rt.RestrictionDays
	return w
}

// malformed lists the stored window fields that could not be read. Bad times are
// dropped from the window; bad day entries match no day.
func (w window) malformed() []string {
	var fields []string
	if w.startRaw != "" && !w.hasStart {
		fields = append(fields, "restrictionStartTime")
	}
	if w.endRaw != "" && !w.hasEnd {
		fields = append(fields, "restrictionEndTime")
	}
	if w.days.HasInvalid() {
		fields = append(fields, "restrictionDays")
	}
	return fields
}

func (w window) unrestricted() bool {
	return !w.hasStart && !w.hasEnd && len(w.days) == 0
}

// Describe renders the window for logs, e.g. "09:00-17:00 days=[Mon, Tue]"
func (w window) Describe() string {
	if w.unrestricted() {
		return "no restriction"
	}
	start, end := "*", "*"
	if w.hasStart {
		start = w.startRaw
	}
	if w.hasEnd {
		end = w.endRaw
	}
	days := "all"
	if len(w.days) > 0 {
		days = w.days.Names()
	}
	return fmt.Sprintf("%s-%s days=[%s]", start, end, days)
}

// EvaluateWindow checks now against the request type's day and time restriction.
// Days are matched on the weekday in loc; times are "HH:mm" on the loc calendar date of now,
// with both bounds inclusive.
func EvaluateWindow(rt *models.RequestType, now time.Time, loc *time.Location) WindowDecision {
	w := parseWindow(rt)
	if w.unrestricted() {
		return WindowDecision{State: WindowNoRestriction}
	}

	local := now.In(loc)
	if len(w.days) > 0 && !w.days.Contains(int(local.Weekday())) {
		names := w.days.Names()
		reason := fmt.Sprintf("%s request window: allowed only on %s.", rt.Name, names)
		if names == "" {
			reason = fmt.Sprintf("%s request window: no valid submission days are configured.", rt.Name)
		}
		return WindowDecision{State: WindowDayDisallowed, Reason: reason}
	}

	if !w.hasStart && !w.hasEnd {
		return WindowDecision{State: WindowAllowed}
	}

	y, m, d := local.Date()
	outside := false
	if w.hasStart && now.Before(LocalToUTC(y, m, d, w.start, loc)) {
		outside = true
	}
	if w.hasEnd && now.After(LocalToUTC(y, m, d, w.end, loc)) {
		outside = true
	}
	if !outside {
		return WindowDecision{State: WindowAllowed}
	}

	var span string
	switch {
	case w.hasStart && w.hasEnd:
		span = fmt.Sprintf("between %s and %s", w.startRaw, w.endRaw)
	case w.hasStart:
		span = "from " + w.startRaw
	default:
		span = "until " + w.endRaw
	}
	return WindowDecision{
		State:  WindowTimeDisallowed,
		Reason: fmt.Sprintf("%s request window: allowed only %s.", rt.Name, span),
	}
}

// LocalToUTC returns the first instant whose wall clock in loc reaches minutes after
// midnight on the date y-m-d. A wall time repeated by a DST fall-back resolves to its
// earlier occurrence; a time skipped by a DST jump resolves to the jump itself.
func LocalToUTC(y int, m time.Month, d int, minutes int, loc *time.Location) time.Time {
	wall := time.Date(y, m, d, 0, minutes, 0, 0, time.UTC)

	// offsets in effect around the date; a calendar day sees at most one transition
	var best time.Time
	found := false
	for _, probe := range []time.Time{wall.Add(-24 * time.Hour), wall, wall.Add(24 * time.Hour)} {
		_, offset := probe.In(loc).Zone()
		candidate := wall.Add(-time.Duration(offset) * time.Second)
		if !sameWallClock(candidate.In(loc), wall) {
			continue
		}
		if !found || candidate.Before(best) {
			best, found = candidate, true
		}
	}
	if found {
		return best
	}
	return firstReaching(y, m, d, minutes, loc)
}

func sameWallClock(local, wall time.Time) bool {
	ly, lm, ld := local.Date()
	wy, wm, wd := wall.Date()
	return ly == wy && lm == wm && ld == wd &&
		local.Hour() == wall.Hour() && local.Minute() == wall.Minute() && local.Second() == 0
}

// firstReaching binary-searches the instant a skipped wall time is first passed.
// The wall clock is monotone across a spring-forward gap, so the search is exact there.
func firstReaching(y int, m time.Month, d int, minutes int, loc *time.Location) time.Time {
	target := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	reached := func(unix int64) bool {
		t := time.Unix(unix, 0).In(loc)
		ty, tm, td := t.Date()
		day := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
		if !day.Equal(target) {
			return day.After(target)
		}
		return t.Hour()*60+t.Minute() >= minutes
	}

	// a local calendar day lies within one UTC day either side
	lo := time.Date(y, m, d-1, 0, 0, 0, 0, time.UTC).Unix()
	hi := time.Date(y, m, d+2, 0, 0, 0, 0, time.UTC).Unix()
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if reached(mid) {
			hi = mid
		} else {
			lo = mid
		}
	}
	return time.Unix(hi, 0).UTC()
}
