// Package models - custom column types
package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// OptionConfig is the kind-specific payload of a ServiceOption
type OptionConfig struct {
	IssueImage  ImageRequirement `json:"issueImage,omitempty"`
	ListKey     string           `json:"listKey,omitempty"`
	Content     string           `json:"content,omitempty"`
	Rules       []OptionRule     `json:"rules,omitempty"`
	URL         string           `json:"url,omitempty"`
	PhoneNumber string           `json:"phoneNumber,omitempty"`
}

// OptionRule is one entry of a rules option
type OptionRule struct {
	Description string `json:"description,omitempty"`
}

// WeekdaySet is a set of weekdays (0=Sunday .. 6=Saturday) stored as "1,2,3"
type WeekdaySet []int

var weekdayNames = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// ParseWeekdaySet parses a comma separated list of weekday numbers.
// Blank entries are skipped; anything else out of 0..6 is an error.
func ParseWeekdaySet(raw string) (WeekdaySet, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	seen := make(map[int]bool)
	var set WeekdaySet
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		day, err := strconv.Atoi(part)
		if err != nil || day < 0 || day > 6 {
			return nil, fmt.Errorf("invalid weekday %q", part)
		}
		if !seen[day] {
			seen[day] = true
			set = append(set, day)
		}
	}
	return set, nil
}

// InvalidWeekday stands in for a stored entry that is not a weekday number.
// It never matches a day, so a corrupt restriction stays closed rather than open.
const InvalidWeekday = -1

// scanWeekdaySet is the lenient read-side parse: entries outside 0..6 become InvalidWeekday
func scanWeekdaySet(raw string) WeekdaySet {
	seen := make(map[int]bool)
	var set WeekdaySet
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		day, err := strconv.Atoi(part)
		if err != nil || day < 0 || day > 6 {
			day = InvalidWeekday
		}
		if !seen[day] {
			seen[day] = true
			set = append(set, day)
		}
	}
	return set
}

// HasInvalid reports whether a stored entry could not be read as a weekday
func (s WeekdaySet) HasInvalid() bool {
	return s.Contains(InvalidWeekday)
}

// Contains reports whether day is in the set
func (s WeekdaySet) Contains(day int) bool {
	for _, d := range s {
		if d == day {
			return true
		}
	}
	return false
}

// String renders the stored form
func (s WeekdaySet) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

// Names renders the valid days with short names, e.g. "Mon, Tue"
func (s WeekdaySet) Names() string {
	names := make([]string, 0, len(s))
	for _, d := range s {
		if d >= 0 && d < len(weekdayNames) {
			names = append(names, weekdayNames[d])
		}
	}
	return strings.Join(names, ", ")
}

// Sorted returns a sorted copy
func (s WeekdaySet) Sorted() WeekdaySet {
	out := append(WeekdaySet(nil), s...)
	sort.Ints(out)
	return out
}

// GormDataType stores the set as a short string column
func (WeekdaySet) GormDataType() string {
	return "string"
}

// Value implements the driver.Valuer interface
func (s WeekdaySet) Value() (driver.Value, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return s.String(), nil
}

// Scan implements the sql.Scanner interface. Unreadable entries are kept as InvalidWeekday.
func (s *WeekdaySet) Scan(value interface{}) error {
	var raw string
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		raw = string(v)
	case string:
		raw = v
	default:
		return errors.New("type assertion to string failed")
	}

	*s = scanWeekdaySet(raw)
	return nil
}

// MarshalJSON keeps the comma separated wire form
func (s WeekdaySet) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts "1,2,3", [1,2,3] or null
func (s *WeekdaySet) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		set, err := ParseWeekdaySet(raw)
		if err != nil {
			return err
		}
		*s = set
		return nil
	}

	var days []int
	if err := json.Unmarshal(data, &days); err != nil {
		return err
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	set, err := ParseWeekdaySet(strings.Join(parts, ","))
	if err != nil {
		return err
	}
	*s = set
	return nil
}
