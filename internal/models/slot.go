package models

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format for calendar days.
const DateLayout = "2006-01-02"

// Fixed period numbers that are structurally not bookable.
const (
	PeriodBreak = 3
	PeriodLunch = 6
)

// PeriodInfo describes one numbered interval of the teaching day.
type PeriodInfo struct {
	Number   int    `json:"number"`
	Label    string `json:"label"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Bookable bool   `json:"bookable"`
}

var periodTable = []PeriodInfo{
	{Number: 1, Label: "Period 1", Start: "08:30", End: "09:20", Bookable: true},
	{Number: 2, Label: "Period 2", Start: "09:20", End: "10:10", Bookable: true},
	{Number: PeriodBreak, Label: "Break", Start: "10:10", End: "10:25"},
	{Number: 4, Label: "Period 3", Start: "10:25", End: "11:15", Bookable: true},
	{Number: 5, Label: "Period 4", Start: "11:15", End: "12:05", Bookable: true},
	{Number: PeriodLunch, Label: "Lunch", Start: "12:05", End: "12:50"},
	{Number: 7, Label: "Period 5", Start: "12:50", End: "13:40", Bookable: true},
	{Number: 8, Label: "Period 6", Start: "13:40", End: "14:30", Bookable: true},
	{Number: 9, Label: "Period 7", Start: "14:30", End: "15:20", Bookable: true},
}

// Periods returns the full day's period table in order.
func Periods() []PeriodInfo {
	out := make([]PeriodInfo, len(periodTable))
	copy(out, periodTable)
	return out
}

// LookupPeriod returns the period description for a number.
func LookupPeriod(number int) (PeriodInfo, bool) {
	for _, p := range periodTable {
		if p.Number == number {
			return p, true
		}
	}
	return PeriodInfo{}, false
}

// IsBookablePeriod reports whether a period may carry a booking.
func IsBookablePeriod(number int) bool {
	p, ok := LookupPeriod(number)
	return ok && p.Bookable
}

// SlotKey addresses exactly one bookable unit.
type SlotKey struct {
	LabCode string    `json:"lab_code"`
	Date    time.Time `json:"date"`
	Period  int       `json:"period"`
}

// String renders the key as lab:date:period for logs, locks and cache keys.
func (k SlotKey) String() string {
	return fmt.Sprintf("%s:%s:%d", k.LabCode, FormatDate(k.Date), k.Period)
}

// NormalizeLabCode canonicalises lab codes for lookups.
func NormalizeLabCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ParseDate parses a YYYY-MM-DD calendar day into a UTC midnight value.
func ParseDate(raw string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, err
	}
	return d, nil
}

// DateOf returns the calendar day of t as observed in loc, as a UTC midnight value.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a calendar day.
func FormatDate(d time.Time) string {
	return d.Format(DateLayout)
}
