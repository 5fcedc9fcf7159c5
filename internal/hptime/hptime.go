// Package hptime implements the fixed-point epoch time representation used
// for record ordering, state files and coverage manifests. A Time is a count
// of microsecond ticks since the Unix epoch stored in a signed 64-bit
// integer, giving a usable range far beyond the 1900-2100 calendar window
// the conversion helpers enforce.
package hptime

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Modulus is the number of ticks per second.
const Modulus = 1_000_000

// Time is a fixed-point epoch time: seconds since 1970-01-01 times Modulus
// plus sub-second ticks. Values before the epoch are negative.
type Time int64

// Error is the sentinel returned by conversions that fail.
const Error Time = math.MinInt64

var (
	ErrYear     = errors.New("year out of range")
	ErrMonth    = errors.New("month out of range")
	ErrMonthDay = errors.New("day-of-month out of range")
	ErrYearDay  = errors.New("day-of-year out of range")
	ErrHour     = errors.New("hour out of range")
	ErrMinute   = errors.New("minute out of range")
	ErrSecond   = errors.New("second out of range")
	ErrTick     = errors.New("sub-second value out of range")
	ErrFormat   = errors.New("unparsable time string")
)

// IsLeap reports whether year is a leap year under the Gregorian rule.
func IsLeap(year int) bool {
	return (year%4 == 0 && year%100 != 0) || year%400 == 0
}

var monthDays = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// MonthDay converts a day-of-year to month and day-of-month. Year must be
// within 1900-2100 and yday within 1 to 365 (366 in leap years).
func MonthDay(year, yday int) (month, mday int, err error) {
	if year < 1900 || year > 2100 {
		return 0, 0, fmt.Errorf("%w: %d", ErrYear, year)
	}
	leap := 0
	if IsLeap(year) {
		leap = 1
	}
	if yday <= 0 || yday > 365+leap {
		return 0, 0, fmt.Errorf("%w: %d", ErrYearDay, yday)
	}
	for idx := 0; idx < 12; idx++ {
		days := monthDays[idx]
		if idx == 1 {
			days += leap
		}
		if yday <= days {
			return idx + 1, yday, nil
		}
		yday -= days
	}
	return 0, 0, fmt.Errorf("%w: %d", ErrYearDay, yday)
}

// DayOfYear converts a month and day-of-month to a day-of-year. Year must be
// within 1900-2100 and mday must exist in the resolved month.
func DayOfYear(year, month, mday int) (int, error) {
	if year < 1900 || year > 2100 {
		return 0, fmt.Errorf("%w: %d", ErrYear, year)
	}
	if month < 1 || month > 12 {
		return 0, fmt.Errorf("%w: %d", ErrMonth, month)
	}
	days := monthDays[month-1]
	if month == 2 && IsLeap(year) {
		days++
	}
	if mday < 1 || mday > days {
		return 0, fmt.Errorf("%w: %d for month %d", ErrMonthDay, mday, month)
	}
	yday := mday
	for idx := 0; idx < month-1; idx++ {
		yday += monthDays[idx]
		if idx == 1 && IsLeap(year) {
			yday++
		}
	}
	return yday, nil
}

// fromYearDay converts validated values without further range checks. The
// day-count arithmetic is the specialized glibc formula: leap days between
// 1900 and the target year are counted with integer divisions so no loop or
// table walk is needed.
func fromYearDay(year, yday, hour, min, sec, usec int) Time {
	shortyear := int32(year - 1900)

	a4 := (shortyear >> 2) + 474
	if shortyear&3 != 0 {
		a4++
	}
	a100 := a4 / 25
	if a4%25 < 0 {
		a100--
	}
	a400 := a100 >> 2
	leapdays := (a4 - 492) - (a100 - 19) + (a400 - 4)

	days := 365*(shortyear-70) + leapdays + int32(yday-1)

	return Time(60*(60*(24*int64(days)+int64(hour))+int64(min))+int64(sec))*Modulus +
		Time(usec)
}

// FromYearDay converts a year, day-of-year and time-of-day to a Time. All
// values are range checked; second 60 is accepted for leap-second tolerance.
// On failure the returned error names the offending field and the Time is
// the Error sentinel. The conversion itself performs no allocation.
func FromYearDay(year, yday, hour, min, sec, usec int) (Time, error) {
	switch {
	case year < 1900 || year > 3000:
		return Error, fmt.Errorf("%w: %d", ErrYear, year)
	case yday < 1 || yday > 366:
		return Error, fmt.Errorf("%w: %d", ErrYearDay, yday)
	case hour < 0 || hour > 23:
		return Error, fmt.Errorf("%w: %d", ErrHour, hour)
	case min < 0 || min > 59:
		return Error, fmt.Errorf("%w: %d", ErrMinute, min)
	case sec < 0 || sec > 60:
		return Error, fmt.Errorf("%w: %d", ErrSecond, sec)
	case usec < 0 || usec > Modulus-1:
		return Error, fmt.Errorf("%w: %d", ErrTick, usec)
	}
	return fromYearDay(year, yday, hour, min, sec, usec), nil
}

// FromCalendar converts a year, month, day-of-month and time-of-day to a
// Time. The day-of-month is validated against the leap-resolved month table.
func FromCalendar(year, month, mday, hour, min, sec, usec int) (Time, error) {
	if year < 1900 || year > 3000 {
		return Error, fmt.Errorf("%w: %d", ErrYear, year)
	}
	if month < 1 || month > 12 {
		return Error, fmt.Errorf("%w: %d", ErrMonth, month)
	}
	if mday < 1 || mday > 31 {
		return Error, fmt.Errorf("%w: %d", ErrMonthDay, mday)
	}
	yday, err := DayOfYear(year, month, mday)
	if err != nil {
		return Error, err
	}
	switch {
	case hour < 0 || hour > 23:
		return Error, fmt.Errorf("%w: %d", ErrHour, hour)
	case min < 0 || min > 59:
		return Error, fmt.Errorf("%w: %d", ErrMinute, min)
	case sec < 0 || sec > 60:
		return Error, fmt.Errorf("%w: %d", ErrSecond, sec)
	case usec < 0 || usec > Modulus-1:
		return Error, fmt.Errorf("%w: %d", ErrTick, usec)
	}
	return fromYearDay(year, yday, hour, min, sec, usec), nil
}

// Now returns the current wall-clock instant as a Time.
func Now() Time {
	return FromStd(time.Now())
}

// FromStd converts a time.Time, truncating to tick resolution.
func FromStd(t time.Time) Time {
	return Time(t.Unix())*Modulus + Time(t.Nanosecond()/(1_000_000_000/Modulus))
}

// split reduces a Time to whole epoch seconds and a non-negative tick
// remainder. For pre-epoch instants with a nonzero sub-second part the
// seconds are decremented so the remainder stays in [0, Modulus).
func (t Time) split() (sec int64, frac int64) {
	sec = int64(t) / Modulus
	frac = int64(t) - sec*Modulus
	if t < 0 && frac != 0 {
		sec--
		frac = Modulus + frac
	}
	return sec, frac
}

// ISO formats t as "YYYY-MM-DDTHH:MM:SS" with an optional ".ffffff" suffix.
func (t Time) ISO(subseconds bool) string {
	return t.format("%04d-%02d-%02dT%02d:%02d:%02d", subseconds)
}

// MonthDayString formats t as "YYYY-MM-DD HH:MM:SS" with an optional
// ".ffffff" suffix.
func (t Time) MonthDayString(subseconds bool) string {
	return t.format("%04d-%02d-%02d %02d:%02d:%02d", subseconds)
}

// DayOfYearString formats t in the compact day-of-year form
// "YYYY,DDD,HH:MM:SS" with an optional ".ffffff" suffix.
func (t Time) DayOfYearString(subseconds bool) string {
	sec, frac := t.split()
	tm := time.Unix(sec, 0).UTC()
	s := fmt.Sprintf("%04d,%03d,%02d:%02d:%02d",
		tm.Year(), tm.YearDay(), tm.Hour(), tm.Minute(), tm.Second())
	if subseconds {
		s += fmt.Sprintf(".%06d", frac)
	}
	return s
}

func (t Time) format(layout string, subseconds bool) string {
	sec, frac := t.split()
	tm := time.Unix(sec, 0).UTC()
	s := fmt.Sprintf(layout,
		tm.Year(), int(tm.Month()), tm.Day(), tm.Hour(), tm.Minute(), tm.Second())
	if subseconds {
		s += fmt.Sprintf(".%06d", frac)
	}
	return s
}

// String implements fmt.Stringer using the ISO form with sub-seconds.
func (t Time) String() string { return t.ISO(true) }

// delimiter sets for each gap of the calendar form; the third gap also
// accepts 'T' and the fifth a space, mirroring the accepted input grammar.
var calendarDelims = [5]string{"-/:.", "-/:.", "-/:.T ", "-/:.", "-/:. "}
var yearDayDelims = [4]string{",:.", ",:.", ",:.", ",:."}

// Parse converts a calendar time string "YYYY[-MM-DD HH:MM:SS.ffffff]" to a
// Time. Input may be left-truncated: only the year is required, omitted
// month and day default to 1 and time-of-day fields to 0. The fraction must
// begin with a period and is rounded to the nearest tick.
func Parse(s string) (Time, error) {
	fields, usec, err := scanFields(s, 6, calendarDelims[:])
	if err != nil {
		return Error, err
	}
	year, mon, mday := fields[0], 1, 1
	if len(fields) > 1 {
		mon = fields[1]
	}
	if len(fields) > 2 {
		mday = fields[2]
	}
	hour, min, sec := timeOfDay(fields, 3)
	return FromCalendar(year, mon, mday, hour, min, sec, usec)
}

// ParseDayOfYear converts a compact day-of-year time string
// "YYYY[,DDD,HH:MM:SS.ffffff]" to a Time. Omitted day-of-year defaults to 1.
func ParseDayOfYear(s string) (Time, error) {
	fields, usec, err := scanFields(s, 5, yearDayDelims[:])
	if err != nil {
		return Error, err
	}
	year, yday := fields[0], 1
	if len(fields) > 1 {
		yday = fields[1]
	}
	hour, min, sec := timeOfDay(fields, 2)
	return FromYearDay(year, yday, hour, min, sec, usec)
}

func timeOfDay(fields []int, at int) (hour, min, sec int) {
	if len(fields) > at {
		hour = fields[at]
	}
	if len(fields) > at+1 {
		min = fields[at+1]
	}
	if len(fields) > at+2 {
		sec = fields[at+2]
	}
	return hour, min, sec
}

// scanFields reads up to max integer fields separated by single delimiter
// characters from the per-gap sets. A period is a delimiter while integer
// fields remain and starts the fractional seconds once all are consumed.
func scanFields(s string, max int, delims []string) ([]int, int, error) {
	fields := make([]int, 0, max)
	i := 0
	for i < len(s) && len(fields) < max {
		j := i
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		if j == i {
			break
		}
		v, err := strconv.Atoi(s[i:j])
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %q", ErrFormat, s)
		}
		fields = append(fields, v)
		i = j
		if i >= len(s) || len(fields) == max {
			break
		}
		gap := delims[len(fields)-1]
		if !containsByte(gap, s[i]) {
			break
		}
		i++
	}
	if len(fields) == 0 {
		return nil, 0, fmt.Errorf("%w: %q", ErrFormat, s)
	}
	usec := 0
	if i < len(s) && s[i] == '.' {
		f, err := strconv.ParseFloat(s[i:], 64)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: bad fraction in %q", ErrFormat, s)
		}
		usec = int(f*Modulus + 0.5)
	}
	return fields, usec, nil
}

func containsByte(set string, c byte) bool {
	for k := 0; k < len(set); k++ {
		if set[k] == c {
			return true
		}
	}
	return false
}
