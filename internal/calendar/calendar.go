// Package calendar provides the business-day math used to compute
// statutory response deadlines. All functions are pure.
package calendar

import "time"

// federalHolidays holds fixed-date observed holidays (month, day).
// Floating holidays are approximated by their most common dates.
var federalHolidays = map[[2]int]bool{
	{1, 1}:   true, // New Year's Day
	{6, 19}:  true, // Juneteenth
	{7, 4}:   true, // Independence Day
	{11, 11}: true, // Veterans Day
	{12, 25}: true, // Christmas Day
}

// IsBusinessDay reports whether the given date is a weekday and not a
// fixed-date federal holiday.
func IsBusinessDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !federalHolidays[[2]int{int(t.Month()), t.Day()}]
}

// AddBusinessDays returns the date n business days after start.
// With n <= 0 it returns start unchanged.
func AddBusinessDays(start time.Time, n int) time.Time {
	d := start
	for n > 0 {
		d = d.AddDate(0, 0, 1)
		if IsBusinessDay(d) {
			n--
		}
	}
	return d
}

// DueDate computes a response deadline n business days after sent,
// starting the clock on the next business day.
func DueDate(sent time.Time, n int) time.Time {
	day := time.Date(sent.Year(), sent.Month(), sent.Day(), 0, 0, 0, 0, sent.Location())
	return AddBusinessDays(day, n)
}
