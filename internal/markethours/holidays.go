package markethours

import "time"

type holiday struct {
	year  int
	month time.Month
	day   int
}

// NYSE full-day closures for 2026.
var nyseHolidays = []holiday{
	{2026, time.January, 1},   // New Year's Day
	{2026, time.January, 19},  // Martin Luther King Jr. Day
	{2026, time.February, 16}, // Washington's Birthday
	{2026, time.April, 3},     // Good Friday
	{2026, time.May, 25},      // Memorial Day
	{2026, time.June, 19},     // Juneteenth
	{2026, time.July, 3},      // Independence Day (observed)
	{2026, time.September, 7}, // Labor Day
	{2026, time.November, 26}, // Thanksgiving Day
	{2026, time.December, 25}, // Christmas Day
}

// NSE holidays for 2026. Some dates are tentative.
var nseHolidays = []holiday{
	{2026, time.January, 26},  // Republic Day
	{2026, time.February, 17}, // Mahashivratri
	{2026, time.March, 14},    // Holi
	{2026, time.March, 31},    // Id-ul-Fitr
	{2026, time.April, 2},     // Ram Navami
	{2026, time.April, 6},     // Mahavir Jayanti
	{2026, time.April, 10},    // Good Friday
	{2026, time.April, 14},    // Dr. Ambedkar Jayanti
	{2026, time.May, 1},       // Maharashtra Day
	{2026, time.June, 7},      // Bakrid
	{2026, time.July, 6},      // Muharram
	{2026, time.August, 15},   // Independence Day
	{2026, time.August, 16},   // Janmashtami
	{2026, time.September, 5}, // Milad-un-Nabi
	{2026, time.October, 2},   // Mahatma Gandhi Jayanti
	{2026, time.October, 20},  // Dussehra
	{2026, time.October, 21},  // Dussehra
	{2026, time.November, 5},  // Diwali
	{2026, time.November, 6},  // Diwali Balipratipada
	{2026, time.November, 7},  // Bhai Dooj
	{2026, time.November, 19}, // Guru Nanak Jayanti
	{2026, time.December, 25}, // Christmas
}

func holidaySet(days []holiday) map[string]bool {
	set := make(map[string]bool, len(days))
	for _, h := range days {
		set[time.Date(h.year, h.month, h.day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")] = true
	}
	return set
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
