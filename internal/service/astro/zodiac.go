package astro

import "time"

type Sign struct {
	Name    string
	Element string
	Ruler   string
	// first day of the sign, month and day
	fromMonth time.Month
	fromDay   int
}

// signs is ordered by start date within the calendar year, Capricorn last
// because it wraps over New Year.
var signs = []Sign{
	{"Aquarius", "Air", "Saturn", time.January, 20},
	{"Pisces", "Water", "Jupiter", time.February, 19},
	{"Aries", "Fire", "Mars", time.March, 21},
	{"Taurus", "Earth", "Venus", time.April, 20},
	{"Gemini", "Air", "Mercury", time.May, 21},
	{"Cancer", "Water", "Moon", time.June, 21},
	{"Leo", "Fire", "Sun", time.July, 23},
	{"Virgo", "Earth", "Mercury", time.August, 23},
	{"Libra", "Air", "Venus", time.September, 23},
	{"Scorpio", "Water", "Mars", time.October, 23},
	{"Sagittarius", "Fire", "Jupiter", time.November, 22},
	{"Capricorn", "Earth", "Saturn", time.December, 22},
}

// SunSign returns the tropical sun sign for a birth date.
func SunSign(birth time.Time) Sign {
	m, d := birth.Month(), birth.Day()
	current := signs[len(signs)-1]
	for _, s := range signs {
		if m > s.fromMonth || (m == s.fromMonth && d >= s.fromDay) {
			current = s
		}
	}
	return current
}

func signIndex(name string) int {
	for i, s := range signs {
		if s.Name == name {
			return i
		}
	}
	return 0
}

var predictions = []string{
	"A conversation you have been postponing goes better than expected.",
	"Money matters ask for patience; avoid large purchases today.",
	"An old friend brings news that changes your plans for the week.",
	"Your energy is high. Start the task you keep putting off.",
	"Rest is productive today. Protect your evening.",
	"A small risk at work pays off if you speak up early.",
	"Family needs your attention more than your inbox does.",
}

// DailyPrediction picks the prediction for a sign on a given day. The same
// sign gets the same text for the whole day.
func DailyPrediction(sign Sign, day time.Time) string {
	i := (day.YearDay() + signIndex(sign.Name)*3) % len(predictions)
	return predictions[i]
}
