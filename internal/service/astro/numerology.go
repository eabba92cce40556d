package astro

import "time"

// LifePath reduces the digits of a birth date to a single digit, keeping
// the master numbers 11, 22 and 33.
func LifePath(birth time.Time) int {
	sum := reduce(birth.Year()) + reduce(int(birth.Month())) + reduce(birth.Day())
	return reduce(sum)
}

func reduce(n int) int {
	for n > 9 && n != 11 && n != 22 && n != 33 {
		n = digitSum(n)
	}
	return n
}

func digitSum(n int) int {
	s := 0
	for n > 0 {
		s += n % 10
		n /= 10
	}
	return s
}

var lifePathTraits = map[int]string{
	1:  "independent leader",
	2:  "patient mediator",
	3:  "creative communicator",
	4:  "steady builder",
	5:  "restless explorer",
	6:  "caring protector",
	7:  "quiet seeker",
	8:  "ambitious achiever",
	9:  "generous idealist",
	11: "intuitive visionary",
	22: "master builder",
	33: "master healer",
}
