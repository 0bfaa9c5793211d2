package listener

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// millis renders d as whole milliseconds.
func millis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}

// epochMillis renders t as Unix milliseconds; the zero time renders as 0.
func epochMillis(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// floatMillis renders d in milliseconds the way the load engine prints a
// double: "12.0", "0.5", and "1.0E7" from ten million up.
func floatMillis(d time.Duration) string {
	return javaDouble(float64(d.Milliseconds()))
}

func javaDouble(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}

	abs := math.Abs(v)
	if v == 0 || (abs >= 1e-3 && abs < 1e7) {
		s := strconv.FormatFloat(v, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}

	// 1.5E+07 -> 1.5E7, 1E-04 -> 1.0E-4
	s := strconv.FormatFloat(v, 'E', -1, 64)
	mantissa, exp, _ := strings.Cut(s, "E")
	if !strings.Contains(mantissa, ".") {
		mantissa += ".0"
	}
	exp = strings.TrimPrefix(exp, "+")
	neg := strings.HasPrefix(exp, "-")
	exp = strings.TrimLeft(strings.TrimPrefix(exp, "-"), "0")
	if neg {
		exp = "-" + exp
	}
	return mantissa + "E" + exp
}

// boundText cuts s to at most limit characters and appends marker when it
// had to cut.
func boundText(s string, limit int, marker string) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + marker, true
		}
		n++
	}
	return s, false
}
