package xsd

import (
	"fmt"
	"strconv"
	"strings"
)

// Duration models xsd:duration as the two independent components the XSD
// spec actually defines: a signed month count and a signed nanosecond
// count. The two are not commensurable (a month has no fixed length), so
// Cmp only orders durations whose month and second components agree in
// sign and compares lexicographically by (months, nanos) otherwise —
// a documented simplification of XSD's partial order, sufficient for the
// ORDER BY total order spec.md §4.7 requires.
type Duration struct {
	Months int64
	Nanos  int64
}

func ParseDuration(s string) (Duration, error) {
	orig := s
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") {
		return Duration{}, fmt.Errorf("xsd:duration: %q must start with P", orig)
	}
	s = s[1:]
	datePart, timePart := s, ""
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		datePart, timePart = s[:i], s[i+1:]
	}

	var months, nanos int64
	readNum := func(buf string, upTo byte) (int64, string, bool) {
		i := strings.IndexByte(buf, upTo)
		if i < 0 {
			return 0, buf, false
		}
		n, err := strconv.ParseFloat(buf[:i], 64)
		if err != nil {
			return 0, buf, false
		}
		return int64(n), buf[i+1:], true
	}

	rest := datePart
	if y, r, ok := readNum(rest, 'Y'); ok {
		months += y * 12
		rest = r
	}
	if m, r, ok := readNum(rest, 'M'); ok {
		months += m
		rest = r
	}
	if d, r, ok := readNum(rest, 'D'); ok {
		nanos += d * 86400e9
		rest = r
	}
	if rest != "" {
		return Duration{}, fmt.Errorf("xsd:duration: malformed date part in %q", orig)
	}

	rest = timePart
	if h, r, ok := readNum(rest, 'H'); ok {
		nanos += h * 3600e9
		rest = r
	}
	if mi, r, ok := readNum(rest, 'M'); ok {
		nanos += mi * 60e9
		rest = r
	}
	if sIdx := strings.IndexByte(rest, 'S'); sIdx >= 0 {
		secs, err := strconv.ParseFloat(rest[:sIdx], 64)
		if err != nil {
			return Duration{}, fmt.Errorf("xsd:duration: malformed seconds in %q", orig)
		}
		nanos += int64(secs * 1e9)
		rest = rest[sIdx+1:]
	}
	if rest != "" {
		return Duration{}, fmt.Errorf("xsd:duration: malformed time part in %q", orig)
	}

	if neg {
		months, nanos = -months, -nanos
	}
	return Duration{Months: months, Nanos: nanos}, nil
}

func (d Duration) String() string {
	if d.Months == 0 && d.Nanos == 0 {
		return "PT0S"
	}
	neg := d.Months < 0 || d.Nanos < 0
	months, nanos := d.Months, d.Nanos
	if neg {
		months, nanos = -months, -nanos
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteByte('P')
	years, months := months/12, months%12
	if years != 0 {
		fmt.Fprintf(&b, "%dY", years)
	}
	if months != 0 {
		fmt.Fprintf(&b, "%dM", months)
	}
	days := nanos / 86400e9
	nanos -= days * 86400e9
	if days != 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	hours := nanos / 3600e9
	nanos -= hours * 3600e9
	mins := nanos / 60e9
	nanos -= mins * 60e9
	secs := float64(nanos) / 1e9
	if hours != 0 || mins != 0 || secs != 0 {
		b.WriteByte('T')
		if hours != 0 {
			fmt.Fprintf(&b, "%dH", hours)
		}
		if mins != 0 {
			fmt.Fprintf(&b, "%dM", mins)
		}
		if secs != 0 {
			fmt.Fprintf(&b, "%gS", secs)
		}
	}
	return b.String()
}

// Cmp compares two durations using total nanoseconds with a month
// approximated as 30 days — see the type doc for the caveat this
// introduces versus XSD's exact partial order.
func (d Duration) Cmp(o Duration) int {
	const monthNanos = 30 * 86400e9
	a := d.Months*monthNanos + d.Nanos
	b := o.Months*monthNanos + o.Nanos
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
