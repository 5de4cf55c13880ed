package edm

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// /Date(milliseconds[+-hhmm])/ as emitted by OData v2 and verbose JSON.
	legacyDateRegex = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

	durationRegex = regexp.MustCompile(`^(-)?P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)(?:\.(\d{1,9}))?S)?)?$`)

	errBadDuration = errors.New("not an ISO-8601 duration")
)

var dateTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
}

var dateTimeOffsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
}

// IsLegacyDate reports whether s uses the /Date(ms)/ wire form.
func IsLegacyDate(s string) bool {
	return legacyDateRegex.MatchString(s)
}

// parseLegacyDate returns the instant and its offset in minutes.
func parseLegacyDate(s string) (time.Time, int, bool) {
	m := legacyDateRegex.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, 0, false
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, 0, false
	}
	offset := 0
	if m[2] != "" {
		hh, _ := strconv.Atoi(m[2][1:3])
		mm, _ := strconv.Atoi(m[2][3:5])
		offset = hh*60 + mm
		if m[2][0] == '-' {
			offset = -offset
		}
	}
	return time.UnixMilli(ms).UTC(), offset, true
}

// FormatLegacyDate renders t as /Date(ms)/, adding the offset for
// DateTimeOffset values.
func FormatLegacyDate(p *Primitive) (string, error) {
	t, ok := p.v.(time.Time)
	if !ok {
		return "", &TypeMismatchError{Type: p.TypeName(), Value: p.CanonicalText()}
	}
	if p.typ == TypeDateTime {
		return fmt.Sprintf("/Date(%d)/", t.UnixMilli()), nil
	}
	_, offset := t.Zone()
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	return fmt.Sprintf("/Date(%d%c%02d%02d)/", t.UnixMilli(), sign, offset/3600, (offset%3600)/60), nil
}

func parseDateTime(text string) (*Primitive, error) {
	if t, _, ok := parseLegacyDate(text); ok {
		return NewDateTime(t), nil
	}
	s := strings.TrimSuffix(text, "Z")
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NewDateTime(t), nil
		}
	}
	// An explicit offset is folded into UTC wall time.
	for _, layout := range dateTimeOffsetLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return NewDateTime(t.UTC()), nil
		}
	}
	return nil, mismatch(TypeDateTime, text, nil)
}

func parseDateTimeOffset(text string) (*Primitive, error) {
	if t, offset, ok := parseLegacyDate(text); ok {
		if offset != 0 {
			t = t.In(time.FixedZone("", offset*60))
		}
		return NewDateTimeOffset(t), nil
	}
	for _, layout := range dateTimeOffsetLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return NewDateTimeOffset(t), nil
		}
	}
	return nil, mismatch(TypeDateTimeOffset, text, nil)
}

// formatDuration renders d as PT[nH][nM][n[.f]S]; zero is PT0S.
func formatDuration(d time.Duration) string {
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	b.WriteString("PT")
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	if h > 0 {
		b.WriteString(strconv.FormatInt(int64(h), 10))
		b.WriteByte('H')
	}
	if m > 0 {
		b.WriteString(strconv.FormatInt(int64(m), 10))
		b.WriteByte('M')
	}
	if d > 0 || (h == 0 && m == 0) {
		b.WriteString(strconv.FormatInt(int64(d/time.Second), 10))
		if frac := d % time.Second; frac > 0 {
			b.WriteByte('.')
			b.WriteString(strings.TrimRight(fmt.Sprintf("%09d", int64(frac)), "0"))
		}
		b.WriteByte('S')
	}
	return b.String()
}

func parseDuration(text string) (time.Duration, error) {
	m := durationRegex.FindStringSubmatch(text)
	if m == nil || text == "P" || text == "-P" || strings.HasSuffix(text, "T") {
		return 0, errBadDuration
	}
	var d time.Duration
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
	for i, unit := range units {
		if m[i+2] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+2], 10, 64)
		if err != nil {
			return 0, err
		}
		d += time.Duration(n) * unit
	}
	if frac := m[6]; frac != "" {
		ns, _ := strconv.ParseInt(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
		d += time.Duration(ns)
	}
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}
