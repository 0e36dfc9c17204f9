package cronexpr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrSyntax     = errors.New("syntax error")
	ErrOutOfRange = errors.New("value out of range")
)

// ParseError describes why an expression was rejected.
// Field is 1-based; 0 means the expression as a whole (wrong field count).
type ParseError struct {
	Expr  string
	Field int
	Name  string
	Value string
	Kind  error
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Field == 0 {
		return fmt.Sprintf("invalid cron expression %q: %s", e.Expr, e.Msg)
	}
	return fmt.Sprintf("invalid cron expression at field %d (%s): %s", e.Field, e.Name, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Kind }

// bounds is the accepted range of one field plus optional names.
type bounds struct {
	name     string
	min, max uint
	names    map[string]uint
}

var fields = [6]bounds{
	{name: "second", min: 0, max: 59},
	{name: "minute", min: 0, max: 59},
	{name: "hour", min: 0, max: 23},
	{name: "day-of-month", min: 1, max: 31},
	{name: "month", min: 1, max: 12},
	{name: "day-of-week", min: 0, max: 6, names: map[string]uint{
		"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
	}},
}

const (
	fieldSecond = iota
	fieldMinute
	fieldHour
	fieldDom
	fieldMonth
	fieldDow
)

// Expr is a compiled expression.
type Expr struct {
	src  string
	bits [6]uint64
}

// Parse compiles expr. Errors are *ParseError.
func Parse(expr string) (*Expr, error) {
	parts := strings.Fields(expr)
	if len(parts) != len(fields) {
		return nil, &ParseError{
			Expr: expr,
			Kind: ErrSyntax,
			Msg:  fmt.Sprintf("expected %d fields (second minute hour day-of-month month day-of-week), got %d", len(fields), len(parts)),
		}
	}
	e := &Expr{src: strings.Join(parts, " ")}
	for i, p := range parts {
		bits, err := parseField(p, fields[i])
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.Expr = expr
				pe.Field = i + 1
				pe.Name = fields[i].name
			}
			return nil, err
		}
		e.bits[i] = bits
	}
	return e, nil
}

// MustParse is like Parse but panics on error. Intended for constants.
func MustParse(expr string) *Expr {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

// Validate reports whether expr parses.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

func (e *Expr) String() string { return e.src }

// parseField parses a comma-separated list of ranges.
func parseField(field string, b bounds) (uint64, error) {
	if field == "" {
		return 0, syntaxErr(field, "empty field")
	}
	var bits uint64
	for _, item := range strings.Split(field, ",") {
		v, err := parseRange(item, b)
		if err != nil {
			return 0, err
		}
		bits |= v
	}
	return bits, nil
}

// parseRange parses one of: *, */n, a, a-b, a-b/n, a/n.
func parseRange(expr string, b bounds) (uint64, error) {
	if expr == "" {
		return 0, syntaxErr(expr, "empty list item")
	}
	rangeAndStep := strings.Split(expr, "/")
	if len(rangeAndStep) > 2 {
		return 0, syntaxErr(expr, fmt.Sprintf("too many slashes in %q", expr))
	}
	lowAndHigh := strings.Split(rangeAndStep[0], "-")
	if len(lowAndHigh) > 2 {
		return 0, syntaxErr(expr, fmt.Sprintf("too many hyphens in %q", expr))
	}
	single := len(lowAndHigh) == 1

	var start, end uint
	star := lowAndHigh[0] == "*"
	if star {
		if !single {
			return 0, syntaxErr(expr, fmt.Sprintf("'*' cannot start a range in %q", expr))
		}
		start, end = b.min, b.max
	} else {
		var err error
		if start, err = parseValue(lowAndHigh[0], b); err != nil {
			return 0, err
		}
		end = start
		if !single {
			if end, err = parseValue(lowAndHigh[1], b); err != nil {
				return 0, err
			}
		}
	}

	step := uint(1)
	if len(rangeAndStep) == 2 {
		n, err := strconv.ParseUint(rangeAndStep[1], 10, 32)
		if err != nil {
			return 0, syntaxErr(expr, fmt.Sprintf("invalid step %q", rangeAndStep[1]))
		}
		if n == 0 {
			return 0, rangeErr(rangeAndStep[1], "step must be at least 1")
		}
		step = uint(n)
		// "a/n" runs from a to the field maximum.
		if single && !star {
			end = b.max
		}
	}

	if start > end {
		return 0, rangeErr(expr, fmt.Sprintf("range start %d is after end %d", start, end))
	}
	var bits uint64
	for v := start; v <= end; v += step {
		bits |= 1 << v
	}
	return bits, nil
}

// parseValue parses an integer (or a name, when the field has names) and
// checks it against the field bounds.
func parseValue(s string, b bounds) (uint, error) {
	if b.names != nil {
		if v, ok := b.names[strings.ToLower(s)]; ok {
			return v, nil
		}
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		if s != "" && isDigits(s) {
			return 0, rangeErr(s, fmt.Sprintf("value %s out of range [%d,%d]", s, b.min, b.max))
		}
		return 0, syntaxErr(s, fmt.Sprintf("invalid value %q", s))
	}
	v := uint(n)
	if v < b.min || v > b.max {
		return 0, rangeErr(s, fmt.Sprintf("value %d out of range [%d,%d]", v, b.min, b.max))
	}
	return v, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func syntaxErr(value, msg string) error {
	return &ParseError{Value: value, Kind: ErrSyntax, Msg: msg}
}

func rangeErr(value, msg string) error {
	return &ParseError{Value: value, Kind: ErrOutOfRange, Msg: msg}
}
