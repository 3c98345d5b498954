// Package cron implements the 5-field schedule expression engine used by the
// agent scheduler. Expressions are matched field-by-field against an instant;
// all five fields must match simultaneously, including day-of-month and
// day-of-week (AND, not the traditional cron OR between the two day fields).
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field order within an expression.
const (
	fieldMinute = iota
	fieldHour
	fieldDay
	fieldMonth
	fieldWeekday
)

type fieldSpec struct {
	name string
	min  int
	max  int
}

var fieldSpecs = [5]fieldSpec{
	{name: "minute", min: 0, max: 59},
	{name: "hour", min: 0, max: 23},
	{name: "day", min: 1, max: 31},
	{name: "month", min: 1, max: 12},
	{name: "weekday", min: 0, max: 6},
}

// Validation holds the result of validating an expression.
type Validation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Parse splits an expression into its five fields. Any other field count
// yields nil; Parse never returns an error.
func Parse(expr string) []string {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil
	}
	return fields
}

// Validate checks that every field is "*", "*/N" with N > 0, or an in-range
// integer. Violations are reported per field; malformed input never panics.
func Validate(expr string) Validation {
	fields := Parse(expr)
	if fields == nil {
		return Validation{
			Valid:  false,
			Errors: []string{fmt.Sprintf("expression must have exactly 5 fields, got %d", len(strings.Fields(expr)))},
		}
	}

	result := Validation{Valid: true}
	for i, field := range fields {
		if err := validateField(field, fieldSpecs[i]); err != "" {
			result.Valid = false
			result.Errors = append(result.Errors, err)
		}
	}

	return result
}

func validateField(field string, spec fieldSpec) string {
	if field == "*" {
		return ""
	}

	if strings.HasPrefix(field, "*/") {
		n, err := strconv.Atoi(field[2:])
		if err != nil || n <= 0 {
			return fmt.Sprintf("%s: step must be a positive integer, got %q", spec.name, field)
		}
		return ""
	}

	value, err := strconv.Atoi(field)
	if err != nil {
		return fmt.Sprintf("%s: invalid value %q", spec.name, field)
	}
	if value < spec.min || value > spec.max {
		return fmt.Sprintf("%s: value %d out of range %d-%d", spec.name, value, spec.min, spec.max)
	}

	return ""
}

// Matches reports whether the expression fires at the given instant. Matching
// is a pure function of (expression, instant): "*" always matches, "*/N"
// matches when value % N == 0, and a literal matches on equality. Malformed
// expressions never match.
func Matches(expr string, at time.Time) bool {
	fields := Parse(expr)
	if fields == nil {
		return false
	}

	values := [5]int{
		at.Minute(),
		at.Hour(),
		at.Day(),
		int(at.Month()),
		int(at.Weekday()),
	}

	for i, field := range fields {
		if !matchField(field, values[i]) {
			return false
		}
	}

	return true
}

func matchField(field string, value int) bool {
	if field == "*" {
		return true
	}

	if strings.HasPrefix(field, "*/") {
		n, err := strconv.Atoi(field[2:])
		if err != nil || n <= 0 {
			return false
		}
		return value%n == 0
	}

	literal, err := strconv.Atoi(field)
	if err != nil {
		return false
	}

	return value == literal
}

// NextRuns returns up to count upcoming fire times, probing forward
// minute-by-minute from the minute after now. The probe horizon is bounded at
// count days so expressions that can never match (day 30 in February only)
// terminate with fewer results instead of looping forever.
func NextRuns(expr string, count int) []time.Time {
	return nextRunsFrom(expr, count, time.Now())
}

func nextRunsFrom(expr string, count int, from time.Time) []time.Time {
	if Parse(expr) == nil || count <= 0 {
		return nil
	}

	runs := make([]time.Time, 0, count)
	probe := from.Truncate(time.Minute)
	horizon := count * 24 * 60

	for i := 1; i <= horizon && len(runs) < count; i++ {
		at := probe.Add(time.Duration(i) * time.Minute)
		if Matches(expr, at) {
			runs = append(runs, at)
		}
	}

	return runs
}
