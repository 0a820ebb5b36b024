// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scheduler ticks persisted cron schedules and runs them
// through the workflow runner.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Expr is a parsed cron expression, accepting both the standard 5-field
// "m h dom mon dow" format and a 6-field "s m h dom mon dow" format
// with a leading seconds column.
type Expr struct {
	hasSeconds bool
	second     []int // 0-59
	minute     []int // 0-59
	hour       []int // 0-23
	dayOfMonth []int // 1-31
	month      []int // 1-12
	dayOfWeek  []int // 0-6 (0 = Sunday)
}

// Parse parses a cron expression: @hourly-style aliases,
// comma/range/step field syntax, and an optional 6-field
// seconds-first format.
func Parse(expr string) (*Expr, error) {
	switch strings.ToLower(strings.TrimSpace(expr)) {
	case "@hourly":
		expr = "0 * * * *"
	case "@daily", "@midnight":
		expr = "0 0 * * *"
	case "@weekly":
		expr = "0 0 * * 0"
	case "@monthly":
		expr = "0 0 1 * *"
	case "@yearly", "@annually":
		expr = "0 0 1 1 *"
	}

	fields := strings.Fields(expr)
	e := &Expr{}
	var minuteField, hourField, domField, monthField, dowField string

	switch len(fields) {
	case 5:
		minuteField, hourField, domField, monthField, dowField = fields[0], fields[1], fields[2], fields[3], fields[4]
		e.second = []int{0}
	case 6:
		e.hasSeconds = true
		secondField := fields[0]
		minuteField, hourField, domField, monthField, dowField = fields[1], fields[2], fields[3], fields[4], fields[5]
		sec, err := parseField(secondField, 0, 59)
		if err != nil {
			return nil, fmt.Errorf("invalid second field: %w", err)
		}
		e.second = sec
	default:
		return nil, fmt.Errorf("expected 5 or 6 fields, got %d", len(fields))
	}

	var err error
	if e.minute, err = parseField(minuteField, 0, 59); err != nil {
		return nil, fmt.Errorf("invalid minute field: %w", err)
	}
	if e.hour, err = parseField(hourField, 0, 23); err != nil {
		return nil, fmt.Errorf("invalid hour field: %w", err)
	}
	if e.dayOfMonth, err = parseField(domField, 1, 31); err != nil {
		return nil, fmt.Errorf("invalid day-of-month field: %w", err)
	}
	if e.month, err = parseField(monthField, 1, 12); err != nil {
		return nil, fmt.Errorf("invalid month field: %w", err)
	}
	if e.dayOfWeek, err = parseField(dowField, 0, 6); err != nil {
		return nil, fmt.Errorf("invalid day-of-week field: %w", err)
	}
	return e, nil
}

// IsValid reports whether expr parses successfully; it never raises.
func IsValid(expr string) bool {
	_, err := Parse(expr)
	return err == nil
}

// GetNextOccurrence returns the next time expr fires strictly after
// from, evaluated in UTC. An invalid expression is an error.
func GetNextOccurrence(expr string, from time.Time) (time.Time, error) {
	e, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return e.Next(from.UTC()), nil
}

// Next returns the next matching instant strictly after from.
func (e *Expr) Next(from time.Time) time.Time {
	loc := from.Location()
	var t time.Time
	if e.hasSeconds {
		t = from.Truncate(time.Second).Add(time.Second)
	} else {
		t = from.Truncate(time.Minute).Add(time.Minute)
	}
	maxTime := from.Add(4 * 365 * 24 * time.Hour)

	for t.Before(maxTime) {
		if !containsInt(e.month, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
			continue
		}
		dayOfMonthMatch := containsInt(e.dayOfMonth, t.Day())
		dayOfWeekMatch := containsInt(e.dayOfWeek, int(t.Weekday()))
		if !(dayOfMonthMatch && dayOfWeekMatch) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if !containsInt(e.hour, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
			continue
		}
		if !containsInt(e.minute, t.Minute()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()+1, 0, 0, loc)
			continue
		}
		if e.hasSeconds && !containsInt(e.second, t.Second()) {
			t = t.Add(time.Second)
			continue
		}
		return t
	}
	return time.Time{}
}

// GetDescription returns a short humanization for common patterns;
// anything else renders as "Cron: <expr>".
func GetDescription(expr string) string {
	e, err := Parse(expr)
	if err != nil {
		return "Cron: " + expr
	}

	allSecond := isFull(e.second, 0, 59)
	allMinute := isFull(e.minute, 0, 59)
	allHour := isFull(e.hour, 0, 23)
	allDOM := isFull(e.dayOfMonth, 1, 31)
	allMonth := isFull(e.month, 1, 12)
	allDOW := isFull(e.dayOfWeek, 0, 6)

	switch {
	case e.hasSeconds && allSecond && allMinute && allHour && allDOM && allMonth && allDOW:
		return "every second"
	case allMinute && allHour && allDOM && allMonth && allDOW:
		return "every minute"
	case len(e.minute) == 1 && allHour && allDOM && allMonth && allDOW:
		return "every hour"
	case len(e.minute) == 1 && len(e.hour) == 1 && allDOM && allMonth && allDOW:
		return "every day at " + clockString(e.hour[0], e.minute[0])
	case len(e.minute) == 1 && len(e.hour) == 1 && allDOM && allMonth && len(e.dayOfWeek) == 1:
		return fmt.Sprintf("every %s at %s", time.Weekday(e.dayOfWeek[0]), clockString(e.hour[0], e.minute[0]))
	case len(e.dayOfMonth) == 1 && e.dayOfMonth[0] == 1 && allMonth && allDOW:
		return "first day of every month"
	default:
		return "Cron: " + expr
	}
}

func clockString(hour, minute int) string {
	if hour == 0 && minute == 0 {
		return "midnight"
	}
	suffix := "AM"
	h := hour
	switch {
	case hour == 0:
		h = 12
	case hour == 12:
		suffix = "PM"
	case hour > 12:
		h = hour - 12
		suffix = "PM"
	}
	return fmt.Sprintf("%d:%02d %s", h, minute, suffix)
}

func isFull(values []int, min, max int) bool {
	return len(values) == max-min+1
}

func containsInt(slice []int, val int) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}

func parseField(field string, min, max int) ([]int, error) {
	if field == "*" {
		result := make([]int, max-min+1)
		for i := range result {
			result[i] = min + i
		}
		return result, nil
	}

	var result []int
	for _, part := range strings.Split(field, ",") {
		values, err := parseFieldPart(part, min, max)
		if err != nil {
			return nil, err
		}
		result = append(result, values...)
	}
	return uniqueSorted(result), nil
}

func parseFieldPart(part string, min, max int) ([]int, error) {
	step := 1
	if idx := strings.Index(part, "/"); idx != -1 {
		stepStr := part[idx+1:]
		s, err := strconv.Atoi(stepStr)
		if err != nil || s <= 0 {
			return nil, fmt.Errorf("invalid step: %s", stepStr)
		}
		step = s
		part = part[:idx]
	}

	var start, end int
	switch {
	case part == "*":
		start, end = min, max
	case strings.Contains(part, "-"):
		idx := strings.Index(part, "-")
		var err error
		start, err = strconv.Atoi(part[:idx])
		if err != nil {
			return nil, fmt.Errorf("invalid range start: %s", part[:idx])
		}
		end, err = strconv.Atoi(part[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("invalid range end: %s", part[idx+1:])
		}
	default:
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid value: %s", part)
		}
		start, end = v, v
	}

	if start < min || start > max {
		return nil, fmt.Errorf("value %d out of range [%d-%d]", start, min, max)
	}
	if end < min || end > max {
		return nil, fmt.Errorf("value %d out of range [%d-%d]", end, min, max)
	}
	if start > end {
		return nil, fmt.Errorf("invalid range: %d > %d", start, end)
	}

	var result []int
	for i := start; i <= end; i += step {
		result = append(result, i)
	}
	return result, nil
}

func uniqueSorted(values []int) []int {
	seen := make(map[int]bool, len(values))
	var out []int
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
