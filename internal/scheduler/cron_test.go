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

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("* * * * *"))
	assert.True(t, IsValid("@daily"))
	assert.True(t, IsValid("*/15 * * * *"))
	assert.False(t, IsValid("not a cron"))
	assert.False(t, IsValid("60 * * * *"))
}

func TestParse_Aliases(t *testing.T) {
	e, err := Parse("@hourly")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, e.minute)

	e, err = Parse("@weekly")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, e.dayOfWeek)
}

func TestParse_SixFieldWithSeconds(t *testing.T) {
	e, err := Parse("30 0 12 * * *")
	require.NoError(t, err)
	assert.True(t, e.hasSeconds)
	assert.Equal(t, []int{30}, e.second)
	assert.Equal(t, []int{0}, e.minute)
	assert.Equal(t, []int{12}, e.hour)
}

func TestParse_RangeStepAndList(t *testing.T) {
	e, err := Parse("0,15,30,45 9-17 * * 1-5")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 15, 30, 45}, e.minute)
	assert.Equal(t, []int{9, 10, 11, 12, 13, 14, 15, 16, 17}, e.hour)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, e.dayOfWeek)

	e, err = Parse("*/15 * * * *")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 15, 30, 45}, e.minute)
}

func TestParse_RejectsOutOfRange(t *testing.T) {
	_, err := Parse("99 * * * *")
	assert.Error(t, err)

	_, err = Parse("* * * * 9")
	assert.Error(t, err)

	_, err = Parse("* * *")
	assert.Error(t, err)
}

func TestGetNextOccurrence_DailyAtMidnight(t *testing.T) {
	from := time.Date(2026, 7, 31, 10, 30, 0, 0, time.UTC)
	next, err := GetNextOccurrence("0 0 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), next)
}

func TestGetNextOccurrence_EveryMinuteAdvancesByOne(t *testing.T) {
	from := time.Date(2026, 7, 31, 10, 30, 12, 0, time.UTC)
	next, err := GetNextOccurrence("* * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 31, 10, 31, 0, 0, time.UTC), next)
}

func TestGetNextOccurrence_SpecificWeekday(t *testing.T) {
	// 2026-07-31 is a Friday; next Monday 09:00 should be 2026-08-03.
	from := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	next, err := GetNextOccurrence("0 9 * * 1", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC), next)
}

func TestGetNextOccurrence_InvalidExpression(t *testing.T) {
	_, err := GetNextOccurrence("garbage", time.Now().UTC())
	assert.Error(t, err)
}

func TestGetDescription(t *testing.T) {
	assert.Equal(t, "every minute", GetDescription("* * * * *"))
	assert.Equal(t, "every hour", GetDescription("0 * * * *"))
	assert.Equal(t, "every day at midnight", GetDescription("0 0 * * *"))
	assert.Equal(t, "Cron: nonsense", GetDescription("nonsense"))
}
