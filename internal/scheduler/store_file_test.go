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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTempFileStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "schedules.json"))
}

func TestFileStore_SaveAndGet(t *testing.T) {
	store := newTempFileStore(t)

	sched := &Schedule{
		ID: "nightly", WorkflowPath: "nightly.yaml", Cron: "0 0 * * *",
		InputParameters: map[string]string{"ENV": "prod"},
		Enabled:         true,
		NextRunAt:       time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Save(sched))

	got, ok, err := store.Get("nightly")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "nightly.yaml", got.WorkflowPath)
	assert.Equal(t, "0 0 * * *", got.Cron)
	assert.Equal(t, map[string]string{"ENV": "prod"}, got.InputParameters)
	assert.True(t, got.NextRunAt.Equal(sched.NextRunAt))

	_, ok, err = store.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_SaveOverwritesByID(t *testing.T) {
	store := newTempFileStore(t)

	require.NoError(t, store.Save(&Schedule{ID: "job", WorkflowPath: "v1.yaml", Cron: "0 * * * *"}))
	require.NoError(t, store.Save(&Schedule{ID: "job", WorkflowPath: "v2.yaml", Cron: "0 * * * *"}))

	all, err := store.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "v2.yaml", all[0].WorkflowPath)
}

func TestFileStore_GetEnabledFiltersDisabled(t *testing.T) {
	store := newTempFileStore(t)

	require.NoError(t, store.Save(&Schedule{ID: "on", Cron: "* * * * *", Enabled: true}))
	require.NoError(t, store.Save(&Schedule{ID: "off", Cron: "* * * * *", Enabled: false}))

	enabled, err := store.GetEnabled()
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "on", enabled[0].ID)
}

func TestFileStore_UpdateRunTimes(t *testing.T) {
	store := newTempFileStore(t)
	require.NoError(t, store.Save(&Schedule{ID: "job", Cron: "*/5 * * * *", Enabled: true}))

	last := time.Now().UTC().Truncate(time.Second)
	next := last.Add(5 * time.Minute)
	require.NoError(t, store.UpdateRunTimes("job", last, next, false))
	require.NoError(t, store.UpdateRunTimes("job", next, next.Add(5*time.Minute), true))

	got, ok, err := store.Get("job")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, int64(2), got.RunCount)
	assert.Equal(t, int64(1), got.ErrorCount)
}

func TestFileStore_Delete(t *testing.T) {
	store := newTempFileStore(t)
	require.NoError(t, store.Save(&Schedule{ID: "gone", Cron: "* * * * *"}))
	require.NoError(t, store.Delete("gone"))

	_, ok, err := store.Get("gone")
	require.NoError(t, err)
	assert.False(t, ok)
}
