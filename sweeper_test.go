/*
Copyright 2024 Distro Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package distro

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ugamusic/distro/config"
	"github.com/ugamusic/distro/model"
)

func TestSweepStaleProcessing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stuck := seedProcessing(env, model.PlatformSpotify, "sp_1", testNow.Add(-49*time.Hour))
	recent := seedProcessing(env, model.PlatformDeezer, "dz_1", testNow.Add(-47*time.Hour))
	idle := model.FakeDistribution(model.PlatformTidal, testNow.Add(-2*time.Hour))
	env.ds.Put(idle)
	fresh := model.FakeDistribution(model.PlatformTidal, testNow.Add(-time.Minute))
	env.ds.Put(fresh)

	result, err := env.distro.SweepStaleProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Failed: 1, Requeued: 1}, result)

	failed := env.stored(t, stuck.DistributionID)
	assert.Equal(t, model.StatusFailed, failed.Status)
	assert.Contains(t, failed.PlatformMetadata.ErrorCodes, staleProcessingCode)
	assert.Equal(t, model.StatusProcessing, env.stored(t, recent.DistributionID).Status)

	assert.True(t, env.hasTask(env.cfg.Queue.SubmissionQueue, fmt.Sprintf("submit_%s_v1", idle.DistributionID)))
	assert.False(t, env.hasTask(env.cfg.Queue.SubmissionQueue, fmt.Sprintf("submit_%s_v1", fresh.DistributionID)))

	// The failed record now belongs to the retry scheduler.
	env.advance(time.Hour)
	retried, err := env.distro.ScheduleRetries(ctx)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	assert.Equal(t, stuck.DistributionID, retried[0].DistributionID)
}

func TestSweepStaleProcessing_SkipsRecordsThatMovedOn(t *testing.T) {
	env := newTestEnv(t)
	stuck := seedProcessing(env, model.PlatformSpotify, "sp_1", testNow.Add(-49*time.Hour))

	// The platform publishes the record between the listing and the write.
	env.ds.BeforeUpdate = func(stored *model.Distribution) {
		env.ds.BeforeUpdate = nil
		next, _, err := model.Transition(*stored, model.AdapterEvent{
			Type:        model.EventPublished,
			PlatformURL: "https://open.spotify.com/track/late",
			PlatformID:  "late",
		}, testNow)
		require.NoError(t, err)
		next.Version = stored.Version + 1
		*stored = next
	}

	result, err := env.distro.SweepStaleProcessing(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, model.StatusLive, env.stored(t, stuck.DistributionID).Status)
}

func TestSweeper_StartStop(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Configuration) {
		cfg.Jobs.SweepIntervalSec = 1
	})
	stuck := seedProcessing(env, model.PlatformSpotify, "sp_1", testNow.Add(-72*time.Hour))

	sweeper := NewSweeper(env.distro)
	assert.False(t, sweeper.IsRunning())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweeper.Start(ctx)
	sweeper.Start(ctx)
	assert.True(t, sweeper.IsRunning())

	assert.Eventually(t, func() bool {
		d, err := env.ds.GetDistributionByID(context.Background(), stuck.DistributionID)
		return err == nil && d.Status == model.StatusFailed
	}, 5*time.Second, 100*time.Millisecond)

	sweeper.Stop()
	sweeper.Stop()
	assert.False(t, sweeper.IsRunning())
}
