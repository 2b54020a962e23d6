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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/ugamusic/distro/config"
	"github.com/ugamusic/distro/database/mocks"
	"github.com/ugamusic/distro/model"
	"github.com/ugamusic/distro/platform/adapters"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	distro *Distro
	ds     *mocks.MemoryDataSource
	redis  *miniredis.Miniredis
	cfg    *config.Configuration
	clock  time.Time
}

func (e *testEnv) advance(d time.Duration) {
	e.clock = e.clock.Add(d)
}

// setFlag writes a boolean feature flag in the distribution module.
func (e *testEnv) setFlag(t *testing.T, flag string, value bool) {
	t.Helper()
	raw := []byte("false")
	if value {
		raw = []byte("true")
	}
	require.NoError(t, e.distro.flags.Set(context.Background(), &model.FeatureFlag{
		Module: model.FlagModuleDistribution,
		Flag:   flag,
		Value:  raw,
	}))
}

// stored reads a distribution straight from the datasource.
func (e *testEnv) stored(t *testing.T, id string) *model.Distribution {
	t.Helper()
	d, err := e.ds.GetDistributionByID(context.Background(), id)
	require.NoError(t, err)
	return d
}

// hasTask reports whether a task with id is waiting in queue.
func (e *testEnv) hasTask(queue, id string) bool {
	_, err := e.distro.queue.Inspector.GetTaskInfo(queue, id)
	return err == nil
}

func (e *testEnv) adapter(t *testing.T, code model.PlatformCode) *adapters.MockAdapter {
	a, err := e.distro.registry.Get(code)
	require.NoError(t, err)
	return a.(*adapters.MockAdapter)
}

func newTestEnv(t *testing.T, configure ...func(*config.Configuration)) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := &config.Configuration{}
	cfg.Redis.Dns = mr.Addr()
	for _, fn := range configure {
		fn(cfg)
	}
	cfg.SetDefaults()
	config.MockConfig(cfg)

	ds := mocks.NewMemoryDataSource()
	d, err := NewDistro(ds, cfg, adapters.NewMockRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	env := &testEnv{distro: d, ds: ds, redis: mr, cfg: cfg, clock: testNow}
	d.now = func() time.Time { return env.clock }
	return env
}

// seedFailed stores a failed distribution with the given retry count, last
// updated at lastUpdated.
func seedFailed(env *testEnv, platformCode model.PlatformCode, retryCount int, lastUpdated time.Time) model.Distribution {
	d := model.FakeDistribution(platformCode, lastUpdated.Add(-time.Hour))
	d, _, _ = model.Transition(d, model.AdapterEvent{Type: model.EventAccepted, SubmissionID: "sub_1"}, lastUpdated.Add(-30*time.Minute))
	d, _, _ = model.Transition(d, model.AdapterEvent{Type: model.EventFailed, ErrorMessage: "upstream 500"}, lastUpdated)
	d.RetryCount = retryCount
	env.ds.Put(d)
	return d
}

// seedProcessing stores a distribution accepted by its platform at acceptedAt.
func seedProcessing(env *testEnv, platformCode model.PlatformCode, submissionID string, acceptedAt time.Time) model.Distribution {
	d := model.FakeDistribution(platformCode, acceptedAt.Add(-time.Hour))
	d, _, _ = model.Transition(d, model.AdapterEvent{Type: model.EventAccepted, SubmissionID: submissionID}, acceptedAt)
	env.ds.Put(d)
	return d
}

// seedLive stores a distribution that went live at liveAt.
func seedLive(env *testEnv, platformCode model.PlatformCode, liveAt time.Time) model.Distribution {
	d := model.FakeLiveDistribution(platformCode, liveAt)
	env.ds.Put(d)
	return d
}
