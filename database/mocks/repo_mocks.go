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

package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ugamusic/distro/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Distribution methods

func (m *MockDataSource) CreateDistribution(ctx context.Context, d *model.Distribution) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockDataSource) GetDistributionByID(ctx context.Context, id string) (*model.Distribution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Distribution), args.Error(1)
}

func (m *MockDataSource) GetActiveDistribution(ctx context.Context, songID string, platform model.PlatformCode) (*model.Distribution, error) {
	args := m.Called(ctx, songID, platform)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Distribution), args.Error(1)
}

func (m *MockDataSource) GetDistributions(ctx context.Context, status model.Status, limit, offset int) ([]*model.Distribution, error) {
	args := m.Called(ctx, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Distribution), args.Error(1)
}

func (m *MockDataSource) GetStaleDistributions(ctx context.Context, status model.Status, before time.Time, limit int) ([]*model.Distribution, error) {
	args := m.Called(ctx, status, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Distribution), args.Error(1)
}

func (m *MockDataSource) GetDistributionsForReview(ctx context.Context, limit, offset int) ([]*model.Distribution, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Distribution), args.Error(1)
}

func (m *MockDataSource) UpdateDistribution(ctx context.Context, d *model.Distribution) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

// Feature flag methods

func (m *MockDataSource) GetFeatureFlag(ctx context.Context, module, flag string) (*model.FeatureFlag, error) {
	args := m.Called(ctx, module, flag)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FeatureFlag), args.Error(1)
}

func (m *MockDataSource) GetFeatureFlags(ctx context.Context, module string) ([]model.FeatureFlag, error) {
	args := m.Called(ctx, module)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.FeatureFlag), args.Error(1)
}

func (m *MockDataSource) UpsertFeatureFlag(ctx context.Context, f *model.FeatureFlag) error {
	args := m.Called(ctx, f)
	return args.Error(0)
}
