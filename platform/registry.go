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

package platform

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ugamusic/distro/model"
)

// ErrNoAdapter is returned when a platform code is valid but nothing is registered for it.
var ErrNoAdapter = errors.New("no adapter registered for platform")

// Registry routes calls to the adapter registered for a platform code.
type Registry struct {
	mu       sync.RWMutex
	adapters map[model.PlatformCode]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.PlatformCode]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Code().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Code()] = a
}

func (r *Registry) Get(code model.PlatformCode) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, code)
	}
	return a, nil
}

// Codes lists the registered platform codes in sorted order.
func (r *Registry) Codes() []model.PlatformCode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]model.PlatformCode, 0, len(r.adapters))
	for code := range r.adapters {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}
