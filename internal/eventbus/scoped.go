// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package eventbus

import (
	"context"
	"slices"

	"github.com/holomush/plugbus/pkg/plugin"
)

// scoped is the view of the bus handed to a single plugin: every handler it
// registers is owned by the plugin and every event it publishes carries the
// plugin as source.
type scoped struct {
	bus   *Bus
	owner string
}

// Scoped returns a plugin.EventBus bound to owner.
func (b *Bus) Scoped(owner string) plugin.EventBus {
	return &scoped{bus: b, owner: owner}
}

func (s *scoped) withOwner(opts []plugin.RegisterOption) []plugin.RegisterOption {
	return append(slices.Clip(opts), plugin.WithOwner(s.owner))
}

func (s *scoped) Register(key plugin.Key, h plugin.Handler, opts ...plugin.RegisterOption) error {
	return s.bus.Register(key, h, s.withOwner(opts)...)
}

func (s *scoped) On(kind plugin.Kind, h plugin.Handler, opts ...plugin.RegisterOption) error {
	return s.bus.On(kind, h, s.withOwner(opts)...)
}

func (s *scoped) RegisterPattern(pattern string, h plugin.Handler, opts ...plugin.RegisterOption) error {
	return s.bus.RegisterPattern(pattern, h, s.withOwner(opts)...)
}

func (s *scoped) Publish(ctx context.Context, key plugin.Key, payload any) (plugin.Report, error) {
	return s.bus.PublishFrom(ctx, s.owner, key, payload)
}
