// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/plugbus/internal/eventbus"
	plugins "github.com/holomush/plugbus/internal/plugin"
	"github.com/holomush/plugbus/internal/plugin/capability"
	"github.com/holomush/plugbus/internal/plugin/hostfunc"
	"github.com/holomush/plugbus/internal/plugin/lua"
	"github.com/holomush/plugbus/internal/sample"
	"github.com/holomush/plugbus/internal/store"
	"github.com/holomush/plugbus/pkg/plugin"
)

// testEnv is a running host: bus, sample plugin and the bundled Lua plugins.
type testEnv struct {
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *eventbus.Bus
	players *store.Players
	manager *plugins.Manager
	events  <-chan plugin.Event
	stopObs func()
}

func setupTestEnv() *testEnv {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bus := eventbus.New(eventbus.WithWorkers(4), eventbus.WithLogger(logger))
	events, stopObs := bus.Observe(1024)

	players := store.NewPlayers()
	enforcer := capability.NewEnforcer()
	luaHost := lua.NewHost(
		lua.WithFunctions(hostfunc.New(enforcer, hostfunc.WithPlayerStats(players), hostfunc.WithLogger(logger))),
		lua.WithLogger(logger),
	)
	manager := plugins.NewManager(bus,
		plugins.WithPluginsDir(filepath.Join("..", "..", "plugins")),
		plugins.WithLuaHost(luaHost),
		plugins.WithEnforcer(enforcer),
		plugins.WithHostVersion("1.0.0"),
		plugins.WithManagerLogger(logger),
	)
	Expect(manager.Add(sample.New(sample.DefaultConfig(), sample.WithStore(players), sample.WithLogger(logger)))).To(Succeed())
	Expect(manager.Start(ctx)).To(Succeed())

	return &testEnv{
		ctx:     ctx,
		cancel:  cancel,
		bus:     bus,
		players: players,
		manager: manager,
		events:  events,
		stopObs: stopObs,
	}
}

func (e *testEnv) cleanup() {
	_ = e.manager.Stop(e.ctx)
	_ = e.bus.Close(e.ctx)
	e.stopObs()
	e.cancel()
}

// observed drains the events seen so far and returns their keys.
func (e *testEnv) observed() []string {
	var keys []string
	for {
		select {
		case ev, ok := <-e.events:
			if !ok {
				return keys
			}
			keys = append(keys, ev.Key.String())
		default:
			return keys
		}
	}
}

var _ = Describe("plugbus host", func() {
	var env *testEnv

	BeforeEach(func() {
		env = setupTestEnv()
	})

	AfterEach(func() {
		env.cleanup()
	})

	Describe("startup", func() {
		It("runs the sample plugin and the bundled Lua plugin", func() {
			Expect(env.manager.Active()).To(Equal([]string{"sample", "inventory"}))
		})

		It("lets Lua plugins answer events emitted during init", func() {
			Expect(env.observed()).To(Equal([]string{
				"plugin:sample:startup",
				"plugin:inventory:get_system_info",
				"plugin:inventory:system_info",
			}))
		})
	})

	Describe("a player session", func() {
		It("tracks state and routes events between plugins", func() {
			env.observed()
			id := plugin.NewID()

			publish := func(kind plugin.Kind, payload any) plugin.Report {
				report, err := env.bus.Publish(env.ctx, kind.Key(), payload)
				Expect(err).NotTo(HaveOccurred())
				Expect(report.Err()).NotTo(HaveOccurred())
				return report
			}

			publish(plugin.KindPlayerConnected, sample.PlayerConnection{PlayerID: id})
			publish(plugin.KindChatMessage, sample.PlayerChatEvent{PlayerID: id, Message: "hi", Channel: "global"})
			publish(plugin.KindPositionUpdate, sample.PlayerMoveEvent{
				PlayerID:   id,
				ToPosition: plugin.Position{X: 4, Y: 0, Z: 3},
			})
			publish(plugin.KindJump, sample.PlayerJumpEvent{PlayerID: id, Height: 7})

			rec, ok := env.players.Get(id)
			Expect(ok).To(BeTrue())
			Expect(rec.MessageCount).To(Equal(uint32(1)))
			Expect(rec.JumpCount).To(Equal(uint32(1)))
			Expect(rec.LastPosition).To(Equal(&plugin.Position{X: 4, Y: 0, Z: 3}))

			Expect(env.observed()).To(Equal([]string{
				"core:player_connected",
				"plugin:sample:player_welcomed",
				"client:chat:message",
				"client:movement:position_update",
				"client:movement:jump",
				"plugin:sample:high_jump",
				"plugin:inventory:item_used",
			}))

			publish(plugin.KindPlayerDisconnected, sample.PlayerConnection{PlayerID: id})
			_, ok = env.players.Get(id)
			Expect(ok).To(BeFalse())
			Expect(env.observed()).To(Equal([]string{
				"core:player_disconnected",
				"plugin:sample:session_summary",
			}))
		})

		It("keeps counters exact under concurrent publishes", func() {
			id := plugin.NewID()
			_, err := env.bus.Publish(env.ctx, plugin.KindPlayerConnected.Key(), sample.PlayerConnection{PlayerID: id})
			Expect(err).NotTo(HaveOccurred())

			const workers, perWorker = 8, 25
			var wg sync.WaitGroup
			for range workers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					for range perWorker {
						_, err := env.bus.Publish(env.ctx, plugin.KindChatMessage.Key(),
							sample.PlayerChatEvent{PlayerID: id, Message: "spam"})
						Expect(err).NotTo(HaveOccurred())
					}
				}()
			}
			wg.Wait()

			rec, ok := env.players.Get(id)
			Expect(ok).To(BeTrue())
			Expect(rec.MessageCount).To(Equal(uint32(workers * perWorker)))
		})

		It("delivers asynchronous publishes before Close returns", func() {
			id := plugin.NewID()
			ev, err := plugin.NewEvent(plugin.KindPlayerConnected.Key(), "", sample.PlayerConnection{PlayerID: id})
			Expect(err).NotTo(HaveOccurred())

			delivery := <-env.bus.PublishAsync(env.ctx, ev)
			Expect(delivery.Err).NotTo(HaveOccurred())
			Expect(env.players.Len()).To(Equal(1))
		})
	})

	Describe("failure isolation", func() {
		It("reports a failing handler without stopping the others", func() {
			id := plugin.NewID()
			_, err := env.bus.Publish(env.ctx, plugin.KindPlayerConnected.Key(), sample.PlayerConnection{PlayerID: id})
			Expect(err).NotTo(HaveOccurred())

			Expect(env.bus.On(plugin.KindChatMessage, func(context.Context, plugin.Event) error {
				return errors.New("moderation offline")
			}, plugin.WithName("moderation"), plugin.WithOwner("moderation"))).To(Succeed())

			report, err := env.bus.Publish(env.ctx, plugin.KindChatMessage.Key(),
				sample.PlayerChatEvent{PlayerID: id, Message: "!stats"})
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Failures()).To(HaveLen(1))
			Expect(report.Failures()[0].Handler).To(Equal("moderation"))

			rec, _ := env.players.Get(id)
			Expect(rec.MessageCount).To(Equal(uint32(1)))
		})

		It("reports undecodable payloads as handler failures", func() {
			report, err := env.bus.Publish(env.ctx, plugin.KindJump.Key(), json.RawMessage(`{"player_id":42}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Failures()).NotTo(BeEmpty())
		})
	})

	Describe("shutdown", func() {
		It("announces session totals and removes every plugin handler", func() {
			id := plugin.NewID()
			_, err := env.bus.Publish(env.ctx, plugin.KindPlayerConnected.Key(), sample.PlayerConnection{PlayerID: id})
			Expect(err).NotTo(HaveOccurred())
			env.observed()

			Expect(env.manager.Stop(env.ctx)).To(Succeed())
			Expect(env.observed()).To(Equal([]string{"plugin:sample:shutdown"}))
			Expect(env.manager.Active()).To(BeEmpty())
			Expect(env.bus.HandlerCount(plugin.KindJump.Key())).To(BeZero())
		})
	})
})
