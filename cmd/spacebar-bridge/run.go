// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/spacebar-bridge/pkg/bridge"
	"github.com/aiku/spacebar-bridge/pkg/config"
	"github.com/aiku/spacebar-bridge/pkg/discord"
	"github.com/aiku/spacebar-bridge/pkg/format"
	"github.com/aiku/spacebar-bridge/pkg/metrics"
	"github.com/aiku/spacebar-bridge/pkg/pairstore"
)

const (
	discordName  = "discord"
	spacebarName = "spacebar"

	pingTimeout = 5 * time.Second
)

type namedStore struct {
	name  string
	store pairstore.Store
}

type stores struct {
	discord  namedStore
	spacebar namedStore
}

func (s *stores) all() []namedStore {
	return []namedStore{s.discord, s.spacebar}
}

func (s *stores) close(log zerolog.Logger) {
	for _, named := range s.all() {
		if named.store == nil {
			continue
		}
		if err := named.store.Close(); err != nil {
			log.Warn().Err(err).Str("store", named.name).Msg("Failed to close store")
		}
	}
}

// openStores opens the store of messages originating on each side. On
// PostgreSQL they live in separate databases.
func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	s := &stores{}
	for _, target := range []struct {
		dst  *namedStore
		name string
	}{{&s.discord, discordName}, {&s.spacebar, spacebarName}} {
		store, err := pairstore.Open(ctx, target.name, pairstore.Options{
			Type:         cfg.Database.Type,
			Dir:          cfg.Database.DirPath,
			PostgresURI:  cfg.Database.PostgresURI,
			FileName:     target.name,
			DatabaseName: "bridge_" + target.name + "_msgs",
		}, log)
		if err != nil {
			s.close(log)
			return nil, fmt.Errorf("failed to open %s store: %w", target.name, err)
		}
		*target.dst = namedStore{name: target.name, store: store}
	}
	return s, nil
}

func newSide(name string, platform config.Platform, guildID string, presence bool, store pairstore.Store, cfg *config.Config, log zerolog.Logger) bridge.Side {
	rest := discord.NewClient(name, platform.Host, platform.Token, discord.ClientOptions{
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, log)
	link := discord.NewGateway(name, platform.Token, rest, discord.GatewayOptions{
		GuildID:          guildID,
		SupportsPresence: presence,
	}, log)
	return bridge.Side{
		Name:    name,
		Link:    link,
		Sender:  rest,
		Store:   store,
		CDNHost: platform.CDNHost,
		GuildID: guildID,
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	s, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.close(log)

	discordSide := newSide(discordName, cfg.Discord, cfg.DiscordGuildID, true, s.discord.store, cfg, log)
	spacebarSide := newSide(spacebarName, cfg.Spacebar, cfg.SpacebarGuildID, false, s.spacebar.store, cfg, log)
	br := bridge.New(bridge.Config{
		Discord:  discordSide,
		Spacebar: spacebarSide,
		Pairs:    cfg.Pairs(),
		Format:   cfg.Format,
		Render:   format.Render,
		Presence: discord.Presence{
			CustomStatus:      cfg.CustomStatus,
			CustomStatusEmoji: cfg.CustomStatusEmoji,
		},
		SendTimeout: cfg.SendTimeout,
	}, log)

	tasks := []func(context.Context) error{br.Run}
	for _, named := range s.all() {
		sweeper, err := newSweeper(cfg, named, log)
		if err != nil {
			return err
		}
		tasks = append(tasks, sweeper.Run)
	}
	if cfg.Metrics.Enabled {
		checker := healthChecker(s, discordSide, spacebarSide)
		tasks = append(tasks, func(ctx context.Context) error {
			log.Info().Str("listen", cfg.Metrics.Listen).Msg("Serving metrics")
			return metrics.RunServer(ctx, cfg.Metrics, checker)
		})
	}
	return runAll(ctx, tasks...)
}

func healthChecker(s *stores, sides ...bridge.Side) *metrics.HealthChecker {
	var probes []metrics.Probe
	for _, named := range s.all() {
		store := named.store
		probes = append(probes, metrics.Probe{
			Name: named.name + "_store",
			Check: func() error {
				ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
				defer cancel()
				return store.Ping(ctx)
			},
		})
	}
	for _, side := range sides {
		link := side.Link
		probes = append(probes, metrics.Probe{
			Name:  side.Name + "_gateway",
			Check: link.Err,
		})
	}
	return metrics.NewHealthChecker(probes...)
}
