// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/spacebar-bridge/pkg/discord"
	"github.com/aiku/spacebar-bridge/pkg/format"
	"github.com/aiku/spacebar-bridge/pkg/pairstore"
)

const defaultReadyPoll = 200 * time.Millisecond

// Side is one platform taking part in the bridge.
type Side struct {
	Name   string
	Link   Link
	Sender Sender
	// Store holds the mappings of messages that originate on this side.
	Store   pairstore.Store
	CDNHost string
	GuildID string
}

// Config configures a Bridge.
type Config struct {
	Discord  Side
	Spacebar Side
	// Pairs maps Discord channels (source) to Spacebar channels (target).
	Pairs       []pairstore.ChannelPair
	Format      format.Config
	Render      RenderFunc
	Presence    discord.Presence
	SendTimeout time.Duration
	ReadyPoll   time.Duration
	IdleDelay   time.Duration
}

// Bridge runs both relay directions.
type Bridge struct {
	cfg Config
	log zerolog.Logger
}

// New creates a bridge.
func New(cfg Config, log zerolog.Logger) *Bridge {
	if cfg.ReadyPoll <= 0 {
		cfg.ReadyPoll = defaultReadyPoll
	}
	return &Bridge{cfg: cfg, log: log.With().Str("component", "bridge").Logger()}
}

// RegisterPairs registers every pair in store and returns the partitions.
func RegisterPairs(ctx context.Context, store pairstore.Store, pairs []pairstore.ChannelPair) ([]pairstore.Partition, error) {
	partitions := make([]pairstore.Partition, 0, len(pairs))
	for _, pair := range pairs {
		partition, err := store.RegisterPair(ctx, pair)
		if err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", pair.Partition(), err)
		}
		partitions = append(partitions, partition)
	}
	return partitions, nil
}

func reversePairs(pairs []pairstore.ChannelPair) []pairstore.ChannelPair {
	reversed := make([]pairstore.ChannelPair, len(pairs))
	for i, pair := range pairs {
		reversed[i] = pair.Reverse()
	}
	return reversed
}

func channelMap(pairs []pairstore.ChannelPair) map[string]string {
	channels := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		channels[pair.SourceChannelID] = pair.TargetChannelID
	}
	return channels
}

// Run connects both links, waits for them to become ready and relays events
// until ctx is cancelled or a link fails. Cancellation returns nil.
func (b *Bridge) Run(ctx context.Context) error {
	dc, sb := b.cfg.Discord, b.cfg.Spacebar
	toSpacebar := b.cfg.Pairs
	toDiscord := reversePairs(toSpacebar)

	dcPartitions, err := RegisterPairs(ctx, dc.Store, toSpacebar)
	if err != nil {
		return fmt.Errorf("%s store: %w", dc.Name, err)
	}
	sbPartitions, err := RegisterPairs(ctx, sb.Store, toDiscord)
	if err != nil {
		return fmt.Errorf("%s store: %w", sb.Name, err)
	}

	defer b.closeLinks()
	for _, side := range []Side{dc, sb} {
		if err = side.Link.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to connect %s: %w", side.Name, err)
		}
	}

	if err = b.waitReady(ctx); errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	} else if err != nil {
		return err
	}
	b.log.Info().Msg("Both links ready")

	b.updatePresence(dc)
	b.updatePresence(sb)

	routers := []*Router{
		b.newRouter(dc, sb, toSpacebar, dcPartitions),
		b.newRouter(sb, dc, toDiscord, sbPartitions),
	}
	eg, egCtx := errgroup.WithContext(ctx)
	for _, router := range routers {
		eg.Go(func() error {
			return router.Run(egCtx)
		})
	}
	if err = eg.Wait(); err != nil {
		return err
	}
	b.log.Info().Msg("Bridge stopped")
	return nil
}

func (b *Bridge) newRouter(from, to Side, pairs []pairstore.ChannelPair, registered []pairstore.Partition) *Router {
	dir, _ := from.Link.(Directory)
	return NewRouter(RouterConfig{
		Name:          from.Name + "_to_" + to.Name,
		Stream:        from.Link,
		Sender:        to.Sender,
		Store:         from.Store,
		PeerStore:     to.Store,
		Channels:      channelMap(pairs),
		Registered:    registered,
		SourceCDNHost: from.CDNHost,
		TargetGuildID: to.GuildID,
		Format:        b.cfg.Format,
		Render:        b.cfg.Render,
		Directory:     dir,
		SendTimeout:   b.cfg.SendTimeout,
		IdleDelay:     b.cfg.IdleDelay,
		Log:           b.log,
	})
}

// waitReady polls both links until they are ready. A link error is fatal,
// and so is a ready link without a user ID, since echo filtering needs it.
func (b *Bridge) waitReady(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.ReadyPoll)
	defer ticker.Stop()
	for {
		for _, side := range []Side{b.cfg.Discord, b.cfg.Spacebar} {
			if err := side.Link.Err(); err != nil {
				return fmt.Errorf("%s link failed before ready: %w", side.Name, err)
			}
		}
		if b.cfg.Discord.Link.Ready() && b.cfg.Spacebar.Link.Ready() {
			for _, side := range []Side{b.cfg.Discord, b.cfg.Spacebar} {
				if side.Link.SelfID() == "" {
					return fmt.Errorf("%s link is ready but reported no user ID", side.Name)
				}
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Bridge) updatePresence(side Side) {
	updater, ok := side.Link.(PresenceUpdater)
	if !ok || !updater.SupportsPresence() {
		return
	}
	if err := updater.UpdatePresence(b.cfg.Presence); err != nil {
		b.log.Warn().Err(err).Str("link", side.Name).Msg("Failed to update presence")
	}
}

func (b *Bridge) closeLinks() {
	for _, side := range []Side{b.cfg.Discord, b.cfg.Spacebar} {
		if err := side.Link.Close(); err != nil {
			b.log.Warn().Err(err).Str("link", side.Name).Msg("Failed to close link")
		}
	}
}
