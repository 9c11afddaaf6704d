// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/spacebar-bridge/pkg/discord"
	"github.com/aiku/spacebar-bridge/pkg/format"
	"github.com/aiku/spacebar-bridge/pkg/metrics"
	"github.com/aiku/spacebar-bridge/pkg/pairstore"
)

// PlaceholderText is relayed when a message renders to nothing.
const PlaceholderText = "*Unknown message content*"

const defaultIdleDelay = 100 * time.Millisecond

// Drop reasons, as recorded in the events dropped metric.
const (
	dropUnknownChannel   = "unknown_channel"
	dropSelfAuthored     = "self_authored"
	dropUnregisteredPair = "unregistered_pair"
	dropSendFailed       = "send_failed"
)

// RouterConfig configures one relay direction.
type RouterConfig struct {
	// Name labels logs and metrics, e.g. discord_to_spacebar.
	Name   string
	Stream Stream
	Sender Sender
	// Store holds the mappings of this direction.
	Store pairstore.Store
	// PeerStore holds the mappings of the opposite direction. It is only read,
	// to resolve replies to relayed copies.
	PeerStore pairstore.Store
	// Channels maps source channel IDs to target channel IDs.
	Channels map[string]string
	// Registered lists the partitions RegisterPair succeeded for.
	Registered    []pairstore.Partition
	SourceCDNHost string
	TargetGuildID string
	Format        format.Config
	Render        RenderFunc
	Directory     Directory
	// SendTimeout bounds each Sender call. Zero means no bound.
	SendTimeout time.Duration
	IdleDelay   time.Duration
	Log         zerolog.Logger
}

// Router relays the events of one stream to one sender.
type Router struct {
	name          string
	stream        Stream
	sender        Sender
	store         pairstore.Store
	peer          pairstore.Store
	channels      map[string]string
	registered    map[pairstore.Partition]struct{}
	selfID        string
	cdnHost       string
	targetGuildID string
	format        format.Config
	render        RenderFunc
	dir           Directory
	sendTimeout   time.Duration
	idle          time.Duration
	log           zerolog.Logger
}

// NewRouter creates a router. The stream must be ready, since the bridge
// account's user ID is read from it here.
func NewRouter(cfg RouterConfig) *Router {
	registered := make(map[pairstore.Partition]struct{}, len(cfg.Registered))
	for _, p := range cfg.Registered {
		registered[p] = struct{}{}
	}
	render := cfg.Render
	if render == nil {
		render = format.Render
	}
	idle := cfg.IdleDelay
	if idle <= 0 {
		idle = defaultIdleDelay
	}
	return &Router{
		name:          cfg.Name,
		stream:        cfg.Stream,
		sender:        cfg.Sender,
		store:         cfg.Store,
		peer:          cfg.PeerStore,
		channels:      cfg.Channels,
		registered:    registered,
		selfID:        cfg.Stream.SelfID(),
		cdnHost:       cfg.SourceCDNHost,
		targetGuildID: cfg.TargetGuildID,
		format:        cfg.Format,
		render:        render,
		dir:           cfg.Directory,
		sendTimeout:   cfg.SendTimeout,
		idle:          idle,
		log:           cfg.Log.With().Str("component", "router").Str("direction", cfg.Name).Logger(),
	}
}

// Run drains the stream until ctx is cancelled or the stream fails. Only a
// stream failure is returned as an error.
func (r *Router) Run(ctx context.Context) error {
	r.log.Info().Int("channels", len(r.channels)).Msg("Router started")
	for {
		for {
			if ctx.Err() != nil {
				return nil
			}
			evt, ok := r.stream.Poll()
			if !ok {
				break
			}
			r.HandleEvent(ctx, evt)
		}
		if err := r.stream.Err(); err != nil {
			return fmt.Errorf("%s stream failed: %w", r.name, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.idle):
		}
	}
}

// HandleEvent relays one event. Failures are logged and never returned.
func (r *Router) HandleEvent(ctx context.Context, evt discord.Event) {
	target, ok := r.channels[evt.Message.ChannelID]
	if !ok {
		r.drop(dropUnknownChannel)
		return
	}
	if evt.AuthorID() == r.selfID {
		r.drop(dropSelfAuthored)
		return
	}
	pair := pairstore.NewChannelPair(evt.Message.ChannelID, target)
	log := r.log.With().
		Str("op", string(evt.Op)).
		Str("source_channel_id", pair.SourceChannelID).
		Str("source_message_id", evt.Message.ID).
		Logger()

	switch evt.Op {
	case discord.OpMessageCreate, discord.OpMessageUpdate, discord.OpMessageDelete:
		if _, registered := r.registered[pair.Partition()]; !registered {
			log.Warn().Str("partition", string(pair.Partition())).Msg("Channel pair not registered, dropping event")
			r.drop(dropUnregisteredPair)
			return
		}
	case discord.OpReactionAdd, discord.OpReactionRemove:
		log.Trace().Str("user_id", evt.UserID).Msg("Ignoring reaction event")
		return
	default:
		log.Trace().Msg("Ignoring unsupported event")
		return
	}

	ctx = log.WithContext(ctx)
	switch evt.Op {
	case discord.OpMessageCreate:
		r.handleCreate(ctx, pair, &evt.Message)
	case discord.OpMessageUpdate:
		r.handleUpdate(ctx, pair, &evt.Message)
	case discord.OpMessageDelete:
		r.handleDelete(ctx, pair, &evt.Message)
	}
}

func (r *Router) drop(reason string) {
	metrics.EventsDropped.WithLabelValues(r.name, reason).Inc()
}

func (r *Router) handleCreate(ctx context.Context, pair pairstore.ChannelPair, msg *discord.Message) {
	log := zerolog.Ctx(ctx)
	out := r.outgoing(msg)
	if refID, ping := r.resolveReply(ctx, pair, msg); refID != "" {
		out.MessageReference = &discord.MessageReference{
			MessageID: refID,
			ChannelID: pair.TargetChannelID,
			GuildID:   r.targetGuildID,
		}
		if !ping {
			out.AllowedMentions = &discord.AllowedMentions{Parse: []string{"users", "roles", "everyone"}}
			if r.targetGuildID == "" {
				repliedUser := false
				out.AllowedMentions.RepliedUser = &repliedUser
			}
		}
	}

	var targetID string
	err := r.call(ctx, "create", func(ctx context.Context) (err error) {
		targetID, err = r.sender.Send(ctx, pair.TargetChannelID, out)
		return err
	})
	if err != nil {
		log.Err(err).Msg("Failed to relay message")
		r.drop(dropSendFailed)
		return
	}
	if targetID == "" {
		log.Error().Msg("Sender returned no message ID, mapping not stored")
		r.drop(dropSendFailed)
		return
	}
	if err = r.store.Put(ctx, pair, msg.ID, targetID); err != nil {
		log.Err(err).Str("target_message_id", targetID).Msg("Failed to store message pair")
		return
	}
	metrics.EventsRelayed.WithLabelValues(r.name, "create").Inc()
	log.Debug().
		Str("target_message_id", targetID).
		Str("author", AuthorName(msg)).
		Msg("Relayed message")
}

func (r *Router) handleUpdate(ctx context.Context, pair pairstore.ChannelPair, msg *discord.Message) {
	log := zerolog.Ctx(ctx)
	targetID, found, err := r.store.Lookup(ctx, pair, msg.ID)
	if err != nil {
		log.Err(err).Msg("Failed to look up message pair")
		return
	} else if !found {
		log.Trace().Msg("No relayed copy to edit")
		return
	}
	out := r.outgoing(msg)
	err = r.call(ctx, "update", func(ctx context.Context) error {
		return r.sender.Edit(ctx, pair.TargetChannelID, targetID, out)
	})
	if err != nil {
		log.Err(err).Str("target_message_id", targetID).Msg("Failed to relay edit")
		return
	}
	metrics.EventsRelayed.WithLabelValues(r.name, "update").Inc()
	log.Debug().Str("target_message_id", targetID).Msg("Relayed edit")
}

func (r *Router) handleDelete(ctx context.Context, pair pairstore.ChannelPair, msg *discord.Message) {
	log := zerolog.Ctx(ctx)
	targetID, found, err := r.store.Lookup(ctx, pair, msg.ID)
	if err != nil {
		log.Err(err).Msg("Failed to look up message pair")
		return
	} else if !found {
		log.Trace().Msg("No relayed copy to delete")
		return
	}
	err = r.call(ctx, "delete", func(ctx context.Context) error {
		return r.sender.DeleteMessage(ctx, pair.TargetChannelID, targetID)
	})
	if err != nil {
		log.Err(err).Str("target_message_id", targetID).Msg("Failed to relay deletion")
	} else {
		metrics.EventsRelayed.WithLabelValues(r.name, "delete").Inc()
	}
	// The mapping goes even if the remote delete failed.
	if err = r.store.Delete(ctx, pair, msg.ID); err != nil {
		log.Err(err).Msg("Failed to delete message pair")
		return
	}
	log.Debug().Str("target_message_id", targetID).Msg("Relayed deletion")
}

// outgoing builds the relayed message: empty content and one rich embed
// carrying the author and the rendered text.
func (r *Router) outgoing(msg *discord.Message) discord.OutgoingMessage {
	var roles []discord.Role
	var channels []discord.Channel
	if r.dir != nil {
		roles, channels = r.dir.Roles(), r.dir.Channels()
	}
	text := r.render(msg, r.format, roles, channels)
	if text == "" {
		text = PlaceholderText
	}
	return discord.OutgoingMessage{
		Embeds: []discord.Embed{{
			Type: "rich",
			Author: &discord.EmbedAuthor{
				Name:    AuthorName(msg),
				IconURL: AvatarURL(msg, r.cdnHost),
			},
			Description: text,
		}},
	}
}

// resolveReply finds the target-side ID of the message msg replies to.
// A reply to the bridge account's own post is a reply to a relayed copy, so
// the original lives in the peer store's direction. ping is false when the
// referenced message does not mention the bridge account.
func (r *Router) resolveReply(ctx context.Context, pair pairstore.ChannelPair, msg *discord.Message) (refID string, ping bool) {
	ref := msg.ReferencedMessage
	if ref == nil || ref.ID == "" {
		return "", true
	}
	ping = ref.MentionsUser(r.selfID)
	log := zerolog.Ctx(ctx).With().Str("referenced_message_id", ref.ID).Logger()

	var found bool
	var err error
	if ref.Author.ID == r.selfID {
		if r.peer == nil {
			return "", ping
		}
		refID, found, err = r.peer.LookupSource(ctx, pair.Reverse(), ref.ID)
	} else {
		refID, found, err = r.store.Lookup(ctx, pair, ref.ID)
	}
	if err != nil {
		log.Warn().Err(err).Msg("Failed to resolve reply, sending without reference")
		return "", ping
	} else if !found {
		log.Debug().Msg("Reply target not bridged, sending without reference")
		return "", ping
	}
	return refID, ping
}

// call runs one Sender call under the send timeout and records its latency.
func (r *Router) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if r.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.sendTimeout)
		defer cancel()
	}
	start := time.Now()
	err := fn(ctx)
	metrics.SendDuration.WithLabelValues(r.name, op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SendFailures.WithLabelValues(r.name, op).Inc()
	}
	return err
}
