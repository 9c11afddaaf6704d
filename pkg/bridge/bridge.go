// Copyright 2024-2026 Aiku AI

// Package bridge relays message events between two chat platforms.
//
// A Router moves events from one platform's stream to the other platform's
// sender and keeps a Store of which source message became which target
// message, so that later edits and deletions reach the relayed copy. A Bridge
// runs one Router per direction.
package bridge

import (
	"context"

	"github.com/aiku/spacebar-bridge/pkg/discord"
	"github.com/aiku/spacebar-bridge/pkg/format"
)

// Stream is the inbound side of a platform connection.
type Stream interface {
	// Poll returns the next queued event without blocking.
	Poll() (discord.Event, bool)
	Ready() bool
	// Err returns a non-nil error once the stream has failed for good.
	Err() error
	// SelfID is the user ID of the bridge account on this platform.
	SelfID() string
}

// Link is a Stream that can be connected and closed.
type Link interface {
	Stream
	Connect(ctx context.Context) error
	Close() error
}

// PresenceUpdater is implemented by links that can show a status.
type PresenceUpdater interface {
	SupportsPresence() bool
	UpdatePresence(p discord.Presence) error
}

// Directory resolves role and channel mentions.
type Directory interface {
	Roles() []discord.Role
	Channels() []discord.Channel
}

// Sender applies messages on the target platform.
type Sender interface {
	Send(ctx context.Context, channelID string, msg discord.OutgoingMessage) (string, error)
	Edit(ctx context.Context, channelID, messageID string, msg discord.OutgoingMessage) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// RenderFunc turns a message into relayed text.
type RenderFunc func(msg *discord.Message, cfg format.Config, roles []discord.Role, channels []discord.Channel) string

var (
	_ Link            = (*discord.Gateway)(nil)
	_ PresenceUpdater = (*discord.Gateway)(nil)
	_ Directory       = (*discord.Gateway)(nil)
	_ Sender          = (*discord.Client)(nil)
	_ RenderFunc      = format.Render
)
