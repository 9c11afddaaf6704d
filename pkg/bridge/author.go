// Copyright 2024-2026 Aiku AI

package bridge

import (
	"github.com/aiku/spacebar-bridge/pkg/discord"
)

// AuthorName picks the display name of the message author: guild nickname,
// then global name, then username.
func AuthorName(msg *discord.Message) string {
	switch {
	case msg.Nick() != "":
		return msg.Nick()
	case msg.Author.GlobalName != "":
		return msg.Author.GlobalName
	case msg.Author.Username != "":
		return msg.Author.Username
	default:
		return "Unknown"
	}
}

// AvatarURL returns the author's avatar on cdnHost, or "" without an avatar.
func AvatarURL(msg *discord.Message, cdnHost string) string {
	if msg.Author.Avatar == "" {
		return ""
	}
	return "https://" + discord.NormalizeHost(cdnHost) + "/avatars/" + msg.Author.ID + "/" + msg.Author.Avatar + ".webp?size=80"
}
