// Copyright 2024-2026 Aiku AI

package format

import (
	"math"
	"slices"
	"strconv"

	"github.com/aiku/spacebar-bridge/pkg/discord"
)

// Message types with a system line.
const (
	typeDefault              = 0
	typeRecipientAdd         = 1
	typeRecipientRemove      = 2
	typeCall                 = 3
	typeChannelNameChange    = 4
	typeChannelIconChange    = 5
	typePinnedMessage        = 6
	typeUserJoin             = 7
	typeBoost                = 8
	typeBoostTier3           = 11
	typeChannelFollowAdd     = 12
	typeDiscoveryDisqualify  = 14
	typeDiscoveryRequalify   = 15
	typeDiscoveryWarnInitial = 16
	typeDiscoveryWarnFinal   = 17
	typeThreadCreated        = 18
	typeThreadStarter        = 21
	typeInviteReminder       = 22
	typeAutoModeration       = 24
	typeRoleSubscription     = 25
	typeStageStart           = 27
	typeStageEnd             = 28
	typeStageSpeaker         = 29
	typeStageRaiseHand       = 30
	typeStageTopic           = 31
	typeAppPremium           = 32
	typeIncidentEnabled      = 36
	typeIncidentDisabled     = 37
	typeIncidentRaid         = 38
	typeIncidentFalseAlarm   = 39
	typeCustomGift           = 41
	typePollResult           = 46
	typeInGameMessage        = 51
	typeHDStreaming          = 55
)

var fixedLines = map[int]string{
	typeChannelIconChange:    "Changed the channel icon.",
	typePinnedMessage:        "Pinned a message to this channel.",
	typeUserJoin:             "Joined the server.",
	typeDiscoveryDisqualify:  "This server has been removed from Server Discovery because it no longer passes all the requirements.",
	typeDiscoveryRequalify:   "This server is eligible for Server Discovery again and has been automatically relisted!",
	typeDiscoveryWarnInitial: "This server has failed Discovery activity requirements for 1 week.",
	typeDiscoveryWarnFinal:   "This server has failed Discovery activity requirements for 3 weeks in a row.",
	typeThreadStarter:        "Start of a thread",
	typeInviteReminder:       "Kind reminder to invite more people to this server.",
	typeStageSpeaker:         "Is now a speaker.",
	typeStageRaiseHand:       "Requested to speak.",
	typeIncidentDisabled:     "Disabled security actions.",
	typeIncidentRaid:         "Reported a raid.",
	typeIncidentFalseAlarm:   "Reported a false alarm.",
	typeHDStreaming:          "Activated HD Streaming Mode",
}

// systemLine returns the text shown for non-default message types and the
// embeds left after the ones it consumed. ok is false when the message is
// rendered from its own content.
func systemLine(msg *discord.Message, content string, embeds []discord.Embed) (line string, rest []discord.Embed, ok bool) {
	if msg.Type == typeDefault {
		return "", embeds, false
	}
	if fixed, found := fixedLines[msg.Type]; found {
		return "> *" + fixed + "*", embeds, true
	}
	chat := "group"
	if msg.GuildID != "" {
		chat = "thread"
	}
	var text string
	switch msg.Type {
	case typeRecipientAdd:
		text = "Added " + firstMention(msg) + " to the " + chat + "."
	case typeRecipientRemove:
		text = "Removed " + firstMention(msg) + " from the " + chat + "."
	case typeCall:
		text = "Started a call."
		if msg.Call != nil && msg.Call.EndedTimestamp != "" {
			text = "Call ended"
		}
	case typeChannelNameChange:
		text = "Changed the channel name to " + content + "."
	case typeBoost, typeBoost + 1, typeBoost + 2, typeBoostTier3:
		text = "Just boosted the server!"
		if content != "" {
			text = "Just boosted the server " + content + " times!"
		}
		if msg.Type > typeBoost {
			text += " Server has achieved Level " + strconv.Itoa(msg.Type-typeBoost) + "!"
		}
	case typeChannelFollowAdd:
		text = "Added " + content + " to this channel. Its most important updates will show up here."
	case typeThreadCreated:
		text = "Started a thread: " + content + "."
	case typeAutoModeration:
		return autoModerationLine(embeds)
	case typeRoleSubscription:
		if msg.RoleSubscriptionData == nil {
			return "", embeds, false
		}
		text = "Subscribed to " + msg.RoleSubscriptionData.TierName + "!"
	case typeStageStart:
		text = "Started " + content + "."
	case typeStageEnd:
		text = "Ended " + content + "."
	case typeStageTopic:
		text = "Changed the Stage topic: " + content + "."
	case typeAppPremium:
		name := "a deleted application"
		if msg.Application != nil {
			name = msg.Application.Name
		}
		text = "Upgraded " + name + " to premium for this server!"
	case typeIncidentEnabled:
		text = "Enabled security actions until " + content + "."
	case typeCustomGift:
		if len(embeds) == 0 {
			return "> *Bought a gift: url not found*", embeds, true
		}
		return "> *Bought a gift: " + embeds[0].URL + "*", embeds[1:], true
	case typePollResult:
		return pollResultLine(embeds)
	case typeInGameMessage:
		if msg.Application == nil {
			return "", embeds, false
		}
		text = "Messaged you from " + msg.Application.Name
	default:
		return "", embeds, false
	}
	return "> *" + text + "*", embeds, true
}

func firstMention(msg *discord.Message) string {
	if len(msg.Mentions) == 0 {
		return "someone"
	}
	return msg.Mentions[0].Username
}

// takeEmbed removes the first embed of the given type and returns its fields
// by name.
func takeEmbed(embeds []discord.Embed, kind string) (map[string]string, []discord.Embed, bool) {
	idx := slices.IndexFunc(embeds, func(e discord.Embed) bool { return e.Type == kind })
	if idx < 0 {
		return nil, embeds, false
	}
	fields := make(map[string]string, len(embeds[idx].Fields))
	for _, f := range embeds[idx].Fields {
		fields[f.Name] = f.Value
	}
	return fields, slices.Delete(slices.Clone(embeds), idx, idx+1), true
}

func autoModerationLine(embeds []discord.Embed) (string, []discord.Embed, bool) {
	data, rest, ok := takeEmbed(embeds, "auto_moderation_message")
	if !ok {
		return "", embeds, false
	}
	lines := []string{"*AUTOMOD ALERT*", "Rule " + data["rule_name"] + " violation detected!"}
	optional := []struct{ key, label string }{
		{"channel_id", "In channel: "},
		{"block_profile_update_type", "Blocked profile update: "},
		{"quarantine_user", "Quarantine user reason: "},
		{"quarantine_user_action", "Quarantine type: "},
		{"application_name", "Application that triggered the rule: "},
	}
	for _, o := range optional {
		value, found := data[o.key]
		if !found {
			continue
		}
		if o.key == "channel_id" {
			value = "<#" + value + ">"
		}
		lines = append(lines, o.label+value)
	}
	return quote(lines), rest, true
}

func pollResultLine(embeds []discord.Embed) (string, []discord.Embed, bool) {
	data, rest, ok := takeEmbed(embeds, "poll_result")
	if !ok {
		return "", embeds, false
	}
	valueOr := func(key, fallback string) string {
		if v, found := data[key]; found {
			return v
		}
		return fallback
	}
	percent := 0
	votes, errVotes := strconv.Atoi(data["victor_answer_votes"])
	total, errTotal := strconv.Atoi(data["total_votes"])
	if errVotes == nil && errTotal == nil && total > 0 {
		percent = int(math.Round(float64(votes) * 100 / float64(total)))
	}
	lines := []string{
		"*Poll has ended, results:*",
		valueOr("poll_question_text", "???"),
		"Winning answer: " + valueOr("victor_answer_text", "???") + ", " + strconv.Itoa(percent) + "%",
		"Votes: " + valueOr("victor_answer_votes", "0") + " of total: " + valueOr("total_votes", "0"),
	}
	return quote(lines), rest, true
}
