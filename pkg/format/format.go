// Copyright 2024-2026 Aiku AI

// Package format renders gateway messages as plain chat text for the other
// side of a bridge.
package format

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aiku/spacebar-bridge/pkg/discord"
)

// Config holds the user-tunable parts of the rendered text.
type Config struct {
	// FormatInteraction is the line shown above slash command responses.
	// %username and %command are substituted.
	FormatInteraction string `yaml:"format_interaction"`
	// FormatOneReaction renders one reaction. %reaction and %count are
	// substituted.
	FormatOneReaction  string `yaml:"format_one_reaction"`
	ReactionsSeparator string `yaml:"reactions_separator"`
}

// DefaultConfig returns the formatting used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		FormatInteraction:  "> *%username used /%command*",
		FormatOneReaction:  "%reaction %count",
		ReactionsSeparator: "  ",
	}
}

var (
	emojiRe      = regexp.MustCompile(`<a?:([^:<>]*):(\d*)>`)
	mentionRe    = regexp.MustCompile(`<@!?(\d+)>`)
	roleRe       = regexp.MustCompile(`<@&(\d*)>`)
	channelRe    = regexp.MustCompile(`<#(\d*)>`)
	channelURLRe = regexp.MustCompile(`https://discord\.com/channels/(\d*)/(\d*)(?:/(\d+))?`)
)

// now is replaced in tests.
var now = time.Now

// link is an embed, attachment or component media rendered as a link line.
type link struct {
	kind   string
	url    string
	hidden bool
}

// Render converts msg into the text relayed to the other platform. roles and
// channels resolve role and channel mentions. The result may be empty.
func Render(msg *discord.Message, cfg Config, roles []discord.Role, channels []discord.Channel) string {
	if msg == nil {
		return ""
	}
	content := msg.Content
	embeds := msg.Embeds
	attachments := msg.Attachments
	if len(msg.MessageSnapshots) > 0 {
		forwarded := msg.MessageSnapshots[0].Message
		content = "[Forwarded]: " + forwarded.Content
		embeds = forwarded.Embeds
		attachments = forwarded.Attachments
	}
	if line, rest, ok := systemLine(msg, content, embeds); ok {
		content, embeds = line, rest
	}

	links := embedLinks(embeds, content)
	for _, att := range attachments {
		kind := att.ContentType
		if kind == "" {
			kind = "unknown"
		}
		links = append(links, link{kind: kind, url: att.URL})
	}
	if len(msg.Components) > 0 {
		lines, media := renderComponents(msg.Components)
		links = append(links, media...)
		if quoted := quote(lines); quoted != "" {
			content = joinLines(content, quoted)
		}
	}
	if msg.Poll != nil {
		content = renderPoll(msg.Poll)
	}

	var text string
	if msg.Interaction != nil && cfg.FormatInteraction != "" {
		text = strings.NewReplacer(
			"%username", msg.Interaction.User.Username,
			"%command", msg.Interaction.Name,
		).Replace(cfg.FormatInteraction)
	}
	if content != "" {
		content = replaceEmoji(content)
		content = replaceMentions(content, msg.Mentions)
		content = replaceRoles(content, roles)
		content = replaceChannelURLs(content)
		content = replaceChannels(content, channels)
		text = joinLines(text, content)
	}

	for _, l := range links {
		if l.url == "" || l.hidden || strings.Contains(text, l.url) {
			continue
		}
		text = joinLines(text, "[("+cleanType(l.kind)+" embed)]("+l.url+")")
	}

	for _, sticker := range msg.StickerItems {
		text = joinLines(text, "["+stickerKind(sticker.FormatType)+" sticker]: "+sticker.Name)
	}

	if len(msg.Reactions) > 0 {
		reactions := make([]string, 0, len(msg.Reactions))
		for _, r := range msg.Reactions {
			count := strconv.Itoa(r.Count)
			if r.Me {
				count = "*" + count
			}
			reactions = append(reactions, strings.NewReplacer(
				"%reaction", r.Emoji.Name,
				"%count", count,
			).Replace(cfg.FormatOneReaction))
		}
		text = joinLines(text, strings.Join(reactions, cfg.ReactionsSeparator))
	}
	return text
}

func joinLines(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + "\n" + b
}

func quote(lines []string) string {
	var sb strings.Builder
	for _, line := range lines {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("> ")
		sb.WriteString(line)
	}
	return sb.String()
}

// cleanType drops the subtype of a MIME type: image/png becomes image.
func cleanType(kind string) string {
	kind, _, _ = strings.Cut(kind, "/")
	return kind
}

func stickerKind(formatType int) string {
	switch formatType {
	case discord.StickerPNG:
		return "png"
	case discord.StickerAPNG:
		return "apng"
	case discord.StickerLottie:
		return "lottie"
	default:
		return "gif"
	}
}

func replaceEmoji(text string) string {
	return emojiRe.ReplaceAllString(text, ":$1:")
}

func replaceMentions(text string, mentions []discord.Mention) string {
	return mentionRe.ReplaceAllStringFunc(text, func(match string) string {
		id := mentionRe.FindStringSubmatch(match)[1]
		for _, m := range mentions {
			if m.ID == id {
				return "@" + m.Username
			}
		}
		return match
	})
}

func replaceRoles(text string, roles []discord.Role) string {
	return roleRe.ReplaceAllStringFunc(text, func(match string) string {
		id := roleRe.FindStringSubmatch(match)[1]
		for _, r := range roles {
			if r.ID == id {
				return "@" + r.Name
			}
		}
		return "@unknown_role"
	})
}

func replaceChannelURLs(text string) string {
	return channelURLRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := channelURLRe.FindStringSubmatch(match)
		if parts[3] != "" {
			return "<#" + parts[2] + ">>MSG"
		}
		return "<#" + parts[2] + ">"
	})
}

func replaceChannels(text string, channels []discord.Channel) string {
	return channelRe.ReplaceAllStringFunc(text, func(match string) string {
		id := channelRe.FindStringSubmatch(match)[1]
		for _, c := range channels {
			if c.ID == id {
				return "#" + c.Name
			}
		}
		return "@unknown_channel"
	})
}

// embedLinks flattens embeds into link lines. Embeds whose text already
// appears in content are dropped.
func embedLinks(embeds []discord.Embed, content string) []link {
	var links []link
	for _, e := range embeds {
		var lines []string
		if e.URL != "" && !strings.Contains(e.URL, "tenor.com/") {
			lines = append(lines, e.URL)
		}
		if e.Title != "" {
			lines = append(lines, e.Title)
		}
		if e.Description != "" {
			lines = append(lines, e.Description)
		}
		for _, f := range e.Fields {
			lines = append(lines, "", f.Name, f.Value)
		}
		if e.Image != nil && e.Image.URL != "" {
			lines = append(lines, e.Image.URL)
		}
		if e.Video != nil && e.Video.URL != "" {
			lines = append(lines, e.Video.URL)
		}
		if e.Footer != nil && e.Footer.Text != "" {
			lines = append(lines, e.Footer.Text)
		}
		body := strings.Trim(strings.Join(lines, "\n"), "\n")
		if body == "" || strings.Contains(content, body) {
			continue
		}
		kind := e.Type
		if kind == "" {
			kind = "unknown"
		}
		links = append(links, link{kind: kind, url: body})
	}
	return links
}

func renderPoll(poll *discord.Poll) string {
	var expires time.Time
	if poll.Expiry != "" {
		expires, _ = time.Parse(time.RFC3339Nano, poll.Expiry)
	}
	status, ends := "ongoing", "Ends"
	if expires.Before(now()) {
		status, ends = "ended", "Ended"
	}
	question := poll.Question.Text
	if question == "" {
		question = "???"
	}
	counts := make(map[int]discord.PollAnswerCount)
	total := 0
	if poll.Results != nil {
		for _, c := range poll.Results.AnswerCounts {
			counts[c.ID] = c
			total += c.Count
		}
	}
	lines := []string{"*Poll (" + status + "):*", question}
	for _, answer := range poll.Answers {
		c := counts[answer.AnswerID]
		percent := 0
		if total > 0 {
			percent = int(math.Round(float64(c.Count) * 100 / float64(total)))
		}
		marker := "-"
		if c.MeVoted {
			marker = "*"
		}
		lines = append(lines, "  "+marker+" "+answer.PollMedia.Text+
			" ("+strconv.Itoa(c.Count)+" votes, "+strconv.Itoa(percent)+"%)")
	}
	lines = append(lines, ends+" <t:"+strconv.FormatInt(max(expires.Unix(), 0), 10)+":R>")
	return quote(lines)
}
