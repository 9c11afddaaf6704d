// Copyright 2024-2026 Aiku AI

package format

import (
	"strings"

	"github.com/aiku/spacebar-bridge/pkg/discord"
)

const (
	buttonStyleLink    = 5
	buttonStylePremium = 6
)

// renderComponents turns message components into text lines. Media items are
// returned as hidden links so their URLs are not repeated below the text.
func renderComponents(components []discord.Component) ([]string, []link) {
	var lines []string
	var links []link
	for _, c := range components {
		switch c.Type {
		case discord.ComponentActionRow:
			row, media := renderComponents(c.Components)
			lines = append(lines, strings.Join(row, " | "))
			links = append(links, media...)
		case discord.ComponentButton:
			lines = append(lines, buttonLine(c))
		case discord.ComponentStringSelect:
			lines = append(lines, "*String select:* `"+selectedOption(c)+"`")
		case discord.ComponentTextInput:
			lines = append(lines, "*Unimplemented component: text_input*")
		case discord.ComponentUserSelect:
			lines = append(lines, "*Unimplemented component: user_select*")
		case discord.ComponentRoleSelect:
			lines = append(lines, "*Unimplemented component: role_select*")
		case discord.ComponentMentionable:
			lines = append(lines, "*Unimplemented component: mentionable_select*")
		case discord.ComponentChannel:
			lines = append(lines, "*Unimplemented component: channel_select*")
		case discord.ComponentTextDisplay:
			lines = append(lines, c.Content)
		case discord.ComponentMediaGallery:
			for _, item := range c.Items {
				lines = append(lines, "File: "+item.Media.URL)
				if item.Description != "" {
					lines = append(lines, "*"+item.Description+"*")
				}
				links = append(links, mediaLink(item.Media))
			}
		case discord.ComponentFile:
			if c.File != nil {
				lines = append(lines, "File: "+c.File.URL)
				links = append(links, mediaLink(*c.File))
			}
		case discord.ComponentSeparator:
			lines = append(lines, "------------")
		case discord.ComponentContainer, discord.ComponentSection:
			nested, media := renderComponents(c.Components)
			for _, line := range nested {
				lines = append(lines, "  "+line)
			}
			links = append(links, media...)
		}
	}
	return lines, links
}

func buttonLine(c discord.Component) string {
	switch {
	case c.Style < buttonStyleLink:
		label := c.Label
		if label == "" && c.Emoji != nil {
			label = c.Emoji.Name
		}
		if label == "" {
			label = "???"
		}
		return "*Button:* `" + label + "`"
	case c.Style == buttonStyleLink:
		return "*Button: " + c.URL + "*"
	case c.Style == buttonStylePremium:
		return "*Button: purchase_button_disabled*"
	default:
		return "*Button: unknown_button_disabled*"
	}
}

func selectedOption(c discord.Component) string {
	for _, opt := range c.Options {
		if !opt.Default {
			continue
		}
		if opt.Label != "" {
			return opt.Label
		}
		if opt.Emoji != nil && opt.Emoji.Name != "" {
			return opt.Emoji.Name
		}
		break
	}
	if c.Placeholder != "" {
		return c.Placeholder
	}
	return "None selected"
}

func mediaLink(media discord.UnfurledMedia) link {
	kind := media.ContentType
	if kind == "" {
		kind = "unknown"
	}
	return link{kind: kind, url: media.URL, hidden: true}
}
