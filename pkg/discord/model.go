// Copyright 2024-2026 Aiku AI

package discord

// Op is the kind of an inbound event.
type Op string

const (
	OpMessageCreate  Op = "MESSAGE_CREATE"
	OpMessageUpdate  Op = "MESSAGE_UPDATE"
	OpMessageDelete  Op = "MESSAGE_DELETE"
	OpReactionAdd    Op = "MESSAGE_REACTION_ADD"
	OpReactionRemove Op = "MESSAGE_REACTION_REMOVE"
)

// Event is one message-related gateway dispatch.
type Event struct {
	Op      Op
	Message Message
	// UserID is the reacting user on reaction events.
	UserID string
	Emoji  *Emoji
}

// AuthorID returns the user that caused the event, if known.
func (e Event) AuthorID() string {
	if e.UserID != "" {
		return e.UserID
	}
	return e.Message.Author.ID
}

type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
	Bot        bool   `json:"bot,omitempty"`
}

type Member struct {
	Nick string `json:"nick,omitempty"`
	User *User  `json:"user,omitempty"`
}

// Mention is a mentioned user, with guild member data when available.
type Mention struct {
	User
	Member *Member `json:"member,omitempty"`
}

type Emoji struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Animated bool   `json:"animated,omitempty"`
}

type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type int    `json:"type"`
}

type EmbedAuthor struct {
	Name    string `json:"name,omitempty"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedMedia struct {
	URL string `json:"url,omitempty"`
}

type EmbedFooter struct {
	Text    string `json:"text,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

type Embed struct {
	Type        string       `json:"type,omitempty"`
	URL         string       `json:"url,omitempty"`
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Image       *EmbedMedia  `json:"image,omitempty"`
	Video       *EmbedMedia  `json:"video,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

// Sticker format types.
const (
	StickerPNG    = 1
	StickerAPNG   = 2
	StickerLottie = 3
	StickerGIF    = 4
)

type StickerItem struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	FormatType int    `json:"format_type"`
}

type Reaction struct {
	Count int   `json:"count"`
	Me    bool  `json:"me"`
	Emoji Emoji `json:"emoji"`
}

type Interaction struct {
	Name string `json:"name"`
	User User   `json:"user"`
}

type PollMedia struct {
	Text  string `json:"text,omitempty"`
	Emoji *Emoji `json:"emoji,omitempty"`
}

type PollAnswer struct {
	AnswerID  int       `json:"answer_id"`
	PollMedia PollMedia `json:"poll_media"`
}

type PollAnswerCount struct {
	ID      int  `json:"id"`
	Count   int  `json:"count"`
	MeVoted bool `json:"me_voted"`
}

type PollResults struct {
	IsFinalized  bool              `json:"is_finalized"`
	AnswerCounts []PollAnswerCount `json:"answer_counts"`
}

type Poll struct {
	Question         PollMedia    `json:"question"`
	Answers          []PollAnswer `json:"answers"`
	Expiry           string       `json:"expiry,omitempty"`
	AllowMultiselect bool         `json:"allow_multiselect"`
	Results          *PollResults `json:"results,omitempty"`
}

type SelectOption struct {
	Label   string `json:"label"`
	Value   string `json:"value"`
	Emoji   *Emoji `json:"emoji,omitempty"`
	Default bool   `json:"default,omitempty"`
}

type UnfurledMedia struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

type MediaItem struct {
	Media       UnfurledMedia `json:"media"`
	Description string        `json:"description,omitempty"`
}

// Component is a message component of any type. Only the fields relevant to
// the component's Type are set.
type Component struct {
	Type        int            `json:"type"`
	Style       int            `json:"style,omitempty"`
	Label       string         `json:"label,omitempty"`
	Emoji       *Emoji         `json:"emoji,omitempty"`
	CustomID    string         `json:"custom_id,omitempty"`
	URL         string         `json:"url,omitempty"`
	Disabled    bool           `json:"disabled,omitempty"`
	Options     []SelectOption `json:"options,omitempty"`
	Placeholder string         `json:"placeholder,omitempty"`
	Content     string         `json:"content,omitempty"`
	Components  []Component    `json:"components,omitempty"`
	Items       []MediaItem    `json:"items,omitempty"`
	File        *UnfurledMedia `json:"file,omitempty"`
}

// Component types.
const (
	ComponentActionRow    = 1
	ComponentButton       = 2
	ComponentStringSelect = 3
	ComponentTextInput    = 4
	ComponentUserSelect   = 5
	ComponentRoleSelect   = 6
	ComponentMentionable  = 7
	ComponentChannel      = 8
	ComponentSection      = 9
	ComponentTextDisplay  = 10
	ComponentMediaGallery = 12
	ComponentFile         = 13
	ComponentSeparator    = 14
	ComponentContainer    = 17
)

type SnapshotMessage struct {
	Content     string       `json:"content"`
	Embeds      []Embed      `json:"embeds"`
	Attachments []Attachment `json:"attachments"`
}

type MessageSnapshot struct {
	Message SnapshotMessage `json:"message"`
}

type Call struct {
	EndedTimestamp string `json:"ended_timestamp,omitempty"`
}

type Application struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type RoleSubscriptionData struct {
	TierName string `json:"tier_name"`
}

// Message is a chat message as delivered by the gateway.
type Message struct {
	ID              string `json:"id"`
	ChannelID       string `json:"channel_id"`
	GuildID         string `json:"guild_id,omitempty"`
	Type            int    `json:"type"`
	Content         string `json:"content"`
	Timestamp       string `json:"timestamp,omitempty"`
	EditedTimestamp string `json:"edited_timestamp,omitempty"`

	Author          User      `json:"author"`
	Member          *Member   `json:"member,omitempty"`
	Mentions        []Mention `json:"mentions,omitempty"`
	MentionRoles    []string  `json:"mention_roles,omitempty"`
	MentionEveryone bool      `json:"mention_everyone,omitempty"`

	Embeds           []Embed           `json:"embeds,omitempty"`
	Attachments      []Attachment      `json:"attachments,omitempty"`
	StickerItems     []StickerItem     `json:"sticker_items,omitempty"`
	Reactions        []Reaction        `json:"reactions,omitempty"`
	Components       []Component       `json:"components,omitempty"`
	MessageSnapshots []MessageSnapshot `json:"message_snapshots,omitempty"`

	ReferencedMessage    *Message              `json:"referenced_message,omitempty"`
	Interaction          *Interaction          `json:"interaction,omitempty"`
	Poll                 *Poll                 `json:"poll,omitempty"`
	Call                 *Call                 `json:"call,omitempty"`
	Application          *Application          `json:"application,omitempty"`
	RoleSubscriptionData *RoleSubscriptionData `json:"role_subscription_data,omitempty"`
}

// Nick returns the guild nickname of the author, if any.
func (m *Message) Nick() string {
	if m.Member == nil {
		return ""
	}
	return m.Member.Nick
}

// MentionsUser reports whether userID is among the mentioned users.
func (m *Message) MentionsUser(userID string) bool {
	for _, mention := range m.Mentions {
		if mention.ID == userID {
			return true
		}
	}
	return false
}

type MessageReference struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id,omitempty"`
	GuildID   string `json:"guild_id,omitempty"`
}

type AllowedMentions struct {
	Parse       []string `json:"parse"`
	RepliedUser *bool    `json:"replied_user,omitempty"`
}

// OutgoingMessage is the body of a message create or edit request.
type OutgoingMessage struct {
	Content          string            `json:"content"`
	Embeds           []Embed           `json:"embeds,omitempty"`
	MessageReference *MessageReference `json:"message_reference,omitempty"`
	AllowedMentions  *AllowedMentions  `json:"allowed_mentions,omitempty"`
}
