package discord

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Responder is the part of *discordgo.Session used to answer interactions.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ Responder = (*discordgo.Session)(nil)

// Reply is a message body. Replies to commands are always ephemeral; replies
// to buttons replace the message the button sits on.
type Reply struct {
	Content    string
	Embed      *discordgo.MessageEmbed
	Components []discordgo.MessageComponent
}

// Text is a plain Reply.
func Text(format string, args ...any) Reply {
	return Reply{Content: fmt.Sprintf(format, args...)}
}

func (r Reply) embeds() []*discordgo.MessageEmbed {
	if r.Embed == nil {
		return nil
	}
	return []*discordgo.MessageEmbed{r.Embed}
}

func isComponent(i *discordgo.InteractionCreate) bool {
	return i.Type == discordgo.InteractionMessageComponent
}

// Respond answers i immediately. A button press updates its own message in
// place, anything else gets a new ephemeral message.
func Respond(s Responder, i *discordgo.InteractionCreate, r Reply) {
	typ := discordgo.InteractionResponseChannelMessageWithSource
	var flags discordgo.MessageFlags = discordgo.MessageFlagsEphemeral
	if isComponent(i) {
		typ, flags = discordgo.InteractionResponseUpdateMessage, 0
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: typ,
		Data: &discordgo.InteractionResponseData{
			Content:    r.Content,
			Embeds:     r.embeds(),
			Components: r.Components,
			Flags:      flags,
		},
	})
	if err != nil {
		slog.Warn("discord: respond", "interaction", i.ID, "err", err)
	}
}

// Notify answers i with a new ephemeral message, even for a button press.
// Use it for replies that must not overwrite the message a button sits on.
func Notify(s Responder, i *discordgo.InteractionCreate, format string, args ...any) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: fmt.Sprintf(format, args...),
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		slog.Warn("discord: notify", "interaction", i.ID, "err", err)
	}
}

// RespondError reports err ephemerally.
func RespondError(s Responder, i *discordgo.InteractionCreate, err error) {
	Notify(s, i, "Error: %v", err)
}

// Defer acknowledges i so the handler may take longer than Discord's three
// second deadline. Finish with [Complete].
func Defer(s Responder, i *discordgo.InteractionCreate) {
	resp := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}
	if isComponent(i) {
		resp = &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
	}
	if err := s.InteractionRespond(i.Interaction, resp); err != nil {
		slog.Warn("discord: defer", "interaction", i.ID, "err", err)
	}
}

// Complete delivers the result of a deferred interaction: an edit of the
// button's message, or an ephemeral follow-up for a command.
func Complete(s Responder, i *discordgo.InteractionCreate, r Reply) {
	var err error
	if isComponent(i) {
		embeds, components := r.embeds(), r.Components
		edit := &discordgo.WebhookEdit{Embeds: &embeds, Components: &components}
		if r.Content != "" {
			edit.Content = &r.Content
		}
		_, err = s.InteractionResponseEdit(i.Interaction, edit)
	} else {
		_, err = s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
			Content:    r.Content,
			Embeds:     r.embeds(),
			Components: r.Components,
			Flags:      discordgo.MessageFlagsEphemeral,
		})
	}
	if err != nil {
		slog.Warn("discord: complete deferred interaction", "interaction", i.ID, "err", err)
	}
}
