package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/livevox/internal/live"
	"github.com/MrWong99/livevox/internal/transcript"
)

// Custom IDs of the status embed buttons.
const (
	ButtonConnect    = "livevox:connect"
	ButtonDisconnect = "livevox:disconnect"
)

// connectTimeout bounds a connect started from Discord. Interaction tokens
// stay valid for 15 minutes so the follow-up still lands.
const connectTimeout = 30 * time.Second

// statusTranscriptLines is how many transcript entries the status embed shows.
const statusTranscriptLines = 5

// Embed colours per state.
const (
	colorLive       = 0x10B981
	colorConnecting = 0xF59E0B
	colorError      = 0xEF4444
	colorOffline    = 0x6B7280
)

// Controller is the session surface driven by the slash commands.
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Snapshot() live.Snapshot
}

// VoiceCommands implements /livevox connect, disconnect and status.
type VoiceCommands struct {
	ctrl  Controller
	perms *PermissionChecker
}

// NewVoiceCommands creates the command set and registers it with router.
func NewVoiceCommands(router *CommandRouter, perms *PermissionChecker, ctrl Controller) *VoiceCommands {
	vc := &VoiceCommands{ctrl: ctrl, perms: perms}
	vc.Register(router)
	return vc
}

// Definition returns the /livevox application command.
func (vc *VoiceCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "livevox",
		Description: "Control the live voice session",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "connect",
				Description: "Start a live session and join the voice channel",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "disconnect",
				Description: "End the live session and leave the voice channel",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show the session state and recent transcript",
			},
		},
	}
}

// Register adds the command handlers and buttons to router.
func (vc *VoiceCommands) Register(router *CommandRouter) {
	def := vc.Definition()
	router.RegisterCommand("livevox/connect", def, vc.handleConnect)
	router.RegisterCommand("livevox/disconnect", def, vc.handleDisconnect)
	router.RegisterCommand("livevox/status", def, vc.handleStatus)
	router.RegisterComponent(ButtonConnect, vc.handleConnect)
	router.RegisterComponent(ButtonDisconnect, vc.handleDisconnect)
}

func (vc *VoiceCommands) handleConnect(s Responder, i *discordgo.InteractionCreate) {
	if !vc.perms.IsOperator(i) {
		Notify(s, i, "You need the operator role to start the session.")
		return
	}
	Defer(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	err := vc.ctrl.Connect(ctx)
	if err != nil && !errors.Is(err, live.ErrConnectAborted) && !isComponent(i) {
		Complete(s, i, Text("Connect failed: %v", err))
		return
	}
	// A button press redraws the status card, which shows any error itself.
	Complete(s, i, vc.status())
}

func (vc *VoiceCommands) handleDisconnect(s Responder, i *discordgo.InteractionCreate) {
	if !vc.perms.IsOperator(i) {
		Notify(s, i, "You need the operator role to end the session.")
		return
	}
	if err := vc.ctrl.Disconnect(context.Background()); err != nil {
		RespondError(s, i, err)
		return
	}
	if isComponent(i) {
		Respond(s, i, vc.status())
		return
	}
	Respond(s, i, Text("Session ended."))
}

func (vc *VoiceCommands) handleStatus(s Responder, i *discordgo.InteractionCreate) {
	Respond(s, i, vc.status())
}

// status is the status card: the current snapshot plus its buttons.
func (vc *VoiceCommands) status() Reply {
	snap := vc.ctrl.Snapshot()
	return Reply{
		Embed:      StatusEmbed(snap),
		Components: []discordgo.MessageComponent{StatusButtons(snap.State)},
	}
}

// StatusEmbed renders a snapshot as an embed.
func StatusEmbed(snap live.Snapshot) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "Live session",
		Color: stateColor(snap.State),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "State", Value: snap.State.String(), Inline: true},
		},
	}
	if snap.SessionID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Session", Value: snap.SessionID, Inline: true})
	}
	if snap.State == live.StateConnected {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Input level", Value: fmt.Sprintf("%.0f%%", min(snap.Volume*400, 100)), Inline: true,
		})
	}
	if snap.Error != "" {
		embed.Description = "Error: " + snap.Error
	}

	entries := snap.Transcripts
	if len(entries) > statusTranscriptLines {
		entries = entries[len(entries)-statusTranscriptLines:]
	}
	if len(entries) > 0 {
		var b strings.Builder
		for _, e := range entries {
			who := "You"
			if e.Sender == transcript.SenderModel {
				who = "Model"
			}
			fmt.Fprintf(&b, "**%s:** %s\n", who, e.Text)
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Transcript", Value: b.String()})
	}
	return embed
}

// StatusButtons returns the action row offered next to a status embed.
func StatusButtons(s live.State) discordgo.ActionsRow {
	connected := s == live.StateConnected || s == live.StateConnecting
	return discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.Button{Label: "Connect", Style: discordgo.SuccessButton, CustomID: ButtonConnect, Disabled: connected},
		discordgo.Button{Label: "Disconnect", Style: discordgo.DangerButton, CustomID: ButtonDisconnect, Disabled: !connected},
	}}
}

func stateColor(s live.State) int {
	switch s {
	case live.StateConnected:
		return colorLive
	case live.StateConnecting:
		return colorConnecting
	case live.StateError:
		return colorError
	default:
		return colorOffline
	}
}
