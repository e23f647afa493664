// Package discord is the Discord face of livevox. It owns the gateway
// session, lends its voice connection out as the audio device, and serves the
// /livevox command and status card buttons.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/livevox/pkg/audio"
	discordaudio "github.com/MrWong99/livevox/pkg/audio/discord"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// GuildID is the guild the bot serves and registers commands in.
	GuildID string

	// ChannelID is the voice channel joined on connect.
	ChannelID string

	// OperatorRoleID restricts connect and disconnect to members with this
	// role. Empty allows everyone.
	OperatorRoleID string
}

// gateway is the part of *discordgo.Session the bot's lifecycle needs.
type gateway interface {
	ApplicationCommandBulkOverwrite(appID, guildID string, cmds []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	Close() error
}

// Bot serves one guild. Commands are published by Run and withdrawn by Close.
type Bot struct {
	gw      gateway
	appID   func() string
	guildID string
	device  audio.Device
	router  *CommandRouter
	perms   *PermissionChecker

	mu        sync.Mutex
	published bool
	closed    bool
}

// New opens the gateway with the intents voice needs and prepares the voice
// channel device. No command is visible until Run.
func New(_ context.Context, cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	session.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		slog.Warn("discord: gateway disconnected, discordgo will resume")
	})

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}

	b := newBot(session, func() string { return session.State.User.ID }, cfg)
	b.device = discordaudio.New(session, cfg.GuildID, cfg.ChannelID)
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.GuildID != "" && i.GuildID != b.guildID {
			return
		}
		b.router.Handle(s, i)
	})

	slog.Info("discord session opened", "guild_id", cfg.GuildID, "channel_id", cfg.ChannelID)
	return b, nil
}

func newBot(gw gateway, appID func() string, cfg Config) *Bot {
	return &Bot{
		gw:      gw,
		appID:   appID,
		guildID: cfg.GuildID,
		router:  NewCommandRouter(),
		perms:   NewPermissionChecker(cfg.OperatorRoleID),
	}
}

// Device returns the voice channel audio device.
func (b *Bot) Device() audio.Device { return b.device }

// Attach adds the /livevox command set driving ctrl. Call it before Run.
func (b *Bot) Attach(ctrl Controller) {
	NewVoiceCommands(b.router, b.perms, ctrl)
}

// Router returns the interaction router.
func (b *Bot) Router() *CommandRouter { return b.router }

// Run publishes the guild's commands and blocks until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		got, err := b.gw.ApplicationCommandBulkOverwrite(b.appID(), b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: publish commands: %w", err)
		}
		b.mu.Lock()
		b.published = true
		b.mu.Unlock()
		slog.Info("discord commands published", "count", len(got))
	}
	<-ctx.Done()
	return nil
}

// Close withdraws published commands and closes the gateway. Calls after the
// first are no-ops.
func (b *Bot) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	if b.published {
		if _, err := b.gw.ApplicationCommandBulkOverwrite(b.appID(), b.guildID, []*discordgo.ApplicationCommand{}); err != nil {
			slog.Warn("discord: withdraw commands", "err", err)
		}
	}
	if err := b.gw.Close(); err != nil {
		return fmt.Errorf("discord: close session: %w", err)
	}
	slog.Info("discord bot closed")
	return nil
}
