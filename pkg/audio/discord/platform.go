// Package discord provides an [audio.Device] backed by a Discord voice channel
// via the bwmarrin/discordgo library. It bridges Discord's Opus-based voice
// transport with livevox's PCM [audio.AudioFrame] pipeline so that a
// conversation can be held from a voice channel instead of a local microphone.
//
// The device requires an active *discordgo.Session (owned by the caller), a
// guild ID and a voice channel ID. The channel is joined lazily when the first
// endpoint is opened and left when the last one is closed; input and output
// share the same voice connection.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/livevox/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Device = (*Device)(nil)

// Device implements [audio.Device] using a discordgo voice connection.
//
// Device is safe for concurrent use.
type Device struct {
	session   *discordgo.Session
	guildID   string
	channelID string

	mu   sync.Mutex
	link *voiceLink
	refs int

	// join establishes the voice connection. Defaults to joinVoice;
	// overridden in tests.
	join func(ctx context.Context) (*voiceLink, error)
}

// New creates a Device that joins channelID in guildID on demand.
func New(session *discordgo.Session, guildID, channelID string) *Device {
	d := &Device{
		session:   session,
		guildID:   guildID,
		channelID: channelID,
	}
	d.join = d.joinVoice
	return d
}

// OpenInput joins the voice channel if needed and returns the audio of the
// first participant heard. Frames are 48 kHz stereo PCM regardless of want.
func (d *Device) OpenInput(ctx context.Context, _ audio.Format) (audio.Input, error) {
	link, err := d.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return link.newInput(d.release), nil
}

// OpenOutput joins the voice channel if needed and returns a sink that
// accepts 48 kHz mono PCM and transmits it as Opus.
func (d *Device) OpenOutput(ctx context.Context, _ audio.Format) (audio.Output, error) {
	link, err := d.acquire(ctx)
	if err != nil {
		return nil, err
	}
	out, err := link.newOutput(d.release)
	if err != nil {
		d.release()
		return nil, err
	}
	return out, nil
}

func (d *Device) acquire(ctx context.Context) (*voiceLink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.link == nil {
		link, err := d.join(ctx)
		if err != nil {
			return nil, err
		}
		d.link = link
	}
	d.refs++
	return d.link, nil
}

func (d *Device) release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.refs--
	if d.refs > 0 || d.link == nil {
		return
	}
	link := d.link
	d.link = nil
	if err := link.close(); err != nil {
		slog.Warn("discord: leave voice channel", "channel_id", d.channelID, "error", err)
	}
}

func (d *Device) joinVoice(ctx context.Context) (*voiceLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Join the voice channel: mute=false (we send audio), deaf=false (we receive audio).
	vc, err := d.session.ChannelVoiceJoin(d.guildID, d.channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", d.channelID, err)
	}
	return newVoiceLink(vc, vc.Disconnect), nil
}
