package discord

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/livevox/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

const inputChannelBuffer = 64

// voiceLink wraps a discordgo.VoiceConnection shared by one input and one
// output. It decodes incoming Opus from a single participant (the first SSRC
// heard) into PCM frames and encodes outgoing PCM into Opus.
//
// voiceLink is safe for concurrent use.
type voiceLink struct {
	vc *discordgo.VoiceConnection

	mu   sync.Mutex
	sink *input
	ssrc uint32
	had  bool

	done      chan struct{}
	closeOnce sync.Once

	// disconnect tears down the voice connection. Defaults to vc.Disconnect;
	// overridden in tests.
	disconnect func() error
}

func newVoiceLink(vc *discordgo.VoiceConnection, disconnect func() error) *voiceLink {
	l := &voiceLink{
		vc:         vc,
		done:       make(chan struct{}),
		disconnect: disconnect,
	}
	go l.recvLoop()
	return l
}

func (l *voiceLink) close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.mu.Lock()
		sink := l.sink
		l.sink = nil
		l.mu.Unlock()
		if sink != nil {
			sink.finish()
		}
		if l.disconnect != nil {
			err = l.disconnect()
		}
	})
	return err
}

// recvLoop reads Opus packets from the voice connection, pins the first SSRC
// it sees, decodes that participant's audio and delivers it to the current
// input. Packets from other participants are ignored.
func (l *voiceLink) recvLoop() {
	var dec *packetDecoder

	for {
		select {
		case <-l.done:
			return
		case pkt, ok := <-l.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			l.mu.Lock()
			if !l.had {
				l.ssrc, l.had = pkt.SSRC, true
				slog.Debug("discord: pinned speaker", "ssrc", pkt.SSRC)
			}
			pinned := l.ssrc == pkt.SSRC
			sink := l.sink
			l.mu.Unlock()
			if !pinned || sink == nil {
				continue
			}

			if dec == nil {
				var err error
				dec, err = newPacketDecoder()
				if err != nil {
					slog.Error("discord: failed to create opus decoder", "error", err)
					continue
				}
			}
			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "error", err)
				continue
			}
			sink.deliver(audio.AudioFrame{
				Data:       pcm,
				SampleRate: opusSampleRate,
				Channels:   opusChannels,
				Timestamp:  time.Duration(pkt.Timestamp) * time.Second / time.Duration(opusSampleRate),
			})
		}
	}
}

// newInput attaches a fresh input, replacing any previous one.
func (l *voiceLink) newInput(release func()) *input {
	in := &input{
		ch:      make(chan audio.AudioFrame, inputChannelBuffer),
		release: release,
	}
	l.mu.Lock()
	prev := l.sink
	l.sink = in
	l.mu.Unlock()
	if prev != nil {
		prev.finish()
	}
	in.detach = func() {
		l.mu.Lock()
		if l.sink == in {
			l.sink = nil
		}
		l.mu.Unlock()
	}
	return in
}

func (l *voiceLink) newOutput(release func()) (*output, error) {
	enc, err := newFrameEncoder(defaultBitrate)
	if err != nil {
		return nil, err
	}
	return &output{
		link:    l,
		enc:     enc,
		release: release,
	}, nil
}

func (l *voiceLink) setSpeaking(b bool) {
	if err := l.vc.Speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "error", err)
	}
}

// ─── input ────────────────────────────────────────────────────────────────────

// input implements [audio.Input] for the pinned participant.
type input struct {
	mu      sync.Mutex
	ch      chan audio.AudioFrame
	closed  bool
	detach  func()
	release func()
	once    sync.Once
}

func (in *input) Frames() <-chan audio.AudioFrame { return in.ch }

func (in *input) deliver(f audio.AudioFrame) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}
	select {
	case in.ch <- f:
	default:
		// Channel full, drop the frame.
	}
}

// finish closes the frame channel without releasing the device reference.
func (in *input) finish() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.closed {
		in.closed = true
		close(in.ch)
	}
}

func (in *input) Close() error {
	in.once.Do(func() {
		if in.detach != nil {
			in.detach()
		}
		in.finish()
		if in.release != nil {
			in.release()
		}
	})
	return nil
}

// ─── output ───────────────────────────────────────────────────────────────────

// output implements [audio.Output]. It accepts 48 kHz mono PCM and sends
// whole Opus packets to the voice connection.
type output struct {
	link    *voiceLink
	enc     *frameEncoder
	release func()

	mu       sync.Mutex
	speaking bool
	closed   bool
}

func (o *output) Format() audio.Format { return audio.Mono(opusSampleRate) }

func (o *output) Write(pcm []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return audio.ErrClosed
	}
	if !o.speaking {
		o.link.setSpeaking(true)
		o.speaking = true
	}

	packets, err := o.enc.push(pcm)
	if err != nil {
		slog.Warn("discord: opus encode error", "error", err)
	}
	for _, packet := range packets {
		select {
		case o.link.vc.OpusSend <- packet:
		case <-o.link.done:
			return audio.ErrClosed
		}
	}
	return nil
}

func (o *output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	speaking := o.speaking
	o.enc.reset()
	o.mu.Unlock()

	if speaking {
		o.link.setSpeaking(false)
	}
	if o.release != nil {
		o.release()
	}
	return nil
}
