package discord

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/livevox/internal/observe"
)

// HandlerFunc answers one interaction.
type HandlerFunc func(s Responder, i *discordgo.InteractionCreate)

// CommandRouter dispatches interactions by route key. Commands are keyed
// "name" or "name/subcommand"; buttons by custom ID or custom ID prefix.
type CommandRouter struct {
	mu          sync.RWMutex
	definitions map[string]*discordgo.ApplicationCommand // by command name
	commands    map[string]HandlerFunc
	components  map[string]HandlerFunc
	prefixes    []prefixRoute // longest first
}

type prefixRoute struct {
	prefix  string
	handler HandlerFunc
}

// NewCommandRouter creates an empty router.
func NewCommandRouter() *CommandRouter {
	return &CommandRouter{
		definitions: make(map[string]*discordgo.ApplicationCommand),
		commands:    make(map[string]HandlerFunc),
		components:  make(map[string]HandlerFunc),
	}
}

// RegisterCommand routes key to handler and publishes def. Subcommands of one
// command pass the same def.
func (r *CommandRouter) RegisterCommand(key string, def *discordgo.ApplicationCommand, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[def.Name] = def
	r.commands[key] = handler
}

// RegisterHandler routes key to handler without publishing a definition.
func (r *CommandRouter) RegisterHandler(key string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[key] = handler
}

// RegisterComponent routes an exact button custom ID.
func (r *CommandRouter) RegisterComponent(customID string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[customID] = handler
}

// RegisterComponentPrefix routes every custom ID starting with prefix. When
// prefixes overlap the longest wins.
func (r *CommandRouter) RegisterComponentPrefix(prefix string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes = append(r.prefixes, prefixRoute{prefix, handler})
	slices.SortStableFunc(r.prefixes, func(a, b prefixRoute) int { return len(b.prefix) - len(a.prefix) })
}

// ApplicationCommands returns each published definition once, ordered by
// name.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmds := make([]*discordgo.ApplicationCommand, 0, len(r.definitions))
	for _, def := range r.definitions {
		cmds = append(cmds, def)
	}
	slices.SortFunc(cmds, func(a, b *discordgo.ApplicationCommand) int { return strings.Compare(a.Name, b.Name) })
	return cmds
}

// Handle dispatches i. Unknown routes get an ephemeral notice. A panicking
// handler is logged and does not take the gateway down.
func (r *CommandRouter) Handle(s Responder, i *discordgo.InteractionCreate) {
	var (
		kind, key string
		handler   HandlerFunc
		unknown   string
	)
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		kind, key, unknown = "command", commandKey(i.ApplicationCommandData()), "Unknown command."
		handler = r.command(key)
	case discordgo.InteractionMessageComponent:
		kind, key, unknown = "component", i.MessageComponentData().CustomID, "Unknown component."
		handler = r.component(key)
	default:
		slog.Debug("discord: ignoring interaction", "type", i.Type)
		return
	}

	ctx, span := observe.StartSpan(context.Background(), "discord."+kind,
		trace.WithAttributes(attribute.String("discord.route", key)))
	defer span.End()
	log := observe.Logger(ctx).With("kind", kind, "route", key)

	if handler == nil {
		log.Warn("discord: no route")
		span.SetStatus(codes.Error, "no route")
		Notify(s, i, "%s", unknown)
		return
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			log.Error("discord: handler panic", "panic", p)
			span.SetStatus(codes.Error, fmt.Sprint(p))
			return
		}
		log.Debug("discord: handled", "duration", time.Since(start))
	}()
	handler(s, i)
}

func (r *CommandRouter) command(key string) HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commands[key]
}

func (r *CommandRouter) component(customID string) HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.components[customID]; ok {
		return h
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(customID, p.prefix) {
			return p.handler
		}
	}
	return nil
}

// commandKey is "name", or "name/subcommand" when a subcommand was invoked.
func commandKey(data discordgo.ApplicationCommandInteractionData) string {
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return data.Name + "/" + data.Options[0].Name
	}
	return data.Name
}
