// Package mock provides a recording stand-in for the Discord interaction API.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Responder records every interaction reply. It is safe for concurrent use.
type Responder struct {
	// Err, when set, is returned from every call.
	Err error

	mu        sync.Mutex
	responses []*discordgo.InteractionResponse
	edits     []*discordgo.WebhookEdit
	followUps []*discordgo.WebhookParams
}

func (m *Responder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return m.Err
}

func (m *Responder) InteractionResponseEdit(_ *discordgo.Interaction, edit *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, edit)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "original"}, nil
}

func (m *Responder) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, params *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.followUps = append(m.followUps, params)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "followup"}, nil
}

// Responses returns the initial responses in order.
func (m *Responder) Responses() []*discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*discordgo.InteractionResponse(nil), m.responses...)
}

// Types returns the type of each initial response in order.
func (m *Responder) Types() []discordgo.InteractionResponseType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]discordgo.InteractionResponseType, len(m.responses))
	for i, r := range m.responses {
		out[i] = r.Type
	}
	return out
}

// LastResponse returns the latest initial response, or nil.
func (m *Responder) LastResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return last(m.responses)
}

// LastEdit returns the latest edit of an original response, or nil.
func (m *Responder) LastEdit() *discordgo.WebhookEdit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return last(m.edits)
}

// LastFollowUp returns the latest follow-up message, or nil.
func (m *Responder) LastFollowUp() *discordgo.WebhookParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return last(m.followUps)
}

func last[T any](s []*T) *T {
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}
