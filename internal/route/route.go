// Package route resolves which agent and session serve an inbound peer.
package route

import (
	"context"
	"fmt"
	"strings"

	"github.com/memohai/onebot/internal/config"
)

// Input identifies the conversation being routed.
type Input struct {
	Channel   string
	AccountID string
	PeerID    string
}

// Route is the resolved destination of an inbound message.
type Route struct {
	AgentID    string `json:"agent_id"`
	AccountID  string `json:"account_id"`
	SessionKey string `json:"session_key"`
}

// Resolver reads routing rules from the live configuration.
type Resolver struct {
	provider *config.Provider
}

// NewResolver returns a resolver backed by provider.
func NewResolver(provider *config.Provider) *Resolver {
	return &Resolver{provider: provider}
}

// Resolve picks the account's agent, falling back to the default agent, and
// derives the direct-message session key.
func (r *Resolver) Resolve(_ context.Context, in Input) (Route, error) {
	channel := strings.ToLower(strings.TrimSpace(in.Channel))
	account := strings.TrimSpace(in.AccountID)
	peer := strings.TrimSpace(in.PeerID)
	if channel == "" || account == "" || peer == "" {
		return Route{}, fmt.Errorf("route: channel, account and peer are required")
	}
	routing := r.provider.Current().Routing
	agent := strings.TrimSpace(routing.Agents[account])
	if agent == "" {
		agent = strings.TrimSpace(routing.DefaultAgent)
	}
	if agent == "" {
		agent = config.DefaultAgent
	}
	return Route{
		AgentID:    agent,
		AccountID:  account,
		SessionKey: SessionKey(agent, channel, account, peer),
	}, nil
}

// SessionKey formats agent:<agent>:<channel>:<account>:direct:<peer>.
func SessionKey(agent, channel, account, peer string) string {
	return strings.Join([]string{"agent", agent, channel, account, "direct", peer}, ":")
}
