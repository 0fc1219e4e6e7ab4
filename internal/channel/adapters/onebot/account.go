package onebot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/memohai/onebot/internal/channel"
	"github.com/memohai/onebot/internal/config"
)

// DefaultAccountID names the account built from the [onebot] section alone.
const DefaultAccountID = "default"

// DefaultMediaMaxMB caps local media inspected for type detection.
const DefaultMediaMaxMB = 20

// ResolvedAccount is an account's effective settings after merging the
// group-level values with its own overrides.
type ResolvedAccount struct {
	AccountID      string
	Name           string
	Enabled        bool
	Configured     bool
	WSURL          string
	HTTPURL        string
	AccessToken    string
	DMPolicy       DMPolicy
	AllowFrom      []string
	TextChunkLimit int
	ChunkMode      channel.ChunkMode
	MediaMaxMB     int
}

// OutboundPolicy returns the chunking policy for the account.
func (a ResolvedAccount) OutboundPolicy() channel.OutboundPolicy {
	return channel.NormalizeOutboundPolicy(channel.OutboundPolicy{
		TextChunkLimit: a.TextChunkLimit,
		ChunkMode:      a.ChunkMode,
	})
}

// MediaMaxBytes is MediaMaxMB in bytes.
func (a ResolvedAccount) MediaMaxBytes() int64 {
	return int64(a.MediaMaxMB) << 20
}

// Fingerprint changes only when the connection has to be rebuilt.
func (a ResolvedAccount) Fingerprint() string {
	return strings.Join([]string{a.WSURL, a.HTTPURL, a.AccessToken}, "|")
}

// Active reports whether the account should hold a connection.
func (a ResolvedAccount) Active() bool {
	return a.Enabled && a.Configured
}

// ResolveAccount merges the [onebot] values with [onebot.accounts.<id>].
// Account values win when set. An empty id resolves the default account.
func ResolveAccount(cfg config.OneBotConfig, accountID string) ResolvedAccount {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		accountID = DefaultAccountID
	}
	base := cfg.AccountConfig
	override := cfg.Accounts[accountID]

	enabled := true
	if base.Enabled != nil {
		enabled = *base.Enabled
	}
	if override.Enabled != nil {
		enabled = *override.Enabled
	}
	allowFrom := []string(base.AllowFrom)
	if len(override.AllowFrom) > 0 {
		allowFrom = override.AllowFrom
	}
	account := ResolvedAccount{
		AccountID:      accountID,
		Name:           pick(override.Name, base.Name),
		Enabled:        enabled,
		WSURL:          pick(override.WSURL, base.WSURL),
		HTTPURL:        pick(override.HTTPURL, base.HTTPURL),
		AccessToken:    pick(override.AccessToken, base.AccessToken),
		DMPolicy:       ParseDMPolicy(pick(override.DMPolicy, base.DMPolicy)),
		AllowFrom:      append([]string(nil), allowFrom...),
		TextChunkLimit: pickInt(override.TextChunkLimit, base.TextChunkLimit, channel.DefaultTextChunkLimit),
		ChunkMode:      channel.ParseChunkMode(pick(override.ChunkMode, base.ChunkMode)),
		MediaMaxMB:     pickInt(override.MediaMaxMB, base.MediaMaxMB, DefaultMediaMaxMB),
	}
	account.Configured = account.WSURL != ""
	return account
}

// ListAccountIDs returns the configured account ids in order. Without an
// [onebot.accounts] table the default account is the only one.
func ListAccountIDs(cfg config.OneBotConfig) []string {
	if len(cfg.Accounts) == 0 {
		return []string{DefaultAccountID}
	}
	ids := make([]string, 0, len(cfg.Accounts))
	for id := range cfg.Accounts {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func pick(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func pickInt(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

// AccountStore lists OneBot accounts from the live configuration for the
// channel manager.
type AccountStore struct {
	provider *config.Provider
}

// NewAccountStore returns a store reading from provider.
func NewAccountStore(provider *config.Provider) *AccountStore {
	return &AccountStore{provider: provider}
}

// Account resolves one account from the current configuration.
func (s *AccountStore) Account(accountID string) ResolvedAccount {
	return ResolveAccount(s.provider.Current().OneBot, accountID)
}

// Accounts resolves every configured account.
func (s *AccountStore) Accounts() []ResolvedAccount {
	cfg := s.provider.Current().OneBot
	ids := ListAccountIDs(cfg)
	out := make([]ResolvedAccount, 0, len(ids))
	for _, id := range ids {
		out = append(out, ResolveAccount(cfg, id))
	}
	return out
}

// ListConfigsByType implements channel.ConfigLister.
func (s *AccountStore) ListConfigsByType(_ context.Context, channelType channel.ChannelType) ([]channel.ChannelConfig, error) {
	if channelType != Type {
		return nil, fmt.Errorf("unsupported channel type: %s", channelType)
	}
	accounts := s.Accounts()
	configs := make([]channel.ChannelConfig, 0, len(accounts))
	for _, account := range accounts {
		configs = append(configs, ChannelConfigFor(account))
	}
	return configs, nil
}

// ChannelConfigFor maps an account into the manager's config shape.
func ChannelConfigFor(account ResolvedAccount) channel.ChannelConfig {
	return channel.ChannelConfig{
		ID:          account.AccountID,
		ChannelType: Type,
		Name:        account.Name,
		Fingerprint: account.Fingerprint(),
		Disabled:    !account.Active(),
	}
}
