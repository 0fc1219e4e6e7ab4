package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultTextChunkLimit is the chunk size used when an account sets none.
const DefaultTextChunkLimit = 2000

// ChunkMode selects the text chunking strategy.
type ChunkMode string

const (
	// ChunkModeLength cuts text at exactly the limit.
	ChunkModeLength ChunkMode = "length"
	// ChunkModeNewline prefers line boundaries at or below the limit.
	ChunkModeNewline ChunkMode = "newline"
)

// ParseChunkMode maps a config string to a ChunkMode, defaulting to length.
func ParseChunkMode(raw string) ChunkMode {
	switch ChunkMode(strings.ToLower(strings.TrimSpace(raw))) {
	case ChunkModeNewline:
		return ChunkModeNewline
	default:
		return ChunkModeLength
	}
}

// Chunker splits text into pieces that respect a character limit.
type Chunker func(text string, limit int) []string

// OutboundPolicy configures how outbound text is chunked.
type OutboundPolicy struct {
	TextChunkLimit int       `json:"text_chunk_limit,omitempty"`
	ChunkMode      ChunkMode `json:"chunk_mode,omitempty"`
	Chunker        Chunker   `json:"-"`
}

// NormalizeOutboundPolicy fills zero-value fields with sensible defaults.
func NormalizeOutboundPolicy(policy OutboundPolicy) OutboundPolicy {
	if policy.TextChunkLimit <= 0 {
		policy.TextChunkLimit = DefaultTextChunkLimit
	}
	if policy.ChunkMode == "" {
		policy.ChunkMode = ChunkModeLength
	}
	if policy.Chunker == nil {
		policy.Chunker = ChunkerFor(policy.ChunkMode)
	}
	return policy
}

// ChunkerFor returns the built-in Chunker for the given mode.
func ChunkerFor(mode ChunkMode) Chunker {
	switch mode {
	case ChunkModeNewline:
		return ChunkNewline
	default:
		return ChunkLength
	}
}

// Chunk splits text according to the policy.
func (p OutboundPolicy) Chunk(text string) []string {
	p = NormalizeOutboundPolicy(p)
	return p.Chunker(text, p.TextChunkLimit)
}

// ChunkLength cuts text into pieces of at most limit runes. Concatenating the
// result reproduces the input exactly.
func ChunkLength(text string, limit int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}
	chunks := make([]string, 0, len(runes)/limit+1)
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// ChunkNewline splits text at newline boundaries, respecting the rune limit.
// Lines longer than the limit are hard cut.
func ChunkNewline(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 || runeLen(trimmed) <= limit {
		return []string{trimmed}
	}
	lines := strings.Split(trimmed, "\n")
	chunks := make([]string, 0)
	buf := make([]string, 0, len(lines))
	bufLen := 0
	for _, line := range lines {
		lineLen := runeLen(line)
		sepLen := 0
		if len(buf) > 0 {
			sepLen = 1
		}
		if bufLen+sepLen+lineLen <= limit {
			buf = append(buf, line)
			bufLen += sepLen + lineLen
			continue
		}
		if len(buf) > 0 {
			chunks = append(chunks, strings.Join(buf, "\n"))
			buf = buf[:0]
			bufLen = 0
		}
		if lineLen <= limit {
			buf = append(buf, line)
			bufLen = lineLen
			continue
		}
		chunks = append(chunks, splitLongLine(line, limit)...)
	}
	if len(buf) > 0 {
		chunks = append(chunks, strings.Join(buf, "\n"))
	}
	return chunks
}

func runeLen(value string) int {
	return len([]rune(value))
}

func splitLongLine(line string, limit int) []string {
	chunks := make([]string, 0)
	for _, segment := range ChunkLength(line, limit) {
		if strings.TrimSpace(segment) == "" {
			continue
		}
		chunks = append(chunks, segment)
	}
	return chunks
}

func (m *Manager) newReplySender(cfg ChannelConfig) ReplySender {
	sender, _ := m.registry.GetSender(cfg.ChannelType)
	return &managerReplySender{
		manager: m,
		sender:  sender,
		config:  cfg,
	}
}

type managerReplySender struct {
	manager *Manager
	sender  Sender
	config  ChannelConfig
}

// Send delivers one reply exactly once. Adapters own chunking and media
// splitting, and failed actions are not retried here.
func (s *managerReplySender) Send(ctx context.Context, msg OutboundMessage) error {
	if s.manager == nil {
		return fmt.Errorf("channel manager not configured")
	}
	return s.manager.sendWithConfig(ctx, s.sender, s.config, msg)
}

func (m *Manager) sendWithConfig(ctx context.Context, sender Sender, cfg ChannelConfig, msg OutboundMessage) error {
	if sender == nil {
		return fmt.Errorf("unsupported channel type: %s", cfg.ChannelType)
	}
	target := strings.TrimSpace(msg.Target)
	if target == "" {
		return fmt.Errorf("target is required")
	}
	if msg.Message.IsEmpty() {
		return fmt.Errorf("message is required")
	}
	start := time.Now()
	err := sender.Send(ctx, cfg, OutboundMessage{Target: target, Message: msg.Message})
	if err != nil {
		m.logger.Warn("send outbound failed",
			slog.String("channel", cfg.ChannelType.String()),
			slog.String("config_id", cfg.ID),
			slog.Any("error", err))
		return err
	}
	m.logger.Debug("send outbound",
		slog.String("channel", cfg.ChannelType.String()),
		slog.String("config_id", cfg.ID),
		slog.Duration("latency", time.Since(start)))
	return nil
}
