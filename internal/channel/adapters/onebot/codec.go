package onebot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/memohai/onebot/internal/channel"
)

// Segment types used on the wire.
const (
	SegmentText   = "text"
	SegmentImage  = "image"
	SegmentRecord = "record"
	SegmentVideo  = "video"
)

const base64Prefix = "base64:"

var urlSchemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

// Segment is one typed unit of a wire message.
type Segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// NormalizedMessage is the inbound message reduced to text and ordered media.
type NormalizedMessage struct {
	Text  string
	Media []channel.Attachment
}

// ParseMessage normalizes a message field that is either a plain string or a
// segment array. Media segments without a usable reference are dropped.
func ParseMessage(raw json.RawMessage) (NormalizedMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return NormalizedMessage{}, nil
	}
	var segments []Segment
	switch raw[0] {
	case '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return NormalizedMessage{}, fmt.Errorf("%w: message: %v", ErrDecode, err)
		}
		return NormalizedMessage{Text: text}, nil
	case '{':
		var seg Segment
		if err := json.Unmarshal(raw, &seg); err != nil {
			return NormalizedMessage{}, fmt.Errorf("%w: message: %v", ErrDecode, err)
		}
		segments = []Segment{seg}
	default:
		if err := json.Unmarshal(raw, &segments); err != nil {
			return NormalizedMessage{}, fmt.Errorf("%w: message: %v", ErrDecode, err)
		}
	}
	return NormalizeSegments(segments), nil
}

// NormalizeSegments concatenates text segments and collects media references
// in order.
func NormalizeSegments(segments []Segment) NormalizedMessage {
	var (
		text strings.Builder
		out  NormalizedMessage
	)
	for _, seg := range segments {
		switch strings.ToLower(seg.Type) {
		case SegmentText:
			text.WriteString(dataString(seg.Data, "text"))
		case SegmentImage, SegmentRecord, SegmentVideo:
			ref := segmentReference(seg.Data)
			if ref == "" {
				continue
			}
			out.Media = append(out.Media, channel.Attachment{
				Type: kindForSegment(seg.Type),
				URL:  ref,
			})
		}
	}
	out.Text = text.String()
	return out
}

// BuildSegments builds an outbound segment array: the text segment first
// when text is non-empty, then one segment per media reference.
func BuildSegments(text string, media ...channel.Attachment) []Segment {
	segments := make([]Segment, 0, 1+len(media))
	if text != "" {
		segments = append(segments, Segment{Type: SegmentText, Data: map[string]any{"text": text}})
	}
	for _, att := range media {
		ref := att.Reference()
		if ref == "" {
			continue
		}
		segments = append(segments, Segment{
			Type: segmentForKind(att.Type),
			Data: map[string]any{"file": ref},
		})
	}
	return segments
}

// LooksLikeReference reports whether s is a URL, an absolute path, or a
// base64: payload.
func LooksLikeReference(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, base64Prefix) {
		return true
	}
	if urlSchemePattern.MatchString(s) {
		return true
	}
	return strings.HasPrefix(s, "/") || filepath.IsAbs(s)
}

func segmentReference(data map[string]any) string {
	for _, key := range []string{"url", "file"} {
		if v := strings.TrimSpace(dataString(data, key)); LooksLikeReference(v) {
			return v
		}
	}
	return ""
}

func dataString(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	switch v := data[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func kindForSegment(segType string) channel.AttachmentType {
	switch strings.ToLower(segType) {
	case SegmentRecord:
		return channel.AttachmentAudio
	case SegmentVideo:
		return channel.AttachmentVideo
	default:
		return channel.AttachmentImage
	}
}

func segmentForKind(kind channel.AttachmentType) string {
	switch kind {
	case channel.AttachmentAudio:
		return SegmentRecord
	case channel.AttachmentVideo:
		return SegmentVideo
	default:
		return SegmentImage
	}
}
