package onebot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/onebot/internal/channel"
)

func TestParseMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		raw   string
		text  string
		media []channel.Attachment
	}{
		{
			name:  "text and image",
			raw:   `[{"type":"text","data":{"text":"hi"}},{"type":"image","data":{"url":"https://x/y.png"}}]`,
			text:  "hi",
			media: []channel.Attachment{{Type: channel.AttachmentImage, URL: "https://x/y.png"}},
		},
		{
			name: "plain string",
			raw:  `"hello there"`,
			text: "hello there",
		},
		{
			name: "text segments concatenate",
			raw:  `[{"type":"text","data":{"text":"a"}},{"type":"face","data":{"id":"1"}},{"type":"text","data":{"text":"b"}}]`,
			text: "ab",
		},
		{
			name: "record and video keep order",
			raw: `[{"type":"video","data":{"file":"/tmp/v.mp4"}},{"type":"record","data":{"file":"base64:AAAA"}},` +
				`{"type":"image","data":{"file":"file:///tmp/i.png"}}]`,
			media: []channel.Attachment{
				{Type: channel.AttachmentVideo, URL: "/tmp/v.mp4"},
				{Type: channel.AttachmentAudio, URL: "base64:AAAA"},
				{Type: channel.AttachmentImage, URL: "file:///tmp/i.png"},
			},
		},
		{
			name: "unusable references are dropped",
			raw:  `[{"type":"image","data":{"file":"abc123.image"}},{"type":"record","data":{}},{"type":"video","data":{"url":""}}]`,
		},
		{
			name:  "url preferred over file",
			raw:   `[{"type":"image","data":{"file":"abc.image","url":"http://gchat/abc"}}]`,
			media: []channel.Attachment{{Type: channel.AttachmentImage, URL: "http://gchat/abc"}},
		},
		{
			name: "file used when url unusable",
			raw:  `[{"type":"image","data":{"file":"https://cdn/a.jpg","url":"nope"}}]`,
			media: []channel.Attachment{
				{Type: channel.AttachmentImage, URL: "https://cdn/a.jpg"},
			},
		},
		{
			name: "single segment object",
			raw:  `{"type":"text","data":{"text":"solo"}}`,
			text: "solo",
		},
		{
			name: "null",
			raw:  `null`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMessage(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.text, got.Text)
			assert.Equal(t, tt.media, got.Media)
		})
	}
}

func TestParseMessageMalformed(t *testing.T) {
	t.Parallel()

	_, err := ParseMessage(json.RawMessage(`[{"type":`))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestBuildSegments(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []Segment{{Type: SegmentText, Data: map[string]any{"text": "hi"}}}, BuildSegments("hi"))

	audio := channel.Attachment{Type: channel.AttachmentAudio, URL: "https://x/a.mp3"}
	assert.Equal(t, []Segment{{Type: SegmentRecord, Data: map[string]any{"file": "https://x/a.mp3"}}}, BuildSegments("", audio))

	video := channel.Attachment{Type: channel.AttachmentVideo, URL: "/srv/v.mp4"}
	got := BuildSegments("caption", video)
	require.Len(t, got, 2)
	assert.Equal(t, SegmentText, got[0].Type)
	assert.Equal(t, SegmentVideo, got[1].Type)
	assert.Equal(t, "/srv/v.mp4", got[1].Data["file"])

	assert.Empty(t, BuildSegments("", channel.Attachment{URL: "  "}))
}

func TestLooksLikeReference(t *testing.T) {
	t.Parallel()

	for _, ref := range []string{"https://a/b", "file:///x", "s3+x://bucket/k", "/abs/path", "base64:AAA"} {
		assert.True(t, LooksLikeReference(ref), ref)
	}
	for _, ref := range []string{"", "relative/path", "abc.image", "://nope", "1http://x"} {
		assert.False(t, LooksLikeReference(ref), ref)
	}
}
