package onebot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/memohai/onebot/internal/channel"
)

// sniffBytes is how much of a remote file is fetched for content sniffing.
const sniffBytes = 3072

// ErrMediaTooLarge is returned when a local file exceeds the account's media cap.
var ErrMediaTooLarge = errors.New("onebot: media exceeds size limit")

// MimeDetector returns the MIME type of a media reference. limit caps the
// number of bytes a detector may read from a local file; zero means no cap.
type MimeDetector interface {
	Detect(ctx context.Context, ref string, limit int64) (string, error)
}

// KindFromMime maps a MIME type to an attachment kind.
func KindFromMime(mimeType string) (channel.AttachmentType, bool) {
	mediaType := strings.ToLower(strings.TrimSpace(mimeType))
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return channel.AttachmentImage, true
	case strings.HasPrefix(mediaType, "audio/"):
		return channel.AttachmentAudio, true
	case strings.HasPrefix(mediaType, "video/"):
		return channel.AttachmentVideo, true
	default:
		return "", false
	}
}

// MediaResolver classifies outbound media references.
type MediaResolver struct {
	Detector MimeDetector
	// MaxBytes is passed to the detector as the local file cap.
	MaxBytes int64
	Logger   *slog.Logger
}

// Resolve classifies ref. base64: payloads are always images. ok is false
// when no kind could be determined; callers then send the reference as text.
func (r MediaResolver) Resolve(ctx context.Context, ref string) (channel.AttachmentType, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if strings.HasPrefix(ref, base64Prefix) {
		return channel.AttachmentImage, true
	}
	if r.Detector == nil {
		return "", false
	}
	mimeType, err := r.Detector.Detect(ctx, ref, r.MaxBytes)
	if err != nil {
		if r.Logger != nil {
			r.Logger.Debug("mime detection failed", slog.String("ref", ref), slog.Any("error", err))
		}
		return "", false
	}
	return KindFromMime(mimeType)
}

// ContentDetector is the default MimeDetector. Local files are sniffed with
// mimetype, URLs are classified by extension first and sniffed over HTTP
// when the extension is unknown.
type ContentDetector struct {
	Client *http.Client
}

// NewContentDetector returns a detector using client for remote sniffing.
func NewContentDetector(client *http.Client) *ContentDetector {
	if client == nil {
		client = http.DefaultClient
	}
	return &ContentDetector{Client: client}
}

// Detect implements MimeDetector.
func (d *ContentDetector) Detect(ctx context.Context, ref string, limit int64) (string, error) {
	if local, ok := localPath(ref); ok {
		return detectFile(local, limit)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse media reference: %w", err)
	}
	if byExt := mime.TypeByExtension(strings.ToLower(path.Ext(u.Path))); byExt != "" {
		return byExt, nil
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("cannot detect media type of %s reference", u.Scheme)
	}
	return d.sniff(ctx, u.String())
}

func (d *ContentDetector) sniff(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", sniffBytes-1))
	resp, err := d.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("sniff media: status %d", resp.StatusCode)
	}
	detected, err := mimetype.DetectReader(io.LimitReader(resp.Body, sniffBytes))
	if err != nil {
		return "", err
	}
	if detected.Is("application/octet-stream") {
		if header := resp.Header.Get("Content-Type"); header != "" {
			return header, nil
		}
	}
	return detected.String(), nil
}

func detectFile(name string, limit int64) (string, error) {
	info, err := os.Stat(name)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", name)
	}
	if limit > 0 && info.Size() > limit {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrMediaTooLarge, info.Size(), limit)
	}
	detected, err := mimetype.DetectFile(name)
	if err != nil {
		return "", err
	}
	return detected.String(), nil
}

func localPath(ref string) (string, bool) {
	if strings.HasPrefix(ref, "file://") {
		u, err := url.Parse(ref)
		if err != nil {
			return "", false
		}
		return filepath.FromSlash(u.Path), true
	}
	if strings.HasPrefix(ref, "/") || filepath.IsAbs(ref) {
		return ref, true
	}
	return "", false
}
