package preview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/platform/gcp"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

const (
	DefaultMaxChars = 8000
	DefaultMaxBytes = 10 << 20
)

// DownloadFunc fetches an attachment body and reports its content type.
type DownloadFunc func(ctx context.Context, rawURL string) ([]byte, string, error)

// NewDownloader reads gs:// URLs from store and HTTP(S) URLs that match one of
// allowedPrefixes. store may be nil, in which case gs:// URLs fail. With no
// prefixes every HTTP(S) URL is refused.
func NewDownloader(store gcp.ObjectStore, httpClient *http.Client, maxBytes int64, allowedPrefixes []string) DownloadFunc {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	allow := newURLAllowList(allowedPrefixes)
	client := *httpClient
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		if !allow.match(req.URL) {
			return fmt.Errorf("%w: redirect to %s", ErrURLNotAllowed, req.URL.Redacted())
		}
		return nil
	}
	return func(ctx context.Context, raw string) ([]byte, string, error) {
		switch {
		case strings.HasPrefix(raw, "gs://"):
			if store == nil {
				return nil, "", errors.New("object store not configured")
			}
			return store.Download(ctx, raw, maxBytes)
		case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
			u, err := url.Parse(raw)
			if err != nil {
				return nil, "", err
			}
			if !allow.match(u) {
				return nil, "", fmt.Errorf("%w: %s", ErrURLNotAllowed, u.Redacted())
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
			if err != nil {
				return nil, "", err
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, "", err
			}
			defer resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, "", fmt.Errorf("download %s: status %d", u.Redacted(), resp.StatusCode)
			}
			b, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
			if err != nil {
				return nil, "", err
			}
			return b, resp.Header.Get("Content-Type"), nil
		default:
			return nil, "", fmt.Errorf("unsupported attachment url %q", raw)
		}
	}
}

// ErrURLNotAllowed is returned for attachment URLs outside the allow-list.
var ErrURLNotAllowed = errors.New("attachment url not allowed")

// urlAllowList matches on scheme, exact host and a path prefix that ends at a
// segment boundary, so "https://cdn.example.com/u" admits neither
// "https://cdn.example.com.evil/u" nor "https://cdn.example.com/u2".
type urlAllowList []*url.URL

func newURLAllowList(prefixes []string) urlAllowList {
	var out urlAllowList
	for _, p := range prefixes {
		u, err := url.Parse(strings.TrimSpace(p))
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		u.Path = strings.TrimRight(u.Path, "/")
		out = append(out, u)
	}
	return out
}

func (l urlAllowList) match(u *url.URL) bool {
	if u == nil || u.User != nil {
		return false
	}
	for _, p := range l {
		if u.Scheme != p.Scheme || !strings.EqualFold(u.Host, p.Host) {
			continue
		}
		if p.Path == "" || u.Path == p.Path || strings.HasPrefix(u.Path, p.Path+"/") {
			return true
		}
	}
	return false
}

// Builder turns chat attachments into text parts the model can read.
type Builder struct {
	log      *logger.Logger
	docs     gcp.DocumentText
	maxChars int
}

// NewBuilder accepts a nil docs service; PDFs are then skipped.
func NewBuilder(log *logger.Logger, docs gcp.DocumentText, maxChars int) *Builder {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Builder{log: log.With("service", "PreviewBuilder"), docs: docs, maxChars: maxChars}
}

// BuildPreviewParts returns one text part per previewable attachment, in input order.
// Failures are logged and the attachment is skipped.
func (b *Builder) BuildPreviewParts(ctx context.Context, atts []chat.Attachment, download DownloadFunc) []chat.Part {
	if b == nil || download == nil {
		return nil
	}
	var out []chat.Part
	for _, att := range atts {
		if att.Type != chat.AttachmentFile || att.URL == "" {
			continue
		}
		kind := classify(att.MediaType, att.Filename)
		if kind == kindNone || (kind == kindPDF && b.docs == nil) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out
		}
		body, ctype, err := download(ctx, att.URL)
		if err != nil {
			b.log.Warn("attachment download failed; skipping preview", "filename", att.Filename, "error", err)
			continue
		}
		if att.MediaType == "" && ctype != "" {
			if k := classify(ctype, att.Filename); k != kindNone {
				kind = k
			}
		}

		var text string
		switch kind {
		case kindText:
			text = sanitizeUTF8(string(body))
		case kindPDF:
			text, err = b.docs.ExtractText(ctx, "application/pdf", body)
			if err != nil {
				b.log.Warn("document text extraction failed; skipping preview", "filename", att.Filename, "error", err)
				continue
			}
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		out = append(out, chat.TextPart(render(displayName(att), fence(att.Filename, kind), truncate(text, b.maxChars))))
	}
	return out
}

type kind int

const (
	kindNone kind = iota
	kindText
	kindPDF
)

var textExts = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true, ".tsv": true, ".json": true,
	".yaml": true, ".yml": true, ".xml": true, ".html": true, ".log": true, ".go": true,
	".py": true, ".js": true, ".ts": true, ".sql": true, ".sh": true, ".toml": true,
}

func classify(mediaType, filename string) kind {
	mt, _, _ := mime.ParseMediaType(strings.TrimSpace(mediaType))
	switch {
	case mt == "application/pdf":
		return kindPDF
	case strings.HasPrefix(mt, "text/"),
		mt == "application/json", mt == "application/xml",
		mt == "application/x-yaml", mt == "application/yaml":
		return kindText
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".pdf" {
		return kindPDF
	}
	if textExts[ext] {
		return kindText
	}
	return kindNone
}

func displayName(att chat.Attachment) string {
	if att.Filename != "" {
		return att.Filename
	}
	return att.URL
}

func fence(filename string, k kind) string {
	if k != kindText {
		return ""
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	switch ext {
	case "txt", "log", "":
		return ""
	case "yml":
		return "yaml"
	case "markdown":
		return "md"
	}
	return ext
}

func render(name, lang, body string) string {
	return fmt.Sprintf("Attachment %s:\n```%s\n%s\n```", name, lang, body)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "\n[truncated]"
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, " ")
}
