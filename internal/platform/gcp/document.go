package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/yungbote/chorus-backend/internal/platform/ctxutil"
	"github.com/yungbote/chorus-backend/internal/platform/envutil"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

// DocumentText extracts readable text from a document such as a PDF.
type DocumentText interface {
	ExtractText(ctx context.Context, mimeType string, data []byte) (string, error)
	Close() error
}

type documentService struct {
	log       *logger.Logger
	docClient *documentai.DocumentProcessorClient
	processor string
	timeout   time.Duration
}

// NewDocumentText returns (nil, nil) unless DOCUMENTAI_PROJECT_ID and
// DOCUMENTAI_PROCESSOR_ID are set.
func NewDocumentText(log *logger.Logger) (DocumentText, error) {
	project := envutil.String("DOCUMENTAI_PROJECT_ID", "")
	processorID := envutil.String("DOCUMENTAI_PROCESSOR_ID", "")
	if project == "" || processorID == "" {
		return nil, nil
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	location := envutil.String("DOCUMENTAI_LOCATION", "us")
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)

	docOpts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, ClientOptionsFromEnv()...)
	c, err := documentai.NewDocumentProcessorClient(context.Background(), docOpts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}
	slog := log.With("service", "gcp.DocumentText")
	slog.Info("Document AI initialized", "endpoint", endpoint)
	return &documentService{
		log:       slog,
		docClient: c,
		processor: processorName(project, location, processorID, envutil.String("DOCUMENTAI_PROCESSOR_VERSION", "")),
		timeout:   envutil.Duration("DOCUMENTAI_TIMEOUT", 90*time.Second),
	}, nil
}

func (s *documentService) Close() error {
	if s == nil || s.docClient == nil {
		return nil
	}
	return s.docClient.Close()
}

func (s *documentService) ExtractText(ctx context.Context, mimeType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	if mimeType == "" {
		mimeType = "application/pdf"
	}
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), s.timeout)
	defer cancel()

	resp, err := s.docClient.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: s.processor,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{Content: data, MimeType: mimeType},
		},
	})
	if err != nil {
		return "", fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	if resp == nil || resp.Document == nil {
		return "", nil
	}
	return documentText(resp.Document), nil
}

// documentText renders paragraphs per page followed by that page's tables as markdown.
func documentText(doc *documentaipb.Document) string {
	if doc == nil {
		return ""
	}
	if len(doc.Pages) == 0 {
		return strings.TrimSpace(doc.Text)
	}
	var out strings.Builder
	for _, p := range doc.Pages {
		if p == nil {
			continue
		}
		for _, para := range p.Paragraphs {
			if para == nil || para.Layout == nil {
				continue
			}
			if t := collapseWhitespace(textFromAnchor(doc.Text, para.Layout.TextAnchor)); t != "" {
				out.WriteString(t)
				out.WriteString("\n")
			}
		}
		for _, t := range p.Tables {
			if md := tableToMarkdown(doc.Text, t); md != "" {
				out.WriteString("\n")
				out.WriteString(md)
			}
		}
	}
	if s := strings.TrimSpace(out.String()); s != "" {
		return s
	}
	return strings.TrimSpace(doc.Text)
}

func textFromAnchor(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil || len(anchor.TextSegments) == 0 || full == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.TextSegments {
		if seg == nil {
			continue
		}
		start := max(int(seg.StartIndex), 0)
		end := min(int(seg.EndIndex), len(full))
		if start >= end {
			continue
		}
		b.WriteString(full[start:end])
	}
	return b.String()
}

func tableToMarkdown(full string, t *documentaipb.Document_Page_Table) string {
	if t == nil {
		return ""
	}
	var header []string
	if len(t.HeaderRows) > 0 {
		header = rowCells(full, t.HeaderRows[0])
	}
	body := t.BodyRows
	if len(header) == 0 && len(body) > 0 {
		header = rowCells(full, body[0])
		body = body[1:]
	}
	if len(header) == 0 {
		return ""
	}
	rows := [][]string{header}
	for _, r := range body {
		if r != nil {
			rows = append(rows, rowCells(full, r))
		}
	}
	cols := 0
	for _, r := range rows {
		cols = max(cols, len(r))
	}
	var out strings.Builder
	for i, r := range rows {
		for len(r) < cols {
			r = append(r, "")
		}
		out.WriteString("| " + strings.Join(r, " | ") + " |\n")
		if i == 0 {
			out.WriteString("|" + strings.Repeat(" --- |", cols) + "\n")
		}
	}
	return out.String()
}

func rowCells(full string, r *documentaipb.Document_Page_Table_TableRow) []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Cells))
	for _, c := range r.Cells {
		if c == nil || c.Layout == nil {
			out = append(out, "")
			continue
		}
		out = append(out, strings.ReplaceAll(collapseWhitespace(textFromAnchor(full, c.Layout.TextAnchor)), "|", "\\|"))
	}
	return out
}

func processorName(project, location, processorID, version string) string {
	base := fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processorID)
	if strings.TrimSpace(version) != "" {
		return base + "/processorVersions/" + strings.TrimSpace(version)
	}
	return base
}
