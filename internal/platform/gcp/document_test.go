package gcp

import (
	"strings"
	"testing"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
)

func anchor(start, end int64) *documentaipb.Document_TextAnchor {
	return &documentaipb.Document_TextAnchor{
		TextSegments: []*documentaipb.Document_TextAnchor_TextSegment{{StartIndex: start, EndIndex: end}},
	}
}

func cell(start, end int64) *documentaipb.Document_Page_Table_TableCell {
	return &documentaipb.Document_Page_Table_TableCell{Layout: &documentaipb.Document_Page_Layout{TextAnchor: anchor(start, end)}}
}

func TestDocumentTextRendersParagraphsAndTables(t *testing.T) {
	full := "Quarterly  report\nname|qty\nbolts5"
	doc := &documentaipb.Document{
		Text: full,
		Pages: []*documentaipb.Document_Page{{
			Paragraphs: []*documentaipb.Document_Page_Paragraph{
				{Layout: &documentaipb.Document_Page_Layout{TextAnchor: anchor(0, 17)}},
			},
			Tables: []*documentaipb.Document_Page_Table{{
				HeaderRows: []*documentaipb.Document_Page_Table_TableRow{{Cells: []*documentaipb.Document_Page_Table_TableCell{cell(18, 22), cell(23, 26)}}},
				BodyRows:   []*documentaipb.Document_Page_Table_TableRow{{Cells: []*documentaipb.Document_Page_Table_TableCell{cell(27, 32), cell(32, 33)}}},
			}},
		}},
	}
	got := documentText(doc)
	if !strings.HasPrefix(got, "Quarterly report\n") {
		t.Fatalf("paragraph: got=%q", got)
	}
	if !strings.Contains(got, "| name | qty |\n| --- | --- |\n| bolts | 5 |") {
		t.Fatalf("table: got=%q", got)
	}
}

func TestParseGSURL(t *testing.T) {
	b, k, err := ParseGSURL("gs://chat-files/u1/report.pdf")
	if err != nil || b != "chat-files" || k != "u1/report.pdf" {
		t.Fatalf("ParseGSURL: b=%q k=%q err=%v", b, k, err)
	}
	for _, bad := range []string{"https://x/y", "gs://bucket", "gs:///k"} {
		if _, _, err := ParseGSURL(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
