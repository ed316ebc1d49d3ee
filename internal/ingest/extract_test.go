package ingest

import (
	"strings"
	"testing"
)

func TestExtractTextPlain(t *testing.T) {
	got, err := ExtractText([]byte("just plain text"))
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if got != "just plain text" {
		t.Errorf("ExtractText = %q", got)
	}
}

func TestExtractTextHTML(t *testing.T) {
	page := `<!DOCTYPE html>
<html><head><title>Guide</title><style>body { color: red }</style></head>
<body>
<h1>Install Guide</h1>
<p>Run the installer.</p>
<script>console.log("ignore me")</script>
</body></html>`

	got, err := ExtractText([]byte(page))
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if !strings.Contains(got, "Install Guide") || !strings.Contains(got, "Run the installer.") {
		t.Errorf("ExtractText = %q, missing body text", got)
	}
	if strings.Contains(got, "ignore me") || strings.Contains(got, "color: red") {
		t.Errorf("ExtractText = %q, script/style leaked", got)
	}
}

func TestExtractTextHTMLParagraphBreaks(t *testing.T) {
	got, err := ExtractText([]byte("<html><body><p>one</p><p>two</p></body></html>"))
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if !strings.Contains(got, "one\n\ntwo") {
		t.Errorf("ExtractText = %q, want paragraph break between blocks", got)
	}
}

func TestExtractTextBadPDF(t *testing.T) {
	if _, err := ExtractText([]byte("%PDF-1.4 not really a pdf")); err == nil {
		t.Error("ExtractText succeeded on corrupt pdf")
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	got := normalizeWhitespace("  a   b \n\n\n\n c\t d  \n")
	if got != "a b\n\nc d" {
		t.Errorf("normalizeWhitespace = %q", got)
	}
}
