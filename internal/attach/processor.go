// Package attach normalizes raw uploads into attachment records: images keep
// their bytes for the vision side channel, documents get their text extracted
// for folding into the chat payload.
package attach

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"classchat/internal/util"
	"classchat/pkg/domain"
)

// ErrUnsupportedAttachment is returned when an upload is neither an image nor
// a document we can extract text from. The caller reports it per attachment
// and continues with the rest of the message.
var ErrUnsupportedAttachment = errors.New("unsupported attachment")

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".bmp": true, ".tiff": true,
}

var textExts = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true, ".tsv": true,
	".log": true, ".yaml": true, ".yml": true, ".toml": true, ".ini": true,
	".py": true, ".go": true, ".js": true, ".ts": true, ".java": true,
	".c": true, ".h": true, ".cpp": true, ".rs": true, ".rb": true,
	".sh": true, ".sql": true, ".xml": true,
}

// Process turns a raw upload into an attachment record ready for persistence.
// The record starts with inline bytes; the caller may move them to the object
// store afterwards. An empty file is a valid (empty) record, not an error.
func Process(filename, declaredMime string, data []byte) (domain.Attachment, error) {
	name := strings.TrimSpace(path.Base(filename))
	if name == "" || name == "." || name == "/" {
		name = "file"
	}
	ext := strings.ToLower(path.Ext(name))

	att := domain.Attachment{
		ID:             util.NewID(),
		Filename:       name,
		Mime:           normalizeMime(declaredMime, ext),
		SizeBytes:      int64(len(data)),
		StorageVariant: domain.StorageInline,
		Data:           data,
		CreatedAt:      time.Now().UTC(),
	}

	if strings.HasPrefix(att.Mime, "image/") || imageExts[ext] {
		att.Kind = domain.KindImage
		return att, nil
	}

	att.Kind = domain.KindDocument
	if len(data) == 0 {
		return att, nil
	}

	text, meta, err := extractText(att.Mime, ext, data)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("%s: %w", name, err)
	}
	att.TextContent = text
	att.Meta = meta
	return att, nil
}

func normalizeMime(declared, ext string) string {
	declared = strings.TrimSpace(strings.ToLower(declared))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	switch {
	case imageExts[ext]:
		return "image/" + strings.TrimPrefix(ext, ".")
	case ext == ".pdf":
		return "application/pdf"
	case ext == ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ext == ".html" || ext == ".htm":
		return "text/html"
	case ext == ".json":
		return "application/json"
	case textExts[ext]:
		return "text/plain"
	}
	if declared == "" {
		return "application/octet-stream"
	}
	return declared
}

func extractText(mimeType, ext string, data []byte) (string, map[string]string, error) {
	switch {
	case mimeType == "application/pdf" || ext == ".pdf":
		return pdfText(data)
	case ext == ".docx" || strings.Contains(mimeType, "wordprocessingml"):
		text, err := docxText(data)
		return text, nil, err
	case mimeType == "text/html" || ext == ".html" || ext == ".htm":
		text, err := htmlText(data)
		return text, nil, err
	case mimeType == "application/json" || ext == ".json":
		return jsonText(data), nil, nil
	case strings.HasPrefix(mimeType, "text/") || textExts[ext]:
		return decodeText(data), nil, nil
	}
	return "", nil, ErrUnsupportedAttachment
}

// decodeText keeps valid UTF-8 as-is and substitutes the replacement rune for
// invalid sequences so no readable bytes are dropped.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}

// jsonText pretty-prints valid JSON and falls back to the raw text otherwise.
func jsonText(data []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return decodeText(data)
	}
	return buf.String()
}

// pdfText extracts plain text page by page, skipping pages that fail to
// decode so one broken page does not lose the whole document.
func pdfText(data []byte) (string, map[string]string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, ErrUnsupportedAttachment
	}
	var b strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil || text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strings.TrimRight(text, "\n"))
	}
	meta := map[string]string{"pages": strconv.Itoa(pages)}
	return b.String(), meta, nil
}

// docxText pulls the visible text runs out of word/document.xml.
func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", ErrUnsupportedAttachment
	}
	var doc io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc, err = f.Open()
			if err != nil {
				return "", ErrUnsupportedAttachment
			}
			break
		}
	}
	if doc == nil {
		return "", ErrUnsupportedAttachment
	}
	defer doc.Close()

	dec := xml.NewDecoder(doc)
	var b strings.Builder
	inRun := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", ErrUnsupportedAttachment
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inRun = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inRun = false
			case "p":
				b.WriteString("\n")
			}
		case xml.CharData:
			if inRun {
				b.Write(t)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// htmlText walks the parsed tree collecting text nodes, skipping script and
// style subtrees.
func htmlText(data []byte) (string, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", ErrUnsupportedAttachment
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				b.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return b.String(), nil
}
