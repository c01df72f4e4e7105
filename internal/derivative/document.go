package derivative

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Лимиты извлечения текста.
const (
	maxPreviewChars = 4000
	maxXMLBytes     = 16 << 20
)

// textExtractable — форматы-архивы с XML, из которых извлекается текст.
var textExtractable = map[string]bool{
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.oasis.opendocument.text":                                 true,
}

// isPlainText — текстовые форматы, отрисовываемые напрямую.
func isPlainText(ct string) bool {
	return strings.HasPrefix(ct, "text/")
}

// pdfFirstPage растеризует первую страницу PDF через pdftoppm.
func (g *Generator) pdfFirstPage(ctx context.Context, data []byte) (image.Image, error) {
	dir, err := os.MkdirTemp("", "mm-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временной директории: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "source.pdf")
	if err := os.WriteFile(src, data, 0o600); err != nil {
		return nil, fmt.Errorf("ошибка записи временного файла: %w", err)
	}
	outPrefix := filepath.Join(dir, "page")

	//nolint:gosec // путь к pdftoppm задаётся конфигурацией
	cmd := exec.CommandContext(ctx, g.opts.PdftoppmPath,
		"-f", "1", "-l", "1",
		"-r", strconv.Itoa(g.opts.DocumentDPI),
		"-png", "-singlefile",
		src, outPrefix,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: pdftoppm: %v: %s", ErrProcessing, err, truncate(stderr.String(), 300))
	}

	page, err := os.ReadFile(outPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("%w: pdftoppm не создал страницу: %v", ErrProcessing, err)
	}
	img, _, err := image.Decode(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("%w: не удалось декодировать страницу: %v", ErrProcessing, err)
	}
	return img, nil
}

// documentLayout — где лежит текст в архиве документа.
type documentLayout struct {
	entry     string
	textElems map[string]bool
	paraElems map[string]bool
}

var (
	docxLayout = documentLayout{
		entry:     "word/document.xml",
		textElems: map[string]bool{"t": true},
		paraElems: map[string]bool{"p": true, "br": true},
	}
	odtLayout = documentLayout{
		entry:     "content.xml",
		textElems: map[string]bool{"p": true, "h": true, "span": true, "a": true},
		paraElems: map[string]bool{"p": true, "h": true, "line-break": true},
	}
)

// extractDocumentText извлекает начальный текст из DOCX или ODT.
func extractDocumentText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: документ не является zip-архивом: %v", ErrProcessing, err)
	}

	for _, layout := range []documentLayout{docxLayout, odtLayout} {
		f := findZipEntry(zr, layout.entry)
		if f == nil {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrProcessing, err)
		}
		text, err := extractXMLText(io.LimitReader(rc, maxXMLBytes), layout)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("%w: некорректный XML документа: %v", ErrProcessing, err)
		}
		return text, nil
	}
	return "", fmt.Errorf("%w: в архиве нет текста документа", ErrProcessing)
}

func findZipEntry(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// extractXMLText собирает символьные данные внутри текстовых элементов,
// разделяя абзацы переводом строки. Останавливается на maxPreviewChars.
func extractXMLText(r io.Reader, layout documentLayout) (string, error) {
	dec := xml.NewDecoder(r)
	var sb strings.Builder
	depth := 0

	for utf8.RuneCountInString(sb.String()) < maxPreviewChars {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if layout.textElems[t.Name.Local] {
				depth++
			}
			if t.Name.Local == "tab" {
				sb.WriteByte('\t')
			}
		case xml.EndElement:
			if layout.textElems[t.Name.Local] && depth > 0 {
				depth--
			}
			if layout.paraElems[t.Name.Local] {
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if depth > 0 {
				sb.Write(t)
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// leadingText возвращает начало текстового файла как корректный UTF-8.
func leadingText(data []byte) string {
	if len(data) > maxPreviewChars*4 {
		data = data[:maxPreviewChars*4]
	}
	s := strings.ToValidUTF8(string(data), "")
	if utf8.RuneCountInString(s) > maxPreviewChars {
		s = string([]rune(s)[:maxPreviewChars])
	}
	return s
}
