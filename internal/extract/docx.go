package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	contentTypesPath     = "[Content_Types].xml"
	defaultDocxMainPart  = "word/document.xml"
	docxMainContentType  = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	maxDocxPartSizeBytes = 64 << 20
)

type contentTypes struct {
	Overrides []struct {
		PartName    string `xml:"PartName,attr"`
		ContentType string `xml:"ContentType,attr"`
	} `xml:"Override"`
}

// extractDOCX reads the main WordprocessingML part of an OOXML package and
// returns its text with one line per paragraph.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("not an OOXML package: %w", err)
	}
	partName := mainDocumentPart(zr)
	part, err := readZipPart(zr, partName)
	if err != nil {
		return "", err
	}
	return wordprocessingText(part)
}

// mainDocumentPart resolves the main document through [Content_Types].xml,
// falling back to word/document.xml.
func mainDocumentPart(zr *zip.Reader) string {
	raw, err := readZipPart(zr, contentTypesPath)
	if err != nil {
		return defaultDocxMainPart
	}
	var ct contentTypes
	if err := xml.Unmarshal(raw, &ct); err != nil {
		return defaultDocxMainPart
	}
	for _, o := range ct.Overrides {
		if o.ContentType == docxMainContentType && o.PartName != "" {
			return strings.TrimPrefix(o.PartName, "/")
		}
	}
	return defaultDocxMainPart
}

func readZipPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(io.LimitReader(rc, maxDocxPartSizeBytes))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s not found", name)
}

// wordprocessingText walks w:t runs, emitting tabs and breaks, and ends each w:p with a newline.
func wordprocessingText(part []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(part))
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document XML: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(el)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
