package jenkins

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoPipelineScript is returned when a job config has no <script> element.
var ErrNoPipelineScript = errors.New("job config has no pipeline script")

const scriptElement = "script"

var xmlTextEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\r", "&#xD;")

// scriptSpan locates the first <script> element of a config document.
type scriptSpan struct {
	tagStart    int // offset of "<script"
	innerStart  int // offset just past the start tag
	innerEnd    int // offset of "</script>"
	tagEnd      int // offset just past the end tag
	selfClosing bool
	text        string
}

// ExtractPipelineScript returns the text of the first <script> element in a
// job's config.xml, as found in pipeline jobs.
func ExtractPipelineScript(configXML string) (string, error) {
	span, err := findScript(configXML)
	if err != nil {
		return "", err
	}

	return span.text, nil
}

// ReplacePipelineScript swaps the text of the first <script> element for
// script. Every byte outside that element's content is preserved.
func ReplacePipelineScript(configXML, script string) (string, error) {
	span, err := findScript(configXML)
	if err != nil {
		return "", err
	}

	escaped := xmlTextEscaper.Replace(script)

	if span.selfClosing {
		return configXML[:span.tagStart] +
			"<" + scriptElement + ">" + escaped + "</" + scriptElement + ">" +
			configXML[span.tagEnd:], nil
	}

	return configXML[:span.innerStart] + escaped + configXML[span.innerEnd:], nil
}

func findScript(doc string) (*scriptSpan, error) {
	// encoding/xml only accepts XML 1.0 declarations and Jenkins writes 1.1,
	// so decoding starts after the prolog.
	base := prologEnd(doc)

	dec := xml.NewDecoder(strings.NewReader(doc[base:]))
	dec.Strict = false

	var (
		span  *scriptSpan
		depth int
		text  bytes.Buffer
	)

	for {
		before := int(dec.InputOffset())

		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("parsing job config: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if span == nil && t.Name.Local == scriptElement {
				after := int(dec.InputOffset())
				span = &scriptSpan{
					tagStart:    base + before,
					innerStart:  base + after,
					selfClosing: strings.HasSuffix(doc[base+before:base+after], "/>"),
				}
				depth = 1

				continue
			}

			if span != nil && depth > 0 {
				depth++
			}
		case xml.CharData:
			if span != nil && depth == 1 {
				text.Write(t)
			}
		case xml.EndElement:
			if span == nil || depth == 0 {
				continue
			}

			depth--

			if depth == 0 {
				span.innerEnd = base + before
				span.tagEnd = base + int(dec.InputOffset())
				span.text = text.String()

				return span, nil
			}
		}
	}

	if span != nil {
		return nil, fmt.Errorf("parsing job config: unterminated <%s> element", scriptElement)
	}

	return nil, ErrNoPipelineScript
}

// prologEnd returns the offset just past a leading <?xml ...?> declaration.
func prologEnd(doc string) int {
	trimmed := strings.TrimLeft(doc, " \t\r\n\ufeff")
	if !strings.HasPrefix(trimmed, "<?xml") {
		return 0
	}

	offset := len(doc) - len(trimmed)

	end := strings.Index(trimmed, "?>")
	if end < 0 {
		return 0
	}

	return offset + end + len("?>")
}
