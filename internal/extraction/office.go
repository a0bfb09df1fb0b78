package extraction

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// maxXMLPart bounds how much of one archive member is decoded
const maxXMLPart = 64 << 20

var (
	errPartMissing = errors.New("document part missing")
	slideNameRe    = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

// extractWord returns the body text of a word-processing document,
// one line per paragraph
func extractWord(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()
		return walkText(rc, "t", "p", map[string]string{"tab": "\t", "br": "\n", "cr": "\n"})
	}
	return "", fmt.Errorf("%w: word/document.xml", errPartMissing)
}

// extractPresentation returns the text of every slide in slide order,
// slides separated by a blank line
func extractPresentation(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	type slide struct {
		n    int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideNameRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{n: n, file: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	var parts []string
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return "", err
		}
		text, err := walkText(rc, "t", "p", map[string]string{"br": "\n"})
		rc.Close()
		if err != nil {
			return "", err
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// walkText streams an XML part and collects character data found inside
// textElem elements. paraElem closes a line; inline maps empty elements
// such as tabs and breaks to their text.
func walkText(r io.Reader, textElem, paraElem string, inline map[string]string) (string, error) {
	dec := xml.NewDecoder(io.LimitReader(r, maxXMLPart))
	dec.Strict = false

	var (
		sb     strings.Builder
		line   strings.Builder
		inText int
	)
	flush := func() {
		if l := strings.TrimSpace(line.String()); l != "" {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(l)
		}
		line.Reset()
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == textElem {
				inText++
			} else if s, ok := inline[t.Name.Local]; ok {
				line.WriteString(s)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case textElem:
				if inText > 0 {
					inText--
				}
			case paraElem:
				flush()
			}
		case xml.CharData:
			if inText > 0 {
				line.Write(t)
			}
		}
	}
	flush()
	return sb.String(), nil
}
