package extraction

import (
	"mime"
	"path/filepath"
	"strings"
)

// Kind is the closed set of content families the dispatcher handles
type Kind int

const (
	KindUnsupported Kind = iota
	KindImage
	KindPDF
	KindSpreadsheet
	KindPresentation
	KindWord
	KindDelimited
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindPDF:
		return "pdf"
	case KindSpreadsheet:
		return "spreadsheet"
	case KindPresentation:
		return "presentation"
	case KindWord:
		return "word"
	case KindDelimited:
		return "delimited"
	default:
		return "unsupported"
	}
}

const (
	mimePDF          = "application/pdf"
	mimeSpreadsheet  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimePresentation = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	mimeWord         = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeOctetStream  = "application/octet-stream"
)

var mimeKinds = map[string]Kind{
	mimePDF:                     KindPDF,
	"application/x-pdf":         KindPDF,
	mimeSpreadsheet:             KindSpreadsheet,
	mimePresentation:            KindPresentation,
	mimeWord:                    KindWord,
	"text/csv":                  KindDelimited,
	"application/csv":           KindDelimited,
	"text/tab-separated-values": KindDelimited,
	"image/png":                 KindImage,
	"image/jpeg":                KindImage,
	"image/jpg":                 KindImage,
	"image/pjpeg":               KindImage,
	"image/gif":                 KindImage,
	"image/bmp":                 KindImage,
	"image/x-ms-bmp":            KindImage,
	"image/tiff":                KindImage,
	"image/webp":                KindImage,
}

var extKinds = map[string]Kind{
	".pdf":  KindPDF,
	".xlsx": KindSpreadsheet,
	".pptx": KindPresentation,
	".docx": KindWord,
	".csv":  KindDelimited,
	".tsv":  KindDelimited,
	".png":  KindImage,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".gif":  KindImage,
	".bmp":  KindImage,
	".tif":  KindImage,
	".tiff": KindImage,
	".webp": KindImage,
}

// Classify maps a declared MIME type onto a Kind. Mail clients often send
// application/octet-stream or nothing at all, in which case the file
// extension decides.
func Classify(mimeType, fileName string) Kind {
	mt := normalizeMIME(mimeType)
	if kind, ok := mimeKinds[mt]; ok {
		return kind
	}
	if mt == "" || mt == mimeOctetStream {
		return extKinds[strings.ToLower(filepath.Ext(fileName))]
	}
	return KindUnsupported
}

func normalizeMIME(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		return strings.ToLower(mt)
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
