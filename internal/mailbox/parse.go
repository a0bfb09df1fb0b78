package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/net/html"
)

// ErrUnparsable indicates raw bytes that are not a MIME message
var ErrUnparsable = errors.New("message could not be parsed")

// Message is one parsed mailbox message with full attachment content
type Message struct {
	UID         uint32       `json:"mailboxUid"`
	From        string       `json:"from"`
	Subject     string       `json:"subject"`
	Date        time.Time    `json:"date"`
	Text        string       `json:"text"`
	HTML        string       `json:"html,omitempty"`
	Attachments []Attachment `json:"attachments"`
}

// Attachment is one file carried by a Message. Content may be empty.
type Attachment struct {
	FileName    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
	Content     []byte `json:"content,omitempty"`
}

// Parse decodes a raw RFC 5322 message
func Parse(raw []byte) (*Message, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	if entity == nil {
		return nil, ErrUnparsable
	}

	msg := &Message{}
	h := mail.Header{Header: entity.Header}

	if subject, err := h.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = h.Get("Subject")
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = formatAddress(from[0])
	} else {
		msg.From = strings.TrimSpace(h.Get("From"))
	}
	if date, err := h.Date(); err == nil {
		msg.Date = date
	}

	parseMessageEntity(entity, msg)

	if msg.Text == "" && msg.HTML != "" {
		msg.Text = htmlToText(msg.HTML)
	}
	return msg, nil
}

// parseMessageEntity recursively walks a message entity
func parseMessageEntity(entity *message.Entity, msg *Message) {
	mediaType, params, _ := entity.Header.ContentType()
	mediaType = strings.ToLower(mediaType)

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := entity.MultipartReader()
		if mr == nil {
			return
		}
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			parseMessageEntity(part, msg)
		}
		return
	}

	// Check whether this is an attachment
	disposition := entity.Header.Get("Content-Disposition")
	isAttachment := false
	var filename string

	if disposition != "" {
		dispType, dispParams, err := mime.ParseMediaType(disposition)
		if err == nil {
			// attachment, or inline with a file name
			if dispType == "attachment" || (dispType == "inline" && dispParams["filename"] != "") {
				isAttachment = true
				filename = dispParams["filename"]
			}
		}
	}

	// A name parameter on Content-Type also marks an attachment
	if params["name"] != "" {
		isAttachment = true
		if filename == "" {
			filename = params["name"]
		}
	}

	if !isAttachment {
		switch {
		case mediaType == "text/plain" || mediaType == "":
			if msg.Text == "" {
				body, _ := io.ReadAll(entity.Body)
				msg.Text = string(body)
			}
			return
		case mediaType == "text/html":
			if msg.HTML == "" {
				body, _ := io.ReadAll(entity.Body)
				msg.HTML = string(body)
			}
			return
		case strings.HasPrefix(mediaType, "text/"):
			return
		}
		// Non-text parts without a name are still files (inline images etc.)
	}

	// Decode MIME encoded file names such as =?utf-8?B?...?=
	if filename != "" {
		dec := new(mime.WordDecoder)
		if decoded, err := dec.DecodeHeader(filename); err == nil {
			filename = decoded
		}
	}
	if filename == "" {
		filename = defaultFileName(mediaType)
	}

	content, _ := io.ReadAll(entity.Body)
	msg.Attachments = append(msg.Attachments, Attachment{
		FileName:    filename,
		ContentType: mediaType,
		Size:        len(content),
		Content:     content,
	})
}

// defaultFileName synthesises a name from the media type
func defaultFileName(mediaType string) string {
	ext := ".bin"
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		ext = "." + strings.TrimPrefix(mediaType, "image/")
	case mediaType == "application/pdf":
		ext = ".pdf"
	case mediaType != "application/octet-stream":
		if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	return "attachment" + ext
}

func formatAddress(addr *mail.Address) string {
	if addr.Name != "" {
		return addr.Name + " <" + addr.Address + ">"
	}
	return addr.Address
}

// blockElements end a line when they close
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "blockquote": true,
}

// htmlToText renders the visible text of an HTML body
func htmlToText(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var (
		sb   strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapseBlankLines(sb.String())
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch tag := string(name); {
			case tag == "script" || tag == "style" || tag == "head":
				skip++
			case tag == "br":
				sb.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" || tag == "head" {
				if skip > 0 {
					skip--
				}
			} else if blockElements[tag] {
				sb.WriteByte('\n')
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimSpace(strings.ReplaceAll(l, "\u00a0", " "))
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, l)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
