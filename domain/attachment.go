package domain

import (
	"fmt"
	"messaging-core/errors"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// AttachmentKind is the coarse category shown by clients next to an attachment.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentAudio    AttachmentKind = "audio"
	AttachmentDocument AttachmentKind = "document"
	AttachmentFile     AttachmentKind = "file"
)

// Attachment is an opaque reference, the file itself lives elsewhere.
type Attachment struct {
	URL  string
	Kind AttachmentKind
	Name string
}

// NewAttachment builds an attachment from its wire fields. The url is kept
// as given: storage and access control of the file are not handled here.
// An empty url with no other field means "no attachment" and returns nil.
// kind accepts either a category ("image") or a MIME type ("image/png");
// anything else is a plain file.
func NewAttachment(rawURL, kind, name string) (*Attachment, error) {
	rawURL, kind, name = strings.TrimSpace(rawURL), strings.TrimSpace(kind), strings.TrimSpace(name)
	if rawURL == "" {
		if kind != "" || name != "" {
			return nil, fmt.Errorf("%w: url is required", errors.ErrInvalidAttachment)
		}
		return nil, nil
	}
	if name == "" {
		name = lastSegment(rawURL)
	}
	return &Attachment{URL: rawURL, Kind: attachmentKind(kind), Name: name}, nil
}

func attachmentKind(kind string) AttachmentKind {
	if !strings.Contains(kind, "/") {
		switch k := AttachmentKind(strings.ToLower(kind)); k {
		case AttachmentImage, AttachmentVideo, AttachmentAudio, AttachmentDocument:
			return k
		}
		return AttachmentFile
	}
	return kindFromMIME(mimetype.Lookup(strings.ToLower(kind)))
}

func kindFromMIME(m *mimetype.MIME) AttachmentKind {
	for ; m != nil; m = m.Parent() {
		switch {
		case strings.HasPrefix(m.String(), "image/"):
			return AttachmentImage
		case strings.HasPrefix(m.String(), "video/"):
			return AttachmentVideo
		case strings.HasPrefix(m.String(), "audio/"):
			return AttachmentAudio
		case m.Is("application/pdf"), strings.HasPrefix(m.String(), "text/"):
			return AttachmentDocument
		}
	}
	return AttachmentFile
}

func lastSegment(rawURL string) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
