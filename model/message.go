package model

import (
	"strconv"
	"strings"
)

// RawMessageRef is a server-assigned message identifier. It is only valid
// within the session that returned it.
type RawMessageRef uint32

func (r RawMessageRef) String() string {
	return strconv.FormatUint(uint64(r), 10)
}

// DecodedMessage is the structured form of one fetched message.
type DecodedMessage struct {
	// ID is the Message-Id header without angle brackets, or a content
	// hash when the header is missing. It is the dedup key.
	ID      string
	Subject string
	Sender  string
	Date    string
	Body    string

	Attachments []Attachment

	// ThreadRefs holds the space separated References of the source
	// message, empty when it had none.
	ThreadRefs string
	// HasMessageID reports whether ID came from the Message-Id header and
	// can be used as In-Reply-To.
	HasMessageID bool
}

// References returns the message ids a reply should carry in its References
// header, oldest first, ending with the message itself.
func (m DecodedMessage) References() []string {
	refs := strings.Fields(m.ThreadRefs)
	if m.HasMessageID {
		refs = append(refs, m.ID)
	}
	return refs
}

// AttachmentNames lists attachment filenames in message order.
func (m DecodedMessage) AttachmentNames() []string {
	names := make([]string, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		names = append(names, a.Filename)
	}
	return names
}

// Attachment is one file carried by a message.
type Attachment struct {
	Filename       string
	Content        []byte
	DeclaredFormat string
}
