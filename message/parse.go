// Package message decodes raw RFC 5322 messages into model.DecodedMessage.
package message

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/dhcgn/receipt-watcher/model"
)

const (
	defaultSubject = "No Subject"
	defaultSender  = "Unknown Sender"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// Parse decodes raw into a DecodedMessage. Only a message whose header block
// cannot be read is an error; body and part problems are logged on logger
// and degrade to empty text.
func Parse(raw []byte, logger *slog.Logger) (model.DecodedMessage, error) {
	entity, readErr := gomessage.Read(bytes.NewReader(raw))
	if readErr != nil && !gomessage.IsUnknownCharset(readErr) && !gomessage.IsUnknownEncoding(readErr) {
		return model.DecodedMessage{}, fmt.Errorf("read message: %w", readErr)
	}
	if readErr != nil {
		warn(logger, "message charset or encoding not supported", readErr)
	}

	header := mail.Header{Header: entity.Header}
	msg := model.DecodedMessage{
		Subject: headerText(header, "Subject", defaultSubject),
		Sender:  headerText(header, "From", defaultSender),
		Date:    headerText(header, "Date", ""),
	}

	if id, err := header.MessageID(); err == nil && id != "" {
		msg.ID = id
		msg.HasMessageID = true
	} else {
		sum := sha256.Sum256(raw)
		msg.ID = "sha256:" + hex.EncodeToString(sum[:])
	}
	if refs, err := header.MsgIDList("References"); err == nil && len(refs) > 0 {
		msg.ThreadRefs = strings.Join(refs, " ")
	}

	if entity.MultipartReader() == nil {
		body, err := readBody(entity, readErr)
		if err != nil {
			warn(logger, "decode message body", err)
			body = ""
		}
		msg.Body = body
		return msg, nil
	}

	var bodies []string
	walkErr := entity.Walk(func(path []int, part *gomessage.Entity, partErr error) error {
		if partErr != nil && !gomessage.IsUnknownCharset(partErr) && !gomessage.IsUnknownEncoding(partErr) {
			return partErr
		}
		if part.MultipartReader() != nil {
			return nil
		}

		contentType, params, _ := part.Header.ContentType()
		disposition, dispParams, _ := part.Header.ContentDisposition()
		filename := decodeWord(dispParams["filename"])
		if filename == "" {
			filename = decodeWord(params["name"])
		}

		isAttachment := strings.EqualFold(disposition, "attachment")
		switch {
		case contentType == "text/plain" && !isAttachment:
			body, err := readBody(part, partErr)
			if err != nil {
				warn(logger, "decode body part", err)
				return nil
			}
			bodies = append(bodies, body)
		case isAttachment || filename != "":
			if filename == "" {
				return nil
			}
			content, err := io.ReadAll(part.Body)
			if err != nil {
				warn(logger, "read attachment "+filename, err)
				return nil
			}
			msg.Attachments = append(msg.Attachments, model.Attachment{
				Filename:       filename,
				Content:        content,
				DeclaredFormat: contentType,
			})
		}
		return nil
	})
	if walkErr != nil {
		warn(logger, "walk multipart message", walkErr)
	}
	msg.Body = strings.Join(bodies, "")
	return msg, nil
}

func headerText(h mail.Header, key, fallback string) string {
	raw := h.Get(key)
	if raw == "" {
		return fallback
	}
	return decodeWord(raw)
}

// decodeWord decodes RFC 2047 encoded-words. Undecodable input is returned
// with invalid bytes replaced.
func decodeWord(s string) string {
	if s == "" {
		return ""
	}
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		decoded = s
	}
	return toValidUTF8([]byte(decoded))
}

// readBody returns the text of a leaf entity. go-message converts charsets
// it knows to UTF-8; for the rest the IANA registry is tried before falling
// back to replacement decoding.
func readBody(e *gomessage.Entity, charsetErr error) (string, error) {
	data, err := io.ReadAll(e.Body)
	if err != nil {
		return "", err
	}
	if charsetErr != nil && gomessage.IsUnknownCharset(charsetErr) {
		_, params, _ := e.Header.ContentType()
		if enc, err := ianaindex.IANA.Encoding(params["charset"]); err == nil && enc != nil {
			if out, err := enc.NewDecoder().Bytes(data); err == nil {
				data = out
			}
		}
	}
	return toValidUTF8(data), nil
}

func toValidUTF8(data []byte) string {
	out, err := unicode.UTF8.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "\uFFFD")
	}
	return string(out)
}

func warn(logger *slog.Logger, msg string, err error) {
	if logger == nil || err == nil {
		return
	}
	logger.Warn(msg, "err", err)
}
