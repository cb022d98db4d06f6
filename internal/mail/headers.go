package mail

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// decodeHeaders reads the classification headers, decoding MIME encoded words
func decodeHeaders(id string, raw message.Header) *Headers {
	h := gomail.Header{Header: raw}
	headers := &Headers{ID: id}

	if subject, err := h.Subject(); err == nil {
		headers.Subject = subject
	} else {
		headers.Subject = raw.Get("Subject")
	}

	if from, err := h.Text("From"); err == nil {
		headers.From = from
	} else {
		headers.From = raw.Get("From")
	}

	if date, err := h.Date(); err == nil {
		headers.Date = date
	}

	headers.MessageID = strings.TrimSpace(raw.Get("Message-Id"))
	return headers
}

// parseHeaderBlock parses a raw RFC 5322 header section
func parseHeaderBlock(id string, r io.Reader) (*Headers, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read headers: %w", err)
	}
	if !bytes.HasSuffix(b, []byte("\r\n\r\n")) && !bytes.HasSuffix(b, []byte("\n\n")) {
		b = append(b, "\r\n"...)
	}

	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(b)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse headers: %w", err)
	}
	return decodeHeaders(id, message.Header{Header: th}), nil
}
