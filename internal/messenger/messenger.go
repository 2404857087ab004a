// Package messenger defines the Messenger contract the core consumes to
// deliver one message to one phone, plus a concrete whatsmeow-backed
// adapter. The core only ever talks to the Messenger interface; everything
// else in this package is one possible adapter.
package messenger

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/types"

	"github.com/baseleldalil/morsel/internal/model"
)

// SendOutcome is the coarse result the Executor branches on.
type SendOutcome string

const (
	OutcomeOK               SendOutcome = "ok"
	OutcomeTransientError   SendOutcome = "transient_error"
	OutcomeInvalidRecipient SendOutcome = "invalid_recipient"
)

// Result is what Send returns.
type Result struct {
	Outcome SendOutcome
	Err     error

	// Delivered is true only when the adapter learned of delivery
	// synchronously, inline with Send itself. WhatsApp delivery receipts
	// are asynchronous events, so WhatsAppMessenger never sets this; it
	// exists for adapters (or test fakes) that can confirm delivery
	// before Send returns.
	Delivered bool
}

// Messenger sends one message, with zero or more attachments, to one
// phone. Implementations must normalize phone digits, classify invalid
// recipients as non-transient, and return within a bounded per-message
// timeout (default 2 minutes including upload).
type Messenger interface {
	Send(ctx context.Context, phone, text string, attachments []model.Attachment) Result
}

// DefaultSendTimeout bounds one Send call, including any attachment upload.
const DefaultSendTimeout = 2 * time.Minute

// NormalizePhone drops a leading '+' and keeps only digits.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// knownInvalidRecipientErrors are error-string markers used to classify a
// send failure as non-transient, grounded on whatsmeow's own JID-parse and
// "not on whatsapp" error text.
var knownInvalidRecipientErrors = []string{
	"not a valid jid",
	"no such user",
	"not on whatsapp",
	"invalid jid",
	"recipient not found",
}

func classify(err error) SendOutcome {
	if err == nil {
		return OutcomeOK
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range knownInvalidRecipientErrors {
		if strings.Contains(msg, marker) {
			return OutcomeInvalidRecipient
		}
	}
	return OutcomeTransientError
}

// WhatsAppMessenger adapts one owner's BrowserSession (a whatsmeow client
// under the hood) to the Messenger contract. It is constructed by
// internal/browsersession, which owns the client's lifecycle; this type
// only ever sends through an already-connected session.
type WhatsAppMessenger struct {
	client       waClientSender
	perSendDelay time.Duration
}

// waClientSender is the minimal whatsmeow.Client surface used for sending,
// narrowed (no variadic SendRequestExtra) so browsersession's thin adapter
// and test fakes alike can satisfy it without a live connection.
type waClientSender interface {
	SendMessage(ctx context.Context, to types.JID, message *waProto.Message) (whatsmeow.SendResponse, error)
	Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
}

// NewWhatsAppMessenger wraps client with the Messenger contract. perSendDelay
// is the small settle delay applied after each successful send.
func NewWhatsAppMessenger(client waClientSender, perSendDelay time.Duration) *WhatsAppMessenger {
	if perSendDelay <= 0 {
		perSendDelay = 300 * time.Millisecond
	}
	return &WhatsAppMessenger{client: client, perSendDelay: perSendDelay}
}

// Send implements Messenger. With no attachments it chunks text across the
// transport's message size limit; with attachments it uploads and sends
// each as its own message instead, since WhatsApp carries a caption on the
// media message rather than as separate text.
func (m *WhatsAppMessenger) Send(ctx context.Context, phone, text string, attachments []model.Attachment) Result {
	ctx, cancel := context.WithTimeout(ctx, DefaultSendTimeout)
	defer cancel()

	digits := NormalizePhone(phone)
	if digits == "" {
		return Result{Outcome: OutcomeInvalidRecipient, Err: fmt.Errorf("empty phone after normalization")}
	}
	jid := types.JID{User: digits, Server: "s.whatsapp.net"}

	if len(attachments) > 0 {
		return m.sendAttachments(ctx, jid, attachments)
	}

	chunks := splitMessage(text, 4096)
	var lastErr error
	for _, chunk := range chunks {
		c := chunk
		_, lastErr = m.client.SendMessage(ctx, jid, &waProto.Message{Conversation: &c})
		if lastErr != nil {
			break
		}
	}
	outcome := classify(lastErr)
	if outcome == OutcomeOK {
		time.Sleep(m.perSendDelay)
	}
	return Result{Outcome: outcome, Err: lastErr}
}

// sendAttachments uploads and sends each attachment in order. Only an
// image attachment gets its own ImageMessage; everything else (document,
// video, audio, other) goes out as a generic DocumentMessage, which
// WhatsApp accepts for any file type.
func (m *WhatsAppMessenger) sendAttachments(ctx context.Context, jid types.JID, attachments []model.Attachment) Result {
	var lastErr error
	for _, a := range attachments {
		msg, err := m.buildAttachmentMessage(ctx, a)
		if err != nil {
			lastErr = err
			break
		}
		if _, lastErr = m.client.SendMessage(ctx, jid, msg); lastErr != nil {
			break
		}
	}
	outcome := classify(lastErr)
	if outcome == OutcomeOK {
		time.Sleep(m.perSendDelay)
	}
	return Result{Outcome: outcome, Err: lastErr}
}

// buildAttachmentMessage uploads a's bytes through the client and wraps
// the resulting media pointers in the matching proto message type.
func (m *WhatsAppMessenger) buildAttachmentMessage(ctx context.Context, a model.Attachment) (*waProto.Message, error) {
	data, err := base64.StdEncoding.DecodeString(a.DataBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding attachment %q: %w", a.Filename, err)
	}

	mediaType := whatsmeow.MediaDocument
	if a.Kind == model.AttachmentImage {
		mediaType = whatsmeow.MediaImage
	}
	uploaded, err := m.client.Upload(ctx, data, mediaType)
	if err != nil {
		return nil, fmt.Errorf("uploading attachment %q: %w", a.Filename, err)
	}

	caption := a.Caption
	contentType := a.ContentType
	if a.Kind == model.AttachmentImage {
		return &waProto.Message{ImageMessage: &waProto.ImageMessage{
			Caption:       &caption,
			Mimetype:      &contentType,
			Url:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSha256: uploaded.FileEncSHA256,
			FileSha256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
		}}, nil
	}
	filename := a.Filename
	return &waProto.Message{DocumentMessage: &waProto.DocumentMessage{
		Caption:       &caption,
		Mimetype:      &contentType,
		FileName:      &filename,
		Url:           &uploaded.URL,
		DirectPath:    &uploaded.DirectPath,
		MediaKey:      uploaded.MediaKey,
		FileEncSha256: uploaded.FileEncSHA256,
		FileSha256:    uploaded.FileSHA256,
		FileLength:    &uploaded.FileLength,
	}}, nil
}

// splitMessage breaks a long message into chunks no larger than limit,
// splitting on whitespace where possible.
func splitMessage(s string, limit int) []string {
	if len(s) <= limit {
		return []string{s}
	}
	var chunks []string
	for len(s) > limit {
		cut := limit
		if idx := strings.LastIndexAny(s[:limit], " \n"); idx > 0 {
			cut = idx
		}
		chunks = append(chunks, s[:cut])
		s = strings.TrimLeft(s[cut:], " \n")
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}
