package messenger

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/types"

	"github.com/baseleldalil/morsel/internal/model"
)

type recordedSend struct {
	to       types.JID
	text     string
	image    *waProto.ImageMessage
	document *waProto.DocumentMessage
}

type fakeClient struct {
	sends     []recordedSend
	errOn     int // index (0-based, over calls) to fail on; -1 means never
	err       error
	uploadErr error
}

func (f *fakeClient) SendMessage(ctx context.Context, to types.JID, message *waProto.Message) (whatsmeow.SendResponse, error) {
	idx := len(f.sends)
	var text string
	if message.Conversation != nil {
		text = *message.Conversation
	}
	f.sends = append(f.sends, recordedSend{to: to, text: text, image: message.ImageMessage, document: message.DocumentMessage})
	if f.errOn >= 0 && idx == f.errOn {
		return whatsmeow.SendResponse{}, f.err
	}
	return whatsmeow.SendResponse{}, nil
}

func (f *fakeClient) Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	if f.uploadErr != nil {
		return whatsmeow.UploadResponse{}, f.uploadErr
	}
	return whatsmeow.UploadResponse{URL: "https://example.invalid/media", DirectPath: "/media/1", MediaKey: []byte("key")}, nil
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+1 (555) 123-4567": "15551234567",
		"15551234567":        "15551234567",
		"":                   "",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSendRejectsEmptyPhone(t *testing.T) {
	m := NewWhatsAppMessenger(&fakeClient{errOn: -1}, 0)
	res := m.Send(context.Background(), "+--", "hello", nil)
	if res.Outcome != OutcomeInvalidRecipient {
		t.Fatalf("expected invalid recipient for empty-after-normalization phone, got %v", res.Outcome)
	}
}

func TestSendSingleChunkOK(t *testing.T) {
	fc := &fakeClient{errOn: -1}
	m := NewWhatsAppMessenger(fc, 0)
	res := m.Send(context.Background(), "15551234567", "hello there", nil)
	if res.Outcome != OutcomeOK {
		t.Fatalf("expected OK outcome, got %v (err=%v)", res.Outcome, res.Err)
	}
	if len(fc.sends) != 1 || fc.sends[0].text != "hello there" {
		t.Fatalf("expected exactly one send with the full text, got %+v", fc.sends)
	}
}

func TestSendSplitsLongMessageIntoMultipleChunks(t *testing.T) {
	fc := &fakeClient{errOn: -1}
	m := NewWhatsAppMessenger(fc, 0)
	long := strings.Repeat("a", 5000)
	res := m.Send(context.Background(), "15551234567", long, nil)
	if res.Outcome != OutcomeOK {
		t.Fatalf("expected OK outcome, got %v", res.Outcome)
	}
	if len(fc.sends) < 2 {
		t.Fatalf("expected the long message split across multiple sends, got %d", len(fc.sends))
	}
	var rebuilt strings.Builder
	for _, s := range fc.sends {
		rebuilt.WriteString(s.text)
	}
	if rebuilt.Len() != len(long) {
		t.Fatalf("expected every chunk's bytes to account for the full message, got %d want %d", rebuilt.Len(), len(long))
	}
}

func TestSendStopsAtFirstChunkError(t *testing.T) {
	fc := &fakeClient{errOn: 0, err: errors.New("not on whatsapp")}
	m := NewWhatsAppMessenger(fc, 0)
	long := strings.Repeat("b", 5000)
	res := m.Send(context.Background(), "15551234567", long, nil)
	if res.Outcome != OutcomeInvalidRecipient {
		t.Fatalf("expected invalid recipient classification, got %v", res.Outcome)
	}
	if len(fc.sends) != 1 {
		t.Fatalf("expected the send loop to stop after the first failing chunk, got %d sends", len(fc.sends))
	}
}

func TestClassifyTransientVsInvalid(t *testing.T) {
	if classify(nil) != OutcomeOK {
		t.Error("expected nil error to classify as OK")
	}
	if classify(errors.New("not on whatsapp")) != OutcomeInvalidRecipient {
		t.Error("expected known invalid-recipient marker to classify as invalid")
	}
	if classify(errors.New("connection reset")) != OutcomeTransientError {
		t.Error("expected unrecognized error to classify as transient")
	}
}

func TestSendWithImageAttachmentCarriesCaption(t *testing.T) {
	fc := &fakeClient{errOn: -1}
	m := NewWhatsAppMessenger(fc, 0)
	attachments := []model.Attachment{{
		Filename: "promo.png", ContentType: "image/png", Kind: model.AttachmentImage,
		DataBase64: base64.StdEncoding.EncodeToString([]byte("fake-bytes")), Caption: "hello there",
	}}
	res := m.Send(context.Background(), "15551234567", "hello there", attachments)
	if res.Outcome != OutcomeOK {
		t.Fatalf("expected OK outcome, got %v (err=%v)", res.Outcome, res.Err)
	}
	if len(fc.sends) != 1 || fc.sends[0].image == nil {
		t.Fatalf("expected one ImageMessage send, got %+v", fc.sends)
	}
	if fc.sends[0].image.Caption == nil || *fc.sends[0].image.Caption != "hello there" {
		t.Fatalf("expected caption carried onto ImageMessage, got %+v", fc.sends[0].image.Caption)
	}
}

func TestSendWithDocumentAttachmentUsesFilename(t *testing.T) {
	fc := &fakeClient{errOn: -1}
	m := NewWhatsAppMessenger(fc, 0)
	attachments := []model.Attachment{{
		Filename: "invoice.pdf", ContentType: "application/pdf", Kind: model.AttachmentDocument,
		DataBase64: base64.StdEncoding.EncodeToString([]byte("fake-bytes")), Caption: "your invoice",
	}}
	res := m.Send(context.Background(), "15551234567", "your invoice", attachments)
	if res.Outcome != OutcomeOK {
		t.Fatalf("expected OK outcome, got %v (err=%v)", res.Outcome, res.Err)
	}
	if len(fc.sends) != 1 || fc.sends[0].document == nil {
		t.Fatalf("expected one DocumentMessage send, got %+v", fc.sends)
	}
	if fc.sends[0].document.FileName == nil || *fc.sends[0].document.FileName != "invoice.pdf" {
		t.Fatalf("expected filename carried onto DocumentMessage, got %+v", fc.sends[0].document.FileName)
	}
}

func TestSendWithAttachmentPropagatesUploadFailureAsTransient(t *testing.T) {
	fc := &fakeClient{errOn: -1, uploadErr: errors.New("upload: connection reset")}
	m := NewWhatsAppMessenger(fc, 0)
	attachments := []model.Attachment{{Filename: "x.png", ContentType: "image/png", Kind: model.AttachmentImage}}
	res := m.Send(context.Background(), "15551234567", "text", attachments)
	if res.Outcome != OutcomeTransientError {
		t.Fatalf("expected transient outcome on upload failure, got %v", res.Outcome)
	}
	if len(fc.sends) != 0 {
		t.Fatalf("expected no SendMessage call when upload fails, got %d", len(fc.sends))
	}
}

func TestSplitMessage(t *testing.T) {
	short := "hello world"
	if chunks := splitMessage(short, 4096); len(chunks) != 1 || chunks[0] != short {
		t.Fatalf("expected short message returned as single chunk, got %v", chunks)
	}

	long := strings.Repeat("word ", 2000) // well over the limit
	chunks := splitMessage(long, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c) > 100 {
			t.Fatalf("chunk exceeds limit: %d bytes", len(c))
		}
	}
}
