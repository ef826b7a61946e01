package share

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"memoshare/models"
)

type memResolver struct {
	files map[string][]byte
}

func (r *memResolver) Resolve(name string) (io.ReadCloser, int64, error) {
	data, ok := r.files[name]
	if !ok {
		return nil, 0, fmt.Errorf("no such attachment %q", name)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

// stateRecorder collects observed sender states.
type stateRecorder struct {
	mu     sync.Mutex
	phases []TransferPhase
}

func (r *stateRecorder) record(state TransferState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.phases) == 0 || r.phases[len(r.phases)-1] != state.Phase {
		r.phases = append(r.phases, state.Phase)
	}
}

func (r *stateRecorder) observed() []TransferPhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TransferPhase(nil), r.phases...)
}

var (
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0x01}, 64)...)
	mp3Bytes = append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), bytes.Repeat([]byte{0x02}, 64)...)
)

func newTestSender(t *testing.T, mutate func(opts *SenderOptions)) (*Sender, *stateRecorder) {
	t.Helper()

	recorder := &stateRecorder{}
	opts := SenderOptions{
		DeviceName:  "Alice's Phone",
		PairingCode: testPairingCode,
		RequireAuth: true,
		Resolver: &memResolver{files: map[string][]byte{
			"photo.png": pngBytes,
			"song.mp3":  mp3Bytes,
		}},
		OnState: recorder.record,
	}
	if mutate != nil {
		mutate(&opts)
	}

	sender, err := NewSender(opts)
	if err != nil {
		t.Fatalf("NewSender failed: %v", err)
	}
	return sender, recorder
}

// unreachableDevice points at a port nothing listens on; tests that must
// not reach the network still fail fast if they try.
func unreachableDevice() models.Device {
	return models.Device{Name: "Peer", Host: "127.0.0.1", Port: 1}
}

func expectSendCode(t *testing.T, err error, code SendErrorCode) *SendError {
	t.Helper()

	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected *SendError, got %v", err)
	}
	if sendErr.Code != code {
		t.Fatalf("expected code %s, got %s (%v)", code, sendErr.Code, sendErr)
	}
	return sendErr
}

func TestSendRequiresPairingCode(t *testing.T) {
	sender, _ := newTestSender(t, func(opts *SenderOptions) {
		opts.PairingCode = ""
	})

	err := sender.Send(context.Background(), unreachableDevice(), "note", "ts", nil)
	expectSendCode(t, err, CodePairingRequired)
}

func TestSendTooManyAttachmentsBeforeNetwork(t *testing.T) {
	sender, _ := newTestSender(t, nil)

	refs := make([]string, 21)
	for i := range refs {
		refs[i] = fmt.Sprintf("a-%d.png", i)
	}

	err := sender.Send(context.Background(), unreachableDevice(), "note", "ts", refs)
	expectSendCode(t, err, CodeTooManyAttachments)
}

func TestSendReportsUnresolvedAttachmentCount(t *testing.T) {
	sender, _ := newTestSender(t, nil)

	err := sender.Send(context.Background(), unreachableDevice(), "note", "ts", []string{
		"photo.png", "missing-1.png", "missing-2.png",
	})
	sendErr := expectSendCode(t, err, CodeAttachmentResolveFailed)
	if sendErr.MissingCount != 2 {
		t.Fatalf("expected 2 missing attachments, got %d", sendErr.MissingCount)
	}
}

func TestSendRejectsUnclassifiableAttachment(t *testing.T) {
	sender, _ := newTestSender(t, func(opts *SenderOptions) {
		opts.Resolver = &memResolver{files: map[string][]byte{
			"notes.txt": []byte("plain text, neither image nor audio"),
		}}
	})

	err := sender.Send(context.Background(), unreachableDevice(), "note", "ts", []string{"notes.txt"})
	expectSendCode(t, err, CodeUnsupportedAttachmentType)
}

func TestSendConnectionFailed(t *testing.T) {
	sender, _ := newTestSender(t, nil)

	err := sender.Send(context.Background(), unreachableDevice(), "note", "ts", nil)
	expectSendCode(t, err, CodeConnectionFailed)
}

func TestClassifyAttachmentType(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
		ok   bool
	}{
		{"photo.png", nil, models.AttachmentTypeImage, true},
		{"picture.jpg", nil, models.AttachmentTypeImage, true},
		{"no-extension", pngBytes, models.AttachmentTypeImage, true},
		{"mystery.bin", mp3Bytes, models.AttachmentTypeAudio, true},
		{"notes.txt", []byte("hello"), "", false},
	}

	for _, tc := range cases {
		got, ok := classifyAttachmentType(tc.name, tc.data)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("%s: got (%q, %v) want (%q, %v)", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func startTestServer(t *testing.T, mutate func(opts *ReceiverOptions)) (models.Device, *memAttachmentStore, *memNoteStore) {
	t.Helper()

	receiver, attachments, notes := newTestReceiver(t, mutate)
	server, err := Listen("127.0.0.1:0", receiver)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { _ = server.Close() })

	return models.Device{Name: "Receiver", Host: "127.0.0.1", Port: server.Port()}, attachments, notes
}

func TestSendEndToEnd(t *testing.T) {
	device, attachments, notes := startTestServer(t, nil)
	sender, states := newTestSender(t, nil)

	err := sender.Send(context.Background(), device, "Meeting notes", "2026-01-02T15:04:05Z", []string{"photo.png", "song.mp3"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if notes.count() != 1 {
		t.Fatalf("expected one persisted note, got %d", notes.count())
	}
	note := notes.notes[0]
	if note.content != "Meeting notes" {
		t.Fatalf("unexpected persisted content %q", note.content)
	}
	for _, name := range []string{"photo.png", "song.mp3"} {
		storedID, ok := note.renames[name]
		if !ok {
			t.Fatalf("missing rename for %q", name)
		}
		if _, stored := attachments.saved[storedID]; !stored {
			t.Fatalf("attachment %q was not stored", name)
		}
	}

	phases := states.observed()
	want := []TransferPhase{PhaseSending, PhaseWaitingApproval, PhaseTransferring, PhaseSuccess}
	if len(phases) != len(want) {
		t.Fatalf("expected phases %v, observed %v", want, phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("expected phases %v, observed %v", want, phases)
		}
	}

	if state := sender.State(); state.Phase != PhaseSuccess || state.DeviceName != device.Name {
		t.Fatalf("unexpected final state %+v", state)
	}
}

func TestSendRejectedByPeer(t *testing.T) {
	device, _, notes := startTestServer(t, func(opts *ReceiverOptions) {
		opts.OnApproval = func(models.SharePayload) bool { return false }
	})
	sender, _ := newTestSender(t, nil)

	err := sender.Send(context.Background(), device, "note", "ts", nil)
	sendErr := expectSendCode(t, err, CodeTransferRejected)
	if sendErr.DeviceName != device.Name {
		t.Fatalf("expected rejecting device name, got %q", sendErr.DeviceName)
	}
	if notes.count() != 0 {
		t.Fatalf("expected no persisted note")
	}

	if state := sender.State(); state.Phase != PhaseError || state.Err == nil {
		t.Fatalf("unexpected final state %+v", state)
	}
}

func TestSendMismatchedPairingCode(t *testing.T) {
	device, _, notes := startTestServer(t, nil)
	sender, _ := newTestSender(t, func(opts *SenderOptions) {
		opts.PairingCode = "wrong-code"
	})

	err := sender.Send(context.Background(), device, "note", "ts", nil)
	expectSendCode(t, err, CodeTransferFailed)
	if notes.count() != 0 {
		t.Fatalf("expected no persisted note")
	}
}
