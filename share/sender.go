package share

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"memoshare/crypto"
	"memoshare/limits"
	"memoshare/models"
)

// TransferPhase is one step of the sender's observable state machine.
type TransferPhase string

const (
	// PhaseIdle means no send has started.
	PhaseIdle TransferPhase = "idle"
	// PhaseSending means local resolution and pre-flight checks are running.
	PhaseSending TransferPhase = "sending"
	// PhaseWaitingApproval means the prepare request awaits the peer's decision.
	PhaseWaitingApproval TransferPhase = "waiting_approval"
	// PhaseTransferring means the multipart upload is in flight.
	PhaseTransferring TransferPhase = "transferring"
	// PhaseSuccess means the peer confirmed the transfer.
	PhaseSuccess TransferPhase = "success"
	// PhaseError means the attempt terminated with a SendError.
	PhaseError TransferPhase = "error"
)

// TransferState is the externally observed sender state. Progress is the
// uploaded fraction during PhaseTransferring.
type TransferState struct {
	Phase      TransferPhase
	DeviceName string
	Progress   float64
	Err        *SendError
}

// StateFunc observes sender state transitions.
type StateFunc func(state TransferState)

// AttachmentResolver maps a logical attachment name to a readable byte
// source on the sending side.
type AttachmentResolver interface {
	Resolve(name string) (io.ReadCloser, int64, error)
}

// SenderOptions configures a share Sender.
type SenderOptions struct {
	DeviceName  string
	PairingCode string
	RequireAuth bool

	Resolver AttachmentResolver
	OnState  StateFunc
	Client   ClientOptions
}

// Sender orchestrates one share at a time: resolve, pre-flight ceilings,
// ping, prepare, transfer. A new Send simply overwrites the observed state
// of any prior attempt; there is no mid-flight cancellation.
type Sender struct {
	opts   SenderOptions
	client *Client

	mu    sync.Mutex
	state TransferState
}

// NewSender validates options and creates a sender.
func NewSender(opts SenderOptions) (*Sender, error) {
	if strings.TrimSpace(opts.DeviceName) == "" {
		return nil, errors.New("device name is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("attachment resolver is required")
	}

	return &Sender{
		opts:   opts,
		client: NewClient(opts.Client),
		state:  TransferState{Phase: PhaseIdle},
	}, nil
}

// State returns the last observed transfer state.
func (s *Sender) State() TransferState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send shares a note with one device. Every failure path returns a
// *SendError carrying exactly one closed code.
func (s *Sender) Send(ctx context.Context, device models.Device, content, timestamp string, attachmentRefs []string) error {
	s.setState(TransferState{Phase: PhaseSending, DeviceName: device.Name})

	if err := s.send(ctx, device, content, timestamp, attachmentRefs); err != nil {
		sendErr := AsSendError(err)
		logrus.WithFields(logrus.Fields{
			"device": device.Name,
			"code":   sendErr.Code,
		}).Warn("share send failed")
		s.setState(TransferState{Phase: PhaseError, DeviceName: device.Name, Err: sendErr})
		return sendErr
	}

	logrus.WithFields(logrus.Fields{
		"device": device.Name,
	}).Info("share send complete")
	s.setState(TransferState{Phase: PhaseSuccess, DeviceName: device.Name})
	return nil
}

type resolvedAttachment struct {
	info models.AttachmentInfo
	data []byte
}

func (s *Sender) send(ctx context.Context, device models.Device, content, timestamp string, attachmentRefs []string) error {
	key, err := s.pairingKey()
	if err != nil {
		return err
	}

	if len(attachmentRefs) > limits.MaxAttachments {
		return newSendError(CodeTooManyAttachments, fmt.Sprintf("%d attachments exceed limit %d", len(attachmentRefs), limits.MaxAttachments))
	}

	attachments, err := s.resolveAttachments(attachmentRefs)
	if err != nil {
		return err
	}

	if err := s.client.Ping(ctx, device); err != nil {
		return newSendError(CodeConnectionFailed, err.Error())
	}

	s.setState(TransferState{Phase: PhaseWaitingApproval, DeviceName: device.Name})
	token, err := s.prepare(ctx, device, key, content, timestamp, attachments)
	if err != nil {
		return err
	}

	s.setState(TransferState{Phase: PhaseTransferring, DeviceName: device.Name})
	return s.transfer(ctx, device, key, token, content, timestamp, attachments)
}

// pairingKey derives the shared key, or reports PAIRING_REQUIRED before any
// network call when authentication is required but unconfigured.
func (s *Sender) pairingKey() ([]byte, error) {
	if strings.TrimSpace(s.opts.PairingCode) == "" {
		if s.opts.RequireAuth {
			return nil, newSendError(CodePairingRequired, "no pairing code configured")
		}
		return nil, nil
	}

	key, err := crypto.DeriveKey(s.opts.PairingCode)
	if err != nil {
		return nil, newSendError(CodePairingRequired, err.Error())
	}
	return key, nil
}

// resolveAttachments resolves every reference, enforces the size ceilings,
// and classifies each attachment's type. Any unresolved reference fails the
// whole send; there is never a partial send.
func (s *Sender) resolveAttachments(refs []string) ([]resolvedAttachment, error) {
	attachments := make([]resolvedAttachment, 0, len(refs))
	missing := 0
	var totalSize int64

	for _, ref := range refs {
		source, size, err := s.opts.Resolver.Resolve(ref)
		if err != nil {
			missing++
			continue
		}

		if err := limits.ValidateAttachmentSize(size); err != nil {
			_ = source.Close()
			return nil, newSendError(CodeAttachmentTooLarge, err.Error())
		}
		totalSize += size
		if err := limits.ValidateTotalAttachmentSize(totalSize); err != nil {
			_ = source.Close()
			return nil, newSendError(CodeAttachmentsTooLarge, err.Error())
		}

		data, err := io.ReadAll(io.LimitReader(source, limits.MaxAttachmentBytes+1))
		closeErr := source.Close()
		if err != nil || closeErr != nil {
			missing++
			continue
		}
		if int64(len(data)) > limits.MaxAttachmentBytes {
			return nil, newSendError(CodeAttachmentTooLarge, fmt.Sprintf("attachment %q exceeds limit %d", ref, limits.MaxAttachmentBytes))
		}

		attachmentType, ok := classifyAttachmentType(ref, data)
		if !ok {
			return nil, newSendError(CodeUnsupportedAttachmentType, fmt.Sprintf("cannot classify attachment %q", ref))
		}

		attachments = append(attachments, resolvedAttachment{
			info: models.AttachmentInfo{Name: ref, Type: attachmentType, Size: int64(len(data))},
			data: data,
		})
	}

	if missing > 0 {
		return nil, &SendError{
			Code:         CodeAttachmentResolveFailed,
			Detail:       fmt.Sprintf("%d attachment(s) could not be resolved", missing),
			MissingCount: missing,
		}
	}

	return attachments, nil
}

func (s *Sender) prepare(ctx context.Context, device models.Device, key []byte, content, timestamp string, attachments []resolvedAttachment) (string, error) {
	names := attachmentNames(attachments)
	request := &PrepareRequest{
		SenderName:  s.opts.DeviceName,
		Timestamp:   timestamp,
		Attachments: attachmentInfos(attachments),
	}

	if key != nil {
		encryptedContent, contentNonce, err := encryptContent(key, content)
		if err != nil {
			return "", err
		}
		request.EncryptedContent = encryptedContent
		request.ContentNonce = contentNonce
		if err := signPrepare(key, request, names); err != nil {
			return "", err
		}
	} else {
		request.EncryptedContent = content
	}

	response, err := s.client.Prepare(ctx, device, request)
	if err != nil {
		return "", classifyTransportError(err)
	}
	if !response.Accepted {
		return "", &SendError{Code: CodeTransferRejected, DeviceName: device.Name, Detail: "share was not accepted"}
	}
	if response.SessionToken == "" {
		// An accepted response with no token is a protocol violation.
		return "", newSendError(CodeUnknown, "peer accepted without a session token")
	}

	return response.SessionToken, nil
}

func (s *Sender) transfer(ctx context.Context, device models.Device, key []byte, token, content, timestamp string, attachments []resolvedAttachment) error {
	names := attachmentNames(attachments)
	metadata := &TransferMetadata{
		SessionToken:    token,
		Timestamp:       timestamp,
		AttachmentNames: names,
	}

	encrypted := make([]EncryptedAttachment, 0, len(attachments))
	if key != nil {
		encryptedContent, contentNonce, err := encryptContent(key, content)
		if err != nil {
			return err
		}
		metadata.EncryptedContent = encryptedContent
		metadata.ContentNonce = contentNonce

		metadata.AttachmentNonces = make(map[string]string, len(attachments))
		for _, attachment := range attachments {
			ciphertext, nonce, err := crypto.Encrypt(key, attachment.data, crypto.AADAttachment(attachment.info.Name))
			if err != nil {
				return newSendError(CodeUnknown, fmt.Sprintf("encrypt attachment %q: %v", attachment.info.Name, err))
			}
			metadata.AttachmentNonces[attachment.info.Name] = base64.StdEncoding.EncodeToString(nonce)
			encrypted = append(encrypted, EncryptedAttachment{
				Name:       attachment.info.Name,
				Ciphertext: ciphertext,
			})
		}

		if err := signTransfer(key, metadata, names); err != nil {
			return err
		}
	} else {
		metadata.EncryptedContent = content
		for _, attachment := range attachments {
			encrypted = append(encrypted, EncryptedAttachment{
				Name:       attachment.info.Name,
				Ciphertext: attachment.data,
			})
		}
	}

	progress := func(sent, total int64) {
		fraction := 1.0
		if total > 0 {
			fraction = float64(sent) / float64(total)
		}
		s.setState(TransferState{Phase: PhaseTransferring, DeviceName: device.Name, Progress: fraction})
	}

	response, err := s.client.Transfer(ctx, device, metadata, encrypted, progress)
	if err != nil {
		return classifyTransportError(err)
	}
	if !response.Success {
		return newSendError(CodeTransferFailed, "peer reported failure")
	}

	return nil
}

func encryptContent(key []byte, content string) (encryptedContent, contentNonce string, err error) {
	ciphertext, nonce, err := crypto.Encrypt(key, []byte(content), []byte(crypto.AADContent))
	if err != nil {
		return "", "", newSendError(CodeUnknown, fmt.Sprintf("encrypt content: %v", err))
	}
	return base64.StdEncoding.EncodeToString(ciphertext), base64.StdEncoding.EncodeToString(nonce), nil
}

// signPrepare fills the auth fields of a prepare request. The payload is
// built exactly the way the receiver reconstructs it.
func signPrepare(key []byte, request *PrepareRequest, names []string) error {
	authNonce, err := crypto.NewAuthNonce()
	if err != nil {
		return newSendError(CodeUnknown, err.Error())
	}
	authTimestampMs := time.Now().UnixMilli()

	payload := PreparePayload(request.SenderName, request.Timestamp, request.EncryptedContent, request.ContentNonce, names, authTimestampMs, authNonce)
	signature, err := crypto.SignPayload(key, payload)
	if err != nil {
		return newSendError(CodeUnknown, err.Error())
	}

	request.AuthTimestampMs = authTimestampMs
	request.AuthNonce = authNonce
	request.AuthSignature = signature
	return nil
}

func signTransfer(key []byte, metadata *TransferMetadata, names []string) error {
	authNonce, err := crypto.NewAuthNonce()
	if err != nil {
		return newSendError(CodeUnknown, err.Error())
	}
	authTimestampMs := time.Now().UnixMilli()

	payload := TransferPayload(metadata.SessionToken, metadata.Timestamp, metadata.EncryptedContent, metadata.ContentNonce, names, authTimestampMs, authNonce)
	signature, err := crypto.SignPayload(key, payload)
	if err != nil {
		return newSendError(CodeUnknown, err.Error())
	}

	metadata.AuthTimestampMs = authTimestampMs
	metadata.AuthNonce = authNonce
	metadata.AuthSignature = signature
	return nil
}

// classifyAttachmentType classifies by file extension first, falling back
// to a content sniff of the leading bytes.
func classifyAttachmentType(name string, data []byte) (string, bool) {
	byExtension := mime.TypeByExtension(strings.ToLower(path.Ext(name)))
	if t, ok := mediaCategory(byExtension); ok {
		return t, true
	}

	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	return mediaCategory(http.DetectContentType(head))
}

func mediaCategory(contentType string) (string, bool) {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return models.AttachmentTypeImage, true
	case strings.HasPrefix(contentType, "audio/"):
		return models.AttachmentTypeAudio, true
	default:
		return "", false
	}
}

func classifyTransportError(err error) error {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return newSendError(CodeTransferFailed, statusErr.Error())
	}
	return newSendError(CodeConnectionFailed, err.Error())
}

func attachmentNames(attachments []resolvedAttachment) []string {
	names := make([]string, 0, len(attachments))
	for _, attachment := range attachments {
		names = append(names, attachment.info.Name)
	}
	return names
}

func attachmentInfos(attachments []resolvedAttachment) []models.AttachmentInfo {
	infos := make([]models.AttachmentInfo, 0, len(attachments))
	for _, attachment := range attachments {
		infos = append(infos, attachment.info)
	}
	return infos
}

func (s *Sender) setState(state TransferState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	if s.opts.OnState != nil {
		s.opts.OnState(state)
	}
}
