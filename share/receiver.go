package share

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"memoshare/crypto"
	"memoshare/limits"
	"memoshare/models"
)

// maxMetadataBytes bounds the prepare body and the transfer metadata part.
// The ciphertext ceiling dominates; the rest is field overhead.
const maxMetadataBytes = limits.MaxEncryptedContentAuth + 64*1024

// AttachmentStore persists decrypted attachment bytes on the receiving side.
type AttachmentStore interface {
	// Save persists plaintext read from r and returns the stored identifier.
	Save(name string, r io.Reader) (string, error)
	// Remove deletes a previously stored attachment.
	Remove(storedID string) error
}

// NoteStore persists an accepted inbound note. The renames map resolves
// logical attachment names to stored identifiers so in-content references
// can be rewritten.
type NoteStore interface {
	SaveNote(content, timestamp, senderName string, renames map[string]string) error
}

// ApprovalFunc blocks until the receiving user accepts or rejects an
// incoming share. It races the approval timeout; a late result is ignored.
type ApprovalFunc func(payload models.SharePayload) bool

// IncomingStateFunc observes the receiver's incoming-share state. pending
// is true while a decision is awaited and false once it resolves.
type IncomingStateFunc func(pending bool, payload models.SharePayload)

// ReceiverOptions configures a share Receiver.
type ReceiverOptions struct {
	DeviceName  string
	PairingCode string
	RequireAuth bool

	Attachments AttachmentStore
	Notes       NoteStore

	OnApproval      ApprovalFunc
	OnIncomingState IncomingStateFunc

	ApprovalTimeout time.Duration

	now func() time.Time
}

// Receiver implements the receiving half of the share protocol: prepare
// with a bounded approval wait, and the streamed encrypted transfer.
type Receiver struct {
	opts  ReceiverOptions
	key   []byte
	store *sessionStore
	now   func() time.Time
}

// NewReceiver validates options and derives the pairing key if configured.
func NewReceiver(opts ReceiverOptions) (*Receiver, error) {
	if opts.Attachments == nil {
		return nil, errors.New("attachment store is required")
	}
	if opts.Notes == nil {
		return nil, errors.New("note store is required")
	}
	if opts.ApprovalTimeout <= 0 {
		opts.ApprovalTimeout = DefaultApprovalTimeout
	}
	if opts.now == nil {
		opts.now = time.Now
	}

	var key []byte
	if strings.TrimSpace(opts.PairingCode) != "" {
		derived, err := crypto.DeriveKey(opts.PairingCode)
		if err != nil {
			return nil, err
		}
		key = derived
	}
	if opts.RequireAuth && key == nil {
		return nil, errors.New("authentication required but no pairing code configured")
	}

	return &Receiver{
		opts:  opts,
		key:   key,
		store: newSessionStore(opts.now),
		now:   opts.now,
	}, nil
}

// ResolvePending fulfills the current pending approval, if one exists.
// Exposed for UI-driven accept/reject flows.
func (rcv *Receiver) ResolvePending(accept bool) bool {
	pending := rcv.store.currentApproval()
	if pending == nil {
		return false
	}
	pending.fulfill(accept)
	return true
}

// HandlePrepare serves POST /share/prepare.
func (rcv *Receiver) HandlePrepare(w http.ResponseWriter, r *http.Request) {
	var req PrepareRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMetadataBytes)).Decode(&req); err != nil {
		respondReason(w, http.StatusBadRequest, "malformed request body")
		return
	}

	authenticated, err := validatePrepare(&req)
	if err != nil {
		respondReason(w, validationStatus(err), err.Error())
		return
	}
	if rcv.opts.RequireAuth && !authenticated {
		respondReason(w, http.StatusUnauthorized, "authentication required")
		return
	}

	names := make([]string, 0, len(req.Attachments))
	for _, attachment := range req.Attachments {
		names = append(names, attachment.Name)
	}

	content := req.EncryptedContent
	if authenticated {
		payload := PreparePayload(req.SenderName, req.Timestamp, req.EncryptedContent, req.ContentNonce, names, req.AuthTimestampMs, req.AuthNonce)
		plaintext, status := rcv.authenticateAndDecrypt(payload, &authFields{
			timestampMs:      req.AuthTimestampMs,
			nonce:            req.AuthNonce,
			signature:        req.AuthSignature,
			encryptedContent: req.EncryptedContent,
			contentNonce:     req.ContentNonce,
		})
		if status != 0 {
			respondAuthFailure(w, status)
			return
		}
		content = plaintext
	}

	pending := newPendingApproval(models.SharePayload{
		Content:     content,
		Timestamp:   req.Timestamp,
		SenderName:  req.SenderName,
		Attachments: req.Attachments,
	})
	if !rcv.store.tryAdmitApproval(pending) {
		respondReason(w, http.StatusTooManyRequests, "a share approval is already pending")
		return
	}
	defer rcv.store.clearApproval(pending)

	rcv.notifyIncoming(true, pending.payload)
	defer rcv.notifyIncoming(false, models.SharePayload{})

	if rcv.opts.OnApproval != nil {
		go func() {
			pending.fulfill(rcv.opts.OnApproval(pending.payload))
		}()
	}

	timer := time.NewTimer(rcv.opts.ApprovalTimeout)
	defer timer.Stop()

	accepted := false
	select {
	case accepted = <-pending.decision:
	case <-timer.C:
	}

	if !accepted {
		logrus.WithFields(logrus.Fields{
			"sender": req.SenderName,
		}).Info("incoming share rejected")
		respondJSON(w, http.StatusOK, PrepareResponse{Accepted: false})
		return
	}

	session := rcv.store.mintSession(req.SenderName, RequestHash(content, req.Timestamp, names), names)
	logrus.WithFields(logrus.Fields{
		"sender":      req.SenderName,
		"attachments": len(names),
	}).Info("incoming share accepted")
	respondJSON(w, http.StatusOK, PrepareResponse{Accepted: true, SessionToken: session.Token})
}

// HandleTransfer serves POST /share/transfer.
func (rcv *Receiver) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	reader, err := r.MultipartReader()
	if err != nil {
		respondReason(w, http.StatusBadRequest, "multipart body required")
		return
	}

	// The metadata part must arrive before any file part; nothing is
	// written to storage until it has passed authentication.
	first, err := reader.NextPart()
	if err != nil {
		respondReason(w, http.StatusBadRequest, "missing metadata part")
		return
	}
	if first.FormName() != metadataPartName {
		respondReason(w, http.StatusBadRequest, "metadata part must precede attachments")
		return
	}

	var meta TransferMetadata
	if err := json.NewDecoder(io.LimitReader(first, maxMetadataBytes)).Decode(&meta); err != nil {
		respondReason(w, http.StatusBadRequest, "malformed metadata part")
		return
	}

	authenticated, err := validateTransferMetadata(&meta)
	if err != nil {
		respondReason(w, validationStatus(err), err.Error())
		return
	}
	if rcv.opts.RequireAuth && !authenticated {
		respondReason(w, http.StatusUnauthorized, "authentication required")
		return
	}

	content := meta.EncryptedContent
	if authenticated {
		payload := TransferPayload(meta.SessionToken, meta.Timestamp, meta.EncryptedContent, meta.ContentNonce, meta.AttachmentNames, meta.AuthTimestampMs, meta.AuthNonce)
		plaintext, status := rcv.authenticateAndDecrypt(payload, &authFields{
			timestampMs:      meta.AuthTimestampMs,
			nonce:            meta.AuthNonce,
			signature:        meta.AuthSignature,
			encryptedContent: meta.EncryptedContent,
			contentNonce:     meta.ContentNonce,
		})
		if status != 0 {
			respondAuthFailure(w, status)
			return
		}
		content = plaintext
	}

	// Consume-on-attempt: the session is removed here no matter how the
	// rest of the transfer goes, so it can never be replayed.
	session, ok := rcv.store.consumeSession(meta.SessionToken)
	if !ok {
		respondReason(w, http.StatusForbidden, "invalid or expired session")
		return
	}
	if session.RequestHash != RequestHash(content, meta.Timestamp, meta.AttachmentNames) || !sameNameSet(session.AttachmentNames, meta.AttachmentNames) {
		logrus.WithFields(logrus.Fields{
			"token": meta.SessionToken,
		}).Warn("transfer does not match approved request")
		respondReason(w, http.StatusForbidden, "transfer does not match approved request")
		return
	}

	renames, status, reason := rcv.receiveAttachments(reader, &meta, authenticated)
	if status != 0 {
		respondReason(w, status, reason)
		return
	}

	if err := rcv.opts.Notes.SaveNote(content, meta.Timestamp, session.SenderName, renames); err != nil {
		rcv.removeStored(renames)
		logrus.WithError(err).Error("persist received note")
		respondReason(w, http.StatusInternalServerError, "failed to persist note")
		return
	}

	logrus.WithFields(logrus.Fields{
		"attachments": len(renames),
	}).Info("share transfer complete")
	respondJSON(w, http.StatusOK, TransferResponse{Success: true})
}

// receiveAttachments streams every file part through decryption into the
// attachment store, enforcing per-attachment and cumulative ceilings
// continuously. On any failure, everything stored so far is removed.
func (rcv *Receiver) receiveAttachments(reader *multipart.Reader, meta *TransferMetadata, authenticated bool) (map[string]string, int, string) {
	expected := make(map[string]struct{}, len(meta.AttachmentNames))
	for _, name := range meta.AttachmentNames {
		expected[name] = struct{}{}
	}

	renames := make(map[string]string, len(expected))
	fail := func(status int, reason string) (map[string]string, int, string) {
		rcv.removeStored(renames)
		return nil, status, reason
	}

	var totalPlain int64
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(http.StatusBadRequest, "malformed multipart stream")
		}
		if part.FormName() == metadataPartName {
			return fail(http.StatusBadRequest, "duplicate metadata part")
		}

		filename := part.FileName()
		if filename == "" {
			return fail(http.StatusBadRequest, "unexpected non-file part")
		}
		name, ok := resolveAttachmentName(filename, expected)
		if !ok {
			return fail(http.StatusBadRequest, fmt.Sprintf("unexpected attachment %q", filename))
		}
		if _, dup := renames[name]; dup {
			return fail(http.StatusBadRequest, fmt.Sprintf("duplicate attachment %q", name))
		}
		if !supportedPartContentType(part.Header.Get("Content-Type")) {
			return fail(http.StatusUnsupportedMediaType, "unsupported attachment content type")
		}

		maxPlain := int64(limits.MaxAttachmentBytes)
		if remaining := int64(limits.MaxTotalAttachmentBytes) - totalPlain; remaining < maxPlain {
			maxPlain = remaining
		}

		var plain bytes.Buffer
		var written int64
		if authenticated {
			nonce, err := base64.StdEncoding.DecodeString(meta.AttachmentNonces[name])
			if err != nil {
				return fail(http.StatusBadRequest, "malformed attachment nonce")
			}
			written, err = crypto.DecryptStream(rcv.key, nonce, crypto.AADAttachment(name), part, &plain, maxPlain+crypto.TagOverhead, maxPlain)
			if err != nil {
				if errors.Is(err, crypto.ErrCiphertextTooLarge) || errors.Is(err, crypto.ErrPlaintextTooLarge) {
					return fail(http.StatusRequestEntityTooLarge, "attachment exceeds size limit")
				}
				return fail(http.StatusUnauthorized, "attachment decryption failed")
			}
		} else {
			written, err = copyBounded(&plain, part, maxPlain)
			if err != nil {
				if errors.Is(err, crypto.ErrPlaintextTooLarge) {
					return fail(http.StatusRequestEntityTooLarge, "attachment exceeds size limit")
				}
				return fail(http.StatusBadRequest, "failed to read attachment")
			}
		}

		storedID, err := rcv.opts.Attachments.Save(name, &plain)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"attachment": name,
			}).Error("persist attachment")
			return fail(http.StatusInternalServerError, "failed to store attachment")
		}

		totalPlain += written
		renames[name] = storedID
	}

	if len(renames) != len(expected) {
		return fail(http.StatusBadRequest, "attachment set does not match approved request")
	}

	return renames, 0, ""
}

type authFields struct {
	timestampMs      int64
	nonce            string
	signature        string
	encryptedContent string
	contentNonce     string
}

// authenticateAndDecrypt runs the timestamp window, nonce registration,
// signature, and content decryption checks in order. It returns the
// decrypted content, or a non-zero HTTP status on failure. The caller
// surfaces auth failures generically, never which check failed.
func (rcv *Receiver) authenticateAndDecrypt(payload string, fields *authFields) (string, int) {
	if rcv.key == nil {
		return "", http.StatusUnauthorized
	}
	if !crypto.TimestampWithinWindow(rcv.now(), fields.timestampMs) {
		return "", http.StatusUnauthorized
	}
	if !rcv.store.registerNonce(fields.nonce) {
		return "", http.StatusUnauthorized
	}
	if !crypto.VerifyPayload(rcv.key, payload, fields.signature) {
		return "", http.StatusUnauthorized
	}

	ciphertext, err := base64.StdEncoding.DecodeString(fields.encryptedContent)
	if err != nil {
		return "", http.StatusUnauthorized
	}
	nonce, err := base64.StdEncoding.DecodeString(fields.contentNonce)
	if err != nil {
		return "", http.StatusUnauthorized
	}
	plaintext, err := crypto.Decrypt(rcv.key, nonce, ciphertext, []byte(crypto.AADContent))
	if err != nil {
		return "", http.StatusUnauthorized
	}
	if len(plaintext) > limits.MaxEncryptedContent(true) {
		return "", http.StatusRequestEntityTooLarge
	}

	return string(plaintext), 0
}

func (rcv *Receiver) removeStored(renames map[string]string) {
	for _, storedID := range renames {
		if err := rcv.opts.Attachments.Remove(storedID); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"stored_id": storedID,
			}).Warn("remove stored attachment after failed transfer")
		}
	}
}

func (rcv *Receiver) notifyIncoming(pending bool, payload models.SharePayload) {
	if rcv.opts.OnIncomingState != nil {
		rcv.opts.OnIncomingState(pending, payload)
	}
}

// resolveAttachmentName maps an uploaded filename to an expected logical
// name: exact match first, otherwise an unambiguous reverse lookup keyed by
// the bare uploaded filename.
func resolveAttachmentName(filename string, expected map[string]struct{}) (string, bool) {
	if _, ok := expected[filename]; ok {
		return filename, true
	}

	match := ""
	for name := range expected {
		if path.Base(name) == filename {
			if match != "" {
				return "", false
			}
			match = name
		}
	}
	return match, match != ""
}

func supportedPartContentType(contentType string) bool {
	if contentType == "" || contentType == "application/octet-stream" {
		return true
	}
	return strings.HasPrefix(contentType, "image/") || strings.HasPrefix(contentType, "audio/")
}

// copyBounded copies plaintext with the ceiling enforced while bytes flow.
func copyBounded(dst io.Writer, src io.Reader, max int64) (int64, error) {
	written, err := io.Copy(dst, io.LimitReader(src, max+1))
	if err != nil {
		return written, err
	}
	if written > max {
		return written, fmt.Errorf("%w: more than %d bytes received", crypto.ErrPlaintextTooLarge, max)
	}
	return written, nil
}

func validationStatus(err error) int {
	switch {
	case errors.Is(err, limits.ErrContentTooLarge),
		errors.Is(err, limits.ErrTooManyAttachments),
		errors.Is(err, limits.ErrAttachmentTooLarge),
		errors.Is(err, limits.ErrTotalTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}

func respondAuthFailure(w http.ResponseWriter, status int) {
	if status == http.StatusRequestEntityTooLarge {
		respondReason(w, status, "content exceeds size limit")
		return
	}
	respondReason(w, http.StatusUnauthorized, "authentication failed")
}

func respondReason(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, reason)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
