package share

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"memoshare/models"
)

const (
	opPrepare  = "prepare"
	opTransfer = "transfer"

	// metadataPartName is the multipart form field carrying transfer metadata.
	metadataPartName = "metadata"
)

// PrepareRequest is the POST /share/prepare body. Authenticated-mode fields
// (ContentNonce, AuthTimestampMs, AuthNonce, AuthSignature) are absent in
// open mode.
type PrepareRequest struct {
	SenderName       string                  `json:"senderName"`
	EncryptedContent string                  `json:"encryptedContent"`
	ContentNonce     string                  `json:"contentNonce,omitempty"`
	Timestamp        string                  `json:"timestamp"`
	Attachments      []models.AttachmentInfo `json:"attachments"`
	AuthTimestampMs  int64                   `json:"authTimestampMs,omitempty"`
	AuthNonce        string                  `json:"authNonce,omitempty"`
	AuthSignature    string                  `json:"authSignature,omitempty"`
}

// PrepareResponse reports the receiving user's decision. SessionToken is
// present exactly when the share was accepted.
type PrepareResponse struct {
	Accepted     bool   `json:"accepted"`
	SessionToken string `json:"sessionToken,omitempty"`
}

// TransferMetadata is the leading "metadata" part of POST /share/transfer.
// AttachmentNonces maps each logical attachment name to its base64 nonce.
type TransferMetadata struct {
	SessionToken     string            `json:"sessionToken"`
	EncryptedContent string            `json:"encryptedContent"`
	ContentNonce     string            `json:"contentNonce,omitempty"`
	Timestamp        string            `json:"timestamp"`
	AttachmentNames  []string          `json:"attachmentNames"`
	AttachmentNonces map[string]string `json:"attachmentNonces,omitempty"`
	AuthTimestampMs  int64             `json:"authTimestampMs,omitempty"`
	AuthNonce        string            `json:"authNonce,omitempty"`
	AuthSignature    string            `json:"authSignature,omitempty"`
}

// TransferResponse is the POST /share/transfer body on success.
type TransferResponse struct {
	Success bool `json:"success"`
}

// PreparePayload builds the canonical signing payload for a prepare
// request. Field order is fixed; both sides must produce it byte for byte.
func PreparePayload(senderName, timestamp, encryptedContent, contentNonce string, attachmentNames []string, authTimestampMs int64, authNonce string) string {
	return canonicalPayload(opPrepare, senderName, timestamp, encryptedContent, contentNonce, attachmentNames, authTimestampMs, authNonce)
}

// TransferPayload builds the canonical signing payload for a transfer
// request, keyed by the session token instead of the sender name.
func TransferPayload(sessionToken, timestamp, encryptedContent, contentNonce string, attachmentNames []string, authTimestampMs int64, authNonce string) string {
	return canonicalPayload(opTransfer, sessionToken, timestamp, encryptedContent, contentNonce, attachmentNames, authTimestampMs, authNonce)
}

func canonicalPayload(operation, subject, timestamp, encryptedContent, contentNonce string, attachmentNames []string, authTimestampMs int64, authNonce string) string {
	return strings.Join([]string{
		operation,
		subject,
		timestamp,
		encryptedContent,
		contentNonce,
		strings.Join(sortedNames(attachmentNames), ","),
		strconv.FormatInt(authTimestampMs, 10),
		authNonce,
	}, "\n")
}

// RequestHash digests (decrypted content, timestamp, sorted attachment
// names); a session token is bound to this value at approval time.
func RequestHash(content, timestamp string, attachmentNames []string) string {
	joined := strings.Join([]string{
		content,
		timestamp,
		strings.Join(sortedNames(attachmentNames), ","),
	}, "\n")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

func sortedNames(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}

func sameNameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := sortedNames(a), sortedNames(b)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
