package share

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"memoshare/crypto"
	"memoshare/limits"
	"memoshare/models"
)

var (
	// ErrMixedMode indicates authenticated-only fields were partially present.
	ErrMixedMode = errors.New("share: authenticated and open mode fields mixed in one request")
	// ErrUnsupportedType indicates a declared attachment type outside
	// image/audio.
	ErrUnsupportedType = errors.New("share: unsupported attachment type")
	// ErrDuplicateAttachment indicates a repeated logical attachment name.
	ErrDuplicateAttachment = errors.New("share: duplicate attachment name")
	// ErrBadNonce indicates a nonce field that does not decode to 12 bytes.
	ErrBadNonce = errors.New("share: malformed content nonce")
)

// validatePrepare runs the pure structural and size checks on a prepare
// request before any cryptography or state mutation. It reports whether the
// request is in authenticated mode. A failure causes zero side effects.
func validatePrepare(req *PrepareRequest) (authenticated bool, err error) {
	authenticated, err = requestMode(req.ContentNonce, req.AuthTimestampMs, req.AuthNonce, req.AuthSignature)
	if err != nil {
		return false, err
	}

	if err := limits.ValidateSenderName(req.SenderName); err != nil {
		return false, err
	}
	if strings.TrimSpace(req.Timestamp) == "" {
		return false, errors.New("share: timestamp is required")
	}
	if err := limits.ValidateEncryptedContent(len(req.EncryptedContent), authenticated); err != nil {
		return false, err
	}
	if authenticated {
		if err := validateNonceField(req.ContentNonce); err != nil {
			return false, err
		}
	}

	names := make([]string, 0, len(req.Attachments))
	for _, attachment := range req.Attachments {
		if !models.ValidAttachmentType(attachment.Type) {
			return false, fmt.Errorf("%w: %q", ErrUnsupportedType, attachment.Type)
		}
		if err := limits.ValidateAttachmentSize(attachment.Size); err != nil {
			return false, err
		}
		names = append(names, attachment.Name)
	}
	if err := validateAttachmentNames(names); err != nil {
		return false, err
	}

	return authenticated, nil
}

// validateTransferMetadata mirrors validatePrepare for the transfer
// metadata part.
func validateTransferMetadata(meta *TransferMetadata) (authenticated bool, err error) {
	authenticated, err = requestMode(meta.ContentNonce, meta.AuthTimestampMs, meta.AuthNonce, meta.AuthSignature)
	if err != nil {
		return false, err
	}

	if strings.TrimSpace(meta.SessionToken) == "" {
		return false, errors.New("share: session token is required")
	}
	if strings.TrimSpace(meta.Timestamp) == "" {
		return false, errors.New("share: timestamp is required")
	}
	if err := limits.ValidateEncryptedContent(len(meta.EncryptedContent), authenticated); err != nil {
		return false, err
	}
	if authenticated {
		if err := validateNonceField(meta.ContentNonce); err != nil {
			return false, err
		}
	}
	if err := validateAttachmentNames(meta.AttachmentNames); err != nil {
		return false, err
	}
	if authenticated {
		for _, name := range meta.AttachmentNames {
			nonce, ok := meta.AttachmentNonces[name]
			if !ok {
				return false, fmt.Errorf("share: missing nonce for attachment %q", name)
			}
			if err := validateNonceField(nonce); err != nil {
				return false, err
			}
		}
	} else if len(meta.AttachmentNonces) > 0 {
		return false, ErrMixedMode
	}

	return authenticated, nil
}

// requestMode classifies a request as authenticated or open. The
// authenticated-only fields must be all present or all absent.
func requestMode(contentNonce string, authTimestampMs int64, authNonce, authSignature string) (bool, error) {
	hasAny := contentNonce != "" || authTimestampMs != 0 || authNonce != "" || authSignature != ""
	hasAll := contentNonce != "" && authTimestampMs > 0 && authNonce != "" && authSignature != ""
	if hasAny && !hasAll {
		return false, ErrMixedMode
	}
	return hasAll, nil
}

func validateAttachmentNames(names []string) error {
	if err := limits.ValidateAttachmentCount(len(names)); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if err := limits.ValidateAttachmentName(name); err != nil {
			return err
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateAttachment, name)
		}
		seen[name] = struct{}{}
	}

	return nil
}

func validateNonceField(encoded string) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadNonce, err)
	}
	if len(raw) != crypto.NonceSize {
		return fmt.Errorf("%w: got %d bytes want %d", ErrBadNonce, len(raw), crypto.NonceSize)
	}
	return nil
}
