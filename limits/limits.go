// Package limits centralizes the size and count ceilings of the share
// protocol so sender pre-flight checks and receiver enforcement agree.
package limits

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// MaxSenderNameLength bounds the declared sender name.
	MaxSenderNameLength = 64

	// MaxEncryptedContentAuth bounds the base64 ciphertext length of the
	// note body in authenticated mode.
	MaxEncryptedContentAuth = 600_000
	// MaxEncryptedContentOpen bounds the note body in open mode.
	MaxEncryptedContentOpen = 200_000

	// MaxAttachments bounds attachments per share.
	MaxAttachments = 20
	// MaxAttachmentNameLength bounds one logical attachment name.
	MaxAttachmentNameLength = 1024
	// MaxAttachmentBytes bounds one attachment's bytes (100 MiB).
	MaxAttachmentBytes = 100 * 1024 * 1024
	// MaxTotalAttachmentBytes bounds the whole transfer's attachment bytes.
	MaxTotalAttachmentBytes = 500 * 1024 * 1024
)

var (
	// ErrNameEmpty indicates a blank required name.
	ErrNameEmpty = errors.New("name is empty")
	// ErrNameTooLong indicates a name exceeds its limit.
	ErrNameTooLong = errors.New("name too long")
	// ErrContentTooLarge indicates the encrypted note body exceeds its limit.
	ErrContentTooLarge = errors.New("encrypted content too large")
	// ErrTooManyAttachments indicates the attachment count exceeds MaxAttachments.
	ErrTooManyAttachments = errors.New("too many attachments")
	// ErrAttachmentTooLarge indicates one attachment exceeds MaxAttachmentBytes.
	ErrAttachmentTooLarge = errors.New("attachment too large")
	// ErrTotalTooLarge indicates the cumulative size exceeds MaxTotalAttachmentBytes.
	ErrTotalTooLarge = errors.New("attachments too large in total")
)

// MaxEncryptedContent returns the note-body ceiling for the request mode.
func MaxEncryptedContent(authenticated bool) int {
	if authenticated {
		return MaxEncryptedContentAuth
	}
	return MaxEncryptedContentOpen
}

// ValidateSenderName checks a declared sender name.
func ValidateSenderName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: sender name", ErrNameEmpty)
	}
	if len(name) > MaxSenderNameLength {
		return fmt.Errorf("%w: sender name length %d exceeds limit %d", ErrNameTooLong, len(name), MaxSenderNameLength)
	}
	return nil
}

// ValidateEncryptedContent checks the note-body ciphertext length for the
// request mode.
func ValidateEncryptedContent(length int, authenticated bool) error {
	max := MaxEncryptedContent(authenticated)
	if length > max {
		return fmt.Errorf("%w: length %d exceeds limit %d", ErrContentTooLarge, length, max)
	}
	return nil
}

// ValidateAttachmentCount checks the number of declared attachments.
func ValidateAttachmentCount(count int) error {
	if count > MaxAttachments {
		return fmt.Errorf("%w: %d exceeds limit %d", ErrTooManyAttachments, count, MaxAttachments)
	}
	return nil
}

// ValidateAttachmentName checks one logical attachment name.
func ValidateAttachmentName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: attachment name", ErrNameEmpty)
	}
	if len(name) > MaxAttachmentNameLength {
		return fmt.Errorf("%w: attachment name length %d exceeds limit %d", ErrNameTooLong, len(name), MaxAttachmentNameLength)
	}
	if strings.ContainsRune(name, 0) {
		return errors.New("attachment name contains NUL")
	}
	return nil
}

// ValidateAttachmentSize checks one declared or observed attachment size.
func ValidateAttachmentSize(size int64) error {
	if size < 0 {
		return errors.New("attachment size is negative")
	}
	if size > MaxAttachmentBytes {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrAttachmentTooLarge, size, MaxAttachmentBytes)
	}
	return nil
}

// ValidateTotalAttachmentSize checks the cumulative attachment size.
func ValidateTotalAttachmentSize(total int64) error {
	if total > MaxTotalAttachmentBytes {
		return fmt.Errorf("%w: total %d exceeds limit %d", ErrTotalTooLarge, total, MaxTotalAttachmentBytes)
	}
	return nil
}
