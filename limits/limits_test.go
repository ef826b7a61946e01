package limits

import (
	"errors"
	"strings"
	"testing"
)

func TestMaxEncryptedContentByMode(t *testing.T) {
	if got := MaxEncryptedContent(true); got != MaxEncryptedContentAuth {
		t.Fatalf("authenticated ceiling: got %d want %d", got, MaxEncryptedContentAuth)
	}
	if got := MaxEncryptedContent(false); got != MaxEncryptedContentOpen {
		t.Fatalf("open ceiling: got %d want %d", got, MaxEncryptedContentOpen)
	}
}

func TestValidateSenderName(t *testing.T) {
	if err := ValidateSenderName("Alice's Phone"); err != nil {
		t.Fatalf("expected valid name, got %v", err)
	}
	if err := ValidateSenderName("   "); !errors.Is(err, ErrNameEmpty) {
		t.Fatalf("expected ErrNameEmpty, got %v", err)
	}
	if err := ValidateSenderName(strings.Repeat("n", MaxSenderNameLength+1)); !errors.Is(err, ErrNameTooLong) {
		t.Fatalf("expected ErrNameTooLong, got %v", err)
	}
}

func TestValidateEncryptedContent(t *testing.T) {
	if err := ValidateEncryptedContent(MaxEncryptedContentAuth, true); err != nil {
		t.Fatalf("expected ceiling value to pass, got %v", err)
	}
	if err := ValidateEncryptedContent(MaxEncryptedContentAuth+1, true); !errors.Is(err, ErrContentTooLarge) {
		t.Fatalf("expected ErrContentTooLarge, got %v", err)
	}
	if err := ValidateEncryptedContent(MaxEncryptedContentOpen+1, false); !errors.Is(err, ErrContentTooLarge) {
		t.Fatalf("expected open-mode ceiling to apply, got %v", err)
	}
}

func TestValidateAttachmentCount(t *testing.T) {
	if err := ValidateAttachmentCount(MaxAttachments); err != nil {
		t.Fatalf("expected %d attachments to pass, got %v", MaxAttachments, err)
	}
	if err := ValidateAttachmentCount(MaxAttachments + 1); !errors.Is(err, ErrTooManyAttachments) {
		t.Fatalf("expected ErrTooManyAttachments, got %v", err)
	}
}

func TestValidateAttachmentName(t *testing.T) {
	if err := ValidateAttachmentName("photo.png"); err != nil {
		t.Fatalf("expected valid name, got %v", err)
	}
	if err := ValidateAttachmentName(""); !errors.Is(err, ErrNameEmpty) {
		t.Fatalf("expected ErrNameEmpty, got %v", err)
	}
	if err := ValidateAttachmentName(strings.Repeat("n", MaxAttachmentNameLength+1)); !errors.Is(err, ErrNameTooLong) {
		t.Fatalf("expected ErrNameTooLong, got %v", err)
	}
	if err := ValidateAttachmentName("bad\x00name"); err == nil {
		t.Fatalf("expected NUL byte to be rejected")
	}
}

func TestValidateAttachmentSize(t *testing.T) {
	if err := ValidateAttachmentSize(0); err != nil {
		t.Fatalf("expected zero size to pass, got %v", err)
	}
	if err := ValidateAttachmentSize(MaxAttachmentBytes); err != nil {
		t.Fatalf("expected ceiling value to pass, got %v", err)
	}
	if err := ValidateAttachmentSize(-1); err == nil {
		t.Fatalf("expected negative size to fail")
	}
	if err := ValidateAttachmentSize(MaxAttachmentBytes + 1); !errors.Is(err, ErrAttachmentTooLarge) {
		t.Fatalf("expected ErrAttachmentTooLarge, got %v", err)
	}
}

func TestValidateTotalAttachmentSize(t *testing.T) {
	if err := ValidateTotalAttachmentSize(MaxTotalAttachmentBytes); err != nil {
		t.Fatalf("expected ceiling value to pass, got %v", err)
	}
	if err := ValidateTotalAttachmentSize(MaxTotalAttachmentBytes + 1); !errors.Is(err, ErrTotalTooLarge) {
		t.Fatalf("expected ErrTotalTooLarge, got %v", err)
	}
}
