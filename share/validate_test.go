package share

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"memoshare/limits"
	"memoshare/models"
)

func validContentNonce() string {
	return base64.StdEncoding.EncodeToString(make([]byte, 12))
}

func validPrepareRequest() PrepareRequest {
	return PrepareRequest{
		SenderName:       "Alice's Phone",
		EncryptedContent: "Y2lwaGVydGV4dA==",
		ContentNonce:     validContentNonce(),
		Timestamp:        "2026-01-02T15:04:05Z",
		Attachments: []models.AttachmentInfo{
			{Name: "photo.png", Type: "image", Size: 1024},
			{Name: "voice.m4a", Type: "audio", Size: 2048},
		},
		AuthTimestampMs: 1700000000000,
		AuthNonce:       "deadbeefdeadbeefdeadbeefdeadbeef",
		AuthSignature:   "ab12",
	}
}

func TestValidatePrepareAuthenticated(t *testing.T) {
	req := validPrepareRequest()
	authenticated, err := validatePrepare(&req)
	if err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
	if !authenticated {
		t.Fatalf("expected authenticated mode")
	}
}

func TestValidatePrepareOpenMode(t *testing.T) {
	req := validPrepareRequest()
	req.ContentNonce = ""
	req.AuthTimestampMs = 0
	req.AuthNonce = ""
	req.AuthSignature = ""

	authenticated, err := validatePrepare(&req)
	if err != nil {
		t.Fatalf("expected valid open request, got %v", err)
	}
	if authenticated {
		t.Fatalf("expected open mode")
	}
}

func TestValidatePrepareRejectsMixedModes(t *testing.T) {
	req := validPrepareRequest()
	req.AuthSignature = ""

	if _, err := validatePrepare(&req); !errors.Is(err, ErrMixedMode) {
		t.Fatalf("expected ErrMixedMode, got %v", err)
	}
}

func TestValidatePrepareFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(req *PrepareRequest)
		want   error
	}{
		{
			name:   "blank sender name",
			mutate: func(req *PrepareRequest) { req.SenderName = "  " },
			want:   limits.ErrNameEmpty,
		},
		{
			name:   "sender name too long",
			mutate: func(req *PrepareRequest) { req.SenderName = strings.Repeat("n", 65) },
			want:   limits.ErrNameTooLong,
		},
		{
			name: "content over authenticated ceiling",
			mutate: func(req *PrepareRequest) {
				req.EncryptedContent = strings.Repeat("c", limits.MaxEncryptedContentAuth+1)
			},
			want: limits.ErrContentTooLarge,
		},
		{
			name:   "content nonce wrong length",
			mutate: func(req *PrepareRequest) { req.ContentNonce = base64.StdEncoding.EncodeToString(make([]byte, 11)) },
			want:   ErrBadNonce,
		},
		{
			name:   "content nonce not base64",
			mutate: func(req *PrepareRequest) { req.ContentNonce = "@@@@" },
			want:   ErrBadNonce,
		},
		{
			name: "too many attachments",
			mutate: func(req *PrepareRequest) {
				req.Attachments = nil
				for i := 0; i < limits.MaxAttachments+1; i++ {
					req.Attachments = append(req.Attachments, models.AttachmentInfo{
						Name: strings.Repeat("a", i+1), Type: "image", Size: 1,
					})
				}
			},
			want: limits.ErrTooManyAttachments,
		},
		{
			name: "duplicate attachment names",
			mutate: func(req *PrepareRequest) {
				req.Attachments = []models.AttachmentInfo{
					{Name: "photo.png", Type: "image", Size: 1},
					{Name: "photo.png", Type: "image", Size: 2},
				}
			},
			want: ErrDuplicateAttachment,
		},
		{
			name: "unsupported attachment type",
			mutate: func(req *PrepareRequest) {
				req.Attachments = []models.AttachmentInfo{{Name: "a.mp4", Type: "video", Size: 1}}
			},
			want: ErrUnsupportedType,
		},
		{
			name: "declared size over ceiling",
			mutate: func(req *PrepareRequest) {
				req.Attachments = []models.AttachmentInfo{{Name: "a.png", Type: "image", Size: limits.MaxAttachmentBytes + 1}}
			},
			want: limits.ErrAttachmentTooLarge,
		},
	}

	for _, tc := range cases {
		req := validPrepareRequest()
		tc.mutate(&req)

		_, err := validatePrepare(&req)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestValidatePrepareOpenModeContentCeiling(t *testing.T) {
	req := validPrepareRequest()
	req.ContentNonce = ""
	req.AuthTimestampMs = 0
	req.AuthNonce = ""
	req.AuthSignature = ""
	req.EncryptedContent = strings.Repeat("c", limits.MaxEncryptedContentOpen+1)

	if _, err := validatePrepare(&req); !errors.Is(err, limits.ErrContentTooLarge) {
		t.Fatalf("expected open-mode content ceiling, got %v", err)
	}
}

func validTransferMetadata() TransferMetadata {
	return TransferMetadata{
		SessionToken:     "token-1",
		EncryptedContent: "Y2lwaGVydGV4dA==",
		ContentNonce:     validContentNonce(),
		Timestamp:        "2026-01-02T15:04:05Z",
		AttachmentNames:  []string{"photo.png"},
		AttachmentNonces: map[string]string{"photo.png": validContentNonce()},
		AuthTimestampMs:  1700000000000,
		AuthNonce:        "deadbeefdeadbeefdeadbeefdeadbeef",
		AuthSignature:    "ab12",
	}
}

func TestValidateTransferMetadata(t *testing.T) {
	meta := validTransferMetadata()
	authenticated, err := validateTransferMetadata(&meta)
	if err != nil {
		t.Fatalf("expected valid metadata, got %v", err)
	}
	if !authenticated {
		t.Fatalf("expected authenticated mode")
	}
}

func TestValidateTransferMetadataMissingToken(t *testing.T) {
	meta := validTransferMetadata()
	meta.SessionToken = ""
	if _, err := validateTransferMetadata(&meta); err == nil {
		t.Fatalf("expected missing token to fail")
	}
}

func TestValidateTransferMetadataMissingAttachmentNonce(t *testing.T) {
	meta := validTransferMetadata()
	delete(meta.AttachmentNonces, "photo.png")
	if _, err := validateTransferMetadata(&meta); err == nil {
		t.Fatalf("expected missing attachment nonce to fail")
	}
}

func TestValidateTransferMetadataOpenModeRejectsNonces(t *testing.T) {
	meta := validTransferMetadata()
	meta.ContentNonce = ""
	meta.AuthTimestampMs = 0
	meta.AuthNonce = ""
	meta.AuthSignature = ""

	if _, err := validateTransferMetadata(&meta); !errors.Is(err, ErrMixedMode) {
		t.Fatalf("expected attachment nonces to be rejected in open mode, got %v", err)
	}
}
