package share

import (
	"errors"
	"fmt"
)

// SendErrorCode is the closed set of user-facing sender failure codes.
type SendErrorCode string

const (
	// CodePairingRequired indicates authentication is required but no
	// pairing code is configured.
	CodePairingRequired SendErrorCode = "PAIRING_REQUIRED"
	// CodeAttachmentResolveFailed indicates one or more attachment
	// references could not be resolved to readable bytes.
	CodeAttachmentResolveFailed SendErrorCode = "ATTACHMENT_RESOLVE_FAILED"
	// CodeTooManyAttachments indicates the attachment count ceiling was hit.
	CodeTooManyAttachments SendErrorCode = "TOO_MANY_ATTACHMENTS"
	// CodeAttachmentTooLarge indicates a single attachment over the ceiling.
	CodeAttachmentTooLarge SendErrorCode = "ATTACHMENT_TOO_LARGE"
	// CodeAttachmentsTooLarge indicates the cumulative size ceiling was hit.
	CodeAttachmentsTooLarge SendErrorCode = "ATTACHMENTS_TOO_LARGE"
	// CodeUnsupportedAttachmentType indicates a type that could not be
	// classified as image or audio.
	CodeUnsupportedAttachmentType SendErrorCode = "UNSUPPORTED_ATTACHMENT_TYPE"
	// CodeConnectionFailed indicates the peer could not be reached.
	CodeConnectionFailed SendErrorCode = "CONNECTION_FAILED"
	// CodeTransferRejected indicates the receiving user declined the share.
	CodeTransferRejected SendErrorCode = "TRANSFER_REJECTED"
	// CodeTransferFailed indicates the transfer phase failed after approval.
	CodeTransferFailed SendErrorCode = "TRANSFER_FAILED"
	// CodeUnknown covers failures outside the other codes.
	CodeUnknown SendErrorCode = "UNKNOWN"
)

// SendError is the terminal outcome of a failed send attempt. Detail is
// advisory text and is never parsed by control flow.
type SendError struct {
	Code         SendErrorCode
	Detail       string
	MissingCount int
	DeviceName   string
}

func (e *SendError) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func newSendError(code SendErrorCode, detail string) *SendError {
	return &SendError{Code: code, Detail: detail}
}

// AsSendError maps any send failure onto exactly one closed code.
func AsSendError(err error) *SendError {
	if err == nil {
		return nil
	}
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr
	}
	return &SendError{Code: CodeUnknown, Detail: err.Error()}
}
