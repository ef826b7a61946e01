package models

const (
	// AttachmentTypeImage marks an image attachment.
	AttachmentTypeImage = "image"
	// AttachmentTypeAudio marks an audio attachment.
	AttachmentTypeAudio = "audio"
)

// AttachmentInfo describes one declared attachment. Name is an opaque
// logical reference, not a filesystem path; Size is sender-declared and
// advisory only.
type AttachmentInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// SharePayload is a decrypted incoming note shown to the receiving user
// while an accept/reject decision is pending.
type SharePayload struct {
	Content     string           `json:"content"`
	Timestamp   string           `json:"timestamp"`
	SenderName  string           `json:"sender_name"`
	Attachments []AttachmentInfo `json:"attachments"`
}

// ValidAttachmentType reports whether t is a supported attachment type.
func ValidAttachmentType(t string) bool {
	return t == AttachmentTypeImage || t == AttachmentTypeAudio
}
