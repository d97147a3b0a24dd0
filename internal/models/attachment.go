package models

// Attachment is a file accepted for the next outgoing message.
type Attachment struct {
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	Payload   []byte `json:"-"`
}

// AttachmentSummary is what the transcript keeps of an attachment once it is sent.
type AttachmentSummary struct {
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

func (a Attachment) Summary() AttachmentSummary {
	return AttachmentSummary{Name: a.Name, MimeType: a.MimeType, SizeBytes: a.SizeBytes}
}

// Summaries strips payloads from a list of attachments, keeping order.
func Summaries(attachments []Attachment) []AttachmentSummary {
	out := make([]AttachmentSummary, 0, len(attachments))
	for _, a := range attachments {
		out = append(out, a.Summary())
	}
	return out
}
