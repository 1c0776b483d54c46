package protocol

// Attachment references an uploaded file associated with a message. Path is
// the local storage location written by the upload boundary; URL is the
// derived access URL handed to surfaces.
type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Path        string `json:"path"`
	URL         string `json:"url,omitempty"`
}

// imageContentTypes is the set of attachment content types the gateway
// forwards to providers.
var imageContentTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/gif":  {},
	"image/webp": {},
}

// IsImage reports whether the attachment's content type is in the supported
// image set.
func (a Attachment) IsImage() bool {
	_, ok := imageContentTypes[a.ContentType]
	return ok
}
