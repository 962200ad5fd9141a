package domain

import "time"

// FilePart is one file carried by an upload. Size always equals len(Content).
type FilePart struct {
	Filename    string
	ContentType string
	Content     []byte
	Size        int64
}

// NewFilePart builds a FilePart, deriving Size from the content.
func NewFilePart(filename, contentType string, content []byte) FilePart {
	return FilePart{
		Filename:    filename,
		ContentType: contentType,
		Content:     content,
		Size:        int64(len(content)),
	}
}

// UploadRequest records one ingestion event. It is built once and never mutated;
// only RequestID outlives the dispatch, echoed back by the processor in its callback.
type UploadRequest struct {
	RequestID   string
	Description string
	Timestamp   time.Time
	Files       []FilePart
}

// TotalBytes sums the sizes of all files in the request.
func (r *UploadRequest) TotalBytes() int64 {
	var total int64
	for _, f := range r.Files {
		total += f.Size
	}
	return total
}

// UploadReceipt is the acknowledgment returned to the uploader before the processor has done any work.
type UploadReceipt struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId"`
}
