package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ContentTypePDF is the only artifact class the processor produces.
const ContentTypePDF = "application/pdf"

// CallbackArtifact is a decoded webhook payload. RequestID is nil when the
// processor did not echo a usable correlation id.
type CallbackArtifact struct {
	Content   []byte
	Filename  string
	RequestID *string
}

// StoredArtifact is the durable record of a committed artifact.
// The file itself is the source of truth; the ledger copy in MongoDB is optional.
type StoredArtifact struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	RequestID   *string            `bson:"requestId,omitempty" json:"requestId,omitempty"`
	Filename    string             `bson:"filename" json:"filename"`
	Key         string             `bson:"key" json:"key"`
	Location    string             `bson:"location" json:"path"`
	ContentType string             `bson:"contentType" json:"contentType"`
	Size        int64              `bson:"size" json:"size"`
	StoredAt    time.Time          `bson:"storedAt" json:"storedAt"`
}

// CorrelationID returns the request id or an empty string.
func (a *StoredArtifact) CorrelationID() string {
	if a == nil || a.RequestID == nil {
		return ""
	}
	return *a.RequestID
}
