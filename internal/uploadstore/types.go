package uploadstore

import (
	"regexp"
	"strings"
	"time"
)

// Upload is the record described in §3 Data Model. Offset never
// decreases; once IsComplete, FinalPath is set and Offset == Length.
type Upload struct {
	ID        string            `json:"id"`
	Length    int64             `json:"length"`
	Offset    int64             `json:"offset"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
	IsComplete bool             `json:"isComplete"`
	FinalPath string            `json:"finalPath,omitempty"`
}

// well-known metadata keys (§3).
const (
	MetaFilename    = "filename"
	MetaFiletype    = "filetype"
	MetaSenderID    = "senderId"
	MetaRecipientID = "recipientId"
)

var sanitizeDisallowed = regexp.MustCompile(`[^A-Za-z0-9 ._-]`)

// sanitizeFilename drops any character outside [A-Za-z0-9 ._-] and
// strips path components (§4.A finalize).
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		name = name[i+1:]
	}
	name = sanitizeDisallowed.ReplaceAllString(name, "")
	name = strings.TrimSpace(name)
	if name == "" {
		name = "upload"
	}
	return name
}
