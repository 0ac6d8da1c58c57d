package domain

import "time"

// ImageRef describes a source image held in the staging area. The content
// hash is not part of the reference; it is computed when a job first needs it.
type ImageRef struct {
	ID       string    `json:"image_id"`
	MIME     string    `json:"mime"`
	Size     int64     `json:"size"`
	StagedAt time.Time `json:"staged_at"`
}
