package entity

import (
	"time"

	"github.com/lib/pq"
)

// Project is a collaboration space. Members (plus the creator) may read
// and post chat messages and create tasks in it.
type Project struct {
	ID          string         `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	Description string         `db:"description" json:"description"`
	Deadline    *time.Time     `db:"deadline" json:"deadline,omitempty"`
	Members     pq.StringArray `db:"members" json:"members"`
	FileURL     string         `db:"file_url" json:"fileUrl,omitempty"`
	FileBlobID  string         `db:"file_blob_id" json:"-"`
	CreatedBy   string         `db:"created_by" json:"createdBy"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updatedAt"`
}
