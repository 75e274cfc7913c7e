package entity

import "time"

// Message is a persisted chat message. Immutable once created; ordering
// is by CreatedAt with ties broken by insertion order (KSUIDs sort by
// creation time). SenderName is a snapshot taken at send time, not a
// live reference to the identity record.
type Message struct {
	ID         string    `db:"id" json:"id"`
	ProjectID  string    `db:"project_id" json:"projectId"`
	SenderID   string    `db:"sender_id" json:"senderId"`
	SenderName string    `db:"sender_name" json:"senderName"`
	Body       string    `db:"body" json:"message"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}
