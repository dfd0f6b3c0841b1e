package models

import "time"

// Widget is a configured chat surface belonging to one tenant. The
// portal mutates widgets; during a chat turn the config is read once
// and passed through the call chain unchanged.
type Widget struct {
	ID           string    `bson:"_id" json:"id"`
	TenantID     string    `bson:"tenant_id" json:"tenant_id"`
	Name         string    `bson:"name" json:"name"`
	ModelID      string    `bson:"model_id" json:"model_id"`
	SystemPrompt string    `bson:"system_prompt" json:"system_prompt"`
	DocumentIDs  []string  `bson:"document_ids" json:"document_ids"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}
