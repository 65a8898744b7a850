package models

import (
	"time"

	"gorm.io/datatypes"
)

// InferenceRequest is the durable ledger record for one submission.
// Immutable after creation: ID, Model, Synth, CreatedAt, AudioRef and the
// audio sizes. Status, UpdatedAt, ResultRef, Error and Meta are rewritten by
// the orchestrator, at most twice after the initial PENDING write.
type InferenceRequest struct {
	ID     string        `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Model  string        `gorm:"column:model;type:text" json:"model"`
	Synth  string        `gorm:"column:synth;type:text;index" json:"synth"`
	Status RequestStatus `gorm:"column:status;type:text;index" json:"status"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`

	AudioRef              string `gorm:"column:audio_ref;type:text" json:"audio_ref"`
	AudioSizeGzipped      int    `gorm:"column:audio_size_gzipped;type:integer" json:"audio_size_gzipped"`
	AudioSizeUncompressed int    `gorm:"column:audio_size_uncompressed;type:integer" json:"audio_size_uncompressed"`

	ResultRef *string `gorm:"column:result_ref;type:text" json:"result_ref,omitempty"`
	Error     *string `gorm:"column:error;type:text" json:"error,omitempty"`

	Meta datatypes.JSON `gorm:"column:meta;type:jsonb" json:"meta,omitempty"`
}

func (InferenceRequest) TableName() string { return "inference_requests" }
