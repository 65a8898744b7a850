package models

import "time"

// AudioArtifact is the stored (gzipped) input audio blob. Immutable once
// written; PresetRef is back-filled when a result is linked to it.
type AudioArtifact struct {
	Ref              string `bson:"_id" json:"ref"`
	Data             []byte `bson:"data" json:"-"`
	SizeGzipped      int    `bson:"size_gzipped" json:"size_gzipped"`
	SizeUncompressed int    `bson:"size_uncompressed" json:"size_uncompressed"`

	PresetRef *string   `bson:"preset_ref,omitempty" json:"preset_ref,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// PresetArtifact is the stored inference result blob.
type PresetArtifact struct {
	Ref      string `bson:"_id" json:"ref"`
	Data     []byte `bson:"data" json:"-"`
	Size     int    `bson:"size" json:"size"`
	Synth    string `bson:"synth" json:"synth"`
	AudioRef string `bson:"audio_ref" json:"audio_ref"`

	// Metadata is descriptive, extracted best-effort when the synth's preset
	// format is recognized. Absent when extraction failed.
	Metadata map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}
