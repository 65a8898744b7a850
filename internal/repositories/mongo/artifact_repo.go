package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/kelvana/presetsmith/internal/models"
	"github.com/kelvana/presetsmith/internal/preset"
)

// ArtifactRepository is the narrow contract over the document store: put/get
// audio blobs, put/get preset blobs with metadata, and the audio<->preset
// link. Reads of an unknown ref return empty, never an error.
type ArtifactRepository interface {
	PutAudio(ctx context.Context, data []byte, gzSize, rawSize int) (string, error)
	GetAudio(ctx context.Context, ref string) ([]byte, error)
	PutPreset(ctx context.Context, data []byte, synth, audioRef string) (string, error)
	GetPreset(ctx context.Context, ref string) ([]byte, error)
	GetPresetMetadata(ctx context.Context, ref string) (map[string]any, error)
	LinkAudioToPreset(ctx context.Context, audioRef, presetRef string) error
	PresetRefForAudio(ctx context.Context, audioRef string) (string, error)
}

type artifactRepo struct {
	audio   *mongo.Collection
	presets *mongo.Collection
}

func NewArtifactRepo(db *mongo.Database) ArtifactRepository {
	return &artifactRepo{
		audio:   db.Collection("audio_files"),
		presets: db.Collection("preset_files"),
	}
}

func (r *artifactRepo) PutAudio(ctx context.Context, data []byte, gzSize, rawSize int) (string, error) {
	doc := &models.AudioArtifact{
		Ref:              uuid.NewString(),
		Data:             data,
		SizeGzipped:      gzSize,
		SizeUncompressed: rawSize,
		CreatedAt:        time.Now().UTC(),
	}
	if _, err := r.audio.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	return doc.Ref, nil
}

func (r *artifactRepo) GetAudio(ctx context.Context, ref string) ([]byte, error) {
	var doc models.AudioArtifact
	err := r.audio.FindOne(ctx, bson.M{"_id": ref}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Data, nil
}

// PutPreset stores the result blob. Metadata extraction is best-effort: an
// unrecognized or malformed preset still gets stored, just without the
// metadata subdocument.
func (r *artifactRepo) PutPreset(ctx context.Context, data []byte, synth, audioRef string) (string, error) {
	doc := &models.PresetArtifact{
		Ref:       uuid.NewString(),
		Data:      data,
		Size:      len(data),
		Synth:     synth,
		AudioRef:  audioRef,
		CreatedAt: time.Now().UTC(),
	}
	if synth == "vital" {
		if md := preset.ExtractVitalMetadata(data); md != nil {
			doc.Metadata = metadataToMap(md)
		}
	}
	if _, err := r.presets.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	return doc.Ref, nil
}

func (r *artifactRepo) GetPreset(ctx context.Context, ref string) ([]byte, error) {
	var doc models.PresetArtifact
	err := r.presets.FindOne(ctx, bson.M{"_id": ref}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Data, nil
}

func (r *artifactRepo) GetPresetMetadata(ctx context.Context, ref string) (map[string]any, error) {
	var doc models.PresetArtifact
	err := r.presets.FindOne(ctx, bson.M{"_id": ref}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Metadata, nil
}

func (r *artifactRepo) LinkAudioToPreset(ctx context.Context, audioRef, presetRef string) error {
	_, err := r.audio.UpdateOne(ctx,
		bson.M{"_id": audioRef},
		bson.M{"$set": bson.M{"preset_ref": presetRef}},
	)
	return err
}

func (r *artifactRepo) PresetRefForAudio(ctx context.Context, audioRef string) (string, error) {
	var doc models.AudioArtifact
	err := r.audio.FindOne(ctx, bson.M{"_id": audioRef}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if doc.PresetRef == nil {
		return "", nil
	}
	return *doc.PresetRef, nil
}

// metadataToMap flattens the extracted metadata into the loose document
// shape stored alongside the preset.
func metadataToMap(md *preset.VitalMetadata) map[string]any {
	b, err := bson.Marshal(md)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := bson.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
