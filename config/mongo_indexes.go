package config

import (
	"context"
	"errors"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func EnsureMongoIndexes() error {
	if MongoClient == nil {
		return errors.New("MongoClient is nil; call InitMongo() first")
	}

	db := MongoClient.Database(MongoDBName())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// audio_files indexes
	audio := db.Collection("audio_files")
	_, err := audio.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("by_created"),
		},
		{
			Keys:    bson.D{{Key: "preset_ref", Value: 1}},
			Options: options.Index().SetName("by_preset_ref").SetSparse(true),
		},
	})
	if err != nil {
		return err
	}

	// preset_files indexes
	presets := db.Collection("preset_files")
	_, err = presets.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "audio_ref", Value: 1}},
			Options: options.Index().SetName("by_audio_ref"),
		},
		{
			Keys:    bson.D{{Key: "synth", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("by_synth_created"),
		},
	})
	return err
}

func MongoDBName() string {
	if v := os.Getenv("MONGO_DB"); v != "" {
		return v
	}
	return "presetsmith"
}
