package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"watchcompanion/internal/app"
)

const (
	settingsCollection = "settings"
	playerSettingsID   = "player"
)

type playerSettingsDoc struct {
	ID                   string  `bson:"_id"`
	ResumePolicy         string  `bson:"resumePolicy"`
	SkipSeconds          float64 `bson:"skipSeconds"`
	VolumeStep           float64 `bson:"volumeStep"`
	AutoAdvanceThreshold float64 `bson:"autoAdvanceSeconds"`
	UpdatedAt            int64   `bson:"updatedAt"`
}

type PlayerSettingsRepository struct {
	collection *mongo.Collection
}

func NewPlayerSettingsRepository(client *mongo.Client, dbName string) *PlayerSettingsRepository {
	return &PlayerSettingsRepository{collection: client.Database(dbName).Collection(settingsCollection)}
}

func (r *PlayerSettingsRepository) GetPlayerSettings(ctx context.Context) (app.PlayerSettings, bool, error) {
	var doc playerSettingsDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": playerSettingsID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return app.PlayerSettings{}, false, nil
		}
		return app.PlayerSettings{}, false, err
	}
	return app.PlayerSettings{
		ResumePolicy:         doc.ResumePolicy,
		SkipSeconds:          doc.SkipSeconds,
		VolumeStep:           doc.VolumeStep,
		AutoAdvanceThreshold: doc.AutoAdvanceThreshold,
	}, true, nil
}

func (r *PlayerSettingsRepository) SetPlayerSettings(ctx context.Context, settings app.PlayerSettings) error {
	update := bson.M{
		"$set": bson.M{
			"resumePolicy":       settings.ResumePolicy,
			"skipSeconds":        settings.SkipSeconds,
			"volumeStep":         settings.VolumeStep,
			"autoAdvanceSeconds": settings.AutoAdvanceThreshold,
			"updatedAt":          time.Now().Unix(),
		},
	}
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": playerSettingsID},
		update,
		options.Update().SetUpsert(true),
	)
	return err
}
