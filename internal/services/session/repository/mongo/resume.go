package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"watchcompanion/internal/domain"
	"watchcompanion/internal/domain/ports"
)

type resumeDoc struct {
	ID            string  `bson:"_id"`
	AnimeID       string  `bson:"animeId"`
	AnimeTitle    string  `bson:"animeTitle"`
	EpisodeNumber int     `bson:"episodeNumber"`
	Position      float64 `bson:"position"`
	LocationURL   string  `bson:"locationUrl"`
	UpdatedAt     int64   `bson:"updatedAt"`
}

type ResumeRepository struct {
	collection *mongo.Collection
}

var _ ports.ResumeRepository = (*ResumeRepository)(nil)

func NewResumeRepository(client *mongo.Client, dbName string) *ResumeRepository {
	return &ResumeRepository{collection: client.Database(dbName).Collection(resumeCollection)}
}

// Upsert writes cp only when the stored checkpoint is older. When a newer
// document exists the filter misses, the upsert collides on _id and the write
// is reported as skipped.
func (r *ResumeRepository) Upsert(ctx context.Context, cp domain.ResumeCheckpoint) (bool, error) {
	update := bson.M{
		"$set": bson.M{
			"animeId":       cp.AnimeID,
			"animeTitle":    cp.AnimeTitle,
			"episodeNumber": cp.EpisodeNumber,
			"position":      cp.Position,
			"locationUrl":   cp.LocationURL,
			"updatedAt":     cp.UpdatedAtMs,
		},
	}
	filter := bson.M{"_id": cp.EpisodeID, "updatedAt": bson.M{"$lt": cp.UpdatedAtMs}}
	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *ResumeRepository) Get(ctx context.Context, episodeID string) (domain.ResumeCheckpoint, error) {
	var doc resumeDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": episodeID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ResumeCheckpoint{}, domain.ErrNotFound
		}
		return domain.ResumeCheckpoint{}, err
	}
	return resumeDocToCheckpoint(doc), nil
}

func (r *ResumeRepository) List(ctx context.Context) ([]domain.ResumeCheckpoint, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []resumeDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.ResumeCheckpoint, 0, len(docs))
	for _, doc := range docs {
		out = append(out, resumeDocToCheckpoint(doc))
	}
	return out, nil
}

func (r *ResumeRepository) Delete(ctx context.Context, episodeID string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": episodeID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ResumeRepository) DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{"updatedAt": bson.M{"$lt": cutoffMs}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func resumeDocToCheckpoint(doc resumeDoc) domain.ResumeCheckpoint {
	return domain.ResumeCheckpoint{
		AnimeID:       doc.AnimeID,
		AnimeTitle:    doc.AnimeTitle,
		EpisodeID:     doc.ID,
		EpisodeNumber: doc.EpisodeNumber,
		Position:      doc.Position,
		LocationURL:   doc.LocationURL,
		UpdatedAtMs:   doc.UpdatedAt,
	}
}
