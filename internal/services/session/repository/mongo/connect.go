package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	resumeCollection   = "resume_checkpoints"
	bookmarkCollection = "bookmarks"
)

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// EnsureIndexes creates the secondary indexes both repositories query by.
func EnsureIndexes(ctx context.Context, client *mongo.Client, dbName string) error {
	db := client.Database(dbName)
	if _, err := db.Collection(resumeCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "animeId", Value: 1}}},
		{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
	}); err != nil {
		return err
	}
	_, err := db.Collection(bookmarkCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "episodeId", Value: 1}, {Key: "position", Value: 1}}},
	})
	return err
}
