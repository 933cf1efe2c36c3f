package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"watchcompanion/internal/domain"
	"watchcompanion/internal/domain/ports"
)

type bookmarkDoc struct {
	ID            int64   `bson:"_id"`
	AnimeID       string  `bson:"animeId"`
	EpisodeID     string  `bson:"episodeId"`
	EpisodeNumber int     `bson:"episodeNumber"`
	Title         string  `bson:"title"`
	Description   string  `bson:"description,omitempty"`
	Position      float64 `bson:"position"`
}

type BookmarkRepository struct {
	collection *mongo.Collection
}

var _ ports.BookmarkRepository = (*BookmarkRepository)(nil)

func NewBookmarkRepository(client *mongo.Client, dbName string) *BookmarkRepository {
	return &BookmarkRepository{collection: client.Database(dbName).Collection(bookmarkCollection)}
}

func (r *BookmarkRepository) Create(ctx context.Context, b domain.Bookmark) error {
	_, err := r.collection.InsertOne(ctx, bookmarkToDoc(b))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: bookmark %d already exists", domain.ErrInvalidArgument, b.ID)
	}
	return err
}

func (r *BookmarkRepository) Update(ctx context.Context, b domain.Bookmark) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": b.ID}, bson.M{
		"$set": bson.M{
			"title":       b.Title,
			"description": b.Description,
		},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *BookmarkRepository) Get(ctx context.Context, id int64) (domain.Bookmark, error) {
	var doc bookmarkDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Bookmark{}, domain.ErrNotFound
		}
		return domain.Bookmark{}, err
	}
	return bookmarkDocToDomain(doc), nil
}

func (r *BookmarkRepository) ListByEpisode(ctx context.Context, episodeID string) ([]domain.Bookmark, error) {
	return r.find(ctx, bson.M{"episodeId": episodeID},
		options.Find().SetSort(bson.D{{Key: "position", Value: 1}}))
}

func (r *BookmarkRepository) List(ctx context.Context) ([]domain.Bookmark, error) {
	return r.find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
}

func (r *BookmarkRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *BookmarkRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]domain.Bookmark, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []bookmarkDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Bookmark, 0, len(docs))
	for _, doc := range docs {
		out = append(out, bookmarkDocToDomain(doc))
	}
	return out, nil
}

func bookmarkToDoc(b domain.Bookmark) bookmarkDoc {
	return bookmarkDoc{
		ID:            b.ID,
		AnimeID:       b.AnimeID,
		EpisodeID:     b.EpisodeID,
		EpisodeNumber: b.EpisodeNumber,
		Title:         b.Title,
		Description:   b.Description,
		Position:      b.Position,
	}
}

func bookmarkDocToDomain(doc bookmarkDoc) domain.Bookmark {
	return domain.Bookmark{
		ID:            doc.ID,
		AnimeID:       doc.AnimeID,
		EpisodeID:     doc.EpisodeID,
		EpisodeNumber: doc.EpisodeNumber,
		Title:         doc.Title,
		Description:   doc.Description,
		Position:      doc.Position,
	}
}
