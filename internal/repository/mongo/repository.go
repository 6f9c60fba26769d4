package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"torrentplay/internal/domain"
	"torrentplay/internal/domain/ports"
)

// Repository stores saved torrents so they can be re-added on startup.
type Repository struct {
	collection *mongo.Collection
}

var _ ports.TorrentRepository = (*Repository)(nil)

type fileDoc struct {
	Index          int    `bson:"index"`
	Path           string `bson:"path"`
	Length         int64  `bson:"length"`
	BytesCompleted int64  `bson:"bytesCompleted,omitempty"`
}

type torrentDoc struct {
	ID         string    `bson:"_id"`
	Name       string    `bson:"name"`
	Status     string    `bson:"status"`
	InfoHash   string    `bson:"infoHash"`
	Magnet     string    `bson:"magnet"`
	Torrent    string    `bson:"torrent"`
	Files      []fileDoc `bson:"files"`
	TotalBytes int64     `bson:"totalBytes"`
	DoneBytes  int64     `bson:"doneBytes"`
	CreatedAt  int64     `bson:"createdAt"`
	UpdatedAt  int64     `bson:"updatedAt"`
}

func NewRepository(client *mongo.Client, dbName, collectionName string) *Repository {
	return &Repository{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *Repository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

// Save inserts or replaces a record. The creation time of an existing record
// is kept.
func (r *Repository) Save(ctx context.Context, t domain.TorrentRecord) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": string(t.ID)},
		saveUpdate(t),
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *Repository) Get(ctx context.Context, id domain.TorrentID) (domain.TorrentRecord, error) {
	var doc torrentDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.TorrentRecord{}, domain.ErrNotFound
		}
		return domain.TorrentRecord{}, err
	}
	return fromDoc(doc), nil
}

// List returns every saved torrent, most recently updated first.
func (r *Repository) List(ctx context.Context) ([]domain.TorrentRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []torrentDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return fromDocs(docs), nil
}

func (r *Repository) Delete(ctx context.Context, id domain.TorrentID) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func saveUpdate(t domain.TorrentRecord) bson.M {
	doc := toDoc(t)
	createdAt := doc.CreatedAt
	if createdAt == 0 {
		createdAt = doc.UpdatedAt
	}
	return bson.M{
		"$set": bson.M{
			"name":       doc.Name,
			"status":     doc.Status,
			"infoHash":   doc.InfoHash,
			"magnet":     doc.Magnet,
			"torrent":    doc.Torrent,
			"files":      doc.Files,
			"totalBytes": doc.TotalBytes,
			"doneBytes":  doc.DoneBytes,
			"updatedAt":  doc.UpdatedAt,
		},
		"$setOnInsert": bson.M{"createdAt": createdAt},
	}
}

func toDoc(t domain.TorrentRecord) torrentDoc {
	files := make([]fileDoc, 0, len(t.Files))
	for _, f := range t.Files {
		files = append(files, fileDoc{
			Index:          f.Index,
			Path:           f.Path,
			Length:         f.Length,
			BytesCompleted: f.BytesCompleted,
		})
	}

	return torrentDoc{
		ID:         string(t.ID),
		Name:       t.Name,
		Status:     string(t.Status),
		InfoHash:   string(t.InfoHash),
		Magnet:     t.Source.Magnet,
		Torrent:    t.Source.Torrent,
		Files:      files,
		TotalBytes: t.TotalBytes,
		DoneBytes:  t.DoneBytes,
		CreatedAt:  unixOrZero(t.CreatedAt),
		UpdatedAt:  unixOrZero(t.UpdatedAt),
	}
}

func fromDoc(doc torrentDoc) domain.TorrentRecord {
	files := make([]domain.FileRef, 0, len(doc.Files))
	for _, f := range doc.Files {
		files = append(files, domain.FileRef{
			Index:          f.Index,
			Path:           f.Path,
			Length:         f.Length,
			BytesCompleted: f.BytesCompleted,
		})
	}

	return domain.TorrentRecord{
		ID:         domain.TorrentID(doc.ID),
		Name:       doc.Name,
		Status:     domain.TorrentStatus(doc.Status),
		InfoHash:   domain.InfoHash(doc.InfoHash),
		Source:     domain.TorrentSource{Magnet: doc.Magnet, Torrent: doc.Torrent},
		Files:      files,
		TotalBytes: doc.TotalBytes,
		DoneBytes:  doc.DoneBytes,
		CreatedAt:  timeFromUnix(doc.CreatedAt),
		UpdatedAt:  timeFromUnix(doc.UpdatedAt),
	}
}

func fromDocs(docs []torrentDoc) []domain.TorrentRecord {
	records := make([]domain.TorrentRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, fromDoc(doc))
	}
	return records
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeFromUnix(value int64) time.Time {
	return time.Unix(value, 0).UTC()
}
