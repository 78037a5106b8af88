package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/crawl-ingest/internal/docstore"
)

// Schema names the fields the update writes touch.
type Schema struct {
	// Key is the identity field, "url" for pages and "token" for indexes.
	Key string
	// Set is the array that AddToSet writes target.
	Set string
	// Postings is the embedded posting array of an inverted index.
	Postings string
}

// PageSchema describes the pages and images collections.
var PageSchema = Schema{Key: "url", Set: "backlinks"}

// TokenSchema describes the page_tokens and image_tokens collections.
var TokenSchema = Schema{Key: "token", Postings: "urls"}

// Collection is a docstore.Collection backed by one MongoDB collection.
type Collection[T docstore.Document] struct {
	name   string
	coll   *mongo.Collection
	schema Schema
}

// NewCollection binds name in db.
func NewCollection[T docstore.Document](db *mongo.Database, name string, schema Schema) *Collection[T] {
	return &Collection[T]{name: name, coll: db.Collection(name), schema: schema}
}

// EnsureIndexes creates the unique identity index. Push conflicts rely on it
// to surface as duplicate-key errors.
func (c *Collection[T]) EnsureIndexes(ctx context.Context) error {
	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: c.schema.Key, Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create %s index on %s: %w", c.schema.Key, c.name, err)
	}
	return nil
}

// InsertMany implements docstore.Collection.
func (c *Collection[T]) InsertMany(ctx context.Context, docs []T) error {
	if len(docs) == 0 {
		return nil
	}
	payload := make([]interface{}, len(docs))
	keys := make([]string, len(docs))
	for i, doc := range docs {
		payload[i] = doc
		keys[i] = doc.DocKey()
	}
	_, err := c.coll.InsertMany(ctx, payload, options.InsertMany().SetOrdered(false))
	return translate(c.name+" insert_many", keys, err)
}

// BulkWrite implements docstore.Collection.
func (c *Collection[T]) BulkWrite(ctx context.Context, writes []docstore.Write[T]) error {
	if len(writes) == 0 {
		return nil
	}
	models, err := c.models(writes)
	if err != nil {
		return err
	}
	keys := make([]string, len(writes))
	for i, w := range writes {
		keys[i] = w.Key
	}
	_, err = c.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	return translate(c.name+" bulk_write", keys, err)
}

func (c *Collection[T]) models(writes []docstore.Write[T]) ([]mongo.WriteModel, error) {
	key := c.schema.Key
	models := make([]mongo.WriteModel, 0, len(writes))
	for _, w := range writes {
		switch w.Kind {
		case docstore.WriteInsert:
			models = append(models, mongo.NewInsertOneModel().SetDocument(w.Doc))
		case docstore.WriteReplace:
			models = append(models, mongo.NewReplaceOneModel().
				SetFilter(bson.M{key: w.Key}).
				SetReplacement(w.Doc).
				SetUpsert(true))
		case docstore.WriteAddToSet:
			if c.schema.Set == "" {
				return nil, fmt.Errorf("%s on %s: %w", w.Kind, c.name, docstore.ErrUnsupported)
			}
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(bson.M{key: w.Key}).
				SetUpdate(bson.M{"$addToSet": bson.M{c.schema.Set: w.Member}}).
				SetUpsert(true))
		case docstore.WritePromote:
			if c.schema.Set == "" {
				return nil, fmt.Errorf("%s on %s: %w", w.Kind, c.name, docstore.ErrUnsupported)
			}
			update, err := promoteUpdate(w.Doc, c.schema)
			if err != nil {
				return nil, fmt.Errorf("%s on %s: %w", w.Kind, c.name, err)
			}
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(bson.M{key: w.Key}).
				SetUpdate(update).
				SetUpsert(true))
		case docstore.WriteIncrement:
			if c.schema.Postings == "" {
				return nil, fmt.Errorf("%s on %s: %w", w.Kind, c.name, docstore.ErrUnsupported)
			}
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(bson.M{key: w.Key, c.schema.Postings + ".url": w.Member}).
				SetUpdate(bson.M{"$inc": bson.M{c.schema.Postings + ".$.count": w.Delta}}))
		case docstore.WritePush:
			if c.schema.Postings == "" {
				return nil, fmt.Errorf("%s on %s: %w", w.Kind, c.name, docstore.ErrUnsupported)
			}
			// When the posting already exists the filter misses and the
			// upsert collides with the unique key index.
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(bson.M{key: w.Key, c.schema.Postings + ".url": bson.M{"$ne": w.Member}}).
				SetUpdate(bson.M{"$push": bson.M{c.schema.Postings: bson.M{"url": w.Member, "count": w.Delta}}}).
				SetUpsert(true))
		default:
			return nil, fmt.Errorf("write kind %s: %w", w.Kind, docstore.ErrUnsupported)
		}
	}
	return models, nil
}

// Find implements docstore.Collection. With Members set the postings are
// filtered server side so only the requested urls come back.
func (c *Collection[T]) Find(ctx context.Context, filter docstore.Filter) ([]T, error) {
	match := c.match(filter)
	var (
		cursor *mongo.Cursor
		err    error
	)
	if len(filter.Members) > 0 && c.schema.Postings != "" {
		cursor, err = c.coll.Aggregate(ctx, c.restrictPipeline(match, filter.Members))
	} else {
		opts := options.Find()
		if proj := projection(filter.Fields); proj != nil {
			opts.SetProjection(proj)
		}
		cursor, err = c.coll.Find(ctx, match, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", c.name, err)
	}
	var out []T
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.name, err)
	}
	return out, nil
}

// Count implements docstore.Collection.
func (c *Collection[T]) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	n, err := c.coll.CountDocuments(ctx, c.match(filter))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", c.name, err)
	}
	return n, nil
}

func (c *Collection[T]) match(filter docstore.Filter) bson.M {
	if len(filter.Keys) == 0 {
		return bson.M{}
	}
	return bson.M{c.schema.Key: bson.M{"$in": filter.Keys}}
}

func (c *Collection[T]) restrictPipeline(match bson.M, members []string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$project", Value: bson.M{
			c.schema.Key: 1,
			c.schema.Postings: bson.M{"$filter": bson.M{
				"input": "$" + c.schema.Postings,
				"as":    "p",
				"cond":  bson.M{"$in": bson.A{"$$p.url", members}},
			}},
		}}},
	}
}

// promoteUpdate sets every field of doc and folds its set members into the
// stored set so concurrent $addToSet writes survive.
func promoteUpdate(doc any, schema Schema) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var fields bson.M
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	members, _ := fields[schema.Set].(bson.A)
	if members == nil {
		members = bson.A{}
	}
	delete(fields, schema.Set)
	delete(fields, schema.Key)
	delete(fields, "_id")
	update := bson.M{"$addToSet": bson.M{schema.Set: bson.M{"$each": members}}}
	if len(fields) > 0 {
		update["$set"] = fields
	}
	return update, nil
}

func projection(fields []string) bson.M {
	if len(fields) == 0 {
		return nil
	}
	proj := bson.M{"_id": 0}
	for _, f := range fields {
		proj[f] = 1
	}
	return proj
}

// translate converts a driver bulk failure into a *docstore.WriteError whose
// indexes line up with keys.
func translate(op string, keys []string, err error) error {
	if err == nil {
		return nil
	}
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return fmt.Errorf("%s: %w", op, err)
	}
	out := &docstore.WriteError{Op: op, Rejected: make([]docstore.Rejection, 0, len(bwe.WriteErrors))}
	for _, we := range bwe.WriteErrors {
		r := docstore.Rejection{Index: we.Index, Code: docstore.CodeUnknown, Message: we.Message}
		if we.Index >= 0 && we.Index < len(keys) {
			r.Key = keys[we.Index]
		}
		if isDuplicateCode(we.Code) {
			r.Code = docstore.CodeDuplicateKey
		}
		out.Rejected = append(out.Rejected, r)
	}
	return out
}

func isDuplicateCode(code int) bool {
	switch code {
	case 11000, 11001, 12582:
		return true
	}
	return false
}
