// Package mongostore persists chat messages in MongoDB.
package mongostore

import (
	"context"
	"slices"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Tyrowin/gochat/internal/chat"
)

// Config selects the MongoDB deployment and collection.
type Config struct {
	URI         string
	Database    string
	Collection  string
	MaxPoolSize uint64
	Timeout     time.Duration
}

func (c *Config) setDefaults() error {
	if c.URI == "" {
		return errors.New("mongostore: uri is required")
	}
	if c.Database == "" {
		c.Database = "chat"
	}
	if c.Collection == "" {
		c.Collection = "messages"
	}
	if c.MaxPoolSize == 0 {
		c.MaxPoolSize = 50
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	return nil
}

// Store implements chat.Store on a MongoDB collection.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

var _ chat.Store = (*Store)(nil)

// Connect dials MongoDB and verifies the deployment answers a ping.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetServerSelectionTimeout(cfg.Timeout).
		SetAppName("gochat")

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongostore: connect")
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, errors.Wrap(err, "mongostore: ping")
	}
	return &Store{
		client: cli,
		coll:   cli.Database(cfg.Database).Collection(cfg.Collection),
		now:    time.Now,
	}, nil
}

// EnsureIndexes creates the index backing room history reads.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "room", Value: 1}, {Key: "createdAt", Value: -1}},
		Options: options.Index().SetName("room_createdAt"),
	})
	return errors.Wrap(err, "mongostore: ensure indexes")
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type messageDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Sender      string             `bson:"sender"`
	SenderID    string             `bson:"senderId"`
	Body        string             `bson:"message"`
	Room        string             `bson:"room"`
	IsPrivate   bool               `bson:"isPrivate"`
	RecipientID string             `bson:"recipientId,omitempty"`
	Delivered   bool               `bson:"delivered"`
	Read        bool               `bson:"read"`
	Reactions   []reactionDoc      `bson:"reactions"`
	Edited      bool               `bson:"edited"`
	Image       string             `bson:"image,omitempty"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
}

type reactionDoc struct {
	UserID string `bson:"userId"`
	Emoji  string `bson:"emoji"`
}

func toDoc(m chat.Message) messageDoc {
	return messageDoc{
		Sender:      m.Sender,
		SenderID:    m.SenderID,
		Body:        m.Body,
		Room:        m.Room,
		IsPrivate:   m.IsPrivate,
		RecipientID: m.RecipientID,
		Delivered:   m.Delivered,
		Read:        m.Read,
		Reactions:   toReactionDocs(m.Reactions),
		Edited:      m.Edited,
		Image:       m.Image,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func toReactionDocs(in []chat.Reaction) []reactionDoc {
	out := make([]reactionDoc, 0, len(in))
	for _, r := range in {
		out = append(out, reactionDoc{UserID: r.UserID, Emoji: r.Emoji})
	}
	return out
}

func (d messageDoc) message() chat.Message {
	reactions := make([]chat.Reaction, 0, len(d.Reactions))
	for _, r := range d.Reactions {
		reactions = append(reactions, chat.Reaction{UserID: r.UserID, Emoji: r.Emoji})
	}
	return chat.Message{
		ID:          d.ID.Hex(),
		Sender:      d.Sender,
		SenderID:    d.SenderID,
		Body:        d.Body,
		Room:        d.Room,
		IsPrivate:   d.IsPrivate,
		RecipientID: d.RecipientID,
		Delivered:   d.Delivered,
		Read:        d.Read,
		Reactions:   reactions,
		Edited:      d.Edited,
		Image:       d.Image,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// Insert implements chat.Store.
func (s *Store) Insert(ctx context.Context, m chat.Message) (chat.Message, error) {
	now := s.now().UTC().Truncate(time.Millisecond)
	m.CreatedAt = now
	m.UpdatedAt = now

	doc := toDoc(m)
	doc.ID = primitive.NewObjectID()
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return chat.Message{}, errors.Wrap(err, "mongostore: insert")
	}
	return doc.message(), nil
}

// Recent implements chat.Store.
func (s *Store) Recent(ctx context.Context, room string, before time.Time, limit int) ([]chat.Message, error) {
	filter := bson.M{"room": room}
	if !before.IsZero() {
		filter["createdAt"] = bson.M{"$lt": before}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongostore: find recent")
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "mongostore: decode recent")
	}

	out := make([]chat.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.message())
	}
	slices.Reverse(out)
	return out, nil
}

// Get implements chat.Store.
func (s *Store) Get(ctx context.Context, id string) (chat.Message, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return chat.Message{}, chat.ErrNotFound
	}
	var doc messageDoc
	err = s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return chat.Message{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Message{}, errors.Wrapf(err, "mongostore: get %s", id)
	}
	return doc.message(), nil
}

// Update implements chat.Store.
func (s *Store) Update(ctx context.Context, id string, p chat.MessagePatch) (chat.Message, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return chat.Message{}, chat.ErrNotFound
	}

	set := bson.M{"updatedAt": s.now().UTC().Truncate(time.Millisecond)}
	if p.Body != nil {
		set["message"] = *p.Body
	}
	if p.Edited != nil {
		set["edited"] = *p.Edited
	}
	if p.Read != nil {
		set["read"] = *p.Read
	}
	if p.Reactions != nil {
		set["reactions"] = toReactionDocs(p.Reactions)
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc messageDoc
	err = s.coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return chat.Message{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Message{}, errors.Wrapf(err, "mongostore: update %s", id)
	}
	return doc.message(), nil
}

// Delete implements chat.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return chat.ErrNotFound
	}
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return errors.Wrapf(err, "mongostore: delete %s", id)
	}
	if res.DeletedCount == 0 {
		return chat.ErrNotFound
	}
	return nil
}

// Ping implements chat.Store.
func (s *Store) Ping(ctx context.Context) error {
	return errors.Wrap(s.client.Ping(ctx, nil), "mongostore: ping")
}
