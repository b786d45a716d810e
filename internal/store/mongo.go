package store

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trendhawk/trendhawk/internal/bus"
)

// ---------------------------------------------------------------------------
// Mongo Store — document-store persistence
// Collections: token_mentions, trend_activations, ca_alerts, known_tokens
// ---------------------------------------------------------------------------

// MongoConfig configures the Mongo-backed store.
type MongoConfig struct {
	URI      string        `yaml:"uri"`
	Database string        `yaml:"database"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Mongo is a Store backed by MongoDB.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
	cfg    MongoConfig
}

// NewMongo connects to MongoDB and verifies connectivity with a ping.
func NewMongo(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	connCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(connCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrStoreUnavailable, err)
	}
	if err := client.Ping(connCtx, nil); err != nil {
		return nil, fmt.Errorf("%w: ping: %v", ErrStoreUnavailable, err)
	}

	log.Info().Str("database", cfg.Database).Msg("store: mongo connected")
	return &Mongo{
		client: client,
		db:     client.Database(cfg.Database),
		cfg:    cfg,
	}, nil
}

func (s *Mongo) mentions() *mongo.Collection    { return s.db.Collection("token_mentions") }
func (s *Mongo) activations() *mongo.Collection { return s.db.Collection("trend_activations") }
func (s *Mongo) alerts() *mongo.Collection      { return s.db.Collection("ca_alerts") }
func (s *Mongo) knownTokens() *mongo.Collection { return s.db.Collection("known_tokens") }

func (s *Mongo) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// mentionQuery translates a MentionFilter to a bson document. Token name is
// matched with an anchored case-insensitive regex, mirroring how the records
// were persisted upstream.
func mentionQuery(f MentionFilter) bson.M {
	q := bson.M{}
	if f.TokenName != "" {
		q["token_name"] = primitive.Regex{
			Pattern: "^" + regexp.QuoteMeta(f.TokenName) + "$",
			Options: "i",
		}
	}
	if !f.ObservedAfter.IsZero() {
		q["observed_at"] = bson.M{"$gt": f.ObservedAfter}
	}
	if f.UnprocessedOnly {
		q["processed"] = bson.M{"$ne": true}
	}
	return q
}

func (s *Mongo) InsertMentions(ctx context.Context, batch []bus.Mention) error {
	if len(batch) == 0 {
		return nil
	}
	docs := make([]any, len(batch))
	for i, mn := range batch {
		docs[i] = mn
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	if _, err := s.mentions().InsertMany(opCtx, docs); err != nil {
		return fmt.Errorf("%w: insert mentions: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Mongo) QueryMentions(ctx context.Context, f MentionFilter) ([]bus.Mention, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	cur, err := s.mentions().Find(opCtx, mentionQuery(f))
	if err != nil {
		return nil, fmt.Errorf("%w: query mentions: %v", ErrStoreUnavailable, err)
	}
	defer cur.Close(opCtx)

	var out []bus.Mention
	if err := cur.All(opCtx, &out); err != nil {
		return nil, fmt.Errorf("%w: decode mentions: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *Mongo) MarkProcessed(ctx context.Context, f MentionFilter) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.mentions().UpdateMany(opCtx, mentionQuery(f),
		bson.M{"$set": bson.M{"processed": true}})
	if err != nil {
		return fmt.Errorf("%w: mark processed: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Mongo) UpsertActivation(ctx context.Context, act bus.TrendActivation) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	upsert := true
	_, err := s.activations().ReplaceOne(opCtx,
		bson.M{"id": act.ID}, act,
		&options.ReplaceOptions{Upsert: &upsert})
	if err != nil {
		return fmt.Errorf("%w: upsert activation: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Mongo) QueryActiveActivations(ctx context.Context) ([]bus.TrendActivation, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	cur, err := s.activations().Find(opCtx, bson.M{"status": bus.ActivationActive})
	if err != nil {
		return nil, fmt.Errorf("%w: query activations: %v", ErrStoreUnavailable, err)
	}
	defer cur.Close(opCtx)

	var out []bus.TrendActivation
	if err := cur.All(opCtx, &out); err != nil {
		return nil, fmt.Errorf("%w: decode activations: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *Mongo) InsertCAAlert(ctx context.Context, alert bus.CAAlert) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	if _, err := s.alerts().InsertOne(opCtx, alert); err != nil {
		return fmt.Errorf("%w: insert ca alert: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Mongo) QueryCAAlerts(ctx context.Context, limit int) ([]bus.CAAlert, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	findOpts := options.Find().SetSort(bson.M{"discovered_at": -1})
	if limit > 0 {
		findOpts = findOpts.SetLimit(int64(limit))
	}

	cur, err := s.alerts().Find(opCtx, bson.M{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: query ca alerts: %v", ErrStoreUnavailable, err)
	}
	defer cur.Close(opCtx)

	var out []bus.CAAlert
	if err := cur.All(opCtx, &out); err != nil {
		return nil, fmt.Errorf("%w: decode ca alerts: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *Mongo) LoadKnownTokenSeed(ctx context.Context) ([]string, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	cur, err := s.knownTokens().Find(opCtx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("%w: load known token seed: %v", ErrStoreUnavailable, err)
	}
	defer cur.Close(opCtx)

	var docs []struct {
		TokenName string `bson:"token_name"`
	}
	if err := cur.All(opCtx, &docs); err != nil {
		return nil, fmt.Errorf("%w: decode known token seed: %v", ErrStoreUnavailable, err)
	}

	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.TokenName)
	}
	return out, nil
}

func (s *Mongo) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
