package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"AstroBot/bot/chat"
)

// Load returns the stored session for userKey or a fresh one.
func (m *MongoDB) Load(ctx context.Context, userKey string) (*chat.Session, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(sessionsCollection)

	var s chat.Session
	err = collection.FindOne(ctx, sessionFilter(userKey)).Decode(&s)
	if err != nil {
		if err = m.findError(err); err != nil {
			return nil, err
		}
		return chat.NewSession(userKey), nil
	}
	if s.Context == nil {
		s.Context = make(map[string]any)
	}
	return &s, nil
}

// Save inserts a new session or replaces the stored one if its version still
// matches. A lost race surfaces as chat.ErrConcurrentModification.
func (m *MongoDB) Save(ctx context.Context, s *chat.Session) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(sessionsCollection)

	next := *s
	next.Version = s.Version + 1

	if s.Version == 0 {
		_, err = collection.InsertOne(ctx, next)
		if mongo.IsDuplicateKeyError(err) {
			return chat.ErrConcurrentModification
		}
		if err != nil {
			return fmt.Errorf("mongodb insert session: %w", err)
		}
		s.Version = next.Version
		return nil
	}

	res, err := collection.ReplaceOne(ctx, versionFilter(s.UserKey, s.Version), next)
	if err != nil {
		return fmt.Errorf("mongodb replace session: %w", err)
	}
	if res.MatchedCount == 0 {
		return chat.ErrConcurrentModification
	}
	s.Version = next.Version
	return nil
}

// ExpireStale resets idle sessions in one UpdateMany. The conversation id is
// cleared and regenerated by the engine on the next message.
func (m *MongoDB) ExpireStale(ctx context.Context, cutoff time.Time, flowID, stepID string) (int, error) {
	connection, err := m.connect()
	if err != nil {
		return 0, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(sessionsCollection)

	res, err := collection.UpdateMany(ctx, staleFilter(cutoff, flowID, stepID), expireUpdate(flowID, stepID))
	if err != nil {
		return 0, fmt.Errorf("mongodb expire sessions: %w", err)
	}
	return int(res.ModifiedCount), nil
}

func (m *MongoDB) Delete(ctx context.Context, userKey string) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(sessionsCollection)

	_, err = collection.DeleteOne(ctx, sessionFilter(userKey))
	return err
}

// EnsureSessionIndexes creates the unique user_key index the insert path
// relies on for conflict detection.
func (m *MongoDB) EnsureSessionIndexes() error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(sessionsCollection)

	_, err = collection.Indexes().CreateMany(m.ctx, []mongo.IndexModel{
		{Keys: bson.D{{"user_key", 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{"last_activity_at", 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongodb create session indexes: %w", err)
	}
	return nil
}

func sessionFilter(userKey string) bson.D {
	return bson.D{{"user_key", userKey}}
}

func versionFilter(userKey string, version int64) bson.D {
	return bson.D{{"user_key", userKey}, {"version", version}}
}

func staleFilter(cutoff time.Time, flowID, stepID string) bson.D {
	return bson.D{
		{"last_activity_at", bson.D{{"$lt", cutoff}}},
		{"$nor", bson.A{
			bson.D{{"flow_id", flowID}, {"step_id", stepID}, {"context", bson.D{}}},
		}},
	}
}

func expireUpdate(flowID, stepID string) bson.D {
	return bson.D{
		{"$set", bson.D{
			{"flow_id", flowID},
			{"step_id", stepID},
			{"context", bson.D{}},
			{"conversation_id", ""},
		}},
		{"$inc", bson.D{{"version", 1}}},
	}
}

