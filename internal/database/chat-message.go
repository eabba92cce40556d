package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"AstroBot/entity"
)

const transcriptLimit = 100

// SaveChatMessage inserts a transcript line and trims to the newest 100 per user.
func (m *MongoDB) SaveChatMessage(msg entity.ChatMessage) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(chatMessagesCollection)

	_, err = collection.InsertOne(m.ctx, msg)
	if err != nil {
		return fmt.Errorf("mongodb insert chat message: %w", err)
	}

	filter := transcriptFilter(msg.Platform, msg.UserKey)
	count, err := collection.CountDocuments(m.ctx, filter)
	if err != nil {
		return fmt.Errorf("mongodb count chat messages: %w", err)
	}
	if count <= transcriptLimit {
		return nil
	}

	opts := options.FindOne().SetSort(bson.D{{"created_at", -1}}).SetSkip(transcriptLimit - 1)
	var cutoff entity.ChatMessage
	if err = collection.FindOne(m.ctx, filter, opts).Decode(&cutoff); err != nil {
		return fmt.Errorf("mongodb find cutoff message: %w", err)
	}

	deleteFilter := append(filter, bson.E{Key: "created_at", Value: bson.D{{"$lt", cutoff.CreatedAt}}})
	if _, err = collection.DeleteMany(m.ctx, deleteFilter); err != nil {
		return fmt.Errorf("mongodb trim chat messages: %w", err)
	}
	return nil
}

// GetChatMessages returns a user's transcript, newest first.
func (m *MongoDB) GetChatMessages(ctx context.Context, platform, userKey string, limit, offset int) ([]entity.ChatMessage, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(chatMessagesCollection)

	opts := options.Find().
		SetSort(bson.D{{"created_at", -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := collection.Find(ctx, transcriptFilter(platform, userKey), opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb find chat messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []entity.ChatMessage
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("mongodb decode chat messages: %w", err)
	}
	return messages, nil
}

// GetActiveChats returns the last message of every user, most recent first.
func (m *MongoDB) GetActiveChats(ctx context.Context) ([]entity.ChatSummary, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(chatMessagesCollection)

	cursor, err := collection.Aggregate(ctx, activeChatsPipeline())
	if err != nil {
		return nil, fmt.Errorf("mongodb aggregate active chats: %w", err)
	}
	defer cursor.Close(ctx)

	var summaries []entity.ChatSummary
	if err = cursor.All(ctx, &summaries); err != nil {
		return nil, fmt.Errorf("mongodb decode chat summaries: %w", err)
	}
	return summaries, nil
}

func (m *MongoDB) EnsureChatMessageIndexes() error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(chatMessagesCollection)

	_, err = collection.Indexes().CreateOne(m.ctx, mongo.IndexModel{
		Keys: bson.D{{"platform", 1}, {"user_key", 1}, {"created_at", -1}},
	})
	if err != nil {
		return fmt.Errorf("mongodb create chat message index: %w", err)
	}
	return nil
}

func transcriptFilter(platform, userKey string) bson.D {
	return bson.D{{"platform", platform}, {"user_key", userKey}}
}

func activeChatsPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{"created_at", -1}}}},
		{{Key: "$group", Value: bson.D{
			{"_id", bson.D{{"platform", "$platform"}, {"user_key", "$user_key"}}},
			{"last_message", bson.D{{"$first", "$text"}}},
			{"last_time", bson.D{{"$first", "$created_at"}}},
			{"incoming", bson.D{{"$sum", bson.D{
				{"$cond", bson.A{
					bson.D{{"$eq", bson.A{"$direction", entity.DirectionIncoming}}},
					1,
					0,
				}},
			}}}},
		}}},
		{{Key: "$sort", Value: bson.D{{"last_time", -1}}}},
		{{Key: "$project", Value: bson.D{
			{"_id", 0},
			{"platform", "$_id.platform"},
			{"user_key", "$_id.user_key"},
			{"last_message", 1},
			{"last_time", 1},
			{"incoming", 1},
		}}},
	}
}
