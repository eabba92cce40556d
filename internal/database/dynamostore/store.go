// Package dynamostore keeps conversation sessions in a DynamoDB table.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"AstroBot/bot/chat"
	"AstroBot/internal/lib/jsoncodec"
)

const pkPrefix = "SESSION#"

// dynamodbAPI is the minimal DynamoDB interface required by Store.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store implements chat.SessionStore. The session body is kept as a JSON
// string next to a numeric version attribute used for conditional writes.
type Store struct {
	api       dynamodbAPI
	tableName string
}

func New(api dynamodbAPI, tableName string) (*Store, error) {
	if api == nil {
		return nil, errors.New("dynamostore: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamostore: table name must not be empty")
	}
	return &Store{api: api, tableName: tableName}, nil
}

func sessionPK(userKey string) string {
	return pkPrefix + userKey
}

func (s *Store) key(userKey string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(userKey)},
	}
}

func (s *Store) Load(ctx context.Context, userKey string) (*chat.Session, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(userKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamostore: Load get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return chat.NewSession(userKey), nil
	}
	session, err := itemToSession(out.Item)
	if err != nil {
		return nil, fmt.Errorf("dynamostore: Load decode: %w", err)
	}
	return session, nil
}

// Save writes the session if nobody else did since it was loaded.
func (s *Store) Save(ctx context.Context, session *chat.Session) error {
	next := *session
	next.Version = session.Version + 1
	if err := s.put(ctx, &next, session.Version); err != nil {
		return err
	}
	session.Version = next.Version
	return nil
}

func (s *Store) put(ctx context.Context, session *chat.Session, expected int64) error {
	item, err := sessionItem(session)
	if err != nil {
		return fmt.Errorf("dynamostore: encode: %w", err)
	}
	in := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}
	if expected == 0 {
		in.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		in.ConditionExpression = aws.String("version = :v")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		}
	}

	_, err = s.api.PutItem(ctx, in)
	var failed *types.ConditionalCheckFailedException
	if errors.As(err, &failed) {
		return chat.ErrConcurrentModification
	}
	if err != nil {
		return fmt.Errorf("dynamostore: Save: %w", err)
	}
	return nil
}

// ExpireStale scans for sessions idle since before cutoff and resets each
// one with a conditional write. Sessions changed in between are skipped.
func (s *Store) ExpireStale(ctx context.Context, cutoff time.Time, flowID, stepID string) (int, error) {
	in := &dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		FilterExpression: aws.String("last_activity < :cutoff"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cutoff": &types.AttributeValueMemberN{Value: strconv.FormatInt(cutoff.UnixMilli(), 10)},
		},
	}

	expired := 0
	for {
		out, err := s.api.Scan(ctx, in)
		if err != nil {
			return expired, fmt.Errorf("dynamostore: ExpireStale scan: %w", err)
		}
		for _, item := range out.Items {
			session, err := itemToSession(item)
			if err != nil {
				return expired, fmt.Errorf("dynamostore: ExpireStale decode: %w", err)
			}
			if session.FlowID == flowID && session.StepID == stepID && len(session.Context) == 0 {
				continue
			}
			expected := session.Version
			session.Reset(flowID, stepID)
			session.Version = expected + 1
			err = s.put(ctx, session, expected)
			if errors.Is(err, chat.ErrConcurrentModification) {
				continue
			}
			if err != nil {
				return expired, err
			}
			expired++
		}
		if len(out.LastEvaluatedKey) == 0 {
			return expired, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *Store) Delete(ctx context.Context, userKey string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(userKey),
	})
	if err != nil {
		return fmt.Errorf("dynamostore: Delete: %w", err)
	}
	return nil
}

func sessionItem(session *chat.Session) (map[string]types.AttributeValue, error) {
	body, err := jsoncodec.Marshal(session)
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: sessionPK(session.UserKey)},
		"user_key":      &types.AttributeValueMemberS{Value: session.UserKey},
		"session":       &types.AttributeValueMemberS{Value: string(body)},
		"version":       &types.AttributeValueMemberN{Value: strconv.FormatInt(session.Version, 10)},
		"last_activity": &types.AttributeValueMemberN{Value: strconv.FormatInt(session.LastActivityAt.UnixMilli(), 10)},
	}, nil
}

func itemToSession(item map[string]types.AttributeValue) (*chat.Session, error) {
	body, err := strAttr(item, "session")
	if err != nil {
		return nil, err
	}
	version, err := intAttr(item, "version")
	if err != nil {
		return nil, err
	}
	var session chat.Session
	if err := jsoncodec.Unmarshal([]byte(body), &session); err != nil {
		return nil, err
	}
	session.Version = version
	if session.Context == nil {
		session.Context = make(map[string]any)
	}
	return &session, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("dynamostore: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamostore: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("dynamostore: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("dynamostore: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("dynamostore: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
