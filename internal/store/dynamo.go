// ABOUTME: DynamoDB implementation of SessionStore and IncidentStore using
// ABOUTME: the chat-history and incident-analysis tables.

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// Default table and index names, matching the provisioned infrastructure.
const (
	DefaultChatTable        = "chat-history"
	DefaultIncidentTable    = "incident-analysis"
	userSessionsIndex       = "user-sessions-index"
	defaultUserSessionLimit = 20
)

// DynamoAPI is the slice of the DynamoDB client this store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore implements SessionStore and IncidentStore on DynamoDB.
type DynamoStore struct {
	client        DynamoAPI
	chatTable     string
	incidentTable string
	retention     time.Duration
	logger        *slog.Logger

	now   func() time.Time
	newID func() string
}

// DynamoOption customizes a DynamoStore.
type DynamoOption func(*DynamoStore)

// WithTables overrides the table names.
func WithTables(chat, incident string) DynamoOption {
	return func(d *DynamoStore) {
		d.chatTable = chat
		d.incidentTable = incident
	}
}

// WithRetention overrides the chat record retention window.
func WithRetention(r time.Duration) DynamoOption {
	return func(d *DynamoStore) { d.retention = r }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) DynamoOption {
	return func(d *DynamoStore) { d.logger = l }
}

// NewDynamoStore wraps a DynamoDB client.
func NewDynamoStore(client DynamoAPI, opts ...DynamoOption) *DynamoStore {
	d := &DynamoStore{
		client:        client,
		chatTable:     DefaultChatTable,
		incidentTable: DefaultIncidentTable,
		retention:     DefaultRetention,
		logger:        slog.Default().With("component", "store"),
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Append stores one chat turn. Records tied to an incident are kept
// indefinitely; everything else carries the TTL attribute.
func (d *DynamoStore) Append(ctx context.Context, rec ChatRecord) (ChatRecord, error) {
	if rec.SessionID == "" {
		return ChatRecord{}, fmt.Errorf("append: session id is required")
	}
	now := d.now()
	rec.Timestamp = now.UnixNano()
	rec.MessageID = d.newID()
	if rec.IncidentID == "" {
		rec.ExpiresAt = now.Add(d.retention).Unix()
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return ChatRecord{}, fmt.Errorf("marshaling chat record: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.chatTable),
		Item:      item,
	})
	if err != nil {
		return ChatRecord{}, fmt.Errorf("storing chat record: %w", err)
	}
	return rec, nil
}

// SessionMessages returns a session's turns oldest first, following
// pagination until the session is exhausted.
func (d *DynamoStore) SessionMessages(ctx context.Context, sessionID string) ([]ChatRecord, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("session_id").Equal(expression.Value(sessionID))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("building session query: %w", err)
	}

	var records []ChatRecord
	var startKey map[string]types.AttributeValue
	for {
		out, err := d.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(d.chatTable),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ScanIndexForward:          aws.Bool(true),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("querying session %s: %w", sessionID, err)
		}
		var page []ChatRecord
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshaling session records: %w", err)
		}
		records = append(records, page...)
		if out.LastEvaluatedKey == nil {
			return records, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// UserSessions returns a user's most recent turns newest first, via the
// user-sessions-index GSI.
func (d *DynamoStore) UserSessions(ctx context.Context, user string, limit int) ([]ChatRecord, error) {
	if limit <= 0 {
		limit = defaultUserSessionLimit
	}
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("user_name").Equal(expression.Value(user))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("building user query: %w", err)
	}

	out, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(d.chatTable),
		IndexName:                 aws.String(userSessionsIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("querying sessions for %s: %w", user, err)
	}
	var records []ChatRecord
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &records); err != nil {
		return nil, fmt.Errorf("unmarshaling user records: %w", err)
	}
	return records, nil
}

// SessionExists checks for any turn with Limit 1, never a scan.
func (d *DynamoStore) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("session_id").Equal(expression.Value(sessionID))).
		Build()
	if err != nil {
		return false, fmt.Errorf("building existence query: %w", err)
	}

	out, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(d.chatTable),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("checking session %s: %w", sessionID, err)
	}
	return len(out.Items) > 0, nil
}

// Save writes an incident record.
func (d *DynamoStore) Save(ctx context.Context, inc *Incident) error {
	if inc.ID == "" {
		return fmt.Errorf("save incident: id is required")
	}
	now := d.now()
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = now
	}
	inc.UpdatedAt = now
	if inc.Status == "" {
		inc.Status = StatusPending
	}

	item, err := attributevalue.MarshalMap(inc)
	if err != nil {
		return fmt.Errorf("marshaling incident: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.incidentTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("storing incident %s: %w", inc.ID, err)
	}
	return nil
}

// Get returns the incident record or ErrNotFound.
func (d *DynamoStore) Get(ctx context.Context, id string) (*Incident, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.incidentTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("loading incident %s: %w", id, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var inc Incident
	if err := attributevalue.UnmarshalMap(out.Item, &inc); err != nil {
		return nil, fmt.Errorf("unmarshaling incident %s: %w", id, err)
	}
	return &inc, nil
}

// SetStatus transitions an existing incident's status.
func (d *DynamoStore) SetStatus(ctx context.Context, id string, status IncidentStatus) error {
	return d.update(ctx, id, expression.
		Set(expression.Name("status"), expression.Value(status)).
		Set(expression.Name("updated_at"), expression.Value(d.now())))
}

// SetResult stores the analysis outcome and its final status.
func (d *DynamoStore) SetResult(ctx context.Context, id string, status IncidentStatus, result string) error {
	return d.update(ctx, id, expression.
		Set(expression.Name("analysis_result"), expression.Value(result)).
		Set(expression.Name("status"), expression.Value(status)).
		Set(expression.Name("updated_at"), expression.Value(d.now())))
}

func (d *DynamoStore) update(ctx context.Context, id string, upd expression.UpdateBuilder) error {
	expr, err := expression.NewBuilder().
		WithUpdate(upd).
		WithCondition(expression.AttributeExists(expression.Name("id"))).
		Build()
	if err != nil {
		return fmt.Errorf("building incident update: %w", err)
	}

	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.incidentTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrNotFound
		}
		return fmt.Errorf("updating incident %s: %w", id, err)
	}
	return nil
}
