package repositories

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
)

// depositMarkerPrefix namespaces deposit records inside the accounts table.
const depositMarkerPrefix = "DEPOSIT#"

// creditMaxRetries bounds the retries of a credit whose account kept changing.
const creditMaxRetries = 20

// ErrCreditConflict is returned when concurrent credits to the same account
// outran the retries of Credit. The credit was not applied.
var ErrCreditConflict = errors.New("credit conflict")

var errVersionConflict = errors.New("account version changed")

// DynamoDBAPI is the subset of *dynamodb.Client used by the balance store.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// depositMarker records that a deposit key has been credited.
type depositMarker struct {
	Email     string `dynamodbav:"email"`
	Account   string `dynamodbav:"account"`
	CreatedAt string `dynamodbav:"created_at"`
}

// BalanceDynamoDBRepository keeps account balances in a DynamoDB table keyed by email,
// with the balance in the numeric attribute "amount".
type BalanceDynamoDBRepository struct {
	client     DynamoDBAPI
	tableName  string
	newBackOff func() backoff.BackOff
}

func NewBalanceDynamoDBRepository(client DynamoDBAPI, tableName string) *BalanceDynamoDBRepository {
	return &BalanceDynamoDBRepository{client: client, tableName: tableName, newBackOff: defaultCreditBackOff}
}

// EnsureSchema creates the table on demand. An existing table is left as is.
func (r *BalanceDynamoDBRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(r.tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("email"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("email"), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	logQuery("CreateTable", []any{r.tableName}, nil, err)

	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("ensure table %s: %w", r.tableName, err)
	}
	return nil
}

// Get returns the balance of an account using a strongly consistent read.
func (r *BalanceDynamoDBRepository) Get(ctx context.Context, email string) (decimal.Decimal, bool, error) {
	balance, _, found, err := r.getAccount(ctx, email)
	return balance, found, err
}

// getAccount reads the balance and the version of an account. An account
// that was never credited has version 0.
func (r *BalanceDynamoDBRepository) getAccount(ctx context.Context, email string) (decimal.Decimal, int64, bool, error) {
	expr, err := expression.NewBuilder().
		WithProjection(expression.NamesList(expression.Name("amount"), expression.Name("version"))).
		Build()
	if err != nil {
		return decimal.Zero, 0, false, fmt.Errorf("build projection: %w", err)
	}

	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      accountKey(email),
		ConsistentRead:           aws.Bool(true),
		ProjectionExpression:     expr.Projection(),
		ExpressionAttributeNames: expr.Names(),
	})
	logQuery("GetItem", []any{email}, nil, err)
	if err != nil {
		return decimal.Zero, 0, false, err
	}
	if len(out.Item) == 0 {
		return decimal.Zero, 0, false, nil
	}

	balance, err := amountOf(out.Item)
	if err != nil {
		return decimal.Zero, 0, false, err
	}
	version, err := versionOf(out.Item)
	if err != nil {
		return decimal.Zero, 0, false, err
	}
	return balance, version, true, nil
}

// Put inserts a new account.
func (r *BalanceDynamoDBRepository) Put(ctx context.Context, email string, balance decimal.Decimal) error {
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("email"))).
		Build()
	if err != nil {
		return fmt.Errorf("build condition expression: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item: map[string]types.AttributeValue{
			"email":      &types.AttributeValueMemberS{Value: email},
			"amount":     numberOf(balance),
			"created_at": &types.AttributeValueMemberS{Value: now},
			"updated_at": &types.AttributeValueMemberS{Value: now},
		},
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	logQuery("PutItem", []any{email, balance}, nil, err)

	var conditionalCheckFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionalCheckFailed) {
		return ErrAccountExists
	}
	return err
}

// Update overwrites the balance of an existing account.
func (r *BalanceDynamoDBRepository) Update(ctx context.Context, email string, balance decimal.Decimal) error {
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name("email"))).
		Build()
	if err != nil {
		return fmt.Errorf("build condition expression: %w", err)
	}

	names := expr.Names()
	names["#amount"] = "amount"
	names["#updated_at"] = "updated_at"
	names["#version"] = "version"

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      accountKey(email),
		UpdateExpression:         aws.String("SET #amount = :amount, #updated_at = :now, #version = if_not_exists(#version, :zero) + :one"),
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: names,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":amount": numberOf(balance),
			":now":    &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
			":zero":   &types.AttributeValueMemberN{Value: "0"},
			":one":    &types.AttributeValueMemberN{Value: "1"},
		},
	})
	logQuery("UpdateItem", []any{email, balance}, nil, err)

	var conditionalCheckFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionalCheckFailed) {
		return ErrAccountNotFound
	}
	return err
}

// Credit adds amount to the account balance once per depositKey.
//
// The balance is read with its version, and the deposit marker and the new
// balance are written in one transaction that requires the version to be
// unchanged. The returned balance is therefore the one this deposit produced.
// A marker that already exists reports applied=false with the current
// balance; a version that moved is retried.
func (r *BalanceDynamoDBRepository) Credit(ctx context.Context, depositKey, email string, amount decimal.Decimal) (decimal.Decimal, bool, error) {
	var (
		balance decimal.Decimal
		applied bool
	)
	op := func() error {
		var err error
		balance, applied, err = r.credit(ctx, depositKey, email, amount)
		if err != nil && !errors.Is(err, errVersionConflict) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), creditMaxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if errors.Is(err, errVersionConflict) {
			return decimal.Zero, false, fmt.Errorf("%w: %s", ErrCreditConflict, email)
		}
		return decimal.Zero, false, err
	}
	return balance, applied, nil
}

func (r *BalanceDynamoDBRepository) credit(ctx context.Context, depositKey, email string, amount decimal.Decimal) (decimal.Decimal, bool, error) {
	current, version, _, err := r.getAccount(ctx, email)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("read balance: %w", err)
	}
	next := current.Add(amount)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	marker, err := attributevalue.MarshalMap(depositMarker{
		Email:     depositMarkerPrefix + depositKey,
		Account:   email,
		CreatedAt: now,
	})
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("marshal deposit marker: %w", err)
	}
	marker["amount"] = numberOf(amount)
	marker["balance"] = numberOf(next)

	cond, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("email"))).
		Build()
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("build condition expression: %w", err)
	}

	values := map[string]types.AttributeValue{
		":amount":  numberOf(next),
		":version": &types.AttributeValueMemberN{Value: strconv.FormatInt(version+1, 10)},
		":now":     &types.AttributeValueMemberS{Value: now},
	}
	versionCond := "attribute_not_exists(#version)"
	if version > 0 {
		versionCond = "#version = :expected"
		values[":expected"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)}
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:                 aws.String(r.tableName),
					Item:                      marker,
					ConditionExpression:       cond.Condition(),
					ExpressionAttributeNames:  cond.Names(),
					ExpressionAttributeValues: cond.Values(),
				},
			},
			{
				Update: &types.Update{
					TableName:           aws.String(r.tableName),
					Key:                 accountKey(email),
					UpdateExpression:    aws.String("SET #amount = :amount, #version = :version, #updated_at = :now, #created_at = if_not_exists(#created_at, :now)"),
					ConditionExpression: aws.String(versionCond),
					ExpressionAttributeNames: map[string]string{
						"#amount":     "amount",
						"#version":    "version",
						"#updated_at": "updated_at",
						"#created_at": "created_at",
					},
					ExpressionAttributeValues: values,
				},
			},
		},
	})
	logQuery("TransactWriteItems", []any{depositKey, email, amount, version}, next, err)
	if err == nil {
		return next, true, nil
	}

	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return decimal.Zero, false, fmt.Errorf("credit account: %w", err)
	}
	switch {
	case reasonCode(canceled.CancellationReasons, 0) == "ConditionalCheckFailed":
		balance, _, err := r.Get(ctx, email)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("read balance: %w", err)
		}
		return balance, false, nil
	case reasonCode(canceled.CancellationReasons, 1) == "ConditionalCheckFailed",
		hasReason(canceled.CancellationReasons, "TransactionConflict"):
		return decimal.Zero, false, errVersionConflict
	}
	return decimal.Zero, false, fmt.Errorf("credit account: %w", err)
}

func accountKey(email string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"email": &types.AttributeValueMemberS{Value: email},
	}
}

func numberOf(d decimal.Decimal) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: d.String()}
}

func amountOf(item map[string]types.AttributeValue) (decimal.Decimal, error) {
	n, ok := item["amount"].(*types.AttributeValueMemberN)
	if !ok {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(n.Value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", n.Value, err)
	}
	return d, nil
}

func versionOf(item map[string]types.AttributeValue) (int64, error) {
	n, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse version %q: %w", n.Value, err)
	}
	return v, nil
}

func reasonCode(reasons []types.CancellationReason, i int) string {
	if i >= len(reasons) {
		return ""
	}
	return aws.ToString(reasons[i].Code)
}

func hasReason(reasons []types.CancellationReason, code string) bool {
	for _, reason := range reasons {
		if aws.ToString(reason.Code) == code {
			return true
		}
	}
	return false
}

func defaultCreditBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0
	return b
}
