package repositories

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/el7lm/smartlogin/internal/config"
	"github.com/el7lm/smartlogin/internal/models"
	pkglogger "github.com/el7lm/smartlogin/pkg/logger"
)

const (
	profilePKPrefix = "PROFILE#"
	profileSK       = "SECURITY"

	// Conditional write retries before Update gives up with ErrVersionConflict
	maxUpdateRetries = 3
)

// DynamoDBAPI is the subset of the DynamoDB client the profile store uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// NewDynamoDBClient builds a client for cfg.Region, pointed at cfg.Endpoint
// when one is set (DynamoDB Local in development).
func NewDynamoDBClient(ctx context.Context, cfg config.DynamoDBConfig) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// profileItem is the DynamoDB representation of a SecurityProfile.
type profileItem struct {
	PK               string             `dynamodbav:"PK"`
	SK               string             `dynamodbav:"SK"`
	Phone            string             `dynamodbav:"phone"`
	PhoneVerified    bool               `dynamodbav:"phone_verified"`
	TotalLogins      int                `dynamodbav:"total_logins"`
	SuccessfulLogins int                `dynamodbav:"successful_logins"`
	LastLogin        *time.Time         `dynamodbav:"last_login,omitempty"`
	LastLoginDevice  string             `dynamodbav:"last_login_device"`
	LastLoginIP      string             `dynamodbav:"last_login_ip"`
	TrustedDevices   []string           `dynamodbav:"trusted_devices"`
	LoginAttempts    []loginAttemptItem `dynamodbav:"login_attempts"`
	SecurityLevel    string             `dynamodbav:"security_level"`
	RequiresOTP      bool               `dynamodbav:"requires_otp"`
	OTPBypassEnabled bool               `dynamodbav:"otp_bypass_enabled"`
	Version          int64              `dynamodbav:"version"`
	CreatedAt        time.Time          `dynamodbav:"created_at"`
	UpdatedAt        time.Time          `dynamodbav:"updated_at"`
}

type loginAttemptItem struct {
	Timestamp  time.Time `dynamodbav:"timestamp"`
	Success    bool      `dynamodbav:"success"`
	DeviceInfo string    `dynamodbav:"device_info"`
	IPAddress  string    `dynamodbav:"ip_address"`
	Location   string    `dynamodbav:"location"`
}

func profileKey(phone string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: profilePKPrefix + phone},
		"SK": &types.AttributeValueMemberS{Value: profileSK},
	}
}

func toProfileItem(p *models.SecurityProfile) profileItem {
	attempts := p.LoginAttempts.Attempts()
	items := make([]loginAttemptItem, len(attempts))
	for i, a := range attempts {
		items[i] = loginAttemptItem(a)
	}

	return profileItem{
		PK:               profilePKPrefix + p.Phone,
		SK:               profileSK,
		Phone:            p.Phone,
		PhoneVerified:    p.PhoneVerified,
		TotalLogins:      p.TotalLogins,
		SuccessfulLogins: p.SuccessfulLogins,
		LastLogin:        p.LastLogin,
		LastLoginDevice:  p.LastLoginDevice,
		LastLoginIP:      p.LastLoginIP,
		TrustedDevices:   trustedDevices(p),
		LoginAttempts:    items,
		SecurityLevel:    securityLevel(p),
		RequiresOTP:      p.RequiresOTP,
		OTPBypassEnabled: p.OTPBypassEnabled,
		Version:          p.Version,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func (it profileItem) toModel() *models.SecurityProfile {
	attempts := make([]models.LoginAttempt, len(it.LoginAttempts))
	for i, a := range it.LoginAttempts {
		attempts[i] = models.LoginAttempt(a)
	}

	p := &models.SecurityProfile{
		Phone:            it.Phone,
		PhoneVerified:    it.PhoneVerified,
		TotalLogins:      it.TotalLogins,
		SuccessfulLogins: it.SuccessfulLogins,
		LastLogin:        it.LastLogin,
		LastLoginDevice:  it.LastLoginDevice,
		LastLoginIP:      it.LastLoginIP,
		TrustedDevices:   it.TrustedDevices,
		LoginAttempts:    models.NewAttemptHistory(attempts),
		SecurityLevel:    models.SecurityLevel(it.SecurityLevel),
		RequiresOTP:      it.RequiresOTP,
		OTPBypassEnabled: it.OTPBypassEnabled,
		Version:          it.Version,
		CreatedAt:        it.CreatedAt,
		UpdatedAt:        it.UpdatedAt,
	}
	if p.TrustedDevices == nil {
		p.TrustedDevices = []string{}
	}
	if p.SecurityLevel == "" {
		p.SecurityLevel = models.SecurityLevelNew
	}
	return p
}

// DynamoProfileRepository stores security profiles in a single DynamoDB
// table. Writes are conditional on the version attribute.
type DynamoProfileRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *slog.Logger
}

func NewDynamoProfileRepository(client DynamoDBAPI, tableName string, logger *slog.Logger) *DynamoProfileRepository {
	return &DynamoProfileRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func (r *DynamoProfileRepository) Create(ctx context.Context, profile *models.SecurityProfile) error {
	item := toProfileItem(profile)
	item.Version = 1

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return models.ErrConflict
		}
		r.logger.Error("failed to create profile in DynamoDB",
			slog.String("phone", pkglogger.SanitizedPhone(profile.Phone)),
			slog.Any("error", err))
		return fmt.Errorf("failed to create profile: %w", err)
	}

	profile.Version = 1
	return nil
}

func (r *DynamoProfileRepository) FindByPhone(ctx context.Context, phone string) (*models.SecurityProfile, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            profileKey(phone),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrNotFound
	}

	var item profileItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	return item.toModel(), nil
}

// Update re-reads the profile and retries fn when another writer bumped the
// version between the read and the conditional put.
func (r *DynamoProfileRepository) Update(ctx context.Context, phone string, fn func(*models.SecurityProfile) error) error {
	for attempt := 1; attempt <= maxUpdateRetries; attempt++ {
		profile, err := r.FindByPhone(ctx, phone)
		if err != nil {
			return err
		}

		if err := fn(profile); err != nil {
			return err
		}

		expected := profile.Version
		item := toProfileItem(profile)
		item.Version = expected + 1

		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			return fmt.Errorf("failed to marshal profile: %w", err)
		}

		_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(r.tableName),
			Item:                av,
			ConditionExpression: aws.String("#version = :expected"),
			ExpressionAttributeNames: map[string]string{
				"#version": "version",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
			},
		})
		if err == nil {
			return nil
		}

		var ccf *types.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			return fmt.Errorf("failed to update profile: %w", err)
		}

		r.logger.Debug("profile version conflict, retrying",
			slog.String("phone", pkglogger.SanitizedPhone(phone)),
			slog.Int("attempt", attempt))
	}

	return models.ErrVersionConflict
}
