package repositories

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/el7lm/smartlogin/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo keeps items in memory and evaluates the two condition
// expressions the profile repository issues.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	puts  int

	// beforePut runs before each conditional put; tests use it to simulate
	// a concurrent writer.
	beforePut func(f *fakeDynamo)
	getErr    error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(item map[string]types.AttributeValue) string {
	pk := item["PK"].(*types.AttributeValueMemberS).Value
	sk := item["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDynamo) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(params.Key)]}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.beforePut != nil {
		f.beforePut(f)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++

	key := itemKey(params.Item)
	existing, exists := f.items[key]

	switch aws.ToString(params.ConditionExpression) {
	case "attribute_not_exists(PK)":
		if exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	case "#version = :expected":
		expected := params.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN).Value
		if !exists || existing["version"].(*types.AttributeValueMemberN).Value != expected {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("version")}
		}
	}

	f.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) bumpVersion(phone, version string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.items[profilePKPrefix+phone+"|"+profileSK]
	item["version"] = &types.AttributeValueMemberN{Value: version}
}

const dynamoTestPhone = "+966501234567"

func newDynamoRepo(client DynamoDBAPI) *DynamoProfileRepository {
	return NewDynamoProfileRepository(client, "smartlogin-profiles", slog.Default())
}

func TestDynamoProfileRepository_CreateAndFind(t *testing.T) {
	fake := newFakeDynamo()
	repo := newDynamoRepo(fake)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	profile := models.NewSecurityProfile(dynamoTestPhone, now)
	profile.LoginAttempts.Append(models.LoginAttempt{Timestamp: now, Success: true, DeviceInfo: "d1", IPAddress: "10.0.0.1", Location: models.UnknownLocation})
	require.NoError(t, repo.Create(context.Background(), profile))
	assert.Equal(t, int64(1), profile.Version)

	got, err := repo.FindByPhone(context.Background(), dynamoTestPhone)
	require.NoError(t, err)
	assert.Equal(t, dynamoTestPhone, got.Phone)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, models.SecurityLevelNew, got.SecurityLevel)
	assert.Equal(t, []string{}, got.TrustedDevices)
	assert.Nil(t, got.LastLogin)
	require.Equal(t, 1, got.LoginAttempts.Len())
	assert.Equal(t, "d1", got.LoginAttempts.Attempts()[0].DeviceInfo)
	assert.True(t, got.LoginAttempts.Attempts()[0].Timestamp.Equal(now))
}

func TestDynamoProfileRepository_CreateDuplicate(t *testing.T) {
	repo := newDynamoRepo(newFakeDynamo())
	now := time.Now()

	require.NoError(t, repo.Create(context.Background(), models.NewSecurityProfile(dynamoTestPhone, now)))
	err := repo.Create(context.Background(), models.NewSecurityProfile(dynamoTestPhone, now))

	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestDynamoProfileRepository_FindMissing(t *testing.T) {
	repo := newDynamoRepo(newFakeDynamo())

	_, err := repo.FindByPhone(context.Background(), dynamoTestPhone)

	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDynamoProfileRepository_FindError(t *testing.T) {
	fake := newFakeDynamo()
	fake.getErr = errors.New("throttled")
	repo := newDynamoRepo(fake)

	_, err := repo.FindByPhone(context.Background(), dynamoTestPhone)

	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrNotFound)
}

func TestDynamoProfileRepository_Update(t *testing.T) {
	fake := newFakeDynamo()
	repo := newDynamoRepo(fake)
	require.NoError(t, repo.Create(context.Background(), models.NewSecurityProfile(dynamoTestPhone, time.Now())))

	err := repo.Update(context.Background(), dynamoTestPhone, func(p *models.SecurityProfile) error {
		p.SuccessfulLogins = 3
		p.TotalLogins = 4
		p.TrustDevice("device-a")
		p.SecurityLevel = models.SecurityLevelTrusted
		return nil
	})
	require.NoError(t, err)

	got, err := repo.FindByPhone(context.Background(), dynamoTestPhone)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 3, got.SuccessfulLogins)
	assert.Equal(t, []string{"device-a"}, got.TrustedDevices)
	assert.Equal(t, models.SecurityLevelTrusted, got.SecurityLevel)
}

func TestDynamoProfileRepository_UpdateMissing(t *testing.T) {
	repo := newDynamoRepo(newFakeDynamo())

	err := repo.Update(context.Background(), dynamoTestPhone, func(p *models.SecurityProfile) error {
		t.Fatal("fn must not run without a profile")
		return nil
	})

	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDynamoProfileRepository_UpdateRetriesOnConflict(t *testing.T) {
	fake := newFakeDynamo()
	repo := newDynamoRepo(fake)
	require.NoError(t, repo.Create(context.Background(), models.NewSecurityProfile(dynamoTestPhone, time.Now())))

	conflicted := false
	fake.beforePut = func(f *fakeDynamo) {
		if !conflicted {
			conflicted = true
			f.bumpVersion(dynamoTestPhone, "7")
		}
	}

	calls := 0
	err := repo.Update(context.Background(), dynamoTestPhone, func(p *models.SecurityProfile) error {
		calls++
		p.TotalLogins++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	got, err := repo.FindByPhone(context.Background(), dynamoTestPhone)
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.Version)
	assert.Equal(t, 1, got.TotalLogins)
}

func TestDynamoProfileRepository_UpdateGivesUp(t *testing.T) {
	fake := newFakeDynamo()
	repo := newDynamoRepo(fake)
	require.NoError(t, repo.Create(context.Background(), models.NewSecurityProfile(dynamoTestPhone, time.Now())))

	version := 10
	fake.beforePut = func(f *fakeDynamo) {
		version++
		f.bumpVersion(dynamoTestPhone, strconv.Itoa(version))
	}

	err := repo.Update(context.Background(), dynamoTestPhone, func(p *models.SecurityProfile) error {
		p.TotalLogins++
		return nil
	})

	assert.ErrorIs(t, err, models.ErrVersionConflict)
	assert.Equal(t, 1+maxUpdateRetries, fake.puts)
}

func TestDynamoProfileRepository_UpdateFnError(t *testing.T) {
	fake := newFakeDynamo()
	repo := newDynamoRepo(fake)
	require.NoError(t, repo.Create(context.Background(), models.NewSecurityProfile(dynamoTestPhone, time.Now())))
	sentinel := errors.New("abort")

	err := repo.Update(context.Background(), dynamoTestPhone, func(p *models.SecurityProfile) error {
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, fake.puts)
}

func TestProfileItem_CapsHistory(t *testing.T) {
	attempts := make([]loginAttemptItem, 15)
	base := time.Now()
	for i := range attempts {
		attempts[i] = loginAttemptItem{Timestamp: base.Add(time.Duration(i) * time.Second), DeviceInfo: strconv.Itoa(i)}
	}

	p := profileItem{Phone: dynamoTestPhone, LoginAttempts: attempts}.toModel()

	require.Equal(t, models.MaxLoginAttempts, p.LoginAttempts.Len())
	assert.Equal(t, "5", p.LoginAttempts.Attempts()[0].DeviceInfo)
	assert.Equal(t, "14", p.LoginAttempts.Attempts()[9].DeviceInfo)
}
