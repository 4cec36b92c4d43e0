package ingress

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"access-verifier/internal/guard"
	"access-verifier/internal/model"
	"access-verifier/internal/session"
)

type fakeDirectory struct {
	byTag map[string]*model.EmployeeRecord
	err   error
}

func (f *fakeDirectory) FindByRFID(ctx context.Context, tag string) (*model.EmployeeRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byTag[tag], nil
}

func (f *fakeDirectory) GetByID(ctx context.Context, id string) (*model.EmployeeRecord, error) {
	return nil, nil
}
func (f *fakeDirectory) Create(ctx context.Context, emp *model.EmployeeRecord) error { return nil }
func (f *fakeDirectory) List(ctx context.Context) ([]*model.EmployeeRecord, error)  { return nil, nil }
func (f *fakeDirectory) TouchLastVerified(ctx context.Context, id string) error     { return nil }
func (f *fakeDirectory) HealthCheck(ctx context.Context) error                      { return nil }

type fakeExtractor struct {
	vector []float32
	err    error
}

func (f *fakeExtractor) ExtractEmbedding(ctx context.Context, image []byte) ([]float32, error) {
	return f.vector, f.err
}

type fakeImageStore struct {
	saved int
	err   error
}

func (f *fakeImageStore) SaveVerificationImage(ctx context.Context, attemptID string, image []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.saved++
	return "s3://bucket/verification_images/attempt_" + attemptID + ".jpg", nil
}

func (f *fakeImageStore) ImageURL(ctx context.Context, ref string) (string, error) {
	return "", nil
}

type consumerFixture struct {
	consumer  *EvidenceConsumer
	store     *session.Store
	directory *fakeDirectory
	extractor *fakeExtractor
	images    *fakeImageStore
}

func newConsumerFixture() *consumerFixture {
	fx := &consumerFixture{
		store:     session.NewStore(zap.NewNop()),
		directory: &fakeDirectory{byTag: map[string]*model.EmployeeRecord{}},
		extractor: &fakeExtractor{},
		images:    &fakeImageStore{},
	}
	g := guard.NewDuplicateGuard(nil, time.Minute, zap.NewNop())
	fx.consumer = NewEvidenceConsumer(nil, fx.store, g, fx.directory, fx.extractor, fx.images, zap.NewNop())
	return fx
}

func evidencePayload(t *testing.T, msg model.EvidenceMessage) []byte {
	t.Helper()
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	return payload
}

func TestHandleMessage_MalformedJSON_Dropped(t *testing.T) {
	fx := newConsumerFixture()

	fx.consumer.handleMessage(context.Background(), []byte("{not json"))
	require.Equal(t, 0, fx.store.Len())
}

func TestHandleMessage_MissingSessionID_Dropped(t *testing.T) {
	fx := newConsumerFixture()

	payload := evidencePayload(t, model.EvidenceMessage{
		DeviceID:     "door-1",
		RFIDDetected: true,
		RFIDTag:      "TAG001",
	})
	fx.consumer.handleMessage(context.Background(), payload)
	require.Equal(t, 0, fx.store.Len())
}

func TestHandleMessage_RFIDEvidence_ResolvesEmployee(t *testing.T) {
	fx := newConsumerFixture()
	fx.directory.byTag["TAG001"] = &model.EmployeeRecord{ID: "emp-1", Active: true}

	payload := evidencePayload(t, model.EvidenceMessage{
		DeviceID:     "door-1",
		SessionID:    "att-1",
		RFIDDetected: true,
		RFIDTag:      "tag001", // normalized to upper case
	})
	fx.consumer.handleMessage(context.Background(), payload)

	attempt, ok := fx.store.Get("att-1")
	require.True(t, ok)
	require.True(t, attempt.RFIDArrived)
	require.Equal(t, "TAG001", attempt.RFIDTag)
	require.NotNil(t, attempt.EmployeeMatch)
	require.Equal(t, "emp-1", attempt.EmployeeMatch.ID)
}

func TestHandleMessage_DeactivatedEmployee_TreatedAsNoMatch(t *testing.T) {
	fx := newConsumerFixture()
	fx.directory.byTag["TAG001"] = &model.EmployeeRecord{ID: "emp-1", Active: false}

	payload := evidencePayload(t, model.EvidenceMessage{
		DeviceID:     "door-1",
		SessionID:    "att-1",
		RFIDDetected: true,
		RFIDTag:      "TAG001",
	})
	fx.consumer.handleMessage(context.Background(), payload)

	attempt, ok := fx.store.Get("att-1")
	require.True(t, ok)
	require.True(t, attempt.RFIDArrived)
	require.Nil(t, attempt.EmployeeMatch)
}

func TestHandleMessage_DirectoryError_StillAppliesEvidence(t *testing.T) {
	fx := newConsumerFixture()
	fx.directory.err = errors.New("scylla timeout")

	payload := evidencePayload(t, model.EvidenceMessage{
		DeviceID:     "door-1",
		SessionID:    "att-1",
		RFIDDetected: true,
		RFIDTag:      "TAG001",
	})
	fx.consumer.handleMessage(context.Background(), payload)

	attempt, ok := fx.store.Get("att-1")
	require.True(t, ok, "the attempt must still complete so it can be decided")
	require.True(t, attempt.RFIDArrived)
	require.Nil(t, attempt.EmployeeMatch)
}

func TestHandleMessage_ImageEvidence_ExtractsAndStores(t *testing.T) {
	fx := newConsumerFixture()
	fx.extractor.vector = []float32{0.1, 0.2}

	payload := evidencePayload(t, model.EvidenceMessage{
		DeviceID:     "door-1",
		SessionID:    "att-1",
		FaceDetected: true,
		Image:        base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")),
	})
	fx.consumer.handleMessage(context.Background(), payload)

	attempt, ok := fx.store.Get("att-1")
	require.True(t, ok)
	require.True(t, attempt.Image.Arrived)
	require.Equal(t, []float32{0.1, 0.2}, attempt.Image.Embedding)
	require.NotEmpty(t, attempt.Image.StorageRef)
	require.Equal(t, 1, fx.images.saved)
}

func TestHandleMessage_NoFaceInImage_CompletesModality(t *testing.T) {
	fx := newConsumerFixture()
	fx.extractor.vector = nil // face service saw nothing

	payload := evidencePayload(t, model.EvidenceMessage{
		DeviceID:     "door-1",
		SessionID:    "att-1",
		FaceDetected: true,
		Image:        base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")),
	})
	fx.consumer.handleMessage(context.Background(), payload)

	attempt, ok := fx.store.Get("att-1")
	require.True(t, ok)
	require.True(t, attempt.Image.Arrived)
	require.Nil(t, attempt.Image.Embedding)
}

func TestHandleMessage_InvalidImageEncoding_Dropped(t *testing.T) {
	fx := newConsumerFixture()

	payload := evidencePayload(t, model.EvidenceMessage{
		DeviceID:     "door-1",
		SessionID:    "att-1",
		FaceDetected: true,
		Image:        "!!!not-base64!!!",
	})
	fx.consumer.handleMessage(context.Background(), payload)

	attempt, ok := fx.store.Get("att-1")
	if ok {
		require.False(t, attempt.Image.Arrived)
	}
}

func TestHandleMessage_CombinedEvidence_CompletesAttempt(t *testing.T) {
	fx := newConsumerFixture()
	fx.directory.byTag["TAG001"] = &model.EmployeeRecord{ID: "emp-1", Active: true}
	fx.extractor.vector = []float32{0.5}

	payload := evidencePayload(t, model.EvidenceMessage{
		DeviceID:     "door-1",
		SessionID:    "att-1",
		RFIDDetected: true,
		RFIDTag:      "TAG001",
		FaceDetected: true,
		Image:        base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")),
	})
	fx.consumer.handleMessage(context.Background(), payload)

	attempt := fx.store.PopReady()
	require.NotNil(t, attempt, "a message carrying both modalities makes the attempt ready")
	require.True(t, attempt.HasAllEvidence())
}
