package service

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/interviewace/session-server/internal/database"
	"github.com/interviewace/session-server/internal/model"
	"github.com/interviewace/session-server/internal/repository"
	"github.com/interviewace/session-server/internal/sse"
)

// fakeTx runs the callback without a real transaction; repository mocks return
// themselves from WithTx.
type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) FindByPaymentSessionID(ctx context.Context, paymentSessionID string) (*model.Session, error) {
	args := m.Called(ctx, paymentSessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) FindByCode(ctx context.Context, code string) (*model.Session, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) SetPaymentSession(ctx context.Context, id string, provider model.PaymentProvider, paymentSessionID string) error {
	args := m.Called(ctx, id, provider, paymentSessionID)
	return args.Error(0)
}

func (m *mockSessionRepo) Transition(ctx context.Context, params model.TransitionParams) (*model.Session, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) IncrementQuestionsUsed(ctx context.Context, id string, at time.Time) (*model.Session, error) {
	args := m.Called(ctx, id, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) CompleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSessionRepo) WithTx(tx *sqlx.Tx) repository.SessionRepository {
	return m
}

type mockDeviceRepo struct {
	mock.Mock
}

func (m *mockDeviceRepo) Create(ctx context.Context, params model.CreateDeviceConnectionParams) (*model.DeviceConnection, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DeviceConnection), args.Error(1)
}

func (m *mockDeviceRepo) Touch(ctx context.Context, sessionID, connectionID string, at time.Time) (bool, error) {
	args := m.Called(ctx, sessionID, connectionID, at)
	return args.Bool(0), args.Error(1)
}

func (m *mockDeviceRepo) FindActiveBySession(ctx context.Context, sessionID string, since time.Time) ([]model.DeviceConnection, error) {
	args := m.Called(ctx, sessionID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DeviceConnection), args.Error(1)
}

func (m *mockDeviceRepo) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type mockTranscriptRepo struct {
	mock.Mock
}

func (m *mockTranscriptRepo) Create(ctx context.Context, params model.CreateTranscriptParams) (*model.Transcript, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transcript), args.Error(1)
}

func (m *mockTranscriptRepo) FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.Transcript, error) {
	args := m.Called(ctx, sessionID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Transcript), args.Error(1)
}

func (m *mockTranscriptRepo) CountBySessionID(ctx context.Context, sessionID string) (int, error) {
	args := m.Called(ctx, sessionID)
	return args.Int(0), args.Error(1)
}

func (m *mockTranscriptRepo) SetAnswer(ctx context.Context, id string, answer string) error {
	args := m.Called(ctx, id, answer)
	return args.Error(0)
}

func (m *mockTranscriptRepo) WithTx(tx *sqlx.Tx) repository.TranscriptRepository {
	return m
}

type mockDocumentRepo struct {
	mock.Mock
}

func (m *mockDocumentRepo) Create(ctx context.Context, params model.CreateDocumentParams) (*model.Document, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *mockDocumentRepo) FindBySessionID(ctx context.Context, sessionID string) ([]model.Document, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Document), args.Error(1)
}

func (m *mockDocumentRepo) WithTx(tx *sqlx.Tx) repository.DocumentRepository {
	return m
}

type mockOTPRepo struct {
	mock.Mock
}

func (m *mockOTPRepo) WithTx(tx *sqlx.Tx) repository.EmailOTPRepository {
	return m
}

func (m *mockOTPRepo) LockEmail(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *mockOTPRepo) Create(ctx context.Context, params model.CreateEmailOTPParams) (*model.EmailOTP, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.EmailOTP), args.Error(1)
}

func (m *mockOTPRepo) CountSince(ctx context.Context, email string, since time.Time) (int, error) {
	args := m.Called(ctx, email, since)
	return args.Int(0), args.Error(1)
}

func (m *mockOTPRepo) FindLatestActive(ctx context.Context, email string, now time.Time, maxAttempts int) (*model.EmailOTP, error) {
	args := m.Called(ctx, email, now, maxAttempts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.EmailOTP), args.Error(1)
}

func (m *mockOTPRepo) IncrementAttempts(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockOTPRepo) MarkUsed(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockOTPRepo) DeleteExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendUploadLink(ctx context.Context, email UploadLinkEmail) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *mockNotifier) SendSessionReady(ctx context.Context, email SessionReadyEmail) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *mockNotifier) SendOTP(ctx context.Context, to, code string) error {
	args := m.Called(ctx, to, code)
	return args.Error(0)
}

type mockAnswerGenerator struct {
	mock.Mock
}

func (m *mockAnswerGenerator) Generate(ctx context.Context, systemPrompt, question string) (string, error) {
	args := m.Called(ctx, systemPrompt, question)
	return args.String(0), args.Error(1)
}

type mockTranscriber struct {
	mock.Mock
}

func (m *mockTranscriber) Transcribe(ctx context.Context, audio []byte, fileName, contentType string) (string, error) {
	args := m.Called(ctx, audio, fileName, contentType)
	return args.String(0), args.Error(1)
}

// recordingPublisher captures published events in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []sse.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, sessionID string, event sse.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, len(p.events))
	for i, e := range p.events {
		types[i] = e.Type
	}
	return types
}

type memoryStore struct {
	objects   map[string][]byte
	err       error
	deleteErr error
	deleted   []string
}

func (s *memoryStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[key] = data
	return key, nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.objects, key)
	return nil
}

func fixedClock(t time.Time) clock {
	return func() time.Time { return t }
}

func strPtr(s string) *string {
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}
