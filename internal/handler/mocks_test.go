package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/interviewace/session-server/internal/database"
	"github.com/interviewace/session-server/internal/middleware"
	"github.com/interviewace/session-server/internal/model"
	"github.com/interviewace/session-server/internal/repository"
	"github.com/interviewace/session-server/internal/service"
	"github.com/interviewace/session-server/internal/sse"
)

const testSessionID = "7d8e3c1a-2b4f-4c6d-9e8f-0a1b2c3d4e5f"

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

func (m *mockNotifier) SendUploadLink(ctx context.Context, email service.UploadLinkEmail) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *mockNotifier) SendSessionReady(ctx context.Context, email service.SessionReadyEmail) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *mockNotifier) SendOTP(ctx context.Context, to, code string) error {
	args := m.Called(ctx, to, code)
	return args.Error(0)
}

type fakeLimiter struct {
	result service.RateLimitResult
	calls  []string
}

func (l *fakeLimiter) Allow(ctx context.Context, policy service.RateLimitPolicy, subject string) service.RateLimitResult {
	l.calls = append(l.calls, policy.Name+":"+subject)
	return l.result
}

func newLifecycle(sessions *mockSessionRepo, documents *mockDocumentRepo) *service.LifecycleService {
	return service.NewLifecycleService(fakeTx{}, sessions, documents, nil, new(mockNotifier), &recordingPublisher{})
}

// withURLParam routes a request as chi would for a single path parameter.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), middleware.UserIDContextKey, userID))
}

func runningSession(remaining time.Duration) *model.Session {
	started := time.Now().Add(-time.Minute)
	expires := time.Now().Add(remaining)
	return &model.Session{
		ID:              testSessionID,
		Status:          model.SessionStatusInProgress,
		DeviceMode:      model.DeviceModeCross,
		PlanType:        "pro",
		DurationMinutes: 60,
		StartedAt:       &started,
		ExpiresAt:       &expires,
	}
}

func strPtr(s string) *string {
	return &s
}
