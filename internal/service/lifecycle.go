package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/interviewace/session-server/internal/config"
	apperrors "github.com/interviewace/session-server/internal/errors"
	"github.com/interviewace/session-server/internal/model"
	"github.com/interviewace/session-server/internal/repository"
	"github.com/interviewace/session-server/internal/sse"
	"github.com/interviewace/session-server/internal/util"
)

const (
	sessionCodeGenerateAttempts = 10
	jobDescriptionFileName      = "job_description.txt"
)

type CreatePendingParams struct {
	UserID      *string
	UserEmail   string
	PlanType    string
	DeviceMode  model.DeviceMode
	SessionType *string
	// PriceCents and DurationMinutes override the catalog when positive.
	PriceCents      int
	DurationMinutes int
}

type ConfirmResult struct {
	Session          *model.Session
	AlreadyConfirmed bool
}

type SubmitAssetsParams struct {
	SessionID      string
	ResumeContent  string // base64
	ResumeFileName string
	ResumeMimeType string
	JobDescription string
	JobRole        *string
	SessionCode    string
}

type SubmitAssetsResult struct {
	Session     *model.Session
	ResumeDocID string
	JobDocID    string
	SessionCode string
}

type Countdown struct {
	RemainingSeconds int64  `json:"remainingSeconds"`
	Warning          string `json:"warning,omitempty"`
	Expired          bool   `json:"expired"`
	RedirectPath     string `json:"redirectPath,omitempty"`
}

type StatusResult struct {
	Session   *model.Session
	Countdown Countdown
}

type VerifyCodeResult struct {
	Session          *model.Session
	RemainingMinutes int
	DurationHours    int
}

type LifecycleService struct {
	db        Transactor
	sessions  repository.SessionRepository
	documents repository.DocumentRepository
	store     DocumentStore
	notifier  Notifier
	events    EventPublisher
	now       clock
}

func NewLifecycleService(
	db Transactor,
	sessions repository.SessionRepository,
	documents repository.DocumentRepository,
	store DocumentStore,
	notifier Notifier,
	events EventPublisher,
) *LifecycleService {
	return &LifecycleService{
		db:        db,
		sessions:  sessions,
		documents: documents,
		store:     store,
		notifier:  notifier,
		events:    events,
		now:       systemClock,
	}
}

func (s *LifecycleService) CreatePending(ctx context.Context, params CreatePendingParams) (*model.Session, error) {
	email := util.NormalizeEmail(params.UserEmail)
	if email == "" {
		return nil, apperrors.MissingRequired("userEmail")
	}
	if !util.IsValidEmail(email) {
		return nil, apperrors.InvalidInput("userEmail", "must be a valid email address")
	}
	if strings.TrimSpace(params.PlanType) == "" {
		return nil, apperrors.MissingRequired("planType")
	}

	mode := params.DeviceMode
	if mode == "" {
		mode = model.DeviceModeSingle
	}
	if !mode.Valid() {
		return nil, apperrors.InvalidInput("deviceMode", "must be single or cross")
	}

	plan, known := LookupPlan(params.PlanType)
	if !known {
		log.Warn().Str("planType", params.PlanType).Msg("unknown plan type, using default duration")
	}
	price := plan.PriceCents
	if params.PriceCents > 0 {
		price = params.PriceCents
	}
	duration := plan.DurationMinutes
	if params.DurationMinutes > 0 {
		duration = params.DurationMinutes
	}

	session, err := s.sessions.Create(ctx, model.CreateSessionParams{
		ID:                     uuid.NewString(),
		UserID:                 params.UserID,
		UserEmail:              &email,
		Status:                 model.SessionStatusPending,
		DeviceMode:             mode,
		PlanType:               plan.Type,
		SessionType:            params.SessionType,
		DurationMinutes:        duration,
		PriceCents:             price,
		Currency:               plan.Currency,
		QuestionsIncluded:      plan.QuestionsIncluded,
		CodingSessionsIncluded: plan.CodingSessionsIncluded,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	log.Info().
		Str("sessionId", session.ID).
		Str("planType", session.PlanType).
		Str("deviceMode", string(session.DeviceMode)).
		Msg("pending session created")

	return session, nil
}

// AttachPayment records the external checkout or order id on a pending session.
func (s *LifecycleService) AttachPayment(ctx context.Context, sessionID string, provider model.PaymentProvider, paymentSessionID string) error {
	if err := s.sessions.SetPaymentSession(ctx, sessionID, provider, paymentSessionID); err != nil {
		return fmt.Errorf("attach payment session: %w", err)
	}
	return nil
}

// ConfirmPayment moves a pending session to pending_assets. Redelivered
// webhooks for an already confirmed session are acknowledged without side effects.
func (s *LifecycleService) ConfirmPayment(ctx context.Context, provider model.PaymentProvider, paymentSessionID, paymentReference string) (*ConfirmResult, error) {
	if paymentSessionID == "" {
		return nil, apperrors.MissingRequired("paymentSessionId")
	}

	session, err := s.sessions.FindByPaymentSessionID(ctx, paymentSessionID)
	if err != nil {
		return nil, fmt.Errorf("find session by payment: %w", err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}

	if session.Status != model.SessionStatusPending {
		log.Info().
			Str("sessionId", session.ID).
			Str("status", string(session.Status)).
			Str("provider", string(provider)).
			Msg("payment already confirmed")
		return &ConfirmResult{Session: session, AlreadyConfirmed: true}, nil
	}

	var reference *string
	if paymentReference != "" {
		reference = &paymentReference
	}

	updated, changed, err := s.transition(ctx, s.sessions, model.TransitionParams{
		ID:               session.ID,
		From:             []model.SessionStatus{model.SessionStatusPending},
		To:               model.SessionStatusPendingAssets,
		At:               s.now(),
		PaymentReference: reference,
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return &ConfirmResult{Session: updated, AlreadyConfirmed: true}, nil
	}

	log.Info().
		Str("sessionId", updated.ID).
		Str("provider", string(provider)).
		Msg("payment confirmed")

	s.publishStatus(ctx, updated)

	if updated.UserEmail != nil && s.notifier != nil {
		err := s.notifier.SendUploadLink(ctx, UploadLinkEmail{
			To:         *updated.UserEmail,
			SessionID:  updated.ID,
			PlanType:   updated.PlanType,
			DeviceMode: updated.DeviceMode,
			PaymentID:  paymentReference,
		})
		if err != nil {
			log.Error().Err(err).Str("sessionId", updated.ID).Msg("failed to send upload link email")
		}
	}

	return &ConfirmResult{Session: updated}, nil
}

func (s *LifecycleService) SubmitAssets(ctx context.Context, params SubmitAssetsParams) (*SubmitAssetsResult, error) {
	if params.SessionID == "" {
		return nil, apperrors.MissingRequired("sessionId")
	}
	if params.ResumeContent == "" {
		return nil, apperrors.MissingRequired("resumeContent")
	}
	if params.ResumeFileName == "" {
		return nil, apperrors.MissingRequired("resumeFileName")
	}
	if strings.TrimSpace(params.JobDescription) == "" {
		return nil, apperrors.MissingRequired("jobDescription")
	}
	if params.SessionCode != "" && !isSessionCode(params.SessionCode) {
		return nil, apperrors.InvalidInput("sessionCode", "must be 6 digits")
	}

	resume, err := base64.StdEncoding.DecodeString(params.ResumeContent)
	if err != nil {
		return nil, apperrors.InvalidInput("resumeContent", "must be base64 encoded")
	}

	session, err := s.sessions.FindByID(ctx, params.SessionID)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	if session.Status != model.SessionStatusPendingAssets {
		return nil, apperrors.Conflict(fmt.Sprintf("Session is not awaiting assets (current status: %s)", session.Status))
	}

	code := params.SessionCode
	if code == "" {
		code, err = s.generateSessionCode(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		existing, err := s.sessions.FindByCode(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("check session code: %w", err)
		}
		if existing != nil && existing.ID != session.ID {
			return nil, apperrors.AlreadyExists("Session code")
		}
	}

	fileName := sanitizeFileName(params.ResumeFileName)
	mimeType := params.ResumeMimeType
	if mimeType == "" {
		mimeType = "application/pdf"
	}

	resumePath := storagePath(session.ID, fileName)
	stored := false
	if s.store != nil {
		resumePath, err = s.store.Put(ctx, resumePath, resume, mimeType)
		if err != nil {
			return nil, apperrors.External("storage", err)
		}
		stored = true
	}

	resumeContent := params.ResumeContent
	if strings.HasPrefix(mimeType, "text/") {
		resumeContent = string(resume)
	}
	jobDescription := strings.TrimSpace(params.JobDescription)

	var result SubmitAssetsResult
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		docs := s.documents.WithTx(tx)
		sessions := s.sessions.WithTx(tx)

		resumeDoc, err := docs.Create(ctx, model.CreateDocumentParams{
			ID:            uuid.NewString(),
			SessionID:     session.ID,
			Type:          model.DocumentTypeResume,
			Filename:      fileName,
			MimeType:      mimeType,
			FileSize:      int64(len(resume)),
			StoragePath:   resumePath,
			ParsedContent: &resumeContent,
		})
		if err != nil {
			return fmt.Errorf("store resume: %w", err)
		}

		jobDoc, err := docs.Create(ctx, model.CreateDocumentParams{
			ID:            uuid.NewString(),
			SessionID:     session.ID,
			Type:          model.DocumentTypeJobDescription,
			Filename:      jobDescriptionFileName,
			MimeType:      "text/plain",
			FileSize:      int64(len(jobDescription)),
			StoragePath:   storagePath(session.ID, jobDescriptionFileName),
			ParsedContent: &jobDescription,
		})
		if err != nil {
			return fmt.Errorf("store job description: %w", err)
		}

		updated, err := sessions.Transition(ctx, model.TransitionParams{
			ID:          session.ID,
			From:        []model.SessionStatus{model.SessionStatusPendingAssets},
			To:          model.SessionStatusAssetsReceived,
			At:          s.now(),
			SessionCode: &code,
			JobRole:     params.JobRole,
		})
		if err != nil {
			return fmt.Errorf("update session status: %w", err)
		}
		if updated == nil {
			return apperrors.Conflict("Session is not awaiting assets")
		}

		result = SubmitAssetsResult{
			Session:     updated,
			ResumeDocID: resumeDoc.ID,
			JobDocID:    jobDoc.ID,
			SessionCode: code,
		}
		return nil
	})
	if err != nil {
		if stored {
			s.discardObject(ctx, resumePath)
		}
		return nil, err
	}

	log.Info().
		Str("sessionId", session.ID).
		Str("sessionCode", util.MaskCode(code)).
		Msg("session assets received")

	s.publishStatus(ctx, result.Session)

	if result.Session.UserEmail != nil && s.notifier != nil {
		err := s.notifier.SendSessionReady(ctx, SessionReadyEmail{
			To:          *result.Session.UserEmail,
			SessionID:   result.Session.ID,
			SessionCode: code,
			PlanType:    result.Session.PlanType,
			JobRole:     derefString(result.Session.JobRole),
		})
		if err != nil {
			log.Error().Err(err).Str("sessionId", session.ID).Msg("failed to send session ready email")
		}
	}

	return &result, nil
}

// Start performs the first authorized access of a session, stamping its expiry.
func (s *LifecycleService) Start(ctx context.Context, sessionID, userID string) (*model.Session, error) {
	session, err := s.find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.start(ctx, session, userID)
}

// StartByCode resolves a session code and starts (or resumes) that session.
func (s *LifecycleService) StartByCode(ctx context.Context, code, userID string) (*VerifyCodeResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperrors.MissingRequired("session_code")
	}
	if !isSessionCode(code) {
		return nil, apperrors.InvalidSessionCode()
	}

	session, err := s.sessions.FindByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("find session by code: %w", err)
	}
	if session == nil {
		return nil, apperrors.InvalidSessionCode()
	}
	switch session.Status {
	case model.SessionStatusAssetsReceived, model.SessionStatusInProgress, model.SessionStatusActive:
	default:
		return nil, apperrors.InvalidSessionCode()
	}

	started, err := s.start(ctx, session, userID)
	if err != nil {
		return nil, err
	}

	remaining := started.Remaining(s.now())
	return &VerifyCodeResult{
		Session:          started,
		RemainingMinutes: int(remaining / time.Minute),
		DurationHours:    ceilHours(remaining),
	}, nil
}

func (s *LifecycleService) start(ctx context.Context, session *model.Session, userID string) (*model.Session, error) {
	if err := authorize(session, userID); err != nil {
		return nil, err
	}

	switch session.Status {
	case model.SessionStatusAssetsReceived:
		now := s.now()
		expires := now.Add(time.Duration(session.DurationMinutes) * time.Minute)
		updated, changed, err := s.transition(ctx, s.sessions, model.TransitionParams{
			ID:        session.ID,
			From:      []model.SessionStatus{model.SessionStatusAssetsReceived},
			To:        model.SessionStatusInProgress,
			At:        now,
			StartedAt: &now,
			ExpiresAt: &expires,
		})
		if err != nil {
			return nil, err
		}
		if changed {
			log.Info().
				Str("sessionId", updated.ID).
				Time("expiresAt", expires).
				Msg("session started")
			s.publishStatus(ctx, updated)
		}
		return s.requireLive(ctx, updated)

	case model.SessionStatusInProgress, model.SessionStatusActive:
		return s.requireLive(ctx, session)

	case model.SessionStatusCompleted:
		return nil, apperrors.SessionExpired()

	default:
		return nil, apperrors.InvalidState(fmt.Sprintf("Session cannot be started (current status: %s)", session.Status))
	}
}

func (s *LifecycleService) requireLive(ctx context.Context, session *model.Session) (*model.Session, error) {
	live, err := s.EnsureLive(ctx, session)
	if err != nil {
		return nil, err
	}
	if live.Status == model.SessionStatusCompleted {
		return nil, apperrors.SessionExpired()
	}
	return live, nil
}

// Complete ends a session explicitly. Completing a completed session is a no-op.
func (s *LifecycleService) Complete(ctx context.Context, sessionID, userID, reason string) (*model.Session, error) {
	session, err := s.find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := authorize(session, userID); err != nil {
		return nil, err
	}
	if session.Status == model.SessionStatusCompleted {
		return session, nil
	}

	if !session.Status.IsLive() {
		return nil, apperrors.InvalidState(fmt.Sprintf("Session cannot be completed (current status: %s)", session.Status))
	}

	now := s.now()
	updated, changed, err := s.transition(ctx, s.sessions, model.TransitionParams{
		ID: session.ID,
		From: []model.SessionStatus{
			model.SessionStatusInProgress,
			model.SessionStatusActive,
		},
		To:          model.SessionStatusCompleted,
		At:          now,
		CompletedAt: &now,
	})
	if err != nil {
		return nil, err
	}
	if changed {
		log.Info().
			Str("sessionId", updated.ID).
			Str("reason", reason).
			Msg("session completed")
		s.publishStatus(ctx, updated)
	}
	return updated, nil
}

// Status re-derives expiry, forcing completion when due, and reports the countdown.
func (s *LifecycleService) Status(ctx context.Context, sessionID, userID string) (*StatusResult, error) {
	session, err := s.find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := authorize(session, userID); err != nil {
		return nil, err
	}

	session, err = s.EnsureLive(ctx, session)
	if err != nil {
		return nil, err
	}

	return &StatusResult{
		Session:   session,
		Countdown: BuildCountdown(session, s.now()),
	}, nil
}

// EnsureLive completes a running session whose expiry has passed and returns
// the current row. Non-running sessions are returned unchanged.
func (s *LifecycleService) EnsureLive(ctx context.Context, session *model.Session) (*model.Session, error) {
	now := s.now()
	if !session.IsExpiredAt(now) {
		return session, nil
	}

	updated, changed, err := s.transition(ctx, s.sessions, model.TransitionParams{
		ID:          session.ID,
		From:        []model.SessionStatus{model.SessionStatusInProgress, model.SessionStatusActive},
		To:          model.SessionStatusCompleted,
		At:          now,
		CompletedAt: &now,
	})
	if err != nil {
		return nil, err
	}
	if changed {
		log.Info().
			Str("sessionId", updated.ID).
			Msg("session expired, forced completion")
		s.publishStatus(ctx, updated)
	}
	return updated, nil
}

// discardObject removes an upload whose document rows were never committed.
// A failed delete is logged with the key so the object can be swept by hand.
func (s *LifecycleService) discardObject(ctx context.Context, key string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to remove orphaned upload")
	}
}

// Authorize applies the ownership guard to a session.
func (s *LifecycleService) Authorize(session *model.Session, userID string) error {
	return authorize(session, userID)
}

// FindSession returns the session or a NotFound error.
func (s *LifecycleService) FindSession(ctx context.Context, sessionID string) (*model.Session, error) {
	return s.find(ctx, sessionID)
}

func (s *LifecycleService) find(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, apperrors.MissingRequired("sessionId")
	}
	if !util.IsValidUUID(sessionID) {
		return nil, apperrors.NotFound("Session")
	}
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	return session, nil
}

// transition applies a compare-and-swap status change. When the swap loses,
// the row is re-read: already being in the target status counts as success
// (changed=false), anything else is a conflict.
func (s *LifecycleService) transition(ctx context.Context, sessions repository.SessionRepository, params model.TransitionParams) (*model.Session, bool, error) {
	updated, err := sessions.Transition(ctx, params)
	if err != nil {
		return nil, false, fmt.Errorf("transition session: %w", err)
	}
	if updated != nil {
		return updated, true, nil
	}

	current, err := sessions.FindByID(ctx, params.ID)
	if err != nil {
		return nil, false, fmt.Errorf("reload session: %w", err)
	}
	if current == nil {
		return nil, false, apperrors.NotFound("Session")
	}
	if current.Status == params.To {
		return current, false, nil
	}
	return nil, false, apperrors.Conflict(fmt.Sprintf("Session status changed concurrently (current status: %s)", current.Status))
}

func (s *LifecycleService) generateSessionCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < sessionCodeGenerateAttempts; attempt++ {
		code, err := util.GenerateNumericCode(config.SessionCodeLength)
		if err != nil {
			return "", fmt.Errorf("generate session code: %w", err)
		}
		existing, err := s.sessions.FindByCode(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check session code: %w", err)
		}
		if existing == nil {
			return code, nil
		}
	}
	return "", apperrors.Internal("Could not allocate a session code")
}

func (s *LifecycleService) publishStatus(ctx context.Context, session *model.Session) {
	publishEvent(ctx, s.events, session.ID, sse.EventSessionStatus, map[string]any{
		"sessionId": session.ID,
		"status":    session.Status,
		"expiresAt": session.ExpiresAt,
	})
}

// BuildCountdown derives the remaining time and warning text for a session.
func BuildCountdown(session *model.Session, now time.Time) Countdown {
	if session.Status == model.SessionStatusCompleted {
		return Countdown{Expired: true, RedirectPath: completeRedirect(session.ID)}
	}
	if session.ExpiresAt == nil {
		return Countdown{}
	}

	remaining := session.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return Countdown{Expired: true, RedirectPath: completeRedirect(session.ID)}
	}

	countdown := Countdown{RemainingSeconds: int64(math.Ceil(remaining.Seconds()))}
	switch {
	case remaining <= config.CountdownWarningFinal:
		countdown.Warning = "1 minute remaining"
	case remaining <= config.CountdownWarningEarly:
		countdown.Warning = "5 minutes remaining"
	}
	return countdown
}

func completeRedirect(sessionID string) string {
	return "/complete?session_id=" + sessionID
}

func authorize(session *model.Session, userID string) error {
	if session.UserID == nil || *session.UserID == "" {
		return nil
	}
	if *session.UserID != userID {
		return apperrors.Forbidden("Session belongs to another user")
	}
	return nil
}

func isSessionCode(code string) bool {
	return len(code) == config.SessionCodeLength && util.IsNumeric(code)
}

func ceilHours(d time.Duration) int {
	hours := int(math.Ceil(d.Hours()))
	if hours < 1 {
		return 1
	}
	return hours
}

func storagePath(sessionID, fileName string) string {
	return fmt.Sprintf("sessions/%s/%s", sessionID, fileName)
}

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." || name == ".." {
		return "resume"
	}
	return name
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
