// Package transfer orchestrates credit transfers between two subscribers:
// validation, reservation, charge, destination credit, notification and
// compensation, persisted step by step in the ledger.
package transfer

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ocstransfer/internal/errors"
	"ocstransfer/internal/models"
	"ocstransfer/internal/repositories"
	"ocstransfer/internal/services/charging"
	"ocstransfer/internal/validation"
)

// Dependencies are the collaborators of the orchestrator. Notifier and
// Metrics are optional.
type Dependencies struct {
	Ledger   repositories.TransferRepository
	Rules    repositories.RuleRepository
	Config   repositories.ConfigRepository
	Accounts AccountResolver
	Gateway  charging.Gateway
	Notifier Notifier
	Locker   Locker
	Metrics  MetricsCollector
}

// Config holds process level options.
type Config struct {
	// InstanceID prefixes the ledger claims taken by this process.
	InstanceID string
	Clock      func() time.Time
	Sleep      func(time.Duration)
}

type service struct {
	ledger   repositories.TransferRepository
	rules    repositories.RuleRepository
	config   repositories.ConfigRepository
	accounts AccountResolver
	gateway  charging.Gateway
	notifier Notifier
	locker   Locker
	metrics  MetricsCollector
	cfg      Config
}

// NewService creates a new transfer service
func NewService(deps Dependencies, cfg Config) Service {
	if deps.Ledger == nil {
		panic("ledger is required")
	}
	if deps.Rules == nil {
		panic("rule repository is required")
	}
	if deps.Config == nil {
		panic("config repository is required")
	}
	if deps.Accounts == nil {
		panic("account resolver is required")
	}
	if deps.Gateway == nil {
		panic("gateway is required")
	}
	if deps.Locker == nil {
		panic("locker is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = &NoopMetricsCollector{}
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = "ocs-transfer"
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}

	return &service{
		ledger:   deps.Ledger,
		rules:    deps.Rules,
		config:   deps.Config,
		accounts: deps.Accounts,
		gateway:  deps.Gateway,
		notifier: deps.Notifier,
		locker:   deps.Locker,
		metrics:  deps.Metrics,
		cfg:      cfg,
	}
}

func (s *service) owner() string {
	return s.cfg.InstanceID + ":" + uuid.NewString()
}

func sourceLockKey(msisdn string) string { return "source:" + msisdn }

// classify maps an infrastructure error to the code surfaced to callers.
func classify(err error) errors.Kind {
	switch {
	case err == nil:
		return errors.Success
	case charging.IsTimeout(err):
		return errors.OCSTimeout
	case stderrors.Is(err, charging.ErrTransport):
		return errors.ServiceUnavailable
	case stderrors.Is(err, repositories.ErrConcurrentUpdate), stderrors.Is(err, repositories.ErrClaimHeld):
		return errors.ConcurrentUpdateDetected
	}
	return errors.KindOf(err)
}

// preflight runs the checks shared by Submit and ValidateOnly that need no
// subscriber state. The settings are returned for the rest of the request.
func (s *service) preflight(ctx context.Context, req *models.TransferRequest) (Settings, *TransferOutcome) {
	settings, err := LoadSettings(ctx, s.config)
	if err != nil {
		log.Errorw("failed to load transfer settings", "request_id", req.RequestID, "error", err)
		k := errors.KindOf(err)
		if k == errors.MiscellaneousError {
			k = errors.ConfigurationError
		}
		out := TransferOutcome{StatusCode: k.Code(), StatusMessage: errors.DefaultMessage(k)}
		return settings, &out
	}

	v := validation.New()
	v.TransferRequest(req)
	if !v.Valid() {
		out := s.fail(settings, errors.BadRequest, req.Arabic)
		out.StatusMessage = out.StatusMessage + ": " + v.Summary()
		return settings, &out
	}
	req.Flow = req.EffectiveFlow()

	if req.Flow == models.FlowDirect && !s.mayTransferDirect(req, settings) {
		out := s.fail(settings, errors.UserNotAllowed, req.Arabic)
		return settings, &out
	}
	return settings, nil
}

func (s *service) mayTransferDirect(req *models.TransferRequest, settings Settings) bool {
	return req.HasRole(models.RoleOperator) || req.HasRole(models.RoleSystem) || settings.Operators[req.CallerID]
}

// loadState resolves both parties, the rule and today's usage of the source.
func (s *service) loadState(ctx context.Context, req *models.TransferRequest, settings Settings, excludeID uint) (*models.AccountState, *models.AccountState, *models.TransferRule, error) {
	src, err := s.accounts.ResolveSource(ctx, req.SourceMSISDN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolve source: %w", err)
	}
	dst, err := s.accounts.ResolveDestination(ctx, req.DestinationMSISDN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolve destination: %w", err)
	}
	if !src.Exists {
		return src, dst, nil, nil
	}

	rule, err := s.rules.GetTransferRule(ctx, src.SubscriptionType)
	if err != nil && !stderrors.Is(err, repositories.ErrRuleNotFound) {
		return nil, nil, nil, err
	}

	start, end := settings.DayWindow(s.cfg.Clock())
	stats, err := s.ledger.DailyStats(ctx, req.SourceMSISDN, start, end, excludeID)
	if err != nil {
		return nil, nil, nil, err
	}
	src.TransfersToday = stats.Count
	src.AmountToday = stats.Amount
	return src, dst, rule, nil
}

func (s *service) evaluate(ctx context.Context, req *models.TransferRequest, settings Settings, opts validation.Options, excludeID uint) (validation.Outcome, *models.AccountState) {
	src, dst, rule, err := s.loadState(ctx, req, settings, excludeID)
	if err != nil {
		log.Warnw("failed to load transfer state", "request_id", req.RequestID, "error", err)
		return validation.Outcome{Kind: classify(err), Message: err.Error()}, nil
	}
	return validation.Validate(req, src, dst, rule, opts), src
}

func (s *service) ValidateOnly(ctx context.Context, req models.TransferRequest) TransferOutcome {
	settings, out := s.preflight(ctx, &req)
	if out != nil {
		return *out
	}
	if o := validation.CheckParties(&req, settings.ValidationOptions(req.Flow)); !o.OK() {
		return s.rejected(settings, o, req.Arabic)
	}
	if o, _ := s.evaluate(ctx, &req, settings, settings.ValidationOptions(req.Flow), 0); !o.OK() {
		return s.rejected(settings, o, req.Arabic)
	}
	amount, _ := req.Amount()
	return TransferOutcome{
		StatusCode:      errors.Success.Code(),
		StatusMessage:   settings.Message(errors.Success, req.Arabic),
		ProcessedAmount: models.FormatAmount(amount),
	}
}

func (s *service) Submit(ctx context.Context, req models.TransferRequest) (out TransferOutcome) {
	start := s.cfg.Clock()
	defer func() {
		s.metrics.RecordOutcome(string(req.EffectiveFlow()), out.Status, out.StatusCode)
		s.metrics.RecordDuration("submit", s.cfg.Clock().Sub(start))
	}()

	settings, early := s.preflight(ctx, &req)
	if early != nil {
		return *early
	}

	existing, err := s.ledger.GetByRequestID(ctx, req.RequestID)
	switch {
	case err == nil:
		return s.resubmit(ctx, existing, &req, settings)
	case !stderrors.Is(err, repositories.ErrTransferNotFound):
		log.Errorw("ledger lookup failed", "request_id", req.RequestID, "error", err)
		return s.fail(settings, errors.ServiceUnavailable, req.Arabic)
	}

	if o := validation.CheckParties(&req, settings.ValidationOptions(req.Flow)); !o.OK() {
		return s.rejected(settings, o, req.Arabic)
	}

	release, ok, err := s.locker.TryLock(ctx, sourceLockKey(req.SourceMSISDN), settings.LockTTL)
	if err != nil {
		log.Errorw("source lock failed", "request_id", req.RequestID, "error", err)
		return s.fail(settings, errors.ServiceUnavailable, req.Arabic)
	}
	if !ok {
		return s.fail(settings, errors.ConcurrentUpdateDetected, req.Arabic)
	}
	defer release()

	o, src := s.evaluate(ctx, &req, settings, settings.ValidationOptions(req.Flow), 0)
	if !o.OK() {
		log.Infow("transfer rejected", "request_id", req.RequestID, "code", o.Kind.Code(), "reason", o.Message)
		return s.rejected(settings, o, req.Arabic)
	}

	row, created, err := s.accept(ctx, &req, src)
	if err != nil {
		log.Errorw("failed to record transfer", "request_id", req.RequestID, "error", err)
		return s.fail(settings, errors.ServiceUnavailable, req.Arabic)
	}
	if !created {
		// A concurrent submission of the same request id inserted first.
		// resume takes the source lock itself.
		release()
		return s.resubmit(ctx, row, &req, settings)
	}
	log.Infow("transfer accepted", "transaction_id", row.ID, "request_id", row.RequestID, "flow", row.Flow)

	owner := s.owner()
	claimed, err := s.ledger.Claim(ctx, row.ID, owner, settings.ClaimLease)
	if err != nil {
		out = s.fail(settings, classify(err), req.Arabic)
		out.TransactionID = row.ID
		return out
	}
	defer s.release(claimed.ID, owner)

	// The saga runs to completion even if the caller goes away.
	sagaCtx := context.WithoutCancel(ctx)
	if err := s.drive(sagaCtx, claimed, settings, settings.InlineAttempts, true); err != nil {
		log.Errorw("transfer interrupted", "transaction_id", claimed.ID, "error", err)
		out = s.fail(settings, classify(err), req.Arabic)
		out.TransactionID = claimed.ID
		return out
	}
	return s.outcomeFor(settings, claimed)
}

// accept writes the Pending row for a validated request.
func (s *service) accept(ctx context.Context, req *models.TransferRequest, src *models.AccountState) (*models.TransferTransaction, bool, error) {
	amount, err := req.Amount()
	if err != nil {
		return nil, false, err
	}
	row := &models.TransferTransaction{
		RequestID:         req.RequestID,
		Flow:              req.Flow,
		SourceMSISDN:      req.SourceMSISDN,
		DestinationMSISDN: req.DestinationMSISDN,
		Amount:            amount,
		Arabic:            req.Arabic,
		EventID:           uuid.NewString(),
		ExternalReference: uuid.NewString(),
		AdjustmentReason:  req.AdjustmentReason,
		CreatedBy:         req.CallerID,
		ModifiedBy:        req.CallerID,
	}
	if req.Flow == models.FlowEvent && src != nil {
		// Kept so a retry can tell whether the PIN changed since acceptance.
		row.PinHash = src.PinHash
	}
	return s.ledger.Create(ctx, row)
}

// resubmit answers a request id the ledger already knows.
func (s *service) resubmit(ctx context.Context, row *models.TransferTransaction, req *models.TransferRequest, settings Settings) TransferOutcome {
	amount, _ := req.Amount()
	if row.SourceMSISDN != req.SourceMSISDN || row.DestinationMSISDN != req.DestinationMSISDN || !row.Amount.Equal(amount) {
		out := s.fail(settings, errors.BadRequest, req.Arabic)
		out.StatusMessage += ": request id already used for a different transfer"
		return out
	}
	if row.DeriveStatus().Settled() {
		return s.outcomeFor(settings, row)
	}

	out, err := s.resume(ctx, row.ID, settings, settings.InlineAttempts)
	if err != nil {
		out = s.fail(settings, classify(err), req.Arabic)
		out.TransactionID = row.ID
	}
	return out
}

func (s *service) Resume(ctx context.Context, id uint) (TransferOutcome, error) {
	settings, err := LoadSettings(ctx, s.config)
	if err != nil {
		return TransferOutcome{}, err
	}
	return s.resume(ctx, id, settings, 1)
}

// resume claims the row and advances it from its flags.
func (s *service) resume(ctx context.Context, id uint, settings Settings, attempts int) (TransferOutcome, error) {
	owner := s.owner()
	row, err := s.ledger.Claim(ctx, id, owner, settings.ClaimLease)
	if err != nil {
		return TransferOutcome{}, err
	}
	defer s.release(id, owner)

	if row.DeriveStatus().Settled() {
		return s.outcomeFor(settings, row), nil
	}
	sagaCtx := context.WithoutCancel(ctx)
	if row.RetryCount >= settings.MaxRetries {
		if err := s.escalate(sagaCtx, row); err != nil {
			return TransferOutcome{}, err
		}
		return s.outcomeFor(settings, row), nil
	}
	if err := s.drive(sagaCtx, row, settings, attempts, false); err != nil {
		return TransferOutcome{}, err
	}
	return s.outcomeFor(settings, row), nil
}

func (s *service) release(id uint, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ledger.Release(ctx, id, owner); err != nil {
		log.Warnw("failed to release transfer claim", "transaction_id", id, "error", err)
	}
}

func (s *service) Get(ctx context.Context, id uint) (*models.TransferTransaction, error) {
	return s.ledger.GetByID(ctx, id)
}

func (s *service) ListDenominations(ctx context.Context) ([]decimal.Decimal, error) {
	values, err := s.config.GetCategory(ctx, models.ConfigCategoryDenominations)
	if err != nil {
		return nil, err
	}
	return parseDenominations(values)
}

func (s *service) ExtendExpiry(ctx context.Context, id uint) error {
	settings, err := LoadSettings(ctx, s.config)
	if err != nil {
		return err
	}
	if settings.ExpiryDays <= 0 {
		return nil
	}
	owner := s.owner()
	row, err := s.ledger.Claim(ctx, id, owner, settings.ClaimLease)
	if err != nil {
		return err
	}
	defer s.release(id, owner)

	if !row.Consumed() || row.ExpiryExtended || row.ExpiryRetryCount >= settings.MaxRetries {
		return nil
	}
	return s.extendExpiry(context.WithoutCancel(ctx), row, settings)
}
