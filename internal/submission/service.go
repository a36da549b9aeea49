package submission

import (
	"bulk_orders/internal/cache"
	"bulk_orders/internal/metrics"
	"bulk_orders/internal/model"
	"bulk_orders/internal/parser"
	"bulk_orders/internal/validator"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

//go:generate mockgen -source=service.go -destination=./mocks/submitter_mock.go -package=mocks Submitter

// Submitter - внешний API приема заказов.
type Submitter interface {
	Submit(ctx context.Context, payload model.BulkSubmission) (*model.SubmissionAccepted, error)
}

// SubmitLockTTL - срок блокировки пакета в общем хранилище.
// Должен быть больше таймаута внешнего API.
const SubmitLockTTL = 2 * time.Minute

var (
	ErrEmptyBatch         = errors.New("no rows found in input")
	ErrBatchNotFound      = errors.New("batch not found")
	ErrNotConfirmed       = errors.New("batch must be confirmed before submission")
	ErrMissingAgent       = errors.New("agent id is required")
	ErrNoValidRows        = errors.New("batch has no valid rows")
	ErrSubmissionInFlight = errors.New("submission already in progress")
)

// Summary - состояние пакета и счетчики строк, которые пользователь видит до отправки.
type Summary struct {
	BatchID  string               `json:"batch_id"`
	Source   model.SourceMode     `json:"source"`
	FileName string               `json:"file_name,omitempty"`
	State    model.BatchState     `json:"state"`
	Total    int                  `json:"total"`
	Valid    int                  `json:"valid"`
	Invalid  int                  `json:"invalid"`
	Rows     []model.BulkOrderRow `json:"rows"`
}

// Result - итог успешной отправки.
type Result struct {
	SubmissionID        string `json:"submission_id"`
	PaymentPIN          string `json:"payment_pin"`
	PaymentInstructions string `json:"payment_instructions"`
	Accepted            int    `json:"accepted"`
	Rejected            int    `json:"rejected"`
}

// Service ведет пакет от разбора до отправки во внешний API.
type Service struct {
	store               cache.Store
	rows                *validator.RowValidator
	api                 Submitter
	paymentInstructions string
	logger              *zap.Logger
	tracer              trace.Tracer
	now                 func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewService создает оркестратор отправки пакетов.
func NewService(store cache.Store, rows *validator.RowValidator, api Submitter, paymentInstructions string, logger *zap.Logger) *Service {
	return &Service{
		store:               store,
		rows:                rows,
		api:                 api,
		paymentInstructions: paymentInstructions,
		logger:              logger,
		tracer:              otel.Tracer("submission-service"),
		now:                 time.Now,
		inFlight:            make(map[string]struct{}),
	}
}

// LoadText разбирает вставленный текст и сохраняет новый пакет.
func (s *Service) LoadText(ctx context.Context, text string) (Summary, error) {
	ctx, span := s.tracer.Start(ctx, "Submission.LoadText")
	defer span.End()

	entries, err := parser.ParseText(text)
	if err != nil {
		s.reject(err)
		return Summary{}, err
	}
	return s.load(ctx, model.SourceText, "", entries)
}

// LoadFile разбирает загруженный файл и сохраняет новый пакет.
func (s *Service) LoadFile(ctx context.Context, name string, r io.Reader) (Summary, error) {
	ctx, span := s.tracer.Start(ctx, "Submission.LoadFile")
	defer span.End()

	entries, err := parser.ParseFile(name, r)
	if err != nil {
		s.reject(err)
		return Summary{}, err
	}
	return s.load(ctx, model.SourceFile, name, entries)
}

func (s *Service) load(ctx context.Context, source model.SourceMode, fileName string, entries []model.RawEntry) (Summary, error) {
	if len(entries) == 0 {
		s.reject(ErrEmptyBatch)
		return Summary{}, ErrEmptyBatch
	}

	now := s.now()
	batch := &model.Batch{
		ID:        uuid.New().String(),
		Source:    source,
		FileName:  fileName,
		Rows:      s.rows.ValidateAll(entries),
		State:     model.StateParsed,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Set(ctx, batch); err != nil {
		return Summary{}, fmt.Errorf("не удалось сохранить пакет: %w", err)
	}

	summary := summarize(batch)
	metrics.RowsParsed.WithLabelValues(string(source), "valid").Add(float64(summary.Valid))
	metrics.RowsParsed.WithLabelValues(string(source), "invalid").Add(float64(summary.Invalid))
	s.logger.Info("Пакет загружен",
		zap.String("batch_id", batch.ID),
		zap.String("source", string(source)),
		zap.Int("valid", summary.Valid),
		zap.Int("invalid", summary.Invalid),
	)

	return summary, nil
}

// Get возвращает текущее состояние пакета.
func (s *Service) Get(ctx context.Context, id string) (Summary, error) {
	batch, err := s.batch(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	return summarize(batch), nil
}

// Confirm фиксирует, что пользователь видел количество валидных и невалидных строк.
func (s *Service) Confirm(ctx context.Context, id string) (Summary, error) {
	ctx, span := s.tracer.Start(ctx, "Submission.Confirm")
	defer span.End()

	if s.isInFlight(id) {
		return Summary{}, ErrSubmissionInFlight
	}

	batch, err := s.batch(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	if batch.State == model.StateSubmitting {
		return Summary{}, ErrSubmissionInFlight
	}

	batch.State = model.StateConfirmed
	batch.UpdatedAt = s.now()
	if err := s.store.Set(ctx, batch); err != nil {
		return Summary{}, fmt.Errorf("не удалось сохранить пакет: %w", err)
	}
	return summarize(batch), nil
}

// Discard удаляет пакет, от которого пользователь отказался.
func (s *Service) Discard(ctx context.Context, id string) error {
	if s.isInFlight(id) {
		return ErrSubmissionInFlight
	}
	batch, err := s.batch(ctx, id)
	if err != nil {
		return err
	}
	if batch.State == model.StateSubmitting {
		return ErrSubmissionInFlight
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("не удалось удалить пакет: %w", err)
	}
	s.logger.Info("Пакет удален пользователем", zap.String("batch_id", id))
	return nil
}

// Submit отправляет валидные строки подтвержденного пакета во внешний API.
// При успехе пакет удаляется, при ошибке возвращается в состояние confirmed
// со всеми строками, чтобы пользователь мог повторить отправку.
func (s *Service) Submit(ctx context.Context, id, agentID string) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "Submission.Submit", trace.WithAttributes(attribute.String("batch.id", id)))
	defer span.End()

	if !s.acquire(id) {
		return Result{}, ErrSubmissionInFlight
	}
	defer s.release(id)

	if locker, ok := s.store.(cache.Locker); ok {
		token, err := locker.Lock(ctx, id, SubmitLockTTL)
		if errors.Is(err, cache.ErrLocked) {
			return Result{}, ErrSubmissionInFlight
		}
		if err != nil {
			return Result{}, fmt.Errorf("не удалось заблокировать пакет: %w", err)
		}
		defer s.unlock(ctx, locker, id, token)
	}

	batch, err := s.batch(ctx, id)
	if err != nil {
		return Result{}, err
	}
	switch batch.State {
	case model.StateConfirmed:
	case model.StateSubmitting:
		return Result{}, ErrSubmissionInFlight
	default:
		return Result{}, ErrNotConfirmed
	}

	valid, invalid := batch.Partition()
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		metrics.SubmissionsTotal.WithLabelValues("precondition").Inc()
		return Result{}, ErrMissingAgent
	}
	if len(valid) == 0 {
		metrics.SubmissionsTotal.WithLabelValues("precondition").Inc()
		return Result{}, ErrNoValidRows
	}

	batch.State = model.StateSubmitting
	batch.UpdatedAt = s.now()
	if err := s.store.Set(ctx, batch); err != nil {
		return Result{}, fmt.Errorf("не удалось сохранить пакет: %w", err)
	}

	accepted, err := s.api.Submit(ctx, s.payload(batch.Source, agentID, valid))
	if err != nil {
		s.restore(ctx, batch)
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		s.logger.Warn("Внешний API отклонил пакет",
			zap.String("batch_id", id),
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
		return Result{}, err
	}

	if err := s.store.Delete(ctx, id); err != nil {
		s.logger.Error("Не удалось удалить отправленный пакет", zap.String("batch_id", id), zap.Error(err))
	}

	metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	s.logger.Info("Пакет принят внешним API",
		zap.String("batch_id", id),
		zap.String("agent_id", agentID),
		zap.String("submission_id", accepted.SubmissionID),
		zap.Int("rows", len(valid)),
	)

	return Result{
		SubmissionID:        accepted.SubmissionID,
		PaymentPIN:          accepted.PaymentPIN,
		PaymentInstructions: s.paymentInstructions,
		Accepted:            len(valid),
		Rejected:            len(invalid),
	}, nil
}

func (s *Service) payload(source model.SourceMode, agentID string, valid []model.BulkOrderRow) model.BulkSubmission {
	rows := make([]model.SubmissionRow, 0, len(valid))
	for _, row := range valid {
		rows = append(rows, model.SubmissionRow{
			Phone:      row.Phone,
			CapacityGB: validator.CapacityGB(row),
			Network:    string(row.Network),
			RawPhone:   row.RawPhone,
		})
	}
	return model.BulkSubmission{
		AgentID:             agentID,
		Source:              source.Wire(),
		Rows:                rows,
		PaymentInstructions: s.paymentInstructions,
	}
}

// restore возвращает пакет в confirmed после неудачной отправки.
// Контекст запроса мог быть отменен, поэтому используется отвязанный.
func (s *Service) restore(ctx context.Context, batch *model.Batch) {
	batch.State = model.StateConfirmed
	batch.UpdatedAt = s.now()
	if err := s.store.Set(context.WithoutCancel(ctx), batch); err != nil {
		s.logger.Error("Не удалось вернуть пакет в состояние confirmed", zap.String("batch_id", batch.ID), zap.Error(err))
	}
}

func (s *Service) unlock(ctx context.Context, locker cache.Locker, id, token string) {
	if err := locker.Unlock(context.WithoutCancel(ctx), id, token); err != nil {
		s.logger.Error("Не удалось снять блокировку пакета", zap.String("batch_id", id), zap.Error(err))
	}
}

func (s *Service) batch(ctx context.Context, id string) (*model.Batch, error) {
	batch, err := s.store.Get(ctx, id)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("не удалось получить пакет: %w", err)
	}
	return batch, nil
}

func (s *Service) reject(err error) {
	reason := "other"
	switch {
	case errors.Is(err, parser.ErrBatchTooLarge):
		reason = "too_large"
	case errors.Is(err, parser.ErrUnsupportedFormat):
		reason = "unsupported_format"
	case errors.Is(err, parser.ErrUnreadableFile):
		reason = "unreadable"
	case errors.Is(err, ErrEmptyBatch):
		reason = "empty"
	}
	metrics.BatchesRejected.WithLabelValues(reason).Inc()
	s.logger.Info("Пакет отклонен до разбора", zap.String("reason", reason), zap.Error(err))
}

func (s *Service) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

func (s *Service) isInFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inFlight[id]
	return busy
}

func summarize(batch *model.Batch) Summary {
	valid, invalid := batch.Partition()
	return Summary{
		BatchID:  batch.ID,
		Source:   batch.Source,
		FileName: batch.FileName,
		State:    batch.State,
		Total:    len(batch.Rows),
		Valid:    len(valid),
		Invalid:  len(invalid),
		Rows:     batch.Rows,
	}
}
