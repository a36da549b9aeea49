// Package acceptance - сервис приема пакетных заказов. Это внешняя сторона
// по отношению к bulk-сервису: проверяет пакет, отсекает повторы,
// выдает submission_id и PIN оплаты и сохраняет пакет в PostgreSQL.
package acceptance

import (
	"bulk_orders/internal/database"
	"bulk_orders/internal/model"
	"bulk_orders/internal/validator"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	pinCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	pinLength  = 6
)

var (
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrDuplicate         = errors.New("duplicate submission")
	ErrNotFound          = errors.New("submission not found")
)

// Service принимает пакеты заказов.
type Service struct {
	storage database.Storage
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
	newPIN  func() (string, error)
}

// NewService создает сервис приема пакетов поверх хранилища.
func NewService(storage database.Storage, logger *zap.Logger) *Service {
	return &Service{
		storage: storage,
		logger:  logger,
		tracer:  otel.Tracer("acceptance-service"),
		now:     time.Now,
		newPIN:  GeneratePIN,
	}
}

// Accept проверяет и сохраняет пакет. Ошибки валидации оборачивают ErrInvalidSubmission.
func (s *Service) Accept(ctx context.Context, payload model.BulkSubmission) (*model.SubmissionAccepted, error) {
	ctx, span := s.tracer.Start(ctx, "Acceptance.Accept")
	defer span.End()

	if err := validator.ValidateStruct(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	pin, err := s.newPIN()
	if err != nil {
		return nil, fmt.Errorf("не удалось сгенерировать PIN: %w", err)
	}

	total := decimal.Zero
	for _, row := range payload.Rows {
		total = total.Add(decimal.NewFromFloat(row.CapacityGB))
	}
	totalGB, _ := total.Float64()

	stored := &model.StoredSubmission{
		ID:                  uuid.New().String(),
		AgentID:             payload.AgentID,
		Source:              payload.Source,
		PaymentPIN:          pin,
		PaymentInstructions: payload.PaymentInstructions,
		Fingerprint:         Fingerprint(payload),
		RowCount:            len(payload.Rows),
		TotalCapacityGB:     totalGB,
		CreatedAt:           s.now().UTC(),
		Rows:                payload.Rows,
	}

	if err := s.storage.SaveSubmission(ctx, stored); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			s.logger.Info("Повторный пакет отклонен", zap.String("agent_id", payload.AgentID), zap.String("fingerprint", stored.Fingerprint))
			return nil, ErrDuplicate
		}
		return nil, err
	}

	s.logger.Info("Пакет принят",
		zap.String("submission_id", stored.ID),
		zap.String("agent_id", stored.AgentID),
		zap.Int("rows", stored.RowCount),
		zap.Float64("total_gb", stored.TotalCapacityGB),
	)

	return &model.SubmissionAccepted{SubmissionID: stored.ID, PaymentPIN: pin}, nil
}

// Get возвращает сохраненный пакет.
func (s *Service) Get(ctx context.Context, id string) (*model.StoredSubmission, error) {
	ctx, span := s.tracer.Start(ctx, "Acceptance.Get")
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	submission, err := s.storage.GetSubmission(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	return submission, err
}

// Fingerprint - отпечаток пакета: агент и набор строк без учета порядка.
func Fingerprint(payload model.BulkSubmission) string {
	lines := make([]string, 0, len(payload.Rows))
	for _, row := range payload.Rows {
		capacity := strconv.FormatFloat(row.CapacityGB, 'f', -1, 64)
		lines = append(lines, row.Phone+"|"+row.Network+"|"+capacity)
	}
	sort.Strings(lines)

	sum := sha256.Sum256([]byte(payload.AgentID + "\n" + strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// GeneratePIN возвращает PIN оплаты из 6 символов без похожих букв и цифр (O/0, I/1).
func GeneratePIN() (string, error) {
	result := make([]byte, pinLength)
	n := big.NewInt(int64(len(pinCharset)))
	for i := range result {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", err
		}
		result[i] = pinCharset[idx.Int64()]
	}
	return string(result), nil
}
