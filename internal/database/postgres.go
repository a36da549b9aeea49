package database

import (
	"bulk_orders/internal/metrics"
	"bulk_orders/internal/model"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

//go:generate mockgen -source=postgres.go -destination=./mocks/storage_mock.go -package=mocks Storage

var (
	ErrNotFound  = errors.New("submission not found")
	ErrDuplicate = errors.New("duplicate submission")
)

// uniqueViolation - код ошибки PostgreSQL при нарушении уникального индекса.
const uniqueViolation = "23505"

// Storage определяет интерфейс для работы с хранилищем принятых пакетов.
type Storage interface {
	SaveSubmission(ctx context.Context, submission *model.StoredSubmission) error
	GetSubmission(ctx context.Context, id string) (*model.StoredSubmission, error)
	Close() error
}

// postgresStorage обеспечивает взаимодействие с базой данных PostgreSQL.
type postgresStorage struct {
	db     *sqlx.DB
	tracer trace.Tracer
	logger *zap.Logger
}

// New создает подключение к БД, применяет миграции и возвращает
// экземпляр, реализующий интерфейс Storage.
func New(dbURL, migrationsPath string, logger *zap.Logger) (Storage, error) {
	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к БД: %w", err)
	}

	if err := runMigrations(dbURL, migrationsPath, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка применения миграций: %w", err)
	}

	return &postgresStorage{
		db:     db,
		tracer: otel.Tracer("postgres-storage"),
		logger: logger,
	}, nil
}

// runMigrations выполняет миграции БД до последней версии.
func runMigrations(dbURL, migrationsPath string, logger *zap.Logger) error {
	logger.Info("Поиск и применение миграций...", zap.String("path", migrationsPath))

	// Важно: 'file://' префикс
	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), dbURL)
	if err != nil {
		return fmt.Errorf("не удалось создать экземпляр миграции: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("не удалось выполнить миграции: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("не удалось получить версию миграции: %w", err)
	}

	if dirty {
		logger.Warn("БД в 'грязном' состоянии (dirty). Рекомендуется проверка.", zap.Uint("version", version))
	}

	logger.Info("Миграции успешно применены", zap.Uint("version", version))
	return nil
}

// SaveSubmission сохраняет пакет и все его строки в одной транзакции.
// Повторный пакет с тем же отпечатком дает ErrDuplicate.
func (s *postgresStorage) SaveSubmission(ctx context.Context, submission *model.StoredSubmission) (err error) {
	ctx, span := s.tracer.Start(ctx, "DB.SaveSubmission")
	defer span.End()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		metrics.DBErrors.WithLabelValues("begin").Inc()
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Error("Ошибка отката транзакции", zap.NamedError("cause", err), zap.Error(rbErr))
			}
		}
	}()

	submissionQuery := `INSERT INTO bulk_submissions (id, agent_id, source, payment_pin, payment_instructions, fingerprint, row_count, total_capacity_gb, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err = tx.ExecContext(ctx, submissionQuery, submission.ID, submission.AgentID, submission.Source, submission.PaymentPIN, submission.PaymentInstructions, submission.Fingerprint, submission.RowCount, submission.TotalCapacityGB, submission.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			err = ErrDuplicate
			return err
		}
		metrics.DBErrors.WithLabelValues("save_submission").Inc()
		return fmt.Errorf("ошибка сохранения пакета: %w", err)
	}

	rowQuery := `INSERT INTO bulk_submission_rows (submission_id, position, phone, capacity_gb, network, raw_phone) VALUES ($1, $2, $3, $4, $5, $6)`
	for i, row := range submission.Rows {
		if _, err = tx.ExecContext(ctx, rowQuery, submission.ID, i+1, row.Phone, row.CapacityGB, row.Network, row.RawPhone); err != nil {
			metrics.DBErrors.WithLabelValues("save_row").Inc()
			return fmt.Errorf("ошибка сохранения строки %d: %w", i+1, err)
		}
	}

	err = tx.Commit()
	return err
}

// GetSubmission извлекает принятый пакет вместе со строками.
func (s *postgresStorage) GetSubmission(ctx context.Context, id string) (*model.StoredSubmission, error) {
	ctx, span := s.tracer.Start(ctx, "DB.GetSubmission")
	defer span.End()

	var submission model.StoredSubmission
	query := `
        SELECT id, agent_id, source, payment_pin, payment_instructions, fingerprint, row_count, total_capacity_gb, created_at
        FROM bulk_submissions
        WHERE id = $1`

	if err := s.db.GetContext(ctx, &submission, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		metrics.DBErrors.WithLabelValues("get_submission").Inc()
		return nil, fmt.Errorf("не удалось получить пакет: %w", err)
	}

	rowsQuery := `SELECT phone, capacity_gb, network, raw_phone FROM bulk_submission_rows WHERE submission_id = $1 ORDER BY position`
	if err := s.db.SelectContext(ctx, &submission.Rows, rowsQuery, id); err != nil {
		metrics.DBErrors.WithLabelValues("get_rows").Inc()
		return nil, fmt.Errorf("не удалось получить строки пакета: %w", err)
	}

	return &submission, nil
}

// Close закрывает соединение с БД.
func (s *postgresStorage) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
