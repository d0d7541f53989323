// snapshot.go — хранение снапшота реестра в PostgreSQL.
//
// Весь реестр — одна строка registry_snapshot (id = 1) с jsonb payload.
// Save — один UPSERT, атомарный по построению. Эксклюзивное владение
// обеспечивает session-level advisory lock, удерживаемый на выделенном
// соединении пула всё время работы процесса.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/share-bot/internal/domain/model"
)

// SnapshotLockKey — ключ advisory lock снапшота реестра.
const SnapshotLockKey int64 = 0x53_42_52_45_47 // "SBREG"

// SnapshotRepository — бэкенд снапшота реестра в PostgreSQL.
type SnapshotRepository struct {
	db     DBTX
	pool   *pgxpool.Pool
	logger *slog.Logger

	mu       sync.Mutex
	lockConn *pgxpool.Conn
}

// NewSnapshotRepository создаёт репозиторий снапшота.
func NewSnapshotRepository(pool *pgxpool.Pool, logger *slog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:     pool,
		pool:   pool,
		logger: logger.With(slog.String("component", "snapshot_repository")),
	}
}

// AcquireLock захватывает advisory lock снапшота без ожидания.
// Соединение с блокировкой удерживается до ReleaseLock.
// Возвращает ErrLockHeld, если снапшотом владеет другой экземпляр.
func (r *SnapshotRepository) AcquireLock(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lockConn != nil {
		return nil
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("ошибка получения соединения для advisory lock: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, SnapshotLockKey).Scan(&locked); err != nil {
		conn.Release()
		return fmt.Errorf("ошибка захвата advisory lock: %w", err)
	}
	if !locked {
		conn.Release()
		return ErrLockHeld
	}

	r.lockConn = conn
	r.logger.Info("Advisory lock снапшота захвачен",
		slog.Int64("key", SnapshotLockKey),
	)
	return nil
}

// ReleaseLock освобождает advisory lock. Повторный вызов — no-op.
func (r *SnapshotRepository) ReleaseLock(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lockConn == nil {
		return nil
	}
	conn := r.lockConn
	r.lockConn = nil

	var unlocked bool
	err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, SnapshotLockKey).Scan(&unlocked)
	if err != nil {
		// Соединение в неизвестном состоянии: закрываем, сессия и lock завершатся вместе с ним
		_ = conn.Hijack().Close(ctx)
		return fmt.Errorf("ошибка освобождения advisory lock: %w", err)
	}
	conn.Release()

	if !unlocked {
		r.logger.Warn("Advisory lock снапшота не удерживался сессией")
	}
	return nil
}

// Load читает снапшот. Отсутствие строки — пустой реестр.
func (r *SnapshotRepository) Load(ctx context.Context) (map[string]model.FileRecord, error) {
	var payload []byte
	err := r.db.QueryRow(ctx, `SELECT payload FROM registry_snapshot WHERE id = 1`).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Info("Снапшот в PostgreSQL не найден, реестр пуст")
			return map[string]model.FileRecord{}, nil
		}
		return nil, fmt.Errorf("ошибка чтения снапшота: %w", err)
	}

	var stored map[string]model.FileRecord
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, fmt.Errorf("ошибка десериализации снапшота: %w", err)
	}

	records := make(map[string]model.FileRecord, len(stored))
	for id, rec := range stored {
		if rec.ID == "" {
			rec.ID = id
		}
		if err := rec.Validate(id); err != nil {
			return nil, fmt.Errorf("невалидная запись %q в снапшоте: %w", id, err)
		}
		records[id] = rec
	}

	r.logger.Info("Снапшот загружен из PostgreSQL",
		slog.Int("records", len(records)),
	)
	return records, nil
}

// Save заменяет снапшот одним UPSERT.
func (r *SnapshotRepository) Save(ctx context.Context, records map[string]model.FileRecord) error {
	if records == nil {
		records = map[string]model.FileRecord{}
	}

	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("ошибка сериализации снапшота: %w", err)
	}

	query := `
		INSERT INTO registry_snapshot (id, payload, record_count, saved_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE
		SET payload = EXCLUDED.payload,
		    record_count = EXCLUDED.record_count,
		    saved_at = EXCLUDED.saved_at`

	if _, err := r.db.Exec(ctx, query, payload, len(records)); err != nil {
		return fmt.Errorf("ошибка записи снапшота: %w", err)
	}
	return nil
}
