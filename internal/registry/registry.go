// Пакет registry — реестр файлов: идентификатор → ссылка на вложение.
//
// Реестр — единственный компонент с состоянием. Он выдаёт идентификаторы,
// хранит записи, проверяет права владельца и гарантирует, что каждая
// успешная мутация записана в хранилище до возврата.
//
// Модель конкурентности:
//   - writeMu сериализует мутации (Insert, Delete, Reassign, Flush, Close);
//   - мутация строит новую карту как копию текущей и сохраняет её в Store;
//   - только после успешного Save карта публикуется под mu;
//   - при ошибке Save карта отбрасывается, состояние в памяти не меняется.
//
// Читатели (Lookup, List*) берут mu.RLock и видят либо состояние до
// мутации, либо после, но никогда не видят несохранённое.
package registry

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bigkaa/goartstore/share-bot/internal/domain/model"
	"github.com/bigkaa/goartstore/share-bot/internal/storage/idgen"
)

// defaultMaxIDAttempts — предел попыток сгенерировать неколлизионный ID.
// Для UUID v4 вторая попытка уже практически недостижима, предел
// срабатывает только при неисправном генераторе.
const defaultMaxIDAttempts = 16

// Store — долговременное хранилище снапшота реестра.
type Store interface {
	// Load читает снапшот. Отсутствующее хранилище — пустая карта без ошибки.
	Load(ctx context.Context) (map[string]model.FileRecord, error)
	// Save атомарно заменяет снапшот целиком.
	Save(ctx context.Context, records map[string]model.FileRecord) error
}

// Option — опция конструктора реестра.
type Option func(*Registry)

// WithClock задаёт источник времени для CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithMaxIDAttempts задаёт предел попыток генерации уникального ID.
func WithMaxIDAttempts(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxIDAttempts = n
		}
	}
}

// Registry — потокобезопасный реестр файлов с синхронной записью в Store.
type Registry struct {
	writeMu sync.Mutex // сериализует мутации и запись снапшота
	closed  bool       // защищён writeMu

	mu      sync.RWMutex
	records map[string]model.FileRecord // опубликованное (сохранённое) состояние

	ready atomic.Bool

	store         Store
	gen           idgen.Generator
	now           func() time.Time
	maxIDAttempts int
	logger        *slog.Logger
}

// Open загружает реестр из хранилища.
// Ошибка загрузки — ErrEnvironment: без снапшота реестр не может
// начать работу, иначе первый же flush затёр бы данные.
func Open(ctx context.Context, store Store, gen idgen.Generator, logger *slog.Logger, opts ...Option) (*Registry, error) {
	r := &Registry{
		store:         store,
		gen:           gen,
		now:           func() time.Time { return time.Now().UTC() },
		maxIDAttempts: defaultMaxIDAttempts,
		logger:        logger.With(slog.String("component", "registry")),
	}
	for _, opt := range opts {
		opt(r)
	}

	records, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка загрузки снапшота: %w", ErrEnvironment, err)
	}
	if records == nil {
		records = make(map[string]model.FileRecord)
	}

	r.records = records
	r.ready.Store(true)
	recordsGauge.Set(float64(len(records)))

	r.logger.Info("Реестр загружен",
		slog.Int("records", len(records)),
	)

	return r, nil
}

// Ready возвращает true, если реестр загружен и не закрыт.
func (r *Registry) Ready() bool {
	return r.ready.Load()
}

// Len возвращает количество записей.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Insert регистрирует вложение под новым идентификатором.
// Возвращает идентификатор только после записи снапшота.
func (r *Registry) Insert(ctx context.Context, payloadRef string, kind model.Kind, ownerID int64) (id string, err error) {
	defer func() { observe("insert", err) }()

	if payloadRef == "" {
		return "", fmt.Errorf("%w: пустая ссылка на вложение", ErrInvalidArgument)
	}
	if !kind.Valid() {
		return "", fmt.Errorf("%w: недопустимый тип %q", ErrInvalidArgument, kind)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if r.closed {
		return "", ErrClosed
	}

	next := maps.Clone(r.records)
	id, err = r.newID(next, "")
	if err != nil {
		return "", err
	}
	next[id] = model.FileRecord{
		ID:         id,
		PayloadRef: payloadRef,
		Kind:       kind,
		OwnerID:    ownerID,
		CreatedAt:  r.now(),
	}

	if err := r.commit(ctx, next); err != nil {
		return "", err
	}

	r.logger.Info("Файл зарегистрирован",
		slog.String("id", id),
		slog.String("kind", kind.String()),
		slog.Int64("owner_id", ownerID),
	)

	return id, nil
}

// Lookup возвращает запись по идентификатору. Не имеет побочных эффектов.
func (r *Registry) Lookup(id string) (model.FileRecord, error) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()

	if !ok {
		observe("lookup", ErrNotFound)
		return model.FileRecord{}, ErrNotFound
	}
	observe("lookup", nil)
	return rec, nil
}

// Delete удаляет запись. Разрешено владельцу или привилегированному пользователю.
func (r *Registry) Delete(ctx context.Context, id string, requesterID int64, privileged bool) (err error) {
	defer func() { observe("delete", err) }()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if r.closed {
		return ErrClosed
	}

	rec, err := r.authorize(id, requesterID, privileged)
	if err != nil {
		return err
	}

	next := maps.Clone(r.records)
	delete(next, id)

	if err := r.commit(ctx, next); err != nil {
		return err
	}

	r.logger.Info("Файл удалён",
		slog.String("id", id),
		slog.Int64("owner_id", rec.OwnerID),
		slog.Int64("requester_id", requesterID),
		slog.Bool("privileged", privileged),
	)

	return nil
}

// Reassign перевыпускает идентификатор: запись переносится под новый ID,
// старый перестаёт разрешаться. Владелец, ссылка, тип и время создания
// сохраняются. Права — как у Delete.
func (r *Registry) Reassign(ctx context.Context, id string, requesterID int64, privileged bool) (newID string, err error) {
	defer func() { observe("reassign", err) }()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if r.closed {
		return "", ErrClosed
	}

	rec, err := r.authorize(id, requesterID, privileged)
	if err != nil {
		return "", err
	}

	next := maps.Clone(r.records)
	delete(next, id)

	newID, err = r.newID(next, id)
	if err != nil {
		return "", err
	}
	rec.ID = newID
	next[newID] = rec

	if err := r.commit(ctx, next); err != nil {
		return "", err
	}

	r.logger.Info("Идентификатор файла перевыпущен",
		slog.String("old_id", id),
		slog.String("new_id", newID),
		slog.Int64("owner_id", rec.OwnerID),
		slog.Int64("requester_id", requesterID),
		slog.Bool("privileged", privileged),
	)

	return newID, nil
}

// ListByOwner возвращает файлы пользователя, новые первыми.
func (r *Registry) ListByOwner(ownerID int64) []model.OwnerEntry {
	r.mu.RLock()
	owned := make([]model.FileRecord, 0)
	for _, rec := range r.records {
		if rec.OwnedBy(ownerID) {
			owned = append(owned, rec)
		}
	}
	r.mu.RUnlock()

	sortNewestFirst(owned)

	entries := make([]model.OwnerEntry, 0, len(owned))
	for _, rec := range owned {
		entries = append(entries, model.OwnerEntry{ID: rec.ID, Kind: rec.Kind})
	}
	return entries
}

// ListAll возвращает все файлы, новые первыми.
// Проверка привилегий — ответственность вызывающего.
func (r *Registry) ListAll() []model.Entry {
	r.mu.RLock()
	all := slices.Collect(maps.Values(r.records))
	r.mu.RUnlock()

	sortNewestFirst(all)

	entries := make([]model.Entry, 0, len(all))
	for _, rec := range all {
		entries = append(entries, model.Entry{ID: rec.ID, Kind: rec.Kind, OwnerID: rec.OwnerID})
	}
	return entries
}

// Flush записывает текущее состояние в хранилище.
func (r *Registry) Flush(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	return r.save(ctx, r.records)
}

// Close переводит реестр в режим завершения: новые мутации получают
// ErrClosed, текущее состояние записывается финальным flush.
// Повторный вызов — no-op.
func (r *Registry) Close(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.ready.Store(false)

	if err := r.save(ctx, r.records); err != nil {
		r.logger.Error("Финальный flush реестра не выполнен",
			slog.String("error", err.Error()),
		)
		return err
	}

	r.logger.Info("Реестр закрыт",
		slog.Int("records", len(r.records)),
	)
	return nil
}

// authorize находит запись и проверяет права. Вызывается под writeMu.
func (r *Registry) authorize(id string, requesterID int64, privileged bool) (model.FileRecord, error) {
	rec, ok := r.records[id]
	if !ok {
		return model.FileRecord{}, ErrNotFound
	}
	if !privileged && !rec.OwnedBy(requesterID) {
		return model.FileRecord{}, ErrPermissionDenied
	}
	return rec, nil
}

// newID генерирует идентификатор, не занятый в taken и не равный exclude.
func (r *Registry) newID(taken map[string]model.FileRecord, exclude string) (string, error) {
	for attempt := 1; attempt <= r.maxIDAttempts; attempt++ {
		id := r.gen.Generate()
		if id == "" {
			continue
		}
		if _, exists := taken[id]; !exists && id != exclude {
			return id, nil
		}

		idCollisionsTotal.Inc()
		r.logger.Warn("Коллизия идентификатора, повторная генерация",
			slog.String("id", id),
			slog.Int("attempt", attempt),
		)
	}
	return "", fmt.Errorf("%w: генератор не выдал уникальный идентификатор за %d попыток",
		ErrEnvironment, r.maxIDAttempts)
}

// commit сохраняет next и публикует его как текущее состояние.
// При ошибке состояние в памяти не меняется. Вызывается под writeMu.
func (r *Registry) commit(ctx context.Context, next map[string]model.FileRecord) error {
	if err := r.save(ctx, next); err != nil {
		return err
	}

	r.mu.Lock()
	r.records = next
	r.mu.Unlock()

	recordsGauge.Set(float64(len(next)))
	return nil
}

// save записывает снапшот и учитывает метрики.
func (r *Registry) save(ctx context.Context, records map[string]model.FileRecord) error {
	start := time.Now()
	err := r.store.Save(ctx, records)
	flushDurationSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		flushFailuresTotal.Inc()
		r.logger.Error("Ошибка записи снапшота, мутация отменена",
			slog.Int("records", len(records)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %w", ErrDurability, err)
	}
	return nil
}

// sortNewestFirst сортирует записи по CreatedAt (новые первыми), затем по ID.
func sortNewestFirst(records []model.FileRecord) {
	slices.SortFunc(records, func(a, b model.FileRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
