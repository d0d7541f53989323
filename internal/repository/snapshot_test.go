package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/share-bot/internal/config"
	"github.com/bigkaa/goartstore/share-bot/internal/database"
	"github.com/bigkaa/goartstore/share-bot/internal/domain/model"
	"github.com/bigkaa/goartstore/share-bot/internal/registry"
	"github.com/bigkaa/goartstore/share-bot/internal/storage/idgen"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
func setupTestDB(t *testing.T) (*pgxpool.Pool, *config.Config) {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("sharebot_test"),
		postgres.WithUsername("sharebot"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	cfg := &config.Config{
		DBHost:     host,
		DBPort:     port.Int(),
		DBName:     "sharebot_test",
		DBUser:     "sharebot",
		DBPassword: "test-password",
		DBSSLMode:  "disable",
	}

	if err := database.Migrate(cfg, testLogger()); err != nil {
		t.Fatalf("Ошибка применения миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool, cfg
}

func TestSnapshotRepository_LoadEmpty(t *testing.T) {
	pool, _ := setupTestDB(t)
	repo := NewSnapshotRepository(pool, testLogger())

	records, err := repo.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("ожидался пустой map, получено %v", records)
	}
}

func TestSnapshotRepository_SaveLoad(t *testing.T) {
	pool, _ := setupTestDB(t)
	repo := NewSnapshotRepository(pool, testLogger())
	ctx := context.Background()

	created := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	want := map[string]model.FileRecord{
		"id-1": {ID: "id-1", PayloadRef: "ref-1", Kind: model.KindDocument, OwnerID: 42, CreatedAt: created},
		"id-2": {ID: "id-2", PayloadRef: "ref-2", Kind: model.KindVideo, OwnerID: 7, CreatedAt: created.Add(time.Minute)},
	}

	if err := repo.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("ожидалось %d записей, получено %d", len(want), len(got))
	}
	for id, w := range want {
		g := got[id]
		if g.PayloadRef != w.PayloadRef || g.Kind != w.Kind || g.OwnerID != w.OwnerID || !g.CreatedAt.Equal(w.CreatedAt) {
			t.Errorf("запись %s: ожидалось %+v, получено %+v", id, w, g)
		}
	}

	// Перезапись целиком
	delete(want, "id-1")
	if err := repo.Save(ctx, want); err != nil {
		t.Fatalf("повторный Save: %v", err)
	}
	got, err = repo.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got["id-1"]; ok || len(got) != 1 {
		t.Errorf("снапшот не перезаписан: %v", got)
	}

	var count int
	if err := pool.QueryRow(ctx, `SELECT record_count FROM registry_snapshot WHERE id = 1`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("record_count: ожидалось 1, получено %d", count)
	}
}

// TestSnapshotRepository_LoadInvalidRecord проверяет, что невалидная запись
// делает снапшот непригодным, а не пропускается.
func TestSnapshotRepository_LoadInvalidRecord(t *testing.T) {
	pool, _ := setupTestDB(t)
	repo := NewSnapshotRepository(pool, testLogger())
	ctx := context.Background()

	payload := `{
		"good":{"id":"good","payload_ref":"ref","kind":"audio","owner_id":1,"created_at":"2026-10-01T00:00:00Z"},
		"bad":{"id":"bad","payload_ref":"ref","kind":"sticker","owner_id":1,"created_at":"2026-10-01T00:00:00Z"}
	}`
	if _, err := pool.Exec(ctx,
		`INSERT INTO registry_snapshot (id, payload, record_count) VALUES (1, $1::jsonb, 2)`, payload,
	); err != nil {
		t.Fatal(err)
	}

	if _, err := repo.Load(ctx); err == nil {
		t.Fatal("ожидалась ошибка загрузки снапшота с невалидной записью")
	}

	if _, err := registry.Open(ctx, repo, idgen.New(), testLogger()); !errors.Is(err, registry.ErrEnvironment) {
		t.Errorf("ожидался ErrEnvironment, получено %v", err)
	}
}

func TestSnapshotRepository_AdvisoryLock(t *testing.T) {
	pool, _ := setupTestDB(t)
	ctx := context.Background()

	first := NewSnapshotRepository(pool, testLogger())
	second := NewSnapshotRepository(pool, testLogger())

	if err := first.AcquireLock(ctx); err != nil {
		t.Fatalf("первый AcquireLock: %v", err)
	}
	// Повторный захват тем же экземпляром — no-op
	if err := first.AcquireLock(ctx); err != nil {
		t.Fatalf("повторный AcquireLock: %v", err)
	}

	if err := second.AcquireLock(ctx); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("ожидалась ErrLockHeld, получено: %v", err)
	}

	if err := first.ReleaseLock(ctx); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	if err := first.ReleaseLock(ctx); err != nil {
		t.Fatalf("повторный ReleaseLock: %v", err)
	}

	if err := second.AcquireLock(ctx); err != nil {
		t.Fatalf("AcquireLock после освобождения: %v", err)
	}
	_ = second.ReleaseLock(ctx)
}

// TestSnapshotRepository_RegistryRestart — реестр поверх PostgreSQL
// переживает перезапуск.
func TestSnapshotRepository_RegistryRestart(t *testing.T) {
	pool, _ := setupTestDB(t)
	ctx := context.Background()
	repo := NewSnapshotRepository(pool, testLogger())

	reg, err := registry.Open(ctx, repo, idgen.New(), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	id, err := reg.Insert(ctx, "ref", model.KindAudio, 42)
	if err != nil {
		t.Fatal(err)
	}
	newID, err := reg.Reassign(ctx, id, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Close(ctx); err != nil {
		t.Fatal(err)
	}

	reopened, err := registry.Open(ctx, repo, idgen.New(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reopened.Lookup(id); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("старый ID: ожидалась ErrNotFound, получено: %v", err)
	}
	rec, err := reopened.Lookup(newID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.OwnerID != 42 || rec.Kind != model.KindAudio {
		t.Errorf("неожиданная запись: %+v", rec)
	}
}
