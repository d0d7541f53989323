// Пакет snapshot — файловое хранилище снапшота реестра.
//
// Весь реестр хранится одним файлом. Запись атомарна:
// JSON → (zstd) → temp файл → fsync → rename → fsync директории,
// поэтому частично записанный снапшот никогда не виден при Load.
// Отсутствующий файл означает пустой реестр, а не ошибку.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/bigkaa/goartstore/share-bot/internal/domain/model"
)

// FormatVersion — текущая версия формата снапшота.
const FormatVersion = 1

// Compression — режим сжатия снапшота.
type Compression string

const (
	// CompressionNone — JSON без сжатия
	CompressionNone Compression = "none"
	// CompressionZstd — JSON, сжатый zstd
	CompressionZstd Compression = "zstd"
)

// zstdMagic — сигнатура кадра zstd (RFC 8878).
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// document — формат снапшота на диске.
// Записи хранятся объектом id → запись, порядок вставки не важен.
type document struct {
	Version int                         `json:"version"`
	SavedAt time.Time                   `json:"saved_at"`
	Records map[string]model.FileRecord `json:"records"`
}

// FileStore — хранилище снапшота в одном файле.
type FileStore struct {
	path        string
	compression Compression
	logger      *slog.Logger

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewFileStore создаёт файловое хранилище снапшота.
// Директория файла создаётся, если не существует.
func NewFileStore(path string, compression Compression, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("путь к снапшоту не задан")
	}
	if compression == "" {
		compression = CompressionNone
	}
	if compression != CompressionNone && compression != CompressionZstd {
		return nil, fmt.Errorf("недопустимый режим сжатия %q, допустимые: none, zstd", compression)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию снапшота: %w", err)
	}

	// Encoder и Decoder без потоков: используются только EncodeAll/DecodeAll
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("ошибка создания zstd decoder: %w", err)
	}

	return &FileStore{
		path:        path,
		compression: compression,
		logger:      logger.With(slog.String("component", "snapshot")),
		encoder:     enc,
		decoder:     dec,
	}, nil
}

// Path возвращает путь к файлу снапшота.
func (s *FileStore) Path() string {
	return s.path
}

// Load читает снапшот с диска.
// Отсутствующий файл — пустой реестр. Повреждённый файл — ошибка:
// молча начинать с пустого реестра нельзя, следующий flush затёр бы данные.
func (s *FileStore) Load(_ context.Context) (map[string]model.FileRecord, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("Снапшот не найден, реестр пуст",
				slog.String("path", s.path),
			)
			return map[string]model.FileRecord{}, nil
		}
		return nil, fmt.Errorf("ошибка чтения снапшота %s: %w", s.path, err)
	}

	if bytes.HasPrefix(raw, zstdMagic) {
		raw, err = s.decoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("ошибка распаковки снапшота %s: %w", s.path, err)
		}
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return map[string]model.FileRecord{}, nil
	}

	var records map[string]model.FileRecord
	if trimmed[0] == '[' {
		records, err = s.decodeLegacy(trimmed)
	} else {
		records, err = s.decode(trimmed)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Снапшот загружен",
		slog.String("path", s.path),
		slog.Int("records", len(records)),
	)

	return records, nil
}

// Save атомарно заменяет снапшот на диске.
func (s *FileStore) Save(_ context.Context, records map[string]model.FileRecord) error {
	doc := document{
		Version: FormatVersion,
		SavedAt: time.Now().UTC(),
		Records: records,
	}
	if doc.Records == nil {
		doc.Records = map[string]model.FileRecord{}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("ошибка сериализации снапшота: %w", err)
	}

	if s.compression == CompressionZstd {
		data = s.encoder.EncodeAll(data, nil)
	}

	return writeAtomic(s.path, data)
}

// Close освобождает ресурсы zstd.
func (s *FileStore) Close() error {
	s.decoder.Close()
	return s.encoder.Close()
}

// decode разбирает снапшот текущего формата.
func (s *FileStore) decode(data []byte) (map[string]model.FileRecord, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("ошибка десериализации снапшота %s: %w", s.path, err)
	}
	if doc.Version > FormatVersion {
		return nil, fmt.Errorf("версия снапшота %d новее поддерживаемой (%d)", doc.Version, FormatVersion)
	}

	records := make(map[string]model.FileRecord, len(doc.Records))
	for id, rec := range doc.Records {
		if rec.ID == "" {
			rec.ID = id
		}
		// Невалидная запись — повреждённый снапшот: пропуск потерял бы
		// её при следующем flush
		if err := rec.Validate(id); err != nil {
			return nil, fmt.Errorf("невалидная запись %q в снапшоте %s: %w", id, s.path, err)
		}
		records[id] = rec
	}

	return records, nil
}

// writeAtomic записывает данные в файл атомарно.
// Паттерн: temp файл → fsync → rename → fsync директории.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Chmod(tmpPath, 0o640); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка установки прав: %w", err)
	}

	// Атомарный rename
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	// fsync директории, чтобы rename пережил сбой питания
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	return nil
}
