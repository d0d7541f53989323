// legacy.go — чтение снапшота старого формата.
//
// Первая версия бота хранила реестр массивом пар:
//
//	[["<id>", {"file_id": "...", "fileType": "photo", "uploader": 42, "uploadDate": "10/15/2026, 3:04:05 PM"}], ...]
//
// uploadDate записывалась в локальном формате среды исполнения,
// поэтому разбирается по нескольким шаблонам. Если ни один не подошёл,
// используется mtime файла снапшота. Следующий flush перезапишет
// снапшот в текущем формате.
package snapshot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/share-bot/internal/domain/model"
)

// legacyRecord — запись старого формата.
type legacyRecord struct {
	FileID     string `json:"file_id"`
	FileType   string `json:"fileType"`
	Uploader   int64  `json:"uploader"`
	UploadDate string `json:"uploadDate"`
}

// legacyDateLayouts — шаблоны toLocaleString() для распространённых локалей.
var legacyDateLayouts = []string{
	"1/2/2006, 3:04:05 PM",
	"2/1/2006, 15.04.05",
	"2/1/2006 15.04.05",
	"2/1/2006, 15:04:05",
	"02.01.2006, 15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// decodeLegacy разбирает массив пар [id, запись].
func (s *FileStore) decodeLegacy(data []byte) (map[string]model.FileRecord, error) {
	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("ошибка десериализации снапшота старого формата %s: %w", s.path, err)
	}

	fallback := time.Now().UTC()
	if info, err := os.Stat(s.path); err == nil {
		fallback = info.ModTime().UTC()
	}

	records := make(map[string]model.FileRecord, len(pairs))
	for _, pair := range pairs {
		var id string
		if err := json.Unmarshal(pair[0], &id); err != nil || id == "" {
			return nil, fmt.Errorf("запись старого формата без ID в снапшоте %s", s.path)
		}

		var lr legacyRecord
		if err := json.Unmarshal(pair[1], &lr); err != nil {
			return nil, fmt.Errorf("невалидная запись %q старого формата в снапшоте %s: %w", id, s.path, err)
		}

		kind, err := model.ParseKind(lr.FileType)
		if err != nil {
			return nil, fmt.Errorf("запись %q старого формата в снапшоте %s: %w", id, s.path, err)
		}
		rec := model.FileRecord{
			ID:         id,
			PayloadRef: lr.FileID,
			Kind:       kind,
			OwnerID:    lr.Uploader,
			CreatedAt:  parseLegacyDate(lr.UploadDate, fallback),
		}
		if err := rec.Validate(id); err != nil {
			return nil, fmt.Errorf("невалидная запись %q старого формата в снапшоте %s: %w", id, s.path, err)
		}
		records[id] = rec
	}

	s.logger.Warn("Загружен снапшот старого формата, будет перезаписан при следующем flush",
		slog.String("path", s.path),
		slog.Int("records", len(records)),
	)

	return records, nil
}

// parseLegacyDate разбирает дату загрузки старого формата.
// Время трактуется как UTC: часовой пояс старого формата не сохранялся.
func parseLegacyDate(value string, fallback time.Time) time.Time {
	value = strings.TrimSpace(strings.ReplaceAll(value, "\u202f", " "))
	for _, layout := range legacyDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return fallback
}
