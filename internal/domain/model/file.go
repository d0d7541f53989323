// Пакет model — доменные модели share-bot.
// FileRecord — единая структура записи реестра, используется
// как in-memory представление и как формат снапшота на диске.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind — тип вложения, которое ссылается на запись реестра.
type Kind string

const (
	// KindDocument — произвольный документ
	KindDocument Kind = "document"
	// KindPhoto — фотография (хранится самый крупный размер)
	KindPhoto Kind = "photo"
	// KindVideo — видео
	KindVideo Kind = "video"
	// KindAudio — аудиофайл
	KindAudio Kind = "audio"
)

// delivery — описание доставки вложения через Bot API.
type delivery struct {
	method string
	field  string
}

// deliveries — дескрипторы доставки для каждого типа.
// Транспорт отправляет любой тип одним кодом, параметризованным дескриптором.
var deliveries = map[Kind]delivery{
	KindDocument: {method: "sendDocument", field: "document"},
	KindPhoto:    {method: "sendPhoto", field: "photo"},
	KindVideo:    {method: "sendVideo", field: "video"},
	KindAudio:    {method: "sendAudio", field: "audio"},
}

// Kinds возвращает все допустимые типы в стабильном порядке.
func Kinds() []Kind {
	return []Kind{KindDocument, KindPhoto, KindVideo, KindAudio}
}

// ParseKind преобразует строку в Kind.
// Регистр не учитывается, пробелы по краям отбрасываются.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("недопустимый тип файла %q, допустимые: document, photo, video, audio", s)
	}
	return k, nil
}

// Valid проверяет, что тип входит в перечисление.
func (k Kind) Valid() bool {
	_, ok := deliveries[k]
	return ok
}

// SendMethod возвращает метод Bot API для доставки вложения этого типа.
func (k Kind) SendMethod() string {
	return deliveries[k].method
}

// PayloadField возвращает имя поля запроса, в котором передаётся ссылка на вложение.
func (k Kind) PayloadField() string {
	return deliveries[k].field
}

func (k Kind) String() string {
	return string(k)
}

// FileRecord — запись реестра: идентификатор → ссылка на вложение.
// PayloadRef — непрозрачная ссылка транспорта (file_id), содержимое
// файла реестр не хранит.
type FileRecord struct {
	// ID — публичный идентификатор (UUID v4)
	ID string `json:"id"`

	// PayloadRef — ссылка на вложение во внешнем транспорте
	PayloadRef string `json:"payload_ref"`

	// Kind — тип вложения
	Kind Kind `json:"kind"`

	// OwnerID — идентификатор загрузившего пользователя.
	// Не меняется за всё время жизни записи, в том числе при перевыпуске ID.
	OwnerID int64 `json:"owner_id"`

	// CreatedAt — время загрузки (UTC)
	CreatedAt time.Time `json:"created_at"`
}

// OwnedBy проверяет, принадлежит ли запись пользователю.
func (r *FileRecord) OwnedBy(userID int64) bool {
	return r.OwnerID == userID
}

// Validate проверяет запись снапшота, хранящуюся под ключом key.
func (r *FileRecord) Validate(key string) error {
	switch {
	case key == "":
		return errors.New("пустой идентификатор")
	case r.ID != key:
		return fmt.Errorf("идентификатор записи %q не совпадает с ключом", r.ID)
	case r.PayloadRef == "":
		return errors.New("пустая ссылка на вложение")
	case !r.Kind.Valid():
		return fmt.Errorf("недопустимый тип %q", r.Kind)
	}
	return nil
}

// OwnerEntry — элемент списка файлов пользователя.
type OwnerEntry struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}

// Entry — элемент полного списка файлов (только для администратора).
type Entry struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	OwnerID int64  `json:"owner_id"`
}
