// Пакет telegram — минимальный клиент Telegram Bot API и типы обновлений.
// Покрывает только методы, нужные боту: getMe, getUpdates,
// deleteWebhook, sendMessage и send{Document,Photo,Video,Audio}.
package telegram

import (
	"strings"

	"github.com/bigkaa/goartstore/share-bot/internal/domain/model"
)

// Update — входящее обновление Bot API.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// User — пользователь или бот.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// DisplayName возвращает @username или числовой ID.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return formatID(u.ID)
}

// Chat — чат, в котором пришло сообщение.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// File — вложение (document, video, audio).
type File struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileName     string `json:"file_name,omitempty"`
	FileSize     int64  `json:"file_size,omitempty"`
}

// PhotoSize — один из размеров фотографии.
type PhotoSize struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FileSize     int64  `json:"file_size,omitempty"`
}

// Message — сообщение. Заполнено не более одного поля вложения.
type Message struct {
	MessageID      int64       `json:"message_id"`
	From           *User       `json:"from,omitempty"`
	Chat           Chat        `json:"chat"`
	Date           int64       `json:"date"`
	Text           string      `json:"text,omitempty"`
	Caption        string      `json:"caption,omitempty"`
	Document       *File       `json:"document,omitempty"`
	Photo          []PhotoSize `json:"photo,omitempty"`
	Video          *File       `json:"video,omitempty"`
	Audio          *File       `json:"audio,omitempty"`
	ReplyToMessage *Message    `json:"reply_to_message,omitempty"`
}

// Command разбирает команду из текста (или подписи) сообщения.
// "/start@share_bot abc" → ("start", ["abc"]). Для сообщений без
// команды возвращает пустое имя.
func (m *Message) Command() (name string, args []string) {
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}

	name = strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), fields[1:]
}

// Attachment возвращает вложение сообщения. Если в самом сообщении
// вложения нет, проверяется сообщение, на которое оно отвечает.
// Приоритет: document, photo (самый крупный размер), video, audio.
func (m *Message) Attachment() (kind model.Kind, fileID string, ok bool) {
	if kind, fileID, ok = m.ownAttachment(); ok {
		return kind, fileID, true
	}
	if m.ReplyToMessage != nil {
		return m.ReplyToMessage.ownAttachment()
	}
	return "", "", false
}

func (m *Message) ownAttachment() (model.Kind, string, bool) {
	switch {
	case m.Document != nil && m.Document.FileID != "":
		return model.KindDocument, m.Document.FileID, true
	case len(m.Photo) > 0:
		return model.KindPhoto, largestPhoto(m.Photo).FileID, true
	case m.Video != nil && m.Video.FileID != "":
		return model.KindVideo, m.Video.FileID, true
	case m.Audio != nil && m.Audio.FileID != "":
		return model.KindAudio, m.Audio.FileID, true
	}
	return "", "", false
}

// largestPhoto выбирает размер с наибольшей площадью.
// При равенстве побеждает более поздний: Bot API отдаёт размеры по возрастанию.
func largestPhoto(sizes []PhotoSize) PhotoSize {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Width*s.Height >= best.Width*best.Height {
			best = s
		}
	}
	return best
}
