// Пакет dispatcher — разбор команд бота и вызов операций реестра.
//
// Диспетчер определяет вызывающего (message.from.id) и его привилегию
// (совпадение с ID администратора), вызывает операцию реестра и
// отвечает пользователю. Уведомления в архивный канал отправляются
// по возможности: их ошибка не влияет на результат команды.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bigkaa/goartstore/share-bot/internal/domain/model"
	"github.com/bigkaa/goartstore/share-bot/internal/registry"
	"github.com/bigkaa/goartstore/share-bot/internal/telegram"
)

// Registry — операции реестра, используемые диспетчером.
type Registry interface {
	Insert(ctx context.Context, payloadRef string, kind model.Kind, ownerID int64) (string, error)
	Lookup(id string) (model.FileRecord, error)
	Delete(ctx context.Context, id string, requesterID int64, privileged bool) error
	Reassign(ctx context.Context, id string, requesterID int64, privileged bool) (string, error)
	ListByOwner(ownerID int64) []model.OwnerEntry
	ListAll() []model.Entry
}

// Transport — отправка сообщений и вложений.
type Transport interface {
	SendMessage(ctx context.Context, chatID, text string) error
	SendMedia(ctx context.Context, chatID string, kind model.Kind, fileID, caption string) error
}

// Config — параметры диспетчера.
type Config struct {
	// OwnerID — Telegram ID администратора
	OwnerID int64
	// ChannelID — архивный канал; пустое значение отключает уведомления
	ChannelID string
	// BotUsername — имя бота для публичных ссылок (без @)
	BotUsername string
	// DedupSize — размер кэша обработанных update_id
	DedupSize int
	// DedupTTL — время хранения update_id в кэше
	DedupTTL time.Duration
}

// Dispatcher — обработчик входящих обновлений.
type Dispatcher struct {
	reg    Registry
	tr     Transport
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	seenMu sync.Mutex
	seen   *expirable.LRU[int64, struct{}]
}

// New создаёт диспетчер.
func New(reg Registry, tr Transport, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = 4096
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	return &Dispatcher{
		reg:    reg,
		tr:     tr,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "dispatcher")),
		seen:   expirable.NewLRU[int64, struct{}](cfg.DedupSize, nil, cfg.DedupTTL),
	}
}

// command — обработчик команды.
type command func(ctx context.Context, c *call) error

// call — контекст одной команды.
type call struct {
	msg        *telegram.Message
	args       []string
	chatID     string
	userID     int64
	privileged bool
}

// arg возвращает первый аргумент команды или "".
func (c *call) arg() string {
	if len(c.args) == 0 {
		return ""
	}
	return c.args[0]
}

// actor — имя пользователя для уведомлений канала.
func (c *call) actor() string {
	return c.msg.From.DisplayName()
}

// commands сопоставляет имя команды и обработчик (включая короткие алиасы).
func (d *Dispatcher) commands() map[string]command {
	return map[string]command{
		"start":    d.handleStart,
		"upload":   d.handleUpload,
		"up":       d.handleUpload,
		"download": d.handleDownload,
		"dl":       d.handleDownload,
		"delete":   d.handleDelete,
		"dt":       d.handleDelete,
		"list":     d.handleList,
		"listall":  d.handleListAll,
		"revoke":   d.handleRevoke,
	}
}

// HandleUpdate обрабатывает одно обновление. Повторно доставленные
// обновления (тот же update_id) отбрасываются. Сообщения без команды
// и без отправителя игнорируются.
func (d *Dispatcher) HandleUpdate(ctx context.Context, upd telegram.Update) {
	if d.duplicate(upd.UpdateID) {
		duplicateUpdatesTotal.Inc()
		d.logger.Debug("Повторное обновление пропущено",
			slog.Int64("update_id", upd.UpdateID),
		)
		return
	}

	msg := upd.Message
	if msg == nil || msg.From == nil {
		return
	}

	name, args := msg.Command()
	handler, ok := d.commands()[name]
	if !ok {
		return
	}

	c := &call{
		msg:        msg,
		args:       args,
		chatID:     telegram.FormatChatID(msg.Chat.ID),
		userID:     msg.From.ID,
		privileged: msg.From.ID == d.cfg.OwnerID,
	}

	start := time.Now()
	err := handler(ctx, c)
	commandsTotal.WithLabelValues(name, resultLabel(err)).Inc()
	commandDurationSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		d.logger.Warn("Команда завершилась ошибкой",
			slog.String("command", name),
			slog.Int64("user_id", c.userID),
			slog.String("error", err.Error()),
		)
		return
	}

	d.logger.Debug("Команда выполнена",
		slog.String("command", name),
		slog.Int64("user_id", c.userID),
		slog.Duration("duration", time.Since(start)),
	)
}

// duplicate отмечает update_id как обработанный и сообщает, встречался ли он раньше.
func (d *Dispatcher) duplicate(updateID int64) bool {
	d.seenMu.Lock()
	defer d.seenMu.Unlock()

	if d.seen.Contains(updateID) {
		return true
	}
	d.seen.Add(updateID, struct{}{})
	return false
}

// handleStart: с известным ID выдаёт файл (переход по публичной ссылке),
// иначе показывает справку.
func (d *Dispatcher) handleStart(ctx context.Context, c *call) error {
	if id := c.arg(); id != "" {
		if rec, err := d.reg.Lookup(id); err == nil {
			return d.deliver(ctx, c, rec)
		}
	}
	return d.reply(ctx, c, welcomeText(c.privileged))
}

func (d *Dispatcher) handleUpload(ctx context.Context, c *call) error {
	kind, fileID, ok := c.msg.Attachment()
	if !ok {
		return d.reply(ctx, c, msgUnsupported)
	}

	id, err := d.reg.Insert(ctx, fileID, kind, c.userID)
	if err != nil {
		return d.replyError(ctx, c, err, "")
	}

	url := publicURL(d.cfg.BotUsername, id)
	if err := d.reply(ctx, c, fmt.Sprintf(msgUploadSucceeded, id, url)); err != nil {
		d.logger.Warn("Ответ о загрузке не доставлен",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}

	d.notifyMedia(ctx, kind, fileID, uploadNotice(c.actor(), id, d.now(), url))
	return nil
}

func (d *Dispatcher) handleDownload(ctx context.Context, c *call) error {
	id := c.arg()
	if id == "" {
		return d.reply(ctx, c, msgDownloadUsage)
	}

	rec, err := d.reg.Lookup(id)
	if err != nil {
		return d.replyError(ctx, c, err, "")
	}
	return d.deliver(ctx, c, rec)
}

func (d *Dispatcher) handleDelete(ctx context.Context, c *call) error {
	id := c.arg()
	if id == "" {
		return d.reply(ctx, c, msgDeleteUsage)
	}

	if err := d.reg.Delete(ctx, id, c.userID, c.privileged); err != nil {
		return d.replyError(ctx, c, err, msgDeleteDenied)
	}

	d.notifyText(ctx, deleteNotice(id, c.actor(), d.now()))
	return d.reply(ctx, c, fmt.Sprintf(msgDeleteSucceeded, id))
}

func (d *Dispatcher) handleList(ctx context.Context, c *call) error {
	entries := d.reg.ListByOwner(c.userID)
	if len(entries) == 0 {
		return d.reply(ctx, c, msgNoOwnFiles)
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("- %s (%s)", e.ID, e.Kind))
	}
	return d.replyLines(ctx, c, msgOwnFilesHeader, lines)
}

// handleListAll доступна только администратору; остальным бот не отвечает.
func (d *Dispatcher) handleListAll(ctx context.Context, c *call) error {
	if !c.privileged {
		return nil
	}

	entries := d.reg.ListAll()
	if len(entries) == 0 {
		return d.reply(ctx, c, msgNoFiles)
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("- %s (%s, by %d)", e.ID, e.Kind, e.OwnerID))
	}
	return d.replyLines(ctx, c, msgAllFilesHeader, lines)
}

func (d *Dispatcher) handleRevoke(ctx context.Context, c *call) error {
	id := c.arg()
	if id == "" {
		return d.reply(ctx, c, msgRevokeUsage)
	}

	newID, err := d.reg.Reassign(ctx, id, c.userID, c.privileged)
	if err != nil {
		return d.replyError(ctx, c, err, msgRevokeDenied)
	}

	d.notifyText(ctx, revokeNotice(id, newID, c.actor(), d.now()))
	return d.reply(ctx, c, fmt.Sprintf(msgRevokeSucceeded, newID, publicURL(d.cfg.BotUsername, newID)))
}

// deliver отправляет вложение записи в чат вызывающего.
func (d *Dispatcher) deliver(ctx context.Context, c *call, rec model.FileRecord) error {
	if err := d.tr.SendMedia(ctx, c.chatID, rec.Kind, rec.PayloadRef, downloadCaption(rec)); err != nil {
		return fmt.Errorf("доставка файла %s: %w", rec.ID, err)
	}
	d.logger.Info("Файл выдан",
		slog.String("id", rec.ID),
		slog.Int64("user_id", c.userID),
	)
	return nil
}

// replyError отвечает пользователю текстом, соответствующим ошибке реестра,
// и возвращает исходную ошибку. denied — текст для ErrPermissionDenied.
func (d *Dispatcher) replyError(ctx context.Context, c *call, err error, denied string) error {
	text := msgInternal
	switch {
	case errors.Is(err, registry.ErrNotFound):
		text = msgNotFound
	case errors.Is(err, registry.ErrPermissionDenied) && denied != "":
		text = denied
	case errors.Is(err, registry.ErrDurability):
		text = msgRetry
	case errors.Is(err, registry.ErrClosed):
		text = msgShuttingDown
	case errors.Is(err, registry.ErrInvalidArgument):
		text = msgUnsupported
	}

	if replyErr := d.reply(ctx, c, text); replyErr != nil {
		return errors.Join(err, replyErr)
	}
	return err
}

func (d *Dispatcher) reply(ctx context.Context, c *call, text string) error {
	if err := d.tr.SendMessage(ctx, c.chatID, text); err != nil {
		return fmt.Errorf("ответ в чат %s: %w", c.chatID, err)
	}
	return nil
}

// replyLines отправляет список, разбивая его на сообщения допустимой длины.
func (d *Dispatcher) replyLines(ctx context.Context, c *call, header string, lines []string) error {
	for _, part := range splitMessage(header, lines, maxMessageLength) {
		if err := d.reply(ctx, c, part); err != nil {
			return err
		}
	}
	return nil
}

// notifyText отправляет уведомление в архивный канал. Ошибка только логируется.
func (d *Dispatcher) notifyText(ctx context.Context, text string) {
	if d.cfg.ChannelID == "" {
		return
	}
	if err := d.tr.SendMessage(ctx, d.cfg.ChannelID, text); err != nil {
		notifyFailuresTotal.Inc()
		d.logger.Warn("Уведомление в канал не доставлено",
			slog.String("channel_id", d.cfg.ChannelID),
			slog.String("error", err.Error()),
		)
	}
}

// notifyMedia пересылает вложение в архивный канал. Ошибка только логируется.
func (d *Dispatcher) notifyMedia(ctx context.Context, kind model.Kind, fileID, caption string) {
	if d.cfg.ChannelID == "" {
		return
	}
	if err := d.tr.SendMedia(ctx, d.cfg.ChannelID, kind, fileID, caption); err != nil {
		notifyFailuresTotal.Inc()
		d.logger.Warn("Файл не переслан в канал",
			slog.String("channel_id", d.cfg.ChannelID),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)
	}
}
