// poller.go — приём обновлений Bot API через long polling (getUpdates).
//
// Poller запускается горутиной: перед первым запросом отключает webhook
// (getUpdates не работает, пока он задан), затем в цикле запрашивает
// обновления и передаёт их обработчику по одному, продвигая offset.
//
// Telegram подтверждает обновления следующим запросом с большим offset.
// При остановке обработанные, но не подтверждённые обновления
// подтверждаются отдельным запросом, необработанные будут доставлены
// повторно после перезапуска.
package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/share-bot/internal/telegram"
)

// Prometheus метрики poller
var (
	// pollerUpdatesTotal — количество полученных обновлений.
	pollerUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sb_poller_updates_total",
		Help: "Общее количество обновлений, полученных через getUpdates",
	})

	// pollerErrorsTotal — количество ошибок getUpdates.
	pollerErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sb_poller_errors_total",
		Help: "Общее количество ошибок запроса getUpdates",
	})
)

const (
	// minBackoff, maxBackoff — границы паузы между неудачными запросами
	minBackoff = time.Second
	maxBackoff = 30 * time.Second

	// confirmTimeout — таймаут подтверждения offset при остановке
	confirmTimeout = 5 * time.Second
)

// UpdatesSource — источник обновлений (клиент Bot API).
type UpdatesSource interface {
	DeleteWebhook(ctx context.Context) error
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

// UpdateHandler — обработчик обновления (диспетчер команд).
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd telegram.Update)
}

// Poller — сервис long polling.
type Poller struct {
	source  UpdatesSource
	handler UpdateHandler
	timeout time.Duration
	logger  *slog.Logger

	// sleep ожидает d или отмены ctx; подменяется в тестах
	sleep func(ctx context.Context, d time.Duration) bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller создаёт сервис long polling.
// timeout — время ожидания обновлений на стороне Telegram.
func NewPoller(source UpdatesSource, handler UpdateHandler, timeout time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		source:  source,
		handler: handler,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "poller")),
		sleep:   sleepCtx,
	}
}

// Start запускает фоновую горутину приёма обновлений.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.run(pollCtx)

	p.logger.Info("Long polling запущен",
		slog.String("timeout", p.timeout.String()),
	)
}

// Stop останавливает приём и ждёт завершения обработки текущего обновления.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("Long polling остановлен")
}

// run — основной цикл фоновой горутины.
func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	if !p.disableWebhook(ctx) {
		return
	}

	var (
		offset    int64
		confirmed int64
		backoff   = minBackoff
	)

	for ctx.Err() == nil {
		updates, err := p.source.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			pollerErrorsTotal.Inc()
			wait := p.retryDelay(err, backoff)
			p.logger.Warn("Ошибка getUpdates, повтор",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", wait),
			)
			if !p.sleep(ctx, wait) {
				break
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff
		confirmed = offset

		for _, upd := range updates {
			// Необработанный остаток пакета будет доставлен повторно
			if ctx.Err() != nil {
				break
			}
			pollerUpdatesTotal.Inc()
			// Обработка не прерывается остановкой: мутация реестра
			// должна завершиться записью снапшота
			p.handler.HandleUpdate(context.WithoutCancel(ctx), upd)
			offset = upd.UpdateID + 1
		}
	}

	if offset > confirmed {
		p.confirm(offset)
	}
}

// disableWebhook отключает webhook, повторяя попытки до успеха или остановки.
func (p *Poller) disableWebhook(ctx context.Context) bool {
	backoff := minBackoff
	for {
		err := p.source.DeleteWebhook(ctx)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		wait := p.retryDelay(err, backoff)
		p.logger.Warn("Не удалось отключить webhook, повтор",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", wait),
		)
		if !p.sleep(ctx, wait) {
			return false
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// confirm подтверждает обработанные обновления запросом с нулевым таймаутом.
func (p *Poller) confirm(offset int64) {
	ctx, cancel := context.WithTimeout(context.Background(), confirmTimeout)
	defer cancel()

	if _, err := p.source.GetUpdates(ctx, offset, 0); err != nil {
		p.logger.Warn("Не удалось подтвердить обработанные обновления",
			slog.Int64("offset", offset),
			slog.String("error", err.Error()),
		)
	}
}

// retryDelay — пауза перед повтором: retry_after из ответа 429 или backoff.
func (p *Poller) retryDelay(err error, backoff time.Duration) time.Duration {
	var apiErr *telegram.APIError
	if errors.As(err, &apiErr) {
		if apiErr.RetryAfter > 0 {
			return time.Duration(apiErr.RetryAfter) * time.Second
		}
		if apiErr.Code == http.StatusConflict {
			p.logger.Error("Конфликт getUpdates: запущен другой экземпляр бота или задан webhook")
		}
	}
	return backoff
}

// sleepCtx ждёт d. Возвращает false, если ctx отменён раньше.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
