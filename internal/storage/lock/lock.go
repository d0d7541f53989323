// Пакет lock — эксклюзивное владение хранилищем снапшота через flock().
//
// Реестр рассчитан ровно на один работающий экземпляр на хранилище.
// При старте экземпляр захватывает неблокирующий LOCK_EX на
// {dir}/.share-bot.lock; если блокировка занята, запуск прерывается.
// В файл блокировки записывается hostname:pid владельца для диагностики.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
)

// FileName — имя файла блокировки.
const FileName = ".share-bot.lock"

// ErrHeld — блокировка удерживается другим процессом.
var ErrHeld = errors.New("хранилище уже занято другим экземпляром")

// Lock — захваченная блокировка хранилища.
type Lock struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// Acquire захватывает эксклюзивную блокировку в директории dir.
// Директория создаётся, если не существует.
// Возвращает ErrHeld (с адресом владельца), если блокировка занята.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть lock-файл %s: %w", path, err)
	}

	// Неблокирующая попытка захватить эксклюзивную блокировку
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			if owner := readOwner(path); owner != "" {
				return nil, fmt.Errorf("%w (владелец: %s)", ErrHeld, owner)
			}
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("ошибка flock %s: %w", path, err)
	}

	l := &Lock{path: path, file: f}
	if err := l.writeOwner(); err != nil {
		_ = l.Release()
		return nil, err
	}

	return l, nil
}

// Path возвращает путь к файлу блокировки.
func (l *Lock) Path() string {
	return l.path
}

// Release освобождает блокировку. Повторный вызов — no-op.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if unlockErr != nil {
		return fmt.Errorf("ошибка снятия flock: %w", unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("ошибка закрытия lock-файла: %w", closeErr)
	}
	return nil
}

// writeOwner записывает hostname:pid в файл блокировки.
func (l *Lock) writeOwner() error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("ошибка очистки lock-файла: %w", err)
	}
	if _, err := l.file.WriteAt([]byte(fmt.Sprintf("%s:%d", hostname, os.Getpid())), 0); err != nil {
		return fmt.Errorf("ошибка записи lock-файла: %w", err)
	}
	return nil
}

// readOwner читает hostname:pid владельца. Пустая строка при ошибке.
func readOwner(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
