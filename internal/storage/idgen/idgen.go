// Пакет idgen — генератор публичных идентификаторов файлов.
// Идентификатор — случайный 128-битный UUID v4 в канонической
// текстовой форме (36 символов).
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator выдаёт новый уникальный идентификатор.
type Generator interface {
	Generate() string
}

// UUID — генератор на основе UUID v4.
// Не имеет состояния, безопасен для конкурентного использования.
type UUID struct{}

// New создаёт генератор UUID v4.
func New() *UUID {
	return &UUID{}
}

// Generate возвращает новый UUID v4.
// Паникует, если источник энтропии недоступен: это фатальная
// ошибка окружения, а не состояние реестра. Probe при старте
// позволяет обнаружить её до приёма запросов.
func (g *UUID) Generate() string {
	return uuid.New().String()
}

// Probe проверяет доступность источника энтропии.
func (g *UUID) Probe() error {
	if _, err := uuid.NewRandom(); err != nil {
		return fmt.Errorf("источник энтропии недоступен: %w", err)
	}
	return nil
}

var _ Generator = (*UUID)(nil)
