// errors.go — ошибки реестра файлов.
package registry

import "errors"

var (
	// ErrNotFound — идентификатор отсутствует или уже перевыпущен.
	ErrNotFound = errors.New("файл не найден")
	// ErrPermissionDenied — запрашивающий не владелец и не администратор.
	ErrPermissionDenied = errors.New("недостаточно прав для операции над файлом")
	// ErrDurability — снапшот не записан, мутация не применена. Можно повторить.
	ErrDurability = errors.New("не удалось сохранить реестр")
	// ErrEnvironment — хранилище или источник энтропии недоступны, реестр не может работать.
	ErrEnvironment = errors.New("окружение реестра недоступно")
	// ErrClosed — реестр закрывается, мутации не принимаются.
	ErrClosed = errors.New("реестр закрыт")
	// ErrInvalidArgument — некорректные входные данные.
	ErrInvalidArgument = errors.New("некорректные входные данные")
)
