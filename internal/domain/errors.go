package domain

import "errors"

var (
	// ErrKeyNotFound возвращает KVStore.Get для отсутствующего ключа.
	ErrKeyNotFound = errors.New("key not found")
	// ErrStorageQuotaExceeded — хранилище отказало в записи из-за квоты.
	ErrStorageQuotaExceeded = errors.New("storage quota exceeded")
	// ErrCartTooLarge — сериализованная корзина превышает MaxStoredCartBytes.
	ErrCartTooLarge = errors.New("cart is too large to save")
	// ErrCorruptCart — сохранённая запись не разбирается или имеет неверную структуру.
	ErrCorruptCart = errors.New("stored cart is corrupt")
	// ErrCatalogUnavailable — пакетный запрос к каталогу завершился ошибкой.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	// ErrProductNotFound возвращает HTTP-слой, если товара нет в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrLineUnavailable — попытка изменить количество у недоступной позиции.
	ErrLineUnavailable = errors.New("cart line is unavailable")
	// ErrChannelClosed возвращается при публикации в закрытый канал.
	ErrChannelClosed = errors.New("broadcast channel closed")
	// ErrChannelUnavailable — канал синхронизации не удалось открыть.
	ErrChannelUnavailable = errors.New("broadcast channel unavailable")
)

// UserMessage переводит ошибку в строку для единственного слота предупреждений в UI.
// Для nil возвращает пустую строку.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCartTooLarge):
		return "Cart is too large to save. Consider reducing items."
	case errors.Is(err, ErrStorageQuotaExceeded):
		return "Storage full. Cart will be lost on page refresh."
	default:
		return "Failed to save cart: " + err.Error()
	}
}

// LoadFailureMessage — предупреждение, если корзину не удалось загрузить.
const LoadFailureMessage = "Failed to load cart from storage"
