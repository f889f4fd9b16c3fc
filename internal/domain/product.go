package domain

import "github.com/shopspring/decimal"

// Product — неизменяемая запись каталога. Каталог внешний, ядро его только читает.
type Product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Price неотрицательна.
	Price decimal.Decimal `json:"price"`
	Image string          `json:"image,omitempty"`
}

// UnavailableName формирует название позиции-заглушки для товара, которого нет в каталоге.
func UnavailableName(id string) string {
	return "Product " + id + " (Unavailable)"
}
