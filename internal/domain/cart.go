package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// CartStorageKey — ключ, под которым проекция корзины лежит в key-value хранилище.
	CartStorageKey = "shopping-cart"
	// MaxStoredCartBytes — потолок размера сериализованной корзины (5 MiB).
	MaxStoredCartBytes = 5 * 1024 * 1024
)

// CartLine описывает позицию корзины.
type CartLine struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Image    string          `json:"image,omitempty"`
	Quantity int             `json:"quantity"`
	// Unavailable выставляется, когда товар не удалось найти в каталоге при загрузке.
	// Цена такой позиции в сумму не входит, менять количество нельзя.
	Unavailable bool `json:"unavailable,omitempty"`
}

// NewLine создаёт позицию из товара каталога.
func NewLine(p Product, quantity int) CartLine {
	return CartLine{
		ID:       p.ID,
		Name:     p.Name,
		Price:    p.Price,
		Image:    p.Image,
		Quantity: quantity,
	}
}

// PlaceholderLine создаёт позицию для товара, которого больше нет в каталоге.
func PlaceholderLine(id string, quantity int) CartLine {
	return CartLine{
		ID:          id,
		Name:        UnavailableName(id),
		Price:       decimal.Zero,
		Quantity:    quantity,
		Unavailable: true,
	}
}

// LineTotal возвращает price * quantity; для недоступной позиции — ноль.
func (l CartLine) LineTotal() decimal.Decimal {
	if l.Unavailable {
		return decimal.Zero
	}
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart — агрегат корзины. Порядок Items совпадает с порядком добавления.
type Cart struct {
	Items []CartLine      `json:"items"`
	Total decimal.Decimal `json:"total"`
}

// NewCart собирает корзину и сразу пересчитывает сумму.
func NewCart(items []CartLine) Cart {
	c := Cart{Items: items}
	if c.Items == nil {
		c.Items = []CartLine{}
	}
	c.Recalculate()
	return c
}

// EmptyCart возвращает пустую корзину.
func EmptyCart() Cart {
	return NewCart(nil)
}

// Recalculate пересчитывает Total по всем доступным позициям.
// Total никогда не корректируется инкрементально.
func (c *Cart) Recalculate() {
	total := decimal.Zero
	for _, line := range c.Items {
		total = total.Add(line.LineTotal())
	}
	c.Total = total
}

// ItemCount считает единицы товара по всем позициям, включая недоступные.
func (c Cart) ItemCount() int {
	count := 0
	for _, line := range c.Items {
		count += line.Quantity
	}
	return count
}

// Find возвращает индекс позиции с указанным ID или -1.
func (c Cart) Find(id string) int {
	for i, line := range c.Items {
		if line.ID == id {
			return i
		}
	}
	return -1
}

// Clone возвращает глубокую копию корзины.
func (c Cart) Clone() Cart {
	items := make([]CartLine, len(c.Items))
	copy(items, c.Items)
	return Cart{Items: items, Total: c.Total}
}

// StoredLine хранит только идентификатор и количество.
type StoredLine struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// StoredCart — проекция корзины для key-value хранилища.
// Название и цена намеренно не сохраняются: они восстанавливаются из каталога при загрузке.
type StoredCart struct {
	Items     []StoredLine `json:"items"`
	Timestamp int64        `json:"timestamp"`
}

// ProjectCart строит сохраняемую проекцию корзины с отметкой времени now.
func ProjectCart(c Cart, now time.Time) StoredCart {
	items := make([]StoredLine, 0, len(c.Items))
	for _, line := range c.Items {
		items = append(items, StoredLine{ID: line.ID, Quantity: line.Quantity})
	}
	return StoredCart{Items: items, Timestamp: now.UnixMilli()}
}
