package domain

// SyncChannelName — логическое имя общего канала синхронизации корзины.
const SyncChannelName = "cart-sync-channel"

// MessageType определяет тип сообщения в канале синхронизации.
type MessageType string

const MessageTypeCartUpdated MessageType = "CART_UPDATED"

// BroadcastMessage — запись, которой контексты обмениваются через канал.
type BroadcastMessage struct {
	Type MessageType `json:"type"`
	Cart *Cart       `json:"cart"`
	// Timestamp — миллисекунды с начала эпохи по часам отправителя.
	Timestamp int64 `json:"timestamp"`
}

// Valid проверяет, что сообщение имеет ожидаемый тег, корзину и положительную метку времени.
func (m BroadcastMessage) Valid() bool {
	return m.Type == MessageTypeCartUpdated && m.Cart != nil && m.Timestamp > 0
}
