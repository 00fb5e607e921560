package redisx

const (
	// KeyOrderNumberSeq — счётчик номеров заказов: settlement:order_number_seq -> int.
	KeyOrderNumberSeq = "settlement:order_number_seq"
)
