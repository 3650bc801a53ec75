package events

// Topic constants for domain events emitted by the register.
const (
	TopicSaleCompleted  = "sale.completed"
	TopicSaleReturned   = "sale.returned"
	TopicSaleCancelled  = "sale.cancelled"
	TopicWalletCredited = "wallet.credited"
	TopicWalletDebited  = "wallet.debited"
)

// DefaultTopics returns the canonical list of emitted topics.
func DefaultTopics() []string {
	return []string{
		TopicSaleCompleted,
		TopicSaleReturned,
		TopicSaleCancelled,
		TopicWalletCredited,
		TopicWalletDebited,
	}
}
