package kafka

// Topic names for settlement engine events.
const (
	TopicTransactions = "settlement.transactions"
	TopicBatches      = "settlement.batches"
	TopicNetting      = "settlement.netting"
	TopicSettlements  = "settlement.instructions"
)

// GetAllTopics returns the list of all topics the producer may publish to.
func GetAllTopics() []string {
	return []string{
		TopicTransactions,
		TopicBatches,
		TopicNetting,
		TopicSettlements,
	}
}
