package events

// Topic constants for domain events emitted by the quote service.
const (
	TopicQuoteCreated          = "quote.created"
	TopicQuoteUpdated          = "quote.updated"
	TopicQuoteStatusChanged    = "quote.status_changed"
	TopicQuoteDeleted          = "quote.deleted"
	TopicQuoteDocumentRendered = "quote.document_rendered"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicQuoteCreated,
		TopicQuoteUpdated,
		TopicQuoteStatusChanged,
		TopicQuoteDeleted,
		TopicQuoteDocumentRendered,
	}
}
