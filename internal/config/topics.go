package config

const (
	// QueueCollect carries raw items emitted by the source collectors.
	QueueCollect = "content.collect"

	// QueueExtract carries extraction (OCR + LLM) tasks for stored items.
	QueueExtract = "content.extract"

	// QueueDedup carries duplicate checks for extracted items.
	QueueDedup = "content.dedup"

	// ChannelPipeline is the NSQ channel every stage consumer joins.
	ChannelPipeline = "pipeline"
)

// Job kinds, grouped by the queue that accepts them.
const (
	KindProcessEmail    = "process-email"
	KindProcessRSS      = "process-rss"
	KindScrapeInstagram = "scrape-instagram"
	KindScrapeFacebook  = "scrape-facebook"

	KindExtractContent = "extract-content"
	KindExtractEmail   = "extract-email"

	KindCheckDuplicate = "check-duplicate"
)

// Queues lists every pipeline queue in stage order.
func Queues() []string {
	return []string{QueueCollect, QueueExtract, QueueDedup}
}
