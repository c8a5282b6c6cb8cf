// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// ReindexTask asks a worker to rebuild the chunks of one registered document.
type ReindexTask struct {
	DocumentID  string `json:"document_id"`
	Filename    string `json:"filename"`
	RequestedAt string `json:"requested_at"`
}
