package model

// IngestEnvelope carries one raw log line with source metadata.
// It is the transport contract between forwarder inputs and line parsing.
type IngestEnvelope struct {
	Source string
	Line   string
}
