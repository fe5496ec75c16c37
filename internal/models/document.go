// Package models defines core data structures for documents, fragments, and answers.
package models

import "time"

// Document is an uploaded file awaiting ingestion. It only lives for the
// duration of an ingestion batch.
type Document struct {
	Filename string
	Content  []byte
}

// Fragment is a bounded slice of a document's normalized text, the unit of
// embedding and retrieval. Fragments are write-once.
type Fragment struct {
	ID             string    `json:"id" db:"id"`
	Text           string    `json:"text" db:"text"`
	SourceFilename string    `json:"source_filename" db:"source_filename"`
	SequenceIndex  int       `json:"sequence_index" db:"sequence_index"`
	OwnerIdentity  string    `json:"owner_identity,omitempty" db:"owner_identity"`
	Embedding      []float32 `json:"-" db:"-"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
