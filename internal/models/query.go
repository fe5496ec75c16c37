package models

import (
	"errors"
	"strings"
)

// ErrEmptyQuestion is returned when a question is blank. It is raised before
// any embedding or completion call.
var ErrEmptyQuestion = errors.New("question cannot be empty")

// QueryRequest is a question submitted for answering.
type QueryRequest struct {
	Question string `json:"question"`
	// Owner scopes retrieval to one uploader when multi-tenancy is enabled.
	Owner string `json:"-"`
}

// Validate trims the question and rejects blank input.
func (q *QueryRequest) Validate() error {
	q.Question = strings.TrimSpace(q.Question)
	if q.Question == "" {
		return ErrEmptyQuestion
	}
	return nil
}
