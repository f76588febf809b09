package queue

import (
	"fmt"
	"strings"
)

// LabelJobMessage hands a label-processing request to the external worker.
type LabelJobMessage struct {
	BatchKey      string `json:"batchKey"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (m LabelJobMessage) Validate() error {
	if strings.TrimSpace(m.BatchKey) == "" {
		return fmt.Errorf("batchKey is required")
	}
	return nil
}

func (m LabelJobMessage) Correlation() string { return m.CorrelationID }

// ErrorReportMessage is a provider-reported failure attributed to a batch.
type ErrorReportMessage struct {
	BatchKey      string  `json:"batchKey"`
	ErrorCode     *string `json:"errorCode,omitempty"`
	ErrorMessage  string  `json:"errorMessage"`
	ErrorType     *string `json:"errorType,omitempty"`
	Source        *string `json:"source,omitempty"`
	CorrelationID string  `json:"correlationId,omitempty"`
}

func (m ErrorReportMessage) Validate() error {
	if strings.TrimSpace(m.BatchKey) == "" {
		return fmt.Errorf("batchKey is required")
	}
	if strings.TrimSpace(m.ErrorMessage) == "" {
		return fmt.Errorf("errorMessage is required")
	}
	return nil
}

func (m ErrorReportMessage) Correlation() string { return m.CorrelationID }
