package model

import "time"

type EventType string

const (
	EventConnected    EventType = "connected"
	EventStatusUpdate EventType = "status-update"
	EventCompleted    EventType = "completed"
	EventFailed       EventType = "failed"
)

// Event is a lifecycle notification pushed to live observers.
type Event struct {
	Type          EventType         `json:"type"`
	DocumentID    string            `json:"docId,omitempty"`
	Status        DocumentStatus    `json:"status,omitempty"`
	ExtractedData *ExtractionResult `json:"extractedData,omitempty"`
	ErrorMessage  string            `json:"error,omitempty"`
	Message       string            `json:"message,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

func NewStatusUpdateEvent(documentID string, status DocumentStatus, at time.Time) Event {
	return Event{Type: EventStatusUpdate, DocumentID: documentID, Status: status, Timestamp: at}
}

func NewCompletedEvent(documentID string, result *ExtractionResult, at time.Time) Event {
	return Event{Type: EventCompleted, DocumentID: documentID, Status: StatusCompleted, ExtractedData: result, Timestamp: at}
}

func NewFailedEvent(documentID string, message string, at time.Time) Event {
	return Event{Type: EventFailed, DocumentID: documentID, Status: StatusFailed, ErrorMessage: message, Timestamp: at}
}

// NewConnectedEvent greets an observer when its stream opens.
func NewConnectedEvent(at time.Time) Event {
	return Event{Type: EventConnected, Message: "Connected to document processing updates", Timestamp: at}
}
