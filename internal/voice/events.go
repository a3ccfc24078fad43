package voice

import "time"

// EventType names a server-to-client message.
type EventType string

const (
	EventInfo                 EventType = "info"
	EventProperSpeechStart    EventType = "proper_speech_start"
	EventSpeechFalseDetection EventType = "speech_false_detection"
	EventSpeechEnd            EventType = "speech_end"
	EventTranscription        EventType = "transcription"
	EventError                EventType = "error"
)

// ReasonUtteranceTooShort is the only false-detection reason.
const ReasonUtteranceTooShort = "utterance_too_short"

// Event is the JSON envelope sent to clients.
type Event struct {
	Type EventType `json:"event"`
	Data any       `json:"data"`
	// Timestamp is epoch seconds.
	Timestamp float64 `json:"timestamp"`
}

type InfoData struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type SpeechStartData struct {
	Duration float64 `json:"duration"`
}

type FalseDetectionData struct {
	Reason string `json:"reason"`
}

type SpeechEndData struct {
	Duration    float64 `json:"duration"`
	UtteranceID string  `json:"utterance_id,omitempty"`
}

type TranscriptionData struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	// Duration is the engine processing time in seconds.
	Duration    float64   `json:"duration"`
	Segments    []Segment `json:"segments,omitempty"`
	UtteranceID string    `json:"utterance_id,omitempty"`
}

type ErrorData struct {
	Message     string `json:"message"`
	UtteranceID string `json:"utterance_id,omitempty"`
}

var now = time.Now

func newEvent(t EventType, data any) Event {
	return Event{Type: t, Data: data, Timestamp: float64(now().UnixNano()) / 1e9}
}

func infoEvent(msg, sessionID string) Event {
	return newEvent(EventInfo, InfoData{Message: msg, SessionID: sessionID})
}

func speechStartEvent(duration float64) Event {
	return newEvent(EventProperSpeechStart, SpeechStartData{Duration: duration})
}

func falseDetectionEvent() Event {
	return newEvent(EventSpeechFalseDetection, FalseDetectionData{Reason: ReasonUtteranceTooShort})
}

func speechEndEvent(duration float64, utteranceID string) Event {
	return newEvent(EventSpeechEnd, SpeechEndData{Duration: duration, UtteranceID: utteranceID})
}

func transcriptionEvent(res *Transcription, took time.Duration, utteranceID string) Event {
	return newEvent(EventTranscription, TranscriptionData{
		Text:        res.Text,
		Language:    res.Language,
		Duration:    took.Seconds(),
		Segments:    res.Segments,
		UtteranceID: utteranceID,
	})
}

func errorEvent(msg, utteranceID string) Event {
	return newEvent(EventError, ErrorData{Message: msg, UtteranceID: utteranceID})
}
