// Package event defines the wire and persistence model for log events.
// An Event is the basic unit flowing through the ingestion pipeline:
// handler -> sanitizer -> queue -> persister -> store.
package event

// Level is the severity of a log event.
type Level string

const (
	LevelTrace    Level = "trace"
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelFatal    Level = "fatal"
	LevelCritical Level = "critical"
)

// Valid reports whether the level is one of the known severities.
func (l Level) Valid() bool {
	switch l {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal, LevelCritical:
		return true
	}
	return false
}

// Context is a free-form JSON object attached to an event.
type Context map[string]interface{}

// User identifies the end user an event was reported for.
type User struct {
	ID       *string `json:"id,omitempty"`
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
}

// Brand is one entry of the User-Agent client hints brand list.
type Brand struct {
	Brand   string `json:"brand"`
	Version string `json:"version"`
}

// ClientHints mirrors the navigator.userAgentData structure.
type ClientHints struct {
	Brands   []Brand `json:"brands"`
	Mobile   bool    `json:"mobile"`
	Platform string  `json:"platform"`
}

// Device describes the reporting client: OS, hardware, screen and
// network characteristics. All fields are optional on the wire.
type Device struct {
	OSName               *string      `json:"osName,omitempty"`
	OSVersion            *string      `json:"osVersion,omitempty"`
	Brand                *string      `json:"brand,omitempty"`
	Model                *string      `json:"model,omitempty"`
	Family               *string      `json:"family,omitempty"`
	ScreenWidth          *uint32      `json:"screenWidth,omitempty"`
	ScreenHeight         *uint32      `json:"screenHeight,omitempty"`
	DevicePixelRatio     *float32     `json:"devicePixelRatio,omitempty"`
	UserAgent            *string      `json:"userAgent,omitempty"`
	UserAgentClientHints *ClientHints `json:"userAgentClientHints,omitempty"`
	ConnectionType       *string      `json:"connectionType,omitempty"`
	EffectiveConnType    *string      `json:"effectiveConnectionType,omitempty"`
	RTT                  *uint32      `json:"rtt,omitempty"`
	Downlink             *float32     `json:"downlink,omitempty"`
	SaveData             *bool        `json:"saveData,omitempty"`
	HardwareConcurrency  *uint32      `json:"hardwareConcurrency,omitempty"`
	DeviceMemory         *float32     `json:"deviceMemory,omitempty"`
	JSHeapSizeLimit      *uint64      `json:"jsHeapSizeLimit,omitempty"`
	TotalJSHeapSize      *uint64      `json:"totalJsHeapSize,omitempty"`
	UsedJSHeapSize       *uint64      `json:"usedJsHeapSize,omitempty"`
}

// Breadcrumb is one step in the ordered trail of client-side actions
// recorded before an event (click, navigation, xhr, console, custom,
// error).
type Breadcrumb struct {
	Timestamp string      `json:"timestamp"`
	Type      string      `json:"type"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
}

// Event is a single log/error record.
//
// ID is a client-supplied natural key used for deduplication at storage;
// the sanitizer assigns one when absent so that every persisted row has
// a stable identity. Level, Message, Timestamp and Service are required
// on input; everything else is optional structured payload.
type Event struct {
	ID        string `json:"id,omitempty"`
	Level     Level  `json:"level"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`

	Context       Context `json:"context,omitempty"`
	GlobalContext Context `json:"globalContext"`
	UserContext   Context `json:"userContext,omitempty"`

	User        *User        `json:"user,omitempty"`
	Device      *Device      `json:"device,omitempty"`
	Breadcrumbs []Breadcrumb `json:"breadcrumbs,omitempty"`

	ErrorName *string     `json:"errorName,omitempty"`
	Stack     *string     `json:"stack,omitempty"`
	Reason    interface{} `json:"reason,omitempty"`

	RequestMethod *string `json:"requestMethod,omitempty"`
	RequestURL    *string `json:"requestUrl,omitempty"`
	StatusCode    *uint16 `json:"statusCode,omitempty"`
	StatusText    *string `json:"statusText,omitempty"`
	DurationMs    *uint64 `json:"durationMs,omitempty"`
	ResponseSize  *uint64 `json:"responseSize,omitempty"`
	ErrorMessage  *string `json:"errorMessage,omitempty"`
}

// Batch is a non-empty ordered sequence of events accepted together.
// It is both the unit of hand-off to the persister and the unit of the
// storage transaction. Once enqueued the producer retains no reference.
type Batch struct {
	Events []*Event
}

// Len returns the number of events in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Events)
}

// APIResponse is the wire form of an ingest acknowledgment.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Response status tags.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusError   = "error"
)
