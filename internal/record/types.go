package record

import "time"

// SchemaVersion is the canonical capture schema version produced by Assemble.
const SchemaVersion = 2

// Box is an element bounding box in CSS pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Conditions describes the viewport and environment at capture time.
type Conditions struct {
	ViewportWidth  int     `json:"viewport_width"`
	ViewportHeight int     `json:"viewport_height"`
	PixelRatio     float64 `json:"pixel_ratio"`
	Zoom           float64 `json:"zoom"`
	CapturedAt     int64   `json:"captured_at"`
	Theme          string  `json:"theme,omitempty"`
}

// Element describes the selected DOM element.
type Element struct {
	Tag            string            `json:"tag"`
	Role           string            `json:"role,omitempty"`
	DOMID          string            `json:"dom_id,omitempty"`
	Classes        []string          `json:"classes,omitempty"`
	TextPreview    string            `json:"text_preview,omitempty"`
	AccessibleName string            `json:"accessible_name,omitempty"`
	Intent         map[string]string `json:"intent,omitempty"`
}

// StylePrimitives is the minimal style summary every capture carries.
type StylePrimitives struct {
	PaddingTop      float64 `json:"padding_top"`
	PaddingRight    float64 `json:"padding_right"`
	PaddingBottom   float64 `json:"padding_bottom"`
	PaddingLeft     float64 `json:"padding_left"`
	BackgroundColor string  `json:"background_color"`
	TextColor       string  `json:"text_color"`
	Shadow          string  `json:"shadow,omitempty"`
}

// ScreenshotRef points at a stored blob; bytes are never inlined in a record.
type ScreenshotRef struct {
	BlobID   string `json:"blob_id"`
	MimeType string `json:"mime_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// CaptureRecord is the canonical, versioned element capture.
type CaptureRecord struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	SchemaVersion int             `json:"schema_version"`
	URL           string          `json:"url"`
	CreatedAt     time.Time       `json:"created_at"`
	Conditions    Conditions      `json:"conditions"`
	Element       Element         `json:"element"`
	BoundingBox   Box             `json:"bounding_box"`
	Styles        StylePrimitives `json:"styles"`
	Screenshot    *ScreenshotRef  `json:"screenshot,omitempty"`
}

// RawCapture is the loosely-typed element payload sent by the page-embedded
// agent. Older agents send the flat fields only; newer ones include the
// richer conditions/intent/styles blocks.
type RawCapture struct {
	URL string `json:"url,omitempty"`

	// Rich blocks, present on newer agents.
	Conditions *Conditions       `json:"conditions,omitempty"`
	Intent     map[string]string `json:"intent,omitempty"`
	Styles     *RawStyles        `json:"styles,omitempty"`

	// Element descriptor. Attributes carries raw DOM attributes such as
	// aria-label when the agent did not compute an accessible name.
	Tag            string            `json:"tag,omitempty"`
	Role           string            `json:"role,omitempty"`
	DOMID          string            `json:"dom_id,omitempty"`
	Classes        []string          `json:"classes,omitempty"`
	TextPreview    string            `json:"text_preview,omitempty"`
	AccessibleName string            `json:"accessible_name,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`

	BoundingBox Box `json:"bounding_box"`

	// Legacy flat environment fields, used when Conditions is absent.
	ViewportWidth  int     `json:"viewport_width,omitempty"`
	ViewportHeight int     `json:"viewport_height,omitempty"`
	PixelRatio     float64 `json:"pixel_ratio,omitempty"`
	Zoom           float64 `json:"zoom,omitempty"`
	CapturedAt     int64   `json:"captured_at,omitempty"`
	Theme          string  `json:"theme,omitempty"`
}

// RawStyles is the optional style block on a raw payload.
type RawStyles struct {
	Primitives *StylePrimitives `json:"primitives,omitempty"`
}
