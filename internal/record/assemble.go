package record

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultPrimitives returns the fixed placeholder style summary used when the
// agent supplied no style data: zero padding, transparent background,
// inherited text color, no shadow.
func DefaultPrimitives() StylePrimitives {
	return StylePrimitives{
		BackgroundColor: "transparent",
		TextColor:       "inherit",
	}
}

// Assemble normalises a raw agent payload into a canonical CaptureRecord.
// It is a pure transform: richer fields win when the agent supplied them,
// older flat fields are promoted otherwise, and anything still missing is
// filled with a structurally complete default.
func Assemble(raw RawCapture, sessionID string, screenshot *ScreenshotRef) CaptureRecord {
	rec := CaptureRecord{
		ID:            uuid.New().String(),
		SessionID:     sessionID,
		SchemaVersion: SchemaVersion,
		URL:           raw.URL,
		CreatedAt:     time.Now().UTC(),
		Element:       assembleElement(raw),
		BoundingBox:   raw.BoundingBox,
		Styles:        assembleStyles(raw),
		Screenshot:    screenshot,
	}

	if raw.Conditions != nil {
		rec.Conditions = *raw.Conditions
	} else {
		rec.Conditions = Conditions{
			ViewportWidth:  raw.ViewportWidth,
			ViewportHeight: raw.ViewportHeight,
			PixelRatio:     raw.PixelRatio,
			Zoom:           raw.Zoom,
			CapturedAt:     raw.CapturedAt,
			Theme:          raw.Theme,
		}
	}
	if rec.Conditions.PixelRatio == 0 {
		rec.Conditions.PixelRatio = 1
	}
	if rec.Conditions.Zoom == 0 {
		rec.Conditions.Zoom = 1
	}
	if rec.Conditions.CapturedAt == 0 {
		rec.Conditions.CapturedAt = rec.CreatedAt.UnixMilli()
	}

	return rec
}

func assembleElement(raw RawCapture) Element {
	el := Element{
		Tag:            strings.ToLower(strings.TrimSpace(raw.Tag)),
		Role:           raw.Role,
		DOMID:          raw.DOMID,
		Classes:        raw.Classes,
		TextPreview:    raw.TextPreview,
		AccessibleName: raw.AccessibleName,
		Intent:         raw.Intent,
	}
	if el.Tag == "" {
		el.Tag = "div"
	}
	if el.AccessibleName == "" {
		el.AccessibleName = raw.Attributes["aria-label"]
	}
	if el.Role == "" {
		el.Role = raw.Attributes["role"]
	}
	return el
}

func assembleStyles(raw RawCapture) StylePrimitives {
	if raw.Styles != nil && raw.Styles.Primitives != nil {
		p := *raw.Styles.Primitives
		if p.BackgroundColor == "" {
			p.BackgroundColor = "transparent"
		}
		if p.TextColor == "" {
			p.TextColor = "inherit"
		}
		return p
	}
	return DefaultPrimitives()
}
