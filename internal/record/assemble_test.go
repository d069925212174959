package record

import (
	"testing"
)

func TestAssemble_DefaultPrimitives(t *testing.T) {
	raw := RawCapture{URL: "https://example.com/pricing", Tag: "BUTTON"}

	rec := Assemble(raw, "sess-1", nil)

	want := StylePrimitives{BackgroundColor: "transparent", TextColor: "inherit"}
	if rec.Styles != want {
		t.Fatalf("Assemble() styles = %+v; want %+v", rec.Styles, want)
	}
	if rec.Styles.PaddingTop != 0 || rec.Styles.PaddingRight != 0 || rec.Styles.PaddingBottom != 0 || rec.Styles.PaddingLeft != 0 {
		t.Fatalf("Assemble() padding not zero: %+v", rec.Styles)
	}
	if rec.Styles.Shadow != "" {
		t.Fatalf("Assemble() shadow = %q; want empty", rec.Styles.Shadow)
	}
}

func TestAssemble_PrefersSuppliedPrimitives(t *testing.T) {
	raw := RawCapture{
		Tag: "a",
		Styles: &RawStyles{Primitives: &StylePrimitives{
			PaddingTop:      4,
			PaddingLeft:     8,
			BackgroundColor: "#fff",
			TextColor:       "#111",
			Shadow:          "0 1px 2px rgba(0,0,0,.2)",
		}},
	}

	rec := Assemble(raw, "sess-1", nil)

	if rec.Styles.PaddingTop != 4 || rec.Styles.PaddingLeft != 8 {
		t.Fatalf("Assemble() padding = %+v; want supplied values", rec.Styles)
	}
	if rec.Styles.BackgroundColor != "#fff" || rec.Styles.TextColor != "#111" {
		t.Fatalf("Assemble() colors = %+v; want supplied values", rec.Styles)
	}
}

func TestAssemble_StructurallyComplete(t *testing.T) {
	rec := Assemble(RawCapture{}, "sess-9", nil)

	if rec.ID == "" {
		t.Fatal("Assemble() produced empty id")
	}
	if rec.SessionID != "sess-9" {
		t.Fatalf("Assemble() session = %q; want %q", rec.SessionID, "sess-9")
	}
	if rec.SchemaVersion != SchemaVersion {
		t.Fatalf("Assemble() schema_version = %d; want %d", rec.SchemaVersion, SchemaVersion)
	}
	if rec.Element.Tag != "div" {
		t.Fatalf("Assemble() element tag = %q; want fallback %q", rec.Element.Tag, "div")
	}
	if rec.Conditions.PixelRatio != 1 || rec.Conditions.Zoom != 1 {
		t.Fatalf("Assemble() conditions = %+v; want pixel_ratio=1 zoom=1", rec.Conditions)
	}
	if rec.Conditions.CapturedAt == 0 {
		t.Fatal("Assemble() captured_at not filled")
	}
	if rec.Screenshot != nil {
		t.Fatalf("Assemble() screenshot = %+v; want nil", rec.Screenshot)
	}
}

func TestAssemble_AccessibleNameFromAriaLabel(t *testing.T) {
	raw := RawCapture{
		Tag:        "button",
		Attributes: map[string]string{"aria-label": "Close dialog", "role": "button"},
	}

	rec := Assemble(raw, "sess-1", nil)

	if rec.Element.AccessibleName != "Close dialog" {
		t.Fatalf("Assemble() accessible_name = %q; want %q", rec.Element.AccessibleName, "Close dialog")
	}
	if rec.Element.Role != "button" {
		t.Fatalf("Assemble() role = %q; want %q", rec.Element.Role, "button")
	}
}

func TestAssemble_RichConditionsWin(t *testing.T) {
	raw := RawCapture{
		Tag:           "nav",
		ViewportWidth: 100,
		Conditions: &Conditions{
			ViewportWidth:  1440,
			ViewportHeight: 900,
			PixelRatio:     2,
			Zoom:           1,
			CapturedAt:     1700000000000,
			Theme:          "dark",
		},
	}

	rec := Assemble(raw, "sess-1", nil)

	if rec.Conditions.ViewportWidth != 1440 || rec.Conditions.Theme != "dark" {
		t.Fatalf("Assemble() conditions = %+v; want rich block", rec.Conditions)
	}
}
