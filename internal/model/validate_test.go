package model

import (
	"errors"
	"testing"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func validBrief() CreativeBrief {
	return CreativeBrief{
		BasePrompt:        "a fox crossing a frozen lake",
		SecondsPerSegment: 8,
		SegmentCount:      3,
		Size:              Resolution{Width: 1280, Height: 720},
		Model:             "sora-2",
	}
}

func TestValidateAcceptsBrief(t *testing.T) {
	b := validBrief()
	if err := b.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(b *CreativeBrief){
		"blank prompt":   func(b *CreativeBrief) { b.BasePrompt = "   " },
		"zero seconds":   func(b *CreativeBrief) { b.SecondsPerSegment = 0 },
		"zero count":     func(b *CreativeBrief) { b.SegmentCount = 0 },
		"too many":       func(b *CreativeBrief) { b.SegmentCount = MaxSegments + 1 },
		"zero width":     func(b *CreativeBrief) { b.Size.Width = 0 },
		"no model":       func(b *CreativeBrief) { b.Model = "" },
		"empty image":    func(b *CreativeBrief) { b.InitialReference = &ReferenceImage{} },
		"not an image":   func(b *CreativeBrief) { b.InitialReference = &ReferenceImage{Data: []byte("hello world")} },
		"pdf as picture": func(b *CreativeBrief) { b.InitialReference = &ReferenceImage{Data: []byte("%PDF-1.4\n"), ContentType: "image/png"} },
	}
	for name, mutate := range cases {
		b := validBrief()
		mutate(&b)
		err := b.Validate()
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("%s: want ValidationError, got %v", name, err)
		}
	}
}

func TestValidateFillsReferenceType(t *testing.T) {
	b := validBrief()
	b.InitialReference = &ReferenceImage{Data: pngHeader}
	if err := b.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if b.InitialReference.ContentType != "image/png" {
		t.Errorf("content type = %q", b.InitialReference.ContentType)
	}

	b.InitialReference.ContentType = "image/x-custom"
	if err := b.Validate(); err != nil || b.InitialReference.ContentType != "image/x-custom" {
		t.Errorf("declared type should be kept: %q %v", b.InitialReference.ContentType, err)
	}
}

func TestParseResolution(t *testing.T) {
	r, err := ParseResolution(" 1920X1080 ")
	if err != nil || r != (Resolution{Width: 1920, Height: 1080}) || r.String() != "1920x1080" {
		t.Errorf("ParseResolution = %+v, %v", r, err)
	}
	for _, bad := range []string{"", "1280", "x720", "1280x", "-1x5", "axb"} {
		if _, err := ParseResolution(bad); err == nil {
			t.Errorf("%q: want error", bad)
		}
	}
	if (Resolution{}).String() != "" {
		t.Error("zero resolution should render empty")
	}
}

func TestErrorHelpers(t *testing.T) {
	wrapped := &RunError{Stage: StageGenerating, Segment: 1, Err: &CancelledError{}}
	if !IsCancelled(wrapped) {
		t.Error("IsCancelled through RunError")
	}
	if IsValidation(wrapped) {
		t.Error("cancelled run is not a validation error")
	}
	if !IsValidation(&ValidationError{Field: "x"}) {
		t.Error("IsValidation")
	}
	if JobStatus("weird").Rank() != -1 || !JobFailed.Terminal() || JobInProgress.Terminal() {
		t.Error("status helpers")
	}
}
