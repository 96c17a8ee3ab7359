package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/harshtiwari/haral/internal/log"
)

type fakeImageProvider struct {
	data []byte
	mime string
	err  error
}

func (f *fakeImageProvider) Generate(context.Context, string) ([]byte, string, error) {
	return f.data, f.mime, f.err
}

func TestImageGeneratorMarkdown(t *testing.T) {
	t.Parallel()
	raw := []byte{0x89, 0x50, 0x4e, 0x47}
	g := NewImageGenerator(&fakeImageProvider{data: raw, mime: "image/png"}, log.NewNop())

	got := g.Generate(context.Background(), "a red fox")

	want := "![Generated Image](data:image/png;base64," + base64.StdEncoding.EncodeToString(raw) + ")"
	if got != want {
		t.Errorf("Generate = %q, want %q", got, want)
	}
}

func TestImageGeneratorDefaultsMIMEType(t *testing.T) {
	t.Parallel()
	g := NewImageGenerator(&fakeImageProvider{data: []byte{1, 2, 3}}, log.NewNop())

	got := g.Generate(context.Background(), "anything")
	if !strings.HasPrefix(got, "![Generated Image](data:image/png;base64,") {
		t.Errorf("Generate = %q", got)
	}
}

func TestImageGeneratorInlineErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		provider *fakeImageProvider
		contains string
	}{
		{"provider failure", &fakeImageProvider{err: errors.New("quota hit")}, "Error: Image generation failed. quota hit"},
		{"empty payload", &fakeImageProvider{}, "No image data received from API."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewImageGenerator(tt.provider, log.NewNop())
			got := g.Generate(context.Background(), "x")
			if !strings.Contains(got, tt.contains) {
				t.Errorf("Generate = %q, want containing %q", got, tt.contains)
			}
			if strings.Contains(got, "![Generated Image](") {
				t.Errorf("failure produced image markdown: %q", got)
			}
		})
	}
}
