package sandbox

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Hollayemi/shp-sub005/internal/provider"
)

func TestDecodeContent(t *testing.T) {
	binary := []byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0xff}

	tests := []struct {
		name    string
		content string
		want    []byte
	}{
		{
			name:    "plain text passes through",
			content: "console.log('hi')\n",
			want:    []byte("console.log('hi')\n"),
		},
		{
			name:    "marker token decodes",
			content: EncodeBinary(binary),
			want:    binary,
		},
		{
			name:    "data URL decodes",
			content: "data:image/png;base64,iVBORw==",
			want:    []byte{0x89, 0x50, 0x4e, 0x47},
		},
		{
			name:    "corrupt marker payload writes verbatim",
			content: BinaryMarker + "not-base64!!!",
			want:    []byte(BinaryMarker + "not-base64!!!"),
		},
		{
			name:    "data URL mention mid-text is not decoded",
			content: "the url data:image/png;base64,AAAA appears in prose",
			want:    []byte("the url data:image/png;base64,AAAA appears in prose"),
		},
		{
			name:    "empty binary payload round-trips to empty bytes",
			content: EncodeBinary(nil),
			want:    []byte{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeContent(tt.content)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("DecodeContent(%q) = %v, want %v", tt.content, got, tt.want)
			}
		})
	}
}

func TestEncodeForStorageRoundTrip(t *testing.T) {
	text := []byte("hello world")
	if got := EncodeForStorage(text); got != "hello world" {
		t.Errorf("text payload got encoded: %q", got)
	}

	binary := []byte{0xff, 0xfe, 0x00, 0x01}
	stored := EncodeForStorage(binary)
	if !IsBinaryContent(stored) {
		t.Fatalf("binary payload not tagged: %q", stored)
	}
	if got := DecodeContent(stored); !bytes.Equal(got, binary) {
		t.Errorf("round trip = %v, want %v", got, binary)
	}
}

func TestRestoreWritesAllFiles(t *testing.T) {
	client := provider.NewMemoryClient()
	handle, err := client.Create(t.Context(), provider.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	files := map[string]string{
		"package.json":      `{"name":"app"}`,
		"src/main.jsx":      "render()",
		"public/logo.png":   EncodeBinary([]byte{0x89, 0x50}),
		"src/lib/helper.js": "export {}",
	}

	r := NewFileRestorer(client)
	if err := r.Restore(t.Context(), handle.ID, files); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got := client.SandboxFiles(handle.ID)
	if len(got) != len(files) {
		t.Fatalf("wrote %d files, want %d: %v", len(got), len(files), got)
	}

	data, err := client.ReadFile(t.Context(), handle.ID, "public/logo.png")
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(data, []byte{0x89, 0x50}) {
		t.Errorf("binary payload = %v, want decoded bytes", data)
	}
}

func TestRestoreBatchManyFiles(t *testing.T) {
	client := provider.NewMemoryClient()
	handle, err := client.Create(t.Context(), provider.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	files := make(map[string]string, 35)
	for i := 0; i < 35; i++ {
		files[fmt.Sprintf("src/components/C%02d.jsx", i)] = fmt.Sprintf("export const C%02d = 1", i)
	}

	r := NewFileRestorer(client)
	if err := r.RestoreBatch(t.Context(), handle.ID, files); err != nil {
		t.Fatalf("RestoreBatch: %v", err)
	}
	if got := client.SandboxFiles(handle.ID); len(got) != 35 {
		t.Errorf("wrote %d files, want 35", len(got))
	}
}

func TestRestoreBatchSurfacesWriteFailure(t *testing.T) {
	client := provider.NewMemoryClient()
	client.FailWrites = func(p string) bool { return strings.HasSuffix(p, "broken.js") }
	handle, err := client.Create(t.Context(), provider.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	files := map[string]string{
		"src/ok.js":     "1",
		"src/broken.js": "2",
	}

	r := NewFileRestorer(client)
	err = r.RestoreBatch(t.Context(), handle.ID, files)
	var restErr *RestorationError
	if !errors.As(err, &restErr) {
		t.Fatalf("err = %v, want RestorationError", err)
	}
	if restErr.Path != "src/broken.js" {
		t.Errorf("failed path = %q, want src/broken.js", restErr.Path)
	}
}

func TestRestoreIsIdempotent(t *testing.T) {
	client := provider.NewMemoryClient()
	handle, err := client.Create(t.Context(), provider.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	files := map[string]string{"index.html": "<html></html>"}
	r := NewFileRestorer(client)
	for i := 0; i < 2; i++ {
		if err := r.Restore(t.Context(), handle.ID, files); err != nil {
			t.Fatalf("Restore pass %d: %v", i+1, err)
		}
	}
	if got := client.SandboxFiles(handle.ID); len(got) != 1 {
		t.Errorf("files after two passes = %v, want one entry", got)
	}
}
