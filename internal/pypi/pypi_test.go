package pypi

import (
	"context"
	"strings"
	"testing"
)

func TestSplitWheelTags(t *testing.T) {
	py, abi, plat := splitWheelTags("requests-2.31.0-py3-none-any.whl")
	if py != "py3" || abi != "none" || plat != "any" {
		t.Fatalf("got (%q,%q,%q)", py, abi, plat)
	}
}

func TestSplitWheelTagsRejectsSdist(t *testing.T) {
	py, abi, plat := splitWheelTags("requests-2.31.0.tar.gz")
	if py != "" || abi != "" || plat != "" {
		t.Fatalf("expected empty tags for non-wheel filename, got (%q,%q,%q)", py, abi, plat)
	}
}

func TestFakeClientListFilesMiss(t *testing.T) {
	c := NewFakeClient()
	if _, err := c.ListFiles(context.Background(), "nope", "1.0.0"); err == nil {
		t.Fatalf("expected error for unregistered package")
	}
}

func TestFakeClientRoundTrip(t *testing.T) {
	c := NewFakeClient()
	c.AddFile("widget", "1.0.0", File{Filename: "widget-1.0.0-py3-none-any.whl", URL: "https://files/widget.whl", SHA256: "abc"}, []byte("wheel-bytes"))

	files, err := c.ListFiles(context.Background(), "widget", "1.0.0")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 1 || files[0].Filename != "widget-1.0.0-py3-none-any.whl" {
		t.Fatalf("unexpected files: %+v", files)
	}
	blob, err := c.Download(context.Background(), files[0].URL)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(blob) != "wheel-bytes" {
		t.Fatalf("unexpected blob: %q", blob)
	}
}

func TestHTTPClientOfflineForbidsCalls(t *testing.T) {
	c := NewHTTPClient("", false)
	_, err := c.ListFiles(context.Background(), "widget", "1.0.0")
	if err == nil || !strings.Contains(err.Error(), "offline") {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
}
