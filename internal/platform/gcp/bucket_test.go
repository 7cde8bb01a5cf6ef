package gcp

import (
	"context"
	"errors"
	"testing"
)

func TestObjectKeyStaysInBucket(t *testing.T) {
	s := &objectStore{bucket: "chat-files"}
	key, err := s.objectKey("gs://chat-files/u1/report.pdf")
	if err != nil || key != "u1/report.pdf" {
		t.Fatalf("own bucket: key=%q err=%v", key, err)
	}
	if _, err := s.objectKey("gs://someone-else/secrets.json"); !errors.Is(err, ErrForeignBucket) {
		t.Fatalf("foreign bucket: want=ErrForeignBucket got=%v", err)
	}
}

func TestDownloadRejectsForeignBucket(t *testing.T) {
	// No client: the bucket check has to fail before any read is attempted.
	s := &objectStore{bucket: "chat-files"}
	if _, _, err := s.Download(context.Background(), "gs://other-bucket/k", 10); !errors.Is(err, ErrForeignBucket) {
		t.Fatalf("Download: want=ErrForeignBucket got=%v", err)
	}
}
