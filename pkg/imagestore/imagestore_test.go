package imagestore

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/fleetup/fleetup/pkg/util"
)

func TestStaticSource(t *testing.T) {
	tests := []struct {
		prefix  string
		want    string
		wantErr bool
	}{
		{"ftp://10.0.0.5/", "ftp://10.0.0.5/c2960x.bin", false},
		{"ftp://10.0.0.5", "ftp://10.0.0.5/c2960x.bin", false},
		{"tftp://10.0.0.5/images/", "tftp://10.0.0.5/images/c2960x.bin", false},
		{"usbflash0:", "usbflash0:c2960x.bin", false},
		{"10.0.0.5", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			src, err := NewStaticSource(tt.prefix)
			if tt.wantErr {
				if !errors.Is(err, util.ErrInvalidConfig) {
					t.Errorf("NewStaticSource(%q) error = %v, want ErrInvalidConfig", tt.prefix, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewStaticSource(%q) error: %v", tt.prefix, err)
			}
			got, err := src.URL(context.Background(), "c2960x.bin")
			if err != nil || got != tt.want {
				t.Errorf("URL() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestS3SourcePresign(t *testing.T) {
	src, err := NewS3Source(S3Options{
		Endpoint:        "minio.lab:9000",
		AccessKeyID:     "fleetup",
		SecretAccessKey: "fleetup-secret",
		Bucket:          "firmware",
		Region:          "us-east-1",
		Prefix:          "cisco",
		Expiry:          30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewS3Source() error: %v", err)
	}

	raw, err := src.URL(context.Background(), "c2960x.bin")
	if err != nil {
		t.Fatalf("URL() error: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("presigned URL does not parse: %v", err)
	}
	if u.Scheme != "http" || u.Host != "minio.lab:9000" {
		t.Errorf("URL host = %s://%s", u.Scheme, u.Host)
	}
	if !strings.HasSuffix(u.Path, "/firmware/cisco/c2960x.bin") {
		t.Errorf("URL path = %q", u.Path)
	}
	q := u.Query()
	if q.Get("X-Amz-Signature") == "" || q.Get("X-Amz-Expires") != "1800" {
		t.Errorf("URL query = %v", q)
	}
}

func TestS3SourceRequiresBucket(t *testing.T) {
	if _, err := NewS3Source(S3Options{Endpoint: "minio.lab:9000"}); !errors.Is(err, util.ErrInvalidConfig) {
		t.Errorf("NewS3Source() error = %v, want ErrInvalidConfig", err)
	}
	if (S3Options{}).Enabled() {
		t.Error("empty options should not be enabled")
	}
}
