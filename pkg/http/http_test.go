package http_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	httpmod "github.com/NamanBalaji/segdl/pkg/http"
)

func TestGetFilename(t *testing.T) {
	tests := []struct {
		name string
		resp *http.Response
		want string
	}{
		{
			name: "Content-Disposition filename",
			resp: &http.Response{
				Header: http.Header{
					"Content-Disposition": []string{`attachment; filename="example.txt"`},
				},
				Request: &http.Request{URL: mustParseURL("http://example.com/ignored")},
			},
			want: "example.txt",
		},
		{
			name: "URL path fallback",
			resp: &http.Response{
				Header:  http.Header{},
				Request: &http.Request{URL: mustParseURL("http://example.com/path/to/file.bin")},
			},
			want: "file.bin",
		},
		{
			name: "URL query filename param",
			resp: &http.Response{
				Header:  http.Header{},
				Request: &http.Request{URL: mustParseURL("http://example.com/download?filename=data.zip")},
			},
			want: "data.zip",
		},
		{
			name: "Default when no path or param",
			resp: &http.Response{
				Header:  http.Header{},
				Request: &http.Request{URL: mustParseURL("http://example.com/")},
			},
			want: "download",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := httpmod.GetFilename(tt.resp)
			if got != tt.want {
				t.Errorf("GetFilename() = %q; want %q", got, tt.want)
			}
		})
	}
}

func mustParseURL(raw string) *url.URL {
	u, _ := url.Parse(raw)
	return u
}

func newClient(t *testing.T, opts ...httpmod.Option) *httpmod.Client {
	t.Helper()

	c, err := httpmod.NewClient(opts...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	return c
}

func TestParseLastModified(t *testing.T) {
	valid := "Mon, 02 Jan 2006 15:04:05 MST"
	parsed := httpmod.ParseLastModified(valid)
	if parsed.IsZero() {
		t.Errorf("ParseLastModified(%q) returned zero time; want non-zero", valid)
	}

	invalid := "Not a date"
	parsed2 := httpmod.ParseLastModified(invalid)
	if !parsed2.IsZero() {
		t.Errorf("ParseLastModified(%q) = %v; want zero time", invalid, parsed2)
	}
}

func TestParseContentRangeTotal(t *testing.T) {
	tests := []struct {
		header  string
		want    int64
		wantErr bool
	}{
		{"bytes 0-0/2000", 2000, false},
		{"bytes 10-19/20", 20, false},
		{"bytes 0-0/*", 0, true},
		{"items 0-0/10", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := httpmod.ParseContentRangeTotal(tt.header)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseContentRangeTotal(%q) error = %v; wantErr %v", tt.header, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseContentRangeTotal(%q) = %d; want %d", tt.header, got, tt.want)
		}
	}
}

func TestParseProtocolVersion(t *testing.T) {
	tests := []struct {
		in           string
		major, minor int
		wantErr      bool
	}{
		{"1.1", 1, 1, false},
		{"HTTP/1.1", 1, 1, false},
		{"http/1.0", 1, 0, false},
		{"2", 2, 0, false},
		{"2.0", 2, 0, false},
		{"3.0", 0, 0, true},
		{"abc", 0, 0, true},
		{"", 0, 0, true},
	}

	for _, tt := range tests {
		major, minor, err := httpmod.ParseProtocolVersion(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseProtocolVersion(%q) error = %v; wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if major != tt.major || minor != tt.minor {
			t.Errorf("ParseProtocolVersion(%q) = %d.%d; want %d.%d", tt.in, major, minor, tt.major, tt.minor)
		}
	}
}

func TestNewClient_TLSOptions(t *testing.T) {
	t.Run("missing CA file", func(t *testing.T) {
		_, err := httpmod.NewClient(httpmod.WithTLS(&httpmod.TLSOptions{CAFile: "/does/not/exist.pem"}))
		if !errors.Is(err, httpmod.ErrTLSConfig) {
			t.Errorf("NewClient() error = %v; want ErrTLSConfig", err)
		}
	})

	t.Run("CA dir without certificates", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "README"), []byte("nothing"), 0o644); err != nil {
			t.Fatal(err)
		}

		_, err := httpmod.NewClient(httpmod.WithTLS(&httpmod.TLSOptions{CADir: dir}))
		if !errors.Is(err, httpmod.ErrTLSConfig) {
			t.Errorf("NewClient() error = %v; want ErrTLSConfig", err)
		}
	})

	t.Run("bad protocol version", func(t *testing.T) {
		if _, err := httpmod.NewClient(httpmod.WithProtocolVersion("9")); err == nil {
			t.Errorf("NewClient() accepted protocol version 9")
		}
	})
}

func TestClient_SkipVerify(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	strict := newClient(t)
	if _, err := strict.Head(context.Background(), ts.URL, nil); err == nil {
		t.Errorf("Head() against self-signed server succeeded without SkipVerify")
	}

	lax := newClient(t, httpmod.WithTLS(&httpmod.TLSOptions{SkipVerify: true}), httpmod.WithProtocolVersion("1.1"))
	resp, err := lax.Head(context.Background(), ts.URL, nil)
	if err != nil {
		t.Fatalf("Head() with SkipVerify error = %v", err)
	}
	if resp.ProtoMajor != 1 {
		t.Errorf("ProtoMajor = %d; want 1", resp.ProtoMajor)
	}
}

func TestClient_Options(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions {
			http.Error(w, "bad method", http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Authorization") == "" {
			w.Header().Set("WWW-Authenticate", `Basic realm="files"`)
			http.Error(w, "auth", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := newClient(t)

	t.Run("unauthorized", func(t *testing.T) {
		_, err := client.Options(context.Background(), ts.URL, nil)

		var se *httpmod.StatusError
		if !errors.As(err, &se) {
			t.Fatalf("Options() error = %v; want StatusError", err)
		}
		if se.Header.Get("WWW-Authenticate") == "" {
			t.Errorf("StatusError lost the WWW-Authenticate header")
		}
		if !errors.Is(err, httpmod.ErrAuthentication) {
			t.Errorf("Options() error = %v; want ErrAuthentication", err)
		}
	})

	t.Run("authorized", func(t *testing.T) {
		headers := map[string]string{"Authorization": httpmod.BasicAuthorization("u", "p")}
		resp, err := client.Options(context.Background(), ts.URL, headers)
		if err != nil {
			t.Fatalf("Options() error = %v", err)
		}
		if resp.Header.Get("Accept-Ranges") != "bytes" {
			t.Errorf("Accept-Ranges = %q; want bytes", resp.Header.Get("Accept-Ranges"))
		}
	})
}

func TestClient_Head(t *testing.T) {
	okHandler := func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			http.Error(w, "bad method", http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("User-Agent") != "segdl-test" {
			http.Error(w, "bad agent", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
	notFoundHandler := func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}

	tsOK := httptest.NewServer(http.HandlerFunc(okHandler))
	defer tsOK.Close()
	ts404 := httptest.NewServer(http.HandlerFunc(notFoundHandler))
	defer ts404.Close()

	client := newClient(t, httpmod.WithUserAgent("segdl-test"))

	t.Run("Head success", func(t *testing.T) {
		if _, err := client.Head(context.Background(), tsOK.URL, map[string]string{"X-Test": "value"}); err != nil {
			t.Fatalf("Head() error = %v; want nil", err)
		}
	})

	t.Run("Head 404", func(t *testing.T) {
		_, err := client.Head(context.Background(), ts404.URL, nil)
		if !errors.Is(err, httpmod.ErrResourceNotFound) {
			t.Errorf("Head() error = %v; want ErrResourceNotFound", err)
		}
	})
}

func TestClient_HeadConnectTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	client := newClient(t, httpmod.WithConnectTimeout(100*time.Millisecond))

	start := time.Now()
	_, err := client.Head(context.Background(), ts.URL, nil)
	if !errors.Is(err, httpmod.ErrTimeout) {
		t.Fatalf("Head() error = %v; want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Head() took %s; want it bounded by the connect timeout", elapsed)
	}
}

func TestClient_Range(t *testing.T) {
	rangeTS := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "bytes=0-0" {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Range", "bytes 0-0/10")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("0"))
	}))
	defer rangeTS.Close()

	plainTS := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer plainTS.Close()

	client := newClient(t)

	t.Run("Range supported", func(t *testing.T) {
		resp, err := client.Range(context.Background(), rangeTS.URL, 0, 0, nil)
		if err != nil {
			t.Fatalf("Range() error = %v; want nil", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if string(body) != "0" {
			t.Errorf("Range() body = %q; want %q", body, "0")
		}
	})

	t.Run("Range not supported", func(t *testing.T) {
		_, err := client.Range(context.Background(), plainTS.URL, 0, 0, nil)
		if !errors.Is(err, httpmod.ErrRangesNotSupported) {
			t.Errorf("Range() error = %v; want ErrRangesNotSupported", err)
		}
	})
}

func TestClient_Stream(t *testing.T) {
	const content = "abcdefghijklmnopqrstuvwxyz"

	rangeTS := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "alphabet.txt", time.Time{}, strings.NewReader(content))
	}))
	defer rangeTS.Close()

	plainTS := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(content))
	}))
	defer plainTS.Close()

	client := newClient(t)

	tests := []struct {
		name       string
		url        string
		start, end int64
		want       string
	}{
		{"bounded range", rangeTS.URL, 2, 5, "cde"},
		{"open range", rangeTS.URL, 20, 0, "uvwxyz"},
		{"whole file", rangeTS.URL, 0, 0, content},
		{"range ignored by server", plainTS.URL, 23, 0, "xyz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.Stream(context.Background(), tt.url, tt.start, tt.end, nil)
			if err != nil {
				t.Fatalf("Stream() error = %v", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if string(body) != tt.want {
				t.Errorf("Stream() body = %q; want %q", body, tt.want)
			}
		})
	}
}

func TestClient_StreamReadTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()

		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	client := newClient(t, httpmod.WithReadTimeout(100*time.Millisecond))

	resp, err := client.Get(context.Background(), ts.URL, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	_, err = io.ReadAll(resp.Body)
	if !errors.Is(err, httpmod.ErrReadStalled) {
		t.Errorf("ReadAll() error = %v; want ErrReadStalled", err)
	}
}

func TestClient_Get(t *testing.T) {
	ts404 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer ts404.Close()

	client := newClient(t)

	_, err := client.Get(context.Background(), ts404.URL, nil)
	if !errors.Is(err, httpmod.ErrResourceNotFound) {
		t.Errorf("Get() error = %v; want ErrResourceNotFound", err)
	}
}
