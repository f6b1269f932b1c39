package resources

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kestrel-run/kestrel/internal/workqueue"
)

func newTestHttpServer(t *testing.T, onReq RequestHandler) (*HttpServer, *workqueue.Queue) {
	t.Helper()
	q := workqueue.New(1, nil)
	h, err := NewHttpServer(HttpServerConfig{Addr: "127.0.0.1:0"}, q, onReq)
	if err != nil {
		t.Fatalf("NewHttpServer: %v", err)
	}
	t.Cleanup(func() { _ = h.listener.Close() })
	return h, q
}

func TestIsWebsocketUpgradeRequiresBothHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if isWebsocketUpgrade(req) {
		t.Fatalf("plain request reported as a websocket upgrade")
	}

	req.Header.Set("Upgrade", "websocket")
	if isWebsocketUpgrade(req) {
		t.Fatalf("Upgrade header alone reported as a websocket upgrade")
	}

	req.Header.Set("Connection", "Keep-Alive, Upgrade")
	if !isWebsocketUpgrade(req) {
		t.Fatalf("Upgrade+Connection headers not recognized as a websocket upgrade")
	}
}

func TestHandleBridgesRequestThroughQueueToResponse(t *testing.T) {
	h, q := newTestHttpServer(t, func(req *BridgeRequest) BridgeResponse {
		if req.Method != http.MethodPost || req.Path != "/echo" {
			t.Errorf("unexpected request: %+v", req)
		}
		return BridgeResponse{Status: http.StatusCreated, ContentType: "text/plain", Body: req.Body}
	})
	defer q.Close()

	srv := httptest.NewServer(http.HandlerFunc(h.handle))
	defer srv.Close()

	// drain the queue's completion in the background, the way Runtime's
	// event loop would via ProcessDone, so handle's blocking select
	// unblocks.
	stop := make(chan struct{})
	go drainQueue(q, stop)
	defer close(stop)

	resp, err := http.Post(srv.URL+"/echo", "text/plain", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello" {
		t.Fatalf("body = %q, want hello", body)
	}
}

func TestHandleGzipCompressesWhenRequestedAndAccepted(t *testing.T) {
	h, q := newTestHttpServer(t, func(req *BridgeRequest) BridgeResponse {
		return BridgeResponse{Status: http.StatusOK, Body: []byte("compress me"), Compress: true}
	})
	defer q.Close()

	srv := httptest.NewServer(http.HandlerFunc(h.handle))
	defer srv.Close()

	stop := make(chan struct{})
	go drainQueue(q, stop)
	defer close(stop)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", resp.Header.Get("Content-Encoding"))
	}
	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	defer gz.Close()
	body, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("reading gzip body: %v", err)
	}
	if string(body) != "compress me" {
		t.Fatalf("decompressed body = %q, want %q", body, "compress me")
	}
}

func TestHandleWebsocketWithoutHandlerReturnsNotImplemented(t *testing.T) {
	h, q := newTestHttpServer(t, func(req *BridgeRequest) BridgeResponse {
		t.Fatalf("onReq should not be called for a websocket upgrade")
		return BridgeResponse{}
	})
	defer q.Close()

	srv := httptest.NewServer(http.HandlerFunc(h.handle))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/", nil)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotImplemented)
	}
}

func TestStartDeinitIsIdempotent(t *testing.T) {
	h, q := newTestHttpServer(t, func(req *BridgeRequest) BridgeResponse { return BridgeResponse{} })
	defer q.Close()

	done1 := make(chan struct{})
	h.StartDeinit(func() { close(done1) })
	select {
	case <-done1:
	case <-time.After(2 * time.Second):
		t.Fatalf("first StartDeinit never called onDone")
	}

	done2 := make(chan struct{})
	h.StartDeinit(func() { close(done2) })
	select {
	case <-done2:
	case <-time.After(2 * time.Second):
		t.Fatalf("second StartDeinit never called onDone")
	}
}

func drainQueue(q *workqueue.Queue, stop chan struct{}) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			q.ProcessDone()
		}
	}
}
