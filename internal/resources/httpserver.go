package resources

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/coder/websocket"
	"golang.org/x/net/netutil"

	"github.com/kestrel-run/kestrel/internal/workqueue"
)

// HttpServer is the concrete native object behind a TagHttpServer handle
// (SPEC_FULL.md §4.12): a net/http.Server whose handler bridges every
// request onto the Work Queue so script callbacks never run off the main
// goroutine, with an optional upgrade to a long-lived websocket bridge.
// Grounded on cryguy-worker's handler-dispatch shape (inbound request ->
// owned work -> reply), generalized from its Worker-binding RPC surface
// to a plain HTTP listener since Kestrel has no edge request model.
type HttpServer struct {
	srv      *http.Server
	listener net.Listener
	queue    *workqueue.Queue

	mu        sync.Mutex
	onReq     RequestHandler
	wsHandler WebsocketHandler
	closeCh   chan struct{}
	closed    bool
}

// RequestHandler is the script-side callback, invoked on the main
// goroutine via the Work Queue's completion path. It returns the response
// body, status code, and content-type; the Compress field asks the
// HttpServer to brotli- or gzip-encode the body per the client's
// Accept-Encoding (SPEC_FULL.md §4.12).
type RequestHandler func(req *BridgeRequest) BridgeResponse

// BridgeRequest is the native->script request shape handed through the
// Work Queue, kept deliberately small (method/path/headers/body) — no
// raw net/http types cross the engine boundary.
type BridgeRequest struct {
	Method  string
	Path    string
	Query   string
	Headers map[string]string
	Body    []byte
}

// BridgeResponse is the script->native reply.
type BridgeResponse struct {
	Status      int
	ContentType string
	Body        []byte
	Compress    bool
}

// HttpServerConfig configures a new HttpServer resource.
type HttpServerConfig struct {
	Addr           string
	MaxConnections int // 0 = unlimited; otherwise wrapped via netutil.LimitListener
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	TLSConfig      *tls.Config
}

// NewHttpServer binds a listener immediately (so Create can report a bind
// failure synchronously) and wires the queue-bridged handler. Serving
// starts on Serve, not here.
func NewHttpServer(cfg HttpServerConfig, queue *workqueue.Queue, onReq RequestHandler) (*HttpServer, error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}

	h := &HttpServer{
		listener: ln,
		queue:    queue,
		onReq:    onReq,
		closeCh:  make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handle)

	h.srv = &http.Server{
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		TLSConfig:    cfg.TLSConfig,
	}
	return h, nil
}

// Serve blocks running the server on the pre-bound listener. Intended to
// run on its own goroutine; returns http.ErrServerClosed on graceful stop.
func (h *HttpServer) Serve() error {
	if h.srv.TLSConfig != nil {
		return h.srv.ServeTLS(h.listener, "", "")
	}
	return h.srv.Serve(h.listener)
}

// isWebsocketUpgrade checks the standard RFC 6455 handshake headers
// directly rather than relying on a helper from coder/websocket, which
// exposes Accept/Conn but not an upgrade-detection predicate.
func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// handle bridges an inbound HTTP request onto the Work Queue as a task;
// the actual script callback runs later, on the main goroutine, via
// ProcessDone — this handler just blocks the net/http goroutine until
// that completion fires, then writes the response.
func (h *HttpServer) handle(w http.ResponseWriter, r *http.Request) {
	if isWebsocketUpgrade(r) {
		h.handleWebsocket(w, r)
		return
	}

	body := make([]byte, 0)
	if r.Body != nil {
		buf := make([]byte, 32*1024)
		for {
			n, err := r.Body.Read(buf)
			if n > 0 {
				body = append(body, buf[:n]...)
			}
			if err != nil {
				break
			}
		}
	}
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	req := &BridgeRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Headers: headers,
		Body:    body,
	}

	done := make(chan BridgeResponse, 1)
	submitErr := h.queue.Submit(func() (any, error) {
		return req, nil
	}, func(out any) {
		done <- h.onReq(out.(*BridgeRequest))
	}, func(err error) {
		done <- BridgeResponse{Status: http.StatusInternalServerError, Body: []byte(err.Error())}
	})
	if submitErr != nil {
		http.Error(w, submitErr.Error(), http.StatusServiceUnavailable)
		return
	}

	select {
	case resp := <-done:
		h.writeResponse(w, r, resp)
	case <-r.Context().Done():
		return
	}
}

// writeResponse applies brotli or gzip compression per Accept-Encoding
// when the handler asked for it (SPEC_FULL.md §4.12's response
// compression component, grounded on andybalholm/brotli's http middleware
// pattern of wrapping the ResponseWriter's body writer).
func (h *HttpServer) writeResponse(w http.ResponseWriter, r *http.Request, resp BridgeResponse) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}

	if !resp.Compress {
		w.WriteHeader(resp.Status)
		_, _ = w.Write(resp.Body)
		return
	}

	accept := r.Header.Get("Accept-Encoding")
	switch {
	case strings.Contains(accept, "br"):
		w.Header().Set("Content-Encoding", "br")
		w.WriteHeader(resp.Status)
		bw := brotli.NewWriter(w)
		defer bw.Close()
		_, _ = bw.Write(resp.Body)
	case strings.Contains(accept, "gzip"):
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(resp.Status)
		gw := gzip.NewWriter(w)
		defer gw.Close()
		_, _ = gw.Write(resp.Body)
	default:
		w.WriteHeader(resp.Status)
		_, _ = w.Write(resp.Body)
	}
}

// WebsocketHandler is invoked once per upgraded connection, on its own
// goroutine (not the Work Queue — a websocket session is long-lived, and
// the Work Queue is for short owned tasks). Implementations must
// bridge individual message sends back onto the Work Queue themselves.
type WebsocketHandler func(ctx context.Context, conn *websocket.Conn)

func (h *HttpServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	wsHandler := h.wsHandler
	h.mu.Unlock()
	if wsHandler == nil {
		http.Error(w, "websocket not supported on this resource", http.StatusNotImplemented)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	wsHandler(r.Context(), conn)
}

// SetWebsocketHandler enables the upgrade path for this server.
func (h *HttpServer) SetWebsocketHandler(fn WebsocketHandler) {
	h.mu.Lock()
	h.wsHandler = fn
	h.mu.Unlock()
}

// StartDeinit implements resources.Native: it asks net/http for a
// graceful shutdown in a background goroutine and calls onDone once that
// completes, matching the asynchronous-teardown allowance.
func (h *HttpServer) StartDeinit(onDone func()) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		onDone()
		return
	}
	h.closed = true
	h.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.srv.Shutdown(ctx)
		onDone()
	}()
}
