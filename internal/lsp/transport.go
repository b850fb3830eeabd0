package lsp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Transport handles JSON-RPC 2.0 communication over stdio.
// It implements the LSP base protocol with Content-Length headers.
//
// The read loop treats a closed stream or a malformed frame as fatal: the
// transport closes itself and reports the cause once through OnClose.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer

	mu       sync.Mutex
	writeMu  sync.Mutex
	nextID   atomic.Int64
	pending  map[int64]chan *Response
	handlers map[string]NotificationHandler
	requests map[string]RequestHandler
	onClose  func(error)

	closed   atomic.Bool
	done     chan struct{}
	closeErr error
}

// NotificationHandler handles incoming notifications from the server.
type NotificationHandler func(method string, params json.RawMessage)

// RequestHandler answers a request sent by the server.
type RequestHandler func(params json.RawMessage) (any, error)

// Request represents a JSON-RPC request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response represents a JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// notification is used to parse incoming notifications.
type notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewTransport creates a new transport over the given connection.
// The conn must support reading and writing (typically stdin/stdout pipes).
func NewTransport(r io.Reader, w io.Writer, c io.Closer) *Transport {
	t := &Transport{
		reader:   bufio.NewReaderSize(r, 64*1024),
		writer:   w,
		closer:   c,
		pending:  make(map[int64]chan *Response),
		handlers: make(map[string]NotificationHandler),
		requests: make(map[string]RequestHandler),
		done:     make(chan struct{}),
	}
	t.registerDefaultRequests()
	return t
}

// registerDefaultRequests answers the requests a worker may send during a
// session so it never waits on the client.
func (t *Transport) registerDefaultRequests() {
	ack := func(json.RawMessage) (any, error) { return nil, nil }
	t.requests["window/workDoneProgress/create"] = ack
	t.requests["client/registerCapability"] = ack
	t.requests["client/unregisterCapability"] = ack
	t.requests["workspace/configuration"] = func(params json.RawMessage) (any, error) {
		var p struct {
			Items []json.RawMessage `json:"items"`
		}
		_ = json.Unmarshal(params, &p)
		return make([]any, len(p.Items)), nil
	}
}

// Start begins reading messages from the connection in a new goroutine.
func (t *Transport) Start(ctx context.Context) {
	go t.readLoop(ctx)
}

// Close closes the transport and releases resources. A transport closed by
// its owner does not invoke the OnClose callback.
func (t *Transport) Close() error {
	if !t.shutdown(ErrShutdown) {
		return nil
	}
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// shutdown marks the transport closed with cause. It reports false when the
// transport was already closed.
func (t *Transport) shutdown(cause error) bool {
	// closeErr is stored before closed flips so Err never sees a closed
	// transport without a cause.
	t.mu.Lock()
	if t.closed.Load() {
		t.mu.Unlock()
		return false
	}
	t.closeErr = cause
	t.closed.Store(true)
	// Callers waiting on pending channels receive from t.done instead; the
	// channels are not closed to avoid racing handleResponse.
	t.pending = make(map[int64]chan *Response)
	t.mu.Unlock()

	close(t.done)
	return true
}

// fail closes the transport after a read-side failure and reports it.
func (t *Transport) fail(err error) {
	terr := &TransportError{Err: err}
	if !t.shutdown(terr) {
		return
	}
	if t.closer != nil {
		_ = t.closer.Close()
	}

	t.mu.Lock()
	cb := t.onClose
	t.mu.Unlock()
	if cb != nil {
		cb(terr)
	}
}

// Err returns why the transport closed, or nil while it is open.
func (t *Transport) Err() error {
	if !t.closed.Load() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closeErr == nil {
		return ErrShutdown
	}
	return t.closeErr
}

// Done is closed when the transport closes for any reason.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// OnClose registers fn to be called once if the connection fails: the peer
// closes its end or sends a frame that cannot be parsed.
func (t *Transport) OnClose(fn func(error)) {
	t.mu.Lock()
	t.onClose = fn
	t.mu.Unlock()
}

// Call sends a request and waits for a response.
func (t *Transport) Call(ctx context.Context, method string, params any, result any) error {
	if t.closed.Load() {
		return t.Err()
	}

	id := t.nextID.Add(1)
	ch := make(chan *Response, 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	req := &Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	if err := t.send(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return t.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}
}

// Notify sends a notification (no response expected).
func (t *Transport) Notify(_ context.Context, method string, params any) error {
	if t.closed.Load() {
		return t.Err()
	}

	req := &Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}

	return t.send(req)
}

// OnNotification registers a handler for server notifications. The method
// "*" receives notifications with no specific handler.
func (t *Transport) OnNotification(method string, handler NotificationHandler) {
	t.mu.Lock()
	t.handlers[method] = handler
	t.mu.Unlock()
}

// OnRequest registers a handler for requests sent by the server.
func (t *Transport) OnRequest(method string, handler RequestHandler) {
	t.mu.Lock()
	t.requests[method] = handler
	t.mu.Unlock()
}

// send writes a message with LSP content-length header.
func (t *Transport) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := io.WriteString(t.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}

	return nil
}

// readLoop reads messages from the connection until it closes.
func (t *Transport) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		msg, err := t.readMessage()
		if err != nil {
			if t.closed.Load() {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				err = fmt.Errorf("%w: %v", io.ErrUnexpectedEOF, err)
			}
			t.fail(err)
			return
		}

		if err := t.dispatch(msg); err != nil {
			t.fail(err)
			return
		}
	}
}

// readMessage reads a single LSP message.
func (t *Transport) readMessage() (json.RawMessage, error) {
	contentLength := -1
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break // End of headers
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: malformed header %q", ErrProtocol, line)
		}
		if strings.EqualFold(strings.TrimSpace(name), "content-length") {
			length, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || length < 0 {
				return nil, fmt.Errorf("%w: bad Content-Length %q", ErrProtocol, value)
			}
			contentLength = length
		}
		// Ignore Content-Type and other headers
	}

	if contentLength <= 0 {
		return nil, fmt.Errorf("%w: missing Content-Length header", ErrProtocol)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

// dispatch routes a message to the appropriate handler. A body that is not
// a JSON-RPC message is a protocol error.
func (t *Transport) dispatch(data json.RawMessage) error {
	var probe struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Error  *RPCError       `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	hasID := len(probe.ID) > 0 && !bytes.Equal(probe.ID, []byte("null"))

	switch {
	case hasID && probe.Method != "":
		go t.handleRequest(probe.ID, probe.Method, data)
	case hasID:
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		t.handleResponse(&resp)
	case probe.Method != "":
		var notif notification
		if err := json.Unmarshal(data, &notif); err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		t.handleNotification(&notif)
	default:
		return fmt.Errorf("%w: message has neither id nor method", ErrProtocol)
	}
	return nil
}

// handleResponse routes a response to its waiting caller.
func (t *Transport) handleResponse(resp *Response) {
	if t.closed.Load() {
		return
	}

	t.mu.Lock()
	ch, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
	}
	t.mu.Unlock()

	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

// handleNotification routes a notification to its handler.
func (t *Transport) handleNotification(notif *notification) {
	t.mu.Lock()
	handler, ok := t.handlers[notif.Method]
	if !ok {
		handler, ok = t.handlers["*"]
	}
	t.mu.Unlock()

	if ok && handler != nil {
		// Run handler in goroutine to avoid blocking read loop
		go handler(notif.Method, notif.Params)
	}
}

// handleRequest answers a server-to-client request. Unknown methods get a
// MethodNotFound error so the server does not wait forever.
func (t *Transport) handleRequest(id json.RawMessage, method string, data json.RawMessage) {
	var req struct {
		Params json.RawMessage `json:"params"`
	}
	_ = json.Unmarshal(data, &req)

	t.mu.Lock()
	handler, ok := t.requests[method]
	t.mu.Unlock()

	reply := map[string]any{"jsonrpc": "2.0", "id": id}
	if !ok {
		reply["error"] = &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + method}
	} else if result, err := handler(req.Params); err != nil {
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			rpcErr = &RPCError{Code: CodeInternalError, Message: err.Error()}
		}
		reply["error"] = rpcErr
	} else {
		reply["result"] = result
	}

	if t.closed.Load() {
		return
	}
	_ = t.send(reply)
}

// IsClosed returns true if the transport has been closed.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}
