// Package lsp connects to a pglt worker process over JSON-RPC 2.0.
//
// The worker speaks the Language Server Protocol base framing on its
// stdio: every message is a JSON body preceded by a Content-Length header.
// This package owns that wire and the process behind it.
//
// # Architecture
//
//   - Transport: framed JSON-RPC over an io.Reader/io.Writer pair. Requests
//     are matched to responses by id; notifications are routed to handlers;
//     requests sent by the worker are answered so it never stalls.
//   - Server: a single worker process. Start spawns the binary, wires the
//     transport and runs the initialize/initialized handshake. Shutdown
//     sends shutdown and exit, then kills the process.
//   - Selector: the document filters a session is responsible for.
//
// # Failure reporting
//
// A transport closes itself when the stream ends or a frame cannot be
// parsed. The owning Server turns that, or an unexpected process exit, into
// a single *TransportError on Done:
//
//	srv := lsp.NewServer(lsp.ServerConfig{
//	    Command: "/path/to/pglt",
//	    Args:    []string{"lsp-proxy"},
//	})
//	if err := srv.Start(ctx); err != nil {
//	    return err // *StartError
//	}
//	go func() {
//	    if err, ok := <-srv.Done(); ok {
//	        log.Error("worker died", "err", err)
//	    }
//	}()
//
// A Server shut down by its owner closes Done without sending an error.
package lsp
