// Package vicetest provides an in-process fake of the VICE binary monitor for
// tests: a TCP listener that decodes command frames and answers through a
// pluggable handler.
package vicetest

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/vicebridge/internal/protocol"
)

// Request is one decoded command frame.
type Request struct {
	RequestID uint32
	Type      protocol.CommandType
	Content   []byte
}

// Frame is one response frame to write back.
type Frame struct {
	Type      protocol.ResponseType
	Error     protocol.ErrorCode
	RequestID uint32
	Body      []byte
}

// Handler answers a request with zero or more frames. Returning nothing
// leaves the request unanswered.
type Handler func(req Request) []Frame

// Reply answers req with an OK frame of type t.
func Reply(req Request, t protocol.ResponseType, body []byte) Frame {
	return Frame{Type: t, RequestID: req.RequestID, Body: body}
}

// Ack answers req with an empty OK frame tagged like the command.
func Ack(req Request) Frame {
	return Frame{Type: protocol.ResponseType(req.Type), RequestID: req.RequestID}
}

// Event is an unsolicited frame.
func Event(t protocol.ResponseType, body []byte) Frame {
	return Frame{Type: t, RequestID: protocol.UnsolicitedRequestID, Body: body}
}

// Encode renders f in wire format.
func Encode(f Frame) []byte {
	out := make([]byte, protocol.ResponseHeaderSize+len(f.Body))
	out[0] = protocol.STX
	out[1] = protocol.APIVersion
	binary.LittleEndian.PutUint32(out[2:6], uint32(len(f.Body)))
	out[6] = byte(f.Type)
	out[7] = byte(f.Error)
	binary.LittleEndian.PutUint32(out[8:12], f.RequestID)
	copy(out[12:], f.Body)
	return out
}

// Server is a fake monitor listening on a loopback port.
type Server struct {
	t       testing.TB
	ln      net.Listener
	handler Handler

	mu       sync.Mutex
	writeMu  sync.Mutex
	conns    map[net.Conn]struct{}
	requests []Request
	accepted int
	arrived  chan struct{}
	wg       sync.WaitGroup
}

// NewServer starts a fake monitor. It is closed automatically when the test
// ends.
func NewServer(t testing.TB, h Handler) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{
		t:       t,
		ln:      ln,
		handler: h,
		conns:   make(map[net.Conn]struct{}),
		arrived: make(chan struct{}, 1),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Addr returns host:port of the listener.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// Accepted returns how many connections have been accepted so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Requests returns a copy of every request received so far, in order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// WaitRequests blocks until at least n requests have arrived and returns
// them. It fails the test after timeout.
func (s *Server) WaitRequests(n int, timeout time.Duration) []Request {
	s.t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if reqs := s.Requests(); len(reqs) >= n {
			return reqs
		}
		select {
		case <-s.arrived:
		case <-deadline.C:
			s.t.Fatalf("waited %s for %d requests, got %d", timeout, n, len(s.Requests()))
			return nil
		}
	}
}

// Send writes f to every open connection.
func (s *Server) Send(f Frame) {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = s.write(c, Encode(f))
	}
}

// SendRaw writes b unmodified to every open connection.
func (s *Server) SendRaw(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		s.writeMu.Lock()
		_, _ = c.Write(b)
		s.writeMu.Unlock()
	}
}

// DropConnections closes every open connection but keeps listening.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
		delete(s.conns, c)
	}
}

// Close stops listening and drops every connection.
func (s *Server) Close() {
	_ = s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.accepted++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	var hdr [protocol.CommandHeaderSize]byte
	for {
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		if hdr[0] != protocol.STX || hdr[1] != protocol.APIVersion {
			return
		}
		req := Request{
			RequestID: binary.LittleEndian.Uint32(hdr[6:10]),
			Type:      protocol.CommandType(hdr[10]),
			Content:   make([]byte, binary.LittleEndian.Uint32(hdr[2:6])),
		}
		if _, err := io.ReadFull(conn, req.Content); err != nil {
			return
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()
		select {
		case s.arrived <- struct{}{}:
		default:
		}

		if s.handler == nil {
			continue
		}
		for _, f := range s.handler(req) {
			if err := s.write(conn, Encode(f)); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(conn net.Conn, b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := conn.Write(b)
	return err
}
