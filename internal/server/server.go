// Package server exposes the reference backend over HTTP using the wire
// protocol the rpc client speaks: a service listing, one JSON endpoint per
// service and an authenticated attachment side channel.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/almsync/internal/rpc"
	"github.com/mesh-intelligence/almsync/internal/sqlite"
)

// Backend is the part of the reference backend the server needs.
type Backend interface {
	Services() []string
	Call(ctx context.Context, session, service, operation string, params []json.RawMessage) (any, error)
	AuthorizeDownload(user, password, token string) error
	Attachment(id string) (string, []byte, error)
}

var _ Backend = (*sqlite.Backend)(nil)

// Server is an http.Handler serving one backend.
type Server struct {
	backend Backend
	logger  zerolog.Logger
	mux     *http.ServeMux
}

// New returns a Server for backend. Requests run with logger in their
// context.
func New(backend Backend, logger zerolog.Logger) *Server {
	s := &Server{backend: backend, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET "+rpc.ServicesPath, s.handleListing)
	s.mux.HandleFunc("POST "+rpc.ServicesPath+"/{endpoint}", s.handleCall)
	s.mux.HandleFunc("GET "+sqlite.AttachmentPath+"{id}", s.handleAttachment)
	s.mux.HandleFunc("GET /health", handleHealth)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r.WithContext(s.logger.WithContext(r.Context())))
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	var b strings.Builder
	b.WriteString("<html><body><h1>Services</h1><ul>\n")
	for _, name := range s.backend.Services() {
		endpoint := name + rpc.ServiceSuffix
		fmt.Fprintf(&b, "<li><a href=\"%s/%s\">%s</a></li>\n", rpc.ServicesPath, endpoint, endpoint)
	}
	b.WriteString("</ul></body></html>\n")
	_, _ = w.Write([]byte(b.String()))
}

// callRequest is the body of an operation call.
type callRequest struct {
	Operation string            `json:"operation"`
	Params    []json.RawMessage `json:"params"`
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	service, ok := strings.CutSuffix(r.PathValue("endpoint"), rpc.ServiceSuffix)
	if !ok || service == "" {
		writeFault(w, &rpc.Fault{Code: rpc.FaultUnknownOperation, Message: "no such service endpoint"})
		return
	}

	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFault(w, &rpc.Fault{Code: rpc.FaultInvalidArguments, Message: fmt.Sprintf("decode request: %v", err)})
		return
	}

	start := time.Now()
	result, err := s.backend.Call(r.Context(), r.Header.Get(rpc.SessionHeader), service, req.Operation, req.Params)
	zerolog.Ctx(r.Context()).Debug().
		Str("service", service).
		Str("operation", req.Operation).
		Dur("elapsed", time.Since(start)).
		Bool("ok", err == nil).
		Msg("call")
	if err != nil {
		var f *rpc.Fault
		if !errors.As(err, &f) {
			f = &rpc.Fault{Code: rpc.FaultInternal, Message: err.Error()}
		}
		writeFault(w, f)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// handleAttachment serves attachment bytes to Basic or Bearer credentials.
func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	user, password, token := credentials(r)
	if user == "" && token == "" {
		w.Header().Set("WWW-Authenticate", `Basic realm="alm"`)
		http.Error(w, "credentials required", http.StatusUnauthorized)
		return
	}
	if err := s.backend.AuthorizeDownload(user, password, token); err != nil {
		status := http.StatusUnauthorized
		if rpc.IsFault(err, rpc.FaultRejected) {
			status = http.StatusForbidden
		} else {
			w.Header().Set("WWW-Authenticate", `Basic realm="alm"`)
		}
		zerolog.Ctx(r.Context()).Warn().Str("user", user).Int("status", status).Msg("attachment download refused")
		http.Error(w, http.StatusText(status), status)
		return
	}

	fileName, content, err := s.backend.Attachment(r.PathValue("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if rpc.IsFault(err, rpc.FaultNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	_, _ = w.Write(content)
}

// credentials extracts Basic credentials or a bearer token.
func credentials(r *http.Request) (user, password, token string) {
	if u, p, ok := r.BasicAuth(); ok {
		return u, p, ""
	}
	if t, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return "", "", strings.TrimSpace(t)
	}
	return "", "", ""
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// faultStatus maps a fault code to its HTTP status.
func faultStatus(code string) int {
	switch code {
	case rpc.FaultInvalidSession, rpc.FaultAuthentication:
		return http.StatusUnauthorized
	case rpc.FaultNotFound, rpc.FaultUnknownOperation:
		return http.StatusNotFound
	case rpc.FaultInvalidArguments:
		return http.StatusBadRequest
	case rpc.FaultRejected:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeFault(w http.ResponseWriter, f *rpc.Fault) {
	writeJSON(w, faultStatus(f.Code), map[string]any{"fault": f})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves handler on addr until ctx is cancelled, then shuts
// down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
