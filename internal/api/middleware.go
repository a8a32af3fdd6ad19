package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/settingsync/internal/serverdb"
)

const (
	// machineIDHeader names the calling machine. Optional; recorded with writes.
	machineIDHeader = "X-Machine-Id"
	requestIDHeader = "X-Request-Id"

	maxMachineIDLen = 128
	maxRequestIDLen = 64
)

type ctxKey int

const (
	ctxKeyTrace ctxKey = iota
	ctxKeyPrincipal
)

// Principal is the caller of an authenticated request: the account its key
// belongs to, and the machine it runs on when the client says so.
type Principal struct {
	serverdb.Credential
	MachineID string
}

// trace is per-request state set by traceMiddleware. requireAuth narrows
// log once the caller is known.
type trace struct {
	log *slog.Logger
}

func principalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(ctxKeyPrincipal).(*Principal)
	return p
}

// logFor returns the request's logger, or the default logger outside a request.
func logFor(ctx context.Context) *slog.Logger {
	if tr, ok := ctx.Value(ctxKeyTrace).(*trace); ok {
		return tr.log
	}
	return slog.Default()
}

// traceMiddleware assigns the request ID, keeping a sane one sent by the
// client, and a logger tagged with it.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > maxRequestIDLen || strings.ContainsAny(id, " \t\r\n") {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		tr := &trace{log: slog.Default().With("rid", id)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyTrace, tr)))
	})
}

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.code = code
	sr.ResponseWriter.WriteHeader(code)
}

// observeMiddleware counts the request by status class and writes the access
// log line. It runs inside traceMiddleware; handlers that authenticate add
// the user to the logger, so the line is logged from the final context.
func observeMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rec, r)

			m.RecordRequest()
			switch {
			case rec.code >= 500:
				m.RecordError()
			case rec.code >= 400:
				m.RecordClientError()
			}
			logFor(r.Context()).Info("req",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.code,
				"dur", time.Since(start).String(),
			)
		})
	}
}

// recoveryMiddleware turns a handler panic into a 500.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logFor(r.Context()).Error("panic recovered", "panic", rec, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// maxBytesMiddleware caps request bodies.
func maxBytesMiddleware(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

// requireAuth authenticates the bearer key and attaches the Principal,
// including the X-Machine-Id the client sent, before calling handler.
func (s *Server) requireAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || key == "" {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing bearer api key")
			return
		}
		machineID := strings.TrimSpace(r.Header.Get(machineIDHeader))
		if len(machineID) > maxMachineIDLen {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "machine id too long")
			return
		}

		cred, err := s.store.Authenticate(key)
		if errors.Is(err, serverdb.ErrInvalidKey) {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or expired api key")
			return
		}
		if err != nil {
			logFor(r.Context()).Error("authenticate", "err", err)
			writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to verify key")
			return
		}

		p := &Principal{Credential: *cred, MachineID: machineID}
		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, p)
		if tr, ok := ctx.Value(ctxKeyTrace).(*trace); ok {
			l := tr.log.With("uid", p.UserID)
			if p.MachineID != "" {
				l = l.With("mid", p.MachineID)
			}
			tr.log = l
		}
		handler(w, r.WithContext(ctx))
	}
}

// chain wraps h so that mws[0] is outermost.
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
