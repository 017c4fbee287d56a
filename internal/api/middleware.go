package api

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	actorKey     contextKey = "actor"
)

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger logs method, path, status, duration and request ID.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", GetRequestID(r.Context()),
			)
		})
	}
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working behind the logger.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	return h.Hijack()
}

// IdentityClaims is the bearer token payload. Subject holds the user id.
type IdentityClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Identity resolves the caller. With a secret it reads an HMAC signed bearer
// token; without one it trusts the X-User-ID and X-User-Role headers set by
// the gateway. Anonymous requests pass through with a zero actor.
func Identity(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				actor scheduling.Actor
				err   error
			)
			if secret != "" {
				actor, err = actorFromToken(r, secret)
			} else {
				actor, err = actorFromHeaders(r)
			}
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func actorFromToken(r *http.Request, secret string) (scheduling.Actor, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return scheduling.Actor{}, nil
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return scheduling.Actor{}, errors.New("authorization header must be a bearer token")
	}
	claims := IdentityClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return scheduling.Actor{}, errors.New("invalid token")
	}
	return parseActor(claims.Subject, claims.Role)
}

func actorFromHeaders(r *http.Request) (scheduling.Actor, error) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		return scheduling.Actor{}, nil
	}
	return parseActor(id, r.Header.Get("X-User-Role"))
}

func parseActor(id, role string) (scheduling.Actor, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return scheduling.Actor{}, errors.New("user id must be a valid UUID")
	}
	switch r := scheduling.Role(strings.ToUpper(role)); r {
	case scheduling.RoleDoctor, scheduling.RolePatient, scheduling.RoleAdmin:
		return scheduling.Actor{UserID: userID, Role: r}, nil
	default:
		return scheduling.Actor{}, errors.New("unknown role")
	}
}

// ActorFrom returns the caller resolved by Identity.
func ActorFrom(ctx context.Context) scheduling.Actor {
	a, _ := ctx.Value(actorKey).(scheduling.Actor)
	return a
}

// capturingWriter records a response so it can be replayed.
type capturingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (cw *capturingWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *capturingWriter) Write(b []byte) (int, error) {
	if cw.status == 0 {
		cw.status = http.StatusOK
	}
	cw.body.Write(b)
	return cw.ResponseWriter.Write(b)
}

// Idempotency replays the first response for a repeated Idempotency-Key on
// mutating requests. Keys are scoped to the caller and route. Server errors
// are not remembered so the client can retry them.
func Idempotency(store *redisclient.IdempotencyStore, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if store == nil || key == "" || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			scoped := strings.Join([]string{ActorFrom(r.Context()).UserID.String(), r.Method, r.URL.Path, key}, ":")

			stored, err := store.Begin(r.Context(), scoped)
			switch {
			case errors.Is(err, redisclient.ErrRequestInFlight):
				writeError(w, http.StatusConflict, "request_in_flight", err.Error())
				return
			case err != nil:
				logger.Warn("idempotency unavailable", "request_id", GetRequestID(r.Context()), "error", err)
				next.ServeHTTP(w, r)
				return
			case stored != nil:
				w.Header().Set("Content-Type", stored.ContentType)
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(stored.Status)
				_, _ = w.Write(stored.Body)
				return
			}

			cw := &capturingWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r)

			ctx := context.WithoutCancel(r.Context())
			if cw.status == 0 || cw.status >= http.StatusInternalServerError {
				if err := store.Release(ctx, scoped); err != nil {
					logger.Warn("idempotency release failed", "error", err)
				}
				return
			}
			resp := redisclient.StoredResponse{
				Status:      cw.status,
				ContentType: cw.Header().Get("Content-Type"),
				Body:        cw.body.Bytes(),
			}
			if err := store.Complete(ctx, scoped, resp); err != nil {
				logger.Warn("idempotency save failed", "error", err)
			}
		})
	}
}
