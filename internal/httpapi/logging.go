package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the structured logger of the HTTP layer. Nop until SetLogger.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l.With().Str("component", "http").Logger() }

// LogLevel controls per-request access logging.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off":
		return LevelOff
	case "error":
		return LevelError
	case "", "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// read once
var defaultLogLevel = parseLevel(os.Getenv("KD5_HTTP_LOG"))

func requestLogLevel(r *http.Request) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// accessLog logs one line per request at the level the request asks for.
// Failed requests are logged from LevelError up.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lvl := requestLogLevel(r)
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)
		var ev *zerolog.Event
		switch {
		case sr.status >= 500 && lvl >= LevelError:
			ev = zlog.Error()
		case sr.status >= 400 && lvl >= LevelError:
			ev = zlog.Warn()
		case lvl >= LevelDebug:
			ev = zlog.Debug()
		case lvl >= LevelInfo && r.Method != http.MethodGet:
			ev = zlog.Info()
		default:
			return
		}
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			ev = ev.Str("request_id", rid)
		}
		ev.Str("method", r.Method).Str("path", r.URL.Path).Int("status", sr.status).
			Dur("dur", time.Since(start)).Msg("request")
	})
}
