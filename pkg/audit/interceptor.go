package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"

	"github.com/liftoff-labs/gymcore/pkg/async"
	"github.com/liftoff-labs/gymcore/pkg/auth"
	"github.com/liftoff-labs/gymcore/pkg/httputil"
	"github.com/liftoff-labs/gymcore/pkg/observability"
)

// entityKeys are probed in order in the handler's JSON response; the first
// object with a non-empty "id" names the affected entity.
var entityKeys = []string{"member", "membership", "payment", "invoice", "class", "trainer", "plan", "attendance"}

// DefaultBodyLimit caps how much of a request body is kept for metadata.
const DefaultBodyLimit int64 = 1 << 20

// DefaultWriteTimeout bounds an inline audit write.
const DefaultWriteTimeout = 2 * time.Second

// InterceptorConfig wires an Interceptor. Zero values use defaults; a nil
// Pool writes inline and a nil Deduper disables idempotency claims.
type InterceptorConfig struct {
	Rules        Rules
	BodyLimit    int64
	WriteTimeout time.Duration
	Pool         *async.WorkerPool
	Deduper      *Deduper
	Logger       *observability.Logger
	Metrics      *observability.Metrics
}

// Interceptor records an audit entry after each successful call to an
// audited route. It never changes the response, and audit failures are
// logged rather than surfaced to the caller.
type Interceptor struct {
	recorder     *Recorder
	rules        Rules
	bodyLimit    int64
	writeTimeout time.Duration
	pool         *async.WorkerPool
	dedupe       *Deduper
	logger       *observability.Logger
	metrics      *observability.Metrics
}

// NewInterceptor creates an Interceptor writing through rec.
func NewInterceptor(rec *Recorder, cfg InterceptorConfig) *Interceptor {
	i := &Interceptor{
		recorder:     rec,
		rules:        cfg.Rules,
		bodyLimit:    cfg.BodyLimit,
		writeTimeout: cfg.WriteTimeout,
		pool:         cfg.Pool,
		dedupe:       cfg.Deduper,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}
	if i.rules == nil {
		i.rules = DefaultRules()
	}
	if i.bodyLimit <= 0 {
		i.bodyLimit = DefaultBodyLimit
	}
	if i.writeTimeout <= 0 {
		i.writeTimeout = DefaultWriteTimeout
	}
	if i.logger == nil {
		i.logger = observability.GetLogger(context.Background())
	}
	if i.metrics == nil {
		i.metrics = observability.NewNopMetrics()
	}
	i.logger = i.logger.WithField("component", "audit")
	return i
}

// Rules returns the interceptor's rule table.
func (i *Interceptor) Rules() Rules {
	return i.rules
}

// Middleware wraps handlers registered on a mux router.
func (i *Interceptor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := mux.CurrentRoute(r)
		if route == nil {
			next.ServeHTTP(w, r)
			return
		}
		tmpl, err := route.GetPathTemplate()
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		rule, ok := i.rules.Lookup(r.Method, tmpl)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		body, truncated := i.bufferBody(r)
		cw := &captureWriter{ResponseWriter: w, status: http.StatusOK, limit: i.bodyLimit}

		next.ServeHTTP(cw, r)

		i.after(r, tmpl, rule, body, truncated, cw)
	})
}

// bufferBody reads up to bodyLimit bytes and puts them back in front of the
// remaining stream, so the handler still sees the full body.
func (i *Interceptor) bufferBody(r *http.Request) ([]byte, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, false
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, i.bodyLimit+1))
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(buf), r.Body), Closer: r.Body}
	if err != nil {
		return nil, true
	}
	if int64(len(buf)) > i.bodyLimit {
		return nil, true
	}
	return buf, false
}

func (i *Interceptor) after(r *http.Request, tmpl string, rule Rule, body []byte, truncated bool, cw *captureWriter) {
	log := i.logger.WithFields(map[string]interface{}{
		"route":  tmpl,
		"method": r.Method,
		"action": string(rule.Action),
	})

	defer func() {
		if rec := recover(); rec != nil {
			i.metrics.AuditWritesTotal.WithLabelValues(string(rule.Action), "panic").Inc()
			log.WithFields(map[string]interface{}{
				"panic": fmt.Sprintf("%v", rec),
				"stack": string(debug.Stack()),
			}).Error("Audit logging failed")
		}
	}()

	if cw.status < 200 || cw.status > 299 {
		return
	}

	ident := auth.FromRequest(r)
	gymID := mux.Vars(r)["gymId"]
	if gymID == "" && ident != nil {
		gymID = ident.GymID
	}
	if gymID == "" {
		i.skip("no_gym")
		log.Warn("Audit entry skipped: no gym in scope")
		return
	}

	resp := cw.jsonObject()
	if dup, _ := resp["duplicate"].(bool); dup {
		i.skip("duplicate")
		return
	}

	ev := Event{
		Action:     rule.Action,
		EntityType: rule.EntityType,
		EntityID:   entityID(resp, mux.Vars(r)["id"]),
		Metadata:   buildMetadata(body, truncated, resp),
	}
	var actor *string
	if ident != nil {
		actor = ident.ActorID()
	}
	ip := strPtr(httputil.ClientIP(r))

	idemKey := r.Header.Get(IdempotencyHeader)
	if i.dedupe != nil && idemKey != "" {
		claimed, err := i.dedupe.Claim(r.Context(), gymID, idemKey)
		switch {
		case err != nil:
			log.WithError(err).Warn("Idempotency check failed, recording anyway")
			idemKey = ""
		case !claimed:
			i.skip("idempotent_replay")
			return
		}
	} else {
		idemKey = ""
	}

	write := func(ctx context.Context) error {
		_, err := i.recorder.Record(ctx, gymID, actor, ev, ip)
		if err != nil && idemKey != "" {
			if relErr := i.dedupe.Release(ctx, gymID, idemKey); relErr != nil {
				log.WithError(relErr).Warn("Failed to release idempotency key")
			}
		}
		return err
	}

	if i.pool == nil {
		ctx, cancel := context.WithTimeout(r.Context(), i.writeTimeout)
		defer cancel()
		if err := write(ctx); err != nil {
			log.WithError(err).Error("Audit logging failed")
		}
		return
	}

	err := i.pool.TrySubmit(func(ctx context.Context) error {
		defer observability.RecoverPanic(log, "audit pool write")
		if err := write(ctx); err != nil {
			log.WithError(err).Error("Audit logging failed")
		}
		return nil
	})
	if err != nil {
		reason := "pool_closed"
		if errors.Is(err, async.ErrPoolFull) {
			reason = "pool_full"
		}
		i.skip(reason)
		log.WithError(err).Error("Audit entry dropped")
	}
}

func (i *Interceptor) skip(reason string) {
	i.metrics.AuditSkippedTotal.WithLabelValues(reason).Inc()
}

// entityID returns the id of the first probed response object, falling back
// to the route's id path variable.
func entityID(resp map[string]interface{}, pathID string) *string {
	for _, key := range entityKeys {
		obj, ok := resp[key].(map[string]interface{})
		if !ok {
			continue
		}
		switch id := obj["id"].(type) {
		case string:
			if id != "" {
				return &id
			}
		case json.Number:
			s := id.String()
			return &s
		}
	}
	return strPtr(pathID)
}

func buildMetadata(body []byte, truncated bool, resp map[string]interface{}) map[string]interface{} {
	md := map[string]interface{}{}

	switch {
	case truncated:
		md["requestBody"] = map[string]interface{}{"truncated": true}
	case len(bytes.TrimSpace(body)) == 0:
		md["requestBody"] = map[string]interface{}{}
	default:
		var parsed interface{}
		if err := decodeJSON(body, &parsed); err != nil {
			parsed = nil
		}
		md["requestBody"] = Sanitize(parsed)
	}

	if success, ok := resp["success"].(bool); ok {
		md["responseSuccess"] = success
	}
	return md
}

type readCloser struct {
	io.Reader
	io.Closer
}

// captureWriter passes the response through untouched while keeping the
// status and the first limit bytes of the body.
type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	limit       int64
	buf         bytes.Buffer
	overflow    bool
}

func (cw *captureWriter) WriteHeader(code int) {
	if cw.wroteHeader {
		return
	}
	cw.status = code
	cw.wroteHeader = true
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if !cw.wroteHeader {
		cw.wroteHeader = true
	}
	if !cw.overflow {
		if int64(cw.buf.Len()+len(b)) > cw.limit {
			cw.overflow = true
			cw.buf.Reset()
		} else {
			cw.buf.Write(b)
		}
	}
	return cw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (cw *captureWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}

// jsonObject decodes the captured body. Anything other than a complete JSON
// object yields nil, which reads as empty.
func (cw *captureWriter) jsonObject() map[string]interface{} {
	if cw.overflow || cw.buf.Len() == 0 {
		return nil
	}
	var obj map[string]interface{}
	if err := decodeJSON(cw.buf.Bytes(), &obj); err != nil {
		return nil
	}
	return obj
}
