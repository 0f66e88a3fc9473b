package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftoff-labs/gymcore/pkg/async"
	"github.com/liftoff-labs/gymcore/pkg/auth"
	"github.com/liftoff-labs/gymcore/pkg/observability"
	"github.com/liftoff-labs/gymcore/pkg/rbac"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	store   *memStore
	metrics *observability.Metrics
	logs    *lockedBuffer
	router  *mux.Router
}

// newHarness mounts handlers behind an identity stub and the interceptor.
// ident may be nil for unauthenticated calls.
func newHarness(t *testing.T, ident *auth.Identity, cfg InterceptorConfig, routes func(r *mux.Router)) *harness {
	t.Helper()
	h := &harness{
		store:   newMemStore(),
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
		logs:    &lockedBuffer{},
	}
	cfg.Metrics = h.metrics
	cfg.Logger = observability.NewLogger(observability.DebugLevel, h.logs)

	rec := NewRecorder(h.store, WithMetrics(h.metrics))
	ic := NewInterceptor(rec, cfg)

	h.router = mux.NewRouter()
	h.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ident != nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), ident))
			}
			next.ServeHTTP(w, r)
		})
	})
	h.router.Use(ic.Middleware)
	routes(h.router)
	return h
}

func (h *harness) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

func staffIdentity() *auth.Identity {
	role := rbac.RoleStaff
	return &auth.Identity{UserID: "user-staff", GymID: "gym-1", Role: &role}
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestInterceptor_RecordsSuccessfulMutation(t *testing.T) {
	h := newHarness(t, staffIdentity(), InterceptorConfig{}, func(r *mux.Router) {
		r.HandleFunc("/api/gyms/{gymId}/payments/collect",
			jsonHandler(http.StatusCreated, `{"success":true,"payment":{"id":"pay-9","amount":4500}}`)).Methods("POST")
	})

	rr := h.do("POST", "/api/gyms/gym-1/payments/collect",
		`{"memberId":"m-1","amount":4500,"password":"nope"}`,
		map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.1"})

	require.Equal(t, http.StatusCreated, rr.Code)
	assert.JSONEq(t, `{"success":true,"payment":{"id":"pay-9","amount":4500}}`, rr.Body.String())

	entries := h.store.all()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "gym-1", e.GymID)
	assert.Equal(t, ActionPaymentCollected, e.Action)
	assert.Equal(t, EntityPayment, e.EntityType)
	require.NotNil(t, e.EntityID)
	assert.Equal(t, "pay-9", *e.EntityID)
	require.NotNil(t, e.ActorUserID)
	assert.Equal(t, "user-staff", *e.ActorUserID)
	require.NotNil(t, e.IPAddress)
	assert.Equal(t, "198.51.100.7", *e.IPAddress)
	assert.Equal(t, map[string]interface{}{
		"requestBody":     map[string]interface{}{"memberId": "m-1", "amount": json.Number("4500")},
		"responseSuccess": true,
	}, e.Metadata)
}

func TestInterceptor_PreservesLargeIntegers(t *testing.T) {
	h := newHarness(t, staffIdentity(), InterceptorConfig{}, func(r *mux.Router) {
		r.HandleFunc("/api/gyms/{gymId}/payments/collect",
			jsonHandler(http.StatusCreated, `{"success":true,"payment":{"id":9007199254740993}}`)).Methods("POST")
	})

	h.do("POST", "/api/gyms/gym-1/payments/collect", `{"ref":9007199254740993,"items":[{"qty":12345678901234567890}]}`, nil)

	entries := h.store.all()
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].EntityID)
	assert.Equal(t, "9007199254740993", *entries[0].EntityID)

	stored, err := json.Marshal(entries[0].Metadata["requestBody"])
	require.NoError(t, err)
	assert.JSONEq(t, `{"ref":9007199254740993,"items":[{"qty":12345678901234567890}]}`, string(stored))
	assert.Contains(t, string(stored), "9007199254740993")
	assert.Contains(t, string(stored), "12345678901234567890")
}

func TestInterceptor_HandlerStillReadsBody(t *testing.T) {
	var seen string
	h := newHarness(t, staffIdentity(), InterceptorConfig{}, func(r *mux.Router) {
		r.HandleFunc("/api/gyms/{gymId}/members", func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			seen = string(b)
			jsonHandler(http.StatusCreated, `{"member":{"id":"m-1"}}`)(w, r)
		}).Methods("POST")
	})

	h.do("POST", "/api/gyms/gym-1/members", `{"name":"Ana"}`, nil)
	assert.Equal(t, `{"name":"Ana"}`, seen)
	require.Len(t, h.store.all(), 1)
}

func TestInterceptor_TruncatesLargeBodies(t *testing.T) {
	var seen int
	h := newHarness(t, staffIdentity(), InterceptorConfig{BodyLimit: 16}, func(r *mux.Router) {
		r.HandleFunc("/api/gyms/{gymId}/members", func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			seen = len(b)
			jsonHandler(http.StatusCreated, `{"member":{"id":"m-1"}}`)(w, r)
		}).Methods("POST")
	})

	body := `{"name":"` + strings.Repeat("a", 64) + `"}`
	h.do("POST", "/api/gyms/gym-1/members", body, nil)

	assert.Equal(t, len(body), seen)
	entries := h.store.all()
	require.Len(t, entries, 1)
	assert.Equal(t, map[string]interface{}{"truncated": true}, entries[0].Metadata["requestBody"])
	assert.NotContains(t, entries[0].Metadata, "responseSuccess", "large response is not decoded")
}

func TestInterceptor_InvalidJSONBodyRecordedEmpty(t *testing.T) {
	h := newHarness(t, staffIdentity(), InterceptorConfig{}, func(r *mux.Router) {
		r.HandleFunc("/api/gyms/{gymId}/classes", jsonHandler(http.StatusCreated, `{"class":{"id":"c-1"}}`)).Methods("POST")
	})

	h.do("POST", "/api/gyms/gym-1/classes", `not json`, nil)
	entries := h.store.all()
	require.Len(t, entries, 1)
	assert.Equal(t, map[string]interface{}{}, entries[0].Metadata["requestBody"])
}

func TestInterceptor_SkipsNon2xx(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError} {
		h := newHarness(t, staffIdentity(), InterceptorConfig{}, func(r *mux.Router) {
			r.HandleFunc("/api/gyms/{gymId}/members/{id}", jsonHandler(status, `{"error":"x"}`)).Methods("DELETE")
		})
		rr := h.do("DELETE", "/api/gyms/gym-1/members/m-1", "", nil)
		assert.Equal(t, status, rr.Code)
		assert.Empty(t, h.store.all(), "status %d", status)
	}
}

func TestInterceptor_IgnoresUnauditedRoutes(t *testing.T) {
	h := newHarness(t, staffIdentity(), InterceptorConfig{}, func(r *mux.Router) {
		r.HandleFunc("/api/gyms/{gymId}/members", jsonHandler(http.StatusOK, `{"members":[]}`)).Methods("GET")
		r.HandleFunc("/api/gyms/{gymId}/memberships/{id}/unfreeze", jsonHandler(http.StatusOK, `{"success":true}`)).Methods("POST")
	})

	h.do("GET", "/api/gyms/gym-1/members", "", nil)
	h.do("POST", "/api/gyms/gym-1/memberships/ms-1/unfreeze", "", nil)
	assert.Empty(t, h.store.all())
}

func TestInterceptor_EntityIDFallbacks(t *testing.T) {
	h := newHarness(t, staffIdentity(), InterceptorConfig{}, func(r *mux.Router) {
		r.HandleFunc("/api/gyms/{gymId}/members/{id}", jsonHandler(http.StatusOK, `{"success":true}`)).Methods("PATCH")
		r.HandleFunc("/api/gyms/{gymId}/trainers", jsonHandler(http.StatusCreated, `{"trainer":{"id":42}}`)).Methods("POST")
		r.HandleFunc("/api/gyms/{gymId}/plans", jsonHandler(http.StatusCreated, `{"plan":{"id":""}}`)).Methods("POST")
	})

	h.do("PATCH", "/api/gyms/gym-1/members/m-77", `{}`, nil)
	h.do("POST", "/api/gyms/gym-1/trainers", `{}`, nil)
	h.do("POST", "/api/gyms/gym-1/plans", `{}`, nil)

	entries := h.store.all()
	require.Len(t, entries, 3)
	assert.Equal(t, "m-77", *entries[0].EntityID)
	assert.Equal(t, "42", *entries[1].EntityID)
	assert.Nil(t, entries[2].EntityID)
}

func TestInterceptor_GymFromIdentity(t *testing.T) {
	rules := Rules{rbac.RouteKey("POST", "/api/members"): {Action: ActionMemberCreated, EntityType: EntityMember}}

	h := newHarness(t, staffIdentity(), InterceptorConfig{Rules: rules}, func(r *mux.Router) {
		r.HandleFunc("/api/members", jsonHandler(http.StatusCreated, `{"member":{"id":"m-1"}}`)).Methods("POST")
	})
	h.do("POST", "/api/members", `{}`, nil)
	entries := h.store.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "gym-1", entries[0].GymID)

	anon := newHarness(t, nil, InterceptorConfig{Rules: rules}, func(r *mux.Router) {
		r.HandleFunc("/api/members", jsonHandler(http.StatusCreated, `{"member":{"id":"m-1"}}`)).Methods("POST")
	})
	rr := anon.do("POST", "/api/members", `{}`, nil)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Empty(t, anon.store.all())
	assert.Equal(t, 1.0, testutil.ToFloat64(anon.metrics.AuditSkippedTotal.WithLabelValues("no_gym")))
}

func TestInterceptor_StoreFailureIsContained(t *testing.T) {
	h := newHarness(t, staffIdentity(), InterceptorConfig{}, func(r *mux.Router) {
		r.HandleFunc("/api/gyms/{gymId}/classes/{id}", jsonHandler(http.StatusOK, `{"success":true}`)).Methods("DELETE")
	})
	h.store.insertErr = errStoreDown

	rr := h.do("DELETE", "/api/gyms/gym-1/classes/c-1", "", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())
	assert.Contains(t, h.logs.String(), "Audit logging failed")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AuditWritesTotal.WithLabelValues("class.deleted", "error")))
}

func TestInterceptor_PanicIsContained(t *testing.T) {
	h := newHarness(t, staffIdentity(), InterceptorConfig{}, func(r *mux.Router) {
		r.HandleFunc("/api/gyms/{gymId}/classes/{id}", jsonHandler(http.StatusOK, `{"success":true}`)).Methods("DELETE")
	})
	h.store.panicOn = true

	rr := h.do("DELETE", "/api/gyms/gym-1/classes/c-1", "", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())
	assert.Contains(t, h.logs.String(), "Audit logging failed")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AuditWritesTotal.WithLabelValues("class.deleted", "panic")))
}

func TestInterceptor_DuplicateReplayNotRecorded(t *testing.T) {
	calls := 0
	h := newHarness(t, staffIdentity(), InterceptorConfig{}, func(r *mux.Router) {
		r.HandleFunc("/api/gyms/{gymId}/payments/collect", func(w http.ResponseWriter, r *http.Request) {
			calls++
			body := `{"success":true,"payment":{"id":"pay-1"}}`
			if calls > 1 {
				body = `{"success":true,"duplicate":true,"payment":{"id":"pay-1"}}`
			}
			jsonHandler(http.StatusOK, body)(w, r)
		}).Methods("POST")
	})

	headers := map[string]string{IdempotencyHeader: "key-1"}
	h.do("POST", "/api/gyms/gym-1/payments/collect", `{"amount":10}`, headers)
	h.do("POST", "/api/gyms/gym-1/payments/collect", `{"amount":10}`, headers)

	assert.Len(t, h.store.all(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AuditSkippedTotal.WithLabelValues("duplicate")))
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestInterceptor_IdempotencyKeyClaimedOnce(t *testing.T) {
	mr, client := newRedis(t)
	h := newHarness(t, staffIdentity(), InterceptorConfig{Deduper: NewDeduper(client, time.Hour)}, func(r *mux.Router) {
		r.HandleFunc("/api/gyms/{gymId}/payments/collect", jsonHandler(http.StatusOK, `{"success":true,"payment":{"id":"pay-1"}}`)).Methods("POST")
	})

	headers := map[string]string{IdempotencyHeader: "key-1"}
	h.do("POST", "/api/gyms/gym-1/payments/collect", `{}`, headers)
	h.do("POST", "/api/gyms/gym-1/payments/collect", `{}`, headers)
	h.do("POST", "/api/gyms/gym-1/payments/collect", `{}`, map[string]string{IdempotencyHeader: "key-2"})
	h.do("POST", "/api/gyms/gym-1/payments/collect", `{}`, nil)

	assert.Len(t, h.store.all(), 3)
	assert.True(t, mr.Exists("audit:idem:gym-1:key-1"))
	assert.Equal(t, time.Hour, mr.TTL("audit:idem:gym-1:key-1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AuditSkippedTotal.WithLabelValues("idempotent_replay")))
}

func TestInterceptor_IdempotencyFailsOpen(t *testing.T) {
	mr, client := newRedis(t)
	h := newHarness(t, staffIdentity(), InterceptorConfig{Deduper: NewDeduper(client, time.Hour)}, func(r *mux.Router) {
		r.HandleFunc("/api/gyms/{gymId}/payments/collect", jsonHandler(http.StatusOK, `{"success":true,"payment":{"id":"pay-1"}}`)).Methods("POST")
	})
	mr.Close()

	rr := h.do("POST", "/api/gyms/gym-1/payments/collect", `{}`, map[string]string{IdempotencyHeader: "key-1"})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, h.store.all(), 1)
	assert.Contains(t, h.logs.String(), "Idempotency check failed")
}

func TestInterceptor_ReleasesClaimOnWriteFailure(t *testing.T) {
	mr, client := newRedis(t)
	h := newHarness(t, staffIdentity(), InterceptorConfig{Deduper: NewDeduper(client, time.Hour)}, func(r *mux.Router) {
		r.HandleFunc("/api/gyms/{gymId}/payments/collect", jsonHandler(http.StatusOK, `{"success":true,"payment":{"id":"pay-1"}}`)).Methods("POST")
	})
	headers := map[string]string{IdempotencyHeader: "key-1"}

	h.store.insertErr = errStoreDown
	h.do("POST", "/api/gyms/gym-1/payments/collect", `{}`, headers)
	assert.False(t, mr.Exists("audit:idem:gym-1:key-1"))

	h.store.mu.Lock()
	h.store.insertErr = nil
	h.store.mu.Unlock()
	h.do("POST", "/api/gyms/gym-1/payments/collect", `{}`, headers)
	assert.Len(t, h.store.all(), 1)
}

func TestInterceptor_PoolDispatch(t *testing.T) {
	pool := async.NewWorkerPool(context.Background(), 2, "audit-write", time.Second, async.WithQueueSize(8))
	defer pool.Shutdown(time.Second)

	h := newHarness(t, staffIdentity(), InterceptorConfig{Pool: pool}, func(r *mux.Router) {
		r.HandleFunc("/api/gyms/{gymId}/classes/{id}/attendance", jsonHandler(http.StatusCreated, `{"attendance":{"id":"att-1"}}`)).Methods("POST")
	})

	rr := h.do("POST", "/api/gyms/gym-1/classes/c-1/attendance", `{"memberId":"m-1"}`, nil)
	assert.Equal(t, http.StatusCreated, rr.Code)

	select {
	case <-h.store.inserted:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not write the audit entry")
	}
	entries := h.store.all()
	require.Len(t, entries, 1)
	assert.Equal(t, ActionAttendanceMarked, entries[0].Action)
	assert.Equal(t, "att-1", *entries[0].EntityID)
}

func TestInterceptor_ClosedPoolDropsEntry(t *testing.T) {
	pool := async.NewWorkerPool(context.Background(), 1, "audit-write", time.Second)
	require.NoError(t, pool.Shutdown(time.Second))

	h := newHarness(t, staffIdentity(), InterceptorConfig{Pool: pool}, func(r *mux.Router) {
		r.HandleFunc("/api/gyms/{gymId}/plans", jsonHandler(http.StatusCreated, `{"plan":{"id":"p-1"}}`)).Methods("POST")
	})

	rr := h.do("POST", "/api/gyms/gym-1/plans", `{}`, nil)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Empty(t, h.store.all())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AuditSkippedTotal.WithLabelValues("pool_closed")))
	assert.Contains(t, h.logs.String(), "Audit entry dropped")
}

func TestCaptureWriter(t *testing.T) {
	rr := httptest.NewRecorder()
	cw := &captureWriter{ResponseWriter: rr, status: http.StatusOK, limit: 1024}

	cw.WriteHeader(http.StatusAccepted)
	cw.WriteHeader(http.StatusTeapot)
	_, err := cw.Write([]byte(`{"success":false}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, cw.status)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, map[string]interface{}{"success": false}, cw.jsonObject())
	assert.Same(t, rr, cw.Unwrap().(*httptest.ResponseRecorder))

	arr := &captureWriter{ResponseWriter: httptest.NewRecorder(), limit: 1024}
	_, _ = arr.Write([]byte(`[1,2]`))
	assert.Nil(t, arr.jsonObject())

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(map[string]string{"k": strings.Repeat("v", 64)}))
	small := &captureWriter{ResponseWriter: httptest.NewRecorder(), limit: 8}
	_, _ = small.Write(buf.Bytes())
	assert.True(t, small.overflow)
	assert.Nil(t, small.jsonObject())
}
