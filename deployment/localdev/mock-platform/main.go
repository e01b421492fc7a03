package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
)

type dyno struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// fleet simulates one app's web dynos, one of which is slow until stopped.
type fleet struct {
	mu      sync.Mutex
	dynos   map[string]*dyno
	slow    string
	latency time.Duration
}

func newFleet(size int, slow string) *fleet {
	f := &fleet{dynos: make(map[string]*dyno, size), slow: slow}
	for n := 1; n <= size; n++ {
		name := fmt.Sprintf("web.%d", n)
		f.dynos[name] = &dyno{
			ID:        fmt.Sprintf("d%04d", n),
			Name:      name,
			Type:      "web",
			State:     "up",
			UpdatedAt: time.Now().Add(-2 * time.Hour),
		}
	}
	return f
}

func (f *fleet) list() []dyno {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]dyno, 0, len(f.dynos))
	for _, d := range f.dynos {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// stop restarts a dyno. A restarted dyno is no longer slow.
func (f *fleet) stop(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.dynos[name]
	if !ok {
		return false
	}
	d.State = "starting"
	d.UpdatedAt = time.Now()
	if f.slow == name {
		f.slow = ""
	}
	time.AfterFunc(5*time.Second, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		d.State = "up"
	})
	return true
}

// line renders one router log line for a random up dyno.
func (f *fleet) line() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.dynos))
	for name, d := range f.dynos {
		if d.State == "up" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	name := names[rand.IntN(len(names))]
	seconds := 0.15 + rand.Float64()*0.1
	if name == f.slow {
		seconds *= 6
	}
	return fmt.Sprintf("%s app[%s]: GET /items 200 %d %.3f",
		time.Now().UTC().Format(time.RFC3339), name, 200+rand.IntN(800), seconds)
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	size := flag.Int("dynos", 6, "number of web dynos")
	slow := flag.String("slow", "web.2", "dyno that answers slowly until stopped")
	rate := flag.Duration("rate", 5*time.Millisecond, "delay between generated log lines")
	redisAddr := flag.String("redis", "", "also publish log lines to this Redis address")
	flag.Parse()

	logger := log.New(log.Writer(), "platform-mock ", log.LstdFlags|log.Lmicroseconds)
	f := newFleet(*size, *slow)

	if *redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer client.Close()
		go publish(context.Background(), logger, client, f, *rate)
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	apps := r.PathPrefix("/apps/{app}").Subrouter()
	apps.HandleFunc("/dynos", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, f.list())
	}).Methods(http.MethodGet)

	apps.HandleFunc("/dynos/{dyno}/actions/stop", func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["dyno"]
		if !f.stop(name) {
			writeJSON(w, http.StatusNotFound, map[string]string{"id": "not_found", "message": "Couldn't find that dyno."})
			return
		}
		logger.Printf("stopped %s", name)
		writeJSON(w, http.StatusAccepted, map[string]any{})
	}).Methods(http.MethodPost)

	apps.HandleFunc("/log-sessions", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Dyno string `json:"dyno"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":          fmt.Sprintf("session-%d", time.Now().UnixNano()),
			"logplex_url": fmt.Sprintf("http://%s/streams/%s", r.Host, mux.Vars(r)["app"]),
		})
	}).Methods(http.MethodPost)

	r.HandleFunc("/streams/{app}", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)

		ticker := time.NewTicker(*rate)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if line := f.line(); line != "" {
					fmt.Fprintln(w, line)
					flusher.Flush()
				}
			}
		}
	}).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:    *addr,
		Handler: logRequests(logger, r),
	}

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func publish(ctx context.Context, logger *log.Logger, client *redis.Client, f *fleet, rate time.Duration) {
	ticker := time.NewTicker(rate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			line := f.line()
			if line == "" {
				continue
			}
			if err := client.Publish(ctx, "logs:web", line).Err(); err != nil {
				logger.Printf("publish error: %v", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the logging wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
