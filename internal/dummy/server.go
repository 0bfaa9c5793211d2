package dummy

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Headers a routed deployment adds to every response. They give header
// extraction something realistic to pick up.
const (
	HeaderAppGwIP = "AzRef-AppGwIp"
	HeaderNodeIP  = "AzRef-NodeIp"
	HeaderPodName = "AzRef-PodName"
)

type ServerConfig struct {
	Port int

	// Identity reported in the AzRef-* headers.
	AppGwIP string
	NodeIP  string
	PodName string

	// Sleep is swapped in tests.
	Sleep func(time.Duration)
}

func (c *ServerConfig) applyDefaults() {
	if c.AppGwIP == "" {
		c.AppGwIP = "10.1.0.4"
	}
	if c.NodeIP == "" {
		c.NodeIP = "10.240.0.5"
	}
	if c.PodName == "" {
		c.PodName = "azrefapp-7d9c5b6f4-x2k8q"
	}
	if c.Sleep == nil {
		c.Sleep = time.Sleep
	}
}

// Handler serves /fast, /medium, /slow, /spike and /error.
func Handler(cfg ServerConfig) http.Handler {
	cfg.applyDefaults()
	sleep := cfg.Sleep
	mux := http.NewServeMux()

	// 10-50ms
	mux.HandleFunc("/fast", func(w http.ResponseWriter, r *http.Request) {
		sleep(time.Duration(rand.Intn(40)+10) * time.Millisecond)
		reply(w, http.StatusOK, "Fast response")
	})

	// 100-300ms
	mux.HandleFunc("/medium", func(w http.ResponseWriter, r *http.Request) {
		sleep(time.Duration(rand.Intn(200)+100) * time.Millisecond)
		reply(w, http.StatusOK, "Medium response")
	})

	// 1-2s, enough to trip client timeouts
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		sleep(time.Duration(rand.Intn(1000)+1000) * time.Millisecond)
		reply(w, http.StatusOK, "Slow response")
	})

	// usually fast, 5% of requests take 2s
	mux.HandleFunc("/spike", func(w http.ResponseWriter, r *http.Request) {
		if rand.Float32() < 0.05 {
			sleep(2 * time.Second)
		} else {
			sleep(20 * time.Millisecond)
		}
		reply(w, http.StatusOK, "Spikey response")
	})

	mux.HandleFunc("/error", func(w http.ResponseWriter, r *http.Request) {
		switch rnd := rand.Float32(); {
		case rnd < 0.2:
			reply(w, http.StatusInternalServerError, "500 Internal Server Error")
		case rnd < 0.4:
			reply(w, http.StatusTooManyRequests, "429 Too Many Requests")
		default:
			reply(w, http.StatusOK, "OK")
		}
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set(HeaderAppGwIP, cfg.AppGwIP)
		h.Set(HeaderNodeIP, cfg.NodeIP)
		h.Set(HeaderPodName, cfg.PodName)
		mux.ServeHTTP(w, r)
	})
}

func reply(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// Serve runs the demo target until ctx is done.
func Serve(ctx context.Context, cfg ServerConfig, log *logrus.Entry) error {
	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           Handler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.WithFields(logrus.Fields{
		"addr":      "http://localhost" + addr,
		"endpoints": "/fast, /medium, /slow, /spike, /error",
	}).Info("dummy server running")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "dummy server")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
