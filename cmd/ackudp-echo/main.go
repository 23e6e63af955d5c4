// Command ackudp-echo is a minimal demonstration of the ackudp transport:
// it binds a local address, echoes every reassembled message back to its
// sender, and serves its Prometheus metrics over HTTP until interrupted.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/idavydoff/ackudp"
	"github.com/idavydoff/ackudp/pkg/logger"
)

const version = "0.1.0"

func main() {
	addr := flag.String("addr", "127.0.0.1:9411", "address to bind")
	metricsAddr := flag.String("metrics-addr", "127.0.0.1:9412", "address to serve Prometheus metrics on")
	flag.Parse()

	logger.Banner("ackudp-echo", version)

	transport, err := ackudp.New(*addr)
	if err != nil {
		logger.Section("startup failed")
		os.Exit(1)
	}
	defer transport.Shutdown()

	registry := prometheus.NewRegistry()
	registry.MustRegister(transport.Metrics())
	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		_ = http.ListenAndServe(*metricsAddr, nil)
	}()

	logger.Section("echoing datagrams")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go echoLoop(transport, done)

	<-sig
	close(done)
	time.Sleep(50 * time.Millisecond) // let the echo loop notice and return
}

func echoLoop(t *ackudp.Transport, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		from, payload, ok := t.Recv()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		_, _ = t.Send(payload, from)
	}
}
