package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opentsn/qbv-engine/addons/softtas"
	"github.com/opentsn/qbv-engine/pkg/admission"
	"github.com/opentsn/qbv-engine/pkg/config"
	"github.com/opentsn/qbv-engine/pkg/daemon"
	"github.com/opentsn/qbv-engine/pkg/event"
	"github.com/opentsn/qbv-engine/pkg/metrics"
	"github.com/opentsn/qbv-engine/pkg/plugin"
	"github.com/opentsn/qbv-engine/pkg/timebase"
)

// Git commit of current build set at build time
var GitCommit = "Undefined"

const defaultConfigPath = "/etc/qbv-engine/gates.yaml"

type cliParams struct {
	configPath  string
	metricsAddr string
	ackTimeout  time.Duration
}

// Parse command line flags
func (cp *cliParams) flagInit() {
	flag.StringVar(&cp.configPath, "gate-config-path", defaultConfigPath,
		"gate schedule configuration file")
	flag.StringVar(&cp.metricsAddr, "metrics-bind-address", ":9087",
		"address to serve Prometheus metrics on, empty disables")
	flag.DurationVar(&cp.ackTimeout, "ack-timeout", 0,
		"backend acknowledgment deadline, overrides the config file")
	flag.Parse()
	cp.debugPrint()
}

func (cp *cliParams) debugPrint() {
	glog.Infof("gate config path set to: %s", cp.configPath)
	glog.Infof("metrics bind address set to: %s", cp.metricsAddr)
	glog.Infof("ack timeout override: %v", cp.ackTimeout)
}

func main() {
	fmt.Printf("Git commit: %s\n", GitCommit)
	cp := &cliParams{}
	cp.flagInit()

	cfg, err := config.Read(cp.configPath)
	if err != nil {
		glog.Errorf("failed to load gate configuration: %v", err)
		os.Exit(1)
	}
	glog.Infof("loaded gate configuration for %d ports", len(cfg.Ports))

	metrics.RegisterMetrics()
	if cp.metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cp.metricsAddr, mux); err != nil {
				glog.Errorf("metrics listener: %v", err)
			}
		}()
	}

	clock := timebase.System()
	ackTimeout := cp.ackTimeout
	if ackTimeout == 0 {
		ackTimeout = cfg.Engine.AckTimeout()
	}
	dispatcher := plugin.NewDispatcher(ackTimeout)
	if err := dispatcher.Register(softtas.New(clock, 0)); err != nil {
		glog.Errorf("failed to register softtas backend: %v", err)
		os.Exit(1)
	}

	notifier := event.NewStateNotifier()
	controller := admission.New(clock, dispatcher, cfg.Engine.AdmissionOptions(), notifier)

	dn := daemon.New(cp.configPath, controller, dispatcher)
	if err := dn.Apply(cfg); err != nil {
		glog.Errorf("initial apply finished with errors: %v", err)
	}

	stopCh := make(chan struct{})
	go func() {
		if err := dn.Run(stopCh); err != nil {
			glog.Errorf("daemon: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	glog.Infof("received signal %v, shutting down", sig)
	close(stopCh)
}
