// Package daemon drives the engine pipeline: it turns file-based gate
// configuration into validated, compiled, admitted schedules and re-applies
// the pipeline whenever the configuration file changes.
package daemon

import (
	"errors"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"

	"github.com/opentsn/qbv-engine/pkg/admission"
	"github.com/opentsn/qbv-engine/pkg/config"
	"github.com/opentsn/qbv-engine/pkg/metrics"
	"github.com/opentsn/qbv-engine/pkg/plugin"
	"github.com/opentsn/qbv-engine/pkg/schedule"
	"github.com/opentsn/qbv-engine/pkg/timeline"
)

// Daemon applies engine configuration to the admission controller. One
// Daemon serves one configuration file.
type Daemon struct {
	configPath string
	controller *admission.Controller
	dispatcher *plugin.Dispatcher
	applied    map[schedule.PortID]bool
}

// New builds a Daemon around an already-constructed controller and
// dispatcher.
func New(configPath string, controller *admission.Controller, dispatcher *plugin.Dispatcher) *Daemon {
	return &Daemon{
		configPath: configPath,
		controller: controller,
		dispatcher: dispatcher,
		applied:    make(map[schedule.PortID]bool),
	}
}

// Apply walks every configured port through the pipeline: capability
// registration, model construction, validation, compilation and activation
// request. A failure on one port is logged and reported but does not stop
// the others. Ports dropped from the configuration are removed.
func (d *Daemon) Apply(cfg *config.Config) error {
	validator := cfg.Engine.Validator()
	guard := cfg.Engine.GuardBandSpec()

	var errs []error
	current := make(map[schedule.PortID]bool)
	for i := range cfg.Ports {
		pc := &cfg.Ports[i]
		port := pc.Capability()
		current[port.ID] = true
		if err := d.applyPort(pc, port, validator, guard); err != nil {
			glog.Errorf("port %s: %v", port.ID, err)
			errs = append(errs, fmt.Errorf("port %s: %w", port.ID, err))
		}
	}

	for id := range d.applied {
		if !current[id] {
			if err := d.controller.RemovePort(id); err != nil {
				errs = append(errs, err)
			}
			delete(d.applied, id)
		}
	}
	return errors.Join(errs...)
}

func (d *Daemon) applyPort(pc *config.PortConfig, port schedule.Port, validator schedule.Validator, guard timeline.GuardBand) error {
	if !d.applied[port.ID] {
		if err := d.controller.AddPort(port); err != nil {
			return err
		}
		d.applied[port.ID] = true
	}
	if pc.Backend != "" {
		if err := d.dispatcher.Bind(port.ID, pc.Backend); err != nil {
			return err
		}
	}
	if pc.GateTable == nil || !pc.GateTable.GateEnabled {
		glog.Infof("port %s: gating disabled, no schedule applied", port.ID)
		return nil
	}

	s, err := pc.GateTable.ToSchedule(port.ID)
	if err != nil {
		return err
	}
	if err := validator.Check(port, s); err != nil {
		return err
	}
	tl, warnings, err := timeline.Compile(s, guard)
	if err != nil {
		return err
	}
	for range warnings {
		metrics.CompileWarningsTotal.WithLabelValues(string(port.ID)).Inc()
	}
	tx, err := d.controller.RequestActivation(tl, s.BaseTime)
	if err != nil {
		return err
	}
	glog.Infof("port %s: activation %s for %v", port.ID, tx.Status(), tx.ActivateAt)
	return nil
}

// Run watches the configuration file and re-applies it on change, until
// stopCh closes. The initial configuration must have been applied by the
// caller; Run only handles updates.
func (d *Daemon) Run(stopCh <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(d.configPath); err != nil {
		return fmt.Errorf("failed to watch %s: %w", d.configPath, err)
	}
	glog.Infof("watching %s for gate configuration updates", d.configPath)

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			glog.Infof("configuration change detected: %s", ev)
			cfg, err := config.Read(d.configPath)
			if err != nil {
				glog.Errorf("ignoring config update: %v", err)
				continue
			}
			if err := d.Apply(cfg); err != nil {
				glog.Errorf("config apply finished with errors: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			glog.Errorf("config watcher: %v", err)
		case <-stopCh:
			return nil
		}
	}
}
