// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dtrace drives a tracing session: it applies -x option
// settings to a fresh handle, starts the session, and runs the work
// loop until the traced workload exits or the user interrupts it.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dtracego"
	"dtracego/perfring"
	"dtracego/provider"
)

func main() {
	var (
		optSettings []string
		verbose     bool
		tracefs     string
	)

	log := logrus.New()

	root := &cobra.Command{
		Use:   "dtrace",
		Short: "Userspace dynamic tracing front end",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringArrayVarP(&optSettings, "xopt", "x", nil,
		"set an option, name or name=value (repeatable)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&tracefs, "tracefs", "", "tracefs mount point")

	run := &cobra.Command{
		Use:   "run",
		Short: "Start a session and drain records until it stops",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHandle(log, optSettings)
			if err != nil {
				return err
			}
			defer h.Close()
			return runSession(h, log)
		},
	}

	probes := &cobra.Command{
		Use:   "probes [pattern]",
		Short: "List the probes the FBT provider can enable",
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := ""
			if len(args) > 0 {
				pattern = args[0]
			}
			return listProbes(tracefs, pattern)
		},
	}

	root.AddCommand(run, probes)
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func newHandle(log *logrus.Logger, settings []string) (*dtracego.Handle, error) {
	h, err := dtracego.NewHandle(log, "")
	if err != nil {
		return nil, err
	}
	for _, s := range settings {
		name, val, _ := strings.Cut(s, "=")
		if err := h.SetOpt(name, val); err != nil {
			h.Close()
			return nil, fmt.Errorf("-x %s: %w", s, err)
		}
	}
	return h, nil
}

func runSession(h *dtracego.Handle, log *logrus.Logger) error {
	ring := perfring.NewConsumer()
	defer ring.Close()

	rc := &dtracego.RingConsumer{Handle: h, Ring: ring, TimeoutMS: 100}
	sess := dtracego.NewSession(h.Opts)
	sess.Ring = rc
	sess.Consume = rc
	sess.Handler = &dtracego.LostReporter{H: h, Ring: ring}

	if v, err := h.GetOpt("bufsize"); err != nil {
		return err
	} else if v <= 0 {
		// Default to 4MB per CPU when the user never sized the buffers.
		if err := h.SetOpt("bufsize", "4m"); err != nil {
			return err
		}
	}

	if err := sess.Go(h.Opts.CFlags); err != nil {
		return err
	}
	h.Opts.Active = true
	defer func() { h.Opts.Active = false }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	rate := time.Second
	if v, err := h.GetOpt("switchrate"); err == nil && v > 0 {
		rate = time.Duration(v) * time.Nanosecond
	}
	tick := time.NewTicker(rate)
	defer tick.Stop()

	for {
		select {
		case <-sig:
			log.Debug("interrupted, stopping session")
			if err := sess.Stop(); err != nil {
				return err
			}
		case <-tick.C:
		}

		st, err := sess.Work(h.Sink(), nil, nil, nil)
		if err != nil {
			return err
		}
		if st == dtracego.WorkDone {
			return sess.Stop()
		}
	}
}

func listProbes(tracefs, pattern string) error {
	fbt := provider.NewFBT(tracefs)
	var probes probeList
	if _, err := fbt.Populate(&probes); err != nil {
		return err
	}
	for _, d := range probes {
		if pattern != "" && !strings.Contains(d.Function, pattern) {
			continue
		}
		fmt.Println(d)
	}
	return nil
}

type probeList []provider.Desc

func (l *probeList) AddProbe(d provider.Desc) { *l = append(*l, d) }
