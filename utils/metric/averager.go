// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metric provides small wrappers over prometheus primitives.
package metric

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Averager tracks a running average exported as a pair of counters.
type Averager interface {
	Observe(value float64)
}

type averager struct {
	count prometheus.Counter
	sum   prometheus.Counter
}

// NewAverager creates an Averager registered on reg as <name>_count and
// <name>_sum.
func NewAverager(name, help string, reg prometheus.Registerer) (Averager, error) {
	a := &averager{
		count: prometheus.NewCounter(prometheus.CounterOpts{
			Name: name + "_count",
			Help: "Number of observations of " + help,
		}),
		sum: prometheus.NewCounter(prometheus.CounterOpts{
			Name: name + "_sum",
			Help: "Sum of " + help,
		}),
	}
	if err := reg.Register(a.count); err != nil {
		return nil, fmt.Errorf("failed to register %s_count: %w", name, err)
	}
	if err := reg.Register(a.sum); err != nil {
		return nil, fmt.Errorf("failed to register %s_sum: %w", name, err)
	}
	return a, nil
}

func (a *averager) Observe(value float64) {
	a.count.Inc()
	a.sum.Add(value)
}
