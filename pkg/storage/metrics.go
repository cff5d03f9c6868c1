// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package storage

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StoreMetrics counts BlockStore activity. A nil *StoreMetrics is valid
// and records nothing.
type StoreMetrics struct {
	BlocksInUse  prometheus.Gauge
	Allocations  prometheus.Counter
	Deallocation prometheus.Counter
	Exhausted    prometheus.Counter
}

func NewStoreMetrics(namespace string) *StoreMetrics {
	return &StoreMetrics{
		BlocksInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "block_store",
			Name:      "blocks_in_use",
			Help:      "Number of blocks handed out and not yet returned.",
		}),
		Allocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "block_store",
			Name:      "allocations_total",
			Help:      "Number of blocks handed out.",
		}),
		Deallocation: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "block_store",
			Name:      "deallocations_total",
			Help:      "Number of blocks returned to the pool.",
		}),
		Exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "block_store",
			Name:      "exhausted_total",
			Help:      "Number of block requests refused because the pool was empty.",
		}),
	}
}

func (m *StoreMetrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.BlocksInUse, m.Allocations, m.Deallocation, m.Exhausted} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *StoreMetrics) allocated() {
	if m == nil {
		return
	}
	m.Allocations.Inc()
	m.BlocksInUse.Inc()
}

func (m *StoreMetrics) deallocated() {
	if m == nil {
		return
	}
	m.Deallocation.Inc()
	m.BlocksInUse.Dec()
}

func (m *StoreMetrics) exhausted() {
	if m == nil {
		return
	}
	m.Exhausted.Inc()
}
