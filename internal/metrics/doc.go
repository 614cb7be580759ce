/*
Package metrics provides Prometheus instrumentation for the gateway,
covering routing, dispatch, health probing, circuit breakers, caching
and database pools.

# Overview

The Collector registers all instruments through one promauto factory
bound to a caller-supplied Registerer, so tests can use an isolated
prometheus.NewRegistry. A nil *Collector records nothing; every
component treats it as optional.

# Instruments

  - Routing: request counter by outcome, decision latency histogram.
  - Dispatch: per-team counter by status, latency histogram, retry
    counter.
  - Health: probe counter by result, breaker state gauge, breaker open
    transition counter, registered-team gauge.
  - Cache: hit and miss counters by cache type.
  - Database: open/idle connection gauges.
*/
package metrics
