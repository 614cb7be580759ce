/*
Package database opens the gateway's GORM handle and manages its
connection pool.

Open selects the driver (postgres, mysql or sqlite) and silences GORM's
own logging; the gateway logs through zap. PoolManager applies the pool
limits from PoolConfig and, when StatsInterval is set, publishes open
and idle connection gauges through the metrics collector until Close.
*/
package database
