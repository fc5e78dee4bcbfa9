package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordReadMetric   = promauto.NewCounter(prometheus.CounterOpts{Name: "sovrium_record_reads", Help: "Record reads"})
	recordWriteMetric  = promauto.NewCounter(prometheus.CounterOpts{Name: "sovrium_record_writes", Help: "Record writes"})
	recordDeleteMetric = promauto.NewCounter(prometheus.CounterOpts{Name: "sovrium_record_deletes", Help: "Record deletes"})

	batchRecordsMetric = promauto.NewSummary(prometheus.SummaryOpts{Name: "sovrium_batch_size", Help: "Batch operation sizes"})

	migrationAppliedMetric = promauto.NewCounter(prometheus.CounterOpts{Name: "sovrium_migrations_applied", Help: "Applied table migrations"})
	migrationFailedMetric  = promauto.NewCounter(prometheus.CounterOpts{Name: "sovrium_migrations_failed", Help: "Failed table migrations"})
)
