// Package metrics defines the Prometheus instruments exported by the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the counters updated by the ingestion, upload and sync
// paths. Register once and share.
type Metrics struct {
	// DocumentsIngested counts accepted uploads by result ("created" or
	// "duplicate").
	DocumentsIngested *prometheus.CounterVec
	// Uploads counts finished remote upload attempts by result ("ok" or
	// "failed").
	Uploads *prometheus.CounterVec
	// UploadBatches counts worker batch rounds.
	UploadBatches prometheus.Counter
	// SyncRuns counts reconciliation runs.
	SyncRuns prometheus.Counter
	// SyncFindings counts reconciliation findings by bucket.
	SyncFindings *prometheus.CounterVec
}

// New registers the service counters with reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DocumentsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fsmirror_documents_ingested_total",
			Help: "Documents accepted for ingestion, by result.",
		}, []string{"result"}),
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fsmirror_uploads_total",
			Help: "Finished remote upload attempts, by result.",
		}, []string{"result"}),
		UploadBatches: f.NewCounter(prometheus.CounterOpts{
			Name: "fsmirror_upload_batches_total",
			Help: "Upload worker batch rounds.",
		}),
		SyncRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "fsmirror_sync_runs_total",
			Help: "Reconciliation runs.",
		}),
		SyncFindings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fsmirror_sync_findings_total",
			Help: "Reconciliation findings, by bucket.",
		}, []string{"bucket"}),
	}
}
