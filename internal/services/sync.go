package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/fsmirror/internal/common"
	"github.com/dmitrijs2005/fsmirror/internal/dbx"
	"github.com/dmitrijs2005/fsmirror/internal/gemini"
	"github.com/dmitrijs2005/fsmirror/internal/logging"
	"github.com/dmitrijs2005/fsmirror/internal/metrics"
	"github.com/dmitrijs2005/fsmirror/internal/models"
	"github.com/dmitrijs2005/fsmirror/internal/repositories/documents"
	"github.com/dmitrijs2005/fsmirror/internal/repositories/repomanager"
)

// sampleLimit bounds the per-bucket document samples in a sync report. The
// counts always cover everything found.
const sampleLimit = 10

// syncPageSize pages the local document listing during reconciliation.
const syncPageSize = 500

// SyncBucket is one finding category of a sync report: how many documents
// landed in it and a bounded sample of their labels.
type SyncBucket struct {
	Count int      `json:"count"`
	Docs  []string `json:"docs"`
}

func (b *SyncBucket) add(label string) {
	b.Count++
	if len(b.Docs) < sampleLimit {
		b.Docs = append(b.Docs, label)
	}
}

// SyncSummary totals one reconciliation run. MatchedDocuments counts clean
// matches only; pairs with metadata findings are reported in their buckets
// instead.
type SyncSummary struct {
	LocalDocuments   int `json:"Local Documents"`
	RemoteDocuments  int `json:"Remote Documents"`
	MatchedDocuments int `json:"Matched Documents"`
}

// SyncReport is the outcome of one reconciliation run, keyed the way
// operators read it.
type SyncReport struct {
	MissingFromLocal  SyncBucket  `json:"Missing from Local"`
	MissingFromGemini SyncBucket  `json:"Missing from Gemini"`
	MissingMetadata   SyncBucket  `json:"Missing Metadata"`
	MetadataMismatch  SyncBucket  `json:"Metadata Mismatch"`
	UnmatchedFields   SyncBucket  `json:"Unmatched Fields"`
	Duplicates        SyncBucket  `json:"Duplicate Documents"`
	Summary           SyncSummary `json:"Summary"`
}

func newSyncReport() *SyncReport {
	return &SyncReport{
		MissingFromLocal:  SyncBucket{Docs: []string{}},
		MissingFromGemini: SyncBucket{Docs: []string{}},
		MissingMetadata:   SyncBucket{Docs: []string{}},
		MetadataMismatch:  SyncBucket{Docs: []string{}},
		UnmatchedFields:   SyncBucket{Docs: []string{}},
		Duplicates:        SyncBucket{Docs: []string{}},
	}
}

// syncAction is one planned document mutation. Exactly one of confirm,
// requeue, or state applies.
type syncAction struct {
	docID      int64
	confirm    bool
	requeue    bool
	state      models.SyncState
	remoteName string
}

// SyncService reconciles the local mirror of one filestore against the full
// remote document listing.
type SyncService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	client      gemini.Client
	metrics     *metrics.Metrics
	logger      logging.Logger
}

func NewSyncService(db *sql.DB, repomanager repomanager.RepositoryManager, client gemini.Client, m *metrics.Metrics, logger logging.Logger) *SyncService {
	return &SyncService{
		db:          db,
		repomanager: repomanager,
		client:      client,
		metrics:     m,
		logger:      logger,
	}
}

// Run loads the local documents of a filestore and the remote listing of its
// store, matches them (content hash first, display name as fallback), flags
// every discrepancy on the documents, and returns the report. The run only
// annotates and re-queues; it never deletes anything on either side. Running
// it twice against an unchanged remote store yields the same report.
func (s *SyncService) Run(ctx context.Context, filestoreID int64, user *string) (*SyncReport, error) {
	fsRepo := s.repomanager.Filestores(s.db)
	fs, err := fsRepo.GetByID(ctx, filestoreID, user)
	if err != nil {
		return nil, err
	}
	if fs.Name == "" {
		return nil, fmt.Errorf("%w: filestore %d has no remote store", common.ErrInvalidInput, filestoreID)
	}

	local, err := s.loadLocal(ctx, filestoreID, user)
	if err != nil {
		return nil, err
	}
	remote, err := s.client.ListDocuments(ctx, fs.Name)
	if err != nil {
		return nil, err
	}

	report, actions := classify(local, remote)

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		docRepo := s.repomanager.Documents(tx)
		for _, a := range actions {
			var err error
			switch {
			case a.confirm:
				err = docRepo.ConfirmMatched(ctx, a.docID, a.remoteName)
			case a.requeue:
				err = docRepo.RequeueMissing(ctx, a.docID)
			default:
				err = docRepo.SetSyncState(ctx, a.docID, a.state)
			}
			if err != nil {
				return fmt.Errorf("apply sync finding to document %d: %w", a.docID, err)
			}
		}
		return s.repomanager.Filestores(tx).RecomputeStats(ctx, filestoreID)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.SyncRuns.Inc()
	s.countFindings(report)
	s.logger.Info(ctx, "sync finished", "filestore", filestoreID,
		"local", report.Summary.LocalDocuments, "remote", report.Summary.RemoteDocuments,
		"matched", report.Summary.MatchedDocuments)
	return report, nil
}

// loadLocal pages through the filestore's documents in insertion order.
func (s *SyncService) loadLocal(ctx context.Context, filestoreID int64, user *string) ([]*models.Document, error) {
	docRepo := s.repomanager.Documents(s.db)
	var all []*models.Document
	for skip := 0; ; skip += syncPageSize {
		page, err := docRepo.List(ctx, &documents.Query{
			User:        user,
			FilestoreID: filestoreID,
			Sort:        "id",
			Take:        syncPageSize,
			Skip:        skip,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < syncPageSize {
			return all, nil
		}
	}
}

// classify matches every remote document to at most one local document and
// sorts the outcomes into report buckets plus the mutations to apply.
//
// Matching walks the remote listing in order. The hash carried in remote
// custom metadata is authoritative: when it resolves to a local document the
// pair is fixed, and a display-name fallback is only tried for remote
// documents without a usable hash. Each local document takes at most one
// remote; name collisions resolve to the earliest-inserted local document
// still unmatched, and any further remote copy lands in the duplicates
// bucket.
func classify(local []*models.Document, remote []gemini.Document) (*SyncReport, []syncAction) {
	report := newSyncReport()
	report.Summary.LocalDocuments = len(local)
	report.Summary.RemoteDocuments = len(remote)

	byHash := make(map[string]*models.Document, len(local))
	byName := make(map[string][]*models.Document)
	for _, l := range local {
		if _, ok := byHash[l.Hash]; !ok {
			byHash[l.Hash] = l
		}
		byName[l.DisplayName] = append(byName[l.DisplayName], l)
	}

	matched := make(map[int64]*gemini.Document, len(local))
	duplicated := make(map[int64]bool)
	var actions []syncAction

	markDuplicate := func(l *models.Document) {
		report.Duplicates.add(l.Label())
		if !duplicated[l.ID] {
			duplicated[l.ID] = true
			actions = append(actions, syncAction{docID: l.ID, state: models.SyncStateDuplicateFile})
		}
	}

	for i := range remote {
		r := &remote[i]

		if h, ok := r.MetaValues().String(models.MetaKeyHash); ok && h != "" {
			if l, ok := byHash[h]; ok {
				if _, taken := matched[l.ID]; taken {
					markDuplicate(l)
				} else {
					matched[l.ID] = r
				}
				continue
			}
		}

		candidates := byName[r.DisplayName]
		var target *models.Document
		for _, l := range candidates {
			if _, taken := matched[l.ID]; !taken {
				target = l
				break
			}
		}
		switch {
		case target != nil:
			matched[target.ID] = r
		case len(candidates) > 0:
			markDuplicate(candidates[0])
		default:
			report.MissingFromLocal.add(r.DisplayName)
		}
	}

	for _, l := range local {
		r, ok := matched[l.ID]
		if !ok {
			report.MissingFromGemini.add(l.Label())
			if l.State == models.StateActive || l.Name != "" {
				actions = append(actions, syncAction{docID: l.ID, requeue: true})
			} else {
				// Pending or failed documents keep their lifecycle state;
				// the overlay alone records that nothing remote exists yet.
				actions = append(actions, syncAction{docID: l.ID, state: models.SyncStateMissingRemote})
			}
			continue
		}
		if duplicated[l.ID] {
			continue
		}

		mv := r.MetaValues()
		idVal, hasID := mv.Numeric(models.MetaKeyID)
		hashVal, hasHash := mv.String(models.MetaKeyHash)
		hasCategory := mv.Has(models.MetaKeyCategory)
		switch {
		case !hasID || !hasHash || !hasCategory:
			report.MissingMetadata.add(l.Label())
			actions = append(actions, syncAction{docID: l.ID, state: models.SyncStateMissingMetadata})
		case int64(idVal) != l.ID || hashVal != l.Hash:
			report.MetadataMismatch.add(l.Label())
			actions = append(actions, syncAction{docID: l.ID, state: models.SyncStateMetadataMismatch})
		default:
			report.Summary.MatchedDocuments++
			actions = append(actions, syncAction{docID: l.ID, confirm: true, remoteName: r.Name})
		}

		// Field drift is informational only and independent of the metadata
		// verdict above.
		if fields := unmatchedFields(l, r); len(fields) > 0 {
			report.UnmatchedFields.add(l.Label() + ": " + strings.Join(fields, ", "))
		}
	}

	return report, actions
}

// unmatchedFields compares the informational fields of a matched pair.
// Fields the local side never recorded are skipped.
func unmatchedFields(l *models.Document, r *gemini.Document) []string {
	var fields []string
	if r.DisplayName != "" && r.DisplayName != l.DisplayName {
		fields = append(fields, "displayName")
	}
	if l.MimeType != "" && r.MimeType != "" && r.MimeType != l.MimeType {
		fields = append(fields, "mimeType")
	}
	if l.SizeBytes != 0 && r.SizeBytes != 0 && r.SizeBytes != l.SizeBytes {
		fields = append(fields, "sizeBytes")
	}
	return fields
}

func (s *SyncService) countFindings(r *SyncReport) {
	s.metrics.SyncFindings.WithLabelValues("missing_from_local").Add(float64(r.MissingFromLocal.Count))
	s.metrics.SyncFindings.WithLabelValues("missing_from_gemini").Add(float64(r.MissingFromGemini.Count))
	s.metrics.SyncFindings.WithLabelValues("missing_metadata").Add(float64(r.MissingMetadata.Count))
	s.metrics.SyncFindings.WithLabelValues("metadata_mismatch").Add(float64(r.MetadataMismatch.Count))
	s.metrics.SyncFindings.WithLabelValues("unmatched_fields").Add(float64(r.UnmatchedFields.Count))
	s.metrics.SyncFindings.WithLabelValues("duplicate_documents").Add(float64(r.Duplicates.Count))
}
