package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/fsmirror/internal/dbx"
	"github.com/dmitrijs2005/fsmirror/internal/repositories/documents"
	"github.com/dmitrijs2005/fsmirror/internal/repositories/filestores"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Filestores(db dbx.DBTX) filestores.Repository
	Documents(db dbx.DBTX) documents.Repository
}
