package stores

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/catalog/pkg/models"
	"github.com/openfroyo/catalog/pkg/schema"
)

// ErrNotFound is wrapped by lookups of schemas and datasets that do not exist.
var ErrNotFound = errors.New("not found")

// Audit actions recorded by the store.
const (
	AuditSchemaSaved    = "schema.saved"
	AuditSchemaDeleted  = "schema.deleted"
	AuditDatasetSaved   = "dataset.saved"
	AuditDatasetDeleted = "dataset.deleted"
)

// SchemaRecord is a named set of schema documents.
type SchemaRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Format    string    `json:"format"`
	Documents string    `json:"documents"` // JSON array of schema.Document
	Hash      string    `json:"hash"`      // SHA256 of Documents
	TypeCount int       `json:"type_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSchemaRecord encodes docs into a record ready to be saved.
func NewSchemaRecord(name, format string, docs ...schema.Document) (*SchemaRecord, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("schema %s has no documents", name)
	}
	data, err := json.Marshal(docs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema documents: %w", err)
	}
	count := 0
	for _, doc := range docs {
		count += len(doc.Types)
	}
	sum := sha256.Sum256(data)
	now := time.Now().UTC()
	return &SchemaRecord{
		ID:        uuid.NewString(),
		Name:      name,
		Format:    format,
		Documents: string(data),
		Hash:      hex.EncodeToString(sum[:]),
		TypeCount: count,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Decode returns the stored schema documents.
func (r *SchemaRecord) Decode() ([]schema.Document, error) {
	var docs []schema.Document
	if err := json.Unmarshal([]byte(r.Documents), &docs); err != nil {
		return nil, fmt.Errorf("failed to decode schema %s: %w", r.Name, err)
	}
	return docs, nil
}

// Schema builds the stored documents into a schema.
func (r *SchemaRecord) Schema() (*schema.Schema, error) {
	docs, err := r.Decode()
	if err != nil {
		return nil, err
	}
	return schema.Build(docs...)
}

// DatasetRecord is a named list of root facts.
type DatasetRecord struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	SchemaName  *string       `json:"schema_name,omitempty"`
	FactCount   int           `json:"fact_count"`
	Facts       []*FactRecord `json:"facts,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// FactRecord is one root fact of a dataset.
type FactRecord struct {
	ID           int64             `json:"id"`
	DatasetID    string            `json:"dataset_id"`
	Position     int               `json:"position"`
	TypeName     string            `json:"type"`
	Value        string            `json:"value"` // JSON of models.ToRaw
	SourceKind   models.SourceKind `json:"source_kind"`
	SourceID     string            `json:"source_id"`
	SourceDetail *string           `json:"source_detail,omitempty"`
}

// NewDatasetRecord encodes instances into a record ready to be saved.
func NewDatasetRecord(name, description string, instances []models.TypedInstance) (*DatasetRecord, error) {
	now := time.Now().UTC()
	d := &DatasetRecord{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, instance := range instances {
		value, err := json.Marshal(models.ToRaw(instance))
		if err != nil {
			return nil, fmt.Errorf("failed to encode fact %d of dataset %s: %w", i, name, err)
		}
		source := instance.Source()
		f := &FactRecord{
			DatasetID:  d.ID,
			Position:   i,
			TypeName:   instance.Type().Name,
			Value:      string(value),
			SourceKind: source.Kind,
			SourceID:   source.ID,
		}
		if source.Detail != "" {
			detail := source.Detail
			f.SourceDetail = &detail
		}
		d.Facts = append(d.Facts, f)
	}
	d.FactCount = len(d.Facts)
	return d, nil
}

// Instances decodes the facts against s. Provenance is restored as stored.
func (d *DatasetRecord) Instances(s *schema.Schema) ([]models.TypedInstance, error) {
	instances := make([]models.TypedInstance, 0, len(d.Facts))
	for _, f := range d.Facts {
		t, err := s.Type(f.TypeName)
		if err != nil {
			return nil, fmt.Errorf("dataset %s fact %d: %w", d.Name, f.Position, err)
		}
		var raw any
		if err := json.Unmarshal([]byte(f.Value), &raw); err != nil {
			return nil, fmt.Errorf("dataset %s fact %d: failed to decode value: %w", d.Name, f.Position, err)
		}
		source := models.DataSource{Kind: f.SourceKind, ID: f.SourceID}
		if f.SourceDetail != nil {
			source.Detail = *f.SourceDetail
		}
		instance, err := models.FromValue(t, raw, source)
		if err != nil {
			return nil, fmt.Errorf("dataset %s fact %d: %w", d.Name, f.Position, err)
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g., "schema.saved", "dataset.deleted"
	Actor     string    `json:"actor"`               // user or system identifier
	TargetID  *string   `json:"target_id,omitempty"` // schema or dataset name
	Details   *string   `json:"details,omitempty"`   // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Schema operations
	SaveSchema(ctx context.Context, record *SchemaRecord) error
	GetSchema(ctx context.Context, name string) (*SchemaRecord, error)
	ListSchemas(ctx context.Context) ([]*SchemaRecord, error)
	DeleteSchema(ctx context.Context, name string) error

	// Dataset operations
	SaveDataset(ctx context.Context, record *DatasetRecord) error
	GetDataset(ctx context.Context, name string) (*DatasetRecord, error)
	ListDatasets(ctx context.Context, limit, offset int) ([]*DatasetRecord, error)
	DeleteDataset(ctx context.Context, name string) error

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
