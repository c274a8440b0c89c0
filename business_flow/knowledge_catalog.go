package businessflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ReZill392/Thesit-sub000/models"
	"github.com/ReZill392/Thesit-sub000/repository"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// CatalogEntry is one knowledge type in the seed file
type CatalogEntry struct {
	Name          string   `yaml:"name"`
	Rule          string   `yaml:"rule"`
	Examples      []string `yaml:"examples"`
	Keywords      []string `yaml:"keywords"`
	SupportsImage bool     `yaml:"supports_image"`
}

type catalogFile struct {
	KnowledgeTypes []CatalogEntry `yaml:"knowledge_types"`
}

// KnowledgeCatalogFlow seeds the global knowledge type catalog
type KnowledgeCatalogFlow interface {
	Seed(ctx context.Context, r io.Reader) (int, error)
	SeedFile(ctx context.Context, path string) (int, error)
}

type KnowledgeCatalogFlowImpl struct {
	knowledgeRepo repository.KnowledgeTypeRepository
	db            *gorm.DB
	log           *logrus.Logger
}

func NewKnowledgeCatalogFlow(knowledgeRepo repository.KnowledgeTypeRepository, db *gorm.DB, log *logrus.Logger) KnowledgeCatalogFlow {
	return &KnowledgeCatalogFlowImpl{knowledgeRepo: knowledgeRepo, db: db, log: log}
}

func (f *KnowledgeCatalogFlowImpl) SeedFile(ctx context.Context, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open knowledge catalog %s: %w", path, err)
	}
	defer file.Close()
	return f.Seed(ctx, file)
}

// Seed upserts every entry by name inside one transaction
func (f *KnowledgeCatalogFlowImpl) Seed(ctx context.Context, r io.Reader) (int, error) {
	entries, err := ParseCatalog(r)
	if err != nil {
		return 0, err
	}

	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		for _, e := range entries {
			kt := &models.KnowledgeType{
				Name:            e.Name,
				RuleDescription: e.Rule,
				Examples:        pq.StringArray(e.Examples),
				Keywords:        pq.StringArray(e.Keywords),
				SupportsImage:   e.SupportsImage,
			}
			if err := f.knowledgeRepo.UpsertByName(txCtx, kt); err != nil {
				return fmt.Errorf("failed to upsert knowledge type %q: %w", e.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	f.log.WithField("entries", len(entries)).Info("knowledge catalog seeded")
	return len(entries), nil
}

// ParseCatalog decodes and checks a catalog document. Unknown fields,
// blank names and duplicate names are errors.
func ParseCatalog(r io.Reader) ([]CatalogEntry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc catalogFile
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode knowledge catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.KnowledgeTypes))
	for i := range doc.KnowledgeTypes {
		e := &doc.KnowledgeTypes[i]
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			return nil, fmt.Errorf("knowledge catalog entry %d has no name", i)
		}
		if _, dup := seen[e.Name]; dup {
			return nil, fmt.Errorf("knowledge catalog entry %q is duplicated", e.Name)
		}
		seen[e.Name] = struct{}{}
		e.Keywords = compact(e.Keywords)
		e.Examples = compact(e.Examples)
	}
	return doc.KnowledgeTypes, nil
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
