package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pctrl/pctrl/internal/storage"
	"gopkg.in/yaml.v3"
)

const exportBundleVersion = 1

type TransferService struct {
	store *storage.Store
	now   func() time.Time
}

func NewTransferService(store *storage.Store) *TransferService {
	return &TransferService{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Export renders the inventory in the requested format. Secrets stay in the
// store: the entity types keep them out of both encoders, and captured script
// output is dropped here.
func (s *TransferService) Export(ctx context.Context, format ExportFormat) ([]byte, error) {
	bundle, err := s.Bundle(ctx)
	if err != nil {
		return nil, err
	}

	switch ExportFormat(strings.ToLower(string(format))) {
	case "", ExportFormatJSON:
		payload, err := json.MarshalIndent(bundle, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("export json: marshal: %w", err)
		}
		return append(payload, '\n'), nil
	case ExportFormatYAML:
		payload, err := yaml.Marshal(bundle)
		if err != nil {
			return nil, fmt.Errorf("export yaml: marshal: %w", err)
		}
		return payload, nil
	default:
		return nil, fmt.Errorf("%w: unsupported export format %q", ErrValidation, format)
	}
}

func (s *TransferService) Bundle(ctx context.Context) (ExportBundle, error) {
	if s == nil || s.store == nil {
		return ExportBundle{}, fmt.Errorf("export: store is nil")
	}

	bundle := ExportBundle{
		Version:    exportBundleVersion,
		StoreID:    s.store.Report().StoreID,
		ExportedAt: s.now(),
	}

	var err error
	if bundle.Projects, err = s.store.Projects.List(ctx); err != nil {
		return ExportBundle{}, fmt.Errorf("export: list projects: %w", err)
	}
	if bundle.Servers, err = s.store.Servers.List(ctx); err != nil {
		return ExportBundle{}, fmt.Errorf("export: list servers: %w", err)
	}
	if bundle.Domains, err = s.store.Domains.List(ctx); err != nil {
		return ExportBundle{}, fmt.Errorf("export: list domains: %w", err)
	}
	if bundle.Databases, err = s.store.Databases.List(ctx); err != nil {
		return ExportBundle{}, fmt.Errorf("export: list databases: %w", err)
	}
	if bundle.Containers, err = s.store.Containers.List(ctx); err != nil {
		return ExportBundle{}, fmt.Errorf("export: list containers: %w", err)
	}
	if bundle.Scripts, err = s.store.Scripts.List(ctx); err != nil {
		return ExportBundle{}, fmt.Errorf("export: list scripts: %w", err)
	}
	if bundle.Credentials, err = s.store.Credentials.List(ctx); err != nil {
		return ExportBundle{}, fmt.Errorf("export: list credentials: %w", err)
	}

	bundle.Projects = orEmpty(bundle.Projects)
	bundle.Servers = orEmpty(bundle.Servers)
	bundle.Domains = orEmpty(bundle.Domains)
	bundle.Databases = orEmpty(bundle.Databases)
	bundle.Containers = orEmpty(bundle.Containers)
	bundle.Scripts = orEmpty(bundle.Scripts)
	bundle.Credentials = orEmpty(bundle.Credentials)

	for i := range bundle.Scripts {
		if result := bundle.Scripts[i].LastResult; result != nil {
			bundle.Scripts[i].LastResult = &storage.ScriptResult{ExitCode: result.ExitCode, RanAt: result.RanAt}
		}
	}
	for i := range bundle.Credentials {
		bundle.Credentials[i].Data = storage.CredentialData{}
	}

	bundle.Links = []storage.ResourceLink{}
	for _, project := range bundle.Projects {
		links, err := s.store.Links.ForProject(ctx, project.ID)
		if err != nil {
			return ExportBundle{}, fmt.Errorf("export: links for %s: %w", project.Name, err)
		}
		bundle.Links = append(bundle.Links, links...)
	}

	sort.SliceStable(bundle.Projects, func(i, j int) bool { return bundle.Projects[i].Name < bundle.Projects[j].Name })
	sort.SliceStable(bundle.Servers, func(i, j int) bool { return bundle.Servers[i].Name < bundle.Servers[j].Name })
	sort.SliceStable(bundle.Domains, func(i, j int) bool { return bundle.Domains[i].Domain < bundle.Domains[j].Domain })
	sort.SliceStable(bundle.Databases, func(i, j int) bool { return bundle.Databases[i].Name < bundle.Databases[j].Name })
	sort.SliceStable(bundle.Scripts, func(i, j int) bool { return bundle.Scripts[i].Name < bundle.Scripts[j].Name })
	sort.SliceStable(bundle.Credentials, func(i, j int) bool { return bundle.Credentials[i].Name < bundle.Credentials[j].Name })
	return bundle, nil
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
