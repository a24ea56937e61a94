package app

import (
	"errors"
	"time"

	"github.com/pctrl/pctrl/internal/storage"
)

var (
	ErrValidation    = errors.New("app: validation failed")
	ErrStoreMissing  = errors.New("app: store not initialized")
	ErrStoreExists   = errors.New("app: store already exists")
	ErrAmbiguousName = errors.New("app: name matches more than one record")
)

type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatYAML ExportFormat = "yaml"
)

// LinkedResource is one edge of a project view with enough of the target to
// print it. Missing is set when the link outlived its resource.
type LinkedResource struct {
	Link    storage.ResourceLink `json:"link" yaml:"link"`
	Name    string               `json:"name" yaml:"name"`
	Detail  string               `json:"detail,omitempty" yaml:"detail,omitempty"`
	Missing bool                 `json:"missing,omitempty" yaml:"missing,omitempty"`
}

type ProjectView struct {
	Project   storage.Project  `json:"project" yaml:"project"`
	Resources []LinkedResource `json:"resources" yaml:"resources"`
}

// ResourceUsage names a project that links to a resource.
type ResourceUsage struct {
	LinkID  string `json:"link_id" yaml:"link_id"`
	Project string `json:"project" yaml:"project"`
	Role    string `json:"role,omitempty" yaml:"role,omitempty"`
}

// PlacementRefs are user-typed names or ids of where a domain, database or
// script runs.
type PlacementRefs struct {
	Server    string
	Container string
	Project   string
}

type Placement struct {
	ServerID    *string
	ContainerID *string
	ProjectID   *string
}

func (p Placement) IsZero() bool {
	return p.ServerID == nil && p.ContainerID == nil && p.ProjectID == nil
}

type PlacementView struct {
	Server    string `json:"server,omitempty" yaml:"server,omitempty"`
	Container string `json:"container,omitempty" yaml:"container,omitempty"`
	Project   string `json:"project,omitempty" yaml:"project,omitempty"`
}

type Inventory struct {
	Projects    int `json:"projects" yaml:"projects"`
	Servers     int `json:"servers" yaml:"servers"`
	Domains     int `json:"domains" yaml:"domains"`
	Databases   int `json:"databases" yaml:"databases"`
	Containers  int `json:"containers" yaml:"containers"`
	Scripts     int `json:"scripts" yaml:"scripts"`
	Credentials int `json:"credentials" yaml:"credentials"`
}

type StatusReport struct {
	Path          string    `json:"path" yaml:"path"`
	StoreID       string    `json:"store_id" yaml:"store_id"`
	SchemaVersion int       `json:"schema_version" yaml:"schema_version"`
	Inventory     Inventory `json:"inventory" yaml:"inventory"`
}

// ExportBundle is the non-secret inventory. Database passwords, connection
// strings and credential data never appear in it.
type ExportBundle struct {
	Version     int                           `json:"version" yaml:"version"`
	StoreID     string                        `json:"store_id" yaml:"store_id"`
	ExportedAt  time.Time                     `json:"exported_at" yaml:"exported_at"`
	Projects    []storage.Project             `json:"projects" yaml:"projects"`
	Servers     []storage.Server              `json:"servers" yaml:"servers"`
	Domains     []storage.Domain              `json:"domains" yaml:"domains"`
	Databases   []storage.DatabaseCredentials `json:"databases" yaml:"databases"`
	Containers  []storage.Container           `json:"containers" yaml:"containers"`
	Scripts     []storage.Script              `json:"scripts" yaml:"scripts"`
	Credentials []storage.Credential          `json:"credentials" yaml:"credentials"`
	Links       []storage.ResourceLink        `json:"links" yaml:"links"`
}
