package storage

import (
	"context"
	"time"
)

type Project struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name" validate:"required,max=128"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Stack       []string      `json:"stack,omitempty" yaml:"stack,omitempty" validate:"dive,required"`
	Status      ProjectStatus `json:"status" yaml:"status" validate:"enum"`
	Color       string        `json:"color,omitempty" yaml:"color,omitempty"`
	Icon        string        `json:"icon,omitempty" yaml:"icon,omitempty"`
	Notes       string        `json:"notes,omitempty" yaml:"notes,omitempty"`
	CreatedAt   time.Time     `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" yaml:"updated_at"`
}

// ServerSpecs is filled in by whatever probes the machine; the store keeps it
// as-is.
type ServerSpecs struct {
	CPUCores int     `json:"cpu_cores" yaml:"cpu_cores"`
	RAMGB    float64 `json:"ram_gb" yaml:"ram_gb"`
	DiskGB   float64 `json:"disk_gb" yaml:"disk_gb"`
}

type Server struct {
	ID           string       `json:"id" yaml:"id"`
	Name         string       `json:"name" yaml:"name" validate:"required,max=128"`
	Host         string       `json:"host" yaml:"host" validate:"required,hostname_rfc1123|ip"`
	Type         ServerType   `json:"type" yaml:"type" validate:"enum"`
	Provider     string       `json:"provider,omitempty" yaml:"provider,omitempty"`
	CredentialID *string      `json:"credential_id,omitempty" yaml:"credential_id,omitempty"`
	Location     string       `json:"location,omitempty" yaml:"location,omitempty"`
	Specs        *ServerSpecs `json:"specs,omitempty" yaml:"specs,omitempty"`
	Notes        string       `json:"notes,omitempty" yaml:"notes,omitempty"`
	CreatedAt    time.Time    `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" yaml:"updated_at"`
}

// Domain, DatabaseCredentials and Script may record where they run through
// ServerID and ContainerID. Like Server.CredentialID these are weak: removing
// the target clears them instead of failing.
type Domain struct {
	ID                 string     `json:"id" yaml:"id"`
	Domain             string     `json:"domain" yaml:"domain" validate:"required,fqdn"`
	Type               DomainType `json:"type" yaml:"type" validate:"enum"`
	SSL                bool       `json:"ssl" yaml:"ssl"`
	SSLExpiry          *time.Time `json:"ssl_expiry,omitempty" yaml:"ssl_expiry,omitempty"`
	Registrar          string     `json:"registrar,omitempty" yaml:"registrar,omitempty"`
	CloudflareZoneID   string     `json:"cloudflare_zone_id,omitempty" yaml:"cloudflare_zone_id,omitempty"`
	CloudflareRecordID string     `json:"cloudflare_record_id,omitempty" yaml:"cloudflare_record_id,omitempty"`
	ServerID           *string    `json:"server_id,omitempty" yaml:"server_id,omitempty"`
	ContainerID        *string    `json:"container_id,omitempty" yaml:"container_id,omitempty"`
	Notes              string     `json:"notes,omitempty" yaml:"notes,omitempty"`
	CreatedAt          time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" yaml:"updated_at"`
}

// DatabaseCredentials never carries Password or ConnectionString out of Get
// or List; only DatabaseRepository.GetField decrypts them.
type DatabaseCredentials struct {
	ID               string       `json:"id" yaml:"id"`
	Name             string       `json:"name" yaml:"name" validate:"required,max=128"`
	Type             DatabaseType `json:"type" yaml:"type" validate:"enum"`
	Host             string       `json:"host,omitempty" yaml:"host,omitempty" validate:"omitempty,hostname_rfc1123|ip"`
	Port             int          `json:"port,omitempty" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	DatabaseName     string       `json:"database_name,omitempty" yaml:"database_name,omitempty"`
	Username         string       `json:"username,omitempty" yaml:"username,omitempty"`
	Password         string       `json:"-" yaml:"-"`
	ConnectionString string       `json:"-" yaml:"-"`
	ServerID         *string      `json:"server_id,omitempty" yaml:"server_id,omitempty"`
	ContainerID      *string      `json:"container_id,omitempty" yaml:"container_id,omitempty"`
	Notes            string       `json:"notes,omitempty" yaml:"notes,omitempty"`
	CreatedAt        time.Time    `json:"created_at" yaml:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" yaml:"updated_at"`
}

type Container struct {
	ID        string            `json:"id" yaml:"id"`
	Name      string            `json:"name" yaml:"name" validate:"required,max=255"`
	Image     string            `json:"image,omitempty" yaml:"image,omitempty"`
	ServerID  *string           `json:"server_id,omitempty" yaml:"server_id,omitempty"`
	Status    ContainerStatus   `json:"status" yaml:"status" validate:"enum"`
	Ports     []string          `json:"ports,omitempty" yaml:"ports,omitempty"`
	Labels    map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	CreatedAt time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" yaml:"updated_at"`
}

type ScriptResult struct {
	ExitCode int       `json:"exit_code" yaml:"exit_code"`
	Output   string    `json:"output,omitempty" yaml:"output,omitempty"`
	RanAt    time.Time `json:"ran_at" yaml:"ran_at"`
}

func (r ScriptResult) Success() bool {
	return r.ExitCode == 0
}

type Script struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name" validate:"required,max=128"`
	Command     string        `json:"command" yaml:"command" validate:"required"`
	Type        ScriptType    `json:"type" yaml:"type" validate:"enum"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Dangerous   bool          `json:"dangerous,omitempty" yaml:"dangerous,omitempty"`
	ServerID    *string       `json:"server_id,omitempty" yaml:"server_id,omitempty"`
	ProjectID   *string       `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	ContainerID *string       `json:"container_id,omitempty" yaml:"container_id,omitempty"`
	LastResult  *ScriptResult `json:"last_result,omitempty" yaml:"last_result,omitempty"`
	CreatedAt   time.Time     `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" yaml:"updated_at"`
}

// CredentialData is the type-specific secret payload of a Credential. Which
// fields are required depends on the credential type.
type CredentialData struct {
	Username     string     `json:"username,omitempty"`
	Port         int        `json:"port,omitempty"`
	KeyPath      string     `json:"key_path,omitempty"`
	Passphrase   string     `json:"passphrase,omitempty"`
	Token        string     `json:"token,omitempty"`
	Password     string     `json:"password,omitempty"`
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	URL          string     `json:"url,omitempty"`
}

type Credential struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name" validate:"required,max=128"`
	Type      CredentialType `json:"type" yaml:"type" validate:"enum"`
	Data      CredentialData `json:"-" yaml:"-"`
	Notes     string         `json:"notes,omitempty" yaml:"notes,omitempty"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"updated_at"`
}

type ResourceLink struct {
	ID           string       `json:"id" yaml:"id"`
	ProjectID    string       `json:"project_id" yaml:"project_id"`
	ResourceType ResourceType `json:"resource_type" yaml:"resource_type"`
	ResourceID   string       `json:"resource_id" yaml:"resource_id"`
	Role         string       `json:"role,omitempty" yaml:"role,omitempty"`
	Notes        string       `json:"notes,omitempty" yaml:"notes,omitempty"`
	CreatedAt    time.Time    `json:"created_at" yaml:"created_at"`
}

type ProjectRepository interface {
	Save(ctx context.Context, project *Project) error
	Get(ctx context.Context, id string) (*Project, error)
	GetByName(ctx context.Context, name string) (*Project, error)
	List(ctx context.Context) ([]Project, error)
	Remove(ctx context.Context, id string) error
}

type ServerRepository interface {
	Save(ctx context.Context, server *Server) error
	Get(ctx context.Context, id string) (*Server, error)
	GetByName(ctx context.Context, name string) (*Server, error)
	List(ctx context.Context) ([]Server, error)
	Remove(ctx context.Context, id string) error
}

type DomainRepository interface {
	Save(ctx context.Context, domain *Domain) error
	Get(ctx context.Context, id string) (*Domain, error)
	GetByName(ctx context.Context, domain string) (*Domain, error)
	List(ctx context.Context) ([]Domain, error)
	Remove(ctx context.Context, id string) error
}

type DatabaseRepository interface {
	Save(ctx context.Context, db *DatabaseCredentials) error
	Get(ctx context.Context, id string) (*DatabaseCredentials, error)
	GetByName(ctx context.Context, name string) (*DatabaseCredentials, error)
	GetField(ctx context.Context, id, field string) (string, error)
	List(ctx context.Context) ([]DatabaseCredentials, error)
	Remove(ctx context.Context, id string) error
}

type ContainerRepository interface {
	Save(ctx context.Context, container *Container) error
	Get(ctx context.Context, id string) (*Container, error)
	List(ctx context.Context) ([]Container, error)
	ListByName(ctx context.Context, name string) ([]Container, error)
	ListByServer(ctx context.Context, serverID string) ([]Container, error)
	Remove(ctx context.Context, id string) error
}

type ScriptRepository interface {
	Save(ctx context.Context, script *Script) error
	Get(ctx context.Context, id string) (*Script, error)
	GetByName(ctx context.Context, name string) (*Script, error)
	List(ctx context.Context) ([]Script, error)
	ListForProject(ctx context.Context, projectID string) ([]Script, error)
	RecordResult(ctx context.Context, id string, result ScriptResult) error
	Remove(ctx context.Context, id string) error
}

type CredentialRepository interface {
	Save(ctx context.Context, credential *Credential) error
	Get(ctx context.Context, id string) (*Credential, error)
	GetByName(ctx context.Context, name string) (*Credential, error)
	List(ctx context.Context) ([]Credential, error)
	Remove(ctx context.Context, id string) error
}

type LinkRepository interface {
	Link(ctx context.Context, projectID string, resourceType ResourceType, resourceID, role, notes string) (*ResourceLink, error)
	Unlink(ctx context.Context, linkID string) error
	ForProject(ctx context.Context, projectID string) ([]ResourceLink, error)
	ForResource(ctx context.Context, resourceType ResourceType, resourceID string) ([]ResourceLink, error)
}

// EnvelopeBundle is persisted in store_meta and holds everything needed to
// turn a passphrase back into the master key. Binary fields are hex-encoded.
type EnvelopeBundle struct {
	StoreID       string `json:"store_id"`
	Salt          string `json:"salt"`
	Memory        uint32 `json:"argon2_memory"`
	Iterations    uint32 `json:"argon2_iterations"`
	Parallelism   uint8  `json:"argon2_parallelism"`
	KeyLen        uint32 `json:"argon2_key_len"`
	Ciphertext    string `json:"wrapped_key"`
	Nonce         string `json:"wrapped_key_nonce"`
	CommitmentTag string `json:"commitment_tag"`
}

type MigrationReport struct {
	Created bool
	From    int
	To      int
	Applied []int
}

type OpenReport struct {
	StoreID   string
	Migration MigrationReport
}
