package storage

import (
	"fmt"
	"strings"
)

type ProjectStatus string

const (
	ProjectStatusDev      ProjectStatus = "dev"
	ProjectStatusStaging  ProjectStatus = "staging"
	ProjectStatusLive     ProjectStatus = "live"
	ProjectStatusArchived ProjectStatus = "archived"
)

func ParseProjectStatus(raw string) (ProjectStatus, error) {
	switch normalizeEnum(raw) {
	case "dev":
		return ProjectStatusDev, nil
	case "staging":
		return ProjectStatusStaging, nil
	case "live":
		return ProjectStatusLive, nil
	case "archived":
		return ProjectStatusArchived, nil
	}
	return "", invalidEnum("project status", raw)
}

func (s ProjectStatus) Valid() bool {
	parsed, err := ParseProjectStatus(string(s))
	return err == nil && parsed == s
}

type ServerType string

const (
	ServerTypeVPS       ServerType = "vps"
	ServerTypeDedicated ServerType = "dedicated"
	ServerTypeLocal     ServerType = "local"
	ServerTypeCloud     ServerType = "cloud"
)

func ParseServerType(raw string) (ServerType, error) {
	switch normalizeEnum(raw) {
	case "vps":
		return ServerTypeVPS, nil
	case "dedicated":
		return ServerTypeDedicated, nil
	case "local":
		return ServerTypeLocal, nil
	case "cloud":
		return ServerTypeCloud, nil
	}
	return "", invalidEnum("server type", raw)
}

func (t ServerType) Valid() bool {
	parsed, err := ParseServerType(string(t))
	return err == nil && parsed == t
}

type DomainType string

const (
	DomainTypeProduction DomainType = "production"
	DomainTypeStaging    DomainType = "staging"
	DomainTypeDev        DomainType = "dev"
)

func ParseDomainType(raw string) (DomainType, error) {
	switch normalizeEnum(raw) {
	case "production", "prod":
		return DomainTypeProduction, nil
	case "staging":
		return DomainTypeStaging, nil
	case "dev":
		return DomainTypeDev, nil
	}
	return "", invalidEnum("domain type", raw)
}

func (t DomainType) Valid() bool {
	parsed, err := ParseDomainType(string(t))
	return err == nil && parsed == t
}

type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeMongoDB  DatabaseType = "mongodb"
	DatabaseTypeRedis    DatabaseType = "redis"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

func ParseDatabaseType(raw string) (DatabaseType, error) {
	switch normalizeEnum(raw) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "mongodb", "mongo":
		return DatabaseTypeMongoDB, nil
	case "redis":
		return DatabaseTypeRedis, nil
	case "sqlite":
		return DatabaseTypeSQLite, nil
	}
	return "", invalidEnum("database type", raw)
}

func (t DatabaseType) Valid() bool {
	parsed, err := ParseDatabaseType(string(t))
	return err == nil && parsed == t
}

// DefaultPort is the conventional listen port for the engine, or 0.
func (t DatabaseType) DefaultPort() int {
	switch t {
	case DatabaseTypePostgres:
		return 5432
	case DatabaseTypeMySQL:
		return 3306
	case DatabaseTypeMongoDB:
		return 27017
	case DatabaseTypeRedis:
		return 6379
	default:
		return 0
	}
}

type ContainerStatus string

const (
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusStopped    ContainerStatus = "stopped"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusUnknown    ContainerStatus = "unknown"
)

// ParseContainerStatus maps anything Docker reports that is not a known state
// to unknown, since containers are mirrored rather than user-entered.
func ParseContainerStatus(raw string) ContainerStatus {
	switch normalizeEnum(raw) {
	case "running":
		return ContainerStatusRunning
	case "stopped":
		return ContainerStatusStopped
	case "restarting":
		return ContainerStatusRestarting
	case "paused":
		return ContainerStatusPaused
	case "exited":
		return ContainerStatusExited
	default:
		return ContainerStatusUnknown
	}
}

func (s ContainerStatus) Valid() bool {
	return s != "" && ParseContainerStatus(string(s)) == s
}

type ScriptType string

const (
	ScriptTypeSSH    ScriptType = "ssh"
	ScriptTypeLocal  ScriptType = "local"
	ScriptTypeDocker ScriptType = "docker"
)

func ParseScriptType(raw string) (ScriptType, error) {
	switch normalizeEnum(raw) {
	case "ssh":
		return ScriptTypeSSH, nil
	case "local":
		return ScriptTypeLocal, nil
	case "docker":
		return ScriptTypeDocker, nil
	}
	return "", invalidEnum("script type", raw)
}

func (t ScriptType) Valid() bool {
	parsed, err := ParseScriptType(string(t))
	return err == nil && parsed == t
}

type CredentialType string

const (
	CredentialTypeSSHKey    CredentialType = "ssh_key"
	CredentialTypeSSHAgent  CredentialType = "ssh_agent"
	CredentialTypeAPIToken  CredentialType = "api_token"
	CredentialTypeBasicAuth CredentialType = "basic_auth"
	CredentialTypeOAuth     CredentialType = "oauth"
)

func ParseCredentialType(raw string) (CredentialType, error) {
	switch normalizeEnum(raw) {
	case "ssh", "ssh_key", "sshkey":
		return CredentialTypeSSHKey, nil
	case "agent", "ssh_agent", "sshagent":
		return CredentialTypeSSHAgent, nil
	case "api", "api_token", "apitoken", "token":
		return CredentialTypeAPIToken, nil
	case "basic", "basic_auth", "basicauth":
		return CredentialTypeBasicAuth, nil
	case "oauth":
		return CredentialTypeOAuth, nil
	}
	return "", invalidEnum("credential type", raw)
}

func (t CredentialType) Valid() bool {
	parsed, err := ParseCredentialType(string(t))
	return err == nil && parsed == t
}

type ResourceType string

const (
	ResourceTypeServer    ResourceType = "server"
	ResourceTypeContainer ResourceType = "container"
	ResourceTypeDatabase  ResourceType = "database"
	ResourceTypeDomain    ResourceType = "domain"
	ResourceTypeScript    ResourceType = "script"
)

func ParseResourceType(raw string) (ResourceType, error) {
	switch normalizeEnum(raw) {
	case "server":
		return ResourceTypeServer, nil
	case "container":
		return ResourceTypeContainer, nil
	case "database", "db":
		return ResourceTypeDatabase, nil
	case "domain":
		return ResourceTypeDomain, nil
	case "script":
		return ResourceTypeScript, nil
	}
	return "", invalidEnum("resource type", raw)
}

func (t ResourceType) Valid() bool {
	parsed, err := ParseResourceType(string(t))
	return err == nil && parsed == t
}

// table is the entity table a resource type points into.
func (t ResourceType) table() string {
	switch t {
	case ResourceTypeServer:
		return tableServers
	case ResourceTypeContainer:
		return tableContainers
	case ResourceTypeDatabase:
		return tableDatabases
	case ResourceTypeDomain:
		return tableDomains
	case ResourceTypeScript:
		return tableScripts
	default:
		return ""
	}
}

func normalizeEnum(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func invalidEnum(kind, raw string) error {
	return fmt.Errorf("%w: unknown %s %q", ErrValidation, kind, raw)
}
