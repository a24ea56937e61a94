package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/pctrl/pctrl/internal/crypto"
	"github.com/pctrl/pctrl/internal/storage"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestOpenStoreCreateThenReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pctrl.db")
	ctx := context.Background()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := OpenStore(ctx, testOpenOptions(path, false), []byte("pw"), logger)
	require.ErrorIs(t, err, ErrStoreMissing)

	store, err := OpenStore(ctx, testOpenOptions(path, true), []byte("pw"), logger)
	require.NoError(t, err)
	require.True(t, store.Report().Migration.Created)
	require.NoError(t, store.Close())
	require.Contains(t, logs.String(), "store created")

	_, err = OpenStore(ctx, testOpenOptions(path, true), []byte("pw"), logger)
	require.ErrorIs(t, err, ErrStoreExists)

	store, err = OpenStore(ctx, testOpenOptions(path, false), []byte("pw"), logger)
	require.NoError(t, err)
	require.False(t, store.Report().Migration.Created)
	require.NoError(t, store.Close())
	require.Contains(t, logs.String(), "store opened")

	_, err = OpenStore(ctx, testOpenOptions(path, false), []byte("wrong"), logger)
	require.ErrorIs(t, err, storage.ErrAuthenticationFailed)
	require.NotContains(t, logs.String(), "wrong")
}

func TestOpenStoreTreatsEmptyFileAsMissing(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pctrl.db")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	_, err := OpenStore(context.Background(), testOpenOptions(path, false), []byte("pw"), nil)
	require.ErrorIs(t, err, ErrStoreMissing)

	store, err := OpenStore(context.Background(), testOpenOptions(path, true), []byte("pw"), nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestResolveByNameOrID(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	ctx := context.Background()
	store := reg.Store()

	project := &storage.Project{Name: "blog"}
	require.NoError(t, store.Projects.Save(ctx, project))

	byName, err := reg.ResolveProject(ctx, "Blog")
	require.NoError(t, err)
	require.Equal(t, project.ID, byName.ID)

	byID, err := reg.ResolveProject(ctx, project.ID)
	require.NoError(t, err)
	require.Equal(t, "blog", byID.Name)

	_, err = reg.ResolveProject(ctx, "shop")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = reg.ResolveProject(ctx, " ")
	require.ErrorIs(t, err, ErrValidation)
}

func TestResolveContainerRejectsAmbiguousName(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	ctx := context.Background()
	store := reg.Store()

	first := &storage.Container{Name: "nginx"}
	second := &storage.Container{Name: "nginx"}
	require.NoError(t, store.Containers.Save(ctx, first))
	require.NoError(t, store.Containers.Save(ctx, &storage.Container{Name: "redis"}))

	got, err := reg.ResolveContainer(ctx, "NGINX")
	require.NoError(t, err)
	require.Equal(t, first.ID, got.ID)

	require.NoError(t, store.Containers.Save(ctx, second))
	_, err = reg.ResolveContainer(ctx, "nginx")
	require.ErrorIs(t, err, ErrAmbiguousName)

	got, err = reg.ResolveContainer(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, second.ID, got.ID)
}

func TestResolveAndDescribePlacement(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	ctx := context.Background()
	store := reg.Store()

	require.NoError(t, store.Projects.Save(ctx, &storage.Project{Name: "blog"}))
	server := &storage.Server{Name: "vps1", Host: "203.0.113.10"}
	require.NoError(t, store.Servers.Save(ctx, server))
	require.NoError(t, store.Containers.Save(ctx, &storage.Container{Name: "app", ServerID: &server.ID}))

	empty, err := reg.ResolvePlacement(ctx, PlacementRefs{})
	require.NoError(t, err)
	require.True(t, empty.IsZero())

	placement, err := reg.ResolvePlacement(ctx, PlacementRefs{Server: "VPS1", Container: "app", Project: "blog"})
	require.NoError(t, err)
	require.Equal(t, server.ID, *placement.ServerID)
	require.NotNil(t, placement.ContainerID)
	require.NotNil(t, placement.ProjectID)

	view, err := reg.DescribePlacement(ctx, placement)
	require.NoError(t, err)
	require.Equal(t, PlacementView{Server: "vps1", Container: "app", Project: "blog"}, view)

	_, err = reg.ResolvePlacement(ctx, PlacementRefs{Container: "missing"})
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Containers.Save(ctx, &storage.Container{Name: "app"}))
	_, err = reg.ResolvePlacement(ctx, PlacementRefs{Container: "app"})
	require.ErrorIs(t, err, ErrAmbiguousName)
}

func TestShowProjectResolvesLinkedResources(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	ctx := context.Background()
	store := reg.Store()

	require.NoError(t, store.Projects.Save(ctx, &storage.Project{Name: "blog"}))
	require.NoError(t, store.Servers.Save(ctx, &storage.Server{Name: "vps1", Host: "203.0.113.10"}))
	require.NoError(t, store.Databases.Save(ctx, &storage.DatabaseCredentials{Name: "maindb", Host: "db.internal", Port: 5432, Password: "secret123"}))

	_, err := reg.Link(ctx, "blog", storage.ResourceTypeServer, "vps1", "web", "")
	require.NoError(t, err)
	_, err = reg.Link(ctx, "blog", storage.ResourceTypeDatabase, "maindb", "primary", "")
	require.NoError(t, err)
	_, err = reg.Link(ctx, "blog", storage.ResourceTypeServer, "vps1", "web", "")
	require.ErrorIs(t, err, storage.ErrDuplicateLink)
	_, err = reg.Link(ctx, "blog", storage.ResourceTypeDomain, "nope.example.com", "", "")
	require.ErrorIs(t, err, storage.ErrNotFound)

	view, err := reg.ShowProject(ctx, "blog")
	require.NoError(t, err)
	require.Equal(t, "blog", view.Project.Name)
	require.Len(t, view.Resources, 2)
	require.Equal(t, "vps1", view.Resources[0].Name)
	require.Equal(t, "203.0.113.10", view.Resources[0].Detail)
	require.Equal(t, "web", view.Resources[0].Link.Role)
	require.Equal(t, "maindb", view.Resources[1].Name)
	require.Equal(t, "postgres db.internal:5432", view.Resources[1].Detail)

	server, err := reg.ResolveServer(ctx, "vps1")
	require.NoError(t, err)
	usage, err := reg.Usage(ctx, storage.ResourceTypeServer, server.ID)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	require.Equal(t, "blog", usage[0].Project)
	require.Equal(t, "web", usage[0].Role)

	payload, err := json.Marshal(view)
	require.NoError(t, err)
	require.NotContains(t, string(payload), "secret123")
}

func TestStatusCountsInventory(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	ctx := context.Background()
	store := reg.Store()

	require.NoError(t, store.Projects.Save(ctx, &storage.Project{Name: "a"}))
	require.NoError(t, store.Projects.Save(ctx, &storage.Project{Name: "b"}))
	require.NoError(t, store.Scripts.Save(ctx, &storage.Script{Name: "s", Command: "true"}))

	status, err := reg.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, storage.CurrentSchemaVersion, status.SchemaVersion)
	require.Equal(t, store.Path(), status.Path)
	require.NotEmpty(t, status.StoreID)
	require.Equal(t, 2, status.Inventory.Projects)
	require.Equal(t, 1, status.Inventory.Scripts)
	require.Zero(t, status.Inventory.Servers)
}

func TestExportOmitsSecrets(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	ctx := context.Background()
	store := reg.Store()

	require.NoError(t, store.Projects.Save(ctx, &storage.Project{Name: "blog"}))
	require.NoError(t, store.Databases.Save(ctx, &storage.DatabaseCredentials{
		Name:             "maindb",
		Password:         "secret123",
		ConnectionString: "postgres://app:secret123@db/app",
	}))
	require.NoError(t, store.Credentials.Save(ctx, &storage.Credential{
		Name: "cf",
		Type: storage.CredentialTypeAPIToken,
		Data: storage.CredentialData{Token: "cf-token-value"},
	}))
	script := &storage.Script{Name: "dump", Command: "pg_dump"}
	require.NoError(t, store.Scripts.Save(ctx, script))
	require.NoError(t, store.Scripts.RecordResult(ctx, script.ID, storage.ScriptResult{ExitCode: 0, Output: "PGPASSWORD=secret123"}))
	_, err := reg.Link(ctx, "blog", storage.ResourceTypeDatabase, "maindb", "primary", "")
	require.NoError(t, err)

	svc := NewTransferService(store)

	asJSON, err := svc.Export(ctx, ExportFormatJSON)
	require.NoError(t, err)
	require.NotContains(t, string(asJSON), "secret123")
	require.NotContains(t, string(asJSON), "cf-token-value")

	var bundle ExportBundle
	require.NoError(t, json.Unmarshal(asJSON, &bundle))
	require.Equal(t, 1, bundle.Version)
	require.Len(t, bundle.Projects, 1)
	require.Len(t, bundle.Databases, 1)
	require.Len(t, bundle.Links, 1)
	require.NotNil(t, bundle.Servers)
	require.Empty(t, bundle.Servers)
	require.NotNil(t, bundle.Scripts[0].LastResult)
	require.Empty(t, bundle.Scripts[0].LastResult.Output)

	asYAML, err := svc.Export(ctx, ExportFormatYAML)
	require.NoError(t, err)
	require.NotContains(t, string(asYAML), "secret123")
	require.NotContains(t, string(asYAML), "cf-token-value")

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(asYAML, &decoded))
	require.Contains(t, decoded, "projects")
	require.Contains(t, decoded, "links")

	_, err = svc.Export(ctx, ExportFormat("csv"))
	require.ErrorIs(t, err, ErrValidation)
}

func testOpenOptions(path string, create bool) OpenOptions {
	params := crypto.DefaultArgon2Params()
	params.Memory = crypto.MinArgon2MemoryKiB
	params.Iterations = 1
	params.Parallelism = 1
	return OpenOptions{Path: path, Create: create, Argon2: params}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pctrl.db")
	store, err := OpenStore(context.Background(), testOpenOptions(path, true), []byte("test-passphrase"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewRegistry(store)
}
