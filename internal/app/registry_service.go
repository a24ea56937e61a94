package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pctrl/pctrl/internal/storage"
)

// Registry answers the questions the CLI asks of an open store: resolving
// user-typed references, assembling project views and reporting status.
type Registry struct {
	store *storage.Store
}

func NewRegistry(store *storage.Store) *Registry {
	return &Registry{store: store}
}

func (r *Registry) Store() *storage.Store {
	return r.store
}

// resolveNamed looks ref up as a name first and as an id second.
func resolveNamed[T any](ctx context.Context, ref string, byName, byID func(context.Context, string) (*T, error)) (*T, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: a name or id is required", ErrValidation)
	}
	item, err := byName(ctx, ref)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	item, err = byID(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", storage.ErrNotFound, ref)
	}
	return item, err
}

func (r *Registry) ResolveProject(ctx context.Context, ref string) (*storage.Project, error) {
	return resolveNamed(ctx, ref, r.store.Projects.GetByName, r.store.Projects.Get)
}

func (r *Registry) ResolveServer(ctx context.Context, ref string) (*storage.Server, error) {
	return resolveNamed(ctx, ref, r.store.Servers.GetByName, r.store.Servers.Get)
}

func (r *Registry) ResolveDomain(ctx context.Context, ref string) (*storage.Domain, error) {
	return resolveNamed(ctx, ref, r.store.Domains.GetByName, r.store.Domains.Get)
}

func (r *Registry) ResolveDatabase(ctx context.Context, ref string) (*storage.DatabaseCredentials, error) {
	return resolveNamed(ctx, ref, r.store.Databases.GetByName, r.store.Databases.Get)
}

func (r *Registry) ResolveScript(ctx context.Context, ref string) (*storage.Script, error) {
	return resolveNamed(ctx, ref, r.store.Scripts.GetByName, r.store.Scripts.Get)
}

func (r *Registry) ResolveCredential(ctx context.Context, ref string) (*storage.Credential, error) {
	return resolveNamed(ctx, ref, r.store.Credentials.GetByName, r.store.Credentials.Get)
}

// ResolveContainer accepts an id or a name. Container names are not unique,
// so a name shared by several containers is rejected.
func (r *Registry) ResolveContainer(ctx context.Context, ref string) (*storage.Container, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: a name or id is required", ErrValidation)
	}
	container, err := r.store.Containers.Get(ctx, ref)
	if err == nil {
		return container, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	matches, err := r.store.Containers.ListByName(ctx, ref)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %q", storage.ErrNotFound, ref)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %d containers named %q, use the id", ErrAmbiguousName, len(matches), ref)
	}
}

// ResolvePlacement turns the references naming where a record runs into ids.
// Empty references stay unset.
func (r *Registry) ResolvePlacement(ctx context.Context, refs PlacementRefs) (Placement, error) {
	var placement Placement
	if strings.TrimSpace(refs.Server) != "" {
		server, err := r.ResolveServer(ctx, refs.Server)
		if err != nil {
			return Placement{}, fmt.Errorf("server: %w", err)
		}
		placement.ServerID = &server.ID
	}
	if strings.TrimSpace(refs.Container) != "" {
		container, err := r.ResolveContainer(ctx, refs.Container)
		if err != nil {
			return Placement{}, fmt.Errorf("container: %w", err)
		}
		placement.ContainerID = &container.ID
	}
	if strings.TrimSpace(refs.Project) != "" {
		project, err := r.ResolveProject(ctx, refs.Project)
		if err != nil {
			return Placement{}, fmt.Errorf("project: %w", err)
		}
		placement.ProjectID = &project.ID
	}
	return placement, nil
}

// DescribePlacement resolves a placement back to display names.
func (r *Registry) DescribePlacement(ctx context.Context, placement Placement) (PlacementView, error) {
	var view PlacementView
	if placement.ServerID != nil {
		server, err := r.store.Servers.Get(ctx, *placement.ServerID)
		if err != nil {
			return PlacementView{}, fmt.Errorf("describe server %s: %w", *placement.ServerID, err)
		}
		view.Server = server.Name
	}
	if placement.ContainerID != nil {
		container, err := r.store.Containers.Get(ctx, *placement.ContainerID)
		if err != nil {
			return PlacementView{}, fmt.Errorf("describe container %s: %w", *placement.ContainerID, err)
		}
		view.Container = container.Name
	}
	if placement.ProjectID != nil {
		project, err := r.store.Projects.Get(ctx, *placement.ProjectID)
		if err != nil {
			return PlacementView{}, fmt.Errorf("describe project %s: %w", *placement.ProjectID, err)
		}
		view.Project = project.Name
	}
	return view, nil
}

// ResolveResource turns a typed reference into the id the link graph stores.
func (r *Registry) ResolveResource(ctx context.Context, resourceType storage.ResourceType, ref string) (string, error) {
	switch resourceType {
	case storage.ResourceTypeServer:
		s, err := r.ResolveServer(ctx, ref)
		if err != nil {
			return "", err
		}
		return s.ID, nil
	case storage.ResourceTypeDomain:
		d, err := r.ResolveDomain(ctx, ref)
		if err != nil {
			return "", err
		}
		return d.ID, nil
	case storage.ResourceTypeDatabase:
		d, err := r.ResolveDatabase(ctx, ref)
		if err != nil {
			return "", err
		}
		return d.ID, nil
	case storage.ResourceTypeContainer:
		c, err := r.ResolveContainer(ctx, ref)
		if err != nil {
			return "", err
		}
		return c.ID, nil
	case storage.ResourceTypeScript:
		s, err := r.ResolveScript(ctx, ref)
		if err != nil {
			return "", err
		}
		return s.ID, nil
	default:
		return "", fmt.Errorf("%w: unknown resource type %q", ErrValidation, resourceType)
	}
}

func (r *Registry) Link(ctx context.Context, projectRef string, resourceType storage.ResourceType, resourceRef, role, notes string) (*storage.ResourceLink, error) {
	project, err := r.ResolveProject(ctx, projectRef)
	if err != nil {
		return nil, err
	}
	resourceID, err := r.ResolveResource(ctx, resourceType, resourceRef)
	if err != nil {
		return nil, err
	}
	return r.store.Links.Link(ctx, project.ID, resourceType, resourceID, role, notes)
}

// ShowProject assembles the project with every linked resource resolved to a
// printable name.
func (r *Registry) ShowProject(ctx context.Context, ref string) (ProjectView, error) {
	project, err := r.ResolveProject(ctx, ref)
	if err != nil {
		return ProjectView{}, err
	}
	links, err := r.store.Links.ForProject(ctx, project.ID)
	if err != nil {
		return ProjectView{}, err
	}

	view := ProjectView{Project: *project, Resources: make([]LinkedResource, 0, len(links))}
	for _, link := range links {
		name, detail, err := r.describe(ctx, link.ResourceType, link.ResourceID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			view.Resources = append(view.Resources, LinkedResource{Link: link, Name: link.ResourceID, Missing: true})
		case err != nil:
			return ProjectView{}, err
		default:
			view.Resources = append(view.Resources, LinkedResource{Link: link, Name: name, Detail: detail})
		}
	}
	return view, nil
}

func (r *Registry) describe(ctx context.Context, resourceType storage.ResourceType, id string) (string, string, error) {
	switch resourceType {
	case storage.ResourceTypeServer:
		s, err := r.store.Servers.Get(ctx, id)
		if err != nil {
			return "", "", err
		}
		return s.Name, s.Host, nil
	case storage.ResourceTypeDomain:
		d, err := r.store.Domains.Get(ctx, id)
		if err != nil {
			return "", "", err
		}
		return d.Domain, string(d.Type), nil
	case storage.ResourceTypeDatabase:
		d, err := r.store.Databases.Get(ctx, id)
		if err != nil {
			return "", "", err
		}
		detail := string(d.Type)
		if d.Host != "" {
			detail += " " + d.Host
			if d.Port > 0 {
				detail += ":" + strconv.Itoa(d.Port)
			}
		}
		return d.Name, detail, nil
	case storage.ResourceTypeContainer:
		c, err := r.store.Containers.Get(ctx, id)
		if err != nil {
			return "", "", err
		}
		return c.Name, strings.TrimSpace(c.Image + " " + string(c.Status)), nil
	case storage.ResourceTypeScript:
		s, err := r.store.Scripts.Get(ctx, id)
		if err != nil {
			return "", "", err
		}
		return s.Name, s.Command, nil
	default:
		return "", "", fmt.Errorf("%w: unknown resource type %q", ErrValidation, resourceType)
	}
}

// Usage lists the projects that link to a resource.
func (r *Registry) Usage(ctx context.Context, resourceType storage.ResourceType, resourceID string) ([]ResourceUsage, error) {
	links, err := r.store.Links.ForResource(ctx, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	out := make([]ResourceUsage, 0, len(links))
	for _, link := range links {
		project, err := r.store.Projects.Get(ctx, link.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("resolve project %s: %w", link.ProjectID, err)
		}
		out = append(out, ResourceUsage{LinkID: link.ID, Project: project.Name, Role: link.Role})
	}
	return out, nil
}

func (r *Registry) Status(ctx context.Context) (StatusReport, error) {
	version, err := r.store.SchemaVersion(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	inventory, err := r.inventory(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{
		Path:          r.store.Path(),
		StoreID:       r.store.Report().StoreID,
		SchemaVersion: version,
		Inventory:     inventory,
	}, nil
}

func (r *Registry) inventory(ctx context.Context) (Inventory, error) {
	var inv Inventory
	projects, err := r.store.Projects.List(ctx)
	if err != nil {
		return inv, err
	}
	servers, err := r.store.Servers.List(ctx)
	if err != nil {
		return inv, err
	}
	domains, err := r.store.Domains.List(ctx)
	if err != nil {
		return inv, err
	}
	databases, err := r.store.Databases.List(ctx)
	if err != nil {
		return inv, err
	}
	containers, err := r.store.Containers.List(ctx)
	if err != nil {
		return inv, err
	}
	scripts, err := r.store.Scripts.List(ctx)
	if err != nil {
		return inv, err
	}
	credentials, err := r.store.Credentials.List(ctx)
	if err != nil {
		return inv, err
	}
	inv.Projects = len(projects)
	inv.Servers = len(servers)
	inv.Domains = len(domains)
	inv.Databases = len(databases)
	inv.Containers = len(containers)
	inv.Scripts = len(scripts)
	inv.Credentials = len(credentials)
	return inv, nil
}
