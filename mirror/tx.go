package mirror

import (
	"context"
	"fmt"

	"github.com/fortressi/gatewaysync"
	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

// Tx is a mirror transaction. It is only handed out by Store.Transaction.
type Tx struct {
	queries
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func committed(l gatewaysync.Lifecycle) gatewaysync.Lifecycle {
	if l == "" {
		return gatewaysync.LifecycleMirrorCommitted
	}
	return l
}

// CreateService inserts a service row.
func (t *Tx) CreateService(ctx context.Context, svc *Service) error {
	if svc.ID == "" {
		svc.ID = newID()
	}
	svc.Lifecycle = committed(svc.Lifecycle)

	err := t.db.
		WithContext(ctx).
		Create(svc).
		Error

	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	return nil
}

// SaveService writes every column of an existing service row.
func (t *Tx) SaveService(ctx context.Context, svc *Service) error {
	err := t.db.
		WithContext(ctx).
		Save(svc).
		Error

	if err != nil {
		return fmt.Errorf("failed to save service %s: %w", svc.ID, err)
	}

	return nil
}

// DeleteService removes a service together with its routes and every plugin
// binding attached to either.
func (t *Tx) DeleteService(ctx context.Context, id string) error {
	db := t.db.WithContext(ctx)

	var routeIDs []string

	err := db.
		Model(&Route{}).
		Where("service_id = ?", id).
		Pluck("id", &routeIDs).
		Error

	if err != nil {
		return fmt.Errorf("failed to list routes of service %s: %w", id, err)
	}

	if len(routeIDs) > 0 {
		err = db.
			Where("route_id IN ?", routeIDs).
			Delete(&PluginBinding{}).
			Error

		if err != nil {
			return fmt.Errorf("failed to delete route plugins of service %s: %w", id, err)
		}
	}

	err = db.
		Where("service_id = ?", id).
		Delete(&PluginBinding{}).
		Error

	if err != nil {
		return fmt.Errorf("failed to delete plugins of service %s: %w", id, err)
	}

	err = db.
		Where("service_id = ?", id).
		Delete(&Route{}).
		Error

	if err != nil {
		return fmt.Errorf("failed to delete routes of service %s: %w", id, err)
	}

	result := db.
		Where("id = ?", id).
		Delete(&Service{})

	if result.Error != nil {
		return fmt.Errorf("failed to delete service %s: %w", id, result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("service %s: %w", id, gatewaysync.ErrNotFound)
	}

	return nil
}

func (t *Tx) requireRow(ctx context.Context, model any, kind gatewaysync.ResourceKind, id string) error {
	var count int64

	err := t.db.
		WithContext(ctx).
		Model(model).
		Where("id = ?", id).
		Count(&count).
		Error

	if err != nil {
		return fmt.Errorf("failed to check %s %s: %w", kind, id, err)
	}

	if count == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, gatewaysync.ErrNotFound)
	}

	return nil
}

// CreateRoute inserts a route row. The parent service must exist.
func (t *Tx) CreateRoute(ctx context.Context, route *Route) error {
	if err := t.requireRow(ctx, &Service{}, gatewaysync.KindService, route.ServiceID); err != nil {
		return fmt.Errorf("route parent: %w", err)
	}

	if route.ID == "" {
		route.ID = newID()
	}
	route.Lifecycle = committed(route.Lifecycle)

	err := t.db.
		WithContext(ctx).
		Create(route).
		Error

	if err != nil {
		return fmt.Errorf("failed to create route: %w", err)
	}

	return nil
}

// SaveRoute writes every column of an existing route row.
func (t *Tx) SaveRoute(ctx context.Context, route *Route) error {
	err := t.db.
		WithContext(ctx).
		Save(route).
		Error

	if err != nil {
		return fmt.Errorf("failed to save route %s: %w", route.ID, err)
	}

	return nil
}

// DeleteRoute removes a route and the plugin bindings attached to it.
func (t *Tx) DeleteRoute(ctx context.Context, id string) error {
	db := t.db.WithContext(ctx)

	err := db.
		Where("route_id = ?", id).
		Delete(&PluginBinding{}).
		Error

	if err != nil {
		return fmt.Errorf("failed to delete plugins of route %s: %w", id, err)
	}

	result := db.
		Where("id = ?", id).
		Delete(&Route{})

	if result.Error != nil {
		return fmt.Errorf("failed to delete route %s: %w", id, result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("route %s: %w", id, gatewaysync.ErrNotFound)
	}

	return nil
}

// CreateBinding inserts a plugin binding. The binding must name exactly one
// existing parent; its catalog entry is created on first use.
func (t *Tx) CreateBinding(ctx context.Context, binding *PluginBinding) error {
	switch {
	case binding.ServiceID != nil && binding.RouteID != nil:
		return gatewaysync.Invalid("plugin %s is bound to both a service and a route", binding.Name)
	case binding.ServiceID != nil:
		if err := t.requireRow(ctx, &Service{}, gatewaysync.KindService, *binding.ServiceID); err != nil {
			return fmt.Errorf("plugin parent: %w", err)
		}
	case binding.RouteID != nil:
		if err := t.requireRow(ctx, &Route{}, gatewaysync.KindRoute, *binding.RouteID); err != nil {
			return fmt.Errorf("plugin parent: %w", err)
		}
	default:
		return gatewaysync.Invalid("plugin %s has no parent", binding.Name)
	}

	entry, err := t.ensureCatalogEntry(ctx, binding.Name)
	if err != nil {
		return err
	}

	if binding.ID == "" {
		binding.ID = newID()
	}
	binding.CatalogID = entry.ID
	binding.Lifecycle = committed(binding.Lifecycle)

	err = t.db.
		WithContext(ctx).
		Create(binding).
		Error

	if err != nil {
		return fmt.Errorf("failed to create plugin binding: %w", err)
	}

	return nil
}

func (t *Tx) ensureCatalogEntry(ctx context.Context, name string) (*PluginCatalogEntry, error) {
	entry := PluginCatalogEntry{ID: newID(), Name: name}

	err := t.db.
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).
		Create(&entry).
		Error

	if err != nil {
		return nil, fmt.Errorf("failed to register plugin %q: %w", name, err)
	}

	return t.GetCatalogEntry(ctx, name)
}

// SaveBinding writes every column of an existing plugin binding row.
func (t *Tx) SaveBinding(ctx context.Context, binding *PluginBinding) error {
	err := t.db.
		WithContext(ctx).
		Save(binding).
		Error

	if err != nil {
		return fmt.Errorf("failed to save plugin binding %s: %w", binding.ID, err)
	}

	return nil
}

// DeleteBinding removes a plugin binding. Its catalog entry is left for the
// reaper.
func (t *Tx) DeleteBinding(ctx context.Context, id string) error {
	result := t.db.
		WithContext(ctx).
		Where("id = ?", id).
		Delete(&PluginBinding{})

	if result.Error != nil {
		return fmt.Errorf("failed to delete plugin binding %s: %w", id, result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("plugin binding %s: %w", id, gatewaysync.ErrNotFound)
	}

	return nil
}
