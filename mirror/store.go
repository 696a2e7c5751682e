package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/fortressi/gatewaysync"
	"github.com/fortressi/gatewaysync/set"
	"gorm.io/gorm"
)

var uniqueColumns = map[gatewaysync.ResourceKind]*set.Set[string]{
	gatewaysync.KindService: set.Of("name", "url"),
	gatewaysync.KindRoute:   set.Of("name", "path"),
	gatewaysync.KindPlugin:  set.Of("instance_name"),
}

func modelFor(kind gatewaysync.ResourceKind) (any, error) {
	switch kind {
	case gatewaysync.KindService:
		return &Service{}, nil
	case gatewaysync.KindRoute:
		return &Route{}, nil
	case gatewaysync.KindPlugin:
		return &PluginBinding{}, nil
	default:
		return nil, fmt.Errorf("unknown resource kind %q", kind)
	}
}

// Store is the mirror. Reads go straight to the database, writes only
// happen inside Transaction.
type Store struct {
	queries
}

// New wraps an open database.
func New(db *gorm.DB) *Store {
	return &Store{queries: queries{db: db}}
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn in a single database transaction. Any error returned
// by fn rolls back every write made through the Tx.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	return s.db.
		WithContext(ctx).
		Transaction(func(db *gorm.DB) error {
			return fn(&Tx{queries: queries{db: db}})
		})
}

// Exists reports whether a unique value is already used by a resource other
// than key.ExceptID.
func (q queries) Exists(ctx context.Context, key gatewaysync.UniqueKey) (bool, error) {
	columns, ok := uniqueColumns[key.Kind]
	if !ok || !columns.Contains(key.Field) {
		return false, fmt.Errorf("%s.%s is not a unique field", key.Kind, key.Field)
	}

	model, err := modelFor(key.Kind)
	if err != nil {
		return false, err
	}

	query := q.db.
		WithContext(ctx).
		Model(model).
		Where(key.Field+" = ?", key.Value)

	if key.ExceptID != "" {
		query = query.Where("id <> ? AND remote_id <> ?", key.ExceptID, key.ExceptID)
	}

	var count int64

	err = query.Count(&count).Error

	if err != nil {
		return false, fmt.Errorf("failed to check %s.%s: %w", key.Kind, key.Field, err)
	}

	return count > 0, nil
}

// SetLifecycle updates the lifecycle state of the row the key points at.
// Keys carry either the local id or the remote id; keys matching no row are
// ignored.
func (s *Store) SetLifecycle(ctx context.Context, key gatewaysync.ResourceKey, state gatewaysync.Lifecycle) error {
	kind, id := key.Split()

	model, err := modelFor(kind)
	if err != nil {
		return err
	}

	err = s.db.
		WithContext(ctx).
		Model(model).
		Where("id = ? OR remote_id = ?", id, id).
		Update("lifecycle_state", state).
		Error

	if err != nil {
		return fmt.Errorf("failed to set lifecycle of %s: %w", key, err)
	}

	return nil
}

// ReattachRemoteID points an existing row at the remote object that replaced
// its deleted original.
func (s *Store) ReattachRemoteID(ctx context.Context, target gatewaysync.Reattach, remoteID string) error {
	model, err := modelFor(target.Kind)
	if err != nil {
		return err
	}

	result := s.db.
		WithContext(ctx).
		Model(model).
		Where("id = ?", target.LocalID).
		Update("remote_id", remoteID)

	if result.Error != nil {
		return fmt.Errorf("failed to reattach %s/%s: %w", target.Kind, target.LocalID, result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("%s/%s: %w", target.Kind, target.LocalID, gatewaysync.ErrNotFound)
	}

	return nil
}

// queries are the reads shared by Store and Tx.
type queries struct {
	db *gorm.DB
}

func notFound(err error, kind gatewaysync.ResourceKind, ref string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %q: %w", kind, ref, gatewaysync.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s %q: %w", kind, ref, err)
}

// GetService finds a service by local id, remote id or name.
func (q queries) GetService(ctx context.Context, ref string) (*Service, error) {
	var svc Service

	err := q.db.
		WithContext(ctx).
		Where("id = ? OR remote_id = ? OR name = ?", ref, ref, ref).
		First(&svc).
		Error

	if err != nil {
		return nil, notFound(err, gatewaysync.KindService, ref)
	}

	return &svc, nil
}

// ListServices returns every service, oldest first.
func (q queries) ListServices(ctx context.Context) ([]Service, error) {
	var services []Service

	err := q.db.
		WithContext(ctx).
		Order("created_at, id").
		Find(&services).
		Error

	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}

	return services, nil
}

// GetRoute finds a route by local id, remote id or name.
func (q queries) GetRoute(ctx context.Context, ref string) (*Route, error) {
	var route Route

	err := q.db.
		WithContext(ctx).
		Where("id = ? OR remote_id = ? OR name = ?", ref, ref, ref).
		First(&route).
		Error

	if err != nil {
		return nil, notFound(err, gatewaysync.KindRoute, ref)
	}

	return &route, nil
}

// ListRoutes returns the routes of a service, or every route when serviceID
// is empty.
func (q queries) ListRoutes(ctx context.Context, serviceID string) ([]Route, error) {
	var routes []Route

	query := q.db.
		WithContext(ctx).
		Order("created_at, id")

	if serviceID != "" {
		query = query.Where("service_id = ?", serviceID)
	}

	err := query.Find(&routes).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}

	return routes, nil
}

// GetBinding finds a plugin binding by local id, remote id or instance name.
func (q queries) GetBinding(ctx context.Context, ref string) (*PluginBinding, error) {
	var binding PluginBinding

	err := q.db.
		WithContext(ctx).
		Where("id = ? OR remote_id = ? OR instance_name = ?", ref, ref, ref).
		First(&binding).
		Error

	if err != nil {
		return nil, notFound(err, gatewaysync.KindPlugin, ref)
	}

	return &binding, nil
}

// BindingFilter narrows ListBindings. Zero fields match everything.
type BindingFilter struct {
	ServiceID string
	RouteID   string
	Name      string
}

// ListBindings returns plugin bindings matching the filter.
func (q queries) ListBindings(ctx context.Context, filter BindingFilter) ([]PluginBinding, error) {
	var bindings []PluginBinding

	query := q.db.
		WithContext(ctx).
		Order("created_at, id")

	if filter.ServiceID != "" {
		query = query.Where("service_id = ?", filter.ServiceID)
	}
	if filter.RouteID != "" {
		query = query.Where("route_id = ?", filter.RouteID)
	}
	if filter.Name != "" {
		query = query.Where("name = ?", filter.Name)
	}

	err := query.Find(&bindings).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list plugin bindings: %w", err)
	}

	return bindings, nil
}

// GetCatalogEntry finds a catalog entry by plugin name.
func (q queries) GetCatalogEntry(ctx context.Context, name string) (*PluginCatalogEntry, error) {
	var entry PluginCatalogEntry

	err := q.db.
		WithContext(ctx).
		Where("name = ?", name).
		First(&entry).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("plugin %q: %w", name, gatewaysync.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get plugin %q: %w", name, err)
	}

	return &entry, nil
}

// ListCatalog returns every catalog entry with its binding count.
func (q queries) ListCatalog(ctx context.Context) ([]CatalogEntryView, error) {
	var entries []CatalogEntryView

	err := q.db.
		WithContext(ctx).
		Model(&PluginCatalogEntry{}).
		Select("plugins.id, plugins.name, plugins.created_at, COUNT(plugin_bindings.id) AS bindings").
		Joins("LEFT JOIN plugin_bindings ON plugin_bindings.catalog_id = plugins.id").
		Group("plugins.id, plugins.name, plugins.created_at").
		Order("plugins.name").
		Scan(&entries).
		Error

	if err != nil {
		return nil, fmt.Errorf("failed to list plugin catalog: %w", err)
	}

	return entries, nil
}
