package mirror

import (
	"github.com/fortressi/gatewaysync"
	"gorm.io/datatypes"
)

// Service mirrors a gateway service.
type Service struct {
	ID             string                      `gorm:"type:varchar(36);primaryKey" json:"id"`
	RemoteID       string                      `gorm:"type:varchar(64);uniqueIndex;not null" json:"remote_id"`
	Name           *string                     `gorm:"type:varchar(255);uniqueIndex" json:"name"`
	URL            *string                     `gorm:"type:varchar(2048);uniqueIndex" json:"url,omitempty"`
	Protocol       string                      `gorm:"type:varchar(16)" json:"protocol"`
	Host           string                      `gorm:"type:varchar(255)" json:"host"`
	Port           int                         `json:"port"`
	Path           *string                     `gorm:"type:varchar(2048)" json:"path"`
	Retries        int                         `json:"retries"`
	ConnectTimeout int                         `json:"connect_timeout"`
	ReadTimeout    int                         `json:"read_timeout"`
	WriteTimeout   int                         `json:"write_timeout"`
	Enabled        bool                        `json:"enabled"`
	Tags           datatypes.JSONSlice[string] `json:"tags"`
	Lifecycle      gatewaysync.Lifecycle       `gorm:"column:lifecycle_state;type:varchar(32);not null;index" json:"lifecycle_state"`
	CreatedAt      int64                       `json:"created_at"`
	UpdatedAt      int64                       `gorm:"autoUpdateTime:false" json:"updated_at"`
}

func (Service) TableName() string {
	return "services"
}

// Route mirrors a gateway route. Path is the first entry of Paths and is
// unique across routes.
type Route struct {
	ID                      string                                  `gorm:"type:varchar(36);primaryKey" json:"id"`
	RemoteID                string                                  `gorm:"type:varchar(64);uniqueIndex;not null" json:"remote_id"`
	ServiceID               string                                  `gorm:"type:varchar(36);not null;index" json:"service_id"`
	Name                    *string                                 `gorm:"type:varchar(255);uniqueIndex" json:"name"`
	Path                    *string                                 `gorm:"type:varchar(2048);uniqueIndex" json:"path"`
	Paths                   datatypes.JSONSlice[string]             `json:"paths"`
	Methods                 datatypes.JSONSlice[string]             `json:"methods"`
	Hosts                   datatypes.JSONSlice[string]             `json:"hosts"`
	Protocols               datatypes.JSONSlice[string]             `json:"protocols"`
	Headers                 datatypes.JSONType[map[string][]string] `json:"headers"`
	StripPath               bool                                    `json:"strip_path"`
	PreserveHost            bool                                    `json:"preserve_host"`
	RegexPriority           int                                     `json:"regex_priority"`
	HTTPSRedirectStatusCode int                                     `gorm:"column:https_redirect_status_code" json:"https_redirect_status_code"`
	PathHandling            string                                  `gorm:"type:varchar(8)" json:"path_handling"`
	RequestBuffering        bool                                    `json:"request_buffering"`
	ResponseBuffering       bool                                    `json:"response_buffering"`
	Tags                    datatypes.JSONSlice[string]             `json:"tags"`
	Lifecycle               gatewaysync.Lifecycle                   `gorm:"column:lifecycle_state;type:varchar(32);not null;index" json:"lifecycle_state"`
	CreatedAt               int64                                   `json:"created_at"`
	UpdatedAt               int64                                   `gorm:"autoUpdateTime:false" json:"updated_at"`
}

func (Route) TableName() string {
	return "routes"
}

// PluginCatalogEntry is the shared, deduplicated record of a plugin kind.
type PluginCatalogEntry struct {
	ID        string `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name      string `gorm:"type:varchar(50);uniqueIndex;not null" json:"name"`
	CreatedAt int64  `json:"created_at"`
}

func (PluginCatalogEntry) TableName() string {
	return "plugins"
}

// PluginBinding is one plugin instance attached to a service or a route.
type PluginBinding struct {
	ID           string                      `gorm:"type:varchar(36);primaryKey" json:"id"`
	RemoteID     string                      `gorm:"type:varchar(64);uniqueIndex;not null" json:"remote_id"`
	CatalogID    string                      `gorm:"type:varchar(36);not null;index" json:"catalog_id"`
	Name         string                      `gorm:"type:varchar(50);not null" json:"name"`
	ServiceID    *string                     `gorm:"type:varchar(36);index" json:"service_id"`
	RouteID      *string                     `gorm:"type:varchar(36);index" json:"route_id"`
	InstanceName *string                     `gorm:"type:varchar(255);uniqueIndex" json:"instance_name"`
	Config       datatypes.JSONMap           `json:"config"`
	Enabled      bool                        `json:"enabled"`
	Protocols    datatypes.JSONSlice[string] `json:"protocols"`
	Tags         datatypes.JSONSlice[string] `json:"tags"`
	Lifecycle    gatewaysync.Lifecycle       `gorm:"column:lifecycle_state;type:varchar(32);not null;index" json:"lifecycle_state"`
	CreatedAt    int64                       `json:"created_at"`
	UpdatedAt    int64                       `gorm:"autoUpdateTime:false" json:"updated_at"`
}

func (PluginBinding) TableName() string {
	return "plugin_bindings"
}

// CatalogEntryView is a catalog entry with its number of bindings.
type CatalogEntryView struct {
	PluginCatalogEntry
	Bindings int64 `json:"bindings"`
}
