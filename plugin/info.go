package plugin

import (
	"math"
	"path/filepath"
	"slices"
)

// Permission is a capability a plugin process may be granted at launch
type Permission string

const (
	PermissionFileRead  Permission = "file-read"
	PermissionFileWrite Permission = "file-write"
	PermissionNetwork   Permission = "network"
	PermissionHRTime    Permission = "hrtime"
)

// AllPermissions lists every permission in launch-flag order
var AllPermissions = []Permission{
	PermissionFileRead,
	PermissionFileWrite,
	PermissionHRTime,
	PermissionNetwork,
}

// UnboundedProtocolVersion is the default maximum protocol version
const UnboundedProtocolVersion = math.MaxInt32

// Dependency names another plugin this one relies on
type Dependency struct {
	ID       string `json:"id"`
	Required bool   `json:"required"`
}

// Info describes a plugin as declared by its manifest. Permissions and
// Services are sets: ParseManifest removes duplicates.
type Info struct {
	ID                 string       `json:"id"`
	Entry              string       `json:"entry"`
	MinProtocolVersion int          `json:"minProtocolVersion"`
	MaxProtocolVersion int          `json:"maxProtocolVersion"`
	Dependencies       []Dependency `json:"dependencies"`
	Permissions        []Permission `json:"permissions"`
	Services           []string     `json:"services"`
}

// HasPermission reports whether p was declared
func (i *Info) HasPermission(p Permission) bool {
	return slices.Contains(i.Permissions, p)
}

// HasService reports whether the plugin declares service name
func (i *Info) HasService(name string) bool {
	return slices.Contains(i.Services, name)
}

// SupportsProtocol reports whether version lies in the declared range
func (i *Info) SupportsProtocol(version int) bool {
	return version >= i.MinProtocolVersion && version <= i.MaxProtocolVersion
}

// Discovered is a plugin found on disk: its directory and its manifest
type Discovered struct {
	Dir  string
	Info *Info
}

// EntryPath is the path of the plugin's entry point
func (d Discovered) EntryPath() string {
	return filepath.Join(d.Dir, d.Info.Entry)
}
