package models

// Role represents an API caller's role.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

// Capability names one class of operations a role may invoke.
type Capability string

const (
	CapabilityRead      Capability = "read"
	CapabilitySubscribe Capability = "subscribe"
	CapabilityUpload    Capability = "upload"
	CapabilityEdit      Capability = "edit"
	CapabilityDelete    Capability = "delete"
	CapabilityAdmin     Capability = "admin"
)

var roleCapabilities = map[Role]map[Capability]bool{
	RoleViewer: {
		CapabilityRead:      true,
		CapabilitySubscribe: true,
	},
	RoleEditor: {
		CapabilityRead:      true,
		CapabilitySubscribe: true,
		CapabilityUpload:    true,
		CapabilityEdit:      true,
		CapabilityDelete:    true,
	},
	RoleAdmin: {
		CapabilityRead:      true,
		CapabilitySubscribe: true,
		CapabilityUpload:    true,
		CapabilityEdit:      true,
		CapabilityDelete:    true,
		CapabilityAdmin:     true,
	},
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleCapabilities[r]
	return ok
}

// Can reports whether the role may invoke operations requiring c.
func (r Role) Can(c Capability) bool {
	return roleCapabilities[r][c]
}
