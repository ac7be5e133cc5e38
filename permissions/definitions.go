package permissions

// Permission keys checked by the HTTP API.
const (
	FramesRead   = "frames.read"
	FramesIngest = "frames.ingest"
	FramesDelete = "frames.delete"
)

// PermissionDefinition describes a single, specific permission
type PermissionDefinition struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	StaffOnly   bool   `json:"staff_only"` // granted only to staff accounts
}

// PermissionGroupDefinition groups related permissions
type PermissionGroupDefinition struct {
	Key         string                 `json:"key"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Permissions []PermissionDefinition `json:"permissions"`
}

// DefinedPermissionGroups holds all statically defined permission groups and their permissions
var DefinedPermissionGroups = []PermissionGroupDefinition{
	{
		Key:         "frames",
		Name:        "Frame Archive",
		Description: "Permissions related to browsing and maintaining archived frames.",
		Permissions: []PermissionDefinition{
			{
				Key:         FramesRead,
				Name:        "Browse Frames",
				Description: "Allows listing frames, reading headers and catalogs, and downloading files.",
			},
			{
				Key:         FramesIngest,
				Name:        "Ingest Frames",
				Description: "Allows uploading new FITS files into the archive.",
				StaffOnly:   true,
			},
			{
				Key:         FramesDelete,
				Name:        "Delete Frames",
				Description: "Allows removing frames and their files from the archive.",
				StaffOnly:   true,
			},
		},
	},
}

var (
	allPermissionKeysMap map[string]PermissionDefinition
	allPermissionKeys    []string
)

func init() {
	allPermissionKeysMap = make(map[string]PermissionDefinition)
	for _, group := range DefinedPermissionGroups {
		for _, perm := range group.Permissions {
			allPermissionKeysMap[perm.Key] = perm
			allPermissionKeys = append(allPermissionKeys, perm.Key)
		}
	}
}

// GetAllPermissionKeys returns a slice of all unique permission string keys
func GetAllPermissionKeys() []string {
	keys := make([]string, len(allPermissionKeys))
	copy(keys, allPermissionKeys)
	return keys
}

// IsValidPermissionKey checks if a given permission key is defined
func IsValidPermissionKey(key string) bool {
	_, ok := allPermissionKeysMap[key]
	return ok
}

// Granted returns the permissions of an authenticated account.
func Granted(isStaff bool) []string {
	var keys []string
	for _, key := range allPermissionKeys {
		if !allPermissionKeysMap[key].StaffOnly || isStaff {
			keys = append(keys, key)
		}
	}
	return keys
}

// Has reports whether an account with the given staff flag holds key.
func Has(isStaff bool, key string) bool {
	perm, ok := allPermissionKeysMap[key]
	return ok && (!perm.StaffOnly || isStaff)
}
