package models

import "time"

// Folder groups secrets inside one vault. Path is the chain of ancestor ids,
// each followed by "/"; root folders have an empty path and depth 0.
type Folder struct {
	ID             string
	VaultID        string
	ParentFolderID *string
	Name           string
	Path           string
	Depth          int
	SecretsCount   int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ChildPath is the path of a direct child of f.
func (f *Folder) ChildPath() string {
	return f.Path + f.ID + "/"
}
