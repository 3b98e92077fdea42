package models

import "time"

// Audited actions.
const (
	ActionVaultCreate    = "vault_create"
	ActionVaultUnlock    = "vault_unlock"
	ActionFailedUnlock   = "failed_unlock"
	ActionVaultKeyChange = "vault_key_change"
	ActionVaultLockReset = "vault_lock_reset"
	ActionSecretCreate   = "secret_create"
	ActionSecretRead     = "secret_read"
	ActionSecretUpdate   = "secret_update"
	ActionSecretDelete   = "secret_delete"
	ActionFolderCreate   = "folder_create"
	ActionFolderUpdate   = "folder_update"
	ActionFolderDelete   = "folder_delete"
	ActionSecretShare    = "secret_share"
	ActionShareRevoke    = "share_revoke"
	ActionAuditExport    = "audit_export"
)

// AccessLogEntry is one append-only audit record.
type AccessLogEntry struct {
	ID           int64             `json:"id"`
	NamespaceID  string            `json:"namespace_id"`
	VaultID      *string           `json:"vault_id,omitempty"`
	SecretID     *string           `json:"secret_id,omitempty"`
	FolderID     *string           `json:"folder_id,omitempty"`
	UserID       string            `json:"user_id"`
	Action       string            `json:"action"`
	ActionDetail *string           `json:"action_detail,omitempty"`
	Success      bool              `json:"success"`
	ErrorMessage *string           `json:"error_message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// AccessLogFilter narrows an audit query. Zero values match everything.
type AccessLogFilter struct {
	VaultID  string
	SecretID string
	UserID   string
	Action   string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}
