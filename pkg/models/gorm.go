package models

func ModelsToAutoMigrate() []interface{} {
	return []interface{}{
		&Role{}, // Must be first - principal_roles references it
		&Principal{},
		&Document{},
		&DocumentNumberCounter{},
		&DocumentVersion{},
		&EditLock{},
		&Comment{},
		&Attachment{},
		&AuditEntry{},
		&AuditOutbox{},
	}
}
