package audit

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/pkg/models"
)

// ESignatureRecord is one signed action in the compliance report.
type ESignatureRecord struct {
	EntryID   uint      `json:"entryId"`
	SignedAt  time.Time `json:"signedAt"`
	Username  string    `json:"username"`
	Action    string    `json:"action"`
	Meaning   string    `json:"meaning"`
	Reason    string    `json:"reason,omitempty"`
	Document  string    `json:"document,omitempty"`
	Version   string    `json:"version,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
}

// signatureDetails is the subset of the entry details map a signed
// action carries.
type signatureDetails struct {
	Meaning        string `mapstructure:"meaning"`
	Reason         string `mapstructure:"reason"`
	DocumentNumber string `mapstructure:"document_number"`
	VersionNumber  string `mapstructure:"version_number"`
}

// ESignatureReport lists every e-signed entry in the period, oldest
// first, suitable for inspection export.
func ESignatureReport(db *gorm.DB, from, until string) ([]ESignatureRecord, error) {
	filter := models.AuditFilter{ESignedOnly: true}

	var err error
	if filter.From, err = parseTimeBound(from); err != nil {
		return nil, fmt.Errorf("invalid from time: %w", err)
	}
	if filter.Until, err = parseTimeBound(until); err != nil {
		return nil, fmt.Errorf("invalid until time: %w", err)
	}

	entries, _, err := models.FindAuditEntries(db, filter)
	if err != nil {
		return nil, fmt.Errorf("error listing e-signed entries: %w", err)
	}

	records := make([]ESignatureRecord, 0, len(entries))
	// FindAuditEntries returns newest first; the report reads oldest
	// first.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]

		var details signatureDetails
		if e.Details != nil {
			if err := mapstructure.WeakDecode(
				map[string]interface{}(e.Details), &details,
			); err != nil {
				return nil, fmt.Errorf(
					"error decoding details for audit entry %d: %w", e.ID, err)
			}
		}

		records = append(records, ESignatureRecord{
			EntryID:   e.ID,
			SignedAt:  e.CreatedAt,
			Username:  e.PrincipalUsername,
			Action:    string(e.Action),
			Meaning:   details.Meaning,
			Reason:    details.Reason,
			Document:  details.DocumentNumber,
			Version:   details.VersionNumber,
			IPAddress: e.IPAddress,
		})
	}

	return records, nil
}
