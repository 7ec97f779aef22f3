package dns

import "context"

// Record is the provider-independent view of an A record.
type Record struct {
	ID      string
	Name    string
	Content string
}

// Provider is the subset of a DNS provider API used by the Reconciler.
type Provider interface {
	// FindZone looks up the zone ID for a base domain. found is false when the
	// provider has no such zone; err is reserved for transport and API failures.
	FindZone(ctx context.Context, name string) (zoneID string, found bool, err error)

	// ListARecords lists A records in zoneID whose name is exactly host.
	ListARecords(ctx context.Context, zoneID, host string) ([]Record, error)

	// CreateARecord creates an unproxied A record host -> ip.
	CreateARecord(ctx context.Context, zoneID, host, ip string) error

	// DeleteRecord deletes a record by its provider-assigned ID.
	DeleteRecord(ctx context.Context, zoneID, recordID string) error
}
