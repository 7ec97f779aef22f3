package dns

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/lexfrei/internet-gateway/internal/metrics"
)

var (
	// ErrDisabled is returned by every call on a Reconciler built without a credential.
	ErrDisabled = errors.New("DNS updates disabled: no Cloudflare API token configured")

	// ErrZoneNotFound is returned when the provider has no zone for a host's base domain.
	ErrZoneNotFound = errors.New("no DNS zone found")

	// ErrInvalidHost is returned for hosts with fewer than two labels.
	ErrInvalidHost = errors.New("invalid hostname")
)

// Reconciler converges the A records of a host to a desired set of addresses.
// Zone IDs are cached per base domain for the lifetime of the Reconciler.
// It is not safe for concurrent use.
type Reconciler struct {
	provider Provider
	zones    map[string]string
	metrics  metrics.Collector
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler backed by provider. A nil provider yields
// a disabled Reconciler.
func NewReconciler(provider Provider, collector metrics.Collector) *Reconciler {
	return &Reconciler{
		provider: provider,
		zones:    map[string]string{},
		metrics:  collector,
		logger:   slog.Default().With("component", "dns"),
	}
}

// Enabled reports whether the Reconciler has a provider.
func (r *Reconciler) Enabled() bool {
	return r.provider != nil
}

// BaseDomain returns the last two labels of host: pg.example.com -> example.com.
//
//nolint:wrapcheck // errors.Wrapf on a sentinel
func BaseDomain(host string) (string, error) {
	parts := strings.Split(strings.TrimSuffix(host, "."), ".")
	if len(parts) < 2 || parts[len(parts)-2] == "" || parts[len(parts)-1] == "" {
		return "", errors.Wrapf(ErrInvalidHost, "%q", host)
	}

	return strings.Join(parts[len(parts)-2:], "."), nil
}

// normalizeHost returns host in the form Cloudflare stores record names:
// lower case without a trailing dot.
func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSuffix(host, "."))
}

// Upsert makes the A records of host equal to ips: records for addresses not in
// ips are deleted, missing addresses are created, matching records are kept.
func (r *Reconciler) Upsert(ctx context.Context, host string, ips []string) error {
	if !r.Enabled() {
		return ErrDisabled
	}

	host = normalizeHost(host)

	zoneID, err := r.zoneID(ctx, host)
	if err != nil {
		return err
	}

	records, err := r.provider.ListARecords(ctx, zoneID, host)
	if err != nil {
		return errors.Wrapf(err, "failed to update DNS for %s", host)
	}

	existing := make(map[string]Record, len(records))
	for _, record := range records {
		existing[record.Content] = record
	}

	current := sets.KeySet(existing)
	desired := sets.New(ips...)

	if current.Equal(desired) {
		r.logger.Info("DNS records already up to date", "host", host, "ips", sets.List(desired))

		return nil
	}

	for _, ip := range sets.List(current.Difference(desired)) {
		err = r.provider.DeleteRecord(ctx, zoneID, existing[ip].ID)
		if err != nil {
			return errors.Wrapf(err, "failed to update DNS for %s", host)
		}

		r.metrics.RecordDNSChange(ctx, "delete", 1)
		r.logger.Info("deleted DNS record", "host", host, "ip", ip)
	}

	for _, ip := range sets.List(desired.Difference(current)) {
		err = r.provider.CreateARecord(ctx, zoneID, host, ip)
		if err != nil {
			return errors.Wrapf(err, "failed to update DNS for %s", host)
		}

		r.metrics.RecordDNSChange(ctx, "create", 1)
		r.logger.Info("created DNS record", "host", host, "ip", ip)
	}

	return nil
}

// Delete removes every A record of host. A host without records is not an error.
func (r *Reconciler) Delete(ctx context.Context, host string) error {
	if !r.Enabled() {
		return ErrDisabled
	}

	host = normalizeHost(host)

	zoneID, err := r.zoneID(ctx, host)
	if err != nil {
		return err
	}

	records, err := r.provider.ListARecords(ctx, zoneID, host)
	if err != nil {
		return errors.Wrapf(err, "failed to delete DNS for %s", host)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Content < records[j].Content })

	for _, record := range records {
		err = r.provider.DeleteRecord(ctx, zoneID, record.ID)
		if err != nil {
			return errors.Wrapf(err, "failed to delete DNS for %s", host)
		}

		r.metrics.RecordDNSChange(ctx, "delete", 1)
		r.logger.Info("deleted DNS record", "host", host, "ip", record.Content)
	}

	return nil
}

func (r *Reconciler) zoneID(ctx context.Context, host string) (string, error) {
	domain, err := BaseDomain(host)
	if err != nil {
		r.logger.Error("invalid hostname", "host", host)

		return "", err
	}

	if zoneID, ok := r.zones[domain]; ok {
		return zoneID, nil
	}

	zoneID, found, err := r.provider.FindZone(ctx, domain)

	switch {
	case err != nil:
		r.logger.Error("failed to lookup zone", "domain", domain, "error", err)

		return "", errors.Wrapf(err, "failed to lookup zone for %s", domain)
	case !found:
		r.logger.Error("no Cloudflare zone found for domain", "domain", domain)

		return "", errors.Wrapf(ErrZoneNotFound, "domain %s", domain)
	}

	r.zones[domain] = zoneID
	r.logger.Info("found zone ID", "domain", domain, "zoneID", zoneID)

	return zoneID, nil
}
