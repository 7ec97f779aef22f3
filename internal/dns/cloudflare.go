package dns

import (
	"context"
	"time"

	"github.com/cloudflare/cloudflare-go/v6"
	cfdns "github.com/cloudflare/cloudflare-go/v6/dns"
	"github.com/cloudflare/cloudflare-go/v6/option"
	"github.com/cloudflare/cloudflare-go/v6/zones"
	"github.com/cockroachdb/errors"

	"github.com/lexfrei/internet-gateway/internal/metrics"
)

// Resource labels for API metrics.
const (
	resourceZones   = "zones"
	resourceRecords = "dns_records"
)

// CloudflareProvider implements Provider on top of the Cloudflare API.
type CloudflareProvider struct {
	client  *cloudflare.Client
	metrics metrics.Collector
}

// NewCloudflareProvider creates a provider authenticated with apiToken.
// Additional request options (base URL, retries) are passed to the SDK client.
func NewCloudflareProvider(apiToken string, collector metrics.Collector, opts ...option.RequestOption) *CloudflareProvider {
	clientOpts := append([]option.RequestOption{option.WithAPIToken(apiToken)}, opts...)

	return &CloudflareProvider{
		client:  cloudflare.NewClient(clientOpts...),
		metrics: collector,
	}
}

// FindZone implements Provider.
func (p *CloudflareProvider) FindZone(ctx context.Context, name string) (string, bool, error) {
	startTime := time.Now()

	page, err := p.client.Zones.List(ctx, zones.ZoneListParams{
		Name: cloudflare.F(name),
	})
	p.observe(ctx, "list", resourceZones, startTime, err)

	if err != nil {
		return "", false, errors.Wrapf(err, "failed to list zones for %s", name)
	}

	for i := range page.Result {
		if page.Result[i].Name == name {
			return page.Result[i].ID, true, nil
		}
	}

	return "", false, nil
}

// ListARecords implements Provider.
func (p *CloudflareProvider) ListARecords(ctx context.Context, zoneID, host string) ([]Record, error) {
	host = normalizeHost(host)
	startTime := time.Now()

	page, err := p.client.DNS.Records.List(ctx, cfdns.RecordListParams{
		ZoneID: cloudflare.F(zoneID),
		Name: cloudflare.F(cfdns.RecordListParamsName{
			Exact: cloudflare.F(host),
		}),
		Type: cloudflare.F(cfdns.RecordListParamsTypeA),
	})
	p.observe(ctx, "list", resourceRecords, startTime, err)

	if err != nil {
		return nil, errors.Wrapf(err, "failed to list A records for %s", host)
	}

	records := make([]Record, 0, len(page.Result))

	for i := range page.Result {
		item := &page.Result[i]
		if normalizeHost(item.Name) != host {
			continue
		}

		records = append(records, Record{
			ID:      item.ID,
			Name:    item.Name,
			Content: item.Content,
		})
	}

	return records, nil
}

// CreateARecord implements Provider.
func (p *CloudflareProvider) CreateARecord(ctx context.Context, zoneID, host, ip string) error {
	host = normalizeHost(host)
	startTime := time.Now()

	_, err := p.client.DNS.Records.New(ctx, cfdns.RecordNewParams{
		ZoneID: cloudflare.F(zoneID),
		Body: cfdns.ARecordParam{
			Name:    cloudflare.F(host),
			Type:    cloudflare.F(cfdns.ARecordTypeA),
			Content: cloudflare.F(ip),
			Proxied: cloudflare.F(false),
			TTL:     cloudflare.F(cfdns.TTL1),
		},
	})
	p.observe(ctx, "create", resourceRecords, startTime, err)

	if err != nil {
		return errors.Wrapf(err, "failed to create A record %s -> %s", host, ip)
	}

	return nil
}

// DeleteRecord implements Provider.
func (p *CloudflareProvider) DeleteRecord(ctx context.Context, zoneID, recordID string) error {
	startTime := time.Now()

	_, err := p.client.DNS.Records.Delete(ctx, recordID, cfdns.RecordDeleteParams{
		ZoneID: cloudflare.F(zoneID),
	})
	p.observe(ctx, "delete", resourceRecords, startTime, err)

	if err != nil {
		return errors.Wrapf(err, "failed to delete record %s", recordID)
	}

	return nil
}

func (p *CloudflareProvider) observe(ctx context.Context, method, resource string, startTime time.Time, err error) {
	if err != nil {
		p.metrics.RecordAPICall(ctx, method, resource, metrics.StatusError, time.Since(startTime))
		p.metrics.RecordAPIError(ctx, method, metrics.ClassifyCloudflareError(err))

		return
	}

	p.metrics.RecordAPICall(ctx, method, resource, metrics.StatusSuccess, time.Since(startTime))
}
