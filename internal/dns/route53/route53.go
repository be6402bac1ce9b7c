// Package route53 implements the dns.Manager interface on Amazon Route 53.
package route53

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-asg-dns/internal/dns"
)

func init() {
	dns.Register("route53", func(log logr.Logger, settings map[string]string) (dns.Manager, error) {
		return NewFromSettings(context.Background(), log, settings)
	})
}

// API is the subset of the Route 53 client the manager uses.
type API interface {
	ChangeResourceRecordSets(ctx context.Context, in *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
	ListResourceRecordSets(ctx context.Context, in *route53.ListResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error)
}

// RetryPolicy bounds the backoff applied to throttled change requests.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Options configure a Manager beyond its API client.
type Options struct {
	DefaultTTL int64 // applied when a record carries TTL 0
	Retry      RetryPolicy
}

// Manager implements dns.Manager on Route 53. Change batches are atomic on
// the Route 53 side; concurrent writers resolve last-writer-wins without any
// locking here.
type Manager struct {
	api        API
	defaultTTL int64
	retry      RetryPolicy
	log        logr.Logger
}

// New creates a Manager from an existing Route 53 client.
func New(api API, log logr.Logger, opts Options) *Manager {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 300
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 4
	}
	if opts.Retry.InitialInterval <= 0 {
		opts.Retry.InitialInterval = 200 * time.Millisecond
	}
	if opts.Retry.MaxInterval <= 0 {
		opts.Retry.MaxInterval = 5 * time.Second
	}
	return &Manager{
		api:        api,
		defaultTTL: opts.DefaultTTL,
		retry:      opts.Retry,
		log:        log,
	}
}

// NewFromSettings creates a Manager from the given settings map.
// Optional settings: region, ttl (default 300), retry_max_attempts (default 4),
// retry_initial_interval (default 200ms), retry_max_interval (default 5s).
func NewFromSettings(ctx context.Context, log logr.Logger, settings map[string]string) (*Manager, error) {
	var opts Options
	if v := settings["ttl"]; v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("route53: invalid ttl %q: %w", v, err)
		}
		opts.DefaultTTL = parsed
	}
	if v := settings["retry_max_attempts"]; v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("route53: invalid retry_max_attempts %q: %w", v, err)
		}
		opts.Retry.MaxAttempts = parsed
	}
	var err error
	if opts.Retry.InitialInterval, err = parseInterval(settings, "retry_initial_interval"); err != nil {
		return nil, err
	}
	if opts.Retry.MaxInterval, err = parseInterval(settings, "retry_max_interval"); err != nil {
		return nil, err
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if region := settings["region"]; region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("route53: load AWS config: %w", err)
	}
	return New(route53.NewFromConfig(cfg), log, opts), nil
}

func parseInterval(settings map[string]string, key string) (time.Duration, error) {
	v := settings[key]
	if v == "" {
		return 0, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("route53: invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}

// Upsert creates or replaces the record. A pre-existing identical record is
// a no-op on the Route 53 side.
func (m *Manager) Upsert(ctx context.Context, zoneID string, record dns.Record) error {
	ttl := record.TTL
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	recordType := record.Type
	if recordType == "" {
		recordType = "A"
	}
	rrs := &types.ResourceRecordSet{
		Name: aws.String(dns.Absolute(record.FQDN)),
		Type: types.RRType(recordType),
		TTL:  aws.Int64(ttl),
		ResourceRecords: []types.ResourceRecord{
			{Value: aws.String(record.Value)},
		},
	}
	m.log.Info("upserting record", "fqdn", record.FQDN, "zone", zoneID, "value", record.Value, "ttl", ttl)
	return m.change(ctx, zoneID, types.ChangeActionUpsert, rrs)
}

// ResolveExisting returns the current value of the named A record, or
// dns.ErrNotFound.
func (m *Manager) ResolveExisting(ctx context.Context, zoneID, fqdn string) (string, error) {
	rrs, err := m.find(ctx, zoneID, fqdn)
	if err != nil {
		return "", err
	}
	if len(rrs.ResourceRecords) == 0 {
		return "", fmt.Errorf("route53: record %s in zone %s: %w", fqdn, zoneID, dns.ErrNotFound)
	}
	return aws.ToString(rrs.ResourceRecords[0].Value), nil
}

// Delete removes the named record. Deleting an absent record succeeds so a
// re-delivered terminate event stays safe.
func (m *Manager) Delete(ctx context.Context, zoneID, fqdn string) error {
	rrs, err := m.find(ctx, zoneID, fqdn)
	if errors.Is(err, dns.ErrNotFound) {
		m.log.Info("record already absent", "fqdn", fqdn, "zone", zoneID)
		return nil
	}
	if err != nil {
		return err
	}
	// Route 53 requires the DELETE change to match the existing record set
	// exactly, so the set found above is submitted verbatim.
	m.log.Info("deleting record", "fqdn", fqdn, "zone", zoneID)
	return m.change(ctx, zoneID, types.ChangeActionDelete, rrs)
}

// find looks up the exact A record set for fqdn in the zone.
func (m *Manager) find(ctx context.Context, zoneID, fqdn string) (*types.ResourceRecordSet, error) {
	in := &route53.ListResourceRecordSetsInput{
		HostedZoneId:    aws.String(zoneID),
		StartRecordName: aws.String(dns.Absolute(fqdn)),
		StartRecordType: types.RRTypeA,
		MaxItems:        aws.Int32(1),
	}
	var out *route53.ListResourceRecordSetsOutput
	err := m.retryThrottled(ctx, func() error {
		var err error
		out, err = m.api.ListResourceRecordSets(ctx, in)
		return err
	})
	if err != nil {
		if isThrottle(err) {
			return nil, fmt.Errorf("route53: list records in zone %s failed after %d attempts: %w",
				zoneID, m.retry.MaxAttempts, dns.ErrThrottled)
		}
		return nil, fmt.Errorf("route53: list records in zone %s: %w", zoneID, err)
	}
	// The listing starts at the requested name but continues past it when
	// the record does not exist; only an exact match counts.
	for _, rrs := range out.ResourceRecordSets {
		if dns.Canonical(aws.ToString(rrs.Name)) == dns.Canonical(fqdn) && rrs.Type == types.RRTypeA {
			return &rrs, nil
		}
	}
	return nil, fmt.Errorf("route53: record %s in zone %s: %w", fqdn, zoneID, dns.ErrNotFound)
}

// change submits a single-change batch.
func (m *Manager) change(ctx context.Context, zoneID string, action types.ChangeAction, rrs *types.ResourceRecordSet) error {
	in := &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{{Action: action, ResourceRecordSet: rrs}},
		},
	}

	err := m.retryThrottled(ctx, func() error {
		_, err := m.api.ChangeResourceRecordSets(ctx, in)
		return err
	})
	if err != nil {
		if isThrottle(err) {
			return fmt.Errorf("route53: %s change in zone %s failed after %d attempts: %w",
				action, zoneID, m.retry.MaxAttempts, dns.ErrThrottled)
		}
		return fmt.Errorf("route53: %s change in zone %s: %w", action, zoneID, err)
	}
	return nil
}

// retryThrottled runs op under the bounded backoff policy. Only throttled
// requests are retried; any other failure is classified and returned
// immediately.
func (m *Manager) retryThrottled(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isThrottle(err) {
			m.log.V(1).Info("request throttled, backing off")
			return err
		}
		return backoff.Permanent(classify(err))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.retry.InitialInterval
	b.MaxInterval = m.retry.MaxInterval
	b.MaxElapsedTime = 0

	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(b, uint64(m.retry.MaxAttempts-1)), ctx))
}

// classify maps provider error types onto the dns package sentinels.
func classify(err error) error {
	var noZone *types.NoSuchHostedZone
	if errors.As(err, &noZone) {
		return fmt.Errorf("%v: %w", err, dns.ErrZoneNotFound)
	}
	return err
}

func isThrottle(err error) bool {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "Throttling", "ThrottlingException", "PriorRequestNotComplete":
			return true
		}
	}
	return false
}
