// Package handler orchestrates one lifecycle event: resolve the fleet's
// hostname pattern, mutate the corresponding DNS record, and report a
// CONTINUE or ABANDON verdict for the pending lifecycle action.
package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-asg-dns/internal/cloud"
	"github.com/yuriy-kovalchuk/yk-asg-dns/internal/dns"
	"github.com/yuriy-kovalchuk/yk-asg-dns/internal/event"
	"github.com/yuriy-kovalchuk/yk-asg-dns/internal/hostname"
)

// displayNameTagKey is the instance tag holding the display name.
const displayNameTagKey = "Name"

// Options tune the per-event behavior.
type Options struct {
	HostnameTagKey        string
	InstanceIDPlaceholder string
	UsePublicIP           bool
	// CallTimeout bounds each external call. It must stay strictly below
	// the lifecycle hook's heartbeat window so a slow collaborator cannot
	// push the handler past the point where the hook's own timeout default
	// takes over.
	CallTimeout time.Duration
	// TagWriteFatal escalates a failed display-name tag write to an
	// ABANDON verdict. Off by default: the DNS mutation is the contract.
	TagWriteFatal bool
}

func (o Options) withDefaults() Options {
	if o.HostnameTagKey == "" {
		o.HostnameTagKey = hostname.DefaultTagKey
	}
	if o.InstanceIDPlaceholder == "" {
		o.InstanceIDPlaceholder = hostname.DefaultPlaceholder
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
	return o
}

// Handler processes lifecycle events. Collaborators are injected so tests
// can substitute fakes; the handler holds no mutable state and instances of
// it are safe for concurrent use.
type Handler struct {
	Log       logr.Logger
	Tags      cloud.TagStore
	Inventory cloud.Inventory
	DNS       dns.Manager
	Completer cloud.LifecycleCompleter
	Opts      Options
}

// Handle processes one event and reports the verdict for its lifecycle
// action. The returned error is non-nil only when the verdict could not be
// reported and the notification should be redelivered; failures on the
// event itself are folded into an ABANDON verdict.
func (h *Handler) Handle(ctx context.Context, ev event.LifecycleEvent) (event.Verdict, error) {
	opts := h.Opts.withDefaults()
	log := h.Log.WithValues("fleet", ev.Fleet, "instance", ev.InstanceID, "transition", ev.Transition)

	verdict, err := h.process(ctx, log, opts, ev)
	if err != nil {
		log.Error(err, "lifecycle event failed, abandoning")
	}

	cctx, cancel := context.WithTimeout(ctx, opts.CallTimeout)
	defer cancel()
	if cerr := h.Completer.Complete(cctx, ev, verdict); cerr != nil {
		if errors.Is(cerr, cloud.ErrTokenExpired) {
			// The hook's own timeout default governs the outcome now.
			log.Info("lifecycle action already completed or expired", "verdict", verdict)
			return verdict, nil
		}
		return verdict, fmt.Errorf("reporting verdict %s: %w", verdict, cerr)
	}
	log.Info("verdict reported", "verdict", verdict)
	return verdict, nil
}

func (h *Handler) process(ctx context.Context, log logr.Logger, opts Options, ev event.LifecycleEvent) (event.Verdict, error) {
	raw, ok, err := h.getTag(ctx, opts, ev.Fleet)
	if err != nil {
		return event.VerdictAbandon, fmt.Errorf("fetching hostname pattern tag: %w", err)
	}
	if !ok {
		// The fleet has not opted in; let the transition proceed untouched.
		log.Info("no hostname pattern tag, skipping fleet", "key", opts.HostnameTagKey)
		return event.VerdictContinue, nil
	}

	pattern, err := hostname.Parse(raw)
	if err != nil {
		return event.VerdictAbandon, err
	}
	fqdn := pattern.Render(opts.InstanceIDPlaceholder, ev.InstanceID)
	log = log.WithValues("fqdn", fqdn, "zone", pattern.ZoneID)

	switch ev.Transition {
	case event.TransitionLaunching:
		return h.launch(ctx, log, opts, ev, pattern.ZoneID, fqdn)
	case event.TransitionTerminating:
		return h.terminate(ctx, log, opts, pattern.ZoneID, fqdn)
	}
	return event.VerdictAbandon, fmt.Errorf("unsupported transition %q", ev.Transition)
}

func (h *Handler) launch(ctx context.Context, log logr.Logger, opts Options, ev event.LifecycleEvent, zoneID, fqdn string) (event.Verdict, error) {
	address, err := h.resolveAddress(ctx, opts, ev.InstanceID)
	if err != nil {
		return event.VerdictAbandon, fmt.Errorf("resolving instance address: %w", err)
	}

	record := dns.Record{FQDN: fqdn, Type: "A", Value: address}
	if err := h.upsert(ctx, opts, zoneID, record); err != nil {
		return event.VerdictAbandon, fmt.Errorf("upserting record: %w", err)
	}
	log.Info("record upserted", "address", address)

	name := hostname.Label(fqdn)
	if err := h.setTag(ctx, opts, ev.InstanceID, name); err != nil {
		if opts.TagWriteFatal {
			return event.VerdictAbandon, fmt.Errorf("tagging instance: %w", err)
		}
		log.Error(err, "tagging instance failed, continuing anyway", "name", name)
	} else {
		log.Info("instance tagged", "name", name)
	}
	return event.VerdictContinue, nil
}

func (h *Handler) terminate(ctx context.Context, log logr.Logger, opts Options, zoneID, fqdn string) (event.Verdict, error) {
	_, err := h.resolveExisting(ctx, opts, zoneID, fqdn)
	if errors.Is(err, dns.ErrNotFound) {
		// Re-delivered terminate, or the record never existed.
		log.Info("record already absent")
		return event.VerdictContinue, nil
	}
	if err != nil {
		return event.VerdictAbandon, fmt.Errorf("looking up record: %w", err)
	}

	if err := h.delete(ctx, opts, zoneID, fqdn); err != nil {
		return event.VerdictAbandon, fmt.Errorf("deleting record: %w", err)
	}
	log.Info("record deleted")
	return event.VerdictContinue, nil
}

// Each collaborator call gets its own deadline from the shared budget.

func (h *Handler) getTag(ctx context.Context, opts Options, fleet string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.CallTimeout)
	defer cancel()
	return h.Tags.GetTag(ctx, fleet, opts.HostnameTagKey)
}

func (h *Handler) resolveAddress(ctx context.Context, opts Options, instanceID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.CallTimeout)
	defer cancel()
	return h.Inventory.Address(ctx, instanceID, opts.UsePublicIP)
}

func (h *Handler) upsert(ctx context.Context, opts Options, zoneID string, record dns.Record) error {
	ctx, cancel := context.WithTimeout(ctx, opts.CallTimeout)
	defer cancel()
	return h.DNS.Upsert(ctx, zoneID, record)
}

func (h *Handler) resolveExisting(ctx context.Context, opts Options, zoneID, fqdn string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.CallTimeout)
	defer cancel()
	return h.DNS.ResolveExisting(ctx, zoneID, fqdn)
}

func (h *Handler) delete(ctx context.Context, opts Options, zoneID, fqdn string) error {
	ctx, cancel := context.WithTimeout(ctx, opts.CallTimeout)
	defer cancel()
	return h.DNS.Delete(ctx, zoneID, fqdn)
}

func (h *Handler) setTag(ctx context.Context, opts Options, instanceID, name string) error {
	ctx, cancel := context.WithTimeout(ctx, opts.CallTimeout)
	defer cancel()
	return h.Tags.SetTag(ctx, instanceID, displayNameTagKey, name)
}
