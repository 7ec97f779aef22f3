package controller

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lexfrei/internet-gateway/internal/annotation"
	"github.com/lexfrei/internet-gateway/internal/metrics"
)

// watchGrace is added to the server-side watch timeout before the client
// abandons a stream that never closed.
const watchGrace = 30 * time.Second

// Watch restart reasons besides the classified API error types.
const restartClosed = "closed"

var errStreamEnded = errors.New("watch stream ended")

// Refresher rebuilds cached topology before a full sync.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// EventHandler consumes Service events. Prune receives the keys of every
// Service in a completed full list.
type EventHandler interface {
	Handle(ctx context.Context, eventType watch.EventType, svc *corev1.Service)
	Prune(ctx context.Context, live sets.Set[string])
}

// SleepFunc waits for d or until ctx is done, returning ctx.Err() in the latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

type loopState int

const (
	stateSyncing loopState = iota
	stateStreaming
	stateBackoff
)

func (s loopState) String() string {
	switch s {
	case stateSyncing:
		return "syncing"
	case stateStreaming:
		return "streaming"
	case stateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Loop lists all Services, then streams changes until the stream fails,
// and starts over.
type Loop struct {
	client    client.WithWatch
	refresher Refresher
	handler   EventHandler
	metrics   metrics.Collector
	logger    *slog.Logger

	// WatchTimeout bounds each watch stream on the server side.
	WatchTimeout time.Duration

	// Backoff is the wait before restarting after an error or a finished stream.
	Backoff time.Duration

	// Sleep implements the backoff wait; tests replace it.
	Sleep SleepFunc

	synced atomic.Bool
}

// NewLoop creates a Loop.
func NewLoop(
	c client.WithWatch,
	refresher Refresher,
	handler EventHandler,
	watchTimeout, backoff time.Duration,
	collector metrics.Collector,
) *Loop {
	return &Loop{
		client:       c,
		refresher:    refresher,
		handler:      handler,
		metrics:      collector,
		logger:       slog.Default().With("component", "watch-loop"),
		WatchTimeout: watchTimeout,
		Backoff:      backoff,
		Sleep:        sleepContext,
	}
}

// Synced reports whether at least one full sync has completed. It is safe
// to call from other goroutines.
func (l *Loop) Synced() bool {
	return l.synced.Load()
}

// Run drives the loop until ctx is cancelled. It returns nil on cancellation;
// work in progress at that point is abandoned.
func (l *Loop) Run(ctx context.Context) error {
	state := stateSyncing
	logger := l.logger

	var resourceVersion string

	for ctx.Err() == nil {
		logger.Debug("loop state", "state", state.String())

		switch state {
		case stateSyncing:
			logger = l.logger.With("cycle", uuid.NewString())

			rv, err := l.sync(ctx, logger)
			if err != nil {
				state = l.next(ctx, logger, err)

				continue
			}

			resourceVersion = rv
			state = stateStreaming

			l.synced.Store(true)
		case stateStreaming:
			err := l.stream(ctx, logger, resourceVersion)
			state = l.next(ctx, logger, err)
		case stateBackoff:
			err := l.Sleep(ctx, l.Backoff)
			if err != nil {
				logger.Info("watch loop stopped during backoff")

				return nil
			}

			state = stateSyncing
		}
	}

	logger.Info("watch loop stopped")

	return nil
}

// next picks the state that follows a failed sync or a finished stream.
func (l *Loop) next(ctx context.Context, logger *slog.Logger, err error) loopState {
	if ctx.Err() != nil {
		return stateSyncing
	}

	switch {
	case isExpired(err):
		logger.Info("watch expired, resyncing")
		l.metrics.RecordWatchRestart(ctx, metrics.ErrorTypeExpired)

		return stateSyncing
	case errors.Is(err, errStreamEnded):
		logger.Info("watch stream ended, restarting", "backoff", l.Backoff)
		l.metrics.RecordWatchRestart(ctx, restartClosed)

		return stateBackoff
	default:
		logger.Error("API error, restarting", "backoff", l.Backoff, "error", err)
		l.metrics.RecordWatchRestart(ctx, metrics.ClassifyKubernetesError(err))

		return stateBackoff
	}
}

// sync refreshes topology, replays every Service as Added and prunes the
// ones that are gone. It returns the resource version of the list.
func (l *Loop) sync(ctx context.Context, logger *slog.Logger) (string, error) {
	startTime := time.Now()

	err := l.refresher.Refresh(ctx)
	if err != nil {
		logger.Warn("using previous node address table", "error", err)
	}

	logger.Info("performing full sync")

	var services corev1.ServiceList

	err = l.client.List(ctx, &services)
	if err != nil {
		l.metrics.RecordResync(ctx, metrics.StatusError, 0, time.Since(startTime))

		return "", errors.Wrap(err, "failed to list services")
	}

	live := sets.New[string]()

	for i := range services.Items {
		if ctx.Err() != nil {
			return "", errors.Wrap(ctx.Err(), "full sync interrupted")
		}

		svc := &services.Items[i]
		live.Insert(annotation.Key(svc.Namespace, svc.Name))
		l.handler.Handle(ctx, watch.Added, svc)
	}

	l.handler.Prune(ctx, live)

	l.metrics.RecordResync(ctx, metrics.StatusSuccess, len(services.Items), time.Since(startTime))
	logger.Info("full sync complete", "services", len(services.Items), "resourceVersion", services.ResourceVersion)

	return services.ResourceVersion, nil
}

// stream watches Services from resourceVersion and feeds each event to the
// handler. It always returns a non-nil error.
func (l *Loop) stream(ctx context.Context, logger *slog.Logger, resourceVersion string) error {
	timeoutSeconds := int64(l.WatchTimeout / time.Second)

	watchCtx, cancel := context.WithTimeout(ctx, l.WatchTimeout+watchGrace)
	defer cancel()

	watcher, err := l.client.Watch(watchCtx, &corev1.ServiceList{}, &client.ListOptions{
		Raw: &metav1.ListOptions{
			ResourceVersion: resourceVersion,
			TimeoutSeconds:  &timeoutSeconds,
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to watch services")
	}
	defer watcher.Stop()

	logger.Info("watching for service changes", "resourceVersion", resourceVersion)

	for {
		select {
		case <-watchCtx.Done():
			if ctx.Err() != nil {
				return errors.Wrap(ctx.Err(), "watch interrupted")
			}

			return errStreamEnded
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return errStreamEnded
			}

			switch event.Type {
			case watch.Error:
				return errors.Wrap(apierrors.FromObject(event.Object), "watch error event")
			case watch.Bookmark:
				continue
			case watch.Added, watch.Modified, watch.Deleted:
				svc, isService := event.Object.(*corev1.Service)
				if !isService {
					logger.Warn("unexpected object in watch stream", "type", event.Object.GetObjectKind().GroupVersionKind().String())

					continue
				}

				l.handler.Handle(ctx, event.Type, svc)
			}
		}
	}
}

// isExpired reports whether err means the watch cannot resume from its
// resource version.
func isExpired(err error) bool {
	if apierrors.IsGone(err) || apierrors.IsResourceExpired(err) {
		return true
	}

	var status apierrors.APIStatus
	if errors.As(err, &status) {
		return status.Status().Code == http.StatusGone
	}

	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "sleep interrupted")
	case <-timer.C:
		return nil
	}
}
