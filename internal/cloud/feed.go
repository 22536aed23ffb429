package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/livinlog/internal/events"
)

const defaultReconnectDelay = 15 * time.Second

// changeNotice is the message the backend pushes on its change stream.
type changeNotice struct {
	Type  string `json:"type"`
	Scope string `json:"scope"`
}

// ChangeFeed subscribes to the backend's change stream and republishes every
// notice as an events.RemoteStoreChanged. Notices are treated as "re-query"
// signals only.
type ChangeFeed struct {
	URL            string
	ContainerID    string
	ReconnectDelay time.Duration

	bus    *events.Bus
	logger *slog.Logger
}

func NewChangeFeed(url, containerID string, bus *events.Bus, logger *slog.Logger) *ChangeFeed {
	return &ChangeFeed{
		URL:            url,
		ContainerID:    containerID,
		ReconnectDelay: defaultReconnectDelay,
		bus:            bus,
		logger:         logger,
	}
}

// Run keeps the subscription open until ctx is done. A dropped stream is
// re-opened after ReconnectDelay.
func (f *ChangeFeed) Run(ctx context.Context) {
	for {
		err := f.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		f.logger.Warn("change feed disconnected", "error", err, "retry_in", f.ReconnectDelay)

		select {
		case <-time.After(f.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (f *ChangeFeed) listen(ctx context.Context) error {
	header := http.Header{}
	header.Set("X-Container-ID", f.ContainerID)

	conn, _, err := ws.Dial(ctx, f.URL, &ws.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("dial change feed: %w", err)
	}
	defer conn.CloseNow()

	f.logger.Info("change feed connected", "url", f.URL)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("read change feed: %w", err)
		}

		var notice changeNotice
		if err := json.Unmarshal(data, &notice); err != nil {
			f.logger.Debug("ignoring malformed change notice", "error", err)
			continue
		}
		f.bus.Publish(events.New(events.RemoteStoreChanged, "", map[string]any{"scope": notice.Scope}))
	}
}
