// Package presence reports who is subscribed to a room. It only feeds the
// participant count shown to the user; negotiation never consults it.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// Tracker reports the identities currently subscribed to a room.
// signaling.Hub satisfies it.
type Tracker interface {
	Members(ctx context.Context, room string) ([]string, error)
}

// Snapshot is the JSON body served at /rooms/:room/presence.
type Snapshot struct {
	Room    string   `json:"room"`
	Members []string `json:"members"`
	Count   int      `json:"count"`
}

// NewSnapshot builds a Snapshot, never with a nil member list.
func NewSnapshot(room string, members []string) Snapshot {
	if members == nil {
		members = []string{}
	}
	return Snapshot{Room: room, Members: members, Count: len(members)}
}

// Client polls a relay's presence endpoint.
type Client struct {
	base string
	http *http.Client
}

// NewClient accepts the relay URL in any of its forms (ws, wss, http, https)
// and talks to the matching HTTP origin.
func NewClient(relayURL string, httpClient *http.Client) (*Client, error) {
	base, err := BaseURL(relayURL)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: base, http: httpClient}, nil
}

// BaseURL maps a relay URL to its HTTP origin, e.g. wss://host/ws becomes
// https://host.
func BaseURL(relayURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(relayURL))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", relayURL)
	}
	switch u.Scheme {
	case "ws", "http":
		u.Scheme = "http"
	default:
		u.Scheme = "https"
	}
	return u.Scheme + "://" + u.Host, nil
}

// Members implements Tracker.
func (c *Client) Members(ctx context.Context, room string) ([]string, error) {
	endpoint := c.base + "/rooms/" + url.PathEscape(room) + "/presence"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query presence: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("presence query for room %s: unexpected status %s", room, resp.Status)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode presence: %w", err)
	}
	return snap.Members, nil
}

// Watch polls t every interval and calls fn with the member count whenever it
// changes, starting with the first successful poll. Query errors are logged
// and polling continues. It returns when ctx is done.
func Watch(ctx context.Context, t Tracker, room string, interval time.Duration, log logr.Logger, fn func(count int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	for {
		members, err := t.Members(ctx, room)
		switch {
		case err == nil:
			if len(members) != last {
				last = len(members)
				fn(last)
			}
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		default:
			log.V(1).Info("presence poll failed", "room", room, "err", err.Error())
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
