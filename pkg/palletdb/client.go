package palletdb

import (
	"context"
	"time"

	dbpkg "palletizer-control/internal/db"
	"palletizer-control/internal/model"
)

// Client exposes a stable API for third-party packages to read and seed the
// palletizer store.
type Client struct{ db *dbpkg.DB }

// Open opens the SQLite database (runs migrations) and returns a client.
func Open(path string) (*Client, error) {
	d, err := dbpkg.Open(path, dbpkg.Options{})
	if err != nil {
		return nil, err
	}
	return &Client{db: d}, nil
}

// Close closes the underlying DB.
func (c *Client) Close() error { return c.db.Close() }

// --------------------
// Read-side DTOs
// --------------------

type Robot struct {
	Serial         string `json:"serial"`
	Application    string `json:"application"`
	Platform       string `json:"platform"`
	Version        string `json:"version"`
	OperatingSpeed int    `json:"operatingSpeed"`
	EventAlarmCode int    `json:"eventAlarmCode"`
}

type PalletGroup struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Pallets  int    `json:"pallets"`
}

type Log struct {
	Category   int       `json:"category"`
	MessageKey int       `json:"messageKey"`
	Param      string    `json:"param"`
	Level      int       `json:"level"`
	CreatedAt  time.Time `json:"createdAt"`
}

func fromModelRobot(r *model.Robot) Robot {
	return Robot{
		Serial:         r.Serial,
		Application:    r.Application,
		Platform:       r.Platform,
		Version:        r.Version,
		OperatingSpeed: r.OperatingSpeed,
		EventAlarmCode: r.EventAlarmCode,
	}
}

func (c *Client) ListRobots(ctx context.Context) ([]Robot, error) {
	list, err := dbpkg.ListRobots(ctx, c.db)
	if err != nil {
		return nil, err
	}
	out := make([]Robot, 0, len(list))
	for i := range list {
		out = append(out, fromModelRobot(&list[i]))
	}
	return out, nil
}

// ListPalletGroups returns every configured pallet group with its pallet count.
func (c *Client) ListPalletGroups(ctx context.Context) ([]PalletGroup, error) {
	groups, err := dbpkg.ListPalletGroups(ctx, c.db)
	if err != nil {
		return nil, err
	}
	out := make([]PalletGroup, 0, len(groups))
	for _, g := range groups {
		pallets, err := dbpkg.ListPallets(ctx, c.db, g.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, PalletGroup{ID: g.ID, Name: g.Name, Location: g.Location, Pallets: len(pallets)})
	}
	return out, nil
}

// UncheckedLogs returns the robot's unacknowledged warning and error logs, newest first.
func (c *Client) UncheckedLogs(ctx context.Context, serial string) ([]Log, error) {
	r, err := dbpkg.GetRobotBySerial(ctx, c.db, serial)
	if err != nil {
		return nil, err
	}
	list, err := dbpkg.UncheckedLogs(ctx, c.db, r.ID)
	if err != nil {
		return nil, err
	}
	out := make([]Log, 0, len(list))
	for _, l := range list {
		out = append(out, Log{Category: l.Category, MessageKey: l.MessageKey, Param: l.Param, Level: l.Level, CreatedAt: l.CreatedAt})
	}
	return out, nil
}
