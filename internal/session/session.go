// Package session allocates capture-session correlation ids and formats the
// timestamps attached to capture results.
package session

import (
	"strconv"
	"sync"
	"time"
)

const (
	// DefaultZone is the civil time zone used for folder names and audit timestamps.
	DefaultZone = "Asia/Ho_Chi_Minh"

	// FolderLayout formats the timestamp part of a folder name.
	FolderLayout = "2006-01-02___15-04-05"
	// TimeLayout formats start/end times sent with uploads.
	TimeLayout = "2006-01-02 15:04:05"

	folderPrefix = "images_"
)

// ict is used when the host has no tzdata for DefaultZone.
var ict = time.FixedZone("ICT", 7*60*60)

// LoadZone resolves a zone name. DefaultZone always resolves, even on hosts
// without a zoneinfo database.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if name == DefaultZone {
			return ict, nil
		}
		return nil, err
	}
	return loc, nil
}

// FormatTime renders t in loc using TimeLayout.
func FormatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(TimeLayout)
}

// FolderName returns the correlation id for a session started at t.
func FolderName(t time.Time, loc *time.Location) string {
	return folderPrefix + t.In(loc).Format(FolderLayout)
}

// Generator hands out correlation ids. Two ids requested within the same
// second get a numeric suffix so they never collide within one process.
type Generator struct {
	loc *time.Location
	now func() time.Time

	mu   sync.Mutex
	last string
	seq  int
}

// NewGenerator returns a Generator for loc. now may be nil.
func NewGenerator(loc *time.Location, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{loc: loc, now: now}
}

// Next returns a fresh correlation id.
func (g *Generator) Next() string {
	base := FolderName(g.now(), g.loc)

	g.mu.Lock()
	defer g.mu.Unlock()

	if base != g.last {
		g.last = base
		g.seq = 1
		return base
	}
	g.seq++
	return base + "_" + strconv.Itoa(g.seq)
}
