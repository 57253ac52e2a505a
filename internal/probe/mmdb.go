package probe

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/oschwald/maxminddb-golang"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// MMDBLookup resolves ASN data from a local GeoLite2-ASN database with
// hot-reloading. The database file may be replaced on disk (for example by
// a geoipupdate cron job); the reload schedule reopens it without downtime.
type MMDBLookup struct {
	mu     sync.RWMutex
	reader *maxminddb.Reader

	path        string
	cron        *cron.Cron
	cronEntryID cron.EntryID
}

type asnDBRecord struct {
	AutonomousSystemNumber       uint   `maxminddb:"autonomous_system_number"`
	AutonomousSystemOrganization string `maxminddb:"autonomous_system_organization"`
}

// NewMMDBLookup creates a lookup over the mmdb at path. schedule is a cron
// expression for periodic reloads; empty disables reloading.
func NewMMDBLookup(path, schedule string) *MMDBLookup {
	m := &MMDBLookup{path: path, cron: cron.New()}
	if schedule != "" {
		entryID, err := m.cron.AddFunc(schedule, func() {
			if err := m.Reload(); err != nil {
				log.Warn().Str("path", m.path).Err(err).Msg("scheduled asn database reload failed")
			}
		})
		if err != nil {
			log.Warn().Str("schedule", schedule).Err(err).Msg("invalid asn reload schedule")
		} else {
			m.cronEntryID = entryID
		}
	}
	return m
}

// Start opens the database and starts the reload scheduler.
func (m *MMDBLookup) Start() error {
	if err := m.Reload(); err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

// Stop stops the scheduler and closes the reader.
func (m *MMDBLookup) Stop() {
	m.cron.Stop()
	m.mu.Lock()
	r := m.reader
	m.reader = nil
	m.mu.Unlock()
	if r != nil {
		r.Close()
	}
}

// Reload atomically replaces the current reader with a fresh one.
// Safe: RLock holders finish before the old reader is closed.
func (m *MMDBLookup) Reload() error {
	reader, err := maxminddb.Open(m.path)
	if err != nil {
		return fmt.Errorf("probe: open asn database %s: %w", m.path, err)
	}
	m.mu.Lock()
	old := m.reader
	m.reader = reader
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// LookupASN resolves ip against the local database. The GeoLite2-ASN schema
// carries no country code, so CC is always empty here.
func (m *MMDBLookup) LookupASN(_ context.Context, ip string) (*ASNRecord, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("probe: invalid ip %q", ip)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.reader == nil {
		return nil, fmt.Errorf("probe: asn database not loaded")
	}

	var rec asnDBRecord
	network, ok, err := m.reader.LookupNetwork(parsed, &rec)
	if err != nil {
		return nil, fmt.Errorf("probe: asn lookup %s: %w", ip, err)
	}
	if !ok || rec.AutonomousSystemNumber == 0 {
		return nil, fmt.Errorf("probe: no ASN record for %s", ip)
	}

	out := &ASNRecord{
		ASN:   strconv.FormatUint(uint64(rec.AutonomousSystemNumber), 10),
		Owner: rec.AutonomousSystemOrganization,
	}
	if network != nil {
		out.Prefix = network.String()
	}
	return out, nil
}
