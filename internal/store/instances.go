package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const instanceColumns = `host, digest, base_domain, www_host,
	last_ingest_ns, last_ingest_status, last_ingest_success_ns, first_ingest_success_ns, last_ingest_peers_ns,
	title, short_description, email, version,
	current_user_count, current_status_count, current_domain_count,
	thumbnail, registration_open, approval_required, has_public_bans, has_public_peers,
	software, mastodon_version, software_version, nodeinfo_version,
	ip_address, asn`

// GetInstance loads one instance by host. Returns nil when absent.
func (s *Store) GetInstance(host string) (*Instance, error) {
	row := s.db.QueryRow("SELECT "+instanceColumns+" FROM instances WHERE host = ?", host)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return inst, err
}

// EnsureInstance loads the instance for host, inserting a bare row first
// when none exists.
func (s *Store) EnsureInstance(host string) (*Instance, error) {
	inst, err := s.GetInstance(host)
	if err != nil {
		return nil, err
	}
	if inst != nil {
		return inst, nil
	}

	s.mu.Lock()
	_, err = s.db.Exec("INSERT INTO instances (host) VALUES (?) ON CONFLICT(host) DO NOTHING", host)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("store: insert instance %s: %w", host, err)
	}
	return s.GetInstance(host)
}

// SaveInstance writes every mutable column of inst back by host.
func (s *Store) SaveInstance(inst *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE instances SET
			digest                  = ?,
			base_domain             = ?,
			www_host                = ?,
			last_ingest_ns          = ?,
			last_ingest_status      = ?,
			last_ingest_success_ns  = ?,
			first_ingest_success_ns = ?,
			last_ingest_peers_ns    = ?,
			title                   = ?,
			short_description       = ?,
			email                   = ?,
			version                 = ?,
			current_user_count      = ?,
			current_status_count    = ?,
			current_domain_count    = ?,
			thumbnail               = ?,
			registration_open       = ?,
			approval_required       = ?,
			has_public_bans         = ?,
			has_public_peers        = ?,
			software                = ?,
			mastodon_version        = ?,
			software_version        = ?,
			nodeinfo_version        = ?,
			ip_address              = ?,
			asn                     = ?
		WHERE host = ?
	`,
		inst.Digest, inst.BaseDomain, inst.WWWHost,
		nsOf(inst.LastIngest), inst.LastIngestStatus, nsOf(inst.LastIngestSuccess),
		nsOf(inst.FirstIngestSuccess), nsOf(inst.LastIngestPeers),
		inst.Title, inst.ShortDescription, inst.Email, inst.Version,
		inst.CurrentUserCount, inst.CurrentStatusCount, inst.CurrentDomainCount,
		inst.Thumbnail, inst.RegistrationOpen, inst.ApprovalRequired,
		inst.HasPublicBans, inst.HasPublicPeers,
		inst.Software, inst.MastodonVersion, inst.SoftwareVersion, inst.NodeinfoVersion,
		inst.IPAddress, inst.ASN,
		inst.Host,
	)
	if err != nil {
		return fmt.Errorf("store: save instance %s: %w", inst.Host, err)
	}
	return nil
}

// SetStatus records a terminal ingest status for host without touching the
// descriptive columns.
func (s *Store) SetStatus(host, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("UPDATE instances SET last_ingest_status = ? WHERE host = ?", status, host)
	if err != nil {
		return fmt.Errorf("store: set status %s=%s: %w", host, status, err)
	}
	return nil
}

// EnsureSeeds inserts bare instance rows for hosts learned from peer and
// ban lists, refreshing base_domain on conflict. Chunked.
func (s *Store) EnsureSeeds(seeds []InstanceSeed) error {
	if len(seeds) == 0 {
		return nil
	}
	return s.chunked(len(seeds), func(lo, hi int) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("store: begin seeds: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO instances (host, base_domain) VALUES (?, ?)
			ON CONFLICT(host) DO UPDATE SET base_domain = excluded.base_domain
		`)
		if err != nil {
			return fmt.Errorf("store: prepare seeds: %w", err)
		}
		defer stmt.Close()

		for _, seed := range seeds[lo:hi] {
			if _, err := stmt.Exec(seed.Host, seed.BaseDomain); err != nil {
				return fmt.Errorf("store: seed %s: %w", seed.Host, err)
			}
		}
		return tx.Commit()
	})
}

// AppendStats records one activity sample. Samples are never updated.
func (s *Store) AppendStats(st InstanceStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ingestTime := st.IngestTime
	if ingestTime.IsZero() {
		ingestTime = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO instance_stats (host, ingest_time_ns, user_count, active_monthly_users, status_count, domain_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`, st.Host, ingestTime.UnixNano(), st.UserCount, st.ActiveMonthlyUsers, st.StatusCount, st.DomainCount)
	if err != nil {
		return fmt.Errorf("store: append stats %s: %w", st.Host, err)
	}
	return nil
}

// StatsOf returns all samples for host, oldest first.
func (s *Store) StatsOf(host string) ([]InstanceStats, error) {
	rows, err := s.db.Query(`
		SELECT host, ingest_time_ns, user_count, active_monthly_users, status_count, domain_count
		FROM instance_stats WHERE host = ? ORDER BY ingest_time_ns
	`, host)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InstanceStats
	for rows.Next() {
		var st InstanceStats
		var ingestNs int64
		if err := rows.Scan(&st.Host, &ingestNs, &st.UserCount, &st.ActiveMonthlyUsers, &st.StatusCount, &st.DomainCount); err != nil {
			return nil, err
		}
		st.IngestTime = time.Unix(0, ingestNs).UTC()
		out = append(out, st)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*Instance, error) {
	var inst Instance
	var lastIngest, lastSuccess, firstSuccess, lastPeers *int64
	err := row.Scan(
		&inst.Host, &inst.Digest, &inst.BaseDomain, &inst.WWWHost,
		&lastIngest, &inst.LastIngestStatus, &lastSuccess, &firstSuccess, &lastPeers,
		&inst.Title, &inst.ShortDescription, &inst.Email, &inst.Version,
		&inst.CurrentUserCount, &inst.CurrentStatusCount, &inst.CurrentDomainCount,
		&inst.Thumbnail, &inst.RegistrationOpen, &inst.ApprovalRequired,
		&inst.HasPublicBans, &inst.HasPublicPeers,
		&inst.Software, &inst.MastodonVersion, &inst.SoftwareVersion, &inst.NodeinfoVersion,
		&inst.IPAddress, &inst.ASN,
	)
	if err != nil {
		return nil, err
	}
	inst.LastIngest = timeOf(lastIngest)
	inst.LastIngestSuccess = timeOf(lastSuccess)
	inst.FirstIngestSuccess = timeOf(firstSuccess)
	inst.LastIngestPeers = timeOf(lastPeers)
	return &inst, nil
}
