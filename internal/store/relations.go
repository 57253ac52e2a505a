package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ReplacePeers swaps host's federation edges for the given ingest pass.
// Peer hosts are seeded as instances first, then each edge is upserted
// with the new ingest id, and finally edges from older passes are swept.
func (s *Store) ReplacePeers(host string, peers []Peer, ingestID string) error {
	err := s.chunked(len(peers), func(lo, hi int) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("store: begin peers: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO peers (host, peer_host, ingest_id) VALUES (?, ?, ?)
			ON CONFLICT(host, peer_host) DO UPDATE SET ingest_id = excluded.ingest_id
		`)
		if err != nil {
			return fmt.Errorf("store: prepare peers: %w", err)
		}
		defer stmt.Close()

		for _, p := range peers[lo:hi] {
			if _, err := stmt.Exec(p.Host, p.PeerHost, ingestID); err != nil {
				return fmt.Errorf("store: peer %s -> %s: %w", p.Host, p.PeerHost, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec("DELETE FROM peers WHERE host = ? AND ingest_id != ?", host, ingestID)
	if err != nil {
		return fmt.Errorf("store: sweep peers %s: %w", host, err)
	}
	return nil
}

// ReplaceBans swaps host's public ban list for the given ingest pass,
// replace-and-sweep like ReplacePeers.
func (s *Store) ReplaceBans(host string, bans []Ban, ingestID string) error {
	err := s.chunked(len(bans), func(lo, hi int) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("store: begin bans: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO bans (host, banned_host, ingest_id, digest, severity, comment, keywords_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(host, banned_host) DO UPDATE SET
				ingest_id     = excluded.ingest_id,
				digest        = excluded.digest,
				severity      = excluded.severity,
				comment       = excluded.comment,
				keywords_json = excluded.keywords_json
		`)
		if err != nil {
			return fmt.Errorf("store: prepare bans: %w", err)
		}
		defer stmt.Close()

		for _, b := range bans[lo:hi] {
			keywords := b.Keywords
			if keywords == nil {
				keywords = []string{}
			}
			kw, err := json.Marshal(keywords)
			if err != nil {
				return fmt.Errorf("store: marshal keywords for %s: %w", b.BannedHost, err)
			}
			if _, err := stmt.Exec(b.Host, b.BannedHost, ingestID, b.Digest, b.Severity, b.Comment, string(kw)); err != nil {
				return fmt.Errorf("store: ban %s -> %s: %w", b.Host, b.BannedHost, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec("DELETE FROM bans WHERE host = ? AND ingest_id != ?", host, ingestID)
	if err != nil {
		return fmt.Errorf("store: sweep bans %s: %w", host, err)
	}
	return nil
}

// ClearBans drops every ban published by host. Used when a host stops
// publishing its list.
func (s *Store) ClearBans(host string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM bans WHERE host = ?", host)
	if err != nil {
		return fmt.Errorf("store: clear bans %s: %w", host, err)
	}
	return nil
}

// PeersOf returns host's current federation edges.
func (s *Store) PeersOf(host string) ([]Peer, error) {
	rows, err := s.db.Query("SELECT host, peer_host, ingest_id FROM peers WHERE host = ? ORDER BY peer_host", host)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Peer
	for rows.Next() {
		var p Peer
		if err := rows.Scan(&p.Host, &p.PeerHost, &p.IngestID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// BansOf returns host's current public ban list.
func (s *Store) BansOf(host string) ([]Ban, error) {
	rows, err := s.db.Query(`
		SELECT host, banned_host, ingest_id, digest, severity, comment, keywords_json
		FROM bans WHERE host = ? ORDER BY banned_host
	`, host)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ban
	for rows.Next() {
		var b Ban
		var kw string
		if err := rows.Scan(&b.Host, &b.BannedHost, &b.IngestID, &b.Digest, &b.Severity, &b.Comment, &kw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(kw), &b.Keywords); err != nil {
			return nil, fmt.Errorf("store: keywords of %s: %w", b.BannedHost, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpsertASN records or refreshes one autonomous-system row.
func (s *Store) UpsertASN(a ASN) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO asn (asn, cc, company, owner, prefix) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(asn) DO UPDATE SET
			cc      = excluded.cc,
			company = excluded.company,
			owner   = excluded.owner,
			prefix  = excluded.prefix
	`, a.ASN, a.CC, a.Company, a.Owner, a.Prefix)
	if err != nil {
		return fmt.Errorf("store: upsert asn %s: %w", a.ASN, err)
	}
	return nil
}

// GetASN loads one autonomous-system row. Returns nil when absent.
func (s *Store) GetASN(asn string) (*ASN, error) {
	var a ASN
	err := s.db.QueryRow("SELECT asn, cc, company, owner, prefix FROM asn WHERE asn = ?", asn).
		Scan(&a.ASN, &a.CC, &a.Company, &a.Owner, &a.Prefix)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// InsertEvilDomains adds domains to the permanent skip list.
func (s *Store) InsertEvilDomains(domains []string) error {
	if len(domains) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin evil domains: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT OR IGNORE INTO evil_domains (domain) VALUES (?)")
	if err != nil {
		return fmt.Errorf("store: prepare evil domains: %w", err)
	}
	defer stmt.Close()

	for _, d := range domains {
		if _, err := stmt.Exec(d); err != nil {
			return fmt.Errorf("store: evil domain %s: %w", d, err)
		}
	}
	return tx.Commit()
}

// ListEvilDomains returns the full skip list.
func (s *Store) ListEvilDomains() ([]string, error) {
	rows, err := s.db.Query("SELECT domain FROM evil_domains ORDER BY domain")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
