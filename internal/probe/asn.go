package probe

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// ASNRecord describes the autonomous system announcing an IP.
type ASNRecord struct {
	ASN    string
	CC     string
	Owner  string
	Prefix string
}

// ASNLookup resolves the announcing AS for an IP address.
type ASNLookup interface {
	LookupASN(ctx context.Context, ip string) (*ASNRecord, error)
}

// WhoisLookup queries a Team Cymru style whois service over TCP.
type WhoisLookup struct {
	Addr    string
	Timeout time.Duration
}

// NewWhoisLookup returns a lookup against addr ("host:port").
func NewWhoisLookup(addr string) *WhoisLookup {
	return &WhoisLookup{Addr: addr, Timeout: 10 * time.Second}
}

// LookupASN performs a verbose bulk query for a single IP.
func (w *WhoisLookup) LookupASN(ctx context.Context, ip string) (*ASNRecord, error) {
	dialer := &net.Dialer{Timeout: w.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", w.Addr)
	if err != nil {
		return nil, fmt.Errorf("probe: whois dial %s: %w", w.Addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else if w.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(w.Timeout))
	}

	if _, err := fmt.Fprintf(conn, "begin\nverbose\n%s\nend\n", ip); err != nil {
		return nil, fmt.Errorf("probe: whois write: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if rec, ok := parseWhoisLine(scanner.Text()); ok {
			return rec, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("probe: whois read: %w", err)
	}
	return nil, fmt.Errorf("probe: no ASN record for %s", ip)
}

// parseWhoisLine parses one verbose result line:
//
//	AS | IP | BGP Prefix | CC | Registry | Allocated | AS Name
func parseWhoisLine(line string) (*ASNRecord, bool) {
	fields := strings.Split(line, "|")
	if len(fields) < 7 {
		return nil, false
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if fields[0] == "" || !isDigits(fields[0]) {
		// Header or banner line.
		return nil, false
	}
	return &ASNRecord{
		ASN:    fields[0],
		Prefix: naEmpty(fields[2]),
		CC:     naEmpty(fields[3]),
		Owner:  naEmpty(fields[6]),
	}, true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func naEmpty(s string) string {
	if s == "NA" {
		return ""
	}
	return s
}
