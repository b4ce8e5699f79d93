package smtpx

import (
	"bytes"
	"fmt"

	"github.com/mailburst/mailburst/internal/store"
)

// transcript collects the protocol exchange line by line. It doubles as
// the client's DebugWriter, which interleaves both directions.
type transcript struct {
	lines []string
	buf   bytes.Buffer
}

func (t *transcript) Write(p []byte) (int, error) {
	t.buf.Write(p)
	for {
		line, err := t.buf.ReadString('\n')
		if err != nil {
			// Partial line, keep it for the next write
			t.buf.WriteString(line)
			break
		}
		t.lines = append(t.lines, trimCRLF(line))
	}
	return len(p), nil
}

func (t *transcript) addf(format string, args ...any) {
	t.lines = append(t.lines, fmt.Sprintf(format, args...))
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// Probe verifies a server configuration by connecting, authenticating
// and exchanging a NOOP, without sending any mail. The returned lines
// are the full protocol transcript, error or not.
func (d *Dialer) Probe(cfg store.ServerConfig) ([]string, error) {
	var log transcript
	log.addf("connecting to %s:%d (secure=%v)", cfg.Host, cfg.Port, cfg.IsSecure)

	conn, err := d.dial(cfg, &log)
	if err != nil {
		log.addf("ERROR: %v", err)
		return log.lines, err
	}
	defer conn.Close()

	log.addf("connection established as %s", d.helo(cfg))
	if cfg.Username != "" {
		log.addf("authenticated as %s", cfg.Username)
	}

	if err := conn.Noop(); err != nil {
		probeErr := categorizeError(err, "NOOP")
		log.addf("ERROR: %v", probeErr)
		return log.lines, probeErr
	}

	log.addf("server %s is reachable and accepting commands", cfg.Name)
	return log.lines, nil
}
