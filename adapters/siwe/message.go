package siwe

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/siwe/core"
)

const (
	headerSuffix = " wants you to sign in with your Ethereum account:"
	minNonceLen  = 8

	fieldURI        = "URI: "
	fieldVersion    = "Version: "
	fieldChainID    = "Chain ID: "
	fieldNonce      = "Nonce: "
	fieldIssuedAt   = "Issued At: "
	fieldExpiration = "Expiration Time: "
	fieldNotBefore  = "Not Before: "
	fieldRequestID  = "Request ID: "
	fieldResources  = "Resources:"
)

// messageFields lists the fields in the order EIP-4361 requires. Each may appear at most once.
var messageFields = []struct {
	prefix   string
	required bool
	set      func(msg *core.SiweMessage, value string) error
}{
	{fieldURI, true, func(m *core.SiweMessage, v string) error { m.URI = v; return nil }},
	{fieldVersion, true, func(m *core.SiweMessage, v string) error { m.Version = v; return nil }},
	{fieldChainID, true, func(m *core.SiweMessage, v string) (err error) {
		m.ChainID, err = strconv.ParseInt(v, 10, 64)
		return err
	}},
	{fieldNonce, true, func(m *core.SiweMessage, v string) error { m.Nonce = v; return nil }},
	{fieldIssuedAt, true, func(m *core.SiweMessage, v string) (err error) {
		m.IssuedAt, err = parseTime(v)
		return err
	}},
	{fieldExpiration, false, func(m *core.SiweMessage, v string) (err error) {
		m.ExpirationTime, err = parseOptionalTime(v)
		return err
	}},
	{fieldNotBefore, false, func(m *core.SiweMessage, v string) (err error) {
		m.NotBefore, err = parseOptionalTime(v)
		return err
	}},
	{fieldRequestID, false, func(m *core.SiweMessage, v string) error { m.RequestID = v; return nil }},
	{fieldResources, false, nil},
}

// ParseMessage parses an EIP-4361 message. The raw text is kept verbatim
// because the signature covers it byte for byte.
func ParseMessage(raw string) (*core.SiweMessage, error) {
	lines := strings.Split(raw, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	if len(lines) < 3 {
		return nil, malformed("message too short")
	}

	msg := &core.SiweMessage{Raw: raw}

	header, ok := strings.CutSuffix(lines[0], headerSuffix)
	if !ok || header == "" {
		return nil, malformed("missing sign-in header")
	}
	if scheme, rest, found := strings.Cut(header, "://"); found {
		msg.Scheme, header = scheme, rest
	}
	msg.Domain = header

	msg.Address = strings.TrimSpace(lines[1])
	if !common.IsHexAddress(msg.Address) {
		return nil, malformed("invalid address")
	}
	if lines[2] != "" {
		return nil, malformed("missing blank line after address")
	}

	// address LF LF [statement LF] LF, the second blank line is optional without a statement
	i := 3
	switch {
	case i < len(lines) && lines[i] == "":
		i++
	case i < len(lines) && !isField(lines[i]):
		msg.Statement = lines[i]
		if i+1 >= len(lines) || lines[i+1] != "" {
			return nil, malformed("missing blank line after statement")
		}
		i += 2
	}

	if err := parseFields(msg, lines[i:]); err != nil {
		return nil, err
	}

	switch {
	case msg.URI == "":
		return nil, malformed("missing URI")
	case msg.Version != "1":
		return nil, malformed("unsupported version")
	case msg.ChainID <= 0:
		return nil, malformed("missing chain id")
	case !validNonce(msg.Nonce):
		return nil, malformed("invalid nonce")
	case msg.IssuedAt.IsZero():
		return nil, malformed("missing issued at")
	}

	return msg, nil
}

func parseFields(msg *core.SiweMessage, lines []string) error {
	next := 0
	for i := 0; i < len(lines); i++ {
		line := lines[i]

		j := matchField(line, next)
		if j < 0 {
			if k := matchField(line, 0); k >= 0 {
				return malformed(fmt.Sprintf("field %q repeated or out of order", fieldName(k)))
			}
			return malformed(fmt.Sprintf("unexpected line %q", line))
		}
		for k := next; k < j; k++ {
			if messageFields[k].required {
				return malformed("missing " + fieldName(k))
			}
		}
		next = j + 1

		field := messageFields[j]
		if field.set == nil {
			for i+1 < len(lines) && strings.HasPrefix(lines[i+1], "- ") {
				i++
				msg.Resources = append(msg.Resources, strings.TrimPrefix(lines[i], "- "))
			}
			continue
		}
		if err := field.set(msg, strings.TrimPrefix(line, field.prefix)); err != nil {
			return malformed(err.Error())
		}
	}

	for k := next; k < len(messageFields); k++ {
		if messageFields[k].required {
			return malformed("missing " + fieldName(k))
		}
	}
	return nil
}

// matchField returns the index of the first field at or after from that line belongs to
func matchField(line string, from int) int {
	for j := from; j < len(messageFields); j++ {
		prefix := messageFields[j].prefix
		if prefix == fieldResources {
			if line == prefix {
				return j
			}
			continue
		}
		if strings.HasPrefix(line, prefix) {
			return j
		}
	}
	return -1
}

func fieldName(i int) string {
	return strings.TrimSuffix(strings.TrimSpace(messageFields[i].prefix), ":")
}

// NormalizeDomain reduces a configured domain or URL to host[:port]
func NormalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if _, rest, found := strings.Cut(domain, "://"); found {
		domain = rest
	}
	if host, _, found := strings.Cut(domain, "/"); found {
		domain = host
	}
	return domain
}

func isField(line string) bool {
	return matchField(line, 0) >= 0
}

func validNonce(nonce string) bool {
	if len(nonce) < minNonceLen {
		return false
	}
	for _, r := range nonce {
		if !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9') {
			return false
		}
	}
	return true
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t, nil
}

func parseOptionalTime(s string) (*time.Time, error) {
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", core.ErrMessageMalformed, reason)
}
