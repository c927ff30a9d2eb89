// Package command implements the Command union of spec §3 and its
// translation to/from wire Values, matching the shape of
// original_source/src/command.rs's RedisCommand enum.
package command

import (
	"bytes"
	"strconv"

	"github.com/dstainton11/kvnode/internal/respval"
)

// Kind tags the Command variant.
type Kind uint8

const (
	KindPing Kind = iota
	KindEcho
	KindGet
	KindSet
	KindType
	KindInfo
	KindReplconf
	KindPsync
	KindWait
	KindSelect
	KindConfig
)

// Command is the tagged union from spec §3. Keys and arguments are
// opaque bytes; case-folding applies only to command names, REPLCONF
// subkeys, the INFO section, the CONFIG subcommand and SET's PX option,
// never to key/value payloads.
type Command struct {
	Kind Kind

	Key   []byte
	Value []byte

	// Set
	ExpiryMS  uint64
	HasExpiry bool

	// Echo
	Payload []byte

	// Info / Config
	Section string
	Verb    string

	// Replconf
	Subkey string
	Arg    []byte

	// Psync
	ReplID string
	Offset int64

	// Wait
	MinReplicas int
	TimeoutMS   uint64
}

// Error is a protocol-kind parse failure: malformed command shape,
// wrong argument count, or wrong argument type (spec §7).
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "command: " + e.Reason }

func errf(reason string) error { return &Error{Reason: reason} }

// Parse translates a wire Value (expected to be an Array of BulkString,
// per the request framing in spec §3) into a Command. Command names,
// REPLCONF subkeys, the INFO section, the CONFIG subcommand and SET's PX
// option are case-folded; keys, values and other arguments are opaque.
func Parse(v respval.Value) (Command, error) {
	parts, ok := respval.AsBulkStrings(v)
	if !ok || len(parts) == 0 {
		return Command{}, errf("request must be a non-empty array of bulk strings")
	}
	name := bytes.ToLower(parts[0])
	args := parts[1:]

	switch string(name) {
	case "ping":
		if len(args) > 1 {
			return Command{}, errf("PING takes at most one argument")
		}
		c := Command{Kind: KindPing}
		if len(args) == 1 {
			c.Payload = args[0]
		}
		return c, nil
	case "echo":
		if len(args) != 1 {
			return Command{}, errf("ECHO takes exactly one argument")
		}
		return Command{Kind: KindEcho, Payload: args[0]}, nil
	case "get":
		if len(args) != 1 {
			return Command{}, errf("GET takes exactly one argument")
		}
		return Command{Kind: KindGet, Key: args[0]}, nil
	case "type":
		if len(args) != 1 {
			return Command{}, errf("TYPE takes exactly one argument")
		}
		return Command{Kind: KindType, Key: args[0]}, nil
	case "set":
		return parseSet(args)
	case "info":
		c := Command{Kind: KindInfo, Section: "replication"}
		if len(args) >= 1 {
			c.Section = string(bytes.ToLower(args[0]))
		}
		return c, nil
	case "replconf":
		if len(args) != 2 {
			return Command{}, errf("REPLCONF takes exactly two arguments")
		}
		return Command{
			Kind:   KindReplconf,
			Subkey: string(bytes.ToLower(args[0])),
			Arg:    args[1],
		}, nil
	case "psync":
		if len(args) != 2 {
			return Command{}, errf("PSYNC takes exactly two arguments")
		}
		offset, err := parseSignedOffset(args[1])
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: KindPsync, ReplID: string(args[0]), Offset: offset}, nil
	case "wait":
		if len(args) != 2 {
			return Command{}, errf("WAIT takes exactly two arguments")
		}
		n, err := strconv.Atoi(string(args[0]))
		if err != nil || n < 0 {
			return Command{}, errf("WAIT numreplicas must be a non-negative integer")
		}
		t, err := strconv.ParseUint(string(args[1]), 10, 64)
		if err != nil {
			return Command{}, errf("WAIT timeout must be a non-negative integer")
		}
		return Command{Kind: KindWait, MinReplicas: n, TimeoutMS: t}, nil
	case "select":
		if len(args) != 1 {
			return Command{}, errf("SELECT takes exactly one argument")
		}
		return Command{Kind: KindSelect}, nil
	case "config":
		if len(args) < 1 {
			return Command{}, errf("CONFIG requires a subcommand")
		}
		c := Command{Kind: KindConfig, Verb: string(bytes.ToLower(args[0]))}
		if len(args) >= 2 {
			c.Key = args[1]
		}
		return c, nil
	default:
		return Command{}, errf("unknown command '" + string(parts[0]) + "'")
	}
}

func parseSignedOffset(b []byte) (int64, error) {
	if string(b) == "-1" {
		return -1, nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, errf("PSYNC offset must be an integer")
	}
	return n, nil
}

func parseSet(args [][]byte) (Command, error) {
	if len(args) != 2 && len(args) != 4 {
		return Command{}, errf("SET takes key value [PX milliseconds]")
	}
	c := Command{Kind: KindSet, Key: args[0], Value: args[1]}
	if len(args) == 4 {
		if !bytes.EqualFold(args[2], []byte("px")) {
			return Command{}, errf("SET only supports the PX expiry option")
		}
		ms, err := strconv.ParseUint(string(args[3]), 10, 64)
		if err != nil {
			return Command{}, errf("SET PX value must be a non-negative integer")
		}
		c.HasExpiry = true
		c.ExpiryMS = ms
	}
	return c, nil
}

// Encode re-serializes a Command into a bulk-string array; the SET form
// is what the executor fans out verbatim to attached replicas (spec §4.D
// step 2). PING, ECHO, GET, SET and TYPE round-trip; SELECT always
// encodes index 0, and every other kind encodes as a bare PING.
func Encode(c Command) respval.Value {
	switch c.Kind {
	case KindPing:
		if c.Payload != nil {
			return respval.BulkStringArray([]byte("PING"), c.Payload)
		}
		return respval.BulkStringArray([]byte("PING"))
	case KindEcho:
		return respval.BulkStringArray([]byte("ECHO"), c.Payload)
	case KindGet:
		return respval.BulkStringArray([]byte("GET"), c.Key)
	case KindSet:
		if c.HasExpiry {
			return respval.BulkStringArray(
				[]byte("SET"), c.Key, c.Value,
				[]byte("PX"), []byte(strconv.FormatUint(c.ExpiryMS, 10)),
			)
		}
		return respval.BulkStringArray([]byte("SET"), c.Key, c.Value)
	case KindType:
		return respval.BulkStringArray([]byte("TYPE"), c.Key)
	case KindSelect:
		return respval.BulkStringArray([]byte("SELECT"), []byte("0"))
	default:
		return respval.BulkStringArray([]byte("PING"))
	}
}
