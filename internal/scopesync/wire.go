package scopesync

import (
	"encoding/hex"
	"fmt"

	"github.com/wot-technology/wellspring/crypto"
	"github.com/wot-technology/wellspring/internal/canonical"
	"github.com/wot-technology/wellspring/internal/recon"
	"github.com/wot-technology/wellspring/types"
	"github.com/wot-technology/wellspring/version"
)

// Version is the wire protocol version. Peers speaking a different version
// abort the scope sync rather than guess at semantics.
const Version = version.SyncProtocol

// Message kinds. A conversation alternates fingerprint requests from the
// initiator with range responses from the responder; item batches may
// precede either, and done terminates.
const (
	MsgFingerprints = "fingerprints"
	MsgRanges       = "ranges"
	MsgItems        = "items"
	MsgDone         = "done"
)

// RangeMode describes how a coverage entry speaks about its range.
type RangeMode uint8

const (
	// ModeSkip marks a range with no known difference.
	ModeSkip RangeMode = iota
	// ModeFingerprint carries the sender's fingerprint and count.
	ModeFingerprint
	// ModeIDList enumerates the sender's ids in the range outright.
	ModeIDList
)

func (m RangeMode) String() string {
	switch m {
	case ModeSkip:
		return "skip"
	case ModeFingerprint:
		return "fp"
	case ModeIDList:
		return "ids"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func rangeModeFromString(s string) (RangeMode, bool) {
	switch s {
	case "skip":
		return ModeSkip, true
	case "fp":
		return ModeFingerprint, true
	case "ids":
		return ModeIDList, true
	default:
		return 0, false
	}
}

// Range is one entry of a coverage list. Its exclusive upper bound is
// Bound; the lower bound is the previous entry's Bound (MinItem for the
// first entry). A message's ranges always cover the full index span, so
// the last Bound is MaxItem.
type Range struct {
	Bound recon.Item
	Mode  RangeMode

	// ModeFingerprint
	Fingerprint recon.Fingerprint
	Count       uint64

	// ModeIDList
	IDs []crypto.Digest
}

// Msg is a single sync wire message. Every message names its scope and
// carries the sender's identity plus a membership proof, so a responder
// can validate each frame independently of conversation state.
type Msg struct {
	Kind    string
	Version int64
	Session string
	Scope   crypto.Digest
	From    crypto.Digest
	Proof   crypto.Digest

	Ranges  []Range // MsgFingerprints, MsgRanges
	Records []types.Record // MsgItems
	Abort   string  // MsgDone: non-empty aborts the scope sync
}

// errMalformed wraps wire decoding failures so the conversation layer can
// map them to a typed abort.
type errMalformed struct{ reason string }

func (e errMalformed) Error() string { return "malformed message: " + e.reason }

func malformedf(format string, args ...interface{}) error {
	return errMalformed{reason: fmt.Sprintf(format, args...)}
}

// EncodeMsg serializes m to canonical bytes. Range bounds are
// delta-compressed against their predecessor; callers must have coarsened
// split bounds with CoarsenBound first so that both sides fingerprint the
// bounds that actually travel.
func EncodeMsg(m Msg) ([]byte, error) {
	fields := []canonical.Field{
		{Key: "kind", Value: canonical.String(m.Kind)},
		{Key: "version", Value: canonical.Int(m.Version)},
		{Key: "session", Value: canonical.String(m.Session)},
		{Key: "scope", Value: canonical.String(m.Scope.String())},
		{Key: "from", Value: canonical.String(m.From.String())},
		{Key: "proof", Value: canonical.String(m.Proof.String())},
	}

	switch m.Kind {
	case MsgFingerprints, MsgRanges:
		rv, err := encodeRanges(m.Ranges)
		if err != nil {
			return nil, err
		}
		fields = append(fields, canonical.Field{Key: "ranges", Value: rv})
	case MsgItems:
		records := make([]canonical.Value, len(m.Records))
		for i, r := range m.Records {
			records[i] = r.ToValue()
		}
		fields = append(fields, canonical.Field{Key: "records", Value: canonical.Array(records...)})
	case MsgDone:
		if m.Abort != "" {
			fields = append(fields, canonical.Field{Key: "abort", Value: canonical.String(m.Abort)})
		}
	default:
		return nil, fmt.Errorf("unknown message kind %q", m.Kind)
	}

	return canonical.Encode(canonical.MapOf(fields...))
}

// DecodeMsg parses canonical bytes into a Msg. All failures are malformed
// wire errors; the caller aborts the scope sync with a typed reason.
func DecodeMsg(bz []byte) (Msg, error) {
	v, err := canonical.Decode(bz)
	if err != nil {
		return Msg{}, malformedf("%v", err)
	}

	var m Msg
	kind, ok := stringAt(v, "kind")
	if !ok {
		return Msg{}, malformedf("missing kind")
	}
	m.Kind = kind

	ver, ok := v.Get("version")
	if !ok {
		return Msg{}, malformedf("missing version")
	}
	if m.Version, ok = ver.AsInt(); !ok {
		return Msg{}, malformedf("version is not an integer")
	}

	if m.Session, ok = stringAt(v, "session"); !ok {
		return Msg{}, malformedf("missing session")
	}
	if m.Scope, err = digestAt(v, "scope"); err != nil {
		return Msg{}, err
	}
	if m.From, err = digestAt(v, "from"); err != nil {
		return Msg{}, err
	}
	if m.Proof, err = digestAt(v, "proof"); err != nil {
		return Msg{}, err
	}

	switch m.Kind {
	case MsgFingerprints, MsgRanges:
		rv, ok := v.Get("ranges")
		if !ok {
			return Msg{}, malformedf("missing ranges")
		}
		if m.Ranges, err = decodeRanges(rv); err != nil {
			return Msg{}, err
		}
	case MsgItems:
		rv, ok := v.Get("records")
		if !ok {
			return Msg{}, malformedf("missing records")
		}
		arr, ok := rv.AsArray()
		if !ok {
			return Msg{}, malformedf("records is not an array")
		}
		m.Records = make([]types.Record, len(arr))
		for i, el := range arr {
			r, err := types.RecordFromValue(el)
			if err != nil {
				return Msg{}, malformedf("record %d: %v", i, err)
			}
			m.Records[i] = r
		}
	case MsgDone:
		m.Abort, _ = stringAt(v, "abort")
	default:
		return Msg{}, malformedf("unknown kind %q", m.Kind)
	}

	return m, nil
}

// CoarsenBound reduces cur to the bound its delta encoding against prev
// actually transmits: a timestamp step drops the id entirely, a same-tick
// step keeps only the shortest id prefix that still orders after prev.
// Both sides of a conversation fingerprint the coarse bound, so the lossy
// encoding never desynchronizes range contents.
func CoarsenBound(prev, cur recon.Item) recon.Item {
	if cur == recon.MaxItem {
		return cur
	}
	if cur.CreatedAt > prev.CreatedAt {
		return recon.Item{CreatedAt: cur.CreatedAt}
	}
	// Same timestamp: keep the differing prefix, zero the rest.
	out := recon.Item{CreatedAt: cur.CreatedAt}
	for i := range cur.ID {
		out.ID[i] = cur.ID[i]
		if cur.ID[i] != prev.ID[i] {
			return out
		}
	}
	return out
}

func encodeRanges(ranges []Range) (canonical.Value, error) {
	if len(ranges) == 0 {
		return canonical.Value{}, fmt.Errorf("coverage must not be empty")
	}
	if ranges[len(ranges)-1].Bound != recon.MaxItem {
		return canonical.Value{}, fmt.Errorf("coverage must end at the maximum bound")
	}

	entries := make([]canonical.Value, len(ranges))
	prev := recon.MinItem
	for i, r := range ranges {
		fields := []canonical.Field{
			{Key: "mode", Value: canonical.String(r.Mode.String())},
		}

		if r.Bound == recon.MaxItem {
			fields = append(fields, canonical.Field{Key: "ts", Value: canonical.Int(-1)})
		} else {
			if r.Bound.Compare(prev) <= 0 {
				return canonical.Value{}, fmt.Errorf("range bounds must ascend")
			}
			delta := r.Bound.CreatedAt - prev.CreatedAt
			fields = append(fields, canonical.Field{Key: "ts", Value: canonical.Int(delta)})
			if delta == 0 {
				prefix := boundIDPrefix(prev.ID, r.Bound.ID)
				fields = append(fields, canonical.Field{Key: "id", Value: canonical.String(hex.EncodeToString(prefix))})
			}
		}

		switch r.Mode {
		case ModeSkip:
		case ModeFingerprint:
			fields = append(fields,
				canonical.Field{Key: "fp", Value: canonical.String(r.Fingerprint.String())},
				canonical.Field{Key: "n", Value: canonical.Int(int64(r.Count))},
			)
		case ModeIDList:
			ids := make([]canonical.Value, len(r.IDs))
			for j, id := range r.IDs {
				ids[j] = canonical.String(id.String())
			}
			fields = append(fields, canonical.Field{Key: "ids", Value: canonical.Array(ids...)})
		default:
			return canonical.Value{}, fmt.Errorf("unknown range mode %d", r.Mode)
		}

		entries[i] = canonical.MapOf(fields...)
		prev = r.Bound
	}
	return canonical.Array(entries...), nil
}

func decodeRanges(v canonical.Value) ([]Range, error) {
	arr, ok := v.AsArray()
	if !ok {
		return nil, malformedf("ranges is not an array")
	}
	if len(arr) == 0 {
		return nil, malformedf("empty coverage")
	}

	ranges := make([]Range, len(arr))
	prev := recon.MinItem
	for i, el := range arr {
		modeStr, ok := stringAt(el, "mode")
		if !ok {
			return nil, malformedf("range %d: missing mode", i)
		}
		mode, ok := rangeModeFromString(modeStr)
		if !ok {
			return nil, malformedf("range %d: unknown mode %q", i, modeStr)
		}
		r := Range{Mode: mode}

		tsVal, ok := el.Get("ts")
		if !ok {
			return nil, malformedf("range %d: missing ts", i)
		}
		delta, ok := tsVal.AsInt()
		if !ok {
			return nil, malformedf("range %d: ts is not an integer", i)
		}
		switch {
		case delta == -1:
			r.Bound = recon.MaxItem
		case delta < 0:
			return nil, malformedf("range %d: negative ts delta", i)
		case delta == 0:
			prefixHex, ok := stringAt(el, "id")
			if !ok {
				return nil, malformedf("range %d: same-tick bound without id prefix", i)
			}
			prefix, err := hex.DecodeString(prefixHex)
			if err != nil || len(prefix) == 0 || len(prefix) > crypto.DigestSize {
				return nil, malformedf("range %d: bad id prefix", i)
			}
			r.Bound = recon.Item{CreatedAt: prev.CreatedAt}
			copy(r.Bound.ID[:], prefix)
		default:
			r.Bound = recon.Item{CreatedAt: prev.CreatedAt + delta}
		}

		if r.Bound != recon.MaxItem && r.Bound.Compare(prev) <= 0 {
			return nil, malformedf("range %d: bounds must ascend", i)
		}

		switch mode {
		case ModeFingerprint:
			fpStr, ok := stringAt(el, "fp")
			if !ok {
				return nil, malformedf("range %d: missing fingerprint", i)
			}
			fp, err := recon.FingerprintFromString(fpStr)
			if err != nil {
				return nil, malformedf("range %d: %v", i, err)
			}
			r.Fingerprint = fp
			nVal, ok := el.Get("n")
			if !ok {
				return nil, malformedf("range %d: missing count", i)
			}
			n, ok := nVal.AsInt()
			if !ok || n < 0 {
				return nil, malformedf("range %d: bad count", i)
			}
			r.Count = uint64(n)
		case ModeIDList:
			idsVal, ok := el.Get("ids")
			if !ok {
				return nil, malformedf("range %d: missing ids", i)
			}
			idArr, ok := idsVal.AsArray()
			if !ok {
				return nil, malformedf("range %d: ids is not an array", i)
			}
			r.IDs = make([]crypto.Digest, len(idArr))
			for j, idVal := range idArr {
				s, ok := idVal.AsString()
				if !ok {
					return nil, malformedf("range %d: id %d is not a string", i, j)
				}
				id, err := crypto.ParseDigest(s)
				if err != nil {
					return nil, malformedf("range %d: id %d: %v", i, j, err)
				}
				r.IDs[j] = id
			}
		}

		ranges[i] = r
		prev = r.Bound
	}

	if ranges[len(ranges)-1].Bound != recon.MaxItem {
		return nil, malformedf("coverage must end at the maximum bound")
	}
	return ranges, nil
}

// boundIDPrefix returns the shortest prefix of cur that orders strictly
// after prev when zero-padded back to a full digest.
func boundIDPrefix(prev, cur crypto.Digest) []byte {
	for i := range cur {
		if cur[i] != prev[i] {
			return cur[:i+1]
		}
	}
	return cur[:]
}

func stringAt(v canonical.Value, key string) (string, bool) {
	f, ok := v.Get(key)
	if !ok {
		return "", false
	}
	return f.AsString()
}

func digestAt(v canonical.Value, key string) (crypto.Digest, error) {
	s, ok := stringAt(v, key)
	if !ok {
		return crypto.Digest{}, malformedf("missing %s", key)
	}
	d, err := crypto.ParseDigest(s)
	if err != nil {
		return crypto.Digest{}, malformedf("%s: %v", key, err)
	}
	return d, nil
}
