package models

import (
	"encoding/json"
	"strings"
	"time"
)

// DefaultSigFormat is applied when a ballot omits sig_format.
const DefaultSigFormat = "plain"

// Vote is a signed ballot binding Addr to one candidate within one category.
type Vote struct {
	TimeMs        int64           `json:"time_ms"`
	Addr          string          `json:"addr"`
	Msg           string          `json:"msg"` // base16
	Signature     string          `json:"signature"`
	Random        string          `json:"random"` // base16 salt prepended to Msg
	SigFormat     string          `json:"sig_format"`
	CandidateSlug string          `json:"candidate_slug"`
	CategorySlug  string          `json:"category_slug"`
	Extra         json.RawMessage `json:"extra,omitempty"`
}

// UnmarshalJSON applies the wire defaults for time_ms, random and sig_format.
func (v *Vote) UnmarshalJSON(data []byte) error {
	type rawVote Vote
	var raw rawVote
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.TimeMs == 0 {
		raw.TimeMs = NowMs()
	}
	if raw.SigFormat == "" {
		raw.SigFormat = DefaultSigFormat
	}
	*v = Vote(raw)
	return nil
}

// SignedMessage returns the payload the signature covers: Random ++ Msg as
// one base16 string. A 0x prefix on either part is dropped.
func (v Vote) SignedMessage() string {
	return trimHexPrefix(v.Random) + trimHexPrefix(v.Msg)
}

func trimHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}

// NowMs returns wall-clock time in milliseconds since the Unix epoch.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
