package types

import (
	"github.com/NomicFoundation/edr-sub001/rlp"
)

// MaxTopicsPerLog is the maximum number of indexed topics in a single log
// event (LOG0..LOG4).
const MaxTopicsPerLog = 4

// Log is a contract log event. The consensus fields are Address, Topics and
// Data; the remaining fields are back-references filled in when the log is
// included in a block.
type Log struct {
	Address Address
	Topics  []Hash
	Data    []byte

	// Derived fields, set on block inclusion.
	BlockNumber uint64
	BlockHash   Hash
	TxHash      Hash
	TxIndex     uint
	Index       uint
	Removed     bool
}

// EncodeRLP returns the RLP encoding of the consensus fields:
// [Address, [Topic, ...], Data].
func (l *Log) EncodeRLP() ([]byte, error) {
	var topics []byte
	for _, t := range l.Topics {
		topics = rlp.AppendString(topics, t[:])
	}
	payload := rlp.AppendString(nil, l.Address[:])
	payload = append(payload, rlp.WrapList(topics)...)
	payload = rlp.AppendString(payload, l.Data)
	return rlp.WrapList(payload), nil
}

// CopyLog returns a deep copy of the log.
func CopyLog(l *Log) *Log {
	cpy := *l
	cpy.Topics = make([]Hash, len(l.Topics))
	copy(cpy.Topics, l.Topics)
	cpy.Data = CopyBytes(l.Data)
	return &cpy
}

// LogFilter defines criteria for matching logs. A log matches if Addresses is
// empty or contains the log address, and for each topic position the filter
// slice is empty (wildcard) or contains the log's topic at that position.
type LogFilter struct {
	FromBlock uint64
	ToBlock   uint64
	Addresses []Address
	Topics    [][]Hash
}

// Matches reports whether the log satisfies the filter's address and topic
// constraints (block range is checked by the caller).
func (f *LogFilter) Matches(l *Log) bool {
	if len(f.Addresses) > 0 {
		found := false
		for _, a := range f.Addresses {
			if a == l.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Topics) > len(l.Topics) {
		return false
	}
	for i, want := range f.Topics {
		if len(want) == 0 {
			continue
		}
		match := false
		for _, w := range want {
			if w == l.Topics[i] {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}
