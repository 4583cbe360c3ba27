package domain

import (
	"strconv"
	"strings"
	"sync/atomic"
)

const tempKeyPrefix = "temp_"

// Key identifies a game in the local mirror. Server keys are decimal ids,
// temporary keys carry the temp_ prefix until the server confirms the record.
type Key string

func (k Key) IsTemporary() bool {
	return strings.HasPrefix(string(k), tempKeyPrefix)
}

func (k Key) String() string {
	return string(k)
}

// ID returns the numeric server id. Temporary keys never parse.
func (k Key) ID() (int64, bool) {
	if k == "" || k.IsTemporary() {
		return 0, false
	}
	id, err := strconv.ParseInt(string(k), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func KeyFromID(id int64) Key {
	return Key(strconv.FormatInt(id, 10))
}

// TempKeys hands out temporary keys. The zero value is ready to use.
type TempKeys struct {
	seq atomic.Int64
}

func (t *TempKeys) Next() Key {
	return Key(tempKeyPrefix + strconv.FormatInt(t.seq.Add(1), 10))
}
