package booklet

import (
	"github.com/cockroachdb/pebble/v2"
	"github.com/sirupsen/logrus"
)

// pebbleCacheSize mirrors the teacher's metadata store sizing; a Local Store
// is small key/value bookkeeping data, not bulk object bytes, so a modest
// shared block cache is enough.
const pebbleCacheSize = 64 << 20

type pebbleEngine struct {
	db *pebble.DB
}

type pebbleLogger struct {
	log *logrus.Entry
}

func (l *pebbleLogger) Infof(format string, args ...interface{})  { l.log.Debugf(format, args...) }
func (l *pebbleLogger) Errorf(format string, args ...interface{}) { l.log.Errorf(format, args...) }
func (l *pebbleLogger) Fatalf(format string, args ...interface{}) { l.log.Fatalf(format, args...) }

func openPebbleEngine(dir string, readOnly bool) (*pebbleEngine, error) {
	cache := pebble.NewCache(pebbleCacheSize)
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:    cache,
		ReadOnly: readOnly,
		Levels: []pebble.LevelOptions{
			{Compression: pebble.SnappyCompression},
		},
		Logger: &pebbleLogger{log: logrus.WithField("component", "booklet.pebble")},
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, err
	}
	return &pebbleEngine{db: db}, nil
}

func (e *pebbleEngine) Get(key []byte) ([]byte, error) {
	v, closer, err := e.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	_ = closer.Close()
	return out, nil
}

func (e *pebbleEngine) Set(key, value []byte) error {
	return e.db.Set(key, value, pebble.Sync)
}

func (e *pebbleEngine) Delete(key []byte) error {
	return e.db.Delete(key, pebble.Sync)
}

func (e *pebbleEngine) Flush() error {
	return e.db.Flush()
}

func (e *pebbleEngine) Close() error {
	return e.db.Close()
}

func (e *pebbleEngine) Count(prefix []byte) int {
	it := e.NewIterator(prefix)
	defer it.Close()
	n := 0
	for it.Next() {
		n++
	}
	return n
}

func (e *pebbleEngine) NewIterator(prefix []byte) kvIterator {
	upper := prefixEnd(prefix)
	it, err := e.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return &emptyIterator{}
	}
	return &pebbleIterator{it: it, started: false}
}

type pebbleIterator struct {
	it      *pebble.Iterator
	started bool
}

func (p *pebbleIterator) Next() bool {
	if !p.started {
		p.started = true
		return p.it.First()
	}
	return p.it.Next()
}

func (p *pebbleIterator) Key() []byte {
	out := make([]byte, len(p.it.Key()))
	copy(out, p.it.Key())
	return out
}

func (p *pebbleIterator) Value() []byte {
	v := p.it.Value()
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

func (p *pebbleIterator) Close() error {
	return p.it.Close()
}

type emptyIterator struct{}

func (emptyIterator) Next() bool    { return false }
func (emptyIterator) Key() []byte   { return nil }
func (emptyIterator) Value() []byte { return nil }
func (emptyIterator) Close() error  { return nil }

// prefixEnd computes the smallest key greater than every key starting with
// prefix, for use as an iterator upper bound.
func prefixEnd(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
