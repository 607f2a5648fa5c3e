package booklet

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

type badgerEngine struct {
	db *badger.DB
}

type badgerLogger struct {
	log *logrus.Entry
}

func (l *badgerLogger) Errorf(f string, a ...interface{})   { l.log.Errorf(f, a...) }
func (l *badgerLogger) Warningf(f string, a ...interface{}) { l.log.Warnf(f, a...) }
func (l *badgerLogger) Infof(f string, a ...interface{})    { l.log.Debugf(f, a...) }
func (l *badgerLogger) Debugf(f string, a ...interface{})   { l.log.Debugf(f, a...) }

func openBadgerEngine(dir string, readOnly bool) (*badgerEngine, error) {
	opts := badger.DefaultOptions(dir).
		WithReadOnly(readOnly).
		WithLogger(&badgerLogger{log: logrus.WithField("component", "booklet.badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerEngine{db: db}, nil
}

func (e *badgerEngine) Get(key []byte) ([]byte, error) {
	var out []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			out = append([]byte(nil), v...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrKeyNotFound
	}
	return out, err
}

func (e *badgerEngine) Set(key, value []byte) error {
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (e *badgerEngine) Delete(key []byte) error {
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (e *badgerEngine) Flush() error {
	return e.db.Sync()
}

func (e *badgerEngine) Close() error {
	return e.db.Close()
}

func (e *badgerEngine) Count(prefix []byte) int {
	it := e.NewIterator(prefix)
	defer it.Close()
	n := 0
	for it.Next() {
		n++
	}
	return n
}

func (e *badgerEngine) NewIterator(prefix []byte) kvIterator {
	txn := e.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	return &badgerIterator{txn: txn, it: it, prefix: prefix, started: false}
}

type badgerIterator struct {
	txn     *badger.Txn
	it      *badger.Iterator
	prefix  []byte
	started bool
	cur     *badger.Item
}

func (b *badgerIterator) Next() bool {
	if !b.started {
		b.started = true
		b.it.Seek(b.prefix)
	} else {
		b.it.Next()
	}
	if !b.it.ValidForPrefix(b.prefix) {
		return false
	}
	b.cur = b.it.Item()
	return true
}

func (b *badgerIterator) Key() []byte {
	return append([]byte(nil), b.cur.KeyCopy(nil)...)
}

func (b *badgerIterator) Value() []byte {
	v, _ := b.cur.ValueCopy(nil)
	return v
}

func (b *badgerIterator) Close() error {
	b.it.Close()
	b.txn.Discard()
	return nil
}
