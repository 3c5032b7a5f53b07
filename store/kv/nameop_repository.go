package kvstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/doichain/go-sdk/types"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
)

const (
	nameOpStoreDir = "nameops"
)

type nameOpStore struct {
	db        *badgerhold.Store
	storeType string
	lock      *sync.Mutex
}

// NewNameOpStore opens the name operation cache under dir. An empty dir keeps
// the cache in memory.
func NewNameOpStore(dir string, logger badger.Logger) (types.NameOpStore, error) {
	storeType := types.InMemoryStore
	if dir != "" {
		dir = filepath.Join(dir, nameOpStoreDir)
		storeType = types.KVStore
	}
	badgerDb, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open name operation store: %s", err)
	}
	return &nameOpStore{
		db:        badgerDb,
		storeType: storeType,
		lock:      &sync.Mutex{},
	}, nil
}

func (s *nameOpStore) GetType() string {
	return s.storeType
}

// Upsert stores the operations keyed by txid and returns how many of them
// were new or changed.
func (s *nameOpStore) Upsert(_ context.Context, ops []types.NameOperation) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	count := 0
	for _, op := range ops {
		var existing types.NameOperation
		err := s.db.Get(op.Txid, &existing)
		if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return -1, err
		}
		if err == nil && existing == op {
			continue
		}

		if err := s.db.Upsert(op.Txid, &op); err != nil {
			return -1, err
		}
		count++
	}
	return count, nil
}

func (s *nameOpStore) Get(_ context.Context, txid string) (*types.NameOperation, error) {
	var op types.NameOperation
	if err := s.db.Get(txid, &op); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("name operation not found: %s", txid)
		}
		return nil, err
	}
	return &op, nil
}

// GetByName returns every stored operation on the name, most recent first.
func (s *nameOpStore) GetByName(_ context.Context, name string) ([]types.NameOperation, error) {
	var ops []types.NameOperation
	if err := s.db.Find(&ops, badgerhold.Where("Name").Eq(name)); err != nil {
		return nil, err
	}
	sortByHeight(ops)
	return ops, nil
}

func (s *nameOpStore) All(_ context.Context) ([]types.NameOperation, error) {
	var ops []types.NameOperation
	if err := s.db.Find(&ops, nil); err != nil {
		return nil, err
	}
	sortByHeight(ops)
	return ops, nil
}

func (s *nameOpStore) Clean(_ context.Context) error {
	if err := s.db.Badger().DropAll(); err != nil {
		return fmt.Errorf("failed to clean the name operation db: %s", err)
	}
	return nil
}

func (s *nameOpStore) Close() {
	if err := s.db.Close(); err != nil {
		log.Debugf("error on closing db: %s", err)
	}
}

// sortByHeight orders the operations most recent first. Unconfirmed ones,
// with height 0, come first.
func sortByHeight(ops []types.NameOperation) {
	sort.SliceStable(ops, func(i, j int) bool {
		hi, hj := ops[i].Height, ops[j].Height
		if (hi == 0) != (hj == 0) {
			return hi == 0
		}
		if hi != hj {
			return hi > hj
		}
		return ops[i].Txid < ops[j].Txid
	})
}
