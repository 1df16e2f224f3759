package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pickupdrop/checkout/internal/constants"
	"github.com/pickupdrop/checkout/internal/models"
)

var (
	ErrNamespaceRequired = errors.New("store namespace is required")
	ErrBackendMissing    = errors.New("store backend is not configured")
	ErrSnapshotCorrupted = errors.New("stored checkout snapshot is corrupted")
	ErrConcurrentUpdate  = errors.New("checkout snapshot changed concurrently")
)

// maxUpdateAttempts 条件写入冲突时的最大重试次数
const maxUpdateAttempts = 5

// Backend 键值持久化后端
type Backend interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Put(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
}

// ConditionalBackend 支持比较后写入的后端，多个进程共用存储时避免覆盖彼此的修改。
// expectedExists 为 false 时仅在条目不存在时写入。
type ConditionalBackend interface {
	Backend
	CompareAndPut(ctx context.Context, namespace, key string, expected []byte, expectedExists bool, value []byte) (bool, error)
}

// namespaceLock 进程内命名空间锁，无人持有时从表中移除
type namespaceLock struct {
	mu   sync.Mutex
	refs int
}

var (
	namespaceLocksMu sync.Mutex
	namespaceLocks   = make(map[string]*namespaceLock)
)

func lockNamespace(namespace string) func() {
	namespaceLocksMu.Lock()
	lock := namespaceLocks[namespace]
	if lock == nil {
		lock = &namespaceLock{}
		namespaceLocks[namespace] = lock
	}
	lock.refs++
	namespaceLocksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		namespaceLocksMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(namespaceLocks, namespace)
		}
		namespaceLocksMu.Unlock()
	}
}

// CheckoutStore 单个会话的持久化边界，所有状态作为一个快照整体读写
type CheckoutStore struct {
	backend   Backend
	namespace string
	now       func() time.Time
}

// NewCheckoutStore 创建会话存储
func NewCheckoutStore(backend Backend, namespace string) (*CheckoutStore, error) {
	if backend == nil {
		return nil, ErrBackendMissing
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return nil, ErrNamespaceRequired
	}
	return &CheckoutStore{
		backend:   backend,
		namespace: namespace,
		now:       time.Now,
	}, nil
}

// Namespace 会话命名空间
func (s *CheckoutStore) Namespace() string {
	return s.namespace
}

// Load 读取快照，不存在时返回空快照
func (s *CheckoutStore) Load(ctx context.Context) (*models.CheckoutSnapshot, error) {
	snapshot, _, _, err := s.read(ctx)
	return snapshot, err
}

// Update 在命名空间锁内读取、修改并整体写回快照。
// 后端支持条件写入时，写入前快照被其他进程修改会重新读取并再次调用 fn，
// 因此 fn 只能依据传入的快照修改状态。
func (s *CheckoutStore) Update(ctx context.Context, fn func(snapshot *models.CheckoutSnapshot) error) (*models.CheckoutSnapshot, error) {
	unlock := lockNamespace(s.namespace)
	defer unlock()

	conditional, ok := s.backend.(ConditionalBackend)
	for attempt := 1; ; attempt++ {
		snapshot, raw, exists, err := s.read(ctx)
		if err != nil {
			return nil, err
		}
		if fn != nil {
			if err := fn(snapshot); err != nil {
				return nil, err
			}
		}
		payload, err := s.encode(snapshot)
		if err != nil {
			return nil, err
		}
		if !ok {
			if err := s.backend.Put(ctx, s.namespace, constants.StoreKeySnapshot, payload); err != nil {
				return nil, err
			}
			return snapshot, nil
		}
		swapped, err := conditional.CompareAndPut(ctx, s.namespace, constants.StoreKeySnapshot, raw, exists, payload)
		if err != nil {
			return nil, err
		}
		if swapped {
			return snapshot, nil
		}
		if attempt >= maxUpdateAttempts {
			return nil, fmt.Errorf("%w: namespace %s", ErrConcurrentUpdate, s.namespace)
		}
	}
}

// ClearSettled 结算确认后清理结算状态，登录凭证保留
func (s *CheckoutStore) ClearSettled(ctx context.Context) error {
	_, err := s.Update(ctx, func(snapshot *models.CheckoutSnapshot) error {
		snapshot.ClearCheckoutState()
		return nil
	})
	return err
}

// Abandon 主动放弃本次结算，登录凭证保留
func (s *CheckoutStore) Abandon(ctx context.Context) error {
	return s.ClearSettled(ctx)
}

// Logout 清除登录凭证
func (s *CheckoutStore) Logout(ctx context.Context) error {
	_, err := s.Update(ctx, func(snapshot *models.CheckoutSnapshot) error {
		snapshot.Session = nil
		return nil
	})
	return err
}

// Purge 删除整个快照
func (s *CheckoutStore) Purge(ctx context.Context) error {
	unlock := lockNamespace(s.namespace)
	defer unlock()
	return s.backend.Delete(ctx, s.namespace, constants.StoreKeySnapshot)
}

func (s *CheckoutStore) read(ctx context.Context) (*models.CheckoutSnapshot, []byte, bool, error) {
	raw, ok, err := s.backend.Get(ctx, s.namespace, constants.StoreKeySnapshot)
	if err != nil {
		return nil, nil, false, err
	}
	snapshot := &models.CheckoutSnapshot{}
	if !ok || len(raw) == 0 {
		return snapshot, raw, ok, nil
	}
	if err := json.Unmarshal(raw, snapshot); err != nil {
		return nil, nil, false, fmt.Errorf("%w: %v", ErrSnapshotCorrupted, err)
	}
	return snapshot, raw, true, nil
}

func (s *CheckoutStore) encode(snapshot *models.CheckoutSnapshot) ([]byte, error) {
	snapshot.UpdatedAt = s.now()
	return json.Marshal(snapshot)
}
