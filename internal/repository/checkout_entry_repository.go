package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pickupdrop/checkout/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CheckoutEntryRepository 会话持久化条目数据访问接口
type CheckoutEntryRepository interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Put(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	CompareAndPut(ctx context.Context, namespace, key string, expected []byte, expectedExists bool, value []byte) (bool, error)
	ListNamespacesUpdatedBefore(ctx context.Context, before time.Time, limit int) ([]string, error)
	WithTx(tx *gorm.DB) *GormCheckoutEntryRepository
}

// GormCheckoutEntryRepository GORM 实现
type GormCheckoutEntryRepository struct {
	db *gorm.DB
}

// NewCheckoutEntryRepository 创建会话条目仓库
func NewCheckoutEntryRepository(db *gorm.DB) *GormCheckoutEntryRepository {
	return &GormCheckoutEntryRepository{db: db}
}

// WithTx 绑定事务
func (r *GormCheckoutEntryRepository) WithTx(tx *gorm.DB) *GormCheckoutEntryRepository {
	if tx == nil {
		return r
	}
	return &GormCheckoutEntryRepository{db: tx}
}

// Get 读取条目
func (r *GormCheckoutEntryRepository) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	var entry models.CheckoutEntry
	err := r.db.WithContext(ctx).
		Where("namespace = ? AND entry_key = ?", strings.TrimSpace(namespace), strings.TrimSpace(key)).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(entry.Value), true, nil
}

// Put 写入条目，已存在时覆盖
func (r *GormCheckoutEntryRepository) Put(ctx context.Context, namespace, key string, value []byte) error {
	now := time.Now()
	entry := models.CheckoutEntry{
		Namespace: strings.TrimSpace(namespace),
		Key:       strings.TrimSpace(key),
		Value:     string(value),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
}

// CompareAndPut 条目当前值与期望一致时写入；expectedExists 为 false 时仅在条目不存在时插入
func (r *GormCheckoutEntryRepository) CompareAndPut(ctx context.Context, namespace, key string, expected []byte, expectedExists bool, value []byte) (bool, error) {
	namespace = strings.TrimSpace(namespace)
	key = strings.TrimSpace(key)
	now := time.Now()
	if !expectedExists {
		entry := models.CheckoutEntry{
			Namespace: namespace,
			Key:       key,
			Value:     string(value),
			CreatedAt: now,
			UpdatedAt: now,
		}
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		if result.Error != nil {
			return false, result.Error
		}
		return result.RowsAffected == 1, nil
	}
	result := r.db.WithContext(ctx).Model(&models.CheckoutEntry{}).
		Where("namespace = ? AND entry_key = ? AND value = ?", namespace, key, string(expected)).
		Updates(map[string]interface{}{"value": string(value), "updated_at": now})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Delete 删除条目
func (r *GormCheckoutEntryRepository) Delete(ctx context.Context, namespace, key string) error {
	return r.db.WithContext(ctx).
		Where("namespace = ? AND entry_key = ?", strings.TrimSpace(namespace), strings.TrimSpace(key)).
		Delete(&models.CheckoutEntry{}).Error
}

// ListNamespacesUpdatedBefore 查询长时间未更新的会话，用于清理
func (r *GormCheckoutEntryRepository) ListNamespacesUpdatedBefore(ctx context.Context, before time.Time, limit int) ([]string, error) {
	var namespaces []string
	query := r.db.WithContext(ctx).Model(&models.CheckoutEntry{}).
		Where("updated_at < ?", before).
		Distinct("namespace").
		Order("namespace ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("namespace", &namespaces).Error; err != nil {
		return nil, err
	}
	return namespaces, nil
}
